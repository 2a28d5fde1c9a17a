package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
	"goa.design/clue/health"
	"goa.design/pulse/rmap"

	cachemongo "github.com/md-hameem/Autonomous-Deep-Research-Agent/features/cache/mongo"
	cachemongoclient "github.com/md-hameem/Autonomous-Deep-Research-Agent/features/cache/mongo/clients/mongo"
	rediscache "github.com/md-hameem/Autonomous-Deep-Research-Agent/features/cache/redis"
	"github.com/md-hameem/Autonomous-Deep-Research-Agent/features/model/anthropic"
	"github.com/md-hameem/Autonomous-Deep-Research-Agent/features/model/bedrock"
	"github.com/md-hameem/Autonomous-Deep-Research-Agent/features/model/middleware"
	"github.com/md-hameem/Autonomous-Deep-Research-Agent/features/model/openai"
	runlogmongo "github.com/md-hameem/Autonomous-Deep-Research-Agent/features/runlog/mongo"
	runlogmongoclient "github.com/md-hameem/Autonomous-Deep-Research-Agent/features/runlog/mongo/clients/mongo"
	"github.com/md-hameem/Autonomous-Deep-Research-Agent/features/search/duckduckgo"
	"github.com/md-hameem/Autonomous-Deep-Research-Agent/features/search/serper"
	"github.com/md-hameem/Autonomous-Deep-Research-Agent/features/search/tavily"
	"github.com/md-hameem/Autonomous-Deep-Research-Agent/features/search/webpage"
	"github.com/md-hameem/Autonomous-Deep-Research-Agent/features/search/wikipedia"
	sessionmongo "github.com/md-hameem/Autonomous-Deep-Research-Agent/features/session/mongo"
	sessionmongoclient "github.com/md-hameem/Autonomous-Deep-Research-Agent/features/session/mongo/clients/mongo"
	natssink "github.com/md-hameem/Autonomous-Deep-Research-Agent/features/stream/nats"
	pulsesink "github.com/md-hameem/Autonomous-Deep-Research-Agent/features/stream/pulse"
	pulseclient "github.com/md-hameem/Autonomous-Deep-Research-Agent/features/stream/pulse/clients/pulse"
	"github.com/md-hameem/Autonomous-Deep-Research-Agent/runtime/research/cache"
	cacheinmem "github.com/md-hameem/Autonomous-Deep-Research-Agent/runtime/research/cache/inmem"
	"github.com/md-hameem/Autonomous-Deep-Research-Agent/runtime/research/engine"
	"github.com/md-hameem/Autonomous-Deep-Research-Agent/runtime/research/quality"
	"github.com/md-hameem/Autonomous-Deep-Research-Agent/runtime/research/retry"
	"github.com/md-hameem/Autonomous-Deep-Research-Agent/runtime/research/runtime"
	"github.com/md-hameem/Autonomous-Deep-Research-Agent/runtime/research/search"
	"github.com/md-hameem/Autonomous-Deep-Research-Agent/runtime/research/session"
	sessioninmem "github.com/md-hameem/Autonomous-Deep-Research-Agent/runtime/research/session/inmem"
	"github.com/md-hameem/Autonomous-Deep-Research-Agent/runtime/research/stream"
	"github.com/md-hameem/Autonomous-Deep-Research-Agent/runtime/research/telemetry"
	"github.com/md-hameem/Autonomous-Deep-Research-Agent/runtime/research/textgen"
)

// budgetMapName is the Pulse replicated map holding shared model budgets.
const budgetMapName = "research-model-budgets"

// app owns the connections and stores built from a Config.
type app struct {
	cfg Config
	tel telemetry.Set

	rdb   *redis.Client
	mongo *mongodriver.Client

	cache   cache.Cache
	store   session.Store
	events  *runlogmongo.Log
	pingers []health.Pinger
	closers []func(context.Context) error
}

// openApp connects to the backends the configuration names and builds the
// cache and session store. It does not touch model or search credentials.
func openApp(ctx context.Context, cfg Config, tel telemetry.Set) (*app, error) {
	a := &app{cfg: cfg, tel: tel.WithDefaults()}
	if err := a.open(ctx); err != nil {
		_ = a.close(context.WithoutCancel(ctx))
		return nil, err
	}
	return a, nil
}

func (a *app) open(ctx context.Context) error {
	cfg := a.cfg
	if cfg.uses(backendRedis) || cfg.Stream.Pulse || cfg.Model.SharedBudget {
		a.rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		a.closers = append(a.closers, func(context.Context) error { return a.rdb.Close() })
		if err := a.rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect to redis: %w", err)
		}
	}
	if cfg.uses(backendMongo) || cfg.Stream.MongoLog {
		mc, err := mongodriver.Connect(options.Client().ApplyURI(cfg.Mongo.URI))
		if err != nil {
			return fmt.Errorf("connect to mongo: %w", err)
		}
		a.mongo = mc
		a.closers = append(a.closers, mc.Disconnect)
		if err := mc.Ping(ctx, readpref.Primary()); err != nil {
			return fmt.Errorf("ping mongo: %w", err)
		}
	}

	switch {
	case !cfg.Cache.Enabled:
	case cfg.Cache.Backend == backendRedis:
		c, err := rediscache.New(a.rdb)
		if err != nil {
			return err
		}
		a.cache = c
		a.pingers = append(a.pingers, c)
	case cfg.Cache.Backend == backendMongo:
		client, err := cachemongoclient.New(cachemongoclient.Options{
			Client:   a.mongo,
			Database: cfg.Mongo.Database,
			Timeout:  cfg.Mongo.Timeout,
		})
		if err != nil {
			return err
		}
		c, err := cachemongo.NewCache(client)
		if err != nil {
			return err
		}
		a.cache = c
		a.pingers = append(a.pingers, client)
	default:
		a.cache = cacheinmem.New()
	}

	if cfg.Sessions.Backend == backendMongo {
		client, err := sessionmongoclient.New(sessionmongoclient.Options{
			Client:   a.mongo,
			Database: cfg.Mongo.Database,
			Timeout:  cfg.Mongo.Timeout,
		})
		if err != nil {
			return err
		}
		s, err := sessionmongo.NewStore(client)
		if err != nil {
			return err
		}
		a.store = s
		a.pingers = append(a.pingers, client)
	} else {
		a.store = sessioninmem.New()
	}

	if cfg.Stream.MongoLog {
		client, err := runlogmongoclient.New(runlogmongoclient.Options{
			Client:   a.mongo,
			Database: cfg.Mongo.Database,
			Timeout:  cfg.Mongo.Timeout,
		})
		if err != nil {
			return err
		}
		l, err := runlogmongo.NewLog(client)
		if err != nil {
			return err
		}
		a.events = l
		a.pingers = append(a.pingers, client)
	}
	return nil
}

// close releases connections in reverse order of opening.
func (a *app) close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i](ctx))
	}
	a.closers = nil
	return errors.Join(errs...)
}

// providers builds the configured search providers, optionally wrapped by
// the page enricher.
func (a *app) providers() ([]search.Provider, error) {
	s := a.cfg.Search
	out := make([]search.Provider, 0, len(s.Providers))
	for _, name := range s.Providers {
		var p search.Provider
		switch name {
		case "tavily":
			t, err := tavily.New(tavily.Options{APIKey: s.TavilyAPIKey})
			if err != nil {
				return nil, err
			}
			p = t
		case "serper":
			sp, err := serper.New(serper.Options{APIKey: s.SerperAPIKey})
			if err != nil {
				return nil, err
			}
			p = sp
		case "wikipedia":
			p = wikipedia.New(wikipedia.Options{})
		case "duckduckgo":
			p = duckduckgo.New(duckduckgo.Options{})
		default:
			return nil, fmt.Errorf("unknown search provider %q", name)
		}
		if s.EnrichPages && name != "wikipedia" {
			p = webpage.New(p, webpage.Options{Logger: a.tel.Logger})
		}
		out = append(out, p)
	}
	return out, nil
}

// completer builds the configured model client behind the adaptive rate
// limiter.
func (a *app) completer(ctx context.Context) (textgen.Completer, error) {
	m := a.cfg.Model
	var (
		c   textgen.Completer
		err error
	)
	switch m.Provider {
	case "anthropic":
		c, err = anthropic.NewFromAPIKey(m.APIKey, m.Name)
	case "openai":
		c, err = openai.NewFromAPIKey(m.APIKey, m.Name)
	case "bedrock":
		c, err = bedrock.NewFromEnv(m.Region, m.Name)
	default:
		err = fmt.Errorf("unknown model provider %q", m.Provider)
	}
	if err != nil {
		return nil, err
	}

	var budgets *rmap.Map
	if m.SharedBudget {
		budgets, err = rmap.Join(ctx, budgetMapName, a.rdb)
		if err != nil {
			return nil, fmt.Errorf("join budget map: %w", err)
		}
		a.closers = append(a.closers, func(context.Context) error { budgets.Close(); return nil })
	}
	limiter := middleware.NewSharedLimiter(ctx, budgets, m.Provider+":"+m.Name, m.TPM, m.MaxTPM)
	return limiter.Wrap(c), nil
}

// sink builds the configured external event publishers. It returns nil
// when none is enabled.
func (a *app) sink() (stream.Sink, error) {
	var sinks []stream.Sink
	if a.events != nil {
		sinks = append(sinks, a.events)
	}
	if a.cfg.Stream.Pulse {
		pc, err := a.pulseClient()
		if err != nil {
			return nil, err
		}
		s, err := pulsesink.NewSink(pc)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, s)
	}
	if url := a.cfg.Stream.NATSURL; url != "" {
		s, conn, err := natssink.Connect(url)
		if err != nil {
			return nil, err
		}
		if p := a.cfg.Stream.NATSPrefix; p != "" && p != natssink.DefaultPrefix {
			if s, err = natssink.NewSink(conn, p); err != nil {
				conn.Close()
				return nil, err
			}
		}
		a.closers = append(a.closers, func(context.Context) error { conn.Close(); return nil })
		sinks = append(sinks, s)
	}
	if len(sinks) == 0 {
		return nil, nil
	}
	return stream.Tee(sinks...), nil
}

func (a *app) pulseClient() (pulseclient.Client, error) {
	if a.rdb == nil {
		return nil, errors.New("pulse streaming requires redis")
	}
	return pulseclient.New(pulseclient.Options{Redis: a.rdb, MaxLen: a.cfg.Stream.PulseMaxLen})
}

// runtime wires the engine collaborators into a Runtime.
func (a *app) runtime(ctx context.Context) (*runtime.Runtime, error) {
	providers, err := a.providers()
	if err != nil {
		return nil, err
	}
	s := a.cfg.Search
	exec, err := search.NewExecutor(providers, a.cache, search.Options{
		Concurrency:     s.Concurrency,
		ResultsPerQuery: s.ResultsPerQuery,
		TTL:             a.cfg.Cache.TTL,
		Retry:           retry.Config{MaxAttempts: s.RetryAttempts, BaseDelay: s.RetryDelay},
		CallTimeout:     s.CallTimeout,
		Telemetry:       a.tel,
	})
	if err != nil {
		return nil, err
	}
	completer, err := a.completer(ctx)
	if err != nil {
		return nil, err
	}
	gen, err := textgen.New(completer, textgen.Options{
		MaxTokens:   a.cfg.Model.MaxTokens,
		Temperature: a.cfg.Model.Temperature,
		Logger:      a.tel.Logger,
	})
	if err != nil {
		return nil, err
	}
	sink, err := a.sink()
	if err != nil {
		return nil, err
	}
	gate := quality.NewGate(gen, quality.WithThreshold(a.cfg.Research.MinQuality), quality.WithLogger(a.tel.Logger))
	return runtime.New(runtime.Options{
		Engine: engine.Options{
			Planner:      gen,
			Searcher:     exec,
			Evaluator:    gate,
			Writer:       gen,
			PhaseTimeout: a.cfg.Research.PhaseTimeout,
			Telemetry:    a.tel,
		},
		Store: a.store,
		Sink:  sink,
	}), nil
}
