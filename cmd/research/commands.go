package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"goa.design/clue/health"
	"goa.design/clue/log"

	pulsesink "github.com/md-hameem/Autonomous-Deep-Research-Agent/features/stream/pulse"
	promtel "github.com/md-hameem/Autonomous-Deep-Research-Agent/features/telemetry/prometheus"
	"github.com/md-hameem/Autonomous-Deep-Research-Agent/runtime/research/run"
	"github.com/md-hameem/Autonomous-Deep-Research-Agent/runtime/research/session"
	"github.com/md-hameem/Autonomous-Deep-Research-Agent/runtime/research/stream"
	"github.com/md-hameem/Autonomous-Deep-Research-Agent/runtime/research/telemetry"
)

// errRunFailed is returned by run and watch when the run ends in FAILED.
var errRunFailed = errors.New("research run failed")

func runCmd(g *globalFlags) *cobra.Command {
	var (
		maxIterations int
		output        string
		metricsAddr   string
	)
	cmd := &cobra.Command{
		Use:   "run <topic>",
		Short: "Research a topic and print the report",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := LoadConfig(g.configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("max-iterations") {
				cfg.Research.MaxIterations = maxIterations
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			tel := telemetry.NewClueSet()
			if metricsAddr != "" {
				m := promtel.New(promtel.WithRuntimeCollectors())
				tel.Metrics = m
				stop, err := serveMetrics(ctx, metricsAddr, m.Handler())
				if err != nil {
					return err
				}
				defer stop()
			}

			a, err := openApp(ctx, cfg, tel)
			if err != nil {
				return err
			}
			defer func() { _ = a.close(context.WithoutCancel(ctx)) }()
			rt, err := a.runtime(ctx)
			if err != nil {
				return err
			}
			defer func() {
				closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
				defer cancel()
				if err := rt.Close(closeCtx); err != nil {
					log.Errorf(ctx, err, "close runtime")
				}
			}()

			topic := strings.Join(args, " ")
			id, err := rt.StartRun(ctx, topic, cfg.Research.MaxIterations)
			if err != nil {
				return err
			}
			log.Print(ctx, log.KV{K: "msg", V: "run started"}, log.KV{K: "run_id", V: id}, log.KV{K: "topic", V: topic})

			sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()
			go func() {
				<-sigCtx.Done()
				if ctx.Err() == nil {
					_ = rt.Cancel(id)
				}
			}()

			events, err := rt.StreamEvents(context.WithoutCancel(ctx), id)
			if err != nil {
				return err
			}
			var last stream.Event
			for e := range events {
				renderEvent(cmd.ErrOrStderr(), e)
				last = e
			}
			return finish(cmd.OutOrStdout(), last, output)
		},
	}
	cmd.Flags().IntVar(&maxIterations, "max-iterations", 0, "Refinement loops before the report is forced")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Write the report to this file instead of stdout")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address during the run")
	return cmd
}

func watchCmd(g *globalFlags) *cobra.Command {
	var output string
	return &cobra.Command{
		Use:   "watch <run-id>",
		Short: "Follow a run published to Pulse by another process",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := LoadConfig(g.configPath)
			if err != nil {
				return err
			}
			cfg.Stream.Pulse = true
			if err := cfg.ValidateStorage(); err != nil {
				return err
			}
			a, err := openApp(ctx, cfg, telemetry.NewClueSet())
			if err != nil {
				return err
			}
			defer func() { _ = a.close(context.WithoutCancel(ctx)) }()
			pc, err := a.pulseClient()
			if err != nil {
				return err
			}
			sub, err := pulsesink.NewSubscriber(pc)
			if err != nil {
				return err
			}
			sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()
			events, err := sub.Subscribe(sigCtx, args[0])
			if err != nil {
				return err
			}
			var last stream.Event
			for e, err := range events {
				if err != nil {
					return err
				}
				renderEvent(cmd.ErrOrStderr(), e)
				last = e
			}
			if !last.Terminal() {
				return sigCtx.Err()
			}
			return finish(cmd.OutOrStdout(), last, output)
		},
	}
}

func historyCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "history <run-id>",
		Short: "Replay the stored progress events of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, g, func(ctx context.Context, a *app) error {
				if a.events == nil {
					return errors.New("event log is disabled (set stream.mongo_log)")
				}
				var n int
				for e, err := range a.events.Replay(ctx, args[0]) {
					if err != nil {
						return err
					}
					renderEvent(cmd.OutOrStdout(), e)
					n++
				}
				if n == 0 {
					return fmt.Errorf("no events stored for run %q", args[0])
				}
				return nil
			})
		},
	}
}

func snapshotCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "snapshot <run-id>",
		Short: "Print the stored snapshot of a run as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, g, func(ctx context.Context, a *app) error {
				snap, err := a.store.Load(ctx, args[0])
				if err != nil {
					return err
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(snap)
			})
		},
	}
}

func sessionsCmd(g *globalFlags) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List recent runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(cmd, g, func(ctx context.Context, a *app) error {
				runs, err := a.store.List(ctx, limit)
				if err != nil {
					return err
				}
				printSessions(cmd.OutOrStdout(), runs)
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", session.DefaultListLimit, "Maximum number of runs to list")
	return cmd
}

func cacheCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Maintain the search result cache",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "evict",
		Short: "Remove expired cache entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(cmd, g, func(ctx context.Context, a *app) error {
				if a.cache == nil {
					return errors.New("cache is disabled")
				}
				n, err := a.cache.EvictExpired(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "evicted %d expired entries\n", n)
				return nil
			})
		},
	})
	return cmd
}

func healthCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check connectivity to the configured backends",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(cmd, g, func(ctx context.Context, a *app) error {
				h, ok := health.NewChecker(a.pingers...).Check(ctx)
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(h); err != nil {
					return err
				}
				if !ok {
					return errors.New("one or more backends are unhealthy")
				}
				return nil
			})
		},
	}
}

// withStore loads the configuration, opens the storage backends and calls fn.
func withStore(cmd *cobra.Command, g *globalFlags, fn func(context.Context, *app) error) error {
	ctx := cmd.Context()
	cfg, err := LoadConfig(g.configPath)
	if err != nil {
		return err
	}
	if err := cfg.ValidateStorage(); err != nil {
		return err
	}
	a, err := openApp(ctx, cfg, telemetry.NewClueSet())
	if err != nil {
		return err
	}
	defer func() { _ = a.close(context.WithoutCancel(ctx)) }()
	return fn(ctx, a)
}

// serveMetrics serves h on addr until the returned function is called.
func serveMetrics(ctx context.Context, addr string, h http.Handler) (func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", h)
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf(ctx, err, "metrics server")
		}
	}()
	log.Printf(ctx, "serving metrics on %s/metrics", ln.Addr())
	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}, nil
}

// renderEvent prints a one-line progress update.
func renderEvent(w io.Writer, e stream.Event) {
	fmt.Fprintf(w, "[%s] iteration %d", e.Phase, e.Iteration)
	switch {
	case len(e.Queries) > 0:
		fmt.Fprintf(w, ": %d queries", len(e.Queries))
		for _, q := range e.Queries {
			fmt.Fprintf(w, "\n    - %s", q)
		}
	case e.Sources != nil:
		fmt.Fprintf(w, ": %d sources", *e.Sources)
		if e.DeltaSources != nil {
			fmt.Fprintf(w, " (%+d)", *e.DeltaSources)
		}
	}
	if q := e.Quality; q != nil && e.Phase != run.PhaseDone {
		fmt.Fprintf(w, ": quality %.1f, %s", q.Overall, q.Decision)
		for _, gap := range q.Gaps {
			fmt.Fprintf(w, "\n    gap: %s", gap)
		}
	}
	if e.Phase == run.PhaseFailed {
		fmt.Fprintf(w, ": %s", e.Reason)
		if e.Error != "" {
			fmt.Fprintf(w, " (%s)", e.Error)
		}
	}
	fmt.Fprintln(w)
}

// finish writes the report of the terminal event last to output, or to w
// when output is empty.
func finish(w io.Writer, last stream.Event, output string) error {
	if last.Phase != run.PhaseDone {
		if last.Report != "" {
			fmt.Fprintln(w, last.Report)
		}
		return fmt.Errorf("%w: %s", errRunFailed, last.Reason)
	}
	if output == "" {
		_, err := fmt.Fprintln(w, last.Report)
		return err
	}
	if err := os.WriteFile(output, []byte(last.Report+"\n"), 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

func printSessions(w io.Writer, runs []session.Summary) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN ID\tPHASE\tITER\tSOURCES\tUPDATED\tTOPIC")
	for _, r := range runs {
		phase := string(r.Phase)
		if r.Reason != "" {
			phase += " (" + string(r.Reason) + ")"
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\t%s\n", r.RunID, phase, r.Iteration, r.Sources, r.UpdatedAt, r.Topic)
	}
	_ = tw.Flush()
}
