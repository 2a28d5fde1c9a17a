// Package middleware provides textgen.Completer decorators. The adaptive rate
// limiter shares a tokens-per-minute budget across every phase of a run (and
// optionally across processes) and halves it when the provider throttles.
package middleware

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"goa.design/pulse/rmap"

	"github.com/md-hameem/Autonomous-Deep-Research-Agent/runtime/research/textgen"
)

type (
	// Limiter is an AIMD token bucket in front of a Completer. Each prompt is
	// charged an estimated token cost; ErrRateLimited answers halve the budget
	// and successful answers grow it back by a fixed step.
	Limiter struct {
		mu sync.Mutex

		bucket *rate.Limiter

		tpm      float64
		floor    float64
		ceiling  float64
		recovery float64

		onBackoff func(tpm float64)
		onProbe   func(tpm float64)
	}

	limited struct {
		next    textgen.Completer
		limiter *Limiter
	}

	// sharedBudget is the subset of rmap.Map used to coordinate budgets
	// across processes.
	sharedBudget interface {
		Get(key string) (string, bool)
		SetIfNotExists(ctx context.Context, key, value string) (bool, error)
		TestAndSet(ctx context.Context, key, test, value string) (string, error)
		Subscribe() <-chan rmap.EventKind
	}
)

// NewLimiter returns a process-local limiter starting at tpm tokens per
// minute and growing up to maxTPM.
func NewLimiter(tpm, maxTPM float64) *Limiter {
	if tpm <= 0 {
		tpm = 60000
	}
	if maxTPM < tpm {
		maxTPM = tpm
	}
	floor := max(tpm*0.1, 1)
	recovery := max(tpm*0.05, 1)
	return &Limiter{
		bucket:   rate.NewLimiter(rate.Limit(tpm/60), int(tpm)),
		tpm:      tpm,
		floor:    floor,
		ceiling:  maxTPM,
		recovery: recovery,
	}
}

// NewSharedLimiter returns a limiter whose budget is stored under key in the
// Pulse replicated map m so that every research process sharing the provider
// account backs off together. A nil map or empty key yields a process-local
// limiter.
func NewSharedLimiter(ctx context.Context, m *rmap.Map, key string, tpm, maxTPM float64) *Limiter {
	if m == nil {
		return NewLimiter(tpm, maxTPM)
	}
	return newSharedLimiter(ctx, m, key, tpm, maxTPM)
}

// Wrap returns a Completer that waits for budget before calling next.
func (l *Limiter) Wrap(next textgen.Completer) textgen.Completer {
	return &limited{next: next, limiter: l}
}

// TPM returns the current tokens-per-minute budget.
func (l *Limiter) TPM() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.tpm
}

func (c *limited) Complete(ctx context.Context, p textgen.Prompt) (string, error) {
	if err := c.limiter.wait(ctx, p); err != nil {
		return "", err
	}
	out, err := c.next.Complete(ctx, p)
	c.limiter.observe(err)
	return out, err
}

func (l *Limiter) wait(ctx context.Context, p textgen.Prompt) error {
	n := estimateTokens(p)
	l.mu.Lock()
	burst := l.bucket.Burst()
	l.mu.Unlock()
	if n > burst {
		n = burst
	}
	return l.bucket.WaitN(ctx, n)
}

func (l *Limiter) observe(err error) {
	switch {
	case err == nil:
		l.adjust(func(tpm float64) float64 { return min(tpm+l.recovery, l.ceiling) }, l.onProbe)
	case errors.Is(err, textgen.ErrRateLimited):
		l.adjust(func(tpm float64) float64 { return max(tpm*0.5, l.floor) }, l.onBackoff)
	}
}

func (l *Limiter) adjust(next func(float64) float64, cb func(float64)) {
	l.mu.Lock()
	tpm := next(l.tpm)
	if tpm == l.tpm {
		l.mu.Unlock()
		return
	}
	l.setLocked(tpm)
	l.mu.Unlock()
	if cb != nil {
		cb(tpm)
	}
}

func (l *Limiter) replace(tpm float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	tpm = min(max(tpm, l.floor), l.ceiling)
	if tpm != l.tpm {
		l.setLocked(tpm)
	}
}

func (l *Limiter) setLocked(tpm float64) {
	l.tpm = tpm
	l.bucket.SetLimit(rate.Limit(tpm / 60))
	l.bucket.SetBurst(int(tpm))
}

// estimateTokens charges roughly one token per three characters of prompt
// plus the completion budget.
func estimateTokens(p textgen.Prompt) int {
	chars := len(p.System) + len(p.User)
	tokens := chars/3 + 1
	if p.MaxTokens > 0 {
		tokens += p.MaxTokens
	} else {
		tokens += 500
	}
	return tokens
}

func newSharedLimiter(ctx context.Context, m sharedBudget, key string, tpm, maxTPM float64) *Limiter {
	if key == "" {
		return NewLimiter(tpm, maxTPM)
	}
	if _, ok := m.Get(key); !ok {
		if _, err := m.SetIfNotExists(ctx, key, strconv.Itoa(int(tpm))); err != nil {
			return NewLimiter(tpm, maxTPM)
		}
	}
	if cur, ok := m.Get(key); ok {
		if v, err := strconv.ParseFloat(cur, 64); err == nil && v > 0 {
			tpm = v
		}
	}
	l := NewLimiter(tpm, maxTPM)
	floor, ceiling, step := l.floor, l.ceiling, l.recovery
	l.onBackoff = func(float64) {
		go casBudget(m, key, func(cur float64) float64 { return max(cur*0.5, floor) })
	}
	l.onProbe = func(float64) {
		go casBudget(m, key, func(cur float64) float64 { return min(cur+step, ceiling) })
	}
	ch := m.Subscribe()
	go func() {
		for range ch {
			cur, ok := m.Get(key)
			if !ok {
				continue
			}
			if v, err := strconv.ParseFloat(cur, 64); err == nil && v > 0 {
				l.replace(v)
			}
		}
	}()
	return l
}

// casBudget applies next to the shared budget with a bounded number of
// test-and-set attempts.
func casBudget(m sharedBudget, key string, next func(float64) float64) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for range 3 {
		curStr, ok := m.Get(key)
		if !ok {
			return
		}
		cur, err := strconv.ParseFloat(curStr, 64)
		if err != nil || cur <= 0 {
			return
		}
		want := next(cur)
		if want == cur {
			return
		}
		prev, err := m.TestAndSet(ctx, key, curStr, strconv.Itoa(int(want)))
		if err != nil || prev == curStr {
			return
		}
	}
}
