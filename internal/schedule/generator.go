package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mmynk/trustfirst/internal/metrics"
)

const (
	defaultAttempts  = 3
	defaultBaseDelay = 1 * time.Second
)

// ErrGenerationFailed is matched by every terminal generation failure.
var ErrGenerationFailed = errors.New("installment plan generation failed")

// Request describes the debt the oracle should propose plans for.
type Request struct {
	Amount    decimal.Decimal
	Currency  string
	DueDate   time.Time
	PartyName string
	Windows   Windows
}

// Oracle proposes candidate plans. Proposals are advisory only.
type Oracle interface {
	Propose(ctx context.Context, req Request) ([]Plan, error)
}

// StatusError is an oracle failure carrying the upstream status code.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("oracle returned status %d: %s", e.Code, e.Message)
}

// IsTransient reports whether err is a rate-limit (429) or unavailable (503)
// oracle failure. Nothing else is retried.
func IsTransient(err error) bool {
	var se *StatusError
	if !errors.As(err, &se) {
		return false
	}
	return se.Code == http.StatusTooManyRequests || se.Code == http.StatusServiceUnavailable
}

// GenerationError is returned when the oracle failed fatally or retries were
// exhausted. Err is the last oracle error.
type GenerationError struct {
	Attempts int
	Err      error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("%s after %d attempt(s): %v", ErrGenerationFailed, e.Attempts, e.Err)
}

func (e *GenerationError) Unwrap() []error {
	return []error{ErrGenerationFailed, e.Err}
}

// Generator calls the oracle with exponential backoff and repairs whatever
// comes back.
type Generator struct {
	oracle    Oracle
	attempts  int
	baseDelay time.Duration
	now       func() time.Time
	sleep     func(ctx context.Context, d time.Duration) error
}

// Option configures a Generator.
type Option func(*Generator)

// WithClock overrides the time source used for repairs.
func WithClock(now func() time.Time) Option {
	return func(g *Generator) { g.now = now }
}

// WithSleep overrides how the generator waits between attempts.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(g *Generator) { g.sleep = sleep }
}

// WithAttempts sets the total number of oracle calls allowed.
func WithAttempts(n int) Option {
	return func(g *Generator) {
		if n > 0 {
			g.attempts = n
		}
	}
}

// WithBaseDelay sets the wait before the first retry; it doubles afterwards.
func WithBaseDelay(d time.Duration) Option {
	return func(g *Generator) { g.baseDelay = d }
}

// NewGenerator creates a Generator: 3 attempts, waiting 1s then 2s.
func NewGenerator(oracle Oracle, opts ...Option) *Generator {
	g := &Generator{
		oracle:    oracle,
		attempts:  defaultAttempts,
		baseDelay: defaultBaseDelay,
		now:       time.Now,
		sleep:     sleepContext,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate asks the oracle for plans and returns them with every installment
// bounded by the due date.
//
// Only transient failures are retried. Cancellation of ctx stops the loop
// before the next oracle call and is returned as-is.
func (g *Generator) Generate(ctx context.Context, req Request) ([]Plan, error) {
	var lastErr error
	for attempt := 0; attempt < g.attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("plan generation stopped: %w", err)
		}

		plans, err := g.oracle.Propose(ctx, req)
		if err == nil {
			if len(plans) == 0 {
				metrics.OracleCalls.WithLabelValues("empty").Inc()
				return nil, &GenerationError{Attempts: attempt + 1, Err: errors.New("oracle returned no plans")}
			}
			metrics.OracleCalls.WithLabelValues("ok").Inc()
			return g.repair(plans, req.DueDate), nil
		}

		lastErr = err
		if ctx.Err() != nil {
			return nil, fmt.Errorf("plan generation stopped: %w", ctx.Err())
		}
		if !IsTransient(err) {
			metrics.OracleCalls.WithLabelValues("fatal").Inc()
			slog.Warn("Plan generation failed", "attempt", attempt+1, "error", err)
			return nil, &GenerationError{Attempts: attempt + 1, Err: err}
		}

		metrics.OracleCalls.WithLabelValues("transient").Inc()
		if attempt == g.attempts-1 {
			break
		}
		wait := g.baseDelay << attempt
		slog.Warn("Plan generation attempt failed, retrying",
			"attempt", attempt+1,
			"wait", wait,
			"error", err,
		)
		if err := g.sleep(ctx, wait); err != nil {
			return nil, fmt.Errorf("plan generation stopped: %w", err)
		}
	}

	return nil, &GenerationError{Attempts: g.attempts, Err: lastErr}
}

func (g *Generator) repair(plans []Plan, dueDate time.Time) []Plan {
	now := g.now()
	repaired := Repair(plans, dueDate, now)
	for i := range plans {
		if !WithinDueDate(plans[i], dueDate) {
			slog.Info("Rescheduled plan past due date",
				"plan", plans[i].Name,
				"installments", len(plans[i].Installments),
				"due_date", dueDate.Format(time.DateOnly),
			)
		}
	}
	return repaired
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
