// Package ledger owns the agreement lifecycle and group funding. Every
// collaborator (store, proof storage, notifications, locks, schedule oracle,
// trust policy, clock) is injected at construction.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/mmynk/trustfirst/internal/buffer"
	"github.com/mmynk/trustfirst/internal/lock"
	"github.com/mmynk/trustfirst/internal/metrics"
	"github.com/mmynk/trustfirst/internal/models"
	"github.com/mmynk/trustfirst/internal/notify"
	"github.com/mmynk/trustfirst/internal/proofstore"
	"github.com/mmynk/trustfirst/internal/schedule"
	"github.com/mmynk/trustfirst/internal/storage"
	"github.com/mmynk/trustfirst/internal/trust"
)

const (
	maxConflictRetries = 5
	planLockTTL        = 2 * time.Minute
	defaultCurrency    = "INR"
	defaultPhoneRegion = "IN"
)

// errNoChange tells mutate that the operation is already satisfied.
var errNoChange = errors.New("no change")

// PlanGenerator proposes repaired installment plans for a debt.
type PlanGenerator interface {
	Generate(ctx context.Context, req schedule.Request) ([]schedule.Plan, error)
}

// Agreements is the agreement state machine.
type Agreements struct {
	store     storage.Store
	proofs    proofstore.Store
	notifier  notify.Notifier
	locker    lock.Locker
	generator PlanGenerator
	policy    trust.Policy
	now       func() time.Time
	validate  *validator.Validate

	phoneRegion       string
	defaultBufferDays int
	defaultTrustScore int
}

// Option configures Agreements.
type Option func(*Agreements)

// WithProofStore sets where proof files are kept.
func WithProofStore(p proofstore.Store) Option {
	return func(l *Agreements) { l.proofs = p }
}

// WithNotifier sets the notification sink.
func WithNotifier(n notify.Notifier) Option {
	return func(l *Agreements) { l.notifier = n }
}

// WithLocker sets the lock used to serialize plan generation.
func WithLocker(lk lock.Locker) Option {
	return func(l *Agreements) { l.locker = lk }
}

// WithGenerator sets the installment plan generator.
func WithGenerator(g PlanGenerator) Option {
	return func(l *Agreements) { l.generator = g }
}

// WithPolicy replaces the trust score policy.
func WithPolicy(p trust.Policy) Option {
	return func(l *Agreements) { l.policy = p }
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Agreements) { l.now = now }
}

// WithPhoneRegion sets the region used to parse phone numbers written
// without a country code.
func WithPhoneRegion(region string) Option {
	return func(l *Agreements) { l.phoneRegion = region }
}

// WithDefaultBufferDays sets the buffer allowance used when the lender does
// not choose one.
func WithDefaultBufferDays(days int) Option {
	return func(l *Agreements) { l.defaultBufferDays = days }
}

// WithDefaultTrustScore sets the base score of agreements created directly.
func WithDefaultTrustScore(score int) Option {
	return func(l *Agreements) { l.defaultTrustScore = trust.Clamp(score) }
}

// NewAgreements creates the state machine on top of store.
func NewAgreements(store storage.Store, opts ...Option) *Agreements {
	l := &Agreements{
		store:             store,
		notifier:          notify.Log{},
		locker:            lock.NewLocal(),
		policy:            trust.DefaultPolicy(),
		now:               time.Now,
		validate:          validator.New(),
		phoneRegion:       defaultPhoneRegion,
		defaultBufferDays: buffer.DefaultDays,
		defaultTrustScore: trust.DefaultAgreementScore,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Now returns the ledger's current time.
func (l *Agreements) Now() time.Time {
	return l.now()
}

// score recomputes the visible trust score at now.
func (l *Agreements) score(a *models.Agreement, now time.Time) {
	a.TrustScore = trust.Clamp(l.policy.Score(a.BaseTrustScore, trust.InputsFor(a, a.DaysPastDue(now))))
}

// mutate applies fn to a fresh copy of the agreement and writes it back with
// an optimistic version check, retrying on conflicts. fn runs again on every
// retry against the newly read state.
func (l *Agreements) mutate(ctx context.Context, id, op string, fn func(a *models.Agreement, now time.Time) error) (*models.Agreement, error) {
	for attempt := 0; ; attempt++ {
		current, err := l.store.GetAgreement(ctx, id)
		if err != nil {
			return nil, err
		}
		if current.IsSettled() {
			return nil, fmt.Errorf("agreement %s is settled: %w", id, models.ErrInvalidState)
		}

		now := l.now()
		next := current.Clone()
		if err := fn(next, now); err != nil {
			if errors.Is(err, errNoChange) {
				l.score(current, now)
				return current, nil
			}
			return nil, err
		}
		if !current.Status.CanAdvanceTo(next.Status) {
			return nil, fmt.Errorf("agreement %s: cannot move from %s to %s: %w",
				id, current.Status, next.Status, models.ErrInvalidState)
		}
		if !next.IsSettled() {
			l.score(next, now)
		}

		err = l.store.UpdateAgreement(ctx, next)
		if errors.Is(err, storage.ErrConflict) && attempt < maxConflictRetries {
			metrics.VersionConflicts.Inc()
			slog.Debug("Agreement version conflict, retrying", "agreement_id", id, "operation", op, "attempt", attempt+1)
			continue
		}
		if err != nil {
			return nil, err
		}

		metrics.AgreementTransitions.WithLabelValues(op).Inc()
		return next, nil
	}
}

func (l *Agreements) notify(ctx context.Context, ev notify.Event) {
	if ev.At.IsZero() {
		ev.At = l.now()
	}
	notify.Dispatch(ctx, l.notifier, ev)
}

// upload stores a proof file under the agreement's prefix.
func (l *Agreements) upload(ctx context.Context, agreementID string, up proofstore.Upload) (*models.Proof, error) {
	if l.proofs == nil {
		return nil, fmt.Errorf("agreement %s: proof storage is not configured: %w", agreementID, models.ErrInvalidState)
	}
	if err := up.Validate(); err != nil {
		return nil, fmt.Errorf("agreement %s: %v: %w", agreementID, err, models.ErrInvalidArgument)
	}
	url, err := l.proofs.Put(ctx, "agreements/"+agreementID, up)
	if err != nil {
		return nil, fmt.Errorf("failed to store proof for agreement %s: %w", agreementID, err)
	}
	return &models.Proof{FileName: up.FileName, URL: url, UploadedAt: l.now().UTC()}, nil
}

// discard deletes a proof file. Failures are logged and counted only.
func (l *Agreements) discard(ctx context.Context, url string) {
	if l.proofs == nil || url == "" {
		return
	}
	if err := l.proofs.Delete(context.WithoutCancel(ctx), url); err != nil {
		metrics.BestEffortFailures.WithLabelValues("proof_delete").Inc()
		slog.Warn("Failed to delete proof file", "url", url, "error", err)
	}
}
