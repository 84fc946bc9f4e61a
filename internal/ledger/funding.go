package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mmynk/trustfirst/internal/buffer"
	"github.com/mmynk/trustfirst/internal/metrics"
	"github.com/mmynk/trustfirst/internal/models"
	"github.com/mmynk/trustfirst/internal/notify"
	"github.com/mmynk/trustfirst/internal/trust"
)

// Funding splits group money requests into per-contributor agreements.
type Funding struct {
	*Agreements
}

// NewFunding creates the allocator on top of the agreement state machine.
func NewFunding(agreements *Agreements) *Funding {
	return &Funding{Agreements: agreements}
}

// MoneyRequestInput describes a new group funding ask.
type MoneyRequestInput struct {
	GroupID     string          `validate:"required"`
	RequesterID string          `validate:"required"`
	Amount      decimal.Decimal `validate:"-"`
	Purpose     string          `validate:"max=500"`
	DueDate     time.Time       `validate:"required"`
	Phone       string          `validate:"omitempty,max=32"`
}

// CreateMoneyRequest opens a funding request in a group the requester
// belongs to.
func (f *Funding) CreateMoneyRequest(ctx context.Context, in MoneyRequestInput) (*models.MoneyRequest, error) {
	if err := f.check(in); err != nil {
		return nil, err
	}
	if err := models.ValidateAmount("amount", in.Amount); err != nil {
		return nil, err
	}
	if !in.DueDate.After(f.now()) {
		return nil, fmt.Errorf("due date %s must be in the future: %w", in.DueDate.Format(time.RFC3339), models.ErrInvalidArgument)
	}

	group, err := f.store.GetGroup(ctx, in.GroupID)
	if err != nil {
		return nil, err
	}
	if !group.HasMember(in.RequesterID) {
		return nil, fmt.Errorf("group %s: user %s is not a member: %w", group.ID, in.RequesterID, models.ErrForbidden)
	}
	requester, err := f.store.GetUserByID(ctx, in.RequesterID)
	if err != nil {
		return nil, fmt.Errorf("requester %s: %w", in.RequesterID, err)
	}
	party := requester.Party()
	phone, err := f.normalizePhone("requester phone", in.Phone)
	if err != nil {
		return nil, err
	}
	if phone != "" {
		party.Phone = phone
	}

	m := &models.MoneyRequest{
		GroupID:         group.ID,
		Requester:       party,
		Amount:          in.Amount,
		AmountReceived:  decimal.Zero,
		AmountRemaining: in.Amount,
		Purpose:         strings.TrimSpace(in.Purpose),
		DueDate:         in.DueDate.UTC(),
		Status:          models.MoneyRequestActive,
		Contributions:   []models.Contribution{},
	}
	if err := f.store.CreateMoneyRequest(ctx, m); err != nil {
		return nil, err
	}
	slog.Info("Money request created", "money_request_id", m.ID, "group_id", group.ID, "amount", m.Amount.String())
	return m, nil
}

// GetMoneyRequest returns a request with its contributions.
func (f *Funding) GetMoneyRequest(ctx context.Context, id string) (*models.MoneyRequest, error) {
	return f.store.GetMoneyRequest(ctx, id)
}

// ListMoneyRequests returns a group's active and fulfilled requests.
func (f *Funding) ListMoneyRequests(ctx context.Context, groupID string) ([]*models.MoneyRequest, error) {
	if _, err := f.store.GetGroup(ctx, groupID); err != nil {
		return nil, err
	}
	return f.store.ListMoneyRequests(ctx, groupID)
}

// CancelMoneyRequest withdraws an active request. Only the requester may
// cancel; contributions already made stay in place.
func (f *Funding) CancelMoneyRequest(ctx context.Context, id, requestorID string) (*models.MoneyRequest, error) {
	m, err := f.store.GetMoneyRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	if requestorID == "" || requestorID != m.Requester.ID {
		return nil, fmt.Errorf("money request %s: only the requester may cancel: %w", id, models.ErrForbidden)
	}
	if err := f.store.CancelMoneyRequest(ctx, id); err != nil {
		return nil, err
	}
	slog.Info("Money request cancelled", "money_request_id", id)
	return f.store.GetMoneyRequest(ctx, id)
}

// ContributeInput is one member's partial funding of a request.
type ContributeInput struct {
	MoneyRequestID string          `validate:"required"`
	LenderID       string          `validate:"required"`
	Amount         decimal.Decimal `validate:"-"`

	Witness    *WitnessInput
	BufferDays *int `validate:"omitempty,min=0,max=14"`
}

// Contribution is the outcome of a successful Contribute.
type Contribution struct {
	Request   *models.MoneyRequest `json:"moneyRequest"`
	Agreement *models.Agreement    `json:"agreement"`
}

// Contribute funds part of a request. The agreement, the contribution record
// and the decrement of the remaining amount commit together; a request whose
// remaining amount changed since it was read rejects the contribution with
// models.ErrInvalidArgument so the caller can retry with fresh data.
func (f *Funding) Contribute(ctx context.Context, in ContributeInput) (*Contribution, error) {
	if err := f.check(in); err != nil {
		return nil, err
	}
	if err := models.ValidateAmount("amount", in.Amount); err != nil {
		return nil, err
	}
	bufferDays := f.defaultBufferDays
	if in.BufferDays != nil {
		bufferDays = *in.BufferDays
	}
	if err := buffer.ValidateAllowance(bufferDays); err != nil {
		return nil, err
	}

	m, err := f.store.GetMoneyRequest(ctx, in.MoneyRequestID)
	if err != nil {
		return nil, err
	}
	if in.LenderID == m.Requester.ID {
		return nil, fmt.Errorf("money request %s: requester cannot contribute to their own request: %w", m.ID, models.ErrInvalidArgument)
	}
	group, err := f.store.GetGroup(ctx, m.GroupID)
	if err != nil {
		return nil, err
	}
	if !group.HasMember(in.LenderID) {
		return nil, fmt.Errorf("group %s: user %s is not a member: %w", group.ID, in.LenderID, models.ErrForbidden)
	}
	if m.Status != models.MoneyRequestActive {
		return nil, fmt.Errorf("money request %s is %s: %w", m.ID, m.Status, models.ErrInvalidState)
	}
	if in.Amount.GreaterThan(m.AmountRemaining) {
		return nil, fmt.Errorf("money request %s: amount %s exceeds remaining %s: %w",
			m.ID, in.Amount.StringFixed(models.MinorUnits), m.AmountRemaining.StringFixed(models.MinorUnits), models.ErrInvalidArgument)
	}

	lender, err := f.store.GetUserByID(ctx, in.LenderID)
	if err != nil {
		return nil, fmt.Errorf("lender %s: %w", in.LenderID, err)
	}
	witness, err := f.resolveWitness(ctx, in.Witness, lender.ID, m.Requester.ID)
	if err != nil {
		return nil, err
	}

	now := f.now()
	a := newAgreement(terms{
		lender:     lender.Party(),
		borrower:   m.Requester,
		amount:     in.Amount,
		purpose:    m.Purpose,
		dueDate:    m.DueDate,
		bufferDays: bufferDays,
		witness:    witness,
		baseScore:  trust.ContributionScore,
	}, now, nil)
	a.GroupContribution = true
	a.MoneyRequestID = m.ID

	c := &models.Contribution{
		Lender:        lender.Party(),
		Amount:        in.Amount,
		ContributedAt: now.UTC().Truncate(time.Millisecond),
	}
	updated, err := f.store.Contribute(ctx, m.ID, a, c)
	switch {
	case err == nil:
		metrics.Contributions.WithLabelValues("accepted").Inc()
	case errors.Is(err, models.ErrInvalidArgument):
		metrics.Contributions.WithLabelValues("overdrawn").Inc()
		return nil, err
	case errors.Is(err, models.ErrInvalidState):
		metrics.Contributions.WithLabelValues("inactive").Inc()
		return nil, err
	default:
		metrics.Contributions.WithLabelValues("error").Inc()
		return nil, err
	}

	slog.Info("Contribution recorded",
		"money_request_id", m.ID,
		"agreement_id", a.ID,
		"lender_id", lender.ID,
		"amount", in.Amount.String(),
		"remaining", updated.AmountRemaining.String(),
	)

	f.notify(ctx, notify.Event{
		Kind:           notify.ContributionReceived,
		AgreementID:    a.ID,
		MoneyRequestID: m.ID,
		To:             []string{m.Requester.Email},
		Actor:          lender.DisplayName,
		Amount:         in.Amount.StringFixed(models.MinorUnits),
	})
	if a.HasWitness() {
		f.notify(ctx, notify.Event{
			Kind:        notify.WitnessRequested,
			AgreementID: a.ID,
			To:          []string{a.Witness.Email},
			Actor:       lender.DisplayName,
			Amount:      in.Amount.StringFixed(models.MinorUnits),
		})
	}
	if updated.Status == models.MoneyRequestFulfilled {
		f.notify(ctx, notify.Event{
			Kind:           notify.MoneyRequestFulfilled,
			MoneyRequestID: m.ID,
			To:             []string{m.Requester.Email},
			Amount:         updated.Amount.StringFixed(models.MinorUnits),
		})
	}
	return &Contribution{Request: updated, Agreement: a}, nil
}
