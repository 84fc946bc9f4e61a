package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mmynk/trustfirst/internal/buffer"
	"github.com/mmynk/trustfirst/internal/models"
	"github.com/mmynk/trustfirst/internal/notify"
	"github.com/mmynk/trustfirst/internal/proofstore"
)

// WitnessInput names the witness of a new agreement. The witness must have an
// account.
type WitnessInput struct {
	Name  string `json:"name" validate:"max=100"`
	Email string `json:"email" validate:"required,email"`
	Phone string `json:"phone,omitempty"`
}

// CreateInput holds the terms of a new agreement.
type CreateInput struct {
	LenderID      string          `validate:"required"`
	BorrowerEmail string          `validate:"required,email"`
	BorrowerPhone string          `validate:"omitempty,max=32"`
	Amount        decimal.Decimal `validate:"-"`
	Purpose       string          `validate:"max=500"`
	DueDate       time.Time       `validate:"required"`

	// BufferDays defaults to the configured allowance when nil.
	BufferDays *int `validate:"omitempty,min=0,max=14"`
	StrictMode bool

	Witness     *WitnessInput
	LenderProof *proofstore.Upload `validate:"-"`
}

// terms are the resolved fields shared by direct and contribution agreements.
type terms struct {
	lender     models.Party
	borrower   models.Party
	amount     decimal.Decimal
	purpose    string
	dueDate    time.Time
	bufferDays int
	strict     bool
	witness    *models.Witness
	baseScore  int
}

// newAgreement builds an unsaved agreement with its initial timeline.
func newAgreement(t terms, now time.Time, lenderProof *models.Proof) *models.Agreement {
	status := models.StatusActive
	if t.witness != nil {
		status = models.StatusPendingWitness
	}
	return &models.Agreement{
		ID:                  uuid.New().String(),
		Lender:              t.lender,
		Borrower:            t.borrower,
		Amount:              t.amount,
		Purpose:             t.purpose,
		Type:                models.AgreementTypeLent,
		DueDate:             t.dueDate.UTC(),
		BufferDaysGranted:   t.bufferDays,
		BufferDaysRemaining: t.bufferDays,
		StrictMode:          t.strict,
		Witness:             t.witness,
		Status:              status,
		LenderProof:         lenderProof,
		Timeline:            models.InitialTimeline(now.UTC(), t.witness != nil, lenderProof != nil),
		BaseTrustScore:      t.baseScore,
		TrustScore:          t.baseScore,
	}
}

// resolveWitness looks the witness up in the directory. The witness cannot be
// one of the parties.
func (l *Agreements) resolveWitness(ctx context.Context, in *WitnessInput, parties ...string) (*models.Witness, error) {
	if in == nil {
		return nil, nil
	}
	user, err := l.store.GetUserByEmail(ctx, normalizeEmail(in.Email))
	if err != nil {
		return nil, fmt.Errorf("witness %s: %w", in.Email, err)
	}
	for _, id := range parties {
		if user.ID == id {
			return nil, fmt.Errorf("witness %s is a party to the agreement: %w", in.Email, models.ErrInvalidArgument)
		}
	}
	phone, err := l.normalizePhone("witness phone", in.Phone)
	if err != nil {
		return nil, err
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		name = user.DisplayName
	}
	if phone == "" {
		phone = user.Phone
	}
	return &models.Witness{Name: name, Email: user.Email, Phone: phone}, nil
}

// Create records a new agreement between the lender and the borrower found by
// email. It starts pending the witness when one is named, otherwise active.
func (l *Agreements) Create(ctx context.Context, in CreateInput) (*models.Agreement, error) {
	if err := l.check(in); err != nil {
		return nil, err
	}
	if err := models.ValidateAmount("amount", in.Amount); err != nil {
		return nil, err
	}
	now := l.now()
	if !in.DueDate.After(now) {
		return nil, fmt.Errorf("due date %s must be in the future: %w", in.DueDate.Format(time.RFC3339), models.ErrInvalidArgument)
	}
	bufferDays := l.defaultBufferDays
	if in.BufferDays != nil {
		bufferDays = *in.BufferDays
	}
	if err := buffer.ValidateAllowance(bufferDays); err != nil {
		return nil, err
	}

	lender, err := l.store.GetUserByID(ctx, in.LenderID)
	if err != nil {
		return nil, fmt.Errorf("lender %s: %w", in.LenderID, err)
	}
	borrower, err := l.store.GetUserByEmail(ctx, normalizeEmail(in.BorrowerEmail))
	if err != nil {
		return nil, fmt.Errorf("borrower %s: %w", in.BorrowerEmail, err)
	}
	if borrower.ID == lender.ID {
		return nil, fmt.Errorf("borrower %s is the lender: %w", in.BorrowerEmail, models.ErrInvalidArgument)
	}
	borrowerParty := borrower.Party()
	phone, err := l.normalizePhone("borrower phone", in.BorrowerPhone)
	if err != nil {
		return nil, err
	}
	if phone != "" {
		borrowerParty.Phone = phone
	}
	witness, err := l.resolveWitness(ctx, in.Witness, lender.ID, borrower.ID)
	if err != nil {
		return nil, err
	}

	a := newAgreement(terms{
		lender:     lender.Party(),
		borrower:   borrowerParty,
		amount:     in.Amount,
		purpose:    strings.TrimSpace(in.Purpose),
		dueDate:    in.DueDate,
		bufferDays: bufferDays,
		strict:     in.StrictMode,
		witness:    witness,
		baseScore:  l.defaultTrustScore,
	}, now, nil)

	if in.LenderProof != nil {
		proof, err := l.upload(ctx, a.ID, *in.LenderProof)
		if err != nil {
			return nil, err
		}
		a.LenderProof = proof
		a.Timeline = models.InitialTimeline(now.UTC(), witness != nil, true)
	}

	if err := l.store.CreateAgreement(ctx, a); err != nil {
		if a.LenderProof != nil {
			l.discard(ctx, a.LenderProof.URL)
		}
		return nil, err
	}
	slog.Info("Agreement created",
		"agreement_id", a.ID,
		"lender_id", a.Lender.ID,
		"borrower_id", a.Borrower.ID,
		"amount", a.Amount.String(),
		"status", a.Status,
	)

	l.notify(ctx, notify.Event{
		Kind:        notify.AgreementCreated,
		AgreementID: a.ID,
		To:          []string{a.Borrower.Email, a.Lender.Email},
		Actor:       a.Lender.Name,
		Amount:      a.Amount.StringFixed(models.MinorUnits),
	})
	if a.HasWitness() {
		l.notify(ctx, notify.Event{
			Kind:        notify.WitnessRequested,
			AgreementID: a.ID,
			To:          []string{a.Witness.Email},
			Actor:       a.Lender.Name,
			Amount:      a.Amount.StringFixed(models.MinorUnits),
		})
	}
	return a, nil
}

// Get returns the agreement with its trust score recomputed for now. The
// recomputed score is not persisted.
func (l *Agreements) Get(ctx context.Context, id string) (*models.Agreement, error) {
	a, err := l.store.GetAgreement(ctx, id)
	if err != nil {
		return nil, err
	}
	if !a.IsSettled() {
		l.score(a, l.now())
	}
	return a, nil
}

// ListForParty returns the agreements where userID lends or borrows, newest
// first.
func (l *Agreements) ListForParty(ctx context.Context, userID string) ([]*models.Agreement, error) {
	agreements, err := l.store.ListAgreementsForParty(ctx, userID)
	if err != nil {
		return nil, err
	}
	now := l.now()
	for _, a := range agreements {
		if !a.IsSettled() {
			l.score(a, now)
		}
	}
	return agreements, nil
}

// Delete removes an agreement. Nothing else is touched.
func (l *Agreements) Delete(ctx context.Context, id string) error {
	if err := l.store.DeleteAgreement(ctx, id); err != nil {
		return err
	}
	slog.Info("Agreement deleted", "agreement_id", id)
	return nil
}

// CanView reports whether the caller takes part in the agreement.
func CanView(a *models.Agreement, userID, email string) bool {
	if userID != "" && (a.Lender.ID == userID || a.Borrower.ID == userID) {
		return true
	}
	return a.HasWitness() && email != "" && strings.EqualFold(a.Witness.Email, email)
}

// ApproveWitness records the witness's approval and activates a pending
// agreement. Approving twice returns the current state.
func (l *Agreements) ApproveWitness(ctx context.Context, id, approverEmail string) (*models.Agreement, error) {
	approved := false
	a, err := l.mutate(ctx, id, "approve_witness", func(a *models.Agreement, now time.Time) error {
		approved = false
		if !a.HasWitness() {
			return fmt.Errorf("agreement %s has no witness: %w", id, models.ErrInvalidState)
		}
		if !strings.EqualFold(a.Witness.Email, strings.TrimSpace(approverEmail)) {
			return fmt.Errorf("agreement %s: %s is not the witness: %w", id, approverEmail, models.ErrForbidden)
		}
		if a.WitnessApproved {
			return errNoChange
		}
		a.WitnessApproved = true
		if a.Status == models.StatusPendingWitness {
			a.Status = models.StatusActive
		}
		if !a.CompleteEvent(models.EventWitnessApproved, now.UTC()) {
			a.AppendEvent(models.EventWitnessApproved, now.UTC())
		}
		approved = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	if approved {
		slog.Info("Witness approved agreement", "agreement_id", id)
		l.notify(ctx, notify.Event{
			Kind:        notify.WitnessApproved,
			AgreementID: id,
			To:          []string{a.Lender.Email, a.Borrower.Email},
			Actor:       a.Witness.Name,
		})
	}
	return a, nil
}

func requireBorrower(a *models.Agreement, requestorID string) error {
	if requestorID == "" || requestorID != a.Borrower.ID {
		return fmt.Errorf("agreement %s: only the borrower may do this: %w", a.ID, models.ErrForbidden)
	}
	return nil
}

func requireLender(a *models.Agreement, requestorID string) error {
	if requestorID == "" || requestorID != a.Lender.ID {
		return fmt.Errorf("agreement %s: only the lender may do this: %w", a.ID, models.ErrForbidden)
	}
	return nil
}

func requireParty(a *models.Agreement, requestorID string) error {
	if requestorID == "" || (requestorID != a.Lender.ID && requestorID != a.Borrower.ID) {
		return fmt.Errorf("agreement %s: only the lender or borrower may do this: %w", a.ID, models.ErrForbidden)
	}
	return nil
}

func canAttachRepayment(a *models.Agreement) error {
	if a.Status != models.StatusActive && a.Status != models.StatusPendingWitness {
		return fmt.Errorf("agreement %s is %s: %w", a.ID, a.Status, models.ErrInvalidState)
	}
	return nil
}

// precheck loads the agreement and runs the checks of an upload operation
// before any file is stored.
func (l *Agreements) precheck(ctx context.Context, id string, checks ...func(*models.Agreement) error) error {
	a, err := l.store.GetAgreement(ctx, id)
	if err != nil {
		return err
	}
	if a.IsSettled() {
		return fmt.Errorf("agreement %s is settled: %w", id, models.ErrInvalidState)
	}
	for _, check := range checks {
		if err := check(a); err != nil {
			return err
		}
	}
	return nil
}

// AttachRepaymentProof stores the borrower's repayment proof and moves the
// agreement to reviewing.
func (l *Agreements) AttachRepaymentProof(ctx context.Context, id, requestorID string, up proofstore.Upload) (*models.Agreement, error) {
	isBorrower := func(a *models.Agreement) error { return requireBorrower(a, requestorID) }
	if err := l.precheck(ctx, id, isBorrower, canAttachRepayment); err != nil {
		return nil, err
	}
	proof, err := l.upload(ctx, id, up)
	if err != nil {
		return nil, err
	}

	a, err := l.mutate(ctx, id, "attach_repayment_proof", func(a *models.Agreement, now time.Time) error {
		if err := isBorrower(a); err != nil {
			return err
		}
		if err := canAttachRepayment(a); err != nil {
			return err
		}
		p := *proof
		a.BorrowerProof = &p
		a.AppendEvent(models.EventPaymentProofUploaded, now.UTC())
		a.Status = models.StatusReviewing
		return nil
	})
	if err != nil {
		l.discard(ctx, proof.URL)
		return nil, err
	}

	slog.Info("Repayment proof attached", "agreement_id", id)
	l.notify(ctx, notify.Event{
		Kind:        notify.RepaymentProofUploaded,
		AgreementID: id,
		To:          []string{a.Lender.Email},
		Actor:       a.Borrower.Name,
		Amount:      a.Amount.StringFixed(models.MinorUnits),
	})
	return a, nil
}

// Settle closes the agreement. The trust score is frozen at its value at
// settlement.
func (l *Agreements) Settle(ctx context.Context, id, requestorID string) (*models.Agreement, error) {
	a, err := l.mutate(ctx, id, "settle", func(a *models.Agreement, now time.Time) error {
		if err := requireLender(a, requestorID); err != nil {
			return err
		}
		l.score(a, now)
		a.Status = models.StatusSettled
		if !a.CompleteEvent(models.EventPaymentReceived, now.UTC()) {
			a.AppendEvent(models.EventPaymentReceived, now.UTC())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.Info("Agreement settled", "agreement_id", id, "trust_score", a.TrustScore)
	l.notify(ctx, notify.Event{
		Kind:        notify.AgreementSettled,
		AgreementID: id,
		To:          []string{a.Borrower.Email, a.Lender.Email},
		Actor:       a.Lender.Name,
		Amount:      a.Amount.StringFixed(models.MinorUnits),
	})
	return a, nil
}

// ExtendDueDate spends buffer days to push the due date forward.
func (l *Agreements) ExtendDueDate(ctx context.Context, id, requestorID string, days int) (*models.Agreement, error) {
	a, err := l.mutate(ctx, id, "extend_due_date", func(a *models.Agreement, now time.Time) error {
		return buffer.Extend(a, requestorID, days, now.UTC())
	})
	if err != nil {
		return nil, err
	}

	slog.Info("Due date extended",
		"agreement_id", id,
		"days", days,
		"due_date", a.DueDate.Format(time.DateOnly),
		"buffer_days_remaining", a.BufferDaysRemaining,
	)
	l.notify(ctx, notify.Event{
		Kind:        notify.DueDateExtended,
		AgreementID: id,
		To:          []string{a.Lender.Email},
		Actor:       a.Borrower.Name,
		Message:     buffer.ExtensionEvent(days, a.DueDate),
	})
	return a, nil
}

// SetStrictMode switches how lateness affects the trust score.
func (l *Agreements) SetStrictMode(ctx context.Context, id, requestorID string, strict bool) (*models.Agreement, error) {
	return l.mutate(ctx, id, "set_strict_mode", func(a *models.Agreement, now time.Time) error {
		if err := requireLender(a, requestorID); err != nil {
			return err
		}
		if a.StrictMode == strict {
			return errNoChange
		}
		a.StrictMode = strict
		return nil
	})
}

func moneyNotYetSent(a *models.Agreement) error {
	if a.LenderProof != nil {
		return fmt.Errorf("agreement %s: money sent is already recorded: %w", a.ID, models.ErrInvalidState)
	}
	return nil
}

// RecordMoneySent attaches the lender's transfer proof after creation and
// completes the pending "Money Sent" entry.
func (l *Agreements) RecordMoneySent(ctx context.Context, id, requestorID string, up proofstore.Upload) (*models.Agreement, error) {
	isLender := func(a *models.Agreement) error { return requireLender(a, requestorID) }
	if err := l.precheck(ctx, id, isLender, moneyNotYetSent); err != nil {
		return nil, err
	}
	proof, err := l.upload(ctx, id, up)
	if err != nil {
		return nil, err
	}

	a, err := l.mutate(ctx, id, "record_money_sent", func(a *models.Agreement, now time.Time) error {
		if err := isLender(a); err != nil {
			return err
		}
		if err := moneyNotYetSent(a); err != nil {
			return err
		}
		p := *proof
		a.LenderProof = &p
		if !a.CompleteEvent(models.EventMoneySent, now.UTC()) {
			a.AppendEvent(models.EventMoneySent, now.UTC())
		}
		return nil
	})
	if err != nil {
		l.discard(ctx, proof.URL)
		return nil, err
	}

	slog.Info("Money sent recorded", "agreement_id", id)
	l.notify(ctx, notify.Event{
		Kind:        notify.MoneySent,
		AgreementID: id,
		To:          []string{a.Borrower.Email},
		Actor:       a.Lender.Name,
		Amount:      a.Amount.StringFixed(models.MinorUnits),
	})
	return a, nil
}

// RefreshTrustScore persists the score the policy gives the agreement now.
func (l *Agreements) RefreshTrustScore(ctx context.Context, id string) (*models.Agreement, error) {
	return l.mutate(ctx, id, "refresh_trust_score", func(a *models.Agreement, now time.Time) error {
		before := a.TrustScore
		l.score(a, now)
		if a.TrustScore == before {
			return errNoChange
		}
		return nil
	})
}
