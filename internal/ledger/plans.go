package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mmynk/trustfirst/internal/lock"
	"github.com/mmynk/trustfirst/internal/metrics"
	"github.com/mmynk/trustfirst/internal/models"
	"github.com/mmynk/trustfirst/internal/notify"
	"github.com/mmynk/trustfirst/internal/proofstore"
	"github.com/mmynk/trustfirst/internal/schedule"
)

// PlanSelection is the installment plan a borrower picked, usually one of the
// generated candidates.
type PlanSelection struct {
	Index        int                    `json:"planIndex"`
	Name         string                 `json:"planName"`
	Installments []schedule.Installment `json:"installments"`
}

// GeneratePlans asks the schedule oracle for candidate plans and returns them
// repaired against the due date. Nothing is persisted. Only one generation
// per agreement runs at a time.
func (l *Agreements) GeneratePlans(ctx context.Context, id, requestorID string) ([]schedule.Plan, error) {
	a, err := l.store.GetAgreement(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := requireParty(a, requestorID); err != nil {
		return nil, err
	}
	if a.IsSettled() {
		return nil, fmt.Errorf("agreement %s is settled: %w", id, models.ErrInvalidState)
	}
	if l.generator == nil {
		return nil, fmt.Errorf("agreement %s: schedule oracle is not configured: %w", id, schedule.ErrGenerationFailed)
	}

	held, err := l.locker.Obtain(ctx, "plan-generation:"+id, planLockTTL)
	if errors.Is(err, lock.ErrNotObtained) {
		return nil, fmt.Errorf("agreement %s: plan generation already in progress: %w", id, models.ErrInvalidState)
	}
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := held.Release(context.WithoutCancel(ctx)); err != nil {
			metrics.BestEffortFailures.WithLabelValues("lock_release").Inc()
			slog.Warn("Failed to release plan generation lock", "agreement_id", id, "error", err)
		}
	}()

	months := schedule.MonthsUntil(l.now(), a.DueDate)
	plans, err := l.generator.Generate(ctx, schedule.Request{
		Amount:    a.Amount,
		Currency:  defaultCurrency,
		DueDate:   a.DueDate,
		PartyName: a.Borrower.Name,
		Windows:   schedule.WindowsFor(months),
	})
	if err != nil {
		return nil, fmt.Errorf("agreement %s: %w", id, err)
	}
	slog.Info("Installment plans generated", "agreement_id", id, "count", len(plans), "months", months)
	return plans, nil
}

// validatePlan checks a selection against the agreement amount.
func validatePlan(a *models.Agreement, sel PlanSelection) error {
	if len(sel.Installments) == 0 {
		return fmt.Errorf("agreement %s: plan has no installments: %w", a.ID, models.ErrInvalidPlan)
	}
	for i, inst := range sel.Installments {
		if inst.Date.IsZero() {
			return fmt.Errorf("agreement %s: installment %d has no date: %w", a.ID, i, models.ErrInvalidPlan)
		}
		if err := models.ValidateAmount("amount", inst.Amount); err != nil {
			return fmt.Errorf("agreement %s: installment %d amount %s: %w", a.ID, i, inst.Amount, models.ErrInvalidPlan)
		}
	}
	plan := toInstallmentPlan(sel)
	if total := plan.Total(); !total.Equal(a.Amount) {
		return fmt.Errorf("agreement %s: installments sum to %s, agreement amount is %s: %w",
			a.ID, total.StringFixed(models.MinorUnits), a.Amount.StringFixed(models.MinorUnits), models.ErrInvalidPlan)
	}
	return nil
}

func toInstallmentPlan(sel PlanSelection) *models.InstallmentPlan {
	plan := &models.InstallmentPlan{
		PlanIndex:    sel.Index,
		PlanName:     sel.Name,
		Installments: make([]models.Installment, len(sel.Installments)),
	}
	for i, inst := range sel.Installments {
		plan.Installments[i] = models.Installment{
			Date:   inst.Date.UTC(),
			Amount: inst.Amount,
			Note:   inst.Note,
		}
	}
	return plan
}

// SelectInstallmentPlan stores the borrower's chosen plan. A plan can be
// replaced until the first installment proof is uploaded.
func (l *Agreements) SelectInstallmentPlan(ctx context.Context, id, requestorID string, sel PlanSelection) (*models.Agreement, error) {
	a, err := l.mutate(ctx, id, "select_installment_plan", func(a *models.Agreement, now time.Time) error {
		if err := requireBorrower(a, requestorID); err != nil {
			return err
		}
		if a.Plan != nil && a.Plan.HasProofs() {
			return fmt.Errorf("agreement %s: installment proofs already uploaded: %w", id, models.ErrPlanLocked)
		}
		if err := validatePlan(a, sel); err != nil {
			return err
		}
		a.Plan = toInstallmentPlan(sel)
		return nil
	})
	if err != nil {
		return nil, err
	}
	slog.Info("Installment plan selected", "agreement_id", id, "plan", sel.Name, "installments", len(sel.Installments))
	return a, nil
}

// installment returns the plan entry at index.
func installment(a *models.Agreement, index int) (*models.Installment, error) {
	if a.Plan == nil {
		return nil, fmt.Errorf("agreement %s has no installment plan: %w", a.ID, models.ErrInvalidState)
	}
	if index < 0 || index >= len(a.Plan.Installments) {
		return nil, fmt.Errorf("agreement %s: installment index %d not in [0,%d): %w",
			a.ID, index, len(a.Plan.Installments), models.ErrIndexOutOfRange)
	}
	return &a.Plan.Installments[index], nil
}

// UploadInstallmentProof attaches a proof to one installment. A proof already
// on that installment is replaced and its file deleted.
func (l *Agreements) UploadInstallmentProof(ctx context.Context, id, requestorID string, index int, up proofstore.Upload) (*models.Agreement, error) {
	isBorrower := func(a *models.Agreement) error { return requireBorrower(a, requestorID) }
	inRange := func(a *models.Agreement) error {
		_, err := installment(a, index)
		return err
	}
	if err := l.precheck(ctx, id, isBorrower, inRange); err != nil {
		return nil, err
	}
	proof, err := l.upload(ctx, id, up)
	if err != nil {
		return nil, err
	}

	var replaced string
	a, err := l.mutate(ctx, id, "upload_installment_proof", func(a *models.Agreement, now time.Time) error {
		if err := isBorrower(a); err != nil {
			return err
		}
		inst, err := installment(a, index)
		if err != nil {
			return err
		}
		replaced = inst.ProofURL
		inst.AttachProof(*proof)
		return nil
	})
	if err != nil {
		l.discard(ctx, proof.URL)
		return nil, err
	}
	l.discard(ctx, replaced)

	slog.Info("Installment proof uploaded", "agreement_id", id, "index", index)
	l.notify(ctx, notify.Event{
		Kind:        notify.InstallmentProofAdded,
		AgreementID: id,
		To:          []string{a.Lender.Email},
		Actor:       a.Borrower.Name,
		Amount:      a.Plan.Installments[index].Amount.StringFixed(models.MinorUnits),
	})
	return a, nil
}

// RemoveInstallmentProof clears one installment's proof and deletes the file.
// The file deletion is best-effort.
func (l *Agreements) RemoveInstallmentProof(ctx context.Context, id, requestorID string, index int) (*models.Agreement, error) {
	var removed string
	a, err := l.mutate(ctx, id, "remove_installment_proof", func(a *models.Agreement, now time.Time) error {
		removed = ""
		if err := requireBorrower(a, requestorID); err != nil {
			return err
		}
		inst, err := installment(a, index)
		if err != nil {
			return err
		}
		if !inst.ProofUploaded {
			return errNoChange
		}
		removed = inst.ProofURL
		inst.ClearProof()
		return nil
	})
	if err != nil {
		return nil, err
	}
	if removed == "" {
		return a, nil
	}
	l.discard(ctx, removed)

	slog.Info("Installment proof removed", "agreement_id", id, "index", index)
	l.notify(ctx, notify.Event{
		Kind:        notify.InstallmentProofRemoved,
		AgreementID: id,
		To:          []string{a.Lender.Email},
		Actor:       a.Borrower.Name,
	})
	return a, nil
}
