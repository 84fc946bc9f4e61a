package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/mmynk/trustfirst/internal/models"
	"github.com/mmynk/trustfirst/internal/storage"
)

const agreementColumns = `
	id, lender_id, lender_name, lender_email, lender_phone,
	borrower_id, borrower_name, borrower_email, borrower_phone,
	amount_minor, purpose, type, due_date, buffer_days_granted, buffer_days_remaining,
	strict_mode, witness_name, witness_email, witness_phone, witness_approved, status,
	lender_proof_file, lender_proof_url, lender_proof_at,
	borrower_proof_file, borrower_proof_url, borrower_proof_at,
	plan_index, plan_name, group_contribution, money_request_id,
	base_trust_score, trust_score, created_at, updated_at, version`

type rowScanner interface {
	Scan(dest ...any) error
}

// CreateAgreement persists a new agreement and updates the parties' statistics.
func (s *SQLiteStore) CreateAgreement(ctx context.Context, a *models.Agreement) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := s.insertAgreement(ctx, tx, a); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *SQLiteStore) insertAgreement(ctx context.Context, q querier, a *models.Agreement) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	now := s.timestamp()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = a.CreatedAt
	a.Version = 1

	args := agreementArgs(a)
	_, err := q.ExecContext(ctx,
		"INSERT INTO agreements ("+agreementColumns+") VALUES ("+placeholders(len(args))+")",
		args...,
	)
	if err != nil {
		return fmt.Errorf("failed to insert agreement: %w", err)
	}

	if err := writeChildren(ctx, q, a); err != nil {
		return err
	}

	amount := models.ToMinor(a.Amount)
	_, err = q.ExecContext(ctx,
		"UPDATE users SET total_lent_minor = total_lent_minor + ?, agreement_count = agreement_count + 1, updated_at = ? WHERE id = ?",
		amount, now.Unix(), a.Lender.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update lender statistics: %w", err)
	}
	_, err = q.ExecContext(ctx,
		"UPDATE users SET total_borrowed_minor = total_borrowed_minor + ?, agreement_count = agreement_count + 1, updated_at = ? WHERE id = ?",
		amount, now.Unix(), a.Borrower.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update borrower statistics: %w", err)
	}

	return nil
}

// GetAgreement retrieves an agreement with its timeline and plan.
func (s *SQLiteStore) GetAgreement(ctx context.Context, id string) (*models.Agreement, error) {
	a, err := scanAgreement(s.db.QueryRowContext(ctx,
		"SELECT "+agreementColumns+" FROM agreements WHERE id = ?", id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("agreement %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get agreement: %w", err)
	}

	if err := loadChildren(ctx, s.db, a); err != nil {
		return nil, err
	}
	return a, nil
}

// ListAgreementsForParty returns the user's agreements as lender or borrower.
func (s *SQLiteStore) ListAgreementsForParty(ctx context.Context, userID string) ([]*models.Agreement, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+agreementColumns+" FROM agreements WHERE lender_id = ? OR borrower_id = ? ORDER BY created_at DESC, id",
		userID, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list agreements: %w", err)
	}

	var agreements []*models.Agreement
	for rows.Next() {
		a, err := scanAgreement(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan agreement: %w", err)
		}
		agreements = append(agreements, a)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate agreements: %w", err)
	}

	// Children are loaded after the cursor is closed; the store holds a single connection.
	for _, a := range agreements {
		if err := loadChildren(ctx, s.db, a); err != nil {
			return nil, err
		}
	}
	return agreements, nil
}

// UpdateAgreement writes the agreement if its version still matches.
func (s *SQLiteStore) UpdateAgreement(ctx context.Context, a *models.Agreement) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	updatedAt := s.timestamp()
	lp, bp := proofColumns(a.LenderProof), proofColumns(a.BorrowerProof)
	planIndex, planName := planColumns(a.Plan)

	res, err := tx.ExecContext(ctx, `
		UPDATE agreements SET
			due_date = ?, buffer_days_remaining = ?, strict_mode = ?,
			witness_approved = ?, status = ?,
			lender_proof_file = ?, lender_proof_url = ?, lender_proof_at = ?,
			borrower_proof_file = ?, borrower_proof_url = ?, borrower_proof_at = ?,
			plan_index = ?, plan_name = ?, trust_score = ?,
			updated_at = ?, version = version + 1
		WHERE id = ? AND version = ?`,
		toMillis(a.DueDate), a.BufferDaysRemaining, boolInt(a.StrictMode),
		boolInt(a.WitnessApproved), string(a.Status),
		lp.file, lp.url, lp.at,
		bp.file, bp.url, bp.at,
		planIndex, planName, a.TrustScore,
		toMillis(updatedAt), a.ID, a.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update agreement: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		var exists int
		err := tx.QueryRowContext(ctx, "SELECT 1 FROM agreements WHERE id = ?", a.ID).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("agreement %s: %w", a.ID, models.ErrNotFound)
		}
		return fmt.Errorf("agreement %s at version %d: %w", a.ID, a.Version, storage.ErrConflict)
	}

	for _, stmt := range []string{
		"DELETE FROM agreement_timeline WHERE agreement_id = ?",
		"DELETE FROM installments WHERE agreement_id = ?",
	} {
		if _, err := tx.ExecContext(ctx, stmt, a.ID); err != nil {
			return fmt.Errorf("failed to clear agreement children: %w", err)
		}
	}
	if err := writeChildren(ctx, tx, a); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	a.Version++
	a.UpdatedAt = updatedAt
	return nil
}

// DeleteAgreement removes an agreement and its own timeline and plan rows.
func (s *SQLiteStore) DeleteAgreement(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM agreements WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete agreement: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("agreement %s: %w", id, models.ErrNotFound)
	}
	return nil
}

func writeChildren(ctx context.Context, q querier, a *models.Agreement) error {
	for i, e := range a.Timeline {
		_, err := q.ExecContext(ctx,
			"INSERT INTO agreement_timeline (agreement_id, seq, event, at, completed) VALUES (?, ?, ?, ?, ?)",
			a.ID, i, e.Event, nullMillis(e.Date), boolInt(e.Completed),
		)
		if err != nil {
			return fmt.Errorf("failed to insert timeline entry: %w", err)
		}
	}

	if a.Plan == nil {
		return nil
	}
	for i, inst := range a.Plan.Installments {
		_, err := q.ExecContext(ctx, `
			INSERT INTO installments
				(agreement_id, idx, due_at, amount_minor, note, proof_uploaded, proof_url, proof_file_name, uploaded_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			a.ID, i, toMillis(inst.Date), models.ToMinor(inst.Amount), inst.Note,
			boolInt(inst.ProofUploaded), inst.ProofURL, inst.ProofFileName, nullMillis(inst.UploadedAt),
		)
		if err != nil {
			return fmt.Errorf("failed to insert installment: %w", err)
		}
	}
	return nil
}

func loadChildren(ctx context.Context, q querier, a *models.Agreement) error {
	rows, err := q.QueryContext(ctx,
		"SELECT event, at, completed FROM agreement_timeline WHERE agreement_id = ? ORDER BY seq",
		a.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to get timeline: %w", err)
	}
	a.Timeline = nil
	for rows.Next() {
		var e models.TimelineEntry
		var at sql.NullInt64
		if err := rows.Scan(&e.Event, &at, &e.Completed); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan timeline entry: %w", err)
		}
		e.Date = timePtr(at)
		a.Timeline = append(a.Timeline, e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to iterate timeline: %w", err)
	}

	if a.Plan == nil {
		return nil
	}
	rows, err = q.QueryContext(ctx, `
		SELECT due_at, amount_minor, note, proof_uploaded, proof_url, proof_file_name, uploaded_at
		FROM installments WHERE agreement_id = ? ORDER BY idx`,
		a.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to get installments: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var inst models.Installment
		var dueAt, amount int64
		var uploadedAt sql.NullInt64
		if err := rows.Scan(&dueAt, &amount, &inst.Note, &inst.ProofUploaded, &inst.ProofURL, &inst.ProofFileName, &uploadedAt); err != nil {
			return fmt.Errorf("failed to scan installment: %w", err)
		}
		inst.Date = fromMillis(dueAt)
		inst.Amount = models.FromMinor(amount)
		inst.UploadedAt = timePtr(uploadedAt)
		a.Plan.Installments = append(a.Plan.Installments, inst)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to iterate installments: %w", err)
	}
	return nil
}

type proofCols struct {
	file, url sql.NullString
	at        sql.NullInt64
}

func proofColumns(p *models.Proof) proofCols {
	if p == nil {
		return proofCols{}
	}
	return proofCols{
		file: sql.NullString{String: p.FileName, Valid: true},
		url:  sql.NullString{String: p.URL, Valid: true},
		at:   sql.NullInt64{Int64: toMillis(p.UploadedAt), Valid: true},
	}
}

func (c proofCols) proof() *models.Proof {
	if !c.url.Valid {
		return nil
	}
	return &models.Proof{FileName: c.file.String, URL: c.url.String, UploadedAt: fromMillis(c.at.Int64)}
}

func planColumns(p *models.InstallmentPlan) (sql.NullInt64, sql.NullString) {
	if p == nil {
		return sql.NullInt64{}, sql.NullString{}
	}
	return sql.NullInt64{Int64: int64(p.PlanIndex), Valid: true}, sql.NullString{String: p.PlanName, Valid: true}
}

func agreementArgs(a *models.Agreement) []any {
	var w models.Witness
	if a.Witness != nil {
		w = *a.Witness
	}
	lp, bp := proofColumns(a.LenderProof), proofColumns(a.BorrowerProof)
	planIndex, planName := planColumns(a.Plan)
	return []any{
		a.ID, a.Lender.ID, a.Lender.Name, a.Lender.Email, a.Lender.Phone,
		a.Borrower.ID, a.Borrower.Name, a.Borrower.Email, a.Borrower.Phone,
		models.ToMinor(a.Amount), a.Purpose, a.Type, toMillis(a.DueDate), a.BufferDaysGranted, a.BufferDaysRemaining,
		boolInt(a.StrictMode), w.Name, w.Email, w.Phone, boolInt(a.WitnessApproved), string(a.Status),
		lp.file, lp.url, lp.at,
		bp.file, bp.url, bp.at,
		planIndex, planName, boolInt(a.GroupContribution), a.MoneyRequestID,
		a.BaseTrustScore, a.TrustScore, toMillis(a.CreatedAt), toMillis(a.UpdatedAt), a.Version,
	}
}

func scanAgreement(row rowScanner) (*models.Agreement, error) {
	a := &models.Agreement{}
	var (
		amount, dueDate, createdAt, updatedAt int64
		status                                string
		w                                     models.Witness
		lp, bp                                proofCols
		planIndex                             sql.NullInt64
		planName                              sql.NullString
	)
	err := row.Scan(
		&a.ID, &a.Lender.ID, &a.Lender.Name, &a.Lender.Email, &a.Lender.Phone,
		&a.Borrower.ID, &a.Borrower.Name, &a.Borrower.Email, &a.Borrower.Phone,
		&amount, &a.Purpose, &a.Type, &dueDate, &a.BufferDaysGranted, &a.BufferDaysRemaining,
		&a.StrictMode, &w.Name, &w.Email, &w.Phone, &a.WitnessApproved, &status,
		&lp.file, &lp.url, &lp.at,
		&bp.file, &bp.url, &bp.at,
		&planIndex, &planName, &a.GroupContribution, &a.MoneyRequestID,
		&a.BaseTrustScore, &a.TrustScore, &createdAt, &updatedAt, &a.Version,
	)
	if err != nil {
		return nil, err
	}

	a.Amount = models.FromMinor(amount)
	a.DueDate = fromMillis(dueDate)
	a.CreatedAt = fromMillis(createdAt)
	a.UpdatedAt = fromMillis(updatedAt)
	a.Status = models.Status(status)
	if w.Email != "" {
		a.Witness = &w
	}
	a.LenderProof = lp.proof()
	a.BorrowerProof = bp.proof()
	if planIndex.Valid {
		a.Plan = &models.InstallmentPlan{PlanIndex: int(planIndex.Int64), PlanName: planName.String}
	}
	return a, nil
}
