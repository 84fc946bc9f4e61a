package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/mmynk/trustfirst/internal/models"
)

const moneyRequestColumns = `
	id, group_id, requester_id, requester_name, requester_email, requester_phone,
	amount_minor, amount_received_minor, amount_remaining_minor, purpose, due_date,
	status, created_at, updated_at`

// CreateMoneyRequest persists a new money request with nothing received.
func (s *SQLiteStore) CreateMoneyRequest(ctx context.Context, m *models.MoneyRequest) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	now := s.timestamp()
	m.CreatedAt, m.UpdatedAt = now, now
	if m.Status == "" {
		m.Status = models.MoneyRequestActive
	}

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO money_requests ("+moneyRequestColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		m.ID, m.GroupID, m.Requester.ID, m.Requester.Name, m.Requester.Email, m.Requester.Phone,
		models.ToMinor(m.Amount), models.ToMinor(m.AmountReceived), models.ToMinor(m.AmountRemaining),
		m.Purpose, toMillis(m.DueDate), string(m.Status), toMillis(now), toMillis(now),
	)
	if err != nil {
		return fmt.Errorf("failed to insert money request: %w", err)
	}
	return nil
}

// GetMoneyRequest retrieves a money request with its contributions.
func (s *SQLiteStore) GetMoneyRequest(ctx context.Context, id string) (*models.MoneyRequest, error) {
	m, err := scanMoneyRequest(s.db.QueryRowContext(ctx,
		"SELECT "+moneyRequestColumns+" FROM money_requests WHERE id = ?", id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("money request %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get money request: %w", err)
	}

	if err := loadContributions(ctx, s.db, m); err != nil {
		return nil, err
	}
	return m, nil
}

// ListMoneyRequests returns a group's active and fulfilled requests, newest first.
func (s *SQLiteStore) ListMoneyRequests(ctx context.Context, groupID string) ([]*models.MoneyRequest, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+moneyRequestColumns+` FROM money_requests
		WHERE group_id = ? AND status IN (?, ?)
		ORDER BY created_at DESC, id`,
		groupID, string(models.MoneyRequestActive), string(models.MoneyRequestFulfilled),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list money requests: %w", err)
	}

	var requests []*models.MoneyRequest
	for rows.Next() {
		m, err := scanMoneyRequest(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan money request: %w", err)
		}
		requests = append(requests, m)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate money requests: %w", err)
	}

	for _, m := range requests {
		if err := loadContributions(ctx, s.db, m); err != nil {
			return nil, err
		}
	}
	return requests, nil
}

// CancelMoneyRequest moves an active request to cancelled.
func (s *SQLiteStore) CancelMoneyRequest(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE money_requests SET status = ?, updated_at = ? WHERE id = ? AND status = ?",
		string(models.MoneyRequestCancelled), toMillis(s.timestamp()), id, string(models.MoneyRequestActive),
	)
	if err != nil {
		return fmt.Errorf("failed to cancel money request: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}

	var status string
	err = s.db.QueryRowContext(ctx, "SELECT status FROM money_requests WHERE id = ?", id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("money request %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to get money request status: %w", err)
	}
	return fmt.Errorf("money request %s is %s: %w", id, status, models.ErrInvalidState)
}

// Contribute records a contribution and its agreement in one transaction.
// The remaining amount is decremented with a guarded UPDATE, so concurrent
// contributions can never jointly overdraw the request.
func (s *SQLiteStore) Contribute(ctx context.Context, requestID string, a *models.Agreement, c *models.Contribution) (*models.MoneyRequest, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	amount := models.ToMinor(c.Amount)
	now := s.timestamp()

	res, err := tx.ExecContext(ctx, `
		UPDATE money_requests SET
			amount_received_minor = amount_received_minor + ?,
			amount_remaining_minor = amount_remaining_minor - ?,
			status = CASE WHEN amount_remaining_minor - ? = 0 THEN ? ELSE status END,
			updated_at = ?
		WHERE id = ? AND status = ? AND amount_remaining_minor >= ?`,
		amount, amount, amount, string(models.MoneyRequestFulfilled),
		toMillis(now), requestID, string(models.MoneyRequestActive), amount,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update money request: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return nil, guardFailure(ctx, tx, requestID, c)
	}

	if err := s.insertAgreement(ctx, tx, a); err != nil {
		return nil, err
	}

	c.AgreementID = a.ID
	if c.ContributedAt.IsZero() {
		c.ContributedAt = now
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO contributions
			(money_request_id, agreement_id, lender_id, lender_name, lender_email, amount_minor, contributed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		requestID, c.AgreementID, c.Lender.ID, c.Lender.Name, c.Lender.Email, amount, toMillis(c.ContributedAt),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert contribution: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return s.GetMoneyRequest(ctx, requestID)
}

// guardFailure explains why the conditional decrement matched no row.
func guardFailure(ctx context.Context, q querier, requestID string, c *models.Contribution) error {
	var status string
	var remaining int64
	err := q.QueryRowContext(ctx,
		"SELECT status, amount_remaining_minor FROM money_requests WHERE id = ?", requestID,
	).Scan(&status, &remaining)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("money request %s: %w", requestID, models.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to get money request: %w", err)
	}
	if models.MoneyRequestStatus(status) != models.MoneyRequestActive {
		return fmt.Errorf("money request %s is %s: %w", requestID, status, models.ErrInvalidState)
	}
	return fmt.Errorf("money request %s: amount %s exceeds remaining %s: %w",
		requestID, c.Amount.StringFixed(models.MinorUnits), models.FromMinor(remaining).StringFixed(models.MinorUnits),
		models.ErrInvalidArgument)
}

func loadContributions(ctx context.Context, q querier, m *models.MoneyRequest) error {
	rows, err := q.QueryContext(ctx, `
		SELECT agreement_id, lender_id, lender_name, lender_email, amount_minor, contributed_at
		FROM contributions WHERE money_request_id = ? ORDER BY contributed_at, rowid`,
		m.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to get contributions: %w", err)
	}
	defer rows.Close()

	m.Contributions = []models.Contribution{}
	for rows.Next() {
		var c models.Contribution
		var amount, at int64
		if err := rows.Scan(&c.AgreementID, &c.Lender.ID, &c.Lender.Name, &c.Lender.Email, &amount, &at); err != nil {
			return fmt.Errorf("failed to scan contribution: %w", err)
		}
		c.Amount = models.FromMinor(amount)
		c.ContributedAt = fromMillis(at)
		m.Contributions = append(m.Contributions, c)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to iterate contributions: %w", err)
	}
	return nil
}

func scanMoneyRequest(row rowScanner) (*models.MoneyRequest, error) {
	m := &models.MoneyRequest{}
	var amount, received, remaining, dueDate, createdAt, updatedAt int64
	var status string
	err := row.Scan(
		&m.ID, &m.GroupID, &m.Requester.ID, &m.Requester.Name, &m.Requester.Email, &m.Requester.Phone,
		&amount, &received, &remaining, &m.Purpose, &dueDate,
		&status, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}
	m.Amount = models.FromMinor(amount)
	m.AmountReceived = models.FromMinor(received)
	m.AmountRemaining = models.FromMinor(remaining)
	m.DueDate = fromMillis(dueDate)
	m.Status = models.MoneyRequestStatus(status)
	m.CreatedAt = fromMillis(createdAt)
	m.UpdatedAt = fromMillis(updatedAt)
	return m, nil
}
