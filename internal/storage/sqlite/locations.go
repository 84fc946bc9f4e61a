package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/mmynk/trustfirst/internal/models"
)

// RecordLocation stores a location sample as given.
func (s *SQLiteStore) RecordLocation(ctx context.Context, loc *models.LiveLocation) error {
	if loc.ID == "" {
		loc.ID = uuid.New().String()
	}
	if loc.RecordedAt.IsZero() {
		loc.RecordedAt = s.timestamp()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO live_locations
			(id, agreement_id, user_id, role, latitude, longitude, context, is_emergency, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		loc.ID, loc.AgreementID, loc.UserID, loc.Role, loc.Latitude, loc.Longitude,
		loc.Context, boolInt(loc.IsEmergency), toMillis(loc.RecordedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert location: %w", err)
	}
	return nil
}

// LatestLocation returns the most recent sample for an agreement.
func (s *SQLiteStore) LatestLocation(ctx context.Context, agreementID string) (*models.LiveLocation, error) {
	loc := &models.LiveLocation{}
	var recordedAt int64
	err := s.db.QueryRowContext(ctx, `
		SELECT id, agreement_id, user_id, role, latitude, longitude, context, is_emergency, recorded_at
		FROM live_locations
		WHERE agreement_id = ?
		ORDER BY recorded_at DESC, rowid DESC
		LIMIT 1`,
		agreementID,
	).Scan(&loc.ID, &loc.AgreementID, &loc.UserID, &loc.Role, &loc.Latitude, &loc.Longitude,
		&loc.Context, &loc.IsEmergency, &recordedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("location for agreement %s: %w", agreementID, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest location: %w", err)
	}
	loc.RecordedAt = fromMillis(recordedAt)
	return loc, nil
}
