package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mmynk/trustfirst/internal/calculator"
	"github.com/mmynk/trustfirst/internal/models"
	"github.com/mmynk/trustfirst/internal/trust"
)

// Location roles.
const (
	RoleLender   = "lender"
	RoleBorrower = "borrower"
	RoleWitness  = "witness"
)

// VerifyParty grants the one-time verification bonus. It reports false when
// the user was already verified.
func (l *Agreements) VerifyParty(ctx context.Context, userID string) (*models.User, bool, error) {
	granted, err := l.store.MarkVerified(ctx, userID, trust.VerificationBonusPoints)
	if err != nil {
		return nil, false, err
	}
	user, err := l.store.GetUserByID(ctx, userID)
	if err != nil {
		return nil, false, err
	}
	if granted {
		slog.Info("Party verified", "user_id", userID, "trust_score", user.TrustScore)
	}
	return user, granted, nil
}

// Summary aggregates the user's agreements as of now.
func (l *Agreements) Summary(ctx context.Context, userID string) (calculator.Summary, error) {
	agreements, err := l.store.ListAgreementsForParty(ctx, userID)
	if err != nil {
		return calculator.Summary{}, err
	}
	return calculator.Summarize(userID, agreements, l.now()), nil
}

// LocationInput is a location sample classified by the geolocation oracle.
type LocationInput struct {
	AgreementID string  `json:"agreementId" validate:"required"`
	UserID      string  `json:"userId" validate:"required"`
	Email       string  `json:"email,omitempty"`
	Latitude    float64 `json:"latitude" validate:"min=-90,max=90"`
	Longitude   float64 `json:"longitude" validate:"min=-180,max=180"`
	Context     string  `json:"context,omitempty" validate:"omitempty,json"`
	IsEmergency bool    `json:"isEmergency"`
}

func roleOf(a *models.Agreement, userID, email string) string {
	switch {
	case userID == a.Lender.ID:
		return RoleLender
	case userID == a.Borrower.ID:
		return RoleBorrower
	case a.HasWitness() && email != "" && strings.EqualFold(a.Witness.Email, email):
		return RoleWitness
	default:
		return ""
	}
}

// RecordLocation stores a location sample from one of the agreement's
// participants.
func (l *Agreements) RecordLocation(ctx context.Context, in LocationInput) (*models.LiveLocation, error) {
	if err := l.check(in); err != nil {
		return nil, err
	}
	a, err := l.store.GetAgreement(ctx, in.AgreementID)
	if err != nil {
		return nil, err
	}
	role := roleOf(a, in.UserID, in.Email)
	if role == "" {
		return nil, fmt.Errorf("agreement %s: user %s is not a participant: %w", a.ID, in.UserID, models.ErrForbidden)
	}

	loc := &models.LiveLocation{
		AgreementID: a.ID,
		UserID:      in.UserID,
		Role:        role,
		Latitude:    in.Latitude,
		Longitude:   in.Longitude,
		Context:     in.Context,
		IsEmergency: in.IsEmergency,
		RecordedAt:  l.now().UTC().Truncate(time.Millisecond),
	}
	if err := l.store.RecordLocation(ctx, loc); err != nil {
		return nil, err
	}
	if loc.IsEmergency {
		slog.Warn("Emergency location recorded", "agreement_id", a.ID, "user_id", in.UserID, "role", role)
	}
	return loc, nil
}

// LatestLocation returns the most recent sample for the agreement.
func (l *Agreements) LatestLocation(ctx context.Context, agreementID string) (*models.LiveLocation, error) {
	return l.store.LatestLocation(ctx, agreementID)
}
