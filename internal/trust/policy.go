// Package trust computes the reputation scores attached to agreements and
// parties.
package trust

import "github.com/mmynk/trustfirst/internal/models"

const (
	MinScore = 0
	MaxScore = 100

	// DefaultAgreementScore seeds agreements created directly by a lender.
	DefaultAgreementScore = 80
	// ContributionScore seeds agreements created by a group contribution.
	ContributionScore = 100
	// VerificationBonusPoints is granted once per party on verification.
	VerificationBonusPoints = 10
)

// Inputs are the agreement facts a policy may look at.
type Inputs struct {
	Strict              bool
	BufferDaysGranted   int
	BufferDaysRemaining int
	DaysPastDue         int
}

// InputsFor extracts policy inputs from an agreement at the given instant.
func InputsFor(a *models.Agreement, daysPastDue int) Inputs {
	return Inputs{
		Strict:              a.StrictMode,
		BufferDaysGranted:   a.BufferDaysGranted,
		BufferDaysRemaining: a.BufferDaysRemaining,
		DaysPastDue:         daysPastDue,
	}
}

// Policy turns a base score and the current agreement facts into the score
// shown for that agreement. Implementations must return a value in [0,100].
type Policy interface {
	Score(base int, in Inputs) int
}

// DecayPolicy is the default curve.
//
// Lenient agreements keep their score until the full buffer allowance has
// elapsed past the due date and then lose LenientPerDay per day. Strict
// agreements lose StrictPerDay from the first day past due, and
// BufferPenalty for every buffer day spent.
type DecayPolicy struct {
	LenientPerDay int
	StrictPerDay  int
	BufferPenalty int
}

// DefaultPolicy returns the curve used in production.
func DefaultPolicy() DecayPolicy {
	return DecayPolicy{LenientPerDay: 2, StrictPerDay: 5, BufferPenalty: 1}
}

// Score implements Policy.
func (p DecayPolicy) Score(base int, in Inputs) int {
	score := base
	if in.Strict {
		used := in.BufferDaysGranted - in.BufferDaysRemaining
		if used > 0 {
			score -= used * p.BufferPenalty
		}
		if in.DaysPastDue > 0 {
			score -= in.DaysPastDue * p.StrictPerDay
		}
		return Clamp(score)
	}

	if late := in.DaysPastDue - in.BufferDaysGranted; late > 0 {
		score -= late * p.LenientPerDay
	}
	return Clamp(score)
}

// Clamp bounds a score to [0,100].
func Clamp(score int) int {
	return min(max(score, MinScore), MaxScore)
}

// VerificationBonus returns the party score after the one-time verification
// bonus.
func VerificationBonus(score int) int {
	return Clamp(score + VerificationBonusPoints)
}
