// Package buffer manages the grace days a borrower may spend to push an
// agreement's due date forward.
package buffer

import (
	"fmt"
	"time"

	"github.com/mmynk/trustfirst/internal/models"
)

const (
	// DefaultDays is the allowance granted when the lender does not choose one.
	DefaultDays = 3
	// MaxDays is the largest allowance a lender may grant.
	MaxDays = 14
)

// ValidateAllowance checks a buffer allowance chosen at agreement creation.
func ValidateAllowance(days int) error {
	if days < 0 || days > MaxDays {
		return fmt.Errorf("buffer days must be between 0 and %d, got %d: %w", MaxDays, days, models.ErrInvalidArgument)
	}
	return nil
}

// ExtensionEvent is the timeline label recorded for an extension.
func ExtensionEvent(days int, newDue time.Time) string {
	unit := "day"
	if days != 1 {
		unit = "days"
	}
	return fmt.Sprintf("Due date extended by %d %s; new due date %s", days, unit, newDue.Format("January 2, 2006"))
}

// Extend spends days from the agreement's buffer pool. It moves the due date
// forward by that many calendar days, decrements the remaining pool and
// appends a completed timeline entry. The agreement is left untouched when an
// error is returned.
func Extend(a *models.Agreement, requestorID string, days int, now time.Time) error {
	if requestorID == "" || requestorID != a.Borrower.ID {
		return fmt.Errorf("agreement %s: only the borrower may extend the due date: %w", a.ID, models.ErrForbidden)
	}
	if a.IsSettled() {
		return fmt.Errorf("agreement %s is settled: %w", a.ID, models.ErrInvalidState)
	}
	if a.BufferDaysRemaining <= 0 {
		return fmt.Errorf("agreement %s: no buffer days remaining: %w", a.ID, models.ErrInvalidArgument)
	}
	if days < 1 || days > a.BufferDaysRemaining {
		return fmt.Errorf("agreement %s: days must be between 1 and %d, got %d: %w",
			a.ID, a.BufferDaysRemaining, days, models.ErrInvalidArgument)
	}

	newDue := a.DueDate.AddDate(0, 0, days)
	a.DueDate = newDue
	a.BufferDaysRemaining -= days
	a.AppendEvent(ExtensionEvent(days, newDue), now)
	return nil
}
