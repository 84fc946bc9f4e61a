package buffer

import (
	"errors"
	"testing"
	"time"

	"github.com/mmynk/trustfirst/internal/models"
)

func newAgreement(remaining int) *models.Agreement {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	return &models.Agreement{
		ID:                  "agr-1",
		Lender:              models.Party{ID: "lender"},
		Borrower:            models.Party{ID: "borrower"},
		Status:              models.StatusActive,
		DueDate:             time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC),
		BufferDaysGranted:   remaining,
		BufferDaysRemaining: remaining,
		Timeline:            models.InitialTimeline(now, false, false),
	}
}

func TestExtend(t *testing.T) {
	now := time.Date(2026, 3, 20, 0, 0, 0, 0, time.UTC)

	t.Run("moves due date and spends days", func(t *testing.T) {
		a := newAgreement(3)
		if err := Extend(a, "borrower", 2, now); err != nil {
			t.Fatalf("Extend failed: %v", err)
		}
		want := time.Date(2026, 4, 2, 0, 0, 0, 0, time.UTC)
		if !a.DueDate.Equal(want) {
			t.Errorf("due date: got %s, want %s", a.DueDate, want)
		}
		if a.BufferDaysRemaining != 1 {
			t.Errorf("remaining: got %d, want 1", a.BufferDaysRemaining)
		}
		last := a.Timeline[len(a.Timeline)-1]
		if last.Event != "Due date extended by 2 days; new due date April 2, 2026" || !last.Completed {
			t.Errorf("unexpected timeline entry: %+v", last)
		}
		if a.Status != models.StatusActive {
			t.Errorf("status changed to %s", a.Status)
		}
	})

	t.Run("more days than remaining", func(t *testing.T) {
		a := newAgreement(3)
		err := Extend(a, "borrower", 5, now)
		if !errors.Is(err, models.ErrInvalidArgument) {
			t.Fatalf("expected ErrInvalidArgument, got %v", err)
		}
		if a.BufferDaysRemaining != 3 || len(a.Timeline) != 4 {
			t.Error("agreement mutated on failure")
		}
	})

	t.Run("zero days", func(t *testing.T) {
		if err := Extend(newAgreement(3), "borrower", 0, now); !errors.Is(err, models.ErrInvalidArgument) {
			t.Fatalf("expected ErrInvalidArgument, got %v", err)
		}
	})

	t.Run("lender cannot extend", func(t *testing.T) {
		if err := Extend(newAgreement(3), "lender", 1, now); !errors.Is(err, models.ErrForbidden) {
			t.Fatalf("expected ErrForbidden, got %v", err)
		}
	})

	t.Run("pool never replenishes", func(t *testing.T) {
		a := newAgreement(3)
		for i := 0; i < 3; i++ {
			if err := Extend(a, "borrower", 1, now); err != nil {
				t.Fatalf("extension %d failed: %v", i, err)
			}
		}
		if err := Extend(a, "borrower", 1, now); !errors.Is(err, models.ErrInvalidArgument) {
			t.Fatalf("expected exhausted pool to fail, got %v", err)
		}
		if a.BufferDaysRemaining != 0 || a.BufferDaysGranted != 3 {
			t.Errorf("remaining %d granted %d", a.BufferDaysRemaining, a.BufferDaysGranted)
		}
	})

	t.Run("settled agreement", func(t *testing.T) {
		a := newAgreement(3)
		a.Status = models.StatusSettled
		if err := Extend(a, "borrower", 1, now); !errors.Is(err, models.ErrInvalidState) {
			t.Fatalf("expected ErrInvalidState, got %v", err)
		}
	})
}

func TestExtensionEventSingular(t *testing.T) {
	got := ExtensionEvent(1, time.Date(2026, 5, 9, 0, 0, 0, 0, time.UTC))
	if got != "Due date extended by 1 day; new due date May 9, 2026" {
		t.Errorf("got %q", got)
	}
}

func TestValidateAllowance(t *testing.T) {
	for _, days := range []int{0, 3, 14} {
		if err := ValidateAllowance(days); err != nil {
			t.Errorf("ValidateAllowance(%d) = %v", days, err)
		}
	}
	for _, days := range []int{-1, 15} {
		if err := ValidateAllowance(days); !errors.Is(err, models.ErrInvalidArgument) {
			t.Errorf("ValidateAllowance(%d) = %v, want ErrInvalidArgument", days, err)
		}
	}
}
