package schedule

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func installment(date time.Time, amount int64, note string) Installment {
	return Installment{Date: date, Amount: decimal.NewFromInt(amount), Note: note}
}

func TestWindowsFor(t *testing.T) {
	tests := []struct {
		months int
		want   Windows
	}{
		{0, Windows{Aggressive: 2, Balanced: 3, Flexible: 4}},
		{3, Windows{Aggressive: 2, Balanced: 3, Flexible: 4}},
		{6, Windows{Aggressive: 3, Balanced: 5, Flexible: 6}},
		{10, Windows{Aggressive: 4, Balanced: 7, Flexible: 10}},
		{12, Windows{Aggressive: 5, Balanced: 9, Flexible: 12}},
	}
	for _, tt := range tests {
		if got := WindowsFor(tt.months); got != tt.want {
			t.Errorf("WindowsFor(%d) = %+v, want %+v", tt.months, got, tt.want)
		}
	}
}

func TestMonthsUntil(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		due  time.Time
		want int
	}{
		{"ninety days", now.AddDate(0, 0, 90), 3},
		{"partial day rounds up", now.Add(89*24*time.Hour + time.Hour), 3},
		{"under a month", now.AddDate(0, 0, 29), 0},
		{"past due", now.AddDate(0, 0, -5), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MonthsUntil(now, tt.due); got != tt.want {
				t.Errorf("MonthsUntil = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestWithinDueDateUsesEndOfDay(t *testing.T) {
	due := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	plan := Plan{Installments: []Installment{installment(due.Add(23*time.Hour+59*time.Minute), 100, "")}}
	if !WithinDueDate(plan, due) {
		t.Error("an installment late on the due date itself should be within bounds")
	}

	plan.Installments[0].Date = due.AddDate(0, 0, 1)
	if WithinDueDate(plan, due) {
		t.Error("an installment the day after the due date should be out of bounds")
	}
}

func TestRepairRespacesWholePlan(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	due := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

	late := Plan{
		Name: "Balanced",
		Installments: []Installment{
			installment(time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC), 3000, "first"),
			installment(time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC), 3000, "second"),
			installment(time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC), 3000, "final"),
		},
	}
	ok := Plan{
		Name: "Aggressive",
		Installments: []Installment{
			installment(time.Date(2026, 4, 15, 0, 0, 0, 0, time.UTC), 4500, ""),
			installment(time.Date(2026, 5, 15, 0, 0, 0, 0, time.UTC), 4500, ""),
		},
	}

	got := Repair([]Plan{ok, late}, due, now)
	if len(got) != 2 {
		t.Fatalf("expected 2 plans, got %d", len(got))
	}

	t.Run("valid plan passes through unchanged", func(t *testing.T) {
		for i, inst := range got[0].Installments {
			if !inst.Date.Equal(ok.Installments[i].Date) {
				t.Errorf("installment %d moved from %s to %s", i, ok.Installments[i].Date, inst.Date)
			}
		}
	})

	t.Run("late plan is evenly respaced", func(t *testing.T) {
		// 92 days split into 4 intervals of 23 days.
		want := []time.Time{
			time.Date(2026, 3, 24, 0, 0, 0, 0, time.UTC),
			time.Date(2026, 4, 16, 0, 0, 0, 0, time.UTC),
			time.Date(2026, 5, 9, 0, 0, 0, 0, time.UTC),
		}
		for i, inst := range got[1].Installments {
			if !inst.Date.Equal(want[i]) {
				t.Errorf("installment %d: got %s, want %s", i, inst.Date, want[i])
			}
			if inst.Date.After(EndOfDay(due)) {
				t.Errorf("installment %d still after due date", i)
			}
			if !inst.Amount.Equal(late.Installments[i].Amount) {
				t.Errorf("installment %d amount changed: %s", i, inst.Amount)
			}
			if inst.Note != late.Installments[i].Note {
				t.Errorf("installment %d note changed: %q", i, inst.Note)
			}
		}
	})

	t.Run("input is not mutated", func(t *testing.T) {
		if !late.Installments[2].Date.Equal(time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)) {
			t.Error("Repair modified the caller's plan")
		}
	})
}

func TestRepairPastDuePinsToDueDate(t *testing.T) {
	due := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	now := due.AddDate(0, 0, 9)

	plan := Plan{Installments: []Installment{
		installment(due.AddDate(0, 0, 10), 50, "a"),
		installment(due.AddDate(0, 0, 20), 50, "b"),
	}}

	got := Repair([]Plan{plan}, due, now)[0]
	var prev time.Time
	for i, inst := range got.Installments {
		if !inst.Date.Equal(due) {
			t.Errorf("installment %d: got %s, want pinned to %s", i, inst.Date, due)
		}
		if inst.Date.Before(prev) {
			t.Errorf("installment %d reordered before previous", i)
		}
		prev = inst.Date
	}
}

func TestRepairBoundHolds(t *testing.T) {
	now := time.Date(2026, 1, 10, 15, 30, 0, 0, time.UTC)
	for days := 1; days <= 120; days += 7 {
		due := now.AddDate(0, 0, days)
		for count := 1; count <= 12; count++ {
			plan := Plan{}
			for k := 0; k < count; k++ {
				plan.Installments = append(plan.Installments, installment(due.AddDate(0, k+1, 0), 10, ""))
			}
			for _, inst := range Repair([]Plan{plan}, due, now)[0].Installments {
				if inst.Date.After(EndOfDay(due)) {
					t.Fatalf("due in %d days, %d installments: %s after %s", days, count, inst.Date, due)
				}
				if inst.Date.Before(now) {
					t.Fatalf("due in %d days, %d installments: %s before now %s", days, count, inst.Date, now)
				}
			}
		}
	}
}

func TestRepairNeverDatesBeforeNow(t *testing.T) {
	now := time.Date(2026, 1, 10, 15, 30, 0, 0, time.UTC)
	due := now.Add(36 * time.Hour)

	plan := Plan{Installments: []Installment{
		installment(due.AddDate(0, 0, 3), 40, "a"),
		installment(due.AddDate(0, 0, 6), 60, "b"),
	}}

	// 36 hours over 3 intervals puts the first installment at 03:30 tomorrow
	// and the second at 15:30 tomorrow; a 4 hour horizon would have put the
	// first one at midnight today.
	got := Repair([]Plan{plan}, due, now)[0]
	want := []time.Time{
		time.Date(2026, 1, 11, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 1, 11, 0, 0, 0, 0, time.UTC),
	}
	for i, inst := range got.Installments {
		if !inst.Date.Equal(want[i]) {
			t.Errorf("installment %d: got %s, want %s", i, inst.Date, want[i])
		}
	}

	short := Repair([]Plan{plan}, now.Add(4*time.Hour), now)[0]
	for i, inst := range short.Installments {
		if !inst.Date.Equal(now) {
			t.Errorf("installment %d: got %s, want %s", i, inst.Date, now)
		}
	}
}
