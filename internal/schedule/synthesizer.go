// Package schedule validates and repairs installment plans proposed by an
// external schedule oracle, and drives the oracle with bounded retries.
package schedule

import (
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// Installment is one proposed repayment.
type Installment struct {
	Date   time.Time       `json:"date"`
	Amount decimal.Decimal `json:"amount"`
	Note   string          `json:"note,omitempty"`
}

// Plan is a candidate repayment schedule.
type Plan struct {
	Name           string          `json:"planName"`
	Description    string          `json:"description"`
	DurationMonths int             `json:"durationMonths"`
	TotalAmount    decimal.Decimal `json:"totalAmount"`
	Installments   []Installment   `json:"installments"`
}

// Windows are the plan durations, in months, requested from the oracle.
type Windows struct {
	Aggressive int `json:"aggressive"`
	Balanced   int `json:"balanced"`
	Flexible   int `json:"flexible"`
}

// EndOfDay returns the last representable millisecond of t's calendar day in
// t's location.
func EndOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 23, 59, 59, int(999*time.Millisecond), t.Location())
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// MonthsUntil returns whole 30-day months between now and due, counting a
// partial day as a full one. Past due dates yield 0.
func MonthsUntil(now, due time.Time) int {
	days := int(math.Ceil(due.Sub(now).Hours() / 24))
	if days <= 0 {
		return 0
	}
	return days / 30
}

// WindowsFor derives the three canonical plan windows from the months left
// until the due date.
func WindowsFor(months int) Windows {
	return Windows{
		Aggressive: max(2, int(math.Ceil(float64(months)*0.4))),
		Balanced:   max(3, int(math.Ceil(float64(months)*0.7))),
		Flexible:   max(4, months),
	}
}

// WithinDueDate reports whether every installment of the plan falls on or
// before the end of the due date's day.
func WithinDueDate(plan Plan, dueDate time.Time) bool {
	bound := EndOfDay(dueDate)
	for _, inst := range plan.Installments {
		if inst.Date.After(bound) {
			return false
		}
	}
	return true
}

// Repair returns the plans with every installment on or before the due date.
//
// Plans that already respect the bound are returned unchanged. A plan with at
// least one late installment has all of its dates recomputed, evenly spaced
// over count+1 intervals between now and the due date. Amounts and notes are
// never touched. Rescheduling the whole plan rather than only the late entries
// is intentional: it keeps the schedule evenly spaced and ordered.
func Repair(plans []Plan, dueDate, now time.Time) []Plan {
	out := make([]Plan, len(plans))
	for i, p := range plans {
		if WithinDueDate(p, dueDate) {
			out[i] = p
			continue
		}
		out[i] = respace(p, dueDate, now)
	}
	return out
}

// respace recomputes the installment dates of a single plan.
//
// Dates are calendar days: each one is truncated to midnight in the due
// date's location, except that none may fall before now. An installment that
// would land earlier today is dated now instead.
//
// When the due date is not after now the interval degenerates; each date is
// then max(now, previous+1 day) capped at the due date, which pins every
// installment to the due date while keeping the order stable.
func respace(p Plan, dueDate, now time.Time) Plan {
	fixed := p
	fixed.Installments = make([]Installment, len(p.Installments))
	copy(fixed.Installments, p.Installments)

	count := len(fixed.Installments)
	span := dueDate.Sub(now)
	loc := dueDate.Location()

	if span > 0 {
		interval := span / time.Duration(count+1)
		for k := range fixed.Installments {
			at := startOfDay(now.Add(interval * time.Duration(k+1)).In(loc))
			if at.Before(now) {
				at = now.In(loc)
			}
			fixed.Installments[k].Date = at
		}
		return fixed
	}

	var prev time.Time
	for k := range fixed.Installments {
		at := now.In(loc)
		if k > 0 && prev.AddDate(0, 0, 1).After(at) {
			at = prev.AddDate(0, 0, 1)
		}
		if at.After(dueDate) {
			at = dueDate
		}
		fixed.Installments[k].Date = at
		prev = at
	}
	return fixed
}
