// Package calculator derives dashboard figures from a party's agreements.
package calculator

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mmynk/trustfirst/internal/models"
)

// Summary is one party's position across all of their agreements.
type Summary struct {
	UserID string `json:"userId"`

	TotalLent     decimal.Decimal `json:"totalLent"`
	TotalBorrowed decimal.Decimal `json:"totalBorrowed"`

	// Outstanding amounts exclude settled agreements and installments with
	// an uploaded proof.
	LentOutstanding     decimal.Decimal `json:"lentOutstanding"`
	BorrowedOutstanding decimal.Decimal `json:"borrowedOutstanding"`

	PendingWitness int `json:"pendingWitness"`
	Active         int `json:"active"`
	Reviewing      int `json:"reviewing"`
	Overdue        int `json:"overdue"`
	Settled        int `json:"settled"`

	InstallmentsPaid  int `json:"installmentsPaid"`
	InstallmentsTotal int `json:"installmentsTotal"`

	// NextDue is the earliest due date among unsettled agreements.
	NextDue *time.Time `json:"nextDue,omitempty"`

	Counterparties []CounterpartyBalance `json:"counterparties"`
}

// CounterpartyBalance is the net outstanding position with one other party.
// Positive Net means the counterparty owes the user.
type CounterpartyBalance struct {
	Party models.Party    `json:"party"`
	Net   decimal.Decimal `json:"net"`
}

// Outstanding returns what is still owed on an agreement.
func Outstanding(a *models.Agreement) decimal.Decimal {
	if a.IsSettled() {
		return decimal.Zero
	}
	if a.Plan == nil {
		return a.Amount
	}
	return a.Amount.Sub(a.Plan.PaidTotal())
}

// Summarize aggregates the agreements in which userID is lender or borrower.
// Agreements where the user is neither are ignored.
//
// Algorithm:
// - Each agreement counts once under its display status at now
// - Lender side adds to lent totals, borrower side to borrowed totals
// - Net per counterparty: +outstanding when lending, -outstanding when borrowing
func Summarize(userID string, agreements []*models.Agreement, now time.Time) Summary {
	s := Summary{
		UserID:              userID,
		TotalLent:           decimal.Zero,
		TotalBorrowed:       decimal.Zero,
		LentOutstanding:     decimal.Zero,
		BorrowedOutstanding: decimal.Zero,
		Counterparties:      []CounterpartyBalance{},
	}

	nets := make(map[string]*CounterpartyBalance)
	net := func(p models.Party) *CounterpartyBalance {
		if _, exists := nets[p.ID]; !exists {
			nets[p.ID] = &CounterpartyBalance{Party: p, Net: decimal.Zero}
		}
		return nets[p.ID]
	}

	for _, a := range agreements {
		var lending bool
		switch userID {
		case a.Lender.ID:
			lending = true
		case a.Borrower.ID:
			lending = false
		default:
			continue
		}

		switch a.DisplayStatus(now) {
		case models.StatusPendingWitness:
			s.PendingWitness++
		case models.StatusActive:
			s.Active++
		case models.StatusReviewing:
			s.Reviewing++
		case models.StatusOverdue:
			s.Overdue++
		case models.StatusSettled:
			s.Settled++
		}

		if a.Plan != nil {
			s.InstallmentsTotal += len(a.Plan.Installments)
			for _, inst := range a.Plan.Installments {
				if inst.ProofUploaded {
					s.InstallmentsPaid++
				}
			}
		}

		if !a.IsSettled() && (s.NextDue == nil || a.DueDate.Before(*s.NextDue)) {
			due := a.DueDate
			s.NextDue = &due
		}

		outstanding := Outstanding(a)
		if lending {
			s.TotalLent = s.TotalLent.Add(a.Amount)
			s.LentOutstanding = s.LentOutstanding.Add(outstanding)
			cb := net(a.Borrower)
			cb.Net = cb.Net.Add(outstanding)
		} else {
			s.TotalBorrowed = s.TotalBorrowed.Add(a.Amount)
			s.BorrowedOutstanding = s.BorrowedOutstanding.Add(outstanding)
			cb := net(a.Lender)
			cb.Net = cb.Net.Sub(outstanding)
		}
	}

	for _, cb := range nets {
		if cb.Net.IsZero() {
			continue
		}
		s.Counterparties = append(s.Counterparties, *cb)
	}
	// Largest absolute position first, then by name for stable output.
	sort.Slice(s.Counterparties, func(i, j int) bool {
		ai, aj := s.Counterparties[i].Net.Abs(), s.Counterparties[j].Net.Abs()
		if !ai.Equal(aj) {
			return ai.GreaterThan(aj)
		}
		return s.Counterparties[i].Party.Name < s.Counterparties[j].Party.Name
	})

	return s
}
