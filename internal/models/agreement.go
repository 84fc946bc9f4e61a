package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status is the lifecycle state of an Agreement.
type Status string

const (
	StatusPendingWitness Status = "pending_witness"
	StatusActive         Status = "active"
	StatusReviewing      Status = "reviewing"
	StatusSettled        Status = "settled"

	// StatusOverdue is a display state only. It is never persisted.
	StatusOverdue Status = "overdue"
)

// rank orders the stored states along the forward-only lifecycle.
func (s Status) rank() int {
	switch s {
	case StatusPendingWitness:
		return 0
	case StatusActive:
		return 1
	case StatusReviewing:
		return 2
	case StatusSettled:
		return 3
	default:
		return -1
	}
}

// CanAdvanceTo reports whether moving from s to next keeps the lifecycle
// monotonic. Staying in the same state is allowed; settled is terminal.
func (s Status) CanAdvanceTo(next Status) bool {
	if s == StatusSettled {
		return next == StatusSettled
	}
	return next.rank() >= s.rank() && next.rank() >= 0
}

// AgreementTypeLent is the only agreement type the ledger creates.
const AgreementTypeLent = "lent"

// Timeline event labels.
const (
	EventCreated              = "Agreement Created"
	EventWitnessApproved      = "Witness Approved"
	EventMoneySent            = "Money Sent"
	EventPaymentReceived      = "Payment Received"
	EventPaymentProofUploaded = "Payment Proof Uploaded"
)

// Party identifies a participant of an agreement. Parties are owned by the
// identity directory; agreements keep a denormalized copy.
type Party struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone,omitempty"`
}

// Witness is the optional third party whose approval activates an agreement.
type Witness struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone,omitempty"`
}

// Proof is a reference to a stored proof file.
type Proof struct {
	FileName   string    `json:"fileName"`
	URL        string    `json:"url"`
	UploadedAt time.Time `json:"uploadedAt"`
}

// TimelineEntry is one row of an agreement's audit log.
// Date is nil while the event is still pending.
type TimelineEntry struct {
	Event     string     `json:"event"`
	Date      *time.Time `json:"date"`
	Completed bool       `json:"completed"`
}

// Agreement is a single lender-borrower obligation.
type Agreement struct {
	// ID is the unique identifier (UUID format), assigned by the store.
	ID string `json:"id"`

	Lender Party `json:"lender"`

	// Borrower.ID is resolved through the identity directory at creation.
	Borrower Party `json:"borrower"`

	// Amount is immutable after creation.
	Amount decimal.Decimal `json:"amount"`

	Purpose string `json:"purpose,omitempty"`

	// Type is always "lent" for agreements created by the ledger.
	Type string `json:"type"`

	// DueDate only moves through the buffer manager.
	DueDate time.Time `json:"dueDate"`

	// BufferDaysGranted is the allowance set at creation and never changes.
	// BufferDaysRemaining starts equal to it and only decreases.
	BufferDaysGranted   int `json:"bufferDaysGranted"`
	BufferDaysRemaining int `json:"bufferDaysRemaining"`

	// StrictMode makes lateness affect the trust score immediately.
	// Only the lender may change it.
	StrictMode bool `json:"strictMode"`

	Witness         *Witness `json:"witness,omitempty"`
	WitnessApproved bool     `json:"witnessApproved"`

	Status Status `json:"status"`

	LenderProof   *Proof `json:"lenderProof,omitempty"`
	BorrowerProof *Proof `json:"borrowerProof,omitempty"`

	// Timeline is append-only. Entries may be completed in place.
	Timeline []TimelineEntry `json:"timeline"`

	Plan *InstallmentPlan `json:"plan,omitempty"`

	// GroupContribution and MoneyRequestID are set only at creation, for
	// agreements created by a money request contribution.
	GroupContribution bool   `json:"groupContribution"`
	MoneyRequestID    string `json:"moneyRequestId,omitempty"`

	// BaseTrustScore is the score the agreement started with. TrustScore is
	// the current value after the trust policy is applied; always in [0,100].
	BaseTrustScore int `json:"baseTrustScore"`
	TrustScore     int `json:"trustScore"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	// Version is the optimistic concurrency token maintained by the store.
	Version int64 `json:"version"`
}

// HasWitness reports whether a witness is attached.
func (a *Agreement) HasWitness() bool {
	return a.Witness != nil && a.Witness.Email != ""
}

// IsSettled reports whether the agreement reached its terminal state.
func (a *Agreement) IsSettled() bool {
	return a.Status == StatusSettled
}

// IsOverdue reports whether the due date has passed on an unsettled agreement.
func (a *Agreement) IsOverdue(now time.Time) bool {
	return !a.IsSettled() && a.DueDate.Before(now)
}

// DisplayStatus returns the status shown to users: the stored status, or
// overdue when the due date has passed and the agreement is not settled.
func (a *Agreement) DisplayStatus(now time.Time) Status {
	if a.IsOverdue(now) {
		return StatusOverdue
	}
	return a.Status
}

// DaysPastDue returns the number of started days since the due date, or 0
// when the agreement is not yet due.
func (a *Agreement) DaysPastDue(now time.Time) int {
	if !now.After(a.DueDate) {
		return 0
	}
	late := now.Sub(a.DueDate)
	days := int(late / (24 * time.Hour))
	if late%(24*time.Hour) != 0 {
		days++
	}
	return days
}

// BufferDaysUsed returns how many buffer days have been spent.
func (a *Agreement) BufferDaysUsed() int {
	return a.BufferDaysGranted - a.BufferDaysRemaining
}

// AppendEvent adds a completed entry at the end of the timeline.
func (a *Agreement) AppendEvent(event string, at time.Time) {
	t := at
	a.Timeline = append(a.Timeline, TimelineEntry{Event: event, Date: &t, Completed: true})
}

// CompleteEvent marks the first pending entry with the given label as
// completed. It returns false when no such pending entry exists.
func (a *Agreement) CompleteEvent(event string, at time.Time) bool {
	for i := range a.Timeline {
		if a.Timeline[i].Event == event && !a.Timeline[i].Completed {
			t := at
			a.Timeline[i].Date = &t
			a.Timeline[i].Completed = true
			return true
		}
	}
	return false
}

// InitialTimeline builds the fixed set of entries every agreement starts with.
func InitialTimeline(now time.Time, hasWitness, moneySent bool) []TimelineEntry {
	completedAt := func(done bool) *time.Time {
		if !done {
			return nil
		}
		t := now
		return &t
	}
	return []TimelineEntry{
		{Event: EventCreated, Date: completedAt(true), Completed: true},
		{Event: EventWitnessApproved, Date: completedAt(!hasWitness), Completed: !hasWitness},
		{Event: EventMoneySent, Date: completedAt(moneySent), Completed: moneySent},
		{Event: EventPaymentReceived, Date: nil, Completed: false},
	}
}

// Clone returns a deep copy so that callers can mutate without aliasing the
// original's slices and pointers.
func (a *Agreement) Clone() *Agreement {
	c := *a
	if a.Witness != nil {
		w := *a.Witness
		c.Witness = &w
	}
	if a.LenderProof != nil {
		p := *a.LenderProof
		c.LenderProof = &p
	}
	if a.BorrowerProof != nil {
		p := *a.BorrowerProof
		c.BorrowerProof = &p
	}
	c.Timeline = make([]TimelineEntry, len(a.Timeline))
	for i, e := range a.Timeline {
		c.Timeline[i] = e
		if e.Date != nil {
			d := *e.Date
			c.Timeline[i].Date = &d
		}
	}
	if a.Plan != nil {
		c.Plan = a.Plan.Clone()
	}
	return &c
}
