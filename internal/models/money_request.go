package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// MoneyRequestStatus is the lifecycle state of a MoneyRequest.
type MoneyRequestStatus string

const (
	MoneyRequestActive    MoneyRequestStatus = "active"
	MoneyRequestFulfilled MoneyRequestStatus = "fulfilled"
	MoneyRequestCancelled MoneyRequestStatus = "cancelled"
)

// MoneyRequest is a group funding ask that many contributors can fund in part.
//
// Invariants (checked by CheckInvariant):
//   - AmountReceived + AmountRemaining == Amount
//   - AmountReceived == sum of Contributions[].Amount
//   - AmountRemaining >= 0
//   - Status is fulfilled exactly when AmountRemaining is 0 (unless cancelled)
type MoneyRequest struct {
	// ID is the unique identifier (UUID format).
	ID string `json:"id"`

	// GroupID is the group the request was raised in.
	GroupID string `json:"groupId"`

	// Requester is the member who needs the money; they become the borrower
	// of every contribution agreement.
	Requester Party `json:"requester"`

	Amount          decimal.Decimal `json:"amount"`
	AmountReceived  decimal.Decimal `json:"amountReceived"`
	AmountRemaining decimal.Decimal `json:"amountRemaining"`

	Purpose string    `json:"purpose,omitempty"`
	DueDate time.Time `json:"dueDate"`

	Status MoneyRequestStatus `json:"status"`

	// Contributions are immutable once recorded, oldest first.
	Contributions []Contribution `json:"contributions"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Contribution is one lender's partial funding of a MoneyRequest.
type Contribution struct {
	Lender        Party           `json:"lender"`
	Amount        decimal.Decimal `json:"amount"`
	AgreementID   string          `json:"agreementId"`
	ContributedAt time.Time       `json:"contributedAt"`
}

// CheckInvariant verifies the funding conservation invariant.
func (m *MoneyRequest) CheckInvariant() error {
	if !m.AmountReceived.Add(m.AmountRemaining).Equal(m.Amount) {
		return fmt.Errorf("money request %s: received %s + remaining %s != amount %s",
			m.ID, m.AmountReceived, m.AmountRemaining, m.Amount)
	}
	sum := decimal.Zero
	for _, c := range m.Contributions {
		sum = sum.Add(c.Amount)
	}
	if !sum.Equal(m.AmountReceived) {
		return fmt.Errorf("money request %s: contributions sum %s != received %s", m.ID, sum, m.AmountReceived)
	}
	if m.AmountRemaining.IsNegative() {
		return fmt.Errorf("money request %s: remaining %s is negative", m.ID, m.AmountRemaining)
	}
	if m.Status != MoneyRequestCancelled && (m.Status == MoneyRequestFulfilled) != m.AmountRemaining.IsZero() {
		return fmt.Errorf("money request %s: status %s with remaining %s", m.ID, m.Status, m.AmountRemaining)
	}
	return nil
}
