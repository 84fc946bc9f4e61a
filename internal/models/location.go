package models

import "time"

// LiveLocation is a location sample reported for a party of an agreement.
// The ledger stores whatever the geolocation collaborator classified and does
// not interpret Context.
type LiveLocation struct {
	ID          string    `json:"id"`
	AgreementID string    `json:"agreementId"`
	UserID      string    `json:"userId,omitempty"`
	Role        string    `json:"role"` // borrower, lender, witness or unknown
	Latitude    float64   `json:"latitude"`
	Longitude   float64   `json:"longitude"`
	Context     string    `json:"context,omitempty"` // raw JSON from the geolocation oracle
	IsEmergency bool      `json:"isEmergency"`
	RecordedAt  time.Time `json:"recordedAt"`
}
