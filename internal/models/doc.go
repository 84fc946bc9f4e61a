// Package models defines the core domain models for TrustFirst.
//
// # Agreements
//
// An Agreement is a single lender-borrower obligation (an IOU). It carries its
// terms, an optional witness, proof attachments, an append-only timeline and an
// optional installment plan. Status moves forward only:
//
//	pending_witness -> active -> reviewing -> settled
//
// Overdue is never stored. It is derived from the due date at read time, see
// Agreement.DisplayStatus.
//
// # Group funding
//
// A MoneyRequest is a group funding ask. Every Contribution to it is bound 1:1
// to its own Agreement, and the request keeps the conservation invariant
// AmountReceived + AmountRemaining == Amount.
//
// # Money
//
// Amounts are shopspring decimals limited to two fractional digits. Storage
// persists them as integer minor units (see ToMinor/FromMinor) so that
// conditional arithmetic in SQL stays exact.
//
// # Relationships
//
// Models reference each other by ID string, never by pointer.
package models
