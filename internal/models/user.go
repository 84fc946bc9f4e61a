package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DefaultUserTrustScore is the reputation every new account starts with.
const DefaultUserTrustScore = 70

// User represents a registered account in the identity directory.
type User struct {
	// ID is the unique identifier for the user (UUID format).
	ID string `json:"id"`

	// Email is the user's email address (unique, lowercase).
	// Agreements resolve borrowers and witnesses by email.
	Email string `json:"email"`

	DisplayName string `json:"displayName"`

	// Phone is stored in E.164 format when present.
	Phone string `json:"phone,omitempty"`

	PasswordHash string `json:"-"`

	// TrustScore is the party-level reputation, always in [0,100].
	TrustScore int `json:"trustScore"`

	// IsVerified flips once, granting the one-time verification bonus.
	IsVerified bool `json:"isVerified"`

	TotalLent      decimal.Decimal `json:"totalLent"`
	TotalBorrowed  decimal.Decimal `json:"totalBorrowed"`
	AgreementCount int             `json:"agreementCount"`

	// CreatedAt and UpdatedAt are Unix timestamps.
	CreatedAt int64 `json:"createdAt"`
	UpdatedAt int64 `json:"updatedAt"`
}

// NewUser builds a user with a fresh ID and default reputation.
func NewUser(email, displayName, passwordHash string) *User {
	now := time.Now().Unix()
	return &User{
		ID:            uuid.New().String(),
		Email:         email,
		DisplayName:   displayName,
		PasswordHash:  passwordHash,
		TrustScore:    DefaultUserTrustScore,
		TotalLent:     decimal.Zero,
		TotalBorrowed: decimal.Zero,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// Party returns the denormalized party reference used on agreements.
func (u *User) Party() Party {
	return Party{ID: u.ID, Name: u.DisplayName, Email: u.Email, Phone: u.Phone}
}
