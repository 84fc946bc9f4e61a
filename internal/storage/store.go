// Package storage provides abstractions for persistent data storage.
package storage

import (
	"context"
	"errors"

	"github.com/mmynk/trustfirst/internal/models"
)

// ErrConflict is returned by UpdateAgreement when the stored version no
// longer matches the one the caller read.
var ErrConflict = errors.New("version conflict")

// UserStore is the identity directory's persistence.
type UserStore interface {
	// CreateUser persists a new user. Email must be unique.
	CreateUser(ctx context.Context, user *models.User) error

	// GetUserByEmail returns models.ErrNotFound when no user has the email.
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)

	// GetUserByID returns models.ErrNotFound when the user does not exist.
	GetUserByID(ctx context.Context, id string) (*models.User, error)

	// GetUsersByIDs returns the users that exist, keyed by ID.
	GetUsersByIDs(ctx context.Context, ids []string) (map[string]*models.User, error)

	// MarkVerified flips the verified flag and adds bonus to the trust score,
	// capped at 100. It reports false when the user was already verified.
	MarkVerified(ctx context.Context, userID string, bonus int) (bool, error)
}

// AgreementStore persists agreements with optimistic versioning.
type AgreementStore interface {
	// CreateAgreement inserts the agreement with its timeline and plan, and
	// updates both parties' lending statistics in the same transaction.
	// ID, Version and timestamps are assigned by the store.
	CreateAgreement(ctx context.Context, a *models.Agreement) error

	// GetAgreement returns models.ErrNotFound when the agreement does not exist.
	GetAgreement(ctx context.Context, id string) (*models.Agreement, error)

	// ListAgreementsForParty returns agreements where the user is lender or
	// borrower, newest first.
	ListAgreementsForParty(ctx context.Context, userID string) ([]*models.Agreement, error)

	// UpdateAgreement writes a and increments its Version. It fails with
	// ErrConflict when the stored version differs from a.Version.
	UpdateAgreement(ctx context.Context, a *models.Agreement) error

	// DeleteAgreement removes the agreement. No other records are touched.
	DeleteAgreement(ctx context.Context, id string) error
}

// MoneyRequestStore persists group money requests and their contributions.
type MoneyRequestStore interface {
	CreateMoneyRequest(ctx context.Context, m *models.MoneyRequest) error

	// GetMoneyRequest returns the request with its contributions, oldest first.
	GetMoneyRequest(ctx context.Context, id string) (*models.MoneyRequest, error)

	// ListMoneyRequests returns the active and fulfilled requests of a group.
	ListMoneyRequests(ctx context.Context, groupID string) ([]*models.MoneyRequest, error)

	// CancelMoneyRequest moves an active request to cancelled. It fails with
	// models.ErrInvalidState when the request is no longer active.
	CancelMoneyRequest(ctx context.Context, id string) error

	// Contribute atomically creates the agreement, records the contribution
	// and decrements the remaining amount, guarded by
	// amount_remaining >= amount on an active request. When the guard fails
	// nothing is written and the error wraps models.ErrInvalidState (request
	// no longer active) or models.ErrInvalidArgument (remaining changed).
	Contribute(ctx context.Context, requestID string, a *models.Agreement, c *models.Contribution) (*models.MoneyRequest, error)
}

// GroupStore persists groups and memberships.
type GroupStore interface {
	CreateGroup(ctx context.Context, group *models.Group) error
	GetGroup(ctx context.Context, id string) (*models.Group, error)
	ListGroupsForUser(ctx context.Context, userID string) ([]*models.Group, error)
	AddGroupMember(ctx context.Context, groupID string, member models.GroupMember) error
}

// LocationStore persists live location samples.
type LocationStore interface {
	RecordLocation(ctx context.Context, loc *models.LiveLocation) error

	// LatestLocation returns models.ErrNotFound when nothing was recorded.
	LatestLocation(ctx context.Context, agreementID string) (*models.LiveLocation, error)
}

// Store defines every storage operation of the ledger.
// This abstraction allows swapping storage backends (SQLite, PostgreSQL, etc.)
// without changing the ledger or service layers.
type Store interface {
	UserStore
	AgreementStore
	MoneyRequestStore
	GroupStore
	LocationStore

	// Close releases any resources held by the store.
	Close() error
}
