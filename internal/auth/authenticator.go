package auth

import (
	"context"

	"github.com/mmynk/trustfirst/internal/models"
)

// Registration carries the fields a new party signs up with.
type Registration struct {
	Email       string
	DisplayName string
	// Phone is optional and stored in E.164 form.
	Phone string
	// Credential format depends on the implementation (password, OAuth token, etc.).
	Credential string
}

// Authenticator defines the interface for authentication implementations.
// This abstraction allows swapping between different auth methods (password, passkeys, OAuth, etc.)
// without changing the service layer code.
type Authenticator interface {
	// Register creates a new party in the identity directory.
	Register(ctx context.Context, reg Registration) (*models.User, error)

	// Authenticate verifies the user's credentials and returns the user if successful.
	Authenticate(ctx context.Context, email, credential string) (*models.User, error)

	// ValidateCredential checks if the credential meets the implementation's requirements.
	ValidateCredential(credential string) error
}
