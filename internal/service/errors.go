package service

import (
	"context"
	"errors"
	"log/slog"

	"connectrpc.com/connect"

	"github.com/mmynk/trustfirst/internal/auth"
	"github.com/mmynk/trustfirst/internal/middleware"
	"github.com/mmynk/trustfirst/internal/models"
	"github.com/mmynk/trustfirst/internal/schedule"
	"github.com/mmynk/trustfirst/internal/storage"
)

// connectCode maps ledger errors to RPC status codes.
func connectCode(err error) connect.Code {
	switch {
	case errors.Is(err, context.Canceled):
		return connect.CodeCanceled
	case errors.Is(err, context.DeadlineExceeded):
		return connect.CodeDeadlineExceeded
	case errors.Is(err, schedule.ErrGenerationFailed):
		return connect.CodeUnavailable
	case errors.Is(err, models.ErrNotFound):
		return connect.CodeNotFound
	case errors.Is(err, models.ErrForbidden):
		return connect.CodePermissionDenied
	case errors.Is(err, models.ErrInvalidArgument), errors.Is(err, models.ErrInvalidPlan):
		return connect.CodeInvalidArgument
	case errors.Is(err, models.ErrIndexOutOfRange):
		return connect.CodeOutOfRange
	case errors.Is(err, models.ErrInvalidState), errors.Is(err, models.ErrPlanLocked):
		return connect.CodeFailedPrecondition
	case errors.Is(err, storage.ErrConflict):
		return connect.CodeAborted
	case errors.Is(err, auth.ErrMissingToken), errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, auth.ErrInvalidCredentials):
		return connect.CodeUnauthenticated
	case errors.Is(err, auth.ErrEmailExists):
		return connect.CodeAlreadyExists
	case errors.Is(err, auth.ErrWeakPassword), errors.Is(err, auth.ErrInvalidEmail),
		errors.Is(err, auth.ErrInvalidPhone), errors.Is(err, auth.ErrMissingName):
		return connect.CodeInvalidArgument
	default:
		return connect.CodeInternal
	}
}

// failed logs a failed call and converts err to a Connect error.
func failed(op string, err error, args ...any) error {
	var connectErr *connect.Error
	if errors.As(err, &connectErr) {
		return connectErr
	}
	code := connectCode(err)
	args = append(args, "code", code, "error", err)
	switch code {
	case connect.CodeInternal, connect.CodeUnavailable:
		slog.Error(op+" failed", args...)
	default:
		slog.Warn(op+" failed", args...)
	}
	return connect.NewError(code, err)
}

// caller returns the authenticated user's ID and email.
func caller(ctx context.Context) (string, string, error) {
	userID := middleware.GetUserID(ctx)
	if userID == "" {
		return "", "", connect.NewError(connect.CodeUnauthenticated, auth.ErrMissingToken)
	}
	return userID, middleware.GetEmail(ctx), nil
}
