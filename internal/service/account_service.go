package service

import (
	"context"
	"log/slog"
	"net/http"

	"connectrpc.com/connect"

	"github.com/mmynk/trustfirst/internal/auth"
	"github.com/mmynk/trustfirst/internal/ledger"
	"github.com/mmynk/trustfirst/internal/middleware"
	"github.com/mmynk/trustfirst/internal/storage"
)

// AccountService handles sign-up, sessions, identity verification and the
// dashboard summary.
type AccountService struct {
	authenticator auth.Authenticator
	jwtManager    *auth.JWTManager
	users         storage.UserStore
	agreements    *ledger.Agreements
}

// NewAccountService creates a new account service.
func NewAccountService(authenticator auth.Authenticator, jwtManager *auth.JWTManager, users storage.UserStore, agreements *ledger.Agreements) *AccountService {
	return &AccountService{
		authenticator: authenticator,
		jwtManager:    jwtManager,
		users:         users,
		agreements:    agreements,
	}
}

// NewAccountServiceHandler builds the HTTP handler for the service.
func NewAccountServiceHandler(s *AccountService, opts ...connect.HandlerOption) (string, http.Handler) {
	r := newRoutes(AccountServiceName, opts)
	handle(r, "Register", s.Register)
	handle(r, "Login", s.Login)
	handle(r, "Logout", s.Logout)
	handle(r, "GetCurrentUser", s.GetCurrentUser)
	handle(r, "VerifyIdentity", s.VerifyIdentity)
	handle(r, "GetSummary", s.GetSummary)
	return r.handler()
}

// Register creates a new user account and opens a session.
func (s *AccountService) Register(ctx context.Context, req *connect.Request[RegisterRequest]) (*connect.Response[SessionResponse], error) {
	slog.Info("Register request received", "email", req.Msg.Email)

	user, err := s.authenticator.Register(ctx, auth.Registration{
		Email:       req.Msg.Email,
		DisplayName: req.Msg.DisplayName,
		Phone:       req.Msg.Phone,
		Credential:  req.Msg.Password,
	})
	if err != nil {
		return nil, failed("Register", err, "email", req.Msg.Email)
	}

	session, err := s.jwtManager.Issue(user)
	if err != nil {
		return nil, failed("Register", err, "user_id", user.ID)
	}

	slog.Info("User registered", "user_id", user.ID, "email", user.Email)
	return connect.NewResponse(&SessionResponse{User: user, Token: session.Token, ExpiresAt: session.ExpiresAt}), nil
}

// Login authenticates a user and returns a JWT token.
func (s *AccountService) Login(ctx context.Context, req *connect.Request[LoginRequest]) (*connect.Response[SessionResponse], error) {
	slog.Info("Login request received", "email", req.Msg.Email)

	if req.Msg.Email == "" || req.Msg.Password == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, auth.ErrInvalidCredentials)
	}

	user, err := s.authenticator.Authenticate(ctx, req.Msg.Email, req.Msg.Password)
	if err != nil {
		return nil, failed("Login", err, "email", req.Msg.Email)
	}

	session, err := s.jwtManager.Issue(user)
	if err != nil {
		return nil, failed("Login", err, "user_id", user.ID)
	}

	slog.Info("User logged in", "user_id", user.ID)
	return connect.NewResponse(&SessionResponse{User: user, Token: session.Token, ExpiresAt: session.ExpiresAt}), nil
}

// Logout is a no-op: JWTs are stateless and discarded client-side.
func (s *AccountService) Logout(ctx context.Context, req *connect.Request[Empty]) (*connect.Response[Empty], error) {
	slog.Info("Logout request received", "user_id", middleware.GetUserID(ctx))
	return connect.NewResponse(&Empty{}), nil
}

// GetCurrentUser returns the authenticated user's directory entry.
func (s *AccountService) GetCurrentUser(ctx context.Context, req *connect.Request[Empty]) (*connect.Response[UserResponse], error) {
	userID, _, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	slog.Info("GetCurrentUser request received", "user_id", userID)

	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return nil, failed("GetCurrentUser", err, "user_id", userID)
	}
	return connect.NewResponse(&UserResponse{User: user}), nil
}

// VerifyIdentity marks the caller verified, granting the one-time bonus.
func (s *AccountService) VerifyIdentity(ctx context.Context, req *connect.Request[Empty]) (*connect.Response[VerifyIdentityResponse], error) {
	userID, _, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	slog.Info("VerifyIdentity request received", "user_id", userID)

	user, granted, err := s.agreements.VerifyParty(ctx, userID)
	if err != nil {
		return nil, failed("VerifyIdentity", err, "user_id", userID)
	}
	return connect.NewResponse(&VerifyIdentityResponse{User: user, BonusGranted: granted}), nil
}

// GetSummary returns the caller's dashboard totals.
func (s *AccountService) GetSummary(ctx context.Context, req *connect.Request[Empty]) (*connect.Response[SummaryResponse], error) {
	userID, _, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	slog.Info("GetSummary request received", "user_id", userID)

	summary, err := s.agreements.Summary(ctx, userID)
	if err != nil {
		return nil, failed("GetSummary", err, "user_id", userID)
	}
	return connect.NewResponse(&SummaryResponse{Summary: summary}), nil
}
