package service

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"connectrpc.com/connect"
	"golang.org/x/crypto/bcrypt"

	"github.com/mmynk/trustfirst/internal/auth"
	"github.com/mmynk/trustfirst/internal/ledger"
	"github.com/mmynk/trustfirst/internal/middleware"
	"github.com/mmynk/trustfirst/internal/proofstore"
	"github.com/mmynk/trustfirst/internal/schedule"
	"github.com/mmynk/trustfirst/internal/storage/sqlite"
)

type stubGenerator struct {
	mu    sync.Mutex
	plans []schedule.Plan
	err   error
}

func (g *stubGenerator) set(plans []schedule.Plan, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.plans, g.err = plans, err
}

func (g *stubGenerator) Generate(ctx context.Context, req schedule.Request) ([]schedule.Plan, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.plans, g.err
}

type testServer struct {
	server    *httptest.Server
	generator *stubGenerator
}

// setupTestServer creates a test server with a temporary database and every
// service mounted behind the auth interceptor.
func setupTestServer(t *testing.T) *testServer {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "trustfirst-service-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpFile.Close()

	store, err := sqlite.New(tmpFile.Name())
	if err != nil {
		os.Remove(tmpFile.Name())
		t.Fatalf("failed to create store: %v", err)
	}

	proofs, err := proofstore.NewLocal(t.TempDir(), "/uploads")
	if err != nil {
		t.Fatalf("failed to create proof store: %v", err)
	}

	generator := &stubGenerator{}
	agreements := ledger.NewAgreements(store,
		ledger.WithProofStore(proofs),
		ledger.WithGenerator(generator),
		ledger.WithPhoneRegion("US"),
	)
	jwtManager := auth.NewJWTManager("test-secret", time.Hour)
	authenticator := auth.NewPasswordAuthenticator(store, auth.WithCost(bcrypt.MinCost), auth.WithPhoneRegion("US"))

	interceptors := connect.WithInterceptors(
		middleware.RequireAuth(jwtManager, PublicProcedures...),
		middleware.LoggingInterceptor(),
	)

	mux := http.NewServeMux()
	mux.Handle(NewAccountServiceHandler(NewAccountService(authenticator, jwtManager, store, agreements), interceptors))
	mux.Handle(NewAgreementServiceHandler(NewAgreementService(agreements), interceptors))
	mux.Handle(NewFundingServiceHandler(NewFundingService(ledger.NewFunding(agreements)), interceptors))

	server := httptest.NewServer(mux)
	t.Cleanup(func() {
		server.Close()
		store.Close()
		os.Remove(tmpFile.Name())
		os.Remove(tmpFile.Name() + "-wal")
		os.Remove(tmpFile.Name() + "-shm")
	})
	return &testServer{server: server, generator: generator}
}

// call invokes one procedure as the holder of token. An empty token sends
// no Authorization header.
func call[Req, Res any](ts *testServer, token, service, method string, msg *Req) (*Res, error) {
	client := connect.NewClient[Req, Res](
		ts.server.Client(),
		ts.server.URL+Procedure(service, method),
		connect.WithCodec(Codec()),
	)
	req := connect.NewRequest(msg)
	if token != "" {
		req.Header().Set("Authorization", "Bearer "+token)
	}
	resp, err := client.CallUnary(context.Background(), req)
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}

func (ts *testServer) register(t *testing.T, email, name string) *SessionResponse {
	t.Helper()
	resp, err := call[RegisterRequest, SessionResponse](ts, "", AccountServiceName, "Register", &RegisterRequest{
		Email:       email,
		DisplayName: name,
		Password:    "password123",
	})
	if err != nil {
		t.Fatalf("Register %s failed: %v", email, err)
	}
	return resp
}

func expectCode(t *testing.T, err error, want connect.Code) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %v, got nil error", want)
	}
	var connectErr *connect.Error
	if !errors.As(err, &connectErr) {
		t.Fatalf("expected connect.Error, got %T: %v", err, err)
	}
	if connectErr.Code() != want {
		t.Errorf("expected %v, got %v: %v", want, connectErr.Code(), connectErr.Message())
	}
}
