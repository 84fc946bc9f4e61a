package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"connectrpc.com/connect"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/mmynk/trustfirst/internal/auth"
	"github.com/mmynk/trustfirst/internal/config"
	"github.com/mmynk/trustfirst/internal/ledger"
	"github.com/mmynk/trustfirst/internal/lock"
	"github.com/mmynk/trustfirst/internal/middleware"
	"github.com/mmynk/trustfirst/internal/notify"
	"github.com/mmynk/trustfirst/internal/proofstore"
	"github.com/mmynk/trustfirst/internal/schedule"
	"github.com/mmynk/trustfirst/internal/service"
	"github.com/mmynk/trustfirst/internal/storage/sqlite"
	"github.com/mmynk/trustfirst/pkg/logging"
)

const (
	uploadsPath       = "/uploads/"
	notificationQueue = "trustfirst:notifications"
)

func main() {
	configPath := flag.String("config", "", "optional YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	logging.SetupWith(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0755); err != nil {
		slog.Error("Failed to create data directory", "error", err)
		os.Exit(1)
	}
	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize storage", "error", err)
		os.Exit(1)
	}
	defer store.Close()
	slog.Info("Storage initialized", "database", cfg.DBPath)

	mux := http.NewServeMux()
	opts := []ledger.Option{
		ledger.WithPhoneRegion(cfg.PhoneRegion),
		ledger.WithDefaultBufferDays(cfg.DefaultBufferDays),
		ledger.WithDefaultTrustScore(cfg.DefaultTrustScore),
	}

	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			slog.Error("Failed to connect to redis", "addr", cfg.RedisAddr, "error", err)
			os.Exit(1)
		}
		opts = append(opts,
			ledger.WithNotifier(notify.Multi{notify.Log{}, notify.NewRedisQueue(rdb, notificationQueue)}),
			ledger.WithLocker(lock.NewRedis(rdb)),
		)
		slog.Info("Redis enabled", "addr", cfg.RedisAddr, "queue", notificationQueue)
	}

	proofs, err := newProofStore(ctx, cfg, mux)
	if err != nil {
		slog.Error("Failed to initialize proof storage", "error", err)
		os.Exit(1)
	}
	opts = append(opts, ledger.WithProofStore(proofs))

	if cfg.OracleURL != "" {
		oracle := schedule.NewHTTPOracle(cfg.OracleURL, cfg.OracleTimeout)
		opts = append(opts, ledger.WithGenerator(schedule.NewGenerator(oracle)))
		slog.Info("Schedule oracle enabled", "url", cfg.OracleURL)
	} else {
		slog.Warn("ORACLE_URL not set; plan generation is disabled")
	}

	agreements := ledger.NewAgreements(store, opts...)
	funding := ledger.NewFunding(agreements)

	jwtManager := auth.NewJWTManager(cfg.JWTSecret, cfg.TokenTTL)
	authenticator := auth.NewPasswordAuthenticator(store, auth.WithPhoneRegion(cfg.PhoneRegion))

	// Register Connect services
	interceptors := connect.WithInterceptors(
		middleware.RequireAuth(jwtManager, service.PublicProcedures...),
		middleware.LoggingInterceptor(),
	)
	mux.Handle(service.NewAccountServiceHandler(service.NewAccountService(authenticator, jwtManager, store, agreements), interceptors))
	mux.Handle(service.NewAgreementServiceHandler(service.NewAgreementService(agreements), interceptors))
	mux.Handle(service.NewFundingServiceHandler(service.NewFundingService(funding), interceptors))

	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	// Wrap with h2c for HTTP/2 without TLS (required for Connect)
	handler := h2c.NewHandler(loggingMiddleware(corsMiddleware(mux)), &http2.Server{})

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("Connect server starting", "address", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("Shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}
}

// newProofStore returns MinIO when configured and a local directory served
// under /uploads/ otherwise.
func newProofStore(ctx context.Context, cfg config.Config, mux *http.ServeMux) (proofstore.Store, error) {
	if cfg.MinioEndpoint != "" {
		store, err := proofstore.NewMinio(proofstore.MinioConfig{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		})
		if err != nil {
			return nil, err
		}
		if err := store.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		slog.Info("Proof storage: minio", "endpoint", cfg.MinioEndpoint, "bucket", cfg.MinioBucket)
		return store, nil
	}

	store, err := proofstore.NewLocal(cfg.UploadDir, uploadsPath)
	if err != nil {
		return nil, err
	}
	mux.Handle(uploadsPath, http.StripPrefix(uploadsPath, http.FileServer(http.Dir(store.Dir()))))
	slog.Info("Proof storage: local", "path", cfg.UploadDir)
	return store, nil
}

// loggingMiddleware logs all incoming requests
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		slog.Debug("Request completed",
			"method", r.Method,
			"path", r.URL.Path,
			"remote_addr", r.RemoteAddr,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

// corsMiddleware adds CORS headers for browser access
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type, Connect-Protocol-Version, Connect-Timeout-Ms")
		w.Header().Set("Access-Control-Expose-Headers", "Connect-Protocol-Version, Connect-Timeout-Ms")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
