package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cortexa-labs/cortexa-go/internal/constraints"
	"github.com/cortexa-labs/cortexa-go/internal/datasets"
	"github.com/cortexa-labs/cortexa-go/internal/platform/auditlog"
	"github.com/cortexa-labs/cortexa-go/internal/platform/auth"
	"github.com/cortexa-labs/cortexa-go/internal/platform/env"
	"github.com/cortexa-labs/cortexa-go/internal/platform/httpserver"
	"github.com/cortexa-labs/cortexa-go/internal/platform/objectstore"
	"github.com/cortexa-labs/cortexa-go/internal/platform/postgres"
	repopg "github.com/cortexa-labs/cortexa-go/internal/repo/postgres"
	"github.com/cortexa-labs/cortexa-go/internal/service/pipelines"
	"github.com/cortexa-labs/cortexa-go/internal/trainer"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	ctx := context.Background()
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	addr := env.String("TRAINING_HTTP_ADDR", ":8082")
	shutdownTimeout, err := env.Duration("TRAINING_SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		logger.Error("invalid env", "error", err)
		os.Exit(2)
	}
	pollInterval, err := env.Duration("TRAINING_POLL_INTERVAL", 5*time.Second)
	if err != nil {
		logger.Error("invalid env", "error", err)
		os.Exit(2)
	}
	uploadMaxMiB, err := env.Int("TRAINING_UPLOAD_MAX_MIB", 100)
	if err != nil {
		logger.Error("invalid env", "error", err)
		os.Exit(2)
	}

	dbCfg, err := postgres.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid database config", "error", err)
		os.Exit(2)
	}
	db, err := postgres.Open(ctx, dbCfg)
	if err != nil {
		logger.Error("database unavailable", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	storeCfg, err := objectstore.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid object store config", "error", err)
		os.Exit(2)
	}
	storeClient, err := objectstore.NewMinIOClient(storeCfg)
	if err != nil {
		logger.Error("object store client init failed", "error", err)
		os.Exit(2)
	}
	startupCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	if err := objectstore.EnsureBuckets(startupCtx, storeClient, storeCfg); err != nil {
		cancel()
		logger.Error("object store unavailable", "error", err)
		os.Exit(1)
	}
	cancel()

	spec, err := constraints.LoadFromEnv()
	if err != nil {
		logger.Error("invalid constraints spec", "error", err)
		os.Exit(2)
	}

	trainerCfg, err := trainer.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid trainer config", "error", err)
		os.Exit(2)
	}
	backend, err := trainer.NewHTTPBackend(trainerCfg)
	if err != nil {
		logger.Error("trainer backend init failed", "error", err)
		os.Exit(2)
	}

	internalAuthSecret := env.String("CORTEXA_INTERNAL_AUTH_SECRET", "")
	headersAuth, err := auth.NewGatewayHeadersAuthenticator(internalAuthSecret)
	if err != nil {
		logger.Error("invalid internal auth config", "error", err)
		os.Exit(2)
	}

	pipelineStore := repopg.NewPipelineStore(db)
	projectStore := repopg.NewProjectStore(db)

	uploader, err := datasets.NewUploader(storeClient, storeCfg.BucketDatasets, int64(uploadMaxMiB)<<20)
	if err != nil {
		logger.Error("uploader init failed", "error", err)
		os.Exit(2)
	}

	service := pipelines.New(logger, pipelineStore, projectStore, uploader, backend, spec)
	if service == nil {
		logger.Error("service init failed")
		os.Exit(2)
	}

	pipelines.StartPoller(ctx, logger, service, pipelineStore, backend, db, pollInterval)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", httpserver.Healthz("training"))
	mux.HandleFunc(
		"/readyz",
		httpserver.ReadyzWithChecks(
			"training",
			httpserver.ReadinessCheck{
				Name: "postgres",
				Check: func(ctx context.Context) error {
					checkCtx, cancel := context.WithTimeout(ctx, 750*time.Millisecond)
					defer cancel()
					return db.PingContext(checkCtx)
				},
			},
			httpserver.ReadinessCheck{
				Name: "minio",
				Check: func(ctx context.Context) error {
					checkCtx, cancel := context.WithTimeout(ctx, 750*time.Millisecond)
					defer cancel()
					return objectstore.CheckBuckets(checkCtx, storeClient, storeCfg)
				},
			},
		),
	)

	api := newTrainingAPI(logger, db, service, projectStore, int64(uploadMaxMiB)<<20)
	api.register(mux)

	projectResolver := func(r *http.Request, identity auth.Identity) (string, error) {
		if r.URL.Path == "/projects" {
			return "", nil
		}
		return auth.RequireProjectIDResolver([]string{"/healthz", "/readyz"})(r, identity)
	}

	handler := auth.Middleware{
		Logger:         logger,
		Authenticator:  headersAuth,
		Authorize:      auth.MethodRoleAuthorizer(),
		ProjectResolve: projectResolver,
		Audit: func(ctx context.Context, event auth.DenyEvent) error {
			auditCtx, cancel := context.WithTimeout(ctx, 750*time.Millisecond)
			defer cancel()
			return auditlog.InsertAuthDeny(auditCtx, db, "training", event)
		},
		SkipPrefixes: []string{"/healthz", "/readyz"},
	}.Wrap(mux)

	cfg := httpserver.Config{
		Service:         "training",
		Addr:            addr,
		ShutdownTimeout: shutdownTimeout,
	}

	if err := httpserver.Run(ctx, logger, cfg, httpserver.Wrap(logger, "training", handler)); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}
