package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"vcbridge/internal/audit"
	"vcbridge/internal/did"
	"vcbridge/internal/events"
	"vcbridge/internal/issuance"
	"vcbridge/internal/platform/config"
	"vcbridge/internal/platform/database"
	"vcbridge/internal/platform/health"
	"vcbridge/internal/platform/httpserver"
	"vcbridge/internal/platform/logger"
	"vcbridge/internal/platform/metrics"
	"vcbridge/internal/platform/tracer"
	"vcbridge/internal/protocol"
	"vcbridge/internal/protocol/openid"
	"vcbridge/internal/protocol/peer"
	"vcbridge/internal/seeder"
	sessionstore "vcbridge/internal/session/store"
	"vcbridge/internal/session/sweeper"
	statusmetrics "vcbridge/internal/statuslist/metrics"
	statusservice "vcbridge/internal/statuslist/service"
	statusstore "vcbridge/internal/statuslist/store"
	httptransport "vcbridge/internal/transport/http"
	"vcbridge/internal/verification"
)

// main wires high-level dependencies, exposes the HTTP router, and keeps the
// server lifecycle small. Business logic lives in internal services packages.
func main() {
	cfg := config.FromEnv()
	log := logger.New()

	log.Info("initializing vcbridge",
		"addr", cfg.Addr,
		"issuer", cfg.Issuer,
		"session_timeout", cfg.SessionTimeout,
	)

	dbCfg := database.DefaultConfig()
	dbCfg.URL = cfg.DatabaseURL
	pool, err := database.New(dbCfg)
	if err != nil {
		log.Error("database connection failed", "error", err)
		os.Exit(1)
	}

	var (
		sessions sessionstore.Store
		lists    statusstore.Store
	)
	if pool != nil {
		sessions = sessionstore.NewPostgres(pool.DB())
		lists = statusstore.NewPostgres(pool.DB())
		defer pool.Close()
	} else {
		log.Warn("no database configured, using in-memory stores")
		sessions = sessionstore.New()
		lists = statusstore.New()
	}

	m := metrics.New()
	publisher := audit.NewPublisher(audit.NewInMemoryStore(),
		audit.WithAsyncBuffer(256),
		audit.WithPublisherLogger(log),
	)
	defer publisher.Close()

	statusSvc := statusservice.NewService(lists,
		statusservice.WithLogger(log),
		statusservice.WithMetrics(statusmetrics.New()),
		statusservice.WithListSize(cfg.StatusListSize),
		statusservice.WithPublishCacheTTL(cfg.PublishCacheTTL),
		statusservice.WithIntegritySigner([]byte(cfg.JWTSigningKey), cfg.Issuer),
	)

	resolver := did.NewStaticResolver(map[string]did.VerificationKey{
		cfg.Issuer: {
			ID:        cfg.Issuer + "#key-1",
			Type:      "Ed25519VerificationKey2020",
			PublicKey: "z6Mk" + cfg.Issuer,
		},
	})
	registry := protocol.NewRegistry(
		peer.New(resolver, cfg.ExternalBaseURL+"/events"),
		openid.New(openid.Config{
			SigningKey: []byte(cfg.JWTSigningKey),
			IssuerURL:  cfg.ExternalBaseURL,
		}),
	)

	templates := seeder.Templates(cfg.Issuer, log)
	trc := tracer.NewOTel()

	issuanceSvc := issuance.NewService(sessions, templates, registry, statusSvc,
		issuance.WithLogger(log),
		issuance.WithMetrics(m),
		issuance.WithTracer(trc),
		issuance.WithAudit(publisher),
	)
	verificationSvc := verification.NewService(sessions, templates, registry, statusSvc,
		verification.WithLogger(log),
		verification.WithMetrics(m),
		verification.WithTracer(trc),
		verification.WithAudit(publisher),
	)
	dispatcher := events.NewDispatcher(sessions, issuanceSvc, verificationSvc)

	checks := health.New()
	if pool != nil {
		checks.RegisterCheck("database", func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return pool.Health(ctx)
		})
	}

	router := httptransport.NewRouter(httptransport.Deps{
		Issuance:     issuanceSvc,
		Verification: verificationSvc,
		Dispatcher:   dispatcher,
		StatusLists:  statusSvc,
		Health:       checks,
		Logger:       log,
	})
	srv := httpserver.New(cfg.Addr, router)
	idleSweeper := sweeper.New(sessions, log, cfg.SweepInterval, cfg.SessionTimeout,
		sweeper.WithMetrics(m),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		log.Info("listening", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		return idleSweeper.Run(ctx)
	})
	group.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down")
		return httpserver.Shutdown(srv, 10*time.Second)
	})

	if err := group.Wait(); err != nil {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
}
