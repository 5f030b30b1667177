package main

import (
	"context"
	"database/sql"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"sitekeeper.io/internal/audit"
	"sitekeeper.io/internal/auth"
	"sitekeeper.io/internal/config"
	"sitekeeper.io/internal/content"
	"sitekeeper.io/internal/httpapi"
	"sitekeeper.io/internal/obs"
	"sitekeeper.io/internal/ratelimit"
	"sitekeeper.io/internal/store/pg"
)

var version = "0.1.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		_, _ = os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(1)
	}

	logger, err := obs.NewLogger(cfg.Observability.LogLevel, cfg.Observability.LogFormat)
	if err != nil {
		_, _ = os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("service stopped with error", zap.Error(err))
	}
	logger.Info("stopped")
}

func run(cfg *config.Config, logger *zap.Logger) error {
	obs.Init()
	obs.SetBuildInfo(version)

	registry, err := auth.NewRegistry(cfg.Auth.Actors, auth.WithMaxConcurrentKDF(cfg.Auth.MaxConcurrentKDF))
	if err != nil {
		return err
	}
	if registry.Len() == 0 {
		return errors.New("no actor can authenticate: every secret hash is empty")
	}
	codec := auth.NewCodec(cfg.Auth.SessionSecret,
		auth.WithMaxAge(cfg.Auth.SessionMaxAge),
		auth.WithRotateAfter(cfg.Auth.RotateAfter),
	)

	// Stores: Postgres when a DSN is configured, otherwise in-process.
	var (
		db           *sql.DB
		auditStore   audit.Store
		contentStore content.Store
	)
	if cfg.Database.DSN != "" {
		db, err = pg.Open(cfg.Database.DSN)
		if err != nil {
			return err
		}
		defer db.Close()
		auditStore = pg.NewAuditStore(db)
		contentStore = pg.NewContentStore(db)
	} else {
		logger.Warn("no database configured; audit and content are kept in memory")
		auditStore = audit.NewMemoryStore()
		contentStore = content.NewMemoryStore()
	}

	auditLog := audit.NewLog(auditStore, logger)
	limiter := ratelimit.New(cfg.Lockout.Limiter(), auditLog, logger)
	probe := httpapi.ReadyProbe{DB: db}

	opts := httpapi.DefaultOptions()
	opts.Version = version
	opts.CodeLength = cfg.Auth.CodeLength
	opts.SecureCookies = cfg.IsProduction()
	opts.TrustProxy = cfg.Server.TrustProxy
	opts.RateBurst = cfg.Server.RateBurst
	opts.RatePerSecond = cfg.Server.RatePerSecond
	opts.MaxBodyBytes = cfg.Server.MaxBodyBytes

	api := httpapi.New(httpapi.Deps{
		Logger:   logger,
		Actors:   registry,
		Sessions: codec,
		Limiter:  limiter,
		Audit:    auditLog,
		Content:  contentStore,
		Ready:    probe,
	}, opts)

	srv := &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       60 * time.Second,
	}

	health := httpapi.NewHealthServer(probe, logger)
	grpcServer := grpc.NewServer()
	health.Register(grpcServer)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("http listening", zap.String("addr", srv.Addr), zap.String("version", version))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
		if err != nil {
			return err
		}
		logger.Info("grpc health listening", zap.String("addr", cfg.Server.GRPCAddr))
		if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		health.Run(gctx, 10*time.Second)
		return nil
	})
	g.Go(func() error {
		limiter.Run(gctx, cfg.Lockout.PruneInterval)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		grpcServer.GracefulStop()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
