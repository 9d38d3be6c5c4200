package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"spendly.app/internal/audit"
	"spendly.app/internal/auth"
	"spendly.app/internal/config"
	"spendly.app/internal/httpapi"
	"spendly.app/internal/migrate"
	"spendly.app/internal/obs"
	"spendly.app/ops/migrations"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	cfg, err := config.Load()
	if err != nil {
		obs.Error("config.invalid", err, nil)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Postgres when DATABASE_URL is set, in-memory stores otherwise.
	var (
		db     *sql.DB
		users  auth.UserStore
		ledger auth.RefreshLedger
	)
	if cfg.DatabaseURL != "" {
		db, err = sql.Open("pgx", cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(10)
		db.SetConnMaxLifetime(30 * time.Minute)

		if cfg.AutoMigrate {
			mctx, cancel := context.WithTimeout(ctx, time.Minute)
			applied, err := migrate.NewManager(db, migrations.SQL()).Up(mctx)
			cancel()
			if err != nil {
				log.Fatalf("migrate: %v", err)
			}
			obs.Info("migrate.done", map[string]any{"applied": len(applied)})
		}
		users = auth.NewPGUserStore(db)
		ledger = auth.NewPGLedger(db)
	} else {
		if cfg.Production() {
			log.Fatal("DATABASE_URL is required when APP_ENV=production")
		}
		obs.Warn("store.memory", map[string]any{"reason": "DATABASE_URL not set"})
		users = auth.NewMemoryUserStore()
		ledger = auth.NewMemoryLedger()
	}

	svc, err := auth.NewService(cfg.Auth, users, ledger, auth.WithAuditor(audit.LogEvent))
	if err != nil {
		log.Fatalf("auth service: %v", err)
	}

	// Housekeeping: sweep once at startup, then on SWEEP_INTERVAL.
	svc.Sweep(ctx)
	go svc.RunSweeper(ctx, cfg.SweepInterval)

	probe := httpapi.ReadyProbe{DB: db}
	api := httpapi.New(svc, probe, version,
		httpapi.WithCredentialRateLimit(cfg.LoginRatePerSec, cfg.LoginRateBurst),
		httpapi.WithTrustedProxies(cfg.TrustedProxies...),
	)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	grpcServer := grpc.NewServer()
	healthpb.RegisterHealthServer(grpcServer, httpapi.NewGRPCServer(probe, version))

	go func() {
		obs.Info("http.listen", map[string]any{"addr": srv.Addr, "version": version})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen: %v", err)
		}
	}()

	if cfg.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			log.Fatalf("grpc listen: %v", err)
		}
		go func() {
			obs.Info("grpc.listen", map[string]any{"addr": cfg.GRPCAddr})
			if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				log.Fatalf("grpc serve: %v", err)
			}
		}()
	}

	<-ctx.Done()
	obs.Info("shutdown.start", nil)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(shutdownCtx)
	grpcServer.GracefulStop()
	if db != nil {
		_ = db.Close()
	}
	obs.Info("shutdown.done", nil)
}
