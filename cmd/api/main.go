package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"inspectdesk.io/internal/authsvc"
	"inspectdesk.io/internal/config"
	"inspectdesk.io/internal/httpapi"
	"inspectdesk.io/internal/notify"
	"inspectdesk.io/internal/obs"
	"inspectdesk.io/internal/session"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "inspectdesk-api: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var configPath string
	flagSet := pflag.NewFlagSet("inspectdesk-api", pflag.ContinueOnError)
	flagSet.StringVarP(&configPath, "config", "c", os.Getenv("INSPECTDESK_CONFIG"), "path to YAML config file")
	showVersion := flagSet.Bool("version", false, "print version and exit")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if *showVersion {
		fmt.Printf("inspectdesk-api %s (%s)\n", version, commit)
		return nil
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	obs.SetLogger(obs.NewLogger(os.Stdout, cfg.LogLevel))
	obs.Init()
	obs.InitBuildInfo(version, commit)
	log := obs.Component("main")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, db, err := openStore(cfg.Postgres, log)
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
	}

	svc, err := authsvc.NewService(store,
		authsvc.WithTokenSecret(cfg.Auth.Secret),
		authsvc.WithIssuer(cfg.Auth.Issuer),
		authsvc.WithAccessTTL(cfg.Auth.AccessTTL),
		authsvc.WithRefreshTTL(cfg.Auth.RefreshTTL),
	)
	if err != nil {
		return err
	}
	if cfg.Bootstrap.Email != "" {
		if _, err := svc.EnsureBootstrapAdmin(ctx, cfg.Bootstrap.Name, cfg.Bootstrap.Email, cfg.Bootstrap.Password); err != nil {
			return fmt.Errorf("bootstrap admin: %w", err)
		}
	}

	registry := session.NewRegistry(
		func() *session.Provider { return session.NewProvider(svc) },
		cfg.Session.IdleTimeout,
		session.WithAutoRefresh(cfg.Session.RefreshLead),
	)
	go registry.Run(ctx, time.Minute)

	probe := httpapi.ReadyProbe{DB: db}
	api := httpapi.New(httpapi.Options{
		Sessions:     registry,
		Tokens:       svc,
		Directory:    svc,
		Notices:      notify.NewCenter(),
		Ready:        probe,
		Version:      version,
		CookieName:   cfg.Session.CookieName,
		CookieSecure: cfg.Session.CookieSecure,
		LoginBurst:   cfg.Login.Burst,
		LoginRate:    cfg.Login.RatePerSecond,
		TrustProxy:   cfg.TrustProxy,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		// Notification streams stay open, so no write deadline.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	healthSrv := health.NewServer()
	grpcSrv := grpc.NewServer()
	healthpb.RegisterHealthServer(grpcSrv, healthSrv)
	reflection.Register(grpcSrv)
	go httpapi.NewHealthReporter(probe, healthSrv, 10*time.Second).Run(ctx)

	errCh := make(chan error, 2)
	go func() {
		log.Info().Str("addr", srv.Addr).Str("version", version).Msg("http listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http listen: %w", err)
		}
	}()
	if cfg.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			return fmt.Errorf("grpc listen: %w", err)
		}
		go func() {
			log.Info().Str("addr", cfg.GRPCAddr).Msg("grpc listening")
			if err := grpcSrv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				errCh <- fmt.Errorf("grpc serve: %w", err)
			}
		}()
	}

	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down")
	case err := <-errCh:
		log.Error().Err(err).Msg("server failed")
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	healthSrv.Shutdown()
	_ = srv.Shutdown(shutdownCtx)
	grpcSrv.GracefulStop()
	log.Info().Msg("stopped")
	return nil
}

// openStore connects to Postgres when a DSN is configured and falls back to
// the in-memory store otherwise.
func openStore(pg config.PostgresConfig, log zerolog.Logger) (authsvc.Store, *sql.DB, error) {
	if pg.DSN == "" {
		log.Warn().Msg("no postgres dsn configured, using in-memory store")
		return authsvc.NewMemoryStore(), nil, nil
	}
	db, err := sql.Open("pgx", pg.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(pg.MaxOpenConns)
	db.SetMaxIdleConns(pg.MaxIdleConns)
	db.SetConnMaxLifetime(pg.ConnMaxLifetime)
	return authsvc.NewPGStore(db), db, nil
}
