package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/zaidku/LHUMS/internal/audit"
	"github.com/zaidku/LHUMS/internal/auth"
	"github.com/zaidku/LHUMS/internal/authz"
	"github.com/zaidku/LHUMS/internal/config"
	"github.com/zaidku/LHUMS/internal/httpapi"
	"github.com/zaidku/LHUMS/internal/mail"
	"github.com/zaidku/LHUMS/internal/obs"
	"github.com/zaidku/LHUMS/internal/store/pg"
	"github.com/zaidku/LHUMS/internal/tenant"
)

var version = "1.2.0"

func main() {
	obs.Init()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	store, err := pg.Open(cfg.Database.DSN)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer store.Close()
	store.DB().SetMaxOpenConns(cfg.Database.MaxOpenConns)
	store.DB().SetMaxIdleConns(cfg.Database.MaxIdleConns)
	store.DB().SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)

	recorder := audit.NewRecorder(store.Audit())

	issuer, err := auth.NewTokenIssuer(cfg.Auth.Secret,
		auth.WithIssuer(cfg.Auth.Issuer),
		auth.WithAccessTTL(cfg.Auth.AccessTTL),
		auth.WithRefreshTTL(cfg.Auth.RefreshTTL),
	)
	if err != nil {
		log.Fatalf("token issuer: %v", err)
	}

	policy := auth.PasswordPolicy{
		MinLength:        cfg.Security.PasswordMinLength,
		HistoryDepth:     cfg.Security.PasswordHistoryDepth,
		ExpiryDays:       cfg.Security.PasswordExpiryDays,
		MaxLoginAttempts: cfg.Security.MaxLoginAttempts,
		LockoutDuration:  cfg.Security.LockoutDuration,
	}

	userOpts := []auth.ServiceOption{
		auth.WithPolicy(policy),
		auth.WithRecorder(recorder),
		auth.WithResetTokenTTL(cfg.Auth.ResetTokenTTL),
		auth.WithVerifyTokenTTL(cfg.Auth.VerifyTokenTTL),
		auth.WithBaseURL(cfg.Auth.PublicBaseURL),
	}
	if cfg.Mail.Enabled {
		userOpts = append(userOpts, auth.WithMailer(mail.NewSender(cfg.Mail)))
	}
	users, err := auth.NewService(store.Users(), store.Tokens(), issuer, userOpts...)
	if err != nil {
		log.Fatalf("auth service: %v", err)
	}

	labs, err := tenant.NewRegistry(store.Tenants(), tenant.WithRecorder(recorder))
	if err != nil {
		log.Fatalf("tenant registry: %v", err)
	}

	resolver := authz.NewResolver(store.Authz(), labs)
	gate := authz.NewGate(resolver, labs)
	grants, err := authz.NewService(store.Authz(), labs, authz.WithRecorder(recorder))
	if err != nil {
		log.Fatalf("authz service: %v", err)
	}

	api := httpapi.New(httpapi.Options{
		Users:              users,
		Labs:               labs,
		Grants:             grants,
		Gate:               gate,
		Resolver:           resolver,
		AuditTrail:         store.Audit(),
		ReadyProbe:         httpapi.ReadyProbe{DB: store.DB()},
		Version:            version,
		LoginRatePerSecond: cfg.Auth.LoginRatePerSecond,
		LoginRateBurst:     cfg.Auth.LoginRateBurst,
	})

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	log.Printf("Starting lhums-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	_ = srv.Shutdown(ctx)
	log.Println("Stopped")
}
