// Command authcore-server is a small HTTP API over authcore: registration,
// login with server-side sessions, logout, session listing and the password
// reset flow. Without REDIS_URL and DATABASE_URL it runs entirely in memory.
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/campusreach/authcore"
	"github.com/campusreach/authcore/mailer"
	"github.com/campusreach/authcore/metrics/export/prometheus"
	"github.com/campusreach/authcore/userstore"
	"github.com/campusreach/authcore/userstore/postgres"
)

func main() {
	logger := log.New(os.Stderr, "authcore-server: ", log.LstdFlags)

	cfg, err := authcore.LoadConfigFromEnv()
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	accounts, closeAccounts, err := openAccounts(ctx, logger)
	if err != nil {
		logger.Fatalf("open user store: %v", err)
	}
	defer closeAccounts()

	sender, err := newSender(logger)
	if err != nil {
		logger.Fatalf("configure mailer: %v", err)
	}

	engine, err := authcore.New().
		WithConfig(cfg).
		WithUserStore(accounts).
		WithEmailSender(sender).
		WithAuditSink(authcore.NewJSONWriterSink(os.Stdout)).
		WithLogger(logger).
		Build()
	if err != nil {
		logger.Fatalf("build engine: %v", err)
	}
	engine.Start(ctx)
	defer engine.Shutdown()

	report := engine.SecurityReport()
	for _, code := range report.Findings {
		logger.Printf("security finding: %s", code)
	}

	api, err := newAPI(engine, accounts, logger)
	if err != nil {
		logger.Fatalf("init api: %v", err)
	}
	router := api.routes(prometheus.New(engine).Handler())

	srv := &http.Server{
		Addr:              ":" + envOr("PORT", "8080"),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		logger.Printf("listening on %s (backend=%s)", srv.Addr, report.BackendKind)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("listen: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Println("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Printf("forced shutdown: %v", err)
	}
}

func openAccounts(ctx context.Context, logger *log.Logger) (accountStore, func(), error) {
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		logger.Println("DATABASE_URL unset; accounts are kept in memory")
		return userstore.NewMemory(), func() {}, nil
	}

	pg, err := postgres.Open(ctx, url)
	if err != nil {
		return nil, nil, err
	}
	if err := pg.Migrate(ctx); err != nil {
		pg.Close()
		return nil, nil, err
	}
	return pg, pg.Close, nil
}

func newSender(logger *log.Logger) (authcore.EmailSender, error) {
	branding := mailer.Branding{
		AppName:  envOr("APP_NAME", "CampusReach"),
		ResetURL: envOr("RESET_URL", "http://localhost:3000/reset-password"),
	}

	key := os.Getenv("SENDGRID_API_KEY")
	if key == "" {
		logger.Println("SENDGRID_API_KEY unset; reset links are written to the log")
		return mailer.LogSender{Logger: logger, Branding: branding}, nil
	}
	return mailer.NewSendGrid(mailer.SendGridConfig{
		APIKey:      key,
		FromName:    envOr("MAIL_FROM_NAME", branding.AppName),
		FromAddress: os.Getenv("MAIL_FROM_ADDRESS"),
		Branding:    branding,
	})
}

func envOr(name, def string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return def
}
