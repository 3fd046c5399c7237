// Command devbackend serves an in-memory deed API and auth service for
// local development of the portal and the CLI. Signing links are logged
// instead of mailed.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"kolibri/internal/devbackend"
	"kolibri/internal/models"
	"kolibri/internal/utils"
)

func main() {
	port := flag.Int("port", 8000, "listen port")
	password := flag.String("password", "secret123", "password for the seeded accounts")
	anonKey := flag.String("anon-key", "", "require this apikey on auth requests")
	publicURL := flag.String("portal-url", "http://localhost:8080", "portal base URL used in logged signing links")
	level := flag.String("log-level", "info", "debug, info, warn or error")
	flag.Parse()

	logger, _, err := utils.NewLogger(*level, "console", "stderr")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	b := devbackend.New(devbackend.Options{
		AnonKey: *anonKey,
		Logger:  logger,
		OnSigningLink: func(l devbackend.SigningLink) {
			logger.Info("signing link",
				zap.Int64("deed_id", l.DeedID),
				zap.String("signer", l.SignerName),
				zap.String("email", l.Email),
				zap.String("url", *publicURL+"/sign/"+l.Token),
				zap.Time("expires_at", l.ExpiresAt),
			)
		},
	})
	if err := seed(b, *password); err != nil {
		logger.Fatal("failed to seed", zap.Error(err))
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", *port),
		Handler:           b,
		ReadHeaderTimeout: 5 * time.Second,
		ErrorLog:          zap.NewStdLog(logger.Named("http")),
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errChan := make(chan error, 1)
	go func() {
		logger.Info("dev backend listening",
			zap.String("addr", srv.Addr),
			zap.String("auth", devbackend.AuthPrefix),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errChan:
		logger.Fatal("server error", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown failed", zap.Error(err))
	}
}

// seed creates one account per role and a cooperative with one deed.
func seed(b *devbackend.Backend, password string) error {
	users := []struct {
		email string
		user  models.User
	}{
		{"bank@example.se", models.User{Role: models.RoleBankUser, UserName: "Eva Bank", BankName: "Nordbanken", BankID: "10000001"}},
		{"board@example.se", models.User{Role: models.RoleCooperativeAdmin, UserName: "Anna Andersson"}},
		{"audit@example.se", models.User{Role: models.RoleAccountingFirm, UserName: "Revision & Co"}},
	}
	for _, u := range users {
		if _, err := b.SeedUser(u.email, password, u.user); err != nil {
			return fmt.Errorf("user %s: %w", u.email, err)
		}
	}
	coop, err := b.SeedCooperative(devbackend.SampleCooperative())
	if err != nil {
		return err
	}
	_, err = b.SeedDeed(devbackend.SampleDeed(coop.ID))
	return err
}
