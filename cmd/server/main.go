package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/oscmail/automailer/internal/config"
	"github.com/oscmail/automailer/internal/database"
	"github.com/oscmail/automailer/internal/dispatch"
	"github.com/oscmail/automailer/internal/email"
	"github.com/oscmail/automailer/internal/gate"
	"github.com/oscmail/automailer/internal/handler"
	"github.com/oscmail/automailer/internal/logger"
	"github.com/oscmail/automailer/internal/middleware"
	"github.com/oscmail/automailer/internal/router"
	"github.com/oscmail/automailer/internal/service"
	"github.com/oscmail/automailer/internal/sheet"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(cfg.Log.Level, cfg.Log.Format)
	log.Info().Str("version", handler.Version).Msg("starting automailer server")

	// Connect to Redis
	rdb, err := database.NewRedis(cfg.Redis)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to Redis")
	}
	defer rdb.Close()
	log.Info().Msg("connected to Redis")

	// Google service account, shared by Sheets and (optionally) Gmail
	credentials, err := cfg.Google.ServiceAccountJSON()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid Google service account configuration")
	}

	sheets, err := sheet.NewClient(context.Background(), credentials)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize Sheets client")
	}
	log.Info().Str("service_account", sheets.ServiceAccount()).Msg("Sheets client initialized")

	sender, err := newSender(cfg, credentials)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize email sender")
	}
	log.Info().Str("provider", cfg.Email.Provider).Msg("email sender initialized")

	confirmation := email.NewConfirmation(email.Event{
		Name:     cfg.Event.Name,
		Subject:  cfg.Event.Subject,
		Date:     cfg.Event.Date,
		Time:     cfg.Event.Time,
		Venue:    cfg.Event.Venue,
		Location: cfg.Event.Location,
		Team:     cfg.Event.Team,
		Notes:    cfg.Event.Notes,
	}, cfg.Email.QRCode)

	dispatcher := dispatch.New(sender, confirmation, cfg.Event.CodePrefix, log)

	// Initialize services
	mailingSvc, err := service.NewMailingService(sheets, dispatcher, rdb, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize mailing service")
	}

	// Initialize handlers
	h := handler.New(mailingSvc, rdb, log, cfg)

	// Initialize middleware
	mw := middleware.New(rdb, log, cfg)

	// Set up router
	r := router.New(h, mw, cfg, gate.New(cfg.Gate.Passcode, cfg.Gate.PasscodeHash))

	// Create HTTP server
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info().Str("addr", addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server error")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server...")

	// A running dispatch loop gets the full write timeout to finish
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.WriteTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}

func newSender(cfg *config.Config, credentials []byte) (email.Sender, error) {
	switch cfg.Email.Provider {
	case "", "smtp":
		from := cfg.SMTP.From
		if from == "" {
			from = cfg.SMTP.User
		}
		return email.NewSMTPSender(email.SMTPConfig{
			Host:          cfg.SMTP.Host,
			Port:          cfg.SMTP.Port,
			Username:      cfg.SMTP.User,
			Password:      cfg.SMTP.Password,
			SSL:           cfg.SMTP.SSL,
			SenderAddress: from,
			SenderName:    cfg.Email.SenderName,
		})
	case "gmail":
		return email.NewGmailSender(context.Background(), email.GmailConfig{
			CredentialsJSON: credentials,
			SenderAddress:   cfg.Email.GmailSender,
			SenderName:      cfg.Email.SenderName,
		})
	default:
		return nil, fmt.Errorf("unknown email provider %q", cfg.Email.Provider)
	}
}
