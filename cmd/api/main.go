package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"donorlink.org/internal/backend"
	"donorlink.org/internal/config"
	"donorlink.org/internal/httpapi"
	"donorlink.org/internal/mail"
	"donorlink.org/internal/obs"
)

var version = "0.1.0"

func main() {
	log := obs.Logger()
	obs.Init()
	obs.InitBuildInfo("donorlink-api", version)

	cfg, err := config.LoadServer()
	if err != nil {
		log.Error("config", "error", err)
		os.Exit(1)
	}

	var sender mail.Sender = mail.NewNoopSender()
	if cfg.ResendAPIKey != "" {
		sender = mail.NewResendSender(cfg.ResendAPIKey, cfg.MailFrom)
	} else {
		log.Warn("mail", "event", "noop_sender", "hint", "set DONORLINK_RESEND_API_KEY to deliver codes")
	}
	if cfg.AdminCode == "" {
		log.Warn("auth", "event", "admin_registration_disabled")
	}

	svc := backend.New(backend.Options{
		TokenTTL:          cfg.TokenTTL,
		OTPTTL:            cfg.OTPTTL,
		AdminSecurityCode: cfg.AdminCode,
		Mailer:            sender,
	})

	var draining atomic.Bool
	api := httpapi.New(svc, httpapi.Options{
		Version:        version,
		RateBurst:      cfg.RateBurst,
		RatePerSecond:  cfg.RatePerSecond,
		MaxBodyBytes:   cfg.MaxBodyBytes,
		AllowedOrigins: cfg.AllowedOrigins,
		Ready: func(context.Context) error {
			if draining.Load() {
				return errors.New("shutting down")
			}
			return nil
		},
	})

	// No WriteTimeout: websocket connections are long-lived.
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Info("server", "event", "starting", "version", version, "addr", srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server", "event", "listen_failed", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	draining.Store(true)
	log.Info("server", "event", "shutting_down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	log.Info("server", "event", "stopped")
}
