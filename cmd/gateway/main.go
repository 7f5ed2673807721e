// cmd/gateway/main.go
// Websocket relay for conversation channels

package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"github.com/imadgeboyega/kiekky-chat/internal/common/alog"
	"github.com/imadgeboyega/kiekky-chat/internal/config"
	"github.com/imadgeboyega/kiekky-chat/internal/realtime"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.WithError(err).Debug("No .env file found, using environment variables")
	}

	cfg := config.Load()
	if err := alog.Configure(cfg.LogLevel, cfg.LogFormat); err != nil {
		log.WithError(err).Fatal("Invalid log configuration")
	}
	if err := cfg.Validate(); err != nil {
		log.WithError(err).Fatal("Configuration validation failed")
	}
	logger := alog.Logger().WithField("service", "gateway")

	gateway := realtime.NewGateway(cfg.GatewayJWTSecret, cfg.GatewayRateLimit, logger)
	go gateway.Run()

	router := mux.NewRouter()
	gateway.RegisterRoutes(router)

	srv := &http.Server{
		Addr:        cfg.GatewayAddr,
		Handler:     router,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		logger.WithFields(log.Fields{
			"addr":        srv.Addr,
			"environment": cfg.Environment,
		}).Info("Gateway starting")

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("Failed to start gateway")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutdown signal received")
	gateway.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.WithError(err).Fatal("Gateway forced to shutdown")
	}
	logger.Info("Gateway exited gracefully")
}
