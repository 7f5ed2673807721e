// cmd/chatcli/main.go
// Terminal client: opens one conversation, prints the live store and reads
// actions from stdin

package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"github.com/imadgeboyega/kiekky-chat/internal/common/alog"
	"github.com/imadgeboyega/kiekky-chat/internal/config"
	"github.com/imadgeboyega/kiekky-chat/internal/messaging"
)

const usage = `commands:
  <text>                     send a message
  /reply <id> <text>         reply to a message
  /file <path>               upload and send a file
  /voice <path> <seconds>    upload and send a voice note
  /typing                    signal that you are composing
  /read                      mark the conversation read
  /focus on|off              show or hide the conversation
  /open <partner-id>         switch conversation
  /clear                     delete the whole conversation
  /quit`

func main() {
	userID := flag.String("user", "", "local user id (uuid)")
	partnerID := flag.String("partner", "", "partner user id (uuid)")
	token := flag.String("token", "", "gateway access token; minted from GATEWAY_JWT_SECRET when empty")
	flag.Parse()

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
	logger := alog.Logger().WithField("user_id", *userID)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	deps, closeDeps, err := buildDependencies(ctx, cfg, *userID, *token, logger)
	cancel()
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize dependencies")
	}
	defer closeDeps()

	opts := cfg.SyncOptions()
	opts.Logger = logger

	session, err := messaging.NewSession(*userID, deps, opts)
	if err != nil {
		logger.WithError(err).Fatal("Invalid user")
	}
	defer session.Close()

	ui := &terminal{session: session, out: os.Stdout}
	if err := ui.open(*partnerID); err != nil {
		logger.WithError(err).Fatal("Failed to open conversation")
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	fmt.Fprintln(ui.out, usage)
	for {
		select {
		case line, ok := <-lines:
			if !ok {
				return
			}
			if !ui.handle(strings.TrimSpace(line)) {
				return
			}
		case <-quit:
			return
		}
	}
}
