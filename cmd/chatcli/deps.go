// cmd/chatcli/deps.go
// Builds the collaborators of the sync engine from configuration

package main

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	log "github.com/sirupsen/logrus"

	"github.com/imadgeboyega/kiekky-chat/internal/common/database"
	"github.com/imadgeboyega/kiekky-chat/internal/common/utils"
	"github.com/imadgeboyega/kiekky-chat/internal/config"
	"github.com/imadgeboyega/kiekky-chat/internal/messaging"
	notifications "github.com/imadgeboyega/kiekky-chat/internal/notification"
	"github.com/imadgeboyega/kiekky-chat/internal/realtime"
)

type closer func()

func buildDependencies(ctx context.Context, cfg *config.Config, userID, token string, logger *log.Entry) (messaging.Dependencies, closer, error) {
	var closers []func()
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	push, err := buildPush(ctx, cfg, userID, token, &closers)
	if err != nil {
		closeAll()
		return messaging.Dependencies{}, nil, err
	}

	var repo messaging.Repository
	if cfg.DatabaseURL != "" {
		db, err := database.NewPostgresDBFromURL(ctx, cfg.DatabaseURL)
		if err != nil {
			closeAll()
			return messaging.Dependencies{}, nil, err
		}
		closers = append(closers, func() { db.Close() })

		pg := messaging.NewPostgresRepository(db)
		if err := pg.Migrate(ctx); err != nil {
			closeAll()
			return messaging.Dependencies{}, nil, err
		}
		repo = pg
		logger.Info("Using Postgres message store")
	} else {
		repo = messaging.NewMemoryRepository()
		logger.Warn("DATABASE_URL not set, messages are kept in memory for this process only")
	}

	storage, err := buildStorage(cfg)
	if err != nil {
		closeAll()
		return messaging.Dependencies{}, nil, err
	}

	notifier, err := buildNotifier(ctx, cfg, logger)
	if err != nil {
		closeAll()
		return messaging.Dependencies{}, nil, err
	}

	deps := messaging.Dependencies{
		Repo:     realtime.NewChangeFeed(repo, push),
		Push:     push,
		Storage:  storage,
		Notifier: notifier,
	}
	return deps, closeAll, nil
}

func buildNotifier(ctx context.Context, cfg *config.Config, logger *log.Entry) (messaging.Notifier, error) {
	local := messaging.NewLogNotifier(logger.WithField("component", "notifier"))
	if !cfg.FCMEnabled() {
		return local, nil
	}

	fcm, err := notifications.NewFCMNotifier(ctx, cfg.FCMCredentialsFile, cfg.FCMCredentialsJSON, cfg.FCMDeviceTokens)
	if err != nil {
		return nil, err
	}
	logger.WithField("devices", len(cfg.FCMDeviceTokens)).Info("Forwarding new messages to devices")
	return messaging.NotifierFunc(func(msg *messaging.Message) {
		local.NotifyMessage(msg)
		fcm.NotifyMessage(msg)
	}), nil
}

func buildPush(ctx context.Context, cfg *config.Config, userID, token string, closers *[]func()) (messaging.PushLayer, error) {
	switch cfg.PushProvider {
	case config.PushRedis:
		client, err := database.NewRedisClientFromURL(ctx, cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		*closers = append(*closers, func() { client.Close() })
		return realtime.NewRedisPush(client), nil

	case config.PushGateway:
		if token == "" {
			claims := utils.NewAccessClaims(userID, "chatcli", cfg.TokenExpiry)
			minted, err := utils.GenerateJWT(claims, cfg.GatewayJWTSecret)
			if err != nil {
				return nil, err
			}
			token = minted
		}
		return realtime.NewWebsocketPush(cfg.GatewayURL, token), nil

	case config.PushLocal:
		return realtime.NewBus(), nil

	default:
		return nil, fmt.Errorf("invalid push provider: %s", cfg.PushProvider)
	}
}

func buildStorage(cfg *config.Config) (messaging.StorageService, error) {
	if !cfg.UseS3 {
		return messaging.NewLocalStorageService(cfg.LocalUploadDir, cfg.BaseURL, cfg.MaxUploadSize), nil
	}

	awsSession, err := session.NewSession(&aws.Config{
		Region: aws.String(cfg.AWSRegion),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}
	return messaging.NewStorageService(awsSession, cfg.S3BucketName, cfg.CDNURL, cfg.MaxUploadSize), nil
}
