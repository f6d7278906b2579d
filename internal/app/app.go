package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/nats-io/nats.go"

	"github.com/synclisten/server/internal/channel"
	"github.com/synclisten/server/internal/channel/natschan"
	"github.com/synclisten/server/internal/channel/redispubsub"
	"github.com/synclisten/server/internal/channel/wshub"
	"github.com/synclisten/server/internal/directory"
	"github.com/synclisten/server/internal/directory/postgres"
	redisdir "github.com/synclisten/server/internal/directory/redis"
	"github.com/synclisten/server/internal/domain"
	"github.com/synclisten/server/internal/player/memory"
	"github.com/synclisten/server/internal/session"
	"github.com/synclisten/server/pkg/ctxlogger"
	"github.com/synclisten/server/pkg/redisclient"
	"github.com/synclisten/server/pkg/validator"
)

const sessionExpireDuration = 24 * time.Hour

type AppConfig struct {
	DeviceID    string `json:"device_id" validate:"required"`
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name" validate:"required"`
	LogLevel    string `json:"log_level"`

	// SyncKey joins an existing session; empty means host a new one.
	SyncKey string `json:"sync_key" validate:"omitempty,synckey"`

	TrackID        string  `json:"track_id"`
	TrackTitle     string  `json:"track_title"`
	TrackArtist    string  `json:"track_artist"`
	TrackDuration  float64 `json:"track_duration"`
	TrackSourceURL string  `json:"track_source_url"`

	// Directory is "redis" or "postgres".
	Directory     string `json:"directory" validate:"oneof=redis postgres"`
	RedisHost     string `json:"redis_host"`
	RedisPort     int    `json:"redis_port"`
	RedisPassword string `json:"-"`
	PostgresDSN   string `json:"-"`

	// Channel is "redis", "nats" or "ws".
	Channel string `json:"channel" validate:"oneof=redis nats ws"`
	NatsURL string `json:"nats_url"`
	HubURL  string `json:"hub_url"`

	MembersLimit int `json:"members_limit" validate:"min=1"`
	ChatLimit    int `json:"chat_limit" validate:"min=1"`
}

func (cfg *AppConfig) Validate() error {
	if errs, ok := validator.NewValidator().Validate(cfg); !ok {
		return fmt.Errorf("invalid config: %s: %s", errs[0].Field, errs[0].Message)
	}
	if cfg.SyncKey == "" && cfg.TrackID == "" {
		return fmt.Errorf("either a sync key to join or a track to host is required")
	}
	if cfg.Channel == "nats" && cfg.NatsURL == "" {
		return fmt.Errorf("nats channel requires a nats url")
	}
	if cfg.Channel == "ws" && cfg.HubURL == "" {
		return fmt.Errorf("ws channel requires a hub url")
	}
	if cfg.Directory == "postgres" && cfg.PostgresDSN == "" {
		return fmt.Errorf("postgres directory requires a dsn")
	}
	return nil
}

type iChannel interface {
	Subscribe(ctx context.Context, sessionID string, handler channel.Handler) error
	Unsubscribe(ctx context.Context, sessionID string) error
	Publish(ctx context.Context, sessionID string, event domain.SyncEvent) error
	Close() error
}

// Run wires the engine and drives one session for the lifetime of the
// process: host or join on start, leave (or end, when hosting) on signal.
func Run(ctx context.Context, cfg *AppConfig) error {
	logLevel := slog.LevelInfo
	if err := logLevel.UnmarshalText([]byte(strings.ToUpper(cfg.LogLevel))); err != nil {
		return fmt.Errorf("failed to parse log level: %w", err)
	}

	h := ctxlogger.ContextHandler{
		Handler: slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level:     logLevel,
			AddSource: true,
		}),
	}

	logger := slog.New(&h)

	var dir directory.Directory
	switch cfg.Directory {
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
		if err != nil {
			return fmt.Errorf("failed to create postgres pool: %w", err)
		}
		defer pool.Close()
		dir = postgres.NewRepo(pool)
	default:
		rc, err := redisclient.NewRedisClient(&redisclient.Config{
			Host:     cfg.RedisHost,
			Port:     cfg.RedisPort,
			Password: cfg.RedisPassword,
		})
		if err != nil {
			return fmt.Errorf("failed to create redis client: %w", err)
		}
		defer rc.Close()
		dir = redisdir.NewRepo(rc, sessionExpireDuration)
	}

	var ch iChannel
	switch cfg.Channel {
	case "nats":
		nc, err := nats.Connect(cfg.NatsURL)
		if err != nil {
			return fmt.Errorf("failed to connect to nats: %w", err)
		}
		defer nc.Close()
		ch = natschan.New(nc, logger)
	case "ws":
		ch = wshub.NewClient(cfg.HubURL, logger)
	default:
		rc, err := redisclient.NewRedisClient(&redisclient.Config{
			Host:     cfg.RedisHost,
			Port:     cfg.RedisPort,
			Password: cfg.RedisPassword,
		})
		if err != nil {
			return fmt.Errorf("failed to create redis client: %w", err)
		}
		defer rc.Close()
		ch = redispubsub.New(rc, logger)
	}
	defer ch.Close()

	clk := clockwork.NewRealClock()
	player := memory.NewPlayer(clk)

	coordinator := session.NewCoordinator(dir, ch, player, clk, &session.Config{
		DeviceID:     cfg.DeviceID,
		UserID:       cfg.UserID,
		DisplayName:  cfg.DisplayName,
		MembersLimit: cfg.MembersLimit,
		ChatLimit:    cfg.ChatLimit,
	}, logger)

	hosting := cfg.SyncKey == ""
	if hosting {
		key, err := coordinator.CreateSession(ctx, domain.TrackRef{
			ID:        cfg.TrackID,
			Title:     cfg.TrackTitle,
			Artist:    cfg.TrackArtist,
			Duration:  cfg.TrackDuration,
			SourceURL: cfg.TrackSourceURL,
		}, session.CreateSessionOpts{})
		if err != nil {
			return fmt.Errorf("failed to create session: %w", err)
		}
		logger.InfoContext(ctx, "hosting session", "sync_key", key)
	} else {
		if err := coordinator.JoinSession(ctx, cfg.SyncKey); err != nil {
			return fmt.Errorf("failed to join session: %w", err)
		}
		logger.InfoContext(ctx, "joined session", "sync_key", cfg.SyncKey)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	select {
	case <-sig:
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if hosting {
		if err := coordinator.EndSession(shutdownCtx); err != nil {
			logger.ErrorContext(shutdownCtx, "failed to end session", "error", err)
		}
	}
	if err := coordinator.LeaveSession(shutdownCtx); err != nil {
		logger.ErrorContext(shutdownCtx, "failed to leave session", "error", err)
	}

	return nil
}
