package app

import (
	"context"
	"errors"
	"fmt"
	stdhttp "net/http"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/roomwire/internal/auth"
	"github.com/vovakirdan/roomwire/internal/config"
	"github.com/vovakirdan/roomwire/internal/core"
	redispresence "github.com/vovakirdan/roomwire/internal/presence/redis"
	redisrelay "github.com/vovakirdan/roomwire/internal/relay/redis"
	"github.com/vovakirdan/roomwire/internal/service/chat"
	"github.com/vovakirdan/roomwire/internal/store"
	"github.com/vovakirdan/roomwire/internal/store/postgres"
	"github.com/vovakirdan/roomwire/internal/store/sqlite"
	transporthttp "github.com/vovakirdan/roomwire/internal/transport/http"
)

// migratingStore is a store that can apply its own schema.
type migratingStore interface {
	store.Store
	Migrate(ctx context.Context) error
}

// App wires together storage, core and transport layers.
type App struct {
	server          *transporthttp.Server
	shutdownTimeout time.Duration
	store           store.Store
	redis           goredis.UniversalClient
	relay           *redisrelay.Relay
	log             *zerolog.Logger
}

// OpenStore opens the configured store and applies its schema.
func OpenStore(ctx context.Context, cfg config.StoreConfig) (store.Store, error) {
	var st migratingStore
	switch cfg.Driver {
	case "postgres":
		pg, err := postgres.New(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		st = pg
	case "sqlite", "":
		lite, err := sqlite.New(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		st = lite
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("migrate %s store: %w", cfg.Driver, err)
	}
	return st, nil
}

// New constructs the application with provided configuration.
func New(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if cfg.Auth.JWTSecret == config.DefaultJWTSecret {
		logger.Warn().Msg("auth.jwt_secret is the built-in default, set ROOMWIRE_AUTH_JWT_SECRET")
	}

	st, err := OpenStore(ctx, cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}
	logger.Info().Str("driver", cfg.Store.Driver).Msg("store initialized")

	authService := auth.NewService(st, &auth.JWTConfig{
		Secret:   []byte(cfg.Auth.JWTSecret),
		Issuer:   cfg.Auth.JWTIssuer,
		Audience: cfg.Auth.JWTAudience,
		TTL:      cfg.Auth.TokenTTL,
	})

	hub := core.NewHub(logger)
	a := &App{
		shutdownTimeout: cfg.ShutdownTimeout,
		store:           st,
		log:             logger,
	}

	var (
		presence  core.Presence  = hub
		transport core.Transport = hub
	)
	if cfg.Redis.Enabled {
		client, err := connectRedis(ctx, cfg.Redis)
		if err != nil {
			_ = st.Close()
			return nil, err
		}
		nodeID := cfg.Redis.NodeID
		if nodeID == "" {
			nodeID = uuid.NewString()
		}
		a.redis = client
		a.relay = redisrelay.NewRelay(hub, client, nodeID, cfg.Redis.Channel, logger)
		presence = redispresence.NewPresence(hub, client, cfg.Redis.KeyPrefix, logger)
		transport = a.relay
		logger.Info().Str("addr", cfg.Redis.Addr).Str("node_id", nodeID).Msg("redis cluster mode enabled")
	}

	chatSvc := chat.New(st, transport, presence, chat.Options{
		MaxContentBytes: cfg.Chat.MaxContentBytes,
		DefaultPageSize: cfg.Chat.DefaultPageSize,
		MaxPageSize:     cfg.Chat.MaxPageSize,
		RoomListLimit:   cfg.Chat.RoomListLimit,
	}, logger)

	a.server = transporthttp.NewServer(presence, chatSvc, authService, st, cfg, logger)
	return a, nil
}

func connectRedis(ctx context.Context, cfg config.RedisConfig) (goredis.UniversalClient, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", cfg.Addr, err)
	}
	return client, nil
}

// Run starts the HTTP server and blocks until context cancellation or fatal error.
func (a *App) Run(ctx context.Context) error {
	serverErr := make(chan error, 1)

	relayCtx, stopRelay := context.WithCancel(ctx)
	defer stopRelay()
	if a.relay != nil {
		go func() {
			if err := a.relay.Run(relayCtx); err != nil {
				a.log.Error().Err(err).Msg("relay stopped")
			}
		}()
	}

	go func() {
		a.log.Info().Str("addr", a.server.Addr).Msg("http server listening")
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, stdhttp.ErrServerClosed) {
			serverErr <- err
			return
		}
		serverErr <- nil
	}()

	select {
	case err := <-serverErr:
		a.cleanup()
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
		defer cancel()

		a.log.Info().Msg("shutting down http server")
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			a.cleanup()
			return err
		}

		a.cleanup()
		return <-serverErr
	}
}

// cleanup closes database and other resources.
func (a *App) cleanup() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close redis client")
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close store")
		} else {
			a.log.Info().Msg("store closed")
		}
	}
}
