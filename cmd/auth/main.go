package main

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"

	cacheadapter "github.com/sachigoyal/echo-auth/internal/adapter/cache"
	"github.com/sachigoyal/echo-auth/internal/apikey"
	"github.com/sachigoyal/echo-auth/internal/config"
	httptransport "github.com/sachigoyal/echo-auth/internal/http"
	"github.com/sachigoyal/echo-auth/internal/http/handler"
	httpmiddleware "github.com/sachigoyal/echo-auth/internal/http/middleware"
	apimiddleware "github.com/sachigoyal/echo-auth/internal/middleware"
	"github.com/sachigoyal/echo-auth/internal/permission"
	"github.com/sachigoyal/echo-auth/internal/repository"
	"github.com/sachigoyal/echo-auth/internal/server"
	"github.com/sachigoyal/echo-auth/internal/service"
	"github.com/sachigoyal/echo-auth/internal/telemetry"
	"github.com/sachigoyal/echo-auth/internal/token"
)

func main() {
	app := fx.New(
		fx.Provide(
			newConfig,
			newLogger,
			newTelemetry,
			newSnowflake,
			newPGXPool,
			newUserRepository,
			newAppRepository,
			newMembershipRepository,
			newAPIKeyRepository,
			newRefreshTokenRepository,
			newRedisClient,
			newCodeConsumer,
			newRateLimiter,
			newHasher,
			newMinter,
			newResolver,
			newTokenService,
			newAuthenticator,
			handler.NewTokenHandler,
			newAuthMiddleware,
			httptransport.NewRouter,
			server.NewHTTPServer,
		),
		fx.Invoke(useTelemetry, startHTTPServer),
	)

	app.Run()
}

func newConfig() (config.Config, error) {
	return config.Load()
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	var (
		logger *zap.Logger
		err    error
	)
	if cfg.Environment == "development" {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return nil, err
	}
	zap.ReplaceGlobals(logger)
	return logger, nil
}

func newTelemetry(lc fx.Lifecycle, cfg config.Config, logger *zap.Logger) (*telemetry.Provider, error) {
	provider, err := telemetry.New(context.Background(), cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("telemetry init: %w", err)
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			return provider.Shutdown(stopCtx)
		},
	})

	return provider, nil
}

func newSnowflake() (*snowflake.Node, error) {
	node, err := snowflake.NewNode(1)
	return node, err
}

func newPGXPool(lc fx.Lifecycle, cfg config.Config) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			pool.Close()
			return nil
		},
	})

	return pool, nil
}

func newUserRepository(pool *pgxpool.Pool) repository.UserRepository {
	return repository.NewPostgresUserRepo(pool)
}

func newAppRepository(pool *pgxpool.Pool) repository.AppRepository {
	return repository.NewPostgresAppRepo(pool)
}

func newMembershipRepository(pool *pgxpool.Pool) repository.MembershipRepository {
	return repository.NewPostgresMembershipRepo(pool)
}

func newAPIKeyRepository(pool *pgxpool.Pool) repository.APIKeyRepository {
	return repository.NewPostgresAPIKeyRepo(pool)
}

func newRefreshTokenRepository(pool *pgxpool.Pool) repository.RefreshTokenRepository {
	return repository.NewPostgresRefreshTokenRepo(pool)
}

func newRedisClient(lc fx.Lifecycle, cfg config.Config) (redis.UniversalClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})
	return client, nil
}

func newCodeConsumer(client redis.UniversalClient) repository.CodeConsumer {
	return cacheadapter.NewRedisCodeStore(client)
}

func newRateLimiter(cfg config.Config) *apimiddleware.RateLimiter {
	return apimiddleware.NewRateLimiter(cfg.RateLimitRPM)
}

func newHasher(cfg config.Config) (*apikey.Hasher, error) {
	return apikey.NewHasher(cfg.APIKeySecret)
}

func newMinter(cfg config.Config) *token.Minter {
	return token.NewMinter(cfg.SigningSecret, cfg.SigningKeyID, cfg.AccessTokenTTL, cfg.ClockSkewLeeway, cfg.RenewAheadWindow)
}

func newResolver(apps repository.AppRepository, memberships repository.MembershipRepository) *permission.Resolver {
	return permission.NewResolver(apps, memberships)
}

func newTokenService(
	users repository.UserRepository,
	apps repository.AppRepository,
	memberships repository.MembershipRepository,
	refreshTokens repository.RefreshTokenRepository,
	codes repository.CodeConsumer,
	resolver *permission.Resolver,
	minter *token.Minter,
	node *snowflake.Node,
	cfg config.Config,
	logger *zap.Logger,
) *service.TokenService {
	return service.NewTokenService(users, apps, memberships, refreshTokens, codes, resolver, minter, node, cfg, logger)
}

func newAuthenticator(
	users repository.UserRepository,
	apps repository.AppRepository,
	keys repository.APIKeyRepository,
	hasher *apikey.Hasher,
	minter *token.Minter,
	cfg config.Config,
	logger *zap.Logger,
) *service.Authenticator {
	return service.NewAuthenticator(users, apps, keys, hasher, minter, cfg.UsageRecordTimeout, logger)
}

func newAuthMiddleware(authn *service.Authenticator) *httpmiddleware.Auth {
	return &httpmiddleware.Auth{Authenticator: authn}
}

func startHTTPServer(lc fx.Lifecycle, srv *server.HTTPServer, cfg config.Config, logger *zap.Logger) {
	addr := ":" + cfg.HTTPPort
	var (
		cancel context.CancelFunc
		done   chan struct{}
	)

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			runCtx, stop := context.WithCancel(context.Background())
			cancel = stop
			done = make(chan struct{})

			go func() {
				if err := srv.Run(runCtx, addr); err != nil {
					logger.Error("http server stopped", zap.Error(err))
				}
				close(done)
			}()

			return nil
		},
		OnStop: func(ctx context.Context) error {
			if cancel != nil {
				cancel()
			}
			if done == nil {
				return nil
			}
			select {
			case <-done:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	})
}

func useTelemetry(*telemetry.Provider) {}
