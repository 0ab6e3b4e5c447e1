package main // Entry point package

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/iliyamo/auth-session-service/internal/cache"
	"github.com/iliyamo/auth-session-service/internal/config"
	"github.com/iliyamo/auth-session-service/internal/database"
	"github.com/iliyamo/auth-session-service/internal/handler"
	"github.com/iliyamo/auth-session-service/internal/logging"
	"github.com/iliyamo/auth-session-service/internal/mail"
	"github.com/iliyamo/auth-session-service/internal/middleware"
	"github.com/iliyamo/auth-session-service/internal/oauth"
	"github.com/iliyamo/auth-session-service/internal/queue"
	"github.com/iliyamo/auth-session-service/internal/repository"
	"github.com/iliyamo/auth-session-service/internal/router"
	"github.com/iliyamo/auth-session-service/internal/service"
	"github.com/iliyamo/auth-session-service/internal/utils"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.Load() // Load environment config
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := logging.New(cfg.LogLevel, cfg.Env)
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	cacheCfg, err := config.LoadCacheConfig()
	if err != nil {
		return err
	}
	mailCfg, err := config.LoadMailConfig()
	if err != nil {
		return err
	}
	oauthCfg, err := config.LoadOAuthConfig(cfg)
	if err != nil {
		return err
	}
	rlCfg, err := config.LoadRateLimitConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(ctx, cfg.DB)
	if err != nil {
		return err
	}
	defer db.Close()

	// One Redis pool serves the session store (redis driver) and the limiter.
	var rdb, limiterRedis *redis.Client
	if cacheCfg.Driver == config.CacheDriverRedis || rlCfg.Enabled {
		rdb = config.NewRedisClient(cacheCfg.Redis)
		defer rdb.Close()
		if err := config.PingRedis(ctx, rdb); err != nil {
			if cacheCfg.Driver == config.CacheDriverRedis {
				return err
			}
			logger.Warn("redis unreachable, rate limiting disabled", zap.Error(err))
		} else {
			limiterRedis = rdb
		}
	}

	store, err := cache.New(cacheCfg, rdb)
	if err != nil {
		return err
	}
	defer store.Close()

	users := repository.NewUserRepo(db)
	tokens, err := service.NewTokenService(cfg.Token, users, repository.NewTokenRepo(db))
	if err != nil {
		return err
	}
	sessions := service.NewSessionService(store, tokens, cfg.Token.RefreshTTL(), logger)

	var transport mail.Transport = mail.LogTransport{Log: logging.WithComponent(logger, "mail")}
	if mailCfg.SMTPHost != "" {
		transport = mail.NewSMTPTransport(mailCfg.SMTPHost, mailCfg.SMTPPort, mailCfg.SMTPUsername, mailCfg.SMTPPassword)
	}
	sender := mail.NewSender(transport, mail.Options{
		AppName:          cfg.AppName,
		From:             mailCfg.From,
		FrontendURL:      cfg.FrontendURL,
		VerifyEmailTTL:   cfg.Token.VerifyEmailTTL(),
		ResetPasswordTTL: cfg.Token.ResetPasswordTTL(),
	}, logger)

	var (
		mailQueue  service.MailQueue
		closeQueue func(context.Context) error
	)
	switch mailCfg.QueueDriver {
	case config.QueueDriverAMQP:
		pub := queue.NewPublisher(mailCfg.AMQPURL, mailCfg.QueueName, logger)
		consumer := queue.NewConsumer(mailCfg.AMQPURL, mailCfg.QueueName, mailCfg.Workers, sender.Handle, logger)
		go func() {
			if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("email consumer stopped", zap.Error(err))
			}
		}()
		mailQueue, closeQueue = pub, pub.Close
	default:
		pool := queue.NewPool(mailCfg.Workers, mailCfg.Buffer, sender.Handle, logger)
		mailQueue, closeQueue = pool, pool.Close
	}

	auth := service.NewAuthService(users, tokens, sessions, utils.NewBcrypt(cfg.BcryptCost), mailQueue, logger)
	cookies := handler.NewCookies(cfg.Cookie)
	authHandler := handler.NewAuthHandler(auth, cookies, logger)

	storeCheck := func(ctx context.Context) error {
		_, err := store.GetAll(ctx, "health:*")
		return err
	}
	e := router.New(router.Deps{
		Auth:     authHandler,
		Account:  handler.NewAccountHandler(auth, cookies),
		OAuth:    handler.NewOAuthHandler(oauth.NewRegistry(oauthCfg), authHandler, cookies, logger),
		Tokens:   tokens,
		Verified: auth,
		Health: handler.Health(map[string]handler.Check{
			"database":      db.PingContext,
			"session_store": storeCheck,
		}),
		RateLimit:    middleware.NewTokenBucket(rlCfg, limiterRedis, tokens, logger),
		Log:          logger,
		ExposeErrors: cfg.IsDevelopment(),
	})

	addr := ":" + cfg.Port // Address string with port
	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", addr), zap.String("env", cfg.Env))
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", zap.Error(err))
	}
	if err := closeQueue(shutdownCtx); err != nil {
		logger.Error("email queue shutdown", zap.Error(err))
	}
	return nil
}
