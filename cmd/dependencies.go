package cmd

import (
	"context"
	"fmt"

	"taskrunner/config"
	"taskrunner/internal/service"
	"taskrunner/pkg/cache"
	"taskrunner/pkg/logger"
	"taskrunner/pkg/middleware"
	"taskrunner/pkg/postgres"
	"taskrunner/pkg/telegram"

	goValidator "github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	echoMiddleware "github.com/labstack/echo/v4/middleware"
)

type AppDependency struct {
	db        *postgres.DB
	cfg       *config.Config
	log       *logger.Logger
	validator *goValidator.Validate
	echo      *echo.Echo
	cache     cache.Cache
	notifier  service.Notifier
}

func NewAppDependency(ctx context.Context) (*AppDependency, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	log, err := logger.New(cfg.Log.Level, cfg.Log.Encoding)
	if err != nil {
		return nil, err
	}

	db, err := postgres.NewDB(cfg.DB, log)
	if err != nil {
		log.Error("Failed to connect to database", logger.ErrorField(err))
		return nil, err
	}

	notifier := service.NewNoopNotifier()
	if cfg.Notification.Enabled {
		sender, err := telegram.NewSender(&cfg.Notification, log)
		if err != nil {
			log.Error("Failed to create telegram sender", logger.ErrorField(err))
			_ = db.Close()
			return nil, err
		}
		notifier = service.NewTelegramNotifier(log, sender)
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(echoMiddleware.Recover())
	e.Use(echoMiddleware.BodyLimit(bodyLimit(cfg.Artifact.MaxSize)))
	e.Use(middleware.NewRateLimiterMiddleware(cfg.API.RateLimitPerSecond, cfg.API.RateLimitBurst))

	return &AppDependency{
		cfg:       cfg,
		log:       log,
		validator: goValidator.New(),
		db:        db,
		echo:      e,
		cache:     cache.NewCache(cfg.Monitor.CacheTTL, cfg.Monitor.CacheTTL),
		notifier:  notifier,
	}, nil
}

// bodyLimit leaves headroom over the artifact limit for multipart framing so
// that oversize files reach the validator and get a proper message.
func bodyLimit(maxArtifact int64) string {
	if maxArtifact <= 0 {
		maxArtifact = config.DefaultMaxArtifactSize
	}
	mb := maxArtifact/(1024*1024) + 2
	return fmt.Sprintf("%dM", mb)
}

func (d *AppDependency) Close() error {
	d.log.Info("Closing app dependency")
	_ = d.log.Sync()
	if d.db != nil {
		return d.db.Close()
	}
	return nil
}
