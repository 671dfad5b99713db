package bootstrap

import (
	"log/slog"

	"github.com/eleven-am/sentinel-backend/internal/frame"
	"github.com/eleven-am/sentinel-backend/internal/incident"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

func ProvideRegistry(cfg *Config, logger *slog.Logger) *frame.Registry {
	return frame.NewRegistry(frame.RegistryConfig{
		Store: frame.StoreConfig{
			Retention: cfg.Retention,
			MaxFrames: cfg.MaxFrames,
			MaxBytes:  cfg.MaxBytes,
			Logger:    logger,
		},
		InactivityTimeout: cfg.InactivityTimeout,
		SweepInterval:     cfg.SweepInterval,
		Logger:            logger,
	})
}

func ProvideIncidentStore(db *gorm.DB) *incident.Store {
	return incident.NewStore(db)
}

func ProvideJournal(redisClient *redis.Client) *incident.Journal {
	return incident.NewJournal(redisClient, 0)
}

func RunMigrations(store *incident.Store) error {
	return store.Migrate()
}

var StoresModule = fx.Options(
	fx.Provide(
		ProvideRegistry,
		ProvideIncidentStore,
		ProvideJournal,
	),
	fx.Invoke(RunMigrations),
)
