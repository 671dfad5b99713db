package bootstrap

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/eleven-am/sentinel-backend/internal/classifier"
	"github.com/eleven-am/sentinel-backend/internal/frame"
	"github.com/eleven-am/sentinel-backend/internal/health"
	"github.com/eleven-am/sentinel-backend/internal/incident"
	"github.com/eleven-am/sentinel-backend/internal/ingest"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var defaultCORSConfig = middleware.CORSConfig{
	AllowOrigins: []string{"*"},
	AllowMethods: []string{
		http.MethodGet,
		http.MethodPost,
		http.MethodOptions,
	},
	AllowHeaders: []string{
		"Accept",
		"Authorization",
		"Content-Type",
		"X-Service-Token",
	},
	MaxAge: 86400,
}

func NewEchoServer() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(defaultCORSConfig))
	return e
}

func ProvideIngestHandler(registry *frame.Registry, logger *slog.Logger) *ingest.Handler {
	return ingest.NewHandler(registry, logger)
}

func ProvideIncidentHandler(
	store *incident.Store,
	journal *incident.Journal,
	registry *frame.Registry,
	logger *slog.Logger,
) *incident.Handler {
	return incident.NewHandler(store, journal, registry, logger)
}

func ProvideHealthHandler(
	db *gorm.DB,
	redisClient *redis.Client,
	cls *classifier.Client,
	registry *frame.Registry,
) *health.Handler {
	return health.NewHandler(db, redisClient, cls, registry)
}

type RouteParams struct {
	fx.In

	IngestHandler   *ingest.Handler
	IncidentHandler *incident.Handler
	HealthHandler   *health.Handler
	Config          *Config
}

func RegisterRoutes(e *echo.Echo, params RouteParams) {
	params.HealthHandler.RegisterRoutes(e)

	api := e.Group("/v1")
	api.Use(ingest.TokenAuth(params.Config.ServiceToken))
	params.IngestHandler.RegisterRoutes(api)
	params.IncidentHandler.RegisterRoutes(api)
}

func StartServer(lc fx.Lifecycle, e *echo.Echo, cfg *Config) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := e.Start(cfg.ServerAddr); err != nil && err != http.ErrServerClosed {
					e.Logger.Fatal(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return e.Shutdown(ctx)
		},
	})
}

var ServerModule = fx.Options(
	fx.Provide(
		NewEchoServer,
		ProvideIngestHandler,
		ProvideIncidentHandler,
		ProvideHealthHandler,
	),
	fx.Invoke(RegisterRoutes),
	fx.Invoke(StartServer),
)

func Run() {
	fx.New(
		fx.Provide(LoadConfig),
		InfrastructureModule,
		StoresModule,
		PipelineModule,
		ServerModule,
	).Run()
}
