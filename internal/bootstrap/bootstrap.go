package bootstrap

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	appControllers "github.com/demir/mentora/internal/app/controllers"
	appMigrations "github.com/demir/mentora/internal/app/migrations"
	appRepos "github.com/demir/mentora/internal/app/repositories"
	appRoutes "github.com/demir/mentora/internal/app/routes"
	appServices "github.com/demir/mentora/internal/app/services"
	"github.com/demir/mentora/internal/config"
	"github.com/demir/mentora/internal/db"
	appMiddleware "github.com/demir/mentora/internal/middleware"
	pkgAuth "github.com/demir/mentora/internal/pkg/auth"
	"github.com/demir/mentora/internal/pkg/filestorage"
	"github.com/demir/mentora/internal/pkg/helpers"
	"github.com/demir/mentora/internal/pkg/logger"
	"github.com/demir/mentora/internal/pkg/presence"
	"github.com/demir/mentora/internal/pkg/ratelimit"
	"github.com/demir/mentora/internal/pkg/realtime"
	"github.com/demir/mentora/internal/seed"
)

// Dependencies holds all the application dependencies
type Dependencies struct {
	ChatService    appServices.ChatService
	ChatController *appControllers.ChatController
	AuthMiddleware *appMiddleware.AuthMiddleware
	Repos          *appRepos.Repositories
	JWTService     *pkgAuth.JWTService
	FileStorage    *filestorage.LocalStorage
	Presence       *presence.Registry
	Hub            *realtime.Hub
	WSHandler      *realtime.Handler
	Logger         zerolog.Logger
}

// LoadConfigAndSetupLogger loads configuration and initializes the logger.
func LoadConfigAndSetupLogger() (*config.Config, zerolog.Logger, error) {
	configPath := filepath.Join("configs", "config.yaml")
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to load configuration")
		return nil, zerolog.Logger{}, err
	}

	logLevel := logger.LogLevel(strings.ToLower(cfg.Logging.Level))
	prettyLog := strings.ToLower(cfg.Logging.Format) == "text"

	logger.Configure(logger.Config{
		Level:  logLevel,
		Pretty: prettyLog,
	})

	lgr := log.Logger // Get the configured global logger
	lgr.Info().Str("logLevel", string(logLevel)).Str("logFormat", cfg.Logging.Format).Msg("Logger configured")
	return cfg, lgr, nil
}

// SetupDatabase establishes the database connection and runs migrations.
func SetupDatabase(cfg *config.Config, lgr zerolog.Logger) (*pgxpool.Pool, error) {
	lgr.Info().Msg("Establishing database connection...")
	database, err := db.NewPostgresDB(cfg)
	if err != nil {
		lgr.Error().Err(err).Msg("Failed to connect to database")
		return nil, err
	}
	dbPool := database.Pool

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := dbPool.Ping(ctx); err != nil {
		lgr.Error().Err(err).Msg("Failed to ping database")
		dbPool.Close()
		return nil, err
	}
	lgr.Info().Msg("Database connection successfully established.")

	lgr.Info().Msg("Running database migrations...")
	migrator := appMigrations.NewMigrator(dbPool)

	migrationsDir := "migrations"
	if _, err := os.Stat(migrationsDir); os.IsNotExist(err) {
		lgr.Error().Str("path", migrationsDir).Msg("Migrations directory not found")
		return nil, fmt.Errorf("migrations directory not found at %s: %w", migrationsDir, err)
	}

	if err := migrator.MigrateFromDirectory(migrationsDir); err != nil {
		lgr.Error().Err(err).Msg("Database migration error")
		return nil, fmt.Errorf("database migrations failed: %w", err)
	}

	lgr.Info().Msg("Database migrations successfully applied.")

	if cfg.Server.Mode == "development" {
		if err := seed.CreateDefaultData(ctx, dbPool, lgr); err != nil {
			lgr.Error().Err(err).Msg("Failed to create default development data")
			return nil, err
		}
	}

	return dbPool, nil
}

// BuildDependencies initializes repositories, the realtime hub, services and
// controllers, and wires the service into the hub's chat hook.
func BuildDependencies(cfg *config.Config, dbPool *pgxpool.Pool, lgr zerolog.Logger) (*Dependencies, error) {
	deps := &Dependencies{Logger: lgr}

	deps.Repos = appRepos.NewRepositories(dbPool)

	// File storage serves attachments under the same URL path the router
	// exposes statically.
	baseURL := cfg.Server.BaseURL
	if baseURL == "" {
		baseURL = "http://localhost:" + cfg.Server.Port
	}
	var err error
	deps.FileStorage, err = filestorage.NewLocalStorage(cfg.Server.StoragePath, baseURL+"/uploads")
	if err != nil {
		lgr.Error().Err(err).Msg("Failed to initialize file storage")
		return nil, fmt.Errorf("failed to initialize file storage: %w", err)
	}

	deps.JWTService = pkgAuth.NewJWTService(pkgAuth.JWTConfig{
		SecretKey:      cfg.JWT.Secret,
		AccessTokenExp: helpers.ParseDuration(cfg.JWT.AccessTokenExpiration, 24*time.Hour),
		TokenIssuer:    cfg.JWT.Issuer,
	})

	deps.Presence = presence.NewRegistry()
	limiter := ratelimit.NewLimiterStore(cfg.Websocket.EventsPerMinute, cfg.Websocket.EventBurst, 5*time.Minute)
	deps.Hub = realtime.NewHub(deps.Presence, limiter, cfg.Websocket.SendBufferSize, lgr)

	deps.ChatService = appServices.NewChatService(
		deps.Repos.ChatRepository,
		deps.Repos.ChatRepository,
		deps.Repos.EnrollmentRepository,
		deps.Repos.UserRepository,
		deps.Presence,
		deps.Hub,
		deps.FileStorage,
		lgr,
	)

	// The hub calls back into the service for join checks and the delivered
	// sweep; the service broadcasts through the hub.
	deps.Hub.SetChatEvents(deps.ChatService)

	deps.AuthMiddleware = appMiddleware.NewAuthMiddleware(deps.JWTService)
	deps.ChatController = appControllers.NewChatController(deps.ChatService)
	deps.WSHandler = realtime.NewHandler(deps.Hub, lgr)

	return deps, nil
}

// SetupRouter configures the Gin engine with middleware and routes.
func SetupRouter(cfg *config.Config, deps *Dependencies, lgr zerolog.Logger) *gin.Engine {
	if strings.ToLower(cfg.Server.Mode) == "production" {
		gin.SetMode(gin.ReleaseMode)
		lgr.Info().Msg("Setting Gin mode to release")
	} else {
		gin.SetMode(gin.DebugMode)
		lgr.Info().Msg("Setting Gin mode to debug")
	}

	router := gin.New()
	router.Use(appMiddleware.RequestLogger(), gin.Recovery())

	appRoutes.SetupRouter(router,
		deps.ChatController,
		deps.WSHandler,
		deps.AuthMiddleware,
		cfg.Server.StoragePath,
	)

	return router
}
