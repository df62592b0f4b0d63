package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-assessment-api/internal/config"
	"github.com/noah-isme/gema-assessment-api/internal/database"
	"github.com/noah-isme/gema-assessment-api/internal/gradebook"
	"github.com/noah-isme/gema-assessment-api/internal/handler"
	"github.com/noah-isme/gema-assessment-api/internal/middleware"
	"github.com/noah-isme/gema-assessment-api/internal/models"
	"github.com/noah-isme/gema-assessment-api/internal/observability"
	"github.com/noah-isme/gema-assessment-api/internal/repository"
	"github.com/noah-isme/gema-assessment-api/internal/router"
	"github.com/noah-isme/gema-assessment-api/internal/service"
	"github.com/noah-isme/gema-assessment-api/internal/session"
	"github.com/noah-isme/gema-assessment-api/pkg/ai"
	"github.com/noah-isme/gema-assessment-api/pkg/events"
)

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load configuration")
	}
	logger = logger.With().Str("service", cfg.AppName).Str("env", cfg.AppEnv).Logger()

	weightPolicy, err := gradebook.ParsePolicy(cfg.WeightPolicy)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid gradebook weight policy")
	}

	db, err := database.ConnectPostgres(cfg.DatabaseURL, database.DefaultPoolOptions(), logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}

	if err := db.AutoMigrate(
		&models.Assessment{},
		&models.Question{},
		&models.Attempt{},
		&models.CategoryWeight{},
		&models.GradedItem{},
		&models.CourseMember{},
		&models.Notification{},
		&models.ActivityLog{},
		&models.SuggestionDraft{},
	); err != nil {
		logger.Fatal().Err(err).Msg("failed to migrate database")
	}

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient, err = database.ConnectRedis(context.Background(), cfg.RedisURL, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer redisClient.Close()
	}

	var natsConn *nats.Conn
	if cfg.NATSURL != "" {
		natsConn, err = database.ConnectNATS(cfg.NATSURL, cfg.AppName+"-"+uuid.NewString()[:8])
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to nats")
		}
		defer natsConn.Drain()
	}

	publisher := events.NopPublisher()
	if cfg.RabbitMQURL != "" {
		publisher, err = events.DialRabbitMQ(cfg.RabbitMQURL, cfg.RabbitMQExchange, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to rabbitmq")
		}
	}
	defer publisher.Close()

	var suggester ai.Suggester
	if cfg.AIProvider == "openai" && cfg.OpenAIAPIKey != "" {
		openAI, err := ai.NewOpenAISuggester(ai.OpenAIConfig{
			APIKey:      cfg.OpenAIAPIKey,
			Model:       cfg.AIModel,
			Temperature: 0.2,
			Logger:      logger,
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to create content suggester")
		}
		suggester = openAI
	} else {
		logger.Info().Msg("content suggestions disabled")
	}

	observability.RegisterMetrics()
	validate := validator.New(validator.WithRequiredStructEnabled())

	assessmentRepo := repository.NewAssessmentRepository(db)
	attemptRepo := repository.NewAttemptRepository(db)
	gradeRepo := repository.NewGradeRepository(db)
	weightRepo := repository.NewCategoryWeightRepository(db)
	memberRepo := repository.NewCourseMemberRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)
	activityRepo := repository.NewActivityLogRepository(db)
	suggestionRepo := repository.NewSuggestionRepository(db)

	access := service.NewCourseAccess(memberRepo)
	notificationService := service.NewNotificationService(notificationRepo, redisClient, cfg.NotificationsChannel, natsConn, validate, logger)
	activityService := service.NewActivityService(activityRepo, access, validate, logger)
	gradebookService := service.NewGradebookService(gradeRepo, weightRepo, access, notificationService, publisher, activityService, redisClient, service.GradebookConfig{
		Policy:          weightPolicy,
		WeightTolerance: cfg.WeightTolerance,
		CacheTTL:        cfg.GradebookCacheTTL,
	}, validate, logger)
	assessmentService := service.NewAssessmentService(assessmentRepo, access, notificationService, publisher, validate, logger)
	attemptService := service.NewAttemptService(attemptRepo, assessmentRepo, access, gradebookService, notificationService, publisher, activityService, service.AttemptConfig{
		ScorePolicy: cfg.AttemptScorePolicy,
		SessionOptions: session.Options{
			SaveRetries:  cfg.AttemptSaveRetries,
			RetryBackoff: cfg.AttemptRetryBackoff,
		},
	}, validate, logger)
	suggestionService := service.NewSuggestionService(suggestionRepo, suggester, attemptRepo, assessmentService, attemptService, access, activityService, validate, logger)

	rootCtx, cancelRoot := context.WithCancel(context.Background())
	defer cancelRoot()

	notificationService.Start(rootCtx)

	resumed, err := attemptService.ResumeInProgress(rootCtx)
	if err != nil {
		logger.Error().Err(err).Msg("failed to resume in-progress attempts")
	} else {
		logger.Info().Int("attempts", resumed).Msg("resumed in-progress attempts")
	}

	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ServerHeader: cfg.AppName,
	})

	middleware.Register(app, middleware.Config{
		Logger:       &logger,
		AllowOrigins: cfg.CORSAllowOrigins,
		AccessLog:    cfg.AppEnv == "development",
	})
	router.Register(app, cfg, router.Dependencies{
		AssessmentHandler: handler.NewAssessmentHandler(assessmentService, logger),
		AttemptHandler: handler.NewAttemptHandler(attemptService, handler.AttemptHandlerOptions{
			AnswerRateLimit:  cfg.AnswerRateLimit,
			AnswerRateWindow: time.Minute,
		}, logger),
		GradingHandler:      handler.NewGradingHandler(attemptService, logger),
		GradebookHandler:    handler.NewGradebookHandler(gradebookService, logger),
		NotificationHandler: handler.NewNotificationHandler(notificationService, logger, 30*time.Second),
		SuggestionHandler:   handler.NewSuggestionHandler(suggestionService, logger),
		ActivityHandler:     handler.NewActivityHandler(activityService, logger),
		JWTMiddleware:       middleware.JWTProtected(cfg.JWTSecret, middleware.WithIssuer(cfg.JWTIssuer)),
		HealthProbes:        healthProbes(db, redisClient, natsConn),
		ExposeMetrics:       true,
	})

	go func() {
		if err := app.Listen(cfg.HTTPAddress()); err != nil {
			logger.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	waitForShutdown(app, logger)
	cancelRoot()
	notificationService.Wait()
}

func waitForShutdown(app *fiber.App, logger zerolog.Logger) {
	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-shutdownCtx.Done()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}

	logger.Info().Msg("server stopped")
}

// healthProbes checks the stores attempts and grades depend on. Optional
// backends are probed only when configured.
func healthProbes(db *gorm.DB, redisClient *redis.Client, natsConn *nats.Conn) []handler.Probe {
	probes := []handler.Probe{{
		Name: "database",
		Check: func(ctx context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		},
	}}

	if redisClient != nil {
		probes = append(probes, handler.Probe{
			Name:  "redis",
			Check: func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
		})
	}
	if natsConn != nil {
		probes = append(probes, handler.Probe{
			Name: "nats",
			Check: func(context.Context) error {
				if !natsConn.IsConnected() {
					return errors.New(natsConn.Status().String())
				}
				return nil
			},
		})
	}
	return probes
}
