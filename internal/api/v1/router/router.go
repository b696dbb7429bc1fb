package router

import (
	"context"
	"net/http"
	"strings"

	"forge/internal/api/v1/handler"
	"forge/internal/config"
	"forge/internal/middleware"
	"forge/internal/pubsub"
	"forge/internal/repository"
	"forge/internal/service"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	awsmiddleware "github.com/aws/smithy-go/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
)

func New(cfg *config.Config, logger zerolog.Logger) (http.Handler, *pgxpool.Pool, error) {
	logger.Info().Msg("Router initialized")
	logger.Info().Str("environment", cfg.Environment).Msg("App environment loaded")

	// 1. Open DB connection (connection pooling)
	dsn := cfg.DBConnectionString
	// In a development environment, we want to ensure that SSL is disabled for
	// local testing. In production, the connection string should be provided
	// with the correct SSL settings.
	if cfg.Environment == "development" && !strings.Contains(dsn, "sslmode") {
		separator := "?"
		if strings.Contains(dsn, "?") {
			separator = "&"
		}
		dsn += separator + "sslmode=disable"
	}

	pool, err := pgxpool.New(context.Background(), dsn)
	if err != nil {
		logger.Fatal().Msgf("Failed to open DB connection: %v", err)
		return nil, nil, err
	}
	if err := pool.Ping(context.Background()); err != nil {
		logger.Fatal().Msgf("Failed to ping DB: %v", err)
		return nil, nil, err
	}
	logger.Info().Msg("Database connection successful")

	// 2. Initialize S3 client
	s3Config, err := awsconfig.LoadDefaultConfig(context.TODO(),
		awsconfig.WithRegion(cfg.S3Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.S3AccessKey, cfg.S3SecretKey, "")),
		awsconfig.WithAPIOptions([]func(*awsmiddleware.Stack) error{removeDisableGzip()}),
	)
	if err != nil {
		logger.Fatal().Msgf("Failed to load S3 config: %v", err)
	}
	s3Client := s3.NewFromConfig(s3Config, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(cfg.S3URL)
		o.UsePathStyle = true
	})

	// 3. Initialize validator
	validate := validator.New(validator.WithRequiredStructEnabled())

	// 4. Initialize Pub/Sub publisher
	pubSubPublisher, err := pubsub.NewPublisher(context.Background(), cfg)
	if err != nil {
		logger.Fatal().Msgf("Failed to create Pub/Sub publisher: %v", err)
		return nil, nil, err
	}

	// 5. Initialize Secret Manager
	secretSvc, err := service.NewSecretManagerService(context.Background(), cfg)
	if err != nil {
		logger.Fatal().Msgf("Failed to create Secret Manager service: %v", err)
		return nil, nil, err
	}

	// 6. Initialize repositories & services & handlers
	userRepo := repository.NewUserRepo(pool)
	subRepo := repository.NewSubscriptionRepo(pool)
	eventRepo := repository.NewWebhookEventRepo(pool)
	rlRepo := repository.NewRateLimitRepo(pool)

	subSvc := service.NewSubscriptionService(subRepo, logger)
	rlSvc := service.NewRateLimitService(rlRepo, logger)
	billingClient := service.NewStripeBillingClient(cfg)
	webhookSvc := service.NewWebhookService(cfg, userRepo, subSvc, eventRepo, billingClient, pubSubPublisher, logger)
	aiClient := service.NewGroqClient(cfg.GroqBaseURL, logger)
	genSvc := service.NewGenerationService(cfg, subSvc, rlSvc, aiClient, secretSvc, logger)
	exportSvc := service.NewExportService(s3Client, cfg.S3Bucket, subSvc, rlSvc, logger)

	webhookHandler := handler.NewWebhookHandler(webhookSvc)
	generationHandler := handler.NewGenerationHandler(genSvc, validate, logger)
	usageHandler := handler.NewUsageHandler(rlSvc, subSvc, logger)
	subscriptionHandler := handler.NewSubscriptionHandler(subSvc, logger)
	exportHandler := handler.NewExportHandler(exportSvc, validate, logger)
	providerKeyHandler := handler.NewProviderKeyHandler(secretSvc, validate, logger)
	maintenanceHandler := handler.NewMaintenanceHandler(rlSvc, webhookSvc, logger)

	// 7. Initialize middleware
	authMiddleware := middleware.AuthMiddleware(cfg.JWTSecret)
	isLocalDev := cfg.Environment == "development"
	schedulerAuthMiddleware := middleware.SchedulerAuthMiddleware(isLocalDev, cfg.CleanupEndpointURL, cfg.SchedulerServiceAccountEmail, logger)

	// 8. Create ServeMux router
	mux := http.NewServeMux()

	// Create a subrouter for API v1 with the /v1 prefix
	apiV1Mux := http.NewServeMux()
	webhookHandler.RegisterRoutes(apiV1Mux)
	generationHandler.RegisterRoutes(apiV1Mux, authMiddleware)
	usageHandler.RegisterRoutes(apiV1Mux, authMiddleware)
	subscriptionHandler.RegisterRoutes(apiV1Mux, authMiddleware)
	exportHandler.RegisterRoutes(apiV1Mux, authMiddleware)
	providerKeyHandler.RegisterRoutes(apiV1Mux, authMiddleware)

	// Mount the API v1 routes under /v1
	mux.Handle("/v1/", http.StripPrefix("/v1", apiV1Mux))

	// Internal maintenance routes live outside /v1 and are authenticated by
	// the Cloud Scheduler OIDC token, not user JWTs.
	maintenanceHandler.RegisterRoutes(mux, schedulerAuthMiddleware)

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	// 9. Apply CORS middleware
	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"}, // Allow all origins for development
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})

	return middleware.LoggerMiddleware(c.Handler(mux)), pool, nil
}

// removeDisableGzip is a workaround for S3 signature errors with some S3-compatible services.
// See: https://github.com/supabase/storage/issues/577
func removeDisableGzip() func(*awsmiddleware.Stack) error {
	return func(stack *awsmiddleware.Stack) error {
		// Only remove the middleware if it exists.
		// This makes the client more robust, especially for operations like presigned URLs
		// that might inspect the middleware stack.
		if _, ok := stack.Finalize.Get("DisableAcceptEncodingGzip"); ok {
			_, err := stack.Finalize.Remove("DisableAcceptEncodingGzip")
			return err
		}
		return nil
	}
}
