package config

import (
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Port               string `envconfig:"PORT" default:"8080"`
	Environment        string `envconfig:"ENV" default:"development"`
	DBConnectionString string `envconfig:"DATABASE_URL" required:"true"`
	JWTSecret          string `envconfig:"SUPABASE_JWT_SECRET" required:"true"`

	// Billing providers
	StripeSecretKey     string `envconfig:"STRIPE_SECRET_KEY" required:"true"`
	StripeWebhookSecret string `envconfig:"STRIPE_WEBHOOK_SECRET" required:"true"`
	ClerkWebhookSecret  string `envconfig:"CLERK_WEBHOOK_SECRET" required:"true"`

	// AI provider (an OpenAI-compatible completions endpoint)
	GroqAPIKey   string `envconfig:"GROQ_API_KEY" required:"true"`
	GroqBaseURL  string `envconfig:"GROQ_BASE_URL" default:"https://api.groq.com/openai/v1"`
	DefaultModel string `envconfig:"DEFAULT_MODEL" default:"llama-3.3-70b-versatile"`

	// GCP settings (billing event fanout + per-user provider key storage)
	GCPProjectID       string `envconfig:"GCP_PROJECT_ID"`
	BillingEventsTopic string `envconfig:"BILLING_EVENTS_TOPIC" default:"billing-events"`

	// Cloud Scheduler push auth for the retention sweep endpoint
	CleanupEndpointURL           string `envconfig:"CLEANUP_ENDPOINT_URL"`
	SchedulerServiceAccountEmail string `envconfig:"SCHEDULER_SERVICE_ACCOUNT_EMAIL"`

	// Project export storage (S3-compatible)
	S3URL       string `envconfig:"S3_URL" required:"true"`
	S3Bucket    string `envconfig:"S3_BUCKET" required:"true"`
	S3Region    string `envconfig:"S3_REGION" required:"true"`
	S3AccessKey string `envconfig:"S3_ACCESS_KEY" required:"true"`
	S3SecretKey string `envconfig:"S3_SECRET_KEY" required:"true"`

	// Rate limiter retention sweep
	SweepIntervalSec int `envconfig:"SWEEP_INTERVAL_SEC" default:"300"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
