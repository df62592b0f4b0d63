package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Attempt score policies decide which attempt feeds the gradebook.
const (
	ScorePolicyLatest  = "latest"
	ScorePolicyHighest = "highest"
)

// Config holds runtime configuration values for the API service.
type Config struct {
	AppName              string
	AppEnv               string
	AppPort              string
	DatabaseURL          string
	RedisURL             string
	NATSURL              string
	RabbitMQURL          string
	RabbitMQExchange     string
	JWTSecret            string
	JWTIssuer            string
	GradebookCacheTTL    time.Duration
	WeightPolicy         string
	WeightTolerance      float64
	AttemptScorePolicy   string
	AttemptSaveRetries   int
	AttemptRetryBackoff  time.Duration
	AnswerRateLimit      int
	NotificationsChannel string
	AIProvider           string
	AIModel              string
	OpenAIAPIKey         string
	CORSAllowOrigins     string
}

// HTTPAddress returns the address the HTTP server should listen on.
func (c Config) HTTPAddress() string {
	if strings.HasPrefix(c.AppPort, ":") {
		return c.AppPort
	}

	return fmt.Sprintf(":%s", c.AppPort)
}

// Load reads configuration values from environment variables and optional .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("GEMA")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("app.name", "GEMA Assessment API")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", "8080")
	v.SetDefault("rabbitmq.exchange", "gema.assessment")
	v.SetDefault("gradebook.cache_ttl", "2m")
	v.SetDefault("gradebook.weight_policy", "renormalize")
	v.SetDefault("gradebook.weight_tolerance", 0.1)
	v.SetDefault("attempt.score_policy", ScorePolicyLatest)
	v.SetDefault("attempt.save_retry", 5)
	v.SetDefault("attempt.retry_backoff", "2s")
	v.SetDefault("attempt.answer_rate_limit", 30)
	v.SetDefault("notifications.channel", "gema:assessment")
	v.SetDefault("ai.provider", "openai")
	v.SetDefault("ai.model", "gpt-4o-mini")
	v.SetDefault("cors.allow_origins", "*")

	ttl, err := time.ParseDuration(v.GetString("gradebook.cache_ttl"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid gradebook cache ttl: %w", err)
	}

	backoff, err := time.ParseDuration(v.GetString("attempt.retry_backoff"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid attempt retry backoff: %w", err)
	}

	cfg := Config{
		AppName:              v.GetString("app.name"),
		AppEnv:               v.GetString("app.env"),
		AppPort:              v.GetString("app.port"),
		DatabaseURL:          v.GetString("database.url"),
		RedisURL:             v.GetString("redis.url"),
		NATSURL:              v.GetString("nats.url"),
		RabbitMQURL:          v.GetString("rabbitmq.url"),
		RabbitMQExchange:     v.GetString("rabbitmq.exchange"),
		JWTSecret:            v.GetString("jwt.secret"),
		JWTIssuer:            strings.TrimSpace(v.GetString("jwt.issuer")),
		GradebookCacheTTL:    ttl,
		WeightPolicy:         strings.ToLower(strings.TrimSpace(v.GetString("gradebook.weight_policy"))),
		WeightTolerance:      v.GetFloat64("gradebook.weight_tolerance"),
		AttemptScorePolicy:   strings.ToLower(strings.TrimSpace(v.GetString("attempt.score_policy"))),
		AttemptSaveRetries:   v.GetInt("attempt.save_retry"),
		AttemptRetryBackoff:  backoff,
		AnswerRateLimit:      v.GetInt("attempt.answer_rate_limit"),
		NotificationsChannel: v.GetString("notifications.channel"),
		AIProvider:           strings.ToLower(v.GetString("ai.provider")),
		AIModel:              v.GetString("ai.model"),
		OpenAIAPIKey:         v.GetString("openai_api_key"),
		CORSAllowOrigins:     v.GetString("cors.allow_origins"),
	}

	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("jwt secret must be provided")
	}

	switch cfg.AttemptScorePolicy {
	case ScorePolicyLatest, ScorePolicyHighest:
	default:
		return Config{}, fmt.Errorf("invalid attempt score policy %q", cfg.AttemptScorePolicy)
	}

	if cfg.WeightTolerance <= 0 {
		cfg.WeightTolerance = 0.1
	}
	if cfg.AttemptSaveRetries < 0 {
		cfg.AttemptSaveRetries = 0
	}
	if cfg.AnswerRateLimit <= 0 {
		cfg.AnswerRateLimit = 30
	}

	return cfg, nil
}
