package main

import (
	"context"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"minutes-agent/handler"
	"minutes-agent/internal/guard"
	"minutes-agent/internal/integrations/openai"
	"minutes-agent/internal/integrations/paramstore"
	"minutes-agent/internal/observability"
	"minutes-agent/internal/repository"
	"minutes-agent/internal/usecase"
)

func main() {
	ctx := context.Background()

	logger := newLogger(envString("LOG_LEVEL", "info"))

	// ---- Configuration (read only here) ----
	minutesTable := mustEnv(logger, "MINUTES_TABLE")
	paramPrefix := mustEnv(logger, "PARAM_PREFIX")
	model := envString("OPENAI_MODEL", "gpt-4o-mini")
	baseURL := os.Getenv("OPENAI_BASE_URL")
	maxInputLen := envInt("MAX_INPUT_LENGTH", 50000)
	policy := guard.Policy{
		Timeout:    envDuration("GENERATION_TIMEOUT_MS", usecase.DefaultPolicy.Timeout),
		MaxRetries: envInt("GENERATION_MAX_RETRIES", usecase.DefaultPolicy.MaxRetries),
		BaseDelay:  envDuration("GENERATION_BASE_DELAY_MS", usecase.DefaultPolicy.BaseDelay),
	}

	// ---- AWS SDK config ----
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load AWS config")
	}

	// ---- Clients ----
	ssmClient, err := paramstore.New(awsssm.NewFromConfig(cfg))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create SSM client")
	}
	store, err := repository.New(awsdynamodb.NewFromConfig(cfg), minutesTable)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create minutes store")
	}

	openaiOpts := []openai.Option{openai.WithModel(model)}
	if baseURL != "" {
		openaiOpts = append(openaiOpts, openai.WithBaseURL(baseURL))
	}
	openaiClient, err := openai.NewClient(ssmClient, paramPrefix, openaiOpts...)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create OpenAI client")
	}

	// ---- Services ----
	metrics := observability.DefaultMetrics()

	generator, err := usecase.NewGenerateService(openaiClient,
		usecase.WithPolicy(policy),
		usecase.WithGuard(guard.New(guard.WithLogger(logger))),
		usecase.WithMetrics(metrics),
		usecase.WithLogger(logger),
		usecase.WithMaxInputLength(maxInputLen),
	)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create generate service")
	}
	versions, err := usecase.NewVersionService(store, usecase.WithVersionLogger(logger))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create version service")
	}
	minutesService, err := usecase.NewMinutesService(generator, versions, metrics)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create minutes service")
	}

	// ---- Handler ----
	h, err := handler.NewHandler(minutesService,
		handler.WithLogger(logger),
		handler.WithMetricsGatherer(prometheus.DefaultGatherer),
	)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create handler")
	}

	logger.Info().
		Str("table", minutesTable).
		Str("model", model).
		Dur("attempt_timeout", policy.Timeout).
		Int("max_retries", policy.MaxRetries).
		Msg("minutes agent starting")
	lambda.Start(h.Handle)
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.TimeFieldFormat = time.RFC3339Nano
	return zerolog.New(os.Stdout).
		Level(lvl).
		With().
		Timestamp().
		Str("service", "minutes-agent").
		Logger()
}

func mustEnv(logger zerolog.Logger, key string) string {
	v := os.Getenv(key)
	if v == "" {
		logger.Fatal().Str("key", key).Msg("required environment variable is not set")
	}
	return v
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// envDuration reads a millisecond count.
func envDuration(key string, def time.Duration) time.Duration {
	n := envInt(key, -1)
	if n < 0 {
		return def
	}
	return time.Duration(n) * time.Millisecond
}
