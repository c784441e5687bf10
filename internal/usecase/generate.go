package usecase

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"minutes-agent/internal/domain"
	"minutes-agent/internal/guard"
	"minutes-agent/internal/integrations/openai"
	"minutes-agent/internal/integrations/paramstore"
	"minutes-agent/internal/minutes"
	"minutes-agent/internal/observability"
)

const defaultMaxInputLen = 50000

// DefaultPolicy is the provider call budget: three attempts of 9s each.
var DefaultPolicy = guard.Policy{
	Timeout:    9 * time.Second,
	MaxRetries: 2,
	BaseDelay:  time.Second,
}

// Provider is the AI model client. Implementations must be safe for
// concurrent use.
type Provider interface {
	GenerateContent(ctx context.Context, prompt string) (string, error)
}

// credentialChecker is implemented by providers that can tell whether they
// are configured without making a model call.
type credentialChecker interface {
	CheckCredentials(ctx context.Context) error
}

type httpStatusCoder interface {
	HTTPStatusCode() int
}

// GenerateService turns meeting notes into normalized MeetingMinutes.
type GenerateService struct {
	provider    Provider
	guard       *guard.Guard
	policy      guard.Policy
	normalizer  *minutes.Normalizer
	metrics     *observability.Metrics
	logger      zerolog.Logger
	maxInputLen int
	now         func() time.Time
}

type GenerateOption func(*GenerateService)

func WithPolicy(p guard.Policy) GenerateOption {
	return func(s *GenerateService) {
		s.policy = p
	}
}

func WithGuard(g *guard.Guard) GenerateOption {
	return func(s *GenerateService) {
		if g != nil {
			s.guard = g
		}
	}
}

func WithNormalizer(n *minutes.Normalizer) GenerateOption {
	return func(s *GenerateService) {
		if n != nil {
			s.normalizer = n
		}
	}
}

func WithMetrics(m *observability.Metrics) GenerateOption {
	return func(s *GenerateService) {
		s.metrics = m
	}
}

func WithLogger(logger zerolog.Logger) GenerateOption {
	return func(s *GenerateService) {
		s.logger = logger
	}
}

func WithMaxInputLength(n int) GenerateOption {
	return func(s *GenerateService) {
		if n > 0 {
			s.maxInputLen = n
		}
	}
}

func WithGenerateClock(now func() time.Time) GenerateOption {
	return func(s *GenerateService) {
		if now != nil {
			s.now = now
		}
	}
}

func NewGenerateService(p Provider, opts ...GenerateOption) (*GenerateService, error) {
	if p == nil {
		return nil, errors.New("usecase: provider must not be nil")
	}
	s := &GenerateService{
		provider:    p,
		policy:      DefaultPolicy,
		normalizer:  minutes.NewNormalizer(nil),
		logger:      zerolog.Nop(),
		maxInputLen: defaultMaxInputLen,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.guard == nil {
		s.guard = guard.New(guard.WithLogger(s.logger))
	}
	return s, nil
}

type GenerateResult struct {
	Minutes  domain.MeetingMinutes
	Duration time.Duration
}

// Generate calls the provider under the retry policy, extracts the JSON
// payload from its text and normalizes it. An unparseable response is not
// retried: it is a content problem, not a transient fault.
func (s *GenerateService) Generate(ctx context.Context, notes string) (GenerateResult, error) {
	start := s.now()
	res, err := s.generate(ctx, notes)
	elapsed := s.now().Sub(start)

	code := "ok"
	if err != nil {
		code = string(CodeOf(err))
	}
	s.metrics.ObserveGeneration(code, elapsed)

	if err != nil {
		return GenerateResult{}, err
	}
	res.Duration = elapsed
	return res, nil
}

func (s *GenerateService) generate(ctx context.Context, notes string) (GenerateResult, error) {
	notes = strings.TrimSpace(notes)
	if notes == "" {
		return GenerateResult{}, newError(ErrorInvalidInput, "empty_input", nil)
	}
	if len(notes) > s.maxInputLen {
		return GenerateResult{}, newError(ErrorInvalidInput, "input_too_long", nil)
	}

	if checker, ok := s.provider.(credentialChecker); ok {
		if err := checker.CheckCredentials(ctx); err != nil {
			return GenerateResult{}, credentialError(err)
		}
	}

	prompt := buildMinutesPrompt(notes)
	raw, err := guard.Invoke(ctx, s.guard, s.policy, func(ctx context.Context) (string, error) {
		text, err := s.provider.GenerateContent(ctx, prompt)
		s.metrics.ObserveAttempt(err)
		if err != nil && missingCredentials(err) {
			return "", guard.Permanent(err)
		}
		return text, err
	})
	if err != nil {
		return GenerateResult{}, classifyProviderError(err)
	}

	payload, err := minutes.ExtractJSON(raw)
	if err != nil {
		var unparseable *minutes.UnparseableError
		if errors.As(err, &unparseable) {
			s.logger.Debug().Str("raw", unparseable.Raw).Msg("usecase: unparseable model response")
		}
		return GenerateResult{}, newError(ErrorUnparseable, "no_json_in_response", err)
	}

	return GenerateResult{Minutes: s.normalizer.Normalize(payload)}, nil
}

// missingCredentials reports whether err means the provider token is not
// configured. Every other provider error is retried.
func missingCredentials(err error) bool {
	return errors.Is(err, paramstore.ErrNotFound) || errors.Is(err, openai.ErrMissingToken)
}

func credentialError(err error) *Error {
	if errors.Is(err, paramstore.ErrNotFound) {
		return newError(ErrorConfiguration, "credential_parameter_missing", err)
	}
	return newError(ErrorConfiguration, "missing_credentials", err)
}

func classifyProviderError(err error) *Error {
	switch {
	case missingCredentials(err):
		return credentialError(err)
	case errors.Is(err, guard.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return newError(ErrorTimeout, "provider_timeout", err)
	case errors.Is(err, context.Canceled):
		return newError(ErrorInternal, "request_cancelled", err)
	}
	if status, ok := upstreamStatusCode(err); ok {
		switch status {
		case http.StatusTooManyRequests:
			return newError(ErrorRateLimited, "provider_rate_limited", err)
		case http.StatusUnauthorized, http.StatusForbidden:
			return newError(ErrorConfiguration, "provider_unauthorized", err)
		}
	}
	return newError(ErrorUpstream, "provider_error", err)
}

func upstreamStatusCode(err error) (int, bool) {
	var statusErr httpStatusCoder
	if !errors.As(err, &statusErr) {
		return 0, false
	}
	return statusErr.HTTPStatusCode(), true
}
