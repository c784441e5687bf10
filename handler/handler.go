package handler

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"minutes-agent/internal/domain"
	"minutes-agent/internal/observability"
	"minutes-agent/internal/usecase"
)

const (
	correlationHeader = "X-Correlation-Id"
	userHeader        = "X-User-Id"
	codeUnauthorized  = "UNAUTHORIZED"
)

// MinutesUseCase is the application surface the handler drives.
type MinutesUseCase interface {
	Generate(ctx context.Context, in usecase.GenerateInput) (usecase.GenerateOutput, error)
	Edit(ctx context.Context, in usecase.EditInput) (usecase.EditOutput, error)
	GetLatest(ctx context.Context, id, owner string) (domain.MinutesRecord, error)
	GetVersions(ctx context.Context, id, owner string) ([]domain.MinutesRecord, error)
}

type Handler struct {
	uc       MinutesUseCase
	logger   zerolog.Logger
	gatherer prometheus.Gatherer
}

type Option func(*Handler)

func WithLogger(logger zerolog.Logger) Option {
	return func(h *Handler) {
		h.logger = logger
	}
}

// WithMetricsGatherer serves g on GET /metrics. Without it the route is not
// exposed.
func WithMetricsGatherer(g prometheus.Gatherer) Option {
	return func(h *Handler) {
		h.gatherer = g
	}
}

func NewHandler(uc MinutesUseCase, opts ...Option) (*Handler, error) {
	if uc == nil {
		return nil, errors.New("handler: use case must not be nil")
	}
	h := &Handler{uc: uc, logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

type generateRequest struct {
	Text string `json:"text"`
}

type editRequest struct {
	Minutes any `json:"minutes"`
}

type generateResponse struct {
	ID         string                `json:"id"`
	Minutes    domain.MeetingMinutes `json:"minutes"`
	DurationMs int64                 `json:"durationMs"`
}

type editResponse struct {
	ID      string `json:"id"`
	Version int    `json:"version"`
}

type recordResponse struct {
	ID        string                `json:"id"`
	RootID    string                `json:"rootId"`
	ParentID  string                `json:"parentId,omitempty"`
	Version   int                   `json:"version"`
	IsLatest  bool                  `json:"isLatest"`
	CreatedAt time.Time             `json:"createdAt"`
	UpdatedAt time.Time             `json:"updatedAt"`
	Minutes   domain.MeetingMinutes `json:"minutes"`
}

type versionsResponse struct {
	Versions []recordResponse `json:"versions"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type route struct {
	name string
	id   string
}

// Handle serves API Gateway proxy requests. It never returns a non-nil error:
// failures are rendered as JSON error bodies.
func (h *Handler) Handle(ctx context.Context, event events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	start := time.Now()
	correlationID := headerValue(event.Headers, correlationHeader)
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	logger := h.logger.With().Str("correlation_id", correlationID).Logger()

	r, ok := matchRoute(event.HTTPMethod, event.Path, event.PathParameters)
	var resp events.APIGatewayProxyResponse
	switch {
	case !ok, r.name == "metrics" && h.gatherer == nil:
		resp = jsonResponse(http.StatusNotFound, errorResponse{Error: string(usecase.ErrorNotFound), Message: "Route not found."})
	case r.name == "metrics":
		resp = h.metrics(logger)
	case headerValue(event.Headers, userHeader) == "":
		resp = jsonResponse(http.StatusUnauthorized, errorResponse{Error: codeUnauthorized, Message: "Authentication is required."})
	default:
		resp = h.dispatch(ctx, logger, r, headerValue(event.Headers, userHeader), event)
	}

	resp.Headers[correlationHeader] = correlationID
	logger.Info().
		Str("route", r.name).
		Str("method", event.HTTPMethod).
		Int("status", resp.StatusCode).
		Dur("elapsed", time.Since(start)).
		Msg("handler: request handled")
	return resp, nil
}

func (h *Handler) dispatch(ctx context.Context, logger zerolog.Logger, r route, owner string, event events.APIGatewayProxyRequest) events.APIGatewayProxyResponse {
	switch r.name {
	case "generate":
		var req generateRequest
		if err := decodeBody(event, &req); err != nil {
			return invalidBody()
		}
		out, err := h.uc.Generate(ctx, usecase.GenerateInput{Text: req.Text, OwnerID: owner})
		if err != nil {
			return errorResult(logger, err)
		}
		return jsonResponse(http.StatusCreated, generateResponse{
			ID:         out.RecordID,
			Minutes:    out.Minutes,
			DurationMs: out.Duration.Milliseconds(),
		})

	case "edit":
		var req editRequest
		if err := decodeBody(event, &req); err != nil {
			return invalidBody()
		}
		out, err := h.uc.Edit(ctx, usecase.EditInput{OriginalID: r.id, Minutes: req.Minutes, OwnerID: owner})
		if err != nil {
			return errorResult(logger, err)
		}
		return jsonResponse(http.StatusCreated, editResponse{ID: out.RecordID, Version: out.Version})

	case "latest":
		rec, err := h.uc.GetLatest(ctx, r.id, owner)
		if err != nil {
			return errorResult(logger, err)
		}
		return jsonResponse(http.StatusOK, toRecordResponse(rec))

	default:
		recs, err := h.uc.GetVersions(ctx, r.id, owner)
		if err != nil {
			return errorResult(logger, err)
		}
		out := versionsResponse{Versions: make([]recordResponse, 0, len(recs))}
		for _, rec := range recs {
			out.Versions = append(out.Versions, toRecordResponse(rec))
		}
		return jsonResponse(http.StatusOK, out)
	}
}

// metrics renders the gathered metrics in the Prometheus text format.
func (h *Handler) metrics(logger zerolog.Logger) events.APIGatewayProxyResponse {
	var buf bytes.Buffer
	contentType, err := observability.WriteText(&buf, h.gatherer)
	if err != nil {
		return errorResult(logger, &usecase.Error{Code: usecase.ErrorInternal, Reason: "metrics_unavailable", Err: err})
	}
	return events.APIGatewayProxyResponse{
		StatusCode: http.StatusOK,
		Headers:    map[string]string{"Content-Type": contentType},
		Body:       buf.String(),
	}
}

// matchRoute resolves POST /minutes, POST /minutes/{id}/edits,
// GET /minutes/{id}/latest, GET /minutes/{id}/versions and GET /metrics. A
// stage prefix in path is tolerated.
func matchRoute(method, path string, params map[string]string) (route, bool) {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if n := len(parts); n <= 2 && parts[n-1] == "metrics" && parts[0] != "minutes" {
		if method != http.MethodGet {
			return route{}, false
		}
		return route{name: "metrics"}, true
	}
	i := 0
	for i < len(parts) && parts[i] != "minutes" {
		i++
	}
	if i == len(parts) {
		return route{}, false
	}
	rest := parts[i+1:]

	switch {
	case len(rest) == 0 && method == http.MethodPost:
		return route{name: "generate"}, true
	case len(rest) == 2:
		id := rest[0]
		if v := params["id"]; v != "" {
			id = v
		}
		switch {
		case rest[1] == "edits" && method == http.MethodPost:
			return route{name: "edit", id: id}, true
		case rest[1] == "latest" && method == http.MethodGet:
			return route{name: "latest", id: id}, true
		case rest[1] == "versions" && method == http.MethodGet:
			return route{name: "versions", id: id}, true
		}
	}
	return route{}, false
}

func decodeBody(event events.APIGatewayProxyRequest, v any) error {
	body := []byte(event.Body)
	if event.IsBase64Encoded {
		decoded, err := base64.StdEncoding.DecodeString(event.Body)
		if err != nil {
			return err
		}
		body = decoded
	}
	return json.Unmarshal(body, v)
}

func invalidBody() events.APIGatewayProxyResponse {
	return jsonResponse(http.StatusBadRequest, errorResponse{
		Error:   string(usecase.ErrorInvalidInput),
		Message: "Request body must be valid JSON.",
	})
}

func errorResult(logger zerolog.Logger, err error) events.APIGatewayProxyResponse {
	var ue *usecase.Error
	if !errors.As(err, &ue) {
		ue = &usecase.Error{Code: usecase.ErrorInternal, Reason: "unexpected_error", Err: err}
	}
	status := statusFor(ue.Code)

	ev := logger.Warn()
	if status >= http.StatusInternalServerError {
		ev = logger.Error()
	}
	ev.Err(ue.Err).Str("code", string(ue.Code)).Str("reason", ue.Reason).Msg("handler: request failed")

	return jsonResponse(status, errorResponse{Error: string(ue.Code), Message: ue.UserMessage()})
}

func statusFor(code usecase.ErrorCode) int {
	switch code {
	case usecase.ErrorInvalidInput:
		return http.StatusBadRequest
	case usecase.ErrorTimeout:
		return http.StatusGatewayTimeout
	case usecase.ErrorRateLimited:
		return http.StatusTooManyRequests
	case usecase.ErrorUpstream, usecase.ErrorUnparseable:
		return http.StatusBadGateway
	case usecase.ErrorNotFound:
		return http.StatusNotFound
	case usecase.ErrorForbidden:
		return http.StatusForbidden
	case usecase.ErrorConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func toRecordResponse(rec domain.MinutesRecord) recordResponse {
	return recordResponse{
		ID:        rec.ID,
		RootID:    rec.LineageRoot(),
		ParentID:  rec.ParentID,
		Version:   rec.EffectiveVersion(),
		IsLatest:  rec.IsLatest,
		CreatedAt: rec.CreatedAt,
		UpdatedAt: rec.UpdatedAt,
		Minutes:   rec.Minutes,
	}
}

func jsonResponse(status int, v any) events.APIGatewayProxyResponse {
	body, err := json.Marshal(v)
	if err != nil {
		status = http.StatusInternalServerError
		body = []byte(`{"error":"INTERNAL_ERROR","message":"Something went wrong. Please try again later."}`)
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       string(body),
	}
}

func headerValue(headers map[string]string, name string) string {
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
