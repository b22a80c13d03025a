package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/relaykit/copilot-relay/internal/accumulator"
	"github.com/relaykit/copilot-relay/internal/admission"
	"github.com/relaykit/copilot-relay/internal/alias"
	"github.com/relaykit/copilot-relay/internal/auth"
	"github.com/relaykit/copilot-relay/internal/catalog"
	"github.com/relaykit/copilot-relay/internal/credential"
	"github.com/relaykit/copilot-relay/internal/domain"
	"github.com/relaykit/copilot-relay/internal/metrics"
	"github.com/relaykit/copilot-relay/internal/telemetry"
	"github.com/relaykit/copilot-relay/internal/usage"
)

// Relayer streams raw SSE payloads from the upstream completion API.
type Relayer interface {
	Stream(ctx context.Context, req domain.ChatRequest) (<-chan []byte, <-chan error, error)
}

// CatalogSource lists the models the upstream currently serves.
type CatalogSource interface {
	Models(ctx context.Context) ([]catalog.Model, error)
}

// TokenRefresher exchanges the long-lived token for a fresh credential.
type TokenRefresher interface {
	ForceRefresh(ctx context.Context) (*credential.Credential, error)
}

type HandlerConfig struct {
	Relay     Relayer
	Catalog   CatalogSource
	Refresher TokenRefresher
	Admission admission.Gate
	Usage     usage.Recorder
	Registry  *alias.Registry
	AdminKey  *auth.AdminKey

	HealthCheckers []HealthChecker
	HealthTimeout  time.Duration
}

type Handler struct {
	relay     Relayer
	catalog   CatalogSource
	refresher TokenRefresher
	admission admission.Gate
	usage     usage.Recorder
	registry  *alias.Registry
	adminKey  *auth.AdminKey
	mux       *http.ServeMux
}

func NewHandler(cfg HandlerConfig) *Handler {
	registry := cfg.Registry
	if registry == nil {
		registry = alias.Default()
	}
	adminKey := cfg.AdminKey
	if adminKey == nil {
		adminKey = auth.NewAdminKey("")
	}
	healthTimeout := cfg.HealthTimeout
	if healthTimeout == 0 {
		healthTimeout = 5 * time.Second
	}

	h := &Handler{
		relay:     cfg.Relay,
		catalog:   cfg.Catalog,
		refresher: cfg.Refresher,
		admission: cfg.Admission,
		usage:     cfg.Usage,
		registry:  registry,
		adminKey:  adminKey,
		mux:       http.NewServeMux(),
	}

	h.mux.HandleFunc("POST /v1/chat/completions", h.handleChatCompletions)
	h.mux.HandleFunc("GET /v1/models", h.handleListModels)
	h.mux.HandleFunc("POST /token/refresh", h.handleTokenRefresh)
	h.mux.HandleFunc("GET /health", h.handleHealth)
	h.mux.HandleFunc("GET /health/live", h.handleHealthLive)
	h.mux.Handle("GET /health/ready", handleHealthReadyWithCheckers(cfg.HealthCheckers, healthTimeout))
	h.mux.Handle("GET /metrics", promhttp.Handler())

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()

	requestID := r.Header.Get("X-Request-ID")
	if requestID == "" {
		requestID = uuid.New().String()
	}

	var req domain.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Model == "" || len(req.Messages) == 0 {
		writeError(w, http.StatusBadRequest, "model and messages are required")
		return
	}

	if h.admission != nil {
		if err := h.admission.Admit(ctx, clientKey(r)); err != nil {
			h.rejectAdmission(w, err, requestID)
			return
		}
	}

	// The client's preference decides the response shape. Upstream is
	// always streamed regardless.
	wantStream := req.Stream

	mode := "buffered"
	if wantStream {
		mode = "streaming"
	}

	ctx, span := telemetry.StartSpan(ctx, "chat_completions")
	defer span.End()
	telemetry.AddRequestAttributes(span, requestID, req.Model, initiator(req.Messages), wantStream)

	events, errs, err := h.relay.Stream(ctx, req)
	if err != nil {
		telemetry.AddErrorAttribute(span, err)
		h.writeRelayError(w, err, requestID)
		metrics.RequestsTotal.WithLabelValues(req.Model, mode, "error").Inc()
		return
	}

	var rec usage.Record
	var ok bool
	if wantStream {
		rec, ok = h.streamResponse(ctx, w, events, errs, req, requestID)
	} else {
		rec, ok = h.bufferResponse(ctx, w, events, errs, req, requestID)
	}
	if !ok {
		metrics.RequestsTotal.WithLabelValues(req.Model, mode, "error").Inc()
		return
	}

	latency := time.Since(start)
	rec.RequestID = requestID
	rec.Model = req.Model
	rec.Streamed = wantStream
	rec.LatencyMs = latency.Milliseconds()
	rec.CreatedAt = start

	if h.usage != nil {
		if err := h.usage.Record(ctx, rec); err != nil {
			slog.Warn("failed to record usage", "error", err, "request_id", requestID)
		}
	}

	telemetry.AddTokenAttributes(span, rec.PromptTokens, rec.CompletionTokens)
	metrics.RequestsTotal.WithLabelValues(req.Model, mode, "ok").Inc()
	metrics.RequestDuration.WithLabelValues(req.Model, mode).Observe(latency.Seconds())
	metrics.TokensTotal.WithLabelValues(req.Model, "prompt").Add(float64(rec.PromptTokens))
	metrics.TokensTotal.WithLabelValues(req.Model, "completion").Add(float64(rec.CompletionTokens))

	slog.Info("request completed",
		"request_id", requestID,
		"model", req.Model,
		"mode", mode,
		"finish_reason", rec.FinishReason,
		"latency_ms", rec.LatencyMs,
	)
}

// bufferResponse folds the upstream stream into a single JSON response.
func (h *Handler) bufferResponse(ctx context.Context, w http.ResponseWriter, events <-chan []byte, errs <-chan error, req domain.ChatRequest, requestID string) (usage.Record, bool) {
	acc := accumulator.New()

loop:
	for {
		select {
		case payload, ok := <-events:
			if !ok {
				break loop
			}
			metrics.StreamChunksTotal.Inc()
			if !acc.Add(payload) {
				break loop
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if err != nil {
				slog.Error("upstream stream failed mid-response", "error", err, "request_id", requestID)
				writeError(w, http.StatusBadGateway, "upstream stream interrupted")
				return usage.Record{}, false
			}
		case <-ctx.Done():
			return usage.Record{}, false
		}
	}

	// The error channel is buffered, so a scan failure may still be
	// pending after the event channel closes.
	select {
	case err := <-errs:
		if err != nil {
			slog.Error("upstream stream failed mid-response", "error", err, "request_id", requestID)
			writeError(w, http.StatusBadGateway, "upstream stream interrupted")
			return usage.Record{}, false
		}
	default:
	}

	resp := acc.Response(req.Model)

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Request-ID", requestID)
	json.NewEncoder(w).Encode(resp)

	return usageFromResponse(resp), true
}

// streamResponse forwards upstream payloads verbatim, terminating with
// its own sentinel so clients always see exactly one.
func (h *Handler) streamResponse(ctx context.Context, w http.ResponseWriter, events <-chan []byte, errs <-chan error, req domain.ChatRequest, requestID string) (usage.Record, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return usage.Record{}, false
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Request-ID", requestID)

	// Folding a copy of the stream gives the usage record its token
	// counts without touching what goes over the wire.
	acc := accumulator.New()

	for {
		select {
		case payload, ok := <-events:
			if !ok {
				w.Write([]byte("data: " + domain.SSEDone + "\n\n"))
				flusher.Flush()
				return usageFromResponse(acc.Response(req.Model)), true
			}
			metrics.StreamChunksTotal.Inc()
			if strings.TrimSpace(string(payload)) == domain.SSEDone {
				continue
			}
			acc.Add(payload)
			w.Write([]byte("data: "))
			w.Write(payload)
			w.Write([]byte("\n\n"))
			flusher.Flush()

		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if err != nil {
				slog.Error("streaming error", "error", err, "request_id", requestID)
				return usageFromResponse(acc.Response(req.Model)), false
			}

		case <-ctx.Done():
			return usageFromResponse(acc.Response(req.Model)), false
		}
	}
}

func (h *Handler) handleListModels(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	models, err := h.catalog.Models(ctx)
	if err != nil {
		var ue *domain.UpstreamError
		if errors.As(err, &ue) {
			writeUpstream(w, ue)
			return
		}
		slog.Error("failed to list models", "error", err)
		writeError(w, http.StatusBadGateway, "model catalog unavailable")
		return
	}

	seen := make(map[string]bool)
	data := make([]domain.Model, 0, len(models))
	for _, m := range models {
		ownedBy := m.Vendor
		if ownedBy == "" {
			ownedBy = "copilot"
		}
		for _, id := range h.registry.ExpandWithAliases([]string{m.ID}) {
			if seen[id] {
				continue
			}
			seen[id] = true
			data = append(data, domain.Model{
				ID:          id,
				Object:      domain.ObjectModel,
				OwnedBy:     ownedBy,
				DisplayName: m.Name,
			})
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(domain.ModelsResponse{
		Object: domain.ObjectList,
		Data:   data,
	})
}

func (h *Handler) handleTokenRefresh(w http.ResponseWriter, r *http.Request) {
	if err := h.adminKey.Verify(r); err != nil {
		if errors.Is(err, auth.ErrDisabled) {
			writeError(w, http.StatusForbidden, "admin endpoints disabled")
			return
		}
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	cred, err := h.refresher.ForceRefresh(r.Context())
	if err != nil {
		slog.Error("manual token refresh failed", "error", err)
		writeError(w, http.StatusBadGateway, "token refresh failed")
		return
	}

	slog.Info("manual token refresh succeeded", "endpoint", cred.Endpoint)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": true,
		"message": "credential refreshed, endpoint " + cred.Endpoint,
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status":  "healthy",
		"version": "0.1.0",
	})
}

func (h *Handler) handleHealthLive(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (h *Handler) rejectAdmission(w http.ResponseWriter, err error, requestID string) {
	switch {
	case errors.Is(err, domain.ErrRateLimitExceeded):
		metrics.AdmissionRejectionsTotal.WithLabelValues("rate_limit").Inc()
		slog.Warn("rate limit exceeded", "request_id", requestID)
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
	case errors.Is(err, domain.ErrNotApproved):
		metrics.AdmissionRejectionsTotal.WithLabelValues("not_approved").Inc()
		slog.Warn("request not approved", "request_id", requestID)
		writeError(w, http.StatusForbidden, "request not approved")
	default:
		slog.Error("admission check failed", "error", err, "request_id", requestID)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (h *Handler) writeRelayError(w http.ResponseWriter, err error, requestID string) {
	var ue *domain.UpstreamError
	switch {
	case errors.As(err, &ue):
		slog.Warn("upstream rejected request",
			"status", ue.StatusCode,
			"request_id", requestID,
		)
		writeUpstream(w, ue)
	case errors.Is(err, domain.ErrCredentialMissing):
		writeError(w, http.StatusUnauthorized, "no upstream credential available")
	default:
		slog.Error("relay dispatch failed", "error", err, "request_id", requestID)
		writeError(w, http.StatusBadGateway, "upstream unavailable")
	}
}

// writeUpstream surfaces the upstream's status and body verbatim so
// clients see what the upstream actually said.
func writeUpstream(w http.ResponseWriter, ue *domain.UpstreamError) {
	contentType := "application/json"
	if !json.Valid(ue.Body) {
		contentType = "text/plain"
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(ue.StatusCode)
	w.Write(ue.Body)
}

func usageFromResponse(resp *domain.ChatResponse) usage.Record {
	rec := usage.Record{}
	if resp.Usage != nil {
		rec.PromptTokens = resp.Usage.PromptTokens
		rec.CompletionTokens = resp.Usage.CompletionTokens
	}
	if len(resp.Choices) > 0 {
		rec.FinishReason = resp.Choices[0].FinishReason
	}
	return rec
}

// clientKey identifies the caller for admission control. Prefers the
// bearer token, falls back to the remote address.
func clientKey(r *http.Request) string {
	if key := auth.ExtractBearerToken(r); key != "" {
		return key
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func initiator(messages []domain.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		switch messages[i].Role {
		case domain.RoleUser:
			return "user"
		case domain.RoleAssistant, domain.RoleTool:
			return "agent"
		}
	}
	return "user"
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"error": map[string]interface{}{
			"message": message,
			"type":    "error",
			"code":    status,
		},
	})
}
