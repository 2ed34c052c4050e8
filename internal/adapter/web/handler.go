package web

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/openreview/openreview/internal/domain"
	"github.com/openreview/openreview/internal/usecase/review"
)

// Pipeline is the inbound port the webhook handler drives.
type Pipeline interface {
	Process(ctx context.Context, intent *review.Intent) error
}

// Logger matches the structured logger shared across the service.
type Logger interface {
	LogInfo(ctx context.Context, message string, fields map[string]interface{})
	LogWarning(ctx context.Context, message string, fields map[string]interface{})
}

// WebhookHandler terminates GitHub webhook deliveries: it verifies the
// signature over the raw body, routes the event, and runs the pipeline.
type WebhookHandler struct {
	secret   string
	pipeline Pipeline
	logger   Logger

	// maxBodyBytes caps the request body read; GitHub caps payloads at
	// 25 MB so anything larger is not a legitimate delivery.
	maxBodyBytes int64
}

// NewWebhookHandler constructs the webhook handler.
func NewWebhookHandler(secret string, pipeline Pipeline, logger Logger) *WebhookHandler {
	return &WebhookHandler{
		secret:       secret,
		pipeline:     pipeline,
		logger:       logger,
		maxBodyBytes: 25 << 20,
	}
}

// ServeHTTP handles POST /api/webhook.
//
// The signature check runs before any JSON parsing, on the raw body.
// Out-of-scope and malformed events answer 200 so GitHub does not retry
// them; only signature failures (401) and processing errors (500) are
// reported as such.
func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respond(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, h.maxBodyBytes))
	if err != nil {
		h.logWarning(r.Context(), "failed to read webhook body", map[string]interface{}{"error": err.Error()})
		respond(w, http.StatusInternalServerError, "Processing failed")
		return
	}

	signature := r.Header.Get("X-Hub-Signature-256")
	event := r.Header.Get("X-GitHub-Event")

	if !VerifySignature(body, signature, h.secret) {
		h.logWarning(r.Context(), "invalid webhook signature", map[string]interface{}{"event": event})
		respond(w, http.StatusUnauthorized, "Invalid signature")
		return
	}

	h.logInfo(r.Context(), "received webhook event", map[string]interface{}{"event": event})

	intent, err := review.Route(event, body)
	if err != nil {
		if errors.Is(err, domain.ErrMalformedEvent) {
			h.logWarning(r.Context(), "malformed webhook event", map[string]interface{}{
				"event": event,
				"error": err.Error(),
			})
			respond(w, http.StatusOK, "Event ignored")
			return
		}
		respond(w, http.StatusInternalServerError, "Processing failed")
		return
	}
	if intent == nil {
		respond(w, http.StatusOK, "Event ignored")
		return
	}

	// Webhook delivery is fire-and-forget from GitHub's side: a client
	// disconnect must not abandon an in-flight LLM call, so the pipeline
	// runs detached from the request context.
	if err := h.pipeline.Process(context.WithoutCancel(r.Context()), intent); err != nil {
		h.logWarning(r.Context(), "webhook processing failed", map[string]interface{}{
			"event":  event,
			"target": intent.TargetKey(),
			"error":  err.Error(),
		})
		respond(w, http.StatusInternalServerError, "Processing failed")
		return
	}

	respond(w, http.StatusOK, "Webhook processed")
}

func respond(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

func (h *WebhookHandler) logInfo(ctx context.Context, message string, fields map[string]interface{}) {
	if h.logger != nil {
		h.logger.LogInfo(ctx, message, fields)
	}
}

func (h *WebhookHandler) logWarning(ctx context.Context, message string, fields map[string]interface{}) {
	if h.logger != nil {
		h.logger.LogWarning(ctx, message, fields)
	}
}
