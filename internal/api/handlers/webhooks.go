package handlers

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/orrn/printdispatch/internal/core"
	"github.com/orrn/printdispatch/internal/db"
	"github.com/orrn/printdispatch/internal/webhook"
)

// SecretCodec seals webhook secrets at rest.
type SecretCodec interface {
	EncryptSecret(plaintext string) (string, error)
	DecryptSecret(ciphertext string) (string, error)
}

type CreateWebhookRequest struct {
	Name   string   `json:"name" binding:"required"`
	URL    string   `json:"url" binding:"required,url"`
	Secret string   `json:"secret"`
	Events []string `json:"events" binding:"required,min=1"`
}

// WebhookResponse never carries the secret, only whether one is set.
type WebhookResponse struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	URL       string    `json:"url"`
	Events    []string  `json:"events"`
	Enabled   bool      `json:"enabled"`
	Signed    bool      `json:"signed"`
	CreatedAt time.Time `json:"created_at"`
}

type TestWebhookResponse struct {
	Success    bool   `json:"success"`
	StatusCode int    `json:"status_code,omitempty"`
	Message    string `json:"message"`
}

type WebhookHandler struct {
	webhooks *db.WebhookOperations
	codec    SecretCodec
	client   *http.Client
}

func NewWebhookHandler(webhooks *db.WebhookOperations, codec SecretCodec) *WebhookHandler {
	return &WebhookHandler{
		webhooks: webhooks,
		codec:    codec,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

func (h *WebhookHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/webhooks", h.ListWebhooks)
	r.POST("/webhooks", h.CreateWebhook)
	r.GET("/webhooks/:id", h.GetWebhook)
	r.DELETE("/webhooks/:id", h.DeleteWebhook)
	r.POST("/webhooks/:id/test", h.TestWebhook)
}

func (h *WebhookHandler) ListWebhooks(c *gin.Context) {
	hooks, err := h.webhooks.ListWebhooks(c.Request.Context())
	if err != nil {
		respondError(c, http.StatusInternalServerError, "database_error", "Failed to list webhooks")
		return
	}

	out := make([]WebhookResponse, len(hooks))
	for i, w := range hooks {
		out[i] = toWebhookResponse(w)
	}
	c.JSON(http.StatusOK, out)
}

func (h *WebhookHandler) CreateWebhook(c *gin.Context) {
	var req CreateWebhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "validation_error", err.Error())
		return
	}
	for _, event := range req.Events {
		if !subscribable(event) {
			respondError(c, http.StatusBadRequest, "invalid_event", fmt.Sprintf("unknown event %q", event))
			return
		}
	}

	events, _ := json.Marshal(req.Events)
	w := &db.Webhook{
		Name:       req.Name,
		URL:        req.URL,
		EventsJSON: string(events),
		Enabled:    true,
	}
	if req.Secret != "" {
		sealed, err := h.codec.EncryptSecret(req.Secret)
		if err != nil {
			respondError(c, http.StatusInternalServerError, "encryption_error", "Failed to seal webhook secret")
			return
		}
		w.Secret = sealed
	}

	if err := h.webhooks.CreateWebhook(c.Request.Context(), w); err != nil {
		respondError(c, http.StatusInternalServerError, "database_error", "Failed to create webhook")
		return
	}
	c.JSON(http.StatusCreated, toWebhookResponse(w))
}

func (h *WebhookHandler) GetWebhook(c *gin.Context) {
	if w, ok := h.find(c); ok {
		c.JSON(http.StatusOK, toWebhookResponse(w))
	}
}

func (h *WebhookHandler) DeleteWebhook(c *gin.Context) {
	w, ok := h.find(c)
	if !ok {
		return
	}
	if _, err := h.webhooks.DeleteWebhook(c.Request.Context(), w.ID); err != nil {
		respondError(c, http.StatusInternalServerError, "database_error", "Failed to delete webhook")
		return
	}
	c.Status(http.StatusNoContent)
}

// TestWebhook posts one signed sample event to the endpoint. Delivery failures
// are reported in the body with a 200.
func (h *WebhookHandler) TestWebhook(c *gin.Context) {
	w, ok := h.find(c)
	if !ok {
		return
	}

	result, err := h.sendSample(c, w)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "webhook_error", err.Error())
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *WebhookHandler) sendSample(c *gin.Context, w *db.Webhook) (TestWebhookResponse, error) {
	body, err := json.Marshal(gin.H{
		"test":       true,
		"webhook_id": w.ID,
		"timestamp":  time.Now().UTC(),
	})
	if err != nil {
		return TestWebhookResponse{}, err
	}

	req, err := http.NewRequestWithContext(c.Request.Context(), http.MethodPost, w.URL, bytes.NewReader(body))
	if err != nil {
		return TestWebhookResponse{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Event", "test")

	if w.Secret != "" {
		secret, err := h.codec.DecryptSecret(w.Secret)
		if err != nil {
			return TestWebhookResponse{}, fmt.Errorf("read webhook secret: %w", err)
		}
		req.Header.Set("X-Webhook-Signature", webhook.Sign(body, secret))
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return TestWebhookResponse{Message: err.Error()}, nil
	}
	resp.Body.Close()

	return TestWebhookResponse{
		Success:    resp.StatusCode < 400,
		StatusCode: resp.StatusCode,
		Message:    resp.Status,
	}, nil
}

// find resolves the :id parameter, answering 400 or 404 itself.
func (h *WebhookHandler) find(c *gin.Context) (*db.Webhook, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		respondError(c, http.StatusBadRequest, "invalid_id", "Invalid webhook ID")
		return nil, false
	}

	w, err := h.webhooks.GetWebhook(c.Request.Context(), id)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		respondError(c, http.StatusNotFound, "not_found", "Webhook not found")
		return nil, false
	case err != nil:
		respondError(c, http.StatusInternalServerError, "database_error", "Failed to load webhook")
		return nil, false
	}
	return w, true
}

func toWebhookResponse(w *db.Webhook) WebhookResponse {
	events := []string{}
	if w.EventsJSON != "" {
		_ = json.Unmarshal([]byte(w.EventsJSON), &events)
	}
	return WebhookResponse{
		ID:        w.ID,
		Name:      w.Name,
		URL:       w.URL,
		Events:    events,
		Enabled:   w.Enabled,
		Signed:    w.Secret != "",
		CreatedAt: w.CreatedAt,
	}
}

func subscribable(event string) bool {
	switch event {
	case core.EventPrintDone, core.EventPrintFailed, core.EventPrintDeadLettered:
		return true
	}
	return false
}
