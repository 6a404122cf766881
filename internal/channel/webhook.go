package channel

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"hassbridge/internal/domain"
)

const webhookMaxBody = 64 << 10

// Webhook implements domain.Channel for HTTP POSTs. It does not listen by
// itself; the HTTP server mounts Handler at the configured path.
type Webhook struct {
	secret  string
	limiter *RateLimiter
	logger  *slog.Logger

	mu  sync.RWMutex
	bus domain.MessageBus
}

type WebhookConfig struct {
	Secret  string       // HMAC secret for X-Signature-256; empty disables the check
	Limiter *RateLimiter // optional; nil accepts every request
	Logger  *slog.Logger
}

// WebhookPayload is the expected JSON body.
type WebhookPayload struct {
	ChatID  string `json:"chat_id"`
	UserID  string `json:"user_id"`
	Content string `json:"content"`
}

func NewWebhook(cfg WebhookConfig) *Webhook {
	return &Webhook{
		secret:  cfg.Secret,
		limiter: cfg.Limiter,
		logger:  cfg.Logger,
	}
}

var _ domain.Channel = (*Webhook)(nil)

func (w *Webhook) Name() string { return "webhook" }

// Start attaches the bus and blocks until ctx is cancelled.
func (w *Webhook) Start(ctx context.Context, bus domain.MessageBus) error {
	bus.OnOutbound(w.Name(), func(msg domain.OutboundMessage) {
		_ = w.Send(ctx, msg.ChatID, msg.Content)
	})

	w.mu.Lock()
	w.bus = bus
	w.mu.Unlock()

	<-ctx.Done()
	return nil
}

// Send logs the reply: the HTTP response was already sent when the message
// was accepted.
func (w *Webhook) Send(ctx context.Context, chatID string, content string) error {
	w.logger.Info("webhook reply", "chat_id", chatID, "content", content)
	return nil
}

// Handler returns the POST handler to mount on the HTTP server.
func (w *Webhook) Handler() http.HandlerFunc {
	return w.handleWebhook
}

func (w *Webhook) handleWebhook(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(rw, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	w.mu.RLock()
	bus := w.bus
	w.mu.RUnlock()
	if bus == nil {
		http.Error(rw, "Not ready", http.StatusServiceUnavailable)
		return
	}

	if !w.limiter.Allow() {
		w.logger.Warn("webhook rate limit exceeded", "remote", r.RemoteAddr)
		http.Error(rw, "Too Many Requests", http.StatusTooManyRequests)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, webhookMaxBody))
	if err != nil {
		http.Error(rw, "Bad Request", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	if w.secret != "" {
		sig := r.Header.Get("X-Signature-256")
		if sig == "" {
			http.Error(rw, "Missing signature", http.StatusUnauthorized)
			return
		}
		if !verifyHMAC(body, w.secret, sig) {
			http.Error(rw, "Invalid signature", http.StatusForbidden)
			return
		}
	}

	var payload WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		http.Error(rw, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if payload.Content == "" {
		http.Error(rw, "Content is required", http.StatusBadRequest)
		return
	}
	if payload.ChatID == "" {
		payload.ChatID = "webhook-default"
	}
	if payload.UserID == "" {
		payload.UserID = "webhook"
	}

	w.logger.Info("webhook received",
		"chat_id", payload.ChatID,
		"user_id", payload.UserID,
		"content_len", len(payload.Content),
	)

	bus.Publish(domain.InboundMessage{
		Channel:   w.Name(),
		ChatID:    payload.ChatID,
		SenderID:  payload.UserID,
		Content:   payload.Content,
		Timestamp: time.Now(),
	})

	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(http.StatusAccepted)
	json.NewEncoder(rw).Encode(map[string]string{
		"status": "accepted",
	})
}

// verifyHMAC checks a "sha256=<hex>" signature of body.
func verifyHMAC(body []byte, secret, signature string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}
