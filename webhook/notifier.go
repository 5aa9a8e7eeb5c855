package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Config describes one webhook destination.
type Config struct {
	// URL receives POSTed notifications.
	URL string `json:"url" schema:"url" validate:"required,url"`

	// Secret keys the HMAC signature on every delivery.
	Secret string `json:"secret" schema:"secret" validate:"required"`

	// Timeout bounds each delivery attempt. Zero means 10 seconds.
	Timeout time.Duration `json:"-" schema:"-"`
}

const defaultTimeout = 10 * time.Second

// Stats counts delivery outcomes.
type Stats struct {
	Total     int64 `json:"total"`
	Succeeded int64 `json:"succeeded"`
	Failed    int64 `json:"failed"`
}

// Notifier posts signed notifications to a single destination.
// Deliveries are synchronous on the calling goroutine; callers wanting
// fire-and-forget or coalescing wrap it in a [Batcher].
type Notifier struct {
	id     string
	url    string
	signer *Signer
	client *http.Client
	logger *slog.Logger

	mu    sync.Mutex
	stats Stats
}

func NewNotifier(cfg Config, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Notifier{
		id:     uuid.NewString(),
		url:    cfg.URL,
		signer: NewSigner(cfg.Secret),
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

// ID returns the notifier's session id, generated at creation.
func (n *Notifier) ID() string { return n.id }

// Stats returns a snapshot of delivery counters.
func (n *Notifier) Stats() Stats {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.stats
}

// Notify delivers payload and discards the response body. A non-2xx
// status is a delivery failure.
func (n *Notifier) Notify(ctx context.Context, payload any) error {
	_, err := n.deliver(ctx, payload, false)
	return err
}

// Call delivers payload and waits for the receiver's answer, expecting
// a JSON body with a "result" member.
func (n *Notifier) Call(ctx context.Context, payload any) (any, error) {
	return n.deliver(ctx, payload, true)
}

func (n *Notifier) deliver(ctx context.Context, payload any, wantResult bool) (any, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		n.record(false)
		return nil, fmt.Errorf("marshal notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		n.record(false)
		return nil, err
	}
	eventID := uuid.NewString()
	if err := n.signer.SignRequest(req.Header, payload, eventID); err != nil {
		n.record(false)
		return nil, err
	}

	resp, err := n.client.Do(req)
	if err != nil {
		n.record(false)
		n.logger.Warn("webhook delivery failed",
			slog.String("session", n.id),
			slog.String("event_id", eventID),
			slog.Any("error", err))
		return nil, fmt.Errorf("deliver notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		n.record(false)
		n.logger.Warn("webhook delivery rejected",
			slog.String("session", n.id),
			slog.String("event_id", eventID),
			slog.Int("status", resp.StatusCode))
		return nil, fmt.Errorf("deliver notification: unexpected status %d", resp.StatusCode)
	}

	n.record(true)
	if !wantResult {
		return nil, nil
	}

	var envelope struct {
		Result any `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("decode notification response: %w", err)
	}
	return envelope.Result, nil
}

func (n *Notifier) record(ok bool) {
	n.mu.Lock()
	n.stats.Total++
	if ok {
		n.stats.Succeeded++
	} else {
		n.stats.Failed++
	}
	n.mu.Unlock()
}

// Close releases idle connections. In-flight deliveries finish.
func (n *Notifier) Close() {
	n.client.CloseIdleConnections()
}
