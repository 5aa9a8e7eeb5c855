package gibridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// ErrStreamClosed is returned when the client has disconnected or the
// event stream has been closed.
var ErrStreamClosed = errors.New("stream closed")

// ErrWriteTimeout is returned when a write to a streaming client timed out.
// This typically indicates a slow or unresponsive client.
var ErrWriteTimeout = errors.New("write timeout")

// serveEvents streams callback notifications as server-sent events.
// Each event carries its bridge sequence id as the SSE id, so clients
// reconnecting with Last-Event-ID resume after the last event they saw,
// as far back as the ring buffer still holds it.
func (a *App) serveEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		a.handleError(w, NewError(CodeInternal, "streaming not supported"))
		return
	}

	logger := a.logger
	if logger == nil {
		logger = slog.Default()
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering
	flusher.Flush()

	sub := a.bridge.Subscribe()
	defer sub.Close()

	if lastID := r.Header.Get("Last-Event-ID"); lastID != "" {
		if seq, err := strconv.ParseInt(lastID, 10, 64); err == nil {
			sub.Resume(seq)
		}
	}

	writeTimeout := a.getStreamWriteTimeout()
	var rc *http.ResponseController
	if writeTimeout > 0 {
		rc = http.NewResponseController(w)
	}

	// Pull events in a goroutine so the write loop can interleave
	// heartbeats.
	eventCh := make(chan Event)
	done := make(chan struct{})
	defer close(done)
	go func() {
		defer close(eventCh)
		for {
			ev, err := sub.Next(r.Context())
			if err != nil {
				return
			}
			select {
			case eventCh <- ev:
			case <-done:
				return
			}
		}
	}()

	var heartbeat <-chan time.Time
	if interval := a.getStreamHeartbeat(); interval > 0 {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		heartbeat = ticker.C
	}

	for {
		select {
		case <-r.Context().Done():
			return

		case <-heartbeat:
			// SSE comment, ignored by EventSource but resets proxy idle timers.
			if _, err := fmt.Fprint(w, ": heartbeat\n\n"); err != nil {
				if !isClientDisconnect(err) {
					logger.Error("failed to write heartbeat", slog.Any("error", err))
				}
				return
			}
			flusher.Flush()

		case ev, ok := <-eventCh:
			if !ok {
				return
			}

			if rc != nil {
				if deadlineErr := rc.SetWriteDeadline(time.Now().Add(writeTimeout)); deadlineErr != nil {
					// SetWriteDeadline not supported - log once and continue without timeout
					logger.Warn("write deadline not supported", slog.Any("error", deadlineErr))
					rc = nil
				}
			}

			if err := writeSSEEvent(w, ev); err != nil {
				if isClientDisconnect(err) {
					logger.Debug("client disconnected during write")
				} else {
					logger.Error("failed to write SSE event",
						slog.Int64("seq", ev.Seq),
						slog.Any("error", err))
				}
				return
			}

			// Clear write deadline after successful write to prevent spurious timeouts
			if rc != nil {
				rc.SetWriteDeadline(time.Time{})
			}
			flusher.Flush()
		}
	}
}

func writeSSEEvent(w http.ResponseWriter, ev Event) error {
	// Wrap in the response envelope for consistency with unary calls.
	data, err := json.Marshal(response{Result: ev.Payload})
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if _, err := fmt.Fprintf(w, "id: %d\n", ev.Seq); err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}

// isClientDisconnect checks if an error indicates the client has disconnected.
func isClientDisconnect(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return errors.Is(err, context.Canceled) ||
		strings.Contains(errStr, "broken pipe") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "client disconnected")
}
