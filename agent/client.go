// Package agent connects to the instrumentation agent injected into
// the target process. The protocol is newline-delimited JSON over a
// stream socket: requests carry a client-assigned id and are answered
// in any order; the agent also pushes unsolicited callback and log
// messages, which arrive on the same connection.
package agent

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"

	"github.com/gibridge/gibridge"
)

// ErrClosed is returned for requests issued after the connection is
// closed, and completes requests that were in flight when it closed.
var ErrClosed = errors.New("agent connection closed")

// CallbackHandler receives unsolicited callback notifications. It is
// invoked on the connection's read goroutine and must not block.
type CallbackHandler func(payload map[string]any)

// Client is a connection to the agent. It implements
// [gibridge.Transport]. All methods are safe for concurrent use.
type Client struct {
	conn   net.Conn
	logger *slog.Logger

	onCallback CallbackHandler

	writeMu sync.Mutex
	enc     *json.Encoder

	mu      sync.Mutex
	nextID  uint64
	pending map[uint64]chan response
	err     error
	closed  bool
}

type Option func(*Client)

// WithLogger sets the logger for connection and agent log messages.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithCallbackHandler sets the handler for unsolicited callback
// notifications pushed by the agent.
func WithCallbackHandler(h CallbackHandler) Option {
	return func(c *Client) { c.onCallback = h }
}

type request struct {
	ID     uint64                       `json:"id"`
	Op     string                       `json:"op"`
	Symbol string                       `json:"symbol,omitempty"`
	Desc   *gibridge.CallableDescriptor `json:"callable,omitempty"`
	Args   []any                        `json:"args,omitempty"`
	Ptr    string                       `json:"ptr,omitempty"`
	Offset int                          `json:"offset,omitempty"`
	Type   string                       `json:"type,omitempty"`
	Size   int                          `json:"size,omitempty"`
	Value  any                          `json:"value,omitempty"`
}

type response struct {
	ID     uint64          `json:"id"`
	Op     string          `json:"op"`
	Result json.RawMessage `json:"result"`
	Error  string          `json:"error"`

	// Unsolicited messages.
	Data    map[string]any `json:"data"`
	Level   string         `json:"level"`
	Message string         `json:"message"`
}

// Dial connects to the agent at addr. A host:port address dials TCP;
// an address starting with "/" or "@" dials a unix socket.
func Dial(ctx context.Context, addr string, opts ...Option) (*Client, error) {
	network := "tcp"
	if strings.HasPrefix(addr, "/") || strings.HasPrefix(addr, "@") {
		network = "unix"
	}
	var d net.Dialer
	conn, err := d.DialContext(ctx, network, addr)
	if err != nil {
		return nil, fmt.Errorf("dial agent: %w", err)
	}
	return NewClient(conn, opts...), nil
}

// NewClient wraps an established connection and starts its read loop.
func NewClient(conn net.Conn, opts ...Option) *Client {
	c := &Client{
		conn:    conn,
		enc:     json.NewEncoder(conn),
		pending: make(map[uint64]chan response),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	go c.readLoop()
	return c
}

func (c *Client) readLoop() {
	scanner := bufio.NewScanner(c.conn)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var resp response
		if err := json.Unmarshal(line, &resp); err != nil {
			c.logger.Warn("agent sent malformed message", slog.Any("error", err))
			continue
		}
		switch resp.Op {
		case "callback":
			if c.onCallback != nil {
				c.onCallback(resp.Data)
			}
		case "log":
			c.logAgentMessage(resp.Level, resp.Message)
		default:
			c.complete(resp)
		}
	}
	err := scanner.Err()
	if err == nil {
		err = ErrClosed
	}
	c.fail(err)
}

func (c *Client) logAgentMessage(level, message string) {
	switch level {
	case "debug":
		c.logger.Debug(message, slog.String("source", "agent"))
	case "warning", "warn":
		c.logger.Warn(message, slog.String("source", "agent"))
	case "error":
		c.logger.Error(message, slog.String("source", "agent"))
	default:
		c.logger.Info(message, slog.String("source", "agent"))
	}
}

func (c *Client) complete(resp response) {
	c.mu.Lock()
	ch, ok := c.pending[resp.ID]
	if ok {
		delete(c.pending, resp.ID)
	}
	c.mu.Unlock()
	if !ok {
		c.logger.Warn("agent answered unknown request id", slog.Uint64("id", resp.ID))
		return
	}
	ch <- resp
}

// fail completes every pending request with err and marks the
// connection unusable.
func (c *Client) fail(err error) {
	c.mu.Lock()
	if c.err == nil {
		c.err = err
	}
	pending := c.pending
	c.pending = make(map[uint64]chan response)
	c.mu.Unlock()
	for id, ch := range pending {
		ch <- response{ID: id, Error: err.Error()}
	}
}

// Close shuts down the connection. Pending requests fail with ErrClosed.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	err := c.conn.Close()
	c.fail(ErrClosed)
	return err
}

// roundTrip sends req and waits for the matching response.
func (c *Client) roundTrip(ctx context.Context, req request) (json.RawMessage, error) {
	ch := make(chan response, 1)

	c.mu.Lock()
	if c.err != nil {
		err := c.err
		c.mu.Unlock()
		return nil, err
	}
	c.nextID++
	req.ID = c.nextID
	c.pending[req.ID] = ch
	c.mu.Unlock()

	c.writeMu.Lock()
	err := c.enc.Encode(req)
	c.writeMu.Unlock()
	if err != nil {
		c.mu.Lock()
		delete(c.pending, req.ID)
		c.mu.Unlock()
		return nil, fmt.Errorf("send request: %w", err)
	}

	select {
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, req.ID)
		c.mu.Unlock()
		return nil, ctx.Err()
	case resp := <-ch:
		if resp.Error != "" {
			return nil, fmt.Errorf("agent: %s", resp.Error)
		}
		return resp.Result, nil
	}
}

// Call invokes a native symbol.
func (c *Client) Call(ctx context.Context, symbol string, desc *gibridge.CallableDescriptor, args []any) (map[string]any, error) {
	raw, err := c.roundTrip(ctx, request{Op: "call", Symbol: symbol, Desc: desc, Args: args})
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var result map[string]any
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("decode call result: %w", err)
	}
	return result, nil
}

// Alloc allocates size zeroed bytes in the target process.
func (c *Client) Alloc(ctx context.Context, size int) (string, error) {
	raw, err := c.roundTrip(ctx, request{Op: "alloc", Size: size})
	if err != nil {
		return "", err
	}
	var ptr string
	if err := json.Unmarshal(raw, &ptr); err != nil {
		return "", fmt.Errorf("decode alloc result: %w", err)
	}
	return ptr, nil
}

// Free releases memory previously allocated with Alloc.
func (c *Client) Free(ctx context.Context, ptr string) error {
	_, err := c.roundTrip(ctx, request{Op: "free", Ptr: ptr})
	return err
}

// FieldGet reads a typed value at an offset from ptr.
func (c *Client) FieldGet(ctx context.Context, ptr string, offset int, typ gibridge.TypeDescriptor) (any, error) {
	raw, err := c.roundTrip(ctx, request{Op: "get_field", Ptr: ptr, Offset: offset, Type: string(typ.Tag)})
	if err != nil {
		return nil, err
	}
	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil, fmt.Errorf("decode field value: %w", err)
	}
	return value, nil
}

// FieldSet writes a typed value at an offset from ptr.
func (c *Client) FieldSet(ctx context.Context, ptr string, offset int, typ gibridge.TypeDescriptor, value any) error {
	_, err := c.roundTrip(ctx, request{Op: "set_field", Ptr: ptr, Offset: offset, Type: string(typ.Tag), Value: value})
	return err
}
