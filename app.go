package gibridge

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strings"
	"sync"
	"time"
)

// App is the HTTP facade over a catalog and a live process. It routes
// /{namespace}/{class}/{member} paths to resolved operations, serves
// callback notifications as SSE on /{namespace}/callbacks, and
// registers webhook destinations on /{namespace}/webhooks.
// Use Handler() to get an http.Handler for use with http.ListenAndServe.
type App struct {
	cat       Catalog
	transport Transport

	errorTransformer        ErrorTransformer
	maskInternalErrors      bool
	interceptors            []UnaryInterceptor
	middlewares             []func(http.Handler) http.Handler
	logger                  *slog.Logger
	maxRequestBodySize      uint64
	eventBuffer             int
	poolSize                int
	streamWriteTimeout      time.Duration
	streamWriteTimeoutIsSet bool // distinguishes zero (disabled) from unset (use default)
	streamHeartbeat         time.Duration
	streamHeartbeatIsSet    bool // distinguishes zero (disabled) from unset (use default)

	initOnce   sync.Once
	resolver   *Resolver
	enums      EnumMappings
	bridge     *Bridge
	dispatcher *Dispatcher

	sinkCtx    context.Context
	sinkCancel context.CancelFunc
	sinkWG     sync.WaitGroup
}

const (
	// defaultStreamWriteTimeout is the default timeout for writing SSE events.
	// If a write takes longer than this, the stream is closed to prevent
	// goroutine leaks from stuck or slow clients.
	defaultStreamWriteTimeout = 30 * time.Second

	// defaultStreamHeartbeat is the default interval for sending SSE heartbeat comments.
	// This keeps connections alive through proxies that have idle timeouts (typically 60s).
	defaultStreamHeartbeat = 30 * time.Second
)

func NewApp(cat Catalog, transport Transport) *App {
	return &App{
		cat:                cat,
		transport:          transport,
		maxRequestBodySize: 1 << 20, // 1MB default
		eventBuffer:        defaultBridgeCapacity,
		poolSize:           defaultPoolSize,
	}
}

// WithTransport sets the transport. It must be called before the first
// request when the transport was not passed to NewApp, for instance
// when the transport's callback handler needs the app first.
func (a *App) WithTransport(t Transport) *App {
	a.transport = t
	return a
}

// WithErrorTransformer adds a custom error transformer.
// It returns the app for chaining.
func (a *App) WithErrorTransformer(fn ErrorTransformer) *App {
	a.errorTransformer = fn
	return a
}

// WithMaskInternalErrors enables masking of internal error messages.
// This is useful in production to avoid leaking sensitive information.
func (a *App) WithMaskInternalErrors() *App {
	a.maskInternalErrors = true
	return a
}

// WithUnaryInterceptor adds a global interceptor. Interceptors execute
// in the order they were added, outermost first.
func (a *App) WithUnaryInterceptor(i UnaryInterceptor) *App {
	a.interceptors = append(a.interceptors, i)
	return a
}

// WithMiddleware adds an HTTP middleware to wrap the app.
// Middleware is applied in the order added (first added is outermost).
func (a *App) WithMiddleware(mw func(http.Handler) http.Handler) *App {
	a.middlewares = append(a.middlewares, mw)
	return a
}

// WithLogger sets a custom logger for the app.
// If not set, slog.Default() will be used.
func (a *App) WithLogger(logger *slog.Logger) *App {
	a.logger = logger
	return a
}

// WithMaxRequestBodySize sets the maximum request body size.
// A value of 0 means no limit. Default is 1MB (1 << 20).
func (a *App) WithMaxRequestBodySize(size uint64) *App {
	a.maxRequestBodySize = size
	return a
}

// WithEventBuffer sets the callback ring buffer capacity.
// It must be called before the first request or PushEvent.
func (a *App) WithEventBuffer(n int) *App {
	a.eventBuffer = n
	return a
}

// WithPoolSize bounds the number of concurrent native calls.
// It must be called before the first request.
func (a *App) WithPoolSize(n int) *App {
	a.poolSize = n
	return a
}

// WithStreamWriteTimeout sets the timeout for writing SSE events.
// If a single event write takes longer than this, the stream is closed.
//
// Default is 30 seconds. Use 0 to disable (not recommended - risks goroutine leaks).
func (a *App) WithStreamWriteTimeout(d time.Duration) *App {
	a.streamWriteTimeout = d
	a.streamWriteTimeoutIsSet = true
	return a
}

// getStreamWriteTimeout returns the effective stream write timeout.
func (a *App) getStreamWriteTimeout() time.Duration {
	if a.streamWriteTimeoutIsSet {
		return a.streamWriteTimeout
	}
	return defaultStreamWriteTimeout
}

// WithStreamHeartbeat sets the interval for sending SSE heartbeat comments.
// Heartbeats keep connections alive through proxies with idle timeouts.
//
// Default is 30 seconds. Use 0 to disable heartbeats.
func (a *App) WithStreamHeartbeat(d time.Duration) *App {
	a.streamHeartbeat = d
	a.streamHeartbeatIsSet = true
	return a
}

// getStreamHeartbeat returns the effective stream heartbeat interval.
func (a *App) getStreamHeartbeat() time.Duration {
	if a.streamHeartbeatIsSet {
		return a.streamHeartbeat
	}
	return defaultStreamHeartbeat
}

func (a *App) init() {
	a.initOnce.Do(func() {
		a.resolver = NewResolver(a.cat)
		a.enums = BuildEnumMappings(a.cat)
		a.bridge = NewBridge(a.eventBuffer)
		a.dispatcher = NewDispatcher(a.transport, a.enums, NewPool(a.poolSize), a.logger)
		a.sinkCtx, a.sinkCancel = context.WithCancel(context.Background())
	})
}

// PushEvent publishes a callback notification to all subscribers:
// open SSE streams and registered webhooks. It is safe to call from
// the transport's message-processing goroutine and never blocks.
func (a *App) PushEvent(payload any) {
	a.init()
	a.bridge.Push(payload)
}

// Bridge exposes the callback event buffer.
func (a *App) Bridge() *Bridge {
	a.init()
	return a.bridge
}

// Close stops webhook delivery goroutines and flushes pending batches.
// It does not close the transport.
func (a *App) Close() {
	a.init()
	a.sinkCancel()
	a.sinkWG.Wait()
}

// Handler returns an http.Handler for use with http.ListenAndServe or
// other HTTP servers. The returned handler includes all configured
// middleware.
func (a *App) Handler() http.Handler {
	a.init()
	var h http.Handler = http.HandlerFunc(a.serveHTTP)
	// Apply middleware in reverse order so first added is outermost
	for i := len(a.middlewares) - 1; i >= 0; i-- {
		h = a.middlewares[i](h)
	}
	return h
}

// serveHTTP handles incoming API requests (internal, called via Handler()).
func (a *App) serveHTTP(w http.ResponseWriter, req *http.Request) {
	defer func() {
		if rec := recover(); rec != nil {
			stack := debug.Stack()
			logger := a.logger
			if logger == nil {
				logger = slog.Default()
			}
			logger.Error("PANIC recovered",
				slog.Any("panic", rec),
				slog.String("stack", string(stack)))
			writeError(w, NewError(CodeInternal, fmt.Sprintf("internal server error (panic): %v", rec)), a.logger)
		}
	}()

	path := strings.TrimPrefix(req.URL.Path, "/")
	// Path format: /{namespace}/{class}/{member}[/{get|put}]

	parts := strings.Split(path, "/")
	if len(parts) < 2 || parts[0] != a.cat.Namespace() {
		a.handleError(w, NewError(CodeNotFound, "route not found"))
		return
	}

	if len(parts) == 2 {
		switch parts[1] {
		case "callbacks":
			if req.Method != http.MethodGet {
				a.handleError(w, Errorf(CodeMethodNotAllowed, "method %s not allowed, expected GET", req.Method))
				return
			}
			a.serveEvents(w, req)
			return
		case "webhooks":
			if req.Method != http.MethodPost {
				a.handleError(w, Errorf(CodeMethodNotAllowed, "method %s not allowed, expected POST", req.Method))
				return
			}
			a.serveWebhookRegistration(w, req)
			return
		}
	}

	id, err := ParseIdentity(strings.Join(parts, "-"))
	if err != nil {
		a.handleError(w, Errorf(CodeNotFound, "route not found: %v", err))
		return
	}

	op, err := a.resolver.Resolve(id)
	if err != nil {
		a.handleError(w, err)
		return
	}

	if err := checkMethod(req.Method, op.Kind); err != nil {
		a.handleError(w, err)
		return
	}

	info := &OperationInfo{Identity: id, Kind: op.Kind}
	ctx := newContext(req.Context(), w, req, info)
	a.serveOperation(ctx, w, req, op)
}

// checkMethod enforces the HTTP method per operation kind. Every
// operation accepts POST; reads also accept GET, field writes also
// accept PUT.
func checkMethod(method string, kind OpKind) error {
	switch kind {
	case OpFieldPut:
		if method == http.MethodPut || method == http.MethodPost {
			return nil
		}
		return Errorf(CodeMethodNotAllowed, "method %s not allowed, expected PUT or POST", method)
	default:
		if method == http.MethodGet || method == http.MethodPost {
			return nil
		}
		return Errorf(CodeMethodNotAllowed, "method %s not allowed, expected GET or POST", method)
	}
}

func (a *App) handleError(w http.ResponseWriter, err error) {
	var svcErr *Error
	if a.errorTransformer != nil {
		svcErr = a.errorTransformer(err)
	}
	if svcErr == nil {
		svcErr = DefaultErrorTransformer(err)
	}
	if a.maskInternalErrors && svcErr.Code == CodeInternal {
		svcErr = NewError(CodeInternal, "internal server error")
	}
	writeError(w, svcErr, a.logger)
}
