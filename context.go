package gibridge

import (
	"context"
	"net/http"
)

type contextKey struct {
	name string
}

var (
	requestKey = &contextKey{"request"}
	writerKey  = &contextKey{"writer"}
	opInfoKey  = &contextKey{"op_info"}
)

// OperationInfo describes the operation being dispatched. It is attached
// to the request context for interceptors and handlers.
type OperationInfo struct {
	Identity Identity
	Kind     OpKind
}

// RequestFromContext returns the HTTP request from the context.
func RequestFromContext(ctx context.Context) *http.Request {
	if r, ok := ctx.Value(requestKey).(*http.Request); ok {
		return r
	}
	return nil
}

// SetHeader sets an HTTP response header.
// It requires that the handler was called via the App.
func SetHeader(ctx context.Context, key, value string) {
	if w, ok := ctx.Value(writerKey).(http.ResponseWriter); ok {
		w.Header().Set(key, value)
	}
}

// NewContext returns a context carrying the given operation info. The
// App attaches this automatically; it is exported for interceptor
// tests and custom servers.
func NewContext(ctx context.Context, info OperationInfo) context.Context {
	return context.WithValue(ctx, opInfoKey, &info)
}

// OperationFromContext returns the identity of the current operation.
func OperationFromContext(ctx context.Context) (Identity, bool) {
	if info, ok := ctx.Value(opInfoKey).(*OperationInfo); ok {
		return info.Identity, true
	}
	return Identity{}, false
}

func newContext(ctx context.Context, w http.ResponseWriter, r *http.Request, info *OperationInfo) context.Context {
	ctx = context.WithValue(ctx, writerKey, w)
	ctx = context.WithValue(ctx, requestKey, r)
	ctx = context.WithValue(ctx, opInfoKey, info)
	return ctx
}
