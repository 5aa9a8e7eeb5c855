package gibridge

import (
	"context"
)

// HandlerFunc represents the next handler in an interceptor chain.
// It is passed to [UnaryInterceptor] functions to invoke the next interceptor
// or the final dispatch.
type HandlerFunc func(ctx context.Context, args map[string]any) (res any, err error)

// UnaryInterceptor is a hook that wraps operation dispatch.
//
// The handler parameter is the next handler in the chain. Interceptors can:
//   - Inspect/modify the decoded arguments before calling handler
//   - Inspect/modify the response after calling handler
//   - Short-circuit by returning an error without calling handler
//   - Add values to context using context.WithValue
//
// The current operation identity is available from the context via
// [OperationFromContext].
type UnaryInterceptor func(ctx context.Context, args map[string]any, handler HandlerFunc) (res any, err error)

// chainInterceptors combines multiple interceptors into a single one.
// The first interceptor in the slice is the outer-most one (runs first).
func chainInterceptors(interceptors []UnaryInterceptor) UnaryInterceptor {
	if len(interceptors) == 0 {
		return nil
	}
	if len(interceptors) == 1 {
		return interceptors[0]
	}
	return func(ctx context.Context, args map[string]any, handler HandlerFunc) (any, error) {
		// Chain: i[0] -> i[1] -> ... -> handler
		var chain HandlerFunc = handler
		for i := len(interceptors) - 1; i >= 0; i-- {
			current := interceptors[i]
			next := chain
			chain = func(ctx context.Context, args map[string]any) (any, error) {
				return current(ctx, args, next)
			}
		}
		return chain(ctx, args)
	}
}
