package gibridge

import "context"

// Transport executes operations inside the externally instrumented
// process. Calls are synchronous and may block for an unbounded time;
// the dispatcher confines them to a bounded worker pool. A transport
// error is never retried here.
//
// The agent package provides the wire implementation; tests supply
// fakes.
type Transport interface {
	// Call invokes the native symbol described by desc with the given
	// transport-primitive arguments and returns the structured result
	// keyed by field name ("return" plus any out arguments). A void
	// call returns a nil map.
	Call(ctx context.Context, symbol string, desc *CallableDescriptor, args []any) (map[string]any, error)

	// Alloc reserves size bytes of raw memory in the target process and
	// returns the new address.
	Alloc(ctx context.Context, size int) (string, error)

	// Free releases memory previously returned by Alloc.
	Free(ctx context.Context, ptr string) error

	// FieldGet reads a value of the given wire type at ptr+offset.
	FieldGet(ctx context.Context, ptr string, offset int, typ TypeDescriptor) (any, error)

	// FieldSet writes a value of the given wire type at ptr+offset.
	FieldSet(ctx context.Context, ptr string, offset int, typ TypeDescriptor, value any) error
}
