package gibridge

import (
	"context"
	"encoding/json"
	"log/slog"
)

// Dispatcher executes resolved operations against the instrumentation
// transport: it converts domain-level argument values to
// transport-primitive ones, invokes the call on a bounded worker pool,
// and converts the structured result back.
type Dispatcher struct {
	transport Transport
	enums     EnumMappings
	pool      *Pool
	logger    *slog.Logger
}

func NewDispatcher(t Transport, enums EnumMappings, pool *Pool, logger *slog.Logger) *Dispatcher {
	if pool == nil {
		pool = NewPool(0)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{transport: t, enums: enums, pool: pool, logger: logger}
}

// Dispatch runs one resolved operation with the caller-supplied
// arguments. Marshaling failures (missing self, unknown symbolic enum
// value) are rejected before any transport call; transport failures
// propagate unretried.
func (d *Dispatcher) Dispatch(ctx context.Context, op *Operation, args map[string]any) (map[string]any, error) {
	switch op.Kind {
	case OpCall:
		return d.dispatchCall(ctx, op, args)
	case OpFieldGet:
		return d.dispatchFieldGet(ctx, op, args)
	case OpFieldPut:
		return d.dispatchFieldPut(ctx, op, args)
	case OpAlloc:
		return d.dispatchAlloc(ctx, op)
	case OpFree:
		return d.dispatchFree(ctx, op, args)
	case OpGetType:
		return d.dispatchGetType(ctx, op)
	}
	return nil, Errorf(CodeInternal, "unknown operation kind %d", op.Kind)
}

func (d *Dispatcher) dispatchCall(ctx context.Context, op *Operation, args map[string]any) (map[string]any, error) {
	vals := make([]any, 0, len(op.Params)+1)
	if op.Callable.IsMethod {
		ptr, err := d.selfPtr(args)
		if err != nil {
			return nil, err
		}
		vals = append(vals, ptr)
	}
	// Arguments convert in catalog-declared order. Params holds only
	// the client-suppliable arguments, and each one is mandatory: a
	// missing argument would shift everything after it into the wrong
	// positional slot.
	for _, p := range op.Params {
		v, ok := args[p.Name]
		if !ok {
			return nil, Errorf(CodeInvalidArgument, "missing required argument %q", p.Name)
		}
		cv, err := d.convertIn(p, v)
		if err != nil {
			return nil, err
		}
		vals = append(vals, cv)
	}

	var result map[string]any
	err := d.pool.Do(ctx, func() error {
		var callErr error
		result, callErr = d.transport.Call(ctx, op.Symbol, op.Callable, vals)
		return callErr
	})
	if err != nil {
		return nil, transportError(op, err)
	}
	if result == nil {
		return nil, nil
	}
	return d.convertResult(op, result), nil
}

func (d *Dispatcher) dispatchFieldGet(ctx context.Context, op *Operation, args map[string]any) (map[string]any, error) {
	ptr, err := d.selfPtr(args)
	if err != nil {
		return nil, err
	}
	var raw any
	err = d.pool.Do(ctx, func() error {
		var getErr error
		raw, getErr = d.transport.FieldGet(ctx, ptr, op.FieldOffset, op.FieldType)
		return getErr
	})
	if err != nil {
		return nil, transportError(op, err)
	}
	return d.convertResult(op, map[string]any{"return": raw}), nil
}

func (d *Dispatcher) dispatchFieldPut(ctx context.Context, op *Operation, args map[string]any) (map[string]any, error) {
	ptr, err := d.selfPtr(args)
	if err != nil {
		return nil, err
	}
	value, ok := args["value"]
	if !ok {
		return nil, Errorf(CodeInvalidArgument, "missing required argument %q", "value")
	}
	value = unwrapRef(value)
	err = d.pool.Do(ctx, func() error {
		return d.transport.FieldSet(ctx, ptr, op.FieldOffset, op.FieldType, value)
	})
	if err != nil {
		return nil, transportError(op, err)
	}
	return nil, nil
}

func (d *Dispatcher) dispatchAlloc(ctx context.Context, op *Operation) (map[string]any, error) {
	var ptr string
	err := d.pool.Do(ctx, func() error {
		var allocErr error
		ptr, allocErr = d.transport.Alloc(ctx, op.StructSize)
		return allocErr
	})
	if err != nil {
		return nil, transportError(op, err)
	}
	return map[string]any{"return": ObjectRef{Ptr: ptr}}, nil
}

func (d *Dispatcher) dispatchFree(ctx context.Context, op *Operation, args map[string]any) (map[string]any, error) {
	ptr, err := d.selfPtr(args)
	if err != nil {
		return nil, err
	}
	err = d.pool.Do(ctx, func() error {
		return d.transport.Free(ctx, ptr)
	})
	if err != nil {
		return nil, transportError(op, err)
	}
	return nil, nil
}

func (d *Dispatcher) dispatchGetType(ctx context.Context, op *Operation) (map[string]any, error) {
	var result map[string]any
	err := d.pool.Do(ctx, func() error {
		var callErr error
		result, callErr = d.transport.Call(ctx, op.Symbol, op.Callable, nil)
		return callErr
	})
	if err != nil {
		return nil, transportError(op, err)
	}
	return result, nil
}

// selfPtr extracts and unwraps the mandatory self reference. Pointers
// travel as strings on the wire, so anything that does not unwrap to a
// string is not a reference.
func (d *Dispatcher) selfPtr(args map[string]any) (string, error) {
	self, ok := args["self"]
	if !ok || self == nil {
		return "", Errorf(CodeInvalidArgument, "missing required argument %q", "self")
	}
	ptr, ok := unwrapRef(self).(string)
	if !ok {
		return "", Errorf(CodeInvalidArgument, "argument %q is not an object reference", "self")
	}
	return ptr, nil
}

// convertIn converts one supplied argument to its transport-primitive
// form. Symbolic enum names translate through the mapping table and an
// unknown name is a validation error; wrapped references unwrap to
// their raw pointer; everything else passes through unchanged.
func (d *Dispatcher) convertIn(p BoundParam, v any) (any, error) {
	switch p.Class {
	case ClassEnum:
		s, ok := v.(string)
		if !ok {
			return v, nil
		}
		m, ok := d.enums[p.EnumType]
		if !ok {
			return nil, Errorf(CodeInvalidArgument, "argument %q: unknown enum type %s", p.Name, p.EnumType)
		}
		iv, ok := m.Lookup(s)
		if !ok {
			return nil, Errorf(CodeInvalidArgument, "argument %q: %q is not a value of %s", p.Name, s, p.EnumType)
		}
		return iv, nil
	case ClassRef:
		return unwrapRef(v), nil
	default:
		return v, nil
	}
}

// convertResult applies the response schema to the structured result:
// reference-kind fields wrap as {ptr}, enum-kind fields reverse-map to
// their symbolic name. An integer with no symbolic name stays raw, a
// documented limitation rather than an error.
func (d *Dispatcher) convertResult(op *Operation, result map[string]any) map[string]any {
	for k, v := range result {
		f, ok := findField(op.Response, k)
		if !ok {
			continue
		}
		switch f.Class {
		case ClassRef:
			result[k] = wrapRef(v)
		case ClassEnum:
			iv, ok := toInt64(v)
			if !ok {
				continue
			}
			m, ok := d.enums[f.EnumType]
			if !ok {
				continue
			}
			if name, ok := m.ReverseLookup(iv); ok {
				result[k] = name
			}
		}
	}
	return result
}

func findField(fields []BoundField, name string) (BoundField, bool) {
	for _, f := range fields {
		if f.Name == name {
			return f, true
		}
	}
	return BoundField{}, false
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case float64:
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	}
	return 0, false
}

func transportError(op *Operation, err error) error {
	if svcErr, ok := err.(*Error); ok {
		return svcErr
	}
	if err == context.Canceled || err == context.DeadlineExceeded {
		return err
	}
	return Errorf(CodeUnavailable, "operation %s: transport: %v", op.ID, err)
}
