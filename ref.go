package gibridge

// ObjectRef is an opaque wrapped native address exchanged across the
// wire boundary: {"ptr": "<hex-or-decimal string>"}.
//
// The engine never tracks ownership or lifetime of the referenced
// memory. Allocation and release are either native calls the caller
// invokes explicitly or the synthesized generic new/free pair, and a
// leaked or double-freed reference is a caller error the engine does
// not detect. ObjectRef is therefore a plain value type with no
// destructor semantics.
type ObjectRef struct {
	Ptr string `json:"ptr"`
}

// unwrapRef extracts the raw pointer value from the shapes an object
// reference arrives in: an ObjectRef, a decoded {"ptr": ...} map, or a
// bare pointer value supplied directly. The last case passes through
// unchanged.
func unwrapRef(v any) any {
	switch r := v.(type) {
	case ObjectRef:
		return r.Ptr
	case *ObjectRef:
		return r.Ptr
	case map[string]any:
		if ptr, ok := r["ptr"]; ok {
			return ptr
		}
	case map[string]string:
		if ptr, ok := r["ptr"]; ok {
			return ptr
		}
	}
	return v
}

// wrapRef wraps a raw pointer value returned by the agent into the
// wire reference form.
func wrapRef(v any) any {
	if s, ok := v.(string); ok {
		return ObjectRef{Ptr: s}
	}
	return map[string]any{"ptr": v}
}
