package gibridge

import "sync"

// OpKind is how a resolved operation is satisfied.
type OpKind int

const (
	OpCall OpKind = iota
	OpFieldGet
	OpFieldPut
	OpAlloc
	OpFree
	OpGetType
)

// ValueClass drives the dispatcher's per-value conversion: plain
// values pass through, enum values translate between symbolic names
// and integers, reference values translate between wrapped {ptr}
// objects and raw pointers.
type ValueClass int

const (
	ClassPlain ValueClass = iota
	ClassEnum
	ClassRef
)

// BoundParam is a declared call argument annotated with everything the
// dispatcher and the parameter codec need: its conversion class, the
// qualified enum type for ClassEnum, and the decode schema.
type BoundParam struct {
	Name     string
	Class    ValueClass
	EnumType string
	Schema   *Schema
}

// BoundField is one field of the structured call result, annotated for
// post-call conversion.
type BoundField struct {
	Name     string
	Class    ValueClass
	EnumType string
}

// Operation is a fully resolved operation: everything needed to
// dispatch a call without consulting the catalog again.
type Operation struct {
	ID   Identity
	Kind OpKind

	// OpCall and OpGetType.
	Symbol   string
	Callable *CallableDescriptor

	// OpCall: declared arguments in catalog order, receiver excluded.
	Params []BoundParam

	// Post-call conversion schema for the structured result.
	Response []BoundField

	// OpFieldGet and OpFieldPut.
	FieldOffset int
	FieldType   TypeDescriptor

	// OpAlloc.
	StructSize int
}

// NeedsSelf reports whether the operation requires a self reference.
func (op *Operation) NeedsSelf() bool {
	switch op.Kind {
	case OpFieldGet, OpFieldPut, OpFree:
		return true
	case OpCall:
		return op.Callable.IsMethod
	}
	return false
}

// Resolver binds operation identities to dispatchable operations.
// The catalog is immutable for the resolver's lifetime, so resolution
// happens once per distinct identity and is cached.
type Resolver struct {
	cat  Catalog
	comp *Compiler

	mu    sync.RWMutex
	cache map[string]*Operation
}

func NewResolver(cat Catalog) *Resolver {
	return &Resolver{
		cat:   cat,
		comp:  NewCompiler(cat),
		cache: make(map[string]*Operation),
	}
}

// Resolve decides how to satisfy an operation identity: a field
// accessor for get/put operators, a direct call for members found in
// the catalog, a synthesized generic operation for the reserved names
// new/free/get_type on types without a native one. Anything else is a
// resolution failure surfaced as not found.
func (r *Resolver) Resolve(id Identity) (*Operation, error) {
	key := id.String()
	r.mu.RLock()
	op, ok := r.cache[key]
	r.mu.RUnlock()
	if ok {
		return op, nil
	}

	op, err := r.resolve(id)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.cache[key] = op
	r.mu.Unlock()
	return op, nil
}

func (r *Resolver) resolve(id Identity) (*Operation, error) {
	if id.Operator != OperatorNone {
		return r.resolveField(id)
	}

	if fn, ok := r.cat.Function(id.Class, id.Member); ok {
		return r.resolveCall(id, fn)
	}

	if id.Class != "" {
		switch id.Member {
		case "new", "free", "get_type":
			return r.resolveGeneric(id)
		}
	}

	return nil, Errorf(CodeNotFound, "operation %s not found", id)
}

func (r *Resolver) resolveCall(id Identity, fn *Function) (*Operation, error) {
	desc, err := r.comp.CompileCallable(fn)
	if err != nil {
		return nil, Errorf(CodeInternal, "compile %s: %v", id, err)
	}
	op := &Operation{
		ID:       id,
		Kind:     OpCall,
		Symbol:   fn.Symbol,
		Callable: desc,
		Response: []BoundField{r.bindField("return", fn.Sig.Return)},
	}
	// desc.Arguments aligns with fn.Sig.Params, offset by the prepended
	// receiver. Skipped arguments (closure, destroy, out) are supplied
	// by the agent, never by the client, so they are not bound as
	// parameters.
	offset := 0
	if fn.IsMethod {
		offset = 1
	}
	for i, p := range fn.Sig.Params {
		if !desc.Arguments[i+offset].Skipped {
			op.Params = append(op.Params, r.bindParam(p))
		}
		if p.Direction == DirOut || p.Direction == DirInOut {
			op.Response = append(op.Response, r.bindField(p.Name, p.Type))
		}
	}
	return op, nil
}

func (r *Resolver) resolveField(id Identity) (*Operation, error) {
	s, ok := r.cat.Struct(id.Class)
	if !ok {
		return nil, Errorf(CodeNotFound, "struct %s not found", id.Class)
	}
	for _, f := range s.Fields {
		if f.Name != id.Member {
			continue
		}
		if id.Operator == OperatorPut && !f.Writable {
			// Read-only field: the put operation does not exist.
			return nil, Errorf(CodeNotFound, "field %s.%s is not writable", id.Class, id.Member)
		}
		t, err := r.comp.CompileType(f.Type)
		if err != nil {
			return nil, Errorf(CodeInternal, "compile field %s.%s: %v", id.Class, id.Member, err)
		}
		kind := OpFieldGet
		if id.Operator == OperatorPut {
			kind = OpFieldPut
		}
		return &Operation{
			ID:          id,
			Kind:        kind,
			FieldOffset: f.Offset,
			FieldType:   t,
			Response:    []BoundField{r.bindField("return", f.Type)},
		}, nil
	}
	return nil, Errorf(CodeNotFound, "field %s.%s not found", id.Class, id.Member)
}

func (r *Resolver) resolveGeneric(id Identity) (*Operation, error) {
	kind, ok := r.cat.Entry(id.Class)
	if !ok {
		return nil, Errorf(CodeNotFound, "operation %s not found", id)
	}

	switch id.Member {
	case "new":
		if kind != EntryStruct {
			// Only structs have a knowable size; a zero-byte allocation
			// for other kinds would succeed silently and mean nothing.
			return nil, Errorf(CodeNotImplemented, "generic new is not supported for %s", id.Class)
		}
		s, _ := r.cat.Struct(id.Class)
		if s.Size <= 0 {
			return nil, Errorf(CodeNotImplemented, "generic new is not supported for zero-size struct %s", id.Class)
		}
		return &Operation{ID: id, Kind: OpAlloc, StructSize: s.Size}, nil

	case "free":
		return &Operation{ID: id, Kind: OpFree}, nil

	case "get_type":
		symbol := r.typeInit(id.Class, kind)
		if symbol == "" {
			return nil, Errorf(CodeNotFound, "%s has no registered runtime type", id.Class)
		}
		return &Operation{
			ID:     id,
			Kind:   OpGetType,
			Symbol: symbol,
			Callable: &CallableDescriptor{
				Returns: TypeDescriptor{Tag: TagInt64},
			},
			Response: []BoundField{{Name: "return"}},
		}, nil
	}
	return nil, Errorf(CodeNotFound, "operation %s not found", id)
}

func (r *Resolver) typeInit(name string, kind EntryKind) string {
	switch kind {
	case EntryStruct:
		s, _ := r.cat.Struct(name)
		return s.TypeInit
	case EntryObject:
		o, _ := r.cat.Object(name)
		return o.TypeInit
	case EntryEnum, EntryFlags:
		e, _ := r.cat.Enum(name)
		return e.TypeInit
	}
	return ""
}

func (r *Resolver) bindParam(p Param) BoundParam {
	bp := BoundParam{Name: p.Name}
	bp.Class, bp.EnumType = r.classify(p.Type)
	bp.Schema = r.schemaFor(p.Type, bp.Class)
	return bp
}

func (r *Resolver) bindField(name string, t TypeRef) BoundField {
	bf := BoundField{Name: name}
	bf.Class, bf.EnumType = r.classify(t)
	return bf
}

// classify maps a declared type to its conversion class. Only named
// entries need translation: enums and flags carry symbolic names on
// the HTTP side, structs, objects and boxed types carry wrapped
// pointer references.
func (r *Resolver) classify(t TypeRef) (ValueClass, string) {
	if t.Ref == "" {
		return ClassPlain, ""
	}
	kind, ok := r.cat.Entry(t.Ref)
	if !ok {
		return ClassPlain, ""
	}
	switch kind {
	case EntryEnum, EntryFlags:
		return ClassEnum, r.cat.Namespace() + t.Ref
	case EntryStruct, EntryObject:
		return ClassRef, ""
	}
	return ClassPlain, ""
}

func (r *Resolver) schemaFor(t TypeRef, class ValueClass) *Schema {
	switch class {
	case ClassRef:
		return &Schema{Type: "object"}
	case ClassEnum:
		return &Schema{Type: "string"}
	}
	switch t.Basic {
	case BasicBool:
		return &Schema{Type: "boolean"}
	case BasicInt8, BasicUint8, BasicInt16, BasicUint16, BasicInt32,
		BasicUint32, BasicInt64, BasicUint64, BasicRuntimeType:
		return &Schema{Type: "integer"}
	case BasicFloat, BasicDouble:
		return &Schema{Type: "number"}
	case BasicString:
		return &Schema{Type: "string"}
	}
	return nil
}
