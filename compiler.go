package gibridge

import "fmt"

// Compiler turns catalog entries into wire descriptors. It holds no
// mutable state beyond the catalog, which is immutable, so a Compiler
// is safe for concurrent use.
type Compiler struct {
	cat Catalog
}

func NewCompiler(cat Catalog) *Compiler {
	return &Compiler{cat: cat}
}

// CompileType resolves a catalog type reference to its wire tag.
// Interface references resolve through the entry kind: callbacks carry
// their compiled signature as a subtype, enums collapse to the integer
// tag of their storage width (value translation is the dispatcher's
// job), structs become struct or gtype depending on whether they carry
// a registered runtime type identity, and objects travel as opaque
// pointers.
func (c *Compiler) CompileType(ref TypeRef) (TypeDescriptor, error) {
	if ref.Ref != "" {
		return c.compileRef(ref.Ref)
	}
	switch ref.Basic {
	case BasicBool:
		return TypeDescriptor{Tag: TagBool}, nil
	case BasicInt8:
		return TypeDescriptor{Tag: TagInt8}, nil
	case BasicUint8:
		return TypeDescriptor{Tag: TagUint8}, nil
	case BasicInt16:
		return TypeDescriptor{Tag: TagInt16}, nil
	case BasicUint16:
		return TypeDescriptor{Tag: TagUint16}, nil
	case BasicInt32:
		return TypeDescriptor{Tag: TagInt32}, nil
	case BasicUint32:
		return TypeDescriptor{Tag: TagUint32}, nil
	case BasicInt64:
		return TypeDescriptor{Tag: TagInt64}, nil
	case BasicUint64:
		return TypeDescriptor{Tag: TagUint64}, nil
	case BasicString:
		return TypeDescriptor{Tag: TagString}, nil
	case BasicFloat:
		return TypeDescriptor{Tag: TagFloat}, nil
	case BasicDouble:
		return TypeDescriptor{Tag: TagDouble}, nil
	case BasicRuntimeType:
		// Runtime type identities are integers at the ABI level.
		return TypeDescriptor{Tag: TagInt64}, nil
	case BasicVoid:
		if ref.Pointer {
			return TypeDescriptor{Tag: TagPointer}, nil
		}
		return TypeDescriptor{Tag: TagVoid}, nil
	case BasicInvalid:
		return TypeDescriptor{}, fmt.Errorf("invalid type reference")
	default:
		return TypeDescriptor{}, fmt.Errorf("unknown basic type %d", ref.Basic)
	}
}

func (c *Compiler) compileRef(name string) (TypeDescriptor, error) {
	kind, ok := c.cat.Entry(name)
	if !ok {
		return TypeDescriptor{}, fmt.Errorf("type %q not in catalog", name)
	}
	switch kind {
	case EntryCallback:
		cb, _ := c.cat.Callback(name)
		sub, err := c.compileSignature(cb.Sig, false)
		if err != nil {
			return TypeDescriptor{}, fmt.Errorf("callback %s: %w", name, err)
		}
		return TypeDescriptor{Tag: TagCallback, Subtype: sub}, nil
	case EntryEnum, EntryFlags:
		e, _ := c.cat.Enum(name)
		return c.CompileType(TypeRef{Basic: e.Storage})
	case EntryStruct:
		s, _ := c.cat.Struct(name)
		tag := TagStruct
		if s.TypeInit != "" {
			tag = TagGType
		}
		return TypeDescriptor{Tag: tag, StructSize: s.Size}, nil
	case EntryObject:
		return TypeDescriptor{Tag: TagPointer}, nil
	case EntryFunction, EntryInvalid:
		return TypeDescriptor{}, fmt.Errorf("type %q is not a value type", name)
	default:
		return TypeDescriptor{}, fmt.Errorf("type %q: unknown entry kind %d", name, kind)
	}
}

// CompileParam compiles one declared argument, applying the direction
// correction: an out argument the caller must pre-allocate is
// reclassified to in, since the caller supplies the reference and the
// engine never allocates on its behalf outside the generic
// constructor.
func (c *Compiler) CompileParam(p Param) (ArgumentDescriptor, error) {
	t, err := c.CompileType(p.Type)
	if err != nil {
		return ArgumentDescriptor{}, fmt.Errorf("argument %s: %w", p.Name, err)
	}
	dir := p.Direction
	if dir == DirOut && p.CallerAllocates && (t.Tag == TagStruct || t.Tag == TagGType) {
		dir = DirIn
	}
	return ArgumentDescriptor{
		Name:      p.Name,
		Closure:   p.Closure,
		Destroy:   p.Destroy,
		Direction: dir,
		Type:      t,
	}, nil
}

// CompileCallable compiles a function or method into its full wire
// descriptor, prepending the receiver for methods and running the
// skip-marking pass.
func (c *Compiler) CompileCallable(fn *Function) (*CallableDescriptor, error) {
	return c.compileSignature(fn.Sig, fn.IsMethod)
}

func (c *Compiler) compileSignature(sig Signature, isMethod bool) (*CallableDescriptor, error) {
	ret, err := c.CompileType(sig.Return)
	if err != nil {
		return nil, fmt.Errorf("return: %w", err)
	}
	desc := &CallableDescriptor{IsMethod: isMethod, Returns: ret}
	if isMethod {
		desc.Arguments = append(desc.Arguments, ArgumentDescriptor{
			Name:      "this",
			Closure:   -1,
			Destroy:   -1,
			Direction: DirIn,
			Type:      TypeDescriptor{Tag: TagPointer},
		})
	}
	for _, p := range sig.Params {
		a, err := c.CompileParam(p)
		if err != nil {
			return nil, err
		}
		desc.Arguments = append(desc.Arguments, a)
	}
	// Skip marking. Closure/destroy indexes reference positions in the
	// full argument list, receiver included.
	for _, a := range desc.Arguments {
		if a.Closure >= 0 {
			if a.Closure >= len(desc.Arguments) {
				return nil, fmt.Errorf("argument %s: closure index %d out of range", a.Name, a.Closure)
			}
			desc.Arguments[a.Closure].Skipped = true
			desc.Arguments[a.Closure].IsClosure = true
		}
		if a.Destroy >= 0 {
			if a.Destroy >= len(desc.Arguments) {
				return nil, fmt.Errorf("argument %s: destroy index %d out of range", a.Name, a.Destroy)
			}
			desc.Arguments[a.Destroy].Skipped = true
			desc.Arguments[a.Destroy].IsDestroy = true
		}
	}
	for i := range desc.Arguments {
		if desc.Arguments[i].Direction == DirOut {
			desc.Arguments[i].Skipped = true
		}
	}
	return desc, nil
}
