package gibridge

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
)

// BasicType is a primitive catalog type, before compilation to a wire
// tag. BasicRuntimeType is the registered runtime type identity value
// (a GType), which travels as int64 on the wire.
type BasicType int

const (
	BasicInvalid BasicType = iota
	BasicBool
	BasicInt8
	BasicUint8
	BasicInt16
	BasicUint16
	BasicInt32
	BasicUint32
	BasicInt64
	BasicUint64
	BasicString
	BasicFloat
	BasicDouble
	BasicRuntimeType
	BasicVoid
)

var basicNames = map[string]BasicType{
	"bool":   BasicBool,
	"int8":   BasicInt8,
	"uint8":  BasicUint8,
	"int16":  BasicInt16,
	"uint16": BasicUint16,
	"int32":  BasicInt32,
	"uint32": BasicUint32,
	"int64":  BasicInt64,
	"uint64": BasicUint64,
	"string": BasicString,
	"float":  BasicFloat,
	"double": BasicDouble,
	"gtype":  BasicRuntimeType,
	"void":   BasicVoid,
}

// TypeRef names a type in the catalog: either a primitive (Basic) or a
// reference to a named entry (Ref), optionally behind a pointer.
type TypeRef struct {
	Basic   BasicType
	Ref     string
	Pointer bool
}

// EntryKind classifies the named entries of a catalog.
type EntryKind int

const (
	EntryInvalid EntryKind = iota
	EntryFunction
	EntryObject
	EntryStruct
	EntryEnum
	EntryFlags
	EntryCallback
)

// Param is one declared argument of a callable. Closure and Destroy
// are indexes of the user-data and destroy-notify arguments paired
// with a callback argument, -1 when absent.
type Param struct {
	Name            string
	Direction       Direction
	Type            TypeRef
	Closure         int
	Destroy         int
	CallerAllocates bool
}

// Signature is the declared parameter list and return type of a
// callable, without the method receiver.
type Signature struct {
	Params []Param
	Return TypeRef
}

// Function is a callable catalog entry. Symbol is the native symbol
// the agent resolves and calls.
type Function struct {
	Name     string
	Symbol   string
	IsMethod bool
	Sig      Signature
}

// Field is one member of a struct, addressed by byte offset.
type Field struct {
	Name     string
	Offset   int
	Writable bool
	Type     TypeRef
}

// Struct is a plain or boxed record type. TypeInit is the native
// symbol returning the registered runtime type identity; empty for
// plain structs.
type Struct struct {
	Name     string
	Size     int
	TypeInit string
	Fields   []Field
	Methods  []*Function
}

// Object is a class instance type. Instances are always exchanged as
// opaque pointers.
type Object struct {
	Name     string
	TypeInit string
	Methods  []*Function
}

// EnumValue is one symbolic member of an enumeration.
type EnumValue struct {
	Name  string
	Value int64
}

// Enum is an enumeration or flags entry. Storage is the integer width
// values of this type occupy on the wire; the zero value means int32.
type Enum struct {
	Name     string
	Flags    bool
	Storage  BasicType
	TypeInit string
	Values   []EnumValue
	Methods  []*Function
}

// Callback is a named callback signature.
type Callback struct {
	Name string
	Sig  Signature
}

// Catalog is the structural registry describing a native API. It is
// immutable for the lifetime of the resolver; implementations must be
// safe for concurrent readers.
type Catalog interface {
	// Namespace returns the single namespace this catalog describes.
	Namespace() string
	// Function looks up a callable: a namespace-level function when
	// class is empty, otherwise a method of the named struct, object,
	// enum or flags entry.
	Function(class, member string) (*Function, bool)
	// Entry reports the kind of a named type entry.
	Entry(name string) (EntryKind, bool)
	Struct(name string) (*Struct, bool)
	Object(name string) (*Object, bool)
	Enum(name string) (*Enum, bool)
	Callback(name string) (*Callback, bool)
	// Enums returns all enum and flags entries in declaration order.
	Enums() []*Enum
}

// Registry is the in-memory Catalog implementation. Populate it with
// the Add methods or load it from a catalog document, then treat it as
// read-only.
type Registry struct {
	ns        string
	functions map[string]*Function
	structs   map[string]*Struct
	objects   map[string]*Object
	enums     map[string]*Enum
	callbacks map[string]*Callback
	enumOrder []*Enum
}

func NewRegistry(namespace string) *Registry {
	return &Registry{
		ns:        namespace,
		functions: make(map[string]*Function),
		structs:   make(map[string]*Struct),
		objects:   make(map[string]*Object),
		enums:     make(map[string]*Enum),
		callbacks: make(map[string]*Callback),
	}
}

func (r *Registry) Namespace() string { return r.ns }

func (r *Registry) AddFunction(fn *Function) { r.functions[fn.Name] = fn }
func (r *Registry) AddStruct(s *Struct)      { r.structs[s.Name] = s }
func (r *Registry) AddObject(o *Object)      { r.objects[o.Name] = o }
func (r *Registry) AddCallback(c *Callback)  { r.callbacks[c.Name] = c }

func (r *Registry) AddEnum(e *Enum) {
	if e.Storage == BasicInvalid {
		e.Storage = BasicInt32
	}
	r.enums[e.Name] = e
	r.enumOrder = append(r.enumOrder, e)
}

func (r *Registry) Function(class, member string) (*Function, bool) {
	if class == "" {
		fn, ok := r.functions[member]
		return fn, ok
	}
	var methods []*Function
	switch {
	case r.structs[class] != nil:
		methods = r.structs[class].Methods
	case r.objects[class] != nil:
		methods = r.objects[class].Methods
	case r.enums[class] != nil:
		methods = r.enums[class].Methods
	default:
		return nil, false
	}
	for _, m := range methods {
		if m.Name == member {
			return m, true
		}
	}
	return nil, false
}

func (r *Registry) Entry(name string) (EntryKind, bool) {
	switch {
	case r.structs[name] != nil:
		return EntryStruct, true
	case r.objects[name] != nil:
		return EntryObject, true
	case r.callbacks[name] != nil:
		return EntryCallback, true
	case r.enums[name] != nil:
		if r.enums[name].Flags {
			return EntryFlags, true
		}
		return EntryEnum, true
	}
	return EntryInvalid, false
}

func (r *Registry) Struct(name string) (*Struct, bool) {
	s, ok := r.structs[name]
	return s, ok
}

func (r *Registry) Object(name string) (*Object, bool) {
	o, ok := r.objects[name]
	return o, ok
}

func (r *Registry) Enum(name string) (*Enum, bool) {
	e, ok := r.enums[name]
	return e, ok
}

func (r *Registry) Callback(name string) (*Callback, bool) {
	c, ok := r.callbacks[name]
	return c, ok
}

func (r *Registry) Enums() []*Enum { return r.enumOrder }

// Catalog document format. Types are written either as a primitive
// name ("int32", "string", "void*") or as a reference to a named entry
// ("Format", "Meta"). Closure/destroy indexes default to -1.

type catalogDoc struct {
	Namespace string        `json:"namespace"`
	Functions []functionDoc `json:"functions"`
	Structs   []structDoc   `json:"structs"`
	Objects   []objectDoc   `json:"objects"`
	Enums     []enumDoc     `json:"enums"`
	Callbacks []callbackDoc `json:"callbacks"`
}

type paramDoc struct {
	Name            string `json:"name"`
	Type            string `json:"type"`
	Direction       string `json:"direction"` // "in" (default), "out", "inout"
	Closure         *int   `json:"closure"`
	Destroy         *int   `json:"destroy"`
	CallerAllocates bool   `json:"caller_allocates"`
}

type functionDoc struct {
	Name   string     `json:"name"`
	Symbol string     `json:"symbol"`
	Method bool       `json:"method"`
	Params []paramDoc `json:"params"`
	Return string     `json:"return"`
}

type fieldDoc struct {
	Name     string `json:"name"`
	Offset   int    `json:"offset"`
	Writable bool   `json:"writable"`
	Type     string `json:"type"`
}

type structDoc struct {
	Name     string        `json:"name"`
	Size     int           `json:"size"`
	TypeInit string        `json:"type_init"`
	Fields   []fieldDoc    `json:"fields"`
	Methods  []functionDoc `json:"methods"`
}

type objectDoc struct {
	Name     string        `json:"name"`
	TypeInit string        `json:"type_init"`
	Methods  []functionDoc `json:"methods"`
}

type enumDoc struct {
	Name     string           `json:"name"`
	Flags    bool             `json:"flags"`
	Storage  string           `json:"storage"`
	TypeInit string           `json:"type_init"`
	Values   map[string]int64 `json:"values"`
	Order    []string         `json:"order"` // declaration order of Values; optional
	Methods  []functionDoc    `json:"methods"`
}

type callbackDoc struct {
	Name   string     `json:"name"`
	Params []paramDoc `json:"params"`
	Return string     `json:"return"`
}

// LoadRegistry reads a JSON catalog document.
func LoadRegistry(rd io.Reader) (*Registry, error) {
	var doc catalogDoc
	if err := json.NewDecoder(rd).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	if doc.Namespace == "" {
		return nil, fmt.Errorf("catalog has no namespace")
	}
	r := NewRegistry(doc.Namespace)
	for _, fd := range doc.Functions {
		fn, err := fd.build()
		if err != nil {
			return nil, err
		}
		r.AddFunction(fn)
	}
	for _, sd := range doc.Structs {
		s := &Struct{Name: sd.Name, Size: sd.Size, TypeInit: sd.TypeInit}
		for _, fd := range sd.Fields {
			t, err := parseTypeRef(fd.Type)
			if err != nil {
				return nil, fmt.Errorf("struct %s field %s: %w", sd.Name, fd.Name, err)
			}
			s.Fields = append(s.Fields, Field{Name: fd.Name, Offset: fd.Offset, Writable: fd.Writable, Type: t})
		}
		for _, md := range sd.Methods {
			fn, err := md.build()
			if err != nil {
				return nil, fmt.Errorf("struct %s: %w", sd.Name, err)
			}
			s.Methods = append(s.Methods, fn)
		}
		r.AddStruct(s)
	}
	for _, od := range doc.Objects {
		o := &Object{Name: od.Name, TypeInit: od.TypeInit}
		for _, md := range od.Methods {
			fn, err := md.build()
			if err != nil {
				return nil, fmt.Errorf("object %s: %w", od.Name, err)
			}
			o.Methods = append(o.Methods, fn)
		}
		r.AddObject(o)
	}
	for _, ed := range doc.Enums {
		e := &Enum{Name: ed.Name, Flags: ed.Flags, TypeInit: ed.TypeInit}
		if ed.Storage != "" {
			b, ok := basicNames[ed.Storage]
			if !ok {
				return nil, fmt.Errorf("enum %s: unknown storage %q", ed.Name, ed.Storage)
			}
			e.Storage = b
		}
		order := ed.Order
		if len(order) == 0 {
			// No declared order; fall back to sorted-by-value so reverse
			// lookup stays deterministic.
			order = sortedByValue(ed.Values)
		}
		for _, name := range order {
			v, ok := ed.Values[name]
			if !ok {
				return nil, fmt.Errorf("enum %s: order names unknown value %q", ed.Name, name)
			}
			e.Values = append(e.Values, EnumValue{Name: name, Value: v})
		}
		for _, md := range ed.Methods {
			fn, err := md.build()
			if err != nil {
				return nil, fmt.Errorf("enum %s: %w", ed.Name, err)
			}
			e.Methods = append(e.Methods, fn)
		}
		r.AddEnum(e)
	}
	for _, cd := range doc.Callbacks {
		sig, err := buildSignature(cd.Params, cd.Return)
		if err != nil {
			return nil, fmt.Errorf("callback %s: %w", cd.Name, err)
		}
		r.AddCallback(&Callback{Name: cd.Name, Sig: sig})
	}
	return r, nil
}

// LoadRegistryFile is LoadRegistry over a file path.
func LoadRegistryFile(path string) (*Registry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return LoadRegistry(f)
}

func (fd functionDoc) build() (*Function, error) {
	sig, err := buildSignature(fd.Params, fd.Return)
	if err != nil {
		return nil, fmt.Errorf("function %s: %w", fd.Name, err)
	}
	return &Function{Name: fd.Name, Symbol: fd.Symbol, IsMethod: fd.Method, Sig: sig}, nil
}

func buildSignature(params []paramDoc, ret string) (Signature, error) {
	var sig Signature
	for _, pd := range params {
		t, err := parseTypeRef(pd.Type)
		if err != nil {
			return Signature{}, fmt.Errorf("param %s: %w", pd.Name, err)
		}
		p := Param{Name: pd.Name, Type: t, Closure: -1, Destroy: -1, CallerAllocates: pd.CallerAllocates}
		if pd.Closure != nil {
			p.Closure = *pd.Closure
		}
		if pd.Destroy != nil {
			p.Destroy = *pd.Destroy
		}
		switch pd.Direction {
		case "", "in":
			p.Direction = DirIn
		case "out":
			p.Direction = DirOut
		case "inout":
			p.Direction = DirInOut
		default:
			return Signature{}, fmt.Errorf("param %s: unknown direction %q", pd.Name, pd.Direction)
		}
		sig.Params = append(sig.Params, p)
	}
	if ret == "" {
		ret = "void"
	}
	t, err := parseTypeRef(ret)
	if err != nil {
		return Signature{}, fmt.Errorf("return: %w", err)
	}
	sig.Return = t
	return sig, nil
}

func parseTypeRef(s string) (TypeRef, error) {
	if s == "" {
		return TypeRef{}, fmt.Errorf("empty type")
	}
	pointer := false
	if s[len(s)-1] == '*' {
		pointer = true
		s = s[:len(s)-1]
	}
	if b, ok := basicNames[s]; ok {
		return TypeRef{Basic: b, Pointer: pointer}, nil
	}
	// Anything else names a catalog entry; resolution happens when the
	// type is compiled.
	return TypeRef{Ref: s, Pointer: pointer}, nil
}

func sortedByValue(values map[string]int64) []string {
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		a, b := names[i], names[j]
		if values[a] != values[b] {
			return values[a] < values[b]
		}
		return a < b
	})
	return names
}
