package gibridge

import "encoding/json"

// TypeTag is the wire-level type vocabulary understood by the
// instrumentation agent. Every value a call carries is described by
// exactly one tag.
type TypeTag string

const (
	TagBool     TypeTag = "bool"
	TagInt8     TypeTag = "int8"
	TagUint8    TypeTag = "uint8"
	TagInt16    TypeTag = "int16"
	TagUint16   TypeTag = "uint16"
	TagInt32    TypeTag = "int32"
	TagUint32   TypeTag = "uint32"
	TagInt64    TypeTag = "int64"
	TagUint64   TypeTag = "uint64"
	TagString   TypeTag = "string"
	TagFloat    TypeTag = "float"
	TagDouble   TypeTag = "double"
	TagVoid     TypeTag = "void"
	TagPointer  TypeTag = "pointer"
	TagStruct   TypeTag = "struct"
	TagGType    TypeTag = "gtype"
	TagCallback TypeTag = "callback"
)

// Valid reports whether t is one of the known wire tags.
func (t TypeTag) Valid() bool {
	switch t {
	case TagBool, TagInt8, TagUint8, TagInt16, TagUint16, TagInt32, TagUint32,
		TagInt64, TagUint64, TagString, TagFloat, TagDouble, TagVoid,
		TagPointer, TagStruct, TagGType, TagCallback:
		return true
	}
	return false
}

// Direction is an argument's data flow relative to the native call.
// The integer values are part of the wire descriptor.
type Direction int

const (
	DirIn Direction = iota
	DirOut
	DirInOut
)

// TypeDescriptor is the compiled wire form of a catalog type.
// StructSize is meaningful only for struct and gtype tags; Subtype
// only for callback tags. Descriptors are immutable once compiled.
type TypeDescriptor struct {
	Tag        TypeTag
	StructSize int
	Subtype    *CallableDescriptor
}

// ArgumentDescriptor is the compiled wire form of one callable
// argument. Closure and Destroy are indexes into the argument list
// (-1 when absent); an argument referenced by another argument's
// closure or destroy index is always skipped, as is any out-direction
// argument.
type ArgumentDescriptor struct {
	Name      string
	Skipped   bool
	Closure   int
	IsClosure bool
	Destroy   int
	IsDestroy bool
	Direction Direction
	Type      TypeDescriptor
}

// CallableDescriptor is the complete wire descriptor for one call.
// When IsMethod is set the receiver is argument 0.
type CallableDescriptor struct {
	IsMethod  bool
	Arguments []ArgumentDescriptor
	Returns   TypeDescriptor
}

type argumentWire struct {
	Name       string              `json:"name"`
	Skipped    bool                `json:"skipped"`
	Closure    int                 `json:"closure"`
	IsClosure  bool                `json:"is_closure"`
	Destroy    int                 `json:"destroy"`
	IsDestroy  bool                `json:"is_destroy"`
	Direction  int                 `json:"direction"`
	Type       TypeTag             `json:"type"`
	Subtype    *CallableDescriptor `json:"subtype"`
	StructSize *int                `json:"struct_size,omitempty"`
}

// MarshalJSON emits the agent wire form. struct_size is present only
// for struct and gtype arguments; subtype is null unless the argument
// is a callback.
func (a ArgumentDescriptor) MarshalJSON() ([]byte, error) {
	w := argumentWire{
		Name:      a.Name,
		Skipped:   a.Skipped,
		Closure:   a.Closure,
		IsClosure: a.IsClosure,
		Destroy:   a.Destroy,
		IsDestroy: a.IsDestroy,
		Direction: int(a.Direction),
		Type:      a.Type.Tag,
		Subtype:   a.Type.Subtype,
	}
	if a.Type.Tag == TagStruct || a.Type.Tag == TagGType {
		size := a.Type.StructSize
		w.StructSize = &size
	}
	return json.Marshal(w)
}

type callableWire struct {
	Arguments []ArgumentDescriptor `json:"arguments"`
	IsMethod  bool                 `json:"is_method"`
	Returns   TypeTag              `json:"returns"`
}

func (c *CallableDescriptor) MarshalJSON() ([]byte, error) {
	args := c.Arguments
	if args == nil {
		args = []ArgumentDescriptor{}
	}
	return json.Marshal(callableWire{
		Arguments: args,
		IsMethod:  c.IsMethod,
		Returns:   c.Returns.Tag,
	})
}
