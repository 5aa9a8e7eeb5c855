package gibridge

import (
	"context"
)

// testCatalog builds a small catalog in the shape of a media library:
// a namespace-level function with out parameters, a plain struct with
// fields, a boxed struct with methods, an object, an enum and a
// callback.
func testCatalog() *Registry {
	r := NewRegistry("Gst")

	r.AddEnum(&Enum{
		Name: "Format",
		Values: []EnumValue{
			{Name: "undefined", Value: 0},
			{Name: "default", Value: 1},
			{Name: "bytes", Value: 2},
			{Name: "time", Value: 3},
		},
	})

	r.AddFunction(&Function{
		Name:   "version",
		Symbol: "gst_version",
		Sig: Signature{
			Params: []Param{
				{Name: "major", Direction: DirOut, Type: TypeRef{Basic: BasicUint32}, Closure: -1, Destroy: -1},
				{Name: "minor", Direction: DirOut, Type: TypeRef{Basic: BasicUint32}, Closure: -1, Destroy: -1},
			},
			Return: TypeRef{Basic: BasicVoid},
		},
	})

	// Plain struct: no registered runtime type, generic new/free apply.
	r.AddStruct(&Struct{
		Name: "Meta",
		Size: 16,
		Fields: []Field{
			{Name: "flags", Offset: 0, Writable: true, Type: TypeRef{Basic: BasicUint32}},
			{Name: "info", Offset: 8, Writable: false, Type: TypeRef{Basic: BasicUint64}},
		},
	})

	// Boxed struct with its own constructor and methods.
	r.AddStruct(&Struct{
		Name:     "Buffer",
		Size:     112,
		TypeInit: "gst_buffer_get_type",
		Methods: []*Function{
			{
				Name:   "new",
				Symbol: "gst_buffer_new",
				Sig:    Signature{Return: TypeRef{Ref: "Buffer", Pointer: true}},
			},
			{
				Name:     "get_size",
				Symbol:   "gst_buffer_get_size",
				IsMethod: true,
				Sig:      Signature{Return: TypeRef{Basic: BasicUint64}},
			},
			{
				Name:     "set_format",
				Symbol:   "gst_buffer_set_format",
				IsMethod: true,
				Sig: Signature{
					Params: []Param{
						{Name: "format", Type: TypeRef{Ref: "Format"}, Closure: -1, Destroy: -1},
					},
					Return: TypeRef{Ref: "Format"},
				},
			},
		},
	})

	r.AddObject(&Object{
		Name:     "Element",
		TypeInit: "gst_element_get_type",
		Methods: []*Function{
			{
				Name:     "link",
				Symbol:   "gst_element_link",
				IsMethod: true,
				Sig: Signature{
					Params: []Param{
						{Name: "dest", Type: TypeRef{Ref: "Element", Pointer: true}, Closure: -1, Destroy: -1},
					},
					Return: TypeRef{Basic: BasicBool},
				},
			},
		},
	})

	r.AddCallback(&Callback{
		Name: "PadProbeCallback",
		Sig: Signature{
			Params: []Param{
				{Name: "pad", Type: TypeRef{Basic: BasicVoid, Pointer: true}, Closure: -1, Destroy: -1},
				{Name: "user_data", Type: TypeRef{Basic: BasicVoid, Pointer: true}, Closure: -1, Destroy: -1},
			},
			Return: TypeRef{Basic: BasicInt32},
		},
	})

	return r
}

// fakeTransport implements Transport with per-method hooks. Unset
// hooks return zero values.
type fakeTransport struct {
	callFn  func(symbol string, desc *CallableDescriptor, args []any) (map[string]any, error)
	allocFn func(size int) (string, error)
	freeFn  func(ptr string) error
	getFn   func(ptr string, offset int, typ TypeDescriptor) (any, error)
	setFn   func(ptr string, offset int, typ TypeDescriptor, value any) error
}

func (f *fakeTransport) Call(_ context.Context, symbol string, desc *CallableDescriptor, args []any) (map[string]any, error) {
	if f.callFn == nil {
		return nil, nil
	}
	return f.callFn(symbol, desc, args)
}

func (f *fakeTransport) Alloc(_ context.Context, size int) (string, error) {
	if f.allocFn == nil {
		return "0x0", nil
	}
	return f.allocFn(size)
}

func (f *fakeTransport) Free(_ context.Context, ptr string) error {
	if f.freeFn == nil {
		return nil
	}
	return f.freeFn(ptr)
}

func (f *fakeTransport) FieldGet(_ context.Context, ptr string, offset int, typ TypeDescriptor) (any, error) {
	if f.getFn == nil {
		return nil, nil
	}
	return f.getFn(ptr, offset, typ)
}

func (f *fakeTransport) FieldSet(_ context.Context, ptr string, offset int, typ TypeDescriptor, value any) error {
	if f.setFn == nil {
		return nil
	}
	return f.setFn(ptr, offset, typ, value)
}
