package gibridge

// Schema is the declared shape of a parameter, reduced to what the
// codec needs: a primitive type name, an optional reference to a named
// schema, array items, and the composition keywords. Referenced and
// composed schemas are treated as composite without being resolved;
// final validation happens downstream.
type Schema struct {
	Type  string // "object", "array", "string", "integer", "number", "boolean" or empty
	Ref   string
	Items *Schema
	AllOf []Schema
	AnyOf []Schema
	OneOf []Schema
}

// IsComposite reports whether the schema describes an object-like
// value: a direct object type, a reference, or any union/intersection
// composition.
func (s *Schema) IsComposite() bool {
	if s == nil {
		return false
	}
	return s.Type == "object" || s.Ref != "" ||
		len(s.AllOf) > 0 || len(s.AnyOf) > 0 || len(s.OneOf) > 0
}

// IsArray reports whether the schema declares an array.
func (s *Schema) IsArray() bool {
	return s != nil && s.Type == "array"
}

// Style is a parameter serialization style.
type Style string

const (
	StyleForm   Style = "form"
	StyleSimple Style = "simple"
)

// ParamSpec declares how one parameter is serialized: its location,
// style, explode flag and schema. Zero values take the usual defaults:
// query parameters are form style, path parameters simple; form
// explodes by default, simple does not.
type ParamSpec struct {
	Name    string
	In      string // "query" or "path"
	Style   Style
	Explode *bool
	Schema  *Schema
}

func (p ParamSpec) effectiveStyle() Style {
	if p.Style != "" {
		return p.Style
	}
	if p.In == "path" {
		return StyleSimple
	}
	return StyleForm
}

func (p ParamSpec) exploded() bool {
	if p.Explode != nil {
		return *p.Explode
	}
	return p.effectiveStyle() == StyleForm
}
