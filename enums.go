package gibridge

// EnumMapping is the symbolic-name/integer-value table for one enum or
// flags type. Built once from the catalog at startup, read-only after.
type EnumMapping struct {
	typeName string
	values   []EnumValue
	byName   map[string]int64
}

// Lookup returns the integer value for a symbolic name.
func (m *EnumMapping) Lookup(name string) (int64, bool) {
	v, ok := m.byName[name]
	return v, ok
}

// ReverseLookup returns the symbolic name for an integer value,
// scanning in catalog declaration order. Mappings are expected to be
// value-unique; for aliased values the first match wins, which is a
// documented fallback rather than a guarantee.
func (m *EnumMapping) ReverseLookup(v int64) (string, bool) {
	for _, ev := range m.values {
		if ev.Value == v {
			return ev.Name, true
		}
	}
	return "", false
}

// EnumMappings indexes EnumMapping by qualified type name
// (namespace + type name, e.g. "GstFormat").
type EnumMappings map[string]*EnumMapping

// BuildEnumMappings constructs the per-type tables for every enum and
// flags entry in the catalog.
func BuildEnumMappings(cat Catalog) EnumMappings {
	ms := make(EnumMappings)
	for _, e := range cat.Enums() {
		m := &EnumMapping{
			typeName: cat.Namespace() + e.Name,
			values:   e.Values,
			byName:   make(map[string]int64, len(e.Values)),
		}
		for _, ev := range e.Values {
			m.byName[ev.Name] = ev.Value
		}
		ms[m.typeName] = m
	}
	return ms
}
