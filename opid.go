package gibridge

import (
	"fmt"
	"strings"
)

// Operator selects the non-call member operations: struct field reads
// and writes. A plain call has no operator.
type Operator string

const (
	OperatorNone Operator = ""
	OperatorGet  Operator = "get"
	OperatorPut  Operator = "put"
)

// Identity names a single operation: a namespace-level function, a
// method on a class, or a field accessor. The textual form is
// dash-delimited: "Gst-Buffer-new", "Gst--version", "Gst-Meta-flags-get".
//
// An empty class segment ("Gst--version") and the two-segment short
// form ("Gst-version") both denote a namespace-level function;
// ShortForm preserves which spelling was parsed so String round-trips.
type Identity struct {
	Namespace string
	Class     string // empty for namespace-level functions
	Member    string
	Operator  Operator

	// ShortForm marks the two-segment spelling without a class segment.
	ShortForm bool
}

// ParseIdentity parses a dash-delimited operation id. It accepts 2 to
// 4 segments; the 4th segment must be "get" or "put". Malformed ids
// yield an error.
func ParseIdentity(s string) (Identity, error) {
	if s == "" {
		return Identity{}, fmt.Errorf("empty operation id")
	}
	parts := strings.Split(s, "-")
	switch len(parts) {
	case 2:
		if parts[0] == "" || parts[1] == "" {
			return Identity{}, fmt.Errorf("malformed operation id %q", s)
		}
		return Identity{Namespace: parts[0], Member: parts[1], ShortForm: true}, nil
	case 3:
		if parts[0] == "" || parts[2] == "" {
			return Identity{}, fmt.Errorf("malformed operation id %q", s)
		}
		return Identity{Namespace: parts[0], Class: parts[1], Member: parts[2]}, nil
	case 4:
		op := Operator(parts[3])
		if op != OperatorGet && op != OperatorPut {
			return Identity{}, fmt.Errorf("malformed operation id %q: unknown operator %q", s, parts[3])
		}
		if parts[0] == "" || parts[1] == "" || parts[2] == "" {
			return Identity{}, fmt.Errorf("malformed operation id %q", s)
		}
		return Identity{Namespace: parts[0], Class: parts[1], Member: parts[2], Operator: op}, nil
	default:
		return Identity{}, fmt.Errorf("malformed operation id %q: want 2-4 segments, got %d", s, len(parts))
	}
}

// String formats the identity back to its dash-delimited form.
// For any well-formed id, ParseIdentity followed by String reproduces
// the input exactly.
func (id Identity) String() string {
	if id.ShortForm && id.Class == "" && id.Operator == OperatorNone {
		return id.Namespace + "-" + id.Member
	}
	s := id.Namespace + "-" + id.Class + "-" + id.Member
	if id.Operator != OperatorNone {
		s += "-" + string(id.Operator)
	}
	return s
}
