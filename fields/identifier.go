package fields

import (
	"fmt"
	"regexp"
)

// Identifier names a telemetry field, e.g. "memory.used".
// Segments are separated by '.' or '/'.
type Identifier string

var identifierPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+([./][A-Za-z0-9_-]+)*$`)

// ParseIdentifier validates s and returns it as an Identifier.
func ParseIdentifier(s string) (Identifier, error) {
	if !identifierPattern.MatchString(s) {
		return "", fmt.Errorf("invalid field identifier %q", s)
	}
	return Identifier(s), nil
}

// String implements fmt.Stringer
func (id Identifier) String() string {
	return string(id)
}

// Type is the value type reported to the front-end for a field.
type Type string

const (
	// Integer is the default type
	Integer Type = "integer"
	// Float values are rendered with two decimals
	Float Type = "float"
	// ListView fields render a table, one row per line
	ListView Type = "listview"
)

// ParseType converts a config string into a Type. An empty string yields Integer.
func ParseType(s string) (Type, error) {
	switch Type(s) {
	case "", Integer:
		return Integer, nil
	case Float:
		return Float, nil
	case ListView:
		return ListView, nil
	default:
		return "", fmt.Errorf("unknown field type %q", s)
	}
}
