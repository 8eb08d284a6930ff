package fields

import (
	"math"
	"strconv"
	"strings"
)

// MetaLine renders the metadata response of a numeric field:
// label, lower bound (always 0), upper bound and display unit, tab separated.
func MetaLine(label string, max float64, unit string) string {
	return label + "\t0\t" + strconv.FormatFloat(max, 'f', -1, 64) + "\t" + DisplayUnit(unit)
}

// DisplayUnit prefixes a non-empty unit with the single space the front-end
// expects between value and unit.
func DisplayUnit(unit string) string {
	unit = strings.TrimSpace(unit)
	if unit == "" {
		return ""
	}
	return " " + unit
}

// FormatNumber renders v for a field of type t.
func FormatNumber(v float64, t Type) string {
	if t == Float {
		return strconv.FormatFloat(v, 'f', 2, 64)
	}
	return strconv.FormatFloat(math.Round(v), 'f', 0, 64)
}
