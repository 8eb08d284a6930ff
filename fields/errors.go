package fields

import "fmt"

// UnknownFieldError is returned when an identifier is not part of the
// registry or of a device record.
type UnknownFieldError struct {
	ID Identifier
}

func (e *UnknownFieldError) Error() string {
	return fmt.Sprintf("unknown field %s", e.ID)
}

// ParseError reports telemetry output that does not have the expected shape,
// including field values that cannot be resolved from their siblings.
type ParseError struct {
	Line   int // 1-based output line, 0 when not tied to a line
	Field  Identifier
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	msg := "parse error"
	if e.Line > 0 {
		msg = fmt.Sprintf("%s on line %d", msg, e.Line)
	}
	if e.Field != "" {
		msg = fmt.Sprintf("%s in field %s", msg, e.Field)
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ParseError) Unwrap() error {
	return e.Err
}
