package fields

import (
	"errors"
	"fmt"
)

// TransformFunc rewrites the trimmed raw cell text of a queried field.
type TransformFunc func(raw string) (string, error)

// Generated is the output of a derived field's generator.
type Generated struct {
	// Meta is the full metadata response line(s) for the field
	Meta string
	// Value is the rendered value
	Value string
}

// GeneratorFunc computes a derived field from the other fields of its
// device record. It is called at most once per record.
type GeneratorFunc func(rec *Record) (Generated, error)

type maxKind int

const (
	maxDefault maxKind = iota
	maxConstant
	maxFunc
)

// MaxRule decides the upper bound reported in a field's metadata line.
// The zero value applies the default rule: max(value, 100).
type MaxRule struct {
	kind  maxKind
	value float64
	fn    func(rec *Record) (float64, error)
}

// ConstMax returns a rule that always reports v.
func ConstMax(v float64) MaxRule {
	return MaxRule{kind: maxConstant, value: v}
}

// MaxFunc returns a rule computed from the device record.
func MaxFunc(fn func(rec *Record) (float64, error)) MaxRule {
	return MaxRule{kind: maxFunc, fn: fn}
}

// MaxOf reports the numeric value of a sibling field. A missing sibling is a
// ParseError; a sibling without a numeric value falls back to the default rule.
func MaxOf(sibling Identifier) MaxRule {
	return MaxFunc(func(rec *Record) (float64, error) {
		v, err := rec.Number(sibling)
		if err == nil {
			return v, nil
		}
		if errors.Is(err, ErrNotNumeric) {
			return 0, errUseDefault
		}
		return 0, &ParseError{Field: sibling, Reason: "maximum depends on missing field", Err: err}
	})
}

// IsSet reports whether the rule overrides the default.
func (m MaxRule) IsSet() bool {
	return m.kind != maxDefault
}

var errUseDefault = errors.New("use default maximum")

// Spec declares how a single field is obtained and displayed.
type Spec struct {
	ID        Identifier
	Transform TransformFunc
	Max       MaxRule
	// Unit overrides the unit from the tool's header or value suffix
	Unit      string
	Type      Type
	Generator GeneratorFunc
}

// Derived reports whether the field is computed instead of queried.
func (s *Spec) Derived() bool {
	return s.Generator != nil
}

// ValueType returns the declared type, defaulting to Integer.
func (s *Spec) ValueType() Type {
	if s.Type == "" {
		return Integer
	}
	return s.Type
}

func (s *Spec) validate() error {
	if _, err := ParseIdentifier(string(s.ID)); err != nil {
		return err
	}
	if _, err := ParseType(string(s.Type)); err != nil {
		return fmt.Errorf("field %s: %w", s.ID, err)
	}
	if s.Derived() && (s.Transform != nil || s.Max.IsSet()) {
		return fmt.Errorf("field %s: derived fields cannot declare a transform or maximum", s.ID)
	}
	if !s.Derived() && s.ValueType() == ListView {
		return fmt.Errorf("field %s: listview fields must be derived", s.ID)
	}
	return nil
}

// Merge overlays the attributes set in o onto s. Setting a generator turns
// the field into a derived one and drops any queried-only attributes.
func (s Spec) Merge(o Spec) Spec {
	if o.Generator != nil {
		s.Generator = o.Generator
		s.Transform = nil
		s.Max = MaxRule{}
	}
	if o.Transform != nil {
		s.Transform = o.Transform
		s.Generator = nil
	}
	if o.Max.IsSet() {
		s.Max = o.Max
	}
	if o.Unit != "" {
		s.Unit = o.Unit
	}
	if o.Type != "" {
		s.Type = o.Type
	}
	return s
}

// MergeSpecs applies overrides to base by identifier. Overrides for unknown
// identifiers are appended as new fields.
func MergeSpecs(base []Spec, overrides []Spec) []Spec {
	out := make([]Spec, len(base))
	copy(out, base)

	index := make(map[Identifier]int, len(out))
	for i, s := range out {
		index[s.ID] = i
	}

	for _, o := range overrides {
		if i, ok := index[o.ID]; ok {
			out[i] = out[i].Merge(o)
			continue
		}
		index[o.ID] = len(out)
		out = append(out, o)
	}
	return out
}
