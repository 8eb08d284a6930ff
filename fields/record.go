package fields

import (
	"errors"
	"math"
	"strconv"
)

// ErrNotNumeric is returned by Record.Number for fields whose value is text.
var ErrNotNumeric = errors.New("value is not numeric")

type fieldState int

const (
	stateReady fieldState = iota
	statePending
	stateResolving
)

// Field is one resolved telemetry value of a device.
type Field struct {
	spec *Spec

	state   fieldState
	value   string
	number  float64
	numeric bool
	unit    string
	max     float64
	meta    string
	err     error
}

// ID returns the field identifier.
func (f *Field) ID() Identifier {
	return f.spec.ID
}

// Type returns the field's value type.
func (f *Field) Type() Type {
	return f.spec.ValueType()
}

// Unit returns the resolved unit of a queried field, without display padding.
func (f *Field) Unit() string {
	return f.unit
}

// Derived reports whether the field is computed by a generator.
func (f *Field) Derived() bool {
	return f.spec.Derived()
}

func (f *Field) setValue(v string) {
	f.value = v
	f.number, f.numeric = parseNumber(v)
}

// Record holds every field of one device.
type Record struct {
	index  int
	fields map[Identifier]*Field
	order  []Identifier
}

// NewRecord returns an empty record for the device at index.
func NewRecord(index int) *Record {
	return &Record{
		index:  index,
		fields: make(map[Identifier]*Field),
	}
}

// AddQueried stores a field read from the telemetry tool. value must already
// be trimmed, transformed and stripped of its unit suffix.
func (r *Record) AddQueried(spec *Spec, value, unit string) {
	f := &Field{spec: spec, state: stateReady, unit: unit}
	f.setValue(value)
	r.add(f)
}

// AddDerived stores a field whose value is generated on first access.
func (r *Record) AddDerived(spec *Spec) {
	r.add(&Field{spec: spec, state: statePending})
}

func (r *Record) add(f *Field) {
	if _, exists := r.fields[f.spec.ID]; !exists {
		r.order = append(r.order, f.spec.ID)
		sortIdentifiers(r.order)
	}
	r.fields[f.spec.ID] = f
}

// ResolveMaxima applies the max rule of every queried field. Rules may read
// sibling fields, generating derived ones on demand.
func (r *Record) ResolveMaxima() error {
	for _, id := range r.order {
		f := r.fields[id]
		if f.Derived() {
			continue
		}

		switch f.spec.Max.kind {
		case maxConstant:
			f.max = f.spec.Max.value
		case maxFunc:
			v, err := f.spec.Max.fn(r)
			switch {
			case errors.Is(err, errUseDefault):
				f.max = defaultMax(f)
			case err != nil:
				var perr *ParseError
				if errors.As(err, &perr) {
					return err
				}
				return &ParseError{Field: id, Reason: "cannot resolve maximum", Err: err}
			default:
				f.max = v
			}
		default:
			f.max = defaultMax(f)
		}
	}
	return nil
}

func defaultMax(f *Field) float64 {
	if f.numeric {
		return math.Max(f.number, 100)
	}
	return 100
}

// Index returns the device index.
func (r *Record) Index() int {
	return r.index
}

// Identifiers returns the record's field identifiers in lexicographic order.
func (r *Record) Identifiers() []Identifier {
	out := make([]Identifier, len(r.order))
	copy(out, r.order)
	return out
}

// Field returns the field stored under id.
func (r *Record) Field(id Identifier) (*Field, error) {
	f, ok := r.fields[id]
	if !ok {
		return nil, &UnknownFieldError{ID: id}
	}
	return f, nil
}

func (r *Record) resolved(id Identifier) (*Field, error) {
	f, err := r.Field(id)
	if err != nil {
		return nil, err
	}

	switch f.state {
	case stateReady:
		return f, f.err
	case stateResolving:
		return nil, &ParseError{Field: id, Reason: "cyclic field dependency"}
	}

	f.state = stateResolving
	gen, err := f.spec.Generator(r)
	f.state = stateReady
	if err != nil {
		f.err = err
		return f, err
	}
	f.meta = gen.Meta
	f.setValue(gen.Value)
	return f, nil
}

// Value returns the rendered value of id.
func (r *Record) Value(id Identifier) (string, error) {
	f, err := r.resolved(id)
	if err != nil {
		return "", err
	}
	return f.value, nil
}

// Number returns the numeric value of id.
func (r *Record) Number(id Identifier) (float64, error) {
	f, err := r.resolved(id)
	if err != nil {
		return 0, err
	}
	if !f.numeric {
		return 0, ErrNotNumeric
	}
	return f.number, nil
}

// Max returns the resolved maximum of a queried field.
func (r *Record) Max(id Identifier) (float64, error) {
	f, err := r.Field(id)
	if err != nil {
		return 0, err
	}
	return f.max, nil
}

// Metadata returns the metadata response for id.
func (r *Record) Metadata(id Identifier) (string, error) {
	f, err := r.resolved(id)
	if err != nil {
		return "", err
	}
	if f.Derived() {
		return f.meta, nil
	}
	return MetaLine(string(id), f.max, f.unit), nil
}

// Snapshot is the ordered set of device records from one collection.
type Snapshot struct {
	records []*Record
}

// NewSnapshot wraps records, which must be ordered by device index.
func NewSnapshot(records []*Record) *Snapshot {
	return &Snapshot{records: records}
}

// Len returns the number of devices.
func (s *Snapshot) Len() int {
	return len(s.records)
}

// Device returns the record for the device at index.
func (s *Snapshot) Device(index int) (*Record, bool) {
	if index < 0 || index >= len(s.records) {
		return nil, false
	}
	return s.records[index], true
}

// Records returns all device records in index order.
func (s *Snapshot) Records() []*Record {
	out := make([]*Record, len(s.records))
	copy(out, s.records)
	return out
}

func parseNumber(s string) (float64, bool) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}
