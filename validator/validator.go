// Package validator checks fields of configuration structs by name.
package validator

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"
)

// Validator checks one property of a struct.
type Validator interface {
	Validate(data interface{}) error
}

// RangeValidator requires a numeric field to lie within [Min, Max].
// Durations are compared in seconds.
type RangeValidator struct {
	Field string
	Min   float64
	Max   float64
}

// Validate implements Validator.
func (rv *RangeValidator) Validate(data interface{}) error {
	field, err := lookup(data, rv.Field)
	if err != nil {
		return err
	}

	var value float64
	switch {
	case field.Type() == reflect.TypeOf(time.Duration(0)):
		value = time.Duration(field.Int()).Seconds()
	case field.Kind() == reflect.Float32, field.Kind() == reflect.Float64:
		value = field.Float()
	case field.CanInt():
		value = float64(field.Int())
	case field.CanUint():
		value = float64(field.Uint())
	default:
		return fmt.Errorf("field %s is not numeric", rv.Field)
	}

	if value < rv.Min || value > rv.Max {
		return fmt.Errorf("field %s value %g is not in range [%g, %g]", rv.Field, value, rv.Min, rv.Max)
	}
	return nil
}

// OneOfValidator requires a string field to equal one of Values, ignoring
// case. An empty value passes when AllowEmpty is set.
type OneOfValidator struct {
	Field      string
	Values     []string
	AllowEmpty bool
}

// Validate implements Validator.
func (ov *OneOfValidator) Validate(data interface{}) error {
	field, err := lookup(data, ov.Field)
	if err != nil {
		return err
	}
	if field.Kind() != reflect.String {
		return fmt.Errorf("field %s is not a string", ov.Field)
	}

	value := field.String()
	if value == "" && ov.AllowEmpty {
		return nil
	}
	for _, v := range ov.Values {
		if strings.EqualFold(v, value) {
			return nil
		}
	}
	return fmt.Errorf("field %s value %q must be one of %s", ov.Field, value, strings.Join(ov.Values, ", "))
}

// ValidateAll runs every validator against data and joins the failures.
func ValidateAll(data interface{}, validators ...Validator) error {
	var errs []error
	for _, v := range validators {
		if err := v.Validate(data); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// lookup resolves a dotted path of struct field names, e.g. "Logger.MaxSize".
func lookup(data interface{}, path string) (reflect.Value, error) {
	v := reflect.ValueOf(data)
	for v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return reflect.Value{}, errors.New("data is nil")
		}
		v = v.Elem()
	}

	for _, name := range strings.Split(path, ".") {
		if v.Kind() != reflect.Struct {
			return reflect.Value{}, fmt.Errorf("data must be a struct to resolve %s", path)
		}
		v = v.FieldByName(name)
		if !v.IsValid() {
			return reflect.Value{}, fmt.Errorf("field %s does not exist", path)
		}
	}
	return v, nil
}
