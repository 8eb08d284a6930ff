package validator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type inner struct {
	Level   string
	MaxSize int
}

type sample struct {
	Interval time.Duration
	Ratio    float64
	Count    uint
	Name     string
	Logger   inner
}

func TestRangeValidator(t *testing.T) {
	data := sample{Interval: 2 * time.Second, Ratio: 0.5, Count: 3, Logger: inner{MaxSize: 10}}

	tests := []struct {
		name    string
		v       RangeValidator
		wantErr bool
	}{
		{"duration in range", RangeValidator{Field: "Interval", Min: 0.1, Max: 3600}, false},
		{"duration below", RangeValidator{Field: "Interval", Min: 5, Max: 10}, true},
		{"float", RangeValidator{Field: "Ratio", Min: 0, Max: 1}, false},
		{"uint above", RangeValidator{Field: "Count", Min: 0, Max: 2}, true},
		{"nested", RangeValidator{Field: "Logger.MaxSize", Min: 1, Max: 1024}, false},
		{"missing", RangeValidator{Field: "Nope", Min: 0, Max: 1}, true},
		{"not numeric", RangeValidator{Field: "Name", Min: 0, Max: 1}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.v.Validate(&data)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRangeValidatorRejectsNonStruct(t *testing.T) {
	v := &RangeValidator{Field: "X", Min: 0, Max: 1}
	assert.Error(t, v.Validate(42))

	var nilPtr *sample
	assert.Error(t, v.Validate(nilPtr))
}

func TestOneOfValidator(t *testing.T) {
	v := &OneOfValidator{Field: "Logger.Level", Values: []string{"debug", "info", "warn", "error"}}

	assert.NoError(t, v.Validate(sample{Logger: inner{Level: "INFO"}}))
	assert.Error(t, v.Validate(sample{Logger: inner{Level: "verbose"}}))
	assert.Error(t, v.Validate(sample{}))

	v.AllowEmpty = true
	assert.NoError(t, v.Validate(sample{}))

	assert.Error(t, (&OneOfValidator{Field: "Count"}).Validate(sample{}))
}

func TestValidateAll(t *testing.T) {
	err := ValidateAll(sample{Ratio: 2},
		&RangeValidator{Field: "Ratio", Min: 0, Max: 1},
		&OneOfValidator{Field: "Name", Values: []string{"a"}},
	)
	assert.ErrorContains(t, err, "Ratio")
	assert.ErrorContains(t, err, "Name")

	assert.NoError(t, ValidateAll(sample{Ratio: 0.5}, &RangeValidator{Field: "Ratio", Min: 0, Max: 1}))
}
