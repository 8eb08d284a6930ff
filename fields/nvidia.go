package fields

import (
	"errors"
	"fmt"
	"strings"
)

// NvidiaSpecs returns the built-in field table for nvidia-smi --query-gpu.
func NvidiaSpecs() []Spec {
	return []Spec{
		{ID: "temperature.gpu", Unit: "°C"},
		{ID: "fan.speed", Unit: "%", Max: ConstMax(100), Transform: notAvailableAsZero},
		{ID: "utilization.gpu", Max: ConstMax(100)},
		{ID: "utilization.memory", Max: ConstMax(100)},
		{ID: "memory.total"},
		{ID: "memory.used", Max: MaxOf("memory.total")},
		{ID: "memory.free", Max: MaxOf("memory.total")},
		{ID: "power.draw", Type: Float, Max: MaxOf("power.limit")},
		{ID: "power.limit", Type: Float},
		// nvidia-smi names these columns in long form even when queried by
		// the clocks.gr and clocks.mem aliases
		{ID: "clocks.current.graphics", Max: MaxOf("clocks.max.graphics")},
		{ID: "clocks.max.graphics"},
		{ID: "clocks.current.memory", Max: MaxOf("clocks.max.memory")},
		{ID: "clocks.max.memory"},
		{ID: "pstate", Max: ConstMax(15), Transform: trimPstate},

		{ID: "memory.usage", Type: Float, Generator: Percent("memory.usage", "memory.used", "memory.total")},
		{ID: "power.usage", Type: Float, Generator: Percent("power.usage", "power.draw", "power.limit")},
		{ID: "overview", Type: ListView, Generator: overview},
	}
}

// notAvailableAsZero maps the "[N/A]" nvidia-smi reports for unsupported
// sensors to 0.
func notAvailableAsZero(raw string) (string, error) {
	switch strings.Trim(raw, "[]") {
	case "N/A", "Not Supported":
		return "0", nil
	}
	return raw, nil
}

// trimPstate turns "P8" into "8".
func trimPstate(raw string) (string, error) {
	if !strings.HasPrefix(raw, "P") {
		return raw, nil
	}
	return strings.TrimPrefix(raw, "P"), nil
}

// Percent returns a generator reporting part/whole as a percentage. When
// either input is not numeric, e.g. "[N/A]" on boards without power
// readings, the value is 0.
func Percent(label string, part, whole Identifier) GeneratorFunc {
	return func(rec *Record) (Generated, error) {
		gen := Generated{
			Meta:  MetaLine(label, 100, "%"),
			Value: FormatNumber(0, Float),
		}

		p, err := percentInput(rec, part)
		if err != nil {
			return Generated{}, err
		}
		w, err := percentInput(rec, whole)
		if err != nil {
			return Generated{}, err
		}
		if p != nil && w != nil && *w > 0 {
			gen.Value = FormatNumber(*p / *w * 100, Float)
		}
		return gen, nil
	}
}

// percentInput returns nil for a sibling that is present but not numeric.
func percentInput(rec *Record, id Identifier) (*float64, error) {
	n, err := rec.Number(id)
	if errors.Is(err, ErrNotNumeric) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", id, err)
	}
	return &n, nil
}

// overview lists every non-derived field of the device as a table.
func overview(rec *Record) (Generated, error) {
	var rows []string
	for _, id := range rec.Identifiers() {
		f, err := rec.Field(id)
		if err != nil {
			return Generated{}, err
		}
		if f.Derived() {
			continue
		}
		value, err := rec.Value(id)
		if err != nil {
			return Generated{}, err
		}
		rows = append(rows, string(id)+"\t"+value+"\t"+f.Unit())
	}

	return Generated{
		Meta:  "Field\tValue\tUnit\ns\ts\ts",
		Value: strings.Join(rows, "\n"),
	}, nil
}
