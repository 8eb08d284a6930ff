package transformer

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strings"
	"sync"

	"github.com/dop251/goja"

	"github.com/eddielth/ksysguardd-nvidia/config"
	"github.com/eddielth/ksysguardd-nvidia/fields"
	"github.com/eddielth/ksysguardd-nvidia/logger"
)

// Manager owns the script runtimes of configured fields.
type Manager struct {
	transformers map[fields.Identifier]*Transformer
	specs        []fields.Spec
	mutex        sync.RWMutex
}

// Transformer is one compiled field script. A script defines either
// transform(raw) or generate(field), never both.
type Transformer struct {
	vm        *goja.Runtime
	transform goja.Callable
	generate  goja.Callable
	mu        sync.Mutex
}

// NewManager compiles the scripts of cfgs and prepares the field overrides
// they describe.
func NewManager(cfgs []config.FieldConfig) (*Manager, error) {
	manager := &Manager{
		transformers: make(map[fields.Identifier]*Transformer),
	}

	for _, cfg := range cfgs {
		spec, err := manager.buildSpec(cfg)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", cfg.ID, err)
		}
		manager.specs = append(manager.specs, spec)
	}
	return manager, nil
}

// Specs returns the configured field overrides, in configuration order.
func (m *Manager) Specs() []fields.Spec {
	return append([]fields.Spec(nil), m.specs...)
}

func (m *Manager) buildSpec(cfg config.FieldConfig) (fields.Spec, error) {
	id, err := fields.ParseIdentifier(cfg.ID)
	if err != nil {
		return fields.Spec{}, err
	}
	typ, err := fields.ParseType(cfg.Type)
	if err != nil {
		return fields.Spec{}, err
	}
	if typ == fields.ListView {
		return fields.Spec{}, errors.New("script fields must be integer or float")
	}

	// an empty type keeps the type of the field being overridden
	spec := fields.Spec{ID: id, Unit: cfg.Unit}
	if cfg.Type != "" {
		spec.Type = typ
	}
	switch {
	case cfg.MaxField != "":
		spec.Max = fields.MaxOf(fields.Identifier(cfg.MaxField))
	case cfg.Max > 0:
		spec.Max = fields.ConstMax(cfg.Max)
	}

	scriptCode, err := loadScript(cfg)
	if err != nil {
		return fields.Spec{}, err
	}
	if scriptCode == "" {
		return spec, nil
	}

	transformer, err := newTransformer(scriptCode)
	if err != nil {
		return fields.Spec{}, err
	}
	m.mutex.Lock()
	m.transformers[id] = transformer
	m.mutex.Unlock()

	if transformer.generate != nil {
		spec.Max = fields.MaxRule{}
		spec.Type = typ
		spec.Generator = m.generator(id, typ, cfg)
		logger.Info("loaded generator script for field %s", id)
	} else {
		spec.Transform = func(raw string) (string, error) {
			return m.Transform(id, raw)
		}
		logger.Info("loaded transform script for field %s", id)
	}
	return spec, nil
}

func loadScript(cfg config.FieldConfig) (string, error) {
	if cfg.ScriptCode != "" {
		return cfg.ScriptCode, nil
	}
	if cfg.ScriptPath == "" {
		return "", nil
	}
	scriptBytes, err := os.ReadFile(cfg.ScriptPath)
	if err != nil {
		return "", fmt.Errorf("cannot load script file %s: %w", cfg.ScriptPath, err)
	}
	return string(scriptBytes), nil
}

func newTransformer(scriptCode string) (*Transformer, error) {
	vm := goja.New()

	_ = vm.Set("log", func(msg string) {
		logger.Info("[JS] %s", msg)
	})

	_ = vm.Set("convertTemperature", func(value float64, fromUnit string, toUnit string) float64 {
		fromUnit = strings.ToUpper(fromUnit)
		toUnit = strings.ToUpper(toUnit)

		var celsius float64
		switch fromUnit {
		case "C":
			celsius = value
		case "F":
			celsius = (value - 32) * 5 / 9
		case "K":
			celsius = value - 273.15
		default:
			return value
		}

		switch toUnit {
		case "F":
			return celsius*9/5 + 32
		case "K":
			return celsius + 273.15
		default:
			return celsius
		}
	})

	_ = vm.Set("validateRange", func(value float64, min float64, max float64) bool {
		return value >= min && value <= max
	})

	_ = vm.Set("round", func(value float64, digits int) float64 {
		p := math.Pow(10, float64(digits))
		return math.Round(value*p) / p
	})

	if _, err := vm.RunString(scriptCode); err != nil {
		return nil, fmt.Errorf("script execution failed: %w", err)
	}

	t := &Transformer{vm: vm}
	if fn, ok := lookupFunction(vm, "transform"); ok {
		t.transform = fn
	}
	if fn, ok := lookupFunction(vm, "generate"); ok {
		t.generate = fn
	}

	switch {
	case t.transform == nil && t.generate == nil:
		return nil, errors.New("script defines neither 'transform' nor 'generate'")
	case t.transform != nil && t.generate != nil:
		return nil, errors.New("script must define only one of 'transform' and 'generate'")
	}
	return t, nil
}

func lookupFunction(vm *goja.Runtime, name string) (goja.Callable, bool) {
	v := vm.Get(name)
	if v == nil || goja.IsUndefined(v) {
		return nil, false
	}
	return goja.AssertFunction(v)
}

func (m *Manager) lookup(id fields.Identifier) (*Transformer, error) {
	m.mutex.RLock()
	transformer, exists := m.transformers[id]
	m.mutex.RUnlock()

	if !exists {
		return nil, fmt.Errorf("no script for field %s", id)
	}
	return transformer, nil
}

// Transform runs the transform script of field id on raw cell text.
func (m *Manager) Transform(id fields.Identifier, raw string) (string, error) {
	transformer, err := m.lookup(id)
	if err != nil {
		return "", err
	}
	if transformer.transform == nil {
		return "", fmt.Errorf("field %s has no transform script", id)
	}

	transformer.mu.Lock()
	defer transformer.mu.Unlock()

	result, err := transformer.transform(goja.Undefined(), transformer.vm.ToValue(raw))
	if err != nil {
		return "", fmt.Errorf("transform failed: %w", err)
	}
	if goja.IsUndefined(result) || goja.IsNull(result) {
		return "", errors.New("transform returned no value")
	}
	return result.String(), nil
}

// Generate runs the generate script of field id against a device record.
// The script receives an accessor that returns sibling values, as numbers
// when they are numeric.
func (m *Manager) Generate(id fields.Identifier, rec *fields.Record) (float64, error) {
	transformer, err := m.lookup(id)
	if err != nil {
		return 0, err
	}
	if transformer.generate == nil {
		return 0, fmt.Errorf("field %s has no generate script", id)
	}

	transformer.mu.Lock()
	defer transformer.mu.Unlock()

	vm := transformer.vm
	accessor := func(call goja.FunctionCall) goja.Value {
		sibling := fields.Identifier(call.Argument(0).String())
		n, err := rec.Number(sibling)
		if err == nil {
			return vm.ToValue(n)
		}
		if errors.Is(err, fields.ErrNotNumeric) {
			v, _ := rec.Value(sibling)
			return vm.ToValue(v)
		}
		panic(vm.NewGoError(err))
	}

	result, err := transformer.generate(goja.Undefined(), vm.ToValue(accessor))
	if err != nil {
		return 0, fmt.Errorf("generate failed: %w", err)
	}
	v := result.ToFloat()
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("generate returned non-numeric value %q", result.String())
	}
	return v, nil
}

func (m *Manager) generator(id fields.Identifier, typ fields.Type, cfg config.FieldConfig) fields.GeneratorFunc {
	return func(rec *fields.Record) (fields.Generated, error) {
		v, err := m.Generate(id, rec)
		if err != nil {
			return fields.Generated{}, err
		}

		max := math.Max(v, 100)
		switch {
		case cfg.MaxField != "":
			n, err := rec.Number(fields.Identifier(cfg.MaxField))
			if err != nil && !errors.Is(err, fields.ErrNotNumeric) {
				return fields.Generated{}, &fields.ParseError{
					Field: fields.Identifier(cfg.MaxField), Reason: "maximum depends on missing field", Err: err,
				}
			}
			if err == nil {
				max = n
			}
		case cfg.Max > 0:
			max = cfg.Max
		}

		return fields.Generated{
			Meta:  fields.MetaLine(string(id), max, cfg.Unit),
			Value: fields.FormatNumber(v, typ),
		}, nil
	}
}
