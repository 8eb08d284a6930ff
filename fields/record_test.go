package fields

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildRecord(t *testing.T, specs []Spec, values map[Identifier][2]string) *Record {
	t.Helper()

	reg, err := NewRegistry(specs...)
	require.NoError(t, err)

	rec := NewRecord(0)
	for _, id := range reg.All() {
		spec, err := reg.Resolve(id)
		require.NoError(t, err)
		if spec.Derived() {
			rec.AddDerived(spec)
			continue
		}
		v := values[id]
		rec.AddQueried(spec, v[0], v[1])
	}
	return rec
}

func TestRecordMaxRules(t *testing.T) {
	rec := buildRecord(t, []Spec{
		{ID: "memory.used", Max: MaxOf("memory.total")},
		{ID: "memory.total"},
		{ID: "fan.speed", Max: ConstMax(100)},
		{ID: "temperature.gpu"},
		{ID: "clocks.current.graphics"},
	}, map[Identifier][2]string{
		"memory.used":     {"1024", "MiB"},
		"memory.total":    {"8192", "MiB"},
		"fan.speed":       {"30", "%"},
		"temperature.gpu": {"45", ""},
		"clocks.current.graphics":       {"1785", "MHz"},
	})
	require.NoError(t, rec.ResolveMaxima())

	meta, err := rec.Metadata("memory.used")
	require.NoError(t, err)
	assert.Equal(t, "memory.used\t0\t8192\t MiB", meta)

	meta, err = rec.Metadata("fan.speed")
	require.NoError(t, err)
	assert.Equal(t, "fan.speed\t0\t100\t %", meta)

	meta, err = rec.Metadata("temperature.gpu")
	require.NoError(t, err)
	assert.Equal(t, "temperature.gpu\t0\t100\t", meta)

	max, err := rec.Max("clocks.current.graphics")
	require.NoError(t, err)
	assert.Equal(t, 1785.0, max)
}

func TestRecordMaxOfMissingSibling(t *testing.T) {
	rec := buildRecord(t, []Spec{
		{ID: "memory.used", Max: MaxOf("memory.total")},
	}, map[Identifier][2]string{
		"memory.used": {"1024", "MiB"},
	})

	err := rec.ResolveMaxima()
	var perr *ParseError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, Identifier("memory.total"), perr.Field)
}

func TestRecordMaxOfNonNumericSiblingFallsBack(t *testing.T) {
	rec := buildRecord(t, []Spec{
		{ID: "power.draw", Type: Float, Max: MaxOf("power.limit")},
		{ID: "power.limit", Type: Float},
	}, map[Identifier][2]string{
		"power.draw":  {"35.20", "W"},
		"power.limit": {"[N/A]", ""},
	})
	require.NoError(t, rec.ResolveMaxima())

	max, err := rec.Max("power.draw")
	require.NoError(t, err)
	assert.Equal(t, 100.0, max)
}

func TestRecordDerivedComputedOnce(t *testing.T) {
	calls := 0
	rec := buildRecord(t, []Spec{
		{ID: "memory.used"},
		{ID: "memory.total"},
		{ID: "memory.usage", Type: Float, Generator: func(r *Record) (Generated, error) {
			calls++
			return Percent("memory.usage", "memory.used", "memory.total")(r)
		}},
	}, map[Identifier][2]string{
		"memory.used":  {"1024", "MiB"},
		"memory.total": {"8192", "MiB"},
	})
	require.NoError(t, rec.ResolveMaxima())
	assert.Equal(t, 0, calls)

	v, err := rec.Value("memory.usage")
	require.NoError(t, err)
	assert.Equal(t, "12.50", v)

	meta, err := rec.Metadata("memory.usage")
	require.NoError(t, err)
	assert.Equal(t, "memory.usage\t0\t100\t %", meta)

	_, err = rec.Value("memory.usage")
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestPercentNonNumericInputs(t *testing.T) {
	rec := buildRecord(t, []Spec{
		{ID: "power.draw", Type: Float},
		{ID: "power.limit", Type: Float},
		{ID: "power.usage", Type: Float, Generator: Percent("power.usage", "power.draw", "power.limit")},
		{ID: "memory.used"},
		{ID: "memory.total"},
		{ID: "memory.usage", Type: Float, Generator: Percent("memory.usage", "memory.used", "memory.total")},
	}, map[Identifier][2]string{
		"power.draw":   {"[N/A]", ""},
		"power.limit":  {"[N/A]", ""},
		"memory.used":  {"0", "MiB"},
		"memory.total": {"0", "MiB"},
	})
	require.NoError(t, rec.ResolveMaxima())

	for _, id := range []Identifier{"power.usage", "memory.usage"} {
		v, err := rec.Value(id)
		require.NoError(t, err)
		assert.Equal(t, "0.00", v)

		meta, err := rec.Metadata(id)
		require.NoError(t, err)
		assert.Equal(t, string(id)+"\t0\t100\t %", meta)
	}
}

func TestPercentMissingInput(t *testing.T) {
	rec := buildRecord(t, []Spec{
		{ID: "power.draw", Type: Float},
		{ID: "power.usage", Type: Float, Generator: Percent("power.usage", "power.draw", "power.limit")},
	}, map[Identifier][2]string{
		"power.draw": {"35.20", "W"},
	})

	_, err := rec.Value("power.usage")
	var unknown *UnknownFieldError
	require.True(t, errors.As(err, &unknown))
	assert.Equal(t, Identifier("power.limit"), unknown.ID)
}

func TestRecordDerivedErrorIsMemoized(t *testing.T) {
	calls := 0
	boom := errors.New("boom")
	rec := buildRecord(t, []Spec{
		{ID: "broken", Generator: func(*Record) (Generated, error) {
			calls++
			return Generated{}, boom
		}},
	}, nil)

	_, err := rec.Value("broken")
	assert.ErrorIs(t, err, boom)
	_, err = rec.Metadata("broken")
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}

func TestRecordMaxResolvesDerivedSiblingOnDemand(t *testing.T) {
	rec := buildRecord(t, []Spec{
		{ID: "a.value", Max: MaxOf("z.limit")},
		{ID: "z.limit", Generator: func(*Record) (Generated, error) {
			return Generated{Meta: MetaLine("z.limit", 500, ""), Value: "500"}, nil
		}},
	}, map[Identifier][2]string{
		"a.value": {"250", ""},
	})
	require.NoError(t, rec.ResolveMaxima())

	max, err := rec.Max("a.value")
	require.NoError(t, err)
	assert.Equal(t, 500.0, max)
}

func TestRecordCyclicDerivedFields(t *testing.T) {
	rec := buildRecord(t, []Spec{
		{ID: "a", Generator: func(r *Record) (Generated, error) {
			_, err := r.Value("b")
			return Generated{}, err
		}},
		{ID: "b", Generator: func(r *Record) (Generated, error) {
			_, err := r.Value("a")
			return Generated{}, err
		}},
	}, nil)

	_, err := rec.Value("a")
	var perr *ParseError
	require.True(t, errors.As(err, &perr))
	assert.Contains(t, perr.Error(), "cyclic")
}

func TestRecordUnknownField(t *testing.T) {
	rec := buildRecord(t, []Spec{{ID: "fan.speed"}}, map[Identifier][2]string{"fan.speed": {"0", ""}})

	_, err := rec.Value("missing")
	var unknown *UnknownFieldError
	assert.True(t, errors.As(err, &unknown))

	_, err = rec.Number("fan.speed")
	assert.NoError(t, err)
}

func TestOverviewListsQueriedFields(t *testing.T) {
	rec := buildRecord(t, []Spec{
		{ID: "fan.speed"},
		{ID: "temperature.gpu"},
		{ID: "overview", Type: ListView, Generator: overview},
	}, map[Identifier][2]string{
		"fan.speed":       {"30", "%"},
		"temperature.gpu": {"45", "°C"},
	})

	v, err := rec.Value("overview")
	require.NoError(t, err)
	assert.Equal(t, "fan.speed\t30\t%\ntemperature.gpu\t45\t°C", v)

	meta, err := rec.Metadata("overview")
	require.NoError(t, err)
	assert.Equal(t, "Field\tValue\tUnit\ns\ts\ts", meta)
}

func TestNvidiaTransforms(t *testing.T) {
	v, err := notAvailableAsZero("[N/A]")
	require.NoError(t, err)
	assert.Equal(t, "0", v)

	v, err = notAvailableAsZero("42 %")
	require.NoError(t, err)
	assert.Equal(t, "42 %", v)

	v, err = trimPstate("P8")
	require.NoError(t, err)
	assert.Equal(t, "8", v)
}

func TestFormatNumber(t *testing.T) {
	assert.Equal(t, "12.50", FormatNumber(12.5, Float))
	assert.Equal(t, "13", FormatNumber(12.5, Integer))
	assert.Equal(t, "0", FormatNumber(0, Integer))
	assert.Equal(t, "", DisplayUnit("  "))
	assert.Equal(t, " W", DisplayUnit("W"))
}
