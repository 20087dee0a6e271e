package clock

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var allUnits = []Unit{Nanoseconds, Microseconds, Milliseconds, Seconds, Minutes, Hours, Days}

func TestConvertZero(t *testing.T) {
	for _, u := range allUnits {
		v, err := Convert(0, u)
		require.NoError(t, err)
		assert.Zero(t, v, u.String())
	}
}

func TestConvertFactors(t *testing.T) {
	tests := []struct {
		nanos int64
		unit  Unit
		want  int64
	}{
		{1, Nanoseconds, 1},
		{1_000, Microseconds, 1},
		{1_000_000, Milliseconds, 1},
		{1_000_000_000, Seconds, 1},
		{60_000_000_000, Minutes, 1},
		{3_600_000_000_000, Hours, 1},
		{86_400_000_000_000, Days, 1},
		{1_999_999, Milliseconds, 1},
		{-1_999_999, Milliseconds, -1},
		{-999, Microseconds, 0},
		{math.MaxInt64, Days, math.MaxInt64 / 86_400_000_000_000},
	}

	for _, tt := range tests {
		t.Run(tt.unit.String(), func(t *testing.T) {
			got, err := Convert(tt.nanos, tt.unit)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestConvertIsMonotonic(t *testing.T) {
	inputs := []int64{-90_000_000_000_000, -1_000_000_001, -1, 0, 1, 999, 1_000, 59_999_999_999, 60_000_000_000, 90_000_000_000_000}
	for _, u := range allUnits {
		prev, err := Convert(inputs[0], u)
		require.NoError(t, err)
		for _, n := range inputs[1:] {
			cur, err := Convert(n, u)
			require.NoError(t, err)
			assert.GreaterOrEqual(t, cur, prev, "unit %s input %d", u, n)
			prev = cur
		}
	}
}

func TestConvertInvalidUnit(t *testing.T) {
	_, err := Convert(1_000, Days+1)
	assert.ErrorIs(t, err, ErrInvalidUnit)
}

func TestNanosToUnit(t *testing.T) {
	assert.Equal(t, int64(2), NanosToUnit(2_500_000_000, Seconds))
	assert.Equal(t, int64(-1), NanosToUnit(5, Unit(200)))
	// the sentinel collides with a real result
	assert.Equal(t, int64(-1), NanosToUnit(-1_000, Microseconds))
}

func TestUnitFactorAndDuration(t *testing.T) {
	assert.Equal(t, int64(1_000_000), Milliseconds.Factor())
	assert.Zero(t, Unit(99).Factor())
	assert.Equal(t, "1m0s", Minutes.Duration().String())
}

func TestUnitString(t *testing.T) {
	names := []string{"ns", "us", "ms", "s", "m", "h", "d"}
	for i, u := range allUnits {
		assert.Equal(t, names[i], u.String())
	}
	assert.Equal(t, "unit(9)", Unit(9).String())
}

func TestParseUnit(t *testing.T) {
	tests := []struct {
		in      string
		want    Unit
		wantErr bool
	}{
		{"ns", Nanoseconds, false},
		{"µs", Microseconds, false},
		{"MICROS", Microseconds, false},
		{" ms ", Milliseconds, false},
		{"milliseconds", Milliseconds, false},
		{"sec", Seconds, false},
		{"min", Minutes, false},
		{"hours", Hours, false},
		{"d", Days, false},
		{"", 0, true},
		{"weeks", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseUnit(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidUnit)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestUnitJSON(t *testing.T) {
	type payload struct {
		Unit Unit `json:"unit"`
	}

	data, err := json.Marshal(payload{Unit: Hours})
	require.NoError(t, err)
	assert.JSONEq(t, `{"unit":"h"}`, string(data))

	var p payload
	require.NoError(t, json.Unmarshal([]byte(`{"unit":"seconds"}`), &p))
	assert.Equal(t, Seconds, p.Unit)

	assert.Error(t, json.Unmarshal([]byte(`{"unit":"fortnight"}`), &p))

	_, err = json.Marshal(payload{Unit: Unit(50)})
	assert.Error(t, err)
}
