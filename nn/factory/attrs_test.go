package factory

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAttrs_Axes(t *testing.T) {
	keys := []string{"kernel_d", "kernel_h", "kernel_w"}

	got, err := Attrs{"kernel_size": 3}.Axes("kernel_size", keys, nil)
	require.NoError(t, err)
	assert.Equal(t, []int{3, 3, 3}, got)

	got, err = Attrs{"kernel_size": []interface{}{5}}.Axes("kernel_size", keys, nil)
	require.NoError(t, err)
	assert.Equal(t, []int{5, 5, 5}, got)

	got, err = Attrs{"kernel_size": []int{1, 3, 3}}.Axes("kernel_size", keys, nil)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 3, 3}, got)

	got, err = Attrs{"kernel_d": 3, "kernel_h": 1, "kernel_w": 1.0}.Axes("kernel_size", keys, nil)
	require.NoError(t, err)
	assert.Equal(t, []int{3, 1, 1}, got)

	// the combined key wins over per-axis keys
	got, err = Attrs{"kernel_size": 2, "kernel_d": 9, "kernel_h": 9, "kernel_w": 9}.Axes("kernel_size", keys, nil)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 2, 2}, got)

	// incomplete per-axis keys fall back to the default
	got, err = Attrs{"kernel_h": 9}.Axes("kernel_size", keys, intPtr(1))
	require.NoError(t, err)
	assert.Equal(t, []int{1, 1, 1}, got)

	_, err = Attrs{}.Axes("kernel_size", keys, nil)
	assert.ErrorIs(t, err, ErrMissingAttr)
}

func TestAttrs_Scalars(t *testing.T) {
	a := Attrs{"n": 4, "f": 4.0, "half": 0.5, "s": "ave", "i64": int64(7)}

	n, err := a.Int("f")
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	n, err = a.Int("i64")
	require.NoError(t, err)
	assert.Equal(t, 7, n)

	_, err = a.Int("half")
	assert.Error(t, err)
	_, err = a.Int("s")
	assert.Error(t, err)

	n, err = a.IntOr("missing", 7)
	require.NoError(t, err)
	assert.Equal(t, 7, n)

	f, err := a.FloatOr("n", 0)
	require.NoError(t, err)
	assert.Equal(t, 4.0, f)

	f, err = a.FloatOr("missing", 0.5)
	require.NoError(t, err)
	assert.Equal(t, 0.5, f)

	s, err := a.StringOr("missing", "max")
	require.NoError(t, err)
	assert.Equal(t, "max", s)

	_, err = a.String("n")
	assert.Error(t, err)
	_, err = a.String("missing")
	assert.ErrorIs(t, err, ErrMissingAttr)
}

func TestAttrs_IntRange(t *testing.T) {
	a := Attrs{
		"huge_u":   uint64(math.MaxUint64),
		"huge_f":   1e30,
		"neg_f":    -1e30,
		"big_f":    float64(1 << 30),
		"small_u":  uint64(3),
		"kernel_f": []interface{}{3.0, 1e300},
	}
	for _, key := range []string{"huge_u", "huge_f", "neg_f"} {
		_, err := a.Int(key)
		assert.Error(t, err, key)
	}

	n, err := a.Int("big_f")
	require.NoError(t, err)
	assert.Equal(t, 1<<30, n)

	n, err = a.Int("small_u")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	_, err = a.Axes("kernel_f", []string{"kernel_h", "kernel_w"}, nil)
	assert.Error(t, err)
}
