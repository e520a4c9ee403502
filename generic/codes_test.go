package generic_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/keyworker-engine/generic"
)

type color string

func newColors() *generic.CodeRegistry[color] {
	r := generic.NewCodeRegistry[color]("color")
	r.Register("RED", "R")
	r.Register("GREEN", "G")
	return r
}

func TestCodeRegistry_RoundTrip(t *testing.T) {
	r := newColors()

	code, err := r.Encode("RED")
	require.NoError(t, err)
	assert.Equal(t, "R", code)

	value, err := r.Decode("G")
	require.NoError(t, err)
	assert.Equal(t, color("GREEN"), value)

	assert.Equal(t, []string{"G", "R"}, r.Codes())
}

func TestCodeRegistry_UnknownCode_FailsFast(t *testing.T) {
	r := newColors()

	_, err := r.Decode("B")
	require.Error(t, err)
	assert.ErrorIs(t, err, generic.ErrUnknownCode)

	var unknown *generic.UnknownCodeError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "color", unknown.Kind)
	assert.Equal(t, "B", unknown.Code)

	_, err = r.Encode("BLUE")
	assert.ErrorIs(t, err, generic.ErrUnknownCode)
	assert.Panics(t, func() { r.MustEncode("BLUE") })
}

func TestCodeRegistry_DuplicateRegistration_Panics(t *testing.T) {
	r := newColors()
	assert.Panics(t, func() { r.Register("RED", "X") }, "value registered twice")
	assert.Panics(t, func() { r.Register("BLUE", "R") }, "code registered twice")
}
