package obis

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCanonical(t *testing.T) {
	c, err := Parse("1-0:1.8.0*255")
	require.NoError(t, err)
	assert.Equal(t, Code{A: 1, B: 0, C: 1, D: 8, E: 0, F: 255}, c)
}

func TestParseShortFormDefaultsF(t *testing.T) {
	c, err := Parse("1-0:32.7.0")
	require.NoError(t, err)
	assert.Equal(t, byte(255), c.F)
}

func TestParseMalformed(t *testing.T) {
	_, err := Parse("not-an-obis-code")
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestRoundTripBytes(t *testing.T) {
	c := MustParse("1-0:1.8.0*255")
	b := c.Bytes()
	assert.Equal(t, c, FromBytes(b))
}

func TestShortOmitsDefaultF(t *testing.T) {
	c := MustParse("1-0:1.8.0*255")
	assert.Equal(t, "1-0:1.8.0", c.Short())

	c2 := Code{A: 1, B: 0, C: 1, D: 8, E: 0, F: 2}
	assert.Equal(t, "1-0:1.8.0*2", c2.Short())
}
