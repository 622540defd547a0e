package currency

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCode(t *testing.T) {
	for _, valid := range []string{"eur", "EUR", "usd", "jpy"} {
		code, err := NewCode(valid)
		require.NoError(t, err)
		assert.Len(t, code.String(), 3)
	}

	for _, invalid := range []string{"", "e", "euro", "???"} {
		_, err := NewCode(invalid)
		assert.Equal(t, ErrInvalidCode, err)
	}

	code, err := NewCode("EUR")
	require.NoError(t, err)
	assert.Equal(t, "eur", code.String())
	assert.Equal(t, "EUR", code.Symbol())
	assert.True(t, code.Equals("EUR"))
	assert.True(t, code.Equals("eur"))
	assert.False(t, code.Equals("usd"))
}

func TestMinorUnits(t *testing.T) {
	assert.Equal(t, 2, GetDecimals("eur"))
	assert.Equal(t, 0, GetDecimals("jpy"))
	assert.Equal(t, 3, GetDecimals("kwd"))

	assert.EqualValues(t, 1234, ToMinorUnits(12.34, "eur"))
	assert.EqualValues(t, 1234, ToMinorUnits(1234, "jpy"))
	assert.EqualValues(t, 12340, ToMinorUnits(12.34, "kwd"))

	assert.EqualValues(t, 12.34, FromMinorUnits(1234, "eur"))
	assert.EqualValues(t, 1234, FromMinorUnits(1234, "jpy"))
}
