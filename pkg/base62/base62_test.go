package base62

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecode(t *testing.T) {
	tests := []struct {
		num  uint64
		want string
	}{
		{0, "0"},
		{61, "z"},
		{62, "10"},
		{3843, "zz"},
		{math.MaxUint64, "LygHa16AHYF"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, Encode(tt.num))

			got, err := Decode(tt.want)
			require.NoError(t, err)
			assert.Equal(t, tt.num, got)
		})
	}
}

func TestDecode_Errors(t *testing.T) {
	_, err := Decode("ab-c")
	assert.ErrorIs(t, err, ErrInvalidCharacter)

	_, err = Decode("LygHa16AHYG")
	assert.ErrorIs(t, err, ErrOverflow)
}

func TestIsValid(t *testing.T) {
	assert.True(t, IsValid("room9Z"))
	assert.False(t, IsValid(""))
	assert.False(t, IsValid("room_1"))
}
