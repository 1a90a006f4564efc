package geotifftest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func unpack(src []byte) []byte {
	var out []byte
	for i := 0; i < len(src); {
		n := int8(src[i])
		i++
		if n >= 0 {
			out = append(out, src[i:i+int(n)+1]...)
			i += int(n) + 1
			continue
		}
		for j := 0; j < 1-int(n); j++ {
			out = append(out, src[i])
		}
		i++
	}
	return out
}

func TestPackBits_RoundTrip(t *testing.T) {
	inputs := [][]byte{
		{1},
		{1, 2, 3, 4},
		{0, 0, 0, 0, 0, 0, 7, 8, 9, 9, 9, 9},
		make([]byte, 300),
	}
	for _, in := range inputs {
		assert.Equal(t, in, unpack(packBits(in)))
	}
}

func TestBytes_RejectsShortValues(t *testing.T) {
	_, err := Builder{Width: 2, Height: 2, Values: []float64{1}}.Bytes()
	require.Error(t, err)
}

func TestBytes_Header(t *testing.T) {
	data := Builder{Width: 1, Height: 1, Values: []float64{1}}.MustBytes()
	assert.Equal(t, "II", string(data[:2]))
	assert.Equal(t, byte(42), data[2])

	data = Builder{Width: 1, Height: 1, Values: []float64{1}, BigEndian: true, BigTIFF: true}.MustBytes()
	assert.Equal(t, "MM", string(data[:2]))
	assert.Equal(t, byte(43), data[3])
}
