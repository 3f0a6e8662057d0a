package echonetlite

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDecodeUint32(t *testing.T) {

	assert := assert.New(t)

	v, err := DecodeUint32([]byte{0x00, 0x00, 0x0A, 0xBC})
	assert.NoError(err)
	assert.Equal(uint32(2748), v)

	_, err = DecodeUint32([]byte{0x0A, 0xBC})
	assert.ErrorIs(err, ErrInvalidProperty)
}

func TestDecodeCumulativeEnergyUnit(t *testing.T) {

	assert := assert.New(t)

	units := map[byte]float64{0x00: 1, 0x01: 0.1, 0x02: 0.01, 0x03: 0.001, 0x04: 0.0001, 0x0A: 10, 0x0B: 100, 0x0C: 1000, 0x0D: 10000}
	for code, want := range units {
		got, err := DecodeCumulativeEnergyUnit([]byte{code})
		assert.NoError(err)
		assert.Equal(want, got, "unit %02X", code)
	}

	_, err := DecodeCumulativeEnergyUnit([]byte{0x05})
	assert.ErrorIs(err, ErrInvalidProperty)
}

func TestDecodeInstantaneousCurrent(t *testing.T) {

	assert := assert.New(t)

	r, tp, single, err := DecodeInstantaneousCurrent([]byte{0x00, 0x7B, 0x00, 0x0C})
	assert.NoError(err)
	assert.InDelta(12.3, r, 0.0001)
	assert.InDelta(1.2, tp, 0.0001)
	assert.False(single)

	r, _, single, err = DecodeInstantaneousCurrent([]byte{0x00, 0x0A, 0x7F, 0xFE})
	assert.NoError(err)
	assert.InDelta(1.0, r, 0.0001)
	assert.True(single)
}
