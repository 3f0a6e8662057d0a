package echonetlite

import (
	"encoding/binary"
	"fmt"
)

const (
	// T phase value reported by single phase two wire meters
	CURRENT_NOT_AVAILABLE = 0x7FFE
)

func DecodeUint32(edt []byte) (uint32, error) {
	if len(edt) != 4 {
		return 0, fmt.Errorf("%w: expected 4 bytes, got %d", ErrInvalidProperty, len(edt))
	}
	return binary.BigEndian.Uint32(edt), nil
}

// DecodeCumulativeEnergyUnit maps the E1 unit code to a kWh multiplier.
func DecodeCumulativeEnergyUnit(edt []byte) (float64, error) {
	if len(edt) != 1 {
		return 0, fmt.Errorf("%w: expected 1 byte, got %d", ErrInvalidProperty, len(edt))
	}
	switch edt[0] {
	case 0x00:
		return 1, nil
	case 0x01:
		return 0.1, nil
	case 0x02:
		return 0.01, nil
	case 0x03:
		return 0.001, nil
	case 0x04:
		return 0.0001, nil
	case 0x0A:
		return 10, nil
	case 0x0B:
		return 100, nil
	case 0x0C:
		return 1000, nil
	case 0x0D:
		return 10000, nil
	default:
		return 0, fmt.Errorf("%w: unknown energy unit %02X", ErrInvalidProperty, edt[0])
	}
}

// DecodeInstantaneousCurrent returns R and T phase currents in amperes.
// singlePhase is true when the meter reports no T phase.
func DecodeInstantaneousCurrent(edt []byte) (r float64, t float64, singlePhase bool, err error) {
	if len(edt) != 4 {
		return 0, 0, false, fmt.Errorf("%w: expected 4 bytes, got %d", ErrInvalidProperty, len(edt))
	}
	rawR := binary.BigEndian.Uint16(edt[0:2])
	rawT := binary.BigEndian.Uint16(edt[2:4])
	r = float64(int16(rawR)) / 10
	if rawT == CURRENT_NOT_AVAILABLE {
		return r, 0, true, nil
	}
	return r, float64(int16(rawT)) / 10, false, nil
}
