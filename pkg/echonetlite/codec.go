package echonetlite

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var (
	ErrMalformedFrame  = errors.New("malformed ECHONET Lite frame")
	ErrInvalidProperty = errors.New("invalid ECHONET Lite property")
)

func BuildObjectCode(classGroup byte, classCode byte) EOJ {
	return BuildObjectCodeInstance(classGroup, classCode, 1)
}

func BuildObjectCodeInstance(classGroup byte, classCode byte, instance byte) EOJ {
	return EOJ(uint32(classGroup)<<16 | uint32(classCode)<<8 | uint32(instance))
}

// BuildRequestFrame serializes a format 1 frame with the default transaction id.
func BuildRequestFrame(seoj EOJ, deoj EOJ, esv byte, props []Property) ([]byte, error) {
	frame := Frame{
		EHD1:       EHD1_ECHONET_LITE,
		EHD2:       EHD2_FORMAT1,
		TID:        DEFAULT_TID,
		SEOJ:       seoj,
		DEOJ:       deoj,
		ESV:        esv,
		Properties: props,
	}
	return frame.Encode()
}

func (f Frame) Encode() ([]byte, error) {
	if len(f.Properties) > MAX_OPC {
		return nil, fmt.Errorf("%w: %d properties", ErrInvalidProperty, len(f.Properties))
	}
	b := make([]byte, 0, HEADER_SIZE+2*len(f.Properties))
	b = append(b, f.EHD1, f.EHD2)
	b = binary.BigEndian.AppendUint16(b, f.TID)
	b = appendEOJ(b, f.SEOJ)
	b = appendEOJ(b, f.DEOJ)
	b = append(b, f.ESV, byte(len(f.Properties)))
	for _, p := range f.Properties {
		if !p.Valid() {
			return nil, fmt.Errorf("%w: epc %02X declares %d bytes, carries %d", ErrInvalidProperty, p.EPC, p.PDC, len(p.EDT))
		}
		b = append(b, p.EPC, p.PDC)
		b = append(b, p.EDT...)
	}
	return b, nil
}

func ParseFrame(data []byte) (*Frame, error) {
	if len(data) < HEADER_SIZE {
		return nil, fmt.Errorf("%w: %d bytes is shorter than the header", ErrMalformedFrame, len(data))
	}
	if data[0] != EHD1_ECHONET_LITE {
		return nil, fmt.Errorf("%w: ehd1 %02X", ErrMalformedFrame, data[0])
	}
	frame := &Frame{
		EHD1: data[0],
		EHD2: data[1],
		TID:  binary.BigEndian.Uint16(data[2:4]),
		SEOJ: readEOJ(data[4:7]),
		DEOJ: readEOJ(data[7:10]),
		ESV:  data[10],
	}
	opc := int(data[11])
	rest := data[HEADER_SIZE:]
	frame.Properties = make([]Property, 0, opc)
	for i := 0; i < opc; i++ {
		if len(rest) < 2 {
			return nil, fmt.Errorf("%w: property %d of %d truncated", ErrMalformedFrame, i+1, opc)
		}
		epc, pdc := rest[0], rest[1]
		if int(pdc) > len(rest)-2 {
			return nil, fmt.Errorf("%w: epc %02X declares %d bytes, %d remain", ErrMalformedFrame, epc, pdc, len(rest)-2)
		}
		edt := make([]byte, pdc)
		copy(edt, rest[2:2+int(pdc)])
		frame.Properties = append(frame.Properties, Property{EPC: epc, PDC: pdc, EDT: edt})
		rest = rest[2+int(pdc):]
	}
	return frame, nil
}

func appendEOJ(b []byte, eoj EOJ) []byte {
	return append(b, eoj.ClassGroup(), eoj.ClassCode(), eoj.Instance())
}

func readEOJ(b []byte) EOJ {
	return BuildObjectCodeInstance(b[0], b[1], b[2])
}
