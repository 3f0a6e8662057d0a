package echonetlite

import "fmt"

const (
	EHD1_ECHONET_LITE = 0x10
	EHD2_FORMAT1      = 0x81

	UDP_PORT    = 3610
	DEFAULT_TID = 0x0001

	// EHD(2) + TID(2) + SEOJ(3) + DEOJ(3) + ESV(1) + OPC(1)
	HEADER_SIZE = 12
	MAX_OPC     = 0xFF
)

// class groups and class codes
const (
	CLASS_GROUP_HOUSING    = 0x02
	CLASS_GROUP_MANAGEMENT = 0x05
	CLASS_GROUP_PROFILE    = 0x0E

	CLASS_CODE_LOW_VOLTAGE_SMART_METER = 0x88
	CLASS_CODE_CONTROLLER              = 0xFF
	CLASS_CODE_NODE_PROFILE            = 0xF0
)

// services
const (
	ESV_PROP_WRITE_NO_RES     = 0x60
	ESV_PROP_WRITE            = 0x61
	ESV_PROP_READ             = 0x62
	ESV_PROP_NOTIFY_REQ       = 0x63
	ESV_PROP_WRITE_RES        = 0x71
	ESV_PROP_READ_RES         = 0x72
	ESV_PROP_NOTIFY           = 0x73
	ESV_PROP_NOTIFY_RES_REQ   = 0x74
	ESV_PROP_WRITE_NO_RES_SNA = 0x50
	ESV_PROP_WRITE_SNA        = 0x51
	ESV_PROP_READ_SNA         = 0x52
)

// low voltage smart meter properties
const (
	EPC_OPERATION_STATUS          = 0x80
	EPC_MANUFACTURER_CODE         = 0x8A
	EPC_COEFFICIENT               = 0xD3
	EPC_EFFECTIVE_DIGITS          = 0xD7
	EPC_CUMULATIVE_ENERGY_NORMAL  = 0xE0
	EPC_CUMULATIVE_ENERGY_UNIT    = 0xE1
	EPC_CUMULATIVE_ENERGY_REVERSE = 0xE3
	EPC_INSTANTANEOUS_ENERGY      = 0xE7
	EPC_INSTANTANEOUS_CURRENT     = 0xE8
)

// EOJ is a 24 bit object code: class group, class code, instance.
type EOJ uint32

func (eoj EOJ) ClassGroup() byte {
	return byte(eoj >> 16)
}

func (eoj EOJ) ClassCode() byte {
	return byte(eoj >> 8)
}

func (eoj EOJ) Instance() byte {
	return byte(eoj)
}

func (eoj EOJ) String() string {
	return fmt.Sprintf("%06X", uint32(eoj)&0xFFFFFF)
}

type Property struct {
	EPC byte
	PDC byte
	EDT []byte
}

// Valid reports whether the declared length matches the carried data.
func (p Property) Valid() bool {
	return int(p.PDC) == len(p.EDT)
}

// ReadRequest is a property entry for a Get request. The responder fills EDT.
func ReadRequest(epc byte) Property {
	return Property{EPC: epc, PDC: 0}
}

type Frame struct {
	EHD1       byte
	EHD2       byte
	TID        uint16
	SEOJ       EOJ
	DEOJ       EOJ
	ESV        byte
	Properties []Property
}

// FindProperty returns the first valid property with the given code.
func (f *Frame) FindProperty(epc byte) (*Property, bool) {
	for i := range f.Properties {
		if f.Properties[i].EPC == epc && f.Properties[i].Valid() {
			return &f.Properties[i], true
		}
	}
	return nil, false
}
