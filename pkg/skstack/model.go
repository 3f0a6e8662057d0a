package skstack

import "errors"

const (
	RETRY_COUNT     = 10
	WAIT_COUNT      = 30
	RECV_WAIT_COUNT = 10

	DEFAULT_SCAN_DURATION = 3
	MAX_SCAN_DURATION     = 7
	SCAN_CHANNEL_MASK     = 0xFFFFFFFF
	// active scan with information element
	SCAN_MODE = 2

	DEFAULT_UDP_HANDLE = 1
)

// events
const (
	EVENT_BEACON_RECEIVED = "EVENT 20"
	EVENT_SCAN_COMPLETED  = "EVENT 22"
	EVENT_PANA_FAILED     = "EVENT 24"
	EVENT_PANA_CONNECTED  = "EVENT 25"
	EVENT_SESSION_CLOSED  = "EVENT 27"

	RESPONSE_OK       = "OK"
	RESPONSE_PAN_DESC = "EPANDESC"
	RESPONSE_VERSION  = "EVER"
	RESPONSE_UDP_RECV = "ERXUDP"

	// WOPT bit selecting hex ASCII ERXUDP payloads
	ROPT_ASCII_PAYLOAD = 0x01

	PASSWORD_MAX_LENGTH = 32
)

const (
	panDescFieldPrefix = "  "
	erxudpMaxFields    = 10
	securityEncrypted  = 1
	securityPlaintext  = 2
)

var (
	ErrTransportTimeout    = errors.New("no data from modem within the read budget")
	ErrEchoMismatch        = errors.New("modem echo mismatch")
	ErrExpectMismatch      = errors.New("unexpected modem response")
	ErrUnexpectedStatus    = errors.New("modem returned a non OK status")
	ErrMalformedPanDesc    = errors.New("malformed EPANDESC block")
	ErrMalformedPayload    = errors.New("malformed ERXUDP payload")
	ErrSendNotAcknowledged = errors.New("modem did not acknowledge SKSENDTO")
	ErrInvalidCredentials  = errors.New("invalid B-route credentials")
)

// PanDescriptor holds the values of an EPANDESC block as printed by the modem.
type PanDescriptor struct {
	Channel     string `cbor:"1,keyasint" json:"channel"`
	ChannelPage string `cbor:"2,keyasint,omitempty" json:"channel_page,omitempty"`
	PanID       string `cbor:"3,keyasint" json:"pan_id"`
	Addr        string `cbor:"4,keyasint" json:"addr"`
	LQI         string `cbor:"5,keyasint,omitempty" json:"lqi,omitempty"`
	PairID      string `cbor:"6,keyasint,omitempty" json:"pair_id,omitempty"`
}

// Complete reports whether the descriptor has everything needed to join.
func (p *PanDescriptor) Complete() bool {
	return p != nil && p.Channel != "" && p.PanID != "" && p.Addr != ""
}

type CommandResult struct {
	Status   string
	Param    string
	HasParam bool
}
