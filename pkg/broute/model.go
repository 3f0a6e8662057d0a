package broute

import (
	"errors"
	"time"

	"github.com/berfenger/broute2mqtt/pkg/skstack"
)

const (
	MAX_READ_ATTEMPTS      = 10
	DEFAULT_RETRY_INTERVAL = time.Second
)

var (
	ErrScanNotFound         = errors.New("no B-route PAN found")
	ErrConnectFailed        = errors.New("could not join the B-route PAN")
	ErrReadTimeout          = errors.New("meter did not answer the property read")
	ErrNotConnected         = errors.New("B-route session is not connected")
	ErrPropertyNotAvailable = errors.New("meter does not provide the property")
)

// Modem is the part of the SKSTACK command channel a session drives.
type Modem interface {
	SetID(id string) error
	SetPassword(password string) error
	ScanChannel(startDuration int) (*skstack.PanDescriptor, error)
	Connect(pan *skstack.PanDescriptor) (string, bool, error)
	Disconnect()
	SendUDP(addr string, port uint16, payload []byte, handle int, secure bool) error
	RecvUDP(addr string, waitCount int) ([]byte, bool, error)
}

type PanDescriptorCache interface {
	Load() (*skstack.PanDescriptor, bool)
	Store(pan *skstack.PanDescriptor) error
	Invalidate() error
}

type Credentials struct {
	ID       string
	Password string
}

type SessionOptions struct {
	ScanStartDuration int
	MaxReadAttempts   int
	RetryInterval     time.Duration
	RecvWaitCount     int
}

func DefaultSessionOptions() SessionOptions {
	return SessionOptions{
		ScanStartDuration: skstack.DEFAULT_SCAN_DURATION,
		MaxReadAttempts:   MAX_READ_ATTEMPTS,
		RetryInterval:     DEFAULT_RETRY_INTERVAL,
		RecvWaitCount:     skstack.RECV_WAIT_COUNT,
	}
}

func (o SessionOptions) normalize() SessionOptions {
	opts := o
	if opts.ScanStartDuration <= 0 {
		opts.ScanStartDuration = skstack.DEFAULT_SCAN_DURATION
	}
	if opts.MaxReadAttempts <= 0 {
		opts.MaxReadAttempts = MAX_READ_ATTEMPTS
	}
	if opts.RetryInterval < 0 {
		opts.RetryInterval = 0
	}
	if opts.RecvWaitCount <= 0 {
		opts.RecvWaitCount = skstack.RECV_WAIT_COUNT
	}
	return opts
}

// ReadBudget is the longest a single property read can take: every attempt
// may wait for the SKSENDTO echo and acknowledgement plus the ERXUDP lines,
// each line bounded by lineTimeout, followed by the retry pause.
func ReadBudget(opts SessionOptions, lineTimeout time.Duration, sendAckWaitCount int) time.Duration {
	o := opts.normalize()
	if lineTimeout <= 0 {
		lineTimeout = skstack.DEFAULT_READ_TIMEOUT
	}
	if sendAckWaitCount <= 0 {
		sendAckWaitCount = skstack.WAIT_COUNT
	}
	lines := 1 + sendAckWaitCount + o.RecvWaitCount
	attempt := time.Duration(lines)*lineTimeout + o.RetryInterval
	return time.Duration(o.MaxReadAttempts) * attempt
}

type MeterInfo struct {
	Channel      string
	PanID        string
	Addr         string
	IPv6         string
	ModemVersion string
}

type EnergyMeterReader interface {
	Open() error
	Close() error
	GetInfo() (*MeterInfo, error)
	// Instantaneous power in watts as reported by the meter (EPC E7).
	GetInstantaneousPower() (uint32, error)
	// Normal direction cumulative energy in kWh.
	GetCumulativeEnergy() (float64, error)
	// Per phase instantaneous current (EPC E8).
	GetInstantaneousCurrent() (*InstantaneousCurrent, error)
}

// InstantaneousCurrent is in amperes. T is zero on single phase meters.
type InstantaneousCurrent struct {
	R           float64
	T           float64
	SinglePhase bool
}
