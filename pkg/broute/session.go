package broute

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/berfenger/broute2mqtt/pkg/echonetlite"
	"github.com/berfenger/broute2mqtt/pkg/skstack"
	"go.uber.org/zap"
)

var (
	controllerEOJ = echonetlite.BuildObjectCode(echonetlite.CLASS_GROUP_MANAGEMENT, echonetlite.CLASS_CODE_CONTROLLER)
	meterEOJ      = echonetlite.BuildObjectCode(echonetlite.CLASS_GROUP_HOUSING, echonetlite.CLASS_CODE_LOW_VOLTAGE_SMART_METER)
)

// Session is a B-route session with one smart meter. Calls are serialised.
type Session struct {
	mu          sync.Mutex
	modem       Modem
	credentials Credentials
	opts        SessionOptions
	ipv6        string
	// static meter properties, read once per session
	coefficient *float64
	unit        *float64
	// set by Interrupt, checked between read attempts without holding mu
	interrupted atomic.Bool
	logger      *zap.Logger
}

func NewSession(modem Modem, credentials Credentials, opts SessionOptions, logger *zap.Logger) *Session {
	return &Session{
		modem:       modem,
		credentials: credentials,
		opts:        opts.normalize(),
		logger:      logger.With(zap.String("target", "session")),
	}
}

// GetPanInfo returns the cached descriptor or scans for a new one and caches it.
func (s *Session) GetPanInfo(cache PanDescriptorCache) (*skstack.PanDescriptor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cache != nil {
		if pan, ok := cache.Load(); ok {
			return pan, nil
		}
	}
	s.logger.Info("scanning for meter PAN", zap.Int("startDuration", s.opts.ScanStartDuration))
	pan, err := s.modem.ScanChannel(s.opts.ScanStartDuration)
	if err != nil {
		return nil, err
	}
	if pan == nil {
		return nil, ErrScanNotFound
	}
	if cache != nil {
		if err := cache.Store(pan); err != nil {
			s.logger.Warn("could not cache PAN descriptor", zap.Error(err))
		}
	}
	return pan, nil
}

func (s *Session) Connect(pan *skstack.PanDescriptor) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.modem.SetID(s.credentials.ID); err != nil {
		return err
	}
	if err := s.modem.SetPassword(s.credentials.Password); err != nil {
		return err
	}
	ipv6, ok, err := s.modem.Connect(pan)
	if err != nil {
		return err
	}
	if !ok || ipv6 == "" {
		return ErrConnectFailed
	}
	s.ipv6 = ipv6
	s.interrupted.Store(false)
	s.coefficient = nil
	s.unit = nil
	s.logger.Info("joined meter PAN", zap.String("addr", ipv6))
	return nil
}

func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ipv6 != ""
}

func (s *Session) Address() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ipv6
}

// Interrupt makes the read in progress, and any read queued behind it, give
// up at the next attempt. It does not wait for the session lock.
func (s *Session) Interrupt() {
	s.interrupted.Store(true)
}

// Disconnect terminates the session. It is safe to call more than once.
func (s *Session) Disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ipv6 == "" {
		return
	}
	s.modem.Disconnect()
	s.ipv6 = ""
}

// ReadInstantaneousEnergy returns the instantaneous power in watts (EPC E7).
func (s *Session) ReadInstantaneousEnergy() (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	edt, err := s.readProperty(echonetlite.EPC_INSTANTANEOUS_ENERGY, 4)
	if err != nil {
		return 0, err
	}
	return echonetlite.DecodeUint32(edt)
}

// ReadInstantaneousCurrent returns the R and T phase currents in amperes
// (EPC E8). singlePhase is set when the meter has no T phase.
func (s *Session) ReadInstantaneousCurrent() (r float64, t float64, singlePhase bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	edt, err := s.readProperty(echonetlite.EPC_INSTANTANEOUS_CURRENT, 4)
	if err != nil {
		return 0, 0, false, err
	}
	return echonetlite.DecodeInstantaneousCurrent(edt)
}

// ReadCumulativeEnergy returns the normal direction cumulative energy in kWh.
func (s *Session) ReadCumulativeEnergy() (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.coefficient == nil {
		coefficient := 1.0
		edt, err := s.readProperty(echonetlite.EPC_COEFFICIENT, 4)
		switch {
		case err == nil:
			raw, err := echonetlite.DecodeUint32(edt)
			if err != nil {
				return 0, err
			}
			coefficient = float64(raw)
		case errors.Is(err, ErrPropertyNotAvailable):
			// optional, defaults to 1
		default:
			return 0, err
		}
		s.coefficient = &coefficient
	}
	if s.unit == nil {
		edt, err := s.readProperty(echonetlite.EPC_CUMULATIVE_ENERGY_UNIT, 1)
		if err != nil {
			return 0, err
		}
		unit, err := echonetlite.DecodeCumulativeEnergyUnit(edt)
		if err != nil {
			return 0, err
		}
		s.unit = &unit
	}

	edt, err := s.readProperty(echonetlite.EPC_CUMULATIVE_ENERGY_NORMAL, 4)
	if err != nil {
		return 0, err
	}
	count, err := echonetlite.DecodeUint32(edt)
	if err != nil {
		return 0, err
	}
	return float64(count) * *s.coefficient * *s.unit, nil
}

// readProperty sends a Get for one property and waits for a matching
// response, resending on timeouts and unrelated frames.
func (s *Session) readProperty(epc byte, size int) ([]byte, error) {
	if s.ipv6 == "" {
		return nil, ErrNotConnected
	}
	request, err := echonetlite.BuildRequestFrame(controllerEOJ, meterEOJ, echonetlite.ESV_PROP_READ,
		[]echonetlite.Property{echonetlite.ReadRequest(epc)})
	if err != nil {
		return nil, err
	}

	for attempt := 1; attempt <= s.opts.MaxReadAttempts; attempt++ {
		if attempt > 1 && s.opts.RetryInterval > 0 {
			time.Sleep(s.opts.RetryInterval)
		}
		if s.interrupted.Load() {
			return nil, fmt.Errorf("%w: read of epc %02X interrupted", ErrNotConnected, epc)
		}

		if err := s.modem.SendUDP(s.ipv6, echonetlite.UDP_PORT, request, skstack.DEFAULT_UDP_HANDLE, true); err != nil {
			if errors.Is(err, skstack.ErrSendNotAcknowledged) {
				s.logger.Debug("send not acknowledged", zap.Int("attempt", attempt))
				continue
			}
			return nil, err
		}

		data, ok, err := s.modem.RecvUDP(s.ipv6, s.opts.RecvWaitCount)
		if err != nil {
			if errors.Is(err, skstack.ErrMalformedPayload) {
				s.logger.Debug("discarding malformed payload", zap.Error(err), zap.Int("attempt", attempt))
				continue
			}
			return nil, err
		}
		if !ok {
			s.logger.Debug("no response", zap.Uint8("epc", epc), zap.Int("attempt", attempt))
			continue
		}

		frame, err := echonetlite.ParseFrame(data)
		if err != nil {
			s.logger.Debug("discarding malformed frame", zap.Error(err), zap.Int("attempt", attempt))
			continue
		}
		if frame.SEOJ != meterEOJ {
			s.logger.Debug("discarding frame from another object", zap.Stringer("seoj", frame.SEOJ))
			continue
		}
		if frame.ESV == echonetlite.ESV_PROP_READ_SNA && hasProperty(frame, epc) {
			return nil, fmt.Errorf("%w: epc %02X", ErrPropertyNotAvailable, epc)
		}
		prop, found := frame.FindProperty(epc)
		if !found || len(prop.EDT) != size {
			s.logger.Debug("discarding frame without the requested property", zap.Uint8("epc", epc), zap.Uint8("esv", frame.ESV))
			continue
		}
		return prop.EDT, nil
	}
	return nil, fmt.Errorf("%w: epc %02X after %d attempts", ErrReadTimeout, epc, s.opts.MaxReadAttempts)
}

func hasProperty(frame *echonetlite.Frame, epc byte) bool {
	for _, p := range frame.Properties {
		if p.EPC == epc {
			return true
		}
	}
	return false
}
