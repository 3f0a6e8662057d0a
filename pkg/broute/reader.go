package broute

import (
	"errors"
	"sync"

	"github.com/berfenger/broute2mqtt/pkg/skstack"
	"go.uber.org/zap"
)

// ModemDevice is an opened modem the reader owns.
type ModemDevice interface {
	Modem
	Version() (string, error)
	Reset() error
	EnsureASCIIPayload() error
	Close() error
}

type ReaderOptions struct {
	Credentials                  Credentials
	Session                      SessionOptions
	PanCacheFile                 string
	SendAckWaitCount             int
	InvalidateCacheOnJoinFailure bool
}

type BRouteMeterReader struct {
	mu      sync.Mutex
	dial    func() (ModemDevice, error)
	opts    ReaderOptions
	cache   PanDescriptorCache
	device  ModemDevice
	session *Session
	pan     *skstack.PanDescriptor
	ipv6    string
	version string
	logger  *zap.Logger
}

func CreateBRouteMeterReader(port skstack.PortOptions, opts ReaderOptions, logger *zap.Logger,
	instrumentation *skstack.Instrument) (EnergyMeterReader, error) {
	if _, err := port.Normalize(); err != nil {
		return nil, err
	}
	dial := func() (ModemDevice, error) {
		transport, err := skstack.OpenSerialTransport(port, logger)
		if err != nil {
			return nil, err
		}
		return skstack.NewBP35A1(transport, logger,
			skstack.WithInstrument(instrumentation),
			skstack.WithSendAckWaitCount(opts.SendAckWaitCount)), nil
	}
	return NewBRouteMeterReader(dial, NewPanCache(opts.PanCacheFile, logger), opts, logger), nil
}

func NewBRouteMeterReader(dial func() (ModemDevice, error), cache PanDescriptorCache, opts ReaderOptions, logger *zap.Logger) *BRouteMeterReader {
	return &BRouteMeterReader{
		dial:   dial,
		opts:   opts,
		cache:  cache,
		logger: logger.With(zap.String("target", "meter")),
	}
}

// Open opens the modem, finds the meter PAN and joins it.
func (reader *BRouteMeterReader) Open() error {
	reader.mu.Lock()
	defer reader.mu.Unlock()

	if reader.device != nil {
		return nil
	}
	device, err := reader.dial()
	if err != nil {
		return err
	}

	version, err := reader.modemVersion(device)
	if err != nil {
		device.Close()
		return err
	}
	if err := device.EnsureASCIIPayload(); err != nil {
		device.Close()
		return err
	}

	session := NewSession(device, reader.opts.Credentials, reader.opts.Session, reader.logger)
	pan, err := session.GetPanInfo(reader.cache)
	if err != nil {
		device.Close()
		return err
	}
	if err := session.Connect(pan); err != nil {
		if errors.Is(err, ErrConnectFailed) && reader.opts.InvalidateCacheOnJoinFailure && reader.cache != nil {
			if cerr := reader.cache.Invalidate(); cerr != nil {
				reader.logger.Warn("could not invalidate PAN cache", zap.Error(cerr))
			} else {
				reader.logger.Info("PAN cache invalidated after join failure")
			}
		}
		device.Close()
		return err
	}

	reader.device = device
	reader.session = session
	reader.pan = pan
	reader.ipv6 = session.Address()
	reader.version = version
	return nil
}

// modemVersion checks that the modem answers. A modem left mid command by a
// previous process gets one SKRESET before giving up.
func (reader *BRouteMeterReader) modemVersion(device ModemDevice) (string, error) {
	version, err := device.Version()
	if err == nil {
		return version, nil
	}
	reader.logger.Warn("modem did not answer SKVER, resetting", zap.Error(err))
	if rerr := device.Reset(); rerr != nil {
		return "", errors.Join(err, rerr)
	}
	return device.Version()
}

func (reader *BRouteMeterReader) Close() error {
	reader.mu.Lock()
	defer reader.mu.Unlock()

	if reader.device == nil {
		return nil
	}
	// a read holding the session gives up at its next attempt
	reader.session.Interrupt()
	reader.session.Disconnect()
	err := reader.device.Close()
	reader.device = nil
	reader.session = nil
	reader.ipv6 = ""
	return err
}

// GetInfo does not touch the session, so it answers while a read is running.
func (reader *BRouteMeterReader) GetInfo() (*MeterInfo, error) {
	reader.mu.Lock()
	defer reader.mu.Unlock()
	if reader.session == nil {
		return nil, ErrNotConnected
	}
	return &MeterInfo{
		Channel:      reader.pan.Channel,
		PanID:        reader.pan.PanID,
		Addr:         reader.pan.Addr,
		IPv6:         reader.ipv6,
		ModemVersion: reader.version,
	}, nil
}

func (reader *BRouteMeterReader) GetInstantaneousPower() (uint32, error) {
	session, err := reader.currentSession()
	if err != nil {
		return 0, err
	}
	return session.ReadInstantaneousEnergy()
}

func (reader *BRouteMeterReader) GetCumulativeEnergy() (float64, error) {
	session, err := reader.currentSession()
	if err != nil {
		return 0, err
	}
	return session.ReadCumulativeEnergy()
}

func (reader *BRouteMeterReader) GetInstantaneousCurrent() (*InstantaneousCurrent, error) {
	session, err := reader.currentSession()
	if err != nil {
		return nil, err
	}
	r, t, singlePhase, err := session.ReadInstantaneousCurrent()
	if err != nil {
		return nil, err
	}
	return &InstantaneousCurrent{R: r, T: t, SinglePhase: singlePhase}, nil
}

func (reader *BRouteMeterReader) currentSession() (*Session, error) {
	reader.mu.Lock()
	defer reader.mu.Unlock()
	if reader.session == nil {
		return nil, ErrNotConnected
	}
	return reader.session, nil
}
