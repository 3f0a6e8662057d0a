package skstack

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"go.bug.st/serial"
	"go.uber.org/zap"
)

const (
	DEFAULT_BAUD_RATE    = 115200
	DEFAULT_READ_TIMEOUT = 5 * time.Second

	readChunkSize = 256
)

// LineTransport is a blocking line oriented view of the modem byte stream.
// ReadLine returns "" when nothing arrived within the read timeout.
type LineTransport interface {
	Write(data []byte) error
	ReadLine() (string, error)
	Close() error
}

type PortOptions struct {
	Device      string
	BaudRate    int
	ReadTimeout time.Duration
}

// Normalize applies defaults for unset values.
func (o PortOptions) Normalize() (PortOptions, error) {
	opts := o
	if strings.TrimSpace(opts.Device) == "" {
		return opts, errors.New("serial device is required")
	}
	if opts.BaudRate <= 0 {
		opts.BaudRate = DEFAULT_BAUD_RATE
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = DEFAULT_READ_TIMEOUT
	}
	return opts, nil
}

// SerialMode returns the 8N1 mode the modem expects.
func (o PortOptions) SerialMode() (*serial.Mode, error) {
	opts, err := o.Normalize()
	if err != nil {
		return nil, err
	}
	return &serial.Mode{
		BaudRate: opts.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}, nil
}

type SerialTransport struct {
	port   io.ReadWriteCloser
	buf    []byte
	logger *zap.Logger
}

func OpenSerialTransport(opts PortOptions, logger *zap.Logger) (*SerialTransport, error) {
	opts, err := opts.Normalize()
	if err != nil {
		return nil, err
	}
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}
	port, err := serial.Open(opts.Device, mode)
	if err != nil {
		return nil, fmt.Errorf("could not open serial port %s: %w", opts.Device, err)
	}
	if err := port.SetReadTimeout(opts.ReadTimeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("could not set read timeout on %s: %w", opts.Device, err)
	}
	// drop whatever the modem printed before we were listening
	if err := port.ResetInputBuffer(); err != nil {
		logger.Debug("could not flush serial input", zap.Error(err))
	}
	return NewLineTransport(port, logger.With(zap.String("device", opts.Device))), nil
}

// NewLineTransport wraps a port whose Read returns (0, nil) on timeout.
func NewLineTransport(port io.ReadWriteCloser, logger *zap.Logger) *SerialTransport {
	return &SerialTransport{
		port:   port,
		logger: logger,
	}
}

func (t *SerialTransport) Write(data []byte) error {
	t.logger.Debug("SEND", zap.ByteString("data", data))
	_, err := t.port.Write(data)
	return err
}

func (t *SerialTransport) ReadLine() (string, error) {
	chunk := make([]byte, readChunkSize)
	for {
		if i := bytes.IndexByte(t.buf, '\n'); i >= 0 {
			line := string(bytes.TrimRight(t.buf[:i], "\r"))
			t.buf = t.buf[i+1:]
			t.logger.Debug("RECV", zap.String("line", line))
			return line, nil
		}
		n, err := t.port.Read(chunk)
		if n > 0 {
			t.buf = append(t.buf, chunk[:n]...)
			continue
		}
		if err != nil {
			return "", err
		}
		// timeout, keep the partial line for the next call
		return "", nil
	}
}

func (t *SerialTransport) Close() error {
	return t.port.Close()
}
