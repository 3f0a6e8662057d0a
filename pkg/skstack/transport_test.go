package skstack

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// chunkPort hands out one chunk per Read and reports a timeout once empty.
type chunkPort struct {
	chunks  [][]byte
	written []byte
	readErr error
	closed  bool
}

func (p *chunkPort) Read(b []byte) (int, error) {
	if len(p.chunks) == 0 {
		if p.readErr != nil {
			return 0, p.readErr
		}
		return 0, nil
	}
	n := copy(b, p.chunks[0])
	if n < len(p.chunks[0]) {
		p.chunks[0] = p.chunks[0][n:]
	} else {
		p.chunks = p.chunks[1:]
	}
	return n, nil
}

func (p *chunkPort) Write(b []byte) (int, error) {
	p.written = append(p.written, b...)
	return len(b), nil
}

func (p *chunkPort) Close() error {
	p.closed = true
	return nil
}

func TestLineTransportReadLine(t *testing.T) {

	require := require.New(t)

	port := &chunkPort{chunks: [][]byte{
		[]byte("SKVER\r\nEVER 1.2"),
		[]byte(".10\r\nOK\r\n"),
		[]byte("\r\nEVENT 2"),
	}}
	transport := NewLineTransport(port, zap.Must(zap.NewDevelopment()))

	for _, want := range []string{"SKVER", "EVER 1.2.10", "OK", ""} {
		line, err := transport.ReadLine()
		require.NoError(err)
		require.Equal(want, line)
	}

	// the partial line survives a timeout
	line, err := transport.ReadLine()
	require.NoError(err)
	require.Equal("", line)

	port.chunks = append(port.chunks, []byte("5 FE80:0000:0000:0000:021C:6400:030C:12A4\r\n"))
	line, err = transport.ReadLine()
	require.NoError(err)
	require.Equal("EVENT 25 FE80:0000:0000:0000:021C:6400:030C:12A4", line)
}

func TestLineTransportKeepsIndentation(t *testing.T) {

	port := &chunkPort{chunks: [][]byte{[]byte("  Pan ID:8888\r\n")}}
	transport := NewLineTransport(port, zap.Must(zap.NewDevelopment()))

	line, err := transport.ReadLine()
	assert.NoError(t, err)
	assert.Equal(t, "  Pan ID:8888", line)
}

func TestLineTransportErrors(t *testing.T) {

	assert := assert.New(t)

	portErr := errors.New("device unplugged")
	port := &chunkPort{readErr: portErr}
	transport := NewLineTransport(port, zap.Must(zap.NewDevelopment()))

	_, err := transport.ReadLine()
	assert.ErrorIs(err, portErr)

	assert.NoError(transport.Write([]byte("SKINFO\r\n")))
	assert.Equal([]byte("SKINFO\r\n"), port.written)

	assert.NoError(transport.Close())
	assert.True(port.closed)
}

func TestPortOptions(t *testing.T) {

	assert := assert.New(t)

	opts, err := PortOptions{Device: "/dev/ttyUSB0"}.Normalize()
	assert.NoError(err)
	assert.Equal(DEFAULT_BAUD_RATE, opts.BaudRate)
	assert.Equal(DEFAULT_READ_TIMEOUT, opts.ReadTimeout)

	opts, err = PortOptions{Device: "/dev/ttyUSB0", BaudRate: 9600, ReadTimeout: time.Second}.Normalize()
	assert.NoError(err)
	assert.Equal(9600, opts.BaudRate)
	assert.Equal(time.Second, opts.ReadTimeout)

	_, err = PortOptions{}.Normalize()
	assert.Error(err)

	mode, err := PortOptions{Device: "/dev/ttyUSB0"}.SerialMode()
	assert.NoError(err)
	assert.Equal(DEFAULT_BAUD_RATE, mode.BaudRate)
	assert.Equal(8, mode.DataBits)
}
