package skstack

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

const crlf = "\r\n"

// BP35A1 drives a SKSTACK IP modem over a line transport. It is not safe for
// concurrent use: exactly one exchange may be in flight.
type BP35A1 struct {
	transport        LineTransport
	instrument       []Instrument
	sendAckWaitCount int
	logger           *zap.Logger
}

type ModemOption func(*BP35A1)

func WithInstrument(instrument *Instrument) ModemOption {
	return func(m *BP35A1) {
		if instrument != nil {
			m.instrument = append(m.instrument, *instrument)
		}
	}
}

// WithSendAckWaitCount bounds the lines read while waiting for the OK of SKSENDTO.
func WithSendAckWaitCount(n int) ModemOption {
	return func(m *BP35A1) {
		if n > 0 {
			m.sendAckWaitCount = n
		}
	}
}

func NewBP35A1(transport LineTransport, logger *zap.Logger, opts ...ModemOption) *BP35A1 {
	modem := &BP35A1{
		transport:        transport,
		sendAckWaitCount: WAIT_COUNT,
		logger:           logger.With(zap.String("target", "bp35a1")),
	}
	if logInst := traceLoggerInstrumentation(modem.logger); logInst != nil {
		modem.instrument = append(modem.instrument, *logInst)
	}
	for _, opt := range opts {
		opt(modem)
	}
	return modem
}

func (m *BP35A1) Close() error {
	return m.transport.Close()
}

func (m *BP35A1) Reset() error {
	defer RecordTimer("SKRESET", m.instrument)()
	m.logger.Warn("reset")
	if err := m.sendCommandWithoutCheck("SKRESET", nil); err != nil {
		return err
	}
	return m.Expect(RESPONSE_OK)
}

func (m *BP35A1) Version() (string, error) {
	line, err := m.sendCommandRaw("SKVER", "SKVER")
	if err != nil {
		return "", err
	}
	tag, version, _ := strings.Cut(line, " ")
	if tag != RESPONSE_VERSION {
		return "", fmt.Errorf("%w: expected %s, got [%s]", ErrUnexpectedStatus, RESPONSE_VERSION, line)
	}
	if err := m.Expect(RESPONSE_OK); err != nil {
		return "", err
	}
	return version, nil
}

// ReadOption returns the WOPT flags of the modem.
func (m *BP35A1) ReadOption() (uint8, error) {
	res, err := m.SendCommand("ROPT")
	if err != nil {
		return 0, err
	}
	val, err := strconv.ParseUint(strings.TrimSpace(res.Param), 16, 8)
	if err != nil {
		return 0, fmt.Errorf("%w: ROPT returned [%s]", ErrUnexpectedStatus, res.Param)
	}
	return uint8(val), nil
}

// EnsureASCIIPayload switches ERXUDP to hex text payloads when the modem
// is configured for binary ones. WOPT persists in flash, so it is only
// written when needed.
func (m *BP35A1) EnsureASCIIPayload() error {
	opt, err := m.ReadOption()
	if err != nil {
		return err
	}
	if opt&ROPT_ASCII_PAYLOAD != 0 {
		return nil
	}
	m.logger.Warn("switching ERXUDP to ASCII payloads", zap.Uint8("option", opt))
	_, err = m.SendCommand(fmt.Sprintf("WOPT %02X", opt|ROPT_ASCII_PAYLOAD))
	return err
}

func (m *BP35A1) SetID(id string) error {
	if id == "" || strings.ContainsAny(id, " \r\n") {
		return fmt.Errorf("%w: bad B-route id", ErrInvalidCredentials)
	}
	_, err := m.SendCommand(fmt.Sprintf("SKSETRBID %s", id))
	return err
}

func (m *BP35A1) SetPassword(password string) error {
	if password == "" || len(password) > PASSWORD_MAX_LENGTH || strings.ContainsAny(password, " \r\n") {
		return fmt.Errorf("%w: bad B-route password", ErrInvalidCredentials)
	}
	_, err := m.SendCommand(fmt.Sprintf("SKSETPWD %X %s", len(password), password))
	return err
}

// ScanChannel looks for a meter PAN, widening the scan window by one on
// every empty round. It returns nil without error when nothing was found.
func (m *BP35A1) ScanChannel(startDuration int) (*PanDescriptor, error) {
	duration := startDuration
	if duration <= 0 {
		duration = DEFAULT_SCAN_DURATION
	}
	for range RETRY_COUNT {
		m.logger.Debug("scanning", zap.Int("duration", duration))
		if _, err := m.SendCommand(fmt.Sprintf("SKSCAN %d %X %d", SCAN_MODE, uint32(SCAN_CHANNEL_MASK), duration)); err != nil {
			return nil, err
		}

		var pan *PanDescriptor
		for range WAIT_COUNT {
			line, err := m.transport.ReadLine()
			if err != nil {
				return nil, err
			}
			if strings.HasPrefix(line, EVENT_SCAN_COMPLETED) {
				break
			}
			if strings.HasPrefix(line, EVENT_BEACON_RECEIVED) {
				pan, err = m.parsePanDesc()
				if err != nil {
					return nil, err
				}
			}
		}

		if pan != nil {
			m.logger.Info("found PAN", zap.String("channel", pan.Channel), zap.String("panId", pan.PanID), zap.String("addr", pan.Addr))
			return pan, nil
		}

		duration++
		if duration > MAX_SCAN_DURATION {
			return nil, nil
		}
	}
	return nil, nil
}

func (m *BP35A1) parsePanDesc() (*PanDescriptor, error) {
	if err := m.Expect(RESPONSE_PAN_DESC); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedPanDesc, err)
	}
	fields := map[string]string{}
	for range WAIT_COUNT {
		line, err := m.transport.ReadLine()
		if err != nil {
			return nil, err
		}
		if !strings.HasPrefix(line, panDescFieldPrefix) {
			return nil, fmt.Errorf("%w: line [%s] is not indented", ErrMalformedPanDesc, line)
		}
		key, value, ok := strings.Cut(strings.TrimSpace(line), ":")
		if !ok {
			return nil, fmt.Errorf("%w: line [%s] has no value", ErrMalformedPanDesc, line)
		}
		fields[key] = value

		if key == "PairID" {
			pan := &PanDescriptor{
				Channel:     fields["Channel"],
				ChannelPage: fields["Channel Page"],
				PanID:       fields["Pan ID"],
				Addr:        fields["Addr"],
				LQI:         fields["LQI"],
				PairID:      value,
			}
			if !pan.Complete() {
				return nil, fmt.Errorf("%w: missing channel, pan id or address", ErrMalformedPanDesc)
			}
			return pan, nil
		}
	}
	return nil, fmt.Errorf("%w: no PairID", ErrMalformedPanDesc)
}

// Connect joins the PAN and returns the meter IPv6 address. A rejected or
// timed out join returns ok=false without error.
func (m *BP35A1) Connect(pan *PanDescriptor) (string, bool, error) {
	if !pan.Complete() {
		return "", false, fmt.Errorf("%w: incomplete descriptor", ErrMalformedPanDesc)
	}
	if _, err := m.SendCommand(fmt.Sprintf("SKSREG S2 %s", pan.Channel)); err != nil {
		return "", false, err
	}
	if _, err := m.SendCommand(fmt.Sprintf("SKSREG S3 %s", pan.PanID)); err != nil {
		return "", false, err
	}

	command := fmt.Sprintf("SKLL64 %s", pan.Addr)
	ipv6, err := m.sendCommandRaw(command, command)
	if err != nil {
		return "", false, err
	}
	if ipv6 == "" {
		return "", false, fmt.Errorf("%w: SKLL64 returned no address", ErrTransportTimeout)
	}

	if _, err := m.SendCommand(fmt.Sprintf("SKJOIN %s", ipv6)); err != nil {
		return "", false, err
	}

	defer RecordTimer("SKJOIN-wait", m.instrument)()
	for range WAIT_COUNT {
		line, err := m.transport.ReadLine()
		if err != nil {
			return "", false, err
		}
		if strings.HasPrefix(line, EVENT_PANA_FAILED) {
			m.logger.Warn("join rejected (EVENT 24)", zap.String("addr", ipv6))
			return "", false, nil
		}
		if strings.HasPrefix(line, EVENT_PANA_CONNECTED) {
			return ipv6, true, nil
		}
	}
	m.logger.Warn("join timed out", zap.String("addr", ipv6))
	return "", false, nil
}

// Disconnect terminates the PANA session. Failures are logged and dropped.
func (m *BP35A1) Disconnect() {
	if err := m.sendCommandWithoutCheck("SKTERM", nil); err != nil {
		m.logger.Debug("SKTERM failed", zap.Error(err))
		return
	}
	if err := m.Expect(RESPONSE_OK); err != nil {
		m.logger.Debug("SKTERM not acknowledged", zap.Error(err))
		return
	}
	if err := m.expectEvent(EVENT_SESSION_CLOSED); err != nil {
		m.logger.Debug("session close event not received", zap.Error(err))
	}
}

func (m *BP35A1) SendUDP(addr string, port uint16, payload []byte, handle int, secure bool) error {
	if len(payload) > 0xFFFF {
		return fmt.Errorf("payload of %d bytes does not fit SKSENDTO", len(payload))
	}
	security := securityEncrypted
	if !secure {
		security = securityPlaintext
	}
	command := fmt.Sprintf("SKSENDTO %d %s %04X %d %04X ", handle, addr, port, security, len(payload))

	defer RecordTimer("SKSENDTO", m.instrument)()
	if err := m.sendCommandWithoutCheck(command, payload); err != nil {
		return err
	}
	for range m.sendAckWaitCount {
		line, err := m.transport.ReadLine()
		if err != nil {
			return err
		}
		if strings.TrimRight(line, " \t") == RESPONSE_OK {
			return nil
		}
	}
	return ErrSendNotAcknowledged
}

// RecvUDP waits for an ERXUDP line from addr and returns its decoded
// payload. ok is false when nothing matched within waitCount lines.
func (m *BP35A1) RecvUDP(addr string, waitCount int) ([]byte, bool, error) {
	defer RecordTimer("ERXUDP-wait", m.instrument)()
	for range waitCount {
		line, err := m.transport.ReadLine()
		if err != nil {
			return nil, false, err
		}
		fields := strings.Fields(line)
		if len(fields) < 3 || fields[0] != RESPONSE_UDP_RECV {
			continue
		}
		if fields[1] != addr {
			continue
		}
		// the payload is the last field, extra trailing fields are ignored
		data, err := hex.DecodeString(fields[min(len(fields), erxudpMaxFields)-1])
		if err != nil {
			return nil, false, fmt.Errorf("%w: %w", ErrMalformedPayload, err)
		}
		return data, true, nil
	}
	return nil, false, nil
}

func (m *BP35A1) SendCommand(command string) (CommandResult, error) {
	line, err := m.sendCommandRaw(command, command)
	if err != nil {
		return CommandResult{}, err
	}
	status, param, hasParam := strings.Cut(line, " ")
	res := CommandResult{Status: status, Param: param, HasParam: hasParam}
	if status != RESPONSE_OK {
		return res, fmt.Errorf("%w: %s returned [%s]", ErrUnexpectedStatus, commandName(command), line)
	}
	return res, nil
}

// Expect reads the next non empty line and requires it to equal text.
func (m *BP35A1) Expect(text string) error {
	line, err := m.nextLine()
	if err != nil {
		return err
	}
	if line != text {
		return fmt.Errorf("%w: expected [%s], got [%s]", ErrExpectMismatch, text, line)
	}
	return nil
}

// expectEvent is Expect for event lines, which carry trailing arguments.
func (m *BP35A1) expectEvent(event string) error {
	line, err := m.nextLine()
	if err != nil {
		return err
	}
	if !strings.HasPrefix(line, event) {
		return fmt.Errorf("%w: expected [%s], got [%s]", ErrExpectMismatch, event, line)
	}
	return nil
}

func (m *BP35A1) nextLine() (string, error) {
	for range WAIT_COUNT {
		line, err := m.transport.ReadLine()
		if err != nil {
			return "", err
		}
		line = strings.TrimRight(line, " \t")
		if line != "" {
			return line, nil
		}
	}
	return "", ErrTransportTimeout
}

func (m *BP35A1) sendCommandRaw(command string, echo string) (string, error) {
	defer RecordTimer(commandName(command), m.instrument)()
	if err := m.write(command, nil); err != nil {
		return "", err
	}
	if err := m.Expect(echo); err != nil {
		if errors.Is(err, ErrExpectMismatch) {
			return "", fmt.Errorf("%w: %w", ErrEchoMismatch, err)
		}
		return "", err
	}
	line, err := m.transport.ReadLine()
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, " \t"), nil
}

// sendCommandWithoutCheck writes the command and discards the echo line.
func (m *BP35A1) sendCommandWithoutCheck(command string, payload []byte) error {
	if err := m.write(command, payload); err != nil {
		return err
	}
	_, err := m.transport.ReadLine()
	return err
}

func (m *BP35A1) write(command string, payload []byte) error {
	data := make([]byte, 0, len(command)+len(payload)+len(crlf))
	data = append(data, command...)
	data = append(data, payload...)
	data = append(data, crlf...)
	return m.transport.Write(data)
}
