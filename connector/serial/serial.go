// Package serial implements a channel-based connector for byte streams on
// serial ports. The parameter host is the device name (for example
// /dev/ttyUSB0 or COM3), the port is ignored.
//
// Received bytes are pushed as they arrive. With the DELIMITER setting the
// stream is framed into messages that end with the delimiter byte, which is
// stripped.
package serial

import (
	"bytes"
	"context"
	stderrors "errors"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"

	"github.com/c360/semconnect/connector"
	"github.com/c360/semconnect/connector/types"
	"github.com/c360/semconnect/errors"
)

// Name is the connector name.
const Name = "serial"

// Specific parameter keys.
const (
	KeyBaudRate  = "BAUDRATE"
	KeyDataBits  = "DATABITS"
	KeyStopBits  = "STOPBITS"
	KeyParity    = "PARITY"
	KeyDelimiter = "DELIMITER"
)

// Defaults for a port opened without settings, 9600 8N1.
const (
	DefaultBaudRate = 9600
	DefaultDataBits = 8
)

const (
	readTimeout = 100 * time.Millisecond
	readSize    = 256
	maxFrame    = 64 * 1024
)

// Port is the subset of serial.Port used by the driver.
type Port interface {
	io.ReadWriteCloser
	SetReadTimeout(t time.Duration) error
}

// Opener opens a serial port.
type Opener func(name string, mode *serial.Mode) (Port, error)

// OpenPort opens a local serial port.
func OpenPort(name string, mode *serial.Mode) (Port, error) {
	return serial.Open(name, mode)
}

// Mode builds the port mode from the parameter settings.
func Mode(params connector.Parameter) (*serial.Mode, error) {
	mode := &serial.Mode{
		BaudRate: DefaultBaudRate,
		DataBits: DefaultDataBits,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	if v, ok := params.Specific(KeyBaudRate); ok {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, invalid("baud rate " + v)
		}
		mode.BaudRate = n
	}
	if v, ok := params.Specific(KeyDataBits); ok {
		n, err := strconv.Atoi(v)
		if err != nil || n < 5 || n > 8 {
			return nil, invalid("data bits " + v)
		}
		mode.DataBits = n
	}
	if v, ok := params.Specific(KeyStopBits); ok {
		switch v {
		case "1":
			mode.StopBits = serial.OneStopBit
		case "1.5":
			mode.StopBits = serial.OnePointFiveStopBits
		case "2":
			mode.StopBits = serial.TwoStopBits
		default:
			return nil, invalid("stop bits " + v)
		}
	}
	if v, ok := params.Specific(KeyParity); ok {
		switch strings.ToUpper(v) {
		case "NO", "NONE":
			mode.Parity = serial.NoParity
		case "EVEN":
			mode.Parity = serial.EvenParity
		case "ODD":
			mode.Parity = serial.OddParity
		case "MARK":
			mode.Parity = serial.MarkParity
		case "SPACE":
			mode.Parity = serial.SpaceParity
		default:
			return nil, invalid("parity " + v)
		}
	}
	return mode, nil
}

func invalid(what string) error {
	return errors.WrapInvalid(errors.ErrInvalidConfig, "serial", "Mode", what)
}

// Driver reads and writes a serial port.
type Driver struct {
	channel string
	open    Opener
	logger  *slog.Logger

	mu       sync.Mutex
	port     Port
	stop     chan struct{}
	done     chan struct{}
	receiver connector.Receiver[[]byte]
}

// NewDriver creates a driver that delivers on channel. A nil opener opens
// local ports.
func NewDriver(channel string, open Opener, logger *slog.Logger) *Driver {
	if open == nil {
		open = OpenPort
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Driver{channel: channel, open: open, logger: logger.With("component", "serial")}
}

// Name implements connector.Driver.
func (d *Driver) Name() string { return Name }

// Bind implements connector.Binder.
func (d *Driver) Bind(r connector.Receiver[[]byte]) {
	d.mu.Lock()
	d.receiver = r
	d.mu.Unlock()
}

// ConnectImpl implements connector.Driver.
func (d *Driver) ConnectImpl(_ context.Context, params connector.Parameter) error {
	if params.Host() == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "serial.Driver", "ConnectImpl", "device name")
	}
	mode, err := Mode(params)
	if err != nil {
		return err
	}
	var delimiter []byte
	if v, ok := params.Specific(KeyDelimiter); ok && v != "" {
		delimiter = []byte(unescape(v))
	}

	port, err := d.open(params.Host(), mode)
	if err != nil {
		return errors.Wrap(err, "serial.Driver", "ConnectImpl", "open "+params.Host())
	}
	if err := port.SetReadTimeout(readTimeout); err != nil {
		_ = port.Close()
		return errors.Wrap(err, "serial.Driver", "ConnectImpl", "set read timeout")
	}

	stop, done := make(chan struct{}), make(chan struct{})
	d.mu.Lock()
	d.port, d.stop, d.done = port, stop, done
	d.mu.Unlock()

	go d.readLoop(port, delimiter, stop, done)
	d.logger.Info("Serial port opened", "device", params.Host(), "baud", mode.BaudRate)
	return nil
}

func unescape(s string) string {
	switch s {
	case `\n`:
		return "\n"
	case `\r`:
		return "\r"
	case `\r\n`:
		return "\r\n"
	case `\0`:
		return "\x00"
	}
	return s
}

func (d *Driver) readLoop(port Port, delimiter []byte, stop, done chan struct{}) {
	defer close(done)
	buf := make([]byte, readSize)
	var pending []byte
	for {
		select {
		case <-stop:
			return
		default:
		}
		n, err := port.Read(buf)
		if n > 0 {
			if delimiter == nil {
				d.push(bytes.Clone(buf[:n]))
			} else {
				pending = d.frame(append(pending, buf[:n]...), delimiter)
			}
		}
		if err != nil {
			select {
			case <-stop:
			default:
				if !stderrors.Is(err, io.EOF) {
					d.logger.Error("Serial read failed", "error", err)
				}
			}
			return
		}
	}
}

// frame pushes every complete frame of data and returns the remainder.
func (d *Driver) frame(data, delimiter []byte) []byte {
	for {
		i := bytes.Index(data, delimiter)
		if i < 0 {
			break
		}
		d.push(bytes.Clone(data[:i]))
		data = data[i+len(delimiter):]
	}
	if len(data) > maxFrame {
		d.logger.Warn("Discarding unterminated serial frame", "size", len(data))
		return nil
	}
	return data
}

func (d *Driver) push(data []byte) {
	d.mu.Lock()
	r := d.receiver
	d.mu.Unlock()
	if r != nil {
		_ = r.Trigger(d.channel, data)
	}
}

// WriteImpl implements connector.Driver.
func (d *Driver) WriteImpl(_ context.Context, _ string, data []byte) error {
	d.mu.Lock()
	port := d.port
	d.mu.Unlock()
	if port == nil {
		return errors.ErrNotConnected
	}
	for len(data) > 0 {
		n, err := port.Write(data)
		if err != nil {
			return err
		}
		data = data[n:]
	}
	return nil
}

// Read implements connector.Driver. Serial data is always pushed.
func (d *Driver) Read(context.Context) (connector.Record[[]byte], bool, error) {
	return connector.Record[[]byte]{}, false, nil
}

// DisconnectImpl implements connector.Driver.
func (d *Driver) DisconnectImpl() error {
	d.mu.Lock()
	port, stop, done := d.port, d.stop, d.done
	d.port, d.stop, d.done = nil, nil, nil
	d.mu.Unlock()
	if port == nil {
		return nil
	}
	close(stop)
	err := port.Close()
	<-done
	return err
}

// Dispose implements connector.Driver.
func (d *Driver) Dispose() error {
	return d.DisconnectImpl()
}

// NewConnector creates a serial connector delivering through adapter.
func NewConnector[CO, CI any](
	open Opener, adapter types.ProtocolAdapter[[]byte, []byte, CO, CI], opts ...connector.Option,
) (*connector.Base[[]byte, []byte, CO, CI], error) {
	var o connector.Options
	for _, opt := range opts {
		opt(&o)
	}
	channel := ""
	if adapter != nil {
		channel = adapter.OutputChannel()
	}
	return connector.NewBase(NewDriver(channel, open, o.Logger),
		[]types.ProtocolAdapter[[]byte, []byte, CO, CI]{adapter}, opts...)
}

// Matches selects parameters with a "connector" setting of "serial".
func Matches(params connector.Parameter) bool {
	v, _ := params.Specific("connector")
	return v == Name
}

// Register adds a text line connector to f.
func Register(f *connector.Factory, open Opener) error {
	return f.Register(Name, "byte-stream", Matches, func(params connector.Parameter, opts ...connector.Option) (connector.Connector, error) {
		adapter := types.NewTranslatingProtocolAdapter(types.StringOutputTranslator(), types.StringInputTranslator())
		c, err := NewConnector[string, string](open, adapter, opts...)
		if err != nil {
			return nil, err
		}
		return c, nil
	})
}
