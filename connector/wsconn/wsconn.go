// Package wsconn implements a channel-based connector over a websocket
// client connection.
//
// Without envelopes every message is delivered on the channel of the first
// adapter. With the ENVELOPE setting messages are JSON objects carrying the
// channel name and the payload, so one connection serves several adapters.
// Written payloads that are not JSON are wrapped as JSON strings.
package wsconn

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/c360/semconnect/connector"
	"github.com/c360/semconnect/connector/types"
	"github.com/c360/semconnect/errors"
	"github.com/c360/semconnect/pkg/tlsutil"
)

// Name is the connector name.
const Name = "websocket"

// Specific parameter keys.
const (
	KeyEnvelope = "ENVELOPE"
	KeyBinary   = "BINARY"
)

// Envelope wraps a payload with its channel.
type Envelope struct {
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
}

// Driver holds one websocket connection.
type Driver struct {
	channel string
	logger  *slog.Logger
	dialer  *websocket.Dialer

	mu       sync.Mutex
	writeMu  sync.Mutex
	conn     *websocket.Conn
	envelope bool
	msgType  int
	stop     chan struct{}
	done     chan struct{}
	receiver connector.Receiver[[]byte]
}

// NewDriver creates a driver delivering unwrapped messages on channel.
func NewDriver(channel string, logger *slog.Logger) *Driver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Driver{
		channel: channel,
		logger:  logger.With("component", "wsconn"),
		dialer:  &websocket.Dialer{HandshakeTimeout: 45 * time.Second},
	}
}

// Name implements connector.Driver.
func (d *Driver) Name() string { return Name }

// Bind implements connector.Binder.
func (d *Driver) Bind(r connector.Receiver[[]byte]) {
	d.mu.Lock()
	d.receiver = r
	d.mu.Unlock()
}

// URL builds the websocket URL from params.
func URL(params connector.Parameter) string {
	scheme := "ws"
	if params.Secure() {
		scheme = "wss"
	}
	return fmt.Sprintf("%s://%s:%d/%s", scheme, params.Host(), params.Port(), trimSlash(params.EndpointPath()))
}

func trimSlash(s string) string {
	for len(s) > 0 && s[0] == '/' {
		s = s[1:]
	}
	return s
}

// authHeaders maps the identity token onto request headers.
func authHeaders(params connector.Parameter) http.Header {
	headers := http.Header{}
	if id := params.UniqueApplicationID(); id != "" {
		headers.Set("X-Application-Id", id)
	}
	tok, ok := params.IdentityToken(params.EndpointPath())
	if !ok {
		return headers
	}
	switch tok.Type {
	case connector.TokenUsername:
		creds := base64.StdEncoding.EncodeToString([]byte(tok.Username + ":" + tok.Password))
		headers.Set("Authorization", "Basic "+creds)
	case connector.TokenIssued:
		headers.Set("Authorization", "Bearer "+string(tok.Token))
	}
	return headers
}

func (d *Driver) dialerFor(params connector.Parameter) (*websocket.Dialer, error) {
	if !params.Secure() {
		return d.dialer, nil
	}
	tlsConfig, err := tlsutil.LoadClientConfig(params.TLSConfig())
	if err != nil {
		return nil, err
	}
	dialer := *d.dialer
	dialer.TLSClientConfig = tlsConfig
	return &dialer, nil
}

func specificBool(params connector.Parameter, key string) bool {
	v, ok := params.Specific(key)
	if !ok {
		return false
	}
	b, _ := strconv.ParseBool(v)
	return b
}

// ConnectImpl implements connector.Driver.
func (d *Driver) ConnectImpl(ctx context.Context, params connector.Parameter) error {
	dialCtx, cancel := context.WithTimeout(ctx, params.RequestTimeout())
	defer cancel()

	dialer, err := d.dialerFor(params)
	if err != nil {
		return errors.Wrap(err, "wsconn.Driver", "ConnectImpl", "tls setup")
	}
	url := URL(params)
	conn, resp, err := dialer.DialContext(dialCtx, url, authHeaders(params))
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return errors.Wrap(err, "wsconn.Driver", "ConnectImpl", "dial "+url)
	}

	msgType := websocket.TextMessage
	if specificBool(params, KeyBinary) {
		msgType = websocket.BinaryMessage
	}
	stop, done := make(chan struct{}), make(chan struct{})

	d.mu.Lock()
	d.conn, d.envelope, d.msgType = conn, specificBool(params, KeyEnvelope), msgType
	d.stop, d.done = stop, done
	d.mu.Unlock()

	if keepAlive := params.KeepAlive(); keepAlive > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(2 * keepAlive))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(2 * keepAlive))
		})
		go d.pingLoop(conn, keepAlive, stop)
	}
	go d.readLoop(conn, stop, done)
	d.logger.Info("Websocket connected", "url", url)
	return nil
}

func (d *Driver) pingLoop(conn *websocket.Conn, interval time.Duration, stop chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			d.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(interval))
			d.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func (d *Driver) readLoop(conn *websocket.Conn, stop, done chan struct{}) {
	defer close(done)
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-stop:
			default:
				d.logger.Warn("Websocket read failed", "error", err)
			}
			return
		}
		channel, data, err := d.unwrap(message)
		if err != nil {
			d.logger.Debug("Dropping malformed envelope", "error", err)
			continue
		}
		d.mu.Lock()
		r := d.receiver
		d.mu.Unlock()
		if r != nil {
			_ = r.Trigger(channel, data)
		}
	}
}

func (d *Driver) unwrap(message []byte) (string, []byte, error) {
	d.mu.Lock()
	envelope := d.envelope
	d.mu.Unlock()
	if !envelope {
		return d.channel, message, nil
	}
	var env Envelope
	if err := json.Unmarshal(message, &env); err != nil {
		return "", nil, errors.WrapInvalid(err, "wsconn.Driver", "unwrap", "decode envelope")
	}
	return env.Channel, env.Data, nil
}

// WriteImpl implements connector.Driver.
func (d *Driver) WriteImpl(_ context.Context, channel string, data []byte) error {
	d.mu.Lock()
	conn, envelope, msgType := d.conn, d.envelope, d.msgType
	d.mu.Unlock()
	if conn == nil {
		return errors.ErrNotConnected
	}
	if envelope {
		raw := json.RawMessage(data)
		if !json.Valid(data) {
			quoted, err := json.Marshal(string(data))
			if err != nil {
				return err
			}
			raw = quoted
		}
		wrapped, err := json.Marshal(Envelope{Channel: channel, Data: raw})
		if err != nil {
			return err
		}
		data, msgType = wrapped, websocket.TextMessage
	}
	d.writeMu.Lock()
	defer d.writeMu.Unlock()
	return conn.WriteMessage(msgType, data)
}

// Read implements connector.Driver. Messages are always pushed.
func (d *Driver) Read(context.Context) (connector.Record[[]byte], bool, error) {
	return connector.Record[[]byte]{}, false, nil
}

// DisconnectImpl implements connector.Driver.
func (d *Driver) DisconnectImpl() error {
	d.mu.Lock()
	conn, stop, done := d.conn, d.stop, d.done
	d.conn, d.stop, d.done = nil, nil, nil
	d.mu.Unlock()
	if conn == nil {
		return nil
	}
	close(stop)
	d.writeMu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	d.writeMu.Unlock()
	err := conn.Close()
	<-done
	return err
}

// Dispose implements connector.Driver.
func (d *Driver) Dispose() error {
	return d.DisconnectImpl()
}

// NewConnector creates a websocket connector. Unwrapped messages go to the
// first adapter's output channel.
func NewConnector[CO, CI any](
	adapters []types.ProtocolAdapter[[]byte, []byte, CO, CI], opts ...connector.Option,
) (*connector.Base[[]byte, []byte, CO, CI], error) {
	var o connector.Options
	for _, opt := range opts {
		opt(&o)
	}
	channel := ""
	if len(adapters) > 0 && adapters[0] != nil {
		channel = adapters[0].OutputChannel()
	}
	c, err := connector.NewBase(NewDriver(channel, o.Logger), adapters, opts...)
	if err != nil {
		return nil, err
	}
	if len(adapters) > 1 {
		c.SetAdapterSelector(connector.NewChannelSelector(adapters, nil))
	}
	return c, nil
}

// Matches selects ws and wss parameters.
func Matches(params connector.Parameter) bool {
	return params.Schema() == connector.SchemaWS || params.Schema() == connector.SchemaWSS
}

// Register adds a JSON websocket connector to f.
func Register(f *connector.Factory) error {
	return f.Register(Name, "channel", Matches, func(_ connector.Parameter, opts ...connector.Option) (connector.Connector, error) {
		adapter := types.NewTranslatingProtocolAdapter(types.JSONOutputTranslator[map[string]any](), types.JSONInputTranslator[map[string]any]())
		c, err := NewConnector([]types.ProtocolAdapter[[]byte, []byte, map[string]any, map[string]any]{adapter}, opts...)
		if err != nil {
			return nil, err
		}
		return c, nil
	})
}
