// Package natsconn implements a channel-based connector on NATS subjects.
// Adapter output channels are the subscribed subjects, input channels the
// subjects written to.
//
// By default received messages are pushed to the connector as they arrive.
// With the BUFFER setting they are queued in a circular buffer instead and
// drained by the connector's poll task. With the STREAM setting subjects are
// consumed from that JetStream stream through a durable consumer. The stream
// is created on connect when STREAM_SUBJECTS lists its subjects.
package natsconn

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/semconnect/connector"
	"github.com/c360/semconnect/connector/types"
	"github.com/c360/semconnect/errors"
	"github.com/c360/semconnect/metric"
	"github.com/c360/semconnect/natsclient"
	"github.com/c360/semconnect/pkg/buffer"
)

// Name is the connector name.
const Name = "nats"

// Specific parameter keys.
const (
	KeyBuffer   = "BUFFER"
	KeyOverflow = "OVERFLOW"
	KeyStream   = "STREAM"
	KeyDurable  = "DURABLE"
	// comma separated subjects of the stream created on connect
	KeyStreamSubjects = "STREAM_SUBJECTS"
	KeyURL            = "url"      // server URLs, overriding host and port
	KeySubjects       = "subjects" // comma separated subjects to consume
	KeyPublish        = "publish"  // subject written to, the first consumed subject if unset
)

// Driver connects to a NATS server.
type Driver struct {
	subjects []string
	logger   *slog.Logger
	metrics  *metric.MetricsRegistry

	mu       sync.Mutex
	client   *natsclient.Client
	subs     []*natsclient.Subscription
	stops    []func()
	queue    buffer.Buffer[connector.Record[[]byte]]
	receiver connector.Receiver[[]byte]
	js       bool
}

// NewDriver creates a driver that consumes subjects.
func NewDriver(subjects []string, logger *slog.Logger, registry *metric.MetricsRegistry) *Driver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Driver{
		subjects: slices.Compact(slices.Sorted(slices.Values(subjects))),
		logger:   logger.With("component", "natsconn"),
		metrics:  registry,
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

// URL builds the server URL from params.
func URL(params connector.Parameter) string {
	if url, ok := params.Specific(KeyURL); ok && url != "" {
		return url
	}
	scheme := "nats"
	switch params.Schema() {
	case connector.SchemaSSL, connector.SchemaHTTPS, connector.SchemaWSS:
		scheme = "tls"
	case connector.SchemaWS:
		scheme = "ws"
	}
	port := params.Port()
	if port == 0 {
		port = nats.DefaultPort
	}
	return fmt.Sprintf("%s://%s:%d", scheme, params.Host(), port)
}

func clientOptions(params connector.Parameter, logger *slog.Logger) []natsclient.ClientOption {
	opts := []natsclient.ClientOption{
		natsclient.WithLogger(logger),
		natsclient.WithTimeout(params.RequestTimeout()),
		natsclient.WithPingInterval(params.KeepAlive()),
		natsclient.WithName(params.UniqueApplicationID()),
	}
	if tok, ok := params.IdentityToken(connector.AnyEndpoint); ok {
		switch tok.Type {
		case connector.TokenUsername:
			opts = append(opts, natsclient.WithCredentials(tok.Username, tok.Password))
		case connector.TokenIssued:
			opts = append(opts, natsclient.WithToken(string(tok.Token)))
		}
	}
	if tlsCfg := params.TLSConfig(); params.Secure() || tlsCfg.HasFiles() {
		opts = append(opts, natsclient.WithTLS(tlsCfg))
	}
	return opts
}

// ConnectImpl implements connector.Driver.
func (d *Driver) ConnectImpl(ctx context.Context, params connector.Parameter) error {
	client, err := natsclient.NewClient(URL(params), clientOptions(params, d.logger)...)
	if err != nil {
		return err
	}
	if err := client.Connect(ctx); err != nil {
		return err
	}

	var queue buffer.Buffer[connector.Record[[]byte]]
	if capacity, ok := params.SpecificInt(KeyBuffer); ok && capacity > 0 {
		policy, _ := params.Specific(KeyOverflow)
		opts := []buffer.Option[connector.Record[[]byte]]{
			buffer.WithOverflowPolicy[connector.Record[[]byte]](buffer.ParseOverflowPolicy(policy)),
		}
		if d.metrics != nil {
			opts = append(opts, buffer.WithMetrics[connector.Record[[]byte]](d.metrics,
				fmt.Sprintf("natsconn_%s_%d", params.Host(), params.Port())))
		}
		queue, err = buffer.NewCircularBuffer(capacity, opts...)
		if err != nil {
			_ = client.Close(ctx)
			return err
		}
	}

	d.mu.Lock()
	d.client = client
	d.queue = queue
	d.mu.Unlock()

	stream, useStream := params.Specific(KeyStream)
	durable, ok := params.Specific(KeyDurable)
	if !ok {
		durable = Name
	}
	if useStream {
		if err = ensureStream(ctx, client, stream, params); err != nil {
			_ = d.DisconnectImpl()
			return err
		}
	}
	for _, subject := range d.subjects {
		if subject == "" {
			continue
		}
		if useStream {
			err = d.consume(ctx, client, stream, durable, subject)
		} else {
			err = d.subscribe(client, subject)
		}
		if err != nil {
			_ = d.DisconnectImpl()
			return err
		}
	}
	d.logger.Info("NATS connector attached", "url", client.URL(), "subjects", d.subjects, "stream", stream)
	return nil
}

// ensureStream creates or updates stream when its subjects are configured.
func ensureStream(ctx context.Context, client *natsclient.Client, stream string, params connector.Parameter) error {
	v, _ := params.Specific(KeyStreamSubjects)
	subjects := splitList(v)
	if len(subjects) == 0 {
		return nil
	}
	_, err := client.CreateStream(ctx, jetstream.StreamConfig{Name: stream, Subjects: subjects})
	return err
}

func (d *Driver) subscribe(client *natsclient.Client, subject string) error {
	sub, err := client.Subscribe(context.Background(), subject, func(_ context.Context, msg *nats.Msg) {
		d.received(msg.Subject, msg.Data)
	})
	if err != nil {
		return err
	}
	d.mu.Lock()
	d.subs = append(d.subs, sub)
	d.mu.Unlock()
	return nil
}

func (d *Driver) consume(ctx context.Context, client *natsclient.Client, stream, durable, subject string) error {
	stop, err := client.ConsumeStream(ctx, stream, durable, subject, func(data []byte) {
		d.received(subject, data)
	})
	if err != nil {
		return err
	}
	d.mu.Lock()
	d.stops = append(d.stops, stop)
	d.js = true
	d.mu.Unlock()
	return nil
}

// received routes a message by the subscribed subject, so wildcard
// subscriptions select the adapter of their pattern.
func (d *Driver) received(subject string, data []byte) {
	channel := subject
	if !slices.Contains(d.subjects, subject) {
		for _, pattern := range d.subjects {
			if matches(pattern, subject) {
				channel = pattern
				break
			}
		}
	}
	rec := connector.Record[[]byte]{Channel: channel, Data: data}

	d.mu.Lock()
	queue, receiver := d.queue, d.receiver
	d.mu.Unlock()

	if queue != nil {
		if err := queue.Write(rec); err != nil {
			d.logger.Debug("Dropping message after close", "subject", subject)
		}
		return
	}
	if receiver != nil {
		// errors are reported by the connector's error hook
		_ = receiver.Trigger(rec.Channel, rec.Data)
	}
}

// WriteImpl implements connector.Driver.
func (d *Driver) WriteImpl(ctx context.Context, channel string, data []byte) error {
	d.mu.Lock()
	client, js := d.client, d.js
	d.mu.Unlock()
	if client == nil {
		return errors.ErrNotConnected
	}
	if channel == "" {
		return errors.WrapInvalid(errors.ErrInvalidData, "natsconn.Driver", "WriteImpl", "subject check")
	}
	if js {
		return client.PublishToStream(ctx, channel, data)
	}
	return client.Publish(ctx, channel, data)
}

// Read implements connector.Driver. Without a buffer, messages are pushed
// and Read never returns data.
func (d *Driver) Read(context.Context) (connector.Record[[]byte], bool, error) {
	d.mu.Lock()
	queue := d.queue
	d.mu.Unlock()
	if queue == nil {
		return connector.Record[[]byte]{}, false, nil
	}
	rec, ok := queue.Read()
	return rec, ok, nil
}

// Buffered returns the number of queued messages.
func (d *Driver) Buffered() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.queue == nil {
		return 0
	}
	return d.queue.Size()
}

// DisconnectImpl implements connector.Driver.
func (d *Driver) DisconnectImpl() error {
	d.mu.Lock()
	client, subs, stops, queue := d.client, d.subs, d.stops, d.queue
	d.client, d.subs, d.stops, d.queue, d.js = nil, nil, nil, nil, false
	d.mu.Unlock()

	for _, stop := range stops {
		stop()
	}
	for _, sub := range subs {
		if err := sub.Unsubscribe(); err != nil {
			d.logger.Warn("Unsubscribe failed", "subject", sub.Subject(), "error", err)
		}
	}
	if queue != nil {
		_ = queue.Close()
	}
	if client == nil {
		return nil
	}
	return client.Close(context.Background())
}

// Dispose implements connector.Driver.
func (d *Driver) Dispose() error {
	return d.DisconnectImpl()
}

// matches reports whether subject matches a NATS subject pattern with "*"
// and ">" wildcards.
func matches(pattern, subject string) bool {
	p := splitSubject(pattern)
	s := splitSubject(subject)
	for i, tok := range p {
		if tok == ">" {
			return len(s) > i
		}
		if i >= len(s) || (tok != "*" && tok != s[i]) {
			return false
		}
	}
	return len(p) == len(s)
}

func splitSubject(s string) []string {
	var tokens []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '.' {
			tokens = append(tokens, s[start:i])
			start = i + 1
		}
	}
	return append(tokens, s[start:])
}

// NewConnector creates a NATS connector. Subscribed subjects are the
// adapters' output channels.
func NewConnector[CO, CI any](
	adapters []types.ProtocolAdapter[[]byte, []byte, CO, CI], opts ...connector.Option,
) (*connector.Base[[]byte, []byte, CO, CI], error) {
	var o connector.Options
	for _, opt := range opts {
		opt(&o)
	}
	subjects := make([]string, 0, len(adapters))
	for _, a := range adapters {
		if a != nil {
			subjects = append(subjects, a.OutputChannel())
		}
	}
	c, err := connector.NewBase(NewDriver(subjects, o.Logger, o.Metrics), adapters, opts...)
	if err != nil {
		return nil, err
	}
	if len(adapters) > 1 {
		c.SetAdapterSelector(connector.NewChannelSelector(adapters, nil))
	}
	return c, nil
}

// Accepts selects parameters with a "connector" setting of "nats".
func Accepts(params connector.Parameter) bool {
	v, _ := params.Specific("connector")
	return v == Name
}

// Subjects returns the consumed subjects of params.
func Subjects(params connector.Parameter) []string {
	v, _ := params.Specific(KeySubjects)
	return splitList(v)
}

func splitList(v string) []string {
	var subjects []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			subjects = append(subjects, s)
		}
	}
	return subjects
}

// Register adds a raw payload connector to f. One adapter is created per
// consumed subject; all of them write to the publish subject.
func Register(f *connector.Factory) error {
	return f.Register(Name, "channel", Accepts, func(params connector.Parameter, opts ...connector.Option) (connector.Connector, error) {
		subjects := Subjects(params)
		if len(subjects) == 0 {
			return nil, errors.WrapInvalid(fmt.Errorf("%w: %s", errors.ErrMissingConfig, KeySubjects),
				"natsconn", "Register", "subject check")
		}
		publish, ok := params.Specific(KeyPublish)
		if !ok {
			publish = subjects[0]
		}
		adapters := make([]types.ProtocolAdapter[[]byte, []byte, []byte, []byte], 0, len(subjects))
		for _, subject := range subjects {
			adapters = append(adapters, types.NewChannelTranslatingProtocolAdapter(
				subject, types.IdentityOutputTranslator[[]byte](), publish, types.IdentityInputTranslator[[]byte]()))
		}
		c, err := NewConnector(adapters, opts...)
		if err != nil {
			return nil, err
		}
		return c, nil
	})
}
