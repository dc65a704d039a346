package natsclient

import (
	"context"
	"crypto/tls"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/semconnect/errors"
)

// ConnectionStatus represents the state of the NATS connection
type ConnectionStatus int

// Possible connection statuses
const (
	StatusDisconnected ConnectionStatus = iota
	StatusConnecting
	StatusConnected
	StatusReconnecting
	StatusCircuitOpen
)

// String returns the string representation of ConnectionStatus
func (s ConnectionStatus) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusReconnecting:
		return "reconnecting"
	case StatusCircuitOpen:
		return "circuit_open"
	default:
		return "unknown"
	}
}

// Error messages
var (
	ErrNotConnected = stderrors.New("not connected to NATS")
	ErrCircuitOpen  = stderrors.New("circuit breaker is open")
	ErrClosed       = stderrors.New("client is closed")
)

// Status holds runtime status information for the client
type Status struct {
	Status          ConnectionStatus
	FailureCount    int32
	LastFailureTime time.Time
	RTT             time.Duration
}

// Subscription is an active subject subscription.
type Subscription struct {
	sub    *nats.Subscription
	client *Client
}

// Unsubscribe removes the subscription. It is safe to call more than once.
func (s *Subscription) Unsubscribe() error {
	if s == nil || s.sub == nil {
		return nil
	}
	s.client.forget(s.sub)
	if !s.sub.IsValid() {
		return nil
	}
	return s.sub.Unsubscribe()
}

// Subject returns the subscribed subject.
func (s *Subscription) Subject() string {
	return s.sub.Subject
}

// Client manages NATS connections with circuit breaker pattern
type Client struct {
	url      string
	status   atomic.Value // stores ConnectionStatus
	failures atomic.Int32
	logger   *slog.Logger

	conn *nats.Conn
	js   jetstream.JetStream
	subs []*nats.Subscription

	consumers   map[string]jetstream.ConsumeContext
	consumersMu sync.Mutex

	// Circuit breaker
	lastFailure      atomic.Value // stores time.Time
	backoff          atomic.Value // stores time.Duration
	circuitFailures  atomic.Int32
	circuitThreshold int32
	maxBackoff       time.Duration

	maxReconnects int
	reconnectWait time.Duration
	pingInterval  time.Duration
	timeout       time.Duration
	drainTimeout  time.Duration

	// sensitive, cleared on close
	username string
	password string
	token    string

	tlsConfig *tls.Config

	clientName string

	onHealthChange func(bool)

	mu      sync.RWMutex
	closeMu sync.Mutex
	closed  atomic.Bool
}

// NewClient creates a new NATS client with optional configuration
func NewClient(url string, opts ...ClientOption) (*Client, error) {
	c := &Client{
		url:              url,
		logger:           slog.Default().With("component", "natsclient"),
		maxReconnects:    -1,
		reconnectWait:    2 * time.Second,
		pingInterval:     30 * time.Second,
		circuitThreshold: 5,
		maxBackoff:       time.Minute,
		timeout:          5 * time.Second,
		drainTimeout:     30 * time.Second,
	}

	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, errors.WrapInvalid(err, "Client", "NewClient", "apply option")
		}
	}

	c.status.Store(StatusDisconnected)
	c.backoff.Store(time.Second)
	c.lastFailure.Store(time.Time{})

	c.logger.Debug("Created NATS client", "url", url)
	return c, nil
}

// URL returns the NATS server URL
func (m *Client) URL() string {
	return m.url
}

// Status returns the current connection status
func (m *Client) Status() ConnectionStatus {
	val := m.status.Load()
	if val == nil {
		return StatusDisconnected
	}
	return val.(ConnectionStatus)
}

// Conn returns the current NATS connection
func (m *Client) Conn() *nats.Conn {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.conn
}

func (m *Client) setStatus(status ConnectionStatus) {
	m.status.Store(status)
}

// IsHealthy returns true if the connection is healthy
func (m *Client) IsHealthy() bool {
	return m.Status() == StatusConnected
}

// Failures returns the current failure count
func (m *Client) Failures() int32 {
	return m.failures.Load()
}

// Backoff returns the current backoff duration
func (m *Client) Backoff() time.Duration {
	return m.backoff.Load().(time.Duration)
}

// recordFailure records a connection failure and manages circuit breaker
func (m *Client) recordFailure() {
	total := m.failures.Add(1)
	m.lastFailure.Store(time.Now())
	circuitFailures := m.circuitFailures.Add(1)

	m.logger.Debug("Recorded failure", "failures", total, "circuit_failures", circuitFailures)

	if circuitFailures < m.circuitThreshold {
		return
	}

	currentBackoff := m.backoff.Load().(time.Duration)
	newBackoff := min(currentBackoff*2, m.maxBackoff)

	currentStatus := m.Status()
	if currentStatus == StatusCircuitOpen {
		m.backoff.Store(newBackoff)
		m.circuitFailures.Store(0)
		m.logger.Warn("Circuit breaker still open", "backoff", newBackoff)
		return
	}

	// only one goroutine opens the circuit
	if m.status.CompareAndSwap(currentStatus, StatusCircuitOpen) {
		m.backoff.Store(newBackoff)
		m.circuitFailures.Store(0)
		m.logger.Warn("Circuit breaker opened", "failures", circuitFailures, "backoff", currentBackoff)
		time.AfterFunc(currentBackoff, m.testCircuit)
	}
}

func (m *Client) resetCircuit() {
	m.failures.Store(0)
	m.circuitFailures.Store(0)
	m.backoff.Store(time.Second)
	m.lastFailure.Store(time.Time{})

	if m.Status() == StatusCircuitOpen {
		m.setStatus(StatusDisconnected)
	}
}

// testCircuit half-opens the circuit so that the next Connect is attempted.
func (m *Client) testCircuit() {
	if m.status.CompareAndSwap(StatusCircuitOpen, StatusDisconnected) {
		m.logger.Debug("Circuit breaker half-open")
	}
}

func (m *Client) buildConnectionOptions() []nats.Option {
	opts := []nats.Option{
		nats.MaxReconnects(m.maxReconnects),
		nats.ReconnectWait(m.reconnectWait),
		nats.PingInterval(m.pingInterval),
		nats.Timeout(m.timeout),
		nats.DrainTimeout(m.drainTimeout),
		nats.DisconnectErrHandler(m.handleDisconnect),
		nats.ReconnectHandler(m.handleReconnect),
		nats.ClosedHandler(m.handleClosed),
		nats.ErrorHandler(m.handleError),
	}

	if m.username != "" && m.password != "" {
		opts = append(opts, nats.UserInfo(m.username, m.password))
	}
	if m.token != "" {
		opts = append(opts, nats.Token(m.token))
	}
	if m.tlsConfig != nil {
		opts = append(opts, nats.Secure(m.tlsConfig))
	}
	if m.clientName != "" {
		opts = append(opts, nats.Name(m.clientName))
	}
	return opts
}

// GetStatus returns current status information
func (m *Client) GetStatus() *Status {
	status := &Status{
		Status:          m.Status(),
		FailureCount:    m.failures.Load(),
		LastFailureTime: m.lastFailure.Load().(time.Time),
	}
	if conn := m.Conn(); conn != nil && conn.IsConnected() {
		if rtt, err := conn.RTT(); err == nil {
			status.RTT = rtt
		}
	}
	return status
}

// Connect establishes connection to NATS server
func (m *Client) Connect(ctx context.Context) error {
	if m.closed.Load() {
		return errors.WrapFatal(ErrClosed, "Client", "Connect", "check client state")
	}
	if m.Status() == StatusCircuitOpen {
		return ErrCircuitOpen
	}

	m.setStatus(StatusConnecting)
	m.logger.Info("Connecting to NATS", "url", m.url)

	opts := m.buildConnectionOptions()
	type result struct {
		conn *nats.Conn
		err  error
	}
	connectDone := make(chan result, 1)
	go func() {
		conn, err := nats.Connect(m.url, opts...)
		connectDone <- result{conn: conn, err: err}
	}()

	select {
	case r := <-connectDone:
		if r.err != nil {
			m.recordFailure()
			if m.Status() == StatusCircuitOpen {
				return ErrCircuitOpen
			}
			m.setStatus(StatusDisconnected)
			return errors.WrapTransient(r.err, "Client", "Connect", "establish connection")
		}
		js, err := jetstream.New(r.conn)
		m.mu.Lock()
		m.conn = r.conn
		if err == nil {
			m.js = js
		}
		m.mu.Unlock()
	case <-ctx.Done():
		m.recordFailure()
		if m.Status() != StatusCircuitOpen {
			m.setStatus(StatusDisconnected)
		}
		// a late connection is closed by the goroutine's receiver below
		go func() {
			if r := <-connectDone; r.conn != nil {
				r.conn.Close()
			}
		}()
		return errors.WrapTransient(ctx.Err(), "Client", "Connect", "connection cancelled")
	}

	m.setStatus(StatusConnected)
	m.resetCircuit()
	m.logger.Info("Connected to NATS", "url", m.url)

	m.mu.RLock()
	onHealthChange := m.onHealthChange
	m.mu.RUnlock()
	if onHealthChange != nil {
		onHealthChange(true)
	}
	return nil
}

// Close drains and closes the NATS connection
func (m *Client) Close(ctx context.Context) error {
	m.closeMu.Lock()
	defer m.closeMu.Unlock()

	if m.closed.Swap(true) {
		return nil
	}

	m.consumersMu.Lock()
	for name, consumer := range m.consumers {
		consumer.Stop()
		m.logger.Debug("Stopped consumer", "consumer", name)
	}
	m.consumers = nil
	m.consumersMu.Unlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	for _, sub := range m.subs {
		if !sub.IsValid() {
			continue
		}
		if err := sub.Unsubscribe(); err != nil {
			errs = append(errs, errors.Wrap(err, "Client", "Close", "unsubscribe"))
		}
	}
	m.subs = nil

	if m.conn != nil {
		drainTimeout := m.drainTimeout
		if deadline, ok := ctx.Deadline(); ok {
			if remaining := time.Until(deadline); remaining > 0 && remaining < drainTimeout {
				drainTimeout = remaining
			}
		}

		conn := m.conn
		drainDone := make(chan error, 1)
		go func() {
			drainDone <- conn.Drain()
		}()

		select {
		case err := <-drainDone:
			if err != nil {
				errs = append(errs, errors.Wrap(err, "Client", "Close", "drain connection"))
			}
		case <-time.After(drainTimeout):
			errs = append(errs, errors.WrapTransient(
				fmt.Errorf("drain timeout after %v", drainTimeout), "Client", "Close", "drain"))
		case <-ctx.Done():
			errs = append(errs, errors.Wrap(ctx.Err(), "Client", "Close", "drain"))
		}

		conn.Close()
		m.conn = nil
		m.js = nil
	}

	m.username = ""
	m.password = ""
	m.token = ""
	m.setStatus(StatusDisconnected)

	if len(errs) > 0 {
		m.logger.Error("NATS close completed with errors", "errors", len(errs))
		return stderrors.Join(errs...)
	}
	return nil
}

// Subscribe subscribes to a subject. Each handler invocation receives a
// context derived from ctx with a 30-second timeout.
func (m *Client) Subscribe(ctx context.Context, subject string, handler func(context.Context, *nats.Msg)) (*Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.conn == nil || !m.conn.IsConnected() {
		return nil, ErrNotConnected
	}

	sub, err := m.conn.Subscribe(subject, func(msg *nats.Msg) {
		msgCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		handler(msgCtx, msg)
	})
	if err != nil {
		return nil, errors.WrapTransient(err, "Client", "Subscribe", "subscribe "+subject)
	}

	m.subs = append(m.subs, sub)
	return &Subscription{sub: sub, client: m}, nil
}

func (m *Client) forget(sub *nats.Subscription) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, s := range m.subs {
		if s == sub {
			m.subs = append(m.subs[:i], m.subs[i+1:]...)
			return
		}
	}
}

// Publish publishes a message to a subject
func (m *Client) Publish(_ context.Context, subject string, data []byte) error {
	conn := m.Conn()
	if conn == nil || !conn.IsConnected() {
		return ErrNotConnected
	}
	if err := conn.Publish(subject, data); err != nil {
		return errors.WrapTransient(err, "Client", "Publish", "publish "+subject)
	}
	return nil
}

func (m *Client) jetStreamReady(method string) (jetstream.JetStream, error) {
	if m.Status() == StatusCircuitOpen {
		return nil, ErrCircuitOpen
	}
	if m.Status() != StatusConnected {
		return nil, ErrNotConnected
	}
	m.mu.RLock()
	js := m.js
	m.mu.RUnlock()
	if js == nil {
		m.recordFailure()
		return nil, errors.WrapTransient(ErrNotConnected, "Client", method, "get JetStream context")
	}
	return js, nil
}

// CreateStream creates or updates a JetStream stream
func (m *Client) CreateStream(ctx context.Context, cfg jetstream.StreamConfig) (jetstream.Stream, error) {
	js, err := m.jetStreamReady("CreateStream")
	if err != nil {
		return nil, err
	}
	stream, err := js.CreateOrUpdateStream(ctx, cfg)
	if err != nil {
		m.recordFailure()
		return nil, errors.WrapTransient(err, "Client", "CreateStream", "create stream "+cfg.Name)
	}
	m.resetCircuit()
	return stream, nil
}

// PublishToStream publishes to a JetStream stream and waits for the ack
func (m *Client) PublishToStream(ctx context.Context, subject string, data []byte) error {
	js, err := m.jetStreamReady("PublishToStream")
	if err != nil {
		return err
	}
	if _, err := js.Publish(ctx, subject, data); err != nil {
		m.recordFailure()
		return errors.WrapTransient(err, "Client", "PublishToStream", "publish "+subject)
	}
	m.resetCircuit()
	return nil
}

// ConsumeStream starts a durable consumer on stream filtered by subject.
// Messages are acknowledged after handler returns. The returned function
// stops the consumer.
func (m *Client) ConsumeStream(ctx context.Context, stream, durable, subject string, handler func([]byte)) (func(), error) {
	js, err := m.jetStreamReady("ConsumeStream")
	if err != nil {
		return nil, err
	}
	if m.closed.Load() {
		return nil, errors.WrapInvalid(ErrClosed, "Client", "ConsumeStream", "check client state")
	}

	consumer, err := js.CreateOrUpdateConsumer(ctx, stream, jetstream.ConsumerConfig{
		Durable:       durable,
		FilterSubject: subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
	})
	if err != nil {
		m.recordFailure()
		return nil, errors.WrapTransient(err, "Client", "ConsumeStream", "create consumer")
	}

	consumeCtx, err := consumer.Consume(func(msg jetstream.Msg) {
		handler(msg.Data())
		if err := msg.Ack(); err != nil {
			m.logger.Warn("Failed to ack message", "subject", msg.Subject(), "error", err)
		}
	})
	if err != nil {
		m.recordFailure()
		return nil, errors.WrapTransient(err, "Client", "ConsumeStream", "start consumer")
	}

	key := stream + ":" + durable + ":" + subject
	m.consumersMu.Lock()
	defer m.consumersMu.Unlock()
	if m.closed.Load() {
		consumeCtx.Stop()
		return nil, errors.WrapInvalid(ErrClosed, "Client", "ConsumeStream", "register consumer")
	}
	if m.consumers == nil {
		m.consumers = make(map[string]jetstream.ConsumeContext)
	}
	if existing, ok := m.consumers[key]; ok {
		existing.Stop()
	}
	m.consumers[key] = consumeCtx
	m.resetCircuit()

	stop := func() {
		m.consumersMu.Lock()
		if m.consumers[key] == consumeCtx {
			delete(m.consumers, key)
		}
		m.consumersMu.Unlock()
		consumeCtx.Stop()
	}
	return stop, nil
}

func (m *Client) handleDisconnect(_ *nats.Conn, err error) {
	if m.closed.Load() {
		return
	}
	m.setStatus(StatusReconnecting)
	m.logger.Warn("NATS disconnected", "error", err)

	m.mu.RLock()
	onHealthChange := m.onHealthChange
	m.mu.RUnlock()
	if onHealthChange != nil {
		go onHealthChange(false)
	}
}

func (m *Client) handleReconnect(_ *nats.Conn) {
	m.setStatus(StatusConnected)
	m.resetCircuit()
	m.logger.Info("NATS reconnected", "url", m.url)

	m.mu.RLock()
	onHealthChange := m.onHealthChange
	m.mu.RUnlock()
	if onHealthChange != nil {
		go onHealthChange(true)
	}
}

func (m *Client) handleClosed(_ *nats.Conn) {
	m.setStatus(StatusDisconnected)
	m.mu.RLock()
	onHealthChange := m.onHealthChange
	m.mu.RUnlock()
	if onHealthChange != nil && !m.closed.Load() {
		go onHealthChange(false)
	}
}

func (m *Client) handleError(_ *nats.Conn, _ *nats.Subscription, err error) {
	m.logger.Error("NATS error", "error", err)
}
