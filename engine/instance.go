package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"golang.org/x/time/rate"

	"github.com/c360/semconnect/config"
	"github.com/c360/semconnect/connector"
	"github.com/c360/semconnect/errors"
	"github.com/c360/semconnect/heartbeat"
	"github.com/c360/semconnect/natsclient"
	"github.com/c360/semconnect/pkg/retry"
	"github.com/c360/semconnect/service"
)

// Instance is a deployed connector service.
type Instance interface {
	service.Service
	ID() string
	// OutSubject is the subject device data is published on.
	OutSubject() string
	// InSubject is the subject consumed for data sent to the device.
	InSubject() string
	// Send decodes payload and writes it to the device.
	Send(ctx context.Context, payload []byte) error

	deploy(ctx context.Context, cc config.ConnectorConfig) error
	start(ctx context.Context) error
	stop(ctx context.Context) error
	undeploy(ctx context.Context) error
}

// Binder wraps a connector created by the factory into an instance.
type Binder func(e *Engine, id string, cc config.ConnectorConfig, conn connector.Connector) (Instance, error)

// Bind returns a Binder for connectors with the platform types CO and CI.
func Bind[CO, CI any](codec Codec[CO, CI]) Binder {
	return func(e *Engine, id string, cc config.ConnectorConfig, conn connector.Connector) (Instance, error) {
		typed, ok := conn.(connector.TypedConnector[CO, CI])
		if !ok {
			var co CO
			var ci CI
			return nil, errors.WrapInvalid(fmt.Errorf("%w: connector %s does not produce %T and accept %T", errors.ErrTypeMismatch, conn.Name(), co, ci),
				"Engine", "Bind", "connector type check")
		}
		return newInstance(e, id, cc, typed, codec), nil
	}
}

type instance[CO, CI any] struct {
	*service.ConnectorWrapper[CO, CI]

	id      string
	engine  *Engine
	codec   Codec[CO, CI]
	params  connector.Parameter
	logger  *slog.Logger
	limiter *rate.Limiter

	mu         sync.Mutex
	sub        *natsclient.Subscription
	defaultOut string
	defaultIn  string
}

func newInstance[CO, CI any](e *Engine, id string, cc config.ConnectorConfig, conn connector.TypedConnector[CO, CI], codec Codec[CO, CI]) *instance[CO, CI] {
	params := cc.Parameter()
	i := &instance[CO, CI]{
		id:         id,
		engine:     e,
		codec:      codec,
		params:     params,
		logger:     e.logger.With("instance", id),
		limiter:    rate.NewLimiter(rate.Every(5*time.Second), 1),
		defaultOut: e.subject(id, "out"),
		defaultIn:  e.subject(id, "in"),
	}

	opts := []service.Option{service.WithLogger(e.logger)}
	if e.metricsRegistry != nil {
		opts = append(opts, service.WithMetrics(e.metricsRegistry))
	}
	i.ConnectorWrapper = service.NewConnectorWrapper(descriptor(id, cc), conn,
		func() connector.Parameter { return i.params }, opts...)
	i.SetReceptionCallback(i.received)
	i.OnReconfigured(i.reconfigured)
	return i
}

func descriptor(id string, cc config.ConnectorConfig) service.Descriptor {
	name := cc.Name
	if name == "" {
		name = id
	}
	kind := service.Kind(cc.Kind)
	if kind == "" {
		kind = service.KindSource
	}
	return service.Descriptor{
		ID:          id,
		Name:        name,
		Version:     cc.Version,
		Description: cc.Description,
		Kind:        kind,
		Deployable:  true,
		TopLevel:    true,
	}
}

func (i *instance[CO, CI]) OutSubject() string { return i.OutPath(i.defaultOut) }

func (i *instance[CO, CI]) InSubject() string { return i.InPath(i.defaultIn) }

// received publishes device data and a heartbeat record.
func (i *instance[CO, CI]) received(data CO) {
	payload, err := i.codec.Encode(data)
	if err != nil {
		i.warn("Cannot encode device data", err)
		return
	}
	i.engine.metrics.recordBridged(i.id, "out")
	if i.engine.onData != nil {
		i.engine.onData(i.id, payload)
	}

	client := i.engine.client
	if client == nil {
		return
	}
	ctx := i.engine.ctx
	if err := client.Publish(ctx, i.OutSubject(), payload); err != nil {
		i.warn("Cannot publish device data", err)
		return
	}
	record, _ := json.Marshal(heartbeat.MetricsRecord{ID: i.id})
	if err := client.Publish(ctx, heartbeat.StreamServiceMetrics, record); err != nil {
		i.warn("Cannot publish heartbeat record", err)
	}
}

// warn logs at most one message per limiter interval; device data may arrive
// at high rates.
func (i *instance[CO, CI]) warn(msg string, err error) {
	if i.limiter.Allow() {
		i.logger.Warn(msg, "error", err)
	}
}

// Send implements Instance.
func (i *instance[CO, CI]) Send(ctx context.Context, payload []byte) error {
	data, err := i.codec.Decode(payload)
	if err != nil {
		return errors.Wrap(err, "Instance", "Send", "decode payload for "+i.id)
	}
	if err := i.ConnectorWrapper.Send(ctx, data); err != nil {
		return err
	}
	i.engine.metrics.recordBridged(i.id, "in")
	return nil
}

func (i *instance[CO, CI]) handle(ctx context.Context, msg *nats.Msg) {
	err := i.Send(ctx, msg.Data)
	if err != nil {
		i.warn("Cannot forward bus data to device", err)
	}
	if msg.Reply == "" {
		return
	}
	reply := []byte("ok")
	if err != nil {
		reply = []byte("error: " + err.Error())
	}
	if rerr := msg.Respond(reply); rerr != nil {
		i.logger.Debug("Reply failed", "error", rerr)
	}
}

func (i *instance[CO, CI]) subscribe() error {
	client := i.engine.client
	if client == nil {
		return nil
	}
	subject := i.InSubject()
	sub, err := client.Subscribe(i.engine.ctx, subject, i.handle)
	if err != nil {
		return errors.Wrap(err, "Instance", "subscribe", "subscribe "+subject)
	}
	i.mu.Lock()
	old := i.sub
	i.sub = sub
	i.mu.Unlock()
	if old != nil {
		_ = old.Unsubscribe()
	}
	i.logger.Debug("Consuming device input", "subject", subject)
	return nil
}

func (i *instance[CO, CI]) unsubscribe() {
	i.mu.Lock()
	sub := i.sub
	i.sub = nil
	i.mu.Unlock()
	if sub != nil {
		if err := sub.Unsubscribe(); err != nil {
			i.logger.Debug("Unsubscribe failed", "error", err)
		}
	}
}

// reconfigured moves the input subscription when the in path changes.
func (i *instance[CO, CI]) reconfigured(name, value string) {
	if name != service.ParamInPath {
		return
	}
	i.mu.Lock()
	active := i.sub != nil
	i.mu.Unlock()
	if !active {
		return
	}
	if err := i.subscribe(); err != nil {
		i.logger.Error("Cannot move input subscription", "subject", value, "error", err)
	}
}

// deploy walks the service from UNKNOWN to CREATED and applies the
// configured and environment paths.
func (i *instance[CO, CI]) deploy(ctx context.Context, cc config.ConnectorConfig) error {
	for _, s := range []service.State{service.StateAvailable, service.StateDeploying, service.StateCreated} {
		if err := i.SetState(ctx, s); err != nil {
			return err
		}
	}
	var values service.Values
	if cc.InPath != "" {
		values = append(values, service.Value{Name: service.ParamInPath, Value: cc.InPath})
	}
	if cc.OutPath != "" {
		values = append(values, service.Value{Name: service.ParamOutPath, Value: cc.OutPath})
	}
	if err := i.Reconfigure(values); err != nil {
		return err
	}
	return i.ApplyEnvironment()
}

// start connects with retries. A FAILED service is stopped before the next
// attempt.
func (i *instance[CO, CI]) start(ctx context.Context) error {
	if err := i.subscribe(); err != nil {
		return err
	}
	err := retry.Do(ctx, i.engine.retry, func() error {
		if i.State() == service.StateFailed {
			if err := i.SetState(ctx, service.StateStopping); err != nil {
				return retry.NonRetryable(err)
			}
		}
		err := i.SetState(ctx, service.StateStarting)
		if errors.IsInvalid(err) && !errors.IsTransient(err) {
			return retry.NonRetryable(err)
		}
		return err
	})
	if err != nil {
		i.unsubscribe()
		return err
	}
	i.publishStatus(heartbeat.ActionAdded)
	return nil
}

func (i *instance[CO, CI]) stop(ctx context.Context) error {
	i.unsubscribe()
	switch i.State() {
	case service.StateRunning, service.StateFailed:
	default:
		return nil
	}
	if err := i.SetState(ctx, service.StateStopping); err != nil {
		return err
	}
	i.publishStatus(heartbeat.ActionRemoved)
	return nil
}

func (i *instance[CO, CI]) undeploy(ctx context.Context) error {
	if err := i.stop(ctx); err != nil {
		return err
	}
	return i.SetState(ctx, service.StateUndeploying)
}

func (i *instance[CO, CI]) publishStatus(action string) {
	client := i.engine.client
	if client == nil {
		return
	}
	msg, _ := json.Marshal(heartbeat.StatusMessage{
		Action:        action,
		ComponentType: i.Connector().Name(),
		DeviceID:      i.id,
		ID:            i.engine.platform,
	})
	if err := client.Publish(i.engine.ctx, heartbeat.StreamStatus, msg); err != nil {
		i.warn("Cannot publish status", err)
	}
}
