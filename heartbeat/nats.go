package heartbeat

import (
	"context"
	"sync"

	"github.com/nats-io/nats.go"

	"github.com/c360/semconnect/natsclient"
)

// NATSTransport attaches handlers to NATS subjects named like the streams.
type NATSTransport struct {
	client *natsclient.Client

	mu   sync.Mutex
	subs map[string]*natsclient.Subscription
}

var _ Transport = (*NATSTransport)(nil)

// NewNATSTransport creates a transport on a connected client.
func NewNATSTransport(client *natsclient.Client) *NATSTransport {
	return &NATSTransport{client: client, subs: make(map[string]*natsclient.Subscription)}
}

// Attach implements Transport. A handler already attached to stream is
// replaced.
func (t *NATSTransport) Attach(stream string, handler Handler) error {
	sub, err := t.client.Subscribe(context.Background(), stream, func(_ context.Context, msg *nats.Msg) {
		handler(msg.Data)
	})
	if err != nil {
		return err
	}
	t.mu.Lock()
	prev := t.subs[stream]
	t.subs[stream] = sub
	t.mu.Unlock()
	if prev != nil {
		return prev.Unsubscribe()
	}
	return nil
}

// Detach implements Transport.
func (t *NATSTransport) Detach(stream string) error {
	t.mu.Lock()
	sub := t.subs[stream]
	delete(t.subs, stream)
	t.mu.Unlock()
	if sub == nil {
		return nil
	}
	return sub.Unsubscribe()
}
