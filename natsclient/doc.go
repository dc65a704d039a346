// Package natsclient wraps the NATS Go client with a circuit breaker, slog
// logging and context-aware helpers.
//
// The client opens its circuit after a configurable number of consecutive
// failures (default 5) and backs off exponentially up to a maximum before a
// further Connect is attempted. Reconnects are handled by nats.go; status
// changes are reported through the health change callback.
//
//	client, err := natsclient.NewClient("nats://localhost:4222",
//	    natsclient.WithName("semconnect"),
//	    natsclient.WithLogger(logger))
//	if err != nil {
//	    return err
//	}
//	if err := client.Connect(ctx); err != nil {
//	    return err
//	}
//	defer client.Close(ctx)
//
//	sub, err := client.Subscribe(ctx, "devices.>", func(ctx context.Context, msg *nats.Msg) {
//	    // handle msg.Data
//	})
//
// JetStream streams are available through CreateStream, PublishToStream and
// ConsumeStream for durable delivery. GetStatus reports the connection
// status, failure count and round trip time. Tests start an embedded server
// with NewTestClient.
package natsclient
