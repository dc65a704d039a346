package natsclient

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
)

// TestClient bundles an embedded NATS server with a connected Client.
type TestClient struct {
	Server *server.Server
	Client *Client
	URL    string

	storeDir string
}

type testConfig struct {
	jetstream bool
	timeout   time.Duration
}

// TestOption configures NewTestClient.
type TestOption func(*testConfig)

// WithJetStream enables JetStream on the embedded server.
func WithJetStream() TestOption {
	return func(cfg *testConfig) {
		cfg.jetstream = true
	}
}

// WithTestTimeout sets the connection timeout of the test client.
func WithTestTimeout(timeout time.Duration) TestOption {
	return func(cfg *testConfig) {
		cfg.timeout = timeout
	}
}

// NewSharedTestClient starts an embedded server on a random local port and
// connects a client. It does not need a testing.T, for use in TestMain.
func NewSharedTestClient(opts ...TestOption) (*TestClient, error) {
	cfg := &testConfig{timeout: 5 * time.Second}
	for _, opt := range opts {
		opt(cfg)
	}

	serverOpts := &server.Options{
		Host:      "127.0.0.1",
		Port:      -1,
		NoLog:     true,
		NoSigs:    true,
		JetStream: cfg.jetstream,
	}
	var storeDir string
	if cfg.jetstream {
		dir, err := os.MkdirTemp("", "semconnect-nats-*")
		if err != nil {
			return nil, fmt.Errorf("failed to create JetStream store dir: %w", err)
		}
		storeDir = dir
		serverOpts.StoreDir = dir
	}

	srv, err := server.NewServer(serverOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to create NATS server: %w", err)
	}
	go srv.Start()
	if !srv.ReadyForConnections(10 * time.Second) {
		srv.Shutdown()
		return nil, fmt.Errorf("embedded NATS server not ready for connections")
	}

	url := srv.ClientURL()
	client, err := NewClient(url, WithTimeout(cfg.timeout), WithMaxReconnects(0))
	if err != nil {
		srv.Shutdown()
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.timeout)
	defer cancel()
	if err := client.Connect(ctx); err != nil {
		srv.Shutdown()
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	return &TestClient{Server: srv, Client: client, URL: url, storeDir: storeDir}, nil
}

// NewTestClient is NewSharedTestClient for a single test. Everything is
// shut down on test cleanup.
func NewTestClient(t testing.TB, opts ...TestOption) *TestClient {
	t.Helper()
	tc, err := NewSharedTestClient(opts...)
	if err != nil {
		t.Fatalf("failed to start test NATS: %v", err)
	}
	t.Cleanup(tc.Terminate)
	return tc
}

// Terminate closes the client and shuts the server down.
func (tc *TestClient) Terminate() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	// best effort cleanup
	_ = tc.Client.Close(ctx)
	tc.Server.Shutdown()
	tc.Server.WaitForShutdown()
	if tc.storeDir != "" {
		_ = os.RemoveAll(tc.storeDir)
	}
}
