package natsclient

import (
	"log/slog"
	"time"

	"github.com/c360/semconnect/pkg/tlsutil"
)

// ClientOption configures a Client.
type ClientOption func(*Client) error

// WithMaxReconnects sets the reconnect attempts, -1 retries forever.
func WithMaxReconnects(max int) ClientOption {
	return func(c *Client) error {
		c.maxReconnects = max
		return nil
	}
}

// WithReconnectWait sets the wait between reconnect attempts.
func WithReconnectWait(d time.Duration) ClientOption {
	return func(c *Client) error {
		if d > 0 {
			c.reconnectWait = d
		}
		return nil
	}
}

// WithPingInterval sets the server ping interval. Zero keeps the default.
func WithPingInterval(d time.Duration) ClientOption {
	return func(c *Client) error {
		if d > 0 {
			c.pingInterval = d
		}
		return nil
	}
}

// WithTimeout sets the connect and request timeout. Zero keeps the default.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) error {
		if d > 0 {
			c.timeout = d
		}
		return nil
	}
}

func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) error {
		if logger != nil {
			c.logger = logger.With("component", "natsclient")
		}
		return nil
	}
}

// WithHealthChangeCallback is called with false on disconnect and with true
// on reconnect.
func WithHealthChangeCallback(fn func(healthy bool)) ClientOption {
	return func(c *Client) error {
		c.onHealthChange = fn
		return nil
	}
}

// WithCircuitBreakerThreshold sets the failures that open the circuit.
func WithCircuitBreakerThreshold(threshold int32) ClientOption {
	return func(c *Client) error {
		if threshold < 1 {
			threshold = 5
		}
		c.circuitThreshold = threshold
		return nil
	}
}

func WithCredentials(username, password string) ClientOption {
	return func(c *Client) error {
		c.username, c.password = username, password
		return nil
	}
}

func WithToken(token string) ClientOption {
	return func(c *Client) error {
		c.token = token
		return nil
	}
}

// WithTLS secures the connection. Certificate files are read immediately, so
// NewClient fails on unreadable files.
func WithTLS(cfg tlsutil.ClientConfig) ClientOption {
	return func(c *Client) error {
		tlsConfig, err := tlsutil.LoadClientConfig(cfg)
		if err != nil {
			return err
		}
		c.tlsConfig = tlsConfig
		return nil
	}
}

// WithName sets the connection name shown by the server.
func WithName(name string) ClientOption {
	return func(c *Client) error {
		c.clientName = name
		return nil
	}
}
