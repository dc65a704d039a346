package wsconn

import (
	"context"
	"encoding/pem"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/semconnect/connector"
	"github.com/c360/semconnect/connector/types"
)

type textAdapter = types.ProtocolAdapter[[]byte, []byte, string, string]

// peer is a websocket server that records what it receives and can push.
type peer struct {
	server   *httptest.Server
	upgrader websocket.Upgrader

	mu       sync.Mutex
	conn     *websocket.Conn
	header   http.Header
	received chan string
}

func newPeer(t *testing.T) *peer {
	p := &peer{received: make(chan string, 16)}
	p.server = httptest.NewServer(http.HandlerFunc(p.serve))
	t.Cleanup(p.server.Close)
	return p
}

func newTLSPeer(t *testing.T) *peer {
	p := &peer{received: make(chan string, 16)}
	p.server = httptest.NewTLSServer(http.HandlerFunc(p.serve))
	t.Cleanup(p.server.Close)
	return p
}

func (p *peer) serve(w http.ResponseWriter, r *http.Request) {
	conn, err := p.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	p.mu.Lock()
	p.conn, p.header = conn, r.Header.Clone()
	p.mu.Unlock()
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		p.received <- string(msg)
	}
}

func (p *peer) params(t *testing.T) *connector.ParameterBuilder {
	host, port, err := net.SplitHostPort(p.server.Listener.Addr().String())
	require.NoError(t, err)
	n, err := strconv.Atoi(port)
	require.NoError(t, err)
	return connector.NewParameterBuilder(host, n).
		Schema(connector.SchemaWS).
		EndpointPath("/stream").
		KeepAlive(50 * time.Millisecond)
}

func (p *peer) push(t *testing.T, msg string) {
	require.Eventually(t, func() bool {
		p.mu.Lock()
		defer p.mu.Unlock()
		return p.conn != nil
	}, time.Second, 5*time.Millisecond)
	p.mu.Lock()
	defer p.mu.Unlock()
	require.NoError(t, p.conn.WriteMessage(websocket.TextMessage, []byte(msg)))
}

func wait(t *testing.T, ch <-chan string) string {
	t.Helper()
	select {
	case s := <-ch:
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("timed out")
		return ""
	}
}

func textChannel(out, in string) textAdapter {
	return types.NewChannelTranslatingProtocolAdapter(out, types.StringOutputTranslator(), in, types.StringInputTranslator())
}

func TestURL(t *testing.T) {
	params := connector.NewParameterBuilder("gw", 8443).Schema(connector.SchemaWSS).EndpointPath("/api/ws").Build()
	assert.Equal(t, "wss://gw:8443/api/ws", URL(params))
}

func TestAuthHeaders(t *testing.T) {
	params := connector.NewParameterBuilder("gw", 80).
		Identity(connector.AnyEndpoint, connector.UsernameToken("ops", "pw")).
		Build()
	assert.Equal(t, "Basic b3BzOnB3", authHeaders(params).Get("Authorization"))

	params = connector.NewParameterBuilder("gw", 80).
		EndpointPath("/secure").
		Identity("/secure", connector.IssuedToken([]byte("jwt"), "HS256")).
		Build()
	assert.Equal(t, "Bearer jwt", authHeaders(params).Get("Authorization"))
}

func TestConnector_Plain(t *testing.T) {
	p := newPeer(t)
	c, err := NewConnector([]textAdapter{textChannel("", "")}, connector.WithRegistry(connector.NewRegistry()))
	require.NoError(t, err)
	defer c.Dispose()

	got := make(chan string, 4)
	c.SetReceptionCallback(func(s string) { got <- s })

	params := p.params(t).Identity(connector.AnyEndpoint, connector.IssuedToken([]byte("t0k"), "")).Build()
	require.NoError(t, c.Connect(context.Background(), params))

	p.push(t, "hello")
	assert.Equal(t, "hello", wait(t, got))
	p.mu.Lock()
	assert.Equal(t, "Bearer t0k", p.header.Get("Authorization"))
	p.mu.Unlock()

	require.NoError(t, c.Write(context.Background(), "reply"))
	assert.Equal(t, "reply", wait(t, p.received))

	// survives several keep-alive intervals
	time.Sleep(200 * time.Millisecond)
	assert.True(t, c.IsConnected())
	require.NoError(t, c.Disconnect())
}

func TestConnector_Envelope(t *testing.T) {
	p := newPeer(t)
	c, err := NewConnector([]textAdapter{
		textChannel("temperature", "setpoint"),
		textChannel("alarms", ""),
	}, connector.WithRegistry(connector.NewRegistry()))
	require.NoError(t, err)
	defer c.Dispose()

	var mu sync.Mutex
	var got []string
	c.SetReceptionCallback(func(s string) {
		mu.Lock()
		got = append(got, s)
		mu.Unlock()
	})
	require.NoError(t, c.Connect(context.Background(), p.params(t).Specific(KeyEnvelope, "true").Build()))

	p.push(t, `{"channel":"alarms","data":"hot"}`)
	p.push(t, `not json`)
	p.push(t, `{"channel":"temperature","data":21.5}`)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	}, 2*time.Second, 5*time.Millisecond)
	mu.Lock()
	assert.Equal(t, []string{`"hot"`, `21.5`}, got)
	mu.Unlock()

	require.NoError(t, c.Write(context.Background(), "22"))
	assert.JSONEq(t, `{"channel":"setpoint","data":22}`, wait(t, p.received))
	require.NoError(t, c.Write(context.Background(), "high"))
	assert.JSONEq(t, `{"channel":"setpoint","data":"high"}`, wait(t, p.received))
}

func TestConnector_DialFailure(t *testing.T) {
	c, err := NewConnector([]textAdapter{textChannel("", "")}, connector.WithRegistry(connector.NewRegistry()))
	require.NoError(t, err)
	defer c.Dispose()

	params := connector.NewParameterBuilder("127.0.0.1", 1).RequestTimeout(200 * time.Millisecond).Build()
	assert.Error(t, c.Connect(context.Background(), params))
	assert.False(t, c.IsConnected())
}

func TestConnector_TLS(t *testing.T) {
	p := newTLSPeer(t)
	caFile := filepath.Join(t.TempDir(), "ca.pem")
	require.NoError(t, os.WriteFile(caFile,
		pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: p.server.Certificate().Raw}), 0644))

	connect := func(b *connector.ParameterBuilder) error {
		c, err := NewConnector([]textAdapter{textChannel("", "")}, connector.WithRegistry(connector.NewRegistry()))
		require.NoError(t, err)
		defer c.Dispose()
		if err := c.Connect(context.Background(), b.Build()); err != nil {
			return err
		}
		return c.Disconnect()
	}

	t.Run("unknown authority", func(t *testing.T) {
		assert.Error(t, connect(p.params(t).Schema(connector.SchemaWSS)))
	})
	t.Run("trusted CA file", func(t *testing.T) {
		assert.NoError(t, connect(p.params(t).Schema(connector.SchemaWSS).Specific(connector.KeyCAFile, caFile)))
	})
	t.Run("verification disabled", func(t *testing.T) {
		assert.NoError(t, connect(p.params(t).Schema(connector.SchemaWSS).HostnameVerification(false)))
	})
	t.Run("unreadable CA file", func(t *testing.T) {
		err := connect(p.params(t).Schema(connector.SchemaWSS).Specific(connector.KeyCAFile, caFile+".missing"))
		assert.Error(t, err)
	})
}

func TestRegister(t *testing.T) {
	f := connector.NewFactory(connector.NewRegistry())
	require.NoError(t, Register(f))
	name, ok := f.Resolve(connector.NewParameterBuilder("gw", 80).Schema(connector.SchemaWSS).Build())
	require.True(t, ok)
	assert.Equal(t, Name, name)
	_, ok = f.Resolve(connector.NewParameterBuilder("gw", 80).Build())
	assert.False(t, ok)
}
