package snmp

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/gosnmp/gosnmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/semconnect/connector"
	"github.com/c360/semconnect/connector/model"
	"github.com/c360/semconnect/connector/types"
	"github.com/c360/semconnect/errors"
)

const (
	oidSysName   = ".1.3.6.1.2.1.1.5.0"
	oidSysUpTime = ".1.3.6.1.2.1.1.3.0"
)

type fakeAgent struct {
	mu        sync.Mutex
	values    map[string]gosnmp.SnmpPDU
	connected bool
	closed    bool
}

func newFakeAgent() *fakeAgent {
	return &fakeAgent{values: map[string]gosnmp.SnmpPDU{
		oidSysName:   {Name: oidSysName, Type: gosnmp.OctetString, Value: []byte("plc-01")},
		oidSysUpTime: {Name: oidSysUpTime, Type: gosnmp.TimeTicks, Value: uint32(4200)},
	}}
}

func (a *fakeAgent) Connect() error {
	a.mu.Lock()
	a.connected = true
	a.mu.Unlock()
	return nil
}

func (a *fakeAgent) Close() error {
	a.mu.Lock()
	a.closed = true
	a.mu.Unlock()
	return nil
}

func (a *fakeAgent) Get(oids []string) (*gosnmp.SnmpPacket, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	packet := &gosnmp.SnmpPacket{Error: gosnmp.NoError}
	for _, oid := range oids {
		pdu, ok := a.values[oid]
		if !ok {
			pdu = gosnmp.SnmpPDU{Name: oid, Type: gosnmp.NoSuchObject}
		}
		packet.Variables = append(packet.Variables, pdu)
	}
	return packet, nil
}

func (a *fakeAgent) Set(pdus []gosnmp.SnmpPDU) (*gosnmp.SnmpPacket, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, pdu := range pdus {
		if pdu.Type == gosnmp.OctetString {
			if s, ok := pdu.Value.(string); ok {
				pdu.Value = []byte(s)
			}
		}
		a.values[pdu.Name] = pdu
	}
	return &gosnmp.SnmpPacket{Error: gosnmp.NoError, Variables: pdus}, nil
}

func (a *fakeAgent) WalkAll(root string) ([]gosnmp.SnmpPDU, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var result []gosnmp.SnmpPDU
	for oid, pdu := range a.values {
		if len(oid) > len(root) && oid[:len(root)] == root {
			result = append(result, pdu)
		}
	}
	return result, nil
}

func dialer(agent *fakeAgent) Dialer {
	return func(connector.Parameter) (Client, error) { return agent, nil }
}

func TestPDUConversion(t *testing.T) {
	v, err := FromPDU(gosnmp.SnmpPDU{Name: "x", Type: gosnmp.OctetString, Value: []byte("abc")})
	require.NoError(t, err)
	assert.Equal(t, "abc", v)

	v, err = FromPDU(gosnmp.SnmpPDU{Name: "x", Type: gosnmp.Counter32, Value: uint(7)})
	require.NoError(t, err)
	assert.Equal(t, int64(7), v)

	_, err = FromPDU(gosnmp.SnmpPDU{Name: "x", Type: gosnmp.NoSuchInstance})
	assert.ErrorIs(t, err, errors.ErrNotFound)

	_, err = FromPDU(gosnmp.SnmpPDU{Name: "x", Type: gosnmp.OctetString, Value: 5})
	assert.ErrorIs(t, err, errors.ErrTypeMismatch)

	pdu, err := ToPDU("x", true)
	require.NoError(t, err)
	assert.Equal(t, gosnmp.Integer, pdu.Type)
	assert.Equal(t, 1, pdu.Value)

	pdu, err = ToPDU("x", int64(12))
	require.NoError(t, err)
	assert.Equal(t, 12, pdu.Value)

	pdu, err = ToPDU("x", 3.0)
	require.NoError(t, err)
	assert.Equal(t, gosnmp.Integer, pdu.Type)
	assert.Equal(t, 3, pdu.Value)

	_, err = ToPDU("x", 1.5)
	assert.ErrorIs(t, err, errors.ErrTypeMismatch)
}

func TestConfigureVersion(t *testing.T) {
	client := &gosnmp.GoSNMP{}
	params := connector.NewParameterBuilder("10.0.0.1", 161).Version(Version1).Specific(KeyCommunity, "private").Build()
	require.NoError(t, configureVersion(client, params))
	assert.Equal(t, gosnmp.Version1, client.Version)
	assert.Equal(t, "private", client.Community)

	client = &gosnmp.GoSNMP{}
	params = connector.NewParameterBuilder("10.0.0.1", 161).
		Version(Version3).
		Identity(connector.AnyEndpoint, connector.UsernameToken("ops", "secret12")).
		Specific(KeyAuthProtocol, "sha256").
		Specific(KeyPrivacyProtocol, "aes").
		Specific(KeyPrivacyPassword, "privpass").
		Build()
	require.NoError(t, configureVersion(client, params))
	assert.Equal(t, gosnmp.Version3, client.Version)
	assert.Equal(t, gosnmp.AuthPriv, client.MsgFlags)
	usm, ok := client.SecurityParameters.(*gosnmp.UsmSecurityParameters)
	require.True(t, ok)
	assert.Equal(t, "ops", usm.UserName)
	assert.Equal(t, gosnmp.SHA256, usm.AuthenticationProtocol)
	assert.Equal(t, gosnmp.AES, usm.PrivacyProtocol)

	err := configureVersion(&gosnmp.GoSNMP{}, connector.NewParameterBuilder("h", 1).Version("4").Build())
	assert.ErrorIs(t, err, errors.ErrInvalidConfig)
}

func TestDialGoSNMP(t *testing.T) {
	params := connector.NewParameterBuilder("127.0.0.1", 0).RequestTimeout(time.Second).Specific(KeyRetries, "3").Build()
	c, err := DialGoSNMP(params)
	require.NoError(t, err)
	g := c.(goSNMPClient)
	assert.Equal(t, uint16(161), g.Port)
	assert.Equal(t, 3, g.Retries)
	assert.Equal(t, gosnmp.Version2c, g.Version)
	require.NoError(t, c.Close(), "closing an unconnected client is a no-op")
}

func TestConnector_ModelAccessAndPolling(t *testing.T) {
	agent := newFakeAgent()
	adapter := types.NewTranslatingProtocolAdapter(
		types.OutputTranslator[Sample, Sample](MonitorOutput(oidSysName, oidSysUpTime)), VariablesInput())
	c, err := NewConnector[Sample, []Variable](dialer(agent), adapter, connector.WithRegistry(connector.NewRegistry()))
	require.NoError(t, err)

	samples := make(chan Sample, 16)
	c.SetReceptionCallback(func(s Sample) {
		select {
		case samples <- s:
		default:
		}
	})

	ctx := context.Background()
	params := connector.NewParameterBuilder("10.0.0.1", 161).NotificationInterval(10 * time.Millisecond).Build()
	require.NoError(t, c.Connect(ctx, params))
	require.NoError(t, c.EnableNotifications(false))
	assert.True(t, c.IsPolling())

	select {
	case s := <-samples:
		assert.Equal(t, "plc-01", s.Values[oidSysName])
		assert.Equal(t, int64(4200), s.Values[oidSysUpTime])
	case <-time.After(time.Second):
		t.Fatal("no sample polled")
	}

	ma, err := c.ModelAccess()
	require.NoError(t, err)
	require.NoError(t, ma.Set(oidSysName, "plc-02"))
	v, err := ma.Get("1.3.6.1.2.1.1.5.0")
	require.NoError(t, err)
	assert.Equal(t, "plc-02", v)

	_, err = ma.Get(".1.3.6.1.9.9")
	assert.ErrorIs(t, err, errors.ErrNotFound)
	assert.ErrorIs(t, ma.SetStruct("x", struct{}{}), errors.ErrNotSupported)
	_, err = ma.Call("x")
	assert.ErrorIs(t, err, errors.ErrNotSupported)

	system, err := ma.StepInto("1.3.6.1.2.1.1")
	require.NoError(t, err)
	v, err = system.Get("5.0")
	require.NoError(t, err)
	assert.Equal(t, "plc-02", v)

	walked, err := ma.(*Access).Walk("1.3.6.1.2.1.1")
	require.NoError(t, err)
	assert.Len(t, walked, 2)

	require.NoError(t, c.Write(ctx, []Variable{{OID: oidSysName, Value: "plc-03"}}))
	v, err = ma.Get(oidSysName)
	require.NoError(t, err)
	assert.Equal(t, "plc-03", v)

	require.NoError(t, c.Dispose())
	assert.True(t, agent.closed)
	_, err = ma.Get(oidSysName)
	assert.ErrorIs(t, err, errors.ErrDisposed)
}

func TestRegister_VersionDispatch(t *testing.T) {
	agent := newFakeAgent()
	f := connector.NewFactory(nil)
	newAdapter := func(connector.Parameter) types.ProtocolAdapter[Sample, []Variable, Sample, []Variable] {
		return types.NewTranslatingProtocolAdapter(
			types.OutputTranslator[Sample, Sample](MonitorOutput(oidSysName)), VariablesInput())
	}
	require.NoError(t, Register(f, dialer(agent), newAdapter))

	for version, want := range map[string]string{Version3: "snmp-v3", Version2c: "snmp", "": "snmp", Version1: "snmp"} {
		name, ok := f.Resolve(connector.NewParameterBuilder("h", 161).Version(version).Build())
		require.True(t, ok, fmt.Sprintf("version %q", version))
		assert.Equal(t, want, name)
	}

	_, ok := f.Resolve(connector.NewParameterBuilder("h", 161).Specific("connector", "opcua").Build())
	assert.False(t, ok)
	name, ok := f.Resolve(connector.NewParameterBuilder("h", 161).Specific("connector", Name).Build())
	require.True(t, ok)
	assert.Equal(t, "snmp", name)

	c, err := f.Create(connector.NewParameterBuilder("h", 161).Version(Version3).Build(),
		connector.WithRegistry(connector.NewRegistry()))
	require.NoError(t, err)
	assert.Equal(t, Name, c.Name())
}

var _ model.ModelAccess = (*Access)(nil)
