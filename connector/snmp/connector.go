package snmp

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gosnmp/gosnmp"

	"github.com/c360/semconnect/connector"
	"github.com/c360/semconnect/connector/model"
	"github.com/c360/semconnect/connector/types"
	"github.com/c360/semconnect/errors"
)

// Name is the connector name.
const Name = "snmp"

// Sample holds the monitored values read in one poll, keyed by OID.
type Sample struct {
	Values map[string]any `json:"values"`
	Time   time.Time      `json:"time"`
}

// Variable is a value to be written to an OID.
type Variable struct {
	OID   string `json:"oid"`
	Value any    `json:"value"`
}

// Driver talks to one SNMP agent.
type Driver struct {
	dial   Dialer
	logger *slog.Logger
	now    func() time.Time

	mu     sync.Mutex
	client Client
	access *Access
}

// NewDriver creates a driver. A nil dial uses DialGoSNMP.
func NewDriver(dial Dialer, logger *slog.Logger) *Driver {
	if dial == nil {
		dial = DialGoSNMP
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Driver{dial: dial, logger: logger.With("component", "snmp"), now: time.Now}
}

// Name implements connector.Driver.
func (d *Driver) Name() string { return Name }

// ConnectImpl implements connector.Driver.
func (d *Driver) ConnectImpl(_ context.Context, params connector.Parameter) error {
	client, err := d.dial(params)
	if err != nil {
		return err
	}
	if err := client.Connect(); err != nil {
		return errors.WrapTransient(err, "snmp.Driver", "ConnectImpl", "agent connect")
	}
	d.mu.Lock()
	d.client = client
	d.mu.Unlock()
	d.logger.Debug("SNMP session opened", "target", params.Host(), "port", params.Port(), "version", params.Version())
	return nil
}

// DisconnectImpl implements connector.Driver.
func (d *Driver) DisconnectImpl() error {
	d.mu.Lock()
	client := d.client
	d.client = nil
	d.mu.Unlock()
	if client == nil {
		return nil
	}
	return client.Close()
}

func (d *Driver) currentClient(method string) (Client, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.client == nil {
		return nil, errors.WrapInvalid(errors.ErrNotConnected, "snmp.Access", method, "session check")
	}
	return d.client, nil
}

// NewAccess is the model access supplier of the connector.
func (d *Driver) NewAccess(listener model.NotificationChangedListener) (model.ModelAccess, error) {
	a := newAccess(d, listener)
	d.mu.Lock()
	d.access = a
	d.mu.Unlock()
	return a, nil
}

// WriteImpl implements connector.Driver.
func (d *Driver) WriteImpl(_ context.Context, _ string, vars []Variable) error {
	if len(vars) == 0 {
		return nil
	}
	client, err := d.currentClient("WriteImpl")
	if err != nil {
		return err
	}
	pdus := make([]gosnmp.SnmpPDU, 0, len(vars))
	for _, v := range vars {
		pdu, err := ToPDU(v.OID, v.Value)
		if err != nil {
			return err
		}
		pdus = append(pdus, pdu)
	}
	return setPDUs(client, pdus)
}

// Read implements connector.Driver by sampling the monitored OIDs.
func (d *Driver) Read(context.Context) (connector.Record[Sample], bool, error) {
	d.mu.Lock()
	client, access := d.client, d.access
	d.mu.Unlock()
	if client == nil || access == nil {
		return connector.Record[Sample]{}, false, nil
	}
	oids := access.Monitored()
	if len(oids) == 0 {
		return connector.Record[Sample]{}, false, nil
	}

	packet, err := client.Get(oids)
	if err != nil {
		return connector.Record[Sample]{}, false, errors.WrapTransient(err, "snmp.Driver", "Read", "snmp get")
	}
	if err := checkPacket(packet, "Read"); err != nil {
		return connector.Record[Sample]{}, false, err
	}

	sample := Sample{Values: make(map[string]any, len(packet.Variables)), Time: d.now()}
	for _, pdu := range packet.Variables {
		v, err := FromPDU(pdu)
		if err != nil {
			d.logger.Debug("Skipping variable", "oid", pdu.Name, "error", err)
			continue
		}
		sample.Values[pdu.Name] = v
	}
	return connector.Record[Sample]{Data: sample}, true, nil
}

// ReleaseIdle implements connector.IdleReleaser. The access is disposed by
// the connector, so only the reference is dropped.
func (d *Driver) ReleaseIdle() {
	d.mu.Lock()
	d.access = nil
	d.mu.Unlock()
}

// Dispose implements connector.Driver.
func (d *Driver) Dispose() error {
	return d.DisconnectImpl()
}

// NewConnector creates an SNMP connector with the given adapter.
func NewConnector[CO, CI any](
	dial Dialer, adapter types.ProtocolAdapter[Sample, []Variable, CO, CI], opts ...connector.Option,
) (*connector.Base[Sample, []Variable, CO, CI], error) {
	var o connector.Options
	for _, opt := range opts {
		opt(&o)
	}
	d := NewDriver(dial, o.Logger)
	opts = append(opts, connector.WithModelAccess(d.NewAccess))
	return connector.NewBase(d, []types.ProtocolAdapter[Sample, []Variable, CO, CI]{adapter}, opts...)
}

// MonitorOutput returns an output translator that subscribes oids on
// initialization and passes samples through.
func MonitorOutput(oids ...string) *types.OutputFunc[Sample, Sample] {
	t := types.NewOutputFunc(func(_ model.ModelAccess, s Sample) (Sample, error) { return s, nil })
	t.Init = func(ma model.ModelAccess) error {
		return ma.Monitor(0, oids...)
	}
	return t
}

// VariablesInput writes variables unchanged.
func VariablesInput() types.InputTranslator[[]Variable, []Variable] {
	return types.IdentityInputTranslator[[]Variable]()
}

// Register adds version-dispatched SNMP entries to f: "snmp-v3" for version
// 3 and "snmp" for versions 1, 2c and unversioned parameters. Parameters
// naming another connector are not matched.
func Register[CO, CI any](f *connector.Factory, dial Dialer,
	newAdapter func(params connector.Parameter) types.ProtocolAdapter[Sample, []Variable, CO, CI],
) error {
	build := func(params connector.Parameter, opts ...connector.Option) (connector.Connector, error) {
		c, err := NewConnector(dial, newAdapter(params), opts...)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
	kind := connector.SpecificIs("connector", Name, "")
	if err := f.Register(Name+"-v3", Name, connector.All(kind, connector.VersionIs(Version3)), build); err != nil {
		return err
	}
	return f.Register(Name, Name, connector.All(kind, connector.VersionIs(Version1, Version2c, "")), build)
}
