package machine

import (
	"context"
	"log/slog"
	"sync"

	"github.com/c360/semconnect/connector"
	"github.com/c360/semconnect/connector/model"
	"github.com/c360/semconnect/connector/types"
	"github.com/c360/semconnect/errors"
)

// Name is the connector and factory entry name.
const Name = "machine"

// Data is the platform view on the machine state.
type Data struct {
	LotSize          int64      `json:"lot_size"`
	PowerConsumption float64    `json:"power_consumption"`
	State            string     `json:"state"`
	Vendor           VendorInfo `json:"vendor"`
	// Changed names the element that caused a notification, empty when polled.
	Changed string `json:"changed,omitempty"`
}

// Command instructs the machine. Start is applied before a lot size change,
// Stop after it.
type Command struct {
	Start   bool  `json:"start,omitempty"`
	Stop    bool  `json:"stop,omitempty"`
	LotSize int64 `json:"lot_size,omitempty"`
}

// Connector is the machine connector type.
type Connector = connector.Base[model.Notification, Command, Data, Command]

// OutputTranslator reads the machine state for every notification or poll.
type OutputTranslator struct {
	types.ModelAccessHolder
	monitor bool
}

// NewOutputTranslator creates the translator. With monitor set, changes of
// all machine properties are subscribed on initialization.
func NewOutputTranslator(monitor bool) *OutputTranslator {
	return &OutputTranslator{monitor: monitor}
}

// InitializeModelAccess implements types.OutputTranslator.
func (t *OutputTranslator) InitializeModelAccess() error {
	ma := t.ModelAccess()
	if err := ma.RegisterCustomType(VendorInfo{}); err != nil {
		return err
	}
	if !t.monitor {
		return nil
	}
	return ma.Monitor(0,
		ma.QName(Folder, LotSize),
		ma.QName(Folder, PowerConsumption),
		ma.QName(Folder, State),
		ma.QName(Folder, Vendor))
}

// To implements types.OutputTranslator.
func (t *OutputTranslator) To(n model.Notification) (Data, error) {
	ma := t.ModelAccess()
	var (
		d   Data
		err error
	)
	if d.LotSize, err = model.GetInt(ma, ma.QName(Folder, LotSize)); err != nil {
		return Data{}, err
	}
	if d.PowerConsumption, err = model.GetFloat(ma, ma.QName(Folder, PowerConsumption)); err != nil {
		return Data{}, err
	}
	if d.State, err = model.GetString(ma, ma.QName(Folder, State)); err != nil {
		return Data{}, err
	}
	if d.Vendor, err = model.GetStructAs[VendorInfo](ma, ma.QName(Folder, Vendor)); err != nil {
		return Data{}, err
	}
	d.Changed = n.QName
	return d, nil
}

// InputTranslator executes commands as model operations.
type InputTranslator struct {
	types.ModelAccessHolder
}

// From implements types.InputTranslator.
func (t *InputTranslator) From(cmd Command) (Command, error) {
	ma := t.ModelAccess()
	if cmd.Start {
		if _, err := ma.Call(ma.QName(Folder, OpStart)); err != nil {
			return cmd, err
		}
	}
	if cmd.LotSize > 0 {
		if _, err := ma.Call(ma.QName(Folder, OpReconfigure), cmd.LotSize); err != nil {
			return cmd, err
		}
	}
	if cmd.Stop {
		if _, err := ma.Call(ma.QName(Folder, OpStop)); err != nil {
			return cmd, err
		}
	}
	return cmd, nil
}

// Driver is the transport of the machine connector. The machine is reached
// through its model, so reads only signal that the state should be sampled.
type Driver struct {
	machine *Machine
	logger  *slog.Logger

	mu        sync.Mutex
	connected bool
	commands  int
}

// Name implements connector.Driver.
func (d *Driver) Name() string { return Name }

// ConnectImpl implements connector.Driver.
func (d *Driver) ConnectImpl(_ context.Context, params connector.Parameter) error {
	d.mu.Lock()
	d.connected = true
	d.mu.Unlock()
	d.logger.Debug("Attached to simulated machine", "host", params.Host())
	return nil
}

// DisconnectImpl implements connector.Driver.
func (d *Driver) DisconnectImpl() error {
	d.mu.Lock()
	d.connected = false
	d.mu.Unlock()
	return nil
}

// WriteImpl implements connector.Driver. Commands already took effect on the
// model during translation.
func (d *Driver) WriteImpl(context.Context, string, Command) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.connected {
		return errors.ErrNotConnected
	}
	d.commands++
	return nil
}

// Read implements connector.Driver.
func (d *Driver) Read(context.Context) (connector.Record[model.Notification], bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return connector.Record[model.Notification]{}, d.connected, nil
}

// Dispose implements connector.Driver.
func (d *Driver) Dispose() error {
	return d.DisconnectImpl()
}

// Commands returns the number of written commands.
func (d *Driver) Commands() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.commands
}

// NewConnector creates a connector for m. With monitor set, property changes
// are delivered as notifications in addition to polling.
func NewConnector(m *Machine, monitor bool, opts ...connector.Option) (*Connector, error) {
	if m == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "machine", "NewConnector", "machine validation")
	}

	var base *Connector
	sink := model.SinkFunc(func(n model.Notification) {
		// delivery errors are reported by the connector's error hook
		_ = base.Trigger("", n)
	})
	supplier := func(l model.NotificationChangedListener) (model.ModelAccess, error) {
		return m.Open(model.WithListener(l), model.WithSink(sink)), nil
	}

	adapter := types.NewTranslatingProtocolAdapter[model.Notification, Command, Data, Command](
		NewOutputTranslator(monitor), &InputTranslator{})
	driver := &Driver{machine: m, logger: m.logger}

	opts = append(opts, connector.WithModelAccess(supplier))
	c, err := connector.NewBase(driver,
		[]types.ProtocolAdapter[model.Notification, Command, Data, Command]{adapter}, opts...)
	if err != nil {
		return nil, err
	}
	base = c
	return c, nil
}

// Matches selects the machine connector for parameters whose "connector"
// setting is "machine".
func Matches(params connector.Parameter) bool {
	v, ok := params.Specific("connector")
	return ok && v == Name
}

// Register adds the machine connector to f. Monitoring is enabled when the
// parameters ask for event delivery (notification interval zero).
func Register(f *connector.Factory, m *Machine) error {
	return f.Register(Name, "simulation", Matches,
		func(params connector.Parameter, opts ...connector.Option) (connector.Connector, error) {
			c, err := NewConnector(m, params.NotificationInterval() == 0, opts...)
			if err != nil {
				return nil, err
			}
			return c, nil
		})
}
