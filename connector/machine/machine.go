// Package machine provides a simulated production machine exposed through an
// in-memory model, together with a connector and translators for it. It is
// used for end-to-end tests and by the demo binary.
package machine

import (
	"fmt"
	"log/slog"

	"github.com/c360/semconnect/connector/model"
	"github.com/c360/semconnect/errors"
)

// Model element names below Folder.
const (
	Folder           = "machine"
	LotSize          = "lotSize"
	PowerConsumption = "powerConsumption"
	State            = "state"
	Vendor           = "vendor"
	OpStart          = "startMachine"
	OpStop           = "endMachine"
	OpReconfigure    = "reconfigure"
)

// Machine states.
const (
	StateStopped = "stopped"
	StateRunning = "running"
)

const (
	idlePower    = 0.1
	runningPower = 10.0
)

// VendorInfo is the struct-valued property of the machine.
type VendorInfo struct {
	Name     string `json:"name"`
	Year     int    `json:"year"`
	Verified bool   `json:"verified"`
}

// DefaultVendor is the vendor the simulated machine reports.
var DefaultVendor = VendorInfo{Name: "Phoenix Contact", Year: 2020, Verified: true}

// Machine simulates a device with an integer lot size, a floating point
// power consumption, a string state and a vendor struct.
type Machine struct {
	store  *model.Store
	logger *slog.Logger
}

// QName returns the absolute qualified name of a machine element.
func QName(name string) string {
	return Folder + "/" + name
}

// New creates a stopped machine.
func New(logger *slog.Logger) (*Machine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Machine{store: model.NewStore(), logger: logger.With("component", "machine")}

	if err := m.store.Set(QName(LotSize), int64(1)); err != nil {
		return nil, err
	}
	if err := m.store.Set(QName(PowerConsumption), idlePower); err != nil {
		return nil, err
	}
	if err := m.store.Set(QName(State), StateStopped); err != nil {
		return nil, err
	}
	if err := m.store.SetStruct(QName(Vendor), DefaultVendor); err != nil {
		return nil, err
	}

	m.store.DefineOperation(QName(OpStart), m.start)
	m.store.DefineOperation(QName(OpStop), m.stop)
	m.store.DefineOperation(QName(OpReconfigure), m.reconfigure)
	return m, nil
}

// Store returns the model the machine lives in.
func (m *Machine) Store() *model.Store {
	return m.store
}

// Open creates a model access session on the machine.
func (m *Machine) Open(opts ...model.MemoryOption) *model.MemoryAccess {
	return model.NewMemoryAccess(m.store, opts...)
}

func (m *Machine) start(...any) (any, error) {
	if err := m.store.Set(QName(State), StateRunning); err != nil {
		return nil, err
	}
	if err := m.store.Set(QName(PowerConsumption), runningPower); err != nil {
		return nil, err
	}
	m.logger.Info("Machine started", "power_consumption", runningPower)
	return nil, nil
}

func (m *Machine) stop(...any) (any, error) {
	if err := m.store.Set(QName(State), StateStopped); err != nil {
		return nil, err
	}
	if err := m.store.Set(QName(PowerConsumption), idlePower); err != nil {
		return nil, err
	}
	if err := m.store.Set(QName(LotSize), int64(1)); err != nil {
		return nil, err
	}
	m.logger.Info("Machine stopped", "power_consumption", idlePower, "lot_size", 1)
	return nil, nil
}

func (m *Machine) reconfigure(args ...any) (any, error) {
	if len(args) != 1 {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: %s expects 1 argument, got %d",
			errors.ErrInvalidData, OpReconfigure, len(args)), "Machine", "reconfigure", "argument check")
	}
	size, err := model.NativeConverter{}.ToInt(args[0])
	if err != nil {
		return nil, errors.Wrap(err, "Machine", "reconfigure", "lot size conversion")
	}
	if size < 1 {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: lot size %d", errors.ErrInvalidData, size),
			"Machine", "reconfigure", "lot size check")
	}
	if err := m.store.Set(QName(LotSize), size); err != nil {
		return nil, err
	}
	m.logger.Info("Machine reconfigured", "lot_size", size)
	return nil, nil
}
