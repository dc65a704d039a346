package snmp

import (
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gosnmp/gosnmp"

	"github.com/c360/semconnect/connector/model"
	"github.com/c360/semconnect/errors"
)

const separator = "."

// session is shared by an Access and its scoped copies.
type session struct {
	mu        sync.Mutex
	driver    *Driver
	listener  model.NotificationChangedListener
	monitored []string
	disposed  bool
}

// Access is the SNMP model access. Structs and operations are not part of
// the SNMP model.
type Access struct {
	sess  *session
	scope model.Path
}

var _ model.ModelAccess = (*Access)(nil)

func newAccess(d *Driver, listener model.NotificationChangedListener) *Access {
	return &Access{sess: &session{driver: d, listener: listener}, scope: model.Root()}
}

func (a *Access) alive(method string) (Client, error) {
	a.sess.mu.Lock()
	disposed := a.sess.disposed
	a.sess.mu.Unlock()
	if disposed {
		return nil, errors.WrapFatal(errors.ErrDisposed, "snmp.Access", method, "session check")
	}
	return a.sess.driver.currentClient(method)
}

func (a *Access) resolve(qName string) string {
	oid := a.scope.Resolve(separator, strings.TrimPrefix(qName, separator))
	return separator + strings.TrimPrefix(oid, separator)
}

// QSeparator implements model.ModelAccess.
func (a *Access) QSeparator() string { return separator }

// QName implements model.ModelAccess.
func (a *Access) QName(names ...string) string {
	parts := make([]string, 0, len(names))
	for _, n := range names {
		if n = strings.Trim(n, separator); n != "" {
			parts = append(parts, n)
		}
	}
	return strings.Join(parts, separator)
}

// IQName implements model.ModelAccess. SNMP has no instance tree.
func (a *Access) IQName(names ...string) string { return a.QName(names...) }

// TopInstancesQName implements model.ModelAccess.
func (a *Access) TopInstancesQName() string { return "" }

// Scope implements model.ModelAccess.
func (a *Access) Scope() model.Path { return a.scope }

// Get implements model.ModelAccess.
func (a *Access) Get(qName string) (any, error) {
	client, err := a.alive("Get")
	if err != nil {
		return nil, err
	}
	oid := a.resolve(qName)
	packet, err := client.Get([]string{oid})
	if err != nil {
		return nil, errors.WrapTransient(err, "snmp.Access", "Get", "snmp get "+oid)
	}
	if err := checkPacket(packet, "Get"); err != nil {
		return nil, err
	}
	if len(packet.Variables) == 0 {
		return nil, errors.NotFound("snmp.Access", "Get", oid)
	}
	return FromPDU(packet.Variables[0])
}

// Set implements model.ModelAccess.
func (a *Access) Set(qName string, value any) error {
	client, err := a.alive("Set")
	if err != nil {
		return err
	}
	pdu, err := ToPDU(a.resolve(qName), value)
	if err != nil {
		return err
	}
	return setPDUs(client, []gosnmp.SnmpPDU{pdu})
}

func setPDUs(client Client, pdus []gosnmp.SnmpPDU) error {
	packet, err := client.Set(pdus)
	if err != nil {
		return errors.WrapTransient(errors.ErrWriteFailed, "snmp", "Set", err.Error())
	}
	if packet != nil && packet.Error != gosnmp.NoError {
		return errors.WrapTransient(errors.ErrWriteFailed, "snmp", "Set", "agent error "+packet.Error.String())
	}
	return nil
}

func notSupported(method string) error {
	return errors.WrapInvalid(errors.ErrNotSupported, "snmp.Access", method, "snmp model")
}

// GetStruct implements model.ModelAccess.
func (a *Access) GetStruct(string, any) error { return notSupported("GetStruct") }

// SetStruct implements model.ModelAccess.
func (a *Access) SetStruct(string, any) error { return notSupported("SetStruct") }

// Call implements model.ModelAccess.
func (a *Access) Call(string, ...any) (any, error) { return nil, notSupported("Call") }

// Walk returns all values below qName.
func (a *Access) Walk(qName string) (map[string]any, error) {
	client, err := a.alive("Walk")
	if err != nil {
		return nil, err
	}
	oid := a.resolve(qName)
	pdus, err := client.WalkAll(oid)
	if err != nil {
		return nil, errors.WrapTransient(err, "snmp.Access", "Walk", "snmp walk "+oid)
	}
	result := make(map[string]any, len(pdus))
	for _, pdu := range pdus {
		v, err := FromPDU(pdu)
		if err != nil {
			continue
		}
		result[pdu.Name] = v
	}
	return result, nil
}

// Monitor implements model.ModelAccess. The interval is ignored, sampling
// follows the connector's notification interval.
func (a *Access) Monitor(_ time.Duration, qNames ...string) error {
	if _, err := a.alive("Monitor"); err != nil {
		return err
	}
	a.sess.mu.Lock()
	defer a.sess.mu.Unlock()
	for _, q := range qNames {
		oid := a.resolve(q)
		if !slices.Contains(a.sess.monitored, oid) {
			a.sess.monitored = append(a.sess.monitored, oid)
		}
	}
	return nil
}

// Monitored returns the monitored OIDs in subscription order.
func (a *Access) Monitored() []string {
	a.sess.mu.Lock()
	defer a.sess.mu.Unlock()
	return slices.Clone(a.sess.monitored)
}

// MonitorModelChanges implements model.ModelAccess.
func (a *Access) MonitorModelChanges(time.Duration) error {
	return notSupported("MonitorModelChanges")
}

// UseNotifications implements model.ModelAccess. Agents are always polled.
func (a *Access) UseNotifications(bool) {
	a.sess.mu.Lock()
	listener := a.sess.listener
	a.sess.mu.Unlock()
	if listener != nil {
		listener.NotificationsChanged(false)
	}
}

// SetDetailNotifiedItem implements model.ModelAccess. Samples always carry values.
func (a *Access) SetDetailNotifiedItem(bool) {}

// StepInto implements model.ModelAccess.
func (a *Access) StepInto(name string) (model.ModelAccess, error) {
	name = strings.Trim(name, separator)
	if name == "" {
		return nil, errors.WrapInvalid(errors.ErrInvalidData, "snmp.Access", "StepInto", "name check")
	}
	scope := a.scope
	for _, seg := range strings.Split(name, separator) {
		scope = scope.Child(seg)
	}
	return &Access{sess: a.sess, scope: scope}, nil
}

// StepOut implements model.ModelAccess.
func (a *Access) StepOut() (model.ModelAccess, error) {
	parent, err := a.scope.Parent()
	if err != nil {
		return nil, err
	}
	return &Access{sess: a.sess, scope: parent}, nil
}

// RegisterCustomType implements model.ModelAccess.
func (a *Access) RegisterCustomType(any) error { return notSupported("RegisterCustomType") }

// InputConverter implements model.ModelAccess.
func (a *Access) InputConverter() model.Converter { return model.NativeConverter{} }

// OutputConverter implements model.ModelAccess.
func (a *Access) OutputConverter() model.Converter { return model.NativeConverter{} }

// Dispose implements model.ModelAccess.
func (a *Access) Dispose() {
	a.sess.mu.Lock()
	a.sess.disposed = true
	a.sess.monitored = nil
	a.sess.mu.Unlock()
}
