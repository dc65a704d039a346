package model

import (
	"time"
)

// ModelAccess provides uniform access to a model-based protocol. It is handed
// by a connector to its translators. Methods that touch the model may block on
// device I/O.
type ModelAccess interface {
	// QSeparator returns the qualified name separator, empty if the model is flat.
	QSeparator() string

	// QName composes names with QSeparator. Empty names are skipped.
	QName(names ...string) string

	// IQName composes names below TopInstancesQName.
	IQName(names ...string) string

	// TopInstancesQName returns the prefix of the instance tree, may be empty.
	TopInstancesQName() string

	// Scope returns the path all qualified names are resolved against.
	Scope() Path

	Get(qName string) (any, error)
	Set(qName string, value any) error

	// GetStruct stores the struct at qName into target, which must be a
	// non-nil pointer to a type the stored value is assignable to.
	GetStruct(qName string, target any) error
	SetStruct(qName string, value any) error

	// Call invokes an operation and returns its result, nil for void.
	Call(qName string, args ...any) (any, error)

	// Monitor arms change notifications for the given elements. A zero
	// interval uses the connector's notification interval.
	Monitor(interval time.Duration, qNames ...string) error

	// MonitorModelChanges arms notifications for structural model changes.
	MonitorModelChanges(interval time.Duration) error

	// UseNotifications switches between event delivery (true) and polling.
	UseNotifications(enabled bool)

	// SetDetailNotifiedItem controls whether notifications carry the changed value.
	SetDetailNotifiedItem(detail bool)

	// StepInto returns an access scoped to the named substructure.
	StepInto(name string) (ModelAccess, error)

	// StepOut returns an access scoped to the parent. Fails at the root.
	StepOut() (ModelAccess, error)

	// RegisterCustomType declares a struct type before first use. sample
	// is a value or pointer of that type.
	RegisterCustomType(sample any) error

	InputConverter() Converter
	OutputConverter() Converter

	// Dispose releases session resources such as monitors. Further calls fail
	// with errors.ErrDisposed.
	Dispose()
}

// Notification describes a change of a monitored element.
type Notification struct {
	QName string
	// Value is only set if detailed notifications are enabled.
	Value any
}

// NotificationSink receives change notifications. Connectors route them into
// their reception path.
type NotificationSink interface {
	ModelChanged(n Notification)
}

// SinkFunc adapts a function to NotificationSink.
type SinkFunc func(n Notification)

// ModelChanged implements NotificationSink.
func (f SinkFunc) ModelChanged(n Notification) {
	f(n)
}

// NotificationChangedListener is informed when UseNotifications flips the
// delivery mode. Connectors uninstall their poll task for notifications and
// install it again for polling.
type NotificationChangedListener interface {
	NotificationsChanged(enabled bool)
}

// Capabilities describes what a model-based connector supports.
type Capabilities struct {
	Events             bool
	HierarchicalQNames bool
	Calls              bool
	Properties         bool
	Structs            bool
}

// GetStructAs is a typed convenience wrapper around GetStruct.
func GetStructAs[T any](ma ModelAccess, qName string) (T, error) {
	var result T
	err := ma.GetStruct(qName, &result)
	return result, err
}

// GetInt reads a property and converts it with the output converter.
func GetInt(ma ModelAccess, qName string) (int64, error) {
	v, err := ma.Get(qName)
	if err != nil {
		return 0, err
	}
	return ma.OutputConverter().ToInt(v)
}

// GetFloat reads a property and converts it with the output converter.
func GetFloat(ma ModelAccess, qName string) (float64, error) {
	v, err := ma.Get(qName)
	if err != nil {
		return 0, err
	}
	return ma.OutputConverter().ToFloat(v)
}

// GetString reads a property and converts it with the output converter.
func GetString(ma ModelAccess, qName string) (string, error) {
	v, err := ma.Get(qName)
	if err != nil {
		return "", err
	}
	return ma.OutputConverter().ToString(v)
}

// GetBool reads a property and converts it with the output converter.
func GetBool(ma ModelAccess, qName string) (bool, error) {
	v, err := ma.Get(qName)
	if err != nil {
		return false, err
	}
	return ma.OutputConverter().ToBool(v)
}
