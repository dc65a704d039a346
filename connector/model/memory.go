package model

import (
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/c360/semconnect/errors"
)

// Operation is a callable model element.
type Operation func(args ...any) (any, error)

// Store holds the values of an in-memory model. It plays the role of the
// device; MemoryAccess instances are sessions on it.
type Store struct {
	mu         sync.RWMutex
	properties map[string]any
	structs    map[string]any
	operations map[string]Operation
	sessions   map[*session]struct{}
}

// NewStore creates an empty model store.
func NewStore() *Store {
	return &Store{
		properties: make(map[string]any),
		structs:    make(map[string]any),
		operations: make(map[string]Operation),
		sessions:   make(map[*session]struct{}),
	}
}

// DefineOperation registers a callable element.
func (s *Store) DefineOperation(qName string, op Operation) {
	s.mu.Lock()
	_, existed := s.operations[qName]
	s.operations[qName] = op
	s.mu.Unlock()
	if !existed {
		s.publish(qName, nil, true)
	}
}

// Get returns the primitive property at the absolute qName.
func (s *Store) Get(qName string) (any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if v, ok := s.properties[qName]; ok {
		return v, nil
	}
	if _, ok := s.structs[qName]; ok {
		return nil, errors.WrongKind("MemoryAccess", "Get", qName, "a struct")
	}
	return nil, errors.NotFound("MemoryAccess", "Get", qName)
}

// Set stores a primitive property, creating it on first use.
func (s *Store) Set(qName string, value any) error {
	s.mu.Lock()
	if _, ok := s.structs[qName]; ok {
		s.mu.Unlock()
		return errors.WrongKind("MemoryAccess", "Set", qName, "a struct")
	}
	_, existed := s.properties[qName]
	s.properties[qName] = value
	s.mu.Unlock()

	s.publish(qName, value, !existed)
	return nil
}

// getStruct returns the raw struct value at the absolute qName.
func (s *Store) getStruct(qName string) (any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if v, ok := s.structs[qName]; ok {
		return v, nil
	}
	if _, ok := s.properties[qName]; ok {
		return nil, errors.WrongKind("MemoryAccess", "GetStruct", qName, "primitive property")
	}
	return nil, errors.NotFound("MemoryAccess", "GetStruct", qName)
}

// SetStruct stores a struct value, creating it on first use.
func (s *Store) SetStruct(qName string, value any) error {
	if !isStruct(reflect.TypeOf(value)) {
		return errors.WrapInvalid(fmt.Errorf("%w: %T is not a struct", errors.ErrTypeMismatch, value),
			"MemoryAccess", "SetStruct", "struct check")
	}

	s.mu.Lock()
	if _, ok := s.properties[qName]; ok {
		s.mu.Unlock()
		return errors.WrongKind("MemoryAccess", "SetStruct", qName, "primitive property")
	}
	_, existed := s.structs[qName]
	s.structs[qName] = value
	s.mu.Unlock()

	s.publish(qName, value, !existed)
	return nil
}

func (s *Store) call(qName string, args ...any) (any, error) {
	s.mu.RLock()
	op, ok := s.operations[qName]
	s.mu.RUnlock()
	if !ok {
		return nil, errors.NotFound("MemoryAccess", "Call", qName)
	}
	return op(args...)
}

func (s *Store) exists(qName string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, p := s.properties[qName]
	_, st := s.structs[qName]
	return p || st
}

func (s *Store) attach(sess *session) {
	s.mu.Lock()
	s.sessions[sess] = struct{}{}
	s.mu.Unlock()
}

func (s *Store) detach(sess *session) {
	s.mu.Lock()
	delete(s.sessions, sess)
	s.mu.Unlock()
}

// publish informs the sessions outside the store lock so that sinks may read
// the model again.
func (s *Store) publish(qName string, value any, structural bool) {
	s.mu.RLock()
	sessions := make([]*session, 0, len(s.sessions))
	for sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.RUnlock()

	for _, sess := range sessions {
		sess.changed(qName, value, structural)
	}
}

func isStruct(t reflect.Type) bool {
	if t == nil {
		return false
	}
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t.Kind() == reflect.Struct
}

// session is the state shared by a MemoryAccess and all scopes derived from it.
type session struct {
	mu            sync.Mutex
	store         *Store
	sink          NotificationSink
	listener      NotificationChangedListener
	monitored     map[string]time.Duration
	modelChanges  bool
	detail        bool
	notifications bool
	disposed      bool
	customTypes   map[reflect.Type]struct{}
}

func (sess *session) changed(qName string, value any, structural bool) {
	sess.mu.Lock()
	if sess.disposed || sess.sink == nil {
		sess.mu.Unlock()
		return
	}
	_, monitored := sess.monitored[qName]
	deliver := monitored || (structural && sess.modelChanges)
	detail := sess.detail
	sink := sess.sink
	sess.mu.Unlock()

	if !deliver {
		return
	}
	n := Notification{QName: qName}
	if detail {
		n.Value = value
	}
	sink.ModelChanged(n)
}

// MemoryOption configures a MemoryAccess.
type MemoryOption func(*MemoryAccess)

// WithSeparator sets the qualified name separator, "/" by default.
func WithSeparator(sep string) MemoryOption {
	return func(m *MemoryAccess) {
		m.separator = sep
	}
}

// WithTopInstances sets the prefix returned by TopInstancesQName.
func WithTopInstances(prefix string) MemoryOption {
	return func(m *MemoryAccess) {
		m.top = prefix
	}
}

// WithSink routes notifications of monitored elements to sink.
func WithSink(sink NotificationSink) MemoryOption {
	return func(m *MemoryAccess) {
		m.sess.sink = sink
	}
}

// WithListener informs listener about UseNotifications changes.
func WithListener(listener NotificationChangedListener) MemoryOption {
	return func(m *MemoryAccess) {
		m.sess.listener = listener
	}
}

// WithConverter replaces the NativeConverter.
func WithConverter(c Converter) MemoryOption {
	return func(m *MemoryAccess) {
		m.converter = c
	}
}

// MemoryAccess is a ModelAccess session on a Store.
type MemoryAccess struct {
	sess      *session
	scope     Path
	separator string
	top       string
	converter Converter
}

var _ ModelAccess = (*MemoryAccess)(nil)

// NewMemoryAccess opens a session on store at the root scope.
func NewMemoryAccess(store *Store, opts ...MemoryOption) *MemoryAccess {
	m := &MemoryAccess{
		sess: &session{
			store:       store,
			monitored:   make(map[string]time.Duration),
			customTypes: make(map[reflect.Type]struct{}),
		},
		separator: "/",
		converter: NativeConverter{},
	}
	for _, opt := range opts {
		opt(m)
	}
	store.attach(m.sess)
	return m
}

func (m *MemoryAccess) alive(method string) error {
	m.sess.mu.Lock()
	defer m.sess.mu.Unlock()
	if m.sess.disposed {
		return errors.WrapFatal(errors.ErrDisposed, "MemoryAccess", method, "session check")
	}
	return nil
}

func (m *MemoryAccess) resolve(qName string) string {
	return m.scope.Resolve(m.separator, qName)
}

// QSeparator implements ModelAccess.
func (m *MemoryAccess) QSeparator() string {
	return m.separator
}

// QName implements ModelAccess.
func (m *MemoryAccess) QName(names ...string) string {
	parts := make([]string, 0, len(names))
	for _, n := range names {
		if n != "" {
			parts = append(parts, n)
		}
	}
	return strings.Join(parts, m.separator)
}

// IQName implements ModelAccess.
func (m *MemoryAccess) IQName(names ...string) string {
	if len(names) == 0 {
		return ""
	}
	return m.QName(append([]string{m.top}, names...)...)
}

// TopInstancesQName implements ModelAccess.
func (m *MemoryAccess) TopInstancesQName() string {
	return m.top
}

// Scope implements ModelAccess.
func (m *MemoryAccess) Scope() Path {
	return m.scope
}

// Get implements ModelAccess.
func (m *MemoryAccess) Get(qName string) (any, error) {
	if err := m.alive("Get"); err != nil {
		return nil, err
	}
	return m.sess.store.Get(m.resolve(qName))
}

// Set implements ModelAccess.
func (m *MemoryAccess) Set(qName string, value any) error {
	if err := m.alive("Set"); err != nil {
		return err
	}
	return m.sess.store.Set(m.resolve(qName), value)
}

// GetStruct implements ModelAccess.
func (m *MemoryAccess) GetStruct(qName string, target any) error {
	if err := m.alive("GetStruct"); err != nil {
		return err
	}
	abs := m.resolve(qName)
	value, err := m.sess.store.getStruct(abs)
	if err != nil {
		return err
	}

	tv := reflect.ValueOf(target)
	if tv.Kind() != reflect.Pointer || tv.IsNil() {
		return errors.WrapInvalid(fmt.Errorf("%w: target %T is not a non-nil pointer", errors.ErrTypeMismatch, target),
			"MemoryAccess", "GetStruct", "target check")
	}
	vv := reflect.ValueOf(value)
	elem := tv.Elem()
	switch {
	case vv.Type().AssignableTo(elem.Type()):
		elem.Set(vv)
	case vv.Kind() == reflect.Pointer && vv.Elem().Type().AssignableTo(elem.Type()):
		elem.Set(vv.Elem())
	default:
		return errors.WrapInvalid(fmt.Errorf("%w: cannot cast %s struct to %s", errors.ErrTypeMismatch, abs, elem.Type()),
			"MemoryAccess", "GetStruct", "struct cast")
	}
	return nil
}

// SetStruct implements ModelAccess. Once custom types are registered, only
// values of those types are accepted.
func (m *MemoryAccess) SetStruct(qName string, value any) error {
	if err := m.alive("SetStruct"); err != nil {
		return err
	}

	m.sess.mu.Lock()
	restricted := len(m.sess.customTypes) > 0
	_, known := m.sess.customTypes[structType(reflect.TypeOf(value))]
	m.sess.mu.Unlock()
	if restricted && !known {
		return errors.WrapInvalid(fmt.Errorf("%w: %T is not a registered custom type", errors.ErrTypeMismatch, value),
			"MemoryAccess", "SetStruct", "custom type check")
	}
	return m.sess.store.SetStruct(m.resolve(qName), value)
}

// Call implements ModelAccess.
func (m *MemoryAccess) Call(qName string, args ...any) (any, error) {
	if err := m.alive("Call"); err != nil {
		return nil, err
	}
	return m.sess.store.call(m.resolve(qName), args...)
}

// Monitor implements ModelAccess.
func (m *MemoryAccess) Monitor(interval time.Duration, qNames ...string) error {
	if err := m.alive("Monitor"); err != nil {
		return err
	}
	resolved := make([]string, 0, len(qNames))
	for _, q := range qNames {
		abs := m.resolve(q)
		if !m.sess.store.exists(abs) {
			return errors.NotFound("MemoryAccess", "Monitor", abs)
		}
		resolved = append(resolved, abs)
	}

	m.sess.mu.Lock()
	defer m.sess.mu.Unlock()
	for _, abs := range resolved {
		m.sess.monitored[abs] = interval
	}
	return nil
}

// MonitorModelChanges implements ModelAccess. Newly created elements are
// reported from then on.
func (m *MemoryAccess) MonitorModelChanges(_ time.Duration) error {
	if err := m.alive("MonitorModelChanges"); err != nil {
		return err
	}
	m.sess.mu.Lock()
	m.sess.modelChanges = true
	m.sess.mu.Unlock()
	return nil
}

// UseNotifications implements ModelAccess.
func (m *MemoryAccess) UseNotifications(enabled bool) {
	m.sess.mu.Lock()
	m.sess.notifications = enabled
	listener := m.sess.listener
	m.sess.mu.Unlock()

	if listener != nil {
		listener.NotificationsChanged(enabled)
	}
}

// NotificationsEnabled reports the mode last set by UseNotifications.
func (m *MemoryAccess) NotificationsEnabled() bool {
	m.sess.mu.Lock()
	defer m.sess.mu.Unlock()
	return m.sess.notifications
}

// SetDetailNotifiedItem implements ModelAccess.
func (m *MemoryAccess) SetDetailNotifiedItem(detail bool) {
	m.sess.mu.Lock()
	m.sess.detail = detail
	m.sess.mu.Unlock()
}

// StepInto implements ModelAccess.
func (m *MemoryAccess) StepInto(name string) (ModelAccess, error) {
	if name == "" || (m.separator != "" && strings.Contains(name, m.separator)) {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: %q is not a simple name", errors.ErrInvalidData, name),
			"MemoryAccess", "StepInto", "name check")
	}
	child := *m
	child.scope = m.scope.Child(name)
	return &child, nil
}

// StepOut implements ModelAccess.
func (m *MemoryAccess) StepOut() (ModelAccess, error) {
	parent, err := m.scope.Parent()
	if err != nil {
		return nil, err
	}
	out := *m
	out.scope = parent
	return &out, nil
}

// RegisterCustomType implements ModelAccess.
func (m *MemoryAccess) RegisterCustomType(sample any) error {
	t := reflect.TypeOf(sample)
	if !isStruct(t) {
		return errors.WrapInvalid(fmt.Errorf("%w: %T is not a struct", errors.ErrTypeMismatch, sample),
			"MemoryAccess", "RegisterCustomType", "struct check")
	}
	m.sess.mu.Lock()
	m.sess.customTypes[structType(t)] = struct{}{}
	m.sess.mu.Unlock()
	return nil
}

func structType(t reflect.Type) reflect.Type {
	if t != nil && t.Kind() == reflect.Pointer {
		return t.Elem()
	}
	return t
}

// InputConverter implements ModelAccess.
func (m *MemoryAccess) InputConverter() Converter {
	return m.converter
}

// OutputConverter implements ModelAccess.
func (m *MemoryAccess) OutputConverter() Converter {
	return m.converter
}

// Dispose implements ModelAccess. Disposing any scope ends the whole session.
func (m *MemoryAccess) Dispose() {
	m.sess.mu.Lock()
	if m.sess.disposed {
		m.sess.mu.Unlock()
		return
	}
	m.sess.disposed = true
	clear(m.sess.monitored)
	m.sess.mu.Unlock()

	m.sess.store.detach(m.sess)
}

// Disposed reports whether the session was disposed.
func (m *MemoryAccess) Disposed() bool {
	m.sess.mu.Lock()
	defer m.sess.mu.Unlock()
	return m.sess.disposed
}
