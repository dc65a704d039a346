package heartbeat

import (
	"encoding/json"
	"fmt"

	"github.com/c360/semconnect/errors"
)

// Streams carrying heartbeat records.
const (
	StreamServiceMetrics  = "semconnect.metrics.service"
	StreamResourceMetrics = "semconnect.metrics.resource"
	StreamStatus          = "semconnect.status"
)

// Status actions.
const (
	ActionAdded   = "ADDED"
	ActionRemoved = "REMOVED"
	ActionChanged = "CHANGED"
)

// MetricsRecord is the part of a metrics record the watcher reads.
type MetricsRecord struct {
	ID string `json:"id"`
}

// StatusMessage announces a change of a device or service.
type StatusMessage struct {
	Action        string `json:"action"`
	ComponentType string `json:"componentType,omitempty"`
	DeviceID      string `json:"deviceId"`
	ID            string `json:"id,omitempty"`
}

// Handler consumes the raw records of a stream.
type Handler func(data []byte)

// Transport delivers stream records to handlers.
type Transport interface {
	Attach(stream string, handler Handler) error
	Detach(stream string) error
}

// HandleMetrics refreshes the device named by the record's id.
func (w *Watcher) HandleMetrics(data []byte) {
	var rec MetricsRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		w.logger.Debug("Ignoring malformed metrics record", "error", err)
		return
	}
	w.NotifyRecordReceived(rec.ID)
}

// HandleStatus deletes removed devices and refreshes all others.
func (w *Watcher) HandleStatus(data []byte) {
	var msg StatusMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		w.logger.Debug("Ignoring malformed status message", "error", err)
		return
	}
	if msg.Action == ActionRemoved {
		w.NotifyRecordDeleted(msg.DeviceID)
		return
	}
	w.NotifyRecordReceived(msg.DeviceID)
}

// InstallInto attaches the watcher to the metrics and status streams of t.
func (w *Watcher) InstallInto(t Transport) error {
	if t == nil {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Watcher", "InstallInto", "transport check")
	}
	attach := []struct {
		stream  string
		handler Handler
	}{
		{StreamServiceMetrics, w.HandleMetrics},
		{StreamResourceMetrics, w.HandleMetrics},
		{StreamStatus, w.HandleStatus},
	}
	var done []string
	for _, a := range attach {
		if err := t.Attach(a.stream, a.handler); err != nil {
			for _, s := range done {
				_ = t.Detach(s)
			}
			return errors.Wrap(err, "Watcher", "InstallInto", fmt.Sprintf("attach %s", a.stream))
		}
		done = append(done, a.stream)
	}

	w.mu.Lock()
	w.installed = done
	w.mu.Unlock()
	w.logger.Info("Installed heartbeat watcher", "streams", done)
	return nil
}

// UninstallFrom detaches the watcher from the streams it was installed on.
func (w *Watcher) UninstallFrom(t Transport) error {
	if t == nil {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Watcher", "UninstallFrom", "transport check")
	}
	w.mu.Lock()
	streams := w.installed
	w.installed = nil
	w.mu.Unlock()

	var first error
	for _, s := range streams {
		if err := t.Detach(s); err != nil && first == nil {
			first = errors.Wrap(err, "Watcher", "UninstallFrom", fmt.Sprintf("detach %s", s))
		}
	}
	if len(streams) > 0 {
		w.logger.Info("Uninstalled heartbeat watcher", "streams", streams)
	}
	return first
}
