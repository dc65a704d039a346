package config

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/c360/semconnect/connector"
)

// ConnectorConfig describes one connector instance and the service that
// runs it.
type ConnectorConfig struct {
	// Type names the factory entry, e.g. "machine", "snmp", "serial",
	// "websocket" or "nats".
	Type    string `json:"type"`
	Enabled bool   `json:"enabled"`

	// Service descriptor
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	Version     string `json:"version,omitempty"`
	Kind        string `json:"kind,omitempty"`

	// Connection parameters
	Host                 string         `json:"host,omitempty"`
	Port                 int            `json:"port,omitempty"`
	Schema               string         `json:"schema,omitempty"`
	EndpointPath         string         `json:"endpoint_path,omitempty"`
	RequestTimeout       *time.Duration `json:"request_timeout,omitempty"`
	NotificationInterval *time.Duration `json:"notification_interval,omitempty"`
	KeepAlive            *time.Duration `json:"keep_alive,omitempty"`
	ApplicationID        string         `json:"application_id,omitempty"`
	AutoApplicationID    *bool          `json:"auto_application_id,omitempty"`
	ProtocolVersion      string         `json:"protocol_version,omitempty"`
	Username             string         `json:"username,omitempty"`
	Password             string         `json:"password,omitempty"`
	Token                string         `json:"token,omitempty"`
	Specific             map[string]any `json:"specific,omitempty"`

	// Runtime
	IdleCleanup time.Duration `json:"idle_cleanup,omitempty"`
	Subjects    []string      `json:"subjects,omitempty"` // channels for channel based connectors
	InPath      string        `json:"in_path,omitempty"`
	OutPath     string        `json:"out_path,omitempty"`
}

var knownSchemas = []connector.Schema{
	connector.SchemaTCP, connector.SchemaSSL, connector.SchemaHTTP, connector.SchemaHTTPS,
	connector.SchemaWS, connector.SchemaWSS, connector.SchemaUDP,
}

// Validate checks a connector section.
func (cc ConnectorConfig) Validate() error {
	if cc.Type == "" {
		return missing("type")
	}
	if cc.Port < 0 || cc.Port > 65535 {
		return invalid("port %d out of range", cc.Port)
	}
	if cc.Schema != "" && !slices.Contains(knownSchemas, connector.Schema(cc.Schema)) {
		return invalid("unknown schema %q", cc.Schema)
	}
	for name, d := range map[string]*time.Duration{
		"request_timeout":       cc.RequestTimeout,
		"notification_interval": cc.NotificationInterval,
		"keep_alive":            cc.KeepAlive,
		"idle_cleanup":          &cc.IdleCleanup,
	} {
		if d != nil && *d < 0 {
			return invalid("%s must not be negative", name)
		}
	}
	if cc.Token != "" && cc.Username != "" {
		return invalid("username and token are mutually exclusive")
	}
	return nil
}

// Parameter builds the connection parameters. Unset durations keep the
// connector defaults; a notification interval of 0 selects notifications.
func (cc ConnectorConfig) Parameter() connector.Parameter {
	b := connector.NewParameterBuilder(cc.Host, cc.Port).
		EndpointPath(cc.EndpointPath).
		ApplicationInformation(cc.ApplicationID, cc.Description).
		Version(cc.ProtocolVersion)
	switch {
	case cc.Schema != "":
		b.Schema(connector.Schema(cc.Schema))
	case cc.Type == "websocket":
		b.Schema(connector.SchemaWS)
	}
	if cc.AutoApplicationID != nil {
		b.AutoApplicationID(*cc.AutoApplicationID)
	}
	if cc.RequestTimeout != nil {
		b.RequestTimeout(*cc.RequestTimeout)
	}
	if cc.NotificationInterval != nil {
		b.NotificationInterval(*cc.NotificationInterval)
	}
	if cc.KeepAlive != nil {
		b.KeepAlive(*cc.KeepAlive)
	}

	switch {
	case cc.Username != "":
		b.Identity(connector.AnyEndpoint, connector.UsernameToken(cc.Username, cc.Password))
	case cc.Token != "":
		b.Identity(connector.AnyEndpoint, connector.IssuedToken([]byte(cc.Token), ""))
	}

	b.Specific("connector", cc.Type)
	if len(cc.Subjects) > 0 {
		b.Specific("subjects", strings.Join(cc.Subjects, ","))
	}
	for _, key := range slices.Sorted(maps.Keys(cc.Specific)) {
		b.Specific(key, specificString(cc.Specific[key]))
	}
	return b.Build()
}

// specificString renders a decoded setting. JSON numbers arrive as float64,
// which prints without a fraction for whole values. Lists are joined with
// commas.
func specificString(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case nil:
		return ""
	case []any:
		parts := make([]string, len(val))
		for i, item := range val {
			parts[i] = specificString(item)
		}
		return strings.Join(parts, ",")
	default:
		return fmt.Sprint(val)
	}
}

// applyBusDefaults points nats connectors without a host at the platform
// NATS servers and lends them the platform credentials.
func (c *Config) applyBusDefaults() {
	if len(c.NATS.URLs) == 0 {
		return
	}
	for id, cc := range c.Connectors {
		if cc.Type != "nats" || cc.Host != "" {
			continue
		}
		if slices.ContainsFunc(slices.Collect(maps.Keys(cc.Specific)), func(k string) bool { return strings.EqualFold(k, "url") }) {
			continue
		}
		specific := maps.Clone(cc.Specific)
		if specific == nil {
			specific = make(map[string]any)
		}
		specific["url"] = c.NATS.URL()
		cc.Specific = specific
		if cc.Username == "" && cc.Token == "" {
			cc.Username, cc.Password, cc.Token = c.NATS.Username, c.NATS.Password, c.NATS.Token
		}
		c.Connectors[id] = cc
	}
}
