package health

import (
	"regexp"
	"strings"
	"time"
)

var (
	urlRegex         = regexp.MustCompile(`(?:https?|nats|tls|wss?|opc\.tcp|mqtts?|tcp|udp)://[^\s]+`)
	unixPathRegex    = regexp.MustCompile(`/[a-zA-Z0-9/_.-]+`)
	windowsPathRegex = regexp.MustCompile(`[A-Z]:\\[^:\s]+`)
	ipAddrRegex      = regexp.MustCompile(`\b\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}\b`)
	portRegex        = regexp.MustCompile(`:\d{2,5}\b`)
	credentialRegex  = regexp.MustCompile(`(?i)(password|passwd|token|key|secret|credential|community)[^a-zA-Z]*[:=][^,\s}]+`)
)

// Status levels
const (
	LevelHealthy   = "healthy"
	LevelDegraded  = "degraded"
	LevelUnhealthy = "unhealthy"
)

// Status represents the health state of a component or system
type Status struct {
	Component   string    `json:"component"`
	Healthy     bool      `json:"healthy"`
	Status      string    `json:"status"`
	Message     string    `json:"message"`
	Timestamp   time.Time `json:"timestamp"`
	SubStatuses []Status  `json:"sub_statuses,omitempty"`
	Metrics     *Metrics  `json:"metrics,omitempty"`
}

// Metrics contains health-related metrics
type Metrics struct {
	Uptime           time.Duration `json:"uptime"`
	ErrorCount       int           `json:"error_count"`
	MessagesReceived int64         `json:"messages_received,omitempty"`
	LastActivity     time.Time     `json:"last_activity,omitempty"`
}

// IsHealthy returns true if the status is healthy
func (s Status) IsHealthy() bool {
	return s.Status == LevelHealthy
}

// IsDegraded returns true if the status is degraded
func (s Status) IsDegraded() bool {
	return s.Status == LevelDegraded
}

// IsUnhealthy returns true if the status is unhealthy
func (s Status) IsUnhealthy() bool {
	return s.Status == LevelUnhealthy
}

// WithMetrics returns a copy of the status with metrics attached
func (s Status) WithMetrics(metrics *Metrics) Status {
	s.Metrics = metrics
	return s
}

// WithSubStatus adds a sub-status and returns a copy
func (s Status) WithSubStatus(subStatus Status) Status {
	subs := make([]Status, len(s.SubStatuses), len(s.SubStatuses)+1)
	copy(subs, s.SubStatuses)
	s.SubStatuses = append(subs, subStatus)
	return s
}

// FromError returns an unhealthy status with the sanitized error message,
// or a healthy one for a nil error.
func FromError(component string, err error) Status {
	if err == nil {
		return NewHealthy(component, "No error reported")
	}
	return NewUnhealthy(component, Sanitize(err.Error()))
}

// Sanitize removes addresses and secrets from a message.
func Sanitize(msg string) string {
	if msg == "" {
		return ""
	}
	// URLs first, they contain paths and ports
	s := urlRegex.ReplaceAllString(msg, "[URL]")
	// credentials before paths so that key=/path/to/key is redacted as a whole
	lower := strings.ToLower(s)
	for _, word := range []string{"password", "passwd", "token", "key", "secret", "credential", "community"} {
		if strings.Contains(lower, word) {
			s = credentialRegex.ReplaceAllString(s, "[REDACTED]")
			break
		}
	}
	s = unixPathRegex.ReplaceAllString(s, "[PATH]")
	s = windowsPathRegex.ReplaceAllString(s, "[PATH]")
	s = ipAddrRegex.ReplaceAllString(s, "[IP]")
	return portRegex.ReplaceAllString(s, "[PORT]")
}
