package health

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitize(t *testing.T) {
	tests := []struct {
		name, input, want string
	}{
		{"empty", "", ""},
		{"unix path", "cannot open /dev/ttyUSB0", "cannot open [PATH]"},
		{"windows path", `cannot read C:\plant\config.yaml`, "cannot read [PATH]"},
		{"nats url", "dial nats://broker.local:4222 refused", "dial [URL] refused"},
		{"opc ua url", "endpoint opc.tcp://10.0.0.5:4840/ua unreachable", "endpoint [URL] unreachable"},
		{"ip and port", "no response from 192.168.1.20:161", "no response from [IP][PORT]"},
		{"credential", "auth failed password:hunter22", "auth failed [REDACTED]"},
		{"community", "snmp community=private rejected", "snmp [REDACTED] rejected"},
		{"key path", "tls key=/etc/semconnect/key.pem invalid", "tls [REDACTED] invalid"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Sanitize(tt.input))
		})
	}
}

func TestFromError(t *testing.T) {
	s := FromError("snmp-switch", fmt.Errorf("timeout polling 10.1.2.3"))
	assert.True(t, s.IsUnhealthy())
	assert.False(t, s.Healthy)
	assert.Equal(t, "snmp-switch", s.Component)
	assert.Equal(t, "timeout polling [IP]", s.Message)

	assert.True(t, FromError("snmp-switch", nil).IsHealthy())
}

func TestStatus_Copies(t *testing.T) {
	base := NewHealthy("line", "ok")
	withSub := base.WithSubStatus(NewDegraded("press", "slow"))
	assert.Empty(t, base.SubStatuses)
	assert.Len(t, withSub.SubStatuses, 1)

	m := &Metrics{ErrorCount: 2}
	assert.Equal(t, m, base.WithMetrics(m).Metrics)
	assert.Nil(t, base.Metrics)
}

func TestAggregate(t *testing.T) {
	assert.True(t, Aggregate("sys", nil).IsHealthy())

	s := Aggregate("sys", []Status{NewHealthy("b", ""), NewDegraded("a", "")})
	assert.True(t, s.IsDegraded())
	assert.Equal(t, "a", s.SubStatuses[0].Component)

	s = Aggregate("sys", []Status{NewDegraded("a", ""), NewUnhealthy("c", ""), NewHealthy("b", "")})
	assert.True(t, s.IsUnhealthy())
	assert.Len(t, s.SubStatuses, 3)
}
