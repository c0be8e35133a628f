// File: internal/policy/escalation/monitor_test.go
package escalation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/knowledgepa3/warden/api/schemas"
)

func logWith(blocked, executed int) []schemas.ActionLogEntry {
	var log []schemas.ActionLogEntry
	for i := 0; i < blocked; i++ {
		log = append(log, schemas.ActionLogEntry{Status: schemas.ActionBlocked})
	}
	for i := 0; i < executed; i++ {
		log = append(log, schemas.ActionLogEntry{Status: schemas.ActionExecuted})
	}
	return log
}

func TestMonitorCheck(t *testing.T) {
	t.Parallel()

	trigger := schemas.EscalationTrigger{
		ID:        "t1",
		Condition: "error_rate > 0.5",
		Action:    schemas.TriggerStop,
		Severity:  schemas.TriggerSeverityCritical,
	}

	t.Run("fires above threshold", func(t *testing.T) {
		t.Parallel()
		m := NewMonitor([]schemas.EscalationTrigger{trigger}, zap.NewNop())
		fired := m.Check(logWith(3, 1)) // 0.75 > 0.5
		require.Len(t, fired, 1)
		assert.Equal(t, "t1", fired[0].TriggerID)
		assert.Equal(t, schemas.TriggerStop, fired[0].Action)
		assert.InDelta(t, 0.75, fired[0].Value, 1e-9)
		assert.InDelta(t, 0.5, fired[0].Threshold, 1e-9)
	})

	t.Run("does not fire at threshold", func(t *testing.T) {
		t.Parallel()
		m := NewMonitor([]schemas.EscalationTrigger{trigger}, zap.NewNop())
		assert.Empty(t, m.Check(logWith(1, 1))) // 0.5 is not > 0.5
	})

	t.Run("empty log never fires", func(t *testing.T) {
		t.Parallel()
		m := NewMonitor([]schemas.EscalationTrigger{trigger}, zap.NewNop())
		assert.Empty(t, m.Check(nil))
	})

	t.Run("unparseable condition falls back to default", func(t *testing.T) {
		t.Parallel()
		bad := schemas.EscalationTrigger{ID: "t2", Condition: "error_rate spiking", Action: schemas.TriggerLog}
		m := NewMonitor([]schemas.EscalationTrigger{bad}, zap.NewNop())
		fired := m.Check(logWith(3, 1)) // 0.75 > default 0.5
		require.Len(t, fired, 1)
		assert.InDelta(t, DefaultThreshold, fired[0].Threshold, 1e-9)
	})

	t.Run("default threshold is configurable", func(t *testing.T) {
		t.Parallel()
		bad := schemas.EscalationTrigger{ID: "t3", Condition: "nonsense", Action: schemas.TriggerStop}
		m := NewMonitor([]schemas.EscalationTrigger{bad}, zap.NewNop(), WithDefaultThreshold(0.9))
		assert.Empty(t, m.Check(logWith(3, 1))) // 0.75 < 0.9
	})

	t.Run("multiple triggers fire in declaration order", func(t *testing.T) {
		t.Parallel()
		second := schemas.EscalationTrigger{ID: "t-log", Condition: "block_rate > 0.1", Action: schemas.TriggerLog}
		m := NewMonitor([]schemas.EscalationTrigger{trigger, second}, zap.NewNop())
		fired := m.Check(logWith(4, 0))
		require.Len(t, fired, 2)
		assert.Equal(t, "t1", fired[0].TriggerID)
		assert.Equal(t, "t-log", fired[1].TriggerID)
	})
}

func TestParseThreshold(t *testing.T) {
	t.Parallel()

	cases := []struct {
		condition string
		want      float64
		ok        bool
	}{
		{"error_rate > 0.5", 0.5, true},
		{"error_rate>0.25", 0.25, true},
		{"rate > 1", 1, true},
		{"error_rate > banana", 0, false},
		{"error_rate > -0.5", 0, false},
		{"> 0.5", 0, false},
		{"no comparator here", 0, false},
		{"", 0, false},
	}
	for _, tc := range cases {
		got, ok := parseThreshold(tc.condition)
		assert.Equal(t, tc.ok, ok, "condition=%q", tc.condition)
		if tc.ok {
			assert.InDelta(t, tc.want, got, 1e-9, "condition=%q", tc.condition)
		}
	}
}
