// File: internal/policy/escalation/monitor.go
// Description: Evaluates pack-declared escalation triggers against the
// running action log. The only supported condition family is a ratio
// comparison, "<rate_name> > <threshold>", where the named rate is the
// fraction of BLOCKED entries over all entries so far.
package escalation

import (
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/knowledgepa3/warden/api/schemas"
)

// DefaultThreshold is used when a trigger's condition text carries no
// parseable threshold. Overridable via WithDefaultThreshold.
const DefaultThreshold = 0.5

// Firing describes one trigger whose condition evaluated true.
type Firing struct {
	TriggerID string                  `json:"trigger_id"`
	Condition string                  `json:"condition"`
	Action    schemas.TriggerAction   `json:"action"`
	Severity  schemas.TriggerSeverity `json:"severity"`
	Value     float64                 `json:"value"`
	Threshold float64                 `json:"threshold"`
}

// Monitor evaluates a fixed set of triggers. It is stateless between calls;
// the action log carries all history.
type Monitor struct {
	triggers         []schemas.EscalationTrigger
	defaultThreshold float64
	log              *zap.Logger
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithDefaultThreshold overrides the fallback threshold applied when a
// condition's threshold fails to parse.
func WithDefaultThreshold(v float64) Option {
	return func(m *Monitor) { m.defaultThreshold = v }
}

// NewMonitor builds a monitor for the given triggers.
func NewMonitor(triggers []schemas.EscalationTrigger, logger *zap.Logger, opts ...Option) *Monitor {
	m := &Monitor{
		triggers:         triggers,
		defaultThreshold: DefaultThreshold,
		log:              logger.Named("escalation"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Check evaluates every trigger against the log and returns the triggers
// that fired, in declaration order. LOG-action firings are logged here;
// acting on STOP/ASK firings is the caller's job.
func (m *Monitor) Check(log []schemas.ActionLogEntry) []Firing {
	if len(log) == 0 || len(m.triggers) == 0 {
		return nil
	}

	blocked := 0
	for _, entry := range log {
		if entry.Status == schemas.ActionBlocked {
			blocked++
		}
	}
	rate := float64(blocked) / float64(len(log))

	var fired []Firing
	for _, trigger := range m.triggers {
		threshold, ok := parseThreshold(trigger.Condition)
		if !ok {
			m.log.Warn("Trigger condition has no parseable threshold, using default",
				zap.String("trigger_id", trigger.ID),
				zap.String("condition", trigger.Condition),
				zap.Float64("default", m.defaultThreshold))
			threshold = m.defaultThreshold
		}
		if rate > threshold {
			f := Firing{
				TriggerID: trigger.ID,
				Condition: trigger.Condition,
				Action:    trigger.Action,
				Severity:  trigger.Severity,
				Value:     rate,
				Threshold: threshold,
			}
			fired = append(fired, f)
			if trigger.Action == schemas.TriggerLog {
				m.log.Info("Escalation trigger fired (log only)",
					zap.String("trigger_id", trigger.ID),
					zap.String("condition", trigger.Condition),
					zap.Float64("value", rate),
					zap.Float64("threshold", threshold))
			}
		}
	}
	return fired
}

// parseThreshold extracts the threshold from a condition of the form
// "<rate_name> > <threshold>". The grammar is deliberately strict: exactly
// one ">" comparator with a float on its right-hand side.
func parseThreshold(condition string) (float64, bool) {
	field, value, found := strings.Cut(condition, ">")
	if !found || strings.TrimSpace(field) == "" {
		return 0, false
	}
	threshold, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil || threshold < 0 {
		return 0, false
	}
	return threshold, true
}
