// File: api/schemas/execution.go
// Description: Run lifecycle types shared across the engine, the approval
// channel and the escalation monitor. The action log is append-only within a
// run; nothing outside the executor mutates it.
package schemas

import "time"

// ExecutionStatus is the run-level state. RUNNING is the only non-terminal
// state; every other status is terminal.
type ExecutionStatus string

const (
	StatusRunning   ExecutionStatus = "RUNNING"
	StatusCompleted ExecutionStatus = "COMPLETED"
	StatusFailed    ExecutionStatus = "FAILED"
	StatusEscalated ExecutionStatus = "ESCALATED"
	StatusBlocked   ExecutionStatus = "BLOCKED"
)

// Terminal reports whether the status ends the run.
func (s ExecutionStatus) Terminal() bool {
	return s != StatusRunning
}

// ActionStatus is the per-entry lifecycle within the action log.
type ActionStatus string

const (
	ActionPending   ActionStatus = "PENDING"
	ActionApproved  ActionStatus = "APPROVED"
	ActionBlocked   ActionStatus = "BLOCKED"
	ActionExecuted  ActionStatus = "EXECUTED"
	ActionFailed    ActionStatus = "FAILED"
	ActionEscalated ActionStatus = "ESCALATED"
)

// ActionLogEntry records one attempted action. Entries are created PENDING
// and move to exactly one of the other statuses before the next entry is
// appended.
type ActionLogEntry struct {
	ID               string       `json:"id"`
	StepID           string       `json:"step_id,omitempty"`
	ActionType       string       `json:"action_type"`
	RiskTier         RiskTier     `json:"risk_tier"`
	Status           ActionStatus `json:"status"`
	ApprovalRequired bool         `json:"approval_required"`
	// ApprovalGranted is nil until a verdict has been collected.
	ApprovalGranted *bool         `json:"approval_granted,omitempty"`
	ApprovedBy      string        `json:"approved_by,omitempty"`
	StartedAt       time.Time     `json:"started_at"`
	Duration        time.Duration `json:"duration_ns"`
	// ArtifactID references the evidence artifact captured for this action,
	// when the action type warrants one.
	ArtifactID string `json:"artifact_id,omitempty"`
	Reason     string `json:"reason,omitempty"`
	Error      string `json:"error,omitempty"`
}
