// File: internal/engine/executor.go
// Description: The governed execution state machine. One Executor invocation
// runs one Job Pack against one target under one Risk Profile: pre-flight
// gates, per-step MAI enforcement, approval suspension, delegated side
// effects, escalation checks, and evidence sealing on every exit path.
package engine

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/knowledgepa3/warden/api/schemas"
	"github.com/knowledgepa3/warden/internal/attestation"
	"github.com/knowledgepa3/warden/internal/evidence"
	"github.com/knowledgepa3/warden/internal/policy/escalation"
	"github.com/knowledgepa3/warden/internal/policy/gates"
	"github.com/knowledgepa3/warden/internal/policy/mai"
)

var jsonMarshal = jsoniter.ConfigCompatibleWithStandardLibrary.Marshal

// Action types the executor knows how to delegate to the backend.
const (
	ActionNavigate    = "navigate"
	ActionScreenshot  = "screenshot"
	ActionReadPage    = "read_page"
	ActionFind        = "find"
	ActionClick       = "click"
	ActionType        = "type"
	ActionGetPageText = "get_page_text"
)

// Result is the caller-facing outcome of one run. Status and Error are the
// single source of truth; nothing is reported only through logs.
type Result struct {
	ExecutionID      string                       `json:"execution_id"`
	PackID           string                       `json:"pack_id"`
	PackVersion      string                       `json:"pack_version"`
	ProfileID        string                       `json:"profile_id"`
	TargetURL        string                       `json:"target_url"`
	Success          bool                         `json:"success"`
	Status           schemas.ExecutionStatus      `json:"status"`
	StartedAt        time.Time                    `json:"started_at"`
	CompletedAt      time.Time                    `json:"completed_at"`
	ActionsExecuted  int                          `json:"actions_executed"`
	ActionsBlocked   int                          `json:"actions_blocked"`
	ActionsEscalated int                          `json:"actions_escalated"`
	GateResults      []gates.Result               `json:"gate_results"`
	Log              []schemas.ActionLogEntry     `json:"action_log"`
	Evidence         *evidence.SealedBundle       `json:"evidence"`
	Attestation      *attestation.Attestation     `json:"attestation"`
	EscalationReason string                       `json:"escalation_reason,omitempty"`
	Error            string                       `json:"error,omitempty"`
}

// runContext is the mutable state of one run, owned exclusively by the
// executor goroutine and discarded after the result is built.
type runContext struct {
	ID               string
	Pack             *schemas.JobPack
	Profile          *schemas.RiskProfile
	TargetURL        string
	Status           schemas.ExecutionStatus
	Log              []schemas.ActionLogEntry
	Bundle           *evidence.Bundle
	StartedAt        time.Time
	Gate             gates.Decision
	EscalationReason string
	Err              string

	// session is this run's private browser page; runs never share one.
	session schemas.AutomationSession

	// lastRef is the most recent element reference produced by a find
	// action, used by click/type steps that declare no explicit target.
	lastRef string
}

func (r *runContext) append(entry schemas.ActionLogEntry) {
	r.Log = append(r.Log, entry)
}

// Executor drives runs against an automation backend. It holds no per-run
// state and opens a dedicated backend session for each run, so a single
// Executor may serve concurrent runs without their pages interleaving.
type Executor struct {
	backend  schemas.AutomationBackend
	approver schemas.ApprovalChannel
	logger   *zap.Logger
}

// NewExecutor validates and wires the executor's collaborators.
func NewExecutor(backend schemas.AutomationBackend, approver schemas.ApprovalChannel, logger *zap.Logger) (*Executor, error) {
	if backend == nil {
		return nil, fmt.Errorf("automation backend cannot be nil")
	}
	if approver == nil {
		return nil, fmt.Errorf("approval channel cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	return &Executor{
		backend:  backend,
		approver: approver,
		logger:   logger.Named("executor"),
	}, nil
}

// Execute runs the pack against the target. The returned error is non-nil
// only for malformed input rejected before a run context exists; every
// policy or side-effect failure is reported through the Result instead.
func (e *Executor) Execute(ctx context.Context, pack *schemas.JobPack, profile *schemas.RiskProfile, targetURL string) (*Result, error) {
	parsed, err := url.Parse(targetURL)
	if err != nil {
		return nil, fmt.Errorf("invalid target URL %q: %w", targetURL, err)
	}
	if !parsed.IsAbs() || parsed.Host == "" {
		return nil, fmt.Errorf("target URL %q must be absolute with a host", targetURL)
	}
	host := parsed.Hostname()

	run := &runContext{
		ID:        uuid.NewString(),
		Pack:      pack,
		Profile:   profile,
		TargetURL: targetURL,
		Status:    schemas.StatusRunning,
		StartedAt: time.Now().UTC(),
	}
	run.Bundle = evidence.New(pack.ID, run.ID)

	logger := e.logger.With(
		zap.String("execution_id", run.ID),
		zap.String("pack_id", pack.ID),
		zap.String("profile", profile.Name),
		zap.String("target", host),
	)
	logger.Info("Starting governed execution")

	att, err := attestation.Build(profile, "warden-engine")
	if err != nil {
		return nil, fmt.Errorf("failed to build risk attestation: %w", err)
	}

	// Pre-flight gates run once, before any side effect.
	run.Gate = gates.Evaluate(pack, profile, host)
	e.addDataArtifact(run, evidence.ArtifactMetadata, "gates.json", "pre-flight gate results", run.Gate, logger)
	if !run.Gate.CanExecute {
		run.Status = schemas.StatusBlocked
		run.Err = run.Gate.BlockingReason
		logger.Warn("Run blocked by pre-flight gates", zap.String("reason", run.Err))
		return e.finalize(run, att, logger), nil
	}

	// Each run drives its own session so concurrent runs never observe one
	// another's page state in their evidence.
	session, err := e.backend.NewSession(ctx)
	if err != nil {
		run.Status = schemas.StatusFailed
		run.Err = fmt.Sprintf("failed to open browser session: %v", err)
		logger.Error("Browser session unavailable", zap.Error(err))
		e.addLogArtifact(run, "error.log", run.Err, logger)
		return e.finalize(run, att, logger), nil
	}
	run.session = session
	defer func() {
		if cerr := session.Close(context.WithoutCancel(ctx)); cerr != nil {
			logger.Warn("Browser session close failed", zap.Error(cerr))
		}
	}()

	monitor := escalation.NewMonitor(pack.Escalations, logger)
	e.runSteps(ctx, run, monitor, logger)

	return e.finalize(run, att, logger), nil
}

// runSteps executes the navigation, the declared procedure and the final
// screenshot. A recover here converts panics from delegated side effects
// into a FAILED run so finalize still seals the evidence.
func (e *Executor) runSteps(ctx context.Context, run *runContext, monitor *escalation.Monitor, logger *zap.Logger) {
	defer func() {
		if r := recover(); r != nil {
			run.Status = schemas.StatusFailed
			run.Err = fmt.Sprintf("panic during delegated action: %v", r)
			logger.Error("Delegated action panicked", zap.Any("panic", r))
			e.addLogArtifact(run, "panic.log", run.Err, logger)
		}
	}()

	// Navigation is always the first delegated action, classified
	// informational and auto-executed.
	nav := schemas.ProcedureStep{
		ID:          "navigate",
		ActionType:  ActionNavigate,
		RiskTier:    schemas.TierInformational,
		Description: "navigate to target",
		Target:      run.TargetURL,
	}
	if !e.performStep(ctx, run, nav, monitor, logger) {
		return
	}

	if !e.captureScreenshot(ctx, run, "initial.png", "page state after navigation", logger) {
		return
	}

	steps := run.Pack.Procedure
	if len(steps) == 0 {
		// A pack with no declared procedure degrades to a single read.
		steps = []schemas.ProcedureStep{{
			ID:          "read-page-default",
			ActionType:  ActionReadPage,
			RiskTier:    schemas.TierInformational,
			Description: "read page content (pack declares no procedure)",
		}}
	}

	for _, st := range steps {
		if run.Status.Terminal() {
			break
		}
		if !e.performStep(ctx, run, st, monitor, logger) {
			break
		}
	}

	switch run.Status {
	case schemas.StatusRunning:
		if e.captureScreenshot(ctx, run, "final.png", "page state at completion", logger) {
			run.Status = schemas.StatusCompleted
		}
	case schemas.StatusEscalated, schemas.StatusFailed:
		// Best-effort final capture so the audit trail shows where the run
		// stopped; a terminated run must not lose its seal because the
		// browser died.
		if data, err := run.session.Screenshot(ctx); err == nil {
			e.addRawArtifact(run, evidence.ArtifactScreenshot, "final.png", "page state at termination", data, logger)
		} else {
			logger.Warn("Final screenshot unavailable after termination", zap.Error(err))
		}
	}
}

// performStep runs the full per-step protocol and reports whether the run
// may continue.
func (e *Executor) performStep(ctx context.Context, run *runContext, st schemas.ProcedureStep, monitor *escalation.Monitor, logger *zap.Logger) bool {
	tier := st.RiskTier
	if !tier.Valid() {
		// Steps may omit the tier when the authority model declares it.
		// Anything still unresolved is treated as mandatory: the safest
		// classification for an undeclared action.
		declared, ok := run.Pack.Authority.TierOf(st.ActionType)
		if ok {
			tier = declared
		} else {
			tier = schemas.TierMandatory
		}
	}

	entry := schemas.ActionLogEntry{
		ID:         uuid.NewString(),
		StepID:     st.ID,
		ActionType: st.ActionType,
		RiskTier:   tier,
		Status:     schemas.ActionPending,
		StartedAt:  time.Now().UTC(),
	}

	// Pack-level forbidden actions block before the profile rules run; the
	// pack author's reason travels into the log entry verbatim.
	verdict := mai.Decide(st.ActionType, tier, run.Profile)
	if reason, forbidden := run.Pack.Permissions.ForbiddenActions[st.ActionType]; forbidden {
		verdict = mai.Verdict{
			Allowed:   false,
			Reason:    fmt.Sprintf("action %q forbidden by pack: %s", st.ActionType, reason),
			BlockedBy: mai.BlockedByForbiddenAction,
		}
	}
	entry.ApprovalRequired = verdict.RequiresApproval
	entry.Reason = verdict.Reason

	if !verdict.Allowed {
		logger.Warn("Action blocked by MAI enforcement",
			zap.String("action", st.ActionType),
			zap.String("blocked_by", string(verdict.BlockedBy)))
		e.blockStep(run, entry, fmt.Sprintf("%s: %s", verdict.BlockedBy, verdict.Reason), monitor, logger)
		return false
	}

	if verdict.RequiresApproval {
		// The single suspension point: wait for the human verdict.
		granted, err := e.approver.Approve(ctx, entry)
		if err != nil {
			// A broken channel is a denial, never a silent pass.
			logger.Warn("Approval channel failed, treating as denial", zap.Error(err))
			entry.Error = err.Error()
			granted = false
		}
		entry.ApprovalGranted = &granted
		if !granted {
			logger.Warn("Approval denied", zap.String("action", st.ActionType), zap.String("step", st.ID))
			e.blockStep(run, entry, fmt.Sprintf("approval denied for action %q (step %s)", st.ActionType, st.ID), monitor, logger)
			return false
		}
		entry.Status = schemas.ActionApproved
		entry.ApprovedBy = e.approver.Name()
	}

	// The profile's step timeout bounds every delegated side effect.
	stepCtx := ctx
	if d := run.Profile.Tolerance.StepTimeout; d > 0 {
		var cancel context.CancelFunc
		stepCtx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	started := time.Now()
	artifactID, err := e.delegate(stepCtx, run, st, logger)
	entry.Duration = time.Since(started)
	if err != nil {
		entry.Status = schemas.ActionFailed
		entry.Error = err.Error()
		run.append(entry)
		run.Status = schemas.StatusFailed
		run.Err = fmt.Sprintf("action %q failed: %v", st.ActionType, err)
		logger.Error("Delegated action failed", zap.String("action", st.ActionType), zap.Error(err))
		e.addLogArtifact(run, "error.log", run.Err, logger)
		return false
	}

	entry.Status = schemas.ActionExecuted
	entry.ArtifactID = artifactID
	run.append(entry)

	return e.checkEscalations(ctx, run, monitor, logger)
}

// blockStep records a blocked action and escalates the run. The monitor gets
// a final pass over the log including the blocked entry, so a trigger whose
// threshold is crossed by this very block still fires; a STOP firing becomes
// the recorded cause. ASK and LOG have no further effect on a run that is
// already terminating.
func (e *Executor) blockStep(run *runContext, entry schemas.ActionLogEntry, reason string, monitor *escalation.Monitor, logger *zap.Logger) {
	entry.Status = schemas.ActionBlocked
	run.append(entry)
	run.Status = schemas.StatusEscalated
	run.EscalationReason = reason

	for _, firing := range monitor.Check(run.Log) {
		if firing.Action != schemas.TriggerStop {
			continue
		}
		run.EscalationReason = fmt.Sprintf("escalation trigger %s fired: %s", firing.TriggerID, firing.Condition)
		run.append(triggerEntry(firing))
		logger.Warn("STOP trigger fired on blocked action",
			zap.String("trigger_id", firing.TriggerID),
			zap.Float64("value", firing.Value),
			zap.Float64("threshold", firing.Threshold))
		break
	}
}

// triggerEntry renders a fired trigger as an audit record so the action log
// and the escalation counters account for it.
func triggerEntry(firing escalation.Firing) schemas.ActionLogEntry {
	return schemas.ActionLogEntry{
		ID:         uuid.NewString(),
		StepID:     firing.TriggerID,
		ActionType: "escalation_trigger",
		RiskTier:   schemas.TierAdvisory,
		Status:     schemas.ActionEscalated,
		StartedAt:  time.Now().UTC(),
		Reason:     fmt.Sprintf("trigger %s fired: %s", firing.TriggerID, firing.Condition),
	}
}

// delegate performs the actual side effect for a step and returns the ID of
// any captured evidence artifact.
func (e *Executor) delegate(ctx context.Context, run *runContext, st schemas.ProcedureStep, logger *zap.Logger) (string, error) {
	captureText := run.Profile.Appetite.EvidenceStrictness != schemas.EvidenceMinimal

	switch st.ActionType {
	case ActionNavigate:
		target := st.Target
		if target == "" {
			target = run.TargetURL
		}
		return "", run.session.Navigate(ctx, target)

	case ActionScreenshot:
		data, err := run.session.Screenshot(ctx)
		if err != nil {
			return "", err
		}
		name := st.ID + ".png"
		return e.addRawArtifact(run, evidence.ArtifactScreenshot, name, st.Description, data, logger), nil

	case ActionReadPage:
		text, err := run.session.ReadPage(ctx)
		if err != nil {
			return "", err
		}
		if !captureText {
			return "", nil
		}
		return e.addRawArtifact(run, evidence.ArtifactData, st.ID+".txt", "page read", []byte(text), logger), nil

	case ActionGetPageText:
		text, err := run.session.PageText(ctx)
		if err != nil {
			return "", err
		}
		if !captureText {
			return "", nil
		}
		return e.addRawArtifact(run, evidence.ArtifactData, st.ID+".txt", "page text", []byte(text), logger), nil

	case ActionFind:
		ref, err := run.session.Find(ctx, st.Target)
		if err != nil {
			return "", err
		}
		run.lastRef = ref
		return "", nil

	case ActionClick:
		return "", run.session.Click(ctx, e.stepRef(run, st))

	case ActionType:
		return "", run.session.Type(ctx, e.stepRef(run, st), st.Input)

	default:
		return "", fmt.Errorf("unsupported action type %q", st.ActionType)
	}
}

// stepRef resolves the element reference for click/type steps.
func (e *Executor) stepRef(run *runContext, st schemas.ProcedureStep) string {
	if st.Target != "" {
		return st.Target
	}
	return run.lastRef
}

// checkEscalations consults the monitor after every step.
func (e *Executor) checkEscalations(ctx context.Context, run *runContext, monitor *escalation.Monitor, logger *zap.Logger) bool {
	for _, firing := range monitor.Check(run.Log) {
		switch firing.Action {
		case schemas.TriggerStop:
			run.append(triggerEntry(firing))
			run.Status = schemas.StatusEscalated
			run.EscalationReason = fmt.Sprintf("escalation trigger %s fired: %s", firing.TriggerID, firing.Condition)
			logger.Warn("STOP trigger fired, terminating run",
				zap.String("trigger_id", firing.TriggerID),
				zap.Float64("value", firing.Value),
				zap.Float64("threshold", firing.Threshold))
			return false

		case schemas.TriggerAsk:
			// ASK defers to the approval channel; a denial stops the run
			// exactly like STOP. The request itself lands in the log either
			// way so the audit trail shows who let the run continue.
			entry := schemas.ActionLogEntry{
				ID:               uuid.NewString(),
				StepID:           firing.TriggerID,
				ActionType:       "continue_after_trigger",
				RiskTier:         schemas.TierAdvisory,
				Status:           schemas.ActionPending,
				ApprovalRequired: true,
				StartedAt:        time.Now().UTC(),
				Reason:           fmt.Sprintf("trigger %s fired: %s", firing.TriggerID, firing.Condition),
			}
			granted, err := e.approver.Approve(ctx, entry)
			if err != nil {
				logger.Warn("Approval channel failed on trigger continuation, treating as denial", zap.Error(err))
				entry.Error = err.Error()
				granted = false
			}
			entry.ApprovalGranted = &granted
			if !granted {
				entry.Status = schemas.ActionEscalated
				run.append(entry)
				run.Status = schemas.StatusEscalated
				run.EscalationReason = fmt.Sprintf("escalation trigger %s fired and continuation was denied", firing.TriggerID)
				return false
			}
			entry.Status = schemas.ActionApproved
			entry.ApprovedBy = e.approver.Name()
			run.append(entry)

		case schemas.TriggerLog:
			// Already logged by the monitor; no control-flow effect.
		}
	}
	return true
}

// captureScreenshot takes the mandatory initial/final screenshots. Returns
// false after marking the run FAILED when the capture itself breaks.
func (e *Executor) captureScreenshot(ctx context.Context, run *runContext, filename, description string, logger *zap.Logger) bool {
	data, err := run.session.Screenshot(ctx)
	if err != nil {
		run.Status = schemas.StatusFailed
		run.Err = fmt.Sprintf("screenshot capture failed: %v", err)
		logger.Error("Screenshot capture failed", zap.Error(err))
		e.addLogArtifact(run, "error.log", run.Err, logger)
		return false
	}
	e.addRawArtifact(run, evidence.ArtifactScreenshot, filename, description, data, logger)
	return true
}

// finalize builds the result and seals the evidence bundle. It runs on
// every exit path, including gate blocks and side-effect failures.
func (e *Executor) finalize(run *runContext, att *attestation.Attestation, logger *zap.Logger) *Result {
	// The action log and the attestation go into the bundle before sealing
	// so the seal covers the complete audit record.
	e.addDataArtifact(run, evidence.ArtifactMetadata, "action_log.json", "complete action log", run.Log, logger)
	e.addDataArtifact(run, evidence.ArtifactMetadata, "attestation.json", "policy attestation in force", att, logger)

	run.Bundle.Complete()
	sealed, err := run.Bundle.Seal()
	if err != nil {
		// Unreachable for a bundle sealed exactly once; reported, not hidden.
		logger.Error("Evidence sealing failed", zap.Error(err))
	}

	if run.Status == schemas.StatusRunning {
		run.Status = schemas.StatusCompleted
	}

	executed, blocked, escalated := 0, 0, 0
	for _, entry := range run.Log {
		switch entry.Status {
		case schemas.ActionExecuted:
			executed++
		case schemas.ActionBlocked:
			blocked++
		case schemas.ActionEscalated:
			escalated++
		}
	}

	result := &Result{
		ExecutionID:      run.ID,
		PackID:           run.Pack.ID,
		PackVersion:      run.Pack.Version,
		ProfileID:        run.Profile.ID,
		TargetURL:        run.TargetURL,
		Success:          run.Status == schemas.StatusCompleted,
		Status:           run.Status,
		StartedAt:        run.StartedAt,
		CompletedAt:      time.Now().UTC(),
		ActionsExecuted:  executed,
		ActionsBlocked:   blocked,
		ActionsEscalated: escalated,
		GateResults:      run.Gate.Results,
		Log:              run.Log,
		Evidence:         sealed,
		Attestation:      att,
		EscalationReason: run.EscalationReason,
		Error:            run.Err,
	}

	logger.Info("Execution finished",
		zap.String("status", string(result.Status)),
		zap.Int("executed", executed),
		zap.Int("blocked", blocked))
	return result
}

// addRawArtifact appends pre-serialized bytes as evidence and returns the
// artifact ID; sealing errors cannot occur mid-run but are still logged.
func (e *Executor) addRawArtifact(run *runContext, t evidence.ArtifactType, filename, description string, data []byte, logger *zap.Logger) string {
	a, err := run.Bundle.AddArtifact(t, filename, description, data)
	if err != nil {
		logger.Error("Failed to append evidence artifact", zap.String("filename", filename), zap.Error(err))
		return ""
	}
	return a.ID
}

// addDataArtifact JSON-encodes a value and appends it as evidence.
func (e *Executor) addDataArtifact(run *runContext, t evidence.ArtifactType, filename, description string, v any, logger *zap.Logger) {
	data, err := jsonMarshal(v)
	if err != nil {
		logger.Error("Failed to encode evidence payload", zap.String("filename", filename), zap.Error(err))
		return
	}
	e.addRawArtifact(run, t, filename, description, data, logger)
}

// addLogArtifact appends a plain-text log artifact.
func (e *Executor) addLogArtifact(run *runContext, filename, message string, logger *zap.Logger) {
	e.addRawArtifact(run, evidence.ArtifactLog, filename, "run log record", []byte(message), logger)
}
