// File: api/schemas/interfaces.go
// Description: Canonical interfaces for the collaborators the engine consumes.
// Defining them here, next to the data types they exchange, keeps the
// dependency direction flat: implementations live under internal/ and depend
// on this package, never the other way around.
package schemas

import "context"

// AutomationBackend owns the browser process and hands out isolated page
// sessions. Every run gets its own session; the backend never exposes a
// shared page, so evidence captured in one run cannot show another run's
// state.
type AutomationBackend interface {
	// NewSession opens a fresh, isolated page context for one run.
	NewSession(ctx context.Context) (AutomationSession, error)
	// Close releases the backend and any remaining sessions.
	Close(ctx context.Context) error
}

// AutomationSession performs the browser side effects for exactly one run.
// The engine treats every returned error as an unexpected failure that
// terminates the run.
type AutomationSession interface {
	// Navigate loads the given URL and waits for the page to settle.
	Navigate(ctx context.Context, url string) error
	// Screenshot captures the current viewport as an image.
	Screenshot(ctx context.Context) ([]byte, error)
	// ReadPage returns a structured text rendering of the current page.
	ReadPage(ctx context.Context) (string, error)
	// Find resolves a query (selector or visible text) to an element
	// reference usable by Click and Type.
	Find(ctx context.Context, query string) (string, error)
	// Click clicks the referenced element.
	Click(ctx context.Context, ref string) error
	// Type enters text into the referenced element.
	Type(ctx context.Context, ref string, text string) error
	// PageText returns the visible text content of the current page.
	PageText(ctx context.Context) (string, error)
	// Close releases the session's page.
	Close(ctx context.Context) error
}

// ApprovalChannel collects a human verdict for a pending action. A denial is
// a normal (false, nil) result, not an error; errors indicate the channel
// itself broke and are treated as denials by the engine.
type ApprovalChannel interface {
	Approve(ctx context.Context, entry ActionLogEntry) (bool, error)
	// Name identifies the channel in audit records.
	Name() string
}

// RiskSignal is one per-worker-type data point from the analytics
// collaborator consumed by the policy-routing layer.
type RiskSignal struct {
	WorkerType string  `json:"worker_type"`
	Score      float64 `json:"score"`
	DriftAlert bool    `json:"drift_alert"`
}

// RiskAdvisor supplies best-effort risk signals. Implementations must be
// safe to fail: callers degrade to their base policy set on any error.
type RiskAdvisor interface {
	FetchSignals(ctx context.Context, workerTypes []string) ([]RiskSignal, error)
}
