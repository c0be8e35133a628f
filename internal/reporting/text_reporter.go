// File: internal/reporting/text_reporter.go
package reporting

import (
	"fmt"
	"io"

	"github.com/knowledgepa3/warden/internal/engine"
)

// TextReporter prints a compact human-readable run summary.
type TextReporter struct {
	writer io.WriteCloser
}

// NewTextReporter takes ownership of the writer.
func NewTextReporter(writer io.WriteCloser) *TextReporter {
	return &TextReporter{writer: writer}
}

func (r *TextReporter) Write(result *engine.Result) error {
	w := r.writer
	fmt.Fprintf(w, "Execution %s\n", result.ExecutionID)
	fmt.Fprintf(w, "  Pack:     %s@%s\n", result.PackID, result.PackVersion)
	fmt.Fprintf(w, "  Profile:  %s\n", result.ProfileID)
	fmt.Fprintf(w, "  Target:   %s\n", result.TargetURL)
	fmt.Fprintf(w, "  Status:   %s\n", result.Status)
	fmt.Fprintf(w, "  Actions:  %d executed, %d blocked, %d escalated\n",
		result.ActionsExecuted, result.ActionsBlocked, result.ActionsEscalated)
	if result.EscalationReason != "" {
		fmt.Fprintf(w, "  Escalation: %s\n", result.EscalationReason)
	}
	if result.Error != "" {
		fmt.Fprintf(w, "  Error:    %s\n", result.Error)
	}
	if result.Evidence != nil {
		fmt.Fprintf(w, "  Evidence: %d artifacts, seal %s\n",
			len(result.Evidence.Artifacts), result.Evidence.SealHash)
	}
	for _, entry := range result.Log {
		line := fmt.Sprintf("    [%s] %s %s", entry.Status, entry.StepID, entry.ActionType)
		if entry.Reason != "" {
			line += " (" + entry.Reason + ")"
		}
		fmt.Fprintln(w, line)
	}
	return nil
}

func (r *TextReporter) Close() error {
	return r.writer.Close()
}
