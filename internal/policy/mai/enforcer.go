// File: internal/policy/mai/enforcer.go
// Description: The MAI (Mandatory/Advisory/Informational) decision procedure.
// Decide classifies a single proposed action as blocked, auto-execute, or
// requires-approval. It is a total function: every input resolves to exactly
// one verdict, and it never returns an error or panics.
package mai

import (
	"fmt"

	"github.com/knowledgepa3/warden/api/schemas"
)

// BlockReason identifies which rule blocked an action.
type BlockReason string

const (
	BlockedByForbiddenAction BlockReason = "FORBIDDEN_ACTION"
	BlockedByMAILevel        BlockReason = "MAI_LEVEL"
)

// Verdict is the outcome of the decision procedure for one action.
type Verdict struct {
	Allowed          bool        `json:"allowed"`
	RequiresApproval bool        `json:"requires_approval"`
	AutoExecute      bool        `json:"auto_execute"`
	Reason           string      `json:"reason"`
	BlockedBy        BlockReason `json:"blocked_by,omitempty"`
}

// Decide applies the decision rules in order; the first match wins.
//
//  1. Globally forbidden action -> blocked (FORBIDDEN_ACTION).
//  2. Tier above the autonomy ceiling -> blocked only for mandatory-tier
//     violations (MAI_LEVEL); advisory-tier violations are warnings and fall
//     through to the remaining rules.
//  3. Always-approve list -> allowed, approval required.
//  4. Auto-approved list -> allowed, auto-execute.
//  5. Tier fallback: informational auto-executes, advisory requires approval,
//     mandatory auto-executes only when the profile explicitly permits it.
func Decide(actionType string, tier schemas.RiskTier, profile *schemas.RiskProfile) Verdict {
	appetite := profile.Appetite

	// Rule 1: global forbidden list.
	for _, forbidden := range appetite.ForbiddenActions {
		if forbidden == actionType {
			return Verdict{
				Allowed:   false,
				Reason:    fmt.Sprintf("action %q is globally forbidden by profile %s", actionType, profile.Name),
				BlockedBy: BlockedByForbiddenAction,
			}
		}
	}

	// Rule 2: autonomy ceiling. Only mandatory-tier violations block; an
	// advisory action above an informational ceiling is a warning that the
	// remaining rules resolve.
	if tier.Ordinal() > appetite.MaxAutonomousTier.Ordinal() && tier == schemas.TierMandatory {
		return Verdict{
			Allowed: false,
			Reason: fmt.Sprintf("mandatory-tier action %q exceeds autonomy ceiling %q",
				actionType, appetite.MaxAutonomousTier),
			BlockedBy: BlockedByMAILevel,
		}
	}

	// Rule 3: always-approve overrides.
	for _, name := range appetite.AlwaysApprove {
		if name == actionType {
			return Verdict{
				Allowed:          true,
				RequiresApproval: true,
				Reason:           fmt.Sprintf("action %q is on the always-approve list", actionType),
			}
		}
	}

	// Rule 4: auto-approved overrides.
	for _, name := range appetite.AutoApproved {
		if name == actionType {
			return Verdict{
				Allowed:     true,
				AutoExecute: true,
				Reason:      fmt.Sprintf("action %q is on the auto-approved list", actionType),
			}
		}
	}

	// Rule 5: tier fallback.
	switch tier {
	case schemas.TierInformational:
		return Verdict{
			Allowed:     true,
			AutoExecute: true,
			Reason:      "informational-tier actions auto-execute",
		}
	case schemas.TierMandatory:
		if appetite.AllowAutonomousMandatory {
			return Verdict{
				Allowed:     true,
				AutoExecute: true,
				Reason:      "profile permits autonomous mandatory execution",
			}
		}
		return Verdict{
			Allowed:          true,
			RequiresApproval: true,
			Reason:           "mandatory-tier actions require approval under this profile",
		}
	default:
		// Advisory, and any tier the pack failed to declare cleanly, defaults
		// to the safe outcome: a human in the loop.
		return Verdict{
			Allowed:          true,
			RequiresApproval: true,
			Reason:           fmt.Sprintf("%s-tier actions require approval", tier),
		}
	}
}
