// File: api/schemas/pack.go
// Description: Declarative Job Pack contract. A pack describes everything a run
// is permitted to do: the authority split of actions into risk tiers, the
// domain/action permission set, the ordered procedure, and the escalation
// triggers that can terminate a run early. Packs are immutable once loaded.
package schemas

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// RiskTier classifies how autonomously an action may run.
// Ordering matters: informational < advisory < mandatory.
type RiskTier string

const (
	TierInformational RiskTier = "informational"
	TierAdvisory      RiskTier = "advisory"
	TierMandatory     RiskTier = "mandatory"
)

// Ordinal returns the tier's position for threshold comparisons.
// Unknown tiers rank above mandatory so that garbage input never
// slips under an autonomy ceiling.
func (t RiskTier) Ordinal() int {
	switch t {
	case TierInformational:
		return 0
	case TierAdvisory:
		return 1
	case TierMandatory:
		return 2
	default:
		return 3
	}
}

// Valid reports whether t is one of the three declared tiers.
func (t RiskTier) Valid() bool {
	return t == TierInformational || t == TierAdvisory || t == TierMandatory
}

// CertificationLevel is the assurance tier a pack has been certified at.
// A pack with no declared certification defaults to CertUncertified.
type CertificationLevel int

const (
	CertUncertified CertificationLevel = iota
	CertSelfTested
	CertReviewed
	CertAudited
)

func (c CertificationLevel) String() string {
	switch c {
	case CertUncertified:
		return "uncertified"
	case CertSelfTested:
		return "self_tested"
	case CertReviewed:
		return "reviewed"
	case CertAudited:
		return "audited"
	default:
		return "unknown"
	}
}

// ParseCertificationLevel maps a level name to its value.
func ParseCertificationLevel(s string) (CertificationLevel, error) {
	switch s {
	case "uncertified":
		return CertUncertified, nil
	case "self_tested":
		return CertSelfTested, nil
	case "reviewed":
		return CertReviewed, nil
	case "audited":
		return CertAudited, nil
	default:
		return CertUncertified, fmt.Errorf("unknown certification level %q", s)
	}
}

// UnmarshalYAML accepts either the level name or its numeric value, so pack
// files read "certification_level: reviewed" instead of a bare integer.
func (c *CertificationLevel) UnmarshalYAML(node *yaml.Node) error {
	var name string
	if err := node.Decode(&name); err == nil {
		level, err := ParseCertificationLevel(name)
		if err != nil {
			return err
		}
		*c = level
		return nil
	}
	var n int
	if err := node.Decode(&n); err != nil {
		return fmt.Errorf("certification_level must be a name or integer: %w", err)
	}
	if n < int(CertUncertified) || n > int(CertAudited) {
		return fmt.Errorf("certification_level %d out of range", n)
	}
	*c = CertificationLevel(n)
	return nil
}

// MarshalYAML emits the level name.
func (c CertificationLevel) MarshalYAML() (any, error) {
	return c.String(), nil
}

// TriggerAction is what the engine does when an escalation trigger fires.
type TriggerAction string

const (
	TriggerStop TriggerAction = "STOP"
	TriggerAsk  TriggerAction = "ASK"
	TriggerLog  TriggerAction = "LOG"
)

// TriggerSeverity grades how serious a fired trigger is for reporting.
type TriggerSeverity string

const (
	TriggerSeverityWarning  TriggerSeverity = "warning"
	TriggerSeverityCritical TriggerSeverity = "critical"
)

// AuthorityModel splits a pack's permitted action types into the three
// risk tiers. An action type must appear in exactly one tier.
type AuthorityModel struct {
	Informational []string `json:"informational" yaml:"informational"`
	Advisory      []string `json:"advisory" yaml:"advisory"`
	Mandatory     []string `json:"mandatory" yaml:"mandatory"`
}

// TierOf returns the declared tier for an action type, and whether the
// action type appears in the authority model at all.
func (a AuthorityModel) TierOf(actionType string) (RiskTier, bool) {
	for _, t := range a.Informational {
		if t == actionType {
			return TierInformational, true
		}
	}
	for _, t := range a.Advisory {
		if t == actionType {
			return TierAdvisory, true
		}
	}
	for _, t := range a.Mandatory {
		if t == actionType {
			return TierMandatory, true
		}
	}
	return "", false
}

// PermissionSet bounds where a pack may act and what it may never do.
type PermissionSet struct {
	// AllowedDomains are the domain patterns a run may navigate within.
	// Patterns of the form "*.example.com" match any subdomain and the
	// bare domain itself.
	AllowedDomains []string `json:"allowed_domains" yaml:"allowed_domains"`
	// ForbiddenActions maps an action type to the human-readable reason
	// the pack author forbade it.
	ForbiddenActions map[string]string `json:"forbidden_actions" yaml:"forbidden_actions"`
}

// ProcedureStep is one declared action in the pack's ordered procedure.
type ProcedureStep struct {
	ID          string   `json:"id" yaml:"id"`
	ActionType  string   `json:"action_type" yaml:"action_type"`
	RiskTier    RiskTier `json:"risk_tier" yaml:"risk_tier"`
	Description string   `json:"description" yaml:"description"`
	// Target is the selector, query or reference the action operates on.
	Target string `json:"target,omitempty" yaml:"target,omitempty"`
	// Input is free text for actions that type or submit data.
	Input string `json:"input,omitempty" yaml:"input,omitempty"`
}

// EscalationTrigger is a pack-declared condition evaluated against the
// running action log after every step. The condition grammar is a single
// comparison: "<rate_name> > <threshold>".
type EscalationTrigger struct {
	ID        string          `json:"id" yaml:"id"`
	Condition string          `json:"condition" yaml:"condition"`
	Action    TriggerAction   `json:"action" yaml:"action"`
	Severity  TriggerSeverity `json:"severity" yaml:"severity"`
}

// JobPack is the full declarative contract for one governed run.
type JobPack struct {
	ID                 string              `json:"id" yaml:"id"`
	Name               string              `json:"name" yaml:"name"`
	Version            string              `json:"version" yaml:"version"`
	CertificationLevel CertificationLevel  `json:"certification_level" yaml:"certification_level"`
	Authority          AuthorityModel      `json:"authority" yaml:"authority"`
	Permissions        PermissionSet       `json:"permissions" yaml:"permissions"`
	Procedure          []ProcedureStep     `json:"procedure" yaml:"procedure"`
	Escalations        []EscalationTrigger `json:"escalations" yaml:"escalations"`
}
