// File: api/schemas/profile.go
// Description: Organization-level Risk Profile. The appetite half says what is
// categorically allowed or forbidden; the tolerance half tunes thresholds and
// timeouts. Profiles are read-only inputs to a run and may be named presets.
package schemas

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// EvidenceStrictness controls how aggressively a run captures artifacts.
type EvidenceStrictness string

const (
	EvidenceMinimal  EvidenceStrictness = "minimal"
	EvidenceStandard EvidenceStrictness = "standard"
	EvidenceStrict   EvidenceStrictness = "strict"
)

// RiskAppetite holds the categorical policy switches of a profile.
type RiskAppetite struct {
	// ForbiddenActions are globally blocked regardless of pack declarations.
	ForbiddenActions []string `json:"forbidden_actions" yaml:"forbidden_actions"`
	// AlwaysApprove lists actions that need a human verdict even when their
	// tier would otherwise auto-execute.
	AlwaysApprove []string `json:"always_approve" yaml:"always_approve"`
	// AutoApproved lists actions that skip approval even when their tier
	// would otherwise require it.
	AutoApproved []string `json:"auto_approved" yaml:"auto_approved"`
	// MaxAutonomousTier is the highest risk tier that may run without the
	// decision procedure treating it as a violation.
	MaxAutonomousTier RiskTier `json:"max_autonomous_tier" yaml:"max_autonomous_tier"`
	// AllowAutonomousMandatory permits mandatory-tier actions to auto-execute
	// when no override list claims them.
	AllowAutonomousMandatory bool `json:"allow_autonomous_mandatory" yaml:"allow_autonomous_mandatory"`
	// MinPackCertification is the lowest certification level a pack may
	// carry and still pass the pre-flight gates.
	MinPackCertification CertificationLevel `json:"min_pack_certification" yaml:"min_pack_certification"`
	// EnabledPacks restricts which pack IDs may run. Empty means all packs
	// are permitted (explicit default-allow).
	EnabledPacks []string `json:"enabled_packs" yaml:"enabled_packs"`
	// AllowedDomains and BlockedDomains are suffix patterns checked by the
	// domain gate. Blocked patterns win over allowed ones.
	AllowedDomains []string `json:"allowed_domains" yaml:"allowed_domains"`
	BlockedDomains []string `json:"blocked_domains" yaml:"blocked_domains"`
	// EvidenceStrictness tunes artifact capture density.
	EvidenceStrictness EvidenceStrictness `json:"evidence_strictness" yaml:"evidence_strictness"`
	// AllowAuthSessions permits runs against authenticated sessions.
	AllowAuthSessions bool `json:"allow_auth_sessions" yaml:"allow_auth_sessions"`
}

// RiskTolerance holds the numeric tuning knobs of a profile.
type RiskTolerance struct {
	MinConfidence         float64       `json:"min_confidence" yaml:"min_confidence"`
	MaxRetries            int           `json:"max_retries" yaml:"max_retries"`
	StepTimeout           time.Duration `json:"step_timeout" yaml:"step_timeout"`
	IdleEscalationTimeout time.Duration `json:"idle_escalation_timeout" yaml:"idle_escalation_timeout"`
	EscalationSensitivity string        `json:"escalation_sensitivity" yaml:"escalation_sensitivity"`
	AnomalyDetection      bool          `json:"anomaly_detection" yaml:"anomaly_detection"`
}

// UnmarshalYAML parses duration fields from human-readable strings such as
// "45s" or "5m", which plain yaml.v3 decoding of time.Duration rejects.
func (r *RiskTolerance) UnmarshalYAML(node *yaml.Node) error {
	type rawTolerance struct {
		MinConfidence         float64 `yaml:"min_confidence"`
		MaxRetries            int     `yaml:"max_retries"`
		StepTimeout           string  `yaml:"step_timeout"`
		IdleEscalationTimeout string  `yaml:"idle_escalation_timeout"`
		EscalationSensitivity string  `yaml:"escalation_sensitivity"`
		AnomalyDetection      bool    `yaml:"anomaly_detection"`
	}
	var raw rawTolerance
	if err := node.Decode(&raw); err != nil {
		return err
	}

	stepTimeout, err := parseOptionalDuration(raw.StepTimeout)
	if err != nil {
		return fmt.Errorf("step_timeout: %w", err)
	}
	idleTimeout, err := parseOptionalDuration(raw.IdleEscalationTimeout)
	if err != nil {
		return fmt.Errorf("idle_escalation_timeout: %w", err)
	}

	*r = RiskTolerance{
		MinConfidence:         raw.MinConfidence,
		MaxRetries:            raw.MaxRetries,
		StepTimeout:           stepTimeout,
		IdleEscalationTimeout: idleTimeout,
		EscalationSensitivity: raw.EscalationSensitivity,
		AnomalyDetection:      raw.AnomalyDetection,
	}
	return nil
}

func parseOptionalDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	return time.ParseDuration(s)
}

// RiskProfile is the complete organization policy handed to a run.
// ComplianceFrameworks is inert metadata; the engine never interprets it.
type RiskProfile struct {
	ID                   string        `json:"id" yaml:"id"`
	Name                 string        `json:"name" yaml:"name"`
	Appetite             RiskAppetite  `json:"appetite" yaml:"appetite"`
	Tolerance            RiskTolerance `json:"tolerance" yaml:"tolerance"`
	ComplianceFrameworks []string      `json:"compliance_frameworks,omitempty" yaml:"compliance_frameworks,omitempty"`
}

// BalancedProfile is the default preset: informational actions run freely,
// advisory is the autonomy ceiling, mandatory always needs a human.
func BalancedProfile() RiskProfile {
	return RiskProfile{
		ID:   "balanced",
		Name: "BALANCED",
		Appetite: RiskAppetite{
			MaxAutonomousTier:        TierAdvisory,
			AllowAutonomousMandatory: false,
			MinPackCertification:     CertSelfTested,
			EvidenceStrictness:       EvidenceStandard,
		},
		Tolerance: RiskTolerance{
			MinConfidence:         0.7,
			MaxRetries:            2,
			StepTimeout:           60 * time.Second,
			IdleEscalationTimeout: 10 * time.Minute,
			EscalationSensitivity: "medium",
			AnomalyDetection:      true,
		},
	}
}

// StrictProfile is the compliance preset: nothing above informational runs
// autonomously and only reviewed packs are admissible.
func StrictProfile() RiskProfile {
	return RiskProfile{
		ID:   "strict",
		Name: "STRICT",
		Appetite: RiskAppetite{
			MaxAutonomousTier:        TierInformational,
			AllowAutonomousMandatory: false,
			MinPackCertification:     CertReviewed,
			EvidenceStrictness:       EvidenceStrict,
		},
		Tolerance: RiskTolerance{
			MinConfidence:         0.9,
			MaxRetries:            1,
			StepTimeout:           30 * time.Second,
			IdleEscalationTimeout: 5 * time.Minute,
			EscalationSensitivity: "high",
			AnomalyDetection:      true,
		},
	}
}

// PermissiveProfile is for lab environments: mandatory actions may
// auto-execute and uncertified packs are admissible.
func PermissiveProfile() RiskProfile {
	return RiskProfile{
		ID:   "permissive",
		Name: "PERMISSIVE",
		Appetite: RiskAppetite{
			MaxAutonomousTier:        TierMandatory,
			AllowAutonomousMandatory: true,
			MinPackCertification:     CertUncertified,
			EvidenceStrictness:       EvidenceMinimal,
			AllowAuthSessions:        true,
		},
		Tolerance: RiskTolerance{
			MinConfidence:         0.5,
			MaxRetries:            3,
			StepTimeout:           120 * time.Second,
			IdleEscalationTimeout: 30 * time.Minute,
			EscalationSensitivity: "low",
		},
	}
}

// ProfileByName resolves a preset profile by its display name.
func ProfileByName(name string) (RiskProfile, bool) {
	switch name {
	case "BALANCED", "balanced":
		return BalancedProfile(), true
	case "STRICT", "strict":
		return StrictProfile(), true
	case "PERMISSIVE", "permissive":
		return PermissiveProfile(), true
	default:
		return RiskProfile{}, false
	}
}
