// File: internal/packfile/packfile.go
// Description: Loads and validates Job Pack and Risk Profile YAML files.
// Validation is strict: a pack that fails any structural rule never reaches
// the engine.
package packfile

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/knowledgepa3/warden/api/schemas"
)

// LoadPack reads and validates a Job Pack from a YAML file.
func LoadPack(path string) (*schemas.JobPack, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading pack file %s: %w", path, err)
	}
	return ParsePack(data)
}

// ParsePack decodes and validates Job Pack YAML.
func ParsePack(data []byte) (*schemas.JobPack, error) {
	var pack schemas.JobPack
	if err := yaml.Unmarshal(data, &pack); err != nil {
		return nil, fmt.Errorf("parsing job pack: %w", err)
	}
	if err := ValidatePack(&pack); err != nil {
		return nil, err
	}
	return &pack, nil
}

// LoadProfile reads and validates a Risk Profile from a YAML file.
func LoadProfile(path string) (*schemas.RiskProfile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading profile file %s: %w", path, err)
	}
	return ParseProfile(data)
}

// ParseProfile decodes and validates Risk Profile YAML.
func ParseProfile(data []byte) (*schemas.RiskProfile, error) {
	var profile schemas.RiskProfile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("parsing risk profile: %w", err)
	}
	if err := ValidateProfile(&profile); err != nil {
		return nil, err
	}
	return &profile, nil
}

// ValidatePack enforces the structural rules a pack must satisfy before the
// engine will accept it.
func ValidatePack(pack *schemas.JobPack) error {
	if pack.ID == "" {
		return fmt.Errorf("pack: id is required")
	}
	if pack.Name == "" {
		return fmt.Errorf("pack %s: name is required", pack.ID)
	}
	if pack.Version == "" {
		return fmt.Errorf("pack %s: version is required", pack.ID)
	}

	// An action type must appear in exactly one authority tier.
	seen := make(map[string]schemas.RiskTier)
	tiers := []struct {
		tier    schemas.RiskTier
		actions []string
	}{
		{schemas.TierInformational, pack.Authority.Informational},
		{schemas.TierAdvisory, pack.Authority.Advisory},
		{schemas.TierMandatory, pack.Authority.Mandatory},
	}
	for _, t := range tiers {
		for _, action := range t.actions {
			if action == "" {
				return fmt.Errorf("pack %s: authority tier %s contains an empty action type", pack.ID, t.tier)
			}
			if prior, dup := seen[action]; dup {
				return fmt.Errorf("pack %s: action %q declared in both %s and %s tiers", pack.ID, action, prior, t.tier)
			}
			seen[action] = t.tier
		}
	}

	stepIDs := make(map[string]bool, len(pack.Procedure))
	for i, step := range pack.Procedure {
		if step.ID == "" {
			return fmt.Errorf("pack %s: procedure step %d has no id", pack.ID, i)
		}
		if stepIDs[step.ID] {
			return fmt.Errorf("pack %s: duplicate procedure step id %q", pack.ID, step.ID)
		}
		stepIDs[step.ID] = true
		if step.ActionType == "" {
			return fmt.Errorf("pack %s: step %s has no action_type", pack.ID, step.ID)
		}
		if step.RiskTier != "" && !step.RiskTier.Valid() {
			return fmt.Errorf("pack %s: step %s declares unknown risk tier %q", pack.ID, step.ID, step.RiskTier)
		}
	}

	for i := range pack.Escalations {
		trigger := &pack.Escalations[i]
		if trigger.ID == "" {
			return fmt.Errorf("pack %s: escalation trigger %d has no id", pack.ID, i)
		}
		if trigger.Condition == "" {
			return fmt.Errorf("pack %s: trigger %s has no condition", pack.ID, trigger.ID)
		}
		switch trigger.Action {
		case schemas.TriggerStop, schemas.TriggerAsk, schemas.TriggerLog:
		default:
			return fmt.Errorf("pack %s: trigger %s has unknown action %q", pack.ID, trigger.ID, trigger.Action)
		}
		switch trigger.Severity {
		case schemas.TriggerSeverityWarning, schemas.TriggerSeverityCritical:
		case "":
			trigger.Severity = schemas.TriggerSeverityWarning
		default:
			return fmt.Errorf("pack %s: trigger %s has unknown severity %q", pack.ID, trigger.ID, trigger.Severity)
		}
	}
	return nil
}

// ValidateProfile enforces the structural rules of a profile and fills
// defaults for optional fields.
func ValidateProfile(profile *schemas.RiskProfile) error {
	if profile.ID == "" {
		return fmt.Errorf("profile: id is required")
	}
	if profile.Name == "" {
		return fmt.Errorf("profile %s: name is required", profile.ID)
	}
	if !profile.Appetite.MaxAutonomousTier.Valid() {
		return fmt.Errorf("profile %s: max_autonomous_tier %q is not a valid risk tier",
			profile.ID, profile.Appetite.MaxAutonomousTier)
	}
	switch profile.Appetite.EvidenceStrictness {
	case schemas.EvidenceMinimal, schemas.EvidenceStandard, schemas.EvidenceStrict:
	case "":
		profile.Appetite.EvidenceStrictness = schemas.EvidenceStandard
	default:
		return fmt.Errorf("profile %s: unknown evidence_strictness %q",
			profile.ID, profile.Appetite.EvidenceStrictness)
	}
	if profile.Tolerance.MinConfidence < 0 || profile.Tolerance.MinConfidence > 1 {
		return fmt.Errorf("profile %s: min_confidence must be within [0, 1]", profile.ID)
	}
	if profile.Tolerance.MaxRetries < 0 {
		return fmt.Errorf("profile %s: max_retries cannot be negative", profile.ID)
	}
	if profile.Tolerance.StepTimeout < 0 || profile.Tolerance.IdleEscalationTimeout < 0 {
		return fmt.Errorf("profile %s: timeouts cannot be negative", profile.ID)
	}
	return nil
}
