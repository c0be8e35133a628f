// File: internal/policy/gates/gates.go
// Description: Pre-flight admissibility gates. Pure functions over the pack,
// the profile and the normalized target host; no side effects, no errors.
// A single BLOCKING failure halts the run before anything touches the browser.
package gates

import (
	"fmt"
	"strings"

	"github.com/knowledgepa3/warden/api/schemas"
)

// Severity grades an individual gate result.
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityBlocking Severity = "BLOCKING"
)

// Gate identifiers, reported verbatim in results and terminal errors.
const (
	GateCertificationLevel = "CERTIFICATION_LEVEL"
	GatePackEnabled        = "PACK_ENABLED"
	GateDomainScope        = "DOMAIN_SCOPE"
)

// Result is the outcome of one gate.
type Result struct {
	Gate     string   `json:"gate"`
	Passed   bool     `json:"passed"`
	Reason   string   `json:"reason"`
	Severity Severity `json:"severity"`
}

// Decision aggregates all gate results. CanExecute is true only when every
// gate either passed or failed with non-BLOCKING severity. BlockingReason
// carries the first BLOCKING failure for the run's terminal error.
type Decision struct {
	CanExecute     bool     `json:"can_execute"`
	Results        []Result `json:"results"`
	BlockingReason string   `json:"blocking_reason,omitempty"`
}

// Evaluate runs every gate against the pack, profile and target host.
// targetDomain must already be a normalized hostname (no scheme, port or
// trailing dot); matching is case-sensitive on what the caller provides.
func Evaluate(pack *schemas.JobPack, profile *schemas.RiskProfile, targetDomain string) Decision {
	results := []Result{
		certificationGate(pack, profile),
		packEnabledGate(pack, profile),
		domainGate(pack, profile, targetDomain),
	}

	decision := Decision{CanExecute: true, Results: results}
	for _, r := range results {
		if !r.Passed && r.Severity == SeverityBlocking {
			decision.CanExecute = false
			if decision.BlockingReason == "" {
				decision.BlockingReason = fmt.Sprintf("%s: %s", r.Gate, r.Reason)
			}
		}
	}
	return decision
}

// certificationGate requires the pack's certification level to meet the
// profile's minimum. A pack with no declared level is treated as uncertified.
func certificationGate(pack *schemas.JobPack, profile *schemas.RiskProfile) Result {
	level := pack.CertificationLevel
	min := profile.Appetite.MinPackCertification
	if level >= min {
		return Result{
			Gate:     GateCertificationLevel,
			Passed:   true,
			Reason:   fmt.Sprintf("pack certified %s, minimum %s", level, min),
			Severity: SeverityInfo,
		}
	}
	return Result{
		Gate:     GateCertificationLevel,
		Passed:   false,
		Reason:   fmt.Sprintf("pack certification %s below required minimum %s", level, min),
		Severity: SeverityBlocking,
	}
}

// packEnabledGate checks the profile's enabled-pack list. An empty list is
// an explicit default-allow.
func packEnabledGate(pack *schemas.JobPack, profile *schemas.RiskProfile) Result {
	enabled := profile.Appetite.EnabledPacks
	if len(enabled) == 0 {
		return Result{
			Gate:     GatePackEnabled,
			Passed:   true,
			Reason:   "profile permits all packs",
			Severity: SeverityInfo,
		}
	}
	for _, id := range enabled {
		if id == pack.ID {
			return Result{
				Gate:     GatePackEnabled,
				Passed:   true,
				Reason:   fmt.Sprintf("pack %q is enabled by the profile", pack.ID),
				Severity: SeverityInfo,
			}
		}
	}
	return Result{
		Gate:     GatePackEnabled,
		Passed:   false,
		Reason:   fmt.Sprintf("pack %q is not in the profile's enabled-pack list", pack.ID),
		Severity: SeverityBlocking,
	}
}

// domainGate checks the profile's blocked patterns first; a blocked match
// short-circuits. The target must then fall inside both the profile's and
// the pack's allow-lists, where an empty list means no restriction.
func domainGate(pack *schemas.JobPack, profile *schemas.RiskProfile, targetDomain string) Result {
	for _, pattern := range profile.Appetite.BlockedDomains {
		if MatchDomain(pattern, targetDomain) {
			return Result{
				Gate:     GateDomainScope,
				Passed:   false,
				Reason:   fmt.Sprintf("domain %q matches blocked pattern %q", targetDomain, pattern),
				Severity: SeverityBlocking,
			}
		}
	}

	if !matchAny(profile.Appetite.AllowedDomains, targetDomain) {
		return Result{
			Gate:     GateDomainScope,
			Passed:   false,
			Reason:   fmt.Sprintf("domain %q matches no pattern in the profile's allow-list", targetDomain),
			Severity: SeverityBlocking,
		}
	}
	if !matchAny(pack.Permissions.AllowedDomains, targetDomain) {
		return Result{
			Gate:     GateDomainScope,
			Passed:   false,
			Reason:   fmt.Sprintf("domain %q is outside the pack's declared domains", targetDomain),
			Severity: SeverityBlocking,
		}
	}
	return Result{
		Gate:     GateDomainScope,
		Passed:   true,
		Reason:   fmt.Sprintf("domain %q is within scope", targetDomain),
		Severity: SeverityInfo,
	}
}

// matchAny reports whether the host matches any pattern. An empty pattern
// list is an explicit default-allow.
func matchAny(patterns []string, host string) bool {
	if len(patterns) == 0 {
		return true
	}
	for _, pattern := range patterns {
		if MatchDomain(pattern, host) {
			return true
		}
	}
	return false
}

// MatchDomain reports whether a domain pattern matches a hostname.
// "*.example.com" matches every subdomain of example.com and the bare
// domain itself; anything else is an exact match. Matching is suffix-based
// and case-sensitive.
func MatchDomain(pattern, host string) bool {
	if pattern == "" || host == "" {
		return false
	}
	if base, ok := strings.CutPrefix(pattern, "*."); ok {
		return host == base || strings.HasSuffix(host, "."+base)
	}
	return pattern == host
}
