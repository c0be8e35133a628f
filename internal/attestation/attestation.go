// File: internal/attestation/attestation.go
// Description: Point-in-time attestation of the policy values in force during
// a run. The snapshot copies only the runtime-enforceable fields out of the
// Risk Profile, so later edits to the live profile cannot retroactively alter
// what a past run is proven to have obeyed. Hashing is SHA-256 over the
// RFC 8785 canonical JSON of the snapshot, hash field excluded, so any
// external tool can recompute it from the serialized record.
package attestation

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/gowebpki/jcs"

	"github.com/knowledgepa3/warden/api/schemas"
)

// ErrHashMismatch is returned by Verify when the recomputed content hash
// differs from the stored one.
var ErrHashMismatch = errors.New("attestation: content hash mismatch")

// Snapshot holds the enforceable policy values copied from a Risk Profile.
// Every field participates in the content hash.
type Snapshot struct {
	ProfileID                string                     `json:"profile_id"`
	ProfileName              string                     `json:"profile_name"`
	ForbiddenActions         []string                   `json:"forbidden_actions"`
	AlwaysApprove            []string                   `json:"always_approve"`
	AutoApproved             []string                   `json:"auto_approved"`
	MaxAutonomousTier        schemas.RiskTier           `json:"max_autonomous_tier"`
	AllowAutonomousMandatory bool                       `json:"allow_autonomous_mandatory"`
	EvidenceStrictness       schemas.EvidenceStrictness `json:"evidence_strictness"`
	AllowAuthSessions        bool                       `json:"allow_auth_sessions"`
	MinConfidence            float64                    `json:"min_confidence"`
	MaxRetries               int                        `json:"max_retries"`
	StepTimeoutMs            int64                      `json:"step_timeout_ms"`
	IdleEscalationTimeoutMs  int64                      `json:"idle_escalation_timeout_ms"`
	EscalationSensitivity    string                     `json:"escalation_sensitivity"`
}

// Attestation is the signed-by-name, hashed snapshot record.
type Attestation struct {
	ID          string    `json:"id"`
	AttestedBy  string    `json:"attested_by"`
	AttestedAt  time.Time `json:"attested_at"`
	Snapshot    Snapshot  `json:"snapshot"`
	ContentHash string    `json:"content_hash"`
}

// Build snapshots the profile's enforceable values and hashes them.
func Build(profile *schemas.RiskProfile, attestedBy string) (*Attestation, error) {
	snapshot := Snapshot{
		ProfileID:                profile.ID,
		ProfileName:              profile.Name,
		ForbiddenActions:         cloneOrEmpty(profile.Appetite.ForbiddenActions),
		AlwaysApprove:            cloneOrEmpty(profile.Appetite.AlwaysApprove),
		AutoApproved:             cloneOrEmpty(profile.Appetite.AutoApproved),
		MaxAutonomousTier:        profile.Appetite.MaxAutonomousTier,
		AllowAutonomousMandatory: profile.Appetite.AllowAutonomousMandatory,
		EvidenceStrictness:       profile.Appetite.EvidenceStrictness,
		AllowAuthSessions:        profile.Appetite.AllowAuthSessions,
		MinConfidence:            profile.Tolerance.MinConfidence,
		MaxRetries:               profile.Tolerance.MaxRetries,
		StepTimeoutMs:            profile.Tolerance.StepTimeout.Milliseconds(),
		IdleEscalationTimeoutMs:  profile.Tolerance.IdleEscalationTimeout.Milliseconds(),
		EscalationSensitivity:    profile.Tolerance.EscalationSensitivity,
	}

	hash, err := hashSnapshot(snapshot)
	if err != nil {
		return nil, err
	}
	return &Attestation{
		ID:          uuid.NewString(),
		AttestedBy:  attestedBy,
		AttestedAt:  time.Now().UTC(),
		Snapshot:    snapshot,
		ContentHash: hash,
	}, nil
}

// Verify recomputes the snapshot hash and compares it against the stored
// value. A mismatch is a hard failure, never a warning.
func Verify(a *Attestation) error {
	hash, err := hashSnapshot(a.Snapshot)
	if err != nil {
		return err
	}
	if hash != a.ContentHash {
		return fmt.Errorf("%w: stored %s, recomputed %s", ErrHashMismatch, a.ContentHash, hash)
	}
	return nil
}

// hashSnapshot is a pure function of the snapshot content: canonical JSON
// (RFC 8785) then SHA-256 hex. Canonicalization fixes key order and number
// formatting so the digest is stable across serializers.
func hashSnapshot(s Snapshot) (string, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("attestation: marshal snapshot: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("attestation: canonicalize snapshot: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// cloneOrEmpty copies a list so the snapshot cannot alias the live profile,
// normalizing nil to an empty slice for stable JSON.
func cloneOrEmpty(in []string) []string {
	out := make([]string, len(in))
	copy(out, in)
	return out
}
