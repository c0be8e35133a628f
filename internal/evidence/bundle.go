// File: internal/evidence/bundle.go
// Description: Evidence collection and sealing. A Bundle accumulates typed,
// content-hashed artifacts while a run is active. Seal consumes the bundle
// and produces a SealedBundle, a distinct type with no add operation, so
// post-seal mutation is a compile error rather than a convention.
package evidence

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrSealed is returned when artifacts are added to a bundle that has
// already been sealed.
var ErrSealed = errors.New("evidence: bundle is sealed")

// ArtifactType tags what kind of evidence an artifact carries.
type ArtifactType string

const (
	ArtifactScreenshot ArtifactType = "screenshot"
	ArtifactLog        ArtifactType = "log"
	ArtifactData       ArtifactType = "data"
	ArtifactMetadata   ArtifactType = "metadata"
)

// BundleStatus is the bundle lifecycle: COLLECTING while the run is active,
// COMPLETE once the last artifact has been added, SEALED after hashing.
type BundleStatus string

const (
	StatusCollecting BundleStatus = "COLLECTING"
	StatusComplete   BundleStatus = "COMPLETE"
	StatusSealed     BundleStatus = "SEALED"
)

// Artifact is one piece of captured evidence. ContentHash is the SHA-256
// hex digest of the payload bytes, computed at creation and never updated.
type Artifact struct {
	ID          string       `json:"id"`
	Type        ArtifactType `json:"type"`
	Filename    string       `json:"filename"`
	Description string       `json:"description,omitempty"`
	ContentHash string       `json:"content_hash"`
	Size        int          `json:"size"`
	CreatedAt   time.Time    `json:"created_at"`
	Data        []byte       `json:"data,omitempty"`
}

// Bundle is the pre-seal, collecting state. Artifacts are reachable only
// through Artifacts() so external code cannot reorder or drop entries.
type Bundle struct {
	ID          string
	PackID      string
	ExecutionID string
	CreatedAt   time.Time
	Status      BundleStatus

	artifacts []Artifact
	sealed    bool
}

// New creates an empty COLLECTING bundle for one execution.
func New(packID, executionID string) *Bundle {
	return &Bundle{
		ID:          uuid.NewString(),
		PackID:      packID,
		ExecutionID: executionID,
		CreatedAt:   time.Now().UTC(),
		Status:      StatusCollecting,
	}
}

// AddArtifact hashes the payload and appends a new artifact. The returned
// artifact carries the generated ID for cross-referencing from the action
// log. Fails with ErrSealed after Seal has run.
func (b *Bundle) AddArtifact(t ArtifactType, filename, description string, data []byte) (Artifact, error) {
	if b.sealed {
		return Artifact{}, ErrSealed
	}
	a := Artifact{
		ID:          uuid.NewString(),
		Type:        t,
		Filename:    filename,
		Description: description,
		ContentHash: HashPayload(data),
		Size:        len(data),
		CreatedAt:   time.Now().UTC(),
		Data:        data,
	}
	b.artifacts = append(b.artifacts, a)
	return a, nil
}

// Artifacts returns a copy of the artifact list in append order.
func (b *Bundle) Artifacts() []Artifact {
	out := make([]Artifact, len(b.artifacts))
	copy(out, b.artifacts)
	return out
}

// Complete marks the bundle as done collecting. Sealing from COLLECTING is
// also legal; this status exists for callers that finalize in two phases.
func (b *Bundle) Complete() {
	if !b.sealed {
		b.Status = StatusComplete
	}
}

// Seal computes the manifest and seal hashes and returns the immutable
// sealed form. The source bundle rejects further additions afterwards.
// Sealing an already sealed bundle is an error.
func (b *Bundle) Seal() (*SealedBundle, error) {
	if b.sealed {
		return nil, ErrSealed
	}
	b.sealed = true
	b.Status = StatusSealed

	completedAt := time.Now().UTC()
	manifest := ManifestHash(b.artifacts)

	sealed := &SealedBundle{
		ID:           b.ID,
		PackID:       b.PackID,
		ExecutionID:  b.ExecutionID,
		CreatedAt:    b.CreatedAt,
		CompletedAt:  completedAt,
		Status:       StatusSealed,
		Artifacts:    b.Artifacts(),
		ManifestHash: manifest,
		SealHash:     sealHash(b.ID, b.ExecutionID, manifest, completedAt),
	}
	return sealed, nil
}

// SealedBundle is the tamper-evident, JSON-serializable result of sealing.
// It structurally has no add or remove operation.
type SealedBundle struct {
	ID           string       `json:"id"`
	PackID       string       `json:"pack_id"`
	ExecutionID  string       `json:"execution_id"`
	CreatedAt    time.Time    `json:"created_at"`
	CompletedAt  time.Time    `json:"completed_at"`
	Status       BundleStatus `json:"status"`
	Artifacts    []Artifact   `json:"artifacts"`
	ManifestHash string       `json:"manifest_hash"`
	SealHash     string       `json:"seal_hash"`
}

// Verify recomputes the manifest and seal hashes from the sealed content.
// Any mismatch means the bundle was altered after sealing.
func (s *SealedBundle) Verify() error {
	manifest := ManifestHash(s.Artifacts)
	if manifest != s.ManifestHash {
		return fmt.Errorf("evidence: manifest hash mismatch: stored %s, recomputed %s", s.ManifestHash, manifest)
	}
	seal := sealHash(s.ID, s.ExecutionID, manifest, s.CompletedAt)
	if seal != s.SealHash {
		return fmt.Errorf("evidence: seal hash mismatch: stored %s, recomputed %s", s.SealHash, seal)
	}
	return nil
}

// HashPayload returns the SHA-256 hex digest of the payload bytes. An empty
// payload hashes to the well-known empty digest, so absent data is still
// covered by the manifest.
func HashPayload(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ManifestHash digests the ordered artifact list. The input is each
// artifact's "id:content_hash" pair joined by newlines, so external tooling
// can recompute it from the serialized bundle alone. It is a pure function
// of the ordered (id, hash) pairs.
func ManifestHash(artifacts []Artifact) string {
	pairs := make([]string, len(artifacts))
	for i, a := range artifacts {
		pairs[i] = a.ID + ":" + a.ContentHash
	}
	return HashPayload([]byte(strings.Join(pairs, "\n")))
}

// sealHash digests the bundle identity, manifest hash and sealing time,
// newline-separated, with the timestamp in RFC 3339 nanosecond form.
func sealHash(bundleID, executionID, manifestHash string, completedAt time.Time) string {
	input := strings.Join([]string{
		bundleID,
		executionID,
		manifestHash,
		completedAt.UTC().Format(time.RFC3339Nano),
	}, "\n")
	return HashPayload([]byte(input))
}
