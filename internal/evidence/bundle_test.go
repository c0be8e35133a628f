// File: internal/evidence/bundle_test.go
package evidence

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sha256 of the empty string.
const emptyDigest = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"

func TestHashPayload(t *testing.T) {
	t.Parallel()

	assert.Equal(t, emptyDigest, HashPayload(nil))
	assert.Equal(t, emptyDigest, HashPayload([]byte{}))
	assert.NotEqual(t, emptyDigest, HashPayload([]byte("x")))
	assert.Len(t, HashPayload([]byte("x")), 64)
}

func TestBundleLifecycle(t *testing.T) {
	t.Parallel()

	b := New("pack-1", "exec-1")
	assert.Equal(t, StatusCollecting, b.Status)
	assert.Empty(t, b.Artifacts())

	shot, err := b.AddArtifact(ArtifactScreenshot, "initial.png", "initial page state", []byte{0x89, 0x50})
	require.NoError(t, err)
	assert.NotEmpty(t, shot.ID)
	assert.Equal(t, HashPayload([]byte{0x89, 0x50}), shot.ContentHash)
	assert.Equal(t, 2, shot.Size)

	_, err = b.AddArtifact(ArtifactLog, "run.log", "", nil)
	require.NoError(t, err)
	assert.Len(t, b.Artifacts(), 2)

	sealed, err := b.Seal()
	require.NoError(t, err)
	assert.Equal(t, StatusSealed, sealed.Status)
	assert.NotEmpty(t, sealed.ManifestHash)
	assert.NotEmpty(t, sealed.SealHash)
	assert.False(t, sealed.CompletedAt.IsZero())

	t.Run("sealed source rejects additions", func(t *testing.T) {
		_, err := b.AddArtifact(ArtifactData, "late.json", "", []byte("{}"))
		assert.ErrorIs(t, err, ErrSealed)
	})

	t.Run("double seal is an error", func(t *testing.T) {
		_, err := b.Seal()
		assert.ErrorIs(t, err, ErrSealed)
	})

	t.Run("sealed bundle verifies", func(t *testing.T) {
		assert.NoError(t, sealed.Verify())
	})
}

func TestManifestHashIsPure(t *testing.T) {
	t.Parallel()

	artifacts := []Artifact{
		{ID: "a1", ContentHash: HashPayload([]byte("one"))},
		{ID: "a2", ContentHash: HashPayload([]byte("two"))},
	}
	first := ManifestHash(artifacts)
	second := ManifestHash(artifacts)
	assert.Equal(t, first, second, "manifest hash must be a pure function of the (id, hash) pairs")

	// Order matters: the manifest covers the append sequence.
	swapped := ManifestHash([]Artifact{artifacts[1], artifacts[0]})
	assert.NotEqual(t, first, swapped)

	// Content matters.
	tampered := []Artifact{artifacts[0], {ID: "a2", ContentHash: HashPayload([]byte("TWO"))}}
	assert.NotEqual(t, first, ManifestHash(tampered))
}

func TestVerifyDetectsTampering(t *testing.T) {
	t.Parallel()

	b := New("pack-1", "exec-1")
	_, err := b.AddArtifact(ArtifactData, "extract.json", "", []byte(`{"price": 10}`))
	require.NoError(t, err)
	sealed, err := b.Seal()
	require.NoError(t, err)
	require.NoError(t, sealed.Verify())

	t.Run("artifact hash swap", func(t *testing.T) {
		corrupt := *sealed
		corrupt.Artifacts = append([]Artifact(nil), sealed.Artifacts...)
		corrupt.Artifacts[0].ContentHash = HashPayload([]byte("other"))
		assert.Error(t, corrupt.Verify())
	})

	t.Run("timestamp rewrite", func(t *testing.T) {
		corrupt := *sealed
		corrupt.CompletedAt = corrupt.CompletedAt.Add(1)
		assert.Error(t, corrupt.Verify())
	})

	t.Run("execution id rewrite", func(t *testing.T) {
		corrupt := *sealed
		corrupt.ExecutionID = "exec-2"
		assert.Error(t, corrupt.Verify())
	})
}

// The sealed bundle is the externally consumed audit artifact; its JSON
// round-trip must preserve everything Verify needs.
func TestSealedBundleJSONRoundTrip(t *testing.T) {
	t.Parallel()

	b := New("pack-1", "exec-1")
	_, err := b.AddArtifact(ArtifactScreenshot, "final.png", "final page state", []byte("png-bytes"))
	require.NoError(t, err)
	sealed, err := b.Seal()
	require.NoError(t, err)

	raw, err := json.Marshal(sealed)
	require.NoError(t, err)

	var decoded SealedBundle
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.NoError(t, decoded.Verify())
	assert.Equal(t, sealed.SealHash, decoded.SealHash)
}
