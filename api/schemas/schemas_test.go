// File: api/schemas/schemas_test.go
package schemas

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRiskTierOrdinal(t *testing.T) {
	t.Parallel()

	assert.Less(t, TierInformational.Ordinal(), TierAdvisory.Ordinal())
	assert.Less(t, TierAdvisory.Ordinal(), TierMandatory.Ordinal())

	// Garbage tiers must never rank below the autonomy ceiling.
	assert.Greater(t, RiskTier("bogus").Ordinal(), TierMandatory.Ordinal())
	assert.False(t, RiskTier("bogus").Valid())
}

func TestAuthorityModelTierOf(t *testing.T) {
	t.Parallel()

	authority := AuthorityModel{
		Informational: []string{"read_page", "screenshot"},
		Advisory:      []string{"click"},
		Mandatory:     []string{"type"},
	}

	tier, ok := authority.TierOf("click")
	require.True(t, ok)
	assert.Equal(t, TierAdvisory, tier)

	tier, ok = authority.TierOf("type")
	require.True(t, ok)
	assert.Equal(t, TierMandatory, tier)

	_, ok = authority.TierOf("delete_account")
	assert.False(t, ok)
}

func TestProfileByName(t *testing.T) {
	t.Parallel()

	t.Run("resolves presets case-insensitively", func(t *testing.T) {
		t.Parallel()
		upper, ok := ProfileByName("BALANCED")
		require.True(t, ok)
		lower, ok := ProfileByName("balanced")
		require.True(t, ok)
		if diff := cmp.Diff(upper, lower); diff != "" {
			t.Fatalf("preset mismatch (-upper +lower):\n%s", diff)
		}
		assert.Equal(t, TierAdvisory, upper.Appetite.MaxAutonomousTier)
		assert.False(t, upper.Appetite.AllowAutonomousMandatory)
	})

	t.Run("unknown preset", func(t *testing.T) {
		t.Parallel()
		_, ok := ProfileByName("YOLO")
		assert.False(t, ok)
	})
}

func TestCertificationLevelString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "uncertified", CertUncertified.String())
	assert.Equal(t, "audited", CertAudited.String())
	assert.Equal(t, "unknown", CertificationLevel(42).String())
}

func TestExecutionStatusTerminal(t *testing.T) {
	t.Parallel()

	assert.False(t, StatusRunning.Terminal())
	for _, s := range []ExecutionStatus{StatusCompleted, StatusFailed, StatusEscalated, StatusBlocked} {
		assert.True(t, s.Terminal(), string(s))
	}
}
