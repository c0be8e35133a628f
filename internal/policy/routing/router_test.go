// File: internal/policy/routing/router_test.go
package routing

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/knowledgepa3/warden/api/schemas"
)

type stubAdvisor struct {
	signals []schemas.RiskSignal
	err     error
}

func (s stubAdvisor) FetchSignals(context.Context, []string) ([]schemas.RiskSignal, error) {
	return s.signals, s.err
}

func TestNewRouterValidation(t *testing.T) {
	t.Parallel()

	_, err := NewRouter(nil, zap.NewNop())
	assert.Error(t, err)
	_, err = NewRouter(stubAdvisor{}, nil)
	assert.Error(t, err)
}

func TestRefineDegradesOnAdvisorFailure(t *testing.T) {
	t.Parallel()

	r, err := NewRouter(stubAdvisor{err: errors.New("connection refused")}, zap.NewNop())
	require.NoError(t, err)

	profile := schemas.BalancedProfile()
	refined := r.Refine(context.Background(), &profile, []string{"browser"})
	assert.Same(t, &profile, refined, "advisor failure must return the base profile")
}

func TestRefineKeepsProfileOnCalmSignals(t *testing.T) {
	t.Parallel()

	r, err := NewRouter(stubAdvisor{signals: []schemas.RiskSignal{
		{WorkerType: "browser", Score: 0.2},
		{WorkerType: "network", Score: 0.5},
	}}, zap.NewNop())
	require.NoError(t, err)

	profile := schemas.BalancedProfile()
	refined := r.Refine(context.Background(), &profile, nil)
	assert.Same(t, &profile, refined)
}

func TestRefineTightensOnElevatedRisk(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		signal schemas.RiskSignal
	}{
		{"drift alert", schemas.RiskSignal{WorkerType: "browser", Score: 0.1, DriftAlert: true}},
		{"high score", schemas.RiskSignal{WorkerType: "browser", Score: 0.95}},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			r, err := NewRouter(stubAdvisor{signals: []schemas.RiskSignal{tc.signal}}, zap.NewNop())
			require.NoError(t, err)

			profile := schemas.PermissiveProfile()
			refined := r.Refine(context.Background(), &profile, nil)

			require.NotSame(t, &profile, refined)
			assert.Equal(t, schemas.TierAdvisory, refined.Appetite.MaxAutonomousTier)
			assert.False(t, refined.Appetite.AllowAutonomousMandatory)
			assert.Equal(t, schemas.EvidenceStrict, refined.Appetite.EvidenceStrictness)

			// The base profile is untouched.
			assert.Equal(t, schemas.TierMandatory, profile.Appetite.MaxAutonomousTier)
			assert.True(t, profile.Appetite.AllowAutonomousMandatory)
		})
	}
}

func TestLowerTierFloorsAtInformational(t *testing.T) {
	t.Parallel()

	assert.Equal(t, schemas.TierAdvisory, lowerTier(schemas.TierMandatory))
	assert.Equal(t, schemas.TierInformational, lowerTier(schemas.TierAdvisory))
	assert.Equal(t, schemas.TierInformational, lowerTier(schemas.TierInformational))
}
