// File: internal/policy/routing/router.go
// Description: Signal-driven policy refinement. The router consults the risk
// advisor before a run and tightens the profile when the analytics side
// reports drift or elevated risk. The advisor is best-effort: any failure
// degrades to the base profile unchanged.
package routing

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/knowledgepa3/warden/api/schemas"
)

// HighRiskScore is the advisor score at which the router tightens policy
// even without an explicit drift alert.
const HighRiskScore = 0.8

// Router refines run profiles from advisor signals.
type Router struct {
	advisor schemas.RiskAdvisor
	log     *zap.Logger
}

// NewRouter wires the advisor. A nil advisor is rejected; callers without
// analytics simply skip the router.
func NewRouter(advisor schemas.RiskAdvisor, logger *zap.Logger) (*Router, error) {
	if advisor == nil {
		return nil, errors.New("risk advisor cannot be nil")
	}
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	return &Router{
		advisor: advisor,
		log:     logger.Named("routing"),
	}, nil
}

// Refine returns the profile to use for a run. The input profile is never
// mutated; tightening always operates on a copy.
func (r *Router) Refine(ctx context.Context, profile *schemas.RiskProfile, workerTypes []string) *schemas.RiskProfile {
	signals, err := r.advisor.FetchSignals(ctx, workerTypes)
	if err != nil {
		r.log.Warn("Risk advisor unavailable, using base profile unchanged", zap.Error(err))
		return profile
	}

	elevated := false
	for _, signal := range signals {
		if signal.DriftAlert || signal.Score >= HighRiskScore {
			elevated = true
			r.log.Warn("Elevated risk signal received",
				zap.String("worker_type", signal.WorkerType),
				zap.Float64("score", signal.Score),
				zap.Bool("drift_alert", signal.DriftAlert))
		}
	}
	if !elevated {
		return profile
	}

	tightened := *profile
	tightened.Appetite.MaxAutonomousTier = lowerTier(profile.Appetite.MaxAutonomousTier)
	tightened.Appetite.AllowAutonomousMandatory = false
	tightened.Appetite.EvidenceStrictness = schemas.EvidenceStrict

	r.log.Info("Profile tightened for this run",
		zap.String("profile", profile.Name),
		zap.String("ceiling", string(tightened.Appetite.MaxAutonomousTier)))
	return &tightened
}

// lowerTier steps the autonomy ceiling down one tier; informational is the
// floor.
func lowerTier(t schemas.RiskTier) schemas.RiskTier {
	switch t {
	case schemas.TierMandatory:
		return schemas.TierAdvisory
	case schemas.TierAdvisory:
		return schemas.TierInformational
	default:
		return schemas.TierInformational
	}
}
