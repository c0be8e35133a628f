// File: internal/orchestrator/orchestrator.go
// Description: Manages the high-level lifecycle of governed runs. It is
// injected with a configured run engine and reporter via interfaces, making
// it decoupled and testable.
package orchestrator

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/knowledgepa3/warden/api/schemas"
	"github.com/knowledgepa3/warden/internal/config"
	"github.com/knowledgepa3/warden/internal/engine"
)

// Engine is the run engine surface the orchestrator drives.
type Engine interface {
	Start(ctx context.Context, runChan <-chan engine.RunRequest)
	Stop()
}

// Reporter receives every finished run result.
type Reporter interface {
	Write(result *engine.Result) error
}

// Orchestrator fans a batch of targets out to the run engine, collects the
// results in submission order and hands them to the reporter.
type Orchestrator struct {
	cfg      config.Interface
	logger   *zap.Logger
	engine   Engine
	reporter Reporter
}

// New creates an Orchestrator with its dependencies provided as interfaces.
func New(cfg config.Interface, logger *zap.Logger, eng Engine, reporter Reporter) (*Orchestrator, error) {
	if cfg == nil || logger == nil || eng == nil || reporter == nil {
		return nil, fmt.Errorf("cannot initialize orchestrator with nil dependencies")
	}
	return &Orchestrator{
		cfg:      cfg,
		logger:   logger.Named("orchestrator"),
		engine:   eng,
		reporter: reporter,
	}, nil
}

// Execute runs the pack against every target under the given profile. All
// targets share one engine lifecycle; results come back in target order.
// A rejected run (malformed target) fails the whole batch, a run that merely
// finished unsuccessfully does not.
func (o *Orchestrator) Execute(ctx context.Context, pack *schemas.JobPack, profile *schemas.RiskProfile, targets []string) ([]*engine.Result, error) {
	if pack == nil || profile == nil {
		return nil, fmt.Errorf("pack and profile are required")
	}
	if len(targets) == 0 {
		return nil, fmt.Errorf("at least one target is required")
	}

	o.logger.Info("Starting governed run batch",
		zap.String("pack_id", pack.ID),
		zap.String("profile", profile.Name),
		zap.Int("targets", len(targets)))

	queueSize := o.cfg.Engine().QueueSize
	if queueSize <= 0 {
		queueSize = len(targets)
	}
	runChan := make(chan engine.RunRequest, queueSize)

	o.engine.Start(ctx, runChan)

	results := make([]*engine.Result, len(targets))
	g, gctx := errgroup.WithContext(ctx)
	for i, target := range targets {
		i, target := i, target
		g.Go(func() error {
			done := make(chan *engine.Result, 1)
			select {
			case runChan <- engine.RunRequest{Pack: pack, Profile: profile, TargetURL: target, Done: done}:
			case <-gctx.Done():
				return gctx.Err()
			}
			select {
			case result := <-done:
				if result == nil {
					return fmt.Errorf("run rejected for target %s", target)
				}
				results[i] = result
				return nil
			case <-gctx.Done():
				return gctx.Err()
			}
		})
	}

	batchErr := g.Wait()

	// Closing the queue lets workers drain and exit; Stop waits for them.
	close(runChan)
	o.engine.Stop()

	for _, result := range results {
		if result == nil {
			continue
		}
		if err := o.reporter.Write(result); err != nil {
			o.logger.Error("Failed to write run report",
				zap.String("execution_id", result.ExecutionID),
				zap.Error(err))
		}
	}

	if batchErr != nil {
		return results, batchErr
	}

	o.logger.Info("Governed run batch finished", zap.String("pack_id", pack.ID))
	return results, nil
}
