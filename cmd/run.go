// File: cmd/run.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/knowledgepa3/warden/api/schemas"
	"github.com/knowledgepa3/warden/internal/advisor"
	"github.com/knowledgepa3/warden/internal/approval"
	"github.com/knowledgepa3/warden/internal/browser"
	"github.com/knowledgepa3/warden/internal/config"
	"github.com/knowledgepa3/warden/internal/engine"
	"github.com/knowledgepa3/warden/internal/observability"
	"github.com/knowledgepa3/warden/internal/orchestrator"
	"github.com/knowledgepa3/warden/internal/packfile"
	"github.com/knowledgepa3/warden/internal/policy/routing"
	"github.com/knowledgepa3/warden/internal/reporting"
	"github.com/knowledgepa3/warden/internal/store"
)

// newRunCmd creates and configures the `run` command.
func newRunCmd() *cobra.Command {
	var (
		packPath     string
		profileFlag  string
		output       string
		format       string
		approvalMode string
		headless     bool
		concurrency  int
	)

	runCmd := &cobra.Command{
		Use:   "run --pack <pack.yaml> [targets...]",
		Short: "Executes a job pack against one or more targets under a risk profile",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			cfg, err := loadConfig(cmd)
			if err != nil {
				observability.InitializeLogger(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "warden"})
				return err
			}

			// Flag overrides beat config file and environment.
			if cmd.Flags().Changed("headless") {
				cfg.SetBrowserHeadless(headless)
			}
			if cmd.Flags().Changed("approval") {
				cfg.SetApprovalMode(approvalMode)
			}
			if concurrency > 0 {
				cfg.SetEngineWorkerConcurrency(concurrency)
			}
			cfg.SetRunConfig(config.RunConfig{
				PackPath:    packPath,
				ProfileName: profileFlag,
				Targets:     args,
				Output:      output,
				Format:      format,
			})
			if err := cfg.Validate(); err != nil {
				return err
			}

			observability.InitializeLogger(cfg.Logger())
			logger := observability.GetLogger()
			logger.Info("Starting warden", zap.String("version", Version))

			pack, err := packfile.LoadPack(packPath)
			if err != nil {
				return err
			}
			profile, err := resolveProfile(profileFlag)
			if err != nil {
				return err
			}
			profile = refineProfile(ctx, cfg, logger, profile)

			components, err := initializeRunComponents(ctx, cfg, logger, output, format)
			if err != nil {
				if components != nil {
					components.Shutdown(logger)
				}
				return fmt.Errorf("failed to initialize run components: %w", err)
			}
			defer components.Shutdown(logger)

			results, err := components.Orchestrator.Execute(ctx, pack, profile, args)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					logger.Warn("Run aborted by user signal")
					return fmt.Errorf("run aborted by user signal")
				}
				return err
			}

			var incomplete int
			for _, result := range results {
				if result == nil || result.Status != schemas.StatusCompleted {
					incomplete++
				}
			}
			if incomplete > 0 {
				return fmt.Errorf("%d of %d runs did not complete", incomplete, len(results))
			}

			logger.Info("All runs completed", zap.Int("targets", len(results)))
			return nil
		},
	}

	runCmd.Flags().StringVarP(&packPath, "pack", "p", "", "Path to the job pack YAML file (required)")
	runCmd.Flags().StringVar(&profileFlag, "profile", "balanced", "Risk profile: a preset (strict, balanced, permissive) or a path to a profile YAML file")
	runCmd.Flags().StringVarP(&output, "output", "o", "", "Output file path for the run report. Defaults to stdout.")
	runCmd.Flags().StringVarP(&format, "format", "f", "text", "Report format ('json' or 'text')")
	runCmd.Flags().StringVar(&approvalMode, "approval", "", "Approval mode: console, auto-approve or auto-deny. (Overrides config/env)")
	runCmd.Flags().BoolVar(&headless, "headless", true, "Run the browser headless. (Overrides config/env)")
	runCmd.Flags().IntVarP(&concurrency, "concurrency", "j", 0, "Number of concurrent run workers. (Overrides config/env)")
	_ = runCmd.MarkFlagRequired("pack")

	return runCmd
}

// resolveProfile maps a preset name to a built-in profile, or loads a profile
// file when the value is not a known preset.
func resolveProfile(value string) (*schemas.RiskProfile, error) {
	switch strings.ToLower(value) {
	case "", "balanced":
		p := schemas.BalancedProfile()
		return &p, nil
	case "strict":
		p := schemas.StrictProfile()
		return &p, nil
	case "permissive":
		p := schemas.PermissiveProfile()
		return &p, nil
	default:
		return packfile.LoadProfile(value)
	}
}

// refineProfile consults the risk advisor when one is configured. Any advisor
// problem degrades to the base profile; the run never blocks on analytics.
func refineProfile(ctx context.Context, cfg config.Interface, logger *zap.Logger, profile *schemas.RiskProfile) *schemas.RiskProfile {
	if !cfg.Advisor().Enabled {
		return profile
	}
	client, err := advisor.NewClient(cfg.Advisor(), logger)
	if err != nil {
		logger.Warn("Risk advisor misconfigured, continuing with base profile", zap.Error(err))
		return profile
	}
	router, err := routing.NewRouter(client, logger)
	if err != nil {
		logger.Warn("Risk router unavailable, continuing with base profile", zap.Error(err))
		return profile
	}
	return router.Refine(ctx, profile, []string{"browser"})
}

// runComponents holds the initialized services for one invocation.
type runComponents struct {
	DBPool       *pgxpool.Pool
	Backend      *browser.Backend
	Reporter     reporting.Reporter
	Orchestrator *orchestrator.Orchestrator
}

// Shutdown gracefully closes all components.
func (rc *runComponents) Shutdown(logger *zap.Logger) {
	if rc.Reporter != nil {
		if err := rc.Reporter.Close(); err != nil {
			logger.Error("Failed to close reporter", zap.Error(err))
		}
	}
	if rc.Backend != nil {
		if err := rc.Backend.Close(context.Background()); err != nil {
			logger.Warn("Error during browser shutdown", zap.Error(err))
		}
	}
	if rc.DBPool != nil {
		rc.DBPool.Close()
	}
}

// initializeRunComponents handles dependency injection.
func initializeRunComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger, output, format string) (*runComponents, error) {
	components := &runComponents{}

	// 1. Audit store. Persistence is optional: without a database URL every
	//    run still produces a sealed bundle in its report, just no SQL record.
	var auditStore engine.Store = discardStore{logger: logger}
	if cfg.Database().URL != "" {
		dbPool, err := pgxpool.New(ctx, cfg.Database().URL)
		if err != nil {
			return components, fmt.Errorf("failed to connect to database: %w", err)
		}
		components.DBPool = dbPool

		dbStore, err := store.New(ctx, dbPool, logger)
		if err != nil {
			return components, fmt.Errorf("failed to initialize audit store: %w", err)
		}
		if err := dbStore.InitSchema(ctx); err != nil {
			return components, err
		}
		auditStore = dbStore
	}

	// 2. Browser backend
	backend, err := browser.NewBackend(ctx, cfg, logger)
	if err != nil {
		return components, fmt.Errorf("failed to launch browser backend: %w", err)
	}
	components.Backend = backend

	// 3. Approval channel
	approver, err := buildApprover(cfg, logger)
	if err != nil {
		return components, err
	}

	// 4. Executor and run engine
	executor, err := engine.NewExecutor(backend, approver, logger)
	if err != nil {
		return components, fmt.Errorf("failed to initialize executor: %w", err)
	}
	runEngine, err := engine.New(cfg, logger, auditStore, executor)
	if err != nil {
		return components, fmt.Errorf("failed to initialize run engine: %w", err)
	}

	// 5. Reporter and orchestrator
	reporter, err := reporting.New(format, output)
	if err != nil {
		return components, err
	}
	components.Reporter = reporter

	orch, err := orchestrator.New(cfg, logger, runEngine, reporter)
	if err != nil {
		return components, fmt.Errorf("failed to create orchestrator: %w", err)
	}
	components.Orchestrator = orch

	return components, nil
}

// buildApprover wires the approval channel for the configured mode. Console
// approvals are bounded by the idle timeout so an unattended run degrades to
// a denial instead of hanging forever.
func buildApprover(cfg config.Interface, logger *zap.Logger) (schemas.ApprovalChannel, error) {
	mode := cfg.Approval().Mode
	switch mode {
	case "auto-approve":
		return approval.Static{Verdict: true}, nil
	case "auto-deny":
		return approval.Static{Verdict: false}, nil
	case "console", "":
		console, err := approval.NewConsole(os.Stdin, os.Stderr, logger)
		if err != nil {
			return nil, err
		}
		timeout := cfg.Approval().IdleTimeout
		if timeout <= 0 {
			timeout = 5 * time.Minute
		}
		return approval.NewBounded(console, timeout, logger)
	default:
		return nil, fmt.Errorf("unknown approval mode %q", mode)
	}
}

// discardStore satisfies engine.Store when persistence is disabled.
type discardStore struct {
	logger *zap.Logger
}

func (d discardStore) PersistResult(_ context.Context, result *engine.Result) error {
	d.logger.Debug("Persistence disabled, audit record not stored",
		zap.String("execution_id", result.ExecutionID))
	return nil
}
