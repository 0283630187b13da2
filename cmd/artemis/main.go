// Command artemis is the CLI entry point for the pipeline substrate:
// it wires configuration, the stage registry, the router, supervisor,
// checkpoint store, and event bus, then runs a single card or a
// campaign over a feature/epic's ready children.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/alecthomas/kong"
	"github.com/rs/zerolog"

	"github.com/artemis-dev/artemis/internal/artemislog"
	"github.com/artemis-dev/artemis/internal/campaign"
	"github.com/artemis-dev/artemis/internal/card"
	"github.com/artemis-dev/artemis/internal/checkpoint"
	"github.com/artemis-dev/artemis/internal/circuit"
	"github.com/artemis-dev/artemis/internal/config"
	"github.com/artemis-dev/artemis/internal/dashboard"
	"github.com/artemis-dev/artemis/internal/demo"
	"github.com/artemis-dev/artemis/internal/eventbus"
	"github.com/artemis-dev/artemis/internal/orchestrator"
	"github.com/artemis-dev/artemis/internal/ratelimit"
	"github.com/artemis-dev/artemis/internal/retry"
	"github.com/artemis-dev/artemis/internal/router"
	"github.com/artemis-dev/artemis/internal/stage"
	"github.com/artemis-dev/artemis/internal/supervisor"
	"github.com/artemis-dev/artemis/internal/worktree"
)

var version = "dev"

// CLI is the top-level command structure for artemis.
type CLI struct {
	Version   kong.VersionFlag `help:"Show version." short:"V"`
	Run       RunCmd           `cmd:"" help:"Run a pipeline for a single card."`
	Campaign  CampaignCmd      `cmd:"" help:"Run a campaign over a feature or epic's ready children."`
	ConfigDir string           `help:"Directory holding artemis.yaml, checkpoints, and card files." default:".artemis" env:"ARTEMIS_DIR"`
	RepoRoot  string           `help:"Git repository root to isolate competing dev-stage workers in, one worktree each. Disabled if unset." default:"" env:"ARTEMIS_REPO_ROOT"`
}

// RunCmd executes a single-card pipeline.
type RunCmd struct {
	CardID   string `arg:"" help:"Card ID to run."`
	Title    string `help:"Card title, used only if the card store has no record of this ID." default:""`
	NoTUI    bool   `help:"Force plain text output even if stdout is a TTY." default:"false"`
	Strategy string `help:"Router strategy: complexity, resource, manual, adaptive." default:"complexity"`
}

// CampaignCmd runs a campaign for a feature or epic.
type CampaignCmd struct {
	ParentID string `arg:"" help:"Feature or epic card ID."`
	NoTUI    bool   `help:"Force plain text output even if stdout is a TTY." default:"false"`
}

func main() {
	cli := CLI{}
	ctx := kong.Parse(&cli, kong.Vars{"version": version})
	ctx.FatalIfErrorf(ctx.Run(&cli))
}

// env bundles the wiring every command shares.
type env struct {
	cfg      *config.Config
	logger   zerolog.Logger
	bus      *eventbus.Bus
	circuits *circuit.Registry
	health   *circuit.HealthMonitor
	reg      *stage.Registry
	rtr      *router.Router
	sup      *supervisor.Supervisor
	cps      checkpoint.Store
	cards    *demo.FileCardSource
	states   *demo.FileStateStore
}

func newEnv(dir string, strategyName string) (*env, error) {
	return newEnvWithRepoRoot(dir, strategyName, "")
}

func newEnvWithRepoRoot(dir string, strategyName string, repoRoot string) (*env, error) {
	cfg, err := config.LoadLayered(dir + "/artemis.yaml")
	if err != nil {
		return nil, fmt.Errorf("artemis: loading config: %w", err)
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, fmt.Errorf("artemis: applying env overrides: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("artemis: invalid config: %w", err)
	}

	logger, err := artemislog.New(artemislog.Options{Component: "artemis"})
	if err != nil {
		return nil, fmt.Errorf("artemis: building logger: %w", err)
	}

	bus := eventbus.New(cfg.Events.DropSlowObservers, 3)
	bus.OnObserverPanic(artemislog.PanicHandler(logger))
	bus.Subscribe(artemislog.NewEventObserver(logger))

	circuits := circuit.NewRegistry(circuit.DefaultParams())
	for name, cc := range cfg.Circuit {
		circuits.Configure(name, circuit.Params{
			FailureThreshold:   cc.FailureThreshold,
			Cooldown:           time.Duration(cc.CooldownMS) * time.Millisecond,
			HalfOpenProbeCount: cc.HalfOpenProbes,
		})
	}
	health := circuit.NewHealthMonitor(100)

	reg := stage.NewRegistry()
	if repoRoot != "" {
		wm := worktree.NewManager(repoRoot, ".artemis/worktrees")
		if err := demo.RegisterIsolated(reg, wm, "main"); err != nil {
			return nil, fmt.Errorf("artemis: registering stages: %w", err)
		}
	} else if err := demo.Register(reg); err != nil {
		return nil, fmt.Errorf("artemis: registering stages: %w", err)
	}

	rtr := router.New(router.StrategyKind(strategyName), router.DefaultCatalogue())
	sup := supervisor.New(circuits, bus, health)

	var cps checkpoint.Store
	switch cfg.Checkpoint.Backend {
	case "filesystem":
		cps = checkpoint.NewFileStore(cfg.Checkpoint.Dir, cfg.Checkpoint.MaxBytes)
	default:
		cps = checkpoint.NewMemStore(cfg.Checkpoint.MaxBytes)
	}

	cards, err := demo.NewFileCardSource(dir + "/cards")
	if err != nil {
		return nil, fmt.Errorf("artemis: opening card store: %w", err)
	}
	states := demo.NewFileStateStore(dir + "/campaigns")

	return &env{
		cfg: cfg, logger: logger, bus: bus, circuits: circuits, health: health,
		reg: reg, rtr: rtr, sup: sup, cps: cps, cards: cards, states: states,
	}, nil
}

func (e *env) orchestrator() *orchestrator.Orchestrator {
	var limiter *ratelimit.Bucket
	if e.cfg.RateLimit.Enabled {
		limiter = ratelimit.NewBucket(e.cfg.RateLimit.Capacity, e.cfg.RateLimit.RefillPerSec)
	}
	return &orchestrator.Orchestrator{
		Registry:       e.reg,
		Router:         e.rtr,
		Supervisor:     e.sup,
		Checkpoints:    e.cps,
		Bus:            e.bus,
		DefaultPolicy:  retryPolicyFrom(e.cfg.Retry),
		DefaultTimeout: time.Duration(e.cfg.Stage.DefaultTimeoutMS) * time.Millisecond,
		RateLimiter:    limiter,
		HistoryLimit:   100,
	}
}

func retryPolicyFrom(rc config.RetryConfig) retry.Policy {
	return retry.Policy{
		MaxAttempts:    rc.MaxAttempts,
		InitialDelay:   time.Duration(rc.InitialDelayMS) * time.Millisecond,
		BackoffFactor:  rc.BackoffFactor,
		MaxDelay:       time.Duration(rc.MaxDelayMS) * time.Millisecond,
		JitterFraction: rc.JitterFraction,
	}
}

// Run executes the run command: a single card through the pipeline.
func (r *RunCmd) Run(cli *CLI) error {
	e, err := newEnvWithRepoRoot(cli.ConfigDir, r.Strategy, cli.RepoRoot)
	if err != nil {
		return err
	}

	c := card.Card{ID: r.CardID, Title: r.Title, Description: r.Title}
	if info, showErr := e.cards.Show(r.CardID); showErr == nil {
		c.Title, c.Description, c.Priority = info.Title, info.Description, info.Priority
	}

	orch := e.orchestrator()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	plan, err := e.rtr.Plan(c)
	if err != nil {
		return fmt.Errorf("artemis: planning %s: %w", c.ID, err)
	}
	stageNames := make([]string, len(plan))
	for i, p := range plan {
		stageNames[i] = p.Name
	}

	done := make(chan error, 1)
	go func() {
		result, runErr := orch.Run(ctx, c)
		if runErr == nil && result.Err != nil {
			runErr = result.Err
		}
		done <- runErr
	}()

	if r.NoTUI {
		err := <-done
		if err != nil {
			return fmt.Errorf("artemis: run %s: %w", c.ID, err)
		}
		fmt.Printf("card %s completed\n", c.ID)
		return nil
	}
	return dashboard.Run(ctx, os.Stdout, e.bus, stageNames, done)
}

// Run executes the campaign command.
func (c *CampaignCmd) Run(cli *CLI) error {
	e, err := newEnvWithRepoRoot(cli.ConfigDir, "complexity", cli.RepoRoot)
	if err != nil {
		return err
	}

	orch := e.orchestrator()
	runner := &campaign.Runner{
		Pipeline: orch,
		Cards:    e.cards,
		Filer:    e.cards,
		Store:    e.states,
		Config: campaign.Config{
			FailureMode:     "continue",
			CircuitBreaker:  3,
			DiscoveryFiling: true,
		},
		Bus: e.bus,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := runner.Run(ctx, c.ParentID); err != nil {
		return fmt.Errorf("artemis: campaign %s: %w", c.ParentID, err)
	}
	fmt.Printf("campaign for %s completed\n", c.ParentID)
	return nil
}
