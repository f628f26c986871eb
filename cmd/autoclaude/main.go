// Command autoclaude supervises a long-running autonomous coding task by
// repeatedly invoking the Claude CLI through planning, implementation,
// testing, and critique phases until the goal is met.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/nikitparakh/auto-claude-docker/internal/healthserver"
	"github.com/nikitparakh/auto-claude-docker/pkg/checkpoint"
	"github.com/nikitparakh/auto-claude-docker/pkg/claude"
	"github.com/nikitparakh/auto-claude-docker/pkg/config"
	"github.com/nikitparakh/auto-claude-docker/pkg/engine"
	"github.com/nikitparakh/auto-claude-docker/pkg/feedback"
	"github.com/nikitparakh/auto-claude-docker/pkg/logx"
	"github.com/nikitparakh/auto-claude-docker/pkg/persistence"
	"github.com/nikitparakh/auto-claude-docker/pkg/resource"
	"github.com/nikitparakh/auto-claude-docker/pkg/session"
)

// Version information - set via ldflags at release time.
var (
	version = "dev"
	commit  = "none"
)

func main() {
	var (
		projectDir   = flag.String("projectdir", ".", "Project directory")
		goal         = flag.String("goal", "", "Goal for the autonomous run")
		continueMode = flag.Bool("continue", false, "Resume from the saved session")
		debug        = flag.Bool("debug", false, "Enable debug logging")
		showVersion  = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("autoclaude %s (%s)\n", version, commit)
		os.Exit(0)
	}
	if *debug {
		logx.SetDebug(true)
	}

	os.Exit(run(*projectDir, *goal, *continueMode))
}

// run contains the main application logic and returns an exit code, so
// defers execute before the process exits.
func run(projectDir, goal string, continueMode bool) int {
	logger := logx.NewLogger("main")

	if err := config.LoadConfig(projectDir); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	if goal != "" {
		if err := config.SetGoal(goal); err != nil {
			fmt.Fprintf(os.Stderr, "Invalid goal: %v\n", err)
			return 1
		}
	}
	cfg, err := config.GetConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config unavailable: %v\n", err)
		return 1
	}

	dbPath := filepath.Join(projectDir, config.ProjectConfigDir, "journal.db")
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create config directory: %v\n", err)
		return 1
	}
	if err := persistence.Initialize(dbPath); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open run journal: %v\n", err)
		return 1
	}
	defer func() {
		if err := persistence.Close(); err != nil {
			logger.Warn("Failed to close run journal: %v", err)
		}
	}()

	if stale, err := persistence.MarkStaleRuns(persistence.GetDB()); err != nil {
		logger.Warn("Stale run detection failed: %v", err)
	} else if stale > 0 {
		logger.Warn("Marked %d interrupted run(s) as crashed", stale)
	}

	store := session.NewStore(projectDir)
	state, err := prepareState(store, cfg, continueMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}

	journal := make(chan *persistence.Request, 64)
	workerDone := make(chan struct{})
	go func() {
		persistence.Worker(persistence.GetDB(), journal)
		close(workerDone)
	}()
	defer func() {
		close(journal)
		<-workerDone
	}()

	workDir := cfg.WorkDir
	if workDir == "" {
		workDir = projectDir
	}

	eng := engine.New(engine.Options{
		Config:      cfg,
		State:       state,
		Store:       store,
		Queue:       feedback.NewQueue(),
		Runner:      claude.NewRunner(cfg.ClaudeBinary, workDir),
		Resources:   resource.NewManager(cfg.MaxConcurrentOperations),
		Checkpoints: checkpoint.NewManager(projectDir),
		Journal:     journal,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.HealthAddr != "" {
		health := healthserver.New(cfg.HealthAddr, eng)
		health.Start()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := health.Stop(shutdownCtx); err != nil {
				logger.Warn("%v", err)
			}
		}()
	}

	eng.StartStatusTicker(ctx)

	logger.Info("autoclaude %s starting: goal=%q run=%s", version, state.Goal, state.RunID)
	runErr := eng.Run(ctx)

	// Record the final run status synchronously so the journal is accurate
	// even if the process exits immediately after.
	switch {
	case runErr == nil:
		if err := persistence.UpdateRunStatus(persistence.GetDB(), state.RunID, persistence.RunStatusCompleted); err != nil {
			logger.Warn("Failed to record run completion: %v", err)
		}
		logger.Info("Run %s completed", state.RunID)
		return 0
	case errors.Is(runErr, context.Canceled):
		if err := persistence.UpdateRunStatus(persistence.GetDB(), state.RunID, persistence.RunStatusShutdown); err != nil {
			logger.Warn("Failed to record shutdown: %v", err)
		}
		logger.Info("Run %s shut down gracefully; use -continue to resume", state.RunID)
		return 0
	default:
		if err := persistence.UpdateRunStatus(persistence.GetDB(), state.RunID, persistence.RunStatusCrashed); err != nil {
			logger.Warn("Failed to record run failure: %v", err)
		}
		fmt.Fprintf(os.Stderr, "Run failed: %v\n", runErr)
		return 1
	}
}

// prepareState loads the saved session in continue mode or starts a fresh
// run, registering it in the journal either way.
func prepareState(store *session.Store, cfg config.Config, continueMode bool) (*session.State, error) {
	if continueMode {
		state, err := store.Load()
		if err != nil {
			return nil, fmt.Errorf("cannot resume: %w", err)
		}
		if state == nil {
			return nil, errors.New("cannot resume: no saved session found (run without -continue first)")
		}
		// Config may have changed between runs; the cap follows config.
		state.MaxIterations = cfg.MaxIterations
		if err := persistence.UpdateRunStatus(persistence.GetDB(), state.RunID, persistence.RunStatusActive); err != nil {
			if !errors.Is(err, persistence.ErrRunNotFound) {
				return nil, fmt.Errorf("cannot reactivate run %s: %w", state.RunID, err)
			}
			// Session file survived but the journal did not; re-register.
			if err := persistence.CreateRun(persistence.GetDB(), state.RunID, state.Goal, cfg); err != nil {
				return nil, fmt.Errorf("cannot re-register run %s: %w", state.RunID, err)
			}
		}
		return state, nil
	}

	if cfg.Goal == "" {
		return nil, errors.New("no goal configured: pass -goal or set it in .autoclaude/config.yaml")
	}
	state := session.NewState(uuid.New().String(), cfg.Goal, cfg.MaxIterations)
	if err := persistence.CreateRun(persistence.GetDB(), state.RunID, state.Goal, cfg); err != nil {
		return nil, fmt.Errorf("cannot register run: %w", err)
	}
	if err := store.Save(state); err != nil {
		return nil, fmt.Errorf("cannot save initial session: %w", err)
	}
	return state, nil
}
