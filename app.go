package revolve

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/tordrt/revolve/internal/config"
	"github.com/tordrt/revolve/internal/db"
	"github.com/tordrt/revolve/internal/llm"
	"github.com/tordrt/revolve/internal/pipeline"
	"github.com/tordrt/revolve/internal/progress"
	"github.com/tordrt/revolve/internal/store"
	"github.com/tordrt/revolve/internal/testrunner"
	"github.com/tordrt/revolve/internal/tools"
	"github.com/tordrt/revolve/internal/vcs"
	"github.com/tordrt/revolve/internal/workspace"
)

// App is a configured set of collaborators: the database, the workspace the
// service is generated into, the test runner, the run store and the model.
type App struct {
	cfg       *config.Config
	db        db.Introspector
	workspace *workspace.Workspace
	store     store.Store
	tools     *tools.Registry
	driver    *pipeline.Driver
	logger    *zap.Logger
}

// Open connects to the configured database and builds every collaborator.
// The connection is checked here, so an unreachable database is returned as
// an error before any run starts. Run still pings on every run and reports a
// database lost later as an error event. The model client is created only
// when an API key is configured; Run reports an error event without one.
func Open(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := cfg.RequireDatabase(); err != nil {
		return nil, err
	}

	introspector, err := db.Open(ctx, cfg.Database.URL, db.Options{SchemaName: cfg.Database.Schema})
	if err != nil {
		return nil, err
	}
	app := &App{cfg: cfg, db: introspector, logger: logger}

	app.workspace, err = workspace.New(cfg.Workspace.Dir)
	if err != nil {
		_ = app.Close()
		return nil, err
	}

	env, err := db.ServiceEnv(cfg.Database.URL, cfg.Test.Enabled)
	if err != nil {
		_ = app.Close()
		return nil, err
	}
	runner := testrunner.NewPytestRunner(app.workspace.Dir(), cfg.Test.Command, db.EnvStrings(env), logger)

	app.tools = tools.New(tools.Deps{Files: app.workspace, Runner: runner, Database: introspector}, logger)
	app.driver = &pipeline.Driver{
		Config:    cfg,
		DB:        introspector,
		Runner:    runner,
		Workspace: app.workspace,
		Tools:     app.tools,
		Logger:    logger,
	}

	if cfg.Store.Path != "" {
		st, err := store.NewSQLiteStore(cfg.Store.Path)
		if err != nil {
			_ = app.Close()
			return nil, err
		}
		app.store = st
		app.driver.Store = st
	}

	if cfg.Git.Enabled {
		app.driver.Repo = vcs.NewGit(app.workspace.Dir(), vcs.Options{
			Push:        cfg.Git.Push,
			Remote:      cfg.Git.Remote,
			AuthorName:  cfg.Git.AuthorName,
			AuthorEmail: cfg.Git.AuthorEmail,
		}, logger)
	}

	if cfg.LLM.APIKey != "" {
		client, err := llm.NewGenAIClient(ctx, cfg.LLM.APIKey, cfg.LLM.Model, cfg.LLM.Temperature, logger)
		if err != nil {
			_ = app.Close()
			return nil, fmt.Errorf("failed to create model client: %w", err)
		}
		app.driver.Synth = client
	}

	return app, nil
}

// Run starts a run and returns its event stream
func (a *App) Run(ctx context.Context, task pipeline.Task) <-chan progress.Event {
	if a.driver.Synth == nil {
		ch := make(chan progress.Event, 1)
		ch <- progress.Event{
			Name:   "configuration",
			Text:   a.cfg.RequireLLM().Error(),
			Status: progress.StatusError,
			Level:  progress.LevelSystem,
		}
		close(ch)
		return ch
	}
	return a.driver.Run(ctx, task)
}

// Tools returns the auxiliary tool registry
func (a *App) Tools() *tools.Registry {
	return a.tools
}

// Store returns the run store, or nil when run history is disabled
func (a *App) Store() store.Store {
	return a.store
}

// Workspace returns the directory the service is generated into
func (a *App) Workspace() *workspace.Workspace {
	return a.workspace
}

// Close releases the database connection and the run store
func (a *App) Close() error {
	var errs []error
	if a.db != nil {
		errs = append(errs, a.db.Close())
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	return errors.Join(errs...)
}
