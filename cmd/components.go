package cmd

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/formrunner/internal/api"
	"github.com/xkilldash9x/formrunner/internal/browser"
	"github.com/xkilldash9x/formrunner/internal/config"
	"github.com/xkilldash9x/formrunner/internal/engine"
	"github.com/xkilldash9x/formrunner/internal/humanoid"
	"github.com/xkilldash9x/formrunner/internal/orchestrator"
	"github.com/xkilldash9x/formrunner/internal/profile"
	"github.com/xkilldash9x/formrunner/internal/store"
)

// resultStore is what the engine writes and the API reads.
type resultStore interface {
	engine.Store
	api.ResultReader
}

// components holds the long lived services shared by serve and run.
type components struct {
	Profiles     *profile.Store
	Generator    *humanoid.Generator
	Browsers     *browser.Manager
	Orchestrator *orchestrator.Orchestrator
	Store        resultStore

	closeStore func()
	logger     *zap.Logger
}

// initializeComponents wires the browser stack and, when withStore is set,
// the result store. Browsers start lazily so nothing is launched here.
func initializeComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger, withStore bool) (*components, error) {
	c := &components{logger: logger, Store: store.NopStore{}, closeStore: func() {}}

	profiles, err := profile.NewStore(cfg.Profiles().Root, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize profile store: %w", err)
	}
	c.Profiles = profiles

	gen := humanoid.NewGenerator(time.Now().UnixNano())
	gen.SetThinkChance(cfg.Browser().Humanoid.ThinkChance)
	c.Generator = gen
	c.Browsers = browser.NewManager(cfg.Browser(), cfg.Proxy(), profiles, gen, logger)

	orch, err := orchestrator.New(cfg, c.Browsers, profiles, gen, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create orchestrator: %w", err)
	}
	c.Orchestrator = orch

	if withStore && cfg.Database().URL != "" {
		s, closeFn, err := store.Open(ctx, cfg.Database().URL, logger)
		if err != nil {
			return c, fmt.Errorf("failed to connect to database: %w", err)
		}
		c.closeStore = closeFn
		if err := s.EnsureSchema(ctx); err != nil {
			return c, fmt.Errorf("failed to prepare database schema: %w", err)
		}
		c.Store = s
		logger.Info("Result persistence enabled")
	} else if withStore {
		logger.Info("No database configured, job results are kept in memory only")
	}
	return c, nil
}

// Shutdown closes any browser still open and releases the database pool.
func (c *components) Shutdown(ctx context.Context) {
	if c.Browsers != nil {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		if err := c.Browsers.CloseAll(closeCtx); err != nil {
			c.logger.Warn("Error while closing browser sessions", zap.Error(err))
		}
	}
	c.closeStore()
}
