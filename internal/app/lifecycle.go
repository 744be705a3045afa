package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JustVic19/Payouts-sub000/internal/app/modules"
	"github.com/JustVic19/Payouts-sub000/internal/pkg/logger"
)

// Start starts all background services (River workers, in-process sweeps).
func (a *Application) Start(ctx context.Context) error {
	if client := a.Infra.RiverClient(); client != nil {
		if err := client.Start(ctx); err != nil {
			return fmt.Errorf("start river client: %w", err)
		}
		logger.Info("River client started, jobs will now be consumed")
	}

	for _, mod := range a.Modules {
		starter, ok := mod.(modules.Starter)
		if !ok {
			continue
		}
		if err := starter.Start(ctx); err != nil {
			return fmt.Errorf("start module %s: %w", mod.Name(), err)
		}
	}
	return nil
}

// Shutdown gracefully shuts down all application components within ctx.
func (a *Application) Shutdown(ctx context.Context) {
	if client := a.Infra.RiverClient(); client != nil {
		if err := client.Stop(ctx); err != nil {
			logger.Error("failed to stop river client", zap.Error(err))
		}
		logger.Info("River client stopped")
	}

	for _, mod := range a.Modules {
		if mod == nil {
			continue
		}
		if err := mod.Shutdown(ctx); err != nil {
			logger.Warn("module shutdown returned error",
				zap.String("module", mod.Name()),
				zap.Error(err),
			)
		}
	}

	a.Infra.Close()
}
