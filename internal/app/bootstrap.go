// Package app is the composition root; bootstrap stays orchestration-only.
package app

import (
	"context"
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/riverqueue/river"

	"github.com/JustVic19/Payouts-sub000/internal/api/handlers"
	"github.com/JustVic19/Payouts-sub000/internal/app/modules"
	"github.com/JustVic19/Payouts-sub000/internal/config"
)

// Application holds composed application dependencies.
type Application struct {
	Config  *config.Config
	Router  *gin.Engine
	Infra   *modules.Infrastructure
	Modules []modules.Module
}

// Bootstrap initializes all dependencies using module-oriented manual DI.
func Bootstrap(ctx context.Context, cfg *config.Config) (*Application, error) {
	infra, err := modules.NewInfrastructure(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("init infrastructure: %w", err)
	}

	operations, err := modules.NewOperationsModule(infra)
	if err != nil {
		infra.Close()
		return nil, fmt.Errorf("init operations module: %w", err)
	}
	rollbacks, err := modules.NewRollbackModule(infra, operations.Tracker())
	if err != nil {
		infra.Close()
		return nil, fmt.Errorf("init rollback module: %w", err)
	}

	allModules := []modules.Module{
		operations,
		rollbacks,
		modules.NewGovernanceModule(infra, operations.Tracker()),
	}

	workers := river.NewWorkers()
	var periodic []*river.PeriodicJob
	for _, mod := range allModules {
		mod.RegisterWorkers(workers)
		if provider, ok := mod.(modules.PeriodicJobProvider); ok {
			periodic = append(periodic, provider.PeriodicJobs()...)
		}
	}
	if err := infra.InitRiver(workers, periodic); err != nil {
		infra.Close()
		return nil, fmt.Errorf("init river workers: %w", err)
	}

	server := handlers.NewServer(modules.NewServerDeps(infra, allModules))

	return &Application{
		Config:  cfg,
		Router:  newRouter(cfg, server, jwtConfig(cfg), infra.Metrics.Handler()),
		Infra:   infra,
		Modules: allModules,
	}, nil
}
