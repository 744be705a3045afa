package modules

import (
	"github.com/JustVic19/Payouts-sub000/internal/api/handlers"
)

// NewServerDeps builds base server deps then lets each module contribute explicit wiring.
func NewServerDeps(infra *Infrastructure, mods []Module) handlers.ServerDeps {
	deps := handlers.ServerDeps{}
	if infra.HasDatabase() {
		deps.Readiness = append(deps.Readiness, handlers.ReadinessCheck{
			Name: "database",
			Ping: infra.DB.Pool.Ping,
		})
	}
	for _, mod := range mods {
		if mod == nil {
			continue
		}
		mod.ContributeServerDeps(&deps)
	}
	return deps
}
