// Package modules contains the dependency modules of the composition root.
//
// Each module owns one slice of the service (operations, rollback,
// governance) and contributes its pieces to the HTTP server and the River
// worker registry.
package modules

import (
	"context"

	"github.com/riverqueue/river"

	"github.com/JustVic19/Payouts-sub000/internal/api/handlers"
)

// Module represents a domain-specific dependency unit in the composition root.
type Module interface {
	// Name returns a stable module identifier for logging/debugging.
	Name() string

	// ContributeServerDeps injects module-owned dependencies into the HTTP server deps.
	ContributeServerDeps(*handlers.ServerDeps)

	// RegisterWorkers registers module workers into a shared River worker registry.
	RegisterWorkers(*river.Workers)

	// Shutdown performs module-local graceful cleanup.
	Shutdown(context.Context) error
}

// PeriodicJobProvider is implemented by modules that schedule River
// periodic jobs.
type PeriodicJobProvider interface {
	PeriodicJobs() []*river.PeriodicJob
}

// Starter is implemented by modules with background work of their own.
// Start runs after the River client has started.
type Starter interface {
	Start(context.Context) error
}
