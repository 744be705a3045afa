package modules

import (
	"context"

	"github.com/riverqueue/river"

	"github.com/JustVic19/Payouts-sub000/internal/api/handlers"
	"github.com/JustVic19/Payouts-sub000/internal/governance/approval"
	"github.com/JustVic19/Payouts-sub000/internal/service"
)

// GovernanceModule contributes the approval gateway and the audit log.
// It schedules no work of its own.
type GovernanceModule struct {
	infra   *Infrastructure
	gateway *approval.Gateway
}

func NewGovernanceModule(infra *Infrastructure, tracker *service.OperationTracker) *GovernanceModule {
	return &GovernanceModule{
		infra:   infra,
		gateway: approval.NewGateway(tracker),
	}
}

func (m *GovernanceModule) Name() string { return "governance" }

func (m *GovernanceModule) ContributeServerDeps(deps *handlers.ServerDeps) {
	if deps == nil {
		return
	}
	deps.Gateway = m.gateway
	deps.Audit = m.infra.Audit
}

func (m *GovernanceModule) RegisterWorkers(_ *river.Workers) {}

func (m *GovernanceModule) Shutdown(context.Context) error { return nil }
