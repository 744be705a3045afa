package modules

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JustVic19/Payouts-sub000/internal/collaborator"
	"github.com/JustVic19/Payouts-sub000/internal/collaborator/httpclient"
	"github.com/JustVic19/Payouts-sub000/internal/collaborator/local"
	"github.com/JustVic19/Payouts-sub000/internal/config"
	"github.com/JustVic19/Payouts-sub000/internal/pkg/logger"
)

// collaborators are the external services one deployment talks to.
type collaborators struct {
	Ingestor  collaborator.FileIngestor
	Validator collaborator.RecordValidator
	Executor  collaborator.Executor
}

// newCollaborators picks the HTTP client for every service with a configured
// URL and the in-process implementation otherwise.
func newCollaborators(cfg *config.Config) (collaborators, error) {
	cc := cfg.Collaborators
	out := collaborators{}

	if client := remoteClient(cc, cc.IngestionURL, "ingestion"); client != nil {
		out.Ingestor = httpclient.Ingestor{Client: client}
	} else {
		out.Ingestor = local.NewCSVIngestor(cfg.Operations.MaxFileSizeBytes)
	}

	if client := remoteClient(cc, cc.ValidationURL, "validation"); client != nil {
		out.Validator = httpclient.Validator{Client: client}
	} else {
		limit, err := cc.PayoutLimit()
		if err != nil {
			return collaborators{}, fmt.Errorf("parse single payout limit: %w", err)
		}
		out.Validator = local.NewRuleValidator(limit, cc.Tiers)
	}

	if client := remoteClient(cc, cc.ExecutionURL, "execution"); client != nil {
		out.Executor = httpclient.Executor{Client: client}
	} else {
		out.Executor = local.NewBatchExecutor(cc.BatchSize, 0)
	}
	return out, nil
}

// newImpactAnalyzer returns the remote analyzer when configured, otherwise
// one that derives impact from the stored operation.
func newImpactAnalyzer(cfg *config.Config, ops local.OperationReader) collaborator.ImpactAnalyzer {
	cc := cfg.Collaborators
	if client := remoteClient(cc, cc.ImpactAnalysisURL, "impact analysis"); client != nil {
		return httpclient.ImpactAnalyzer{Client: client}
	}
	return local.NewStaticImpactAnalyzer(ops)
}

func remoteClient(cc config.CollaboratorsConfig, baseURL, service string) *httpclient.Client {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		logger.Info("Using in-process collaborator", zap.String("service", service))
		return nil
	}
	timeout := cc.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	logger.Info("Using remote collaborator", zap.String("service", service), zap.String("base_url", baseURL))
	return httpclient.New(httpclient.Options{
		BaseURL:      baseURL,
		Token:        cc.APIToken,
		Timeout:      timeout,
		RetryCount:   cc.RetryCount,
		PollInterval: cc.PollInterval,
	})
}
