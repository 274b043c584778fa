// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/jeranaias/ragent/internal/agent"
	"github.com/jeranaias/ragent/internal/budget"
	"github.com/jeranaias/ragent/internal/cloud"
	"github.com/jeranaias/ragent/internal/config"
	"github.com/jeranaias/ragent/internal/cost"
	"github.com/jeranaias/ragent/internal/retrieval"
	"github.com/jeranaias/ragent/internal/session"
	"github.com/jeranaias/ragent/internal/tools"
)

// agentRuntime is one fully wired agent session.
type agentRuntime struct {
	cfg    *config.Config
	logger zerolog.Logger

	model  *cloud.Client
	search *retrieval.Client
	store  *session.Store
	agent  *agent.Agent

	// resumedFrom is the file the session was loaded from, if any.
	resumedFrom string
}

// newSearchClient builds the knowledge base client from cfg.
func newSearchClient(cfg *config.Config, logger zerolog.Logger) *retrieval.Client {
	return retrieval.NewClient(cfg.Retrieval.APIURL, cfg.Retrieval.APIKey).
		WithTimeout(cfg.Retrieval.Timeout).
		WithRateLimit(cfg.Retrieval.RatePerSecond, cfg.Retrieval.Burst).
		WithLogger(logger)
}

// newRuntime wires config into the agent. A non-empty resume reference
// (path, file name or session id prefix) restores a saved session.
func newRuntime(ctx context.Context, cfg *config.Config, logger zerolog.Logger, resume string) (*agentRuntime, error) {
	store, err := session.OpenStore(cfg.Session.Dir)
	if err != nil {
		return nil, err
	}

	model := cloud.NewClient(cfg.Model.APIURL, cfg.Model.APIKey).
		WithTimeout(cfg.Model.Timeout).
		WithModel(cfg.Model.ModelID).
		WithLogger(logger)
	search := newSearchClient(cfg, logger)

	registry := tools.NewRegistry()
	for _, t := range []tools.Tool{
		tools.NewCalculator(cfg.Calculator.Precision, cfg.Calculator.Mode),
		tools.NewRetrieve(search, cfg.Retrieval.DefaultK, cfg.Retrieval.SearchType),
	} {
		if err := registry.Register(t); err != nil {
			store.Close()
			return nil, err
		}
	}
	dispatcher := tools.NewDispatcher(registry, logger).
		WithTimeout(cfg.Agent.ToolTimeout).
		WithConcurrency(cfg.Agent.ToolConcurrency)

	calc := cost.NewCalculator(cfg.Pricing)
	recorder := session.NewRecorder(calc)

	var (
		restored    *session.Record
		resumedFrom string
	)
	if resume != "" {
		path, err := store.Resolve(ctx, resume)
		if err != nil {
			store.Close()
			return nil, err
		}
		rec, err := session.Load(path)
		if err != nil {
			store.Close()
			return nil, err
		}
		recorder = session.ResumeRecorder(rec, calc)
		restored = rec
		resumedFrom = path
	}

	a := agent.New(agent.Config{
		ModelID:      cfg.Model.ModelID,
		SystemPrompt: cfg.Agent.SystemPrompt,
		Inference: cloud.InferenceConfig{
			MaxTokens:   cfg.Model.MaxTokens,
			Temperature: cfg.Model.Temperature,
		},
		MaxIterations: cfg.Agent.MaxIterations,
	}, model, dispatcher, budget.NewGate(cfg.Budget), recorder).WithLogger(logger)

	if restored != nil {
		if err := a.Restore(restored.ConversationHistory); err != nil {
			store.Close()
			return nil, err
		}
		logger.Info().
			Str("session_id", restored.SessionID).
			Int("turns", len(restored.ConversationHistory)).
			Str("path", resumedFrom).
			Msg("session resumed")
	}

	return &agentRuntime{
		cfg:         cfg,
		logger:      logger,
		model:       model,
		search:      search,
		store:       store,
		agent:       a,
		resumedFrom: resumedFrom,
	}, nil
}

// save writes the session file and index row and returns the path.
func (r *agentRuntime) save(ctx context.Context) (string, error) {
	path, err := r.store.Save(ctx, r.agent.Snapshot())
	if err != nil {
		return "", fmt.Errorf("failed to save session: %w", err)
	}
	return path, nil
}

// Close releases the session index.
func (r *agentRuntime) Close() error {
	return r.store.Close()
}
