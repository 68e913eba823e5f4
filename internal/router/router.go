package router

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"fieldassist/internal/logging"
	"fieldassist/internal/metrics"
	"fieldassist/internal/models"
	"fieldassist/internal/provider"
)

// Router dispatches canonical requests to one backend at a time, falling
// back through the remaining usable backends until one succeeds.
//
// Attempts are strictly sequential and each backend is tried at most once
// per request. Router keeps no per-request state and is safe for concurrent use.
type Router struct {
	adapters map[models.ProviderID]provider.Adapter
	selector *Selector
	logger   *zap.Logger
	metrics  *metrics.Metrics
}

// New constructs a router. logger and m may be nil.
func New(adapters map[models.ProviderID]provider.Adapter, selector *Selector, logger *zap.Logger, m *metrics.Metrics) (*Router, error) {
	if selector == nil {
		return nil, errors.New("selector must not be nil")
	}
	if len(adapters) == 0 {
		return nil, errors.New("at least one adapter is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{
		adapters: adapters,
		selector: selector,
		logger:   logger.Named("router"),
		metrics:  m,
	}, nil
}

// Generate returns the first successful result. When opts.Provider is set it
// is attempted first in place of the selector's choice; fallback still applies.
//
// Only ConfigurationError, ExhaustionError, invalid input and context errors
// are returned; individual backend failures are logged and absorbed.
func (r *Router) Generate(ctx context.Context, messages []models.Message, opts models.Options) (*models.Result, error) {
	if err := provider.ValidateMessages(messages); err != nil {
		return nil, err
	}
	log := logging.FromContext(ctx, r.logger)

	// The usable set is computed at most once per request so the local
	// reachability check runs once, whether for selection or for the fallback chain.
	var (
		tried     = make(map[models.ProviderID]struct{})
		attempts  []provider.Attempt
		remaining []models.ProviderID
		computed  bool
	)

	next := opts.Provider
	if next != "" {
		if _, err := provider.Lookup(next); err != nil {
			return nil, err
		}
	} else {
		remaining = r.selector.Available(ctx)
		computed = true
		id, err := first(remaining)
		if err != nil {
			log.Error("no provider available", zap.Error(err))
			return nil, err
		}
		next = id
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		tried[next] = struct{}{}
		result, err := r.attempt(ctx, next, messages, opts)
		if err == nil {
			if len(attempts) > 0 {
				log.Info("fallback succeeded", zap.String("provider", string(next)), zap.Int("failed_attempts", len(attempts)))
			}
			return result, nil
		}

		attempts = append(attempts, provider.Attempt{Provider: next, Err: err})
		log.Warn("provider attempt failed",
			zap.String("provider", string(next)),
			zap.String("kind", provider.Classify(err)),
			zap.Error(err),
		)

		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}

		if !computed {
			remaining = r.selector.Available(ctx)
			computed = true
		}

		candidate, ok := nextCandidate(remaining, tried)
		if !ok {
			r.metrics.RecordExhausted()
			exhausted := &provider.ExhaustionError{Attempts: attempts}
			log.Error("all providers failed", zap.Error(exhausted))
			return nil, exhausted
		}

		r.metrics.RecordFallback(string(next))
		log.Info("falling back", zap.String("from", string(next)), zap.String("to", string(candidate)))
		next = candidate
	}
}

func (r *Router) attempt(ctx context.Context, id models.ProviderID, messages []models.Message, opts models.Options) (*models.Result, error) {
	adapter, ok := r.adapters[id]
	if !ok {
		return nil, errors.Newf("%s: no adapter registered", id)
	}

	start := time.Now()
	result, err := adapter.Generate(ctx, messages, opts)
	r.metrics.RecordAttempt(string(id), provider.Classify(err), time.Since(start))
	return result, err
}

func nextCandidate(order []models.ProviderID, tried map[models.ProviderID]struct{}) (models.ProviderID, bool) {
	for _, id := range order {
		if _, done := tried[id]; !done {
			return id, true
		}
	}
	return "", false
}

// AvailableProviders probes the local backend and checks configured
// credentials, returning usable backends in preference order.
func (r *Router) AvailableProviders(ctx context.Context) []models.ProviderID {
	return r.selector.Available(ctx)
}

// ProviderInfo returns static metadata without I/O.
func (r *Router) ProviderInfo(id models.ProviderID) (models.ProviderInfo, error) {
	return provider.Lookup(id)
}
