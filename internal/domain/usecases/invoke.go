// Package usecases contains the orchestration core: model invocation with
// provider fallback, conversation context extraction, the triage, retrieval
// and generation stages, and the pipeline that sequences them.
package usecases

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"docbot/internal/domain/entities"
	"docbot/internal/domain/ports"
	"docbot/internal/observability"
)

// ModelInvoker runs requests against a primary model and retries once with a
// configured fallback when the primary is rate limited. Any other failure,
// or a failure of the fallback itself, propagates to the caller. Worst case
// is two model round-trips per logical call.
type ModelInvoker struct {
	client   ports.ModelClient
	primary  string
	fallback string
}

// NewModelInvoker creates a ModelInvoker. fallback may be empty, which
// disables the retry.
func NewModelInvoker(client ports.ModelClient, primary, fallback string) *ModelInvoker {
	return &ModelInvoker{client: client, primary: primary, fallback: fallback}
}

// Invoke performs one logical blocking model call.
func (m *ModelInvoker) Invoke(ctx context.Context, req ports.ModelRequest) (*entities.ModelResult, error) {
	log := observability.FromContext(ctx)

	req.Model = m.primary
	out, err := m.client.Complete(ctx, req)
	if err == nil {
		log.Info("model call served", zap.String("model", m.primary), zap.Bool("fallback", false))
		return &entities.ModelResult{Output: out, Model: m.primary}, nil
	}

	if !ports.IsRateLimit(err) || m.fallback == "" {
		return nil, err
	}

	log.Warn("primary model rate limited, retrying with fallback",
		zap.String("primary", m.primary),
		zap.String("fallback", m.fallback),
		zap.Error(err))

	req.Model = m.fallback
	out, ferr := m.client.Complete(ctx, req)
	if ferr != nil {
		return nil, fmt.Errorf("%w: primary: %v; fallback %s: %v",
			entities.ErrProviderUnavailable, err, m.fallback, ferr)
	}

	log.Info("model call served", zap.String("model", m.fallback), zap.Bool("fallback", true))
	return &entities.ModelResult{Output: out, Model: m.fallback, Fallback: true}, nil
}

// InvokeStream opens a streaming model call with the same fallback policy.
// The policy applies only to opening the stream; a failure mid-stream is
// delivered on the token channel and not retried. Returns the serving model.
func (m *ModelInvoker) InvokeStream(ctx context.Context, req ports.ModelRequest) (<-chan ports.StreamToken, string, error) {
	log := observability.FromContext(ctx)

	req.Model = m.primary
	tokens, err := m.client.CompleteStream(ctx, req)
	if err == nil {
		log.Info("model stream opened", zap.String("model", m.primary), zap.Bool("fallback", false))
		return tokens, m.primary, nil
	}

	if !ports.IsRateLimit(err) || m.fallback == "" {
		return nil, "", err
	}

	log.Warn("primary model rate limited, streaming with fallback",
		zap.String("primary", m.primary),
		zap.String("fallback", m.fallback),
		zap.Error(err))

	req.Model = m.fallback
	tokens, ferr := m.client.CompleteStream(ctx, req)
	if ferr != nil {
		return nil, "", fmt.Errorf("%w: primary: %v; fallback %s: %v",
			entities.ErrProviderUnavailable, err, m.fallback, ferr)
	}

	log.Info("model stream opened", zap.String("model", m.fallback), zap.Bool("fallback", true))
	return tokens, m.fallback, nil
}
