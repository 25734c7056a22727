package llm

import (
	"context"
	"sync/atomic"
)

// RequestLogger receives a copy of every request a provider streams.
type RequestLogger interface {
	LogRequest(provider string, step int, req Request)
}

// DebugProvider wraps a provider and records each outgoing request.
type DebugProvider struct {
	inner Provider
	log   RequestLogger
	step  atomic.Int64
}

// WrapWithLogging attaches a request logger to a provider. A nil logger
// returns the provider unchanged.
func WrapWithLogging(p Provider, log RequestLogger) Provider {
	if log == nil {
		return p
	}
	return &DebugProvider{inner: p, log: log}
}

func (d *DebugProvider) Name() string {
	return d.inner.Name()
}

func (d *DebugProvider) Capabilities() Capabilities {
	return d.inner.Capabilities()
}

// ListModels forwards to the inner provider when it supports listing.
func (d *DebugProvider) ListModels(ctx context.Context) ([]ModelInfo, error) {
	if lister, ok := d.inner.(ModelLister); ok {
		return lister.ListModels(ctx)
	}
	return nil, nil
}

func (d *DebugProvider) Stream(ctx context.Context, req Request) (Stream, error) {
	step := int(d.step.Add(1))
	d.log.LogRequest(d.inner.Name(), step, req)
	return d.inner.Stream(ctx, req)
}
