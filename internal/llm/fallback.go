package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// FallbackProvider chains vendor runners. A request goes to the first
// provider; on failure it walks down the chain until one answers, so a
// single vendor outage does not take the assistant offline.
type FallbackProvider struct {
	providers []Provider
	logger    *slog.Logger
}

// NewFallbackProvider builds the chain in priority order. Panics on an empty
// chain, which is a startup wiring error.
func NewFallbackProvider(providers []Provider, logger *slog.Logger) *FallbackProvider {
	if len(providers) == 0 {
		panic("FallbackProvider requires at least one provider")
	}
	return &FallbackProvider{providers: providers, logger: logger}
}

// SendMessage returns the first successful response from the chain. When
// every provider fails, the joined errors come back so the caller's log
// shows each vendor's failure.
func (f *FallbackProvider) SendMessage(ctx context.Context, req *Request) (*Response, error) {
	var errs []error
	for i, p := range f.providers {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		resp, err := p.SendMessage(ctx, req)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
			f.logger.WarnContext(ctx, "provider failed, trying next in chain",
				slog.String("provider", p.Name()),
				slog.Int("remaining", len(f.providers)-i-1),
				slog.String("error", err.Error()),
			)
			continue
		}

		if i > 0 {
			f.logger.InfoContext(ctx, "fallback provider answered",
				slog.String("provider", p.Name()),
				slog.Int("attempt", i+1),
			)
		}
		return resp, nil
	}
	return nil, fmt.Errorf("all providers failed: %w", errors.Join(errs...))
}

// Name joins the chain's provider names, primary first.
func (f *FallbackProvider) Name() string {
	names := make([]string, len(f.providers))
	for i, p := range f.providers {
		names[i] = p.Name()
	}
	return strings.Join(names, "+")
}
