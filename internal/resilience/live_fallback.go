package resilience

import (
	"context"
	"fmt"

	"github.com/MrWong99/pranaflow/internal/observe"
	"github.com/MrWong99/pranaflow/pkg/live"
)

// Provider request outcomes recorded by [LiveFallback].
const (
	statusOK    = "ok"
	statusError = "error"
)

// LiveFallback implements [live.Dialer] with failover across several remote
// model endpoints. Only the dial is covered: once a channel is open, its
// failures are the session's to handle.
type LiveFallback struct {
	group   *FallbackGroup[namedDialer]
	metrics *observe.Metrics
}

var _ live.Dialer = (*LiveFallback)(nil)

type namedDialer struct {
	name string
	live.Dialer
}

// LiveFallbackOption configures a [LiveFallback].
type LiveFallbackOption func(*LiveFallback)

// WithFallbackMetrics records every dial attempt on m. Defaults to
// [observe.DefaultMetrics].
func WithFallbackMetrics(m *observe.Metrics) LiveFallbackOption {
	return func(f *LiveFallback) {
		if m != nil {
			f.metrics = m
		}
	}
}

// NewLiveFallback creates a [LiveFallback] with primary as the preferred
// endpoint.
func NewLiveFallback(primaryName string, primary live.Dialer, cfg FallbackConfig, opts ...LiveFallbackOption) *LiveFallback {
	f := &LiveFallback{
		group:   NewFallbackGroup(primaryName, namedDialer{primaryName, primary}, cfg),
		metrics: observe.DefaultMetrics(),
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

// AddFallback registers another endpoint, tried after all earlier ones.
func (f *LiveFallback) AddFallback(name string, d live.Dialer) {
	f.group.AddFallback(name, namedDialer{name, d})
}

// Dial implements [live.Dialer]. It stops trying further endpoints once ctx
// is done.
func (f *LiveFallback) Dial(ctx context.Context, cfg live.SessionConfig) (live.Channel, error) {
	ch, err := ExecuteWithResult(f.group, func(d namedDialer) (live.Channel, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ch, err := d.Dial(ctx, cfg)
		if err != nil {
			f.metrics.RecordProviderRequest(ctx, d.name, statusError)
			return nil, err
		}
		f.metrics.RecordProviderRequest(ctx, d.name, statusOK)
		return ch, nil
	})
	if err != nil {
		return nil, fmt.Errorf("resilience: dial: %w", err)
	}
	return ch, nil
}

// Available reports whether any endpoint's breaker would accept a dial. The
// ops server uses it for readiness.
func (f *LiveFallback) Available() bool {
	return f.group.Available()
}

// Status returns the breaker state per endpoint.
func (f *LiveFallback) Status() []EntryStatus {
	return f.group.Status()
}
