package router

import (
	"context"
	"errors"
	"log/slog"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/mcoot/sideline/internal/model"
	"github.com/mcoot/sideline/internal/storage"
)

// BreakerConfig configures the circuit breaker around each bound remote
type BreakerConfig struct {
	// MaxRequests is the number of requests allowed in half-open state
	MaxRequests uint32 `koanf:"max_requests" validate:"gte=1"`

	// Interval is the cyclic reset period for counts in closed state
	Interval time.Duration `koanf:"interval"`

	// Timeout is how long the breaker stays open before probing again
	Timeout time.Duration `koanf:"timeout" validate:"gt=0"`

	// FailureThreshold is the number of consecutive transient failures that opens the breaker
	FailureThreshold uint32 `koanf:"failure_threshold" validate:"gte=1"`
}

// DefaultBreakerConfig returns production defaults
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxRequests:      1,
		Interval:         time.Minute,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
	}
}

// guarded wraps a remote so repeated transient failures fail fast. Only
// transient errors count against the breaker; conflicts, permanent
// rejections and missing records are answers from a healthy remote.
type guarded struct {
	inner storage.RemoteProvider
	cb    *gobreaker.CircuitBreaker[any]
}

func newGuarded(name string, inner storage.RemoteProvider, cfg BreakerConfig, logger *slog.Logger) *guarded {
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("remote circuit breaker state changed",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !storage.IsTransient(err)
		},
	}
	return &guarded{inner: inner, cb: gobreaker.NewCircuitBreaker[any](settings)}
}

// Ensure guarded implements the interface
var _ storage.RemoteProvider = (*guarded)(nil)

func (g *guarded) Name() string { return g.inner.Name() }

func (g *guarded) State() string { return g.cb.State().String() }

func (g *guarded) Get(ctx context.Context, collection model.Collection, id string) (*model.Record, error) {
	return g.record("get", func() (*model.Record, error) { return g.inner.Get(ctx, collection, id) })
}

func (g *guarded) GetAll(ctx context.Context, collection model.Collection) ([]*model.Record, error) {
	v, err := g.cb.Execute(func() (any, error) { return g.inner.GetAll(ctx, collection) })
	if err != nil {
		return nil, rejection("get all", err)
	}
	return v.([]*model.Record), nil
}

func (g *guarded) Put(ctx context.Context, rec *model.Record) (*model.Record, error) {
	return g.record("put", func() (*model.Record, error) { return g.inner.Put(ctx, rec) })
}

func (g *guarded) PutIf(ctx context.Context, rec *model.Record, expected int64) (*model.Record, error) {
	return g.record("put", func() (*model.Record, error) { return g.inner.PutIf(ctx, rec, expected) })
}

func (g *guarded) Delete(ctx context.Context, collection model.Collection, id string) error {
	_, err := g.cb.Execute(func() (any, error) { return nil, g.inner.Delete(ctx, collection, id) })
	return rejection("delete", err)
}

func (g *guarded) DeleteIf(ctx context.Context, collection model.Collection, id string, expected int64) error {
	_, err := g.cb.Execute(func() (any, error) { return nil, g.inner.DeleteIf(ctx, collection, id, expected) })
	return rejection("delete", err)
}

func (g *guarded) record(op string, fn func() (*model.Record, error)) (*model.Record, error) {
	v, err := g.cb.Execute(func() (any, error) { return fn() })
	if err != nil {
		return nil, rejection(op, err)
	}
	rec, _ := v.(*model.Record)
	return rec, nil
}

// rejection turns a breaker refusal into a transient error; other errors
// pass through untouched
func rejection(op string, err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return &storage.TransientSyncError{Op: op, Err: err}
	}
	return err
}
