// Package router routes remote calls to the backend bound to the current
// identity.
package router

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"

	"github.com/mcoot/sideline/internal/model"
	"github.com/mcoot/sideline/internal/storage"
)

var (
	ErrUnknownProvider = errors.New("unknown remote provider")
	ErrMissingUserID   = errors.New("authenticated state requires a user id")
)

// Factory builds the remote provider for one user. Remotes that implement
// io.Closer are closed when the router drops them.
type Factory func(userID string) (storage.RemoteProvider, error)

// Router is the auth-aware remote. While anonymous every data call fails
// with *storage.AuthenticationRequiredError; once authenticated it proxies
// to a remote bound to that user, so identities never see each other's data.
type Router struct {
	mu        sync.RWMutex
	factories map[string]Factory
	active    string
	auth      model.AuthState
	bound     *guarded
	breaker   BreakerConfig
	logger    *slog.Logger
}

// New creates an anonymous router using the named default provider
func New(defaultProvider string, factories map[string]Factory, breaker BreakerConfig, logger *slog.Logger) (*Router, error) {
	if _, ok := factories[defaultProvider]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, defaultProvider)
	}
	return &Router{
		factories: factories,
		active:    defaultProvider,
		breaker:   breaker,
		logger:    logger.With(slog.String("component", "router")),
	}, nil
}

// Ensure Router implements the interface
var _ storage.RemoteProvider = (*Router)(nil)

// Name returns the active remote provider name
func (r *Router) Name() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active
}

// Providers lists the registered provider names
func (r *Router) Providers() []string {
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// AuthState returns the current identity
func (r *Router) AuthState() model.AuthState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.auth
}

// IsAuthenticated reports whether a user is signed in
func (r *Router) IsAuthenticated() bool {
	return r.AuthState().IsAuthenticated
}

// BreakerState reports the circuit breaker state of the bound remote
func (r *Router) BreakerState() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.bound == nil {
		return ""
	}
	return r.bound.State()
}

// UpdateAuthState replaces the identity and rebinds the remote for it
func (r *Router) UpdateAuthState(isAuthenticated bool, userID string) error {
	if isAuthenticated && userID == "" {
		return ErrMissingUserID
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if !isAuthenticated {
		r.auth = model.Anonymous
		r.release()
		r.logger.Info("signed out; remote unbound")
		return nil
	}
	if r.auth.IsAuthenticated && r.auth.UserID == userID && r.bound != nil {
		return nil
	}
	if err := r.bind(r.active, userID); err != nil {
		return err
	}
	r.auth = model.AuthState{IsAuthenticated: true, UserID: userID}
	r.logger.Info("signed in; remote bound", slog.String("user_id", userID), slog.String("provider", r.active))
	return nil
}

// ForceProvider switches the remote backend, rebinding if signed in
func (r *Router) ForceProvider(name string) error {
	if _, ok := r.factories[name]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.auth.IsAuthenticated {
		if err := r.bind(name, r.auth.UserID); err != nil {
			return err
		}
	}
	r.active = name
	r.logger.Info("remote provider forced", slog.String("provider", name))
	return nil
}

// Close drops the current binding
func (r *Router) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.release()
	return nil
}

// bind replaces the binding; the previous one is kept if the factory fails.
// mu must be held.
func (r *Router) bind(provider, userID string) error {
	remote, err := r.factories[provider](userID)
	if err != nil {
		return fmt.Errorf("bind %s remote for %s: %w", provider, userID, err)
	}
	r.release()
	r.bound = newGuarded(provider+":"+userID, remote, r.breaker, r.logger)
	return nil
}

// release closes and drops the current binding; mu must be held
func (r *Router) release() {
	if r.bound == nil {
		return
	}
	if c, ok := r.bound.inner.(io.Closer); ok {
		if err := c.Close(); err != nil {
			r.logger.Warn("failed to close remote binding",
				slog.String("binding", r.bound.cb.Name()),
				slog.Any("error", err))
		}
	}
	r.bound = nil
}

// current returns the binding for the current identity
func (r *Router) current(op string) (storage.RemoteProvider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if !r.auth.IsAuthenticated || r.bound == nil {
		return nil, &storage.AuthenticationRequiredError{Op: op}
	}
	return r.bound, nil
}

func (r *Router) Get(ctx context.Context, collection model.Collection, id string) (*model.Record, error) {
	remote, err := r.current("get")
	if err != nil {
		return nil, err
	}
	return remote.Get(ctx, collection, id)
}

func (r *Router) GetAll(ctx context.Context, collection model.Collection) ([]*model.Record, error) {
	remote, err := r.current("get all")
	if err != nil {
		return nil, err
	}
	return remote.GetAll(ctx, collection)
}

func (r *Router) Put(ctx context.Context, rec *model.Record) (*model.Record, error) {
	remote, err := r.current("put")
	if err != nil {
		return nil, err
	}
	return remote.Put(ctx, rec)
}

func (r *Router) PutIf(ctx context.Context, rec *model.Record, expected int64) (*model.Record, error) {
	remote, err := r.current("put")
	if err != nil {
		return nil, err
	}
	return remote.PutIf(ctx, rec, expected)
}

func (r *Router) Delete(ctx context.Context, collection model.Collection, id string) error {
	remote, err := r.current("delete")
	if err != nil {
		return err
	}
	return remote.Delete(ctx, collection, id)
}

func (r *Router) DeleteIf(ctx context.Context, collection model.Collection, id string, expected int64) error {
	remote, err := r.current("delete")
	if err != nil {
		return err
	}
	return remote.DeleteIf(ctx, collection, id, expected)
}
