package testutil

import (
	"context"
	"sync"

	"github.com/mcoot/sideline/internal/model"
	"github.com/mcoot/sideline/internal/storage"
)

// ScriptedRemote wraps a remote and injects failures. Scripted errors are
// consumed one per call in order; a nil entry lets that call through.
type ScriptedRemote struct {
	inner storage.RemoteProvider

	mu       sync.Mutex
	script   []error
	fallback error
	calls    map[string]int
	before   func(op string)
}

// NewScriptedRemote wraps inner
func NewScriptedRemote(inner storage.RemoteProvider) *ScriptedRemote {
	return &ScriptedRemote{inner: inner, calls: make(map[string]int)}
}

// Ensure ScriptedRemote implements the interface
var _ storage.RemoteProvider = (*ScriptedRemote)(nil)

// FailNext queues errs for the next calls
func (r *ScriptedRemote) FailNext(errs ...error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.script = append(r.script, errs...)
}

// FailAlways makes every unscripted call return err; nil heals the remote
func (r *ScriptedRemote) FailAlways(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallback = err
}

// BeforeCall registers a hook run at the start of every call
func (r *ScriptedRemote) BeforeCall(fn func(op string)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.before = fn
}

// Calls returns how many times op was invoked
func (r *ScriptedRemote) Calls(op string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[op]
}

// TotalCalls returns the number of calls across all operations
func (r *ScriptedRemote) TotalCalls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.calls {
		n += c
	}
	return n
}

func (r *ScriptedRemote) next(op string) error {
	r.mu.Lock()
	r.calls[op]++
	hook := r.before
	var err error
	if len(r.script) > 0 {
		err = r.script[0]
		r.script = r.script[1:]
	} else {
		err = r.fallback
	}
	r.mu.Unlock()

	if hook != nil {
		hook(op)
	}
	return err
}

func (r *ScriptedRemote) Name() string { return r.inner.Name() }

func (r *ScriptedRemote) Get(ctx context.Context, collection model.Collection, id string) (*model.Record, error) {
	if err := r.next("get"); err != nil {
		return nil, err
	}
	return r.inner.Get(ctx, collection, id)
}

func (r *ScriptedRemote) GetAll(ctx context.Context, collection model.Collection) ([]*model.Record, error) {
	if err := r.next("get_all"); err != nil {
		return nil, err
	}
	return r.inner.GetAll(ctx, collection)
}

func (r *ScriptedRemote) Put(ctx context.Context, rec *model.Record) (*model.Record, error) {
	if err := r.next("put"); err != nil {
		return nil, err
	}
	return r.inner.Put(ctx, rec)
}

func (r *ScriptedRemote) PutIf(ctx context.Context, rec *model.Record, expected int64) (*model.Record, error) {
	if err := r.next("put_if"); err != nil {
		return nil, err
	}
	return r.inner.PutIf(ctx, rec, expected)
}

func (r *ScriptedRemote) Delete(ctx context.Context, collection model.Collection, id string) error {
	if err := r.next("delete"); err != nil {
		return err
	}
	return r.inner.Delete(ctx, collection, id)
}

func (r *ScriptedRemote) DeleteIf(ctx context.Context, collection model.Collection, id string, expected int64) error {
	if err := r.next("delete_if"); err != nil {
		return err
	}
	return r.inner.DeleteIf(ctx, collection, id, expected)
}
