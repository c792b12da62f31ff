package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/mcoot/sideline/internal/dependencies/clock"
	"github.com/mcoot/sideline/internal/model"
	"github.com/mcoot/sideline/internal/storage"
)

// Remote is an in-memory authoritative store. It assigns revisions and
// timestamps the way a real remote does, which makes it a drop-in remote
// for development and tests.
type Remote struct {
	mu      sync.RWMutex
	clock   clock.Clock
	records map[model.EntityKey]*model.Record
}

// NewRemote creates an empty remote stamped by clk
func NewRemote(clk clock.Clock) *Remote {
	return &Remote{
		clock:   clk,
		records: make(map[model.EntityKey]*model.Record),
	}
}

// Ensure Remote implements the interface
var _ storage.RemoteProvider = (*Remote)(nil)

func (r *Remote) Name() string { return "memory" }

func (r *Remote) Get(ctx context.Context, collection model.Collection, id string) (*model.Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[model.EntityKey{Collection: collection, ID: id}]
	if !ok {
		return nil, model.ErrRecordNotFound
	}
	return rec.Clone(), nil
}

func (r *Remote) GetAll(ctx context.Context, collection model.Collection) ([]*model.Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return collect(r.records, collection), nil
}

func (r *Remote) Put(ctx context.Context, rec *model.Record) (*model.Record, error) {
	if err := checkCollection("put", rec.Collection); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.store(rec), nil
}

func (r *Remote) PutIf(ctx context.Context, rec *model.Record, expected int64) (*model.Record, error) {
	if err := checkCollection("put", rec.Collection); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	cur := r.records[rec.Key()]
	if revisionOf(cur) != expected {
		return nil, &storage.ConflictError{Key: rec.Key(), Expected: expected, Remote: cur.Clone()}
	}
	return r.store(rec), nil
}

func (r *Remote) Delete(ctx context.Context, collection model.Collection, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.records, model.EntityKey{Collection: collection, ID: id})
	return nil
}

func (r *Remote) DeleteIf(ctx context.Context, collection model.Collection, id string, expected int64) error {
	key := model.EntityKey{Collection: collection, ID: id}
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.records[key]
	if !ok {
		return nil
	}
	if cur.Revision != expected {
		return &storage.ConflictError{Key: key, Expected: expected, Remote: cur.Clone()}
	}
	delete(r.records, key)
	return nil
}

// Seed stores rec exactly as given, bypassing revision assignment
func (r *Remote) Seed(rec *model.Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[rec.Key()] = rec.Clone()
}

// Len returns the number of stored records
func (r *Remote) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}

// store must be called with mu held
func (r *Remote) store(rec *model.Record) *model.Record {
	stored := rec.Clone()
	stored.Revision = revisionOf(r.records[rec.Key()]) + 1
	stored.UpdatedAt = r.clock.Now()
	stored.Provenance = model.ProvenanceRemote
	r.records[rec.Key()] = stored
	return stored.Clone()
}

func revisionOf(rec *model.Record) int64 {
	if rec == nil {
		return 0
	}
	return rec.Revision
}

func checkCollection(op string, c model.Collection) error {
	if !c.Valid() {
		return &storage.PermanentSyncError{Op: op, Reason: fmt.Sprintf("unknown collection %q", c)}
	}
	return nil
}
