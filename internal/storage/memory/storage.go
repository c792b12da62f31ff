package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/mcoot/sideline/internal/model"
	"github.com/mcoot/sideline/internal/storage"
)

// Storage is an in-memory local provider and queue store
type Storage struct {
	mu sync.RWMutex

	records     map[model.EntityKey]*model.Record
	entries     map[string]*model.PendingWrite
	deadLetters map[string]*model.DeadLetter
}

// New creates a new in-memory storage instance
func New() *Storage {
	return &Storage{
		records:     make(map[model.EntityKey]*model.Record),
		entries:     make(map[string]*model.PendingWrite),
		deadLetters: make(map[string]*model.DeadLetter),
	}
}

// Ensure Storage implements the interfaces
var (
	_ storage.LocalProvider = (*Storage)(nil)
	_ storage.QueueStore    = (*Storage)(nil)
)

func (s *Storage) Name() string { return "memory" }

// Record operations

func (s *Storage) Get(ctx context.Context, collection model.Collection, id string) (*model.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[model.EntityKey{Collection: collection, ID: id}]
	if !ok {
		return nil, model.ErrRecordNotFound
	}
	return rec.Clone(), nil
}

func (s *Storage) GetAll(ctx context.Context, collection model.Collection) ([]*model.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return collect(s.records, collection), nil
}

func (s *Storage) Put(ctx context.Context, rec *model.Record) (*model.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.Key()] = rec.Clone()
	return rec.Clone(), nil
}

func (s *Storage) Delete(ctx context.Context, collection model.Collection, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, model.EntityKey{Collection: collection, ID: id})
	return nil
}

// WithTransaction stages writes and applies them only when fn succeeds
func (s *Storage) WithTransaction(ctx context.Context, fn func(tx storage.LocalTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{base: s.records, staged: make(map[model.EntityKey]*model.Record)}
	if err := fn(tx); err != nil {
		return err
	}
	for key, rec := range tx.staged {
		if rec == nil {
			delete(s.records, key)
			continue
		}
		s.records[key] = rec
	}
	for _, id := range tx.removed {
		delete(s.entries, id)
	}
	for _, e := range tx.entries {
		s.entries[e.EntryID] = e
	}
	return nil
}

// memTx records staged writes; a nil value marks a delete
type memTx struct {
	base    map[model.EntityKey]*model.Record
	staged  map[model.EntityKey]*model.Record
	entries []*model.PendingWrite
	removed []string
}

func (t *memTx) Get(collection model.Collection, id string) (*model.Record, error) {
	key := model.EntityKey{Collection: collection, ID: id}
	if rec, ok := t.staged[key]; ok {
		if rec == nil {
			return nil, model.ErrRecordNotFound
		}
		return rec.Clone(), nil
	}
	rec, ok := t.base[key]
	if !ok {
		return nil, model.ErrRecordNotFound
	}
	return rec.Clone(), nil
}

func (t *memTx) Put(rec *model.Record) error {
	t.staged[rec.Key()] = rec.Clone()
	return nil
}

func (t *memTx) Delete(collection model.Collection, id string) error {
	t.staged[model.EntityKey{Collection: collection, ID: id}] = nil
	return nil
}

func (t *memTx) CommitEntries(put []*model.PendingWrite, remove []string) error {
	t.removed = append(t.removed, remove...)
	for _, e := range put {
		c := *e
		t.entries = append(t.entries, &c)
	}
	return nil
}

// Queue operations

func (s *Storage) Entries(ctx context.Context) ([]*model.PendingWrite, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.PendingWrite, 0, len(s.entries))
	for _, e := range s.entries {
		c := *e
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

func (s *Storage) CommitEntries(ctx context.Context, put []*model.PendingWrite, remove []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range remove {
		delete(s.entries, id)
	}
	for _, e := range put {
		c := *e
		s.entries[e.EntryID] = &c
	}
	return nil
}

func (s *Storage) DeadLetters(ctx context.Context) ([]*model.DeadLetter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.DeadLetter, 0, len(s.deadLetters))
	for _, dl := range s.deadLetters {
		c := *dl
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Entry.Seq < out[j].Entry.Seq })
	return out, nil
}

func (s *Storage) MoveToDeadLetter(ctx context.Context, dl *model.DeadLetter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, dl.Entry.EntryID)
	c := *dl
	s.deadLetters[dl.Entry.EntryID] = &c
	return nil
}

func (s *Storage) RemoveDeadLetter(ctx context.Context, entryID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.deadLetters[entryID]; !ok {
		return model.ErrDeadLetterNotFound
	}
	delete(s.deadLetters, entryID)
	return nil
}

// collect returns clones of every record in collection ordered by id
func collect(records map[model.EntityKey]*model.Record, collection model.Collection) []*model.Record {
	out := make([]*model.Record, 0)
	for key, rec := range records {
		if key.Collection == collection {
			out = append(out, rec.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
