package badger

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/mcoot/sideline/internal/model"
	"github.com/mcoot/sideline/internal/storage"
)

// Storage is the BadgerDB-backed local provider. It also persists the
// pending write queue so queued writes survive a restart.
type Storage struct {
	db  *badger.DB
	cfg Config
}

// Ensure Storage implements the interfaces
var (
	_ storage.LocalProvider = (*Storage)(nil)
	_ storage.QueueStore    = (*Storage)(nil)
)

// Open opens (or creates) the local database
func Open(cfg Config) (*Storage, error) {
	opts := badger.DefaultOptions(cfg.Path)
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts.SyncWrites = cfg.SyncWrites

	// Reduce logging verbosity
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, &storage.LocalStorageError{Op: "open", Err: err}
	}
	return &Storage{db: db, cfg: cfg}, nil
}

// Close closes the database
func (s *Storage) Close() error {
	if err := s.db.Close(); err != nil {
		return &storage.LocalStorageError{Op: "close", Err: err}
	}
	return nil
}

func (s *Storage) Name() string { return "badger" }

// Record operations

func (s *Storage) Get(ctx context.Context, collection model.Collection, id string) (*model.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var rec *model.Record
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		rec, err = readRecord(txn, collection, id)
		return err
	})
	if err != nil {
		return nil, wrap("get", err)
	}
	return rec, nil
}

func (s *Storage) GetAll(ctx context.Context, collection model.Collection) ([]*model.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	records := make([]*model.Record, 0)
	err := s.db.View(func(txn *badger.Txn) error {
		return iterate(ctx, txn, collectionPrefix(collection), func(val []byte) error {
			var rec model.Record
			if err := json.Unmarshal(val, &rec); err != nil {
				return err
			}
			records = append(records, &rec)
			return nil
		})
	})
	if err != nil {
		return nil, wrap("get all", err)
	}
	return records, nil
}

func (s *Storage) Put(ctx context.Context, rec *model.Record) (*model.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		return writeRecord(txn, rec)
	})
	if err != nil {
		return nil, wrap("put", err)
	}
	return rec.Clone(), nil
}

func (s *Storage) Delete(ctx context.Context, collection model.Collection, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(recordKey(collection, id))
	})
	return wrap("delete", err)
}

// WithTransaction runs fn inside one badger read-write transaction
func (s *Storage) WithTransaction(ctx context.Context, fn func(tx storage.LocalTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var fnErr error
	err := s.db.Update(func(txn *badger.Txn) error {
		fnErr = fn(&localTx{txn: txn})
		return fnErr
	})
	if fnErr != nil {
		// Errors raised by fn keep their own type
		return fnErr
	}
	return wrap("transaction", err)
}

// localTx adapts a badger transaction to storage.LocalTx
type localTx struct {
	txn *badger.Txn
}

func (t *localTx) Get(collection model.Collection, id string) (*model.Record, error) {
	rec, err := readRecord(t.txn, collection, id)
	if err != nil {
		return nil, wrap("get", err)
	}
	return rec, nil
}

func (t *localTx) Put(rec *model.Record) error {
	return wrap("put", writeRecord(t.txn, rec))
}

func (t *localTx) Delete(collection model.Collection, id string) error {
	return wrap("delete", t.txn.Delete(recordKey(collection, id)))
}

func (t *localTx) CommitEntries(put []*model.PendingWrite, remove []string) error {
	return wrap("commit queue", commitEntries(t.txn, put, remove))
}

// Queue operations

func (s *Storage) Entries(ctx context.Context) ([]*model.PendingWrite, error) {
	entries := make([]*model.PendingWrite, 0)
	err := s.db.View(func(txn *badger.Txn) error {
		return iterate(ctx, txn, []byte(queuePrefix), func(val []byte) error {
			var e model.PendingWrite
			if err := json.Unmarshal(val, &e); err != nil {
				return err
			}
			entries = append(entries, &e)
			return nil
		})
	})
	if err != nil {
		return nil, wrap("list queue", err)
	}
	return entries, nil
}

func (s *Storage) CommitEntries(ctx context.Context, put []*model.PendingWrite, remove []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		return commitEntries(txn, put, remove)
	})
	return wrap("commit queue", err)
}

func (s *Storage) DeadLetters(ctx context.Context) ([]*model.DeadLetter, error) {
	letters := make([]*model.DeadLetter, 0)
	err := s.db.View(func(txn *badger.Txn) error {
		return iterate(ctx, txn, []byte(deadPrefix), func(val []byte) error {
			var dl model.DeadLetter
			if err := json.Unmarshal(val, &dl); err != nil {
				return err
			}
			letters = append(letters, &dl)
			return nil
		})
	})
	if err != nil {
		return nil, wrap("list dead letters", err)
	}
	sort.Slice(letters, func(i, j int) bool { return letters[i].Entry.Seq < letters[j].Entry.Seq })
	return letters, nil
}

func (s *Storage) MoveToDeadLetter(ctx context.Context, dl *model.DeadLetter) error {
	data, err := json.Marshal(dl)
	if err != nil {
		return wrap("dead letter", err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		if err := removeEntry(txn, dl.Entry.EntryID); err != nil {
			return err
		}
		return txn.Set(deadKey(dl.Entry.EntryID), data)
	})
	return wrap("dead letter", err)
}

func (s *Storage) RemoveDeadLetter(ctx context.Context, entryID string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(deadKey(entryID)); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return model.ErrDeadLetterNotFound
			}
			return err
		}
		return txn.Delete(deadKey(entryID))
	})
	return wrap("remove dead letter", err)
}

// helpers

func readRecord(txn *badger.Txn, collection model.Collection, id string) (*model.Record, error) {
	item, err := txn.Get(recordKey(collection, id))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, model.ErrRecordNotFound
		}
		return nil, err
	}
	var rec model.Record
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &rec)
	}); err != nil {
		return nil, err
	}
	return &rec, nil
}

func writeRecord(txn *badger.Txn, rec *model.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return txn.Set(recordKey(rec.Collection, rec.ID), data)
}

func commitEntries(txn *badger.Txn, put []*model.PendingWrite, remove []string) error {
	for _, id := range remove {
		if err := removeEntry(txn, id); err != nil {
			return err
		}
	}
	for _, e := range put {
		data, err := json.Marshal(e)
		if err != nil {
			return err
		}
		key := queueKey(e.Seq)
		if err := txn.Set(key, data); err != nil {
			return err
		}
		if err := txn.Set(queueIndexKey(e.EntryID), key); err != nil {
			return err
		}
	}
	return nil
}

// removeEntry deletes a queue entry and its index; missing entries are ignored
func removeEntry(txn *badger.Txn, entryID string) error {
	item, err := txn.Get(queueIndexKey(entryID))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		return err
	}
	key, err := item.ValueCopy(nil)
	if err != nil {
		return err
	}
	if err := txn.Delete(key); err != nil {
		return err
	}
	return txn.Delete(queueIndexKey(entryID))
}

func iterate(ctx context.Context, txn *badger.Txn, prefix []byte, fn func(val []byte) error) error {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = true
	it := txn.NewIterator(opts)
	defer it.Close()

	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := it.Item().Value(fn); err != nil {
			return err
		}
	}
	return nil
}

// wrap turns badger failures into LocalStorageError. Sentinel model errors
// and context errors pass through unchanged.
func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, model.ErrRecordNotFound) || errors.Is(err, model.ErrDeadLetterNotFound) ||
		errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var le *storage.LocalStorageError
	if errors.As(err, &le) {
		return err
	}
	return &storage.LocalStorageError{Op: op, Err: fmt.Errorf("badger: %w", err)}
}
