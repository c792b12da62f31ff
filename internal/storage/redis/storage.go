package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"github.com/mcoot/sideline/internal/dependencies/clock"
	"github.com/mcoot/sideline/internal/dependencies/ids"
	"github.com/mcoot/sideline/internal/model"
	"github.com/mcoot/sideline/internal/storage"
)

// Storage owns the Redis connection shared by every per-user remote
type Storage struct {
	client *redis.Client
	cfg    Config
	clock  clock.Clock
}

// New creates a new Redis storage instance and verifies the connection
func New(cfg Config, clk clock.Clock) (*Storage, error) {
	s, err := Dial(cfg, clk)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.client.Ping(ctx).Err(); err != nil {
		_ = s.client.Close()
		return nil, err
	}
	return s, nil
}

// Dial creates a Redis storage without contacting the server. Connections
// are made on first use, so an agent can start while the remote is down.
func Dial(cfg Config, clk clock.Clock) (*Storage, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, err
	}

	opts.PoolSize = cfg.PoolSize
	opts.MinIdleConns = cfg.MinIdleConns

	return NewWithClient(redis.NewClient(opts), cfg, clk), nil
}

// NewWithClient creates a Redis storage with an existing client (for testing)
func NewWithClient(client *redis.Client, cfg Config, clk clock.Clock) *Storage {
	return &Storage{
		client: client,
		cfg:    cfg,
		clock:  clk,
	}
}

// Close closes the Redis connection
func (s *Storage) Close() error {
	return s.client.Close()
}

// ForUser returns the remote provider bound to userID's namespace
func (s *Storage) ForUser(userID string) *Remote {
	return &Remote{store: s, userID: userID}
}

// Remote is the authoritative store for one user
type Remote struct {
	store  *Storage
	userID string
}

// Ensure Remote implements the interface
var _ storage.RemoteProvider = (*Remote)(nil)

func (r *Remote) Name() string { return "redis" }

// UserID returns the identity this remote is bound to
func (r *Remote) UserID() string { return r.userID }

func (r *Remote) Get(ctx context.Context, collection model.Collection, id string) (*model.Record, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	rec, err := readRecord(ctx, r.store.client, r.recordKey(collection, id))
	return rec, classify("get", err)
}

func (r *Remote) GetAll(ctx context.Context, collection model.Collection) ([]*model.Record, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	idList, err := r.store.client.SMembers(ctx, r.indexKey(collection)).Result()
	if err != nil {
		return nil, classify("get all", err)
	}
	records := make([]*model.Record, 0, len(idList))
	if len(idList) == 0 {
		return records, nil
	}

	keys := make([]string, len(idList))
	for i, id := range idList {
		keys[i] = r.recordKey(collection, id)
	}
	values, err := r.store.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, classify("get all", err)
	}
	for _, v := range values {
		str, ok := v.(string)
		if !ok {
			// Index entry without a record
			continue
		}
		var rec model.Record
		if err := json.Unmarshal([]byte(str), &rec); err != nil {
			return nil, &storage.PermanentSyncError{Op: "get all", Reason: "corrupt record", Err: err}
		}
		records = append(records, &rec)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].ID < records[j].ID })
	return records, nil
}

func (r *Remote) Put(ctx context.Context, rec *model.Record) (*model.Record, error) {
	return r.write(ctx, rec, 0, false)
}

func (r *Remote) PutIf(ctx context.Context, rec *model.Record, expected int64) (*model.Record, error) {
	return r.write(ctx, rec, expected, true)
}

func (r *Remote) Delete(ctx context.Context, collection model.Collection, id string) error {
	return r.remove(ctx, collection, id, 0, false)
}

func (r *Remote) DeleteIf(ctx context.Context, collection model.Collection, id string, expected int64) error {
	return r.remove(ctx, collection, id, expected, true)
}

// write stores rec with the next revision, optionally requiring the current
// revision to equal expected. WATCH makes the read-check-write atomic.
func (r *Remote) write(ctx context.Context, rec *model.Record, expected int64, conditional bool) (*model.Record, error) {
	if err := r.validate(rec); err != nil {
		return nil, err
	}
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	key := r.recordKey(rec.Collection, rec.ID)
	var stored *model.Record

	txf := func(tx *redis.Tx) error {
		cur, err := readRecord(ctx, tx, key)
		if err != nil && !errors.Is(err, model.ErrRecordNotFound) {
			return err
		}
		if conditional && revisionOf(cur) != expected {
			return &storage.ConflictError{Key: rec.Key(), Expected: expected, Remote: cur}
		}

		next := rec.Clone()
		next.Revision = revisionOf(cur) + 1
		next.UpdatedAt = r.store.clock.Now()
		next.Provenance = model.ProvenanceRemote
		data, err := json.Marshal(next)
		if err != nil {
			return &storage.PermanentSyncError{Op: "put", Reason: "unencodable record", Err: err}
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			pipe.SAdd(ctx, r.indexKey(rec.Collection), rec.ID)
			return nil
		})
		if err == nil {
			stored = next
		}
		return err
	}

	if err := r.store.client.Watch(ctx, txf, key); err != nil {
		return nil, classify("put", err)
	}
	return stored, nil
}

func (r *Remote) remove(ctx context.Context, collection model.Collection, id string, expected int64, conditional bool) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	key := r.recordKey(collection, id)
	txf := func(tx *redis.Tx) error {
		if conditional {
			cur, err := readRecord(ctx, tx, key)
			if errors.Is(err, model.ErrRecordNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			if cur.Revision != expected {
				return &storage.ConflictError{
					Key:      model.EntityKey{Collection: collection, ID: id},
					Expected: expected,
					Remote:   cur,
				}
			}
		}
		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			pipe.SRem(ctx, r.indexKey(collection), id)
			return nil
		})
		return err
	}
	return classify("delete", r.store.client.Watch(ctx, txf, key))
}

// validate rejects records the remote can never accept
func (r *Remote) validate(rec *model.Record) error {
	if !rec.Collection.Valid() {
		return &storage.PermanentSyncError{Op: "put", Reason: fmt.Sprintf("unknown collection %q", rec.Collection)}
	}
	if rec.Collection == model.CollectionAppSettings {
		if rec.ID != model.AppSettingsID {
			return &storage.PermanentSyncError{Op: "put", Reason: "settings id must be " + model.AppSettingsID}
		}
	} else if !ids.Valid(rec.ID) {
		return &storage.PermanentSyncError{Op: "put", Reason: fmt.Sprintf("id %q is not a UUID", rec.ID), Err: model.ErrInvalidID}
	}
	if !json.Valid(rec.Payload) {
		return &storage.PermanentSyncError{Op: "put", Reason: "payload is not valid JSON", Err: model.ErrInvalidPayload}
	}
	if r.store.cfg.MaxPayloadBytes > 0 && len(rec.Payload) > r.store.cfg.MaxPayloadBytes {
		return &storage.PermanentSyncError{
			Op:     "put",
			Reason: fmt.Sprintf("payload of %d bytes exceeds limit of %d", len(rec.Payload), r.store.cfg.MaxPayloadBytes),
			Err:    model.ErrInvalidPayload,
		}
	}
	return nil
}

func (r *Remote) recordKey(collection model.Collection, id string) string {
	return recordKey(r.store.cfg.KeyPrefix, r.userID, collection, id)
}

func (r *Remote) indexKey(collection model.Collection) string {
	return collectionIndexKey(r.store.cfg.KeyPrefix, r.userID, collection)
}

func (r *Remote) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.store.cfg.RequestTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, r.store.cfg.RequestTimeout)
}

// getter is satisfied by both *redis.Client and *redis.Tx
type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

// readRecord loads and decodes one record
func readRecord(ctx context.Context, c getter, key string) (*model.Record, error) {
	data, err := c.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, model.ErrRecordNotFound
		}
		return nil, err
	}
	var rec model.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, &storage.PermanentSyncError{Op: "get", Reason: "corrupt record", Err: err}
	}
	return &rec, nil
}

func revisionOf(rec *model.Record) int64 {
	if rec == nil {
		return 0
	}
	return rec.Revision
}

// classify maps Redis failures onto the sync error taxonomy. Anything not
// already classified is treated as transient: connection errors, timeouts,
// a lost WATCH race and server-side errors all clear up on retry.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, model.ErrRecordNotFound) {
		return err
	}
	if _, ok := storage.AsConflict(err); ok {
		return err
	}
	if storage.IsPermanent(err) {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return &storage.TransientSyncError{Op: op, Err: err}
}
