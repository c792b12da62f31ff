// Package backup exports, imports and wipes the whole dataset. Imports and
// resets run as one transaction with one atomic step per collection, so a
// failure part way leaves every collection as it was. The changes reach the
// remote through the pending queue.
package backup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/goccy/go-json"

	"github.com/mcoot/sideline/internal/dependencies/clock"
	"github.com/mcoot/sideline/internal/model"
	"github.com/mcoot/sideline/internal/offline"
	"github.com/mcoot/sideline/internal/services/datastore"
	"github.com/mcoot/sideline/internal/txn"
)

// FormatVersion is the backup document version this build reads and writes
const FormatVersion = 1

// Resource is the transaction lock shared by imports and resets
const Resource = "dataset"

var ErrUnsupportedVersion = errors.New("unsupported backup version")

// Backup is the portable export document
type Backup struct {
	Version     int                `json:"version"`
	ExportedAt  time.Time          `json:"exportedAt"`
	Players     []model.Player     `json:"players"`
	Seasons     []model.Season     `json:"seasons"`
	Tournaments []model.Tournament `json:"tournaments"`
	SavedGames  []model.SavedGame  `json:"savedGames"`
	AppSettings *model.AppSettings `json:"appSettings,omitempty"`
}

// Service implements backup operations
type Service struct {
	cache  *offline.Manager
	txns   *txn.Manager
	clock  clock.Clock
	logger *slog.Logger
}

// New creates a backup service
func New(cache *offline.Manager, txns *txn.Manager, clk clock.Clock, logger *slog.Logger) *Service {
	return &Service{
		cache:  cache,
		txns:   txns,
		clock:  clk,
		logger: logger.With(slog.String("component", "backup")),
	}
}

// Export collects every collection into one document
func (s *Service) Export(ctx context.Context) (*Backup, error) {
	b := &Backup{Version: FormatVersion, ExportedAt: s.clock.Now()}

	var err error
	if b.Players, err = decodeAll[model.Player](ctx, s, model.CollectionPlayers); err != nil {
		return nil, err
	}
	if b.Seasons, err = decodeAll[model.Season](ctx, s, model.CollectionSeasons); err != nil {
		return nil, err
	}
	if b.Tournaments, err = decodeAll[model.Tournament](ctx, s, model.CollectionTournaments); err != nil {
		return nil, err
	}
	if b.SavedGames, err = decodeAll[model.SavedGame](ctx, s, model.CollectionSavedGames); err != nil {
		return nil, err
	}
	settings, err := decodeAll[model.AppSettings](ctx, s, model.CollectionAppSettings)
	if err != nil {
		return nil, err
	}
	if len(settings) > 0 {
		b.AppSettings = &settings[0]
	}
	return b, nil
}

// Import replaces the whole dataset with b. The returned error reports a
// document that was rejected before any change; the result reports how the
// transaction ended.
func (s *Service) Import(ctx context.Context, b *Backup) (txn.Result, error) {
	if b.Version != FormatVersion {
		return txn.Result{}, fmt.Errorf("%w: %d", ErrUnsupportedVersion, b.Version)
	}
	sets, err := b.records()
	if err != nil {
		return txn.Result{}, err
	}

	ops := make([]txn.Operation, 0, len(sets))
	for _, c := range model.Collections() {
		ops = append(ops, s.replace(c, sets[c]))
	}
	return s.run(ctx, "import", ops), nil
}

// Reset wipes every collection
func (s *Service) Reset(ctx context.Context) (txn.Result, error) {
	ops := make([]txn.Operation, 0, len(model.Collections()))
	for _, c := range model.Collections() {
		ops = append(ops, s.replace(c, nil))
	}
	return s.run(ctx, "reset", ops), nil
}

func (s *Service) run(ctx context.Context, kind string, ops []txn.Operation) txn.Result {
	opts := txn.DefaultOptions()
	opts.Resource = Resource
	opts.Timeout = 2 * time.Minute

	result := s.txns.ExecuteTransaction(ctx, ops, opts)
	if result.Err != nil {
		s.logger.Error("dataset "+kind+" failed",
			slog.String("transaction_id", result.TransactionID),
			slog.String("status", string(result.Status)),
			slog.Any("error", result.Err))
	} else {
		s.logger.Info("dataset "+kind+" completed", slog.String("transaction_id", result.TransactionID))
	}
	return result
}

// replace builds the step that swaps collection c for want. Each swap lands
// in one local transaction, so a failing step leaves its collection as it
// was; its rollback restores the snapshot taken when the step ran.
func (s *Service) replace(c model.Collection, want []*model.Record) txn.Operation {
	var snapshot []*model.Record
	return txn.Operation{
		ID:          "replace-" + string(c),
		Description: fmt.Sprintf("replace %s (%d records)", c, len(want)),
		Execute: func(ctx context.Context) error {
			var err error
			snapshot, err = s.cache.GetAll(ctx, c)
			if err != nil {
				return err
			}
			_, err = s.cache.Replace(ctx, c, want)
			return err
		},
		Rollback: func(ctx context.Context) error {
			_, err := s.cache.Replace(ctx, c, snapshot)
			return err
		},
	}
}

// records validates the document and converts it to per-collection records
func (b *Backup) records() (map[model.Collection][]*model.Record, error) {
	sets := make(map[model.Collection][]*model.Record)
	var err error
	if sets[model.CollectionPlayers], err = encodeAll(model.CollectionPlayers, b.Players, func(p model.Player) string { return p.ID }); err != nil {
		return nil, err
	}
	if sets[model.CollectionSeasons], err = encodeAll(model.CollectionSeasons, b.Seasons, func(v model.Season) string { return v.ID }); err != nil {
		return nil, err
	}
	if sets[model.CollectionTournaments], err = encodeAll(model.CollectionTournaments, b.Tournaments, func(v model.Tournament) string { return v.ID }); err != nil {
		return nil, err
	}
	if sets[model.CollectionSavedGames], err = encodeAll(model.CollectionSavedGames, b.SavedGames, func(v model.SavedGame) string { return v.ID }); err != nil {
		return nil, err
	}
	if b.AppSettings != nil {
		sets[model.CollectionAppSettings], err = encodeAll(model.CollectionAppSettings, []model.AppSettings{*b.AppSettings}, func(model.AppSettings) string { return model.AppSettingsID })
		if err != nil {
			return nil, err
		}
	}
	return sets, nil
}

func encodeAll[T any](c model.Collection, items []T, id func(T) string) ([]*model.Record, error) {
	out := make([]*model.Record, 0, len(items))
	seen := make(map[string]bool, len(items))
	for i, item := range items {
		if err := datastore.Validate(item); err != nil {
			return nil, fmt.Errorf("%s[%d]: %w", c, i, err)
		}
		key := id(item)
		if seen[key] {
			return nil, fmt.Errorf("%s[%d]: duplicate id %q: %w", c, i, key, model.ErrInvalidPayload)
		}
		seen[key] = true
		payload, err := json.Marshal(item)
		if err != nil {
			return nil, err
		}
		out = append(out, &model.Record{Collection: c, ID: key, Payload: payload})
	}
	return out, nil
}

func decodeAll[T any](ctx context.Context, s *Service, c model.Collection) ([]T, error) {
	recs, err := s.cache.GetAll(ctx, c)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(recs))
	for _, rec := range recs {
		var v T
		if err := json.Unmarshal(rec.Payload, &v); err != nil {
			return nil, fmt.Errorf("decode %s: %w", rec.Key(), err)
		}
		out = append(out, v)
	}
	return out, nil
}
