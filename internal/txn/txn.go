// Package txn runs multi-step operations with compensating rollback.
//
// Steps run strictly in order. When a step fails, times out or the
// transaction is cancelled, the steps that completed are rolled back in
// reverse order. A step abandoned by a timeout may still be running; it
// never counted as completed, so it is not rolled back.
package txn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/mcoot/sideline/internal/dependencies/clock"
	"github.com/mcoot/sideline/internal/dependencies/ids"
	"github.com/mcoot/sideline/internal/storage"
)

var (
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrTransactionActive   = errors.New("transaction id already active")
	ErrCancelled           = errors.New("transaction cancelled")
)

// Status is the lifecycle state of a transaction
type Status string

const (
	StatusPending    Status = "pending"
	StatusExecuting  Status = "executing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusRolledBack Status = "rolled_back"
)

// Operation is one step. Rollback may be nil for steps that cannot be undone.
type Operation struct {
	ID          string
	Description string
	Execute     func(ctx context.Context) error
	Rollback    func(ctx context.Context) error
}

// Options controls a transaction
type Options struct {
	// TransactionID is generated when empty
	TransactionID string

	// Resource names the lock; one transaction per resource runs at a time
	Resource string

	RollbackOnFailure bool
	RetryOnFailure    bool

	// MaxRetries is the number of extra attempts when RetryOnFailure is set
	MaxRetries int

	// Timeout bounds each attempt; zero means no limit
	Timeout time.Duration
}

// DefaultOptions returns the default transaction options
func DefaultOptions() Options {
	return Options{
		Resource:          "default",
		RollbackOnFailure: true,
		MaxRetries:        3,
		Timeout:           30 * time.Second,
	}
}

// Result describes how a transaction ended
type Result struct {
	TransactionID        string
	Status               Status
	CompletedOperations  []string
	RolledBackOperations []string
	FailedOperation      string
	Attempts             int
	StartedAt            time.Time
	FinishedAt           time.Time

	// Err is nil only when Status is StatusCompleted
	Err            error
	RollbackErrors []error
}

// Succeeded reports whether every operation completed
func (r Result) Succeeded() bool { return r.Status == StatusCompleted }

// Manager executes transactions
type Manager struct {
	ids    ids.Generator
	clock  clock.Clock
	logger *slog.Logger

	mu     sync.Mutex
	locks  map[string]chan struct{}
	active map[string]context.CancelCauseFunc
}

// New creates a transaction manager
func New(idGen ids.Generator, clk clock.Clock, logger *slog.Logger) *Manager {
	return &Manager{
		ids:    idGen,
		clock:  clk,
		logger: logger.With(slog.String("component", "txn")),
		locks:  make(map[string]chan struct{}),
		active: make(map[string]context.CancelCauseFunc),
	}
}

// ExecuteTransaction runs ops as one transaction
func (m *Manager) ExecuteTransaction(ctx context.Context, ops []Operation, opts Options) Result {
	id := opts.TransactionID
	if id == "" {
		id = m.ids.NewID()
	}
	if opts.Resource == "" {
		opts.Resource = DefaultOptions().Resource
	}
	result := Result{TransactionID: id, Status: StatusPending, StartedAt: m.clock.Now()}
	logger := m.logger.With(slog.String("transaction_id", id), slog.String("resource", opts.Resource))

	if err := m.lock(ctx, opts.Resource); err != nil {
		return m.done(result, StatusFailed, err)
	}
	defer m.unlock(opts.Resource)

	txCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	if err := m.register(id, cancel); err != nil {
		return m.done(result, StatusFailed, err)
	}
	defer m.deregister(id)

	result.Status = StatusExecuting
	logger.Info("transaction started", slog.Int("operations", len(ops)))

	for {
		result.Attempts++
		attempt := m.attempt(txCtx, ctx, id, ops, opts, logger)
		result.CompletedOperations = attempt.CompletedOperations
		result.RolledBackOperations = append(result.RolledBackOperations, attempt.RolledBackOperations...)
		result.RollbackErrors = append(result.RollbackErrors, attempt.RollbackErrors...)
		result.FailedOperation = attempt.FailedOperation

		if attempt.Err == nil {
			logger.Info("transaction completed", slog.Int("attempts", result.Attempts))
			return m.done(result, StatusCompleted, nil)
		}
		if !opts.RetryOnFailure || result.Attempts > opts.MaxRetries || txCtx.Err() != nil {
			return m.done(result, attempt.Status, attempt.Err)
		}
		logger.Warn("transaction attempt failed; retrying",
			slog.Int("attempt", result.Attempts),
			slog.Any("error", attempt.Err))
	}
}

// attempt runs ops once under a fresh timeout. Rollback runs on a context
// detached from cancellation so a cancelled transaction still compensates.
func (m *Manager) attempt(txCtx, parent context.Context, id string, ops []Operation, opts Options, logger *slog.Logger) Result {
	ctx := txCtx
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(txCtx, opts.Timeout)
		defer cancel()
	}

	var res Result
	var completed []Operation
	for _, op := range ops {
		if err := runStep(ctx, op); err != nil {
			res.FailedOperation = op.ID
			res.Err = &storage.TransactionStepError{TransactionID: id, OperationID: op.ID, Err: err}
			break
		}
		completed = append(completed, op)
		res.CompletedOperations = append(res.CompletedOperations, op.ID)
	}
	if res.Err == nil {
		return res
	}

	logger.Warn("transaction step failed",
		slog.String("operation", res.FailedOperation),
		slog.Any("error", res.Err))

	res.Status = StatusFailed
	if !opts.RollbackOnFailure {
		return res
	}

	rbCtx := context.WithoutCancel(parent)
	for i := len(completed) - 1; i >= 0; i-- {
		op := completed[i]
		if op.Rollback == nil {
			logger.Warn("operation is not reversible; skipping rollback", slog.String("operation", op.ID))
			continue
		}
		if err := safeCall(rbCtx, op.Rollback); err != nil {
			logger.Error("rollback failed", slog.String("operation", op.ID), slog.Any("error", err))
			res.RollbackErrors = append(res.RollbackErrors, fmt.Errorf("rollback %s: %w", op.ID, err))
			continue
		}
		res.RolledBackOperations = append(res.RolledBackOperations, op.ID)
	}
	if len(res.RollbackErrors) == 0 {
		res.Status = StatusRolledBack
	}
	return res
}

// runStep executes op, giving up when ctx ends
func runStep(ctx context.Context, op Operation) error {
	if err := ctx.Err(); err != nil {
		return context.Cause(ctx)
	}
	if op.Execute == nil {
		return nil
	}
	done := make(chan error, 1)
	go func() { done <- safeCall(ctx, op.Execute) }()

	select {
	case err := <-done:
		if err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			return context.Cause(ctx)
		}
		return err
	case <-ctx.Done():
		return context.Cause(ctx)
	}
}

func safeCall(ctx context.Context, fn func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(ctx)
}

// CancelTransaction aborts an in-flight transaction
func (m *Manager) CancelTransaction(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cancel, ok := m.active[id]
	if !ok {
		return ErrTransactionNotFound
	}
	cancel(ErrCancelled)
	m.logger.Info("transaction cancel requested", slog.String("transaction_id", id))
	return nil
}

// Active lists the ids of in-flight transactions
func (m *Manager) Active() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.active))
	for id := range m.active {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (m *Manager) register(id string, cancel context.CancelCauseFunc) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.active[id]; ok {
		return fmt.Errorf("%w: %s", ErrTransactionActive, id)
	}
	m.active[id] = cancel
	return nil
}

func (m *Manager) deregister(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.active, id)
}

// lock takes the per-resource lock, giving up when ctx ends
func (m *Manager) lock(ctx context.Context, resource string) error {
	m.mu.Lock()
	sem, ok := m.locks[resource]
	if !ok {
		sem = make(chan struct{}, 1)
		m.locks[resource] = sem
	}
	m.mu.Unlock()

	select {
	case sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) unlock(resource string) {
	m.mu.Lock()
	sem := m.locks[resource]
	m.mu.Unlock()
	<-sem
}

func (m *Manager) done(result Result, status Status, err error) Result {
	result.Status = status
	result.Err = err
	result.FinishedAt = m.clock.Now()
	return result
}
