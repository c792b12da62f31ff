package txn

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/mcoot/sideline/internal/dependencies/mocks"
	"github.com/mcoot/sideline/internal/storage"
	"github.com/mcoot/sideline/internal/testutil"
)

type TxnSuite struct {
	suite.Suite
	ctx     context.Context
	ids     *mocks.MockIDs
	manager *Manager

	mu  sync.Mutex
	log []string
}

func TestTxnSuite(t *testing.T) {
	suite.Run(t, new(TxnSuite))
}

func (s *TxnSuite) SetupTest() {
	s.ctx = context.Background()
	s.ids = mocks.NewMockIDs()
	s.manager = New(s.ids, mocks.NewMockClock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)), testutil.NopLogger())
	s.log = nil
}

func (s *TxnSuite) record(entry string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.log = append(s.log, entry)
}

func (s *TxnSuite) calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.log...)
}

// step returns an operation that logs its execute and rollback
func (s *TxnSuite) step(id string, fail error) Operation {
	return Operation{
		ID: id,
		Execute: func(ctx context.Context) error {
			s.record("exec " + id)
			return fail
		},
		Rollback: func(ctx context.Context) error {
			s.record("undo " + id)
			return nil
		},
	}
}

func (s *TxnSuite) TestAllStepsComplete() {
	s.ids.Queue("tx-1")
	res := s.manager.ExecuteTransaction(s.ctx, []Operation{s.step("a", nil), s.step("b", nil)}, DefaultOptions())

	s.True(res.Succeeded())
	s.NoError(res.Err)
	s.Equal("tx-1", res.TransactionID)
	s.Equal(StatusCompleted, res.Status)
	s.Equal([]string{"a", "b"}, res.CompletedOperations)
	s.Equal(1, res.Attempts)
	s.Equal([]string{"exec a", "exec b"}, s.calls())
	s.Empty(s.manager.Active())
}

func (s *TxnSuite) TestFailureRollsBackInReverse() {
	boom := errors.New("boom")
	ops := []Operation{s.step("a", nil), s.step("b", nil), s.step("c", boom), s.step("d", nil)}

	res := s.manager.ExecuteTransaction(s.ctx, ops, DefaultOptions())

	s.Equal(StatusRolledBack, res.Status)
	s.Equal("c", res.FailedOperation)
	s.Equal([]string{"b", "a"}, res.RolledBackOperations)
	s.Equal([]string{"exec a", "exec b", "exec c", "undo b", "undo a"}, s.calls())
	s.ErrorIs(res.Err, boom)

	var stepErr *storage.TransactionStepError
	s.Require().ErrorAs(res.Err, &stepErr)
	s.Equal("c", stepErr.OperationID)
	s.Equal(res.TransactionID, stepErr.TransactionID)
}

func (s *TxnSuite) TestMissingRollbackIsSkipped() {
	irreversible := s.step("a", nil)
	irreversible.Rollback = nil
	ops := []Operation{irreversible, s.step("b", nil), s.step("c", errors.New("boom"))}

	res := s.manager.ExecuteTransaction(s.ctx, ops, DefaultOptions())

	s.Equal(StatusRolledBack, res.Status)
	s.Equal([]string{"b"}, res.RolledBackOperations)
}

func (s *TxnSuite) TestRollbackErrorsDoNotStopSweep() {
	broken := s.step("b", nil)
	broken.Rollback = func(ctx context.Context) error { return errors.New("cannot undo") }
	ops := []Operation{s.step("a", nil), broken, s.step("c", errors.New("boom"))}

	res := s.manager.ExecuteTransaction(s.ctx, ops, DefaultOptions())

	s.Equal(StatusFailed, res.Status)
	s.Equal([]string{"a"}, res.RolledBackOperations)
	s.Require().Len(res.RollbackErrors, 1)
	s.Contains(res.RollbackErrors[0].Error(), "cannot undo")
}

func (s *TxnSuite) TestNoRollbackWhenDisabled() {
	opts := DefaultOptions()
	opts.RollbackOnFailure = false

	res := s.manager.ExecuteTransaction(s.ctx, []Operation{s.step("a", nil), s.step("b", errors.New("boom"))}, opts)

	s.Equal(StatusFailed, res.Status)
	s.Empty(res.RolledBackOperations)
	s.Equal([]string{"exec a", "exec b"}, s.calls())
}

func (s *TxnSuite) TestRetryResetsAndSucceeds() {
	failures := 1
	flaky := Operation{
		ID: "flaky",
		Execute: func(ctx context.Context) error {
			s.record("exec flaky")
			if failures > 0 {
				failures--
				return errors.New("try again")
			}
			return nil
		},
	}
	opts := DefaultOptions()
	opts.RetryOnFailure = true
	opts.MaxRetries = 2

	res := s.manager.ExecuteTransaction(s.ctx, []Operation{s.step("a", nil), flaky}, opts)

	s.True(res.Succeeded())
	s.Equal(2, res.Attempts)
	s.Equal([]string{"exec a", "exec flaky", "undo a", "exec a", "exec flaky"}, s.calls())
}

func (s *TxnSuite) TestRetryGivesUpAfterMaxRetries() {
	opts := DefaultOptions()
	opts.RetryOnFailure = true
	opts.MaxRetries = 2

	res := s.manager.ExecuteTransaction(s.ctx, []Operation{s.step("a", errors.New("always"))}, opts)

	s.Equal(StatusRolledBack, res.Status)
	s.Equal(3, res.Attempts)
}

func (s *TxnSuite) TestTimedOutStepIsNotCompleted() {
	release := make(chan struct{})
	defer close(release)
	slow := Operation{
		ID: "slow",
		Execute: func(ctx context.Context) error {
			<-release
			return nil
		},
		Rollback: func(ctx context.Context) error {
			s.record("undo slow")
			return nil
		},
	}
	opts := DefaultOptions()
	opts.Timeout = 20 * time.Millisecond

	res := s.manager.ExecuteTransaction(s.ctx, []Operation{s.step("a", nil), slow}, opts)

	s.Equal(StatusRolledBack, res.Status)
	s.Equal("slow", res.FailedOperation)
	s.Equal([]string{"a"}, res.CompletedOperations)
	s.ErrorIs(res.Err, context.DeadlineExceeded)
	s.Equal([]string{"exec a", "undo a"}, s.calls())
}

func (s *TxnSuite) TestCancelTransaction() {
	s.ids.Queue("tx-cancel")
	started := make(chan struct{})
	waiting := Operation{
		ID: "wait",
		Execute: func(ctx context.Context) error {
			close(started)
			<-ctx.Done()
			return ctx.Err()
		},
	}

	done := make(chan Result, 1)
	go func() {
		done <- s.manager.ExecuteTransaction(s.ctx, []Operation{s.step("a", nil), waiting}, DefaultOptions())
	}()

	<-started
	s.Equal([]string{"tx-cancel"}, s.manager.Active())
	s.Require().NoError(s.manager.CancelTransaction("tx-cancel"))

	res := <-done
	s.ErrorIs(res.Err, ErrCancelled)
	s.Equal(StatusRolledBack, res.Status)
	s.Equal([]string{"a"}, res.RolledBackOperations)
	s.Empty(s.manager.Active())
}

func (s *TxnSuite) TestCancelUnknownTransaction() {
	s.ErrorIs(s.manager.CancelTransaction("nope"), ErrTransactionNotFound)
}

func (s *TxnSuite) TestOneTransactionPerResource() {
	release := make(chan struct{})
	started := make(chan struct{})
	first := Operation{
		ID: "first",
		Execute: func(ctx context.Context) error {
			close(started)
			<-release
			s.record("first done")
			return nil
		},
	}
	second := Operation{
		ID: "second",
		Execute: func(ctx context.Context) error {
			s.record("second")
			return nil
		},
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.manager.ExecuteTransaction(s.ctx, []Operation{first}, DefaultOptions())
	}()
	<-started
	go func() {
		defer wg.Done()
		s.manager.ExecuteTransaction(s.ctx, []Operation{second}, DefaultOptions())
	}()

	time.Sleep(30 * time.Millisecond)
	s.Empty(s.calls())
	close(release)
	wg.Wait()

	s.Equal([]string{"first done", "second"}, s.calls())
}

func (s *TxnSuite) TestLockWaitHonoursContext() {
	release := make(chan struct{})
	started := make(chan struct{})
	holder := Operation{
		ID: "holder",
		Execute: func(ctx context.Context) error {
			close(started)
			<-release
			return nil
		},
	}
	go s.manager.ExecuteTransaction(s.ctx, []Operation{holder}, DefaultOptions())
	<-started
	defer close(release)

	ctx, cancel := context.WithTimeout(s.ctx, 20*time.Millisecond)
	defer cancel()
	res := s.manager.ExecuteTransaction(ctx, []Operation{s.step("a", nil)}, DefaultOptions())

	s.Equal(StatusFailed, res.Status)
	s.ErrorIs(res.Err, context.DeadlineExceeded)
	s.Equal(0, res.Attempts)
	s.Empty(s.calls())
}

func (s *TxnSuite) TestPanickingStepFails() {
	bad := Operation{ID: "bad", Execute: func(ctx context.Context) error { panic("kaboom") }}

	res := s.manager.ExecuteTransaction(s.ctx, []Operation{s.step("a", nil), bad}, DefaultOptions())

	s.Equal(StatusRolledBack, res.Status)
	s.Contains(res.Err.Error(), "kaboom")
}
