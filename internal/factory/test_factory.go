package factory

import (
	"sync"
	"time"

	"github.com/mcoot/sideline/internal/connectivity"
	"github.com/mcoot/sideline/internal/dependencies/mocks"
	"github.com/mcoot/sideline/internal/router"
	"github.com/mcoot/sideline/internal/storage"
	"github.com/mcoot/sideline/internal/storage/memory"
	"github.com/mcoot/sideline/internal/syncer"
	"github.com/mcoot/sideline/internal/testutil"
)

// TestProvider is the remote provider name used by TestApp
const TestProvider = "memory"

// TestApp extends App with test-specific helpers
type TestApp struct {
	*App

	// Mocks for test control
	MockClock *mocks.MockClock
	MockIDs   *mocks.MockIDs
	LocalMem  *memory.Storage

	mu      sync.Mutex
	remotes map[string]*testutil.ScriptedRemote
}

// NewTestApp creates an App over in-memory storage with mocked time and ids.
// The device starts online and signed out.
func NewTestApp() *TestApp {
	mockClock := mocks.NewMockClock(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))
	mockIDs := mocks.NewMockIDs()
	local := memory.New()

	t := &TestApp{
		MockClock: mockClock,
		MockIDs:   mockIDs,
		LocalMem:  local,
		remotes:   make(map[string]*testutil.ScriptedRemote),
	}

	syncCfg := syncer.DefaultConfig()
	syncCfg.RetryAttempts = 2
	syncCfg.RetryBaseDelay = time.Millisecond
	syncCfg.RetryMaxDelay = 2 * time.Millisecond
	syncCfg.RetryMaxJitter = time.Millisecond

	app, err := newWithDependencies(Dependencies{
		Local: local,
		Factories: map[string]router.Factory{
			TestProvider: func(userID string) (storage.RemoteProvider, error) {
				return t.Remote(userID), nil
			},
		},
		DefaultProvider: TestProvider,
		Clock:           mockClock,
		IDs:             mockIDs,
		Connectivity:    connectivity.NewSwitch(true),
		Breaker:         router.DefaultBreakerConfig(),
		Sync:            syncCfg,
		Logger:          testutil.NopLogger(),
	})
	if err != nil {
		panic(err)
	}
	t.App = app
	return t
}

// Remote returns the scripted remote for userID, creating it on first use
func (t *TestApp) Remote(userID string) *testutil.ScriptedRemote {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.remotes[userID]
	if !ok {
		r = testutil.NewScriptedRemote(memory.NewRemote(t.MockClock))
		t.remotes[userID] = r
	}
	return r
}

// SignIn binds the router to userID
func (t *TestApp) SignIn(userID string) error {
	return t.Router.UpdateAuthState(true, userID)
}
