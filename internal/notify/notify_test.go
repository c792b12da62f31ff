package notify

import (
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcoot/sideline/internal/model"
	"github.com/mcoot/sideline/internal/testutil"
)

func TestBusFansOutToAllSinks(t *testing.T) {
	first := testutil.NewEventRecorder()
	second := testutil.NewEventRecorder()
	bus := NewBus(testutil.NopLogger(), first)
	bus.Add(second)

	bus.Notify(model.Event{Type: model.EventQueued, EntityID: "p1"})

	assert.Equal(t, []model.EventType{model.EventQueued}, first.Types())
	assert.Equal(t, []model.EventType{model.EventQueued}, second.Types())
}

func TestBusSurvivesPanickingSink(t *testing.T) {
	rec := testutil.NewEventRecorder()
	bus := NewBus(testutil.NopLogger(),
		SinkFunc(func(model.Event) { panic("boom") }),
		rec,
	)

	bus.Notify(model.Event{Type: model.EventSynced})

	assert.Equal(t, []model.EventType{model.EventSynced}, rec.Types())
}

func runNATSServer(t *testing.T) *server.Server {
	t.Helper()
	ns, err := server.NewServer(&server.Options{
		Port:   -1,
		NoLog:  true,
		NoSigs: true,
	})
	require.NoError(t, err)

	go ns.Start()
	if !ns.ReadyForConnections(10 * time.Second) {
		t.Fatal("nats server not ready")
	}
	t.Cleanup(ns.Shutdown)
	return ns
}

func TestNATSSinkPublishesBySubject(t *testing.T) {
	ns := runNATSServer(t)

	sink, err := NewNATSSink(ns.ClientURL(), "sideline.sync", testutil.NopLogger())
	require.NoError(t, err)
	defer func() { _ = sink.Close() }()

	sub, err := nats.Connect(ns.ClientURL())
	require.NoError(t, err)
	defer sub.Close()

	s, err := sub.SubscribeSync("sideline.sync.*")
	require.NoError(t, err)
	require.NoError(t, sub.Flush())

	sink.Notify(model.Event{Type: model.EventDegraded, EntityID: "p1", QueueDepth: 3})

	msg, err := s.NextMsg(5 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, "sideline.sync.degraded", msg.Subject)

	var got model.Event
	require.NoError(t, json.Unmarshal(msg.Data, &got))
	assert.Equal(t, "p1", got.EntityID)
	assert.Equal(t, 3, got.QueueDepth)
}
