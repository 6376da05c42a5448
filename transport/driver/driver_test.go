package driver

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/buildline/sitesync/cfg"
	"github.com/buildline/sitesync/channelkey"
	"github.com/buildline/sitesync/realtime"
	"github.com/buildline/sitesync/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type statusRecorder struct {
	mu       sync.Mutex
	statuses []realtime.Status
	errs     []error
}

func (r *statusRecorder) handle(status realtime.Status, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, status)
	r.errs = append(r.errs, err)
}

func (r *statusRecorder) snapshot() []realtime.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]realtime.Status(nil), r.statuses...)
}

func tasksSpec(filter string) transport.ChangeSpec {
	return transport.ChangeSpec{Event: realtime.EventAll, Schema: "public", Table: "tasks", Filter: filter}
}

func TestRegisteredDrivers(t *testing.T) {
	registered := transport.Registered()
	assert.Contains(t, registered, cfg.TransportMemory)
	assert.Contains(t, registered, cfg.TransportNATS)
	assert.Contains(t, registered, cfg.TransportKafka)

	tr, err := transport.New(cfg.TransportConfiguration{Type: cfg.TransportMemory}, "test")
	require.NoError(t, err)
	assert.IsType(t, &MemoryTransport{}, tr)
}

func TestMemory_SubscribeAndDeliver(t *testing.T) {
	tr := NewMemoryTransport()
	ch := tr.Channel("subscription-tasks-1")

	var got []realtime.ChangeEvent
	ch.OnChange(tasksSpec("project_id=eq.p1"), func(ev realtime.ChangeEvent) { got = append(got, ev) })

	rec := &statusRecorder{}
	ch.Subscribe(rec.handle)
	assert.Equal(t, []realtime.Status{realtime.StatusSubscribed}, rec.snapshot())

	ctx := context.Background()
	require.NoError(t, tr.Publish(ctx, transport.Message{
		Schema: "public", Table: "tasks", Type: realtime.EventInsert,
		New: map[string]any{"id": "t1", "project_id": "p1"},
	}))
	require.NoError(t, tr.Publish(ctx, transport.Message{
		Schema: "public", Table: "tasks", Type: realtime.EventInsert,
		New: map[string]any{"id": "t2", "project_id": "p2"},
	}))

	require.Len(t, got, 1)
	assert.Equal(t, "t1", realtime.Current(got[0])["id"])
}

func TestMemory_QuotedFilterDelivers(t *testing.T) {
	tr := NewMemoryTransport()
	ch := tr.Channel("subscription-tasks-1")

	var got []realtime.ChangeEvent
	ch.OnChange(tasksSpec(channelkey.FormatFilter(map[string]any{"title": "pour, cure"})), func(ev realtime.ChangeEvent) {
		got = append(got, ev)
	})

	rec := &statusRecorder{}
	ch.Subscribe(rec.handle)
	assert.Equal(t, []realtime.Status{realtime.StatusSubscribed}, rec.snapshot())

	ctx := context.Background()
	require.NoError(t, tr.Publish(ctx, transport.Message{
		Schema: "public", Table: "tasks", Type: realtime.EventInsert,
		New: map[string]any{"id": "t1", "title": "pour, cure"},
	}))
	require.NoError(t, tr.Publish(ctx, transport.Message{
		Schema: "public", Table: "tasks", Type: realtime.EventInsert,
		New: map[string]any{"id": "t2", "title": "pour"},
	}))

	require.Len(t, got, 1)
	assert.Equal(t, "t1", realtime.Current(got[0])["id"])
}

func TestMemory_InvalidFilterReportsChannelError(t *testing.T) {
	tr := NewMemoryTransport()
	ch := tr.Channel("subscription-tasks-1")
	ch.OnChange(tasksSpec(`title=eq."pour`), func(realtime.ChangeEvent) { t.Fatal("rejected listener received an event") })

	rec := &statusRecorder{}
	ch.Subscribe(rec.handle)

	assert.Equal(t, []realtime.Status{realtime.StatusChannelError}, rec.snapshot())
	assert.ErrorIs(t, rec.errs[0], transport.ErrInvalidFilter)
	require.NoError(t, tr.Publish(context.Background(), transport.Message{
		Schema: "public", Table: "tasks", Type: realtime.EventInsert,
		New: map[string]any{"id": "t1", "title": "pour"},
	}))
}

func TestMemory_ManualStatus(t *testing.T) {
	tr := NewMemoryTransport()
	tr.SetAutoSubscribe(false)

	ch := tr.Channel("subscription-tasks-1")
	rec := &statusRecorder{}
	ch.Subscribe(rec.handle)
	assert.Empty(t, rec.snapshot())

	boom := errors.New("socket reset")
	assert.True(t, tr.InjectStatus("subscription-tasks-1", realtime.StatusChannelError, boom))
	assert.False(t, tr.InjectStatus("subscription-missing-1", realtime.StatusSubscribed, nil))

	assert.Equal(t, []realtime.Status{realtime.StatusChannelError}, rec.snapshot())
	assert.Equal(t, boom, rec.errs[0])
}

func TestMemory_RemoveChannel(t *testing.T) {
	tr := NewMemoryTransport()
	ch := tr.Channel("subscription-tasks-1")
	ch.OnChange(tasksSpec(""), func(realtime.ChangeEvent) { t.Fatal("removed channel received an event") })

	rec := &statusRecorder{}
	ch.Subscribe(rec.handle)
	require.NoError(t, tr.RemoveChannel(ch))

	assert.Equal(t, []realtime.Status{realtime.StatusSubscribed, realtime.StatusClosed}, rec.snapshot())
	assert.Empty(t, tr.ChannelNames())
	assert.Equal(t, 1, tr.Removed())

	require.NoError(t, tr.Publish(context.Background(), transport.Message{
		Schema: "public", Table: "tasks", Type: realtime.EventDelete, Old: map[string]any{"id": "t1"},
	}))
}

func TestMemory_Close(t *testing.T) {
	tr := NewMemoryTransport()
	ch := tr.Channel("subscription-tasks-1")
	rec := &statusRecorder{}
	ch.Subscribe(rec.handle)

	require.NoError(t, tr.Close())
	require.NoError(t, tr.Close())

	assert.Equal(t, []realtime.Status{realtime.StatusSubscribed, realtime.StatusClosed}, rec.snapshot())
	assert.ErrorIs(t, tr.Publish(context.Background(), transport.Message{}), transport.ErrTransportClosed)
}

func TestSubjectsFor(t *testing.T) {
	specs := []transport.ChangeSpec{
		tasksSpec("project_id=eq.p1"),
		tasksSpec("project_id=eq.p2"),
		{Event: realtime.EventInsert, Schema: "public", Table: "rfis"},
	}
	assert.Equal(t, []string{"sitesync.changes.public.tasks", "sitesync.changes.public.rfis"},
		subjectsFor("sitesync.changes", specs))
}

func TestGroupID(t *testing.T) {
	specs := []transport.ChangeSpec{tasksSpec("project_id=eq.p1")}
	first := channelIdentity("subscription-public_tasks___project_id_p1-1700000000000000001", specs)
	reconnected := channelIdentity("subscription-public_tasks___project_id_p1-1700000000000000002", specs)
	assert.Equal(t, first, reconnected)

	a := groupID("sitesync", "client-a", first)
	assert.Equal(t, a, groupID("sitesync", "client-a", reconnected))
	assert.NotEqual(t, a, groupID("sitesync", "client-b", first))
	assert.Regexp(t, `^sitesync-[0-9a-f]{16}$`, a)

	other := channelIdentity("subscription-public_tasks___project_id_p2-1700000000000000001", []transport.ChangeSpec{tasksSpec("project_id=eq.p2")})
	assert.NotEqual(t, a, groupID("sitesync", "client-a", other))

	// "p1,x" and "p1.x" sanitize to the same name but keep distinct filters
	name := "subscription-public_tasks___zone_p1_x-1"
	comma := channelIdentity(name, []transport.ChangeSpec{tasksSpec(`zone=eq."p1,x"`)})
	dot := channelIdentity(name, []transport.ChangeSpec{tasksSpec(`zone=eq."p1.x"`)})
	assert.NotEqual(t, groupID("sitesync", "client-a", comma), groupID("sitesync", "client-a", dot))
}

func TestNewKafkaTransport(t *testing.T) {
	_, err := NewKafkaTransport(cfg.KafkaConfiguration{}, "client")
	assert.Error(t, err)

	tr, err := NewKafkaTransport(cfg.KafkaConfiguration{Brokers: []string{"localhost:9092"}, GroupPrefix: "sitesync"}, "client")
	require.NoError(t, err)
	assert.True(t, tr.writer.AllowAutoTopicCreation)
	assert.Equal(t, "client", tr.dialer.ClientID)

	// Channels created after close report closed instead of dialing
	require.NoError(t, tr.Close())
	ch := tr.Channel("subscription-tasks-1")
	rec := &statusRecorder{}
	ch.Subscribe(rec.handle)
	assert.Equal(t, []realtime.Status{realtime.StatusClosed}, rec.snapshot())
}
