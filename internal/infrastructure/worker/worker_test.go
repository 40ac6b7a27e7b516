package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/payment-approval/internal/application/dispatcher"
	"github.com/garyjia/payment-approval/internal/application/workflow"
	"github.com/garyjia/payment-approval/internal/domain/entity"
	"github.com/garyjia/payment-approval/internal/domain/event"
	"github.com/garyjia/payment-approval/internal/infrastructure/persistence/memory"
)

type recorder struct {
	mu     sync.Mutex
	events []*event.Event
}

func (r *recorder) handle(ctx context.Context, evt *event.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
	return nil
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func seedRecords(t *testing.T, audits interface {
	Append(context.Context, []*entity.AuditRecord) error
}) {
	t.Helper()
	records := []*entity.AuditRecord{
		{InstanceID: "i-1", Sequence: 1, NodeID: "start", ToStatus: entity.NodeStatusCompleted, EventType: string(event.TypeWorkflowStarted)},
		{InstanceID: "i-2", Sequence: 1, NodeID: "start", ToStatus: entity.NodeStatusCompleted, EventType: string(event.TypeWorkflowStarted)},
		{InstanceID: "i-1", Sequence: 2, NodeID: "admin", ToStatus: entity.NodeStatusRunning, EventType: string(event.TypeStepStarted)},
		{InstanceID: "i-2", Sequence: 2, NodeID: "admin", ToStatus: entity.NodeStatusRunning, EventType: string(event.TypeStepStarted)},
	}
	require.NoError(t, audits.Append(context.Background(), records))
}

func TestOutboxRelay_RunOnceDeliversInOrder(t *testing.T) {
	ctx := context.Background()
	audits := memory.NewAuditRepository(memory.NewStore())
	seedRecords(t, audits)

	rec := &recorder{}
	d := dispatcher.NewDispatcher()
	d.Subscribe(dispatcher.AnyType, rec.handle)

	relay := NewOutboxRelay(OutboxRelayConfig{BatchSize: 10}, audits,
		workflow.NewOutboxPublisher(audits, d, nil), zap.NewNop())

	n, err := relay.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	require.Len(t, rec.events, 4)
	assert.Equal(t, "i-1", rec.events[0].InstanceID)
	assert.Equal(t, int64(1), rec.events[0].Sequence)
	assert.Equal(t, "i-1", rec.events[1].InstanceID)
	assert.Equal(t, int64(2), rec.events[1].Sequence)
	assert.Equal(t, "i-2", rec.events[2].InstanceID)

	pending, err := audits.ListUnpublished(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, pending)

	n, err = relay.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestOutboxRelay_FailureHoldsBackOnlyThatInstance(t *testing.T) {
	ctx := context.Background()
	audits := memory.NewAuditRepository(memory.NewStore())
	seedRecords(t, audits)

	d := dispatcher.NewDispatcher()
	d.Subscribe(event.TypeWorkflowStarted, func(ctx context.Context, evt *event.Event) error {
		if evt.InstanceID == "i-1" {
			return errors.New("subscriber down")
		}
		return nil
	})

	relay := NewOutboxRelay(OutboxRelayConfig{BatchSize: 10}, audits,
		workflow.NewOutboxPublisher(audits, d, nil), zap.NewNop())

	n, err := relay.RunOnce(ctx)
	assert.Error(t, err)
	assert.Equal(t, 2, n)

	pending, err := audits.ListUnpublished(ctx, 0)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	for _, rec := range pending {
		assert.Equal(t, "i-1", rec.InstanceID)
	}

	stats := relay.Stats()
	assert.Equal(t, 1, stats["failed_count"])
	assert.Contains(t, stats["last_error"], "subscriber down")
}

func TestOutboxRelay_StartStop(t *testing.T) {
	audits := memory.NewAuditRepository(memory.NewStore())
	seedRecords(t, audits)

	rec := &recorder{}
	d := dispatcher.NewDispatcher()
	d.Subscribe(dispatcher.AnyType, rec.handle)

	relay := NewOutboxRelay(OutboxRelayConfig{PollInterval: 10 * time.Millisecond}, audits,
		workflow.NewOutboxPublisher(audits, d, nil), zap.NewNop())

	manager := NewWorkerManager(zap.NewNop())
	manager.Register(relay)
	require.NoError(t, manager.StartAll(context.Background()))
	assert.True(t, manager.IsRunning())
	assert.Error(t, relay.Start(context.Background()))

	assert.Eventually(t, func() bool { return rec.count() == 4 }, time.Second, 10*time.Millisecond)

	require.NoError(t, manager.StopAll())
	assert.False(t, manager.IsRunning())
	assert.Equal(t, false, relay.Stats()["is_running"])
}

func TestStallMonitor_ReportsIdleRunningInstances(t *testing.T) {
	ctx := context.Background()
	instances := memory.NewInstanceRepository(memory.NewStore())
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	create := func(id, status string, updated time.Time) {
		require.NoError(t, instances.Create(ctx, &entity.WorkflowInstance{
			ID:               id,
			DefinitionID:     "def-1",
			PaymentRequestID: "pr-" + id,
			OrgID:            "org-1",
			CurrentNodeID:    "admin",
			Status:           status,
			NodeStates:       map[string]entity.NodeState{},
			Version:          1,
			CreatedAt:        updated,
			UpdatedAt:        updated,
		}))
	}
	create("fresh", entity.StatusRunning, now.Add(-time.Hour))
	create("stale", entity.StatusRunning, now.Add(-5*24*time.Hour))
	create("done", entity.StatusCompleted, now.Add(-10*24*time.Hour))

	monitor := NewStallMonitor(StallMonitorConfig{StallAfter: 72 * time.Hour}, instances, zap.NewNop())
	monitor.now = func() time.Time { return now }

	stalled, err := monitor.Check(ctx)
	require.NoError(t, err)
	require.Len(t, stalled, 1)
	assert.Equal(t, "stale", stalled[0].ID)
	assert.Equal(t, 1, monitor.StalledCount())

	require.NoError(t, monitor.Start(ctx))
	assert.Error(t, monitor.Start(ctx))
	require.NoError(t, monitor.Stop())
	require.NoError(t, monitor.Stop())
}

func TestStallMonitor_FindsStaleInstanceBeyondBatch(t *testing.T) {
	ctx := context.Background()
	instances := memory.NewInstanceRepository(memory.NewStore())
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	create := func(id string, created, updated time.Time) {
		require.NoError(t, instances.Create(ctx, &entity.WorkflowInstance{
			ID:               id,
			DefinitionID:     "def-1",
			PaymentRequestID: "pr-" + id,
			OrgID:            "org-1",
			CurrentNodeID:    "admin",
			Status:           entity.StatusRunning,
			NodeStates:       map[string]entity.NodeState{},
			Version:          1,
			CreatedAt:        created,
			UpdatedAt:        updated,
		}))
	}
	// older instances that moved recently fill the first batch by creation time
	for _, id := range []string{"busy-1", "busy-2", "busy-3"} {
		create(id, now.Add(-30*24*time.Hour), now.Add(-time.Hour))
	}
	create("stale", now.Add(-6*24*time.Hour), now.Add(-5*24*time.Hour))

	monitor := NewStallMonitor(StallMonitorConfig{BatchSize: 2, StallAfter: 72 * time.Hour}, instances, zap.NewNop())
	monitor.now = func() time.Time { return now }

	stalled, err := monitor.Check(ctx)
	require.NoError(t, err)
	require.Len(t, stalled, 1)
	assert.Equal(t, "stale", stalled[0].ID)
}

type stubWorker struct {
	name     string
	startErr error
	log      *[]string
}

func (w *stubWorker) Start(ctx context.Context) error {
	if w.startErr != nil {
		return w.startErr
	}
	*w.log = append(*w.log, "start "+w.name)
	return nil
}

func (w *stubWorker) Stop() error {
	*w.log = append(*w.log, "stop "+w.name)
	return nil
}

func (w *stubWorker) Name() string { return w.name }

func TestWorkerManager_StopsInReverseOrder(t *testing.T) {
	var log []string
	manager := NewWorkerManager(zap.NewNop())
	manager.Register(&stubWorker{name: "a", log: &log})
	manager.Register(&stubWorker{name: "b", log: &log})
	assert.Equal(t, []string{"a", "b"}, manager.Names())

	require.NoError(t, manager.StartAll(context.Background()))
	assert.Error(t, manager.StartAll(context.Background()))
	require.NoError(t, manager.StopAll())
	require.NoError(t, manager.StopAll())

	assert.Equal(t, []string{"start a", "start b", "stop b", "stop a"}, log)
}

func TestWorkerManager_RollsBackOnStartFailure(t *testing.T) {
	var log []string
	manager := NewWorkerManager(zap.NewNop())
	manager.Register(&stubWorker{name: "a", log: &log})
	manager.Register(&stubWorker{name: "b", startErr: errors.New("port in use"), log: &log})

	err := manager.StartAll(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "start worker b")
	assert.False(t, manager.IsRunning())
	assert.Equal(t, []string{"start a", "stop a"}, log)
}
