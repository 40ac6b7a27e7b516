package container

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/payment-approval/internal/application/dispatcher"
	"github.com/garyjia/payment-approval/internal/application/service"
	"github.com/garyjia/payment-approval/internal/domain/entity"
	"github.com/garyjia/payment-approval/internal/domain/event"
)

func startContainer(t *testing.T, cfg *Config) *Container {
	t.Helper()

	c, err := NewContainer(cfg, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, c.Start(context.Background()))
	t.Cleanup(func() {
		if !c.closed.Load() {
			_ = c.Close()
		}
	})
	return c
}

func seedCollaborators(t *testing.T, c *Container) {
	t.Helper()
	_, err := c.database.Exec(`INSERT INTO payment_requests (id, org_id, amount, currency, status, requested_by)
		VALUES ('pr-1', 'org-1', 500, 'INR', 'SUBMITTED', 'u-req')`)
	require.NoError(t, err)
	_, err = c.database.Exec(`INSERT INTO users (id, org_id, role) VALUES
		('u-admin', 'org-1', 'ORG_ADMIN'),
		('u-fin', 'org-1', 'ORG_FINANCE')`)
	require.NoError(t, err)
}

func twoStepDefinition() *entity.WorkflowDefinition {
	return &entity.WorkflowDefinition{
		OrgID: "org-1",
		Name:  "two-step",
		Nodes: []entity.Node{
			{ID: "start", Type: entity.NodeTypeStart},
			{ID: "admin", Type: entity.NodeTypeApproval, Approval: &entity.ApprovalData{
				ApproverType: entity.ApproverTypeRole, ApproverValue: "ORG_ADMIN", StepOrder: 1,
			}},
			{ID: "finance", Type: entity.NodeTypeApproval, Approval: &entity.ApprovalData{
				ApproverType: entity.ApproverTypeRole, ApproverValue: "ORG_FINANCE", StepOrder: 2,
			}},
			{ID: "end", Type: entity.NodeTypeEnd},
		},
		Edges: []entity.Edge{
			{From: "start", To: "admin"},
			{From: "admin", To: "finance"},
			{From: "finance", To: "end"},
		},
	}
}

func TestNewContainer_Validation(t *testing.T) {
	_, err := NewContainer(nil, zap.NewNop())
	assert.Error(t, err)

	_, err = NewContainer(DefaultConfig(), nil)
	assert.Error(t, err)

	cfg := DefaultConfig()
	cfg.Events.DedupStore = "redis"
	_, err = NewContainer(cfg, zap.NewNop())
	assert.Error(t, err)

	cfg = DefaultConfig()
	cfg.Events.Journal = true
	_, err = NewContainer(cfg, zap.NewNop())
	assert.Error(t, err)

	cfg = DefaultConfig()
	cfg.Events.Publisher = "kafka"
	_, err = NewContainer(cfg, zap.NewNop())
	assert.Error(t, err)
}

func TestContainer_ApprovalRoundTrip(t *testing.T) {
	ctx := context.Background()
	c := startContainer(t, DefaultConfig())
	seedCollaborators(t, c)

	var mu sync.Mutex
	var types []event.Type
	c.Dispatcher().SubscribeNamed(dispatcher.AnyType, "recorder", func(ctx context.Context, evt *event.Event) error {
		mu.Lock()
		defer mu.Unlock()
		types = append(types, evt.Type)
		return nil
	})

	services := c.Services()
	_, err := services.Definition.Register(ctx, twoStepDefinition())
	require.NoError(t, err)

	inst, err := services.Workflow.StartWorkflow(ctx, "pr-1")
	require.NoError(t, err)
	assert.Equal(t, "admin", inst.CurrentNodeID)

	inst, err = services.Workflow.SubmitDecision(ctx, service.DecisionInput{
		InstanceID: inst.ID, ActorID: "u-admin", Approved: true,
	})
	require.NoError(t, err)
	assert.Equal(t, "finance", inst.CurrentNodeID)

	inst, err = services.Workflow.SubmitDecision(ctx, service.DecisionInput{
		InstanceID: inst.ID, ActorID: "u-fin", Approved: true,
	})
	require.NoError(t, err)
	assert.Equal(t, entity.StatusCompleted, inst.Status)

	history, err := services.Workflow.History(ctx, inst.ID)
	require.NoError(t, err)
	require.Len(t, history, 7)
	for _, rec := range history {
		assert.True(t, rec.Published)
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, types, 7)
	assert.Equal(t, event.TypeWorkflowStarted, types[0])
	assert.Equal(t, event.TypeWorkflowCompleted, types[6])
}

func TestContainer_HealthAndClose(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Events.Publisher = "gochannel"
	c := startContainer(t, cfg)

	assert.True(t, c.Ready())
	assert.Error(t, c.Start(context.Background()))

	health := c.Health()
	assert.True(t, health.Overall)
	assert.True(t, health.Components["database"].Healthy)
	assert.True(t, health.Components["workers"].Healthy)
	assert.NotNil(t, c.bridge)

	require.NoError(t, c.Close())
	assert.False(t, c.Ready())
	assert.Error(t, c.Close())
	assert.False(t, c.Health().Overall)
}

func TestContainer_JournalReceivesPublishedEvents(t *testing.T) {
	ctx := context.Background()
	cfg := DefaultConfig()
	cfg.Events.Publisher = "gochannel"
	cfg.Events.Journal = true
	c := startContainer(t, cfg)
	seedCollaborators(t, c)

	require.NotNil(t, c.journal)
	assert.Contains(t, c.Workers().Names(), "EventJournal")

	services := c.Services()
	_, err := services.Definition.Register(ctx, twoStepDefinition())
	require.NoError(t, err)
	inst, err := services.Workflow.StartWorkflow(ctx, "pr-1")
	require.NoError(t, err)

	history, err := services.Workflow.History(ctx, inst.ID)
	require.NoError(t, err)
	require.NotEmpty(t, history)

	assert.Eventually(t, func() bool {
		return c.journal.Received() == int64(len(history))
	}, 2*time.Second, 10*time.Millisecond)
}
