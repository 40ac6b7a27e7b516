package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/garyjia/payment-approval/internal/application/dispatcher"
	"github.com/garyjia/payment-approval/internal/domain/entity"
	"github.com/garyjia/payment-approval/internal/domain/event"
	"github.com/garyjia/payment-approval/internal/infrastructure/dedup"
)

func testEvent() *event.Event {
	return event.FromAuditRecord(&entity.AuditRecord{
		InstanceID: "i-1",
		Sequence:   3,
		NodeID:     "admin",
		NodeType:   entity.NodeTypeApproval,
		FromStatus: entity.NodeStatusRunning,
		ToStatus:   entity.NodeStatusCompleted,
		Actor:      "u-admin",
		EventType:  string(event.TypeStepCompleted),
		Timestamp:  time.Now().UTC(),
	})
}

func TestBridge_PublishesWithMetadata(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pubSub := NewGoChannel(NewLoggerAdapter(zap.NewNop()))
	defer pubSub.Close()

	messages, err := pubSub.Subscribe(ctx, "approvals")
	require.NoError(t, err)

	d := dispatcher.NewDispatcher()
	NewBridge(pubSub, "approvals", zap.NewNop()).Register(d)

	evt := testEvent()
	require.NoError(t, d.Dispatch(ctx, evt))

	var msg *message.Message
	select {
	case msg = <-messages:
	case <-time.After(time.Second):
		t.Fatal("no message published")
	}
	msg.Ack()

	assert.Equal(t, evt.ID, msg.UUID)
	assert.Equal(t, "step.completed", msg.Metadata.Get(EventTypeMetadataKey))
	assert.Equal(t, "i-1:admin:COMPLETED", msg.Metadata.Get(DedupKeyMetadataKey))
	assert.Equal(t, "i-1", msg.Metadata.Get(InstanceMetadataKey))

	var decoded event.Event
	require.NoError(t, json.Unmarshal(msg.Payload, &decoded))
	assert.Equal(t, evt.Type, decoded.Type)
	assert.Equal(t, int64(3), decoded.Sequence)
	assert.Equal(t, "u-admin", decoded.Payload["actor"])
}

func TestBridge_PublishFailure(t *testing.T) {
	pubSub := NewGoChannel(NewLoggerAdapter(zap.NewNop()))
	require.NoError(t, pubSub.Close())

	err := NewBridge(pubSub, "", zap.NewNop()).Handle(context.Background(), testEvent())
	assert.Error(t, err)
}

func TestConsumer_AcksAndNacks(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pubSub := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 10, Persistent: true}, NewLoggerAdapter(zap.NewNop()))
	defer pubSub.Close()

	received := make(chan *event.Event, 4)
	failures := 0
	consumer := NewConsumer(pubSub, "approvals", zap.NewNop())
	go func() {
		_ = consumer.Run(ctx, func(ctx context.Context, evt *event.Event) error {
			if failures == 0 {
				failures++
				return errors.New("try again")
			}
			received <- evt
			return nil
		})
	}()

	evt := testEvent()
	require.NoError(t, NewBridge(pubSub, "approvals", zap.NewNop()).Handle(ctx, evt))

	select {
	case got := <-received:
		assert.Equal(t, evt.ID, got.ID)
		assert.Equal(t, evt.DedupKey, got.DedupKey)
	case <-time.After(2 * time.Second):
		t.Fatal("event not redelivered after nack")
	}
}

func TestJournal_SkipsRedeliveredEvents(t *testing.T) {
	ctx := context.Background()
	pubSub := NewGoChannel(NewLoggerAdapter(zap.NewNop()))
	defer pubSub.Close()

	guard := dedup.NewGuard(dedup.NewMemoryStore(), time.Minute, zap.NewNop())
	journal := NewJournal(NewConsumer(pubSub, "approvals", zap.NewNop()), guard.Middleware(), zap.NewNop())
	require.NoError(t, journal.Start(ctx))
	assert.Error(t, journal.Start(ctx))

	bridge := NewBridge(pubSub, "approvals", zap.NewNop())
	first := testEvent()
	require.NoError(t, bridge.Handle(ctx, first))
	require.NoError(t, bridge.Handle(ctx, first))

	second := event.FromAuditRecord(&entity.AuditRecord{
		InstanceID: "i-1",
		Sequence:   4,
		NodeID:     "finance",
		NodeType:   entity.NodeTypeApproval,
		FromStatus: entity.NodeStatusPending,
		ToStatus:   entity.NodeStatusRunning,
		EventType:  string(event.TypeStepStarted),
		Timestamp:  time.Now().UTC(),
	})
	require.NoError(t, bridge.Handle(ctx, second))

	assert.Eventually(t, func() bool { return journal.Received() == 2 }, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, journal.Stop())
	require.NoError(t, journal.Stop())
	assert.Equal(t, int64(2), journal.Received())
}

func TestJournal_LogsDecisionDetails(t *testing.T) {
	ctx := context.Background()
	pubSub := NewGoChannel(NewLoggerAdapter(zap.NewNop()))
	defer pubSub.Close()

	core, logs := observer.New(zap.InfoLevel)
	journal := NewJournal(NewConsumer(pubSub, "approvals", zap.NewNop()), nil, zap.New(core))
	require.NoError(t, journal.Start(ctx))
	defer journal.Stop()

	rejected := event.FromAuditRecord(&entity.AuditRecord{
		InstanceID: "i-1",
		Sequence:   5,
		NodeID:     "finance",
		NodeType:   entity.NodeTypeApproval,
		FromStatus: entity.NodeStatusRunning,
		ToStatus:   entity.NodeStatusFailed,
		Actor:      "u-finance",
		Comments:   "duplicate invoice",
		EventType:  string(event.TypeWorkflowRejected),
		Timestamp:  time.Now().UTC(),
	})
	require.NoError(t, NewBridge(pubSub, "approvals", zap.NewNop()).Handle(ctx, rejected))

	assert.Eventually(t, func() bool {
		return logs.FilterMessage("Workflow event").Len() == 1
	}, 2*time.Second, 10*time.Millisecond)

	fields := logs.FilterMessage("Workflow event").All()[0].ContextMap()
	assert.Equal(t, "workflow.rejected", fields["event_type"])
	assert.Equal(t, "finance", fields["node_id"])
	assert.Equal(t, int64(5), fields["sequence"])
	assert.Equal(t, "u-finance", fields["actor"])
	assert.Equal(t, "duplicate invoice", fields["comments"])
}

func TestNewKafkaPubSub_RequiresBrokers(t *testing.T) {
	_, _, err := NewKafkaPubSub(KafkaConfig{}, NewLoggerAdapter(zap.NewNop()))
	assert.Error(t, err)
}

func TestKafka_RoundTrip(t *testing.T) {
	brokers := os.Getenv("KAFKA_BROKERS")
	if brokers == "" {
		t.Skip("KAFKA_BROKERS not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pub, sub, err := NewKafkaPubSub(KafkaConfig{
		Brokers:       strings.Split(brokers, ","),
		ConsumerGroup: "payment-approval-test-" + uuid.NewString(),
	}, NewLoggerAdapter(zap.NewNop()))
	require.NoError(t, err)
	defer sub.Close()

	topic := "payment-approval-test-" + uuid.NewString()
	bridge := NewBridge(pub, topic, zap.NewNop())
	defer bridge.Close()

	evt := testEvent()
	require.NoError(t, bridge.Handle(ctx, evt))

	received := make(chan *event.Event, 1)
	go func() {
		_ = NewConsumer(sub, topic, zap.NewNop()).Run(ctx, func(ctx context.Context, got *event.Event) error {
			select {
			case received <- got:
			default:
			}
			return nil
		})
	}()

	select {
	case got := <-received:
		assert.Equal(t, evt.ID, got.ID)
	case <-ctx.Done():
		t.Fatal("event not consumed from kafka")
	}
}
