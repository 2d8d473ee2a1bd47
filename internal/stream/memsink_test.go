package stream

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemSink_DeliversToSubscriber(t *testing.T) {
	sink := NewMemSink(4)
	ch := sink.Subscribe("conv-1")

	sink.Publish(context.Background(), "conv-1", WorkflowStarted{Base: NewBase(EventWorkflowStarted, "conv-1", "run-1", nil)})

	select {
	case evt := <-ch:
		assert.Equal(t, EventWorkflowStarted, evt.Type())
	default:
		t.Fatal("expected an event to be delivered")
	}
}

func TestMemSink_OtherConversationsUnaffected(t *testing.T) {
	sink := NewMemSink(4)
	chA := sink.Subscribe("conv-a")
	chB := sink.Subscribe("conv-b")

	sink.Publish(context.Background(), "conv-a", WorkflowStarted{Base: NewBase(EventWorkflowStarted, "conv-a", "run-1", nil)})

	select {
	case <-chA:
	default:
		t.Fatal("expected conv-a to receive its event")
	}
	select {
	case <-chB:
		t.Fatal("conv-b should not receive conv-a's event")
	default:
	}
}

func TestMemSink_DropsOldestWhenFullInsteadOfBlocking(t *testing.T) {
	sink := NewMemSink(1)
	ch := sink.Subscribe("conv-1")

	sink.Publish(context.Background(), "conv-1", WorkflowStarted{Base: NewBase(EventWorkflowStarted, "conv-1", "run-1", "first")})
	sink.Publish(context.Background(), "conv-1", WorkflowStarted{Base: NewBase(EventWorkflowStarted, "conv-1", "run-1", "second")})

	evt := <-ch
	assert.Equal(t, "second", evt.Payload(), "newest event should win when the buffer is full")
	assert.Equal(t, uint64(1), sink.DroppedCount("conv-1"))
}

func TestMemSink_DroppedCountIsPerConversationAndCumulative(t *testing.T) {
	sink := NewMemSink(1)
	chA := sink.Subscribe("conv-a")
	_ = sink.Subscribe("conv-b")

	for i := 0; i < 3; i++ {
		sink.Publish(context.Background(), "conv-a", WorkflowStarted{Base: NewBase(EventWorkflowStarted, "conv-a", "run-1", i)})
	}
	sink.Publish(context.Background(), "conv-b", WorkflowStarted{Base: NewBase(EventWorkflowStarted, "conv-b", "run-1", "only")})

	assert.Equal(t, uint64(2), sink.DroppedCount("conv-a"), "first publish fills the buffer without a drop")
	assert.Equal(t, uint64(0), sink.DroppedCount("conv-b"))
	assert.Equal(t, uint64(0), sink.DroppedCount("conv-nonexistent"))
	<-chA
}

func TestMemSink_UnsubscribeClosesChannel(t *testing.T) {
	sink := NewMemSink(4)
	ch := sink.Subscribe("conv-1")
	sink.Unsubscribe("conv-1", ch)

	_, open := <-ch
	assert.False(t, open)
}

func TestMemSink_CloseClosesAllChannels(t *testing.T) {
	sink := NewMemSink(4)
	ch := sink.Subscribe("conv-1")

	require.NoError(t, sink.Close(context.Background()))

	_, open := <-ch
	assert.False(t, open)
}

func TestMemSink_PublishAfterCloseIsNoop(t *testing.T) {
	sink := NewMemSink(4)
	require.NoError(t, sink.Close(context.Background()))
	assert.NotPanics(t, func() {
		sink.Publish(context.Background(), "conv-1", WorkflowStarted{Base: NewBase(EventWorkflowStarted, "conv-1", "run-1", nil)})
	})
}
