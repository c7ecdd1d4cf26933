package ranking

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"brokle/internal/core/domain/ranking"
	"brokle/pkg/ulid"
)

func TestProgressHub_PublishDeliversToSubscriber(t *testing.T) {
	hub := NewProgressHub()
	jobID := ulid.New()

	events, unsubscribe := hub.Subscribe(context.Background(), jobID)
	defer unsubscribe()

	hub.Publish(jobID, ranking.ProgressUpdate{JobID: jobID, Percent: 10, Stage: "text_collect", Message: "starting"})

	select {
	case e := <-events:
		assert.Equal(t, 10, e.Percent)
		assert.Equal(t, "text_collect", e.Stage)
		assert.False(t, e.Lagged)
	case <-time.After(time.Second):
		t.Fatal("expected event, got none")
	}
}

func TestProgressHub_LateSubscriberReplaysLastEventPerStage(t *testing.T) {
	hub := NewProgressHub()
	jobID := ulid.New()

	hub.Publish(jobID, ranking.ProgressUpdate{JobID: jobID, Percent: 10, Stage: "text_collect"})
	hub.Publish(jobID, ranking.ProgressUpdate{JobID: jobID, Percent: 30, Stage: "text_collect"})
	hub.Publish(jobID, ranking.ProgressUpdate{JobID: jobID, Percent: 45, Stage: "parse"})

	events, unsubscribe := hub.Subscribe(context.Background(), jobID)
	defer unsubscribe()

	received := map[string]int{}
	for i := 0; i < 2; i++ {
		select {
		case e := <-events:
			received[e.Stage] = e.Percent
		case <-time.After(time.Second):
			t.Fatalf("expected replay event %d, got none", i)
		}
	}

	assert.Equal(t, 30, received["text_collect"], "replay must be the LAST event per stage, not every historical one")
	assert.Equal(t, 45, received["parse"])
}

func TestProgressHub_OverflowDropsOldestAndFlagsLagged(t *testing.T) {
	hub := NewProgressHub()
	jobID := ulid.New()

	events, unsubscribe := hub.Subscribe(context.Background(), jobID)
	defer unsubscribe()

	total := subscriberBufferSize + 5
	for i := 0; i < total; i++ {
		hub.Publish(jobID, ranking.ProgressUpdate{JobID: jobID, Percent: i, Stage: "embed"})
	}

	var last Event
	sawLagged := false
	for i := 0; i < subscriberBufferSize; i++ {
		select {
		case e := <-events:
			last = e
			if e.Lagged {
				sawLagged = true
			}
		case <-time.After(time.Second):
			t.Fatalf("expected buffered event %d, got none", i)
		}
	}

	assert.True(t, sawLagged, "an overflow must flag at least one delivered event as lagged")
	assert.Equal(t, total-1, last.Percent, "the newest event must survive even when older ones are dropped")
}

func TestProgressHub_UnsubscribeClosesChannel(t *testing.T) {
	hub := NewProgressHub()
	jobID := ulid.New()

	events, unsubscribe := hub.Subscribe(context.Background(), jobID)
	unsubscribe()

	select {
	case _, ok := <-events:
		assert.False(t, ok, "channel must be closed after unsubscribe")
	case <-time.After(time.Second):
		t.Fatal("channel was not closed promptly after unsubscribe")
	}
}

func TestProgressHub_ContextCancelUnsubscribesPromptly(t *testing.T) {
	hub := NewProgressHub()
	jobID := ulid.New()
	ctx, cancel := context.WithCancel(context.Background())

	events, _ := hub.Subscribe(ctx, jobID)
	cancel()

	select {
	case _, ok := <-events:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("subscription was not released within 1s of context cancellation")
	}
}

func TestProgressHub_MultipleSubscribersEachReceiveIndependently(t *testing.T) {
	hub := NewProgressHub()
	jobID := ulid.New()

	a, unsubA := hub.Subscribe(context.Background(), jobID)
	b, unsubB := hub.Subscribe(context.Background(), jobID)
	defer unsubA()
	defer unsubB()

	hub.Publish(jobID, ranking.ProgressUpdate{JobID: jobID, Percent: 50, Stage: "embed"})

	for _, ch := range []<-chan Event{a, b} {
		select {
		case e := <-ch:
			require.Equal(t, 50, e.Percent)
		case <-time.After(time.Second):
			t.Fatal("expected every subscriber to receive the published event")
		}
	}
}
