package broker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"brokle/internal/core/domain/ranking"
	"brokle/internal/infrastructure/database"
	"brokle/pkg/ulid"
)

func newTestBroker(t *testing.T) (*Broker, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	redisDB := &database.RedisDB{Client: client}

	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)

	fastRetry := ranking.RetryPolicy{MaxAttempts: 3, InitialWait: time.Millisecond}
	return New(redisDB, logger, fastRetry), mr
}

func TestBroker_EnqueueConsume_DeliversPayload(t *testing.T) {
	b, _ := newTestBroker(t)
	jobID := ulid.New()

	require.NoError(t, b.Enqueue(context.Background(), ranking.QueueJD, jobID, ranking.JDJobPayload{JobID: jobID}))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	received := make(chan ranking.JDJobPayload, 1)
	go b.Consume(ctx, ranking.QueueJD, 1, func(ctx context.Context, payload []byte, progress func(ranking.ProgressUpdate)) error {
		var p ranking.JDJobPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return err
		}
		received <- p
		cancel()
		return nil
	})

	select {
	case p := <-received:
		require.Equal(t, jobID, p.JobID)
	case <-time.After(2 * time.Second):
		t.Fatal("expected delivery, got none")
	}
}

func TestBroker_HandlerExhaustsRetriesThenMovesToDLQ(t *testing.T) {
	b, mr := newTestBroker(t)
	jobID := ulid.New()

	require.NoError(t, b.Enqueue(context.Background(), ranking.QueueResume, jobID, ranking.ResumeJobPayload{ResumeID: jobID, JobID: jobID}))

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	attempts := 0
	done := make(chan struct{})
	go b.Consume(ctx, ranking.QueueResume, 1, func(ctx context.Context, payload []byte, progress func(ranking.ProgressUpdate)) error {
		attempts++
		if attempts == 3 {
			close(done)
		}
		return errors.New("boom")
	})

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("expected 3 handler attempts before DLQ, did not observe them")
	}
	cancel()

	require.Eventually(t, func() bool {
		return mr.Exists(dlqKey(ranking.QueueResume))
	}, time.Second, 10*time.Millisecond, "failed delivery must land in the DLQ stream after retries are exhausted")
}

func TestBroker_EnqueueChildren_ParentEnqueuedOnlyAfterAllChildrenTerminal(t *testing.T) {
	b, _ := newTestBroker(t)
	parentJobID := ulid.New()
	childJobID := ulid.New()

	children := []interface{}{
		ranking.RankChildPayload{JobID: parentJobID, BatchIndex: 0},
		ranking.RankChildPayload{JobID: parentJobID, BatchIndex: 1},
	}
	flowID, err := b.EnqueueChildren(context.Background(), ranking.QueueRank, parentJobID,
		ranking.RankParentPayload{JobID: parentJobID, TotalBatches: 2},
		ranking.QueueRank, childJobID, children)
	require.NoError(t, err)
	require.False(t, flowID.IsZero())

	require.NoError(t, b.ChildCompleted(context.Background(), flowID, 0, false))

	parentQueueLen, err := b.redis.Client.XLen(context.Background(), streamKey(ranking.QueueRank)).Result()
	require.NoError(t, err)
	require.Equal(t, int64(2), parentQueueLen, "only the two enqueued children should be present; parent not yet enqueued")

	require.NoError(t, b.ChildCompleted(context.Background(), flowID, 1, false))

	parentQueueLen, err = b.redis.Client.XLen(context.Background(), streamKey(ranking.QueueRank)).Result()
	require.NoError(t, err)
	require.Equal(t, int64(3), parentQueueLen, "parent must be enqueued once every child reaches a terminal state")
}
