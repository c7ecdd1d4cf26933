// Package ranking implements the ranking pipeline's in-process services:
// ProgressHub (C4), the JD/resume pipelines (C5/C6), ComplianceFilter (C7),
// Scorer (C8), Ranker (C9), and the Orchestrator (C10).
package ranking

import (
	"context"
	"sync"

	"brokle/internal/core/domain/ranking"
	"brokle/pkg/ulid"
)

// subscriberBufferSize is the bounded per-subscriber channel capacity
// (§4.4: "a bounded buffer (≥32)").
const subscriberBufferSize = 64

// Event is one delivery to a ProgressHub subscriber. Lagged is set when
// the hub had to drop an older buffered event to make room for this one.
type Event struct {
	ranking.ProgressUpdate
	Lagged bool
}

type subscriber struct {
	id     string
	ch     chan Event
	cancel context.CancelFunc
}

type jobTopic struct {
	mu          sync.Mutex
	lastByStage map[string]ranking.ProgressUpdate
	stageOrder  []string
	subs        map[string]*subscriber
}

// ProgressHub is the per-job pub-sub broker for progress events (C4). The
// hub owns every subscriber's output channel: a publisher's Publish call
// never blocks on a slow subscriber (§4.4).
type ProgressHub struct {
	mu   sync.RWMutex
	jobs map[string]*jobTopic
}

func NewProgressHub() *ProgressHub {
	return &ProgressHub{jobs: make(map[string]*jobTopic)}
}

func (h *ProgressHub) topic(jobID ulid.ULID, create bool) *jobTopic {
	key := jobID.String()

	h.mu.RLock()
	t, ok := h.jobs[key]
	h.mu.RUnlock()
	if ok || !create {
		return t
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if t, ok = h.jobs[key]; ok {
		return t
	}
	t = &jobTopic{
		lastByStage: make(map[string]ranking.ProgressUpdate),
		subs:        make(map[string]*subscriber),
	}
	h.jobs[key] = t
	return t
}

// Subscribe returns a stream of progress events for jobID. The returned
// channel is closed when ctx is cancelled or Unsubscribe fires; a late
// subscriber immediately receives the most recent event per stage so far
// (replay), then live events as they're published.
func (h *ProgressHub) Subscribe(ctx context.Context, jobID ulid.ULID) (<-chan Event, func()) {
	t := h.topic(jobID, true)
	subCtx, cancel := context.WithCancel(ctx)

	sub := &subscriber{id: ulid.New().String(), ch: make(chan Event, subscriberBufferSize), cancel: cancel}

	t.mu.Lock()
	t.subs[sub.id] = sub
	replay := make([]ranking.ProgressUpdate, 0, len(t.stageOrder))
	for _, stage := range t.stageOrder {
		replay = append(replay, t.lastByStage[stage])
	}
	t.mu.Unlock()

	for _, update := range replay {
		sub.ch <- Event{ProgressUpdate: update}
	}

	unsubscribe := func() { h.unsubscribe(jobID, sub.id) }

	go func() {
		<-subCtx.Done()
		unsubscribe()
	}()

	return sub.ch, unsubscribe
}

func (h *ProgressHub) unsubscribe(jobID ulid.ULID, subID string) {
	t := h.topic(jobID, false)
	if t == nil {
		return
	}
	t.mu.Lock()
	sub, ok := t.subs[subID]
	if ok {
		delete(t.subs, subID)
	}
	t.mu.Unlock()
	if ok {
		sub.cancel()
		close(sub.ch)
	}
}

// Publish delivers update to every current subscriber of jobID and
// records it as the latest event for its stage, for replay to late
// subscribers. On a full subscriber buffer the oldest queued event is
// dropped to make room and the delivered event is flagged Lagged, so no
// subscriber can stall a publisher (§4.4).
func (h *ProgressHub) Publish(jobID ulid.ULID, update ranking.ProgressUpdate) {
	t := h.topic(jobID, true)

	t.mu.Lock()
	if _, seen := t.lastByStage[update.Stage]; !seen {
		t.stageOrder = append(t.stageOrder, update.Stage)
	}
	t.lastByStage[update.Stage] = update
	subs := make([]*subscriber, 0, len(t.subs))
	for _, sub := range t.subs {
		subs = append(subs, sub)
	}
	t.mu.Unlock()

	for _, sub := range subs {
		deliver(sub.ch, Event{ProgressUpdate: update})
	}
}

func deliver(ch chan Event, event Event) {
	select {
	case ch <- event:
		return
	default:
	}

	// Buffer full: drop the oldest queued event and flag this one lagged.
	select {
	case <-ch:
	default:
	}
	event.Lagged = true
	select {
	case ch <- event:
	default:
		// Another goroutine drained concurrently faster than we could
		// re-enqueue; nothing left to do but drop this event too.
	}
}

// Close releases every subscription for jobID, e.g. once a job reaches a
// terminal state and no further progress will be published.
func (h *ProgressHub) Close(jobID ulid.ULID) {
	key := jobID.String()
	h.mu.Lock()
	t, ok := h.jobs[key]
	if ok {
		delete(h.jobs, key)
	}
	h.mu.Unlock()
	if !ok {
		return
	}

	t.mu.Lock()
	subs := make([]*subscriber, 0, len(t.subs))
	for _, sub := range t.subs {
		subs = append(subs, sub)
	}
	t.subs = nil
	t.mu.Unlock()

	for _, sub := range subs {
		sub.cancel()
		close(sub.ch)
	}
}
