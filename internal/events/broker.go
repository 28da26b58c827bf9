package events

import (
	"sync"

	"github.com/loomworks/loom/pkg/models"
)

// subscriberBuffer is the per-subscriber channel capacity. A subscriber
// that falls further behind than this misses live events and must re-sync
// from the durable log, de-duplicating on (runId, seq).
const subscriberBuffer = 256

// Broker fans out run events to live subscribers, keyed by run id.
//
// The orchestrator publishes each event only after its durable write has
// completed, so a reader that replays the log and then switches to the live
// channel never sees a sequence number it cannot reconcile.
type Broker struct {
	mu   sync.Mutex
	subs map[string]map[int]chan *models.Event
	next int
}

// NewBroker creates an empty broker.
func NewBroker() *Broker {
	return &Broker{subs: make(map[string]map[int]chan *models.Event)}
}

// Subscribe registers a live listener for a run. The returned cancel
// function must be called to release the subscription; it closes the
// channel.
func (b *Broker) Subscribe(runID string) (<-chan *models.Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan *models.Event, subscriberBuffer)
	if b.subs[runID] == nil {
		b.subs[runID] = make(map[int]chan *models.Event)
	}
	id := b.next
	b.next++
	b.subs[runID][id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[runID][id]; ok {
			delete(b.subs[runID], id)
			if len(b.subs[runID]) == 0 {
				delete(b.subs, runID)
			}
			close(sub)
		}
	}
	return ch, cancel
}

// Publish delivers an event to all live subscribers of its run. Slow
// subscribers are skipped rather than blocking the run.
func (b *Broker) Publish(event *models.Event) {
	if event == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs[event.RunID] {
		select {
		case ch <- event:
		default:
		}
	}
}
