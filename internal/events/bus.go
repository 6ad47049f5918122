// Package events is the in-process pub/sub bus carrying job lifecycle
// events from the worker to SSE handlers. It is deliberately local to one
// process: progress is advisory, the job row in Postgres is the durable
// record, and a reconnecting client resyncs from a status snapshot.
package events

import (
	"sync"
	"time"
)

// Type enumerates the bus event kinds.
type Type string

const (
	TypeStatus    Type = "status_update"
	TypeProgress  Type = "progress_update"
	TypeLog       Type = "log"
	TypeConnected Type = "connected"
)

// AllJobs subscribes to every job's events.
const AllJobs = "__all__"

// Event is one bus message. Data is a small JSON-ready payload.
type Event struct {
	Type  Type           `json:"type"`
	JobID string         `json:"job_id"`
	Data  map[string]any `json:"data"`
}

// Subscription is one subscriber's bounded event feed.
type Subscription struct {
	C     chan Event
	jobID string
	bus   *Bus
	once  sync.Once
}

// Close detaches the subscription from the bus. Safe to call twice.
func (s *Subscription) Close() {
	s.once.Do(func() { s.bus.unsubscribe(s) })
}

// Next waits up to timeout for an event. ok is false on timeout or after
// the subscription closed.
func (s *Subscription) Next(timeout time.Duration) (Event, bool) {
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case ev, open := <-s.C:
		return ev, open
	case <-t.C:
		return Event{}, false
	}
}

// Bus fans events out to per-job subscribers. Delivery is non-blocking:
// a subscriber whose buffer is full loses the event rather than stalling
// the worker. Slow consumers observe the latest state late, never block it.
type Bus struct {
	mu   sync.RWMutex
	subs map[string]map[*Subscription]bool
	size int
}

// NewBus creates a bus with the given per-subscriber buffer size.
func NewBus(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	return &Bus{
		subs: make(map[string]map[*Subscription]bool),
		size: bufferSize,
	}
}

// Subscribe registers a feed for one job id, or all jobs via AllJobs.
func (b *Bus) Subscribe(jobID string) *Subscription {
	sub := &Subscription{
		C:     make(chan Event, b.size),
		jobID: jobID,
		bus:   b,
	}
	b.mu.Lock()
	if b.subs[jobID] == nil {
		b.subs[jobID] = make(map[*Subscription]bool)
	}
	b.subs[jobID][sub] = true
	b.mu.Unlock()
	return sub
}

func (b *Bus) unsubscribe(sub *Subscription) {
	b.mu.Lock()
	set := b.subs[sub.jobID]
	_, present := set[sub]
	if present {
		delete(set, sub)
		if len(set) == 0 {
			delete(b.subs, sub.jobID)
		}
	}
	b.mu.Unlock()
	// Bus.Close may have detached this subscription already; only the
	// path that removed it closes the channel.
	if present {
		close(sub.C)
	}
}

// Close detaches and closes every subscription. Called once at process
// shutdown; subscribers observe their channel closing and exit.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, set := range b.subs {
		for sub := range set {
			close(sub.C)
		}
	}
	b.subs = make(map[string]map[*Subscription]bool)
}

// Publish delivers ev to the job's subscribers and to AllJobs
// subscribers. Sends are non-blocking and happen under the read lock;
// unsubscribe takes the write lock, so a channel is never closed while a
// send to it is in flight.
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	deliver := func(set map[*Subscription]bool) {
		for sub := range set {
			select {
			case sub.C <- ev:
			default:
				// slow subscriber, drop
			}
		}
	}
	deliver(b.subs[ev.JobID])
	if ev.JobID != AllJobs {
		deliver(b.subs[AllJobs])
	}
}
