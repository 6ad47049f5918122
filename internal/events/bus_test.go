package events

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishRoutesToJobSubscribers(t *testing.T) {
	bus := NewBus(8)
	subA := bus.Subscribe("job-a")
	subB := bus.Subscribe("job-b")
	defer subA.Close()
	defer subB.Close()

	bus.Publish(Event{Type: TypeStatus, JobID: "job-a", Data: map[string]any{"status": "processing"}})

	ev, ok := subA.Next(time.Second)
	require.True(t, ok)
	assert.Equal(t, TypeStatus, ev.Type)
	assert.Equal(t, "job-a", ev.JobID)

	_, ok = subB.Next(50 * time.Millisecond)
	assert.False(t, ok, "job-b subscriber must not see job-a events")
}

func TestAllJobsSubscriberSeesEverything(t *testing.T) {
	bus := NewBus(8)
	all := bus.Subscribe(AllJobs)
	defer all.Close()

	bus.Publish(Event{Type: TypeProgress, JobID: "job-a"})
	bus.Publish(Event{Type: TypeProgress, JobID: "job-b"})

	ev1, ok := all.Next(time.Second)
	require.True(t, ok)
	ev2, ok := all.Next(time.Second)
	require.True(t, ok)
	assert.Equal(t, "job-a", ev1.JobID)
	assert.Equal(t, "job-b", ev2.JobID)
}

func TestSlowSubscriberDropsNotBlocks(t *testing.T) {
	bus := NewBus(2)
	sub := bus.Subscribe("job-a")
	defer sub.Close()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			bus.Publish(Event{Type: TypeProgress, JobID: "job-a", Data: map[string]any{"i": i}})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publisher blocked on a full subscriber")
	}

	// buffer holds at most 2 events; the rest were dropped
	count := 0
	for {
		if _, ok := sub.Next(20 * time.Millisecond); !ok {
			break
		}
		count++
	}
	assert.LessOrEqual(t, count, 2)
}

func TestProgressMonotonicPerSubscriber(t *testing.T) {
	bus := NewBus(64)
	sub := bus.Subscribe("job-a")
	defer sub.Close()

	for i := 1; i <= 20; i++ {
		bus.Publish(Event{Type: TypeProgress, JobID: "job-a", Data: map[string]any{"processed_rows": i * 100}})
	}

	last := 0
	for {
		ev, ok := sub.Next(50 * time.Millisecond)
		if !ok {
			break
		}
		processed := ev.Data["processed_rows"].(int)
		require.Greater(t, processed, last, "progress must be non-decreasing in publish order")
		last = processed
	}
	assert.Equal(t, 2000, last)
}

func TestCloseIsIdempotentAndDetaches(t *testing.T) {
	bus := NewBus(8)
	sub := bus.Subscribe("job-a")

	sub.Close()
	assert.NotPanics(t, func() { sub.Close() })
	assert.NotPanics(t, func() {
		bus.Publish(Event{Type: TypeLog, JobID: "job-a"})
	})

	_, open := <-sub.C
	assert.False(t, open)
}

func TestBusCloseDetachesEverySubscription(t *testing.T) {
	bus := NewBus(8)
	subA := bus.Subscribe("job-a")
	all := bus.Subscribe(AllJobs)

	bus.Close()

	_, open := <-subA.C
	assert.False(t, open)
	_, open = <-all.C
	assert.False(t, open)

	// a subscription's own Close after the bus shut down must not panic
	assert.NotPanics(t, func() { subA.Close() })
	assert.NotPanics(t, func() {
		bus.Publish(Event{Type: TypeStatus, JobID: "job-a"})
	})
}

func TestConcurrentPublishAndSubscribe(t *testing.T) {
	bus := NewBus(16)
	done := make(chan struct{})

	go func() {
		for i := 0; i < 200; i++ {
			bus.Publish(Event{Type: TypeProgress, JobID: fmt.Sprintf("job-%d", i%4)})
		}
		close(done)
	}()

	for i := 0; i < 50; i++ {
		sub := bus.Subscribe(fmt.Sprintf("job-%d", i%4))
		sub.Close()
	}
	<-done
}
