package printarr

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
)

type countingFetch struct {
	mutex sync.Mutex
	count int
	value any
	err   error
	block chan struct{}
}

func newCountingFetch(value any) *countingFetch {
	return &countingFetch{
		value: value,
	}
}

func (self *countingFetch) fetch(ctx context.Context) (any, error) {
	self.mutex.Lock()
	self.count += 1
	block := self.block
	self.mutex.Unlock()
	if block != nil {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-block:
		}
	}
	self.mutex.Lock()
	defer self.mutex.Unlock()
	if self.err != nil {
		return nil, self.err
	}
	return self.value, nil
}

func (self *countingFetch) Count() int {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return self.count
}

func testSchedulerSettings() *SchedulerSettings {
	return &SchedulerSettings{
		RetryDelay: 10 * time.Millisecond,
	}
}

func TestSchedulerObserveFetchesOnce(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := NewStore()
	scheduler := NewScheduler(ctx, store, testSchedulerSettings())
	defer scheduler.Close()

	fetch := newCountingFetch(&ChannelPage{Total: 3})
	release := scheduler.Observe(ChannelListKey(), fetch.fetch, RefreshOnce())
	defer release()

	waitFor(t, time.Second, func() bool {
		entry, ok := store.Get(ChannelListKey())
		return ok && entry.Status == EntryStatusSuccess
	})

	// a once policy does not refetch
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, fetch.Count(), 1)
}

func TestSchedulerIdempotentInvalidation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := NewStore()
	scheduler := NewScheduler(ctx, store, testSchedulerSettings())
	defer scheduler.Close()

	store.Set(StatsKey(), &StatsSummary{TotalDesigns: 1})
	store.Invalidate(KeyEquals(StatsKey()))

	// attaching an observer to an invalidated key produces exactly one fetch
	fetch := newCountingFetch(&StatsSummary{TotalDesigns: 2})
	release := scheduler.Observe(StatsKey(), fetch.fetch, RefreshOnce())
	defer release()

	waitFor(t, time.Second, func() bool {
		return fetch.Count() == 1
	})
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, fetch.Count(), 1)

	entry, _ := store.Get(StatsKey())
	assert.Equal(t, entry.Value.(*StatsSummary).TotalDesigns, 2)
	assert.Equal(t, entry.Stale, false)
}

func TestSchedulerFixedInterval(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := NewStore()
	scheduler := NewScheduler(ctx, store, testSchedulerSettings())
	defer scheduler.Close()

	fetch := newCountingFetch(&Health{Ok: true})
	release := scheduler.Observe(HealthKey(), fetch.fetch, RefreshFixed(20*time.Millisecond))
	defer release()

	waitFor(t, time.Second, func() bool {
		return 3 <= fetch.Count()
	})
}

func TestSchedulerAdaptiveDisabledWhileConnected(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := NewStore()
	scheduler := NewScheduler(ctx, store, testSchedulerSettings())
	defer scheduler.Close()

	scheduler.SetConnectionState(ConnectionStateConnected)

	fetch := newCountingFetch(&JobQueue{})
	release := scheduler.Observe(
		JobQueueKey(),
		fetch.fetch,
		RefreshAdaptive(QueueAdaptive(10*time.Millisecond, 20*time.Millisecond)),
	)
	defer release()

	// the initial population fetch still happens
	waitFor(t, time.Second, func() bool {
		return fetch.Count() == 1
	})

	// while push is connected, adaptive polling stays off
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, fetch.Count(), 1)

	// polling resumes as soon as the push channel degrades
	scheduler.SetConnectionState(ConnectionStateReconnecting)
	waitFor(t, time.Second, func() bool {
		return 2 <= fetch.Count()
	})
}

func TestSchedulerAdaptiveBusyIdleSplit(t *testing.T) {
	busyQueue := &JobQueue{
		Jobs: []*Job{
			{JobId: NewId(), State: JobStateRunning},
		},
		Total: 1,
	}
	idleQueue := &JobQueue{}

	adaptive := QueueAdaptive(10*time.Millisecond, time.Hour)
	assert.Equal(t, adaptive(busyQueue, ConnectionStateReconnecting), 10*time.Millisecond)
	assert.Equal(t, adaptive(idleQueue, ConnectionStateReconnecting), time.Hour)
	assert.Equal(t, adaptive(busyQueue, ConnectionStateConnected), RefreshDisabled)
	assert.Equal(t, adaptive(nil, ConnectionStateDisconnected), time.Hour)
}

func TestSchedulerCoalescing(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := NewStore()
	scheduler := NewScheduler(ctx, store, testSchedulerSettings())
	defer scheduler.Close()

	fetch := newCountingFetch(&JobQueue{Total: 1})
	fetch.block = make(chan struct{})

	release := scheduler.Observe(JobQueueKey(), fetch.fetch, RefreshOnce())
	defer release()

	waitFor(t, time.Second, func() bool {
		return fetch.Count() == 1
	})

	// requests while a fetch is in flight attach to the in-flight result
	scheduler.RefetchNow(JobQueueKey())
	scheduler.RefetchNow(JobQueueKey())
	close(fetch.block)

	waitFor(t, time.Second, func() bool {
		entry, ok := store.Get(JobQueueKey())
		return ok && entry.Status == EntryStatusSuccess
	})
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, fetch.Count(), 1)
}

func TestSchedulerRefetchNowAfterSettle(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := NewStore()
	scheduler := NewScheduler(ctx, store, testSchedulerSettings())
	defer scheduler.Close()

	fetch := newCountingFetch(&StatsSummary{})
	release := scheduler.Observe(StatsKey(), fetch.fetch, RefreshOnce())
	defer release()

	waitFor(t, time.Second, func() bool {
		return fetch.Count() == 1
	})

	scheduler.RefetchNow(StatsKey())
	waitFor(t, time.Second, func() bool {
		return fetch.Count() == 2
	})
}

func TestSchedulerInvalidateAndRefetchNow(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := NewStore()
	scheduler := NewScheduler(ctx, store, testSchedulerSettings())
	defer scheduler.Close()

	fetch := newCountingFetch(&JobQueue{})
	release := scheduler.Observe(JobQueueKey(), fetch.fetch, RefreshOnce())
	defer release()
	unsubscribe := store.Subscribe(JobQueueKey(), func(entry CacheEntry) {})
	defer unsubscribe()

	waitFor(t, time.Second, func() bool {
		return fetch.Count() == 1
	})

	store.InvalidateAndRefetchNow(KindOf(KindJobQueue))
	waitFor(t, time.Second, func() bool {
		return fetch.Count() == 2
	})
}

func TestSchedulerCriticalRetriesOnce(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := NewStore()
	scheduler := NewScheduler(ctx, store, testSchedulerSettings())
	defer scheduler.Close()

	fetch := newCountingFetch(nil)
	fetch.err = errors.New("health check failed")

	release := scheduler.Observe(HealthKey(), fetch.fetch, RefreshFixedCritical(time.Hour))
	defer release()

	// one attempt plus exactly one automatic retry
	waitFor(t, time.Second, func() bool {
		return fetch.Count() == 2
	})
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, fetch.Count(), 2)

	entry, _ := store.Get(HealthKey())
	assert.Equal(t, entry.Status, EntryStatusError)
}

func TestSchedulerNonCriticalDoesNotRetry(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := NewStore()
	scheduler := NewScheduler(ctx, store, testSchedulerSettings())
	defer scheduler.Close()

	fetch := newCountingFetch(nil)
	fetch.err = errors.New("fetch failed")

	release := scheduler.Observe(ChannelListKey(), fetch.fetch, RefreshOnce())
	defer release()

	waitFor(t, time.Second, func() bool {
		entry, ok := store.Get(ChannelListKey())
		return ok && entry.Status == EntryStatusError
	})
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, fetch.Count(), 1)
}

func TestSchedulerVisibility(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := NewStore()
	scheduler := NewScheduler(ctx, store, testSchedulerSettings())
	scheduler.SetVisible(false)
	defer scheduler.Close()

	fetch := newCountingFetch(&StatsSummary{})
	release := scheduler.Observe(StatsKey(), fetch.fetch, RefreshFixed(10*time.Millisecond))
	defer release()

	// refetch is suppressed while hidden
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, fetch.Count(), 0)

	// on visibility return an overdue entry refetches immediately
	scheduler.SetVisible(true)
	waitFor(t, time.Second, func() bool {
		return 1 <= fetch.Count()
	})
}

func TestSchedulerReleaseStopsPolling(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := NewStore()
	scheduler := NewScheduler(ctx, store, testSchedulerSettings())
	defer scheduler.Close()

	fetch := newCountingFetch(&Health{Ok: true})
	release := scheduler.Observe(HealthKey(), fetch.fetch, RefreshFixed(10*time.Millisecond))

	waitFor(t, time.Second, func() bool {
		return 1 <= fetch.Count()
	})
	release()
	settled := fetch.Count()
	time.Sleep(50 * time.Millisecond)
	// at most one fetch could have been in flight at release
	if fetch.Count() > settled+1 {
		t.Fatalf("polling continued after release: %d > %d", fetch.Count(), settled+1)
	}
}
