package printarr

import (
	"context"
	"sync"
	"time"

	"github.com/golang/glog"
)

// interval returned by an adaptive policy to turn polling off
const RefreshDisabled = time.Duration(-1)

// AdaptiveFunction picks a poll interval from the current cached value and
// the push channel state. it must return RefreshDisabled while the push
// channel is connected, since duplicate polling races the push channel.
type AdaptiveFunction func(value any, connectionState ConnectionState) time.Duration

type RefreshPolicy struct {
	once     bool
	interval time.Duration
	adaptive AdaptiveFunction
	// a failed fetch for a time-critical entry retries once automatically
	critical bool
}

func RefreshOnce() RefreshPolicy {
	return RefreshPolicy{once: true}
}

func RefreshFixed(interval time.Duration) RefreshPolicy {
	return RefreshPolicy{interval: interval}
}

func RefreshFixedCritical(interval time.Duration) RefreshPolicy {
	return RefreshPolicy{interval: interval, critical: true}
}

func RefreshAdaptive(adaptive AdaptiveFunction) RefreshPolicy {
	return RefreshPolicy{adaptive: adaptive}
}

// QueueAdaptive is the standard adaptive policy for queue-shaped entries:
// disabled while push is healthy, a short interval while jobs are active,
// a long interval while idle so polling does not contend with backend writes.
func QueueAdaptive(busyInterval time.Duration, idleInterval time.Duration) AdaptiveFunction {
	return func(value any, connectionState ConnectionState) time.Duration {
		if connectionState == ConnectionStateConnected {
			return RefreshDisabled
		}
		if queue, ok := value.(*JobQueue); ok && queue.HasActiveJobs() {
			return busyInterval
		}
		return idleInterval
	}
}

type FetchFunction func(ctx context.Context) (any, error)

type SchedulerSettings struct {
	RetryDelay time.Duration
}

func DefaultSchedulerSettings() *SchedulerSettings {
	return &SchedulerSettings{
		RetryDelay: 2 * time.Second,
	}
}

type scheduledKey struct {
	key    CacheKey
	fetch  FetchFunction
	policy RefreshPolicy

	observerCount int
	inflight      bool
	inflightDone  chan struct{}
	// a fetch is due when attemptTime predates dirtyTime
	dirtyTime   time.Time
	attemptTime time.Time
	update      *Monitor
	cancel      context.CancelFunc
}

// Scheduler drives cache population for every key with at least one observer.
// each observed key runs one loop goroutine. all fetches for a key funnel
// through that loop, so concurrent refetch requests coalesce onto the
// in-flight result instead of issuing duplicate calls.
type Scheduler struct {
	ctx    context.Context
	cancel context.CancelFunc

	store    *Store
	settings *SchedulerSettings

	stateLock       sync.Mutex
	keys            map[CacheKey]*scheduledKey
	connectionState ConnectionState
	visible         bool

	removeRefetchCallback func()
}

func NewSchedulerWithDefaults(ctx context.Context, store *Store) *Scheduler {
	return NewScheduler(ctx, store, DefaultSchedulerSettings())
}

func NewScheduler(ctx context.Context, store *Store, settings *SchedulerSettings) *Scheduler {
	cancelCtx, cancel := context.WithCancel(ctx)
	scheduler := &Scheduler{
		ctx:             cancelCtx,
		cancel:          cancel,
		store:           store,
		settings:        settings,
		keys:            map[CacheKey]*scheduledKey{},
		connectionState: ConnectionStateConnecting,
		visible:         true,
	}
	scheduler.removeRefetchCallback = store.AddRefetchCallback(scheduler.RefetchNow)
	return scheduler
}

// Observe activates scheduling for a key. the first observer starts the
// fetch loop, the last release stops it. an absent or stale entry fetches
// exactly once on activation.
func (self *Scheduler) Observe(key CacheKey, fetch FetchFunction, policy RefreshPolicy) func() {
	self.stateLock.Lock()
	sk, ok := self.keys[key]
	if !ok {
		loopCtx, loopCancel := context.WithCancel(self.ctx)
		sk = &scheduledKey{
			key:       key,
			fetch:     fetch,
			policy:    policy,
			dirtyTime: time.Now(),
			update:    NewMonitor(),
			cancel:    loopCancel,
		}
		self.keys[key] = sk
		go self.run(loopCtx, sk)
	} else {
		if entry, ok := self.store.Get(key); ok && entry.Stale {
			sk.dirtyTime = time.Now()
			sk.update.NotifyAll()
		}
	}
	sk.observerCount += 1
	self.stateLock.Unlock()

	released := false
	return func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()
		if released {
			return
		}
		released = true
		sk.observerCount -= 1
		if sk.observerCount <= 0 {
			sk.cancel()
			delete(self.keys, key)
		}
	}
}

// RefetchNow requests an immediate refetch. a request while a fetch is
// in flight attaches to that result rather than queueing another call.
func (self *Scheduler) RefetchNow(key CacheKey) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	sk, ok := self.keys[key]
	if !ok {
		return
	}
	if sk.inflight {
		return
	}
	sk.dirtyTime = time.Now()
	sk.update.NotifyAll()
}

// SetConnectionState re-plans every adaptive loop synchronously.
// polling re-enables as soon as the push channel degrades and disables
// only once connected is confirmed.
func (self *Scheduler) SetConnectionState(connectionState ConnectionState) {
	self.stateLock.Lock()
	self.connectionState = connectionState
	for _, sk := range self.keys {
		sk.update.NotifyAll()
	}
	self.stateLock.Unlock()
	glog.V(1).Infof("[s]connection state %s\n", connectionState)
}

func (self *Scheduler) ConnectionState() ConnectionState {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.connectionState
}

// SetVisible suppresses refetch while the view is hidden. on return an
// entry older than its interval refetches immediately.
func (self *Scheduler) SetVisible(visible bool) {
	self.stateLock.Lock()
	self.visible = visible
	for _, sk := range self.keys {
		sk.update.NotifyAll()
	}
	self.stateLock.Unlock()
}

func (self *Scheduler) Close() {
	self.removeRefetchCallback()
	self.cancel()
}

func (self *Scheduler) run(ctx context.Context, sk *scheduledKey) {
	defer sk.cancel()

	for {
		immediate, wait := self.plan(sk)
		if immediate {
			self.fetchOnce(ctx, sk)
			select {
			case <-ctx.Done():
				return
			default:
			}
			continue
		}

		notify := sk.update.NotifyChannel()
		if wait == RefreshDisabled {
			select {
			case <-ctx.Done():
				return
			case <-notify:
			}
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-notify:
		case <-time.After(wait):
			self.fetchOnce(ctx, sk)
		}
	}
}

// plan decides the next action for a key under the current policy,
// visibility and connection state. returns either an immediate fetch,
// a wait duration, or RefreshDisabled to idle until the next wakeup.
func (self *Scheduler) plan(sk *scheduledKey) (immediate bool, wait time.Duration) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	if !self.visible {
		return false, RefreshDisabled
	}
	if sk.attemptTime.Before(sk.dirtyTime) {
		return true, 0
	}
	if sk.policy.once {
		return false, RefreshDisabled
	}

	interval := sk.policy.interval
	if sk.policy.adaptive != nil {
		var value any
		if entry, ok := self.store.Get(sk.key); ok {
			value = entry.Value
		}
		interval = sk.policy.adaptive(value, self.connectionState)
	}
	if interval == RefreshDisabled || interval <= 0 {
		return false, RefreshDisabled
	}

	base := sk.attemptTime
	if entry, ok := self.store.Get(sk.key); ok && entry.FetchedAt.After(base) {
		base = entry.FetchedAt
	}
	wait = time.Until(base.Add(interval))
	if wait <= 0 {
		return true, 0
	}
	return false, wait
}

func (self *Scheduler) fetchOnce(ctx context.Context, sk *scheduledKey) {
	self.stateLock.Lock()
	if sk.inflight {
		// attach to the in-flight fetch
		done := sk.inflightDone
		self.stateLock.Unlock()
		select {
		case <-ctx.Done():
		case <-done:
		}
		return
	}
	sk.inflight = true
	done := make(chan struct{})
	sk.inflightDone = done
	sk.attemptTime = time.Now()
	self.stateLock.Unlock()

	defer func() {
		self.stateLock.Lock()
		sk.inflight = false
		sk.inflightDone = nil
		self.stateLock.Unlock()
		close(done)
	}()

	seq := self.store.NextSeq()
	self.store.MarkLoading(sk.key)

	value, err := sk.fetch(ctx)
	if err == nil {
		self.store.SetAt(sk.key, value, seq)
		return
	}

	if sk.policy.critical && ctx.Err() == nil {
		glog.Infof("[s]retry %s after error = %s\n", sk.key, err)
		select {
		case <-ctx.Done():
		case <-time.After(self.settings.RetryDelay):
			value, retryErr := sk.fetch(ctx)
			if retryErr == nil {
				self.store.SetAt(sk.key, value, seq)
				return
			}
			err = retryErr
		}
	}

	glog.V(1).Infof("[s]fetch error %s = %s\n", sk.key, err)
	self.store.SetErrorAt(sk.key, err, seq)
}
