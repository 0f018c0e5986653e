package printarr

import (
	"sync"
	"time"
)

// Monitor coordinates wakeups between goroutines.
// `NotifyChannel` returns a channel that closes on the next `NotifyAll`.
type Monitor struct {
	mutex  sync.Mutex
	update chan struct{}
}

func NewMonitor() *Monitor {
	return &Monitor{
		update: make(chan struct{}),
	}
}

func (self *Monitor) NotifyChannel() <-chan struct{} {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return self.update
}

func (self *Monitor) NotifyAll() {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	close(self.update)
	self.update = make(chan struct{})
}

// makes a copy of the list on update
// function values are not comparable, so removal uses the id from `Add`
type CallbackList[T any] struct {
	mutex      sync.Mutex
	nextId     int
	callbacks  map[int]T
	orderedIds []int
}

func NewCallbackList[T any]() *CallbackList[T] {
	return &CallbackList[T]{
		callbacks:  map[int]T{},
		orderedIds: []int{},
	}
}

func (self *CallbackList[T]) Get() []T {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	callbacks := make([]T, 0, len(self.orderedIds))
	for _, id := range self.orderedIds {
		callbacks = append(callbacks, self.callbacks[id])
	}
	return callbacks
}

func (self *CallbackList[T]) Add(callback T) func() {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	id := self.nextId
	self.nextId += 1
	self.callbacks[id] = callback
	self.orderedIds = append(self.orderedIds, id)

	return func() {
		self.remove(id)
	}
}

func (self *CallbackList[T]) remove(id int) {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	if _, ok := self.callbacks[id]; !ok {
		// not present
		return
	}
	delete(self.callbacks, id)
	orderedIds := make([]int, 0, len(self.orderedIds)-1)
	for _, orderedId := range self.orderedIds {
		if orderedId != id {
			orderedIds = append(orderedIds, orderedId)
		}
	}
	self.orderedIds = orderedIds
}

func (self *CallbackList[T]) Len() int {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return len(self.callbacks)
}

// Reconnect spaces connection attempts by a minimum timeout,
// measured from when the attempt started.
type Reconnect struct {
	timeout   time.Duration
	startTime time.Time
}

func NewReconnect(timeout time.Duration) *Reconnect {
	return &Reconnect{
		timeout:   timeout,
		startTime: time.Now(),
	}
}

func (self *Reconnect) After() <-chan time.Time {
	remaining := self.timeout - time.Since(self.startTime)
	if remaining <= 0 {
		c := make(chan time.Time, 1)
		c <- time.Now()
		return c
	}
	return time.After(remaining)
}
