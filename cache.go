package printarr

import (
	"sync"
	"time"

	"github.com/golang/glog"

	"golang.org/x/exp/slices"
)

// resource kind tags. a kind may have many live keys at once (parameterized queries).
type ResourceKind string

const (
	KindChannelList ResourceKind = "channel-list"
	KindChannel     ResourceKind = "channel"
	KindDesignList  ResourceKind = "design-list"
	KindDesign      ResourceKind = "design"
	KindPreviewList ResourceKind = "preview-list"
	KindJobQueue    ResourceKind = "job-queue"
	KindStats       ResourceKind = "stats"
	KindSettings    ResourceKind = "settings"
	KindSyncStatus  ResourceKind = "sync-status"
	KindHealth      ResourceKind = "health"
)

// comparable
// keys with equal kind and params address the same entry
type CacheKey struct {
	Kind   ResourceKind
	Params string
}

func (self CacheKey) String() string {
	if self.Params == "" {
		return string(self.Kind)
	}
	return string(self.Kind) + "?" + self.Params
}

func ChannelListKey() CacheKey {
	return CacheKey{Kind: KindChannelList}
}

func ChannelKey(channelId Id) CacheKey {
	return CacheKey{Kind: KindChannel, Params: channelId.String()}
}

func DesignListKey(filter *DesignFilter) CacheKey {
	if filter == nil {
		return CacheKey{Kind: KindDesignList}
	}
	return CacheKey{Kind: KindDesignList, Params: filter.Values().Encode()}
}

func DesignKey(designId Id) CacheKey {
	return CacheKey{Kind: KindDesign, Params: designId.String()}
}

func PreviewListKey(designId Id) CacheKey {
	return CacheKey{Kind: KindPreviewList, Params: designId.String()}
}

func JobQueueKey() CacheKey {
	return CacheKey{Kind: KindJobQueue}
}

func StatsKey() CacheKey {
	return CacheKey{Kind: KindStats}
}

func SettingsKey() CacheKey {
	return CacheKey{Kind: KindSettings}
}

func SyncStatusKey() CacheKey {
	return CacheKey{Kind: KindSyncStatus}
}

func HealthKey() CacheKey {
	return CacheKey{Kind: KindHealth}
}

type KeyPredicate func(key CacheKey) bool

func KeyEquals(keys ...CacheKey) KeyPredicate {
	return func(key CacheKey) bool {
		return slices.Contains(keys, key)
	}
}

func KindOf(kinds ...ResourceKind) KeyPredicate {
	return func(key CacheKey) bool {
		return slices.Contains(kinds, key.Kind)
	}
}

type EntryStatus string

const (
	EntryStatusIdle    EntryStatus = "idle"
	EntryStatusLoading EntryStatus = "loading"
	EntryStatusSuccess EntryStatus = "success"
	EntryStatusError   EntryStatus = "error"
)

// CacheEntry is an immutable snapshot of one cached resource.
// Value keeps the last good value across reloads and errors (stale-while-revalidate).
// callers must not mutate Value in place. all writes go through the store.
type CacheEntry struct {
	Key       CacheKey
	Value     any
	FetchedAt time.Time
	Status    EntryStatus
	Err       error
	Stale     bool
}

type EntryFunction func(entry CacheEntry)

type RefetchFunction func(key CacheKey)

type storeEntry struct {
	entry      CacheEntry
	appliedSeq uint64
	observers  *CallbackList[EntryFunction]
}

func newStoreEntry(key CacheKey) *storeEntry {
	return &storeEntry{
		entry: CacheEntry{
			Key:    key,
			Status: EntryStatusIdle,
		},
		observers: NewCallbackList[EntryFunction](),
	}
}

// Store is the single shared mutable resource of the client.
// one per session. all mutation funnels through Set/Patch/Invalidate.
type Store struct {
	stateLock sync.Mutex
	entries   map[CacheKey]*storeEntry
	seq       uint64

	refetchCallbacks *CallbackList[RefetchFunction]
}

func NewStore() *Store {
	return &Store{
		entries:          map[CacheKey]*storeEntry{},
		refetchCallbacks: NewCallbackList[RefetchFunction](),
	}
}

// NextSeq tags an asynchronous write at issue time.
// a response is applied only if no newer response for the same key landed first.
func (self *Store) NextSeq() uint64 {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	self.seq += 1
	return self.seq
}

func (self *Store) Get(key CacheKey) (CacheEntry, bool) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	storeEntry, ok := self.entries[key]
	if !ok {
		return CacheEntry{}, false
	}
	return storeEntry.entry, true
}

func (self *Store) Set(key CacheKey, value any) {
	self.SetAt(key, value, self.NextSeq())
}

// SetAt applies a fetched value unless a newer write already landed for the key.
// returns whether the value was applied.
func (self *Store) SetAt(key CacheKey, value any, seq uint64) bool {
	self.stateLock.Lock()
	storeEntry := self.entry(key)
	if seq < storeEntry.appliedSeq {
		self.stateLock.Unlock()
		glog.V(2).Infof("[c]drop stale %s seq=%d<%d\n", key, seq, storeEntry.appliedSeq)
		return false
	}
	storeEntry.appliedSeq = seq
	storeEntry.entry.Value = value
	storeEntry.entry.Status = EntryStatusSuccess
	storeEntry.entry.FetchedAt = time.Now()
	storeEntry.entry.Err = nil
	storeEntry.entry.Stale = false
	entry := storeEntry.entry
	observers := storeEntry.observers.Get()
	self.stateLock.Unlock()

	notifyObservers(observers, entry)
	return true
}

// SetErrorAt records a fetch failure. the last good value is retained.
func (self *Store) SetErrorAt(key CacheKey, err error, seq uint64) bool {
	self.stateLock.Lock()
	storeEntry := self.entry(key)
	if seq < storeEntry.appliedSeq {
		self.stateLock.Unlock()
		return false
	}
	storeEntry.appliedSeq = seq
	storeEntry.entry.Status = EntryStatusError
	storeEntry.entry.Err = err
	entry := storeEntry.entry
	observers := storeEntry.observers.Get()
	self.stateLock.Unlock()

	notifyObservers(observers, entry)
	return true
}

// MarkLoading moves an entry to loading without discarding the previous value.
func (self *Store) MarkLoading(key CacheKey) {
	self.stateLock.Lock()
	storeEntry := self.entry(key)
	storeEntry.entry.Status = EntryStatusLoading
	entry := storeEntry.entry
	observers := storeEntry.observers.Get()
	self.stateLock.Unlock()

	notifyObservers(observers, entry)
}

// Patch applies updateFn to the current value only if the entry exists.
// no-op otherwise. used for optimistic patches and event-driven patches.
func (self *Store) Patch(key CacheKey, updateFn func(value any) any) bool {
	self.stateLock.Lock()
	storeEntry, ok := self.entries[key]
	if !ok {
		self.stateLock.Unlock()
		return false
	}
	storeEntry.entry.Value = updateFn(storeEntry.entry.Value)
	entry := storeEntry.entry
	observers := storeEntry.observers.Get()
	self.stateLock.Unlock()

	notifyObservers(observers, entry)
	return true
}

// Invalidate marks matching entries stale without discarding displayed values.
// returns the matched keys.
func (self *Store) Invalidate(keyPredicate KeyPredicate) []CacheKey {
	self.stateLock.Lock()
	matched := []CacheKey{}
	notifies := [][]EntryFunction{}
	entries := []CacheEntry{}
	for key, storeEntry := range self.entries {
		if keyPredicate(key) {
			storeEntry.entry.Stale = true
			matched = append(matched, key)
			notifies = append(notifies, storeEntry.observers.Get())
			entries = append(entries, storeEntry.entry)
		}
	}
	self.stateLock.Unlock()

	for i, observers := range notifies {
		notifyObservers(observers, entries[i])
	}
	return matched
}

// InvalidateAndRefetchNow invalidates and immediately triggers a refetch
// for matching entries that have at least one observer.
func (self *Store) InvalidateAndRefetchNow(keyPredicate KeyPredicate) {
	matched := self.Invalidate(keyPredicate)

	self.stateLock.Lock()
	observed := []CacheKey{}
	for _, key := range matched {
		if storeEntry, ok := self.entries[key]; ok && 0 < storeEntry.observers.Len() {
			observed = append(observed, key)
		}
	}
	refetchCallbacks := self.refetchCallbacks.Get()
	self.stateLock.Unlock()

	for _, key := range observed {
		for _, refetchCallback := range refetchCallbacks {
			func() {
				defer recover()
				refetchCallback(key)
			}()
		}
	}
}

// AddRefetchCallback registers the scheduler hook behind InvalidateAndRefetchNow.
func (self *Store) AddRefetchCallback(refetchCallback RefetchFunction) func() {
	return self.refetchCallbacks.Add(refetchCallback)
}

// Subscribe registers interest in a key. the callback fires on every committed
// entry change. the returned function unsubscribes and decrements the
// key's observer count.
func (self *Store) Subscribe(key CacheKey, callback EntryFunction) func() {
	self.stateLock.Lock()
	storeEntry := self.entry(key)
	remove := storeEntry.observers.Add(callback)
	entry := storeEntry.entry
	self.stateLock.Unlock()

	// deliver the current snapshot so new observers render immediately
	func() {
		defer recover()
		callback(entry)
	}()

	return remove
}

func (self *Store) ObserverCount(key CacheKey) int {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	storeEntry, ok := self.entries[key]
	if !ok {
		return 0
	}
	return storeEntry.observers.Len()
}

func (self *Store) Keys() []CacheKey {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	keys := make([]CacheKey, 0, len(self.entries))
	for key := range self.entries {
		keys = append(keys, key)
	}
	return keys
}

// Clear drops all entries. used on logout/reset.
func (self *Store) Clear() {
	self.stateLock.Lock()
	self.entries = map[CacheKey]*storeEntry{}
	self.stateLock.Unlock()
	glog.Infof("[c]clear\n")
}

// restore puts back a snapshot captured before an optimistic patch.
// the applied sequence is not advanced so a newer fetch still wins.
func (self *Store) restore(key CacheKey, snapshot CacheEntry) {
	self.stateLock.Lock()
	storeEntry, ok := self.entries[key]
	if !ok {
		self.stateLock.Unlock()
		return
	}
	storeEntry.entry.Value = snapshot.Value
	storeEntry.entry.Status = snapshot.Status
	storeEntry.entry.FetchedAt = snapshot.FetchedAt
	storeEntry.entry.Err = snapshot.Err
	storeEntry.entry.Stale = snapshot.Stale
	entry := storeEntry.entry
	observers := storeEntry.observers.Get()
	self.stateLock.Unlock()

	notifyObservers(observers, entry)
}

// callers hold no locks here. callbacks are wrapped to recover from errors.
func notifyObservers(observers []EntryFunction, entry CacheEntry) {
	for _, observer := range observers {
		func() {
			defer recover()
			observer(entry)
		}()
	}
}

func (self *Store) entry(key CacheKey) *storeEntry {
	storeEntry, ok := self.entries[key]
	if !ok {
		storeEntry = newStoreEntry(key)
		self.entries[key] = storeEntry
	}
	return storeEntry
}
