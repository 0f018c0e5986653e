package printarr

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/golang/glog"

	"golang.org/x/exp/slices"
)

var ErrIllegalTransition = errors.New("illegal design state transition")

type MutationStatus string

const (
	MutationStatusApplied    MutationStatus = "applied"
	MutationStatusSettling   MutationStatus = "settling"
	MutationStatusCommitted  MutationStatus = "committed"
	MutationStatusRolledback MutationStatus = "rolledback"
)

// MutationPatchFunction produces the optimistic value for one target key.
// it must be pure: the same patch is re-applied after a concurrent
// rollback restores an older snapshot underneath it.
type MutationPatchFunction func(key CacheKey, value any) any

// Mutation is one server-mutating operation with an optional optimistic
// patch. the snapshot is an explicit record, not a closure, so overlapping
// rollbacks can be resolved deterministically.
type Mutation struct {
	MutationId Id
	Name       string
	// the server request
	Operation func(ctx context.Context) error
	// optional. applied synchronously to every present target key
	// before the request is sent
	Patch MutationPatchFunction
	// keys the optimistic patch touches
	TargetKeys []CacheKey
	// keys invalidated on settle in addition to the targets,
	// e.g. updating a job also invalidates the job list and stats
	DependentKeys []CacheKey

	status MutationStatus
	// previous entries of target keys present at apply time,
	// at most one snapshot per key
	snapshots map[CacheKey]CacheEntry
}

func (self *Mutation) Status() MutationStatus {
	return self.status
}

// Coordinator executes mutations against the cache: snapshot, optimistic
// patch, send, then confirm or roll back. every settle path invalidates the
// written keys so the next read pulls authoritative server state. the
// optimistic patch is a display shortcut, not the final truth.
type Coordinator struct {
	ctx   context.Context
	store *Store

	stateLock sync.Mutex
	// mutations not yet settled, in start order
	active []*Mutation
}

func NewCoordinator(ctx context.Context, store *Store) *Coordinator {
	return &Coordinator{
		ctx:    ctx,
		store:  store,
		active: []*Mutation{},
	}
}

func (self *Coordinator) Mutate(ctx context.Context, mutation *Mutation) error {
	if mutation.Operation == nil {
		return errors.New("mutation has no operation")
	}
	if mutation.MutationId == (Id{}) {
		mutation.MutationId = NewId()
	}

	self.apply(mutation)

	// the operation is bounded by the session: closing the client cancels
	// every in-flight mutation request
	opCtx, opCancel := context.WithCancel(ctx)
	defer opCancel()
	stopAfter := context.AfterFunc(self.ctx, opCancel)
	defer stopAfter()

	err := mutation.Operation(opCtx)

	self.stateLock.Lock()
	mutation.status = MutationStatusSettling
	self.stateLock.Unlock()

	if err == nil {
		self.commit(mutation)
		return nil
	}
	self.rollback(mutation)
	glog.Infof("[m]rollback %s %s = %s\n", mutation.Name, mutation.MutationId, err)
	return fmt.Errorf("%s: %w", mutation.Name, err)
}

// snapshot and optimistic patch happen under one lock acquisition so no
// reader ever sees a partially applied mutation.
func (self *Coordinator) apply(mutation *Mutation) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	mutation.snapshots = map[CacheKey]CacheEntry{}
	for _, key := range mutation.TargetKeys {
		if entry, ok := self.store.Get(key); ok {
			mutation.snapshots[key] = entry
		}
	}
	if mutation.Patch != nil {
		for _, key := range mutation.TargetKeys {
			key := key
			self.store.Patch(key, func(value any) any {
				return mutation.Patch(key, value)
			})
		}
	}
	mutation.status = MutationStatusApplied
	self.active = append(self.active, mutation)
}

func (self *Coordinator) commit(mutation *Mutation) {
	self.stateLock.Lock()
	mutation.status = MutationStatusCommitted
	mutation.snapshots = nil
	self.removeActive(mutation)
	self.stateLock.Unlock()

	self.invalidateSettled(mutation)
}

// rollback restores the snapshot of every target key, then re-applies the
// patches of mutations still unsettled over the restored values. restoring
// the snapshot alone would also erase those mutations' optimistic effects.
func (self *Coordinator) rollback(mutation *Mutation) {
	self.stateLock.Lock()
	mutation.status = MutationStatusRolledback
	var laterActive []*Mutation
	if i := slices.Index(self.active, mutation); 0 <= i {
		self.active = slices.Delete(self.active, i, i+1)
		laterActive = self.active[i:]
	}

	for key, snapshot := range mutation.snapshots {
		self.store.restore(key, snapshot)
	}
	// mutations that started later captured snapshots that include this
	// mutation's patch. hand them the pre-mutation snapshot so their own
	// rollback restores the true prior state.
	for _, later := range laterActive {
		for key, snapshot := range mutation.snapshots {
			if _, overlapped := later.snapshots[key]; overlapped {
				later.snapshots[key] = snapshot
			}
		}
	}
	for _, remaining := range self.active {
		if remaining.Patch == nil {
			continue
		}
		for _, key := range remaining.TargetKeys {
			if _, overlapped := mutation.snapshots[key]; !overlapped {
				continue
			}
			key := key
			remainingPatch := remaining.Patch
			self.store.Patch(key, func(value any) any {
				return remainingPatch(key, value)
			})
		}
	}
	mutation.snapshots = nil
	self.stateLock.Unlock()

	// a failed write can still have had partial server-side effects
	self.invalidateSettled(mutation)
}

func (self *Coordinator) invalidateSettled(mutation *Mutation) {
	keys := slices.Clone(mutation.TargetKeys)
	keys = append(keys, mutation.DependentKeys...)
	if len(keys) == 0 {
		return
	}
	self.store.InvalidateAndRefetchNow(KeyEquals(keys...))
}

func (self *Coordinator) removeActive(mutation *Mutation) {
	i := slices.Index(self.active, mutation)
	if 0 <= i {
		self.active = slices.Delete(self.active, i, i+1)
	}
}

func (self *Coordinator) ActiveCount() int {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return len(self.active)
}

// TransitionDesign moves a design to the next lifecycle state with an
// optimistic patch of both the entity entry and any list entries.
// a transition unreachable from the current state is rejected before
// any patch is applied.
func (self *Coordinator) TransitionDesign(
	ctx context.Context,
	designId Id,
	nextState DesignState,
	listKeys []CacheKey,
	operation func(ctx context.Context) error,
) error {
	designKey := DesignKey(designId)
	if entry, ok := self.store.Get(designKey); ok {
		if design, ok := entry.Value.(*Design); ok {
			if !design.State.CanTransition(nextState) {
				return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, design.State, nextState)
			}
		}
	}

	targetKeys := append([]CacheKey{designKey}, listKeys...)
	mutation := &Mutation{
		Name:          fmt.Sprintf("design set-state %s", nextState),
		Operation:     operation,
		Patch:         DesignStatePatch(designId, nextState),
		TargetKeys:    targetKeys,
		DependentKeys: []CacheKey{StatsKey()},
	}
	return self.Mutate(ctx, mutation)
}

// DesignStatePatch patches a design's state in both entity-shaped and
// list-shaped entries.
func DesignStatePatch(designId Id, nextState DesignState) MutationPatchFunction {
	return func(key CacheKey, value any) any {
		switch v := value.(type) {
		case *Design:
			if v.DesignId != designId {
				return v
			}
			next := *v
			next.State = nextState
			return &next
		case *DesignPage:
			return patchDesignPage(v, designId, func(design *Design) *Design {
				next := *design
				next.State = nextState
				return &next
			})
		default:
			return value
		}
	}
}

func patchDesignPage(page *DesignPage, designId Id, updateFn func(design *Design) *Design) *DesignPage {
	if page == nil {
		return page
	}
	designs := make([]*Design, len(page.Designs))
	changed := false
	for i, design := range page.Designs {
		if design.DesignId == designId {
			designs[i] = updateFn(design)
			changed = true
		} else {
			designs[i] = design
		}
	}
	if !changed {
		return page
	}
	return &DesignPage{
		Designs: designs,
		Total:   page.Total,
	}
}
