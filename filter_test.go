package printarr

import (
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"

	"github.com/google/go-cmp/cmp"
)

func TestDesignFilterRoundTrip(t *testing.T) {
	channelId := NewId()
	filter := &DesignFilter{
		Search:    "benchy torture",
		ChannelId: &channelId,
		States:    []DesignState{DesignStateWanted, DesignStateDownloading},
		Page:      3,
		PageSize:  100,
		SortBy:    "create_time",
		SortOrder: SortOrderDesc,
	}

	// parse(serialize(state)) == state
	parsed := ParseDesignFilterString(filter.Encode())
	if diff := cmp.Diff(filter, parsed); diff != "" {
		t.Fatalf("round trip mismatch: %s", diff)
	}
}

func TestDesignFilterDefaultSerializesEmpty(t *testing.T) {
	assert.Equal(t, DefaultDesignFilter().Encode(), "")

	parsed := ParseDesignFilterString("")
	if diff := cmp.Diff(DefaultDesignFilter(), parsed); diff != "" {
		t.Fatalf("default mismatch: %s", diff)
	}
}

func TestDesignFilterInvalidValuesFallBack(t *testing.T) {
	values := url.Values{}
	values.Set("page", "-2")
	values.Set("page_size", "100000")
	values.Set("sort_by", "popularity")
	values.Set("sort_order", "sideways")
	values.Set("channel_id", "not-an-id")
	values.Add("state", "Melted")
	values.Add("state", string(DesignStateWanted))
	values.Add("state", string(DesignStateWanted))
	values.Set("utm_source", "newsletter")

	filter := ParseDesignFilter(values)
	assert.Equal(t, filter.Page, DefaultPage)
	assert.Equal(t, filter.PageSize, DefaultPageSize)
	assert.Equal(t, filter.SortBy, DefaultSortBy)
	assert.Equal(t, filter.SortOrder, SortOrderAsc)
	assert.Equal(t, filter.ChannelId, nil)
	// illegal states are dropped, duplicates collapse
	assert.Equal(t, filter.States, []DesignState{DesignStateWanted})
}

func TestDesignFilterCopyIsIndependent(t *testing.T) {
	channelId := NewId()
	filter := DefaultDesignFilter()
	filter.ChannelId = &channelId
	filter.States = []DesignState{DesignStateWanted}

	copied := filter.Copy()
	copied.States[0] = DesignStateOrganized
	*copied.ChannelId = NewId()

	assert.Equal(t, filter.States[0], DesignStateWanted)
	assert.Equal(t, *filter.ChannelId, channelId)
}

func TestDesignFilterPersistence(t *testing.T) {
	uiStore := NewMemoryUIStore()

	filter := DefaultDesignFilter()
	filter.Search = "vase"
	filter.SortOrder = SortOrderDesc
	SaveDesignFilter(uiStore, "design_filter", filter)

	loaded := LoadDesignFilter(uiStore, "design_filter")
	if diff := cmp.Diff(filter, loaded); diff != "" {
		t.Fatalf("persisted filter mismatch: %s", diff)
	}

	// missing state falls back to the default
	loaded = LoadDesignFilter(uiStore, "missing_key")
	if diff := cmp.Diff(DefaultDesignFilter(), loaded); diff != "" {
		t.Fatalf("fallback mismatch: %s", diff)
	}
}

func TestSearchDebouncerQuietPeriod(t *testing.T) {
	var commitLock sync.Mutex
	committed := []string{}

	debouncer := NewSearchDebouncer(50*time.Millisecond, func(value string) {
		commitLock.Lock()
		defer commitLock.Unlock()
		committed = append(committed, value)
	})
	defer debouncer.Close()

	// rapid keystrokes update the display value without committing
	debouncer.Input("b")
	debouncer.Input("be")
	debouncer.Input("ben")
	assert.Equal(t, debouncer.DisplayValue(), "ben")
	commitLock.Lock()
	assert.Equal(t, len(committed), 0)
	commitLock.Unlock()

	// only the final value commits after the quiet period
	waitFor(t, time.Second, func() bool {
		commitLock.Lock()
		defer commitLock.Unlock()
		return len(committed) == 1
	})
	commitLock.Lock()
	assert.Equal(t, committed[0], "ben")
	commitLock.Unlock()
}

func TestSearchDebouncerClearCommitsImmediately(t *testing.T) {
	var commitLock sync.Mutex
	committed := []string{}

	debouncer := NewSearchDebouncer(time.Hour, func(value string) {
		commitLock.Lock()
		defer commitLock.Unlock()
		committed = append(committed, value)
	})
	defer debouncer.Close()

	debouncer.Input("ben")
	debouncer.Input("")

	// the clear bypasses the quiet period and cancels the armed timer
	commitLock.Lock()
	assert.Equal(t, committed, []string{""})
	commitLock.Unlock()
}

func TestSearchDebouncerCloseCancelsPending(t *testing.T) {
	var commitLock sync.Mutex
	committed := []string{}

	debouncer := NewSearchDebouncer(20*time.Millisecond, func(value string) {
		commitLock.Lock()
		defer commitLock.Unlock()
		committed = append(committed, value)
	})
	debouncer.Input("ben")
	debouncer.Close()

	time.Sleep(100 * time.Millisecond)
	commitLock.Lock()
	assert.Equal(t, len(committed), 0)
	commitLock.Unlock()
}

func TestSavedFilterRegistryPredefinedFirst(t *testing.T) {
	wanted := DefaultDesignFilter()
	wanted.States = []DesignState{DesignStateWanted}
	registry := NewSavedFilterRegistry(&SavedFilter{Name: "Wanted", Filter: wanted})

	userFilter := registry.Add("big files", DefaultDesignFilter())

	all := registry.All()
	assert.Equal(t, len(all), 2)
	assert.Equal(t, all[0].Name, "Wanted")
	assert.Equal(t, all[0].Predefined, true)
	assert.Equal(t, all[1].Name, "big files")
	assert.Equal(t, all[1].Predefined, false)

	found, ok := registry.Get(userFilter.SavedFilterId)
	assert.Equal(t, ok, true)
	assert.Equal(t, found.Name, "big files")
}

func TestSavedFilterRegistryPredefinedNotRemovable(t *testing.T) {
	registry := NewSavedFilterRegistry(&SavedFilter{Name: "Wanted", Filter: DefaultDesignFilter()})
	predefinedId := registry.All()[0].SavedFilterId

	err := registry.Remove(predefinedId)
	assert.Equal(t, err, ErrPredefinedFilter)
	assert.Equal(t, len(registry.All()), 1)

	userFilter := registry.Add("big files", DefaultDesignFilter())
	err = registry.Remove(userFilter.SavedFilterId)
	assert.Equal(t, err, nil)
	assert.Equal(t, len(registry.All()), 1)
}

func TestSavedFilterSnapshotIsIndependent(t *testing.T) {
	registry := NewSavedFilterRegistry()

	live := DefaultDesignFilter()
	live.Search = "vase"
	saved := registry.Add("vases", live)

	// later live edits do not leak into the saved snapshot
	live.Search = "benchy"
	assert.Equal(t, saved.Filter.Search, "vase")
}
