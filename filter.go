package printarr

import (
	"errors"
	"net/url"
	"strconv"
	"sync"
	"time"

	"golang.org/x/exp/slices"
)

type SortOrder string

const (
	SortOrderAsc  SortOrder = "asc"
	SortOrderDesc SortOrder = "desc"
)

const (
	DefaultPage     = 1
	DefaultPageSize = 50
	MaxPageSize     = 250
	DefaultSortBy   = "name"
)

var legalSortFields = []string{"name", "create_time", "state", "size"}

var legalDesignStates = []DesignState{
	DesignStateDiscovered,
	DesignStateWanted,
	DesignStateDownloading,
	DesignStateDownloaded,
	DesignStateOrganized,
}

// DesignFilter is the committed filter over the design list.
// the zero field values are not the defaults; use DefaultDesignFilter.
type DesignFilter struct {
	Search    string
	ChannelId *Id
	States    []DesignState
	Page      int
	PageSize  int
	SortBy    string
	SortOrder SortOrder
}

func DefaultDesignFilter() *DesignFilter {
	return &DesignFilter{
		Page:      DefaultPage,
		PageSize:  DefaultPageSize,
		SortBy:    DefaultSortBy,
		SortOrder: SortOrderAsc,
	}
}

func (self *DesignFilter) Copy() *DesignFilter {
	next := *self
	next.States = slices.Clone(self.States)
	if self.ChannelId != nil {
		channelId := *self.ChannelId
		next.ChannelId = &channelId
	}
	return &next
}

// Values serializes the filter for sharing and bookmarking.
// default-valued fields are omitted to keep the representation minimal,
// so an all-default filter serializes empty.
func (self *DesignFilter) Values() url.Values {
	values := url.Values{}
	if self.Search != "" {
		values.Set("search", self.Search)
	}
	if self.ChannelId != nil {
		values.Set("channel_id", self.ChannelId.String())
	}
	for _, state := range self.States {
		values.Add("state", string(state))
	}
	if self.Page != DefaultPage {
		values.Set("page", strconv.Itoa(self.Page))
	}
	if self.PageSize != DefaultPageSize {
		values.Set("page_size", strconv.Itoa(self.PageSize))
	}
	if self.SortBy != DefaultSortBy {
		values.Set("sort_by", self.SortBy)
	}
	if self.SortOrder != SortOrderAsc {
		values.Set("sort_order", string(self.SortOrder))
	}
	return values
}

func (self *DesignFilter) Encode() string {
	return self.Values().Encode()
}

// ParseDesignFilter validates each known field against its legal values.
// unrecognized or malformed values fall back to the default, never an error.
// unknown keys are ignored.
func ParseDesignFilter(values url.Values) *DesignFilter {
	filter := DefaultDesignFilter()

	filter.Search = values.Get("search")

	if channelIdStr := values.Get("channel_id"); channelIdStr != "" {
		if channelId, err := ParseId(channelIdStr); err == nil {
			filter.ChannelId = &channelId
		}
	}

	for _, stateStr := range values["state"] {
		state := DesignState(stateStr)
		if slices.Contains(legalDesignStates, state) && !slices.Contains(filter.States, state) {
			filter.States = append(filter.States, state)
		}
	}

	if page, err := strconv.Atoi(values.Get("page")); err == nil && 0 < page {
		filter.Page = page
	}
	if pageSize, err := strconv.Atoi(values.Get("page_size")); err == nil && 0 < pageSize && pageSize <= MaxPageSize {
		filter.PageSize = pageSize
	}

	if sortBy := values.Get("sort_by"); slices.Contains(legalSortFields, sortBy) {
		filter.SortBy = sortBy
	}
	switch SortOrder(values.Get("sort_order")) {
	case SortOrderDesc:
		filter.SortOrder = SortOrderDesc
	}

	return filter
}

func ParseDesignFilterString(encoded string) *DesignFilter {
	values, err := url.ParseQuery(encoded)
	if err != nil {
		return DefaultDesignFilter()
	}
	return ParseDesignFilter(values)
}

// LoadDesignFilter restores a persisted filter. storage failures and
// malformed state silently fall back to the default filter.
func LoadDesignFilter(uiStore UIStore, storageKey string) *DesignFilter {
	encoded, ok := uiStore.Get(storageKey)
	if !ok {
		return DefaultDesignFilter()
	}
	return ParseDesignFilterString(encoded)
}

func SaveDesignFilter(uiStore UIStore, storageKey string, filter *DesignFilter) {
	uiStore.Set(storageKey, filter.Encode())
}

type CommitFunction func(value string)

// SearchDebouncer decouples per-keystroke display state from the committed
// search value that triggers a server query. the committed value updates
// after a quiet period. clearing the field commits immediately and cancels
// any armed timer.
type SearchDebouncer struct {
	stateLock sync.Mutex

	quiet  time.Duration
	commit CommitFunction

	displayValue string
	timer        *time.Timer
	closed       bool
}

func NewSearchDebouncer(quiet time.Duration, commit CommitFunction) *SearchDebouncer {
	return &SearchDebouncer{
		quiet:  quiet,
		commit: commit,
	}
}

func (self *SearchDebouncer) Input(value string) {
	self.stateLock.Lock()
	if self.closed {
		self.stateLock.Unlock()
		return
	}
	self.displayValue = value
	if self.timer != nil {
		self.timer.Stop()
		self.timer = nil
	}
	if value == "" {
		self.stateLock.Unlock()
		self.commit("")
		return
	}
	self.timer = time.AfterFunc(self.quiet, func() {
		self.stateLock.Lock()
		if self.closed || self.displayValue != value {
			self.stateLock.Unlock()
			return
		}
		self.timer = nil
		self.stateLock.Unlock()
		self.commit(value)
	})
	self.stateLock.Unlock()
}

func (self *SearchDebouncer) DisplayValue() string {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.displayValue
}

// Close cancels any pending timer so no callback mutates torn-down state.
func (self *SearchDebouncer) Close() {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	self.closed = true
	if self.timer != nil {
		self.timer.Stop()
		self.timer = nil
	}
}

var ErrPredefinedFilter = errors.New("predefined filters cannot be removed")

type SavedFilter struct {
	SavedFilterId Id            `json:"saved_filter_id"`
	Name          string        `json:"name"`
	Filter        *DesignFilter `json:"-"`
	Predefined    bool          `json:"predefined"`
}

// SavedFilterRegistry stores named filter snapshots distinctly from live
// filter state. predefined entries are non-deletable and merge ahead of
// user-created ones.
type SavedFilterRegistry struct {
	stateLock  sync.Mutex
	predefined []*SavedFilter
	user       []*SavedFilter
}

func NewSavedFilterRegistry(predefined ...*SavedFilter) *SavedFilterRegistry {
	for _, savedFilter := range predefined {
		savedFilter.Predefined = true
		if savedFilter.SavedFilterId == (Id{}) {
			savedFilter.SavedFilterId = NewId()
		}
	}
	return &SavedFilterRegistry{
		predefined: predefined,
		user:       []*SavedFilter{},
	}
}

func (self *SavedFilterRegistry) All() []*SavedFilter {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	all := make([]*SavedFilter, 0, len(self.predefined)+len(self.user))
	all = append(all, self.predefined...)
	all = append(all, self.user...)
	return all
}

// Get checks predefined entries first.
func (self *SavedFilterRegistry) Get(savedFilterId Id) (*SavedFilter, bool) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	for _, savedFilter := range self.predefined {
		if savedFilter.SavedFilterId == savedFilterId {
			return savedFilter, true
		}
	}
	for _, savedFilter := range self.user {
		if savedFilter.SavedFilterId == savedFilterId {
			return savedFilter, true
		}
	}
	return nil, false
}

func (self *SavedFilterRegistry) Add(name string, filter *DesignFilter) *SavedFilter {
	savedFilter := &SavedFilter{
		SavedFilterId: NewId(),
		Name:          name,
		Filter:        filter.Copy(),
	}
	self.stateLock.Lock()
	self.user = append(self.user, savedFilter)
	self.stateLock.Unlock()
	return savedFilter
}

func (self *SavedFilterRegistry) Remove(savedFilterId Id) error {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	for _, savedFilter := range self.predefined {
		if savedFilter.SavedFilterId == savedFilterId {
			return ErrPredefinedFilter
		}
	}
	for i, savedFilter := range self.user {
		if savedFilter.SavedFilterId == savedFilterId {
			self.user = slices.Delete(self.user, i, i+1)
			return nil
		}
	}
	return nil
}
