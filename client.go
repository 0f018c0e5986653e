package printarr

import (
	"context"
	"errors"
	"time"
)

type ClientSettings struct {
	SchedulerSettings *SchedulerSettings
	BridgeSettings    *BridgeSettings

	QueueBusyInterval time.Duration
	QueueIdleInterval time.Duration
	ListIdleInterval  time.Duration
	HealthInterval    time.Duration
}

func DefaultClientSettings() *ClientSettings {
	return &ClientSettings{
		SchedulerSettings: DefaultSchedulerSettings(),
		BridgeSettings:    DefaultBridgeSettings(),
		QueueBusyInterval: 5 * time.Second,
		QueueIdleInterval: 60 * time.Second,
		ListIdleInterval:  120 * time.Second,
		HealthInterval:    30 * time.Second,
	}
}

func ClientSettingsFromConfig(config *ClientConfig) *ClientSettings {
	settings := DefaultClientSettings()
	settings.BridgeSettings.HeartbeatTimeout = config.HeartbeatTimeout()
	settings.QueueBusyInterval = config.QueueBusyInterval()
	settings.QueueIdleInterval = config.QueueIdleInterval()
	settings.HealthInterval = config.HealthInterval()
	return settings
}

// ListAdaptive polls list-shaped entries only while the push channel is
// degraded. the push channel is authoritative while connected.
func ListAdaptive(interval time.Duration) AdaptiveFunction {
	return func(value any, connectionState ConnectionState) time.Duration {
		if connectionState == ConnectionStateConnected {
			return RefreshDisabled
		}
		return interval
	}
}

// Client owns the cache core for one session: store, scheduler, mutation
// coordinator, event bridge and the resource api. initialized once per
// session and torn down on logout/reset.
type Client struct {
	ctx    context.Context
	cancel context.CancelFunc

	config   *ClientConfig
	settings *ClientSettings

	auth *ClientAuth
	api  *PrintarrApi

	store       *Store
	scheduler   *Scheduler
	coordinator *Coordinator
	bridge      *Bridge

	uiStore      UIStore
	savedFilters *SavedFilterRegistry
}

func NewClientWithDefaults(ctx context.Context, config *ClientConfig) *Client {
	return NewClient(ctx, config, ClientSettingsFromConfig(config))
}

func NewClient(ctx context.Context, config *ClientConfig, settings *ClientSettings) *Client {
	cancelCtx, cancel := context.WithCancel(ctx)

	auth := NewClientAuth(config.ByJwt, config.AppVersion)
	api := NewPrintarrApiWithContext(cancelCtx, config.ApiUrl)
	api.SetByJwt(config.ByJwt)

	store := NewStore()
	scheduler := NewScheduler(cancelCtx, store, settings.SchedulerSettings)
	coordinator := NewCoordinator(cancelCtx, store)
	bridge := NewBridge(cancelCtx, store, config.WsUrl, auth, settings.BridgeSettings)

	// register before the bridge starts so polling and push hand off
	// without a window where both are silent
	bridge.AddConnectionStateCallback(scheduler.SetConnectionState)

	var uiStore UIStore
	if config.UIStatePath != "" {
		uiStore = NewFileUIStore(config.UIStatePath)
	} else {
		uiStore = NewMemoryUIStore()
	}

	savedFilters := NewSavedFilterRegistry(
		&SavedFilter{
			Name: "Wanted",
			Filter: &DesignFilter{
				States:    []DesignState{DesignStateWanted},
				Page:      DefaultPage,
				PageSize:  DefaultPageSize,
				SortBy:    DefaultSortBy,
				SortOrder: SortOrderAsc,
			},
		},
		&SavedFilter{
			Name: "Downloading",
			Filter: &DesignFilter{
				States:    []DesignState{DesignStateDownloading},
				Page:      DefaultPage,
				PageSize:  DefaultPageSize,
				SortBy:    DefaultSortBy,
				SortOrder: SortOrderAsc,
			},
		},
	)

	return &Client{
		ctx:          cancelCtx,
		cancel:       cancel,
		config:       config,
		settings:     settings,
		auth:         auth,
		api:          api,
		store:        store,
		scheduler:    scheduler,
		coordinator:  coordinator,
		bridge:       bridge,
		uiStore:      uiStore,
		savedFilters: savedFilters,
	}
}

func (self *Client) Start() {
	self.bridge.Start()
}

func (self *Client) Store() *Store {
	return self.store
}

func (self *Client) Scheduler() *Scheduler {
	return self.scheduler
}

func (self *Client) Coordinator() *Coordinator {
	return self.coordinator
}

func (self *Client) Bridge() *Bridge {
	return self.bridge
}

func (self *Client) Api() *PrintarrApi {
	return self.api
}

func (self *Client) UIStore() UIStore {
	return self.uiStore
}

func (self *Client) SavedFilters() *SavedFilterRegistry {
	return self.savedFilters
}

// Close tears down the session: push channel closed, polling stopped,
// all cache entries cleared.
func (self *Client) Close() {
	self.bridge.Close()
	self.scheduler.Close()
	self.cancel()
	self.store.Clear()
}

// observers

func (self *Client) ObserveChannels(callback EntryFunction) func() {
	return self.observe(
		ChannelListKey(),
		self.fetchChannels,
		RefreshAdaptive(ListAdaptive(self.settings.ListIdleInterval)),
		callback,
	)
}

func (self *Client) ObserveChannel(channelId Id, callback EntryFunction) func() {
	return self.observe(
		ChannelKey(channelId),
		func(ctx context.Context) (any, error) {
			result, err := self.api.ChannelSync(ctx, channelId)
			if err != nil {
				return nil, err
			}
			return result.Channel, nil
		},
		RefreshAdaptive(ListAdaptive(self.settings.ListIdleInterval)),
		callback,
	)
}

func (self *Client) ObserveDesigns(filter *DesignFilter, callback EntryFunction) func() {
	return self.observe(
		DesignListKey(filter),
		func(ctx context.Context) (any, error) {
			result, err := self.api.DesignsSync(ctx, filter)
			if err != nil {
				return nil, err
			}
			return &DesignPage{Designs: result.Designs, Total: result.Total}, nil
		},
		RefreshAdaptive(ListAdaptive(self.settings.ListIdleInterval)),
		callback,
	)
}

func (self *Client) ObserveDesign(designId Id, callback EntryFunction) func() {
	return self.observe(
		DesignKey(designId),
		func(ctx context.Context) (any, error) {
			result, err := self.api.DesignSync(ctx, designId)
			if err != nil {
				return nil, err
			}
			return result.Design, nil
		},
		RefreshAdaptive(ListAdaptive(self.settings.ListIdleInterval)),
		callback,
	)
}

func (self *Client) ObservePreviews(designId Id, callback EntryFunction) func() {
	return self.observe(
		PreviewListKey(designId),
		func(ctx context.Context) (any, error) {
			result, err := self.api.PreviewsSync(ctx, designId)
			if err != nil {
				return nil, err
			}
			return &PreviewPage{Previews: result.Previews}, nil
		},
		RefreshOnce(),
		callback,
	)
}

func (self *Client) ObserveJobQueue(callback EntryFunction) func() {
	return self.observe(
		JobQueueKey(),
		self.fetchJobs,
		RefreshAdaptive(QueueAdaptive(self.settings.QueueBusyInterval, self.settings.QueueIdleInterval)),
		callback,
	)
}

func (self *Client) ObserveStats(callback EntryFunction) func() {
	return self.observe(
		StatsKey(),
		func(ctx context.Context) (any, error) {
			result, err := self.api.StatsSync(ctx)
			if err != nil {
				return nil, err
			}
			return result.Stats, nil
		},
		RefreshAdaptive(ListAdaptive(self.settings.ListIdleInterval)),
		callback,
	)
}

func (self *Client) ObserveSettings(callback EntryFunction) func() {
	return self.observe(
		SettingsKey(),
		func(ctx context.Context) (any, error) {
			result, err := self.api.SettingsSync(ctx)
			if err != nil {
				return nil, err
			}
			return result.Settings, nil
		},
		RefreshOnce(),
		callback,
	)
}

// health is a time-critical polled entry: it polls on a fixed interval
// regardless of push state and a failed check retries once
func (self *Client) ObserveHealth(callback EntryFunction) func() {
	return self.observe(
		HealthKey(),
		func(ctx context.Context) (any, error) {
			result, err := self.api.HealthSync(ctx)
			if err != nil {
				return nil, err
			}
			return result.Health, nil
		},
		RefreshFixedCritical(self.settings.HealthInterval),
		callback,
	)
}

func (self *Client) observe(key CacheKey, fetch FetchFunction, policy RefreshPolicy, callback EntryFunction) func() {
	unsubscribe := self.store.Subscribe(key, callback)
	release := self.scheduler.Observe(key, fetch, policy)
	return func() {
		release()
		unsubscribe()
	}
}

func (self *Client) fetchChannels(ctx context.Context) (any, error) {
	result, err := self.api.ChannelsSync(ctx)
	if err != nil {
		return nil, err
	}
	return &ChannelPage{Channels: result.Channels, Total: result.Total}, nil
}

func (self *Client) fetchJobs(ctx context.Context) (any, error) {
	result, err := self.api.JobsSync(ctx)
	if err != nil {
		return nil, err
	}
	return &JobQueue{Jobs: result.Jobs, Total: result.Total}, nil
}

// mutations

// CreateChannel is a pure invalidate-on-success mutation. there is no
// optimistic patch because the server assigns the id.
func (self *Client) CreateChannel(ctx context.Context, args *CreateChannelArgs) error {
	return self.coordinator.Mutate(ctx, &Mutation{
		Name: "channel create",
		Operation: func(ctx context.Context) error {
			result, err := self.api.CreateChannelSync(ctx, args)
			if err != nil {
				return err
			}
			if result.Error != nil {
				return errors.New(result.Error.Message)
			}
			return nil
		},
		DependentKeys: []CacheKey{ChannelListKey(), StatsKey()},
	})
}

// SetChannelDownloadMode updates in place: the optimistic patch covers
// both the list entry and the single-entity entry for the channel.
func (self *Client) SetChannelDownloadMode(ctx context.Context, channelId Id, downloadMode DownloadMode) error {
	return self.coordinator.Mutate(ctx, &Mutation{
		Name: "channel set download-mode",
		Operation: func(ctx context.Context) error {
			_, err := self.api.UpdateChannelSync(ctx, &UpdateChannelArgs{
				ChannelId:    channelId,
				DownloadMode: &downloadMode,
			})
			return err
		},
		Patch:      ChannelDownloadModePatch(channelId, downloadMode),
		TargetKeys: []CacheKey{ChannelKey(channelId), ChannelListKey()},
	})
}

// RemoveChannel optimistically removes the channel from list entries and
// decrements the cached total.
func (self *Client) RemoveChannel(ctx context.Context, channelId Id) error {
	return self.coordinator.Mutate(ctx, &Mutation{
		Name: "channel remove",
		Operation: func(ctx context.Context) error {
			_, err := self.api.RemoveChannelSync(ctx, &RemoveChannelArgs{ChannelId: channelId})
			return err
		},
		Patch:         ChannelRemovePatch(channelId),
		TargetKeys:    []CacheKey{ChannelListKey()},
		DependentKeys: []CacheKey{ChannelKey(channelId), StatsKey()},
	})
}

// SetDesignState is the guarded state transition mutation. a transition
// unreachable from the cached current state is rejected before any patch.
func (self *Client) SetDesignState(ctx context.Context, designId Id, nextState DesignState) error {
	listKeys := []CacheKey{}
	for _, key := range self.store.Keys() {
		if key.Kind == KindDesignList {
			listKeys = append(listKeys, key)
		}
	}
	return self.coordinator.TransitionDesign(ctx, designId, nextState, listKeys, func(ctx context.Context) error {
		result, err := self.api.SetDesignStateSync(ctx, &SetDesignStateArgs{
			DesignId: designId,
			State:    nextState,
		})
		if err != nil {
			return err
		}
		if result.Error != nil {
			return errors.New(result.Error.Message)
		}
		return nil
	})
}

// CancelDownload is the manual Downloading -> Discovered transition.
func (self *Client) CancelDownload(ctx context.Context, designId Id) error {
	return self.SetDesignState(ctx, designId, DesignStateDiscovered)
}

func (self *Client) TriggerBackfill(ctx context.Context, channelId Id) error {
	return self.coordinator.Mutate(ctx, &Mutation{
		Name: "channel backfill",
		Operation: func(ctx context.Context) error {
			_, err := self.api.TriggerBackfillSync(ctx, &TriggerBackfillArgs{ChannelId: channelId})
			return err
		},
		DependentKeys: []CacheKey{JobQueueKey(), StatsKey()},
	})
}

// SetPrimaryPreview patches the preview list and the design's primary
// preview id optimistically.
func (self *Client) SetPrimaryPreview(ctx context.Context, designId Id, previewId Id) error {
	return self.coordinator.Mutate(ctx, &Mutation{
		Name: "preview set-primary",
		Operation: func(ctx context.Context) error {
			_, err := self.api.SetPrimaryPreviewSync(ctx, &SetPrimaryPreviewArgs{
				DesignId:  designId,
				PreviewId: previewId,
			})
			return err
		},
		Patch:      PrimaryPreviewPatch(designId, previewId),
		TargetKeys: []CacheKey{PreviewListKey(designId), DesignKey(designId)},
	})
}

func (self *Client) RetryJob(ctx context.Context, jobId Id) error {
	return self.coordinator.Mutate(ctx, &Mutation{
		Name: "job retry",
		Operation: func(ctx context.Context) error {
			_, err := self.api.RetryJobSync(ctx, &RetryJobArgs{JobId: jobId})
			return err
		},
		Patch:         JobStatePatch(jobId, JobStateQueued),
		TargetKeys:    []CacheKey{JobQueueKey()},
		DependentKeys: []CacheKey{StatsKey()},
	})
}

func (self *Client) CancelJob(ctx context.Context, jobId Id) error {
	return self.coordinator.Mutate(ctx, &Mutation{
		Name: "job cancel",
		Operation: func(ctx context.Context) error {
			_, err := self.api.CancelJobSync(ctx, &CancelJobArgs{JobId: jobId})
			return err
		},
		Patch:         JobRemovePatch(jobId),
		TargetKeys:    []CacheKey{JobQueueKey()},
		DependentKeys: []CacheKey{StatsKey()},
	})
}

func (self *Client) UpdateSettings(ctx context.Context, settings *ServerSettings) error {
	return self.coordinator.Mutate(ctx, &Mutation{
		Name: "settings update",
		Operation: func(ctx context.Context) error {
			_, err := self.api.UpdateSettingsSync(ctx, &UpdateSettingsArgs{Settings: settings})
			return err
		},
		Patch: func(key CacheKey, value any) any {
			return settings
		},
		TargetKeys: []CacheKey{SettingsKey()},
	})
}

// patch functions. all pure so they can be re-applied after an
// overlapping rollback.

func ChannelDownloadModePatch(channelId Id, downloadMode DownloadMode) MutationPatchFunction {
	return func(key CacheKey, value any) any {
		switch v := value.(type) {
		case *Channel:
			if v.ChannelId != channelId {
				return v
			}
			next := *v
			next.DownloadMode = downloadMode
			return &next
		case *ChannelPage:
			return patchChannelPage(v, channelId, func(channel *Channel) *Channel {
				next := *channel
				next.DownloadMode = downloadMode
				return &next
			})
		default:
			return value
		}
	}
}

func ChannelRemovePatch(channelId Id) MutationPatchFunction {
	return func(key CacheKey, value any) any {
		page, ok := value.(*ChannelPage)
		if !ok || page == nil {
			return value
		}
		channels := make([]*Channel, 0, len(page.Channels))
		removed := false
		for _, channel := range page.Channels {
			if channel.ChannelId == channelId {
				removed = true
				continue
			}
			channels = append(channels, channel)
		}
		if !removed {
			return page
		}
		return &ChannelPage{
			Channels: channels,
			Total:    page.Total - 1,
		}
	}
}

func PrimaryPreviewPatch(designId Id, previewId Id) MutationPatchFunction {
	return func(key CacheKey, value any) any {
		switch v := value.(type) {
		case *Design:
			if v.DesignId != designId {
				return v
			}
			next := *v
			nextPreviewId := previewId
			next.PrimaryPreviewId = &nextPreviewId
			return &next
		case *PreviewPage:
			if v == nil {
				return v
			}
			previews := make([]*Preview, len(v.Previews))
			for i, preview := range v.Previews {
				next := *preview
				next.Primary = preview.PreviewId == previewId
				previews[i] = &next
			}
			return &PreviewPage{Previews: previews}
		default:
			return value
		}
	}
}

func JobStatePatch(jobId Id, jobState JobState) MutationPatchFunction {
	return func(key CacheKey, value any) any {
		queue, ok := value.(*JobQueue)
		if !ok || queue == nil {
			return value
		}
		jobs := make([]*Job, len(queue.Jobs))
		changed := false
		for i, job := range queue.Jobs {
			if job.JobId == jobId {
				next := *job
				next.State = jobState
				next.Error = ""
				jobs[i] = &next
				changed = true
			} else {
				jobs[i] = job
			}
		}
		if !changed {
			return queue
		}
		return &JobQueue{Jobs: jobs, Total: queue.Total}
	}
}

func JobRemovePatch(jobId Id) MutationPatchFunction {
	return func(key CacheKey, value any) any {
		queue, ok := value.(*JobQueue)
		if !ok || queue == nil {
			return value
		}
		jobs := make([]*Job, 0, len(queue.Jobs))
		removed := false
		for _, job := range queue.Jobs {
			if job.JobId == jobId {
				removed = true
				continue
			}
			jobs = append(jobs, job)
		}
		if !removed {
			return queue
		}
		return &JobQueue{Jobs: jobs, Total: queue.Total - 1}
	}
}

func patchChannelPage(page *ChannelPage, channelId Id, updateFn func(channel *Channel) *Channel) *ChannelPage {
	if page == nil {
		return page
	}
	channels := make([]*Channel, len(page.Channels))
	changed := false
	for i, channel := range page.Channels {
		if channel.ChannelId == channelId {
			channels[i] = updateFn(channel)
			changed = true
		} else {
			channels[i] = channel
		}
	}
	if !changed {
		return page
	}
	return &ChannelPage{
		Channels: channels,
		Total:    page.Total,
	}
}
