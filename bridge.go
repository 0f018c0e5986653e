package printarr

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"
)

// connection state machine is:
// ConnectionStateConnecting
//
//	-> ConnectionStateConnected
//	  <-> ConnectionStateReconnecting
//	-> ConnectionStateDisconnected (terminal, by user action or exhausted attempts)
type ConnectionState string

const (
	ConnectionStateConnecting   ConnectionState = "connecting"
	ConnectionStateConnected    ConnectionState = "connected"
	ConnectionStateReconnecting ConnectionState = "reconnecting"
	ConnectionStateDisconnected ConnectionState = "disconnected"
)

func (self ConnectionState) IsTerminal() bool {
	switch self {
	case ConnectionStateDisconnected:
		return true
	default:
		return false
	}
}

type ConnectionStateFunction func(connectionState ConnectionState)

type EventFunction func(event *Event)

type BridgeSettings struct {
	WsHandshakeTimeout time.Duration
	ReconnectTimeout   time.Duration
	// no event of any type within this window forces a reconnect,
	// even if the transport has not reported disconnection
	HeartbeatTimeout time.Duration
	WriteTimeout     time.Duration
	// 0 means reconnect forever. once exhausted the bridge goes
	// disconnected and fallback polling is the sole source of truth.
	MaxReconnectAttempts int
}

func DefaultBridgeSettings() *BridgeSettings {
	return &BridgeSettings{
		WsHandshakeTimeout:   2 * time.Second,
		ReconnectTimeout:     5 * time.Second,
		HeartbeatTimeout:     30 * time.Second,
		WriteTimeout:         5 * time.Second,
		MaxReconnectAttempts: 0,
	}
}

// Bridge consumes the server push channel and turns each domain event into
// a direct cache patch or a targeted invalidation. connection state changes
// publish synchronously so polling hands off without a silent window: a
// reconnect attempt begins before polling is told to stand down, and polling
// stands down only after connected is confirmed.
type Bridge struct {
	ctx    context.Context
	cancel context.CancelFunc

	store *Store
	wsUrl string
	auth  *ClientAuth

	settings *BridgeSettings

	stateLock       sync.Mutex
	connectionState ConnectionState
	started         bool

	connectionStateCallbacks *CallbackList[ConnectionStateFunction]
	eventCallbacks           *CallbackList[EventFunction]
}

func NewBridgeWithDefaults(ctx context.Context, store *Store, wsUrl string, auth *ClientAuth) *Bridge {
	return NewBridge(ctx, store, wsUrl, auth, DefaultBridgeSettings())
}

// the bridge does not connect until `Start`, so consumers can register
// connection state callbacks first.
func NewBridge(ctx context.Context, store *Store, wsUrl string, auth *ClientAuth, settings *BridgeSettings) *Bridge {
	cancelCtx, cancel := context.WithCancel(ctx)
	return &Bridge{
		ctx:                      cancelCtx,
		cancel:                   cancel,
		store:                    store,
		wsUrl:                    wsUrl,
		auth:                     auth,
		settings:                 settings,
		connectionState:          ConnectionStateConnecting,
		connectionStateCallbacks: NewCallbackList[ConnectionStateFunction](),
		eventCallbacks:           NewCallbackList[EventFunction](),
	}
}

func (self *Bridge) Start() {
	self.stateLock.Lock()
	if self.started {
		self.stateLock.Unlock()
		return
	}
	self.started = true
	self.stateLock.Unlock()
	go self.run()
}

func (self *Bridge) ConnectionState() ConnectionState {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.connectionState
}

// AddConnectionStateCallback registers a synchronous observer of the
// connection state machine. the current state is delivered immediately.
func (self *Bridge) AddConnectionStateCallback(callback ConnectionStateFunction) func() {
	remove := self.connectionStateCallbacks.Add(callback)
	self.stateLock.Lock()
	connectionState := self.connectionState
	self.stateLock.Unlock()
	func() {
		defer recover()
		callback(connectionState)
	}()
	return remove
}

func (self *Bridge) AddEventCallback(callback EventFunction) func() {
	return self.eventCallbacks.Add(callback)
}

func (self *Bridge) Close() {
	self.cancel()
	self.setConnectionState(ConnectionStateDisconnected)
}

func (self *Bridge) setConnectionState(connectionState ConnectionState) {
	self.stateLock.Lock()
	if self.connectionState == connectionState {
		self.stateLock.Unlock()
		return
	}
	if self.connectionState.IsTerminal() {
		self.stateLock.Unlock()
		return
	}
	self.connectionState = connectionState
	self.stateLock.Unlock()

	glog.V(1).Infof("[b]state %s\n", connectionState)
	for _, callback := range self.connectionStateCallbacks.Get() {
		func() {
			defer recover()
			callback(connectionState)
		}()
	}
}

func (self *Bridge) run() {
	attempts := 0
	for {
		reconnect := NewReconnect(self.settings.ReconnectTimeout)

		ws, err := self.connect()
		if err != nil {
			attempts += 1
			glog.Infof("[b]connect error = %s\n", err)
			if 0 < self.settings.MaxReconnectAttempts && self.settings.MaxReconnectAttempts <= attempts {
				// exhausted. polling is now the sole source of truth
				self.setConnectionState(ConnectionStateDisconnected)
				return
			}
			self.setConnectionState(ConnectionStateReconnecting)
			select {
			case <-self.ctx.Done():
				self.setConnectionState(ConnectionStateDisconnected)
				return
			case <-reconnect.After():
				continue
			}
		}

		attempts = 0
		// polling disables only after the handshake is confirmed
		self.setConnectionState(ConnectionStateConnected)

		self.readLoop(ws)
		ws.Close()

		select {
		case <-self.ctx.Done():
			self.setConnectionState(ConnectionStateDisconnected)
			return
		default:
		}
		// the next attempt begins while polling is already re-enabled
		self.setConnectionState(ConnectionStateReconnecting)
		select {
		case <-self.ctx.Done():
			self.setConnectionState(ConnectionStateDisconnected)
			return
		case <-reconnect.After():
		}
	}
}

func (self *Bridge) connect() (*websocket.Conn, error) {
	dialer := &websocket.Dialer{
		HandshakeTimeout: self.settings.WsHandshakeTimeout,
	}
	header := http.Header{}
	if self.auth != nil && self.auth.ByJwt != "" {
		header.Add("Authorization", fmt.Sprintf("Bearer %s", self.auth.ByJwt))
	}
	wsUrl := self.wsUrl
	if self.auth != nil {
		// preserve any query the configured url already carries
		u, err := url.Parse(self.wsUrl)
		if err != nil {
			return nil, err
		}
		query := u.Query()
		query.Set("instance_id", self.auth.InstanceId.String())
		u.RawQuery = query.Encode()
		wsUrl = u.String()
	}
	ws, _, err := dialer.DialContext(self.ctx, wsUrl, header)
	if err != nil {
		return nil, err
	}
	return ws, nil
}

func (self *Bridge) readLoop(ws *websocket.Conn) {
	for {
		select {
		case <-self.ctx.Done():
			return
		default:
		}

		// any event, heartbeat or domain, resets the liveness window.
		// a silently stalled connection times out here and forces a reconnect.
		ws.SetReadDeadline(time.Now().Add(self.settings.HeartbeatTimeout))
		messageType, message, err := ws.ReadMessage()
		if err != nil {
			glog.Infof("[b]read error = %s\n", err)
			return
		}

		switch messageType {
		case websocket.TextMessage, websocket.BinaryMessage:
			if len(message) == 0 {
				// ping
				glog.V(2).Infof("[b]ping\n")
				continue
			}
			event, err := ParseEvent(message)
			if err != nil {
				glog.Infof("[b]bad event = %s\n", err)
				continue
			}
			self.dispatch(event)
		default:
			glog.V(2).Infof("[b]other message type %d\n", messageType)
		}
	}
}

// dispatch maps one domain event to a cache patch or a targeted
// invalidation. events whose payload fully describes the new state patch
// directly with zero extra round trips. signal-only events invalidate and
// refetch the affected key family.
func (self *Bridge) dispatch(event *Event) {
	switch event.Type {
	case EventTypeHeartbeat:
		// liveness only

	case EventTypeJobQueued, EventTypeJobStarted, EventTypeJobProgress:
		if payload, err := event.JobPayload(); err == nil {
			self.patchJob(&payload.Job)
		} else {
			glog.V(1).Infof("[b]bad job payload = %s\n", err)
			self.store.InvalidateAndRefetchNow(KindOf(KindJobQueue))
		}

	case EventTypeJobCompleted, EventTypeJobFailed:
		var designId *Id
		if payload, err := event.JobPayload(); err == nil {
			self.patchJob(&payload.Job)
			designId = &payload.Job.DesignId
		}
		// the settled job changed its design and the aggregates.
		// unrelated design entries stay untouched.
		kinds := KindOf(KindDesignList, KindStats)
		if designId != nil {
			designKey := DesignKey(*designId)
			self.store.InvalidateAndRefetchNow(func(key CacheKey) bool {
				return key == designKey || kinds(key)
			})
		} else {
			self.store.InvalidateAndRefetchNow(kinds)
		}

	case EventTypeDesignChanged:
		if payload, err := event.DesignPayload(); err == nil {
			self.patchDesign(&payload.Design)
		} else {
			self.store.InvalidateAndRefetchNow(KindOf(KindDesign, KindDesignList))
		}

	case EventTypeChannelChanged:
		if payload, err := event.ChannelPayload(); err == nil {
			self.patchChannel(&payload.Channel)
		} else {
			self.store.InvalidateAndRefetchNow(KindOf(KindChannel, KindChannelList))
		}

	case EventTypeQueueUpdated:
		// signal only
		self.store.InvalidateAndRefetchNow(KindOf(KindJobQueue))

	case EventTypeSyncStatus:
		if payload, err := event.SyncStatusPayload(); err == nil {
			self.store.Set(SyncStatusKey(), &payload.SyncStatus)
		}

	default:
		glog.V(1).Infof("[b]unknown event type %s\n", event.Type)
	}

	for _, callback := range self.eventCallbacks.Get() {
		func() {
			defer recover()
			callback(event)
		}()
	}
}

func (self *Bridge) patchJob(job *Job) {
	self.store.Patch(JobQueueKey(), func(value any) any {
		queue, ok := value.(*JobQueue)
		if !ok || queue == nil {
			return value
		}
		jobs := make([]*Job, 0, len(queue.Jobs)+1)
		found := false
		for _, existing := range queue.Jobs {
			if existing.JobId == job.JobId {
				jobs = append(jobs, job)
				found = true
			} else {
				jobs = append(jobs, existing)
			}
		}
		total := queue.Total
		if !found {
			jobs = append(jobs, job)
			total += 1
		}
		return &JobQueue{
			Jobs:  jobs,
			Total: total,
		}
	})
}

func (self *Bridge) patchDesign(design *Design) {
	self.store.Patch(DesignKey(design.DesignId), func(value any) any {
		return design
	})
	for _, key := range self.store.Keys() {
		if key.Kind != KindDesignList {
			continue
		}
		self.store.Patch(key, func(value any) any {
			page, ok := value.(*DesignPage)
			if !ok {
				return value
			}
			return patchDesignPage(page, design.DesignId, func(existing *Design) *Design {
				return design
			})
		})
	}
}

func (self *Bridge) patchChannel(channel *Channel) {
	self.store.Patch(ChannelKey(channel.ChannelId), func(value any) any {
		return channel
	})
	self.store.Patch(ChannelListKey(), func(value any) any {
		page, ok := value.(*ChannelPage)
		if !ok || page == nil {
			return value
		}
		channels := make([]*Channel, len(page.Channels))
		changed := false
		for i, existing := range page.Channels {
			if existing.ChannelId == channel.ChannelId {
				channels[i] = channel
				changed = true
			} else {
				channels[i] = existing
			}
		}
		if !changed {
			return page
		}
		return &ChannelPage{
			Channels: channels,
			Total:    page.Total,
		}
	})
}
