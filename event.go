package printarr

import (
	"encoding/json"
	"fmt"
	"time"
)

// push channel event contract. the server sends {type, payload, timestamp}
// from this fixed set. payload shapes depend on the type.
type EventType string

const (
	EventTypeJobQueued      EventType = "job-queued"
	EventTypeJobStarted     EventType = "job-started"
	EventTypeJobProgress    EventType = "job-progress"
	EventTypeJobCompleted   EventType = "job-completed"
	EventTypeJobFailed      EventType = "job-failed"
	EventTypeDesignChanged  EventType = "design-changed"
	EventTypeChannelChanged EventType = "channel-changed"
	EventTypeQueueUpdated   EventType = "queue-updated"
	EventTypeSyncStatus     EventType = "sync-status"
	EventTypeHeartbeat      EventType = "heartbeat"
)

type Event struct {
	Type      EventType       `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// job lifecycle payloads fully describe the job's new state
type JobEventPayload struct {
	Job Job `json:"job"`
}

type DesignEventPayload struct {
	Design Design `json:"design"`
}

type ChannelEventPayload struct {
	Channel Channel `json:"channel"`
}

type SyncStatusEventPayload struct {
	SyncStatus SyncStatus `json:"sync_status"`
}

func ParseEvent(message []byte) (*Event, error) {
	event := &Event{}
	if err := json.Unmarshal(message, event); err != nil {
		return nil, err
	}
	if event.Type == "" {
		return nil, fmt.Errorf("event missing type")
	}
	return event, nil
}

func (self *Event) JobPayload() (*JobEventPayload, error) {
	payload := &JobEventPayload{}
	if err := json.Unmarshal(self.Payload, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

func (self *Event) DesignPayload() (*DesignEventPayload, error) {
	payload := &DesignEventPayload{}
	if err := json.Unmarshal(self.Payload, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

func (self *Event) ChannelPayload() (*ChannelEventPayload, error) {
	payload := &ChannelEventPayload{}
	if err := json.Unmarshal(self.Payload, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

func (self *Event) SyncStatusPayload() (*SyncStatusEventPayload, error) {
	payload := &SyncStatusEventPayload{}
	if err := json.Unmarshal(self.Payload, payload); err != nil {
		return nil, err
	}
	return payload, nil
}
