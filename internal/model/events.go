package model

import "time"

// EventType identifies the type of sync status event
type EventType string

const (
	EventQueued           EventType = "queued"
	EventDequeued         EventType = "dequeued"
	EventSyncing          EventType = "syncing"
	EventSynced           EventType = "synced"
	EventDegraded         EventType = "degraded"
	EventDeadLettered     EventType = "dead_lettered"
	EventConflictResolved EventType = "conflict_resolved"
)

// Event is a sync status notification
type Event struct {
	Type       EventType  `json:"type"`
	Timestamp  time.Time  `json:"timestamp"`
	Collection Collection `json:"collection,omitempty"`
	EntityID   string     `json:"entity_id,omitempty"`
	EntryID    string     `json:"entry_id,omitempty"`
	QueueDepth int        `json:"queue_depth"`
	Message    string     `json:"message,omitempty"`
}
