package models

import (
	"time"

	"gorm.io/datatypes"
)

const (
	SyncStatusPending    = "pending"
	SyncStatusProcessing = "processing"
	SyncStatusProcessed  = "processed"
	SyncStatusFailed     = "failed"

	// SyncTypeBatch marks an entry that coalesced more than one update.
	SyncTypeBatch = "batch"
)

// SyncRecord is one update captured by the debounce window.
type SyncRecord struct {
	Type       string    `json:"type"`
	Payload    any       `json:"payload,omitempty"`
	ReceivedAt time.Time `json:"receivedAt"`
}

// SyncPayload is the stored body of a queue entry.
type SyncPayload struct {
	Records []SyncRecord `json:"records"`
}

// ChannelDispatch is the per-channel outcome appended to an entry on flush.
type ChannelDispatch struct {
	Signature    string    `json:"signature,omitempty"`
	DispatchedAt time.Time `json:"dispatchedAt"`
	DeliveryID   string    `json:"deliveryId,omitempty"`
	Error        string    `json:"error,omitempty"`
}

// SyncQueueEntry is an at-least-once outbound work item. Payload never
// changes after insert; Dispatch collects channel metadata on flush.
type SyncQueueEntry struct {
	ID        uint                                           `gorm:"primaryKey" json:"id"`
	UnitID    uint                                           `gorm:"column:unit_id;index" json:"unit_id"`
	Type      string                                         `gorm:"column:type;size:64" json:"type"`
	Payload   datatypes.JSONType[SyncPayload]                `gorm:"column:payload" json:"payload"`
	Status    string                                         `gorm:"column:status;size:16;index;default:pending" json:"status"`
	LastError string                                         `gorm:"column:last_error;type:text" json:"last_error,omitempty"`
	Dispatch  datatypes.JSONType[map[string]ChannelDispatch] `gorm:"column:dispatch" json:"dispatch,omitempty"`
	CreatedAt time.Time                                      `json:"created_at"`
	UpdatedAt time.Time                                      `json:"updated_at"`
}

func (SyncQueueEntry) TableName() string {
	return "channel_sync_queue"
}
