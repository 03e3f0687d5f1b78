package models

import (
	"time"

	"gorm.io/datatypes"
)

// ProcessedEvent marks an externally delivered webhook event id as handled.
// A row here makes any later delivery of the same event id a no-op.
type ProcessedEvent struct {
	EventID     string         `gorm:"column:event_id;type:varchar(128);primary_key" json:"event_id"`
	Provider    string         `gorm:"column:provider;type:varchar(32);not null" json:"provider"`
	RawPayload  datatypes.JSON `gorm:"column:raw_payload;type:jsonb" json:"raw_payload"`
	ProcessedAt time.Time      `gorm:"column:processed_at;not null" json:"processed_at"`
	CreatedAt   time.Time      `json:"created_at"`
}

func (ProcessedEvent) TableName() string { return "processed_event" }
