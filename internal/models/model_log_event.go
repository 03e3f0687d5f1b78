package models

import (
	"time"

	"gorm.io/datatypes"
)

type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

type LogStatus string

const (
	LogStatusSuccess LogStatus = "success"
	LogStatusFailed  LogStatus = "failed"
	LogStatusPending LogStatus = "pending"
)

// Log sources. Free text upstream; these are the values written by this service.
const (
	LogSourceStripe = "stripe"
	LogSourcePaypal = "paypal"
	LogSourceEmail  = "email"
	LogSourceWHMCS  = "whmcs"
	LogSourceRetry  = "retry"
	LogSourceSystem = "system"
)

// LogEvent is one append-only row per lifecycle event of a business
// transaction. Rows are never updated or deleted; the latest row per trace id
// is the transaction's last known state.
type LogEvent struct {
	ID        string         `gorm:"column:id;type:uuid;primary_key" json:"id"`
	TraceID   string         `gorm:"column:trace_id;type:varchar(128);index:idx_log_event_trace,priority:1" json:"trace_id"`
	Source    string         `gorm:"column:source;type:varchar(64);not null" json:"source"`
	Level     LogLevel       `gorm:"column:level;type:varchar(16);not null" json:"level"`
	Status    LogStatus      `gorm:"column:status;type:varchar(16);not null" json:"status"`
	Event     string         `gorm:"column:event;type:varchar(128);not null" json:"event"`
	Payload   datatypes.JSON `gorm:"column:payload;type:jsonb" json:"payload"`
	Meta      datatypes.JSON `gorm:"column:meta;type:jsonb" json:"meta"`
	CreatedAt time.Time      `gorm:"index:idx_log_event_trace,priority:2,sort:desc" json:"created_at"`
}

func (LogEvent) TableName() string { return "log_event" }
