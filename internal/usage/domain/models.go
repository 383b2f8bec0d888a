// Package domain contains persistence models for the usage event ledger.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// UsageEvent records a single billable third-party call. Rows are
// append-only; corrections are new events, never edits.
type UsageEvent struct {
	ID             snowflake.ID      `gorm:"primaryKey" json:"id"`
	Timestamp      time.Time         `gorm:"not null;index:idx_usage_events_ts;index:idx_usage_events_owner_ts,priority:2;index:idx_usage_events_provider_service_ts,priority:3" json:"timestamp"`
	RequestID      string            `gorm:"type:text" json:"request_id,omitempty"`
	ActorUserID    string            `gorm:"type:text;not null" json:"actor_user_id"`
	BillingOwnerID string            `gorm:"type:text;not null;index:idx_usage_events_owner_ts,priority:1" json:"billing_owner_id"`
	SubjectUserID  string            `gorm:"type:text" json:"subject_user_id,omitempty"`
	Mode           string            `gorm:"type:text" json:"mode"`
	Provider       string            `gorm:"type:text;not null;index:idx_usage_events_provider_service_ts,priority:1" json:"provider"`
	Service        string            `gorm:"type:text;not null;index:idx_usage_events_provider_service_ts,priority:2" json:"service"`
	Units          int64             `gorm:"not null" json:"units"`
	UnitCostUSD    float64           `gorm:"column:unit_cost_usd;not null" json:"unit_cost_usd"`
	CostUSD        float64           `gorm:"column:cost_usd;not null" json:"cost_usd"`
	Metadata       datatypes.JSONMap `gorm:"type:jsonb" json:"metadata,omitempty"`
	CreatedAt      time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName sets the database table name.
func (UsageEvent) TableName() string { return "usage_events" }
