// Package domain contains the daily rollup model and dashboard response
// shapes served by the query layer.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	usagedomain "github.com/platewise/platewise/internal/usage/domain"
)

// DailyRollup is one precomputed daily aggregate. The rollup engine is
// its only writer; a rerun for a day deletes and reinserts every row for
// that day. Absent subjects are stored as the empty string so the
// composite key stays total.
type DailyRollup struct {
	ID             snowflake.ID `gorm:"primaryKey" json:"id"`
	Day            string       `gorm:"type:text;not null;uniqueIndex:idx_daily_rollups_key,priority:1;index:idx_daily_rollups_day" json:"day"`
	BillingOwnerID string       `gorm:"type:text;not null;uniqueIndex:idx_daily_rollups_key,priority:2;index:idx_daily_rollups_owner_day,priority:1" json:"billing_owner_id"`
	ActorUserID    string       `gorm:"type:text;not null;uniqueIndex:idx_daily_rollups_key,priority:3;index:idx_daily_rollups_actor_day,priority:1" json:"actor_user_id"`
	SubjectUserID  string       `gorm:"type:text;not null;uniqueIndex:idx_daily_rollups_key,priority:4;index:idx_daily_rollups_subject_day,priority:1" json:"subject_user_id"`
	Provider       string       `gorm:"type:text;not null;uniqueIndex:idx_daily_rollups_key,priority:5" json:"provider"`
	Service        string       `gorm:"type:text;not null;uniqueIndex:idx_daily_rollups_key,priority:6" json:"service"`
	Events         int64        `gorm:"not null" json:"events"`
	Units          int64        `gorm:"not null" json:"units"`
	CostUSD        float64      `gorm:"column:cost_usd;not null" json:"cost_usd"`
	CreatedAt      time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName sets the database table name.
func (DailyRollup) TableName() string { return "daily_rollups" }

// DimensionTotals aggregates cost and event counts for one dimension value.
type DimensionTotals struct {
	CostUSD float64 `json:"cost_usd"`
	Events  int64   `json:"events"`
}

// SummaryResponse combines rolled-up history with today's live window.
type SummaryResponse struct {
	Days           int                       `json:"days"`
	Provider       string                    `json:"provider,omitempty"`
	TotalRollupUSD float64                   `json:"total_rollup_usd"`
	TodaySoFarUSD  float64                   `json:"today_so_far_usd"`
	TotalUSD       float64                   `json:"total_usd"`
	TotalEvents    int64                     `json:"total_events"`
	ByService      []usagedomain.ServiceCost `json:"by_service"`
}

// CostPerActiveUserResponse reports spend per distinct subject.
type CostPerActiveUserResponse struct {
	Days                 int     `json:"days"`
	Provider             string  `json:"provider,omitempty"`
	TotalUSD             float64 `json:"total_usd"`
	ActiveUsers          int     `json:"active_users"`
	CostPerActiveUserUSD float64 `json:"cost_per_active_user_usd"`
}

// DayCost is one point in the byDay time series.
type DayCost struct {
	Day     string  `json:"day"`
	CostUSD float64 `json:"cost_usd"`
	Events  int64   `json:"events"`
}

// ByDayResponse is the per-day cost time series, oldest first.
type ByDayResponse struct {
	Days   int       `json:"days"`
	Series []DayCost `json:"series"`
}

// GroupUsageResponse breaks one billing owner's spend down by subject
// and service.
type GroupUsageResponse struct {
	BillingOwnerID  string                     `json:"billing_owner_id"`
	Days            int                        `json:"days"`
	TotalCostUSD    float64                    `json:"total_cost_usd"`
	TodaySoFarUSD   float64                    `json:"today_so_far_usd"`
	BySubjectUserID map[string]DimensionTotals `json:"by_subject_user_id"`
	ByService       map[string]DimensionTotals `json:"by_service"`
}

// Service is the dashboard query layer. It only reads; aggregation
// errors degrade to zero values instead of failing the caller.
type Service interface {
	Summary(ctx context.Context, days int, provider string) (SummaryResponse, error)
	CostPerActiveUser(ctx context.Context, days int, provider string) (CostPerActiveUserResponse, error)
	ByDay(ctx context.Context, days int, provider string) (ByDayResponse, error)
	GroupUsage(ctx context.Context, billingOwnerID string, days int, provider string) (GroupUsageResponse, error)
}

var ErrInvalidOwner = errors.New("invalid_billing_owner")
