package domain

import (
	"context"
	"time"
)

// RangeFilter selects events whose timestamp falls in [Start, End].
// Start is a day boundary and stays inclusive to match the rollup's
// half-open day windows. End is the query instant and is inclusive so
// an event stamped at that exact instant is counted rather than
// slipping between the rollup and live windows.
type RangeFilter struct {
	BillingOwnerID string
	Provider       string
	Start          time.Time
	End            time.Time
}

// RangeTotals sums cost, events and units over a range.
type RangeTotals struct {
	CostUSD float64 `gorm:"column:cost_usd"`
	Events  int64   `gorm:"column:events"`
	Units   int64   `gorm:"column:units"`
}

// SubjectCost is a per-subject aggregate, sorted descending by cost.
type SubjectCost struct {
	SubjectUserID string  `gorm:"column:subject_user_id" json:"subject_user_id"`
	CostUSD       float64 `gorm:"column:cost_usd" json:"cost_usd"`
	Events        int64   `gorm:"column:events" json:"events"`
}

// ServiceCost is a per-(provider, service) aggregate, sorted descending
// by cost. Two providers sharing a service name stay distinct rows.
type ServiceCost struct {
	Provider string  `gorm:"column:provider" json:"provider"`
	Service  string  `gorm:"column:service" json:"service"`
	CostUSD  float64 `gorm:"column:cost_usd" json:"cost_usd"`
	Events   int64   `gorm:"column:events" json:"events"`
}

// Repository is the append-only event store. Insert is the sole
// mutating operation.
type Repository interface {
	Insert(ctx context.Context, event *UsageEvent) error
	Query(ctx context.Context, req QueryRequest) ([]UsageEvent, error)
	SumRange(ctx context.Context, filter RangeFilter) (RangeTotals, error)
	SumRangeBySubject(ctx context.Context, filter RangeFilter) ([]SubjectCost, error)
	SumRangeByService(ctx context.Context, filter RangeFilter) ([]ServiceCost, error)
	DistinctSubjects(ctx context.Context, filter RangeFilter) ([]string, error)
}
