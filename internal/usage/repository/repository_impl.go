package repository

import (
	"context"
	"strings"

	usagedomain "github.com/platewise/platewise/internal/usage/domain"
	"gorm.io/gorm"
)

const (
	defaultQueryLimit = 50
	maxQueryLimit     = 200
)

type repo struct {
	db *gorm.DB
}

// Provide builds the gorm-backed usage event repository.
func Provide(db *gorm.DB) usagedomain.Repository {
	return &repo{db: db}
}

func (r *repo) Insert(ctx context.Context, event *usagedomain.UsageEvent) error {
	return r.db.WithContext(ctx).Create(event).Error
}

func (r *repo) Query(ctx context.Context, req usagedomain.QueryRequest) ([]usagedomain.UsageEvent, error) {
	limit := req.Limit
	if limit <= 0 {
		limit = defaultQueryLimit
	}
	if limit > maxQueryLimit {
		limit = maxQueryLimit
	}

	query := r.db.WithContext(ctx).Order("timestamp DESC").Limit(limit)
	if owner := strings.TrimSpace(req.BillingOwnerID); owner != "" {
		query = query.Where("billing_owner_id = ?", owner)
	}
	if provider := strings.TrimSpace(req.Provider); provider != "" {
		query = query.Where("provider = ?", provider)
	}

	var events []usagedomain.UsageEvent
	if err := query.Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}

func (r *repo) SumRange(ctx context.Context, filter usagedomain.RangeFilter) (usagedomain.RangeTotals, error) {
	query := `SELECT COALESCE(SUM(cost_usd), 0) AS cost_usd,
		COUNT(1) AS events,
		COALESCE(SUM(units), 0) AS units
		FROM usage_events
		WHERE timestamp >= ? AND timestamp <= ?`
	args := []any{filter.Start, filter.End}
	query, args = appendRangeFilters(query, args, filter)

	var totals usagedomain.RangeTotals
	if err := r.db.WithContext(ctx).Raw(query, args...).Scan(&totals).Error; err != nil {
		return usagedomain.RangeTotals{}, err
	}
	return totals, nil
}

func (r *repo) SumRangeBySubject(ctx context.Context, filter usagedomain.RangeFilter) ([]usagedomain.SubjectCost, error) {
	query := `SELECT subject_user_id,
		COALESCE(SUM(cost_usd), 0) AS cost_usd,
		COUNT(1) AS events
		FROM usage_events
		WHERE timestamp >= ? AND timestamp <= ?`
	args := []any{filter.Start, filter.End}
	query, args = appendRangeFilters(query, args, filter)
	query += ` GROUP BY subject_user_id ORDER BY cost_usd DESC`

	var rows []usagedomain.SubjectCost
	if err := r.db.WithContext(ctx).Raw(query, args...).Scan(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repo) SumRangeByService(ctx context.Context, filter usagedomain.RangeFilter) ([]usagedomain.ServiceCost, error) {
	query := `SELECT provider,
		service,
		COALESCE(SUM(cost_usd), 0) AS cost_usd,
		COUNT(1) AS events
		FROM usage_events
		WHERE timestamp >= ? AND timestamp <= ?`
	args := []any{filter.Start, filter.End}
	query, args = appendRangeFilters(query, args, filter)
	query += ` GROUP BY provider, service ORDER BY cost_usd DESC`

	var rows []usagedomain.ServiceCost
	if err := r.db.WithContext(ctx).Raw(query, args...).Scan(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repo) DistinctSubjects(ctx context.Context, filter usagedomain.RangeFilter) ([]string, error) {
	query := `SELECT DISTINCT subject_user_id
		FROM usage_events
		WHERE timestamp >= ? AND timestamp <= ?
		AND subject_user_id <> ''`
	args := []any{filter.Start, filter.End}
	query, args = appendRangeFilters(query, args, filter)

	var subjects []string
	if err := r.db.WithContext(ctx).Raw(query, args...).Scan(&subjects).Error; err != nil {
		return nil, err
	}
	return subjects, nil
}

func appendRangeFilters(query string, args []any, filter usagedomain.RangeFilter) (string, []any) {
	if owner := strings.TrimSpace(filter.BillingOwnerID); owner != "" {
		query += " AND billing_owner_id = ?"
		args = append(args, owner)
	}
	if provider := strings.TrimSpace(filter.Provider); provider != "" {
		query += " AND provider = ?"
		args = append(args, provider)
	}
	return query, args
}
