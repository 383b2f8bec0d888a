package service

import (
	"context"
	"math"
	"sort"
	"strings"

	"github.com/platewise/platewise/internal/clock"
	dashboarddomain "github.com/platewise/platewise/internal/dashboard/domain"
	"github.com/platewise/platewise/internal/observability/logger"
	usagedomain "github.com/platewise/platewise/internal/usage/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const maxWindowDays = 366

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	Clock     clock.Clock
	UsageRepo usagedomain.Repository
}

// Service merges rolled-up history with the live "today" window. It is
// read-only; every aggregation error degrades to zero values so a broken
// metrics panel never becomes a user-facing outage.
type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	clock     clock.Clock
	usageRepo usagedomain.Repository
}

func NewService(p Params) dashboarddomain.Service {
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("dashboard.service"),
		clock:     p.Clock,
		usageRepo: p.UsageRepo,
	}
}

func (s *Service) Summary(ctx context.Context, days int, provider string) (dashboarddomain.SummaryResponse, error) {
	w, provider := s.window(days, provider)
	resp := dashboarddomain.SummaryResponse{Days: w.Days, Provider: provider}

	rollupCost, rollupEvents := s.rollupTotals(ctx, w, "", provider)
	live := s.liveTotals(ctx, w, "", provider)

	resp.TotalRollupUSD = rollupCost
	resp.TodaySoFarUSD = live.CostUSD
	resp.TotalUSD = round6(rollupCost + live.CostUSD)
	resp.TotalEvents = rollupEvents + live.Events
	resp.ByService = s.mergedByService(ctx, w, "", provider)

	return resp, nil
}

func (s *Service) CostPerActiveUser(ctx context.Context, days int, provider string) (dashboarddomain.CostPerActiveUserResponse, error) {
	w, provider := s.window(days, provider)
	resp := dashboarddomain.CostPerActiveUserResponse{Days: w.Days, Provider: provider}

	rollupCost, _ := s.rollupTotals(ctx, w, "", provider)
	live := s.liveTotals(ctx, w, "", provider)
	resp.TotalUSD = round6(rollupCost + live.CostUSD)

	// Active users are a true set union of rollup subjects and live
	// subjects, unlike cost, which merges additively. A subject seen in
	// both windows counts once.
	subjects := make(map[string]struct{})
	for _, subject := range s.rollupSubjects(ctx, w, provider) {
		subjects[subject] = struct{}{}
	}
	for _, subject := range s.liveSubjects(ctx, w, "", provider) {
		subjects[subject] = struct{}{}
	}

	resp.ActiveUsers = len(subjects)
	if resp.ActiveUsers > 0 {
		resp.CostPerActiveUserUSD = round6(resp.TotalUSD / float64(resp.ActiveUsers))
	}
	return resp, nil
}

func (s *Service) ByDay(ctx context.Context, days int, provider string) (dashboarddomain.ByDayResponse, error) {
	w, provider := s.window(days, provider)
	resp := dashboarddomain.ByDayResponse{Days: w.Days}

	series := make(map[string]dashboarddomain.DayCost)
	for _, row := range s.rollupByDay(ctx, w, provider) {
		series[row.Day] = row
	}

	live := s.liveTotals(ctx, w, "", provider)
	if live.Events > 0 || live.CostUSD > 0 {
		today := dashboarddomain.DayKey(w.TodayStart)
		series[today] = dashboarddomain.DayCost{
			Day:     today,
			CostUSD: round6(live.CostUSD),
			Events:  live.Events,
		}
	}

	keys := make([]string, 0, len(series))
	for day := range series {
		keys = append(keys, day)
	}
	sort.Strings(keys)
	for _, day := range keys {
		resp.Series = append(resp.Series, series[day])
	}
	return resp, nil
}

func (s *Service) GroupUsage(ctx context.Context, billingOwnerID string, days int, provider string) (dashboarddomain.GroupUsageResponse, error) {
	owner := strings.TrimSpace(billingOwnerID)
	if owner == "" {
		return dashboarddomain.GroupUsageResponse{}, dashboarddomain.ErrInvalidOwner
	}

	w, provider := s.window(days, provider)
	resp := dashboarddomain.GroupUsageResponse{
		BillingOwnerID:  owner,
		Days:            w.Days,
		BySubjectUserID: make(map[string]dashboarddomain.DimensionTotals),
		ByService:       make(map[string]dashboarddomain.DimensionTotals),
	}

	rollupCost, _ := s.rollupTotals(ctx, w, owner, provider)
	live := s.liveTotals(ctx, w, owner, provider)
	resp.TodaySoFarUSD = round6(live.CostUSD)
	resp.TotalCostUSD = round6(rollupCost + live.CostUSD)

	for _, row := range s.rollupBySubject(ctx, w, owner, provider) {
		addDimension(resp.BySubjectUserID, row.SubjectUserID, row.CostUSD, row.Events)
	}
	for _, row := range s.liveBySubject(ctx, w, owner, provider) {
		addDimension(resp.BySubjectUserID, row.SubjectUserID, row.CostUSD, row.Events)
	}

	for _, row := range s.rollupByService(ctx, w, owner, provider) {
		addDimension(resp.ByService, row.Service, row.CostUSD, row.Events)
	}
	for _, row := range s.liveByService(ctx, w, owner, provider) {
		addDimension(resp.ByService, row.Service, row.CostUSD, row.Events)
	}

	return resp, nil
}

func (s *Service) window(days int, provider string) (dashboarddomain.Window, string) {
	if days > maxWindowDays {
		days = maxWindowDays
	}
	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider == "all" {
		provider = ""
	}
	return dashboarddomain.SplitWindow(s.clock.Now(), days), provider
}

type totalsRow struct {
	CostUSD float64 `gorm:"column:cost_usd"`
	Events  int64   `gorm:"column:events"`
}

func (s *Service) rollupTotals(ctx context.Context, w dashboarddomain.Window, owner, provider string) (float64, int64) {
	if !w.HasHistory() {
		return 0, 0
	}
	query := `SELECT COALESCE(SUM(cost_usd), 0) AS cost_usd, COALESCE(SUM(events), 0) AS events
		FROM daily_rollups
		WHERE day >= ? AND day <= ?`
	args := []any{w.HistoricalStartDay, w.HistoricalEndDay}
	query, args = appendRollupFilters(query, args, owner, provider)

	var row totalsRow
	if err := s.db.WithContext(ctx).Raw(query, args...).Scan(&row).Error; err != nil {
		logger.FromContext(ctx).Warn("rollup totals query failed", zap.Error(err))
		return 0, 0
	}
	return row.CostUSD, row.Events
}

func (s *Service) rollupByDay(ctx context.Context, w dashboarddomain.Window, provider string) []dashboarddomain.DayCost {
	if !w.HasHistory() {
		return nil
	}
	query := `SELECT day, COALESCE(SUM(cost_usd), 0) AS cost_usd, COALESCE(SUM(events), 0) AS events
		FROM daily_rollups
		WHERE day >= ? AND day <= ?`
	args := []any{w.HistoricalStartDay, w.HistoricalEndDay}
	query, args = appendRollupFilters(query, args, "", provider)
	query += ` GROUP BY day ORDER BY day ASC`

	var rows []dashboarddomain.DayCost
	if err := s.db.WithContext(ctx).Raw(query, args...).Scan(&rows).Error; err != nil {
		logger.FromContext(ctx).Warn("rollup by-day query failed", zap.Error(err))
		return nil
	}
	return rows
}

func (s *Service) rollupByService(ctx context.Context, w dashboarddomain.Window, owner, provider string) []usagedomain.ServiceCost {
	if !w.HasHistory() {
		return nil
	}
	query := `SELECT provider, service, COALESCE(SUM(cost_usd), 0) AS cost_usd, COALESCE(SUM(events), 0) AS events
		FROM daily_rollups
		WHERE day >= ? AND day <= ?`
	args := []any{w.HistoricalStartDay, w.HistoricalEndDay}
	query, args = appendRollupFilters(query, args, owner, provider)
	query += ` GROUP BY provider, service`

	var rows []usagedomain.ServiceCost
	if err := s.db.WithContext(ctx).Raw(query, args...).Scan(&rows).Error; err != nil {
		logger.FromContext(ctx).Warn("rollup by-service query failed", zap.Error(err))
		return nil
	}
	return rows
}

func (s *Service) rollupBySubject(ctx context.Context, w dashboarddomain.Window, owner, provider string) []usagedomain.SubjectCost {
	if !w.HasHistory() {
		return nil
	}
	query := `SELECT subject_user_id, COALESCE(SUM(cost_usd), 0) AS cost_usd, COALESCE(SUM(events), 0) AS events
		FROM daily_rollups
		WHERE day >= ? AND day <= ?`
	args := []any{w.HistoricalStartDay, w.HistoricalEndDay}
	query, args = appendRollupFilters(query, args, owner, provider)
	query += ` GROUP BY subject_user_id`

	var rows []usagedomain.SubjectCost
	if err := s.db.WithContext(ctx).Raw(query, args...).Scan(&rows).Error; err != nil {
		logger.FromContext(ctx).Warn("rollup by-subject query failed", zap.Error(err))
		return nil
	}
	return rows
}

func (s *Service) rollupSubjects(ctx context.Context, w dashboarddomain.Window, provider string) []string {
	if !w.HasHistory() {
		return nil
	}
	query := `SELECT DISTINCT subject_user_id
		FROM daily_rollups
		WHERE day >= ? AND day <= ? AND subject_user_id <> ''`
	args := []any{w.HistoricalStartDay, w.HistoricalEndDay}
	query, args = appendRollupFilters(query, args, "", provider)

	var subjects []string
	if err := s.db.WithContext(ctx).Raw(query, args...).Scan(&subjects).Error; err != nil {
		logger.FromContext(ctx).Warn("rollup subjects query failed", zap.Error(err))
		return nil
	}
	return subjects
}

func (s *Service) liveTotals(ctx context.Context, w dashboarddomain.Window, owner, provider string) usagedomain.RangeTotals {
	totals, err := s.usageRepo.SumRange(ctx, usagedomain.RangeFilter{
		BillingOwnerID: owner,
		Provider:       provider,
		Start:          w.TodayStart,
		End:            w.Now,
	})
	if err != nil {
		logger.FromContext(ctx).Warn("live totals query failed", zap.Error(err))
		return usagedomain.RangeTotals{}
	}
	return totals
}

func (s *Service) liveByService(ctx context.Context, w dashboarddomain.Window, owner, provider string) []usagedomain.ServiceCost {
	rows, err := s.usageRepo.SumRangeByService(ctx, usagedomain.RangeFilter{
		BillingOwnerID: owner,
		Provider:       provider,
		Start:          w.TodayStart,
		End:            w.Now,
	})
	if err != nil {
		logger.FromContext(ctx).Warn("live by-service query failed", zap.Error(err))
		return nil
	}
	return rows
}

func (s *Service) liveBySubject(ctx context.Context, w dashboarddomain.Window, owner, provider string) []usagedomain.SubjectCost {
	rows, err := s.usageRepo.SumRangeBySubject(ctx, usagedomain.RangeFilter{
		BillingOwnerID: owner,
		Provider:       provider,
		Start:          w.TodayStart,
		End:            w.Now,
	})
	if err != nil {
		logger.FromContext(ctx).Warn("live by-subject query failed", zap.Error(err))
		return nil
	}
	return rows
}

func (s *Service) liveSubjects(ctx context.Context, w dashboarddomain.Window, owner, provider string) []string {
	subjects, err := s.usageRepo.DistinctSubjects(ctx, usagedomain.RangeFilter{
		BillingOwnerID: owner,
		Provider:       provider,
		Start:          w.TodayStart,
		End:            w.Now,
	})
	if err != nil {
		logger.FromContext(ctx).Warn("live subjects query failed", zap.Error(err))
		return nil
	}
	return subjects
}

type serviceKey struct {
	provider string
	service  string
}

func (s *Service) mergedByService(ctx context.Context, w dashboarddomain.Window, owner, provider string) []usagedomain.ServiceCost {
	merged := make(map[serviceKey]*usagedomain.ServiceCost)
	for _, row := range s.rollupByService(ctx, w, owner, provider) {
		addServiceCost(merged, row)
	}
	for _, row := range s.liveByService(ctx, w, owner, provider) {
		addServiceCost(merged, row)
	}

	out := make([]usagedomain.ServiceCost, 0, len(merged))
	for _, row := range merged {
		row.CostUSD = round6(row.CostUSD)
		out = append(out, *row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CostUSD > out[j].CostUSD })
	return out
}

func addServiceCost(merged map[serviceKey]*usagedomain.ServiceCost, row usagedomain.ServiceCost) {
	key := serviceKey{provider: row.Provider, service: row.Service}
	if existing, ok := merged[key]; ok {
		existing.CostUSD += row.CostUSD
		existing.Events += row.Events
		return
	}
	copied := row
	merged[key] = &copied
}

func addDimension(dims map[string]dashboarddomain.DimensionTotals, key string, cost float64, events int64) {
	totals := dims[key]
	totals.CostUSD = round6(totals.CostUSD + cost)
	totals.Events += events
	dims[key] = totals
}

func appendRollupFilters(query string, args []any, owner, provider string) (string, []any) {
	if owner != "" {
		query += " AND billing_owner_id = ?"
		args = append(args, owner)
	}
	if provider != "" {
		query += " AND provider = ?"
		args = append(args, provider)
	}
	return query, args
}

// round6 trims float drift from additive merges to six decimals.
func round6(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}
