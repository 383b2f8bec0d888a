package rollup

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/platewise/platewise/internal/clock"
	dashboarddomain "github.com/platewise/platewise/internal/dashboard/domain"
	obsmetrics "github.com/platewise/platewise/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

// Service folds raw usage events into daily rollup rows.
type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) *Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("dashboard.rollup"),
		genID:      p.GenID,
		clock:      p.Clock,
		obsMetrics: p.ObsMetrics,
	}
}

// Result reports what one rollup run wrote.
type Result struct {
	Day  string `json:"day"`
	Rows int    `json:"rows"`
}

type aggregateRow struct {
	BillingOwnerID string  `gorm:"column:billing_owner_id"`
	ActorUserID    string  `gorm:"column:actor_user_id"`
	SubjectUserID  string  `gorm:"column:subject_user_id"`
	Provider       string  `gorm:"column:provider"`
	Service        string  `gorm:"column:service"`
	Events         int64   `gorm:"column:events"`
	Units          int64   `gorm:"column:units"`
	CostUSD        float64 `gorm:"column:cost_usd"`
}

// RunDaily rebuilds the rollup rows for one UTC day. A zero day defaults
// to yesterday, since the running day is always incomplete. The delete
// and reinsert happen in one transaction, so readers never observe a
// half-built day, and reruns are idempotent.
func (s *Service) RunDaily(ctx context.Context, day time.Time) (Result, error) {
	if day.IsZero() {
		day = s.clock.Now().AddDate(0, 0, -1)
	}
	dayStart := dashboarddomain.DayStart(day)
	dayEnd := dayStart.AddDate(0, 0, 1)
	dayKey := dashboarddomain.DayKey(dayStart)

	var rows []aggregateRow
	if err := s.db.WithContext(ctx).Raw(
		`SELECT billing_owner_id,
		        actor_user_id,
		        COALESCE(subject_user_id, '') AS subject_user_id,
		        provider,
		        service,
		        COUNT(1) AS events,
		        COALESCE(SUM(units), 0) AS units,
		        COALESCE(SUM(cost_usd), 0) AS cost_usd
		 FROM usage_events
		 WHERE timestamp >= ? AND timestamp < ?
		 GROUP BY billing_owner_id, actor_user_id, COALESCE(subject_user_id, ''), provider, service`,
		dayStart,
		dayEnd,
	).Scan(&rows).Error; err != nil {
		return Result{}, err
	}

	now := s.clock.Now()
	rollups := make([]dashboarddomain.DailyRollup, 0, len(rows))
	for _, row := range rows {
		rollups = append(rollups, dashboarddomain.DailyRollup{
			ID:             s.genID.Generate(),
			Day:            dayKey,
			BillingOwnerID: row.BillingOwnerID,
			ActorUserID:    row.ActorUserID,
			SubjectUserID:  row.SubjectUserID,
			Provider:       row.Provider,
			Service:        row.Service,
			Events:         row.Events,
			Units:          row.Units,
			CostUSD:        row.CostUSD,
			CreatedAt:      now,
		})
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec(`DELETE FROM daily_rollups WHERE day = ?`, dayKey).Error; err != nil {
			return err
		}
		if len(rollups) == 0 {
			return nil
		}
		return tx.Create(&rollups).Error
	})
	if err != nil {
		return Result{}, err
	}

	if s.obsMetrics != nil {
		s.obsMetrics.RecordRollupRows(ctx, len(rollups))
	}
	s.log.Info("daily rollup complete",
		zap.String("day", dayKey),
		zap.Int("rows", len(rollups)),
	)

	return Result{Day: dayKey, Rows: len(rollups)}, nil
}
