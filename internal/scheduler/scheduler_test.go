package scheduler

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/platewise/platewise/internal/clock"
	dashboarddomain "github.com/platewise/platewise/internal/dashboard/domain"
	"github.com/platewise/platewise/internal/dashboard/rollup"
	obsmetrics "github.com/platewise/platewise/internal/observability/metrics"
	usagedomain "github.com/platewise/platewise/internal/usage/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var testDBSeq int

func setupScheduler(t *testing.T, now time.Time, cfg Config) (*gorm.DB, *Scheduler, *snowflake.Node) {
	t.Helper()
	obsmetrics.ResetSchedulerMetricsForTest()

	testDBSeq++
	dsn := fmt.Sprintf("file:scheduler_%d?mode=memory&cache=shared", testDBSeq)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&usagedomain.UsageEvent{}, &dashboarddomain.DailyRollup{}))

	node, err := snowflake.NewNode(4)
	require.NoError(t, err)

	fakeClock := clock.NewFakeClock(now)
	rollupSvc := rollup.NewService(rollup.Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: fakeClock,
	})

	sched, err := New(Params{
		Log:       zap.NewNop(),
		RollupSvc: rollupSvc,
		Clock:     fakeClock,
		Config:    cfg,
	})
	require.NoError(t, err)
	return db, sched, node
}

func seedEvent(t *testing.T, db *gorm.DB, node *snowflake.Node, at time.Time, cost float64) {
	t.Helper()
	require.NoError(t, db.Create(&usagedomain.UsageEvent{
		ID:             node.Generate(),
		Timestamp:      at,
		ActorUserID:    "usr_1",
		BillingOwnerID: "own_1",
		SubjectUserID:  "mem_1",
		Mode:           "family",
		Provider:       "openai",
		Service:        "openai_coach_chat",
		Units:          1,
		CostUSD:        cost,
		CreatedAt:      at,
	}).Error)
}

func TestNew_RequiresDependencies(t *testing.T) {
	_, err := New(Params{})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestRunOnce_RollsUpCompletedDays(t *testing.T) {
	now := time.Date(2026, 2, 10, 6, 0, 0, 0, time.UTC)
	db, sched, node := setupScheduler(t, now, Config{CatchUpDays: 2})

	seedEvent(t, db, node, time.Date(2026, 2, 9, 12, 0, 0, 0, time.UTC), 0.01)
	seedEvent(t, db, node, time.Date(2026, 2, 8, 12, 0, 0, 0, time.UTC), 0.02)
	// Today's events are left for the live query path.
	seedEvent(t, db, node, now.Add(-time.Hour), 0.04)

	require.NoError(t, sched.RunOnce(context.Background()))

	var days []string
	require.NoError(t, db.Raw("SELECT DISTINCT day FROM daily_rollups ORDER BY day").Scan(&days).Error)
	assert.Equal(t, []string{"2026-02-08", "2026-02-09"}, days)
}

func TestRunOnce_LaterSweepPicksUpLateEvents(t *testing.T) {
	now := time.Date(2026, 2, 10, 6, 0, 0, 0, time.UTC)
	db, sched, node := setupScheduler(t, now, Config{CatchUpDays: 2})

	seedEvent(t, db, node, time.Date(2026, 2, 9, 12, 0, 0, 0, time.UTC), 0.01)
	require.NoError(t, sched.RunOnce(context.Background()))

	seedEvent(t, db, node, time.Date(2026, 2, 9, 23, 0, 0, 0, time.UTC), 0.02)
	require.NoError(t, sched.RunOnce(context.Background()))

	var cost float64
	require.NoError(t, db.Raw("SELECT COALESCE(SUM(cost_usd), 0) FROM daily_rollups WHERE day = ?", "2026-02-09").Scan(&cost).Error)
	assert.InDelta(t, 0.03, cost, 1e-9)
}

func TestRunOnce_SurfacesJobErrors(t *testing.T) {
	now := time.Date(2026, 2, 10, 6, 0, 0, 0, time.UTC)
	db, sched, _ := setupScheduler(t, now, Config{CatchUpDays: 1})

	require.NoError(t, db.Exec("DROP TABLE daily_rollups").Error)

	err := sched.RunOnce(context.Background())
	assert.Error(t, err)
}

func TestRunForever_StopsOnContextCancel(t *testing.T) {
	now := time.Date(2026, 2, 10, 6, 0, 0, 0, time.UTC)
	_, sched, _ := setupScheduler(t, now, Config{RunInterval: 10 * time.Millisecond, CatchUpDays: 1})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sched.RunForever(ctx)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop after cancel")
	}
}
