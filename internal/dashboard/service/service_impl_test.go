package service

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
	usagedomain "github.com/platewise/platewise/internal/usage/domain"
	usagerepo "github.com/platewise/platewise/internal/usage/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var testDBSeq int

type dashboardFixture struct {
	db     *gorm.DB
	svc    dashboarddomain.Service
	rollup *rollup.Service
	node   *snowflake.Node
	clock  *clock.FakeClock
}

func setupDashboard(t *testing.T, now time.Time) *dashboardFixture {
	t.Helper()

	testDBSeq++
	dsn := fmt.Sprintf("file:dashboard_%d?mode=memory&cache=shared", testDBSeq)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(&usagedomain.UsageEvent{}, &dashboarddomain.DailyRollup{}))

	node, err := snowflake.NewNode(3)
	require.NoError(t, err)

	fakeClock := clock.NewFakeClock(now)
	log := zap.NewNop()

	return &dashboardFixture{
		db: db,
		svc: NewService(Params{
			DB:        db,
			Log:       log,
			Clock:     fakeClock,
			UsageRepo: usagerepo.Provide(db),
		}),
		rollup: rollup.NewService(rollup.Params{
			DB:    db,
			Log:   log,
			GenID: node,
			Clock: fakeClock,
		}),
		node:  node,
		clock: fakeClock,
	}
}

func (f *dashboardFixture) seed(t *testing.T, at time.Time, owner, actor, subject, provider, service string, cost float64) {
	t.Helper()
	require.NoError(t, f.db.Create(&usagedomain.UsageEvent{
		ID:             f.node.Generate(),
		Timestamp:      at,
		ActorUserID:    actor,
		BillingOwnerID: owner,
		SubjectUserID:  subject,
		Mode:           "family",
		Provider:       provider,
		Service:        service,
		Units:          1,
		CostUSD:        cost,
		CreatedAt:      at,
	}).Error)
}

func (f *dashboardFixture) rollupDay(t *testing.T, day time.Time) {
	t.Helper()
	_, err := f.rollup.RunDaily(context.Background(), day)
	require.NoError(t, err)
}

func TestSummary_MergesRollupsWithToday(t *testing.T) {
	now := time.Date(2026, 2, 10, 14, 0, 0, 0, time.UTC)
	yesterday := time.Date(2026, 2, 9, 0, 0, 0, 0, time.UTC)
	f := setupDashboard(t, now)

	f.seed(t, yesterday.Add(9*time.Hour), "own_1", "usr_1", "mem_1", "openai", "openai_scan_vision", 0.01)
	f.seed(t, yesterday.Add(10*time.Hour), "own_1", "usr_1", "mem_1", "openai", "openai_coach_chat", 0.02)
	f.rollupDay(t, yesterday)

	f.seed(t, now.Add(-time.Hour), "own_1", "usr_1", "mem_2", "openai", "openai_scan_vision", 0.04)

	resp, err := f.svc.Summary(context.Background(), 7, "")
	require.NoError(t, err)
	assert.Equal(t, 7, resp.Days)
	assert.InDelta(t, 0.03, resp.TotalRollupUSD, 1e-9)
	assert.InDelta(t, 0.04, resp.TodaySoFarUSD, 1e-9)
	assert.InDelta(t, 0.07, resp.TotalUSD, 1e-9)
	assert.Equal(t, int64(3), resp.TotalEvents)

	require.Len(t, resp.ByService, 2)
	assert.Equal(t, "openai_scan_vision", resp.ByService[0].Service)
	assert.InDelta(t, 0.05, resp.ByService[0].CostUSD, 1e-9)
	assert.Equal(t, "openai_coach_chat", resp.ByService[1].Service)
	assert.InDelta(t, 0.02, resp.ByService[1].CostUSD, 1e-9)
}

func TestSummary_TotalsAreAdditive(t *testing.T) {
	now := time.Date(2026, 2, 10, 14, 0, 0, 0, time.UTC)
	f := setupDashboard(t, now)

	for d := 1; d <= 3; d++ {
		day := now.AddDate(0, 0, -d).Truncate(24 * time.Hour)
		f.seed(t, day.Add(time.Hour), "own_1", "usr_1", "mem_1", "openai", "openai_coach_chat", 0.01)
		f.rollupDay(t, day)
	}
	f.seed(t, now.Add(-time.Minute), "own_1", "usr_1", "mem_1", "openai", "openai_coach_chat", 0.005)

	resp, err := f.svc.Summary(context.Background(), 7, "all")
	require.NoError(t, err)
	assert.InDelta(t, resp.TotalRollupUSD+resp.TodaySoFarUSD, resp.TotalUSD, 1e-9)
	assert.InDelta(t, 0.035, resp.TotalUSD, 1e-9)
}

func TestSummary_NoDoubleCountAfterLateEvent(t *testing.T) {
	now := time.Date(2026, 2, 10, 14, 0, 0, 0, time.UTC)
	yesterday := time.Date(2026, 2, 9, 0, 0, 0, 0, time.UTC)
	f := setupDashboard(t, now)

	f.seed(t, yesterday.Add(time.Hour), "own_1", "usr_1", "mem_1", "openai", "openai_coach_chat", 0.01)
	f.rollupDay(t, yesterday)

	// A late event for the rolled-up day is invisible to historical
	// queries until the day is rolled up again. It must not be counted
	// in the live window either.
	f.seed(t, yesterday.Add(2*time.Hour), "own_1", "usr_1", "mem_1", "openai", "openai_coach_chat", 0.02)

	resp, err := f.svc.Summary(context.Background(), 7, "")
	require.NoError(t, err)
	assert.InDelta(t, 0.01, resp.TotalUSD, 1e-9)
	assert.InDelta(t, 0.0, resp.TodaySoFarUSD, 1e-9)

	f.rollupDay(t, yesterday)
	resp, err = f.svc.Summary(context.Background(), 7, "")
	require.NoError(t, err)
	assert.InDelta(t, 0.03, resp.TotalUSD, 1e-9)
}

func TestSummary_ProviderFilter(t *testing.T) {
	now := time.Date(2026, 2, 10, 14, 0, 0, 0, time.UTC)
	yesterday := time.Date(2026, 2, 9, 0, 0, 0, 0, time.UTC)
	f := setupDashboard(t, now)

	f.seed(t, yesterday.Add(time.Hour), "own_1", "usr_1", "mem_1", "openai", "openai_coach_chat", 0.01)
	f.seed(t, yesterday.Add(2*time.Hour), "own_1", "usr_1", "mem_1", "google", "google_geocode", 0.005)
	f.rollupDay(t, yesterday)
	f.seed(t, now.Add(-time.Hour), "own_1", "usr_1", "mem_1", "google", "google_places_details", 0.017)

	resp, err := f.svc.Summary(context.Background(), 7, "google")
	require.NoError(t, err)
	assert.Equal(t, "google", resp.Provider)
	assert.InDelta(t, 0.022, resp.TotalUSD, 1e-9)
	assert.Equal(t, int64(2), resp.TotalEvents)
}

func TestCostPerActiveUser_SetUnion(t *testing.T) {
	now := time.Date(2026, 2, 10, 14, 0, 0, 0, time.UTC)
	yesterday := time.Date(2026, 2, 9, 0, 0, 0, 0, time.UTC)
	f := setupDashboard(t, now)

	f.seed(t, yesterday.Add(time.Hour), "own_1", "usr_1", "mem_1", "openai", "openai_coach_chat", 0.02)
	f.seed(t, yesterday.Add(2*time.Hour), "own_1", "usr_1", "mem_2", "openai", "openai_coach_chat", 0.02)
	f.rollupDay(t, yesterday)

	// mem_1 is active in both windows and must count once; events with
	// no subject never count as an active user.
	f.seed(t, now.Add(-time.Hour), "own_1", "usr_1", "mem_1", "openai", "openai_coach_chat", 0.02)
	f.seed(t, now.Add(-30*time.Minute), "own_1", "usr_1", "", "google", "google_geocode", 0.005)

	resp, err := f.svc.CostPerActiveUser(context.Background(), 7, "")
	require.NoError(t, err)
	assert.Equal(t, 2, resp.ActiveUsers)
	assert.InDelta(t, 0.065, resp.TotalUSD, 1e-9)
	assert.InDelta(t, 0.0325, resp.CostPerActiveUserUSD, 1e-9)
}

func TestCostPerActiveUser_NoUsers(t *testing.T) {
	now := time.Date(2026, 2, 10, 14, 0, 0, 0, time.UTC)
	f := setupDashboard(t, now)

	resp, err := f.svc.CostPerActiveUser(context.Background(), 7, "")
	require.NoError(t, err)
	assert.Equal(t, 0, resp.ActiveUsers)
	assert.Zero(t, resp.CostPerActiveUserUSD)
}

func TestByDay_IncludesLiveToday(t *testing.T) {
	now := time.Date(2026, 2, 10, 14, 0, 0, 0, time.UTC)
	f := setupDashboard(t, now)

	for d := 2; d >= 1; d-- {
		day := now.AddDate(0, 0, -d).Truncate(24 * time.Hour)
		f.seed(t, day.Add(time.Hour), "own_1", "usr_1", "mem_1", "openai", "openai_coach_chat", float64(d)*0.01)
		f.rollupDay(t, day)
	}
	f.seed(t, now.Add(-time.Hour), "own_1", "usr_1", "mem_1", "openai", "openai_coach_chat", 0.005)

	resp, err := f.svc.ByDay(context.Background(), 7, "")
	require.NoError(t, err)
	require.Len(t, resp.Series, 3)
	assert.Equal(t, "2026-02-08", resp.Series[0].Day)
	assert.InDelta(t, 0.02, resp.Series[0].CostUSD, 1e-9)
	assert.Equal(t, "2026-02-09", resp.Series[1].Day)
	assert.InDelta(t, 0.01, resp.Series[1].CostUSD, 1e-9)
	assert.Equal(t, "2026-02-10", resp.Series[2].Day)
	assert.InDelta(t, 0.005, resp.Series[2].CostUSD, 1e-9)
}

func TestByDay_TodayOnlyWindow(t *testing.T) {
	now := time.Date(2026, 2, 10, 14, 0, 0, 0, time.UTC)
	f := setupDashboard(t, now)

	f.seed(t, now.Add(-time.Hour), "own_1", "usr_1", "mem_1", "openai", "openai_coach_chat", 0.01)

	resp, err := f.svc.ByDay(context.Background(), 1, "")
	require.NoError(t, err)
	require.Len(t, resp.Series, 1)
	assert.Equal(t, "2026-02-10", resp.Series[0].Day)
	assert.Equal(t, int64(1), resp.Series[0].Events)
}

func TestGroupUsage_BreaksDownBySubjectAndService(t *testing.T) {
	now := time.Date(2026, 2, 10, 14, 0, 0, 0, time.UTC)
	yesterday := time.Date(2026, 2, 9, 0, 0, 0, 0, time.UTC)
	f := setupDashboard(t, now)

	f.seed(t, yesterday.Add(time.Hour), "own_1", "usr_1", "mem_1", "openai", "openai_scan_vision", 0.01)
	f.seed(t, yesterday.Add(2*time.Hour), "own_1", "usr_1", "mem_2", "openai", "openai_coach_chat", 0.02)
	f.seed(t, yesterday.Add(3*time.Hour), "own_other", "usr_9", "mem_9", "openai", "openai_coach_chat", 0.99)
	f.rollupDay(t, yesterday)

	f.seed(t, now.Add(-time.Hour), "own_1", "usr_1", "mem_1", "openai", "openai_scan_vision", 0.04)

	resp, err := f.svc.GroupUsage(context.Background(), "own_1", 7, "")
	require.NoError(t, err)
	assert.Equal(t, "own_1", resp.BillingOwnerID)
	assert.InDelta(t, 0.07, resp.TotalCostUSD, 1e-9)
	assert.InDelta(t, 0.04, resp.TodaySoFarUSD, 1e-9)

	require.Len(t, resp.BySubjectUserID, 2)
	assert.InDelta(t, 0.05, resp.BySubjectUserID["mem_1"].CostUSD, 1e-9)
	assert.Equal(t, int64(2), resp.BySubjectUserID["mem_1"].Events)
	assert.InDelta(t, 0.02, resp.BySubjectUserID["mem_2"].CostUSD, 1e-9)

	require.Len(t, resp.ByService, 2)
	assert.InDelta(t, 0.05, resp.ByService["openai_scan_vision"].CostUSD, 1e-9)
	assert.InDelta(t, 0.02, resp.ByService["openai_coach_chat"].CostUSD, 1e-9)
}

func TestGroupUsage_RequiresOwner(t *testing.T) {
	f := setupDashboard(t, time.Date(2026, 2, 10, 14, 0, 0, 0, time.UTC))

	_, err := f.svc.GroupUsage(context.Background(), "  ", 7, "")
	assert.ErrorIs(t, err, dashboarddomain.ErrInvalidOwner)
}

func TestQueries_DegradeOnMissingTables(t *testing.T) {
	now := time.Date(2026, 2, 10, 14, 0, 0, 0, time.UTC)
	f := setupDashboard(t, now)

	require.NoError(t, f.db.Exec("DROP TABLE daily_rollups").Error)
	require.NoError(t, f.db.Exec("DROP TABLE usage_events").Error)

	resp, err := f.svc.Summary(context.Background(), 7, "")
	require.NoError(t, err)
	assert.Zero(t, resp.TotalUSD)
	assert.Zero(t, resp.TotalEvents)
	assert.Empty(t, resp.ByService)

	cpu, err := f.svc.CostPerActiveUser(context.Background(), 7, "")
	require.NoError(t, err)
	assert.Zero(t, cpu.ActiveUsers)
}

func TestSummary_CountsEventAtQueryInstant(t *testing.T) {
	now := time.Date(2026, 2, 10, 14, 0, 0, 0, time.UTC)
	f := setupDashboard(t, now)

	f.seed(t, now, "own_1", "usr_1", "mem_1", "openai", "openai_scan_vision", 0.0025)

	resp, err := f.svc.Summary(context.Background(), 7, "")
	require.NoError(t, err)
	assert.InDelta(t, 0.0025, resp.TodaySoFarUSD, 1e-9)
	assert.InDelta(t, 0.0025, resp.TotalUSD, 1e-9)
	assert.Equal(t, int64(1), resp.TotalEvents)
}

func TestSummary_ByServiceKeepsProvidersDistinct(t *testing.T) {
	now := time.Date(2026, 2, 10, 14, 0, 0, 0, time.UTC)
	yesterday := time.Date(2026, 2, 9, 0, 0, 0, 0, time.UTC)
	f := setupDashboard(t, now)

	f.seed(t, yesterday.Add(9*time.Hour), "own_1", "usr_1", "mem_1", "openai", "lookup", 0.01)
	f.seed(t, yesterday.Add(10*time.Hour), "own_1", "usr_1", "mem_1", "google", "lookup", 0.02)
	f.rollupDay(t, yesterday)

	f.seed(t, now.Add(-time.Hour), "own_1", "usr_1", "mem_1", "google", "lookup", 0.005)

	resp, err := f.svc.Summary(context.Background(), 7, "all")
	require.NoError(t, err)

	require.Len(t, resp.ByService, 2)
	assert.Equal(t, "google", resp.ByService[0].Provider)
	assert.Equal(t, "lookup", resp.ByService[0].Service)
	assert.InDelta(t, 0.025, resp.ByService[0].CostUSD, 1e-9)
	assert.Equal(t, int64(2), resp.ByService[0].Events)
	assert.Equal(t, "openai", resp.ByService[1].Provider)
	assert.InDelta(t, 0.01, resp.ByService[1].CostUSD, 1e-9)
}
