package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/platewise/platewise/internal/clock"
	"github.com/platewise/platewise/internal/config"
	dashboarddomain "github.com/platewise/platewise/internal/dashboard/domain"
	"github.com/platewise/platewise/internal/dashboard/rollup"
	dashboardservice "github.com/platewise/platewise/internal/dashboard/service"
	"github.com/platewise/platewise/internal/pricing"
	usagedomain "github.com/platewise/platewise/internal/usage/domain"
	usagerepo "github.com/platewise/platewise/internal/usage/repository"
	usageservice "github.com/platewise/platewise/internal/usage/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var testDBSeq int

type serverFixture struct {
	server *Server
	db     *gorm.DB
	clock  *clock.FakeClock
}

func newTestServer(t *testing.T, now time.Time) *serverFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	testDBSeq++
	dsn := fmt.Sprintf("file:server_%d?mode=memory&cache=shared", testDBSeq)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&usagedomain.UsageEvent{}, &dashboarddomain.DailyRollup{}))

	node, err := snowflake.NewNode(5)
	require.NoError(t, err)

	fakeClock := clock.NewFakeClock(now)
	log := zap.NewNop()
	repo := usagerepo.Provide(db)

	holder, err := pricing.NewStaticRateTableHolder(pricing.RateTable{
		Versions: []pricing.RateVersion{{
			Version:       "2026-01",
			EffectiveFrom: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
			Rates: []pricing.Rate{
				{Provider: "openai", Service: "openai_scan_vision", InputPerMillion: 2.5, OutputPerMillion: 10},
				{Provider: "google", Service: "google_geocode", PerCallUSD: 0.005},
			},
		}},
	})
	require.NoError(t, err)

	usageSvc := usageservice.NewService(usageservice.ServiceParam{
		Log:     log,
		GenID:   node,
		Clock:   fakeClock,
		Repo:    repo,
		Pricing: pricing.NewCalculator(holder, nil),
	})
	dashboardSvc := dashboardservice.NewService(dashboardservice.Params{
		DB:        db,
		Log:       log,
		Clock:     fakeClock,
		UsageRepo: repo,
	})
	rollupSvc := rollup.NewService(rollup.Params{
		DB:    db,
		Log:   log,
		GenID: node,
		Clock: fakeClock,
	})

	engine := gin.New()
	engine.Use(ErrorHandlingMiddleware())

	srv := NewServer(ServerParams{
		Gin:          engine,
		Cfg:          config.Config{},
		DB:           db,
		Clock:        fakeClock,
		UsageSvc:     usageSvc,
		DashboardSvc: dashboardSvc,
		RollupSvc:    rollupSvc,
	})
	registerRoutes(srv)

	return &serverFixture{server: srv, db: db, clock: fakeClock}
}

func (f *serverFixture) do(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	rec := httptest.NewRecorder()
	f.server.Engine().ServeHTTP(rec, req)
	return rec
}

func identityHeaders() map[string]string {
	return map[string]string{
		HeaderActorUserID:    "usr_1",
		HeaderBillingOwnerID: "own_1",
		HeaderAccountMode:    "family",
	}
}

func TestEmitUsage_PersistsAndPrices(t *testing.T) {
	now := time.Date(2026, 2, 10, 14, 0, 0, 0, time.UTC)
	f := newTestServer(t, now)

	rec := f.do(t, http.MethodPost, "/v1/usage/events", map[string]any{
		"provider":        "openai",
		"service":         "openai_scan_vision",
		"subject_user_id": "mem_1",
		"input_tokens":    1000,
		"output_tokens":   200,
	}, identityHeaders())
	require.Equal(t, http.StatusCreated, rec.Code)

	var event usagedomain.UsageEvent
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &event))
	assert.Equal(t, "own_1", event.BillingOwnerID)
	assert.Equal(t, "usr_1", event.ActorUserID)
	assert.InDelta(t, 0.0045, event.CostUSD, 1e-9)

	var count int64
	require.NoError(t, f.db.Model(&usagedomain.UsageEvent{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestEmitUsage_RequiresIdentityHeaders(t *testing.T) {
	f := newTestServer(t, time.Date(2026, 2, 10, 14, 0, 0, 0, time.UTC))

	rec := f.do(t, http.MethodPost, "/v1/usage/events", map[string]any{
		"provider": "openai",
		"service":  "openai_scan_vision",
	}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestEmitUsage_MissingOwnerBillsToActor(t *testing.T) {
	f := newTestServer(t, time.Date(2026, 2, 10, 14, 0, 0, 0, time.UTC))

	rec := f.do(t, http.MethodPost, "/v1/usage/events", map[string]any{
		"provider": "google",
		"service":  "google_geocode",
	}, map[string]string{HeaderActorUserID: "usr_9"})
	require.Equal(t, http.StatusCreated, rec.Code)

	var event usagedomain.UsageEvent
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &event))
	assert.Equal(t, "usr_9", event.BillingOwnerID)
	assert.InDelta(t, 0.005, event.CostUSD, 1e-9)
}

func TestEmitUsage_RejectsInvalidBody(t *testing.T) {
	f := newTestServer(t, time.Date(2026, 2, 10, 14, 0, 0, 0, time.UTC))

	rec := f.do(t, http.MethodPost, "/v1/usage/events", map[string]any{
		"provider": "openai",
	}, identityHeaders())
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListUsage_ReturnsOwnEventsOnly(t *testing.T) {
	now := time.Date(2026, 2, 10, 14, 0, 0, 0, time.UTC)
	f := newTestServer(t, now)

	for _, owner := range []string{"own_1", "own_1", "own_2"} {
		rec := f.do(t, http.MethodPost, "/v1/usage/events", map[string]any{
			"provider": "google",
			"service":  "google_geocode",
		}, map[string]string{HeaderActorUserID: "usr_1", HeaderBillingOwnerID: owner})
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec := f.do(t, http.MethodGet, "/v1/usage/events?limit=10", nil, identityHeaders())
	require.Equal(t, http.StatusOK, rec.Code)

	var payload struct {
		Events []usagedomain.UsageEvent `json:"events"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	require.Len(t, payload.Events, 2)
	for _, event := range payload.Events {
		assert.Equal(t, "own_1", event.BillingOwnerID)
	}
}

func TestDashboardSummary_EndToEnd(t *testing.T) {
	now := time.Date(2026, 2, 10, 14, 0, 0, 0, time.UTC)
	f := newTestServer(t, now)

	rec := f.do(t, http.MethodPost, "/v1/usage/events", map[string]any{
		"provider":     "openai",
		"service":      "openai_scan_vision",
		"input_tokens": 1000,
	}, identityHeaders())
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = f.do(t, http.MethodGet, "/v1/dashboard/summary?days=7", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp dashboarddomain.SummaryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 7, resp.Days)
	assert.InDelta(t, 0.0025, resp.TodaySoFarUSD, 1e-9)
	assert.InDelta(t, 0.0025, resp.TotalUSD, 1e-9)
}

func TestDashboard_RejectsInvalidDays(t *testing.T) {
	f := newTestServer(t, time.Date(2026, 2, 10, 14, 0, 0, 0, time.UTC))

	for _, path := range []string{
		"/v1/dashboard/summary?days=zero",
		"/v1/dashboard/cost-per-active-user?days=-1",
		"/v1/dashboard/by-day?days=0",
	} {
		rec := f.do(t, http.MethodGet, path, nil, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, path)
	}
}

func TestGroupUsage_UnknownOwnerReturnsZeroes(t *testing.T) {
	f := newTestServer(t, time.Date(2026, 2, 10, 14, 0, 0, 0, time.UTC))

	rec := f.do(t, http.MethodGet, "/v1/dashboard/groups/own_missing/usage", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp dashboarddomain.GroupUsageResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Zero(t, resp.TotalCostUSD)
}

func TestRunRollup_RebuildsRequestedDay(t *testing.T) {
	now := time.Date(2026, 2, 10, 14, 0, 0, 0, time.UTC)
	f := newTestServer(t, now)

	yesterday := time.Date(2026, 2, 9, 11, 0, 0, 0, time.UTC)
	require.NoError(t, f.db.Create(&usagedomain.UsageEvent{
		ID:             snowflake.ID(1),
		Timestamp:      yesterday,
		ActorUserID:    "usr_1",
		BillingOwnerID: "own_1",
		Mode:           "family",
		Provider:       "openai",
		Service:        "openai_scan_vision",
		Units:          1,
		CostUSD:        0.0032,
		CreatedAt:      yesterday,
	}).Error)

	rec := f.do(t, http.MethodPost, "/v1/admin/rollup/run?day=2026-02-09", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var result rollup.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, "2026-02-09", result.Day)
	assert.Equal(t, 1, result.Rows)
}

func TestRunRollup_RejectsMalformedDay(t *testing.T) {
	f := newTestServer(t, time.Date(2026, 2, 10, 14, 0, 0, 0, time.UTC))

	rec := f.do(t, http.MethodPost, "/v1/admin/rollup/run?day=02-09-2026", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRunRollup_DefaultsToYesterday(t *testing.T) {
	now := time.Date(2026, 2, 10, 14, 0, 0, 0, time.UTC)
	f := newTestServer(t, now)

	rec := f.do(t, http.MethodPost, "/v1/admin/rollup/run", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var result rollup.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, "2026-02-09", result.Day)
	assert.Equal(t, 0, result.Rows)
}

func TestMapError_DuplicateKeyConflicts(t *testing.T) {
	status, payload := mapError(gorm.ErrDuplicatedKey)

	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "conflict", payload.Type)
}
