package service

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/platewise/platewise/internal/billingcontext"
	"github.com/platewise/platewise/internal/clock"
	obscontext "github.com/platewise/platewise/internal/observability/context"
	"github.com/platewise/platewise/internal/observability/logger"
	obsmetrics "github.com/platewise/platewise/internal/observability/metrics"
	"github.com/platewise/platewise/internal/pricing"
	usagedomain "github.com/platewise/platewise/internal/usage/domain"
	"github.com/platewise/platewise/internal/usage/liveevents"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

type ServiceParam struct {
	fx.In

	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Repo       usagedomain.Repository
	Pricing    *pricing.Calculator `optional:"true"`
	Live       *liveevents.Hub     `optional:"true"`
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	repo       usagedomain.Repository
	pricing    *pricing.Calculator
	live       *liveevents.Hub
	obsMetrics *obsmetrics.Metrics
}

func NewService(p ServiceParam) usagedomain.Service {
	return &Service{
		log:        p.Log.Named("usage.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		repo:       p.Repo,
		pricing:    p.Pricing,
		live:       p.Live,
		obsMetrics: p.ObsMetrics,
	}
}

// Emit persists one usage event. The insert is durable before returning;
// a persistence failure surfaces to the producer as the parent request's
// failure, never retried here.
func (s *Service) Emit(ctx context.Context, req usagedomain.EmitRequest) (*usagedomain.UsageEvent, error) {
	identity, ok := billingcontext.IdentityFromContext(ctx)
	if !ok || strings.TrimSpace(identity.ActorUserID) == "" {
		return nil, usagedomain.ErrInvalidIdentity
	}

	provider := strings.ToLower(strings.TrimSpace(req.Provider))
	if provider == "" {
		return nil, usagedomain.ErrInvalidProvider
	}
	service := strings.TrimSpace(req.Service)
	if service == "" {
		return nil, usagedomain.ErrInvalidService
	}
	if err := validateEmit(req); err != nil {
		return nil, err
	}

	units := req.Units
	if units == 0 {
		units = 1
	}

	now := s.clock.Now()
	occurredAt := req.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = now
	}

	unitCost := req.UnitCostUSD
	cost := req.CostUSD
	rateVersion := ""
	if cost == 0 && s.pricing != nil {
		priced := s.pricing.ComputeCost(ctx, provider, service, pricing.Usage{
			InputTokens:  req.InputTokens,
			OutputTokens: req.OutputTokens,
			Units:        units,
		}, occurredAt)
		cost = priced.CostUSD
		unitCost = priced.UnitCostUSD
		rateVersion = priced.RateVersion
	}

	event := &usagedomain.UsageEvent{
		ID:             s.genID.Generate(),
		Timestamp:      occurredAt.UTC(),
		RequestID:      obscontext.RequestIDFromContext(ctx),
		ActorUserID:    identity.ActorUserID,
		BillingOwnerID: identity.BillingOwnerID,
		SubjectUserID:  strings.TrimSpace(req.SubjectUserID),
		Mode:           identity.AccountMode,
		Provider:       provider,
		Service:        service,
		Units:          units,
		UnitCostUSD:    unitCost,
		CostUSD:        cost,
		CreatedAt:      now,
	}
	if req.Metadata != nil {
		event.Metadata = datatypes.JSONMap(req.Metadata)
	}
	if req.InputTokens > 0 || req.OutputTokens > 0 || rateVersion != "" {
		if event.Metadata == nil {
			event.Metadata = datatypes.JSONMap{}
		}
		if req.InputTokens > 0 {
			event.Metadata["input_tokens"] = req.InputTokens
		}
		if req.OutputTokens > 0 {
			event.Metadata["output_tokens"] = req.OutputTokens
		}
		if rateVersion != "" {
			event.Metadata["rate_version"] = rateVersion
		}
	}

	if err := s.repo.Insert(ctx, event); err != nil {
		logger.FromContext(ctx).Error("usage event insert failed",
			zap.Error(err),
			zap.String("provider", provider),
			zap.String("usage_service", service),
		)
		return nil, err
	}

	if s.obsMetrics != nil {
		s.obsMetrics.RecordUsageEvent(ctx, provider, service, event.CostUSD)
	}
	s.live.Publish(liveevents.LiveEvent{
		EventID:       event.ID.String(),
		Timestamp:     event.Timestamp.Format(time.RFC3339),
		Provider:      event.Provider,
		Service:       event.Service,
		SubjectUserID: event.SubjectUserID,
		Units:         event.Units,
		CostUSD:       event.CostUSD,
	})

	return event, nil
}

// Query returns most-recent-first events matching the filter. Errors
// degrade to an empty result so a broken panel never breaks a dashboard.
func (s *Service) Query(ctx context.Context, req usagedomain.QueryRequest) ([]usagedomain.UsageEvent, error) {
	events, err := s.repo.Query(ctx, req)
	if err != nil {
		logger.FromContext(ctx).Warn("usage query failed", zap.Error(err))
		return []usagedomain.UsageEvent{}, nil
	}
	return events, nil
}

func validateEmit(req usagedomain.EmitRequest) error {
	if req.Units < 0 || req.InputTokens < 0 || req.OutputTokens < 0 {
		return usagedomain.ErrInvalidUnits
	}
	if math.IsNaN(req.CostUSD) || math.IsInf(req.CostUSD, 0) || req.CostUSD < 0 {
		return usagedomain.ErrInvalidCost
	}
	if math.IsNaN(req.UnitCostUSD) || math.IsInf(req.UnitCostUSD, 0) || req.UnitCostUSD < 0 {
		return usagedomain.ErrInvalidCost
	}
	return nil
}
