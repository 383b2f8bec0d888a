package pricing

import (
	"context"
	"math"
	"time"

	"github.com/platewise/platewise/internal/observability/logger"
	"github.com/platewise/platewise/internal/observability/metrics"
	"go.uber.org/zap"
)

// Usage describes the metered consumption of one billable call.
type Usage struct {
	InputTokens  int64
	OutputTokens int64
	Units        int64
}

// Cost is the priced result of one billable call.
type Cost struct {
	CostUSD      float64
	UnitCostUSD  float64
	InputTokens  int64
	OutputTokens int64
	TotalTokens  int64
	RateVersion  string
}

// Calculator prices metered usage against the current rate table.
type Calculator struct {
	rates   *RateTableHolder
	metrics *metrics.Metrics
}

// NewCalculator builds a Calculator backed by the given rate table holder.
func NewCalculator(rates *RateTableHolder, m *metrics.Metrics) *Calculator {
	return &Calculator{rates: rates, metrics: m}
}

// ComputeCost prices usage for a provider/service pair as of an instant.
// Unknown pairs price to zero so a pricing gap never blocks the call that
// incurred the usage; the gap is logged and counted instead.
func (c *Calculator) ComputeCost(ctx context.Context, provider, service string, usage Usage, at time.Time) Cost {
	if at.IsZero() {
		at = time.Now().UTC()
	}

	rate, version, ok := c.rates.Get().Resolve(provider, service, at)
	if !ok {
		logger.FromContext(ctx).Warn("pricing gap",
			zap.String("provider", provider),
			zap.String("usage_service", service),
		)
		if c.metrics != nil {
			c.metrics.RecordPricingGap(ctx, provider, service)
		}
		return Cost{}
	}

	if rate.PerCallUSD > 0 {
		units := usage.Units
		if units <= 0 {
			units = 1
		}
		return Cost{
			CostUSD:     roundUSD(rate.PerCallUSD * float64(units)),
			UnitCostUSD: rate.PerCallUSD,
			RateVersion: version,
		}
	}

	input := usage.InputTokens
	if input < 0 {
		input = 0
	}
	output := usage.OutputTokens
	if output < 0 {
		output = 0
	}

	cost := float64(input)*rate.InputPerMillion/1e6 + float64(output)*rate.OutputPerMillion/1e6
	total := roundUSD(cost)

	unitCost := float64(0)
	if tokens := input + output; tokens > 0 {
		unitCost = roundUSD(cost / float64(tokens))
	}

	return Cost{
		CostUSD:      total,
		UnitCostUSD:  unitCost,
		InputTokens:  input,
		OutputTokens: output,
		TotalTokens:  input + output,
		RateVersion:  version,
	}
}

// roundUSD keeps six decimal places, enough to preserve sub-cent token
// prices without accumulating visible float drift.
func roundUSD(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}
