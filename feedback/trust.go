package feedback

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/vigil-mod/vigil/countstore"
)

// ReweightStrategy maps an analyzer's recent confirmed/false-positive tallies
// to a confidence multiplier in [0,1].
type ReweightStrategy func(confirmed, falsePositives int) float64

// ExponentialDecay halves trust for every 25 points of false-positive rate.
// An analyzer with no feedback keeps full trust; one wrong half the time
// drops to ~0.25. The floor keeps a noisy analyzer from being silenced
// entirely, so it can recover.
func ExponentialDecay(confirmed, falsePositives int) float64 {
	total := confirmed + falsePositives
	if total == 0 {
		return 1.0
	}
	fpRate := float64(falsePositives) / float64(total)
	factor := math.Pow(2, -fpRate*4)
	if factor < 0.1 {
		return 0.1
	}
	return factor
}

// TrustTracker derives per-analyzer trust factors from the day-window
// feedback tallies. Factors are cached briefly so hot-path lookups do not hit
// the count store per record.
type TrustTracker struct {
	Logger   *slog.Logger
	Counts   countstore.CountStore
	Strategy ReweightStrategy

	cache *expirable.LRU[string, float64]
}

func NewTrustTracker(logger *slog.Logger, counts countstore.CountStore) *TrustTracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &TrustTracker{
		Logger:   logger,
		Counts:   counts,
		Strategy: ExponentialDecay,
		cache:    expirable.NewLRU[string, float64](100, nil, time.Minute),
	}
}

// TrustFactor implements analyzer.TrustSource. Count store failures fall back
// to full trust; degraded reweighting beats dropped analysis.
func (t *TrustTracker) TrustFactor(ctx context.Context, name string) float64 {
	if f, ok := t.cache.Get(name); ok {
		return f
	}
	confirmed, err := t.Counts.GetCount(ctx, counterConfirmed, name, countstore.PeriodDay)
	if err != nil {
		t.Logger.Warn("trust lookup failed, using full trust", "analyzer", name, "err", err)
		return 1.0
	}
	falsePos, err := t.Counts.GetCount(ctx, counterFalsePos, name, countstore.PeriodDay)
	if err != nil {
		t.Logger.Warn("trust lookup failed, using full trust", "analyzer", name, "err", err)
		return 1.0
	}
	f := t.Strategy(confirmed, falsePos)
	t.cache.Add(name, f)
	trustFactorGauge.WithLabelValues(name).Set(f)
	return f
}
