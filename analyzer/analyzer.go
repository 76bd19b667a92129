// Package analyzer defines the pluggable content analyzer capability and the
// registry which fans records out to analyzers concurrently.
package analyzer

import (
	"context"
	"time"

	"github.com/vigil-mod/vigil/message"
)

// Risk category scored by analyzers and referenced by policy rules.
type Category string

const (
	CategorySpam      Category = "spam"
	CategoryToxicity  Category = "toxicity"
	CategoryDuplicate Category = "near-duplicate"
	CategoryScam      Category = "scam"
)

// One analyzer's verdict for one record in one category. Produced once and
// never mutated.
type AnalysisResult struct {
	Analyzer   string        `json:"analyzer"`
	Category   Category      `json:"category"`
	RiskScore  float64       `json:"risk_score"`
	Confidence float64       `json:"confidence"`
	Reasons    []string      `json:"reasons,omitempty"`
	Duration   time.Duration `json:"duration"`
}

// Analyzer is the fixed capability interface for pluggable content scorers.
// Analyze must respect ctx cancellation and its deadline; slow analyzers are
// cut off by the registry and their results discarded.
//
// Implementations must be safe for concurrent use: the registry calls a
// single instance from many pipeline workers.
type Analyzer interface {
	Name() string
	Categories() []Category
	Analyze(ctx context.Context, rec *message.ContentRecord) ([]AnalysisResult, error)
}

// TrustSource scales analyzer confidence from accumulated reviewer feedback.
// The feedback package provides the production implementation.
type TrustSource interface {
	// TrustFactor returns a multiplier in [0,1] for the named analyzer.
	TrustFactor(ctx context.Context, analyzer string) float64
}

// Per-category confidence-weighted aggregate over all analyzers covering the
// category.
type Aggregate struct {
	Category   Category `json:"category"`
	Score      float64  `json:"score"`
	Confidence float64  `json:"confidence"`
	// names of analyzers whose results contributed (for feedback attribution)
	Analyzers []string `json:"analyzers"`
}

// AggregateByCategory computes, for each category,
// sum(score_i*confidence_i)/sum(confidence_i). Categories with only
// zero-confidence results aggregate to score 0. The aggregate confidence is
// the mean confidence of contributing results.
func AggregateByCategory(results []AnalysisResult) map[Category]Aggregate {
	type acc struct {
		weighted float64
		confSum  float64
		n        int
		names    []string
	}
	accs := make(map[Category]*acc)
	for _, res := range results {
		a, ok := accs[res.Category]
		if !ok {
			a = &acc{}
			accs[res.Category] = a
		}
		a.weighted += res.RiskScore * res.Confidence
		a.confSum += res.Confidence
		a.n++
		a.names = append(a.names, res.Analyzer)
	}
	out := make(map[Category]Aggregate, len(accs))
	for cat, a := range accs {
		agg := Aggregate{Category: cat, Analyzers: a.names}
		if a.confSum > 0 {
			agg.Score = a.weighted / a.confSum
			agg.Confidence = a.confSum / float64(a.n)
		}
		out[cat] = agg
	}
	return out
}
