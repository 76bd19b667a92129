package analyzer

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/vigil-mod/vigil/message"
)

type stubAnalyzer struct {
	name    string
	cats    []Category
	score   float64
	conf    float64
	delay   time.Duration
	err     error
	panicky bool
}

func (s *stubAnalyzer) Name() string           { return s.name }
func (s *stubAnalyzer) Categories() []Category { return s.cats }

func (s *stubAnalyzer) Analyze(ctx context.Context, rec *message.ContentRecord) ([]AnalysisResult, error) {
	if s.panicky {
		panic("boom")
	}
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.err != nil {
		return nil, s.err
	}
	var out []AnalysisResult
	for _, cat := range s.cats {
		out = append(out, AnalysisResult{
			Analyzer:   s.name,
			Category:   cat,
			RiskScore:  s.score,
			Confidence: s.conf,
		})
	}
	return out, nil
}

func testRecord() *message.ContentRecord {
	return &message.ContentRecord{ID: "rec-1", GroupID: "g1", UserID: "u1", NormalizedText: "hello"}
}

func TestRegistryFanOut(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	reg := NewRegistry(slog.Default(), time.Second)
	reg.Register(&stubAnalyzer{name: "a", cats: []Category{CategorySpam}, score: 0.5, conf: 0.8})
	reg.Register(&stubAnalyzer{name: "b", cats: []Category{CategoryToxicity}, score: 0.9, conf: 0.9})

	out := reg.Analyze(ctx, testRecord(), nil)
	assert.False(out.Partial)
	assert.Len(out.Results, 2)
}

func TestRegistryDisabledAnalyzer(t *testing.T) {
	assert := assert.New(t)

	reg := NewRegistry(slog.Default(), time.Second)
	reg.Register(&stubAnalyzer{name: "a", cats: []Category{CategorySpam}, score: 0.5, conf: 0.8})
	reg.Register(&stubAnalyzer{name: "b", cats: []Category{CategoryToxicity}, score: 0.9, conf: 0.9})

	out := reg.Analyze(context.Background(), testRecord(), map[string]bool{"b": false})
	assert.Len(out.Results, 1)
	assert.Equal("a", out.Results[0].Analyzer)
}

func TestRegistryFailureIsolation(t *testing.T) {
	assert := assert.New(t)

	reg := NewRegistry(slog.Default(), time.Second)
	reg.Register(&stubAnalyzer{name: "ok", cats: []Category{CategorySpam}, score: 0.4, conf: 0.7})
	reg.Register(&stubAnalyzer{name: "broken", cats: []Category{CategoryScam}, err: errors.New("model offline")})
	reg.Register(&stubAnalyzer{name: "crashy", cats: []Category{CategoryToxicity}, panicky: true})

	out := reg.Analyze(context.Background(), testRecord(), nil)
	assert.False(out.Partial)
	assert.Len(out.Results, 3)

	byName := map[string]AnalysisResult{}
	for _, res := range out.Results {
		byName[res.Analyzer] = res
	}
	assert.Equal(0.7, byName["ok"].Confidence)
	assert.Equal(0.0, byName["broken"].Confidence)
	assert.Equal(0.0, byName["crashy"].Confidence)
}

func TestRegistryPerAnalyzerTimeout(t *testing.T) {
	assert := assert.New(t)

	reg := NewRegistry(slog.Default(), 20*time.Millisecond)
	reg.Register(&stubAnalyzer{name: "fast", cats: []Category{CategorySpam}, score: 0.2, conf: 0.9})
	reg.Register(&stubAnalyzer{name: "slow", cats: []Category{CategoryToxicity}, delay: 500 * time.Millisecond, score: 0.9, conf: 0.9})

	out := reg.Analyze(context.Background(), testRecord(), nil)
	assert.False(out.Partial)
	assert.Len(out.Results, 2)
	for _, res := range out.Results {
		if res.Analyzer == "slow" {
			assert.Equal(0.0, res.Confidence)
		}
	}
}

func TestRegistryBudgetExhausted(t *testing.T) {
	assert := assert.New(t)

	// per-analyzer timeout longer than the budget, so the budget fires first
	reg := NewRegistry(slog.Default(), time.Second)
	reg.Register(&stubAnalyzer{name: "fast", cats: []Category{CategorySpam}, score: 0.2, conf: 0.9})
	reg.Register(&stubAnalyzer{name: "stuck", cats: []Category{CategoryToxicity}, delay: 5 * time.Second})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	out := reg.Analyze(ctx, testRecord(), nil)
	assert.True(out.Partial)
	assert.Less(time.Since(start), time.Second)

	// only the fast analyzer reported; the stuck one is simply omitted
	assert.Len(out.Results, 1)
	assert.Equal("fast", out.Results[0].Analyzer)
}

func TestAggregateByCategory(t *testing.T) {
	assert := assert.New(t)

	results := []AnalysisResult{
		{Analyzer: "a", Category: CategorySpam, RiskScore: 0.8, Confidence: 0.5},
		{Analyzer: "b", Category: CategorySpam, RiskScore: 0.4, Confidence: 1.0},
		{Analyzer: "c", Category: CategoryToxicity, RiskScore: 0.9, Confidence: 0.0},
	}
	aggs := AggregateByCategory(results)

	spam := aggs[CategorySpam]
	// (0.8*0.5 + 0.4*1.0) / 1.5
	assert.InDelta(0.5333, spam.Score, 0.001)
	assert.InDelta(0.75, spam.Confidence, 0.001)
	assert.ElementsMatch([]string{"a", "b"}, spam.Analyzers)

	// zero total confidence aggregates to zero
	tox := aggs[CategoryToxicity]
	assert.Equal(0.0, tox.Score)
	assert.Equal(0.0, tox.Confidence)
}

type fixedTrust struct{ factor float64 }

func (f fixedTrust) TrustFactor(ctx context.Context, analyzer string) float64 { return f.factor }

func TestRegistryTrustReweighting(t *testing.T) {
	assert := assert.New(t)

	reg := NewRegistry(slog.Default(), time.Second)
	reg.Trust = fixedTrust{factor: 0.5}
	reg.Register(&stubAnalyzer{name: "a", cats: []Category{CategorySpam}, score: 0.8, conf: 0.8})

	out := reg.Analyze(context.Background(), testRecord(), nil)
	assert.Len(out.Results, 1)
	assert.InDelta(0.4, out.Results[0].Confidence, 0.001)
}
