package analyzer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/vigil-mod/vigil/message"
)

// Registry holds the ordered set of analyzers built at startup and fans
// records out to them concurrently. Failure isolation: an analyzer that
// errors, panics, or exceeds its timeout yields a zero-confidence result and
// is logged; it never aborts processing of the record.
type Registry struct {
	Logger *slog.Logger
	// per-analyzer wall clock limit, applied within the overall budget
	AnalyzerTimeout time.Duration
	// optional confidence re-weighting from reviewer feedback
	Trust TrustSource

	analyzers []Analyzer
}

func NewRegistry(logger *slog.Logger, timeout time.Duration) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		Logger:          logger,
		AnalyzerTimeout: timeout,
	}
}

// Register appends an analyzer. Order is preserved; registration happens at
// startup only, so no locking.
func (r *Registry) Register(a Analyzer) {
	r.analyzers = append(r.analyzers, a)
}

func (r *Registry) Analyzers() []Analyzer {
	return r.analyzers
}

// Outcome of one fan-out pass.
type Outcome struct {
	Results []AnalysisResult
	// true when the pipeline budget expired before all analyzers reported;
	// the missing results are simply omitted
	Partial bool
}

// zeroConfidence builds the degraded result recorded for a failed analyzer.
func zeroConfidence(a Analyzer, reason string, dur time.Duration) []AnalysisResult {
	out := make([]AnalysisResult, 0, len(a.Categories()))
	for _, cat := range a.Categories() {
		out = append(out, AnalysisResult{
			Analyzer:   a.Name(),
			Category:   cat,
			RiskScore:  0,
			Confidence: 0,
			Reasons:    []string{reason},
			Duration:   dur,
		})
	}
	return out
}

// Analyze fans out to all enabled analyzers concurrently and fans in under
// the deadline carried by ctx (the pipeline budget). enabled maps analyzer
// name to an enable flag; analyzers absent from the map run.
func (r *Registry) Analyze(ctx context.Context, rec *message.ContentRecord, enabled map[string]bool) Outcome {
	type report struct {
		results []AnalysisResult
	}

	var running int
	ch := make(chan report, len(r.analyzers))
	for _, a := range r.analyzers {
		if on, ok := enabled[a.Name()]; ok && !on {
			continue
		}
		running++
		go func(a Analyzer) {
			start := time.Now()
			// recover panics from analyzer execution, similar to an HTTP server
			defer func() {
				if rvr := recover(); rvr != nil {
					r.Logger.Error("analyzer panic", "analyzer", a.Name(), "err", rvr, "record", rec.ID)
					analyzerFailureCount.WithLabelValues(a.Name(), "panic").Inc()
					ch <- report{results: zeroConfidence(a, "analyzer panic", time.Since(start))}
				}
			}()

			actx := ctx
			var cancel context.CancelFunc
			if r.AnalyzerTimeout > 0 {
				actx, cancel = context.WithTimeout(ctx, r.AnalyzerTimeout)
				defer cancel()
			}

			results, err := a.Analyze(actx, rec)
			dur := time.Since(start)
			analyzerDuration.WithLabelValues(a.Name()).Observe(dur.Seconds())
			if err != nil {
				r.Logger.Warn("analyzer failed", "analyzer", a.Name(), "err", err, "record", rec.ID, "duration", dur)
				analyzerFailureCount.WithLabelValues(a.Name(), "error").Inc()
				ch <- report{results: zeroConfidence(a, fmt.Sprintf("analyzer error: %v", err), dur)}
				return
			}
			ch <- report{results: results}
		}(a)
	}

	out := Outcome{}
	for i := 0; i < running; i++ {
		select {
		case rep := <-ch:
			out.Results = append(out.Results, rep.results...)
		case <-ctx.Done():
			// budget exhausted: cancel stragglers and mark partial. their
			// goroutines still drain in to the buffered channel.
			r.Logger.Warn("pipeline budget exhausted, omitting remaining analyzers",
				"record", rec.ID, "received", i, "running", running)
			analyzerBudgetExhausted.Inc()
			out.Partial = true
			r.applyTrust(ctx, &out)
			return out
		}
	}
	r.applyTrust(ctx, &out)
	return out
}

// applyTrust scales result confidence by the feedback-derived trust factor.
func (r *Registry) applyTrust(ctx context.Context, out *Outcome) {
	if r.Trust == nil {
		return
	}
	for i := range out.Results {
		res := &out.Results[i]
		if res.Confidence == 0 {
			continue
		}
		res.Confidence *= r.Trust.TrustFactor(ctx, res.Analyzer)
	}
}
