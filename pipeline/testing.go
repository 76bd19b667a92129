package pipeline

import (
	"log/slog"
	"time"

	"github.com/vigil-mod/vigil/analyzer"
	"github.com/vigil-mod/vigil/cachestore"
	"github.com/vigil-mod/vigil/config"
	"github.com/vigil-mod/vigil/countstore"
	"github.com/vigil-mod/vigil/event"
	"github.com/vigil-mod/vigil/feedback"
	"github.com/vigil-mod/vigil/policy"
	"github.com/vigil-mod/vigil/prefilter"
	"github.com/vigil-mod/vigil/queue"
	"github.com/vigil-mod/vigil/reputation"
)

// EngineTestFixture builds a fully wired in-memory engine with the built-in
// analyzers and a small default rule set.
func EngineTestFixture() *Engine {
	logger := slog.Default()
	rep := reputation.NewMemStore()
	counts := countstore.NewMemCountStore()
	cache := cachestore.NewMemCacheStore(100, time.Hour)
	window := analyzer.NewRecentWindow(cache, 20)

	reg := analyzer.NewRegistry(logger, 500*time.Millisecond)
	reg.Trust = feedback.NewTrustTracker(logger, counts)
	reg.Register(analyzer.NewSpamAnalyzer(window, 0))
	reg.Register(analyzer.NewToxicityAnalyzer(nil))
	reg.Register(analyzer.NewDuplicateAnalyzer(window))
	reg.Register(analyzer.NewScamAnalyzer())

	configFile := &config.File{
		Default: config.GroupConfig{
			Policy: policy.Snapshot{
				Rules: []policy.Rule{
					{
						ID:        "scam-ban",
						Condition: policy.Condition{Category: &policy.CategoryCondition{Category: "scam", Op: "gt", Value: 0.8}},
						Action:    policy.ActionBan,
						Priority:  1,
					},
					{
						ID:        "spam-delete",
						Condition: policy.Condition{Category: &policy.CategoryCondition{Category: "spam", Op: "gt", Value: 0.5}},
						Action:    policy.ActionDelete,
						Priority:  10,
					},
					{
						ID:        "toxicity-queue",
						Condition: policy.Condition{Category: &policy.CategoryCondition{Category: "toxicity", Op: "gt", Value: 0.7}},
						Action:    policy.ActionQueue,
						Priority:  20,
					},
				},
				ReviewConfidenceFloor: 0.5,
			},
			Prefilter: prefilter.GroupPatterns{
				Deny: []prefilter.Pattern{
					{Pattern: "GTUBE-MOD-TEST", Action: "delete"},
					{Pattern: "REVIEW-MOD-TEST", Action: "queue"},
				},
			},
		},
	}

	return &Engine{
		Logger:     logger,
		Configs:    config.NewRegistry(logger, configFile),
		Prefilter:  prefilter.NewFilter(logger),
		Analyzers:  reg,
		Policy:     policy.NewEngine(logger, rep),
		Reputation: rep,
		Queue:      queue.NewMemStore(),
		Audit:      event.NewMemAuditLog(logger),
		Feedback:   feedback.NewLoop(logger, rep, counts),
		Window:     window,
		Budget:     time.Second,
	}
}
