package policy

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/vigil-mod/vigil/analyzer"
	"github.com/vigil-mod/vigil/message"
	"github.com/vigil-mod/vigil/reputation"
)

// Snapshot is the per-group policy configuration resolved once per record.
// Immutable; hot reloads swap the whole snapshot between records.
type Snapshot struct {
	Rules []Rule `json:"rules"`
	// tier -> threshold multiplier; missing tiers default per DefaultMultipliers
	TierMultipliers map[reputation.Tier]float64 `json:"tier_multipliers,omitempty"`
	// below this aggregate confidence, auto-enforcement is still executed
	// but additionally queued for review ("act now, review later")
	ReviewConfidenceFloor float64 `json:"review_confidence_floor,omitempty"`
	// action -> reputation penalty applied at decision time (negative)
	ReputationPenalties map[Action]int `json:"reputation_penalties,omitempty"`
}

func DefaultMultipliers() map[reputation.Tier]float64 {
	return map[reputation.Tier]float64{
		reputation.TierTrusted:    1.5,
		reputation.TierNeutral:    1.0,
		reputation.TierSuspicious: 0.85,
		reputation.TierUntrusted:  0.7,
	}
}

func DefaultPenalties() map[Action]int {
	return map[Action]int{
		ActionDelete: -5,
		ActionMute:   -10,
		ActionBan:    -25,
	}
}

func (s *Snapshot) multiplier(tier reputation.Tier) float64 {
	if m, ok := s.TierMultipliers[tier]; ok {
		return m
	}
	if m, ok := DefaultMultipliers()[tier]; ok {
		return m
	}
	return 1.0
}

// Engine evaluates policy rules and owns decision-time reputation penalties.
// Besides the feedback loop, this is the only writer to the reputation store.
type Engine struct {
	Logger     *slog.Logger
	Reputation reputation.Store
}

func NewEngine(logger *slog.Logger, rep reputation.Store) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{Logger: logger, Reputation: rep}
}

// Input to one evaluation: the record's aggregated analysis and the author's
// reputation snapshot at evaluation time. Decide is a pure function of this
// input, aside from the penalty application.
type EvalInput struct {
	Record     *message.ContentRecord
	Results    []analyzer.AnalysisResult
	Aggregates map[analyzer.Category]analyzer.Aggregate
	Reputation *reputation.Score
	Partial    bool
	// set for re-evaluations triggered by late analyzer results
	Supersedes bool
}

// overallConfidence is the mean aggregate confidence across scored
// categories; 1.0 when nothing was scored (a pre-filter pass with no
// analyzers enabled is a confident allow).
func overallConfidence(aggs map[analyzer.Category]analyzer.Aggregate) float64 {
	if len(aggs) == 0 {
		return 1.0
	}
	var sum float64
	for _, agg := range aggs {
		sum += agg.Confidence
	}
	return sum / float64(len(aggs))
}

// Decide evaluates the snapshot's rules in ascending priority order (ties by
// rule ID); first match wins. No match means allow. Malformed rule
// conditions are skipped with a warning and treated as non-matching.
func (e *Engine) Decide(ctx context.Context, snap *Snapshot, in EvalInput) (*Decision, error) {
	tier := reputation.TierNeutral
	if in.Reputation != nil {
		tier = in.Reputation.Tier
	}
	env := &Env{
		Aggregates: in.Aggregates,
		Tier:       tier,
		Multiplier: snap.multiplier(tier),
	}

	rules := make([]Rule, len(snap.Rules))
	copy(rules, snap.Rules)
	sort.SliceStable(rules, func(i, j int) bool {
		if rules[i].Priority != rules[j].Priority {
			return rules[i].Priority < rules[j].Priority
		}
		return rules[i].ID < rules[j].ID
	})

	dec := &Decision{
		ContentRecordID:          in.Record.ID,
		GroupID:                  in.Record.GroupID,
		UserID:                   in.Record.UserID,
		Action:                   ActionAllow,
		Reason:                   "no rule matched",
		AggregateConfidence:      overallConfidence(in.Aggregates),
		PartialAnalysis:          in.Partial,
		SupersedesRecordDecision: in.Supersedes,
		CreatedAt:                time.Now().UTC(),
		Results:                  in.Results,
		Aggregates:               in.Aggregates,
		ReputationSnapshot:       in.Reputation,
	}

	for i := range rules {
		rule := rules[i]
		matched, err := rule.Condition.Eval(env)
		if err != nil {
			e.Logger.Warn("skipping malformed policy rule", "rule", rule.ID, "group", in.Record.GroupID, "err", err)
			ruleSkippedCount.WithLabelValues(rule.ID).Inc()
			continue
		}
		if !matched {
			continue
		}
		dec.Action = rule.Action
		dec.TriggeringRule = &rules[i].ID
		dec.Reason = rule.Reason
		if dec.Reason == "" {
			dec.Reason = fmt.Sprintf("rule %s matched (action: %s)", rule.ID, rule.Action)
		}
		break
	}

	dec.RequiresReview = dec.Action == ActionQueue ||
		(dec.Action.Enforcing() && dec.AggregateConfidence < snap.ReviewConfidenceFloor)

	if err := e.applyPenalty(ctx, snap, dec); err != nil {
		return nil, err
	}

	decisionCount.WithLabelValues(string(dec.Action)).Inc()
	return dec, nil
}

// DecideShortCircuit builds the decision for a pre-filter deny hit. No
// analysis ran, so confidence is 1.0: the pattern either matched or it did
// not. The configured penalty still applies.
func (e *Engine) DecideShortCircuit(ctx context.Context, snap *Snapshot, rec *message.ContentRecord, action Action, pattern string, rep *reputation.Score) (*Decision, error) {
	dec := &Decision{
		ContentRecordID:     rec.ID,
		GroupID:             rec.GroupID,
		UserID:              rec.UserID,
		Action:              action,
		Reason:              fmt.Sprintf("blocked pattern %q", pattern),
		AggregateConfidence: 1.0,
		ShortCircuit:        true,
		CreatedAt:           time.Now().UTC(),
		ReputationSnapshot:  rep,
	}
	dec.RequiresReview = dec.Action == ActionQueue ||
		(dec.Action.Enforcing() && dec.AggregateConfidence < snap.ReviewConfidenceFloor)
	if err := e.applyPenalty(ctx, snap, dec); err != nil {
		return nil, err
	}
	decisionCount.WithLabelValues(string(dec.Action)).Inc()
	return dec, nil
}

// applyPenalty adjusts the author's reputation for enforcing actions, through
// the store's serialized path. A superseding decision applies no second
// penalty. Store failure propagates so the orchestrator can fail closed.
func (e *Engine) applyPenalty(ctx context.Context, snap *Snapshot, dec *Decision) error {
	if !dec.Action.Enforcing() || dec.SupersedesRecordDecision {
		return nil
	}
	penalties := snap.ReputationPenalties
	if penalties == nil {
		penalties = DefaultPenalties()
	}
	delta, ok := penalties[dec.Action]
	if !ok || delta == 0 {
		return nil
	}
	ruleID := "default"
	if dec.TriggeringRule != nil {
		ruleID = *dec.TriggeringRule
	}
	_, err := e.Reputation.Adjust(ctx, dec.GroupID, dec.UserID, delta,
		fmt.Sprintf("decision %s on record %s (rule %s)", dec.Action, dec.ContentRecordID, ruleID),
		"policy-engine")
	if err != nil {
		return fmt.Errorf("applying reputation penalty: %w", err)
	}
	dec.ReputationDelta = delta
	return nil
}
