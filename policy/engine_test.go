package policy

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/vigil-mod/vigil/analyzer"
	"github.com/vigil-mod/vigil/message"
	"github.com/vigil-mod/vigil/reputation"
)

func testRecord() *message.ContentRecord {
	return &message.ContentRecord{
		ID:      "msg-1",
		GroupID: "g1",
		UserID:  "u1",
	}
}

func testInput(rep *reputation.Score, aggs map[analyzer.Category]analyzer.Aggregate) EvalInput {
	return EvalInput{
		Record:     testRecord(),
		Aggregates: aggs,
		Reputation: rep,
	}
}

func repAt(score int) *reputation.Score {
	return &reputation.Score{
		GroupID: "g1",
		UserID:  "u1",
		Score:   score,
		Tier:    reputation.TierForScore(score),
	}
}

func aggs(cat string, score, conf float64) map[analyzer.Category]analyzer.Aggregate {
	return map[analyzer.Category]analyzer.Aggregate{
		analyzer.Category(cat): {Category: analyzer.Category(cat), Score: score, Confidence: conf},
	}
}

func TestEmptyRuleSetAllows(t *testing.T) {
	assert := assert.New(t)
	eng := NewEngine(slog.Default(), reputation.NewMemStore())

	dec, err := eng.Decide(context.Background(), &Snapshot{}, testInput(repAt(50), aggs("spam", 0.99, 1.0)))
	assert.NoError(err)
	assert.Equal(ActionAllow, dec.Action)
	assert.False(dec.RequiresReview)
	assert.Nil(dec.TriggeringRule)
	assert.Equal(0, dec.ReputationDelta)
}

func TestToxicityQueueRule(t *testing.T) {
	assert := assert.New(t)
	eng := NewEngine(slog.Default(), reputation.NewMemStore())
	snap := &Snapshot{
		Rules: []Rule{{
			ID:        "tox-queue",
			Condition: Condition{Category: &CategoryCondition{Category: "toxicity", Op: "gt", Value: 0.7}},
			Action:    ActionQueue,
			Priority:  10,
		}},
	}

	dec, err := eng.Decide(context.Background(), snap, testInput(repAt(50), aggs("toxicity", 0.85, 0.95)))
	assert.NoError(err)
	assert.Equal(ActionQueue, dec.Action)
	assert.True(dec.RequiresReview)
	if assert.NotNil(dec.TriggeringRule) {
		assert.Equal("tox-queue", *dec.TriggeringRule)
	}
	assert.InDelta(0.95, dec.AggregateConfidence, 0.001)
}

func TestTrustedUserLeniency(t *testing.T) {
	assert := assert.New(t)
	eng := NewEngine(slog.Default(), reputation.NewMemStore())
	snap := &Snapshot{
		Rules: []Rule{{
			ID:        "spam-del",
			Condition: Condition{Category: &CategoryCondition{Category: "spam", Op: "gt", Value: 0.6}},
			Action:    ActionDelete,
			Priority:  10,
		}},
	}

	// score 90 -> trusted, threshold 0.6*1.5 = 0.9; a 0.75 aggregate passes
	dec, err := eng.Decide(context.Background(), snap, testInput(repAt(90), aggs("spam", 0.75, 1.0)))
	assert.NoError(err)
	assert.Equal(ActionAllow, dec.Action)

	// the same aggregate deletes for a neutral author
	dec, err = eng.Decide(context.Background(), snap, testInput(repAt(50), aggs("spam", 0.75, 1.0)))
	assert.NoError(err)
	assert.Equal(ActionDelete, dec.Action)
}

func TestFirstMatchWinsByPriorityThenID(t *testing.T) {
	assert := assert.New(t)
	eng := NewEngine(slog.Default(), reputation.NewMemStore())
	spamHigh := Condition{Category: &CategoryCondition{Category: "spam", Op: "gt", Value: 0.5}}
	snap := &Snapshot{
		Rules: []Rule{
			{ID: "b-mute", Condition: spamHigh, Action: ActionMute, Priority: 20},
			{ID: "z-delete", Condition: spamHigh, Action: ActionDelete, Priority: 10},
			{ID: "a-ban", Condition: spamHigh, Action: ActionBan, Priority: 10},
		},
	}

	dec, err := eng.Decide(context.Background(), snap, testInput(repAt(50), aggs("spam", 0.8, 1.0)))
	assert.NoError(err)
	// priority 10 rules first, then "a-ban" before "z-delete" by ID
	assert.Equal(ActionBan, dec.Action)
	assert.Equal("a-ban", *dec.TriggeringRule)
}

func TestMalformedRuleSkipped(t *testing.T) {
	assert := assert.New(t)
	eng := NewEngine(slog.Default(), reputation.NewMemStore())
	snap := &Snapshot{
		Rules: []Rule{
			{ID: "broken", Condition: Condition{}, Action: ActionBan, Priority: 1},
			{ID: "good", Condition: Condition{Category: &CategoryCondition{Category: "spam", Op: "gt", Value: 0.5}}, Action: ActionDelete, Priority: 2},
		},
	}

	dec, err := eng.Decide(context.Background(), snap, testInput(repAt(50), aggs("spam", 0.8, 1.0)))
	assert.NoError(err)
	assert.Equal(ActionDelete, dec.Action)
	assert.Equal("good", *dec.TriggeringRule)
}

func TestLowConfidenceEnforcementRequiresReview(t *testing.T) {
	assert := assert.New(t)
	eng := NewEngine(slog.Default(), reputation.NewMemStore())
	snap := &Snapshot{
		Rules: []Rule{{
			ID:        "spam-del",
			Condition: Condition{Category: &CategoryCondition{Category: "spam", Op: "gt", Value: 0.5}},
			Action:    ActionDelete,
			Priority:  10,
		}},
		ReviewConfidenceFloor: 0.6,
	}

	dec, err := eng.Decide(context.Background(), snap, testInput(repAt(50), aggs("spam", 0.8, 0.4)))
	assert.NoError(err)
	assert.Equal(ActionDelete, dec.Action)
	assert.True(dec.RequiresReview)

	dec, err = eng.Decide(context.Background(), snap, testInput(repAt(50), aggs("spam", 0.8, 0.9)))
	assert.NoError(err)
	assert.False(dec.RequiresReview)
}

func TestEnforcementPenaltyApplied(t *testing.T) {
	assert := assert.New(t)
	rep := reputation.NewMemStore()
	eng := NewEngine(slog.Default(), rep)
	snap := &Snapshot{
		Rules: []Rule{{
			ID:        "spam-mute",
			Condition: Condition{Category: &CategoryCondition{Category: "spam", Op: "gt", Value: 0.5}},
			Action:    ActionMute,
			Priority:  10,
		}},
	}

	dec, err := eng.Decide(context.Background(), snap, testInput(repAt(50), aggs("spam", 0.8, 1.0)))
	assert.NoError(err)
	assert.Equal(-10, dec.ReputationDelta)

	score, err := rep.Get(context.Background(), "g1", "u1")
	assert.NoError(err)
	assert.Equal(40, score.Score)
	if assert.Len(score.History, 1) {
		assert.Equal("policy-engine", score.History[0].Actor)
	}
}

func TestShortCircuitQueueRequiresReview(t *testing.T) {
	assert := assert.New(t)
	rep := reputation.NewMemStore()
	eng := NewEngine(slog.Default(), rep)
	snap := &Snapshot{}

	dec, err := eng.DecideShortCircuit(context.Background(), snap, testRecord(), ActionQueue, "badword", repAt(50))
	assert.NoError(err)
	assert.Equal(ActionQueue, dec.Action)
	assert.True(dec.ShortCircuit)
	assert.True(dec.RequiresReview)
	assert.Equal(0, dec.ReputationDelta)

	// an enforcing short-circuit is confident and needs no review
	dec, err = eng.DecideShortCircuit(context.Background(), snap, testRecord(), ActionDelete, "badword", repAt(50))
	assert.NoError(err)
	assert.False(dec.RequiresReview)
	assert.Equal(-5, dec.ReputationDelta)
}

func TestSupersedingDecisionSkipsPenalty(t *testing.T) {
	assert := assert.New(t)
	rep := reputation.NewMemStore()
	eng := NewEngine(slog.Default(), rep)
	snap := &Snapshot{
		Rules: []Rule{{
			ID:        "spam-del",
			Condition: Condition{Category: &CategoryCondition{Category: "spam", Op: "gt", Value: 0.5}},
			Action:    ActionDelete,
			Priority:  10,
		}},
	}

	in := testInput(repAt(50), aggs("spam", 0.8, 1.0))
	in.Supersedes = true
	dec, err := eng.Decide(context.Background(), snap, in)
	assert.NoError(err)
	assert.Equal(ActionDelete, dec.Action)
	assert.True(dec.SupersedesRecordDecision)
	assert.Equal(0, dec.ReputationDelta)

	score, err := rep.Get(context.Background(), "g1", "u1")
	assert.NoError(err)
	assert.Equal(reputation.DefaultScore, score.Score)
}
