package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/vigil-mod/vigil/analyzer"
	"github.com/vigil-mod/vigil/reputation"
)

func envWith(cat string, score, conf float64, tier reputation.Tier, mult float64) *Env {
	return &Env{
		Aggregates: map[analyzer.Category]analyzer.Aggregate{
			analyzer.Category(cat): {Category: analyzer.Category(cat), Score: score, Confidence: conf},
		},
		Tier:       tier,
		Multiplier: mult,
	}
}

func TestCategoryComparisons(t *testing.T) {
	assert := assert.New(t)
	env := envWith("spam", 0.6, 0.9, reputation.TierNeutral, 1.0)

	cases := []struct {
		op    string
		value float64
		want  bool
	}{
		{"gt", 0.5, true},
		{"gt", 0.6, false},
		{"gte", 0.6, true},
		{"lt", 0.7, true},
		{"lte", 0.6, true},
		{"lt", 0.5, false},
	}
	for _, tc := range cases {
		c := Condition{Category: &CategoryCondition{Category: "spam", Op: tc.op, Value: tc.value}}
		got, err := c.Eval(env)
		assert.NoError(err)
		assert.Equal(tc.want, got, "op=%s value=%v", tc.op, tc.value)
	}
}

func TestCategoryMinConfidence(t *testing.T) {
	assert := assert.New(t)
	env := envWith("toxicity", 0.9, 0.3, reputation.TierNeutral, 1.0)

	c := Condition{Category: &CategoryCondition{Category: "toxicity", Op: "gt", Value: 0.5, MinConfidence: 0.5}}
	got, err := c.Eval(env)
	assert.NoError(err)
	assert.False(got)

	c.Category.MinConfidence = 0.2
	got, err = c.Eval(env)
	assert.NoError(err)
	assert.True(got)
}

func TestTierMultiplierScalesThreshold(t *testing.T) {
	assert := assert.New(t)

	// a trusted author's threshold stretches to 0.7*1.5 = 1.05, unreachable
	c := Condition{Category: &CategoryCondition{Category: "spam", Op: "gt", Value: 0.7}}

	got, err := c.Eval(envWith("spam", 0.8, 1.0, reputation.TierTrusted, 1.5))
	assert.NoError(err)
	assert.False(got)

	// the same score trips for an untrusted author (threshold 0.49)
	got, err = c.Eval(envWith("spam", 0.5, 1.0, reputation.TierUntrusted, 0.7))
	assert.NoError(err)
	assert.True(got)
}

func TestMissingCategoryScoresZero(t *testing.T) {
	assert := assert.New(t)
	env := envWith("spam", 0.9, 1.0, reputation.TierNeutral, 1.0)

	c := Condition{Category: &CategoryCondition{Category: "scam", Op: "gt", Value: 0.1}}
	got, err := c.Eval(env)
	assert.NoError(err)
	assert.False(got)
}

func TestBooleanCombinators(t *testing.T) {
	assert := assert.New(t)
	env := envWith("spam", 0.6, 1.0, reputation.TierSuspicious, 0.85)

	spamHigh := Condition{Category: &CategoryCondition{Category: "spam", Op: "gt", Value: 0.5}}
	scamHigh := Condition{Category: &CategoryCondition{Category: "scam", Op: "gt", Value: 0.5}}
	suspicious := Condition{Tier: &TierCondition{In: []string{"suspicious", "untrusted"}}}

	and := Condition{And: []Condition{spamHigh, suspicious}}
	got, err := and.Eval(env)
	assert.NoError(err)
	assert.True(got)

	or := Condition{Or: []Condition{scamHigh, spamHigh}}
	got, err = or.Eval(env)
	assert.NoError(err)
	assert.True(got)

	not := Condition{Not: &scamHigh}
	got, err = not.Eval(env)
	assert.NoError(err)
	assert.True(got)

	andMiss := Condition{And: []Condition{spamHigh, scamHigh}}
	got, err = andMiss.Eval(env)
	assert.NoError(err)
	assert.False(got)
}

func TestMalformedConditions(t *testing.T) {
	assert := assert.New(t)
	env := envWith("spam", 0.6, 1.0, reputation.TierNeutral, 1.0)

	// no variant set
	empty := Condition{}
	_, err := empty.Eval(env)
	assert.Error(err)

	// two variants set
	both := Condition{
		Category: &CategoryCondition{Category: "spam", Op: "gt", Value: 0.5},
		Tier:     &TierCondition{In: []string{"neutral"}},
	}
	_, err = both.Eval(env)
	assert.Error(err)

	// unknown op
	badOp := Condition{Category: &CategoryCondition{Category: "spam", Op: "eq", Value: 0.5}}
	_, err = badOp.Eval(env)
	assert.Error(err)

	// malformed nested condition propagates
	nested := Condition{And: []Condition{{Category: &CategoryCondition{Category: "spam", Op: "gt", Value: 0.1}}, {}}}
	_, err = nested.Eval(env)
	assert.Error(err)
}
