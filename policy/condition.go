// Package policy combines aggregated analysis with the author's reputation
// to produce exactly one enforcement Decision per record.
package policy

import (
	"fmt"

	"github.com/vigil-mod/vigil/analyzer"
	"github.com/vigil-mod/vigil/reputation"
)

// Condition is a closed tagged-variant expression tree; exactly one field
// must be set. Conditions come from config files and are interpreted by a
// pure evaluator, never evaluated as code.
type Condition struct {
	And      []Condition        `json:"and,omitempty"`
	Or       []Condition        `json:"or,omitempty"`
	Not      *Condition         `json:"not,omitempty"`
	Category *CategoryCondition `json:"category,omitempty"`
	Tier     *TierCondition     `json:"tier,omitempty"`
}

// CategoryCondition compares an aggregated category score against a
// threshold. The threshold is scaled by the author's tier multiplier before
// comparison (the "effective threshold"), so trusted users are harder to
// trigger and untrusted users easier.
type CategoryCondition struct {
	Category string  `json:"category"`
	Op       string  `json:"op"` // "gt", "gte", "lt", "lte"
	Value    float64 `json:"value"`
	// minimum aggregate confidence for the comparison to count at all
	MinConfidence float64 `json:"min_confidence,omitempty"`
}

// TierCondition matches when the author's tier is any of the listed tiers.
type TierCondition struct {
	In []string `json:"in"`
}

// Env is the immutable evaluation environment for one record.
type Env struct {
	Aggregates map[analyzer.Category]analyzer.Aggregate
	Tier       reputation.Tier
	// threshold multiplier derived from Tier
	Multiplier float64
}

// Eval interprets the condition tree against env. Malformed conditions
// (no variant set, unknown op) return an error so the policy engine can skip
// the rule with a warning instead of crashing.
func (c *Condition) Eval(env *Env) (bool, error) {
	set := 0
	if len(c.And) > 0 {
		set++
	}
	if len(c.Or) > 0 {
		set++
	}
	if c.Not != nil {
		set++
	}
	if c.Category != nil {
		set++
	}
	if c.Tier != nil {
		set++
	}
	if set != 1 {
		return false, fmt.Errorf("condition must set exactly one variant, has %d", set)
	}

	switch {
	case len(c.And) > 0:
		for i := range c.And {
			ok, err := c.And[i].Eval(env)
			if err != nil {
				return false, err
			}
			if !ok {
				return false, nil
			}
		}
		return true, nil
	case len(c.Or) > 0:
		for i := range c.Or {
			ok, err := c.Or[i].Eval(env)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	case c.Not != nil:
		ok, err := c.Not.Eval(env)
		if err != nil {
			return false, err
		}
		return !ok, nil
	case c.Tier != nil:
		for _, tier := range c.Tier.In {
			if reputation.Tier(tier) == env.Tier {
				return true, nil
			}
		}
		return false, nil
	default:
		return c.Category.eval(env)
	}
}

func (cc *CategoryCondition) eval(env *Env) (bool, error) {
	agg := env.Aggregates[analyzer.Category(cc.Category)]
	if cc.MinConfidence > 0 && agg.Confidence < cc.MinConfidence {
		return false, nil
	}
	threshold := cc.Value * env.Multiplier
	switch cc.Op {
	case "gt":
		return agg.Score > threshold, nil
	case "gte":
		return agg.Score >= threshold, nil
	case "lt":
		return agg.Score < threshold, nil
	case "lte":
		return agg.Score <= threshold, nil
	default:
		return false, fmt.Errorf("unknown comparison op %q", cc.Op)
	}
}
