package policy

import (
	"time"

	"github.com/vigil-mod/vigil/analyzer"
	"github.com/vigil-mod/vigil/reputation"
)

type Action string

const (
	ActionAllow  Action = "allow"
	ActionDelete Action = "delete"
	ActionMute   Action = "mute"
	ActionBan    Action = "ban"
	ActionQueue  Action = "queue"
)

// ParseAction maps a configured action name to an Action; unknown names
// report false.
func ParseAction(s string) (Action, bool) {
	switch Action(s) {
	case ActionAllow, ActionDelete, ActionMute, ActionBan, ActionQueue:
		return Action(s), true
	}
	return "", false
}

// Enforcing reports whether the action removes or restricts content or
// authors (as opposed to allow/queue).
func (a Action) Enforcing() bool {
	switch a {
	case ActionDelete, ActionMute, ActionBan:
		return true
	}
	return false
}

// Severity orders actions for review queue sorting.
func (a Action) Severity() int {
	switch a {
	case ActionBan:
		return 4
	case ActionMute:
		return 3
	case ActionDelete:
		return 2
	case ActionQueue:
		return 1
	default:
		return 0
	}
}

// A priority-ordered condition -> action mapping, scoped to a group. Lower
// priority evaluates first; ties break by rule ID for determinism.
type Rule struct {
	ID        string    `json:"id"`
	Condition Condition `json:"condition"`
	Action    Action    `json:"action"`
	Priority  int       `json:"priority"`
	// human-readable reason attached to decisions this rule triggers
	Reason string `json:"reason,omitempty"`
}

// Decision is the pipeline's single output per record. Exactly one Decision
// exists per content record ID, except that a late re-evaluation may produce
// a superseding Decision explicitly marked as such.
type Decision struct {
	ContentRecordID string  `json:"content_record_id"`
	GroupID         string  `json:"group_id"`
	UserID          string  `json:"user_id"`
	Action          Action  `json:"action"`
	TriggeringRule  *string `json:"triggering_rule_id,omitempty"`
	// human-readable reason derived from the triggering rule or category
	Reason              string  `json:"reason"`
	AggregateConfidence float64 `json:"aggregate_confidence"`
	RequiresReview      bool    `json:"requires_review"`
	// true when the pre-filter short-circuited analysis
	ShortCircuit bool `json:"short_circuit,omitempty"`
	// true when the pipeline budget expired before all analyzers reported
	PartialAnalysis bool `json:"partial_analysis,omitempty"`
	// set on a re-evaluation triggered by late analyzer results
	SupersedesRecordDecision bool `json:"supersedes,omitempty"`
	// reputation delta applied at decision time (negative penalty); the
	// feedback loop reverts exactly this amount on a false positive
	ReputationDelta int       `json:"reputation_delta,omitempty"`
	CreatedAt       time.Time `json:"created_at"`

	// full audit context: reviewers see the reasoning, never just a score
	Results            []analyzer.AnalysisResult                 `json:"results,omitempty"`
	Aggregates         map[analyzer.Category]analyzer.Aggregate  `json:"aggregates,omitempty"`
	ReputationSnapshot *reputation.Score                         `json:"reputation_snapshot,omitempty"`
}
