// Package pipeline orchestrates the full moderation flow for one message:
// dedupe, pre-filter, feature extraction, concurrent analysis, policy
// decision, enforcement, and review queueing.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/vigil-mod/vigil/analyzer"
	"github.com/vigil-mod/vigil/config"
	"github.com/vigil-mod/vigil/event"
	"github.com/vigil-mod/vigil/extract"
	"github.com/vigil-mod/vigil/feedback"
	"github.com/vigil-mod/vigil/message"
	"github.com/vigil-mod/vigil/policy"
	"github.com/vigil-mod/vigil/prefilter"
	"github.com/vigil-mod/vigil/queue"
	"github.com/vigil-mod/vigil/reputation"
)

// DefaultBudget bounds the whole analysis phase for one record.
const DefaultBudget = 2 * time.Second

// retry schedule for reputation store reads before failing closed
var repRetryBackoff = []time.Duration{50 * time.Millisecond, 250 * time.Millisecond}

// Engine wires the moderation stages together. One Engine serves all groups;
// per-group behavior comes from the config registry snapshot resolved at
// ingestion.
type Engine struct {
	Logger     *slog.Logger
	Configs    *config.Registry
	Prefilter  *prefilter.Filter
	Analyzers  *analyzer.Registry
	Policy     *policy.Engine
	Reputation reputation.Store
	Queue      queue.Store
	Audit      event.AuditLog
	Feedback   *feedback.Loop

	// optional side effects
	Executor *event.Executor
	Notifier *event.Notifier

	// rolling per-group message window feeding the spam and duplicate
	// analyzers; appended after analysis so a message never matches itself
	Window *analyzer.RecentWindow

	// analysis budget per record; zero means DefaultBudget
	Budget time.Duration
}

func (eng *Engine) budget() time.Duration {
	if eng.Budget > 0 {
		return eng.Budget
	}
	return DefaultBudget
}

// ProcessMessage runs one message through the whole pipeline and returns the
// recorded decision. Resubmission of an already-decided message returns the
// stored decision without re-analysis.
//
// Failure policy: analyzer problems degrade (zero confidence, partial
// results), reputation store problems fail closed to the review queue, and a
// queue store problem is returned as an error alongside the already-recorded
// decision.
func (eng *Engine) ProcessMessage(ctx context.Context, evt message.RawMessageEvent) (outDec *policy.Decision, outErr error) {
	eng.Logger.Debug("processing message", "record", evt.MessageID, "group", evt.GroupID)
	start := time.Now()

	// recover panics from processing, similar to an HTTP server
	defer func() {
		if rvr := recover(); rvr != nil {
			eng.Logger.Error("pipeline panic", "err", rvr, "record", evt.MessageID, "group", evt.GroupID)
			pipelinePanicCount.Inc()
			outDec = nil
			outErr = fmt.Errorf("pipeline panic: %v", rvr)
		}
		pipelineDuration.Observe(time.Since(start).Seconds())
	}()

	// resubmission returns the stored decision; side effects ran the first time
	if prev, err := eng.Audit.GetDecision(ctx, evt.MessageID); err == nil {
		eng.Logger.Debug("duplicate submission", "record", evt.MessageID)
		duplicateCount.Inc()
		return prev, nil
	} else if !errors.Is(err, event.ErrDecisionNotFound) {
		return nil, fmt.Errorf("checking for existing decision: %w", err)
	}

	rec := message.NewContentRecord(evt)
	gc := eng.Configs.Resolve(rec.GroupID)

	rec.NormalizedText = extract.NormalizeText(rec.RawText)
	if err := rec.AdvanceTo(message.StagePreFiltered); err != nil {
		return nil, err
	}

	verdict := eng.Prefilter.Check(rec.GroupID, rec.NormalizedText, gc.Prefilter)
	if verdict.Matched && !verdict.Allowed {
		return eng.shortCircuit(ctx, gc, rec, verdict)
	}

	if err := rec.AdvanceTo(message.StageExtracted); err != nil {
		return nil, err
	}
	extract.Apply(rec)

	rep, repDown := eng.getReputation(ctx, rec.GroupID, rec.UserID)
	if repDown {
		return eng.failClosed(ctx, gc, rec, "reputation store unavailable")
	}

	actx, cancel := context.WithTimeout(ctx, eng.budget())
	outcome := eng.Analyzers.Analyze(actx, rec, enabledMap(gc))
	cancel()
	rec.PartiallyAnalyzed = outcome.Partial
	if err := rec.AdvanceTo(message.StageAnalyzed); err != nil {
		return nil, err
	}

	if eng.Window != nil {
		if err := eng.Window.Add(ctx, rec.GroupID, rec.UserID, rec.NormalizedText); err != nil {
			eng.Logger.Warn("failed to append recent-message window", "record", rec.ID, "err", err)
		}
	}

	dec, err := eng.Policy.Decide(ctx, &gc.Policy, policy.EvalInput{
		Record:     rec,
		Results:    outcome.Results,
		Aggregates: analyzer.AggregateByCategory(outcome.Results),
		Reputation: rep,
		Partial:    outcome.Partial,
	})
	if errors.Is(err, reputation.ErrStoreUnavailable) {
		return eng.failClosed(ctx, gc, rec, "reputation store unavailable during penalty")
	} else if err != nil {
		return nil, err
	}

	return eng.finish(ctx, gc, rec, dec)
}

// Reprocess runs a message through the full pipeline again and records a
// superseding decision, replacing the stored one. Used when late or repaired
// analyzer capacity makes the earlier partial decision worth revisiting. No
// second reputation penalty is applied.
func (eng *Engine) Reprocess(ctx context.Context, evt message.RawMessageEvent) (*policy.Decision, error) {
	if _, err := eng.Audit.GetDecision(ctx, evt.MessageID); err != nil {
		if errors.Is(err, event.ErrDecisionNotFound) {
			return nil, fmt.Errorf("no prior decision for %s, submit it instead", evt.MessageID)
		}
		return nil, err
	}

	rec := message.NewContentRecord(evt)
	gc := eng.Configs.Resolve(rec.GroupID)

	rec.NormalizedText = extract.NormalizeText(rec.RawText)
	if err := rec.AdvanceTo(message.StagePreFiltered); err != nil {
		return nil, err
	}
	if err := rec.AdvanceTo(message.StageExtracted); err != nil {
		return nil, err
	}
	extract.Apply(rec)

	rep, repDown := eng.getReputation(ctx, rec.GroupID, rec.UserID)
	if repDown {
		return nil, reputation.ErrStoreUnavailable
	}

	actx, cancel := context.WithTimeout(ctx, eng.budget())
	outcome := eng.Analyzers.Analyze(actx, rec, enabledMap(gc))
	cancel()
	rec.PartiallyAnalyzed = outcome.Partial
	if err := rec.AdvanceTo(message.StageAnalyzed); err != nil {
		return nil, err
	}

	dec, err := eng.Policy.Decide(ctx, &gc.Policy, policy.EvalInput{
		Record:     rec,
		Results:    outcome.Results,
		Aggregates: analyzer.AggregateByCategory(outcome.Results),
		Reputation: rep,
		Partial:    outcome.Partial,
		Supersedes: true,
	})
	if err != nil {
		return nil, err
	}
	return eng.finish(ctx, gc, rec, dec)
}

// enabledMap converts the group's disabled-analyzer list to the registry's
// enable-flag form.
func enabledMap(gc *config.GroupConfig) map[string]bool {
	disabled := gc.DisabledSet()
	if disabled == nil {
		return nil
	}
	out := make(map[string]bool, len(disabled))
	for name := range disabled {
		out[name] = false
	}
	return out
}

// getReputation reads the author's score with bounded retries. The second
// return is true when the store stayed unavailable and the caller must fail
// closed.
func (eng *Engine) getReputation(ctx context.Context, groupID, userID string) (*reputation.Score, bool) {
	var lastErr error
	for attempt := 0; ; attempt++ {
		rep, err := eng.Reputation.Get(ctx, groupID, userID)
		if err == nil {
			return rep, false
		}
		lastErr = err
		if attempt >= len(repRetryBackoff) {
			break
		}
		select {
		case <-time.After(repRetryBackoff[attempt]):
		case <-ctx.Done():
			return nil, true
		}
	}
	eng.Logger.Error("reputation store unavailable, failing closed", "group", groupID, "user", userID, "err", lastErr)
	repUnavailableCount.Inc()
	return nil, true
}

func (eng *Engine) shortCircuit(ctx context.Context, gc *config.GroupConfig, rec *message.ContentRecord, verdict prefilter.Verdict) (*policy.Decision, error) {
	if err := rec.AdvanceTo(message.StageShortCircuited); err != nil {
		return nil, err
	}
	action, ok := policy.ParseAction(verdict.Action)
	if !ok {
		eng.Logger.Warn("unknown prefilter action, falling back to delete", "action", verdict.Action, "group", rec.GroupID)
		action = policy.ActionDelete
	}

	rep, repDown := eng.getReputation(ctx, rec.GroupID, rec.UserID)
	if repDown {
		return eng.failClosed(ctx, gc, rec, "reputation store unavailable")
	}
	dec, err := eng.Policy.DecideShortCircuit(ctx, &gc.Policy, rec, action, verdict.Pattern, rep)
	if errors.Is(err, reputation.ErrStoreUnavailable) {
		return eng.failClosed(ctx, gc, rec, "reputation store unavailable during penalty")
	} else if err != nil {
		return nil, err
	}
	return eng.finish(ctx, gc, rec, dec)
}

// failClosed records a queue-for-review decision when a dependency outage
// prevents a trustworthy automated call. No enforcement, no penalty.
func (eng *Engine) failClosed(ctx context.Context, gc *config.GroupConfig, rec *message.ContentRecord, reason string) (*policy.Decision, error) {
	// the record may be anywhere before decided; walk it forward legally
	for rec.Stage != message.StageDecided {
		next := message.StageDecided
		switch rec.Stage {
		case message.StagePreFiltered:
			next = message.StageExtracted
		case message.StageExtracted:
			next = message.StageAnalyzed
		}
		if err := rec.AdvanceTo(next); err != nil {
			return nil, err
		}
	}
	dec := &policy.Decision{
		ContentRecordID: rec.ID,
		GroupID:         rec.GroupID,
		UserID:          rec.UserID,
		Action:          policy.ActionQueue,
		Reason:          reason,
		RequiresReview:  true,
		CreatedAt:       time.Now().UTC(),
	}
	failClosedCount.Inc()
	return eng.record(ctx, gc, rec, dec)
}

// finish stamps analysis state onto the decision and records it.
func (eng *Engine) finish(ctx context.Context, gc *config.GroupConfig, rec *message.ContentRecord, dec *policy.Decision) (*policy.Decision, error) {
	dec.PartialAnalysis = dec.PartialAnalysis || rec.PartiallyAnalyzed
	return eng.record(ctx, gc, rec, dec)
}

func (eng *Engine) record(ctx context.Context, gc *config.GroupConfig, rec *message.ContentRecord, dec *policy.Decision) (*policy.Decision, error) {
	if rec.Stage != message.StageDecided {
		if err := rec.AdvanceTo(message.StageDecided); err != nil {
			return nil, err
		}
	}
	if err := eng.Audit.RecordDecision(ctx, dec); err != nil {
		// likely a dedupe race: another worker decided the same record first
		if prev, gerr := eng.Audit.GetDecision(ctx, dec.ContentRecordID); gerr == nil {
			eng.Logger.Debug("lost decision race", "record", dec.ContentRecordID)
			eng.revertPenalty(ctx, dec)
			return prev, nil
		}
		return nil, fmt.Errorf("recording decision: %w", err)
	}

	var queueErr error
	if dec.RequiresReview {
		item := queue.NewItem(dec, gc.QueueTTLOrDefault())
		if err := eng.Queue.Enqueue(ctx, item); err != nil {
			// the decision stands; surface the queue outage loudly
			eng.Logger.Error("review queue unavailable, decision recorded without review item",
				"record", dec.ContentRecordID, "err", err)
			queueErr = fmt.Errorf("enqueueing review item: %w", err)
		} else if err := rec.AdvanceTo(message.StageQueued); err != nil {
			return nil, err
		}
	}

	eng.sideEffects(ctx, gc, dec)
	return dec, queueErr
}

// revertPenalty undoes this worker's reputation penalty after losing the
// decision race: the winner's decision carries the only penalty for the
// record.
func (eng *Engine) revertPenalty(ctx context.Context, dec *policy.Decision) {
	if dec.ReputationDelta == 0 {
		return
	}
	_, err := eng.Reputation.Adjust(ctx, dec.GroupID, dec.UserID, -dec.ReputationDelta,
		fmt.Sprintf("reverting duplicate penalty for record %s", dec.ContentRecordID), "policy-engine")
	if err != nil {
		eng.Logger.Error("failed to revert duplicate penalty", "record", dec.ContentRecordID, "err", err)
	}
}

// sideEffects runs enforcement and notification; both are best effort and
// never change the recorded decision. A failed or quota-tripped enforcement
// falls back to queueing the item for human review.
func (eng *Engine) sideEffects(ctx context.Context, gc *config.GroupConfig, dec *policy.Decision) {
	if eng.Executor != nil && dec.Action.Enforcing() {
		if _, err := eng.Executor.Execute(ctx, dec); err != nil {
			eng.Logger.Error("enforcement failed, routing to review", "record", dec.ContentRecordID, "action", dec.Action, "err", err)
			if !dec.RequiresReview {
				item := queue.NewItem(dec, gc.QueueTTLOrDefault())
				if qerr := eng.Queue.Enqueue(ctx, item); qerr != nil {
					eng.Logger.Error("review fallback enqueue failed", "record", dec.ContentRecordID, "err", qerr)
				}
			}
		}
	}
	if eng.Notifier != nil {
		if err := eng.Notifier.NotifyDecision(ctx, dec); err != nil {
			eng.Logger.Warn("decision notification failed", "record", dec.ContentRecordID, "err", err)
		}
	}
}

// MarkDeleted notes a platform-side deletion so later delete enforcement for
// the message becomes a no-op.
func (eng *Engine) MarkDeleted(recordID string) {
	if eng.Executor != nil {
		eng.Executor.MarkDeleted(recordID)
	}
}

// ResolveQueueItem applies a reviewer's resolution and closes the feedback
// loop: reputation reverts, analyzer tallies, audit, notification.
func (eng *Engine) ResolveQueueItem(ctx context.Context, id, reviewer string, res queue.Resolution) (*queue.Item, error) {
	item, err := eng.Queue.Resolve(ctx, id, reviewer, res)
	if err != nil {
		return nil, err
	}
	if item.Status != queue.StatusResolved {
		// escalation: back to pending, no feedback yet
		return item, nil
	}
	evt, err := eng.Feedback.Apply(ctx, item)
	if err != nil {
		return item, fmt.Errorf("applying feedback for %s: %w", id, err)
	}
	if err := eng.Audit.RecordFeedback(ctx, evt); err != nil {
		eng.Logger.Error("failed to record feedback event", "record", id, "err", err)
	}
	if eng.Notifier != nil {
		if err := eng.Notifier.NotifyFeedback(ctx, evt); err != nil {
			eng.Logger.Warn("feedback notification failed", "record", id, "err", err)
		}
	}
	return item, nil
}

// RunQueueExpiry expires overdue review items on a fixed interval until ctx
// is done.
func (eng *Engine) RunQueueExpiry(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			expired, err := eng.Queue.Expire(ctx, now.UTC())
			if err != nil {
				eng.Logger.Error("queue expiry sweep failed", "err", err)
				continue
			}
			for _, it := range expired {
				eng.Logger.Info("review item expired unreviewed", "record", it.ID, "group", it.GroupID)
			}
		}
	}
}
