package event

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/vigil-mod/vigil/feedback"
	"github.com/vigil-mod/vigil/policy"
)

type webhookBody struct {
	Text string `json:"text"`
}

// Notifier posts human-readable moderation events to an incoming-webhook URL
// (Slack-compatible). An empty URL disables notification.
type Notifier struct {
	WebhookURL string

	client *http.Client
}

func NewNotifier(webhookURL string) *Notifier {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 2
	rc.Logger = nil
	return &Notifier{WebhookURL: webhookURL, client: rc.StandardClient()}
}

func (n *Notifier) post(ctx context.Context, msg string) error {
	if n.WebhookURL == "" {
		return nil
	}
	body, err := json.Marshal(webhookBody{Text: msg})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("failed webhook POST request, status=%d", resp.StatusCode)
	}
	return nil
}

// NotifyDecision posts enforcing and review-worthy decisions; plain allows
// are too noisy to forward.
func (n *Notifier) NotifyDecision(ctx context.Context, dec *policy.Decision) error {
	if !dec.Action.Enforcing() && !dec.RequiresReview {
		return nil
	}
	rule := "default"
	if dec.TriggeringRule != nil {
		rule = *dec.TriggeringRule
	}
	msg := fmt.Sprintf("moderation: %s user `%s` in group `%s` (rule %s, confidence %.2f): %s",
		dec.Action, dec.UserID, dec.GroupID, rule, dec.AggregateConfidence, dec.Reason)
	if dec.RequiresReview {
		msg += " [queued for review]"
	}
	return n.post(ctx, msg)
}

func (n *Notifier) NotifyFeedback(ctx context.Context, evt *feedback.FeedbackEvent) error {
	msg := fmt.Sprintf("review: record `%s` in group `%s` resolved %s by %s",
		evt.ContentRecordID, evt.GroupID, evt.Resolution, evt.Reviewer)
	if evt.ReputationDelta != 0 {
		msg += fmt.Sprintf(" (reputation %+d)", evt.ReputationDelta)
	}
	return n.post(ctx, msg)
}
