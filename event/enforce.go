package event

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"

	"github.com/vigil-mod/vigil/countstore"
	"github.com/vigil-mod/vigil/policy"
)

// per-group daily enforcement quotas; exceeding one trips the breaker and
// converts the action to a review queue entry upstream
const (
	QuotaDeleteDay = 500
	QuotaMuteDay   = 100
	QuotaBanDay    = 25
)

type enforceRequest struct {
	RecordID string `json:"record_id"`
	GroupID  string `json:"group_id"`
	UserID   string `json:"user_id"`
	Action   string `json:"action"`
	Reason   string `json:"reason"`
}

// Executor delivers enforcement actions to the chat platform gateway. It
// rate-limits outbound calls, enforces per-group daily quotas, and skips
// deletes for messages already gone from the platform.
type Executor struct {
	Logger    *slog.Logger
	Host      string
	AuthToken string
	Counts    countstore.CountStore

	client  *http.Client
	limiter *rate.Limiter
	deleted *expirable.LRU[string, struct{}]
}

func NewExecutor(logger *slog.Logger, host, authToken string, counts countstore.CountStore) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	rc := retryablehttp.NewClient()
	rc.RetryMax = 3
	rc.Logger = nil
	return &Executor{
		Logger:    logger,
		Host:      host,
		AuthToken: authToken,
		Counts:    counts,
		client:    rc.StandardClient(),
		limiter:   rate.NewLimiter(rate.Limit(20), 40),
		deleted:   expirable.NewLRU[string, struct{}](10000, nil, time.Hour),
	}
}

// MarkDeleted records that the platform already removed the message, so a
// later delete decision becomes a no-op instead of a gateway error.
func (x *Executor) MarkDeleted(recordID string) {
	x.deleted.Add(recordID, struct{}{})
}

func quotaFor(action policy.Action) int {
	switch action {
	case policy.ActionDelete:
		return QuotaDeleteDay
	case policy.ActionMute:
		return QuotaMuteDay
	case policy.ActionBan:
		return QuotaBanDay
	default:
		return 0
	}
}

// overQuota checks and advances the group's daily counter for the action.
// Count store failure fails open: enforcement proceeds, quotas degrade.
func (x *Executor) overQuota(ctx context.Context, dec *policy.Decision) bool {
	quota := quotaFor(dec.Action)
	if quota == 0 {
		return false
	}
	name := "enforce-" + string(dec.Action)
	c, err := x.Counts.GetCount(ctx, name, dec.GroupID, countstore.PeriodDay)
	if err != nil {
		x.Logger.Warn("quota lookup failed, enforcing anyway", "group", dec.GroupID, "action", dec.Action, "err", err)
		return false
	}
	if c >= quota {
		x.Logger.Warn("enforcement quota tripped", "group", dec.GroupID, "action", dec.Action, "count", c)
		quotaTrippedCount.WithLabelValues(string(dec.Action)).Inc()
		return true
	}
	if err := x.Counts.IncrementPeriod(ctx, name, dec.GroupID, countstore.PeriodDay); err != nil {
		x.Logger.Warn("quota increment failed", "group", dec.GroupID, "err", err)
	}
	return false
}

// Execute carries out an enforcing decision. Returns (executed, err);
// executed is false for no-ops and quota trips.
func (x *Executor) Execute(ctx context.Context, dec *policy.Decision) (bool, error) {
	if !dec.Action.Enforcing() {
		return false, nil
	}
	if dec.Action == policy.ActionDelete {
		if _, gone := x.deleted.Get(dec.ContentRecordID); gone {
			x.Logger.Debug("skipping delete of already-removed message", "record", dec.ContentRecordID)
			return false, nil
		}
	}
	if x.overQuota(ctx, dec) {
		return false, fmt.Errorf("daily %s quota exceeded for group %s", dec.Action, dec.GroupID)
	}
	if err := x.limiter.Wait(ctx); err != nil {
		return false, err
	}

	body, err := json.Marshal(enforceRequest{
		RecordID: dec.ContentRecordID,
		GroupID:  dec.GroupID,
		UserID:   dec.UserID,
		Action:   string(dec.Action),
		Reason:   dec.Reason,
	})
	if err != nil {
		return false, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, x.Host+"/enforce", bytes.NewReader(body))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/json")
	if x.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+x.AuthToken)
	}
	resp, err := x.client.Do(req)
	if err != nil {
		enforceCount.WithLabelValues(string(dec.Action), "error").Inc()
		return false, fmt.Errorf("enforcement request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		enforceCount.WithLabelValues(string(dec.Action), "error").Inc()
		return false, fmt.Errorf("enforcement request failed, status=%d", resp.StatusCode)
	}
	enforceCount.WithLabelValues(string(dec.Action), "ok").Inc()
	return true, nil
}
