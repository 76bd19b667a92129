package analyzer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/vigil-mod/vigil/message"
)

// RemoteAnalyzer scores records via an external HTTP scoring service (for
// example an ML toxicity model behind an API). The request carries the
// record's normalized text; the response maps category name to score and
// confidence. Network suspension happens here, under the per-analyzer
// timeout carried by ctx.
type RemoteAnalyzer struct {
	Host       string
	AuthToken  string
	Client     *http.Client
	name       string
	categories []Category
}

var _ Analyzer = (*RemoteAnalyzer)(nil)

// NewRemoteAnalyzer builds a remote analyzer with retrying HTTP defaults.
// Retries stay within the analyzer timeout because the request context is
// honored by the retry client.
func NewRemoteAnalyzer(name, host, authToken string, categories []Category) *RemoteAnalyzer {
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = 2
	retryClient.RetryWaitMin = 100 * time.Millisecond
	retryClient.RetryWaitMax = 1 * time.Second
	retryClient.Logger = nil
	return &RemoteAnalyzer{
		Host:       host,
		AuthToken:  authToken,
		Client:     retryClient.StandardClient(),
		name:       name,
		categories: categories,
	}
}

func (r *RemoteAnalyzer) Name() string { return r.name }

func (r *RemoteAnalyzer) Categories() []Category { return r.categories }

type remoteScoreRequest struct {
	RecordID string `json:"record_id"`
	GroupID  string `json:"group_id"`
	Text     string `json:"text"`
}

type remoteScoreResponse struct {
	Scores map[string]struct {
		Score      float64  `json:"score"`
		Confidence float64  `json:"confidence"`
		Reasons    []string `json:"reasons,omitempty"`
	} `json:"scores"`
}

func (r *RemoteAnalyzer) Analyze(ctx context.Context, rec *message.ContentRecord) ([]AnalysisResult, error) {
	start := time.Now()

	body, err := json.Marshal(remoteScoreRequest{
		RecordID: rec.ID,
		GroupID:  rec.GroupID,
		Text:     rec.NormalizedText,
	})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, "POST", r.Host+"/score", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if r.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+r.AuthToken)
	}

	resp, err := r.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("remote scorer request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("remote scorer status %d", resp.StatusCode)
	}

	var parsed remoteScoreResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("remote scorer response: %w", err)
	}

	dur := time.Since(start)
	var out []AnalysisResult
	for _, cat := range r.categories {
		sc, ok := parsed.Scores[string(cat)]
		if !ok {
			continue
		}
		out = append(out, AnalysisResult{
			Analyzer:   r.name,
			Category:   cat,
			RiskScore:  sc.Score,
			Confidence: sc.Confidence,
			Reasons:    sc.Reasons,
			Duration:   dur,
		})
	}
	return out, nil
}
