package analyzer

import (
	"context"
	"fmt"
	"time"

	"github.com/vigil-mod/vigil/message"
)

// DuplicateAnalyzer detects exact and near-duplicate messages against the
// group's recent-message window, using content hashes for exact matches and
// token-level edit distance for near matches.
type DuplicateAnalyzer struct {
	Window *RecentWindow
	// normalized edit distance below which two messages count as near-dupes
	Threshold float64
}

var _ Analyzer = (*DuplicateAnalyzer)(nil)

func NewDuplicateAnalyzer(window *RecentWindow) *DuplicateAnalyzer {
	return &DuplicateAnalyzer{
		Window:    window,
		Threshold: 0.25,
	}
}

func (d *DuplicateAnalyzer) Name() string { return "near-duplicate" }

func (d *DuplicateAnalyzer) Categories() []Category { return []Category{CategoryDuplicate} }

func (d *DuplicateAnalyzer) Analyze(ctx context.Context, rec *message.ContentRecord) ([]AnalysisResult, error) {
	start := time.Now()

	res := AnalysisResult{
		Analyzer:   d.Name(),
		Category:   CategoryDuplicate,
		Confidence: 0.9,
		Duration:   0,
	}

	if d.Window == nil || rec.NormalizedText == "" {
		res.Confidence = 0
		res.Duration = time.Since(start)
		return []AnalysisResult{res}, nil
	}

	entries, err := d.Window.Entries(ctx, rec.GroupID)
	if err != nil {
		return nil, fmt.Errorf("reading recent window: %w", err)
	}

	hash := HashOfText(rec.NormalizedText)
	var exact, near int
	for _, e := range entries {
		if e.Hash == hash {
			exact++
			continue
		}
		// edit distance is worth computing only for comparable lengths
		if len(e.Text) == 0 || !comparableLength(len(e.Text), len(rec.NormalizedText)) {
			continue
		}
		if normalizedEditDistance(e.Text, rec.NormalizedText) < d.Threshold {
			near++
		}
	}

	switch {
	case exact > 0:
		res.RiskScore = 1.0
		res.Reasons = append(res.Reasons, fmt.Sprintf("exact duplicate of %d recent message(s)", exact))
	case near > 0:
		res.RiskScore = 0.7
		res.Confidence = 0.75
		res.Reasons = append(res.Reasons, fmt.Sprintf("near-duplicate of %d recent message(s)", near))
	}

	res.Duration = time.Since(start)
	return []AnalysisResult{res}, nil
}

func comparableLength(a, b int) bool {
	if a > b {
		a, b = b, a
	}
	return b <= a*2
}

// normalizedEditDistance is levenshtein(a,b) / max(len(a),len(b)), computed
// over bytes with a two-row table. Inputs are already normalized text.
func normalizedEditDistance(a, b string) float64 {
	if a == b {
		return 0
	}
	if len(a) == 0 || len(b) == 0 {
		return 1
	}
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := 0; j <= len(b); j++ {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, min(curr[j-1]+1, prev[j-1]+cost))
		}
		prev, curr = curr, prev
	}
	max := len(a)
	if len(b) > max {
		max = len(b)
	}
	return float64(prev[len(b)]) / float64(max)
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
