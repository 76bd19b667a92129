package analyzer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/RussellLuo/slidingwindow"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/vigil-mod/vigil/message"
)

func slidingWindowFunc() (slidingwindow.Window, slidingwindow.StopFunc) {
	return slidingwindow.NewLocalWindow()
}

// SpamAnalyzer scores link flooding, repeated phrases against the group's
// recent-message window, and per-user message frequency.
type SpamAnalyzer struct {
	Window *RecentWindow
	// messages allowed per user per minute before frequency is considered
	// spammy
	PerMinuteLimit int64

	mu sync.Mutex
	// idle users age out instead of accumulating for the process lifetime
	limiters *expirable.LRU[string, *slidingwindow.Limiter]
}

var _ Analyzer = (*SpamAnalyzer)(nil)

func NewSpamAnalyzer(window *RecentWindow, perMinuteLimit int64) *SpamAnalyzer {
	return &SpamAnalyzer{
		Window:         window,
		PerMinuteLimit: perMinuteLimit,
		limiters:       expirable.NewLRU[string, *slidingwindow.Limiter](10000, nil, time.Hour),
	}
}

func (s *SpamAnalyzer) Name() string { return "spam-heuristic" }

func (s *SpamAnalyzer) Categories() []Category { return []Category{CategorySpam} }

func (s *SpamAnalyzer) userLimiter(groupID, userID string) *slidingwindow.Limiter {
	key := groupID + "/" + userID
	s.mu.Lock()
	defer s.mu.Unlock()
	lim, ok := s.limiters.Get(key)
	if !ok {
		lim, _ = slidingwindow.NewLimiter(time.Minute, s.PerMinuteLimit, slidingWindowFunc)
		s.limiters.Add(key, lim)
	}
	return lim
}

func (s *SpamAnalyzer) Analyze(ctx context.Context, rec *message.ContentRecord) ([]AnalysisResult, error) {
	start := time.Now()
	var score float64
	var reasons []string

	if rec.Features.LinkDensity > 0.2 {
		score += 0.35
		reasons = append(reasons, fmt.Sprintf("high link density (%.2f)", rec.Features.LinkDensity))
	}
	if rec.Features.RepetitionRatio > 0.6 {
		score += 0.25
		reasons = append(reasons, fmt.Sprintf("repeated tokens (%.2f)", rec.Features.RepetitionRatio))
	}

	// repeated phrase against the group's recent window
	if s.Window != nil && rec.NormalizedText != "" {
		entries, err := s.Window.Entries(ctx, rec.GroupID)
		if err != nil {
			return nil, fmt.Errorf("reading recent window: %w", err)
		}
		hash := HashOfText(rec.NormalizedText)
		var repeats int
		for _, e := range entries {
			if e.Hash == hash && e.UserID == rec.UserID {
				repeats++
			}
		}
		if repeats >= 2 {
			score += 0.6
			reasons = append(reasons, fmt.Sprintf("same phrase posted %d times recently", repeats))
		}
	}

	// message frequency: Allow() consumes a slot, so the limiter tracks the
	// actual posting rate
	if s.PerMinuteLimit > 0 && !s.userLimiter(rec.GroupID, rec.UserID).Allow() {
		score += 0.3
		reasons = append(reasons, "message frequency above per-minute limit")
	}

	if score > 1 {
		score = 1
	}
	confidence := 0.6
	if len(reasons) >= 2 {
		confidence = 0.85
	}
	if len(reasons) == 0 {
		confidence = 0.9 // confidently not spam
	}

	return []AnalysisResult{{
		Analyzer:   s.Name(),
		Category:   CategorySpam,
		RiskScore:  score,
		Confidence: confidence,
		Reasons:    reasons,
		Duration:   time.Since(start),
	}}, nil
}
