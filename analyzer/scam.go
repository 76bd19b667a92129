package analyzer

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/vigil-mod/vigil/message"
)

// ScamAnalyzer matches common scam shapes: giveaway/doubling pitches,
// urgency pressure combined with links, and requests for wallet or account
// credentials.
type ScamAnalyzer struct{}

var _ Analyzer = (*ScamAnalyzer)(nil)

var (
	doublingRegex   = regexp.MustCompile(`send\s+.{1,30}?(?:get|receive)\s+(?:double|2x|\d+x)`)
	credentialRegex = regexp.MustCompile(`(?:seed\s*phrase|private\s*key|recovery\s*phrase|verify\s+your\s+(?:wallet|account))`)
)

var urgencyTerms = []string{
	"act now", "limited time", "only today", "hurry", "last chance",
	"expires soon", "claim now",
}

var giveawayTerms = []string{
	"free money", "guaranteed profit", "double your", "airdrop",
	"giveaway", "investment opportunity", "passive income",
}

func NewScamAnalyzer() *ScamAnalyzer { return &ScamAnalyzer{} }

func (s *ScamAnalyzer) Name() string { return "scam-pattern" }

func (s *ScamAnalyzer) Categories() []Category { return []Category{CategoryScam} }

func (s *ScamAnalyzer) Analyze(ctx context.Context, rec *message.ContentRecord) ([]AnalysisResult, error) {
	start := time.Now()
	text := rec.NormalizedText

	var score float64
	var reasons []string

	if credentialRegex.MatchString(text) {
		score = 0.95
		reasons = append(reasons, "requests wallet/account credentials")
	}
	if doublingRegex.MatchString(text) {
		if score < 0.85 {
			score = 0.85
		}
		reasons = append(reasons, "payment-doubling pitch")
	}
	for _, term := range giveawayTerms {
		if strings.Contains(text, term) {
			score += 0.3
			reasons = append(reasons, fmt.Sprintf("giveaway language %q", term))
			break
		}
	}
	var urgent bool
	for _, term := range urgencyTerms {
		if strings.Contains(text, term) {
			urgent = true
			break
		}
	}
	// urgency only matters when paired with a link or a pitch
	if urgent && (len(rec.Links) > 0 || score > 0) {
		score += 0.2
		reasons = append(reasons, "urgency pressure with link or pitch")
	}
	if score > 0 && len(rec.Links) > 0 {
		score += 0.1
		reasons = append(reasons, "pitch includes link")
	}
	if score > 1 {
		score = 1
	}

	confidence := 0.8
	if len(reasons) == 0 {
		confidence = 0.6
	}

	return []AnalysisResult{{
		Analyzer:   s.Name(),
		Category:   CategoryScam,
		RiskScore:  score,
		Confidence: confidence,
		Reasons:    reasons,
		Duration:   time.Since(start),
	}}, nil
}
