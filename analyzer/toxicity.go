package analyzer

import (
	"context"
	"fmt"
	"time"

	"github.com/vigil-mod/vigil/extract"
	"github.com/vigil-mod/vigil/message"
)

// ToxicityAnalyzer scores messages against a weighted term lexicon, with a
// boost for shouting. The lexicon is injected so deployments can load their
// own (the built-in default is intentionally mild).
type ToxicityAnalyzer struct {
	// token -> weight in (0,1]
	Lexicon map[string]float64
}

var _ Analyzer = (*ToxicityAnalyzer)(nil)

// DefaultToxicityLexicon is a small starter list; production deployments
// load a group-appropriate lexicon from config.
func DefaultToxicityLexicon() map[string]float64 {
	return map[string]float64{
		"idiot":     0.4,
		"moron":     0.4,
		"stupid":    0.3,
		"trash":     0.3,
		"loser":     0.35,
		"kys":       0.9,
		"die":       0.5,
		"worthless": 0.5,
	}
}

func NewToxicityAnalyzer(lexicon map[string]float64) *ToxicityAnalyzer {
	if lexicon == nil {
		lexicon = DefaultToxicityLexicon()
	}
	return &ToxicityAnalyzer{Lexicon: lexicon}
}

func (t *ToxicityAnalyzer) Name() string { return "toxicity-lexicon" }

func (t *ToxicityAnalyzer) Categories() []Category { return []Category{CategoryToxicity} }

func (t *ToxicityAnalyzer) Analyze(ctx context.Context, rec *message.ContentRecord) ([]AnalysisResult, error) {
	start := time.Now()
	tokens := extract.TokenizeText(rec.NormalizedText)

	// max term weight, with a small bump per additional hit
	var maxWeight float64
	var reasons []string
	for _, tok := range tokens {
		if w, ok := t.Lexicon[tok]; ok {
			if w > maxWeight {
				maxWeight = w
			}
			reasons = append(reasons, fmt.Sprintf("matched term %q", tok))
		}
	}
	score := maxWeight
	if len(reasons) > 1 {
		score += 0.05 * float64(len(reasons)-1)
	}

	// shouting amplifies an already-toxic message, it is not toxic on its own
	if score > 0 && rec.Features.CapslockRatio > 0.7 && len(tokens) >= 3 {
		score += 0.1
		reasons = append(reasons, "sustained capslock")
	}
	if score > 1 {
		score = 1
	}

	confidence := 0.7
	if len(reasons) == 0 {
		// absence of lexicon hits is weak evidence of civility
		confidence = 0.5
	}

	return []AnalysisResult{{
		Analyzer:   t.Name(),
		Category:   CategoryToxicity,
		RiskScore:  score,
		Confidence: confidence,
		Reasons:    reasons,
		Duration:   time.Since(start),
	}}, nil
}
