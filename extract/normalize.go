package extract

import (
	"log/slog"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// characters commonly inserted to evade keyword matching
var evasionChars = map[rune]bool{
	'\u200b': true, // zero-width space
	'\u200c': true, // zero-width non-joiner
	'\u200d': true, // zero-width joiner
	'\u2060': true, // word joiner
	'\ufeff': true, // zero-width no-break space
	'\u00ad': true, // soft hyphen
}

// common homoglyph substitutions (cyrillic/greek lookalikes folded to latin)
var homoglyphs = map[rune]rune{
	'а': 'a', 'е': 'e', 'о': 'o', 'р': 'p', 'с': 'c', 'х': 'x',
	'у': 'y', 'і': 'i', 'ѕ': 's', 'ԁ': 'd', 'ո': 'n',
	'α': 'a', 'β': 'b', 'ο': 'o', 'ρ': 'p', 'τ': 't',
	'０': '0', '１': '1', '３': '3', '４': '4', '５': '5',
}

// NormalizeText lower-cases, unicode-normalizes (NFD, strip combining marks,
// NFC), removes zero-width evasion characters, and folds common homoglyphs.
// Deterministic, no I/O.
func NormalizeText(text string) string {
	// the transform chain must be constructed per call to avoid a race on
	// the underlying transformer state
	normFunc := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(normFunc, text)
	if err != nil {
		slog.Warn("unicode normalization error", "err", err)
		out = text
	}
	var b strings.Builder
	b.Grow(len(out))
	for _, r := range strings.ToLower(out) {
		if evasionChars[r] {
			continue
		}
		if folded, ok := homoglyphs[r]; ok {
			r = folded
		}
		b.WriteRune(r)
	}
	return b.String()
}

func splitTokenRune(c rune) bool {
	return !unicode.IsLetter(c) && !unicode.IsNumber(c)
}

// TokenizeText splits normalized free-form text in to lower-case tokens,
// similar to an NLP tokenizer as might be used in a fulltext search engine.
func TokenizeText(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), splitTokenRune)
}
