package extract

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/purell"
	"github.com/rivo/uniseg"

	"github.com/vigil-mod/vigil/message"
)

// based on: https://stackoverflow.com/a/48769624, with no trailing period allowed
var urlRegex = regexp.MustCompile(`(?:(?:https?|ftp):\/\/)?[\w/\-?=%.]+\.[\w/\-&?=%.]*[\w/\-&?=%]+`)

var mentionRegex = regexp.MustCompile(`@[\w.]{2,32}`)

// ExtractURLs returns all URL-shaped substrings, normalized with purell so
// that trivially different spellings of the same link compare equal.
func ExtractURLs(raw string) []string {
	found := urlRegex.FindAllString(raw, -1)
	out := make([]string, 0, len(found))
	for _, u := range found {
		normed, err := purell.NormalizeURLString(u, purell.FlagsUsuallySafeGreedy)
		if err != nil {
			out = append(out, u)
			continue
		}
		out = append(out, normed)
	}
	return out
}

func ExtractMentions(raw string) []string {
	mentions := mentionRegex.FindAllString(raw, -1)
	out := make([]string, 0, len(mentions))
	for _, m := range mentions {
		out = append(out, strings.ToLower(strings.TrimPrefix(m, "@")))
	}
	return out
}

// CapslockRatio is the fraction of cased letters which are upper-case.
func CapslockRatio(raw string) float64 {
	var upper, letters int
	for _, r := range raw {
		if unicode.IsLetter(r) {
			letters++
			if unicode.IsUpper(r) {
				upper++
			}
		}
	}
	if letters == 0 {
		return 0
	}
	return float64(upper) / float64(letters)
}

// RepetitionRatio is 1 - (distinct tokens / total tokens); 0 for text with no
// repeated tokens, approaching 1 for a single token repeated many times.
func RepetitionRatio(tokens []string) float64 {
	if len(tokens) == 0 {
		return 0
	}
	distinct := make(map[string]bool, len(tokens))
	for _, tok := range tokens {
		distinct[tok] = true
	}
	return 1 - float64(len(distinct))/float64(len(tokens))
}

// EmojiDensity is the fraction of grapheme clusters which are emoji (or other
// symbol/pictographic clusters).
func EmojiDensity(raw string) float64 {
	var total, emoji int
	gr := uniseg.NewGraphemes(raw)
	for gr.Next() {
		total++
		rs := gr.Runes()
		if len(rs) > 1 {
			// multi-rune clusters are modifier/ZWJ emoji sequences
			emoji++
			continue
		}
		if rs[0] >= 0x1F000 || unicode.Is(unicode.So, rs[0]) {
			emoji++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(emoji) / float64(total)
}

// Apply runs the full extraction pass over a record: normalization, entity
// extraction, and structural features. Pure aside from the record mutation it
// owns; no I/O, fully deterministic.
func Apply(rec *message.ContentRecord) {
	rec.NormalizedText = NormalizeText(rec.RawText)
	rec.Links = ExtractURLs(rec.NormalizedText)
	rec.Mentions = ExtractMentions(rec.RawText)

	tokens := TokenizeText(rec.NormalizedText)
	rec.Features = message.Features{
		CapslockRatio:   CapslockRatio(rec.RawText),
		RepetitionRatio: RepetitionRatio(tokens),
		EmojiDensity:    EmojiDensity(rec.RawText),
	}
	if len(tokens) > 0 {
		rec.Features.LinkDensity = float64(len(rec.Links)) / float64(len(tokens))
	}
}
