// Package prefilter implements the cheap allow/deny pattern check which can
// short-circuit the pipeline before any analysis runs.
package prefilter

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/spaolacci/murmur3"
)

// A single allow or deny pattern. Literal patterns match as substrings;
// regex patterns compile once and are cached per group.
type Pattern struct {
	Pattern       string `json:"pattern"`
	Regex         bool   `json:"regex,omitempty"`
	CaseSensitive bool   `json:"case_sensitive,omitempty"`
	// enforcement action for deny hits; empty means "delete"
	Action string `json:"action,omitempty"`
}

// Per-group pattern configuration. Allow hits pass immediately and suppress
// deny checking; deny hits short-circuit the pipeline.
type GroupPatterns struct {
	Allow []Pattern `json:"allow,omitempty"`
	Deny  []Pattern `json:"deny,omitempty"`
}

// Verdict of one pre-filter check.
type Verdict struct {
	// true when any pattern matched
	Matched bool
	// true for an allow-list hit (continue pipeline, skip deny patterns)
	Allowed bool
	// enforcement action for a deny hit
	Action  string
	Pattern string
}

type compiledPattern struct {
	literal       string
	lowerLiteral  string
	re            *regexp.Regexp
	caseSensitive bool
	action        string
}

func (p *compiledPattern) matches(text, lowerText string) bool {
	if p.re != nil {
		return p.re.MatchString(text)
	}
	if p.caseSensitive {
		return strings.Contains(text, p.literal)
	}
	return strings.Contains(lowerText, p.lowerLiteral)
}

type compiledGroup struct {
	fingerprint uint64
	allow       []compiledPattern
	deny        []compiledPattern
}

// Filter compiles group pattern sets on first use and caches the compiled
// form keyed by a fingerprint of the configuration, so hot-reloaded configs
// recompile and stale entries age out. Matching runs in time proportional to
// the pattern count.
type Filter struct {
	Logger *slog.Logger

	cache *expirable.LRU[string, *compiledGroup]
}

func NewFilter(logger *slog.Logger) *Filter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Filter{
		Logger: logger,
		cache:  expirable.NewLRU[string, *compiledGroup](1000, nil, 0),
	}
}

func fingerprint(pats GroupPatterns) uint64 {
	h := murmur3.New64()
	for _, list := range [][]Pattern{pats.Allow, pats.Deny} {
		for _, p := range list {
			fmt.Fprintf(h, "%s/%v/%v/%s\n", p.Pattern, p.Regex, p.CaseSensitive, p.Action)
		}
	}
	return h.Sum64()
}

// compile builds the matcher list; malformed regexes are skipped with a
// warning and treated as non-matching, never fatal.
func (f *Filter) compile(groupID string, pats GroupPatterns) *compiledGroup {
	cg := &compiledGroup{fingerprint: fingerprint(pats)}
	build := func(list []Pattern) []compiledPattern {
		out := make([]compiledPattern, 0, len(list))
		for _, p := range list {
			cp := compiledPattern{
				literal:       p.Pattern,
				lowerLiteral:  strings.ToLower(p.Pattern),
				caseSensitive: p.CaseSensitive,
				action:        p.Action,
			}
			if p.Regex {
				expr := p.Pattern
				if !p.CaseSensitive {
					expr = "(?i)" + expr
				}
				re, err := regexp.Compile(expr)
				if err != nil {
					f.Logger.Warn("skipping malformed prefilter pattern", "group", groupID, "pattern", p.Pattern, "err", err)
					continue
				}
				cp.re = re
			}
			out = append(out, cp)
		}
		return out
	}
	cg.allow = build(pats.Allow)
	cg.deny = build(pats.Deny)
	return cg
}

func (f *Filter) compiled(groupID string, pats GroupPatterns) *compiledGroup {
	if cg, ok := f.cache.Get(groupID); ok && cg.fingerprint == fingerprint(pats) {
		return cg
	}
	cg := f.compile(groupID, pats)
	f.cache.Add(groupID, cg)
	return cg
}

// Check runs the group's patterns over the normalized text. Allow patterns
// are checked first; an allow hit passes the message without consulting deny
// patterns.
func (f *Filter) Check(groupID, normalizedText string, pats GroupPatterns) Verdict {
	cg := f.compiled(groupID, pats)
	lower := strings.ToLower(normalizedText)

	for _, p := range cg.allow {
		if p.matches(normalizedText, lower) {
			return Verdict{Matched: true, Allowed: true, Pattern: p.literal}
		}
	}
	for _, p := range cg.deny {
		if p.matches(normalizedText, lower) {
			action := p.action
			if action == "" {
				action = "delete"
			}
			return Verdict{Matched: true, Action: action, Pattern: p.literal}
		}
	}
	return Verdict{}
}
