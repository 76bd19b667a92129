package analyzer

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/vigil-mod/vigil/cachestore"
	"github.com/vigil-mod/vigil/extract"
	"github.com/vigil-mod/vigil/message"
)

func record(group, user, raw string) *message.ContentRecord {
	rec := &message.ContentRecord{ID: "rec", GroupID: group, UserID: user, RawText: raw}
	extract.Apply(rec)
	return rec
}

func testWindow() *RecentWindow {
	return NewRecentWindow(cachestore.NewMemCacheStore(100, time.Hour), 20)
}

func TestSpamAnalyzerRepeatedPhrase(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	win := testWindow()
	sa := NewSpamAnalyzer(win, 0)

	rec := record("g1", "u1", "buy my course http://course.example.com http://course.example.com now")
	assert.NoError(win.Add(ctx, "g1", "u1", rec.NormalizedText))
	assert.NoError(win.Add(ctx, "g1", "u1", rec.NormalizedText))

	results, err := sa.Analyze(ctx, rec)
	assert.NoError(err)
	assert.Len(results, 1)
	assert.Equal(CategorySpam, results[0].Category)
	assert.Greater(results[0].RiskScore, 0.5)
	assert.NotEmpty(results[0].Reasons)
}

func TestSpamAnalyzerFrequencyLimit(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	sa := NewSpamAnalyzer(testWindow(), 2)

	// repeat lookups reuse the cached limiter
	assert.Same(sa.userLimiter("g1", "u1"), sa.userLimiter("g1", "u1"))

	texts := []string{
		"first perfectly normal message",
		"second perfectly normal message",
		"third perfectly normal message",
	}
	var last []AnalysisResult
	for _, txt := range texts {
		var err error
		last, err = sa.Analyze(ctx, record("g1", "u1", txt))
		assert.NoError(err)
	}
	if assert.Len(last, 1) && assert.NotEmpty(last[0].Reasons) {
		assert.Greater(last[0].RiskScore, 0.0)
		assert.Contains(last[0].Reasons[0], "frequency")
	}
}

func TestSpamAnalyzerCleanMessage(t *testing.T) {
	assert := assert.New(t)

	sa := NewSpamAnalyzer(testWindow(), 0)
	results, err := sa.Analyze(context.Background(), record("g1", "u1", "good morning all, how is everyone doing"))
	assert.NoError(err)
	assert.Equal(0.0, results[0].RiskScore)
}

func TestToxicityAnalyzer(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	ta := NewToxicityAnalyzer(nil)

	results, err := ta.Analyze(ctx, record("g1", "u1", "you are an IDIOT and a MORON and WORTHLESS"))
	assert.NoError(err)
	assert.Greater(results[0].RiskScore, 0.5)

	results, err = ta.Analyze(ctx, record("g1", "u1", "lovely weather today"))
	assert.NoError(err)
	assert.Equal(0.0, results[0].RiskScore)
}

func TestDuplicateAnalyzer(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	win := testWindow()
	da := NewDuplicateAnalyzer(win)

	original := record("g1", "u1", "join my channel for daily signals")
	assert.NoError(win.Add(ctx, "g1", "u1", original.NormalizedText))

	// exact duplicate from a different user
	dupe := record("g1", "u2", "join my channel for daily signals")
	results, err := da.Analyze(ctx, dupe)
	assert.NoError(err)
	assert.Equal(1.0, results[0].RiskScore)

	// near duplicate
	near := record("g1", "u3", "join my channel for daily signalz")
	results, err = da.Analyze(ctx, near)
	assert.NoError(err)
	assert.InDelta(0.7, results[0].RiskScore, 0.001)

	// unrelated
	other := record("g1", "u4", "completely different topic over here")
	results, err = da.Analyze(ctx, other)
	assert.NoError(err)
	assert.Equal(0.0, results[0].RiskScore)
}

func TestScamAnalyzer(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	sa := NewScamAnalyzer()

	results, err := sa.Analyze(ctx, record("g1", "u1", "send 1 eth and get double back, act now http://wallet.example.com"))
	assert.NoError(err)
	assert.Greater(results[0].RiskScore, 0.8)

	results, err = sa.Analyze(ctx, record("g1", "u1", "share your seed phrase to verify your wallet"))
	assert.NoError(err)
	assert.GreaterOrEqual(results[0].RiskScore, 0.95)

	results, err = sa.Analyze(ctx, record("g1", "u1", "anyone watched the game last night"))
	assert.NoError(err)
	assert.Equal(0.0, results[0].RiskScore)
}

func TestRemoteAnalyzer(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal("/score", r.URL.Path)
		assert.Equal("Bearer tok", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"scores":{"toxicity":{"score":0.85,"confidence":0.95,"reasons":["model verdict"]}}}`))
	}))
	defer srv.Close()

	ra := NewRemoteAnalyzer("remote-tox", srv.URL, "tok", []Category{CategoryToxicity})
	results, err := ra.Analyze(ctx, record("g1", "u1", "whatever"))
	assert.NoError(err)
	assert.Len(results, 1)
	assert.Equal(0.85, results[0].RiskScore)
	assert.Equal(0.95, results[0].Confidence)
}

func TestWindowCap(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	win := NewRecentWindow(cachestore.NewMemCacheStore(100, time.Hour), 3)
	for _, txt := range []string{"one", "two", "three", "four"} {
		assert.NoError(win.Add(ctx, "g1", "u1", txt))
	}
	entries, err := win.Entries(ctx, "g1")
	assert.NoError(err)
	assert.Len(entries, 3)
	assert.Equal("two", entries[0].Text)
}
