package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/vigil-mod/vigil/message"
)

func TestNormalizeText(t *testing.T) {
	assert := assert.New(t)

	assert.Equal("hello world", NormalizeText("Hello World"))
	// zero-width joiner stripped
	assert.Equal("spam", NormalizeText("sp‍am"))
	// zero-width no-break space and soft hyphen stripped
	assert.Equal("scam", NormalizeText("sc\ufeffa\u00adm"))
	// cyrillic homoglyphs folded
	assert.Equal("crypto", NormalizeText("сrуptо"))
	// combining accents stripped
	assert.Equal("cafe", NormalizeText("café"))
	assert.Equal("", NormalizeText(""))
}

func TestTokenizeText(t *testing.T) {
	assert := assert.New(t)

	assert.Equal([]string{"free", "money", "now"}, TokenizeText("FREE money!! now"))
	assert.Empty(TokenizeText("!!! ???"))
}

func TestExtractURLs(t *testing.T) {
	assert := assert.New(t)

	urls := ExtractURLs("check https://Example.com/path and bit.ly/abc")
	assert.Len(urls, 2)
	assert.Contains(urls[0], "example.com/path")
}

func TestExtractMentions(t *testing.T) {
	assert := assert.New(t)

	assert.Equal([]string{"alice", "bob"}, ExtractMentions("cc @alice and @Bob"))
	assert.Empty(ExtractMentions("no mentions here"))
}

func TestCapslockRatio(t *testing.T) {
	assert := assert.New(t)

	assert.Equal(1.0, CapslockRatio("BUY NOW"))
	assert.Equal(0.0, CapslockRatio("buy now"))
	assert.Equal(0.0, CapslockRatio("12345 !!!"))
	assert.InDelta(0.5, CapslockRatio("ABcd"), 0.001)
}

func TestRepetitionRatio(t *testing.T) {
	assert := assert.New(t)

	assert.Equal(0.0, RepetitionRatio([]string{"a", "b", "c"}))
	assert.InDelta(0.75, RepetitionRatio([]string{"x", "x", "x", "x"}), 0.001)
	assert.Equal(0.0, RepetitionRatio(nil))
}

func TestEmojiDensity(t *testing.T) {
	assert := assert.New(t)

	assert.Equal(0.0, EmojiDensity("plain text"))
	assert.Equal(1.0, EmojiDensity("🔥🔥🔥"))
	assert.Greater(EmojiDensity("hi 🔥"), 0.0)
}

func TestApplyDeterministic(t *testing.T) {
	assert := assert.New(t)

	mk := func() *message.ContentRecord {
		return &message.ContentRecord{
			ID:      "m1",
			RawText: "FREE crypto!! 🔥 https://scam.example.com @victim",
		}
	}
	a, b := mk(), mk()
	Apply(a)
	Apply(b)
	assert.Equal(a.NormalizedText, b.NormalizedText)
	assert.Equal(a.Links, b.Links)
	assert.Equal(a.Mentions, b.Mentions)
	assert.Equal(a.Features, b.Features)
	assert.NotEmpty(a.Links)
	assert.Equal([]string{"victim"}, a.Mentions)
	assert.Greater(a.Features.CapslockRatio, 0.0)
}
