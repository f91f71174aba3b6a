package srt

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleSRT = "1\n00:00:10,000 --> 00:00:12,500\nHello there.\n\n2\n00:00:13,000 --> 00:00:15,000\nGeneral Kenobi!\n"

func TestParseBasic(t *testing.T) {
	blocks := Parse(sampleSRT)
	require.Len(t, blocks, 2)
	assert.Equal(t, 10000, blocks[0].Start)
	assert.Equal(t, 12500, blocks[0].End)
	assert.Equal(t, "Hello there.", blocks[0].Text)
	assert.Equal(t, 2, blocks[1].Index)
}

func TestParseBOMAndCRLF(t *testing.T) {
	content := "\uFEFF1\r\n00:00:01,000 --> 00:00:02,000\r\nLine one\r\nLine two\r\n"
	blocks := Parse(content)
	require.Len(t, blocks, 1)
	assert.Equal(t, "Line one\nLine two", blocks[0].Text)
}

func TestParseSkipsMalformedAndEmpty(t *testing.T) {
	content := "garbage line\n\n1\nnot a timecode\n\n2\n00:00:05,000 --> 00:00:06,000\n\n\n3\n00:00:07,000 --> 00:00:08,000\nKept.\n"
	blocks := Parse(content)
	require.Len(t, blocks, 1)
	assert.Equal(t, "Kept.", blocks[0].Text)
}

func TestFormatRoundTrip(t *testing.T) {
	blocks := Parse(sampleSRT)
	assert.Equal(t, sampleSRT, Format(blocks))
}

func TestTimecodeConversion(t *testing.T) {
	ms, err := timecodeToMS("01:02:03,456")
	require.NoError(t, err)
	assert.Equal(t, 3723456, ms)
	assert.Equal(t, "01:02:03,456", msToTimecode(3723456))
	assert.Equal(t, "00:00:00,000", msToTimecode(-5))
}

func TestReadingDurationClamped(t *testing.T) {
	assert.Equal(t, MinDurationMS, ReadingDurationMS("hi"))
	long := strings.Repeat("word ", 100)
	assert.Equal(t, MaxDurationMS, ReadingDurationMS(long))
	// 8 words at 160wpm is exactly 3 seconds
	assert.Equal(t, 3000, ReadingDurationMS("one two three four five six seven eight"))
}

func TestWrapForTV(t *testing.T) {
	wrapped := WrapForTV(strings.Repeat("abcde ", 30))
	lines := strings.Split(wrapped, "\n")
	assert.LessOrEqual(t, len(lines), TVMaxLines)
	assert.True(t, strings.HasSuffix(lines[len(lines)-1], "..."))
	for _, l := range lines {
		assert.LessOrEqual(t, len(l), TVLineWidth+3)
	}
}

func TestSplitPlotChunksPreservesAllWords(t *testing.T) {
	plot := "A retired assassin is pulled back in. His past catches up with him in brutal fashion. " +
		"Old allies become enemies and the city burns around them while he hunts the man who betrayed him."
	chunks := SplitPlotChunks(plot)
	require.Greater(t, len(chunks), 1)

	joined := strings.Join(chunks, " ")
	for _, word := range strings.Fields(plot) {
		assert.Contains(t, joined, word)
	}
	for _, c := range chunks {
		assert.LessOrEqual(t, len(c), TVLineWidth*TVMaxLines)
	}
}

func TestMergeSmallTrailingChunks(t *testing.T) {
	chunks := []string{"A long opening chunk with plenty of words in it.", "from day one."}
	merged := mergeSmallTrailingChunks(chunks)
	require.Len(t, merged, 1)
	assert.Contains(t, merged[0], "from day one.")

	// A trailing fragment that would overflow stays separate.
	big := strings.Repeat("x", TVLineWidth*TVMaxLines-5)
	kept := mergeSmallTrailingChunks([]string{big, "tiny tail"})
	assert.Len(t, kept, 2)
}

func TestSanitizeTextRemovesTokens(t *testing.T) {
	assert.Equal(t, "Plot: something", SanitizeText("{SUBPLOT}\nPlot: something"))
	assert.Equal(t, "text", SanitizeText("{SUBPLOT:v2}text"))
	assert.Equal(t, "text", SanitizeText("{subplot}text"))
}

func TestStripGeneratedBlocks(t *testing.T) {
	blocks := []Block{
		{Index: 1, Start: 0, End: 3000, Text: Sentinel + "\n<b>Heat</b> (1995)"},
		{Index: 2, Start: 3000, End: 6000, Text: "Plot: a heist\n— " + LegacySignature},
		{Index: 3, Start: 0, End: 0, Text: "metadata only"},
		{Index: 4, Start: 6000, End: 7000, Text: "⭐ IMDb: 8.3   🍅 RT: 87%   ⏱ 170 min"},
		{Index: 5, Start: 10000, End: 12000, Text: "Real dialogue."},
	}
	kept := StripGeneratedBlocks(blocks)
	require.Len(t, kept, 1)
	assert.Equal(t, "Real dialogue.", kept[0].Text)
}
