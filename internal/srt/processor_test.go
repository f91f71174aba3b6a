package srt

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempSRT(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "movie.srt")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const dialogueSRT = "1\n00:01:00,000 --> 00:01:02,000\nFirst line.\n\n2\n00:01:05,000 --> 00:01:07,000\nSecond line.\n"

func TestProcessInsertsIntro(t *testing.T) {
	path := writeTempSRT(t, dialogueSRT)
	p := NewProcessor(500)

	res := p.Process(path, testMeta, ProcessOptions{Format: DefaultFormatOptions()})
	require.True(t, res.Success, res.Error)
	assert.Equal(t, "Processed", res.Status)
	assert.Equal(t, "Heat", res.Title)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	out := string(raw)

	// The sentinel persists on disk so later scans can detect the block.
	assert.Contains(t, out, Sentinel)
	assert.Contains(t, out, "Heat")
	assert.Contains(t, out, "First line.")

	// Original caption timing untouched.
	blocks := Parse(out)
	var found bool
	for _, b := range blocks {
		if b.Text == "First line." {
			assert.Equal(t, 60000, b.Start)
			assert.Equal(t, 62000, b.End)
			found = true
		}
	}
	assert.True(t, found)

	// Indices are sequential from 1.
	for i, b := range blocks {
		assert.Equal(t, i+1, b.Index)
	}
}

func TestProcessIdempotent(t *testing.T) {
	path := writeTempSRT(t, dialogueSRT)
	p := NewProcessor(500)

	first := p.Process(path, testMeta, ProcessOptions{Format: DefaultFormatOptions()})
	require.True(t, first.Success)
	afterFirst, err := os.ReadFile(path)
	require.NoError(t, err)

	second := p.Process(path, testMeta, ProcessOptions{Format: DefaultFormatOptions()})
	require.True(t, second.Success)
	assert.Equal(t, "Skipped", second.Status)
	assert.Equal(t, "Heat", second.Title)
	assert.Equal(t, "1995", second.Year)
	assert.Equal(t, "8.3", second.IMDbRating)

	afterSecond, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, afterFirst, afterSecond)
	assert.Equal(t, 1, CountPlotMarkers(string(afterSecond)))
}

func TestProcessIdempotentPositionEndLongFile(t *testing.T) {
	// Enough captions to push an end-positioned block past the head scan.
	var b strings.Builder
	for i := 0; i < 30; i++ {
		start := 60000 + i*3000
		fmt.Fprintf(&b, "%d\n%s --> %s\nDialogue line %d.\n\n", i+1, msToTimecode(start), msToTimecode(start+2000), i+1)
	}
	path := writeTempSRT(t, b.String())
	p := NewProcessor(500)

	first := p.Process(path, testMeta, ProcessOptions{Position: PositionEnd, Format: DefaultFormatOptions()})
	require.True(t, first.Success, first.Error)
	assert.Equal(t, "Processed", first.Status)
	assert.True(t, p.HasPlotFast(path))
	afterFirst, err := os.ReadFile(path)
	require.NoError(t, err)

	second := p.Process(path, testMeta, ProcessOptions{Position: PositionEnd, Format: DefaultFormatOptions()})
	require.True(t, second.Success)
	assert.Equal(t, "Skipped", second.Status)

	afterSecond, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, afterFirst, afterSecond)
	assert.Equal(t, 1, CountPlotMarkers(string(afterSecond)))
}

func TestProcessForceReprocessReplacesBlocks(t *testing.T) {
	path := writeTempSRT(t, dialogueSRT)
	p := NewProcessor(500)

	require.True(t, p.Process(path, testMeta, ProcessOptions{Format: DefaultFormatOptions()}).Success)

	other := testMeta
	other.Title = "The Insider"
	other.Year = "1999"
	res := p.Process(path, other, ProcessOptions{ForceReprocess: true, Format: DefaultFormatOptions()})
	require.True(t, res.Success)
	assert.Equal(t, "Processed", res.Status)

	raw, _ := os.ReadFile(path)
	out := string(raw)
	assert.Contains(t, out, "The Insider")
	assert.NotContains(t, out, "Heat (1995)")
	assert.Equal(t, 1, CountPlotMarkers(out))
}

func TestProcessPositionEnd(t *testing.T) {
	path := writeTempSRT(t, dialogueSRT)
	p := NewProcessor(500)

	res := p.Process(path, testMeta, ProcessOptions{Position: PositionEnd, Format: DefaultFormatOptions()})
	require.True(t, res.Success, res.Error)

	raw, _ := os.ReadFile(path)
	blocks := Parse(string(raw))
	require.Greater(t, len(blocks), 2)
	assert.Equal(t, "First line.", blocks[0].Text)
	last := blocks[len(blocks)-1]
	assert.GreaterOrEqual(t, last.Start, 67000+500)
	assert.Contains(t, string(raw), "Heat")
}

func TestProcessPositionIndex(t *testing.T) {
	// A wide gap after the first caption holds the metadata.
	content := "1\n00:00:01,000 --> 00:00:02,000\nCold open.\n\n2\n00:01:00,000 --> 00:01:02,000\nLater line.\n"
	path := writeTempSRT(t, content)
	p := NewProcessor(500)

	res := p.Process(path, testMeta, ProcessOptions{Position: PositionIndex, Format: DefaultFormatOptions()})
	require.True(t, res.Success, res.Error)

	blocksOut := func() []Block {
		raw, err := os.ReadFile(path)
		require.NoError(t, err)
		return Parse(string(raw))
	}()
	require.Greater(t, len(blocksOut), 2)
	assert.Equal(t, "Cold open.", blocksOut[0].Text)
	assert.Contains(t, blocksOut[1].Text, "Heat")
	for _, b := range blocksOut[1 : len(blocksOut)-1] {
		assert.GreaterOrEqual(t, b.Start, 2000)
		assert.Less(t, b.End, 60000)
	}
	assert.Equal(t, "Later line.", blocksOut[len(blocksOut)-1].Text)
}

func TestProcessRejectsBadInput(t *testing.T) {
	p := NewProcessor(500)

	res := p.Process(filepath.Join(t.TempDir(), "missing.srt"), testMeta, ProcessOptions{})
	assert.False(t, res.Success)
	assert.Equal(t, "file not found", res.Error)

	empty := testMeta
	empty.Plot = "  "
	path := writeTempSRT(t, dialogueSRT)
	res = p.Process(path, empty, ProcessOptions{})
	assert.False(t, res.Success)
	assert.Equal(t, "empty plot", res.Error)

	garbage := writeTempSRT(t, "this is not an srt file at all")
	res = p.Process(garbage, testMeta, ProcessOptions{})
	assert.False(t, res.Success)
}

func TestProcessCleansAdBlocks(t *testing.T) {
	content := "1\n00:01:00,000 --> 00:01:02,000\nDownloaded from YTS.MX\n\n2\n00:01:05,000 --> 00:01:07,000\nReal dialogue here.\n"
	path := writeTempSRT(t, content)
	p := NewProcessor(500)

	res := p.Process(path, testMeta, ProcessOptions{CleanContent: true, Format: DefaultFormatOptions()})
	require.True(t, res.Success, res.Error)

	raw, _ := os.ReadFile(path)
	out := string(raw)
	assert.NotContains(t, strings.ToLower(out), "yts")
	assert.Contains(t, out, "Real dialogue here.")
}

func TestHasPlotFast(t *testing.T) {
	p := NewProcessor(500)

	plain := writeTempSRT(t, dialogueSRT)
	assert.False(t, p.HasPlotFast(plain))

	legacy := writeTempSRT(t, "1\n00:00:00,000 --> 00:00:03,000\nHeat (1995)\n— "+LegacySignature+"\n\n"+dialogueSRT)
	assert.True(t, p.HasPlotFast(legacy))
}

func TestExtractExistingPlot(t *testing.T) {
	path := writeTempSRT(t, dialogueSRT)
	p := NewProcessor(500)
	require.True(t, p.Process(path, testMeta, ProcessOptions{Format: DefaultFormatOptions()}).Success)

	plot := p.ExtractExistingPlot(path)
	assert.Contains(t, testMeta.Plot, strings.Split(plot, "\n")[0])
}

func TestIsAdBlock(t *testing.T) {
	assert.True(t, IsAdBlock("Downloaded from YTS.MX"))
	assert.True(t, IsAdBlock("www.OpenSubtitles.org\nSupport us and become VIP member"))
	assert.True(t, IsAdBlock("-=== RARBG ===-"))
	assert.False(t, IsAdBlock("I downloaded the files from the server, sir."))
	assert.False(t, IsAdBlock("Real dialogue."))
}

func TestCleanAdText(t *testing.T) {
	got := CleanAdText("Real line one\nSubtitles by SomeGroup\nReal line two")
	assert.Contains(t, got, "Real line one")
	assert.Contains(t, got, "Real line two")
	assert.NotContains(t, got, "Subtitles by")

	// Overlapping site-name and URL patterns must leave no fragment behind.
	got = CleanAdText("www.OpenSubtitles.org\nReal line")
	assert.Equal(t, "Real line", got)
}
