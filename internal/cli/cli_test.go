package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/listenupapp/pagesync-server/internal/chapters"
	"github.com/listenupapp/pagesync-server/internal/narration"
	"github.com/listenupapp/pagesync-server/internal/structure"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCommand()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func writeJSON(t *testing.T, dir, name string, v any) string {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func writeStructure(t *testing.T, dir string, pages ...structure.Page) string {
	t.Helper()
	s := structure.New()
	s.Pages = pages
	s.Metadata.PageCount = len(pages)
	data, err := structure.Encode(s)
	require.NoError(t, err)
	path := filepath.Join(dir, "structure.json")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestVersion(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "pagesync version dev")
}

func TestChaptersGenerate(t *testing.T) {
	out, err := run(t, "chapters", "generate", "--pages", "50", "--per-chapter", "12")
	require.NoError(t, err)

	var list []chapters.Chapter
	require.NoError(t, json.Unmarshal([]byte(out), &list))
	require.Len(t, list, 5)
	assert.Equal(t, "Chapter 1", list[0].Title)
	assert.Equal(t, 49, list[4].StartPage)
	assert.Equal(t, 50, list[4].EndPage)
}

func TestChaptersGenerate_MissingFlag(t *testing.T) {
	_, err := run(t, "chapters", "generate", "--pages", "50")
	assert.Error(t, err)
}

func TestChaptersValidate(t *testing.T) {
	dir := t.TempDir()

	valid := writeJSON(t, dir, "valid.json", []chapters.Chapter{
		{Title: "One", StartPage: 1, EndPage: 5},
		{Title: "Two", StartPage: 6, EndPage: 10},
	})
	out, err := run(t, "chapters", "validate", "--file", valid, "--pages", "10")
	require.NoError(t, err)
	var res chapters.ValidationResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.True(t, res.IsValid)
	assert.InDelta(t, 100.0, res.Coverage, 1e-9)

	overlapping := writeJSON(t, dir, "overlap.json", []chapters.Chapter{
		{Title: "One", StartPage: 1, EndPage: 6},
		{Title: "Two", StartPage: 5, EndPage: 10},
	})
	out, err = run(t, "chapters", "validate", "--file", overlapping, "--pages", "10")
	assert.ErrorIs(t, err, ErrInvalidConfiguration)
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.False(t, res.IsValid)
	assert.NotEmpty(t, res.Errors)
}

func TestChaptersDetect_RejectsUnknownStrategy(t *testing.T) {
	dir := t.TempDir()
	path := writeStructure(t, dir, structure.NewPage(1, structure.NewTextBlock("b1", "text")))

	_, err := run(t, "chapters", "detect", "--structure", path, "--strategy", "magic")
	assert.Error(t, err)
}

func TestAlignTiming(t *testing.T) {
	dir := t.TempDir()
	path := writeStructure(t, dir, structure.NewPage(1,
		structure.NewTextBlock("blk-a", "one two three"),
		structure.NewTextBlock("blk-b", "four five"),
	))
	timings := writeJSON(t, dir, "words.json", []narration.WordTiming{
		{Word: "one", Start: 0},
		{Word: "two", Start: 1},
		{Word: "three", Start: 2},
		{Word: "four", Start: 3},
		{Word: "five", Start: 4},
	})

	out, err := run(t, "align", "timing", "--structure", path, "--timings", timings)
	require.NoError(t, err)

	var res narration.Result
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	require.Len(t, res.Segments, 2)
	assert.Equal(t, "blk-a", res.Segments[0].BlockID)
	assert.InDelta(t, 3.0, res.Segments[0].End, 1e-9)
	assert.Equal(t, "blk-b", res.Segments[1].BlockID)
	assert.InDelta(t, 4.25, res.Segments[1].End, 1e-9)
}

func TestAlignTiming_UnorderedTimings(t *testing.T) {
	dir := t.TempDir()
	path := writeStructure(t, dir, structure.NewPage(1, structure.NewTextBlock("blk-a", "a b")))
	timings := writeJSON(t, dir, "words.json", []narration.WordTiming{
		{Word: "a", Start: 2},
		{Word: "b", Start: 1},
	})

	_, err := run(t, "align", "timing", "--structure", path, "--timings", timings)
	assert.Error(t, err)
}

func TestAlignEstimate_KnownDuration(t *testing.T) {
	dir := t.TempDir()
	path := writeStructure(t, dir, structure.NewPage(1, structure.NewTextBlock("blk-1", "one two three four")))
	audio := filepath.Join(dir, "narration.mp3")
	require.NoError(t, os.WriteFile(audio, []byte("ID3 fake"), 0o644))

	out, err := run(t, "align", "estimate",
		"--structure", path,
		"--audio", audio,
		"--duration", "20",
		"--ffmpeg", filepath.Join(dir, "no-ffmpeg"),
	)
	require.NoError(t, err)

	var res narration.Result
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	require.Len(t, res.Segments, 1)
	assert.InDelta(t, 20.0, res.Segments[0].End, 1e-9)
	assert.True(t, res.Degraded)
}
