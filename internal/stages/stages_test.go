package stages

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/listenupapp/pagesync-server/internal/ai"
	"github.com/listenupapp/pagesync-server/internal/chapters"
	"github.com/listenupapp/pagesync-server/internal/extract"
	"github.com/listenupapp/pagesync-server/internal/structure"
)

type fakeExtractor struct {
	doc   *extract.Document
	calls int
}

func (f *fakeExtractor) Extract(context.Context, []byte) (*extract.Document, error) {
	f.calls++
	return f.doc, nil
}

type memArtifacts struct {
	blobs map[string][]byte
}

func (m *memArtifacts) NewKey(prefix, ext string) string { return prefix + "/artifact." + ext }

func (m *memArtifacts) Put(_ context.Context, key string, r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	if m.blobs == nil {
		m.blobs = map[string][]byte{}
	}
	m.blobs[key] = data
	return nil
}

type fakeClassifier struct {
	suggestions []chapters.Suggestion
}

func (f *fakeClassifier) SuggestChapters(context.Context, []chapters.PageText) ([]chapters.Suggestion, error) {
	return f.suggestions, nil
}

func (f *fakeClassifier) ClassifyBlocks(context.Context, []ai.BlockText) ([]ai.BlockLabel, error) {
	return nil, nil
}

func (f *fakeClassifier) DescribeFigure(context.Context, ai.Figure) (string, error) {
	return "A labelled diagram", nil
}

func textbook() *extract.Document {
	doc := &extract.Document{Pages: []extract.Page{
		{Number: 1, Width: 612, Height: 792, Positioned: true, Lines: []extract.Line{
			{Text: "Chapter 1 Cells", X: 72, Y: 72, Width: 300, FontSize: 24, Font: "Times-Bold"},
			{Text: "All living things are made of cells. Cells are the basic unit of life.", X: 72, Y: 120, Width: 468, FontSize: 11, Font: "Times-Roman"},
			{Text: "They were first observed in 1665.", X: 72, Y: 133, Width: 300, FontSize: 11, Font: "Times-Roman"},
		}},
		{Number: 2, Width: 612, Height: 792, Positioned: true, Images: 1, Lines: []extract.Line{
			{Text: "Chapter 2 Energy", X: 72, Y: 72, Width: 300, FontSize: 24, Font: "Times-Bold"},
			{Text: "Energy flows through ecosystems and the cells of every organism.", X: 72, Y: 120, Width: 468, FontSize: 11, Font: "Times-Roman"},
		}},
	}}
	doc.Quality = extract.Assess(doc)
	return doc
}

func run(t *testing.T, st Stage, in Input) *Output {
	t.Helper()
	if in.Structure == nil {
		in.Structure = structure.New()
	}
	out, err := st.Run(context.Background(), in)
	require.NoError(t, err)
	require.NotNil(t, out)
	return out
}

func TestSource_ExtractsOnce(t *testing.T) {
	fx := &fakeExtractor{doc: textbook()}
	src := NewSource(nil, "application/pdf", fx)

	_, _ = src.Extract(context.Background())
	_, _ = src.Extract(context.Background())
	assert.Equal(t, 1, fx.calls)
}

func TestClassification(t *testing.T) {
	src := NewSource(nil, "application/pdf", &fakeExtractor{doc: textbook()})
	out := run(t, NewClassification(), Input{Source: src})

	md := out.Structure.Metadata
	assert.Equal(t, structure.SourceDigital, md.SourceKind)
	assert.Equal(t, 2, md.PageCount)
	assert.Equal(t, "Chapter 1 Cells", md.Title)
	require.NotNil(t, out.Confidence)

	scan := &extract.Document{Pages: []extract.Page{{Number: 1, Images: 1}, {Number: 2, Images: 1}}}
	scan.Quality = extract.Assess(scan)
	out = run(t, NewClassification(), Input{Source: NewSource(nil, "", &fakeExtractor{doc: scan})})
	assert.Equal(t, structure.SourceScanned, out.Structure.Metadata.SourceKind)
	assert.InDelta(t, 0.95, *out.Confidence, 1e-9)
}

func TestTextExtraction(t *testing.T) {
	src := NewSource(nil, "", &fakeExtractor{doc: textbook()})
	out := run(t, NewTextExtraction(), Input{Source: src})

	s := out.Structure
	require.Len(t, s.Pages, 2)
	require.Len(t, s.Pages[0].TextBlocks, 2)
	para := s.Pages[0].TextBlocks[1]
	assert.True(t, strings.HasPrefix(para.ID, "blk-"))
	assert.Equal(t, 20, para.WordCount)
	assert.Equal(t, len(para.Words), para.WordCount)
	assert.Equal(t, len(para.Sentences), para.SentenceCount)
	assert.Equal(t, 24.0, s.Pages[0].TextBlocks[0].Font.Size)
	assert.True(t, s.Pages[0].TextBlocks[0].Font.Bold)

	require.Len(t, s.Pages[1].ImageBlocks, 1)
	require.Len(t, s.Images, 1)
	assert.Equal(t, 2, s.Images[0].Page)
	assert.NoError(t, structure.Validate(s))
}

func TestTextExtraction_ScannedPages(t *testing.T) {
	scan := &extract.Document{Pages: []extract.Page{{Number: 1, Images: 1}, {Number: 2, Images: 1}}}
	scan.Quality = extract.Assess(scan)
	s := structure.New()
	s.Metadata.SourceKind = structure.SourceScanned

	out := run(t, NewTextExtraction(), Input{Source: NewSource(nil, "", &fakeExtractor{doc: scan}), Structure: s})

	assert.Equal(t, 0.0, *out.Confidence)
	assert.True(t, out.Structure.Pages[0].Scanned)
	assert.Empty(t, out.Structure.Pages[0].TextBlocks)
	assert.Equal(t, []string{"2 pages have no text layer"}, out.Warnings)
}

func positioned(id, text string, x, y, w, h float64) structure.TextBlock {
	b := structure.NewTextBlock(id, text)
	b.BBox = structure.BoundingBox{X: x, Y: y, Width: w, Height: h}
	b.Font.Size = 10
	return b
}

func TestLayout_TwoColumns(t *testing.T) {
	p := structure.Page{Number: 1, Width: 612, Height: 792, TextBlocks: []structure.TextBlock{
		positioned("r1", "right one", 320, 100, 220, 40),
		positioned("l2", "left two", 72, 150, 220, 40),
		positioned("h", "Title", 72, 60, 468, 24),
		positioned("r2", "right two", 320, 150, 220, 40),
		positioned("l1", "left one", 72, 100, 220, 40),
	}}
	s := structure.New()
	s.Pages = []structure.Page{p}

	out := run(t, NewLayoutAnalysis(), Input{Structure: s})

	ro := out.Structure.Pages[0].ReadingOrder
	assert.Equal(t, []string{"h", "l1", "l2", "r1", "r2"}, ro.BlockIDs)
	assert.True(t, ro.MultiColumn)
	assert.Equal(t, 2, ro.Columns)
	assert.InDelta(t, 0.85, *out.Confidence, 1e-9)

	ordered := out.Structure.Pages[0].OrderedTextBlocks()
	assert.Equal(t, "l1", ordered[1].ID)
	assert.Equal(t, 1, ordered[1].ReadingOrder)
}

func TestLayout_RunningHeadsAndPageNumbers(t *testing.T) {
	s := structure.New()
	for n := 1; n <= 3; n++ {
		s.Pages = append(s.Pages, structure.Page{Number: n, Width: 612, Height: 792, TextBlocks: []structure.TextBlock{
			positioned("head"+itoa(n), "Biology Basics "+itoa(10+n), 72, 20, 200, 10),
			positioned("body"+itoa(n), "Some body text on the page.", 72, 100, 468, 200),
			positioned("num"+itoa(n), itoa(10+n), 300, 770, 20, 10),
		}})
	}

	out := run(t, NewLayoutAnalysis(), Input{Structure: s})

	for _, p := range out.Structure.Pages {
		assert.Equal(t, structure.BlockHeader, p.TextBlocks[0].Type)
		assert.Equal(t, structure.BlockParagraph, p.TextBlocks[1].Type)
		assert.Equal(t, structure.BlockFooter, p.TextBlocks[2].Type)
		assert.Equal(t, p.TextBlocks[0].ID, p.ReadingOrder.BlockIDs[0])
		assert.Equal(t, p.TextBlocks[2].ID, p.ReadingOrder.BlockIDs[2])
	}
}

func TestClassifyBlock(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		size  float64
		bold  bool
		want  structure.BlockType
		level int
	}{
		{"large heading", "Cells and Tissues", 20, false, structure.BlockHeading, 1},
		{"section heading", "Cell Membranes", 13, false, structure.BlockHeading, 2},
		{"bold indicator", "Chapter 3 Growth", 11, true, structure.BlockHeading, 1},
		{"caption", "Figure 1.2: A plant cell", 9, false, structure.BlockCaption, 0},
		{"bullet", "• Water is essential.", 10, false, structure.BlockListItem, 0},
		{"exercise", "Exercises", 10, false, structure.BlockExercise, 0},
		{"footnote", "1 See the appendix for details.", 7, false, structure.BlockFootnote, 0},
		{"paragraph", "Cells divide by mitosis. This takes time.", 10, false, structure.BlockParagraph, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := structure.NewTextBlock("b", tt.text)
			b.Font.Size = tt.size
			b.Font.Bold = tt.bold
			got, level, conf := classifyBlock(&b, 10)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.level, level)
			assert.Greater(t, conf, 0.0)
		})
	}
}

func TestSemantic_ConflictingAIBoundaryRequestsReview(t *testing.T) {
	s := structure.New()
	s.Pages = []structure.Page{
		structure.NewPage(1, structure.NewTextBlock("a", "Plants convert sunlight into sugar.")),
		structure.NewPage(2, structure.NewTextBlock("b", "Animals eat plants or other animals.")),
	}
	fc := &fakeClassifier{suggestions: []chapters.Suggestion{{Title: "Energy", StartPage: 2, Confidence: 0.3}}}

	out := run(t, NewSemanticStructuring(fc, chapters.DefaultOptions(), nil), Input{Structure: s})

	assert.Equal(t, "conflicting chapter boundaries on pages 2", out.Review)
	assert.Empty(t, out.Structure.TOC)
}

func TestCleanup_Clean(t *testing.T) {
	c := NewContentCleanup()

	assert.Equal(t, "Photosynthesis is fine", c.Clean("<p>Photo-\nsynthesis   is <b>ﬁne</b></p>"))
	assert.Equal(t, "Line one\nLine two", c.Clean("Line one\n\n  Line   two "))
	assert.Equal(t, "café", c.Clean("café"))
}

func TestCleanup_DropsEmptiedBlocks(t *testing.T) {
	s := structure.New()
	s.Pages = []structure.Page{structure.NewPage(1,
		structure.NewTextBlock("keep", "Real text"),
		structure.NewTextBlock("gone", "<br/>"),
	)}

	out := run(t, NewContentCleanup(), Input{Structure: s})

	p := out.Structure.Pages[0]
	require.Len(t, p.TextBlocks, 1)
	assert.Equal(t, []string{"keep"}, p.ReadingOrder.BlockIDs)
	assert.InDelta(t, 0.75, *out.Confidence, 1e-9)
}

func TestSpecialContent(t *testing.T) {
	eq := structure.NewTextBlock("eq", "E = mc^2")
	prose := structure.NewTextBlock("prose", "The total energy = the sum of kinetic and potential energy in the system")
	pipe := structure.NewTextBlock("pipe", "Name | Mass\nSun | 1.989\nEarth | 5.97")
	colA := positioned("colA", "Planet\nMars\nVenus", 72, 300, 80, 40)
	colB := positioned("colB", "Moons\n2\n0", 200, 300.4, 40, 40)

	s := structure.New()
	s.Pages = []structure.Page{
		structure.NewPage(1, eq, prose, pipe),
		structure.NewPage(2, colA, colB),
	}

	out := run(t, NewSpecialContent(), Input{Structure: s})
	res := out.Structure

	require.Len(t, res.Equations, 1)
	assert.Equal(t, "eq", res.Equations[0].BlockID)
	assert.True(t, res.Equations[0].Display)
	assert.Equal(t, structure.BlockEquation, res.Pages[0].TextBlocks[0].Type)

	require.Len(t, res.Tables, 2)
	require.Len(t, res.Pages[0].TableBlocks, 1)
	assert.Equal(t, [][]string{{"Name", "Mass"}, {"Sun", "1.989"}, {"Earth", "5.97"}}, res.Pages[0].TableBlocks[0].Rows)
	require.Len(t, res.Pages[1].TableBlocks, 1)
	assert.Equal(t, [][]string{{"Planet", "Moons"}, {"Mars", "2"}, {"Venus", "0"}}, res.Pages[1].TableBlocks[0].Rows)
	assert.NoError(t, structure.Validate(res))
}

func TestEPUBGeneration(t *testing.T) {
	store := &memArtifacts{}
	s := structure.New()
	s.Pages = []structure.Page{structure.NewPage(1, structure.NewTextBlock("a", "Hello"))}

	out := run(t, NewEPUBGeneration(nil, store), Input{JobID: 7, Structure: s})

	assert.Equal(t, "artifacts/job-7/artifact.json", out.ArtifactKey)
	decoded, err := structure.Decode(store.blobs[out.ArtifactKey])
	require.NoError(t, err)
	assert.Equal(t, "Hello", decoded.Pages[0].TextBlocks[0].Text)
}

func TestQAReview(t *testing.T) {
	good := structure.New()
	good.Pages = []structure.Page{structure.NewPage(1, structure.NewTextBlock("a", "Hello world"))}

	out := run(t, NewQAReview(0.7), Input{Structure: good.Clone()})
	assert.Empty(t, out.Review)
	assert.InDelta(t, 1.0, *out.Confidence, 1e-9)

	low := 0.4
	out = run(t, NewQAReview(0.7), Input{Structure: good.Clone(), JobConfidence: &low})
	assert.Equal(t, "overall confidence 0.40 below 0.70", out.Review)

	bad := good.Clone()
	bad.Pages = append(bad.Pages, structure.NewPage(2, structure.NewTextBlock("a", "Duplicate id")))
	out = run(t, NewQAReview(0.7), Input{Structure: bad})
	assert.Contains(t, out.Review, "structure validation found 1 issue(s)")
	assert.InDelta(t, 0.5, *out.Confidence, 1e-9)
}

func TestDefaultPipeline_EndToEnd(t *testing.T) {
	store := &memArtifacts{}
	descs := Default(Deps{Artifacts: store, ReviewThreshold: 0.6, QAThreshold: 0.7})
	require.Len(t, descs, 9)

	src := NewSource([]byte("%PDF"), "application/pdf", &fakeExtractor{doc: textbook()})
	s := structure.New()
	var artifact string
	for _, d := range descs {
		out := run(t, d.Stage, Input{JobID: 1, Source: src, Structure: s.Clone()})
		s = out.Structure
		if out.ArtifactKey != "" {
			artifact = out.ArtifactKey
		}
	}

	require.NoError(t, structure.Validate(s))
	assert.Equal(t, "en", s.Metadata.Language)
	require.Len(t, s.TOC, 2)
	assert.Equal(t, "Chapter 1 Cells", s.TOC[0].Title)
	assert.Equal(t, 2, s.TOC[1].Page)
	assert.NotEmpty(t, s.TOC[0].BlockID)
	assert.Equal(t, "Figure from Chapter 1 Cells, page 2", s.Pages[1].ImageBlocks[0].AltText)
	assert.NotEmpty(t, artifact)
	assert.True(t, bytes.Contains(store.blobs[artifact], []byte(`"version":1`)))
}
