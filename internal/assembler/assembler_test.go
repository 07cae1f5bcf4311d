package assembler_test

import (
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/searchd/internal/assembler"
)

func textHit(id, text, filename string, score float64) assembler.EnrichedHit {
	return assembler.EnrichedHit{
		EmbeddingID: id,
		Score:       score,
		Modality:    "text",
		ContentType: "text",
		Content:     text,
		DocumentID:  "doc-" + id,
		Filename:    filename,
		FileType:    "txt",
		CreatedAt:   time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC),
		Citation: assembler.Citation{
			Source:     filename,
			Type:       "text",
			DocumentID: "doc-" + id,
			CreatedAt:  "2026-01-15T10:00:00Z",
		},
		Text: &assembler.TextDetail{ChunkIndex: 0, Text: text},
	}
}

func TestBuildTextSection(t *testing.T) {
	hits := []assembler.EnrichedHit{
		textHit("t1", "alpha beta", "notes.txt", 0.9),
		textHit("t2", "gamma delta", "report.md", 0.8),
	}

	bundle := assembler.Build("greetings", hits)
	require.Len(t, bundle.Sections, 1)

	sec := bundle.Sections[0]
	assert.Equal(t, "text", sec.Type)
	assert.Equal(t, "Text Results", sec.Title)
	assert.Equal(t, 2, sec.Count)
	assert.Equal(t,
		"[1] alpha beta\n    Source: notes.txt\n\n[2] gamma delta\n    Source: report.md",
		sec.Content)

	assert.Contains(t, bundle.UnifiedContext, "# Search Results for: greetings")
	assert.Contains(t, bundle.UnifiedContext, "Found 2 relevant items across 1 content types")
	assert.Contains(t, bundle.UnifiedContext, "## Text Results")
	assert.Equal(t, 2, bundle.TotalResults)
	assert.Equal(t, utf8.RuneCountInString(bundle.UnifiedContext), bundle.ContextLength)
}

func TestBuildContextLengthCountsRunes(t *testing.T) {
	hits := []assembler.EnrichedHit{
		textHit("t1", "café résumé naïve", "notes.txt", 0.9),
	}

	bundle := assembler.Build("accents", hits)
	assert.Equal(t, utf8.RuneCountInString(bundle.UnifiedContext), bundle.ContextLength)
	assert.Less(t, bundle.ContextLength, len(bundle.UnifiedContext))
}

func TestBuildImageBlock(t *testing.T) {
	hit := assembler.EnrichedHit{
		ContentType: "image",
		Filename:    "photo.png",
		Artifacts:   assembler.Artifacts{ViewURL: "https://blobs/photo"},
		Image:       &assembler.ImageDetail{Width: 640, Height: 480, Caption: "a red door"},
	}
	bundle := assembler.Build("doors", []assembler.EnrichedHit{hit})
	require.Len(t, bundle.Sections, 1)
	assert.Equal(t,
		"[IMG-1] a red door\n    Source: photo.png\n    Size: 640x480\n    View: https://blobs/photo",
		bundle.Sections[0].Content)
}

func TestBuildImageWithoutCaption(t *testing.T) {
	hit := assembler.EnrichedHit{
		ContentType: "image",
		Filename:    "scan.jpg",
		Image:       &assembler.ImageDetail{Width: 100, Height: 200},
	}
	bundle := assembler.Build("q", []assembler.EnrichedHit{hit})
	assert.True(t, strings.HasPrefix(bundle.Sections[0].Content, "[IMG-1] (no caption)\n"))
}

func TestBuildVideoBlock(t *testing.T) {
	hit := assembler.EnrichedHit{
		ContentType: "video",
		Filename:    "talk.mp4",
		Artifacts:   assembler.Artifacts{ViewURL: "https://blobs/talk"},
		Video: &assembler.VideoDetail{
			Duration:      120.5,
			Transcription: "welcome everyone",
		},
	}
	bundle := assembler.Build("talks", []assembler.EnrichedHit{hit})
	assert.Equal(t,
		"[VID-1] welcome everyone\n    Source: talk.mp4\n    Duration: 120.5 seconds\n    Watch: https://blobs/talk",
		bundle.Sections[0].Content)
}

func TestBuildVideoWholeSecondsKeepOneDecimal(t *testing.T) {
	hit := assembler.EnrichedHit{
		ContentType: "video",
		Filename:    "clip.mp4",
		Video:       &assembler.VideoDetail{Duration: 12},
	}
	bundle := assembler.Build("q", []assembler.EnrichedHit{hit})
	assert.Contains(t, bundle.Sections[0].Content, "Duration: 12.0 seconds")
}

func TestBuildVideoTranscriptionExcerpt(t *testing.T) {
	long := strings.Repeat("é", 600)
	hit := assembler.EnrichedHit{
		ContentType: "video",
		Filename:    "long.mp4",
		Video:       &assembler.VideoDetail{Duration: 1, Transcription: long},
	}
	bundle := assembler.Build("q", []assembler.EnrichedHit{hit})
	firstLine := strings.SplitN(bundle.Sections[0].Content, "\n", 2)[0]
	assert.Equal(t, "[VID-1] "+strings.Repeat("é", 500)+"...", firstLine)
}

func TestBuildKeyframeBlock(t *testing.T) {
	hit := assembler.EnrichedHit{
		ContentType: "keyframe",
		Filename:    "talk.mp4",
		Artifacts:   assembler.Artifacts{ViewURL: "https://blobs/kf"},
		Keyframe:    &assembler.KeyframeDetail{VideoID: "vid-1", Timestamp: 42, Caption: "slide one"},
	}
	bundle := assembler.Build("q", []assembler.EnrichedHit{hit})
	assert.Equal(t,
		"[KF-1] slide one\n    Source: talk.mp4\n    Video Keyframe (42.0s)\n    View: https://blobs/kf",
		bundle.Sections[0].Content)
}

func TestBuildSectionOrderAndCitations(t *testing.T) {
	hits := []assembler.EnrichedHit{
		{ContentType: "video", Filename: "v.mp4", Video: &assembler.VideoDetail{}, Citation: assembler.Citation{Source: "v.mp4", Type: "video"}},
		{ContentType: "keyframe", Filename: "v.mp4", Keyframe: &assembler.KeyframeDetail{}, Citation: assembler.Citation{Source: "v.mp4", Type: "keyframe"}},
		{ContentType: "text", Filename: "a.txt", Text: &assembler.TextDetail{Text: "x"}, Citation: assembler.Citation{Source: "a.txt", Type: "text"}},
		{ContentType: "image", Filename: "i.png", Image: &assembler.ImageDetail{}, Citation: assembler.Citation{Source: "i.png", Type: "image"}},
	}

	bundle := assembler.Build("q", hits)
	require.Len(t, bundle.Sections, 4)
	assert.Equal(t, "Text Results", bundle.Sections[0].Title)
	assert.Equal(t, "Image Results", bundle.Sections[1].Title)
	assert.Equal(t, "Video Results", bundle.Sections[2].Title)
	assert.Equal(t, "Video Keyframes", bundle.Sections[3].Title)

	// Citations follow section order, not input order.
	types := make([]string, len(bundle.Citations))
	for i, c := range bundle.Citations {
		types[i] = c.Type
	}
	assert.Equal(t, []string{"text", "image", "video", "keyframe"}, types)

	assert.Contains(t, bundle.UnifiedContext, "Found 4 relevant items across 4 content types")
}

func TestBuildEmpty(t *testing.T) {
	bundle := assembler.Build("nothing here", nil)
	assert.Equal(t, 0, bundle.TotalResults)
	assert.Empty(t, bundle.Sections)
	assert.Empty(t, bundle.Citations)
	assert.Equal(t,
		"# Search Results for: nothing here\n\nFound 0 relevant items across 0 content types\n",
		bundle.UnifiedContext)
}

func TestBuildDeterministic(t *testing.T) {
	hits := []assembler.EnrichedHit{
		textHit("t1", "alpha", "a.txt", 0.9),
		{ContentType: "image", Filename: "i.png", Image: &assembler.ImageDetail{Width: 1, Height: 1, Caption: "c"}},
	}
	first := assembler.Build("q", hits)
	second := assembler.Build("q", hits)
	assert.Equal(t, first.UnifiedContext, second.UnifiedContext)
	assert.Equal(t, first.Citations, second.Citations)
}
