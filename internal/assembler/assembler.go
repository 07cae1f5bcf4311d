// Package assembler turns enriched hits into a deterministic
// markdown-with-citations context bundle. Given identical inputs the
// output is byte-identical: rendering uses fixed formats, a fixed
// section order, and C-locale number formatting.
package assembler

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Hits are partitioned into sections in this fixed order.
var sectionOrder = []string{"text", "image", "video", "keyframe"}

var sectionTitles = map[string]string{
	"text":     "Text Results",
	"image":    "Image Results",
	"video":    "Video Results",
	"keyframe": "Video Keyframes",
}

const transcriptionExcerptLen = 500

// Build assembles the context bundle for one search. Hit order within a
// section follows the input order, which the engine has already ranked.
func Build(query string, hits []EnrichedHit) *Bundle {
	byType := make(map[string][]EnrichedHit, len(sectionOrder))
	for _, h := range hits {
		byType[h.ContentType] = append(byType[h.ContentType], h)
	}

	var (
		sections  []Section
		citations []Citation
	)
	for _, kind := range sectionOrder {
		group := byType[kind]
		if len(group) == 0 {
			continue
		}
		var sb strings.Builder
		for i, h := range group {
			if i > 0 {
				sb.WriteString("\n\n")
			}
			sb.WriteString(renderHit(kind, i+1, h))
			citations = append(citations, h.Citation)
		}
		sections = append(sections, Section{
			Type:    kind,
			Title:   sectionTitles[kind],
			Content: sb.String(),
			Count:   len(group),
		})
	}

	var sb strings.Builder
	sb.WriteString("# Search Results for: ")
	sb.WriteString(query)
	sb.WriteString("\n\n")
	fmt.Fprintf(&sb, "Found %d relevant items across %d content types\n", len(hits), len(sections))
	for _, sec := range sections {
		sb.WriteString("\n## ")
		sb.WriteString(sec.Title)
		sb.WriteString("\n\n")
		sb.WriteString(sec.Content)
		sb.WriteString("\n")
	}

	unified := sb.String()
	return &Bundle{
		Query:          query,
		Sections:       sections,
		UnifiedContext: unified,
		TotalResults:   len(hits),
		ContextLength:  utf8.RuneCountInString(unified),
		Citations:      citations,
	}
}

func renderHit(kind string, n int, h EnrichedHit) string {
	switch kind {
	case "text":
		text := h.Content
		if h.Text != nil {
			text = h.Text.Text
		}
		return fmt.Sprintf("[%d] %s\n    Source: %s", n, text, h.Filename)

	case "image":
		caption := "(no caption)"
		width, height := 0, 0
		if h.Image != nil {
			width, height = h.Image.Width, h.Image.Height
			if h.Image.Caption != "" {
				caption = h.Image.Caption
			}
		}
		return fmt.Sprintf("[IMG-%d] %s\n    Source: %s\n    Size: %dx%d\n    View: %s",
			n, caption, h.Filename, width, height, h.Artifacts.ViewURL)

	case "video":
		var transcription string
		var duration float64
		if h.Video != nil {
			transcription = excerpt(h.Video.Transcription, transcriptionExcerptLen)
			duration = h.Video.Duration
		}
		return fmt.Sprintf("[VID-%d] %s\n    Source: %s\n    Duration: %s seconds\n    Watch: %s",
			n, transcription, h.Filename, formatSeconds(duration), h.Artifacts.ViewURL)

	case "keyframe":
		var caption string
		var ts float64
		if h.Keyframe != nil {
			caption = h.Keyframe.Caption
			ts = h.Keyframe.Timestamp
		}
		return fmt.Sprintf("[KF-%d] %s\n    Source: %s\n    Video Keyframe (%ss)\n    View: %s",
			n, caption, h.Filename, formatSeconds(ts), h.Artifacts.ViewURL)
	}
	return ""
}

// formatSeconds renders a duration with exactly one decimal place,
// C locale ("120.5").
func formatSeconds(s float64) string {
	return strconv.FormatFloat(s, 'f', 1, 64)
}

// excerpt truncates on a rune boundary and appends an ellipsis.
func excerpt(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}
