// Package chunker splits extracted document text into ordered, overlapping
// passages sized for embedding and retrieval.
package chunker

import (
	"strings"
	"unicode"

	"github.com/papercomputeco/stacks/pkg/document"
)

const (
	// DefaultTargetSize is the default passage length in characters.
	DefaultTargetSize = 1000

	// DefaultOverlap is the default number of characters shared by
	// consecutive passages.
	DefaultOverlap = 100
)

// Options configures ChunkDocument.
type Options struct {
	// TargetSize is the maximum passage length in characters (runes).
	TargetSize int

	// Overlap is how far the next window reaches back into the previous one.
	Overlap int
}

// DefaultOptions returns the default chunking options.
func DefaultOptions() Options {
	return Options{
		TargetSize: DefaultTargetSize,
		Overlap:    DefaultOverlap,
	}
}

// Validate checks 0 <= Overlap < TargetSize.
func (o Options) Validate() error {
	if o.TargetSize <= 0 {
		return &ValidationError{Field: "target_size", Value: o.TargetSize, Reason: "must be positive"}
	}
	if o.Overlap < 0 {
		return &ValidationError{Field: "overlap", Value: o.Overlap, Reason: "must not be negative"}
	}
	if o.Overlap >= o.TargetSize {
		return &ValidationError{Field: "overlap", Value: o.Overlap, Reason: "must be smaller than target_size"}
	}
	return nil
}

// Chunk walks text in windows of targetSize characters and returns the
// trimmed, non-empty windows in order. Window edges are snapped back to the
// nearest sentence terminator or newline, then the nearest whitespace, within
// a bounded look-back so that words and sentences are split only when no
// better boundary is close. Empty or whitespace-only text yields no passages.
func Chunk(text string, targetSize, overlap int) ([]string, error) {
	opts := Options{TargetSize: targetSize, Overlap: overlap}
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	runes := []rune(text)
	n := len(runes)

	var passages []string
	start := 0
	for start < n {
		end := start + targetSize
		if end >= n {
			end = n
		} else {
			end = snap(runes, start, end, targetSize-overlap)
		}

		if piece := strings.TrimSpace(string(runes[start:end])); piece != "" {
			passages = append(passages, piece)
		}

		if end >= n {
			break
		}

		// The +1 floor keeps the walk moving when snapping lands close to
		// start and the overlap would otherwise rewind past it.
		next := end - overlap
		if next < start+1 {
			next = start + 1
		}
		start = next
	}

	return passages, nil
}

// snap returns the cut position for the window [start, end). Cuts are never
// placed before start+minAdvance, which bounds the look-back to at most
// targetSize-minAdvance characters.
func snap(runes []rune, start, end, minAdvance int) int {
	floor := start + minAdvance
	if floor <= start {
		floor = start + 1
	}

	// cut = i+1 keeps the boundary character in the left window.
	for i := end - 1; i+1 >= floor; i-- {
		if isTerminator(runes[i]) {
			return i + 1
		}
	}

	for i := end - 1; i+1 >= floor; i-- {
		if unicode.IsSpace(runes[i]) {
			return i + 1
		}
	}

	return end
}

func isTerminator(r rune) bool {
	switch r {
	case '.', '!', '?', '\n':
		return true
	default:
		return false
	}
}

// ChunkDocument chunks doc into passages with deterministic ids. When the
// document carries pages each page is chunked on its own so passages keep
// their page number; indexes stay contiguous across pages.
func ChunkDocument(doc document.Document, opts Options) ([]document.Passage, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	pages := doc.Pages
	if len(pages) == 0 {
		pages = []document.Page{{Number: 0, Text: doc.Text}}
	}

	var passages []document.Passage
	for _, page := range pages {
		texts, err := Chunk(page.Text, opts.TargetSize, opts.Overlap)
		if err != nil {
			return nil, err
		}

		for _, text := range texts {
			p := document.NewPassage(doc.ID, len(passages), text)
			p.Title = doc.Title
			p.Page = page.Number
			passages = append(passages, p)
		}
	}

	return passages, nil
}
