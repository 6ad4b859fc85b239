// Package retrieval turns nearest-neighbour search results into a bounded,
// cited context window for answer generation.
package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/papercomputeco/stacks/pkg/logger"
	"github.com/papercomputeco/stacks/pkg/vector"
)

const (
	DefaultMaxPassages     = 5
	DefaultMaxContextChars = 4000
	DefaultCallTimeout     = 10 * time.Second

	// NoContext replaces an empty context so a generator is never handed an
	// ambiguous empty string.
	NoContext = "No relevant context was found in the available documents."
)

// Options bounds a single assembly.
type Options struct {
	// MaxPassages is the search limit.
	MaxPassages int `json:"max_passages"`

	// MaxContextChars is the character budget for Context.Text.
	MaxContextChars int `json:"max_context_chars"`

	// Filter optionally restricts the search to some documents.
	Filter *vector.Filter `json:"-"`
}

// DefaultOptions returns the default assembly bounds.
func DefaultOptions() Options {
	return Options{
		MaxPassages:     DefaultMaxPassages,
		MaxContextChars: DefaultMaxContextChars,
	}
}

// Merge fills the unset (zero) bounds of o from defaults. Negative bounds are
// kept so that Validate still rejects them.
func (o Options) Merge(defaults Options) Options {
	if o.MaxPassages == 0 {
		o.MaxPassages = defaults.MaxPassages
	}
	if o.MaxContextChars == 0 {
		o.MaxContextChars = defaults.MaxContextChars
	}
	if o.Filter == nil {
		o.Filter = defaults.Filter
	}
	return o
}

// Validate rejects non-positive bounds.
func (o Options) Validate() error {
	if o.MaxPassages <= 0 {
		return fmt.Errorf("%w: max_passages must be positive, got %d", ErrInvalidOptions, o.MaxPassages)
	}
	if o.MaxContextChars <= 0 {
		return fmt.Errorf("%w: max_context_chars must be positive, got %d", ErrInvalidOptions, o.MaxContextChars)
	}
	return nil
}

// Passage is an accepted passage with its provenance.
type Passage struct {
	ID         string  `json:"id"`
	DocumentID string  `json:"document_id"`
	Title      string  `json:"title,omitempty"`
	Index      int     `json:"chunk_index"`
	Page       int     `json:"page_number,omitempty"`
	Score      float32 `json:"score"`
	Text       string  `json:"text"`
}

// Context is the assembled context window.
type Context struct {
	Text           string    `json:"context"`
	CitedDocuments []string  `json:"cited_documents"`
	Passages       []Passage `json:"passages"`

	// Simulated is set when no embedder was available to embed the query.
	Simulated bool `json:"simulated,omitempty"`
}

// Assembler builds contexts from a vector store.
type Assembler struct {
	driver      vector.Driver
	callTimeout time.Duration
	logger      *slog.Logger
}

// AssemblerConfig configures NewAssembler.
type AssemblerConfig struct {
	Driver vector.Driver

	// CallTimeout bounds the search call. Defaults to 10s.
	CallTimeout time.Duration

	Logger *slog.Logger
}

// NewAssembler creates an Assembler over c.Driver.
func NewAssembler(c AssemblerConfig) (*Assembler, error) {
	if c.Driver == nil {
		return nil, fmt.Errorf("vector driver is required")
	}

	a := &Assembler{
		driver:      c.Driver,
		callTimeout: c.CallTimeout,
		logger:      c.Logger,
	}
	if a.callTimeout <= 0 {
		a.callTimeout = DefaultCallTimeout
	}
	if a.logger == nil {
		a.logger = logger.Nop()
	}
	return a, nil
}

// Assemble searches for the passages nearest to queryVector and concatenates
// them, best first, while they fit in opts.MaxContextChars. Passages without
// text are skipped. The first block that does not fit ends the assembly.
func (a *Assembler) Assemble(ctx context.Context, queryVector []float32, opts Options) (Context, error) {
	if err := opts.Validate(); err != nil {
		return Context{}, err
	}

	searchCtx, cancel := context.WithTimeout(ctx, a.callTimeout)
	results, err := a.driver.Search(searchCtx, queryVector, opts.MaxPassages, opts.Filter)
	cancel()
	if err != nil {
		return Context{}, fmt.Errorf("searching passages: %w", err)
	}

	return Build(results, opts), nil
}

// Build assembles a context from search results, ranking them first.
func Build(results []vector.QueryResult, opts Options) Context {
	out := Context{
		CitedDocuments: []string{},
		Passages:       []Passage{},
	}

	var (
		b     strings.Builder
		used  int
		seen  = make(map[string]struct{})
		cited = make(map[string]struct{})
	)

	for _, r := range vector.Limit(results, opts.MaxPassages) {
		text := strings.TrimSpace(r.Payload.Text)
		if text == "" {
			continue
		}
		if _, dup := seen[r.ID]; dup {
			continue
		}

		block := FormatBlock(r.Payload.Title, r.Payload.DocumentID, r.Payload.Page, text)
		size := utf8.RuneCountInString(block)
		if used > 0 {
			size++ // separating newline
		}
		if used+size > opts.MaxContextChars {
			break
		}

		if used > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(block)
		used += size
		seen[r.ID] = struct{}{}

		if _, ok := cited[r.Payload.DocumentID]; !ok {
			cited[r.Payload.DocumentID] = struct{}{}
			out.CitedDocuments = append(out.CitedDocuments, r.Payload.DocumentID)
		}

		out.Passages = append(out.Passages, Passage{
			ID:         r.ID,
			DocumentID: r.Payload.DocumentID,
			Title:      r.Payload.Title,
			Index:      r.Payload.Index,
			Page:       r.Payload.Page,
			Score:      r.Score,
			Text:       text,
		})
	}

	if len(out.Passages) == 0 {
		out.Text = EmptyContext(opts.MaxContextChars)
		return out
	}

	out.Text = b.String()
	return out
}

// FormatBlock renders one excerpt. The page part is omitted when page is
// unknown (0).
func FormatBlock(title, documentID string, page int, text string) string {
	label := title
	if label == "" {
		label = documentID
	}

	var b strings.Builder
	b.WriteString("--- Excerpt from '")
	b.WriteString(label)
	b.WriteString("'")
	if page > 0 {
		b.WriteString(" (page ")
		b.WriteString(strconv.Itoa(page))
		b.WriteString(")")
	}
	b.WriteString(" ---\n")
	b.WriteString(text)
	b.WriteString("\n")
	return b.String()
}

// EmptyContext returns NoContext cut to budget characters.
func EmptyContext(budget int) string {
	if budget <= 0 {
		return ""
	}
	if utf8.RuneCountInString(NoContext) <= budget {
		return NoContext
	}
	return string([]rune(NoContext)[:budget])
}
