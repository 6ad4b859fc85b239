// Package document holds the source document and passage types shared by the
// chunker, the ingest runner and the vector store drivers.
package document

import (
	"strconv"

	"github.com/google/uuid"
)

// passageNamespace seeds the name-based passage ids. Changing it re-keys every
// record in every vector store.
var passageNamespace = uuid.MustParse("6f1c2a0e-3b7d-5c59-9a51-4d8e2f7b1c63")

// Document is a source document handed to the pipeline by the (external)
// text extraction layer.
type Document struct {
	// ID is the opaque source identifier.
	ID string `json:"document_id"`

	// Title is a human readable label used when citing the document.
	Title string `json:"title,omitempty"`

	// Text is the raw extracted text. Ignored when Pages is set.
	Text string `json:"text,omitempty"`

	// Pages optionally carries the text page by page so that passages can
	// report where they came from.
	Pages []Page `json:"pages,omitempty"`
}

// Page is the extracted text of a single page.
type Page struct {
	Number int    `json:"number"`
	Text   string `json:"text"`
}

// Passage is a bounded, contiguous slice of a document's text and the unit of
// embedding and retrieval.
type Passage struct {
	// ID is deterministic in (DocumentID, Index), see PassageID.
	ID         string `json:"id"`
	DocumentID string `json:"document_id"`
	Title      string `json:"title,omitempty"`
	Index      int    `json:"index"`
	Text       string `json:"text"`

	// Page is the 1-based page number, 0 when unknown.
	Page int `json:"page,omitempty"`
}

// PassageID derives the stable record id for the passage at index within
// documentID. Re-processing an unchanged document yields the same ids, so
// vector store upserts overwrite rather than duplicate.
func PassageID(documentID string, index int) string {
	name := documentID + ":" + strconv.Itoa(index)
	return uuid.NewSHA1(passageNamespace, []byte(name)).String()
}

// NewPassage builds a passage with its deterministic id.
func NewPassage(documentID string, index int, text string) Passage {
	return Passage{
		ID:         PassageID(documentID, index),
		DocumentID: documentID,
		Index:      index,
		Text:       text,
	}
}

// NewJobID returns a fresh random job identifier.
func NewJobID() string {
	return uuid.NewString()
}
