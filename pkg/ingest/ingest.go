// Package ingest defines the upstream document stream contract: a
// downloader/decompressor and a linguistic tokenizer produce pre-tokenized
// documents, and the engine consumes them without knowing how they were
// made. Nothing in this package downloads or tokenizes anything; it exists
// so pkg/engine.Builder has a named interface to depend on instead of a
// bare channel or callback, and so a future `cmd/forumidx-fetch` has an
// exact contract to satisfy.
package ingest

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
)

// Document is one pre-tokenized, pre-normalized record handed to the
// builder: case-folded, whitespace-trimmed, punctuation-filtered tokens,
// plus the external name the producer wants to use to identify
// the document in query results. Fulltext is optional — present only when
// the producer (and the `--fulltext` CLI flag) asked for comment bodies to
// be retained.
type Document struct {
	Name        string
	Tokens      []string
	Fulltext    string
	HasFulltext bool
}

// Source is a lazy, finite, single-pass sequence of Documents. Next
// signals exhaustion with ok=false and a nil error (see below), not with
// io.EOF. Implementations are not required to support being
// iterated more than once.
type Source interface {
	// Next returns the next document. ok is false with a nil error when
	// the stream is exhausted; a non-nil error signals the producer
	// failed and the build must abort.
	Next() (doc Document, ok bool, err error)
}

// SliceSource adapts an in-memory slice of Documents to Source, useful
// for tests and for small corpora that already fit in memory.
type SliceSource struct {
	docs []Document
	pos  int
}

// NewSliceSource wraps docs as a Source.
func NewSliceSource(docs []Document) *SliceSource {
	return &SliceSource{docs: docs}
}

// Next implements Source.
func (s *SliceSource) Next() (Document, bool, error) {
	if s.pos >= len(s.docs) {
		return Document{}, false, nil
	}
	doc := s.docs[s.pos]
	s.pos++
	return doc, true, nil
}

// jsonDocument is the on-the-wire shape a JSONLSource reads: one object
// per line. HasFulltext is derived from whether the key was present at
// all, so an empty-but-present fulltext is still retained.
type jsonDocument struct {
	Name     string   `json:"name"`
	Tokens   []string `json:"tokens"`
	Fulltext *string  `json:"fulltext,omitempty"`
}

// JSONLSource reads newline-delimited JSON document records from r, one
// per line: {"name": "...", "tokens": ["...", ...], "fulltext": "..."}.
// This is the concrete stand-in for the external downloader+tokenizer
// collaborator; it lets cmd/forumidx drive a real build from a file or
// stdin without the engine depending on any particular producer.
type JSONLSource struct {
	scanner *bufio.Scanner
	line    int
}

// NewJSONLSource wraps r as a Source, growing the scan buffer to allow
// long fulltext-bearing lines.
func NewJSONLSource(r io.Reader) *JSONLSource {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	return &JSONLSource{scanner: scanner}
}

// Next implements Source. Blank lines are skipped.
func (s *JSONLSource) Next() (Document, bool, error) {
	for s.scanner.Scan() {
		s.line++
		trimmed := trimSpaceBytes(s.scanner.Bytes())
		if len(trimmed) == 0 {
			continue
		}
		var jd jsonDocument
		if err := json.Unmarshal(trimmed, &jd); err != nil {
			return Document{}, false, fmt.Errorf("ingest: decode line %d: %w", s.line, err)
		}
		doc := Document{Name: jd.Name, Tokens: jd.Tokens}
		if jd.Fulltext != nil {
			doc.Fulltext = *jd.Fulltext
			doc.HasFulltext = true
		}
		return doc, true, nil
	}
	if err := s.scanner.Err(); err != nil {
		return Document{}, false, fmt.Errorf("ingest: scan: %w", err)
	}
	return Document{}, false, nil
}

func trimSpaceBytes(b []byte) []byte {
	start := 0
	for start < len(b) && isSpaceByte(b[start]) {
		start++
	}
	end := len(b)
	for end > start && isSpaceByte(b[end-1]) {
		end--
	}
	return b[start:end]
}

func isSpaceByte(c byte) bool {
	return c == ' ' || c == '\t' || c == '\r' || c == '\n'
}
