// Package entities contains core business entities.
// These are the enterprise business rules - pure domain objects with no external dependencies.
package entities

import (
	"fmt"
	"strings"
	"unicode"
)

// Role identifies the author of a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is a single message in a conversation. An ordered slice of turns
// forms the history; turns are immutable once appended.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Language is a supported response locale.
type Language string

const (
	LanguageSpanish Language = "es"
	LanguageEnglish Language = "en"
)

// ParseLanguage maps a raw language code to a supported locale.
// Unknown codes fall back to English, the neutral default.
func ParseLanguage(code string) Language {
	switch strings.ToLower(strings.TrimSpace(code)) {
	case "es", "es-es", "spanish":
		return LanguageSpanish
	case "en", "en-us", "en-gb", "english":
		return LanguageEnglish
	}
	return LanguageEnglish
}

// spanishWords are common Spanish words that are not also English words.
// Deliberately short; accented text is caught by the rune scan instead.
var spanishWords = map[string]struct{}{
	"hola": {}, "gracias": {}, "tienes": {}, "hay": {}, "dime": {},
	"documentos": {}, "ayuda": {}, "puedes": {}, "quiero": {}, "necesito": {},
	"buenas": {}, "buenos": {}, "dias": {}, "tardes": {}, "sobre": {},
}

// GuessLanguage picks a locale from surface features of the text alone,
// for the paths where triage never ran. Defaults to English unless the
// text carries an unambiguous Spanish signal.
func GuessLanguage(text string) Language {
	lower := strings.ToLower(text)
	if strings.ContainsAny(lower, "¿¡áéíóúñü") {
		return LanguageSpanish
	}
	words := strings.FieldsFunc(lower, func(r rune) bool {
		return !unicode.IsLetter(r)
	})
	for _, w := range words {
		if _, ok := spanishWords[w]; ok {
			return LanguageSpanish
		}
	}
	return LanguageEnglish
}

// ConversationContext is derived from the history on every request.
// It is ephemeral and never persisted.
type ConversationContext struct {
	// AwaitingClarification is true when the last assistant turn asked
	// which document the user means.
	AwaitingClarification bool

	// OfferedOptions holds the document IDs offered in that clarification
	// question, in the order they were listed.
	OfferedOptions []string

	// PriorDocument is the document discussed earlier in the conversation,
	// if one can be identified. Used as a triage hint, never as a hard filter.
	PriorDocument string
}

// TriageResult is the structured output of the triage stage.
//
// Invariant: exactly one of DocumentID and ClarificationQuestion is set,
// except when ListingRequest is true (the user asked what documents exist,
// which needs neither a target nor a disambiguation question).
type TriageResult struct {
	Language              Language
	DocumentID            string
	ClarificationQuestion string

	// CandidateOptions are the document IDs offered alongside a
	// clarification question, in the order they were presented.
	CandidateOptions []string

	// ListingRequest is true when the user is asking which documents are
	// available rather than asking about a document's content.
	ListingRequest bool

	// SearchQuery is the user's question reformulated for semantic search
	// (acronyms expanded, clarification answers merged in).
	SearchQuery string
}

// Validate enforces the triage invariant against the catalog size.
func (r *TriageResult) Validate(catalogSize int) error {
	if r.ListingRequest && r.DocumentID == "" && r.ClarificationQuestion == "" {
		return nil
	}
	hasDoc := r.DocumentID != ""
	hasQuestion := r.ClarificationQuestion != ""
	if hasDoc == hasQuestion {
		return fmt.Errorf("triage must set exactly one of document_id and clarification_question (doc=%q question=%q)",
			r.DocumentID, r.ClarificationQuestion)
	}
	if hasQuestion && catalogSize < 2 {
		return fmt.Errorf("clarification requested with %d catalog documents", catalogSize)
	}
	return nil
}

// Passage is a retrieved text fragment with provenance metadata.
type Passage struct {
	Content    string
	DocumentID string  // structured document key, empty for untagged documents
	Source     string  // raw source filename
	Score      float64 // similarity, higher is better
	Ordinal    int     // rank within the result set, 0 = most relevant
}

// DocumentDescriptor identifies one ingested document.
// Built at ingestion time from the filename convention CODE_YEAR_STANDARD.md,
// read-only afterward, rebuilt wholesale on re-ingestion.
type DocumentDescriptor struct {
	ID       string // e.g. "GC_Oposiciones_2026"
	Code     string // e.g. "GC"
	Year     string // e.g. "2026"
	Standard string // human-readable qualifier
}

// Description renders the display name shown to users and to the triage model.
func (d DocumentDescriptor) Description() string {
	if d.Year != "" && d.Standard != "" && d.Standard != strings.ReplaceAll(d.ID, "_", " ") {
		return fmt.Sprintf("%s (%s - %s)", d.Code, d.Year, d.Standard)
	}
	if d.Standard != "" {
		return d.Standard
	}
	return d.ID
}

// ModelResult is the outcome of one logical model invocation.
// Created fresh per call, never cached or shared across requests.
type ModelResult struct {
	Output   string
	Model    string // the model that ultimately served the request
	Fallback bool   // true when the secondary model answered
}

// Document is a source Markdown file on its way into the index.
type Document struct {
	Name    string // filename, e.g. "GC_Oposiciones_2026.md"
	Path    string
	Content string

	// Key is the structured metadata parsed from the filename convention,
	// nil when the name does not match it.
	Key *DocumentDescriptor
}

// ChunkKind distinguishes prose chunks from tables, which are never split.
type ChunkKind string

const (
	ChunkText  ChunkKind = "text"
	ChunkTable ChunkKind = "table"
)

// Chunk is a piece of a document prepared for embedding and indexing.
type Chunk struct {
	ID         string
	DocumentID string // structured key, empty for untagged documents
	Source     string // raw source filename
	Code       string
	Year       string
	Standard   string
	Content    string
	Index      int // position within the document
	Kind       ChunkKind
	Embedding  []float32
}
