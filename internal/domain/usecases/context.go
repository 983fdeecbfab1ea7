package usecases

import (
	"sort"
	"strings"

	"docbot/internal/domain/entities"
)

// clarificationMarkers are phrases our own clarification questions contain.
// History is plain text for compatibility with existing transcripts, so
// detection is marker scanning; the heuristic is isolated here and can be
// swapped without touching the orchestrator.
var clarificationMarkers = []string{
	"documento te refieres",
	"cual de estos documentos",
	"cuál de estos documentos",
	"documentos disponibles",
	"which document",
	"available documents",
	"producto te refieres",
	"cual de estos productos",
	"cuál de estos productos",
	"which product",
	"available products",
}

// IsClarification reports whether content looks like a clarification
// question we previously asked.
func IsClarification(content string) bool {
	lower := strings.ToLower(content)
	for _, marker := range clarificationMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// ExtractContext derives the conversation context from the history.
// Pure function: no side effects, recomputed on every request, tolerates
// empty history.
func ExtractContext(history []entities.Turn, catalog []entities.DocumentDescriptor) entities.ConversationContext {
	var ctx entities.ConversationContext
	if len(history) == 0 {
		return ctx
	}

	// Most recent assistant turn decides whether we are mid-clarification.
	last := -1
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == entities.RoleAssistant {
			last = i
			break
		}
	}
	if last < 0 {
		return ctx
	}

	if IsClarification(history[last].Content) {
		options := matchOfferedOptions(history[last].Content, catalog)
		// Options that no longer exist in the catalog were dropped by the
		// matcher. If everything offered went stale, fall back to full triage
		// rather than guessing.
		if len(options) > 0 {
			ctx.AwaitingClarification = true
			ctx.OfferedOptions = options
		}
		return ctx
	}

	ctx.PriorDocument = findPriorDocument(history, catalog)
	return ctx
}

// matchOfferedOptions finds which catalog documents the clarification turn
// listed, preserving the order they appeared in.
func matchOfferedOptions(content string, catalog []entities.DocumentDescriptor) []string {
	lower := strings.ToLower(content)

	type hit struct {
		id  string
		pos int
	}
	var hits []hit
	for _, doc := range catalog {
		pos := earliestMention(lower, doc)
		if pos >= 0 {
			hits = append(hits, hit{id: doc.ID, pos: pos})
		}
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].pos < hits[j].pos })

	options := make([]string, len(hits))
	for i, h := range hits {
		options[i] = h.id
	}
	return options
}

// earliestMention returns the position of the first reference to doc in
// content (by ID, code, or description), or -1.
func earliestMention(lowerContent string, doc entities.DocumentDescriptor) int {
	best := -1
	for _, needle := range []string{doc.ID, doc.Code, doc.Description()} {
		if needle == "" {
			continue
		}
		if pos := strings.Index(lowerContent, strings.ToLower(needle)); pos >= 0 {
			if best < 0 || pos < best {
				best = pos
			}
		}
	}
	return best
}

// findPriorDocument looks through earlier assistant turns for the document
// the conversation has been about. Clarification turns are skipped: naming
// every document in a disambiguation list is not discussing one.
func findPriorDocument(history []entities.Turn, catalog []entities.DocumentDescriptor) string {
	for i := len(history) - 1; i >= 0; i-- {
		turn := history[i]
		if turn.Role != entities.RoleAssistant || IsClarification(turn.Content) {
			continue
		}
		for _, doc := range catalog {
			if doc.Code != "" && strings.Contains(turn.Content, doc.Code) {
				return doc.ID
			}
		}
	}
	return ""
}
