package entities

import (
	"errors"
	"fmt"
)

// Error taxonomy for the pipeline.
//
// RateLimit errors live with the model port (they are classified at the
// transport edge); everything that crosses the orchestrator boundary is here.
var (
	// ErrProviderUnavailable means the primary model was rate limited and the
	// fallback attempt also failed.
	ErrProviderUnavailable = errors.New("all model providers unavailable")

	// ErrPipelineFailure covers non-recoverable stage failures: unreachable
	// index, repeated malformed model output, embedding errors.
	ErrPipelineFailure = errors.New("pipeline failure")
)

// FormatError means a model produced output that does not parse into the
// expected structure. It is recoverable: the orchestrator retries the stage
// once with a stricter instruction before escalating.
type FormatError struct {
	Stage string // "triage" or "generation"
	Cause error
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("%s output malformed: %v", e.Stage, e.Cause)
}

func (e *FormatError) Unwrap() error { return e.Cause }

// Failure wraps an internal error with the best-known user language so the
// transport can show a generic localized message while the cause is only logged.
type Failure struct {
	Language Language
	Cause    error
}

func (f *Failure) Error() string { return f.Cause.Error() }

func (f *Failure) Unwrap() error { return f.Cause }

// UserMessage is the generic text shown to the end user. The internal cause
// is never exposed verbatim.
func (f *Failure) UserMessage() string {
	if f.Language == LanguageSpanish {
		return "Lo siento, ha ocurrido un error procesando tu consulta. Por favor, inténtalo de nuevo."
	}
	return "Sorry, something went wrong while processing your question. Please try again."
}

// NoDocumentsMessage is the informational answer for an empty catalog.
// An empty catalog is not an error.
func NoDocumentsMessage(lang Language) string {
	if lang == LanguageSpanish {
		return "No hay documentos disponibles en la base de conocimiento todavía."
	}
	return "There are no documents available in the knowledge base yet."
}
