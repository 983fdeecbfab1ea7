// Package http provides the HTTP server infrastructure: the transport
// boundary in front of the pipeline.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"docbot/internal/domain/entities"
	"docbot/internal/domain/usecases"
	"docbot/internal/observability"
)

// Server exposes the chat pipeline over HTTP.
type Server struct {
	pipeline  *usecases.Pipeline
	retrieval *usecases.RetrievalStage
	log       *zap.Logger
	addr      string
}

// NewServer creates the HTTP server.
func NewServer(pipeline *usecases.Pipeline, retrieval *usecases.RetrievalStage, log *zap.Logger, addr string) *Server {
	return &Server{pipeline: pipeline, retrieval: retrieval, log: log, addr: addr}
}

// Handler builds the routed handler with the middleware chain applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/chat", s.handleChat)
	mux.HandleFunc("/chat/stream", s.handleChatStream)
	mux.HandleFunc("/suggestions", s.handleSuggestions)
	mux.HandleFunc("/api/health", s.handleHealth)
	return corsMiddleware(s.loggingMiddleware(mux))
}

// Start runs the server until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:         s.addr,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 300 * time.Second, // streaming responses can run long
	}

	s.log.Info("server starting", zap.String("addr", s.addr))

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	err := server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// chatRequest is the inbound payload for both chat endpoints.
type chatRequest struct {
	Message string          `json:"message"`
	History []entities.Turn `json:"history"`
}

// handleChat is the blocking entry point.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	req, ok := decodeChatRequest(w, r)
	if !ok {
		return
	}

	answer, err := s.pipeline.Answer(r.Context(), req.Message, req.History)
	if err != nil {
		// Cause is logged; the user sees only the generic localized message.
		observability.FromContext(r.Context()).Error("pipeline failed", zap.Error(err))
		answer = userMessage(err)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"response": answer})
}

// handleChatStream is the incremental entry point. Each content frame
// carries one line of the accumulating answer; a terminal "done" event
// closes the stream.
func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	req, ok := decodeChatRequest(w, r)
	if !ok {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	log := observability.FromContext(r.Context())

	chunks, err := s.pipeline.AnswerStream(r.Context(), req.Message, req.History)
	if err != nil {
		log.Error("pipeline failed", zap.Error(err))
		writeContentFrame(w, flusher, userMessage(err))
		writeDoneFrame(w, flusher)
		return
	}

	for chunk := range chunks {
		if chunk.Err != nil {
			log.Error("stream failed", zap.Error(chunk.Err))
			writeContentFrame(w, flusher, userMessage(chunk.Err))
			writeDoneFrame(w, flusher)
			return
		}
		if chunk.Content != "" {
			writeContentFrame(w, flusher, chunk.Content)
		}
		if chunk.Done {
			writeDoneFrame(w, flusher)
			return
		}
	}
	writeDoneFrame(w, flusher)
}

// handleSuggestions returns the document catalog for seeding clickable
// prompts. Failures degrade to an empty list: suggestions must never affect
// chat functionality.
func (s *Server) handleSuggestions(w http.ResponseWriter, r *http.Request) {
	type item struct {
		Key         string `json:"key"`
		Description string `json:"description"`
	}

	items := []item{}
	catalog, err := s.retrieval.Catalog(r.Context())
	if err != nil {
		observability.FromContext(r.Context()).Warn("suggestions unavailable", zap.Error(err))
	} else {
		for _, doc := range catalog {
			items = append(items, item{Key: doc.ID, Description: doc.Description()})
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"documents": items})
}

// handleHealth returns server health status.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func decodeChatRequest(w http.ResponseWriter, r *http.Request) (chatRequest, bool) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON body", http.StatusBadRequest)
		return req, false
	}
	if strings.TrimSpace(req.Message) == "" {
		http.Error(w, "Message required", http.StatusBadRequest)
		return req, false
	}
	return req, true
}

// writeContentFrame emits one SSE content frame. Chunk content may span
// newlines (a line plus its separating newline); SSE encodes that as
// consecutive data lines, which EventSource rejoins with "\n". Consumers
// strip exactly one space after each "data:".
func writeContentFrame(w http.ResponseWriter, flusher http.Flusher, content string) {
	for _, part := range strings.Split(content, "\n") {
		fmt.Fprintf(w, "data: %s\n", part)
	}
	fmt.Fprint(w, "\n")
	flusher.Flush()
}

// writeDoneFrame emits the terminal end-of-stream frame, no payload.
func writeDoneFrame(w http.ResponseWriter, flusher http.Flusher) {
	fmt.Fprint(w, "event: done\ndata: \n\n")
	flusher.Flush()
}

// userMessage maps an internal error to the generic text shown to the user,
// in the best-known language.
func userMessage(err error) string {
	var failure *entities.Failure
	if errors.As(err, &failure) {
		return failure.UserMessage()
	}
	return (&entities.Failure{Language: entities.LanguageEnglish, Cause: err}).UserMessage()
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		reqLog := s.log.With(zap.String("request_id", uuid.NewString()))
		ctx := observability.WithLogger(r.Context(), reqLog)

		next.ServeHTTP(w, r.WithContext(ctx))

		reqLog.Info("request handled",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("elapsed", time.Since(start)))
	})
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			return
		}
		next.ServeHTTP(w, r)
	})
}
