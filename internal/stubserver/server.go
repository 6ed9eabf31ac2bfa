// Package stubserver implements the chat backend contract with canned
// replies. It exists for local development of front ends and for
// integration tests; it is not a product backend.
package stubserver

import (
	"encoding/json"
	"log"
	"net/http"
	"path"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/assistkit/chatcore/internal/stream"
	"github.com/assistkit/chatcore/pkg/utils"
)

// Reply scripts how the stub answers one submission.
type Reply struct {
	// SchedulingLink short-circuits the reply with a calendly_url.
	SchedulingLink string
	// Detail short-circuits with a backend error body.
	Detail string
	// Chunks are streamed as SSE events; every chunk but the last is
	// suffixed with the cursor glyph.
	Chunks []string
	// SuggestedQuestions ride along on the final stream event.
	SuggestedQuestions []string
	// Audio is a base64 payload attached to the final stream event.
	Audio string
	// Truncate drops the connection after the scripted chunks
	// without ever sending a final (glyph-free) event.
	Truncate bool
	// Hold keeps the stream open after the scripted chunks until the
	// client goes away.
	Hold bool
}

// Options tunes the stub.
type Options struct {
	// Replies are consumed in order; when exhausted, submissions get
	// a single-chunk echo stream.
	Replies []Reply
	// AllowedExtensions whitelists upload file types. Empty means
	// the default set.
	AllowedExtensions []string
	// Transcript is returned by the transcription endpoint.
	Transcript string
}

var defaultExtensions = []string{".txt", ".pdf", ".md", ".csv"}

// Server holds the scripted state behind the HTTP handlers.
type Server struct {
	opts Options

	mu      sync.Mutex
	next    int
	pending map[string]Reply
}

// New builds a stub with the given script.
func New(opts Options) *Server {
	if len(opts.AllowedExtensions) == 0 {
		opts.AllowedExtensions = defaultExtensions
	}
	return &Server{
		opts:    opts,
		pending: make(map[string]Reply),
	}
}

// Router assembles the chi router implementing the backend contract.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Post("/chat", s.handleChat)
	r.Get("/chat/stream", s.handleStream)
	r.Post("/transcribe", s.handleTranscribe)
	r.Post("/upload", s.handleUpload)
	r.Get("/ws", s.handleWebsocket)

	return r
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	sessionID := r.Header.Get("Session-ID")
	if sessionID == "" {
		utils.RespondError(w, http.StatusBadRequest, "Session-ID header is required")
		return
	}

	var payload struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	reply := s.take(payload.Message.Content)

	switch {
	case reply.Detail != "":
		utils.RespondJSON(w, http.StatusOK, map[string]string{"detail": reply.Detail})
	case reply.SchedulingLink != "":
		utils.RespondJSON(w, http.StatusOK, map[string]string{"calendly_url": reply.SchedulingLink})
	default:
		s.park(sessionID, reply)
		utils.RespondJSON(w, http.StatusOK, map[string]any{})
	}
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	sessionID := r.URL.Query().Get("session_id")
	reply, ok := s.unpark(sessionID)
	if !ok {
		utils.RespondError(w, http.StatusNotFound, "no pending reply for session")
		return
	}

	utils.SetupSSEHeaders(w)

	accumulated := ""
	for i, chunk := range reply.Chunks {
		accumulated += chunk
		event := map[string]any{"content": accumulated + stream.CursorGlyph}
		if i == len(reply.Chunks)-1 && !reply.Truncate && !reply.Hold {
			event["content"] = accumulated
			if len(reply.SuggestedQuestions) > 0 {
				event["suggested_questions"] = reply.SuggestedQuestions
			}
			if reply.Audio != "" {
				event["audio"] = reply.Audio
			}
		}
		utils.SendSSEChunk(w, flusher, event)
	}

	switch {
	case reply.Hold:
		<-r.Context().Done()
	case !reply.Truncate:
		utils.SendSSEDone(w, flusher)
	}

	log.Printf("[stub] streamed %d chunks for session=%s", len(reply.Chunks), sessionID)
}

func (s *Server) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(16 << 20); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	if _, _, err := r.FormFile("file"); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "file part is required")
		return
	}

	transcript := s.opts.Transcript
	if transcript == "" {
		transcript = "stub transcript"
	}
	utils.RespondJSON(w, http.StatusOK, map[string]string{"transcript": transcript})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	sessionID := r.Header.Get("Session-ID")
	if err := r.ParseMultipartForm(16 << 20); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	for _, headers := range r.MultipartForm.File {
		for _, header := range headers {
			if !s.extensionAllowed(header.Filename) {
				utils.RespondJSON(w, http.StatusOK, map[string]string{"detail": "Unsupported file type"})
				return
			}
		}
	}

	reply := s.take(r.FormValue("message"))
	if reply.Detail != "" {
		utils.RespondJSON(w, http.StatusOK, map[string]string{"detail": reply.Detail})
		return
	}

	s.park(sessionID, reply)
	utils.RespondJSON(w, http.StatusOK, map[string]any{})
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

// handleWebsocket serves the delta variant of the stream contract:
// plain text deltas closed by a [DONE] sentinel.
func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	reply, ok := s.unpark(sessionID)
	if !ok {
		utils.RespondError(w, http.StatusNotFound, "no pending reply for session")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[stub] websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	for _, chunk := range reply.Chunks {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(chunk)); err != nil {
			return
		}
	}
	conn.WriteMessage(websocket.TextMessage, []byte("[DONE]"))
}

func (s *Server) take(message string) Reply {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.next < len(s.opts.Replies) {
		reply := s.opts.Replies[s.next]
		s.next++
		return reply
	}
	return Reply{Chunks: []string{"You said: " + message}}
}

func (s *Server) park(sessionID string, reply Reply) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[sessionID] = reply
}

func (s *Server) unpark(sessionID string) (Reply, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	reply, ok := s.pending[sessionID]
	delete(s.pending, sessionID)
	return reply, ok
}

func (s *Server) extensionAllowed(filename string) bool {
	ext := strings.ToLower(path.Ext(filename))
	for _, allowed := range s.opts.AllowedExtensions {
		if ext == allowed {
			return true
		}
	}
	return false
}
