package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/54b3r/chatedu-go/internal/audit"
	"github.com/54b3r/chatedu-go/internal/courses"
	"github.com/54b3r/chatedu-go/internal/generator"
	"github.com/54b3r/chatedu-go/internal/logging"
	"github.com/54b3r/chatedu-go/internal/rag"
)

// maxBodyBytes caps JSON request bodies.
const maxBodyBytes = 1 << 20

// handleChat handles POST /api/chat. Retrieval and generation failures are
// reported in the body's error field with 200, as the front end expects.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	var req chatRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", log)
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, "text is required", log)
		return
	}

	ans := s.deps.Answerer.Answer(r.Context(), req.Text, req.courseID())
	if ans.Sources == nil {
		ans.Sources = []rag.Source{}
	}
	outcome := outcomeOK
	if ans.Error != "" {
		outcome = outcomeError
	}
	s.metrics.generations.WithLabelValues("chat", outcome).Inc()
	writeJSON(w, http.StatusOK, ans, log)
}

// handleRetriever handles GET|POST /api/retriever/{course_id}: every stored
// payload of the course, capped by the optional limit query parameter.
func (s *Server) handleRetriever(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())
	courseID := r.PathValue("course_id")

	limit := generator.DefaultContentLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer", log)
			return
		}
		limit = n
	}

	payloads := s.deps.Content.GetAllByCourse(r.Context(), courseID, limit)
	resp := retrieverResponse{Embeddings: make([]map[string]any, 0, len(payloads))}
	for _, p := range payloads {
		resp.Embeddings = append(resp.Embeddings, map[string]any(p))
	}
	log.Debug("retriever: listed payloads", slog.String("course_id", courseID), slog.Int("count", len(payloads)))
	writeJSON(w, http.StatusOK, resp, log)
}

// handleFlashcards handles POST /api/flashcards/{course_id}. The body is a
// bare JSON array, empty when the course has no content or every group failed.
func (s *Server) handleFlashcards(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())
	if s.deps.Flashcards == nil {
		writeError(w, http.StatusNotImplemented, "flashcards are not configured", log)
		return
	}
	cards := s.deps.Flashcards.Generate(r.Context(), r.PathValue("course_id"))
	if cards == nil {
		cards = []generator.Flashcard{}
	}
	outcome := outcomeOK
	if len(cards) == 0 {
		outcome = outcomeEmpty
	}
	s.metrics.generations.WithLabelValues("flashcards", outcome).Inc()
	writeJSON(w, http.StatusOK, cards, log)
}

// handleMindMap handles POST /api/mindmap/{course_id}. The root label comes
// from the course_name query parameter, then the course listing, then the id.
func (s *Server) handleMindMap(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())
	if s.deps.MindMaps == nil {
		writeError(w, http.StatusNotImplemented, "mind maps are not configured", log)
		return
	}
	courseID := r.PathValue("course_id")
	name := strings.TrimSpace(r.URL.Query().Get("course_name"))
	if name == "" && s.deps.Courses != nil {
		if c, err := s.deps.Courses.Course(courseID); err == nil {
			name = c.Name
		}
	}

	mm := s.deps.MindMaps.Generate(r.Context(), courseID, name)
	outcome := outcomeOK
	if mm.Fallback {
		outcome = outcomeFallback
	}
	s.metrics.generations.WithLabelValues("mindmap", outcome).Inc()
	writeJSON(w, http.StatusOK, mm, log)
}

// handleCourses handles GET /api/courses.
func (s *Server) handleCourses(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())
	if s.deps.Courses == nil {
		writeJSON(w, http.StatusOK, coursesResponse{Courses: []courses.Course{}}, log)
		return
	}
	list, err := s.deps.Courses.List()
	if err != nil {
		log.Error("courses: list failed", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "failed to list courses", log)
		return
	}
	if list == nil {
		list = []courses.Course{}
	}
	writeJSON(w, http.StatusOK, coursesResponse{Courses: list}, log)
}

// handleLogin handles POST /api/login: authenticate against the LMS through
// the configured Scraper and return the student's courses. Credentials are
// read from the JSON body or, failing that, the query string.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())
	if s.deps.Scraper == nil {
		writeJSON(w, http.StatusNotImplemented, loginResponse{
			Message: "Login no LMS não está configurado.",
			Courses: []courses.Course{},
		}, log)
		return
	}

	var req loginRequest
	if r.ContentLength != 0 {
		_ = json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req)
	}
	if req.Username == "" {
		req.Username = r.URL.Query().Get("username")
	}
	if req.Password == "" {
		req.Password = r.URL.Query().Get("password")
	}
	if req.Username == "" || req.Password == "" {
		writeJSON(w, http.StatusBadRequest, loginResponse{
			Message: "Usuário e senha são obrigatórios.",
			Courses: []courses.Course{},
		}, log)
		return
	}

	list, err := s.deps.Scraper.ListCourses(r.Context(), courses.Credentials{Username: req.Username, Password: req.Password})
	switch {
	case errors.Is(err, courses.ErrInvalidCredentials):
		audit.LogLogin(r.Context(), log, req.Username, audit.LoginDenied, 0)
		writeJSON(w, http.StatusUnauthorized, loginResponse{
			Message: "Falha no login. Verifique suas credenciais.",
			Courses: []courses.Course{},
		}, log)
	case err != nil:
		log.Error("login: scraper failed", slog.Any("error", err))
		audit.LogLogin(r.Context(), log, req.Username, audit.LoginFailed, 0)
		writeJSON(w, http.StatusBadGateway, loginResponse{
			Message: "Erro inesperado ao acessar o LMS.",
			Courses: []courses.Course{},
		}, log)
	case len(list) == 0:
		audit.LogLogin(r.Context(), log, req.Username, audit.LoginSuccess, 0)
		writeJSON(w, http.StatusOK, loginResponse{
			Success: true,
			Message: "Login bem-sucedido, mas nenhuma matéria encontrada.",
			Courses: []courses.Course{},
		}, log)
	default:
		audit.LogLogin(r.Context(), log, req.Username, audit.LoginSuccess, len(list))
		writeJSON(w, http.StatusOK, loginResponse{Success: true, Courses: list}, log)
	}
}
