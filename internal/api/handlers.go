package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"knowledge-qa/internal/models"
	"knowledge-qa/internal/pipeline"
	"knowledge-qa/internal/render"
)

type setKeyRequest struct {
	APIKey string `json:"api_key"`
}

type queryRequest struct {
	Query     string `json:"query"`
	ReturnAll bool   `json:"return_all"`
}

type queryResponse struct {
	Query      string          `json:"query"`
	Answer     string          `json:"answer"`
	AnswerHTML string          `json:"answer_html"`
	Sources    []models.Source `json:"sources"`
}

type documentResponse struct {
	ID    string        `json:"id"`
	Name  string        `json:"name"`
	Type  string        `json:"type"`
	Pages []models.Page `json:"pages"`
	HTML  string        `json:"html"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.service.NewSession()
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.sessions.Add(sess)
	writeJSON(w, http.StatusCreated, map[string]string{"session_id": sess.ID})
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if !s.sessions.Delete(chi.URLParam(r, "sessionID")) {
		jsonError(w, "session not found", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSetKey(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var req setKeyRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil {
		jsonError(w, "invalid json body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.APIKey) == "" {
		jsonError(w, "api_key is required", http.StatusBadRequest)
		return
	}
	sess.SetAPIKey(req.APIKey)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	// extra 1MB for form overhead
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes+1<<20)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			jsonError(w, "file exceeds max upload size", http.StatusRequestEntityTooLarge)
			return
		}
		jsonError(w, "invalid multipart form: "+err.Error(), http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		jsonError(w, "file is required: "+err.Error(), http.StatusBadRequest)
		return
	}
	defer file.Close()
	if header.Size > s.cfg.MaxUploadBytes {
		jsonError(w, "file exceeds max upload size", http.StatusRequestEntityTooLarge)
		return
	}

	summary, err := s.service.Upload(r.Context(), sess, sanitizeFilename(header.Filename), file)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleDocument(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	file := sess.Document()
	if file == nil {
		jsonError(w, "no document uploaded", http.StatusNotFound)
		return
	}
	html, err := render.DocumentHTML(file)
	if err != nil {
		jsonError(w, "failed to render document", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, documentResponse{
		ID:    file.ID,
		Name:  file.Name,
		Type:  string(file.Type),
		Pages: file.Pages,
		HTML:  html,
	})
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var req queryRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&req); err != nil {
		jsonError(w, "invalid json body", http.StatusBadRequest)
		return
	}

	result, err := s.service.Ask(r.Context(), sess, req.Query, req.ReturnAll)
	if err != nil {
		writeError(w, err)
		return
	}
	html, err := render.AnswerHTML(result.Answer)
	if err != nil {
		log.Warn().Err(err).Msg("Rendering answer failed")
	}
	writeJSON(w, http.StatusOK, queryResponse{
		Query:      result.Query,
		Answer:     result.Answer,
		AnswerHTML: html,
		Sources:    result.Sources,
	})
}

func (s *Server) session(w http.ResponseWriter, r *http.Request) (*pipeline.Session, bool) {
	sess, ok := s.sessions.Get(chi.URLParam(r, "sessionID"))
	if !ok {
		jsonError(w, "session not found", http.StatusNotFound)
	}
	return sess, ok
}

// statusFor maps pipeline errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrUnsupportedFormat):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, models.ErrParse),
		errors.Is(err, models.ErrEmptyDocument),
		errors.Is(err, models.ErrInvalidChunkConfig):
		return http.StatusUnprocessableEntity
	case errors.Is(err, models.ErrEmptyQuery):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrMissingAPIKey):
		return http.StatusUnauthorized
	case errors.Is(err, models.ErrNoIndex):
		return http.StatusConflict
	case errors.Is(err, models.ErrSessionClosed):
		return http.StatusNotFound
	case errors.Is(err, models.ErrEmbeddingProvider),
		errors.Is(err, models.ErrGeneration):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		log.Error().Err(err).Int("status", code).Msg("Request failed")
	}
	jsonError(w, err.Error(), code)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func sanitizeFilename(name string) string {
	name = filepath.Base(name)
	name = strings.ReplaceAll(name, "/", "_")
	name = strings.ReplaceAll(name, "\\", "_")
	name = strings.ReplaceAll(name, "..", "_")
	if name == "" || name == "." {
		name = "unnamed"
	}
	return name
}
