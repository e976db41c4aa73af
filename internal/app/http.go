package app

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"redline/api/internal/config"
	"redline/api/internal/coordinator"
	"redline/api/internal/document"
	"redline/api/internal/export"
	"redline/api/internal/util"
)

type HTTPServer struct {
	cfg     config.Config
	service *coordinator.Coordinator
	store   *document.Store
	export  *export.Service
	sockets *WSHandler
	ready   func(context.Context) error
}

func NewHTTPServer(cfg config.Config, service *coordinator.Coordinator, store *document.Store, exportSvc *export.Service, sockets *WSHandler) *HTTPServer {
	return &HTTPServer{
		cfg:     cfg,
		service: service,
		store:   store,
		export:  exportSvc,
		sockets: sockets,
	}
}

// SetReadyCheck installs an extra readiness probe (e.g. the Redis ping when
// shared rate state is configured).
func (s *HTTPServer) SetReadyCheck(fn func(context.Context) error) {
	s.ready = fn
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "timestamp": time.Now().UTC().Format(time.RFC3339)})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		s.handleReady(w, r)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/documents" {
		s.handleInitDocument(w, r)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/upload" {
		s.handleUpload(w, r)
		return
	}

	parts := splitPath(r.URL.Path)

	// /ws/{docID}
	if len(parts) == 2 && parts[0] == "ws" && r.Method == http.MethodGet {
		s.sockets.Serve(w, r, parts[1])
		return
	}

	// /api/documents/{id}/...
	if len(parts) == 4 && parts[0] == "api" && parts[1] == "documents" {
		docID := parts[2]
		switch {
		case r.Method == http.MethodGet && parts[3] == "status":
			s.handleStatus(w, r, docID)
			return
		case r.Method == http.MethodGet && parts[3] == "appendix":
			s.handleAppendix(w, r, docID)
			return
		case r.Method == http.MethodPost && parts[3] == "command":
			s.handleCommand(w, r, docID)
			return
		case r.Method == http.MethodPost && parts[3] == "changes":
			s.handleChanges(w, r, docID)
			return
		case r.Method == http.MethodPost && parts[3] == "suggestions":
			s.handleSuggestions(w, r, docID)
			return
		case r.Method == http.MethodPost && parts[3] == "restore":
			s.handleRestore(w, r, docID)
			return
		case r.Method == http.MethodPost && parts[3] == "finalize":
			s.handleFinalize(w, r, docID)
			return
		}
	}

	respondError(w, domainError(http.StatusNotFound, "NOT_FOUND", "Not found", nil))
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{}

	if s.ready != nil {
		if err := s.ready(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["redis"] = map[string]any{"status": "error", "error": err.Error()}
		} else {
			checks["redis"] = map[string]any{"status": "ok"}
		}
	}

	writeJSON(w, statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

func (s *HTTPServer) handleInitDocument(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ID   string `json:"id"`
		Type string `json:"type"`
	}
	if err := decodeBody(r, &body); err != nil {
		respondError(w, err)
		return
	}
	if strings.TrimSpace(body.ID) == "" {
		respondError(w, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "id is required", nil))
		return
	}
	if err := s.store.Init(body.ID, body.Type); err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"id": body.ID, "type": body.Type, "lifecycle": document.LifecycleDraft})
}

func (s *HTTPServer) handleStatus(w http.ResponseWriter, r *http.Request, docID string) {
	status, err := s.service.Status(docID)
	if err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"documentId":        docID,
		"isListening":       status.Listening,
		"activeConnections": status.ActiveConnections,
		"lifecycle":         status.Lifecycle,
		"timestamp":         time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *HTTPServer) handleAppendix(w http.ResponseWriter, r *http.Request, docID string) {
	format := export.Format(r.URL.Query().Get("format"))
	result, err := s.export.Export(docID, format)
	if err != nil {
		if strings.Contains(err.Error(), "unsupported export format") {
			respondError(w, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil))
			return
		}
		respondError(w, err)
		return
	}
	w.Header().Set("Content-Type", result.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", result.Filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result.Data)
}

func (s *HTTPServer) handleCommand(w http.ResponseWriter, r *http.Request, docID string) {
	var body struct {
		UserID string `json:"userId"`
		Text   string `json:"text"`
		Voice  bool   `json:"voice"`
	}
	if err := decodeBody(r, &body); err != nil {
		respondError(w, err)
		return
	}
	if body.UserID == "" {
		body.UserID = clientKey(r)
	}
	result, err := s.service.HandleCommand(r.Context(), coordinator.CommandEvent{
		DocID:  docID,
		UserID: body.UserID,
		Text:   body.Text,
		Voice:  body.Voice,
	})
	if err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *HTTPServer) handleChanges(w http.ResponseWriter, r *http.Request, docID string) {
	var body struct {
		ParagraphID string `json:"paragraphId"`
		UserID      string `json:"userId"`
		Original    string `json:"original"`
		New         string `json:"new"`
	}
	if err := decodeBody(r, &body); err != nil {
		respondError(w, err)
		return
	}
	if strings.TrimSpace(body.ParagraphID) == "" || strings.TrimSpace(body.UserID) == "" {
		respondError(w, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "paragraphId and userId are required", nil))
		return
	}
	update, err := s.service.HandleApply(r.Context(), docID, body.ParagraphID, body.UserID, body.Original, body.New)
	if err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"docId":       update.DocID,
		"paragraphId": update.ParagraphID,
		"before":      update.Before,
		"after":       update.After,
		"html":        update.HTML,
	})
}

func (s *HTTPServer) handleSuggestions(w http.ResponseWriter, r *http.Request, docID string) {
	var body struct {
		ParagraphID string `json:"paragraphId"`
		UserID      string `json:"userId"`
		Text        string `json:"text"`
	}
	if err := decodeBody(r, &body); err != nil {
		respondError(w, err)
		return
	}
	if strings.TrimSpace(body.Text) == "" {
		respondError(w, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "text is required", nil))
		return
	}
	if body.UserID == "" {
		body.UserID = clientKey(r)
	}
	result, err := s.service.HandleSuggestionRequest(r.Context(), docID, body.ParagraphID, body.UserID, body.Text)
	if err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *HTTPServer) handleRestore(w http.ResponseWriter, r *http.Request, docID string) {
	var body struct {
		ParagraphID string `json:"paragraphId"`
	}
	_ = decodeBody(r, &body)
	if err := s.store.RestoreOriginal(docID, body.ParagraphID); err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleFinalize(w http.ResponseWriter, r *http.Request, docID string) {
	if err := s.store.Finalize(docID); err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "lifecycle": document.LifecycleFinal})
}

func (s *HTTPServer) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	if err := r.ParseMultipartForm(s.cfg.MaxUploadBytes); err != nil {
		respondError(w, domainError(http.StatusBadRequest, "INVALID_BODY", "invalid multipart body", nil))
		return
	}
	file, _, err := r.FormFile("file")
	if err != nil {
		respondError(w, domainError(http.StatusBadRequest, "INVALID_BODY", "file field is required", nil))
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		respondError(w, domainError(http.StatusBadRequest, "INVALID_BODY", "could not read upload", nil))
		return
	}

	kind := coordinator.UploadKind(r.FormValue("kind"))
	if kind == "" {
		kind = coordinator.UploadFile
	}

	result, err := s.service.HandleUpload(r.Context(), clientKey(r), data, kind)
	if err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = util.NewID("req")
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.cfg.CORSOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Hijack lets the websocket upgrade pass through the logging middleware.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return hijacker.Hijack()
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// respondError maps err through the error taxonomy and writes the wire
// shape. Handlers produce errors (typed core errors or DomainError for
// request-shape failures); this is the single place they become HTTP.
func respondError(w http.ResponseWriter, err error) {
	status, code, message, details := mapError(err)
	writeError(w, status, code, message, details)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return domainError(http.StatusBadRequest, "INVALID_BODY", "invalid JSON body", nil)
	}
	return nil
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

// clientKey identifies the calling client for admission control when no
// user identity accompanies the request.
func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
