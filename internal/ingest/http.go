package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/local/extractor/internal/notify"
	"github.com/local/extractor/internal/record"
)

// AuthFunc validates a (userID, token) pair presented on a request.
type AuthFunc func(userID, token string) bool

// API is the HTTP surface: submission, result retrieval and the SSE progress
// stream.
type API struct {
	svc         *Service
	registry    *notify.Registry
	auth        AuthFunc
	maxUpload   int64
	eventBuffer int
}

func NewAPI(svc *Service, registry *notify.Registry, auth AuthFunc, maxUploadMB, eventBuffer int) *API {
	if maxUploadMB <= 0 {
		maxUploadMB = 50
	}
	if eventBuffer <= 0 {
		eventBuffer = 64
	}
	return &API{
		svc:         svc,
		registry:    registry,
		auth:        auth,
		maxUpload:   int64(maxUploadMB) << 20,
		eventBuffer: eventBuffer,
	}
}

func (a *API) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/uploads", a.requireAuth(a.handleSubmit))
	mux.HandleFunc("/api/results", a.requireAuth(a.handleList))
	mux.HandleFunc("/api/results/", a.requireAuth(a.handleResult))
	mux.HandleFunc("/api/events", a.requireAuth(a.handleEvents))
}

func (a *API) requireAuth(next func(http.ResponseWriter, *http.Request, string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := r.Header.Get("X-User-ID")
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if userID == "" {
			userID = r.URL.Query().Get("user_id")
			token = r.URL.Query().Get("token")
		}
		if userID == "" || !a.auth(userID, token) {
			writeError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		next(w, r, userID)
	}
}

func (a *API) handleSubmit(w http.ResponseWriter, r *http.Request, userID string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, a.maxUpload)
	if err := r.ParseMultipartForm(a.maxUpload); err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "upload too large")
		return
	}
	file, hdr, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing file field")
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable upload")
		return
	}

	sub, err := a.svc.Submit(r.Context(), userID, hdr.Filename, r.FormValue("language"), data)
	if err != nil {
		switch {
		case errors.Is(err, ErrUnsupportedType):
			writeError(w, http.StatusUnsupportedMediaType, err.Error())
		case errors.Is(err, ErrEmptyFile), errors.Is(err, ErrInvalidPDF):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			log.Error().Err(err).Msg("submission failed")
			writeError(w, http.StatusInternalServerError, "submission failed")
		}
		return
	}
	writeJSON(w, http.StatusAccepted, sub)
}

func (a *API) handleResult(w http.ResponseWriter, r *http.Request, userID string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/api/results/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	rec, err := a.svc.Result(r.Context(), userID, id)
	if errors.Is(err, record.ErrNotFound) && r.URL.Query().Get("by") == "upload" {
		rec, err = a.svc.ResultByUpload(r.Context(), userID, id)
	}
	if err != nil {
		if errors.Is(err, record.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not found")
			return
		}
		log.Error().Err(err).Str("record_id", id).Msg("result lookup failed")
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, recordView(rec))
}

func (a *API) handleList(w http.ResponseWriter, r *http.Request, userID string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	limit, _ := strconv.ParseInt(r.URL.Query().Get("limit"), 10, 64)
	offset, _ := strconv.ParseInt(r.URL.Query().Get("offset"), 10, 64)
	recs, err := a.svc.Results(r.Context(), userID, limit, offset)
	if err != nil {
		log.Error().Err(err).Msg("result list failed")
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	views := make([]map[string]any, 0, len(recs))
	for _, rec := range recs {
		views = append(views, recordView(rec))
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": views})
}

// handleEvents is the SSE progress stream. One HTTP connection is one
// notifier session; it is removed when the client goes away.
func (a *API) handleEvents(w http.ResponseWriter, r *http.Request, userID string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	session := notify.NewChanSession(uuid.NewString(), a.eventBuffer)
	a.registry.Register(userID, session)
	defer a.registry.Unregister(userID, session.ID())

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	keepalive := time.NewTicker(25 * time.Second)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepalive.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		case ev := <-session.Events():
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Stage, data)
			flusher.Flush()
		}
	}
}

// recordView is the client-facing shape of a record. Internal correlation
// ids stay out of it.
func recordView(rec *record.Record) map[string]any {
	v := map[string]any{
		"id":         rec.ID,
		"upload_id":  rec.UploadID,
		"status":     string(rec.Status),
		"created_at": rec.CreatedAt,
		"updated_at": rec.UpdatedAt,
	}
	switch rec.Status {
	case record.StatusCompleted:
		v["extracted_content"] = rec.Extracted
		v["summary"] = rec.Summary
		if len(rec.PageResults) > 0 {
			v["page_results"] = rec.PageResults
		}
		v["completed_at"] = rec.CompletedAt
	case record.StatusFailed:
		v["error_message"] = rec.ErrorMessage
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
