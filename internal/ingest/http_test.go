package ingest

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/local/extractor/internal/notify"
	"github.com/local/extractor/internal/record"
)

func newTestAPI(t *testing.T) (*API, *record.MemoryStore, *captureEnqueuer) {
	t.Helper()
	store := record.NewMemoryStore()
	q := &captureEnqueuer{}
	svc := NewService(store, q)
	auth := func(userID, token string) bool { return token == "secret" }
	return NewAPI(svc, notify.NewRegistry(), auth, 10, 8), store, q
}

func multipartBody(t *testing.T, fileName string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", fileName)
	require.NoError(t, err)
	_, err = fw.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestSubmitEndpoint(t *testing.T) {
	api, store, q := newTestAPI(t)
	mux := http.NewServeMux()
	api.RegisterRoutes(mux)

	body, contentType := multipartBody(t, "scan.jpg", jpegBytes())
	req := httptest.NewRequest(http.MethodPost, "/api/uploads", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("X-User-ID", "user-1")
	req.Header.Set("Authorization", "Bearer secret")
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())
	var sub Submission
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &sub))
	assert.NotEmpty(t, sub.UploadID)
	assert.Len(t, q.payloads, 1)

	_, err := store.GetRecord(req.Context(), sub.RecordID)
	assert.NoError(t, err)
}

func TestSubmitRequiresAuth(t *testing.T) {
	api, _, _ := newTestAPI(t)
	mux := http.NewServeMux()
	api.RegisterRoutes(mux)

	body, contentType := multipartBody(t, "scan.jpg", jpegBytes())
	req := httptest.NewRequest(http.MethodPost, "/api/uploads", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("X-User-ID", "user-1")
	req.Header.Set("Authorization", "Bearer wrong")
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestResultEndpointHidesOtherUsers(t *testing.T) {
	api, _, _ := newTestAPI(t)
	mux := http.NewServeMux()
	api.RegisterRoutes(mux)

	body, contentType := multipartBody(t, "scan.jpg", jpegBytes())
	req := httptest.NewRequest(http.MethodPost, "/api/uploads", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("X-User-ID", "user-1")
	req.Header.Set("Authorization", "Bearer secret")
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	require.Equal(t, http.StatusAccepted, rr.Code)
	var sub Submission
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &sub))

	get := httptest.NewRequest(http.MethodGet, "/api/results/"+sub.RecordID, nil)
	get.Header.Set("X-User-ID", "user-2")
	get.Header.Set("Authorization", "Bearer secret")
	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, get)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	get.Header.Set("X-User-ID", "user-1")
	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, get)
	assert.Equal(t, http.StatusOK, rr.Code)
	var view map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &view))
	assert.Equal(t, "pending", view["status"])
	assert.NotContains(t, view, "error_message")
}

func TestUnsupportedUploadReturns415(t *testing.T) {
	api, _, _ := newTestAPI(t)
	mux := http.NewServeMux()
	api.RegisterRoutes(mux)

	body, contentType := multipartBody(t, "a.zip", []byte("PK\x03\x04\x14\x00\x00\x00"))
	req := httptest.NewRequest(http.MethodPost, "/api/uploads", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("X-User-ID", "user-1")
	req.Header.Set("Authorization", "Bearer secret")
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusUnsupportedMediaType, rr.Code)
}

func TestCorruptPDFUploadReturns400(t *testing.T) {
	api, _, _ := newTestAPI(t)
	mux := http.NewServeMux()
	api.RegisterRoutes(mux)

	body, contentType := multipartBody(t, "bad.pdf", []byte("%PDF-1.7 truncated garbage"))
	req := httptest.NewRequest(http.MethodPost, "/api/uploads", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("X-User-ID", "user-1")
	req.Header.Set("Authorization", "Bearer secret")
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code, rr.Body.String())
}
