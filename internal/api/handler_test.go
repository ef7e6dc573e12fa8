package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/valyc0/document-service/internal/file"
	"github.com/valyc0/document-service/internal/publish"
	"github.com/valyc0/document-service/internal/query"
	"github.com/valyc0/document-service/internal/upload"
	"github.com/valyc0/document-service/pkg/blob"
	"github.com/valyc0/document-service/pkg/health"
	"github.com/valyc0/document-service/pkg/kafka"
)

// nopSink accepts every published event.
type nopSink struct{}

func (nopSink) Publish(ctx context.Context, event kafka.Event) error { return nil }

func newTestServer(t *testing.T) (*httptest.Server, *file.MemStore) {
	t.Helper()
	store := file.NewMemStore()
	blobs := blob.NewMemStorage()
	publisher := publish.New(store, nopSink{}, nopSink{}, "extraction.requests", "indexing.requests", nil)
	uploads := upload.New(store, blobs, publisher, nil, nil, nil)
	queries := query.New(store, nil, time.Minute)

	handler := New(uploads, queries, nil, 1<<20)
	router := NewRouter(handler, health.NewChecker(), nil, 5*time.Second)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv, store
}

func multipartBody(t *testing.T, field, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile(field, filename)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := part.Write(content); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return &buf, w.FormDataContentType()
}

func uploadFile(t *testing.T, srv *httptest.Server, filename string, content []byte) (map[string]any, int) {
	t.Helper()
	body, contentType := multipartBody(t, "file", filename, content)
	resp, err := http.Post(srv.URL+"/api/documents/upload", contentType, body)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	return out, resp.StatusCode
}

func fileID(t *testing.T, uploadResp map[string]any) string {
	t.Helper()
	rec, ok := uploadResp["file"].(map[string]any)
	if !ok {
		t.Fatalf("upload response has no file object: %+v", uploadResp)
	}
	id, _ := rec["fileId"].(string)
	if id == "" {
		t.Fatalf("upload response has no fileId: %+v", rec)
	}
	return id
}

func TestUploadAndDuplicate(t *testing.T) {
	srv, _ := newTestServer(t)

	first, status := uploadFile(t, srv, "report.pdf", []byte("pdf bytes"))
	if status != http.StatusCreated {
		t.Fatalf("first upload status = %d, want 201", status)
	}
	if dup, _ := first["duplicate"].(bool); dup {
		t.Fatal("first upload marked duplicate")
	}

	second, status := uploadFile(t, srv, "copy.pdf", []byte("pdf bytes"))
	if status != http.StatusOK {
		t.Fatalf("duplicate upload status = %d, want 200", status)
	}
	if dup, _ := second["duplicate"].(bool); !dup {
		t.Fatal("duplicate upload not marked duplicate")
	}
	if fileID(t, first) != fileID(t, second) {
		t.Fatal("duplicate upload resolved to a different record")
	}
}

func TestUploadMissingFileField(t *testing.T) {
	srv, _ := newTestServer(t)
	body, contentType := multipartBody(t, "wrong", "a.pdf", []byte("x"))
	resp, err := http.Post(srv.URL+"/api/documents/upload", contentType, body)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestGetAndStatus(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, _ := uploadFile(t, srv, "a.pdf", []byte("content"))
	id := fileID(t, resp)

	r, err := http.Get(srv.URL + "/api/documents/" + id + "/status")
	if err != nil {
		t.Fatal(err)
	}
	defer r.Body.Close()
	if r.StatusCode != http.StatusOK {
		t.Fatalf("status endpoint = %d", r.StatusCode)
	}
	var status map[string]any
	if err := json.NewDecoder(r.Body).Decode(&status); err != nil {
		t.Fatal(err)
	}
	if status["fileId"] != id {
		t.Fatalf("status = %+v", status)
	}
	// extraction was requested during upload
	if status["uploadStage"] != string(file.StageExtracting) {
		t.Fatalf("uploadStage = %v", status["uploadStage"])
	}
}

func TestGetUnknownFileIs404(t *testing.T) {
	srv, _ := newTestServer(t)
	r, err := http.Get(srv.URL + "/api/documents/no-such-id")
	if err != nil {
		t.Fatal(err)
	}
	defer r.Body.Close()
	if r.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", r.StatusCode)
	}
}

func TestListRejectsUnknownStatusFilter(t *testing.T) {
	srv, _ := newTestServer(t)
	r, err := http.Get(srv.URL + "/api/documents?status=bogus")
	if err != nil {
		t.Fatal(err)
	}
	defer r.Body.Close()
	if r.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", r.StatusCode)
	}
}

func TestStats(t *testing.T) {
	srv, _ := newTestServer(t)
	uploadFile(t, srv, "a.pdf", []byte("one"))
	uploadFile(t, srv, "b.pdf", []byte("two"))

	r, err := http.Get(srv.URL + "/api/documents/stats")
	if err != nil {
		t.Fatal(err)
	}
	defer r.Body.Close()
	var counts map[string]any
	if err := json.NewDecoder(r.Body).Decode(&counts); err != nil {
		t.Fatal(err)
	}
	if counts["total"] != float64(2) {
		t.Fatalf("stats = %+v", counts)
	}
}

func TestDownloadRoundTrip(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, _ := uploadFile(t, srv, "a.pdf", []byte("original content"))
	id := fileID(t, resp)

	r, err := http.Get(srv.URL + "/api/documents/" + id + "/download")
	if err != nil {
		t.Fatal(err)
	}
	defer r.Body.Close()
	if r.StatusCode != http.StatusOK {
		t.Fatalf("download status = %d", r.StatusCode)
	}
	if cd := r.Header.Get("Content-Disposition"); cd != `attachment; filename="a.pdf"` {
		t.Fatalf("Content-Disposition = %q", cd)
	}
	data, err := io.ReadAll(r.Body)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "original content" {
		t.Fatalf("downloaded %q", data)
	}
}

func TestDownloadTextBeforeExtraction(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, _ := uploadFile(t, srv, "a.pdf", []byte("content"))
	id := fileID(t, resp)

	r, err := http.Get(srv.URL + "/api/documents/" + id + "/download-text")
	if err != nil {
		t.Fatal(err)
	}
	defer r.Body.Close()
	if r.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404 while text is unavailable", r.StatusCode)
	}
}

func TestDelete(t *testing.T) {
	srv, store := newTestServer(t)
	resp, _ := uploadFile(t, srv, "a.pdf", []byte("content"))
	id := fileID(t, resp)

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/api/documents/"+id, nil)
	if err != nil {
		t.Fatal(err)
	}
	r, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Body.Close()
	if r.StatusCode != http.StatusOK {
		t.Fatalf("delete status = %d", r.StatusCode)
	}
	if _, err := store.GetByID(context.Background(), id); err == nil {
		t.Fatal("record survived delete")
	}
}

func TestDeleteFailedBulk(t *testing.T) {
	srv, store := newTestServer(t)
	resp, _ := uploadFile(t, srv, "a.pdf", []byte("doomed"))
	id := fileID(t, resp)
	if err := store.FailExtraction(context.Background(), id, "unreadable"); err != nil {
		t.Fatal(err)
	}
	uploadFile(t, srv, "b.pdf", []byte("healthy"))

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/api/documents/failed", nil)
	if err != nil {
		t.Fatal(err)
	}
	r, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Body.Close()
	var out map[string]any
	if err := json.NewDecoder(r.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if out["deleted"] != float64(1) {
		t.Fatalf("deleted = %v, want 1", out["deleted"])
	}
}

func TestSearchUnconfigured(t *testing.T) {
	srv, _ := newTestServer(t)
	r, err := http.Get(srv.URL + "/api/search?q=foo")
	if err != nil {
		t.Fatal(err)
	}
	defer r.Body.Close()
	if r.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", r.StatusCode)
	}
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t)
	for _, path := range []string{"/health", "/health/live", "/health/ready"} {
		r, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatal(err)
		}
		r.Body.Close()
		if r.StatusCode != http.StatusOK {
			t.Fatalf("%s status = %d", path, r.StatusCode)
		}
	}
}
