package uploads

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/examcore/pkg/httputil"
	"github.com/platinummonkey/examcore/pkg/observability"
)

type fakeStore struct {
	keys         []string
	contentTypes []string
	bodies       [][]byte
	err          error
}

func (f *fakeStore) Upload(_ context.Context, key string, body io.Reader, _ int64, contentType string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return "", err
	}
	f.keys = append(f.keys, key)
	f.contentTypes = append(f.contentTypes, contentType)
	f.bodies = append(f.bodies, data)
	return "https://cdn.example.com/exams/" + key, nil
}

func (f *fakeStore) Delete(context.Context, string) error { return nil }

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

func multipartBody(t *testing.T, field, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func setup(t *testing.T, store *fakeStore) (*mux.Router, *observability.Metrics) {
	t.Helper()
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	h := NewHandlers(store, metrics)
	h.now = func() time.Time { return time.Date(2026, 2, 14, 9, 0, 0, 0, time.UTC) }
	router := mux.NewRouter()
	h.RegisterRoutes(router, httputil.AllowAll)
	return router, metrics
}

func post(router http.Handler, body io.Reader, contentType string) *httptest.ResponseRecorder {
	req := httptest.NewRequest("POST", "/storage/upload", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestUpload_Image(t *testing.T) {
	store := &fakeStore{}
	router, metrics := setup(t, store)

	content := append(append([]byte{}, pngHeader...), bytes.Repeat([]byte{0x01}, 2048)...)
	body, contentType := multipartBody(t, "file", "Diagram.PNG", content)

	rec := post(router, body, contentType)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	require.Len(t, store.keys, 1)
	assert.Regexp(t, regexp.MustCompile(`^uploads/2026/02/[0-9a-f-]{36}\.png$`), store.keys[0])
	assert.Equal(t, "image/png", store.contentTypes[0])
	assert.Equal(t, content, store.bodies[0], "sniffed bytes are uploaded too")

	var resp struct {
		Data Result `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "https://cdn.example.com/exams/"+store.keys[0], resp.Data.URL)
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.UploadsTotal.WithLabelValues(observability.OutcomeSuccess)))
}

func TestUpload_PDFWithoutExtension(t *testing.T) {
	store := &fakeStore{}
	router, _ := setup(t, store)

	body, contentType := multipartBody(t, "file", "syllabus", []byte("%PDF-1.7\n%\xe2\xe3\xcf\xd3\n1 0 obj\n"))

	rec := post(router, body, contentType)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Regexp(t, `\.pdf$`, store.keys[0])
	assert.Equal(t, "application/pdf", store.contentTypes[0])
}

func TestUpload_Rejections(t *testing.T) {
	tests := []struct {
		name     string
		field    string
		filename string
		content  []byte
		message  string
	}{
		{"text file", "file", "notes.txt", []byte("just some plain text"), "only images and PDF files are allowed"},
		{"html disguised as png", "file", "x.png", []byte("<html><body>hi</body></html>"), "only images and PDF files are allowed"},
		{"wrong field", "document", "a.png", pngHeader, "file is required"},
		{"empty file", "file", "a.png", nil, "file is empty"},
		{"too large", "file", "big.png", append(append([]byte{}, pngHeader...), make([]byte, MaxUploadSize)...), "file must be at most 10 MiB"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &fakeStore{}
			router, _ := setup(t, store)
			body, contentType := multipartBody(t, tt.field, tt.filename, tt.content)

			rec := post(router, body, contentType)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.message)
			assert.Empty(t, store.keys)
		})
	}
}

func TestUpload_NotMultipart(t *testing.T) {
	router, _ := setup(t, &fakeStore{})
	rec := post(router, bytes.NewBufferString(`{"file":"x"}`), "application/json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpload_StoreFailure(t *testing.T) {
	store := &fakeStore{err: errors.New("bucket unavailable")}
	router, metrics := setup(t, store)
	body, contentType := multipartBody(t, "file", "a.png", pngHeader)

	rec := post(router, body, contentType)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "bucket unavailable")
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.UploadsTotal.WithLabelValues(observability.OutcomeError)))
}
