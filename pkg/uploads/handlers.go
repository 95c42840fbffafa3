package uploads

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/platinummonkey/examcore/pkg/apperr"
	"github.com/platinummonkey/examcore/pkg/audit"
	"github.com/platinummonkey/examcore/pkg/httputil"
	"github.com/platinummonkey/examcore/pkg/observability"
	"github.com/platinummonkey/examcore/pkg/storage"
)

const (
	// MaxUploadSize is the largest accepted file
	MaxUploadSize = 10 << 20

	formField = "file"
	sniffLen  = 512
)

// Result is returned for a stored upload
type Result struct {
	URL string `json:"url"`
	Key string `json:"key"`
}

// Handlers accepts file uploads into object storage
type Handlers struct {
	store   storage.ObjectStore
	metrics *observability.Metrics
	now     func() time.Time
}

// NewHandlers creates upload handlers. metrics may be nil.
func NewHandlers(store storage.ObjectStore, metrics *observability.Metrics) *Handlers {
	return &Handlers{store: store, metrics: metrics, now: time.Now}
}

// RegisterRoutes registers the upload route. Any signed-in caller may upload.
func (h *Handlers) RegisterRoutes(router *mux.Router, guard httputil.Guard) {
	router.Handle("/storage/upload", httputil.Protect(guard, h.Upload)).Methods("POST")
}

// Upload handles POST /storage/upload with a multipart "file" field
func (h *Handlers) Upload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	res, err := h.upload(w, r)
	h.metrics.RecordUpload(err)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindInternal {
			observability.FromContext(ctx).WithError(err).Error("upload failed")
		}
		httputil.WriteAppError(w, err)
		return
	}

	audit.LogMutation(ctx, audit.EventTypeDataFileUpload, audit.ResourceTypeFile, res.Key, "file uploaded")
	httputil.WriteData(w, http.StatusCreated, res)
}

func (h *Handlers) upload(w http.ResponseWriter, r *http.Request) (*Result, error) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxUploadSize+1<<20)
	if err := r.ParseMultipartForm(MaxUploadSize); err != nil {
		return nil, apperr.BadRequest("file is required and must be at most 10 MiB")
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile(formField)
	if err != nil {
		return nil, apperr.BadRequest("file is required")
	}
	defer file.Close()

	if header.Size > MaxUploadSize {
		return nil, apperr.BadRequest("file must be at most 10 MiB")
	}

	head := make([]byte, sniffLen)
	n, err := io.ReadFull(file, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return nil, apperr.Internal(fmt.Errorf("failed to read upload: %w", err))
	}
	head = head[:n]
	if n == 0 {
		return nil, apperr.BadRequest("file is empty")
	}

	contentType, ok := allowedType(head)
	if !ok {
		return nil, apperr.BadRequest("only images and PDF files are allowed")
	}

	key := h.objectKey(header.Filename, contentType)
	body := io.MultiReader(bytes.NewReader(head), file)
	url, err := h.store.Upload(r.Context(), key, body, header.Size, contentType)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return &Result{URL: url, Key: key}, nil
}

// allowedType sniffs the content type and accepts image/* and application/pdf
func allowedType(head []byte) (string, bool) {
	contentType := http.DetectContentType(head)
	if i := strings.Index(contentType, ";"); i >= 0 {
		contentType = contentType[:i]
	}
	return contentType, strings.HasPrefix(contentType, "image/") || contentType == "application/pdf"
}

// objectKey builds uploads/{yyyy}/{mm}/{uuid}{ext}
func (h *Handlers) objectKey(filename, contentType string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	if ext == "" || len(ext) > 8 {
		ext = ""
		if exts, err := mime.ExtensionsByType(contentType); err == nil && len(exts) > 0 {
			ext = exts[0]
		}
	}
	now := h.now().UTC()
	return fmt.Sprintf("uploads/%04d/%02d/%s%s", now.Year(), int(now.Month()), uuid.NewString(), ext)
}
