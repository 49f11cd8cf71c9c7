package api

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"

	"github.com/go-chi/chi/v5"
)

const (
	videoChunkField = "videoChunk"
	evidenceField   = "file"
	// multipartOverhead leaves room for boundaries and headers.
	multipartOverhead = 64 << 10
)

// MediaHandler serves video chunk and evidence uploads.
type MediaHandler struct {
	deps     Dependencies
	maxBytes int64
}

// NewMediaHandler creates a new media handler accepting parts of at most maxBytes.
func NewMediaHandler(deps Dependencies, maxBytes int64) *MediaHandler {
	return &MediaHandler{deps: deps, maxBytes: maxBytes}
}

// formFile returns the named part without buffering the whole body.
func (h *MediaHandler) formFile(w http.ResponseWriter, r *http.Request, field string) (io.ReadCloser, string, error) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes+multipartOverhead)
	mr, err := r.MultipartReader()
	if err != nil {
		return nil, "", fmt.Errorf("%w: expected multipart form: %w", ErrBadRequest, err)
	}
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return nil, "", fmt.Errorf("%w: missing %q field", ErrBadRequest, field)
		}
		if err != nil {
			return nil, "", fmt.Errorf("%w: %w", ErrBadRequest, err)
		}
		if part.FormName() == field {
			return part, part.Header.Get("Content-Type"), nil
		}
		_ = part.Close()
	}
}

type chunkResponse struct {
	Bytes int64 `json:"bytes"`
}

// HandleUploadChunk handles POST /api/video/upload-chunk.
func (h *MediaHandler) HandleUploadChunk(w http.ResponseWriter, r *http.Request) {
	part, _, err := h.formFile(w, r, videoChunkField)
	if err != nil {
		writeFailure(w, err)
		return
	}
	defer func() { _ = part.Close() }()

	// The whole chunk is read before anything reaches the recording, so a
	// rejected upload leaves the file untouched.
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(io.LimitReader(part, h.maxBytes+1)); err != nil {
		writeFailure(w, fmt.Errorf("%w: %w", ErrBadRequest, err))
		return
	}
	if int64(buf.Len()) > h.maxBytes {
		writeFailure(w, fmt.Errorf("%w: chunk exceeds %d bytes", ErrTooLarge, h.maxBytes))
		return
	}

	n, err := h.deps.AppendChunk(r.Context(), principal(r), &buf)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeData(w, http.StatusOK, chunkResponse{Bytes: n})
}

type evidenceResponse struct {
	URL  string `json:"url"`
	Name string `json:"name"`
}

// HandleUploadEvidence handles POST /api/evidence.
func (h *MediaHandler) HandleUploadEvidence(w http.ResponseWriter, r *http.Request) {
	part, contentType, err := h.formFile(w, r, evidenceField)
	if err != nil {
		writeFailure(w, err)
		return
	}
	defer func() { _ = part.Close() }()

	if contentType == "" {
		contentType = "image/jpeg"
	}
	name, url, err := h.deps.StoreEvidence(r.Context(), contentType, part)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeData(w, http.StatusCreated, evidenceResponse{URL: url, Name: name})
}

// HandleGetEvidence handles GET /api/evidence/{name}.
func (h *MediaHandler) HandleGetEvidence(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	f, err := h.deps.OpenEvidence(name)
	if err != nil {
		writeFailure(w, err)
		return
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		writeFailure(w, err)
		return
	}
	w.Header().Set("Cache-Control", "private, max-age=86400, immutable")
	http.ServeContent(w, r, path.Base(name), info.ModTime(), f)
}
