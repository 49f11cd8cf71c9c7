// Package objectstore keeps evidence frames on local disk under
// content-addressed names.
package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/zeebo/xxh3"
)

const defaultMaxObjectBytes = 8 << 20

var (
	// ErrNotFound is returned for unknown object names.
	ErrNotFound = errors.New("objectstore: object not found")
	// ErrInvalidName is returned for names that are not store-issued.
	ErrInvalidName = errors.New("objectstore: invalid object name")
	// ErrTooLarge is returned when an object exceeds the size limit.
	ErrTooLarge = errors.New("objectstore: object too large")

	namePattern = regexp.MustCompile(`^[0-9a-f]{16}\.(jpg|png|webp)$`)
)

var extensions = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
}

// DirStore writes objects into one directory and serves them back.
type DirStore struct {
	dir       string
	publicURL string
	maxBytes  int64
}

// Option configures a DirStore.
type Option func(*DirStore)

// WithMaxBytes caps the size of one object.
func WithMaxBytes(n int64) Option {
	return func(s *DirStore) {
		if n > 0 {
			s.maxBytes = n
		}
	}
}

// NewDirStore creates dir if needed. URLs are publicURL + "/api/evidence/" + name.
func NewDirStore(dir, publicURL string, opts ...Option) (*DirStore, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create evidence dir: %w", err)
	}
	s := &DirStore{
		dir:       dir,
		publicURL: strings.TrimRight(publicURL, "/"),
		maxBytes:  defaultMaxObjectBytes,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// URL returns the public address of name.
func (s *DirStore) URL(name string) string {
	return s.publicURL + "/api/evidence/" + name
}

// Put stores data and returns its name. Identical frames share one file.
func (s *DirStore) Put(ctx context.Context, contentType string, r io.Reader) (string, error) {
	ext, ok := extensions[contentType]
	if !ok {
		return "", fmt.Errorf("%w: unsupported content type %q", ErrInvalidName, contentType)
	}
	data, err := io.ReadAll(io.LimitReader(r, s.maxBytes+1))
	if err != nil {
		return "", fmt.Errorf("read object: %w", err)
	}
	if int64(len(data)) > s.maxBytes {
		return "", ErrTooLarge
	}
	if len(data) == 0 {
		return "", fmt.Errorf("%w: empty object", ErrInvalidName)
	}

	name := fmt.Sprintf("%016x%s", xxh3.Hash(data), ext)
	path := filepath.Join(s.dir, name)
	if _, err := os.Stat(path); err == nil {
		return name, nil
	}

	tmp, err := os.CreateTemp(s.dir, ".upload-*")
	if err != nil {
		return "", fmt.Errorf("create temp object: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	if _, err := io.Copy(tmp, bytes.NewReader(data)); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("write object: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close object: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("commit object: %w", err)
	}
	return name, nil
}

// Upload implements the evidence uploader for in-process use. The suggested
// name is ignored in favour of the content hash.
func (s *DirStore) Upload(ctx context.Context, _ string, contentType string, r io.Reader) (string, error) {
	name, err := s.Put(ctx, contentType, r)
	if err != nil {
		return "", err
	}
	return s.URL(name), nil
}

// Open returns a store-issued object for reading.
func (s *DirStore) Open(name string) (*os.File, error) {
	if !namePattern.MatchString(name) {
		return nil, ErrInvalidName
	}
	f, err := os.Open(filepath.Join(s.dir, name))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("open object: %w", err)
	}
	return f, nil
}
