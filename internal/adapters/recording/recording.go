// Package recording appends uploaded video chunks to one file per candidate.
package recording

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sync"
)

const guestName = "guest"

// ErrInvalidCandidate is returned for candidate IDs unusable as file names.
var ErrInvalidCandidate = errors.New("recording: invalid candidate id")

var candidatePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// Appender serialises writes per recording so chunks never interleave.
type Appender struct {
	dir string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewAppender creates dir if needed.
func NewAppender(dir string) (*Appender, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create recordings dir: %w", err)
	}
	return &Appender{dir: dir, locks: make(map[string]*sync.Mutex)}, nil
}

func (a *Appender) lockFor(name string) *sync.Mutex {
	a.mu.Lock()
	defer a.mu.Unlock()
	l, ok := a.locks[name]
	if !ok {
		l = &sync.Mutex{}
		a.locks[name] = l
	}
	return l
}

// Path returns the recording file of candidateID. Anonymous uploads go to guest.webm.
func (a *Appender) Path(candidateID string) (string, error) {
	name := candidateID
	if name == "" {
		name = guestName
	}
	if !candidatePattern.MatchString(name) {
		return "", ErrInvalidCandidate
	}
	return filepath.Join(a.dir, name+".webm"), nil
}

// Append writes chunk to the end of the candidate's recording and returns
// the number of bytes written. A chunk that fails mid-copy is cut back off.
func (a *Appender) Append(candidateID string, chunk io.Reader) (int64, error) {
	path, err := a.Path(candidateID)
	if err != nil {
		return 0, err
	}
	l := a.lockFor(path)
	l.Lock()
	defer l.Unlock()

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return 0, fmt.Errorf("open recording: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return 0, fmt.Errorf("stat recording: %w", err)
	}
	n, err := io.Copy(f, chunk)
	if err != nil {
		_ = f.Truncate(info.Size())
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return 0, fmt.Errorf("append chunk: %w", err)
	}
	return n, nil
}
