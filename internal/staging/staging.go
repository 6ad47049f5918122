// Package staging stores uploaded spreadsheets on the local filesystem
// between submission and worker pickup. Files are keyed by (job id,
// extension) and live under a single configured directory; they are
// destroyed after processing or by explicit administrative purge.
package staging

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ErrNotFound is returned by Open and Find when no staged file exists
// for the job.
var ErrNotFound = errors.New("staging: file not found")

// Store keeps staged upload files under a root directory.
type Store struct {
	root string
}

// NewStore creates the root directory if needed.
func NewStore(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &Store{root: root}, nil
}

// Path returns the staged file path for a job and extension.
// ext includes the leading dot (".csv").
func (s *Store) Path(jobID, ext string) string {
	return filepath.Join(s.root, jobID+ext)
}

// Put streams src into the staged file for jobID, overwriting any
// previous staging for the same key.
func (s *Store) Put(jobID, ext string, src io.Reader) (int64, error) {
	dst, err := os.Create(s.Path(jobID, ext))
	if err != nil {
		return 0, fmt.Errorf("stage file: %w", err)
	}
	n, err := io.Copy(dst, src)
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(dst.Name())
		return 0, fmt.Errorf("stage file: %w", err)
	}
	return n, nil
}

// Open returns a reader over the staged file. The caller closes it.
func (s *Store) Open(jobID, ext string) (io.ReadCloser, error) {
	f, err := os.Open(s.Path(jobID, ext))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("open staged file: %w", err)
	}
	return f, nil
}

// Find locates the staged file for a job when the extension is not known,
// returning its full path. Used by the worker, which only has the job id.
func (s *Store) Find(jobID string) (string, error) {
	for _, ext := range []string{".csv", ".xlsx", ".xls"} {
		p := s.Path(jobID, ext)
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", ErrNotFound
}

// Delete removes the staged file for a job. Deleting a missing file is
// not an error; deletion is idempotent.
func (s *Store) Delete(jobID string) error {
	matches, err := filepath.Glob(filepath.Join(s.root, jobID+".*"))
	if err != nil {
		return fmt.Errorf("delete staged file: %w", err)
	}
	for _, m := range matches {
		// Glob patterns can overmatch if a job id ever contained
		// metacharacters; uuids never do, but keep the check cheap.
		if !strings.HasPrefix(filepath.Base(m), jobID+".") {
			continue
		}
		if err := os.Remove(m); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("delete staged file: %w", err)
		}
	}
	return nil
}
