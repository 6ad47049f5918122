// Package spreadsheet reads tabular upload files (CSV, XLSX, XLS) as
// ordered chunks of rows. CSV streams from disk; the binary Excel formats
// decode the whole sheet up front and slice it, which is acceptable under
// the upload size ceiling enforced at intake.
package spreadsheet

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
)

// ErrUnsupported is returned for file extensions the reader cannot parse.
var ErrUnsupported = errors.New("spreadsheet: unsupported file type")

// Row is one data row. Index is the zero-based position after the header;
// Values is ordered like the header, padded with empty strings when the
// source row is short.
type Row struct {
	Index  int
	Values []string
}

// Reader yields a spreadsheet's data rows in fixed-size chunks.
type Reader interface {
	// Header returns the trimmed first row.
	Header() []string
	// Next returns the next chunk, at most the configured chunk size.
	// io.EOF signals the end; a non-empty final chunk comes with nil.
	Next() ([]Row, error)
	Close() error
}

// Open dispatches on the file extension and returns a chunked reader.
func Open(path string, chunkSize int) (Reader, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("spreadsheet: chunk size %d", chunkSize)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return openCSV(path, chunkSize)
	case ".xlsx":
		return openXLSX(path, chunkSize)
	case ".xls":
		return openXLS(path, chunkSize)
	default:
		return nil, ErrUnsupported
	}
}

// CountRows returns the number of data rows (header excluded).
func CountRows(path string) (int, error) {
	r, err := Open(path, 4096)
	if err != nil {
		return 0, err
	}
	defer r.Close()

	total := 0
	for {
		chunk, err := r.Next()
		total += len(chunk)
		if err == io.EOF {
			return total, nil
		}
		if err != nil {
			return 0, err
		}
	}
}

// ValidateHeader returns the required column names missing from the
// file's header. Comparison is case-insensitive after trimming.
func ValidateHeader(path string, required []string) ([]string, error) {
	r, err := Open(path, 1)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	present := make(map[string]bool)
	for _, h := range r.Header() {
		present[strings.ToLower(strings.TrimSpace(h))] = true
	}

	var missing []string
	for _, name := range required {
		if !present[strings.ToLower(strings.TrimSpace(name))] {
			missing = append(missing, name)
		}
	}
	return missing, nil
}

func trimAll(cells []string) []string {
	out := make([]string, len(cells))
	for i, c := range cells {
		out[i] = strings.TrimSpace(c)
	}
	return out
}

func allEmpty(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

// padTo returns cells extended (or truncated) to width n.
func padTo(cells []string, n int) []string {
	if len(cells) == n {
		return cells
	}
	out := make([]string, n)
	copy(out, cells)
	return out
}
