package spreadsheet

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
)

// csvReader streams a CSV file chunk by chunk without buffering the file.
type csvReader struct {
	f         *os.File
	r         *csv.Reader
	header    []string
	chunkSize int
	nextIndex int
	done      bool
}

func openCSV(path string, chunkSize int) (Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("spreadsheet: open csv: %w", err)
	}

	r := csv.NewReader(f)
	r.LazyQuotes = true
	r.TrimLeadingSpace = true
	r.FieldsPerRecord = -1 // ragged rows are a row-level concern, not a parse error

	header, err := r.Read()
	if err == io.EOF {
		// headerless empty file: zero data rows
		return &csvReader{f: f, r: r, header: nil, chunkSize: chunkSize, done: true}, nil
	}
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("spreadsheet: read csv header: %w", err)
	}

	return &csvReader{f: f, r: r, header: trimAll(header), chunkSize: chunkSize}, nil
}

func (c *csvReader) Header() []string { return c.header }

func (c *csvReader) Next() ([]Row, error) {
	if c.done {
		return nil, io.EOF
	}

	chunk := make([]Row, 0, c.chunkSize)
	for len(chunk) < c.chunkSize {
		record, err := c.r.Read()
		if err == io.EOF {
			c.done = true
			if len(chunk) == 0 {
				return nil, io.EOF
			}
			return chunk, nil
		}
		if err != nil {
			return chunk, fmt.Errorf("spreadsheet: read csv row: %w", err)
		}
		if allEmpty(record) {
			continue
		}
		chunk = append(chunk, Row{Index: c.nextIndex, Values: padTo(record, len(c.header))})
		c.nextIndex++
	}
	return chunk, nil
}

func (c *csvReader) Close() error { return c.f.Close() }
