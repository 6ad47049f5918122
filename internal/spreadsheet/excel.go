package spreadsheet

import (
	"fmt"
	"io"

	"github.com/extrame/xls"
	"github.com/xuri/excelize/v2"
)

// sliceReader serves chunks out of a fully-decoded sheet. Both Excel
// formats land here; neither can be streamed row-at-a-time from disk.
type sliceReader struct {
	header    []string
	rows      [][]string
	pos       int
	nextIndex int
	chunkSize int
}

func newSliceReader(cells [][]string, chunkSize int) *sliceReader {
	if len(cells) == 0 {
		return &sliceReader{chunkSize: chunkSize}
	}
	return &sliceReader{
		header:    trimAll(cells[0]),
		rows:      cells[1:],
		chunkSize: chunkSize,
	}
}

func (s *sliceReader) Header() []string { return s.header }

func (s *sliceReader) Next() ([]Row, error) {
	chunk := make([]Row, 0, s.chunkSize)
	for s.pos < len(s.rows) && len(chunk) < s.chunkSize {
		record := s.rows[s.pos]
		s.pos++
		if allEmpty(record) {
			continue
		}
		chunk = append(chunk, Row{Index: s.nextIndex, Values: padTo(record, len(s.header))})
		s.nextIndex++
	}
	if len(chunk) == 0 {
		return nil, io.EOF
	}
	return chunk, nil
}

func (s *sliceReader) Close() error { return nil }

func openXLSX(path string, chunkSize int) (Reader, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("spreadsheet: open xlsx: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return newSliceReader(nil, chunkSize), nil
	}
	// First sheet only, matching the upload contract
	cells, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("spreadsheet: read xlsx sheet: %w", err)
	}
	return newSliceReader(cells, chunkSize), nil
}

func openXLS(path string, chunkSize int) (Reader, error) {
	wb, err := xls.Open(path, "utf-8")
	if err != nil {
		return nil, fmt.Errorf("spreadsheet: open xls: %w", err)
	}
	cells := wb.ReadAllCells(1 << 20)
	return newSliceReader(cells, chunkSize), nil
}
