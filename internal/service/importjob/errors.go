package importjob

import "errors"

var (
	// ErrNotFound means no job exists with the given id.
	ErrNotFound = errors.New("import job not found")

	// ErrUnsupportedType means the upload extension is not csv/xls/xlsx.
	ErrUnsupportedType = errors.New("unsupported file type, expected .csv, .xls or .xlsx")

	// ErrFileTooLarge means the upload exceeds the configured ceiling.
	ErrFileTooLarge = errors.New("file exceeds the maximum upload size")

	// ErrEmptyFilename means the multipart part carried no filename.
	ErrEmptyFilename = errors.New("missing filename")
)
