package etl

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/segmentio/parquet-go"
)

// maxLineSize bounds a single JSON-lines record
const maxLineSize = 64 << 20

// RowError is a problem with one input row; the row is skipped and reading
// continues
type RowError struct {
	Line int
	Err  error
}

func (e *RowError) Error() string {
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

func (e *RowError) Unwrap() error {
	return e.Err
}

// rowReader yields input rows until io.EOF
type rowReader interface {
	Read() (InputRow, error)
	Close() error
}

// openReader opens an input file and checks that the required columns are
// present before any row is read
func openReader(path string) (rowReader, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrInputNotFound, path)
		}
		return nil, fmt.Errorf("failed to open input: %w", err)
	}

	var reader rowReader
	switch DetectFileFormat(path) {
	case FormatParquet:
		reader, err = newParquetReader(file)
	case FormatJSONL:
		reader, err = newJSONLReader(file)
	default:
		reader, err = newCSVReader(file)
	}
	if err != nil {
		file.Close()
		return nil, err
	}

	return reader, nil
}

// csvReader reads record_id and data_json columns located by header name
type csvReader struct {
	file    *os.File
	reader  *csv.Reader
	idIdx   int
	dataIdx int
}

func newCSVReader(file *os.File) (*csvReader, error) {
	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1
	reader.ReuseRecord = true

	header, err := reader.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("%w: empty CSV input", ErrMissingColumn)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}

	idIdx, dataIdx := -1, -1
	for i, column := range header {
		name := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(column, "\ufeff")))
		switch {
		case name == ColumnRecordID && idIdx < 0:
			idIdx = i
		case name == ColumnDataJSON && dataIdx < 0:
			dataIdx = i
		}
	}
	if err := missingColumns(idIdx >= 0, dataIdx >= 0); err != nil {
		return nil, err
	}

	return &csvReader{file: file, reader: reader, idIdx: idIdx, dataIdx: dataIdx}, nil
}

func (r *csvReader) Read() (InputRow, error) {
	fields, err := r.reader.Read()
	if err == io.EOF {
		return InputRow{}, io.EOF
	}
	if err != nil {
		var parseErr *csv.ParseError
		if errors.As(err, &parseErr) {
			return InputRow{}, &RowError{Line: parseErr.Line, Err: parseErr.Err}
		}
		return InputRow{}, err
	}

	if len(fields) <= r.idIdx || len(fields) <= r.dataIdx {
		line := 0
		if len(fields) > 0 {
			line, _ = r.reader.FieldPos(0)
		}
		return InputRow{}, &RowError{Line: line, Err: fmt.Errorf("expected at least %d fields, got %d", max(r.idIdx, r.dataIdx)+1, len(fields))}
	}

	return InputRow{
		RecordID: fields[r.idIdx],
		DataJSON: fields[r.dataIdx],
	}, nil
}

func (r *csvReader) Close() error {
	return r.file.Close()
}

// jsonlReader reads one JSON object per line. record_id may be a string or a
// number; data_json may be a JSON string or an inline object.
type jsonlReader struct {
	file    *os.File
	scanner *bufio.Scanner
	line    int
	// first holds the row peeked while checking columns; skipped holds the
	// unreadable lines that preceded it
	first   *InputRow
	skipped []error
}

func newJSONLReader(file *os.File) (*jsonlReader, error) {
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	r := &jsonlReader{file: file, scanner: scanner}

	var fields map[string]json.RawMessage
	for {
		var err error
		fields, err = r.nextObject()
		if err == nil {
			break
		}
		var rowErr *RowError
		if errors.As(err, &rowErr) {
			r.skipped = append(r.skipped, err)
			continue
		}
		if err == io.EOF {
			return nil, fmt.Errorf("%w: no JSON object in JSON-lines input", ErrMissingColumn)
		}
		return nil, fmt.Errorf("failed to read first JSON line: %w", err)
	}

	_, hasID := fields[ColumnRecordID]
	_, hasData := fields[ColumnDataJSON]
	if err := missingColumns(hasID, hasData); err != nil {
		return nil, err
	}

	row := toInputRow(fields)
	r.first = &row
	return r, nil
}

// nextObject returns the next non-blank line decoded as an object
func (r *jsonlReader) nextObject() (map[string]json.RawMessage, error) {
	for r.scanner.Scan() {
		r.line++
		line := bytes.TrimSpace(r.scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var fields map[string]json.RawMessage
		if err := json.Unmarshal(line, &fields); err != nil {
			return nil, &RowError{Line: r.line, Err: err}
		}
		if fields == nil {
			return nil, &RowError{Line: r.line, Err: errors.New("line is not a JSON object")}
		}
		return fields, nil
	}

	if err := r.scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read JSON lines: %w", err)
	}
	return nil, io.EOF
}

func (r *jsonlReader) Read() (InputRow, error) {
	if len(r.skipped) > 0 {
		err := r.skipped[0]
		r.skipped = r.skipped[1:]
		return InputRow{}, err
	}
	if r.first != nil {
		row := *r.first
		r.first = nil
		return row, nil
	}

	fields, err := r.nextObject()
	if err != nil {
		return InputRow{}, err
	}
	return toInputRow(fields), nil
}

func (r *jsonlReader) Close() error {
	return r.file.Close()
}

func toInputRow(fields map[string]json.RawMessage) InputRow {
	return InputRow{
		RecordID: scalarText(fields[ColumnRecordID]),
		DataJSON: scalarText(fields[ColumnDataJSON]),
	}
}

// scalarText unquotes a JSON string and returns any other value as its raw
// text; null and missing values are empty
func scalarText(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return s
		}
	}
	return string(raw)
}

// parquetReader reads rows from a Parquet file with string record_id and
// data_json columns
type parquetReader struct {
	file   *os.File
	reader *parquet.Reader
	row    int
}

func newParquetReader(file *os.File) (*parquetReader, error) {
	info, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat Parquet file: %w", err)
	}

	pf, err := parquet.OpenFile(file, info.Size())
	if err != nil {
		return nil, fmt.Errorf("failed to open Parquet file: %w", err)
	}

	_, hasID := pf.Schema().Lookup(ColumnRecordID)
	_, hasData := pf.Schema().Lookup(ColumnDataJSON)
	if err := missingColumns(hasID, hasData); err != nil {
		return nil, err
	}

	return &parquetReader{file: file, reader: parquet.NewReader(pf)}, nil
}

func (r *parquetReader) Read() (InputRow, error) {
	var row InputRow
	if err := r.reader.Read(&row); err != nil {
		if err == io.EOF {
			return InputRow{}, io.EOF
		}
		return InputRow{}, fmt.Errorf("failed to read Parquet row %d: %w", r.row, err)
	}
	r.row++
	return row, nil
}

func (r *parquetReader) Close() error {
	r.reader.Close()
	return r.file.Close()
}

func missingColumns(hasID, hasData bool) error {
	var missing []string
	if !hasID {
		missing = append(missing, ColumnRecordID)
	}
	if !hasData {
		missing = append(missing, ColumnDataJSON)
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingColumn, strings.Join(missing, ", "))
	}
	return nil
}
