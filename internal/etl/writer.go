package etl

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/segmentio/parquet-go"
)

// rowWriter writes output rows. Commit makes the file visible at its final
// path; Abort discards it.
type rowWriter interface {
	Write(row OutputRow) error
	Commit() error
	Abort()
}

// createWriter creates the output next to its final path under a temporary
// name so that a failed run never leaves a partial file behind
func createWriter(path string) (rowWriter, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	file, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return nil, fmt.Errorf("failed to create output: %w", err)
	}

	base := &tempFile{file: file, path: path}

	switch DetectFileFormat(path) {
	case FormatParquet:
		return &parquetWriter{tempFile: base, writer: parquet.NewGenericWriter[OutputRow](file)}, nil
	case FormatJSONL:
		buf := bufio.NewWriter(file)
		encoder := json.NewEncoder(buf)
		encoder.SetEscapeHTML(false)
		return &jsonlWriter{tempFile: base, buf: buf, encoder: encoder}, nil
	default:
		w := &csvWriter{tempFile: base, writer: csv.NewWriter(file)}
		if err := w.writer.Write([]string{ColumnRecordID, ColumnRedactedDataJSON, ColumnIsPII}); err != nil {
			base.Abort()
			return nil, fmt.Errorf("failed to write CSV header: %w", err)
		}
		return w, nil
	}
}

type tempFile struct {
	file *os.File
	path string
}

func (t *tempFile) commit() error {
	if err := t.file.Close(); err != nil {
		os.Remove(t.file.Name())
		return fmt.Errorf("failed to close output: %w", err)
	}
	if err := os.Rename(t.file.Name(), t.path); err != nil {
		os.Remove(t.file.Name())
		return fmt.Errorf("failed to move output into place: %w", err)
	}
	return nil
}

func (t *tempFile) Abort() {
	t.file.Close()
	os.Remove(t.file.Name())
}

type csvWriter struct {
	*tempFile
	writer *csv.Writer
}

func (w *csvWriter) Write(row OutputRow) error {
	return w.writer.Write([]string{row.RecordID, row.RedactedDataJSON, strconv.FormatBool(row.IsPII)})
}

func (w *csvWriter) Commit() error {
	w.writer.Flush()
	if err := w.writer.Error(); err != nil {
		w.Abort()
		return fmt.Errorf("failed to flush CSV output: %w", err)
	}
	return w.commit()
}

type jsonlWriter struct {
	*tempFile
	buf     *bufio.Writer
	encoder *json.Encoder
}

func (w *jsonlWriter) Write(row OutputRow) error {
	return w.encoder.Encode(row)
}

func (w *jsonlWriter) Commit() error {
	if err := w.buf.Flush(); err != nil {
		w.Abort()
		return fmt.Errorf("failed to flush JSON-lines output: %w", err)
	}
	return w.commit()
}

type parquetWriter struct {
	*tempFile
	writer *parquet.GenericWriter[OutputRow]
}

func (w *parquetWriter) Write(row OutputRow) error {
	_, err := w.writer.Write([]OutputRow{row})
	return err
}

func (w *parquetWriter) Commit() error {
	if err := w.writer.Close(); err != nil {
		w.Abort()
		return fmt.Errorf("failed to finalize Parquet output: %w", err)
	}
	return w.commit()
}
