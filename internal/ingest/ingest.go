// Package ingest reads raw transaction batches from CSV and JSON sources. No
// typing happens here: cells are kept as strings (CSV) or JSON scalars, and the
// validator decides what they mean.
package ingest

import (
	"bytes"
	"crypto/sha256"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/johnayoung/go-eft-pipeline/internal/models"
)

// Format identifies an input encoding.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
)

const utf8BOM = "\ufeff"

// ErrUnsupportedFormat is returned for inputs that are neither CSV nor JSON.
var ErrUnsupportedFormat = errors.New("unsupported input format")

// FormatForPath picks a format from a file extension.
func FormatForPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return FormatCSV, nil
	case ".json":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}
}

// FormatForContentType picks a format from an HTTP Content-Type header.
func FormatForContentType(contentType string) (Format, error) {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, contentType)
	}
	switch mediaType {
	case "text/csv", "application/csv":
		return FormatCSV, nil
	case "application/json":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, mediaType)
	}
}

// Read decodes r in the given format.
func Read(r io.Reader, format Format) (models.Batch, error) {
	switch format {
	case FormatCSV:
		return ReadCSV(r)
	case FormatJSON:
		return ReadJSON(r)
	default:
		return models.Batch{}, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
}

// ReadFile reads a batch from disk, choosing the decoder by extension. It also
// returns the SHA-256 checksum of the file contents.
func ReadFile(path string) (models.Batch, string, error) {
	format, err := FormatForPath(path)
	if err != nil {
		return models.Batch{}, "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return models.Batch{}, "", fmt.Errorf("read %s: %w", path, err)
	}
	batch, err := Read(bytes.NewReader(data), format)
	if err != nil {
		return models.Batch{}, "", fmt.Errorf("parse %s: %w", path, err)
	}
	return batch, Checksum(data), nil
}

// Checksum returns the hex SHA-256 of data.
func Checksum(data []byte) string {
	return fmt.Sprintf("%x", sha256.Sum256(data))
}

// ReadCSV reads a header row followed by data rows. Empty cells become nulls.
func ReadCSV(r io.Reader) (models.Batch, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err == io.EOF {
		return models.Batch{}, nil
	}
	if err != nil {
		return models.Batch{}, fmt.Errorf("read header: %w", err)
	}

	columns := make([]string, len(header))
	seen := make(map[string]struct{}, len(header))
	for i, h := range header {
		name := strings.TrimSpace(strings.TrimPrefix(h, utf8BOM))
		if name == "" {
			return models.Batch{}, fmt.Errorf("header column %d is empty", i+1)
		}
		if _, dup := seen[name]; dup {
			return models.Batch{}, fmt.Errorf("duplicate header column %q", name)
		}
		seen[name] = struct{}{}
		columns[i] = name
	}

	var records []models.RawRecord
	lineNum := 1
	for {
		lineNum++
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return models.Batch{}, fmt.Errorf("line %d: %w", lineNum, err)
		}

		rec := make(models.RawRecord, len(columns))
		for i, col := range columns {
			if row[i] == "" {
				rec[col] = nil
				continue
			}
			rec[col] = row[i]
		}
		records = append(records, rec)
	}

	return models.Batch{Columns: columns, Records: records}, nil
}

// ReadJSON reads either an array of objects or an object holding that array
// under "records" or "transactions". Numbers are kept as json.Number. Columns
// are the union of object keys in first-seen order.
func ReadJSON(r io.Reader) (models.Batch, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return models.Batch{}, fmt.Errorf("read: %w", err)
	}
	data = bytes.TrimPrefix(bytes.TrimSpace(data), []byte(utf8BOM))
	if len(data) == 0 {
		return models.Batch{}, nil
	}

	var items []json.RawMessage
	if data[0] == '{' {
		var wrapper struct {
			Records      []json.RawMessage `json:"records"`
			Transactions []json.RawMessage `json:"transactions"`
		}
		if err := json.Unmarshal(data, &wrapper); err != nil {
			return models.Batch{}, fmt.Errorf("unmarshal: %w", err)
		}
		items = wrapper.Records
		if items == nil {
			items = wrapper.Transactions
		}
	} else if err := json.Unmarshal(data, &items); err != nil {
		return models.Batch{}, fmt.Errorf("unmarshal: %w", err)
	}

	var columns []string
	known := make(map[string]struct{})
	records := make([]models.RawRecord, 0, len(items))

	for i, raw := range items {
		keys, rec, err := decodeObject(raw)
		if err != nil {
			return models.Batch{}, fmt.Errorf("record %d: %w", i, err)
		}
		for _, k := range keys {
			if _, ok := known[k]; !ok {
				known[k] = struct{}{}
				columns = append(columns, k)
			}
		}
		records = append(records, rec)
	}

	return models.Batch{Columns: columns, Records: records}, nil
}

// decodeObject decodes one JSON object, returning its keys in document order.
func decodeObject(raw json.RawMessage) ([]string, models.RawRecord, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return nil, nil, err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, nil, fmt.Errorf("expected object, got %v", tok)
	}

	var keys []string
	rec := make(models.RawRecord)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, nil, fmt.Errorf("expected object key, got %v", tok)
		}
		var value any
		if err := dec.Decode(&value); err != nil {
			return nil, nil, fmt.Errorf("field %q: %w", key, err)
		}
		if _, dup := rec[key]; !dup {
			keys = append(keys, key)
		}
		rec[key] = value
	}
	return keys, rec, nil
}

// WriteCSV writes batch with a header row in column order. Nulls become empty
// cells, so ReadCSV reads the batch back with the same nulls.
func WriteCSV(w io.Writer, batch models.Batch) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(batch.Columns); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	row := make([]string, len(batch.Columns))
	for n, rec := range batch.Records {
		for i, col := range batch.Columns {
			row[i] = cell(rec[col])
		}
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("write record %d: %w", n, err)
		}
	}

	writer.Flush()
	return writer.Error()
}

func cell(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case json.Number:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}
