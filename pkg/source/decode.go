package source

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"io"
	"path/filepath"
	"strings"

	gojson "github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/infortic/infortic/pkg/errors"
	"github.com/infortic/infortic/pkg/models"
)

// Format is an input encoding.
type Format string

const (
	// FormatAuto picks the format from the file extension or, for JSON,
	// from the first non-blank byte.
	FormatAuto Format = ""
	// FormatJSON is a JSON array of objects.
	FormatJSON Format = "json"
	// FormatJSONLines is one JSON object per line.
	FormatJSONLines Format = "jsonl"
	// FormatCSV is comma-separated values with a header row.
	FormatCSV Format = "csv"
)

// maxLineSize bounds a single JSON line.
const maxLineSize = 4 << 20

// ParseFormat resolves a format name.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return FormatAuto, nil
	case "json", "array":
		return FormatJSON, nil
	case "jsonl", "ndjson", "lines":
		return FormatJSONLines, nil
	case "csv":
		return FormatCSV, nil
	}
	return "", errors.Newf(errors.ErrorTypeConfig, "unknown input format %q", s)
}

// formatFromName guesses the format from a file name or URL path.
func formatFromName(name string) Format {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".jsonl", ".ndjson":
		return FormatJSONLines
	case ".csv":
		return FormatCSV
	default:
		return FormatAuto
	}
}

// decoder turns an input stream into records, skipping malformed items.
type decoder struct {
	format  Format
	logger  *zap.Logger
	skipped int
}

func (d *decoder) decode(r io.Reader) ([]models.Record, error) {
	br := bufio.NewReader(r)
	format := d.format
	if format == FormatAuto {
		format = sniffJSON(br)
	}
	switch format {
	case FormatJSON:
		return d.decodeArray(br)
	case FormatJSONLines:
		return d.decodeLines(br)
	case FormatCSV:
		return d.decodeCSV(br)
	}
	return nil, errors.Newf(errors.ErrorTypeConfig, "unsupported input format %q", format)
}

// sniffJSON distinguishes a JSON array from JSON lines.
func sniffJSON(br *bufio.Reader) Format {
	for i := 1; ; i++ {
		peek, err := br.Peek(i)
		if len(peek) < i {
			return FormatJSON
		}
		c := peek[i-1]
		switch c {
		case ' ', '\t', '\r', '\n':
			if err != nil {
				return FormatJSON
			}
			continue
		case '{':
			return FormatJSONLines
		default:
			return FormatJSON
		}
	}
}

func (d *decoder) decodeArray(r io.Reader) ([]models.Record, error) {
	dec := gojson.NewDecoder(r)
	dec.UseNumber()

	token, err := dec.Token()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeValidation, "failed to read JSON array start")
	}
	if delim, ok := token.(gojson.Delim); !ok || delim != '[' {
		return nil, errors.Newf(errors.ErrorTypeValidation, "expected JSON array, got %v", token)
	}

	var records []models.Record
	for i := 0; dec.More(); i++ {
		var raw any
		if err := dec.Decode(&raw); err != nil {
			return records, errors.Wrap(err, errors.ErrorTypeValidation, "failed to decode JSON array element").
				WithDetail("index", i)
		}
		obj, ok := raw.(map[string]any)
		if !ok {
			d.skip("array element is not an object", zap.Int("index", i))
			continue
		}
		records = append(records, toRecord(obj))
	}
	return records, nil
}

func (d *decoder) decodeLines(r io.Reader) ([]models.Record, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	var records []models.Record
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var obj map[string]any
		dec := gojson.NewDecoder(bytes.NewReader(line))
		dec.UseNumber()
		if err := dec.Decode(&obj); err != nil || obj == nil {
			d.skip("malformed JSON line", zap.Int("line", lineNum), zap.Error(err))
			continue
		}
		records = append(records, toRecord(obj))
	}
	if err := scanner.Err(); err != nil {
		return records, errors.Wrap(err, errors.ErrorTypeValidation, "failed to read JSON lines").
			WithDetail("line", lineNum+1)
	}
	return records, nil
}

func (d *decoder) decodeCSV(r io.Reader) ([]models.Record, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeValidation, "failed to read CSV header")
	}
	for i := range header {
		header[i] = strings.TrimSpace(strings.TrimPrefix(header[i], "\ufeff"))
	}

	var records []models.Record
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			line, _ := reader.FieldPos(0)
			d.skip("malformed CSV row", zap.Int("line", line), zap.Error(err))
			continue
		}
		if len(row) != len(header) {
			line, _ := reader.FieldPos(0)
			d.skip("CSV row has wrong number of fields",
				zap.Int("line", line),
				zap.Int("fields", len(row)),
				zap.Int("expected", len(header)))
			continue
		}
		rec := make(models.Record, len(header))
		for i, name := range header {
			rec[name] = row[i]
		}
		records = append(records, rec)
	}
	return records, nil
}

func (d *decoder) skip(msg string, fields ...zap.Field) {
	d.skipped++
	d.logger.Warn(msg, fields...)
}

// toRecord keeps scalars and renders nested values as JSON text.
func toRecord(obj map[string]any) models.Record {
	rec := make(models.Record, len(obj))
	for k, v := range obj {
		switch val := v.(type) {
		case nil, string, bool:
			rec[k] = val
		case gojson.Number:
			rec[k] = val.String()
		default:
			b, err := gojson.Marshal(val)
			if err != nil {
				rec[k] = nil
				continue
			}
			rec[k] = string(b)
		}
	}
	return rec
}
