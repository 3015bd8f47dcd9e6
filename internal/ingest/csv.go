package ingest

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/lox/sensorfault/internal/models"
)

var ErrEmptyTable = errors.New("table has no header")

const utf8BOM = "\ufeff"

// ReadCSV decodes a comma separated table with a header row. Header labels
// are kept verbatim apart from a leading byte order mark; rows may be
// shorter or longer than the header.
func ReadCSV(r io.Reader) (*models.Table, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	header, err := reader.Read()
	if err == io.EOF {
		return nil, ErrEmptyTable
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], utf8BOM)
	}

	t := &models.Table{Columns: header}
	for {
		rec, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row %d: %w", len(t.Rows)+1, err)
		}
		if len(rec) > len(header) {
			rec = rec[:len(header)]
		}
		t.Rows = append(t.Rows, rec)
	}
	return t, nil
}

func LoadFile(path string) (*models.Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open input: %w", err)
	}
	defer f.Close()
	return ReadCSV(f)
}

func WriteCSV(w io.Writer, t *models.Table) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.Columns); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for i, row := range t.Rows {
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write row %d: %w", i+1, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// EncodeCSV renders t as a CSV string, for snapshots.
func EncodeCSV(t *models.Table) (string, error) {
	var buf bytes.Buffer
	if err := WriteCSV(&buf, t); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func WriteFile(path string, t *models.Table) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}
	if err := WriteCSV(f, t); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
