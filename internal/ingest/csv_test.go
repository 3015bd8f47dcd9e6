package ingest

import (
	"errors"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/lox/sensorfault/internal/models"
)

func TestReadCSV(t *testing.T) {
	in := "\ufefftimestamp(ms),Sensor Value,label\n1700000000000,21.5,\n1700000000001,abc\n"
	tbl, err := ReadCSV(strings.NewReader(in))
	if err != nil {
		t.Fatalf("ReadCSV: %v", err)
	}
	wantCols := []string{"timestamp(ms)", "Sensor Value", "label"}
	if !reflect.DeepEqual(tbl.Columns, wantCols) {
		t.Errorf("Columns = %q, want %q", tbl.Columns, wantCols)
	}
	if tbl.Len() != 2 {
		t.Fatalf("Len = %d", tbl.Len())
	}
	if got := tbl.Cells(1)[2].Value; got != "" {
		t.Errorf("short row padded value = %q", got)
	}
}

func TestReadCSV_TruncatesLongRows(t *testing.T) {
	tbl, err := ReadCSV(strings.NewReader("a,b\n1,2,3\n"))
	if err != nil {
		t.Fatalf("ReadCSV: %v", err)
	}
	if len(tbl.Rows[0]) != 2 {
		t.Errorf("row = %v", tbl.Rows[0])
	}
}

func TestReadCSV_Empty(t *testing.T) {
	if _, err := ReadCSV(strings.NewReader("")); !errors.Is(err, ErrEmptyTable) {
		t.Errorf("err = %v, want ErrEmptyTable", err)
	}
}

func TestWriteAndLoadFile(t *testing.T) {
	tbl := &models.Table{
		Columns: []string{"sensor_type", "prediction", "note"},
		Rows:    [][]string{{"gas", "", "detected:gas;no_model_for_sensor"}},
	}
	path := filepath.Join(t.TempDir(), "out.csv")
	if err := WriteFile(path, tbl); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	got, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if !reflect.DeepEqual(got, tbl) {
		t.Errorf("round trip = %+v, want %+v", got, tbl)
	}
}

func TestEncodeCSV(t *testing.T) {
	s, err := EncodeCSV(&models.Table{Columns: []string{"a", "b,c"}, Rows: [][]string{{"1", "2"}}})
	if err != nil {
		t.Fatalf("EncodeCSV: %v", err)
	}
	if s != "a,\"b,c\"\n1,2\n" {
		t.Errorf("EncodeCSV = %q", s)
	}
}

func TestLoadFile_Missing(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "nope.csv")); err == nil {
		t.Error("expected error")
	}
}
