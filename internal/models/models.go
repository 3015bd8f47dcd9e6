package models

import (
	"strconv"
	"time"

	"github.com/lox/sensorfault/internal/schema"
)

// Cell is one column of an input row, in header order.
type Cell struct {
	Label string
	Value string
}

// Table is an uploaded sensor reading. Columns keeps header order; a row
// shorter than the header reads as empty for the missing columns.
type Table struct {
	Columns []string
	Rows    [][]string
}

func (t *Table) Len() int {
	return len(t.Rows)
}

// Cells returns row i as label/value pairs in header order.
func (t *Table) Cells(i int) []Cell {
	row := t.Rows[i]
	out := make([]Cell, len(t.Columns))
	for j, col := range t.Columns {
		out[j].Label = col
		if j < len(row) {
			out[j].Value = row[j]
		}
	}
	return out
}

// AnnotatedRecord is one routed row: the original fields plus the detected
// family, the model's label (nil when no model ran or it failed) and the
// joined resolution trace.
type AnnotatedRecord struct {
	SensorType schema.Family
	Prediction *string
	Note       string
	Fields     []Cell
}

type Role string

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

type User struct {
	Username     string
	Name         string
	Role         Role
	PasswordHash string
	CreatedAt    time.Time
}

// Activity records one prediction run a user downloaded, with CSV snapshots
// of what went in and what came out.
type Activity struct {
	ID         string
	Username   string
	SensorType string // family id, or "auto" for mixed uploads
	InputName  string
	RowCount   int
	InputCSV   string
	OutputCSV  string
	CreatedAt  time.Time
}

// ActivityTimeFormat is day-first, as shown on the dashboard.
const ActivityTimeFormat = "02-01-2006 15:04:05"

// ActivityReport lays runs out as an exportable table, one row per run.
func ActivityReport(runs []Activity) *Table {
	t := &Table{Columns: []string{"id", "created_at", "username", "sensor_type", "input_name", "row_count"}}
	for _, a := range runs {
		t.Rows = append(t.Rows, []string{
			a.ID,
			a.CreatedAt.Format(ActivityTimeFormat),
			a.Username,
			a.SensorType,
			a.InputName,
			strconv.Itoa(a.RowCount),
		})
	}
	return t
}
