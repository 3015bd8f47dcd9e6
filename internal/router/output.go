package router

import (
	"github.com/lox/sensorfault/internal/models"
)

const (
	ColumnSensorType = "sensor_type"
	ColumnPrediction = "prediction"
	ColumnNote       = "note"
)

// ToTable renders records as sensor_type, prediction, the original columns
// in their input order, then note. Original columns that reuse one of those
// three names are superseded by the annotation.
func ToTable(columns []string, records []models.AnnotatedRecord) *models.Table {
	var kept []int
	out := &models.Table{Columns: []string{ColumnSensorType, ColumnPrediction}}
	for i, c := range columns {
		switch c {
		case ColumnSensorType, ColumnPrediction, ColumnNote:
			continue
		}
		kept = append(kept, i)
		out.Columns = append(out.Columns, c)
	}
	out.Columns = append(out.Columns, ColumnNote)

	for _, rec := range records {
		row := make([]string, 0, len(out.Columns))
		row = append(row, string(rec.SensorType))
		if rec.Prediction != nil {
			row = append(row, *rec.Prediction)
		} else {
			row = append(row, "")
		}
		for _, i := range kept {
			if i < len(rec.Fields) {
				row = append(row, rec.Fields[i].Value)
			} else {
				row = append(row, "")
			}
		}
		row = append(row, rec.Note)
		out.Rows = append(out.Rows, row)
	}
	return out
}
