package api

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lox/sensorfault/internal/ingest"
	"github.com/lox/sensorfault/internal/metrics"
	"github.com/lox/sensorfault/internal/models"
	"github.com/lox/sensorfault/internal/router"
	"github.com/lox/sensorfault/internal/schema"
	"github.com/lox/sensorfault/internal/store"
)

// ModeAuto routes each row through its detected family.
const ModeAuto = "auto"

// FieldView is one input column, kept in header order so duplicate
// labels survive.
type FieldView struct {
	Column string `json:"column"`
	Value  string `json:"value"`
}

type RecordView struct {
	SensorType schema.Family `json:"sensor_type"`
	Prediction *string       `json:"prediction"`
	Note       string        `json:"note"`
	Fields     []FieldView   `json:"fields"`
}

type PredictResponse struct {
	// ActivityID is empty when the run could not be recorded.
	ActivityID string       `json:"activity_id,omitempty"`
	Mode       string       `json:"mode"`
	Rows       int          `json:"rows"`
	Records    []RecordView `json:"records"`
}

type ActivityView struct {
	ID         string    `json:"id"`
	Username   string    `json:"username"`
	SensorType string    `json:"sensor_type"`
	InputName  string    `json:"input_name"`
	RowCount   int       `json:"row_count"`
	CreatedAt  time.Time `json:"created_at"`
}

func viewActivity(a models.Activity) ActivityView {
	return ActivityView{
		ID:         a.ID,
		Username:   a.Username,
		SensorType: a.SensorType,
		InputName:  a.InputName,
		RowCount:   a.RowCount,
		CreatedAt:  a.CreatedAt,
	}
}

func (s *Server) handleAPIPredict(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r.Context())
	batch := uuid.NewString()

	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing file: "+err.Error())
		return
	}
	defer file.Close()

	raw, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "read upload: "+err.Error())
		return
	}
	table, err := ingest.ReadCSV(bytes.NewReader(raw))
	if err != nil {
		writeError(w, http.StatusBadRequest, "parse csv: "+err.Error())
		return
	}

	mode := strings.TrimSpace(r.FormValue("mode"))
	if mode == "" {
		mode = ModeAuto
	}

	var records []models.AnnotatedRecord
	if mode == ModeAuto {
		records = s.router.Route(r.Context(), table)
	} else {
		family, err := schema.ParseFamily(mode)
		if err != nil || !family.Known() {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown mode %q", mode))
			return
		}
		mode = string(family)
		records, err = s.router.RouteAs(r.Context(), table, family)
		switch {
		case errors.Is(err, router.ErrDatasetMismatch):
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		case errors.Is(err, router.ErrNoModel):
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		case err != nil:
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}
	metrics.Uploads.WithLabelValues(mode).Inc()

	out := router.ToTable(table.Columns, records)
	outCSV, err := ingest.EncodeCSV(out)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "encode output: "+err.Error())
		return
	}

	activityID, err := s.store.InsertActivity(models.Activity{
		ID:         batch,
		Username:   user.Username,
		SensorType: mode,
		InputName:  header.Filename,
		RowCount:   table.Len(),
		InputCSV:   string(raw),
		OutputCSV:  outCSV,
	})
	if err != nil {
		// The caller still gets its predictions; only the history entry is lost.
		log.Printf("api: predict %s: record activity: %v", batch, err)
	}
	log.Printf("api: predict %s user=%s mode=%s rows=%d", batch, user.Username, mode, table.Len())

	if activityID != "" {
		w.Header().Set("X-Activity-ID", activityID)
	}
	if wantsJSON(r) {
		resp := PredictResponse{
			ActivityID: activityID,
			Mode:       mode,
			Rows:       len(records),
			Records:    make([]RecordView, len(records)),
		}
		for i, rec := range records {
			fields := make([]FieldView, len(rec.Fields))
			for j, c := range rec.Fields {
				fields[j] = FieldView{Column: c.Label, Value: c.Value}
			}
			resp.Records[i] = RecordView{
				SensorType: rec.SensorType,
				Prediction: rec.Prediction,
				Note:       rec.Note,
				Fields:     fields,
			}
		}
		writeJSON(w, http.StatusOK, resp)
		return
	}
	writeCSV(w, "predictions_"+baseName(header.Filename), outCSV)
}

func (s *Server) handleAPIActivity(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r.Context())
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	var list []models.Activity
	var err error
	if user.Role == models.RoleAdmin {
		list, err = s.store.LatestActivity(limit)
	} else {
		list, err = s.store.ActivityForUser(user.Username, limit)
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if r.URL.Query().Get("format") == "csv" {
		body, err := ingest.EncodeCSV(models.ActivityReport(list))
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeCSV(w, "activity_report.csv", body)
		return
	}

	views := make([]ActivityView, 0, len(list))
	for _, a := range list {
		views = append(views, viewActivity(a))
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleAPIActivitySummary(w http.ResponseWriter, r *http.Request) {
	sum, err := s.store.SummarizeActivity(time.Now())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

// visibleActivity loads a past run for the signed-in user. Other users'
// runs are only visible to admins; anything else reads as not found.
func (s *Server) visibleActivity(w http.ResponseWriter, r *http.Request) (*models.Activity, bool) {
	user := userFrom(r.Context())
	a, err := s.store.GetActivity(r.PathValue("id"))
	if errors.Is(err, store.ErrNotFound) {
		http.NotFound(w, r)
		return nil, false
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return nil, false
	}
	if a.Username != user.Username && user.Role != models.RoleAdmin {
		http.NotFound(w, r)
		return nil, false
	}
	return a, true
}

func (s *Server) handleAPIActivityInput(w http.ResponseWriter, r *http.Request) {
	if a, ok := s.visibleActivity(w, r); ok {
		writeCSV(w, baseName(a.InputName), a.InputCSV)
	}
}

func (s *Server) handleAPIActivityOutput(w http.ResponseWriter, r *http.Request) {
	if a, ok := s.visibleActivity(w, r); ok {
		writeCSV(w, "predictions_"+baseName(a.InputName), a.OutputCSV)
	}
}

func (s *Server) handleAPIUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.store.ListUsers()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	views := make([]UserView, 0, len(users))
	for i := range users {
		views = append(views, viewUser(&users[i]))
	}
	writeJSON(w, http.StatusOK, views)
}

func wantsJSON(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "application/json")
}

func writeCSV(w http.ResponseWriter, filename, body string) {
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	io.WriteString(w, body)
}

func baseName(name string) string {
	name = filepath.Base(name)
	if name == "." || name == "/" || name == "" {
		return "upload.csv"
	}
	return name
}
