package api_test

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"reflect"
	"strings"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/lox/sensorfault/internal/api"
	"github.com/lox/sensorfault/internal/auth"
	"github.com/lox/sensorfault/internal/router"
	"github.com/lox/sensorfault/internal/schema"
	"github.com/lox/sensorfault/internal/store"
)

const gasCSV = "MQ2_Value,Temperature,Humidity,Hour,DayOfWeek\n310,24.5,40,13,2\n900,31,22,2,6\n"

func setupTestStore(t *testing.T) (*store.Store, *sql.DB) {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	s := store.New(db, time.UTC)
	if err := s.Migrate(); err != nil {
		t.Fatal(err)
	}
	return s, db
}

func gasModels() router.Models {
	return router.Models{
		schema.Gas: router.ModelFunc(func(ctx context.Context, features []float64) (string, error) {
			if features[0] > 500 {
				return "fault", nil
			}
			return "normal", nil
		}),
	}
}

func setupServer(t *testing.T, registry router.Models) (*httptest.Server, *store.Store) {
	t.Helper()
	ts, st, _ := setupServerDB(t, registry)
	return ts, st
}

func setupServerDB(t *testing.T, registry router.Models) (*httptest.Server, *store.Store, *sql.DB) {
	t.Helper()
	st, db := setupTestStore(t)
	rt := router.New(registry, router.Options{})
	srv := api.NewServer(st, rt, registry, api.Config{Port: "0", SessionSecret: "test-secret"})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, st, db
}

func newClient(t *testing.T) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatal(err)
	}
	return &http.Client{Jar: jar}
}

func signup(t *testing.T, c *http.Client, base, username string) {
	t.Helper()
	resp, err := c.PostForm(base+"/signup", url.Values{
		"username": {username},
		"name":     {strings.ToUpper(username)},
		"password": {"secret1"},
	})
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("signup %s: status %d", username, resp.StatusCode)
	}
}

func upload(t *testing.T, c *http.Client, base, mode, body string, asJSON bool) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "gas.csv")
	if err != nil {
		t.Fatal(err)
	}
	io.WriteString(fw, body)
	if mode != "" {
		mw.WriteField("mode", mode)
	}
	mw.Close()

	req, err := http.NewRequest("POST", base+"/api/predict", &buf)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if asJSON {
		req.Header.Set("Accept", "application/json")
	}
	resp, err := c.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return string(b)
}

func TestHealthEndpoint(t *testing.T) {
	t.Parallel()
	ts, _ := setupServer(t, gasModels())

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var health api.HealthStatus
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		t.Fatal(err)
	}
	if health.Status != "degraded" {
		t.Errorf("status = %q, want degraded", health.Status)
	}
	if health.ModelsLoaded != 1 || len(health.MissingModels) != 4 {
		t.Errorf("models loaded=%d missing=%v", health.ModelsLoaded, health.MissingModels)
	}
	if health.MigrationVersion < 1 {
		t.Errorf("migration version = %d", health.MigrationVersion)
	}
}

func TestHealthEndpoint_NoModels(t *testing.T) {
	t.Parallel()
	ts, _ := setupServer(t, router.Models{})

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", resp.StatusCode)
	}
}

func TestFamiliesEndpoint(t *testing.T) {
	t.Parallel()
	ts, _ := setupServer(t, gasModels())

	resp, err := http.Get(ts.URL + "/api/families")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var families []api.FamilyStatus
	if err := json.NewDecoder(resp.Body).Decode(&families); err != nil {
		t.Fatal(err)
	}
	if len(families) != len(schema.Families) {
		t.Fatalf("got %d families, want %d", len(families), len(schema.Families))
	}
	for _, f := range families {
		if f.ModelLoaded != (f.ID == schema.Gas) {
			t.Errorf("%s: model_loaded = %v", f.ID, f.ModelLoaded)
		}
		if len(f.Expected) == 0 {
			t.Errorf("%s: no expected columns", f.ID)
		}
	}
}

func TestPredict_RequiresSession(t *testing.T) {
	t.Parallel()
	ts, _ := setupServer(t, gasModels())

	resp := upload(t, http.DefaultClient, ts.URL, "", gasCSV, false)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", resp.StatusCode)
	}
}

func TestPredict_CSVAndActivity(t *testing.T) {
	t.Parallel()
	ts, _ := setupServer(t, gasModels())
	c := newClient(t)
	signup(t, c, ts.URL, "alice")

	resp := upload(t, c, ts.URL, "", gasCSV, false)
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, readBody(t, resp))
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/csv") {
		t.Errorf("Content-Type = %q", ct)
	}
	activityID := resp.Header.Get("X-Activity-ID")
	if activityID == "" {
		t.Fatal("missing X-Activity-ID")
	}

	body := readBody(t, resp)
	lines := strings.Split(strings.TrimSpace(body), "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d lines, want 3:\n%s", len(lines), body)
	}
	if lines[0] != "sensor_type,prediction,MQ2_Value,Temperature,Humidity,Hour,DayOfWeek,note" {
		t.Errorf("header = %q", lines[0])
	}
	if !strings.HasPrefix(lines[1], "gas,normal,310,") || !strings.HasSuffix(lines[1], ";predict_ok") {
		t.Errorf("row 1 = %q", lines[1])
	}
	if !strings.HasPrefix(lines[2], "gas,fault,900,") {
		t.Errorf("row 2 = %q", lines[2])
	}

	actResp, err := c.Get(ts.URL + "/api/activity")
	if err != nil {
		t.Fatal(err)
	}
	defer actResp.Body.Close()
	var activity []api.ActivityView
	if err := json.NewDecoder(actResp.Body).Decode(&activity); err != nil {
		t.Fatal(err)
	}
	if len(activity) != 1 {
		t.Fatalf("got %d activity entries, want 1", len(activity))
	}
	if activity[0].ID != activityID || activity[0].RowCount != 2 || activity[0].SensorType != api.ModeAuto {
		t.Errorf("activity = %+v", activity[0])
	}

	outResp, err := c.Get(ts.URL + "/api/activity/" + activityID + "/output")
	if err != nil {
		t.Fatal(err)
	}
	defer outResp.Body.Close()
	if got := readBody(t, outResp); got != body {
		t.Errorf("stored output differs:\n%s\nwant\n%s", got, body)
	}

	inResp, err := c.Get(ts.URL + "/api/activity/" + activityID + "/input")
	if err != nil {
		t.Fatal(err)
	}
	defer inResp.Body.Close()
	if inResp.StatusCode != 200 {
		t.Fatalf("input download: status %d", inResp.StatusCode)
	}
	if cd := inResp.Header.Get("Content-Disposition"); !strings.Contains(cd, `filename="gas.csv"`) {
		t.Errorf("Content-Disposition = %q", cd)
	}
	if got := readBody(t, inResp); got != gasCSV {
		t.Errorf("stored input differs:\n%s\nwant\n%s", got, gasCSV)
	}
}

func TestPredict_JSON(t *testing.T) {
	t.Parallel()
	ts, _ := setupServer(t, gasModels())
	c := newClient(t)
	signup(t, c, ts.URL, "alice")

	resp := upload(t, c, ts.URL, "gas", gasCSV, true)
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var pr api.PredictResponse
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		t.Fatal(err)
	}
	if pr.Mode != "gas" || pr.Rows != 2 {
		t.Errorf("mode=%q rows=%d", pr.Mode, pr.Rows)
	}
	rec := pr.Records[0]
	if rec.Prediction == nil || *rec.Prediction != "normal" {
		t.Errorf("prediction = %v", rec.Prediction)
	}
	if !strings.HasPrefix(rec.Note, "single_model:gas;") {
		t.Errorf("note = %q", rec.Note)
	}
	wantFields := []api.FieldView{
		{Column: "MQ2_Value", Value: "310"},
		{Column: "Temperature", Value: "24.5"},
		{Column: "Humidity", Value: "40"},
		{Column: "Hour", Value: "13"},
		{Column: "DayOfWeek", Value: "2"},
	}
	if !reflect.DeepEqual(rec.Fields, wantFields) {
		t.Errorf("fields = %v, want %v", rec.Fields, wantFields)
	}
}

func TestPredict_SingleModeErrors(t *testing.T) {
	t.Parallel()
	ts, _ := setupServer(t, gasModels())
	c := newClient(t)
	signup(t, c, ts.URL, "alice")

	tests := []struct {
		name   string
		mode   string
		body   string
		status int
	}{
		{"dataset mismatch", "temperature", gasCSV, http.StatusUnprocessableEntity},
		{"no model", "soil", "timestamp_ms,sensor_value\n1,2\n", http.StatusServiceUnavailable},
		{"unknown mode", "plasma", gasCSV, http.StatusBadRequest},
		{"empty file", "", "", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := upload(t, c, ts.URL, tt.mode, tt.body, true)
			if resp.StatusCode != tt.status {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.status)
			}
		})
	}
}

func TestSignupAndLogin(t *testing.T) {
	t.Parallel()
	ts, _ := setupServer(t, gasModels())
	c := newClient(t)
	signup(t, c, ts.URL, "alice")

	tests := []struct {
		name   string
		path   string
		form   url.Values
		status int
	}{
		{"duplicate", "/signup", url.Values{"username": {"alice"}, "password": {"secret1"}}, http.StatusConflict},
		{"short password", "/signup", url.Values{"username": {"bob"}, "password": {"123"}}, http.StatusBadRequest},
		{"short username", "/signup", url.Values{"username": {"bo"}, "password": {"secret1"}}, http.StatusBadRequest},
		{"wrong password", "/login", url.Values{"username": {"alice"}, "password": {"nope!!"}}, http.StatusUnauthorized},
		{"login", "/login", url.Values{"username": {"alice"}, "password": {"secret1"}}, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := newClient(t).PostForm(ts.URL+tt.path, tt.form)
			if err != nil {
				t.Fatal(err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != tt.status {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.status)
			}
		})
	}
}

func TestLogout(t *testing.T) {
	t.Parallel()
	ts, _ := setupServer(t, gasModels())
	c := newClient(t)
	signup(t, c, ts.URL, "alice")

	resp, err := c.PostForm(ts.URL+"/logout", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	resp, err = c.Get(ts.URL + "/api/activity")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("after logout: status %d, want 401", resp.StatusCode)
	}
}

func TestUsersEndpoint_AdminOnly(t *testing.T) {
	t.Parallel()
	ts, st := setupServer(t, gasModels())
	if err := auth.NewService(st).EnsureAdmin("adminpass"); err != nil {
		t.Fatal(err)
	}

	user := newClient(t)
	signup(t, user, ts.URL, "alice")
	resp, err := user.Get(ts.URL + "/api/users")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("user: status %d, want 403", resp.StatusCode)
	}

	admin := newClient(t)
	resp, err = admin.PostForm(ts.URL+"/login", url.Values{"username": {"admin"}, "password": {"adminpass"}})
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	resp, err = admin.Get(ts.URL + "/api/users")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var users []api.UserView
	if err := json.NewDecoder(resp.Body).Decode(&users); err != nil {
		t.Fatal(err)
	}
	if len(users) != 2 {
		t.Errorf("got %d users, want 2", len(users))
	}
}

func TestActivityOutput_OtherUsersHidden(t *testing.T) {
	t.Parallel()
	ts, _ := setupServer(t, gasModels())

	alice := newClient(t)
	signup(t, alice, ts.URL, "alice")
	resp := upload(t, alice, ts.URL, "", gasCSV, false)
	id := resp.Header.Get("X-Activity-ID")

	bob := newClient(t)
	signup(t, bob, ts.URL, "bob")
	for _, kind := range []string{"input", "output"} {
		out, err := bob.Get(ts.URL + "/api/activity/" + id + "/" + kind)
		if err != nil {
			t.Fatal(err)
		}
		out.Body.Close()
		if out.StatusCode != http.StatusNotFound {
			t.Errorf("%s: status = %d, want 404", kind, out.StatusCode)
		}
	}

	missing, err := alice.Get(ts.URL + "/api/activity/no-such-run/input")
	if err != nil {
		t.Fatal(err)
	}
	missing.Body.Close()
	if missing.StatusCode != http.StatusNotFound {
		t.Errorf("missing run: status = %d, want 404", missing.StatusCode)
	}
}

func TestPredict_UnrecordedRunHasNoActivityID(t *testing.T) {
	t.Parallel()
	ts, _, db := setupServerDB(t, gasModels())
	c := newClient(t)
	signup(t, c, ts.URL, "alice")

	if _, err := db.Exec(`DROP TABLE snapshots`); err != nil {
		t.Fatal(err)
	}

	resp := upload(t, c, ts.URL, "", gasCSV, true)
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if _, ok := resp.Header["X-Activity-Id"]; ok {
		t.Errorf("X-Activity-ID sent for unrecorded run: %q", resp.Header.Get("X-Activity-ID"))
	}
	body := readBody(t, resp)
	if strings.Contains(body, `"activity_id"`) {
		t.Errorf("activity_id present in body: %s", body)
	}
	if !strings.Contains(body, `"rows":2`) {
		t.Errorf("predictions missing from body: %s", body)
	}
}

func TestActivityReportAndSummary(t *testing.T) {
	t.Parallel()
	ts, st := setupServer(t, gasModels())
	if err := auth.NewService(st).EnsureAdmin("adminpass"); err != nil {
		t.Fatal(err)
	}

	alice := newClient(t)
	signup(t, alice, ts.URL, "alice")
	upload(t, alice, ts.URL, "", gasCSV, false)
	upload(t, alice, ts.URL, "gas", gasCSV, false)

	resp, err := alice.Get(ts.URL + "/api/activity?format=csv")
	if err != nil {
		t.Fatal(err)
	}
	report := readBody(t, resp)
	resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/csv") {
		t.Errorf("Content-Type = %q", ct)
	}
	lines := strings.Split(strings.TrimSpace(report), "\n")
	if len(lines) != 3 {
		t.Fatalf("report has %d lines, want 3:\n%s", len(lines), report)
	}
	if lines[0] != "id,created_at,username,sensor_type,input_name,row_count" {
		t.Errorf("report header = %q", lines[0])
	}
	if !strings.HasSuffix(lines[1], ",alice,gas,gas.csv,2") {
		t.Errorf("newest report row = %q", lines[1])
	}

	resp, err = alice.Get(ts.URL + "/api/activity/summary")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("user summary: status %d, want 403", resp.StatusCode)
	}

	admin := newClient(t)
	resp, err = admin.PostForm(ts.URL+"/login", url.Values{"username": {"admin"}, "password": {"adminpass"}})
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	resp, err = admin.Get(ts.URL + "/api/activity/summary")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var sum store.ActivitySummary
	if err := json.NewDecoder(resp.Body).Decode(&sum); err != nil {
		t.Fatal(err)
	}
	if sum != (store.ActivitySummary{Total: 2, Users: 1, Today: 2}) {
		t.Errorf("summary = %+v", sum)
	}

	resp, err = admin.Get(ts.URL + "/")
	if err != nil {
		t.Fatal(err)
	}
	page := readBody(t, resp)
	resp.Body.Close()
	if !strings.Contains(page, "2 runs by 1 users, 2 today.") {
		t.Error("expected activity summary on admin dashboard")
	}
	if !strings.Contains(page, "/input\">input</a>") {
		t.Error("expected input download link")
	}
}

func TestIndexPage(t *testing.T) {
	t.Parallel()
	ts, _ := setupServer(t, gasModels())

	resp, err := http.Get(ts.URL + "/")
	if err != nil {
		t.Fatal(err)
	}
	body := readBody(t, resp)
	resp.Body.Close()
	if !strings.Contains(body, `action="/login"`) {
		t.Error("expected login form when signed out")
	}
	if !strings.Contains(body, "Gas Sensor") {
		t.Error("expected family table")
	}

	c := newClient(t)
	signup(t, c, ts.URL, "alice")
	resp, err = c.Get(ts.URL + "/")
	if err != nil {
		t.Fatal(err)
	}
	body = readBody(t, resp)
	resp.Body.Close()
	if !strings.Contains(body, `action="/api/predict"`) {
		t.Error("expected upload form when signed in")
	}

	resp, err = http.Get(ts.URL + "/nope")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("/nope: status %d", resp.StatusCode)
	}
}
