package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/lox/sensorfault/internal/models"
)

// DefaultActivityLimit is how many runs the dashboard shows.
const DefaultActivityLimit = 5

// InsertActivity records a run together with its input and output
// snapshots. An empty ID is filled with a fresh UUID; the stored ID is
// returned.
func (s *Store) InsertActivity(a models.Activity) (string, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}

	tx, err := s.db.Begin()
	if err != nil {
		return "", fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO activity (id, username, sensor_type, input_name, row_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, a.ID, a.Username, a.SensorType, a.InputName, a.RowCount, a.CreatedAt.UTC())
	if err != nil {
		return "", fmt.Errorf("insert activity: %w", err)
	}
	if err := putSnapshot(tx, a.ID, snapshotInput, a.InputCSV); err != nil {
		return "", err
	}
	if err := putSnapshot(tx, a.ID, snapshotOutput, a.OutputCSV); err != nil {
		return "", err
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit activity: %w", err)
	}
	return a.ID, nil
}

// LatestActivity returns the most recent runs across all users, newest
// first. Snapshots are not loaded.
func (s *Store) LatestActivity(limit int) ([]models.Activity, error) {
	return s.queryActivity(`
		SELECT id, username, sensor_type, input_name, row_count, created_at
		FROM activity
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?
	`, limitOrDefault(limit))
}

// ActivityForUser is LatestActivity restricted to one user.
func (s *Store) ActivityForUser(username string, limit int) ([]models.Activity, error) {
	return s.queryActivity(`
		SELECT id, username, sensor_type, input_name, row_count, created_at
		FROM activity
		WHERE username = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?
	`, username, limitOrDefault(limit))
}

// GetActivity loads one run including both snapshots.
func (s *Store) GetActivity(id string) (*models.Activity, error) {
	list, err := s.queryActivity(`
		SELECT id, username, sensor_type, input_name, row_count, created_at
		FROM activity WHERE id = ?
	`, id)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, ErrNotFound
	}
	a := list[0]

	if a.InputCSV, err = s.Snapshot(id, snapshotInput); err != nil && err != ErrNotFound {
		return nil, err
	}
	if a.OutputCSV, err = s.Snapshot(id, snapshotOutput); err != nil && err != ErrNotFound {
		return nil, err
	}
	return &a, nil
}

func (s *Store) queryActivity(query string, args ...any) ([]models.Activity, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Activity
	for rows.Next() {
		var a models.Activity
		var inputName sql.NullString
		var created time.Time
		if err := rows.Scan(&a.ID, &a.Username, &a.SensorType, &inputName, &a.RowCount, &created); err != nil {
			return nil, err
		}
		a.InputName = inputName.String
		a.CreatedAt = created.In(s.loc)
		out = append(out, a)
	}
	return out, rows.Err()
}

func limitOrDefault(limit int) int {
	if limit <= 0 {
		return DefaultActivityLimit
	}
	return limit
}

type ActivitySummary struct {
	Total int `json:"total"`
	Users int `json:"users"`
	Today int `json:"today"`
}

// SummarizeActivity counts all runs, the distinct users behind them and the
// runs since midnight of now in the store's location.
func (s *Store) SummarizeActivity(now time.Time) (ActivitySummary, error) {
	local := now.In(s.loc)
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, s.loc)

	var sum ActivitySummary
	err := s.db.QueryRow(`
		SELECT COUNT(*), COUNT(DISTINCT username),
		       COALESCE(SUM(CASE WHEN created_at >= ? THEN 1 ELSE 0 END), 0)
		FROM activity
	`, midnight.UTC()).Scan(&sum.Total, &sum.Users, &sum.Today)
	if err != nil {
		return ActivitySummary{}, fmt.Errorf("summarize activity: %w", err)
	}
	return sum, nil
}
