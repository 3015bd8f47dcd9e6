package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/lox/sensorfault/internal/models"
)

// CreateUser inserts u, returning ErrUserExists when the username is taken.
func (s *Store) CreateUser(u models.User) error {
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now()
	}
	if u.Role == "" {
		u.Role = models.RoleUser
	}
	result, err := s.db.Exec(`
		INSERT INTO users (username, name, role, password_hash, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(username) DO NOTHING
	`, u.Username, u.Name, string(u.Role), u.PasswordHash, u.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrUserExists
	}
	return nil
}

// GetUser returns nil when no such user exists.
func (s *Store) GetUser(username string) (*models.User, error) {
	row := s.db.QueryRow(`
		SELECT username, name, role, password_hash, created_at
		FROM users WHERE username = ?
	`, username)

	u, err := s.scanUser(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return u, nil
}

func (s *Store) ListUsers() ([]models.User, error) {
	rows, err := s.db.Query(`
		SELECT username, name, role, password_hash, created_at
		FROM users ORDER BY username
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		u, err := s.scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

func (s *Store) CountUsers() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM users`).Scan(&n)
	return n, err
}

type scanner interface {
	Scan(dest ...any) error
}

func (s *Store) scanUser(row scanner) (*models.User, error) {
	var u models.User
	var role string
	var created sql.NullTime
	if err := row.Scan(&u.Username, &u.Name, &role, &u.PasswordHash, &created); err != nil {
		return nil, err
	}
	u.Role = models.Role(role)
	if created.Valid {
		u.CreatedAt = created.Time.In(s.loc)
	}
	return &u, nil
}
