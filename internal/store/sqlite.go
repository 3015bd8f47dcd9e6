package store

import (
	"database/sql"
	"errors"
	"time"
)

var (
	ErrNotFound   = errors.New("not found")
	ErrUserExists = errors.New("user already exists")
)

type Store struct {
	db  *sql.DB
	loc *time.Location
}

// New wraps db. Timestamps are stored in UTC and returned in loc.
func New(db *sql.DB, loc *time.Location) *Store {
	if loc == nil {
		loc = time.UTC
	}
	return &Store{db: db, loc: loc}
}
