package store

import (
	"bytes"
	"compress/gzip"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"io"
)

const (
	snapshotInput  = "input"
	snapshotOutput = "output"
)

func compress(payload []byte) ([]byte, string, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(payload); err != nil {
		return nil, "", fmt.Errorf("compress payload: %w", err)
	}
	if err := gz.Close(); err != nil {
		return nil, "", fmt.Errorf("close gzip: %w", err)
	}
	hash := sha256.Sum256(payload)
	return buf.Bytes(), hex.EncodeToString(hash[:]), nil
}

func decompress(compressed []byte) ([]byte, error) {
	gz, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, fmt.Errorf("create gzip reader: %w", err)
	}
	defer gz.Close()
	return io.ReadAll(gz)
}

func putSnapshot(tx *sql.Tx, activityID, kind, payload string) error {
	compressed, hash, err := compress([]byte(payload))
	if err != nil {
		return err
	}
	_, err = tx.Exec(`
		INSERT INTO snapshots (activity_id, kind, payload_compressed, payload_hash)
		VALUES (?, ?, ?, ?)
	`, activityID, kind, compressed, hash)
	if err != nil {
		return fmt.Errorf("insert %s snapshot: %w", kind, err)
	}
	return nil
}

// Snapshot returns the decompressed CSV stored for an activity, or
// ErrNotFound when none was recorded.
func (s *Store) Snapshot(activityID, kind string) (string, error) {
	var compressed []byte
	var hash string
	err := s.db.QueryRow(`
		SELECT payload_compressed, payload_hash FROM snapshots
		WHERE activity_id = ? AND kind = ?
	`, activityID, kind).Scan(&compressed, &hash)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}

	payload, err := decompress(compressed)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(payload)
	if hex.EncodeToString(sum[:]) != hash {
		return "", fmt.Errorf("snapshot %s/%s: hash mismatch", activityID, kind)
	}
	return string(payload), nil
}
