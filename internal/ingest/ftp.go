package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/jlaffaye/ftp"

	"github.com/lox/sensorfault/internal/models"
)

const defaultFTPTimeout = 30 * time.Second

// FTPSource pulls uploaded readings from a gateway's FTP drop box.
type FTPSource struct {
	addr     string
	user     string
	password string
	timeout  time.Duration
}

// NewFTPSource connects anonymously when user is empty.
func NewFTPSource(addr, user, password string) *FTPSource {
	if user == "" {
		user, password = "anonymous", "anonymous"
	}
	return &FTPSource{addr: addr, user: user, password: password, timeout: defaultFTPTimeout}
}

func (s *FTPSource) Fetch(ctx context.Context, path string) (*models.Table, error) {
	conn, err := ftp.Dial(s.addr, ftp.DialWithTimeout(s.timeout), ftp.DialWithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("ftp dial: %w", err)
	}
	defer conn.Quit()

	if err := conn.Login(s.user, s.password); err != nil {
		return nil, fmt.Errorf("ftp login: %w", err)
	}

	resp, err := conn.Retr(path)
	if err != nil {
		return nil, fmt.Errorf("ftp retr %s: %w", path, err)
	}
	defer resp.Close()

	t, err := ReadCSV(resp)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return t, nil
}
