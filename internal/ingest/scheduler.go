package ingest

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path"
	"sync"
	"time"

	"github.com/lox/sensorfault/internal/models"
	"github.com/lox/sensorfault/internal/router"
	"github.com/lox/sensorfault/internal/store"
)

const DefaultPollInterval = 5 * time.Minute

// Fetcher retrieves a table by path. FTPSource is the production fetcher.
type Fetcher interface {
	Fetch(ctx context.Context, path string) (*models.Table, error)
}

// Scheduler polls drop-box paths, routes each new file and records the run
// as activity owned by a service account. A file whose contents have not
// changed since the last poll is skipped.
type Scheduler struct {
	fetcher  Fetcher
	router   *router.Router
	store    *store.Store
	paths    []string
	owner    string
	interval time.Duration

	mu   sync.Mutex
	seen map[string]string
}

func NewScheduler(fetcher Fetcher, rt *router.Router, st *store.Store, paths []string, owner string) *Scheduler {
	return &Scheduler{
		fetcher:  fetcher,
		router:   rt,
		store:    st,
		paths:    paths,
		owner:    owner,
		interval: DefaultPollInterval,
		seen:     make(map[string]string),
	}
}

func (s *Scheduler) SetInterval(d time.Duration) {
	if d > 0 {
		s.interval = d
	}
}

func (s *Scheduler) Run(ctx context.Context) {
	if err := s.PollOnce(ctx); err != nil {
		log.Printf("scheduler: %v", err)
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("scheduler: shutting down")
			return
		case <-ticker.C:
			if err := s.PollOnce(ctx); err != nil {
				log.Printf("scheduler: %v", err)
			}
		}
	}
}

// PollOnce processes every configured path once. Failures on one path do
// not stop the others; they are joined into the returned error.
func (s *Scheduler) PollOnce(ctx context.Context) error {
	var errs []error
	for _, p := range s.paths {
		if err := s.poll(ctx, p); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", p, err))
		}
	}
	return errors.Join(errs...)
}

func (s *Scheduler) poll(ctx context.Context, p string) error {
	table, err := s.fetcher.Fetch(ctx, p)
	if err != nil {
		return err
	}
	input, err := EncodeCSV(table)
	if err != nil {
		return fmt.Errorf("encode input: %w", err)
	}

	s.mu.Lock()
	unchanged := s.seen[p] == input
	s.mu.Unlock()
	if unchanged {
		return nil
	}

	records := s.router.Route(ctx, table)
	output, err := EncodeCSV(router.ToTable(table.Columns, records))
	if err != nil {
		return fmt.Errorf("encode output: %w", err)
	}

	id, err := s.store.InsertActivity(models.Activity{
		Username:   s.owner,
		SensorType: "auto",
		InputName:  path.Base(p),
		RowCount:   table.Len(),
		InputCSV:   input,
		OutputCSV:  output,
	})
	if err != nil {
		return fmt.Errorf("record activity: %w", err)
	}

	s.mu.Lock()
	s.seen[p] = input
	s.mu.Unlock()

	log.Printf("scheduler: %s: %d rows routed (activity %s)", p, table.Len(), id)
	return nil
}
