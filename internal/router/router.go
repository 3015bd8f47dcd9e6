// Package router runs each row of an uploaded table through detection, alias
// resolution, feature preparation and the family's model, producing one
// annotated record per row. A failure on one row never stops the batch.
package router

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lox/sensorfault/internal/alias"
	"github.com/lox/sensorfault/internal/detect"
	"github.com/lox/sensorfault/internal/features"
	"github.com/lox/sensorfault/internal/metrics"
	"github.com/lox/sensorfault/internal/models"
	"github.com/lox/sensorfault/internal/schema"
)

const (
	NoteNoModel   = "no_model_for_sensor"
	NotePredictOK = "predict_ok"
)

var (
	ErrNoModel         = errors.New("no model for sensor family")
	ErrDatasetMismatch = errors.New("dataset does not match sensor family")
)

type Options struct {
	// Cutoff is the fuzzy match threshold. Nil means alias.DefaultCutoff;
	// zero is a valid threshold that accepts any fuzzy candidate.
	Cutoff *float64
	// Workers bounds concurrent rows. Values below 2 process rows in order
	// on the calling goroutine.
	Workers int
}

type Router struct {
	registry Registry
	resolver *alias.Resolver
	workers  int
}

func New(registry Registry, opts Options) *Router {
	cutoff := alias.DefaultCutoff
	if opts.Cutoff != nil {
		cutoff = *opts.Cutoff
	}
	return &Router{
		registry: registry,
		resolver: alias.NewResolver(cutoff),
		workers:  opts.Workers,
	}
}

// Route classifies every row independently, so one upload may mix families.
func (r *Router) Route(ctx context.Context, table *models.Table) []models.AnnotatedRecord {
	return r.each(table, func(i int, cells []models.Cell) models.AnnotatedRecord {
		family := detect.Classify(labelsOf(cells))
		notes := []string{"detected:" + string(family)}
		return r.routeRow(ctx, i, cells, family, notes)
	})
}

// RouteAs runs every row through one operator-selected family. The table
// must look like that family's data and a model must be registered for it.
func (r *Router) RouteAs(ctx context.Context, table *models.Table, family schema.Family) ([]models.AnnotatedRecord, error) {
	if !detect.Matches(table.Columns, family) {
		return nil, fmt.Errorf("%w: %s", ErrDatasetMismatch, family.DisplayName())
	}
	if _, ok := r.registry.Model(family); !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoModel, family)
	}
	return r.each(table, func(i int, cells []models.Cell) models.AnnotatedRecord {
		notes := []string{"single_model:" + string(family)}
		return r.routeRow(ctx, i, cells, family, notes)
	}), nil
}

func (r *Router) each(table *models.Table, fn func(i int, cells []models.Cell) models.AnnotatedRecord) []models.AnnotatedRecord {
	out := make([]models.AnnotatedRecord, table.Len())
	if r.workers < 2 {
		for i := range out {
			out[i] = fn(i, table.Cells(i))
		}
		return out
	}

	var g errgroup.Group
	g.SetLimit(r.workers)
	for i := range out {
		g.Go(func() error {
			out[i] = fn(i, table.Cells(i))
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func (r *Router) routeRow(ctx context.Context, i int, cells []models.Cell, family schema.Family, notes []string) models.AnnotatedRecord {
	metrics.RowsRouted.WithLabelValues(string(family)).Inc()
	rec := models.AnnotatedRecord{SensorType: family, Fields: cells}

	model, ok := r.registry.Model(family)
	if !ok {
		notes = append(notes, NoteNoModel)
		metrics.Predictions.WithLabelValues(string(family), "no_model").Inc()
		rec.Note = strings.Join(notes, ";")
		return rec
	}

	label, err := r.predict(ctx, model, family, cells, &notes)
	if err != nil {
		log.Printf("router: row %d (%s): %v", i, family, err)
		notes = append(notes, fmt.Sprintf("predict_error:%s:%s", ErrorKind(err), err.Error()))
		metrics.Predictions.WithLabelValues(string(family), "error").Inc()
	} else {
		rec.Prediction = &label
		notes = append(notes, NotePredictOK)
		metrics.Predictions.WithLabelValues(string(family), "ok").Inc()
	}
	rec.Note = strings.Join(notes, ";")
	return rec
}

// predict resolves, prepares and invokes model, appending resolution notes
// as it goes. A panic anywhere in the chain is returned as an error.
func (r *Router) predict(ctx context.Context, model Model, family schema.Family, cells []models.Cell, notes *[]string) (label string, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = &PanicError{Value: p}
		}
	}()

	mapping, trace := r.resolver.Resolve(family, labelsOf(cells))
	*notes = append(*notes, trace...)

	vec, filled := features.Prepare(cells, mapping, schema.Expected(family))
	*notes = append(*notes, filled...)

	start := time.Now()
	label, err = model.Predict(ctx, vec)
	metrics.PredictLatency.WithLabelValues(string(family)).Observe(time.Since(start).Seconds())
	return label, err
}

func labelsOf(cells []models.Cell) []string {
	labels := make([]string, len(cells))
	for i, c := range cells {
		labels[i] = c.Label
	}
	return labels
}

// PanicError carries a value recovered from a panicking model.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprint(e.Value)
}

func (e *PanicError) Kind() string {
	return "panic"
}
