package router

import (
	"context"
	"errors"
	"reflect"

	"github.com/lox/sensorfault/internal/schema"
)

// Model is a loaded predictive model for one sensor family. features is
// ordered exactly like schema.Expected for that family.
type Model interface {
	Predict(ctx context.Context, features []float64) (string, error)
}

// Registry hands out the model covering a family. A missing model is not an
// error, the family is just not covered.
type Registry interface {
	Model(family schema.Family) (Model, bool)
}

// Models is a fixed in-memory Registry.
type Models map[schema.Family]Model

func (m Models) Model(family schema.Family) (Model, bool) {
	model, ok := m[family]
	return model, ok && model != nil
}

// ModelFunc adapts a function to the Model interface.
type ModelFunc func(ctx context.Context, features []float64) (string, error)

func (f ModelFunc) Predict(ctx context.Context, features []float64) (string, error) {
	return f(ctx, features)
}

// ErrorKind names the class of err for trace notes. Errors that expose a
// Kind() string method name themselves; otherwise the concrete type name is
// used, with the anonymous stdlib error types reported as "Error".
func ErrorKind(err error) string {
	var k interface{ Kind() string }
	if errors.As(err, &k) {
		return k.Kind()
	}
	switch {
	case errors.Is(err, context.Canceled):
		return "Canceled"
	case errors.Is(err, context.DeadlineExceeded):
		return "DeadlineExceeded"
	}
	t := reflect.TypeOf(err)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil {
		return "Error"
	}
	switch name := t.Name(); name {
	case "", "errorString", "wrapError", "wrapErrors", "joinError":
		return "Error"
	default:
		return name
	}
}
