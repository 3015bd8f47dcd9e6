// Package features turns a resolved row into the positional vector a
// family's model consumes.
package features

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/lox/sensorfault/internal/models"
)

// Vector holds one value per expected feature, in schema order.
type Vector []float64

// Prepare renames row through mapping, fills expected features that are
// still missing with 0, and coerces each expected value to a float. The
// returned vector always has len(expected) entries. Notes record each
// backfilled feature as "filled_missing:<name>=0".
//
// When several columns rename onto the same feature the first one in header
// order wins.
func Prepare(row []models.Cell, mapping map[string]string, expected []string) (Vector, []string) {
	values := make(map[string]string, len(row))
	for _, c := range row {
		name := c.Label
		if canonical, ok := mapping[c.Label]; ok {
			name = canonical
		}
		if _, seen := values[name]; seen {
			continue
		}
		values[name] = c.Value
	}

	var notes []string
	vec := make(Vector, len(expected))
	for i, name := range expected {
		raw, ok := values[name]
		if !ok {
			notes = append(notes, fmt.Sprintf("filled_missing:%s=0", name))
			continue
		}
		vec[i] = Coerce(raw)
	}
	return vec, notes
}

// Coerce parses s as a float. Blank, unparseable, NaN and infinite values
// become 0.
func Coerce(s string) float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}

// Float32s converts the vector for models with float32 input tensors.
func (v Vector) Float32s() []float32 {
	out := make([]float32, len(v))
	for i, f := range v {
		out[i] = float32(f)
	}
	return out
}
