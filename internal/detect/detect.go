// Package detect decides which sensor family produced a row from its column
// labels alone.
package detect

import (
	"strings"

	"github.com/lox/sensorfault/internal/schema"
)

// Labels carries a row's column labels in three forms. Raw and Exact keep
// punctuation, which is the only thing separating soil from temperature
// uploads, so they must survive until classification is done.
type Labels struct {
	Exact map[string]bool // as given
	Raw   map[string]bool // trimmed, lower-cased
	Norm  map[schema.Key]bool
}

func NewLabels(labels []string) Labels {
	l := Labels{
		Exact: make(map[string]bool, len(labels)),
		Raw:   make(map[string]bool, len(labels)),
		Norm:  make(map[schema.Key]bool, len(labels)),
	}
	for _, label := range labels {
		l.Exact[label] = true
		l.Raw[schema.RawLabel(label)] = true
		l.Norm[schema.Normalize(label)] = true
	}
	return l
}

func (l Labels) normPrefixed(prefix string) int {
	n := 0
	for k := range l.Norm {
		if strings.HasPrefix(string(k), prefix) {
			n++
		}
	}
	return n
}

type predicate struct {
	family schema.Family
	match  func(l Labels) bool
}

// chain is evaluated in order and the first match wins. Soil and temperature
// come first because both carry sensor_value plus a millisecond timestamp
// and differ only in the raw punctuation of that timestamp.
var chain = []predicate{
	{schema.Soil, func(l Labels) bool {
		return l.Raw[schema.SoilTimestamp] && l.Norm["sensorvalue"]
	}},
	{schema.Temperature, func(l Labels) bool {
		return l.Exact[schema.TemperatureTimestamp] && l.Norm["sensorvalue"]
	}},
	// Mis-punctuated temperature uploads, e.g. "timestampms" or "Timestamp MS".
	{schema.Temperature, func(l Labels) bool {
		return l.Norm["timestampms"] && !l.Raw[schema.SoilTimestamp] && l.Norm["sensorvalue"]
	}},
	{schema.Gas, func(l Labels) bool {
		return l.Norm["mq2value"] || (l.Raw["temperature"] && l.Raw["humidity"])
	}},
	{schema.Light, func(l Labels) bool {
		return l.Norm["ldrvalue"] || l.Norm["ambientlight"]
	}},
	{schema.Wafer, func(l Labels) bool {
		return l.Norm["waferid"]
	}},
	// Multi-sensor heuristic: sensor_1..sensor_N without a wafer id.
	{schema.Wafer, func(l Labels) bool {
		return l.normPrefixed("sensor") > 0 && !l.Norm["sensorvalue"]
	}},
}

// Classify returns the family for a row with the given column labels, or
// schema.Unknown when no signature matches.
func Classify(labels []string) schema.Family {
	return ClassifyLabels(NewLabels(labels))
}

func ClassifyLabels(l Labels) schema.Family {
	for _, p := range chain {
		if p.match(l) {
			return p.family
		}
	}
	return schema.Unknown
}
