// Package alias maps arbitrary column labels onto a family's canonical
// feature names. Each label runs through an ordered chain of match rules
// (synonym, exact, sensor index, fuzzy) and the first rule that matches wins.
package alias

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/lox/sensorfault/internal/metrics"
	"github.com/lox/sensorfault/internal/schema"
)

// Mapping renames original column labels to canonical feature names.
type Mapping map[string]string

// Trace is the ordered list of resolution notes, one per input column.
type Trace []string

const (
	RuleSynonym       = "alias_exact"
	RuleExpected      = "match_expected"
	RuleSensorIndex   = "sensor_index"
	RuleFuzzyExpected = "fuzzy_expected"
	RuleFuzzySynonym  = "fuzzy_syn"
	RuleNoMatch       = "no_map"
)

var sensorIndexPattern = regexp.MustCompile(`^sensor(\d+)$`)

// target is the per-call view of the expected schema the rules match against.
type target struct {
	expected     []string
	byKey        map[string]string
	expectedKeys []string
	cutoff       float64
}

func newTarget(expected []string, cutoff float64) *target {
	t := &target{
		expected: expected,
		byKey:    make(map[string]string, len(expected)),
		cutoff:   cutoff,
	}
	for _, c := range expected {
		k := string(schema.Normalize(c))
		if _, seen := t.byKey[k]; !seen {
			t.expectedKeys = append(t.expectedKeys, k)
		}
		t.byKey[k] = c
	}
	return t
}

func (t *target) has(canonical string) bool {
	for _, c := range t.expected {
		if c == canonical {
			return true
		}
	}
	return false
}

type rule struct {
	name  string
	match func(t *target, key string) (string, bool)
}

var rules = []rule{
	{RuleSynonym, matchSynonym},
	{RuleExpected, matchExpected},
	{RuleSensorIndex, matchSensorIndex},
	{RuleFuzzyExpected, matchFuzzyExpected},
	{RuleFuzzySynonym, matchFuzzySynonym},
}

func matchSynonym(_ *target, key string) (string, bool) {
	return schema.Synonym(key)
}

func matchExpected(t *target, key string) (string, bool) {
	c, ok := t.byKey[key]
	return c, ok
}

// matchSensorIndex maps "sensor7" to "sensor_7" when the schema has it.
func matchSensorIndex(t *target, key string) (string, bool) {
	m := sensorIndexPattern.FindStringSubmatch(key)
	if m == nil {
		return "", false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return "", false
	}
	canonical := fmt.Sprintf("sensor_%d", n)
	return canonical, t.has(canonical)
}

func matchFuzzyExpected(t *target, key string) (string, bool) {
	k, ok := closest(key, t.expectedKeys, t.cutoff)
	if !ok {
		return "", false
	}
	return t.byKey[k], true
}

func matchFuzzySynonym(t *target, key string) (string, bool) {
	k, ok := closest(key, schema.SynonymKeys(), t.cutoff)
	if !ok {
		return "", false
	}
	return schema.Synonym(k)
}

// Resolve builds the rename mapping from labels onto expected. Labels no
// rule matches are left out of the mapping and noted as no_map. A cutoff
// outside [0, 1] falls back to DefaultCutoff.
func Resolve(labels []string, expected []string, cutoff float64) (Mapping, Trace) {
	mapping, trace, fired := resolve(labels, expected, cutoff)
	countRules(fired)
	return mapping, trace
}

// resolve is Resolve without metrics; fired lists the rule behind each
// trace note.
func resolve(labels []string, expected []string, cutoff float64) (Mapping, Trace, []string) {
	if cutoff < 0 || cutoff > 1 {
		cutoff = DefaultCutoff
	}
	t := newTarget(expected, cutoff)
	mapping := make(Mapping, len(labels))
	trace := make(Trace, 0, len(labels))
	fired := make([]string, 0, len(labels))

	for _, label := range labels {
		key := string(schema.Normalize(label))
		matched := false
		for _, r := range rules {
			canonical, ok := r.match(t, key)
			if !ok {
				continue
			}
			mapping[label] = canonical
			trace = append(trace, fmt.Sprintf("%s:%s->%s", r.name, label, canonical))
			fired = append(fired, r.name)
			matched = true
			break
		}
		if !matched {
			trace = append(trace, fmt.Sprintf("%s:%s", RuleNoMatch, label))
			fired = append(fired, RuleNoMatch)
		}
	}
	return mapping, trace, fired
}

func countRules(fired []string) {
	for _, name := range fired {
		metrics.AliasMatches.WithLabelValues(name).Inc()
	}
}
