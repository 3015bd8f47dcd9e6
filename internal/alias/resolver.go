package alias

import (
	"strings"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/lox/sensorfault/internal/schema"
)

const (
	cacheTTL     = 30 * time.Minute
	cacheCleanup = time.Hour
)

type resolution struct {
	mapping Mapping
	trace   Trace
	fired   []string
}

// Resolver resolves labels against a family's schema with a fixed cutoff,
// reusing the result for rows that share an identical header. Rule metrics
// are counted per resolved row, cached or not.
type Resolver struct {
	cutoff float64
	cache  *cache.Cache
}

func NewResolver(cutoff float64) *Resolver {
	if cutoff < 0 || cutoff > 1 {
		cutoff = DefaultCutoff
	}
	return &Resolver{
		cutoff: cutoff,
		cache:  cache.New(cacheTTL, cacheCleanup),
	}
}

func (r *Resolver) Cutoff() float64 {
	return r.cutoff
}

// Resolve returns a fresh mapping and trace for labels under family. Callers
// may mutate the returned values.
func (r *Resolver) Resolve(family schema.Family, labels []string) (Mapping, Trace) {
	key := cacheKey(family, labels)
	if cached, ok := r.cache.Get(key); ok {
		if res, ok := cached.(resolution); ok {
			countRules(res.fired)
			return res.mapping.clone(), res.trace.clone()
		}
	}
	mapping, trace, fired := resolve(labels, schema.Expected(family), r.cutoff)
	countRules(fired)
	r.cache.Set(key, resolution{mapping: mapping.clone(), trace: trace.clone(), fired: fired}, cache.DefaultExpiration)
	return mapping, trace
}

func cacheKey(family schema.Family, labels []string) string {
	return string(family) + "\x1e" + strings.Join(labels, "\x1f")
}

func (m Mapping) clone() Mapping {
	out := make(Mapping, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (t Trace) clone() Trace {
	out := make(Trace, len(t))
	copy(out, t)
	return out
}
