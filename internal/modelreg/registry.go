// Package modelreg loads the per-family models the router invokes. Models
// are loaded once at startup; a family whose model is missing or fails to
// load is left uncovered rather than failing startup.
package modelreg

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/lox/sensorfault/internal/router"
	"github.com/lox/sensorfault/internal/schema"
)

const (
	KindTFLite = "tflite"
	KindHTTP   = "http"
)

// Manifest describes where each family's model lives.
//
//	models:
//	  soil:
//	    kind: tflite
//	    path: soil_moisture_pipeline.tflite
//	    labels: soil_moisture_pipeline.labels.txt
//	  gas:
//	    kind: http
//	    url: http://models:9000/predict
//	    timeout: 5s
type Manifest struct {
	Models map[schema.Family]ModelSpec `yaml:"models"`
}

type ModelSpec struct {
	Kind       string        `yaml:"kind"`
	Path       string        `yaml:"path"`
	Labels     string        `yaml:"labels"`
	Threads    int           `yaml:"threads"`
	URL        string        `yaml:"url"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxElapsed time.Duration `yaml:"max_elapsed"`
}

// Registry is read-only once loading returns.
type Registry struct {
	models  map[schema.Family]router.Model
	closers []io.Closer
}

func NewRegistry() *Registry {
	return &Registry{models: make(map[schema.Family]router.Model)}
}

func (r *Registry) Model(family schema.Family) (router.Model, bool) {
	m, ok := r.models[family]
	return m, ok
}

// Families lists the covered families in schema.Families order.
func (r *Registry) Families() []schema.Family {
	var out []schema.Family
	for _, f := range schema.Families {
		if _, ok := r.models[f]; ok {
			out = append(out, f)
		}
	}
	return out
}

// Register adds a model during setup. It must not be called once the
// registry is serving requests.
func (r *Registry) Register(family schema.Family, m router.Model) {
	r.models[family] = m
	if c, ok := m.(io.Closer); ok {
		r.closers = append(r.closers, c)
	}
}

func (r *Registry) Close() error {
	var errs []error
	for _, c := range r.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func ReadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	for f := range m.Models {
		if !f.Known() {
			return nil, fmt.Errorf("manifest: unknown sensor family %q", f)
		}
	}
	return &m, nil
}

// Load builds a registry from a manifest. Relative paths resolve against
// baseDir.
func Load(m *Manifest, baseDir string) *Registry {
	reg := NewRegistry()
	for _, family := range schema.Families {
		spec, ok := m.Models[family]
		if !ok {
			continue
		}
		model, err := spec.open(family, baseDir)
		if err != nil {
			log.Printf("registry: loading %s: %v", family, err)
			continue
		}
		reg.Register(family, model)
		log.Printf("registry: loaded %s (%s)", family, spec.Kind)
	}
	return reg
}

// LoadDir looks for <model file>.tflite and <model file>.labels.txt per
// family in dir, e.g. soil_moisture_pipeline.tflite. A manifest.yaml in dir
// takes precedence over the naming convention.
func LoadDir(dir string, threads int) (*Registry, error) {
	manifestPath := filepath.Join(dir, "manifest.yaml")
	if _, err := os.Stat(manifestPath); err == nil {
		m, err := ReadManifest(manifestPath)
		if err != nil {
			return nil, err
		}
		return Load(m, dir), nil
	}

	m := &Manifest{Models: make(map[schema.Family]ModelSpec)}
	for _, family := range schema.Families {
		base := schema.ModelFile(family)
		if !fileExists(filepath.Join(dir, base+".tflite")) {
			continue
		}
		spec := ModelSpec{Kind: KindTFLite, Path: base + ".tflite", Threads: threads}
		if fileExists(filepath.Join(dir, base+".labels.txt")) {
			spec.Labels = base + ".labels.txt"
		}
		m.Models[family] = spec
	}
	return Load(m, dir), nil
}

func (s ModelSpec) open(family schema.Family, baseDir string) (router.Model, error) {
	switch s.Kind {
	case KindTFLite, "":
		if s.Path == "" {
			return nil, errors.New("tflite model needs a path")
		}
		var labels []string
		if s.Labels != "" {
			var err error
			labels, err = LoadLabels(resolvePath(baseDir, s.Labels))
			if err != nil {
				return nil, err
			}
		}
		return LoadTFLite(family, resolvePath(baseDir, s.Path), labels, s.Threads)
	case KindHTTP:
		if s.URL == "" {
			return nil, errors.New("http model needs a url")
		}
		return NewHTTPModel(family, s.URL, s.Timeout, s.MaxElapsed), nil
	default:
		return nil, fmt.Errorf("unknown model kind %q", s.Kind)
	}
}

func resolvePath(baseDir, p string) string {
	if filepath.IsAbs(p) || baseDir == "" {
		return p
	}
	return filepath.Join(baseDir, p)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
