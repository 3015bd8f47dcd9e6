package api

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"html/template"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/sessions"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lox/sensorfault/internal/auth"
	"github.com/lox/sensorfault/internal/router"
	"github.com/lox/sensorfault/internal/schema"
	"github.com/lox/sensorfault/internal/store"
)

const (
	sessionName = "sensorfault"

	defaultMaxUpload = 32 << 20
)

type Config struct {
	Port string
	// SessionSecret signs session cookies. Empty means a random key, so
	// sessions do not survive a restart.
	SessionSecret string
	// MaxUploadBytes caps the multipart body on /api/predict.
	MaxUploadBytes int64
}

type Server struct {
	store     *store.Store
	auth      *auth.Service
	router    *router.Router
	registry  router.Registry
	sessions  *sessions.CookieStore
	port      string
	maxUpload int64
	tmpl      *template.Template
}

func NewServer(st *store.Store, rt *router.Router, registry router.Registry, cfg Config) *Server {
	key := []byte(cfg.SessionSecret)
	if len(key) == 0 {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			log.Printf("api: generate session key: %v", err)
		}
		log.Printf("api: no session secret configured, sessions reset on restart")
	}
	cookies := sessions.NewCookieStore(key)
	cookies.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   86400 * 7,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}

	maxUpload := cfg.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = defaultMaxUpload
	}

	return &Server{
		store:     st,
		auth:      auth.NewService(st),
		router:    rt,
		registry:  registry,
		sessions:  cookies,
		port:      cfg.Port,
		maxUpload: maxUpload,
		tmpl:      newTemplates(),
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /login", s.handleLogin)
	mux.HandleFunc("POST /logout", s.handleLogout)
	mux.HandleFunc("POST /signup", s.handleSignup)
	mux.HandleFunc("GET /api/families", s.handleAPIFamilies)
	mux.HandleFunc("POST /api/predict", s.requireUser(s.handleAPIPredict))
	mux.HandleFunc("GET /api/activity", s.requireUser(s.handleAPIActivity))
	mux.HandleFunc("GET /api/activity/summary", s.requireAdmin(s.handleAPIActivitySummary))
	mux.HandleFunc("GET /api/activity/{id}/input", s.requireUser(s.handleAPIActivityInput))
	mux.HandleFunc("GET /api/activity/{id}/output", s.requireUser(s.handleAPIActivityOutput))
	mux.HandleFunc("GET /api/users", s.requireAdmin(s.handleAPIUsers))
	mux.Handle("GET /metrics", promhttp.Handler())
	return mux
}

func (s *Server) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:              ":" + s.port,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	log.Printf("api: listening on :%s", s.port)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

type FamilyStatus struct {
	ID          schema.Family `json:"id"`
	Name        string        `json:"name"`
	ModelLoaded bool          `json:"model_loaded"`
	Expected    []string      `json:"expected_columns"`
}

func (s *Server) familyStatus() []FamilyStatus {
	var out []FamilyStatus
	for _, f := range schema.Families {
		if !f.Known() {
			continue
		}
		_, ok := s.registry.Model(f)
		out = append(out, FamilyStatus{
			ID:          f,
			Name:        f.DisplayName(),
			ModelLoaded: ok,
			Expected:    schema.Expected(f),
		})
	}
	return out
}

type HealthStatus struct {
	Status           string   `json:"status"`
	MigrationVersion int      `json:"migration_version"`
	ModelsLoaded     int      `json:"models_loaded"`
	MissingModels    []string `json:"missing_models,omitempty"`
	Errors           []string `json:"errors,omitempty"`
}

// handleHealth reports "degraded" when some family has no model and
// "error" when the database is unreachable.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := HealthStatus{Status: "ok"}

	version, err := s.store.MigrationVersion()
	if err != nil {
		health.Errors = append(health.Errors, "store: "+err.Error())
	}
	health.MigrationVersion = version

	for _, f := range s.familyStatus() {
		if f.ModelLoaded {
			health.ModelsLoaded++
		} else {
			health.MissingModels = append(health.MissingModels, string(f.ID))
		}
	}

	switch {
	case len(health.Errors) > 0:
		health.Status = "error"
	case health.ModelsLoaded == 0:
		health.Status = "error"
	case len(health.MissingModels) > 0:
		health.Status = "degraded"
	}

	w.Header().Set("Content-Type", "application/json")
	if health.Status == "error" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	if err := json.NewEncoder(w).Encode(health); err != nil {
		log.Printf("health: write response: %v", err)
	}
}

func (s *Server) handleAPIFamilies(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.familyStatus())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("api: write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
