package api

import (
	"embed"
	"html/template"
	"log"
	"net/http"
	"time"

	"github.com/lox/sensorfault/internal/models"
	"github.com/lox/sensorfault/internal/store"
)

//go:embed templates/*
var templateFS embed.FS

// newTemplates creates and parses the HTML templates with custom functions.
func newTemplates() *template.Template {
	funcs := template.FuncMap{
		"stamp": func(t time.Time) string {
			return t.Format(models.ActivityTimeFormat)
		},
	}
	return template.Must(template.New("").Funcs(funcs).ParseFS(templateFS, "templates/*.html"))
}

type IndexData struct {
	User     *models.User
	Families []FamilyStatus
	Activity []models.Activity
	// Summary is only filled for admins.
	Summary *store.ActivitySummary
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	data := IndexData{
		User:     s.currentUser(r),
		Families: s.familyStatus(),
	}
	if data.User != nil {
		var err error
		if data.User.Role == models.RoleAdmin {
			data.Activity, err = s.store.LatestActivity(store.DefaultActivityLimit)
			if sum, serr := s.store.SummarizeActivity(time.Now()); serr != nil {
				log.Printf("api: index summary: %v", serr)
			} else {
				data.Summary = &sum
			}
		} else {
			data.Activity, err = s.store.ActivityForUser(data.User.Username, store.DefaultActivityLimit)
		}
		if err != nil {
			log.Printf("api: index activity: %v", err)
		}
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.tmpl.ExecuteTemplate(w, "index.html", data); err != nil {
		log.Printf("api: render index: %v", err)
	}
}
