package api

import (
	"context"
	"errors"
	"log"
	"net/http"

	"github.com/lox/sensorfault/internal/auth"
	"github.com/lox/sensorfault/internal/models"
)

type ctxKey struct{}

type UserView struct {
	Username string      `json:"username"`
	Name     string      `json:"name"`
	Role     models.Role `json:"role"`
}

func viewUser(u *models.User) UserView {
	return UserView{Username: u.Username, Name: u.Name, Role: u.Role}
}

// currentUser returns the signed-in user, or nil. A session whose user has
// since been removed reads as signed out.
func (s *Server) currentUser(r *http.Request) *models.User {
	sess, err := s.sessions.Get(r, sessionName)
	if err != nil {
		return nil
	}
	username, _ := sess.Values["username"].(string)
	if username == "" {
		return nil
	}
	u, err := s.store.GetUser(username)
	if err != nil {
		log.Printf("api: session lookup %s: %v", username, err)
		return nil
	}
	return u
}

func userFrom(ctx context.Context) *models.User {
	u, _ := ctx.Value(ctxKey{}).(*models.User)
	return u
}

func (s *Server) requireUser(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		u := s.currentUser(r)
		if u == nil {
			writeError(w, http.StatusUnauthorized, "login required")
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, u)))
	}
}

func (s *Server) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return s.requireUser(func(w http.ResponseWriter, r *http.Request) {
		if userFrom(r.Context()).Role != models.RoleAdmin {
			writeError(w, http.StatusForbidden, "admin only")
			return
		}
		next(w, r)
	})
}

func (s *Server) startSession(w http.ResponseWriter, r *http.Request, u *models.User) error {
	sess, _ := s.sessions.Get(r, sessionName)
	sess.Values["username"] = u.Username
	return sess.Save(r, w)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	u, err := s.auth.Authenticate(r.FormValue("username"), r.FormValue("password"))
	if errors.Is(err, auth.ErrInvalidCredentials) {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := s.startSession(w, r, u); err != nil {
		writeError(w, http.StatusInternalServerError, "save session: "+err.Error())
		return
	}
	log.Printf("api: login %s", u.Username)
	writeJSON(w, http.StatusOK, viewUser(u))
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	sess, _ := s.sessions.Get(r, sessionName)
	delete(sess.Values, "username")
	sess.Options.MaxAge = -1
	if err := sess.Save(r, w); err != nil {
		writeError(w, http.StatusInternalServerError, "save session: "+err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	u, err := s.auth.Register(r.FormValue("username"), r.FormValue("name"), r.FormValue("password"))
	switch {
	case errors.Is(err, auth.ErrUserExists):
		writeError(w, http.StatusConflict, err.Error())
		return
	case errors.Is(err, auth.ErrUsernameTooShort), errors.Is(err, auth.ErrPasswordTooShort):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := s.startSession(w, r, u); err != nil {
		writeError(w, http.StatusInternalServerError, "save session: "+err.Error())
		return
	}
	log.Printf("api: registered %s", u.Username)
	writeJSON(w, http.StatusCreated, viewUser(u))
}
