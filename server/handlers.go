package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jrsteele09/go-storefront-auth/auth"
	apperrors "github.com/jrsteele09/go-storefront-auth/internal/errors"
	"github.com/jrsteele09/go-storefront-auth/internal/utils"
	"github.com/jrsteele09/go-storefront-auth/sessions"
	"github.com/jrsteele09/go-storefront-auth/token/jwt"
)

const contentTypeJSON = "application/json"

// SignInRequest is the body of POST /sessions/{type}/signin.
type SignInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// TokenResponse is the body of GET /sessions/{type}/token.
type TokenResponse struct {
	Token     string     `json:"token"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// SessionResponse is a snapshot plus the key its token bundle is stored under.
type SessionResponse struct {
	sessions.Snapshot
	StorageKey string `json:"storage_key"`
}

func (s *Server) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}
}

// SessionListHandler returns every registered session
func (s *Server) SessionListHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := make([]SessionResponse, 0, len(s.registry.Types()))
		for _, t := range s.registry.Types() {
			m, err := s.registry.Get(t)
			if err != nil {
				continue
			}
			resp = append(resp, s.sessionResponse(m))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// SessionHandler returns one session's snapshot
func (s *Server) SessionHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		m, ok := s.managerFromRequest(w, r)
		if !ok {
			return
		}
		writeJSON(w, http.StatusOK, s.sessionResponse(m))
	}
}

// SignInHandler signs a seller or admin session in with email and password
func (s *Server) SignInHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		m, ok := s.managerFromRequest(w, r)
		if !ok {
			return
		}

		var req SignInRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSONError(w, "invalid_request", "body must be JSON with email and password", http.StatusBadRequest)
			return
		}
		req.Email = strings.TrimSpace(req.Email)
		if req.Email == "" || req.Password == "" {
			writeJSONError(w, "invalid_request", "email and password are required", http.StatusBadRequest)
			return
		}

		if err := m.SignIn(r.Context(), req.Email, req.Password); err != nil {
			logError(r.Method, r.URL.Path, err.Error())
			switch {
			case errors.Is(err, apperrors.ErrSignInNotExposed):
				writeJSONError(w, "sign_in_not_exposed", "this session signs in through the full-page flow", http.StatusForbidden)
			case errors.Is(err, apperrors.ErrInvalidCredentials):
				writeJSONError(w, "invalid_credentials", "invalid email or password", http.StatusUnauthorized)
			case errors.Is(err, apperrors.ErrBackendConfig):
				writeJSONError(w, "backend_misconfigured", "authentication backend refused the api key", http.StatusBadGateway)
			default:
				writeJSONError(w, "sign_in_failed", "authentication backend unavailable", http.StatusBadGateway)
			}
			return
		}
		writeJSON(w, http.StatusOK, s.sessionResponse(m))
	}
}

// SignOutHandler always succeeds; remote revocation failures are only logged
func (s *Server) SignOutHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		m, ok := s.managerFromRequest(w, r)
		if !ok {
			return
		}
		m.SignOut(r.Context())
		writeJSON(w, http.StatusOK, s.sessionResponse(m))
	}
}

// TokenHandler returns a usable bearer token, refreshing it if needed. 204 when
// the session has none.
func (s *Server) TokenHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		m, ok := s.managerFromRequest(w, r)
		if !ok {
			return
		}

		raw := m.GetValidToken(r.Context())
		if raw == "" {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		resp := TokenResponse{Token: raw}
		if exp, err := jwt.Expiry(raw); err == nil {
			resp.ExpiresAt = utils.Ptr(exp)
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func (s *Server) RefreshProfileHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		m, ok := s.managerFromRequest(w, r)
		if !ok {
			return
		}
		m.RefreshProfile(r.Context())
		writeJSON(w, http.StatusOK, s.sessionResponse(m))
	}
}

// managerFromRequest resolves the {type} path parameter, writing a 404 when it
// names no registered session.
func (s *Server) managerFromRequest(w http.ResponseWriter, r *http.Request) (*auth.SessionManager, bool) {
	t, err := sessions.ParseSessionType(chi.URLParam(r, "type"))
	if err == nil {
		var m *auth.SessionManager
		if m, err = s.registry.Get(t); err == nil {
			return m, true
		}
	}
	writeJSONError(w, "unknown_session", err.Error(), http.StatusNotFound)
	return nil, false
}

func (s *Server) sessionResponse(m *auth.SessionManager) SessionResponse {
	key, _ := s.registry.StorageKey(m.Type())
	return SessionResponse{Snapshot: m.Snapshot(), StorageKey: key}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, errorCode, description string, statusCode int) {
	writeJSON(w, statusCode, map[string]string{
		"error":             errorCode,
		"error_description": description,
	})
}
