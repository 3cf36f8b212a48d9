// Package admin implements the read-only Admin HTTP API: listing
// live Lands, per-Land stats, replay record download, and destructive
// removal, all gated by either an API key header or an admin-role JWT.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"

	"landkeeper/pkg/land"
)

// Realm is the subset of realm.Registry the Admin API needs. Declared here
// so this package doesn't import pkg/realm just to name a pointer type.
type Realm interface {
	List() []string
	Get(landID string) (*land.Keeper, bool)
	Remove(landID string) error
}

// RecordStore serves a landID's persisted replay record for download. A
// deployment with replay recording disabled can pass nil; the endpoint then
// always reports not found.
type RecordStore interface {
	ReadRecord(landID string) ([]byte, error)
}

// Claims is the admin JWT's claim set: an admin caller must carry
// Role == "admin" in addition to the standard registered claims.
type Claims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

// Config configures authentication for the Admin API. At least one of
// APIKey/JWTSecret should be set in any deployment that exposes this
// surface outside localhost; both unset means no auth (intended for local
// development only).
type Config struct {
	// APIKey, if set, is compared against the X-API-Key request header.
	APIKey string
	// JWTSecret, if set, HMAC-validates a Bearer token's signature; the
	// token's claims must carry Role == "admin".
	JWTSecret string
}

// Server is the Admin HTTP API's router, ready to mount or serve directly.
type Server struct {
	router  chi.Router
	realm   Realm
	records RecordStore
	cfg     Config
	log     *logrus.Entry
}

// NewServer builds the Admin API's chi.Router. records may be nil (see
// RecordStore).
func NewServer(realmRegistry Realm, records RecordStore, cfg Config) *Server {
	s := &Server{
		realm:   realmRegistry,
		records: records,
		cfg:     cfg,
		log:     logrus.WithField("component", "admin.Server"),
	}

	r := chi.NewRouter()
	r.Use(s.authenticate)
	r.Get("/admin/lands", s.listLands)
	r.Get("/admin/lands/{landID}/stats", s.landStats)
	r.Get("/admin/lands/{landID}/reevaluation-record", s.landRecord)
	r.Delete("/admin/lands/{landID}", s.removeLand)
	s.router = r
	return s
}

// ServeHTTP makes Server an http.Handler, mountable standalone or nested
// under a larger router (e.g. cmd/server's top-level mux).
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// envelope is the Admin API's uniform response shape: every response is
// either a success with a result or a failure with an error message.
type envelope struct {
	Success bool   `json:"success"`
	Result  any    `json:"result,omitempty"`
	Error   string `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(payload)
}

func writeOK(w http.ResponseWriter, result any) {
	writeJSON(w, http.StatusOK, envelope{Success: true, Result: result})
}

func writeErr(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, envelope{Success: false, Error: message})
}

// authenticate enforces Config's API-key/JWT gate ahead of every route.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.APIKey == "" && s.cfg.JWTSecret == "" {
			next.ServeHTTP(w, r)
			return
		}

		if s.cfg.APIKey != "" && r.Header.Get("X-API-Key") == s.cfg.APIKey {
			next.ServeHTTP(w, r)
			return
		}

		if s.cfg.JWTSecret != "" {
			if err := s.authenticateJWT(r); err == nil {
				next.ServeHTTP(w, r)
				return
			}
		}

		writeErr(w, http.StatusUnauthorized, "missing or invalid admin credentials")
	})
}

var errNotAdmin = errors.New("admin: token lacks admin role")

func (s *Server) authenticateJWT(r *http.Request) error {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(auth) <= len(prefix) || auth[:len(prefix)] != prefix {
		return errNotAdmin
	}
	tokenString := auth[len(prefix):]

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(s.cfg.JWTSecret), nil
	})
	if err != nil || !token.Valid {
		return errNotAdmin
	}
	if claims.Role != "admin" {
		return errNotAdmin
	}
	return nil
}

func (s *Server) listLands(w http.ResponseWriter, r *http.Request) {
	writeOK(w, map[string]any{"lands": s.realm.List()})
}

func (s *Server) landStats(w http.ResponseWriter, r *http.Request) {
	landID := chi.URLParam(r, "landID")
	keeper, ok := s.realm.Get(landID)
	if !ok {
		writeErr(w, http.StatusNotFound, fmt.Sprintf("land %q not found", landID))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	stats, err := keeper.Query(ctx, "stats")
	if err != nil {
		s.log.WithError(err).WithField("landID", landID).Error("stats query failed")
		writeErr(w, http.StatusInternalServerError, "stats query failed")
		return
	}
	writeOK(w, stats)
}

func (s *Server) landRecord(w http.ResponseWriter, r *http.Request) {
	landID := chi.URLParam(r, "landID")
	if s.records == nil {
		writeErr(w, http.StatusNotFound, "replay recording is not enabled")
		return
	}
	data, err := s.records.ReadRecord(landID)
	if err != nil {
		writeErr(w, http.StatusNotFound, fmt.Sprintf("no replay record for %q", landID))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) removeLand(w http.ResponseWriter, r *http.Request) {
	landID := chi.URLParam(r, "landID")
	if err := s.realm.Remove(landID); err != nil {
		writeErr(w, http.StatusNotFound, err.Error())
		return
	}
	writeOK(w, map[string]string{"landID": landID, "status": "removed"})
}
