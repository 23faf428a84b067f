// Package httpapi exposes the server's HTTP surface: GET /version,
// GET/POST /diff, and GET /history. Routing follows the teacher pack's
// gorilla/mux handler style (see the inkdown-sync-server example's
// handler package) rather than the teacher repo itself, which has no
// server-side HTTP surface of its own -- this package's shape (thin
// handler methods on a struct holding its services, wrapped by an
// auth middleware) is the idiom the wider example set uses for Go
// HTTP servers.
package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/camlsync/camlsync/internal/compose"
	"github.com/camlsync/camlsync/internal/diffengine"
	camlerrors "github.com/camlsync/camlsync/internal/errors"
	"github.com/camlsync/camlsync/internal/store"
	"github.com/gorilla/mux"
)

// Server wires the version store into HTTP handlers.
type Server struct {
	store  *store.Store
	logger *slog.Logger
}

// New builds a Server over the given store.
func New(s *store.Store, logger *slog.Logger) *Server {
	return &Server{store: s, logger: logger}
}

// Router builds the mux.Router serving this server's endpoints, with
// every route guarded by token authorization.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.authMiddleware)
	r.HandleFunc("/version", s.handleVersion).Methods(http.MethodGet)
	r.HandleFunc("/diff", s.handleGetDiff).Methods(http.MethodGet)
	r.HandleFunc("/diff", s.handlePostDiff).Methods(http.MethodPost)
	r.HandleFunc("/history", s.handleHistory).Methods(http.MethodGet)
	return r
}

// authMiddleware checks ?token=<tok> against the store's hashed
// token before any handler runs (section 4.8).
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := r.URL.Query().Get("token")
		if err := s.store.VerifyToken(token); err != nil {
			s.logger.Warn("rejected request", slog.String("path", r.URL.Path), slog.String("remote", r.RemoteAddr))
			writeError(w, http.StatusUnauthorized, "Unauthorized Access")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	v, err := s.store.CurrentVersion()
	if err != nil {
		s.serverError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"version": v})
}

func (s *Server) handleGetDiff(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("from")
	if raw == "" {
		writeError(w, http.StatusBadRequest, "missing from parameter")
		return
	}
	from, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "from must be an integer")
		return
	}

	current, err := s.store.CurrentVersion()
	if err != nil {
		s.serverError(w, err)
		return
	}
	if from > current {
		writeError(w, http.StatusBadRequest, "from exceeds current version")
		return
	}
	if from < 0 {
		writeError(w, http.StatusBadRequest, "from must be non-negative")
		return
	}

	// `to` is an additive, backward-compatible extension: omitted, it
	// defaults to current (the section 4.8 contract exactly). Present,
	// it lets the client compose an arbitrary historical range for
	// `history <N>` without a second endpoint.
	to := current
	if rawTo := r.URL.Query().Get("to"); rawTo != "" {
		to, err = strconv.ParseInt(rawTo, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "to must be an integer")
			return
		}
		if to < from || to > current {
			writeError(w, http.StatusBadRequest, "to must be between from and current version")
			return
		}
	}

	vd, err := compose.Compose(s.store, from, to)
	if err != nil {
		s.serverError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, vd)
}

func (s *Server) handlePostDiff(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	var vd diffengine.VersionDiff
	if err := json.NewDecoder(r.Body).Decode(&vd); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if err := vd.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "malformed version diff")
		return
	}

	next, err := s.store.Append(vd)
	if err != nil {
		s.serverError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"version": next})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	entries, err := s.store.History()
	if err != nil {
		s.serverError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"log": entries})
}

func (s *Server) serverError(w http.ResponseWriter, err error) {
	s.logger.Error("request failed", slog.String("error", err.Error()))
	if errors.Is(err, camlerrors.ErrNotInitialized) {
		writeError(w, http.StatusInternalServerError, "server not initialized")
		return
	}
	writeError(w, http.StatusInternalServerError, "internal server error")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(msg))
}
