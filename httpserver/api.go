package httpserver

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/lakowske/podserve/interfaces"
)

func (srv *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		srv.log.Error("Failed to write response", "err", err)
	}
}

// handleStatus reports every managed domain.
func (srv *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	srv.writeJSON(w, http.StatusOK, srv.manager.Status(r.Context()))
}

func (srv *Server) handleDomainStatus(w http.ResponseWriter, r *http.Request) {
	domain := chi.URLParam(r, "domain")
	st, err := srv.manager.DomainStatus(r.Context(), domain)
	if err != nil {
		if errors.Is(err, interfaces.ErrUnknownDomain) {
			srv.writeJSON(w, http.StatusNotFound, map[string]interface{}{"error": err.Error()})
			return
		}
		srv.log.Error("Failed to resolve domain status", slog.String("domain", domain), "err", err)
		srv.writeJSON(w, http.StatusInternalServerError, map[string]interface{}{"error": "status unavailable"})
		return
	}
	srv.writeJSON(w, http.StatusOK, st)
}

// handleRenew triggers a renewal attempt for the domain. The attempt runs
// in the background; progress shows up under /api/v1/status/{domain}.
func (srv *Server) handleRenew(w http.ResponseWriter, r *http.Request) {
	domain := chi.URLParam(r, "domain")
	err := srv.manager.StartRenewal(r.Context(), domain)
	switch {
	case err == nil:
		srv.log.Info("Renewal triggered over API", slog.String("domain", domain))
		srv.writeJSON(w, http.StatusAccepted, map[string]interface{}{
			"status": "renewal started",
			"domain": domain,
		})
	case errors.Is(err, interfaces.ErrUnknownDomain):
		srv.writeJSON(w, http.StatusNotFound, map[string]interface{}{"error": err.Error()})
	case errors.Is(err, interfaces.ErrRenewalInProgress):
		srv.writeJSON(w, http.StatusConflict, map[string]interface{}{"error": err.Error()})
	default:
		srv.log.Error("Failed to start renewal", slog.String("domain", domain), "err", err)
		srv.writeJSON(w, http.StatusInternalServerError, map[string]interface{}{"error": "renewal failed to start"})
	}
}

// handleDomainReadiness is the startup probe consumers poll before loading
// certificate material for a domain.
func (srv *Server) handleDomainReadiness(w http.ResponseWriter, r *http.Request) {
	domain := chi.URLParam(r, "domain")
	if _, err := srv.manager.DomainStatus(r.Context(), domain); err != nil {
		srv.writeJSON(w, http.StatusNotFound, map[string]interface{}{"error": err.Error()})
		return
	}

	ready, reason := srv.gate.Explain(domain)
	if !ready {
		srv.writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status": "not ready",
			"reason": reason,
		})
		return
	}
	srv.writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ready"})
}
