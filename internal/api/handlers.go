package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/clawinfra/clawroute/internal/plugin"
	"github.com/clawinfra/clawroute/internal/router"
)

const maxBodyBytes = 1 << 20

// writeJSON writes a JSON response with the given status code
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{
		"error": message,
	})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return false
	}
	return true
}

func (s *Server) activeRouter(w http.ResponseWriter) (*router.Router, bool) {
	r := s.plugin.Router()
	if r == nil {
		writeError(w, http.StatusServiceUnavailable, plugin.ErrNotInitialized.Error())
		return nil, false
	}
	return r, true
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	status, code := "ok", http.StatusOK
	if s.plugin.Router() == nil {
		status, code = "starting", http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]string{"status": status})
}

type routeRequest struct {
	Message         string `json:"message"`
	Strategy        string `json:"strategy,omitempty"`
	Channel         string `json:"channel,omitempty"`
	RequestID       string `json:"requestId,omitempty"`
	EstimatedTokens int    `json:"estimatedTokens,omitempty"`
	Verbose         bool   `json:"verbose,omitempty"`
}

// handleRoute routes one message. ?format=text returns the human-readable
// rendering instead of JSON.
func (s *Server) handleRoute(w http.ResponseWriter, r *http.Request) {
	var req routeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.RequestID == "" {
		req.RequestID = middleware.GetReqID(r.Context())
	}
	if req.Channel == "" {
		req.Channel = "http"
	}

	dec, err := s.plugin.OnMessage(r.Context(), plugin.Message{
		ID:              req.RequestID,
		Channel:         req.Channel,
		Text:            req.Message,
		Strategy:        req.Strategy,
		EstimatedTokens: req.EstimatedTokens,
	})
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, plugin.ErrNotInitialized):
			status = http.StatusServiceUnavailable
		case errors.Is(err, plugin.ErrInvalidStrategy):
			status = http.StatusBadRequest
		}
		writeError(w, status, err.Error())
		return
	}

	if r.URL.Query().Get("format") == "text" {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprint(w, router.FormatResult(dec.RoutingResult, req.Verbose))
		return
	}
	writeJSON(w, http.StatusOK, dec)
}

type scoreRequest struct {
	Message string   `json:"message"`
	Models  []string `json:"models"`
}

func (s *Server) handleScore(w http.ResponseWriter, r *http.Request) {
	var req scoreRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if len(req.Models) == 0 {
		writeError(w, http.StatusBadRequest, "models must not be empty")
		return
	}
	rt, ok := s.activeRouter(w)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"scores": rt.ScoreModels(req.Message, req.Models),
		"ranked": rt.RankModels(req.Message, req.Models),
	})
}

type featuresRequest struct {
	Message string `json:"message"`
}

func (s *Server) handleFeatures(w http.ResponseWriter, r *http.Request) {
	var req featuresRequest
	if !decodeBody(w, r, &req) {
		return
	}
	rt, ok := s.activeRouter(w)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"features":   router.ExtractFeatures(req.Message),
		"dimensions": rt.Classify(req.Message),
	})
}

type tierInfo struct {
	Tier router.Tier `json:"tier"`
	router.TierModels
}

func (s *Server) handleTiers(w http.ResponseWriter, r *http.Request) {
	rt, ok := s.activeRouter(w)
	if !ok {
		return
	}
	table := rt.Tiers()
	tiers := make([]tierInfo, 0, len(table))
	for _, t := range router.AllTiers() {
		if m, ok := table[t]; ok {
			tiers = append(tiers, tierInfo{Tier: t, TierModels: m})
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tiers":      tiers,
		"thresholds": rt.Config().Thresholds,
		"warnings":   rt.Warnings(),
	})
}

// handleStats reports in-process savings and, with a decision store,
// per-tier counts. ?since=24h limits the counts to a recent window.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	rt, ok := s.activeRouter(w)
	if !ok {
		return
	}
	resp := map[string]any{"savings": rt.GetSavings()}

	if store := s.plugin.Store(); store != nil {
		var since time.Time
		if v := r.URL.Query().Get("since"); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid since: %v", err))
				return
			}
			since = time.Now().Add(-d)
		}
		counts, err := store.TierCounts(r.Context(), since)
		if err != nil {
			s.logger.Error("tier counts query failed", "error", err)
			writeError(w, http.StatusInternalServerError, "stats query failed")
			return
		}
		resp["tierCounts"] = counts
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	reg := s.plugin.Health()
	if reg == nil {
		writeError(w, http.StatusServiceUnavailable, plugin.ErrNotInitialized.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"models":   reg.Snapshot(),
		"degraded": reg.Degraded(),
	})
}

type outcomeRequest struct {
	Model string `json:"model"`
	Error string `json:"error,omitempty"` // empty for success
}

// handleOutcome lets callers report how a model call went.
func (s *Server) handleOutcome(w http.ResponseWriter, r *http.Request) {
	var req outcomeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Model == "" {
		writeError(w, http.StatusBadRequest, "model is required")
		return
	}
	var err error
	if req.Error != "" {
		err = errors.New(req.Error)
	}
	s.plugin.ReportOutcome(req.Model, err)
	w.WriteHeader(http.StatusNoContent)
}
