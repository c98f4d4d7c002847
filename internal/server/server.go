// Package server exposes the operational surface over HTTP: system and
// provider health, alerts, the review queue, and an enrichment intake
// endpoint.
package server

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/catalog-enricher/internal/model"
	"github.com/sells-group/catalog-enricher/internal/pipeline"
	"github.com/sells-group/catalog-enricher/internal/review"
	"github.com/sells-group/catalog-enricher/internal/store"
)

// EnrichFunc runs one item through the pipeline. Injected so the serve
// handlers can be tested without providers.
type EnrichFunc func(ctx context.Context, item *model.CandidateItem, prio model.Priority) error

// Server bundles the handler dependencies.
type Server struct {
	store   store.Store
	board   *pipeline.StatusBoard
	reviews *review.Queue
	enrich  EnrichFunc
}

// New creates a Server.
func New(st store.Store, board *pipeline.StatusBoard, reviews *review.Queue, enrich EnrichFunc) *Server {
	return &Server{store: st, board: board, reviews: reviews, enrich: enrich}
}

// Router builds the chi router with all routes mounted.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/health", s.handleHealth)
	r.Get("/status", s.handleStatus)
	r.Get("/alerts", s.handleAlerts)
	r.Post("/alerts/{id}/ack", s.handleAckAlert)
	r.Get("/review", s.handleReviewQueue)
	r.Delete("/review/{itemID}", s.handleResolveReview)
	r.Get("/items/{id}", s.handleGetItem)
	r.Post("/enrich", s.handleEnrich)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": s.board.SystemHealth(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"system":    s.board.SystemHealth(),
		"providers": s.board.Statuses(),
	})
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"alerts": s.board.Alerter().Unresolved(),
	})
}

func (s *Server) handleAckAlert(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !s.board.Alerter().Acknowledge(id) {
		writeError(w, http.StatusNotFound, "alert not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"acknowledged": id})
}

func (s *Server) handleReviewQueue(w http.ResponseWriter, r *http.Request) {
	minutes, human := s.reviews.TotalEffort()
	writeJSON(w, http.StatusOK, map[string]any{
		"entries":        s.reviews.List(),
		"total_minutes":  minutes,
		"total_estimate": human,
	})
}

func (s *Server) handleResolveReview(w http.ResponseWriter, r *http.Request) {
	itemID := chi.URLParam(r, "itemID")
	if !s.reviews.Remove(itemID) {
		writeError(w, http.StatusNotFound, "review entry not found")
		return
	}
	if err := s.store.DeleteReviewEntry(r.Context(), itemID); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"resolved": itemID})
}

func (s *Server) handleGetItem(w http.ResponseWriter, r *http.Request) {
	item, err := s.store.GetItem(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "item not found")
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (s *Server) handleEnrich(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RawInput   string `json:"raw_input"`
		Identifier string `json:"identifier"`
		Priority   string `json:"priority"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.RawInput == "" {
		writeError(w, http.StatusBadRequest, "raw_input is required")
		return
	}

	item := model.NewCandidateItem(req.RawInput)
	item.Identifier = req.Identifier
	if item.Identifier == "" {
		item.Identifier = item.RawInput
	}
	prio := model.ParsePriority(req.Priority)

	if err := s.store.UpsertItem(r.Context(), item); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	// Enrichment runs detached from the request lifetime.
	go func() {
		if err := s.enrich(context.WithoutCancel(r.Context()), item, prio); err != nil {
			zap.L().Error("enrichment failed",
				zap.String("item_id", item.ID),
				zap.Error(err),
			)
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{
		"item_id": item.ID,
		"status":  string(item.Status),
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
