package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hyperjump/temuan/internal/indexer"
	"github.com/hyperjump/temuan/internal/keyword"
	"github.com/hyperjump/temuan/internal/matcherr"
	"github.com/hyperjump/temuan/internal/models"
)

const (
	defaultUploadMB  = 32
	defaultListLimit = 20
	maxListLimit     = 200
	catalogNameBoost = 2.0
)

func (s *Server) handleMatch(w http.ResponseWriter, r *http.Request) {
	var req models.MatchRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.logger.Debug("match request",
		zap.Int("text_len", len(req.Text)),
		zap.Int("images", len(req.Images)),
		zap.String("collection", string(req.Collection)))
	result, err := s.engine.Match(r.Context(), &req)
	if err != nil {
		s.fail(w, "match", err)
		return
	}
	s.respondJSON(w, http.StatusOK, result)
}

func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	var rec models.FeedbackRecord
	if !s.decode(w, r, &rec) {
		return
	}
	saved, err := s.thresholds.RecordFeedback(r.Context(), &rec)
	if err != nil {
		s.fail(w, "feedback", err)
		return
	}
	s.respondJSON(w, http.StatusCreated, map[string]string{"id": saved.ID, "status": "recorded"})
}

func (s *Server) handleThresholds(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"thresholds": s.thresholds.GetThresholds(r.Context()),
	}
	if a, ok := s.thresholds.LastAnalysis(); ok {
		resp["analysis"] = a
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRecompute(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.thresholds.Recompute(r.Context())
	if err != nil {
		s.fail(w, "recompute thresholds", err)
		return
	}
	resp := map[string]interface{}{"thresholds": cfg}
	if a, ok := s.thresholds.LastAnalysis(); ok {
		resp["analysis"] = a
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRegisterItem(w http.ResponseWriter, r *http.Request) {
	var input models.ItemInput
	if !s.decode(w, r, &input) {
		return
	}
	s.logger.Debug("register item request", zap.String("item_name", input.Name), zap.Int("images", len(input.Images)))
	item, err := s.indexer.Register(r.Context(), &input)
	if err != nil {
		s.fail(w, "register item", err)
		return
	}
	s.respondJSON(w, http.StatusCreated, item)
}

func (s *Server) handleListItems(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := intParam(q.Get("limit"), defaultListLimit)
	if limit < 1 || limit > maxListLimit {
		s.respondError(w, http.StatusBadRequest, "limit must be between 1 and 200")
		return
	}
	collection := models.Collection(q.Get("collection"))
	if collection != "" && !collection.Valid() {
		s.respondError(w, http.StatusBadRequest, "collection must be found_items or lost_items")
		return
	}

	var items []*models.Item
	var err error
	if text := q.Get("q"); text != "" {
		fuzzy, _ := strconv.ParseBool(q.Get("fuzzy"))
		items, err = s.indexer.Search(r.Context(), text, limit, &keyword.SearchOptions{
			Collection:   collection,
			Status:       models.Status(q.Get("status")),
			NameBoost:    catalogNameBoost,
			FuzzyEnabled: fuzzy,
		})
	} else {
		items, err = s.indexer.List(r.Context(), collection, intParam(q.Get("offset"), 0), limit)
	}
	if err != nil {
		s.fail(w, "list items", err)
		return
	}
	if items == nil {
		items = []*models.Item{}
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"items": items, "total": len(items)})
}

func (s *Server) handleGetItem(w http.ResponseWriter, r *http.Request) {
	item, err := s.indexer.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, "get item", err)
		return
	}
	s.respondJSON(w, http.StatusOK, item)
}

func (s *Server) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	var update models.StatusUpdate
	if !s.decode(w, r, &update) {
		return
	}
	item, err := s.indexer.UpdateStatus(r.Context(), chi.URLParam(r, "id"), &update)
	if err != nil {
		s.fail(w, "update item status", err)
		return
	}
	s.respondJSON(w, http.StatusOK, item)
}

func (s *Server) handleDeleteItem(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.logger.Debug("delete item request", zap.String("id", id))
	if err := s.indexer.Delete(r.Context(), id); err != nil {
		s.fail(w, "delete item", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"id": id, "status": "deleted"})
}

func (s *Server) handleRetrain(w http.ResponseWriter, r *http.Request) {
	model, res, err := s.indexer.Retrain(r.Context())
	if err != nil {
		s.fail(w, "retrain", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"model_version": model.Version,
		"dimensions":    model.Dimensions(),
		"documents":     model.DocCount,
		"refresh":       res,
	})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	modality := r.URL.Query().Get("modality")
	if modality != "" && modality != string(models.ModalityText) && modality != string(models.ModalityImage) {
		s.respondError(w, http.StatusBadRequest, "modality must be text or image")
		return
	}
	resp := map[string]*indexer.RefreshResult{}
	if modality == "" || modality == string(models.ModalityText) {
		res, err := s.indexer.RefreshText(r.Context())
		if err != nil {
			s.fail(w, "refresh text embeddings", err)
			return
		}
		resp[string(models.ModalityText)] = res
	}
	if modality == "" || modality == string(models.ModalityImage) {
		res, err := s.indexer.RefreshImages(r.Context())
		if err != nil {
			s.fail(w, "refresh image embeddings", err)
			return
		}
		resp[string(models.ModalityImage)] = res
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDebugText(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if a, b := q.Get("a"), q.Get("b"); a != "" && b != "" {
		s.respondJSON(w, http.StatusOK, s.engine.CompareTexts(r.Context(), a, b))
		return
	}
	text := q.Get("q")
	if text == "" {
		s.respondError(w, http.StatusBadRequest, "q, or both a and b, are required")
		return
	}
	report, err := s.engine.DebugText(r.Context(), text, models.Collection(q.Get("collection")), intParam(q.Get("limit"), 10))
	if err != nil {
		s.fail(w, "debug text", err)
		return
	}
	s.respondJSON(w, http.StatusOK, report)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	items := map[string]int64{}
	for _, c := range []models.Collection{models.FoundItems, models.LostItems} {
		n, err := s.storage.CountItems(ctx, c)
		if err != nil {
			s.fail(w, "status: count items", err)
			return
		}
		items[string(c)] = n
	}
	feedbackCount, err := s.storage.CountFeedback(ctx)
	if err != nil {
		s.fail(w, "status: count feedback", err)
		return
	}
	resp := map[string]interface{}{
		"items":      items,
		"feedback":   feedbackCount,
		"thresholds": s.thresholds.GetThresholds(ctx),
	}
	if m, err := s.text.Current(); err == nil {
		resp["text_model"] = map[string]interface{}{
			"version":    m.Version,
			"dimensions": m.Dimensions(),
			"documents":  m.DocCount,
		}
	} else {
		resp["text_model"] = nil
	}
	if s.catalog != nil {
		if n, err := s.catalog.DocCount(); err == nil {
			resp["catalog_items"] = n
		}
	}
	if du, ok := s.storage.(interface{ DiskUsage() (int64, error) }); ok {
		if n, err := du.DiskUsage(); err == nil {
			resp["disk_usage_bytes"] = n
		}
	}
	s.respondJSON(w, http.StatusOK, resp)
}

// decode reads a JSON body bounded by the upload limit. It reports false after
// writing the error response.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	mb := s.config.MaxUploadMB
	if mb <= 0 {
		mb = defaultUploadMB
	}
	r.Body = http.MaxBytesReader(w, r.Body, int64(mb)<<20)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			s.respondError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// fail maps err onto an HTTP status and writes it.
func (s *Server) fail(w http.ResponseWriter, op string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error(op+" failed", zap.Error(err))
	} else {
		s.logger.Debug(op+" rejected", zap.Error(err))
	}
	s.respondError(w, status, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, matcherr.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, matcherr.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, matcherr.ErrExtraction):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func intParam(raw string, def int) int {
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return -1
	}
	return n
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
