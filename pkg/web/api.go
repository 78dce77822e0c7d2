package web

import (
	"context"
	"encoding/json"
	"errors"
	"mime"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"estimator/pkg/material"
)

const maxBodyBytes = 1 << 20

// itemPayload keeps transport level parsing separate from the store's types.
type itemPayload struct {
	Item  string  `json:"item"`
	Price float64 `json:"price"`
}

type listResponse struct {
	Items     []material.Item `json:"items"`
	Total     decimal.Decimal `json:"total"`
	TotalText string          `json:"total_text"`
}

func (s *Server) listItems(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	items, err := s.store.List(ctx)
	if err != nil {
		s.logger.Error("item listing failed", "error", err)
		s.respondError(w, err.Error(), statusFor(err))
		return
	}
	if items == nil {
		items = []material.Item{}
	}
	total := material.Sum(items)
	s.respondJSON(w, http.StatusOK, listResponse{
		Items:     items,
		Total:     total,
		TotalText: s.format.FormatDecimal(total),
	})
}

func (s *Server) createItem(w http.ResponseWriter, r *http.Request) {
	var payload itemPayload
	if !s.decode(w, r, &payload) {
		return
	}
	if err := material.Validate(payload.Item, payload.Price); err != nil {
		s.logger.Info("item creation rejected", "error", err)
		s.respondError(w, err.Error(), http.StatusBadRequest)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	item, err := s.store.Add(ctx, payload.Item, payload.Price)
	if err != nil {
		s.logger.Error("item creation failed", "item", payload.Item, "error", err)
		s.respondError(w, err.Error(), statusFor(err))
		return
	}
	s.logger.Info("item added", "id", item.ID, "item", item.Item, "price", item.Price)
	s.respondJSON(w, http.StatusCreated, item)
}

// replaceItems swaps in a whole collection, as an import does.
func (s *Server) replaceItems(w http.ResponseWriter, r *http.Request) {
	var items []material.Item
	if !s.decode(w, r, &items) {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	if err := s.store.Set(ctx, items); err != nil {
		s.logger.Error("collection replace failed", "error", err)
		s.respondError(w, err.Error(), statusFor(err))
		return
	}
	s.logger.Info("collection replaced", "items", len(items))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) updateItem(w http.ResponseWriter, r *http.Request) {
	id, err := itemID(r)
	if err != nil {
		s.respondError(w, "invalid id", http.StatusBadRequest)
		return
	}
	var payload itemPayload
	if !s.decode(w, r, &payload) {
		return
	}
	if err := material.Validate(payload.Item, payload.Price); err != nil {
		s.logger.Info("item update rejected", "id", id, "error", err)
		s.respondError(w, err.Error(), http.StatusBadRequest)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	found, err := s.store.UpdateMaterial(ctx, payload.Item, payload.Price, id)
	if err != nil {
		s.logger.Error("item update failed", "id", id, "error", err)
		s.respondError(w, err.Error(), statusFor(err))
		return
	}
	if !found {
		s.logger.Info("item update failed: not found", "id", id)
		s.respondError(w, "item not found", http.StatusNotFound)
		return
	}
	s.logger.Info("item updated", "id", id, "item", payload.Item, "price", payload.Price)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) deleteItem(w http.ResponseWriter, r *http.Request) {
	id, err := itemID(r)
	if err != nil {
		s.respondError(w, "invalid id", http.StatusBadRequest)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	found, err := s.store.Delete(ctx, id)
	if err != nil {
		s.logger.Error("item delete failed", "id", id, "error", err)
		s.respondError(w, err.Error(), statusFor(err))
		return
	}
	if !found {
		s.logger.Info("item delete failed: not found", "id", id)
		s.respondError(w, "item not found", http.StatusNotFound)
		return
	}
	s.logger.Info("item deleted", "id", id)
	w.WriteHeader(http.StatusNoContent)
}

// decode reads a JSON body. Anything not sent as application/json is refused.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type")); err != nil || mediaType != "application/json" {
		s.logger.Info("request rejected: not JSON", "path", r.URL.Path, "content_type", r.Header.Get("Content-Type"))
		s.respondError(w, "content type must be application/json", http.StatusUnsupportedMediaType)
		return false
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		s.logger.Info("request rejected: unable to decode payload", "path", r.URL.Path, "error", err)
		s.respondError(w, "invalid JSON", http.StatusBadRequest)
		return false
	}
	return true
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("response encoding failed", "error", err)
	}
}

// respondError keeps JSON formatting consistent across endpoints.
func (s *Server) respondError(w http.ResponseWriter, message string, status int) {
	s.respondJSON(w, status, map[string]string{"error": message})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, material.ErrBusy), errors.Is(err, material.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
