package handler

import (
	"log/slog"
	"net/http"

	"github.com/parkdeck/parkdeck/internal/config"
	"github.com/parkdeck/parkdeck/internal/model"
)

// ListingHandler serves the public read side of the parking marketplace.
type ListingHandler struct {
	store  *config.Store
	logger *slog.Logger
}

// NewListingHandler creates a ListingHandler.
func NewListingHandler(store *config.Store, logger *slog.Logger) *ListingHandler {
	return &ListingHandler{store: store, logger: logger}
}

// ListActive returns all active parking listings.
// GET /api/v1/listings
func (h *ListingHandler) ListActive(w http.ResponseWriter, r *http.Request) {
	listings, err := h.store.ListActiveListings(r.Context())
	if err != nil {
		h.logger.Error("list listings failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Something went wrong. Please try again later.")
		return
	}

	writeJSON(w, http.StatusOK, model.Response{
		Success: true,
		Data:    listings,
	})
}
