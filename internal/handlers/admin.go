package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/IIoT-Solutions-SA/p2p-messaging/internal/metrics"
)

// RecomputeUnread handles POST /admin/conversations/{id}/recompute. It
// rebuilds both unread counters from the ledger and reports any drift.
func (h *Handler) RecomputeUnread(w http.ResponseWriter, r *http.Request) {
	convID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.Error(w, http.StatusBadRequest, "invalid conversation id")
		return
	}

	result, err := h.store.RecomputeUnread(r.Context(), convID)
	if err != nil {
		h.StoreError(w, err)
		return
	}

	metrics.UnreadRecomputes.Inc()
	if result.Drifted() {
		metrics.UnreadDriftDetected.Inc()
		h.logger.Warn().
			Str("conversation_id", convID.String()).
			Int64("before_a", result.BeforeA).
			Int64("after_a", result.AfterA).
			Int64("before_b", result.BeforeB).
			Int64("after_b", result.AfterB).
			Msg("unread counter drift corrected")
	}

	h.JSON(w, http.StatusOK, map[string]any{
		"result":  result,
		"drifted": result.Drifted(),
	})
}
