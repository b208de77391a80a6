package www

import (
	"net/http"

	"firecore/protocol"
)

func (h *Handlers) apiStatsForKind(w http.ResponseWriter, r *http.Request) {
	raw := chiParam(r, "kind")
	kind, ok := protocol.ParseKind(raw)
	if !ok {
		h.writeError(w, http.StatusBadRequest, errInvalidKind, raw)
		return
	}
	h.writeJSON(w, http.StatusOK, h.engine.Stats().GetCounts(kind))
}

func (h *Handlers) apiUnfulfilled(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]int{
		"unfulfilled": h.engine.Stats().Unfulfilled(),
		"late":        h.engine.Stats().Late(),
	})
}

func (h *Handlers) apiListAudit(w http.ResponseWriter, r *http.Request) {
	entries, err := h.engine.DB().ListAuditLog(r.Context(), queryLimit(r, 100))
	if err != nil {
		h.fail(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, entries)
}
