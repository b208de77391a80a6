package www

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"firecore/dispatch"
	"firecore/lifecycle"
	"firecore/protocol"
	"firecore/store"
)

type dispatchDetail struct {
	Dispatch    *store.Dispatch     `json:"dispatch"`
	Assignments []*store.Assignment `json:"assignments"`
	Units       []*store.Unit       `json:"units"`
	Escalation  *store.Escalation   `json:"escalation,omitempty"`
}

func (h *Handlers) apiGetDispatch(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r, "id")
	if err != nil {
		h.writeError(w, http.StatusBadRequest, errInvalidID, err.Error())
		return
	}
	d, err := h.engine.DB().GetDispatch(r.Context(), id)
	if err != nil {
		h.fail(w, err)
		return
	}
	h.writeDispatch(w, r, d)
}

func (h *Handlers) apiGetDispatchByNumber(w http.ResponseWriter, r *http.Request) {
	d, err := h.engine.DB().GetDispatchByNumber(r.Context(), chi.URLParam(r, "number"))
	if err != nil {
		h.fail(w, err)
		return
	}
	h.writeDispatch(w, r, d)
}

func (h *Handlers) writeDispatch(w http.ResponseWriter, r *http.Request, d *store.Dispatch) {
	ctx := r.Context()
	db := h.engine.DB()
	out := dispatchDetail{Dispatch: d}
	var err error
	if out.Assignments, err = db.ListAssignmentsByDispatch(ctx, d.ID); err != nil {
		h.fail(w, err)
		return
	}
	if out.Units, err = db.ListUnitsByDispatch(ctx, d.ID); err != nil {
		h.fail(w, err)
		return
	}
	esc, err := db.GetEscalationByDispatch(ctx, d.ID)
	switch {
	case err == nil:
		out.Escalation = esc
	case !errors.Is(err, store.ErrNotFound):
		h.fail(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, out)
}

func (h *Handlers) apiListDispatches(w http.ResponseWriter, r *http.Request) {
	status := strings.ToUpper(r.URL.Query().Get("status"))
	if !h.knownStatus(w, protocol.KindDispatch, status) {
		return
	}
	ds, err := h.engine.DB().ListDispatches(r.Context(), status, queryLimit(r, 100))
	if err != nil {
		h.fail(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, ds)
}

func (h *Handlers) apiDispatchOutcome(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r, "id")
	if err != nil {
		h.writeError(w, http.StatusBadRequest, errInvalidID, err.Error())
		return
	}
	o, ok := h.engine.Dispatcher().Outcome(id)
	if !ok {
		h.writeError(w, http.StatusNotFound, "no outcome recorded", nil)
		return
	}
	h.writeJSON(w, http.StatusOK, o)
}

// apiReassignDispatch queues a fresh assignment attempt, typically after an
// unfulfilled dispatch once units free up.
func (h *Handlers) apiReassignDispatch(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r, "id")
	if err != nil {
		h.writeError(w, http.StatusBadRequest, errInvalidID, err.Error())
		return
	}
	task, err := h.engine.Dispatcher().Reassign(r.Context(), id)
	if err != nil {
		h.fail(w, err)
		return
	}
	if task.Rejected() {
		o, _ := task.Wait(r.Context())
		h.fail(w, o.Err)
		return
	}
	h.writeJSON(w, http.StatusAccepted, map[string]any{"dispatchId": id, "queued": true})
}

type statusRequest struct {
	Status string `json:"status" validate:"required"`
}

func (h *Handlers) apiSetStatus(w http.ResponseWriter, r *http.Request) {
	kind, ok := protocol.ParseKind(chiParam(r, "kind"))
	if !ok {
		h.writeError(w, http.StatusBadRequest, errInvalidKind, chiParam(r, "kind"))
		return
	}
	id, err := parseIDParam(r, "id")
	if err != nil {
		h.writeError(w, http.StatusBadRequest, errInvalidID, err.Error())
		return
	}
	var req statusRequest
	if err := h.decodeAndValidate(r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, errInvalidPayload, err.Error())
		return
	}
	tbl, _ := lifecycle.TableFor(kind)
	if !tbl.Known(req.Status) {
		h.writeError(w, http.StatusBadRequest, "unknown status", req.Status)
		return
	}
	st, err := h.engine.Machine().SetStatus(r.Context(), kind, id, req.Status)
	if err != nil {
		h.fail(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, st)
}

func (h *Handlers) apiListTransitions(w http.ResponseWriter, r *http.Request) {
	kind, ok := protocol.ParseKind(chiParam(r, "kind"))
	if !ok {
		h.writeError(w, http.StatusBadRequest, errInvalidKind, chiParam(r, "kind"))
		return
	}
	id, err := parseIDParam(r, "id")
	if err != nil {
		h.writeError(w, http.StatusBadRequest, errInvalidID, err.Error())
		return
	}
	ts, err := h.engine.DB().ListEntityTransitions(r.Context(), kind, id)
	if err != nil {
		h.fail(w, err)
		return
	}
	if len(ts) == 0 {
		h.writeError(w, http.StatusNotFound, "no transitions", nil)
		return
	}
	h.writeJSON(w, http.StatusOK, ts)
}

func (h *Handlers) apiListEscalations(w http.ResponseWriter, r *http.Request) {
	status := strings.ToUpper(r.URL.Query().Get("status"))
	if !h.knownStatus(w, protocol.KindEscalation, status) {
		return
	}
	es, err := h.engine.DB().ListEscalations(r.Context(), status, queryLimit(r, 100))
	if err != nil {
		h.fail(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, es)
}

func (h *Handlers) apiGetEscalation(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r, "id")
	if err != nil {
		h.writeError(w, http.StatusBadRequest, errInvalidID, err.Error())
		return
	}
	e, err := h.engine.DB().GetEscalation(r.Context(), id)
	if err != nil {
		h.fail(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, e)
}

func (h *Handlers) apiCompleteEscalation(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r, "id")
	if err != nil {
		h.writeError(w, http.StatusBadRequest, errInvalidID, err.Error())
		return
	}
	var c dispatch.Completion
	if err := decodeJSON(r, &c); err != nil {
		h.writeError(w, http.StatusBadRequest, errInvalidPayload, err.Error())
		return
	}
	if (c.ActualCost != nil && *c.ActualCost < 0) || (c.ActualMinutes != nil && *c.ActualMinutes < 0) {
		h.writeError(w, http.StatusBadRequest, errInvalidPayload, "actuals must not be negative")
		return
	}
	st, err := h.engine.Dispatcher().Escalator.Complete(r.Context(), id, c)
	if err != nil {
		h.fail(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, st)
}
