package www

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"firecore/dispatch"
	"firecore/intake"
	"firecore/lifecycle"
	"firecore/protocol"
	"firecore/store"
)

type reportResponse struct {
	Report        *store.Report   `json:"report"`
	Dispatch      *store.Dispatch `json:"dispatch,omitempty"`
	DispatchError string          `json:"dispatchError,omitempty"`
}

func (h *Handlers) apiCreateReport(w http.ResponseWriter, r *http.Request) {
	var in intake.ReportInput
	if err := decodeJSON(r, &in); err != nil {
		h.writeError(w, http.StatusBadRequest, errInvalidPayload, err.Error())
		return
	}
	report, _, err := h.engine.Intake().CreateReport(r.Context(), in)
	if report == nil {
		h.fail(w, err)
		return
	}
	resp := reportResponse{Report: report}
	if err != nil {
		// The report is on record even though nothing could be sent.
		if !errors.Is(err, dispatch.ErrUnsupportedEmergencyType) {
			h.fail(w, err)
			return
		}
		resp.DispatchError = err.Error()
	} else if d, derr := h.engine.DB().GetActiveDispatchForReport(r.Context(), report.ID); derr == nil {
		resp.Dispatch = d
	}
	h.writeJSON(w, http.StatusCreated, resp)
}

func (h *Handlers) apiGetReport(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r, "id")
	if err != nil {
		h.writeError(w, http.StatusBadRequest, errInvalidID, err.Error())
		return
	}
	report, err := h.engine.DB().GetReport(r.Context(), id)
	if err != nil {
		h.fail(w, err)
		return
	}
	h.writeReport(w, r, report)
}

func (h *Handlers) apiGetReportByNumber(w http.ResponseWriter, r *http.Request) {
	report, err := h.engine.DB().GetReportByNumber(r.Context(), chi.URLParam(r, "number"))
	if err != nil {
		h.fail(w, err)
		return
	}
	h.writeReport(w, r, report)
}

func (h *Handlers) writeReport(w http.ResponseWriter, r *http.Request, report *store.Report) {
	dispatches, err := h.engine.DB().ListDispatchesByReport(r.Context(), report.ID)
	if err != nil {
		h.fail(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"report": report, "dispatches": dispatches})
}

func (h *Handlers) apiListReports(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	status := strings.ToUpper(q.Get("status"))
	if !h.knownStatus(w, protocol.KindReport, status) {
		return
	}
	priority := strings.ToUpper(q.Get("priority"))
	if priority != "" && !dispatch.ValidPriority(priority) {
		h.writeError(w, http.StatusBadRequest, "unknown priority", priority)
		return
	}
	reports, err := h.engine.DB().ListReports(r.Context(), status, priority, queryLimit(r, 100))
	if err != nil {
		h.fail(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, reports)
}

// knownStatus writes a 400 and returns false when status is set but not part
// of kind's table.
func (h *Handlers) knownStatus(w http.ResponseWriter, kind protocol.EntityKind, status string) bool {
	if status == "" {
		return true
	}
	if tbl, _ := lifecycle.TableFor(kind); !tbl.Known(status) {
		h.writeError(w, http.StatusBadRequest, "unknown status", status)
		return false
	}
	return true
}
