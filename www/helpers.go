package www

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"firecore/dispatch"
	"firecore/intake"
	"firecore/lifecycle"
	"firecore/store"
	"firecore/unitstate"
)

type APIError struct {
	Error   string `json:"error"`
	Details any    `json:"details,omitempty"`
}

const (
	errInvalidPayload = "invalid payload"
	errInvalidID      = "invalid id"
	errInvalidKind    = "unknown entity kind"
)

func (h *Handlers) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		_ = json.NewEncoder(w).Encode(payload)
	}
}

func (h *Handlers) writeError(w http.ResponseWriter, status int, message string, details any) {
	h.writeJSON(w, status, APIError{Error: message, Details: details})
}

// fail maps a domain error onto an HTTP status.
func (h *Handlers) fail(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= 500 {
		h.log.Error().Err(err).Msg("request failed")
	}
	var details any
	var ite *lifecycle.InvalidTransitionError
	if errors.As(err, &ite) {
		details = map[string]any{"kind": ite.Kind, "id": ite.ID, "from": ite.From, "to": ite.To, "reason": ite.Reason}
	}
	h.writeError(w, status, err.Error(), details)
}

func statusFor(err error) int {
	var verrs validator.ValidationErrors
	switch {
	case errors.As(err, &verrs),
		errors.Is(err, intake.ErrInvalidReport),
		errors.Is(err, unitstate.ErrInvalidUnit),
		errors.Is(err, lifecycle.ErrUnknownKind):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, lifecycle.ErrInvalidTransition),
		errors.Is(err, lifecycle.ErrRetryExhausted),
		errors.Is(err, lifecycle.ErrConcurrentModification),
		errors.Is(err, dispatch.ErrActiveDispatchExists),
		errors.Is(err, dispatch.ErrReportClosed),
		errors.Is(err, dispatch.ErrDispatchClosed),
		errors.Is(err, dispatch.ErrUnitCapReached):
		return http.StatusConflict
	case errors.Is(err, dispatch.ErrUnsupportedEmergencyType),
		errors.Is(err, dispatch.ErrUnsupportedDispatchType):
		return http.StatusUnprocessableEntity
	case errors.Is(err, dispatch.ErrQueueFull),
		errors.Is(err, dispatch.ErrSchedulerStopped):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func decodeJSON(r *http.Request, dst any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func (h *Handlers) decodeAndValidate(r *http.Request, dst any) error {
	if err := decodeJSON(r, dst); err != nil {
		return err
	}
	return h.validate.Struct(dst)
}

func chiParam(r *http.Request, key string) string {
	return strings.TrimSpace(chi.URLParam(r, key))
}

func parseIDParam(r *http.Request, key string) (int64, error) {
	raw := chiParam(r, key)
	if raw == "" {
		return 0, errors.New("missing id")
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("bad id %q", raw)
	}
	return id, nil
}

func queryLimit(r *http.Request, def int) int {
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 {
			return n
		}
	}
	return def
}
