package www

import (
	"net/http"
	"strings"

	"firecore/store"
)

type createUnitRequest struct {
	UnitNumber string  `json:"unitNumber" validate:"required,max=32"`
	UnitType   string  `json:"unitType" validate:"required"`
	StationID  *int64  `json:"stationId" validate:"omitempty,gt=0"`
	Latitude   float64 `json:"latitude" validate:"latitude"`
	Longitude  float64 `json:"longitude" validate:"longitude"`
}

func (h *Handlers) apiCreateUnit(w http.ResponseWriter, r *http.Request) {
	var req createUnitRequest
	if err := h.decodeAndValidate(r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, errInvalidPayload, err.Error())
		return
	}
	u := &store.Unit{
		UnitNumber: req.UnitNumber,
		UnitType:   strings.ToUpper(req.UnitType),
		StationID:  req.StationID,
		Latitude:   req.Latitude,
		Longitude:  req.Longitude,
	}
	if err := h.engine.Units().CreateUnit(r.Context(), u); err != nil {
		if store.IsUniqueViolation(err) {
			h.writeError(w, http.StatusConflict, "unit number already registered", req.UnitNumber)
			return
		}
		h.fail(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, u)
}

func (h *Handlers) apiListUnits(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := store.UnitFilter{
		UnitType: strings.ToUpper(q.Get("type")),
		Status:   strings.ToUpper(q.Get("status")),
	}
	units, err := h.engine.Units().ListUnits(r.Context(), f)
	if err != nil {
		h.fail(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, units)
}

type locationRequest struct {
	Latitude  float64 `json:"latitude" validate:"latitude"`
	Longitude float64 `json:"longitude" validate:"longitude"`
}

func (h *Handlers) apiUpdateUnitLocation(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r, "id")
	if err != nil {
		h.writeError(w, http.StatusBadRequest, errInvalidID, err.Error())
		return
	}
	var req locationRequest
	if err := h.decodeAndValidate(r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, errInvalidPayload, err.Error())
		return
	}
	if err := h.engine.Units().UpdateLocation(r.Context(), id, req.Latitude, req.Longitude); err != nil {
		h.fail(w, err)
		return
	}
	u, err := h.engine.Units().GetUnit(r.Context(), id)
	if err != nil {
		h.fail(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, u)
}

type createStationRequest struct {
	Name      string  `json:"name" validate:"required,max=120"`
	Address   string  `json:"address" validate:"max=255"`
	Latitude  float64 `json:"latitude" validate:"latitude"`
	Longitude float64 `json:"longitude" validate:"longitude"`
}

func (h *Handlers) apiCreateStation(w http.ResponseWriter, r *http.Request) {
	var req createStationRequest
	if err := h.decodeAndValidate(r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, errInvalidPayload, err.Error())
		return
	}
	s := &store.Station{Name: req.Name, Address: req.Address, Latitude: req.Latitude, Longitude: req.Longitude}
	if err := h.engine.DB().CreateStation(r.Context(), s); err != nil {
		h.fail(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, s)
}

func (h *Handlers) apiListStations(w http.ResponseWriter, r *http.Request) {
	stations, err := h.engine.DB().ListStations(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, stations)
}
