package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/pkg/errors"

	"peblar-bridge/chargers/common"
	"peblar-bridge/chargers/peblar/client"
	"peblar-bridge/params"
)

type handler struct {
	coord    common.Coordinator
	writable bool
}

type snapshotResponse struct {
	Data              params.Snapshot `json:"data"`
	LastUpdateSuccess bool            `json:"last_update_success"`
	LastUpdated       *time.Time      `json:"last_updated,omitempty"`
	Error             string          `json:"error,omitempty"`
}

type sensorResponse struct {
	params.SensorDescriptor
	Value interface{} `json:"value"`
}

type setChargeCurrentLimitRequest struct {
	Value *float64 `json:"value"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Errorf("failed to encode response: %s", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

// errorStatus maps a charger error to the status code we answer with.
func errorStatus(err error) int {
	switch {
	case client.IsAuthError(err):
		return http.StatusForbidden
	case client.IsConnectionError(err):
		return http.StatusServiceUnavailable
	case client.IsHTTPError(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (h *handler) getSnapshot(w http.ResponseWriter, r *http.Request) {
	update := h.coord.LastUpdate()
	resp := snapshotResponse{
		Data:              update.Snapshot,
		LastUpdateSuccess: update.LastUpdateSuccess,
	}
	if !update.LastUpdated.IsZero() {
		resp.LastUpdated = &update.LastUpdated
	}
	if update.Err != nil {
		resp.Error = update.Err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handler) getSensors(w http.ResponseWriter, r *http.Request) {
	snap := h.coord.Snapshot()
	resp := []sensorResponse{}
	for _, desc := range params.PresentSensors(snap) {
		resp = append(resp, sensorResponse{
			SensorDescriptor: desc,
			Value:            snap[desc.Key],
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handler) refresh(w http.ResponseWriter, r *http.Request) {
	if err := h.coord.Refresh(r.Context()); err != nil {
		writeError(w, errorStatus(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) setChargeCurrentLimit(w http.ResponseWriter, r *http.Request) {
	if !h.writable {
		writeError(w, http.StatusForbidden, errors.New("access token does not allow changing the charge current limit"))
		return
	}

	var req setChargeCurrentLimitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, errors.Wrap(err, "decoding request"))
		return
	}
	if req.Value == nil {
		writeError(w, http.StatusBadRequest, errors.New("missing value"))
		return
	}
	if err := params.ChargeCurrentLimitNumber.Validate(*req.Value); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := h.coord.SetChargingCurrent(r.Context(), *req.Value); err != nil {
		log.Errorf("failed to set charging current: %s", err)
		writeError(w, errorStatus(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
