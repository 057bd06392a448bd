package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/waypoint-data/fleetgate/internal/avl"
	"github.com/waypoint-data/fleetgate/internal/httputil"
	"github.com/waypoint-data/fleetgate/internal/store"
)

func (s *Server) listDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := s.store.ListDevices(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if devices == nil {
		devices = []avl.Device{}
	}
	httputil.WriteJSONOK(w, devices)
}

type registerRequest struct {
	IMEI        string `json:"imei"`
	ModemType   string `json:"modemType"`
	CarBrand    string `json:"carBrand"`
	CarModel    string `json:"carModel"`
	PlateNumber string `json:"plateNumber"`
	Notes       string `json:"notes"`
}

func (s *Server) createDevice(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.BadRequest(w, "invalid json body")
		return
	}
	if !validIMEI(req.IMEI) {
		httputil.BadRequest(w, "imei must be 15 digits")
		return
	}

	now := avl.NewTime(time.Now())
	device := &avl.Device{
		IMEI:        req.IMEI,
		Approved:    false,
		ModemType:   req.ModemType,
		CarBrand:    req.CarBrand,
		CarModel:    req.CarModel,
		PlateNumber: req.PlateNumber,
		Notes:       req.Notes,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if device.ModemType == "" {
		device.ModemType = avl.DefaultModemType
	}
	if err := s.store.CreateDevice(r.Context(), device); err != nil {
		writeStoreError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, device)
}

func (s *Server) getDevice(w http.ResponseWriter, r *http.Request) {
	device, ok := s.device(w, r)
	if !ok {
		return
	}
	httputil.WriteJSONOK(w, device)
}

type updateRequest struct {
	ModemType   *string `json:"modemType"`
	CarBrand    *string `json:"carBrand"`
	CarModel    *string `json:"carModel"`
	PlateNumber *string `json:"plateNumber"`
	Notes       *string `json:"notes"`
	PollCommand *string `json:"pollCommand"`
}

func (s *Server) updateDevice(w http.ResponseWriter, r *http.Request) {
	var req updateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.BadRequest(w, "invalid json body")
		return
	}
	device, err := s.store.UpdateDevice(r.Context(), r.PathValue("imei"), store.DeviceUpdate{
		ModemType:   req.ModemType,
		CarBrand:    req.CarBrand,
		CarModel:    req.CarModel,
		PlateNumber: req.PlateNumber,
		Notes:       req.Notes,
		PollCommand: req.PollCommand,
	})
	if err != nil {
		writeStoreError(w, err)
		return
	}
	httputil.WriteJSONOK(w, device)
}

func (s *Server) approveDevice(w http.ResponseWriter, r *http.Request) {
	// Body is optional; an empty body approves.
	approved := true
	var req struct {
		Approved *bool `json:"approved"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		httputil.BadRequest(w, "invalid json body")
		return
	}
	if req.Approved != nil {
		approved = *req.Approved
	}

	imei := r.PathValue("imei")
	if err := s.store.SetApproved(r.Context(), imei, approved); err != nil {
		writeStoreError(w, err)
		return
	}
	httputil.WriteJSONOK(w, map[string]any{"imei": imei, "approved": approved})
}

func (s *Server) deleteDevice(w http.ResponseWriter, r *http.Request) {
	imei := r.PathValue("imei")
	if err := s.store.DeleteDevice(r.Context(), imei); err != nil {
		writeStoreError(w, err)
		return
	}
	httputil.WriteJSONOK(w, map[string]string{"deleted": imei})
}

func validIMEI(s string) bool {
	if len(s) != 15 {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
