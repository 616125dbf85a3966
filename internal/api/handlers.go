package api

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/octera-energy/surplus-manager/internal/core"
)

type coreResponse struct {
	Surplus       float64 `json:"surplus"`
	SurplusMargin float64 `json:"surplus_margin"`
	GridMargin    float64 `json:"grid_margin"`
	IdlePower     float64 `json:"idle_power"`
}

type surplusResponse struct {
	Surplus float64 `json:"surplus"`
}

type consumptionResponse struct {
	Consumption float64 `json:"consumption"`
}

type deviceSnapshotResponse struct {
	Name                string   `json:"name"`
	DeviceType          string   `json:"device_type"`
	ControlIntegration  string   `json:"control_integration"`
	ExpectedConsumption float64  `json:"expected_consumption"`
	MaxConsumption      *float64 `json:"max_consumption,omitempty"`
	Consumption         float64  `json:"consumption"`
	Powered             bool     `json:"powered"`
	Cooldown            *int     `json:"cooldown,omitempty"`
	Enabled             bool     `json:"enabled"`
}

// toDeviceResponse omits max_consumption/cooldown only when the device
// has none configured (core.Snapshot.HasMaxConsumption/HasCooldown), so
// a configured value of zero still round-trips instead of being dropped
// by omitempty on the bare numeric field.
func toDeviceResponse(s core.Snapshot) deviceSnapshotResponse {
	resp := deviceSnapshotResponse{
		Name:                s.Name,
		DeviceType:          string(s.DeviceType),
		ControlIntegration:  s.ControlIntegration,
		ExpectedConsumption: s.ExpectedConsumption,
		Consumption:         s.Consumption,
		Powered:             s.Powered,
		Enabled:             s.Enabled,
	}
	if s.HasMaxConsumption {
		resp.MaxConsumption = &s.MaxConsumption
	}
	if s.HasCooldown {
		resp.Cooldown = &s.Cooldown
	}
	return resp
}

func (s *Server) handleGetCore(w http.ResponseWriter, _ *http.Request) {
	t := s.scheduler.Tunables()
	writeJSON(w, http.StatusOK, coreResponse{
		Surplus:       s.scheduler.Surplus(),
		SurplusMargin: t.SurplusMargin,
		GridMargin:    t.GridMargin,
		IdlePower:     t.IdlePower,
	})
}

func (s *Server) handleGetSurplus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, surplusResponse{Surplus: s.scheduler.Surplus()})
}

func (s *Server) handleGetDevices(w http.ResponseWriter, _ *http.Request) {
	snapshots := s.registry.Snapshots()
	out := make([]deviceSnapshotResponse, 0, len(snapshots))
	for _, snap := range snapshots {
		out = append(out, toDeviceResponse(snap))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	d, ok := s.registry.Get(name)
	if !ok {
		writeError(w, http.StatusNotFound, "device not found")
		return
	}
	writeJSON(w, http.StatusOK, toDeviceResponse(d.Snapshot()))
}

func (s *Server) handleGetDeviceConsumption(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	d, ok := s.registry.Get(name)
	if !ok {
		writeError(w, http.StatusNotFound, "device not found")
		return
	}
	writeJSON(w, http.StatusOK, consumptionResponse{Consumption: d.Snapshot().Consumption})
}

func (s *Server) handleSetSurplusMargin(w http.ResponseWriter, r *http.Request) {
	s.handleSetTunable(w, r, "surplus_margin", s.scheduler.SetSurplusMargin)
}

func (s *Server) handleSetGridMargin(w http.ResponseWriter, r *http.Request) {
	s.handleSetTunable(w, r, "grid_margin", s.scheduler.SetGridMargin)
}

func (s *Server) handleSetIdlePower(w http.ResponseWriter, r *http.Request) {
	s.handleSetTunable(w, r, "idle_power", s.scheduler.SetIdlePower)
}

func (s *Server) handleSetTunable(w http.ResponseWriter, r *http.Request, jsonKey string, apply func(float64)) {
	value, err := decodeNumberField(r, jsonKey)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	apply(value)
	if err := s.store.SetTunable(jsonKey, value); err != nil {
		s.log.Errorf("persisting tunable %s failed: %v", jsonKey, err)
	}

	writeJSON(w, http.StatusOK, map[string]float64{jsonKey: value})
}

// handleSetDeviceField returns a handler bound to one mutable device
// field, keyed by both its JSON request field name and its registry
// field name (identical for every field here, kept distinct for clarity).
func (s *Server) handleSetDeviceField(jsonKey, registryField string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := mux.Vars(r)["name"]
		if _, ok := s.registry.Get(name); !ok {
			writeError(w, http.StatusNotFound, "device not found")
			return
		}

		value, err := decodeNumberField(r, jsonKey)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		if err := s.registry.SetAttribute(name, registryField, value); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		writeJSON(w, http.StatusOK, map[string]float64{jsonKey: value})
	}
}

func decodeNumberField(r *http.Request, key string) (float64, error) {
	var body map[string]float64
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return 0, errMalformedJSON
	}
	value, ok := body[key]
	if !ok {
		return 0, errMissingKeyf(key)
	}
	return value, nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
