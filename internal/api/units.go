package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/droidpanel-core/internal/logcat"
	"github.com/nerrad567/droidpanel-core/internal/registry"
	"github.com/nerrad567/droidpanel-core/internal/runs"
	"github.com/nerrad567/droidpanel-core/internal/services"
)

// startResponse is returned with 202 by every start endpoint.
type startResponse struct {
	Status     string `json:"status"`
	Key        string `json:"key"`
	OutputDir  string `json:"output_dir,omitempty"`
	MirrorFile string `json:"mirror_file,omitempty"`
	ReadyValue string `json:"ready_value,omitempty"`
}

// stopResponse is returned by every stop endpoint.
type stopResponse struct {
	Status registry.StopResult `json:"status"`
	Key    string              `json:"key"`
}

// outputResponse is returned by every output endpoint.
type outputResponse struct {
	Key        string   `json:"key"`
	Lines      []string `json:"lines"`
	NextOffset int      `json:"next_offset"`
}

// listResponse wraps unit lists.
type listResponse struct {
	Units []registry.UnitStatus `json:"units"`
	Count int                   `json:"count"`
}

// decodeOptional decodes a JSON body, accepting an empty body.
func decodeOptional(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// parseOffset reads the ?offset= query parameter (default 0).
func parseOffset(r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("offset")
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

func writeOutput(w http.ResponseWriter, r *http.Request, key string, drain func(string, int) ([]string, int)) {
	offset, ok := parseOffset(r)
	if !ok {
		writeBadRequest(w, "offset must be a non-negative integer")
		return
	}
	lines, next := drain(key, offset)
	if lines == nil {
		lines = []string{}
	}
	writeJSON(w, http.StatusOK, outputResponse{Key: key, Lines: lines, NextOffset: next})
}

func writeList(w http.ResponseWriter, units []registry.UnitStatus) {
	if units == nil {
		units = []registry.UnitStatus{}
	}
	writeJSON(w, http.StatusOK, listResponse{Units: units, Count: len(units)})
}

// ─── Logcat ────────────────────────────────────────────────────────

func (s *Server) handleListLogcat(w http.ResponseWriter, _ *http.Request) {
	writeList(w, s.logcat.List())
}

func (s *Server) handleStartLogcat(w http.ResponseWriter, r *http.Request) {
	var req logcat.StartRequest
	if err := decodeOptional(r, &req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	req.Device = chi.URLParam(r, "device")

	if err := s.logcat.Start(r.Context(), req); err != nil {
		s.writeUnitError(w, r, err)
		return
	}
	st := s.logcat.Status(req.Device)
	writeJSON(w, http.StatusAccepted, startResponse{
		Status:     "started",
		Key:        req.Device,
		MirrorFile: st.MirrorFile,
	})
}

func (s *Server) handleStopLogcat(w http.ResponseWriter, r *http.Request) {
	device := chi.URLParam(r, "device")
	writeJSON(w, http.StatusOK, stopResponse{Status: s.logcat.Stop(device), Key: device})
}

func (s *Server) handleLogcatStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.logcat.Status(chi.URLParam(r, "device")))
}

func (s *Server) handleLogcatOutput(w http.ResponseWriter, r *http.Request) {
	writeOutput(w, r, chi.URLParam(r, "device"), s.logcat.Output)
}

// ─── Runs ──────────────────────────────────────────────────────────

func (s *Server) handleListRuns(w http.ResponseWriter, _ *http.Request) {
	writeList(w, s.runs.List())
}

func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	var req runs.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	started, err := s.runs.Start(r.Context(), req)
	if err != nil {
		s.writeUnitError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, startResponse{
		Status:     "started",
		Key:        started.RunID,
		OutputDir:  started.OutputDir,
		MirrorFile: started.MirrorFile,
	})
}

func (s *Server) handleStopRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	writeJSON(w, http.StatusOK, stopResponse{Status: s.runs.Stop(id), Key: id})
}

func (s *Server) handleRunStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.runs.Status(chi.URLParam(r, "id")))
}

func (s *Server) handleRunOutput(w http.ResponseWriter, r *http.Request) {
	writeOutput(w, r, chi.URLParam(r, "id"), s.runs.Output)
}

// ─── Services ──────────────────────────────────────────────────────

// serviceEntry pairs a configured service with its live status.
type serviceEntry struct {
	Name   string              `json:"name"`
	Status registry.UnitStatus `json:"status"`
}

func (s *Server) handleListServices(w http.ResponseWriter, _ *http.Request) {
	names := s.services.Names()
	out := make([]serviceEntry, 0, len(names))
	for _, name := range names {
		out = append(out, serviceEntry{Name: name, Status: s.services.Status(name)})
	}
	writeJSON(w, http.StatusOK, map[string]any{"services": out, "count": len(out)})
}

func (s *Server) handleStartService(w http.ResponseWriter, r *http.Request) {
	var req services.StartRequest
	if err := decodeOptional(r, &req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	req.Name = chi.URLParam(r, "name")

	started, err := s.services.Start(r.Context(), req)
	if err != nil {
		s.writeUnitError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, startResponse{
		Status:     "started",
		Key:        started.Name,
		ReadyValue: started.ReadyValue,
	})
}

func (s *Server) handleStopService(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	writeJSON(w, http.StatusOK, stopResponse{Status: s.services.Stop(name), Key: name})
}

func (s *Server) handleServiceStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.services.Status(chi.URLParam(r, "name")))
}

func (s *Server) handleServiceOutput(w http.ResponseWriter, r *http.Request) {
	writeOutput(w, r, chi.URLParam(r, "name"), s.services.Output)
}
