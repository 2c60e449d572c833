package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/tvachon/lanvault/internal/activity"
	"github.com/tvachon/lanvault/internal/config"
	"github.com/tvachon/lanvault/internal/diskstat"
	"github.com/tvachon/lanvault/internal/fileops"
	"github.com/tvachon/lanvault/internal/sandbox"
)

// statusCode maps an operation error to the HTTP code of its envelope.
func statusCode(err error) int {
	switch {
	case errors.Is(err, sandbox.ErrAccessDenied):
		return http.StatusForbidden
	case errors.Is(err, fileops.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		path = "/"
	}
	listing, err := fileops.List(s.settings.StorageRoot(), path)
	if err != nil {
		writeStatus(w, statusCode(err), statusErr, publicMessage(err))
		return
	}
	writeJSON(w, http.StatusOK, listing)
}

func (s *Server) handleDeleteFile(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		writeStatus(w, http.StatusBadRequest, statusErr, "path is required")
		return
	}
	if err := fileops.Delete(s.settings.StorageRoot(), path); err != nil {
		writeStatus(w, statusCode(err), statusErr, publicMessage(err))
		return
	}
	slog.Info("deleted", "path", path)
	s.record(activity.EventDelete, "", path)
	writeStatus(w, http.StatusOK, statusOK, "")
}

type renameRequest struct {
	Source      string `json:"source"`
	Destination string `json:"destination"`
}

func (s *Server) handleRenameFile(w http.ResponseWriter, r *http.Request) {
	var req renameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeStatus(w, http.StatusBadRequest, statusErr, "invalid JSON")
		return
	}
	if req.Source == "" || req.Destination == "" {
		writeStatus(w, http.StatusBadRequest, statusErr, "source and destination are required")
		return
	}
	if err := fileops.Rename(s.settings.StorageRoot(), req.Source, req.Destination); err != nil {
		writeStatus(w, statusCode(err), statusErr, publicMessage(err))
		return
	}
	slog.Info("renamed", "source", req.Source, "destination", req.Destination)
	s.record(activity.EventRename, "", req.Source+" -> "+req.Destination)
	writeStatus(w, http.StatusOK, statusOK, "")
}

type mkdirRequest struct {
	Path string `json:"path"`
}

func (s *Server) handleCreateDir(w http.ResponseWriter, r *http.Request) {
	var req mkdirRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeStatus(w, http.StatusBadRequest, statusErr, "invalid JSON")
		return
	}
	if req.Path == "" {
		writeStatus(w, http.StatusBadRequest, statusErr, "path is required")
		return
	}
	if err := fileops.CreateDir(s.settings.StorageRoot(), req.Path); err != nil {
		writeStatus(w, statusCode(err), statusErr, publicMessage(err))
		return
	}
	writeStatus(w, http.StatusOK, statusOK, "")
}

type openRequest struct {
	Path string `json:"path"`
}

// handleOpenFile opens a stored file with the host desktop's default
// application. The path is accepted in the body or as a query parameter.
func (s *Server) handleOpenFile(w http.ResponseWriter, r *http.Request) {
	var req openRequest
	if r.Body != nil {
		json.NewDecoder(r.Body).Decode(&req)
	}
	if req.Path == "" {
		req.Path = r.URL.Query().Get("path")
	}
	if req.Path == "" {
		writeStatus(w, http.StatusBadRequest, statusErr, "path is required")
		return
	}
	resolved, err := fileops.Locate(s.settings.StorageRoot(), req.Path)
	if err != nil {
		writeStatus(w, statusCode(err), statusErr, publicMessage(err))
		return
	}
	if err := s.Launch(resolved); err != nil {
		slog.Warn("open failed", "path", req.Path, "err", err)
		writeStatus(w, http.StatusInternalServerError, statusErr, "could not open file")
		return
	}
	slog.Info("opened on host", "path", req.Path)
	writeStatus(w, http.StatusOK, statusOK, "")
}

// Settings

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.settings.Current())
}

func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var next config.Settings
	if err := json.NewDecoder(r.Body).Decode(&next); err != nil {
		writeStatus(w, http.StatusBadRequest, statusErr, "invalid JSON")
		return
	}
	previousRoot := s.settings.StorageRoot()
	if err := s.settings.Update(next); err != nil {
		writeStatus(w, http.StatusBadRequest, statusErr, err.Error())
		return
	}
	if next.Storage.Root != previousRoot && s.OnRootChange != nil {
		if err := s.OnRootChange(next.Storage.Root); err != nil {
			slog.Warn("watcher not retargeted", "root", next.Storage.Root, "err", err)
		}
	}
	slog.Info("settings updated", "root", next.Storage.Root)
	writeStatus(w, http.StatusOK, statusOK, "")
}

// Dashboard stats

type storageStats struct {
	UsedGB  float64 `json:"used_gb"`
	TotalGB float64 `json:"total_gb"`
}

type deviceStatus struct {
	DeviceID string `json:"device_id"`
	Name     string `json:"name"`
	Sessions int    `json:"sessions"`
	Status   string `json:"status"` // "active" when it has a live channel
}

type statsResponse struct {
	Storage          storageStats     `json:"storage"`
	ConnectedDevices []deviceStatus   `json:"connected_devices"`
	RecentActivity   []activity.Entry `json:"recent_activity"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	resp := statsResponse{
		ConnectedDevices: []deviceStatus{},
		RecentActivity:   []activity.Entry{},
	}

	if usage, err := diskstat.Stat(s.settings.StorageRoot()); err == nil {
		resp.Storage = storageStats{
			UsedGB:  diskstat.GiB(usage.UsedBytes),
			TotalGB: diskstat.GiB(usage.TotalBytes),
		}
	} else {
		slog.Debug("disk usage unavailable", "err", err)
	}

	for _, identity := range s.registry.List() {
		status := "paired"
		n := s.broker.SessionCount(identity.ID)
		if n > 0 {
			status = "active"
		}
		resp.ConnectedDevices = append(resp.ConnectedDevices, deviceStatus{
			DeviceID: identity.ID,
			Name:     identity.Name,
			Sessions: n,
			Status:   status,
		})
	}

	if s.activity != nil {
		if entries, err := s.activity.Recent(20); err == nil {
			resp.RecentActivity = entries
		}
	}

	writeJSON(w, http.StatusOK, resp)
}
