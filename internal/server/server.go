// Package server is the control plane: pairing, device management, file
// operations, settings, dashboard stats, and the per-device notification
// channel endpoint.
package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"

	"github.com/tvachon/lanvault/internal/activity"
	"github.com/tvachon/lanvault/internal/broker"
	"github.com/tvachon/lanvault/internal/config"
	"github.com/tvachon/lanvault/internal/device"
	"github.com/tvachon/lanvault/internal/fileops"
	"github.com/tvachon/lanvault/internal/pairing"
	"github.com/tvachon/lanvault/internal/sandbox"
)

// Control-plane status values. Kept verbatim from the protocol existing
// mobile clients already parse.
const (
	statusOK  = "succes"
	statusErr = "erreur"
)

// Server wires the control-plane routes to the core components.
type Server struct {
	settings  *config.Store
	registry  *device.Registry
	authority *pairing.Authority
	broker    *broker.Broker
	activity  *activity.Log

	// OnRootChange is invoked after a settings update moves the storage
	// root (used to re-point the filesystem watcher).
	OnRootChange func(root string) error

	// Launch opens a stored file on the host desktop. Defaults to the
	// platform's default-application opener.
	Launch func(path string) error

	mux *http.ServeMux
}

func New(settings *config.Store, registry *device.Registry, authority *pairing.Authority, b *broker.Broker, log *activity.Log) *Server {
	s := &Server{
		settings:  settings,
		registry:  registry,
		authority: authority,
		broker:    b,
		activity:  log,
		Launch:    launchWithDefaultApp,
	}
	s.mux = http.NewServeMux()
	s.registerRoutes(s.mux)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.handleHealth)

	mux.HandleFunc("GET /api/v1/pairing/code", s.handlePairingCode)
	mux.HandleFunc("POST /api/v1/pairing/complete", s.handlePairingComplete)

	mux.HandleFunc("GET /api/v1/devices", s.handleListDevices)
	mux.HandleFunc("DELETE /api/v1/devices/{id}", s.handleRevokeDevice)

	mux.HandleFunc("GET /api/v1/files/list", s.handleListFiles)
	mux.HandleFunc("DELETE /api/v1/files/delete", s.handleDeleteFile)
	mux.HandleFunc("POST /api/v1/files/rename", s.handleRenameFile)
	mux.HandleFunc("POST /api/v1/files/mkdir", s.handleCreateDir)
	mux.HandleFunc("POST /api/v1/files/open", s.handleOpenFile)

	mux.HandleFunc("GET /api/v1/settings", s.handleGetSettings)
	mux.HandleFunc("POST /api/v1/settings", s.handleUpdateSettings)

	mux.HandleFunc("GET /api/v1/stats", s.handleStats)

	mux.HandleFunc("POST /api/v1/transfer/ticket", s.handleTransferTicket)

	mux.HandleFunc("GET /ws/{device_id}", s.handleChannel)
}

// Lister adapts the file layer for the broker's list_files action, with
// error messages sanitized for the wire.
func Lister(settings *config.Store) broker.ListFunc {
	return func(path string) (any, error) {
		listing, err := fileops.List(settings.StorageRoot(), path)
		if err != nil {
			return nil, errors.New(publicMessage(err))
		}
		return listing, nil
	}
}

// publicMessage maps an operation error to a message safe to hand to a
// device: containment and lookup failures never expose the absolute root.
func publicMessage(err error) string {
	switch {
	case errors.Is(err, sandbox.ErrAccessDenied):
		return "access denied"
	case errors.Is(err, fileops.ErrNotFound):
		return "path not found"
	default:
		return err.Error()
	}
}

func (s *Server) record(event, deviceID, detail string) {
	if s.activity == nil {
		return
	}
	if err := s.activity.Record(event, deviceID, detail); err != nil {
		slog.Warn("activity not recorded", "event", event, "err", err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "plane": "control"})
}

// Pairing

func (s *Server) handlePairingCode(w http.ResponseWriter, r *http.Request) {
	settings := s.settings.Current()
	payload, err := s.authority.DisplayPayload(settings.Network.Port, settings.Network.TransferPort)
	if err != nil {
		writeStatus(w, http.StatusInternalServerError, statusErr, "pairing code unavailable")
		return
	}
	fingerprint, err := s.authority.Fingerprint()
	if err != nil {
		writeStatus(w, http.StatusInternalServerError, statusErr, "pairing code unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"qr_payload":  payload,
		"fingerprint": fingerprint,
	})
}

type pairingRequest struct {
	DeviceID     string `json:"device_id"`
	DeviceName   string `json:"device_name"`
	PublicKeyPEM string `json:"public_key_pem"`
}

func (s *Server) handlePairingComplete(w http.ResponseWriter, r *http.Request) {
	var req pairingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeStatus(w, http.StatusBadRequest, statusErr, "invalid JSON")
		return
	}
	if err := s.authority.CompletePairing(req.DeviceID, req.DeviceName, req.PublicKeyPEM); err != nil {
		writeStatus(w, http.StatusBadRequest, statusErr, err.Error())
		return
	}
	slog.Info("device paired", "device", req.DeviceID, "name", req.DeviceName)
	s.record(activity.EventDevicePaired, req.DeviceID, req.DeviceName)
	writeStatus(w, http.StatusOK, statusOK, "")
}

// Devices

func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.List())
}

func (s *Server) handleRevokeDevice(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !s.registry.Remove(id) {
		writeStatus(w, http.StatusNotFound, statusErr, "unknown device")
		return
	}
	closed := s.broker.RevokeAllForDevice(r.Context(), id, broker.Revoked("device revoked"))
	slog.Info("device revoked", "device", id, "sessions_closed", closed)
	s.record(activity.EventDeviceRevoked, id, "")
	writeStatus(w, http.StatusOK, statusOK, "")
}

// Transfer tickets

type ticketRequest struct {
	DeviceID string `json:"device_id"`
}

func (s *Server) handleTransferTicket(w http.ResponseWriter, r *http.Request) {
	var req ticketRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeStatus(w, http.StatusBadRequest, statusErr, "invalid JSON")
		return
	}
	ticket, err := s.authority.MintTicket(req.DeviceID)
	if err != nil {
		writeStatus(w, http.StatusUnauthorized, statusErr, "device not paired")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": statusOK, "ticket": ticket})
}

// Notification channels

func (s *Server) handleChannel(w http.ResponseWriter, r *http.Request) {
	deviceID := r.PathValue("device_id")

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Debug("channel accept failed", "device", deviceID, "err", err)
		return
	}

	session, err := s.broker.Accept(deviceID, conn)
	if err != nil {
		slog.Info("channel rejected", "device", deviceID)
		return
	}
	s.broker.ServeSession(r.Context(), session)
}

// Helpers

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeStatus(w http.ResponseWriter, code int, status, message string) {
	resp := map[string]string{"status": status}
	if message != "" {
		resp["message"] = message
	}
	writeJSON(w, code, resp)
}
