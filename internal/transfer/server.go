package transfer

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"

	"github.com/tvachon/lanvault/internal/activity"
	"github.com/tvachon/lanvault/internal/device"
	"github.com/tvachon/lanvault/internal/sandbox"
)

// Close codes for terminal download states. Failure is signaled before any
// chunk is produced; a normal closure marks the end of the chunk sequence.
const (
	StatusAccessDenied = websocket.StatusCode(4001)
	StatusNotFound     = websocket.StatusCode(4004)
	StatusInternal     = websocket.StatusCode(4011)
)

// TicketVerifier validates a transfer ticket and returns the device id it
// belongs to. Implemented by the pairing authority.
type TicketVerifier interface {
	VerifyTicket(token string) (string, error)
}

// Result is the upload acknowledgment sent as the final text frame.
type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Server is the transfer-plane listener. Uploads stream binary frames in,
// one frame per chunk, terminated by a text frame; downloads stream binary
// frames out until EOF.
type Server struct {
	Registry *device.Registry
	Tickets  TicketVerifier
	Root     func() string // current storage root
	Limiter  *Limiter
	Record   func(event, deviceID, detail string) // optional activity hook
}

// Handler returns the transfer-plane HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /transfer/upload", s.handleUpload)
	mux.HandleFunc("GET /transfer/download", s.handleDownload)
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true,"plane":"transfer"}`))
	})
	return mux
}

// authorize resolves the ticket and re-checks the registry. Ticket and
// pairing state are both required: a valid ticket for a since-revoked
// device is refused.
func (s *Server) authorize(w http.ResponseWriter, r *http.Request) (string, bool) {
	ticket := r.URL.Query().Get("ticket")
	if ticket == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return "", false
	}
	deviceID, err := s.Tickets.VerifyTicket(ticket)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return "", false
	}
	if !s.Registry.Contains(deviceID) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return "", false
	}
	return deviceID, true
}

func (s *Server) record(event, deviceID, detail string) {
	if s.Record != nil {
		s.Record(event, deviceID, detail)
	}
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	deviceID, ok := s.authorize(w, r)
	if !ok {
		return
	}
	destPath := r.URL.Query().Get("path")
	if destPath == "" {
		http.Error(w, "path is required", http.StatusBadRequest)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Debug("upload accept failed", "err", err)
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(ChunkSize + 1024)

	ctx := r.Context()

	sink, err := NewSink(s.Root(), destPath)
	if err != nil {
		msg := "internal error"
		if errors.Is(err, sandbox.ErrAccessDenied) {
			msg = "access denied"
		}
		s.finishUpload(ctx, conn, Result{Success: false, Message: msg})
		return
	}
	defer sink.Close()

	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			// Remote vanished mid-stream. Partial bytes stay on disk.
			slog.Warn("upload aborted", "device", deviceID, "written", sink.Written(), "err", err)
			return
		}
		if typ == websocket.MessageText {
			// End-of-stream marker: acknowledge and finish.
			if err := sink.Close(); err != nil {
				s.finishUpload(ctx, conn, Result{Success: false, Message: err.Error()})
				return
			}
			slog.Info("upload complete", "device", deviceID, "path", destPath, "bytes", sink.Written())
			s.record(activity.EventUpload, deviceID, destPath)
			s.finishUpload(ctx, conn, Result{Success: true, Message: "upload complete"})
			return
		}

		if err := s.Limiter.Wait(ctx, deviceID, len(data)); err != nil {
			return
		}
		if err := sink.WriteChunk(data); err != nil {
			// Report the failure; whatever was written stays.
			s.finishUpload(ctx, conn, Result{Success: false, Message: err.Error()})
			return
		}
	}
}

func (s *Server) finishUpload(ctx context.Context, conn *websocket.Conn, res Result) {
	data, err := json.Marshal(res)
	if err != nil {
		return
	}
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		slog.Debug("upload result not delivered", "err", err)
	}
	conn.Close(websocket.StatusNormalClosure, "")
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	deviceID, ok := s.authorize(w, r)
	if !ok {
		return
	}
	srcPath := r.URL.Query().Get("path")
	if srcPath == "" {
		http.Error(w, "path is required", http.StatusBadRequest)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Debug("download accept failed", "err", err)
		return
	}
	defer conn.CloseNow()

	ctx := r.Context()

	src, err := OpenSource(s.Root(), srcPath)
	if err != nil {
		switch {
		case errors.Is(err, sandbox.ErrAccessDenied):
			conn.Close(StatusAccessDenied, "access denied")
		case errors.Is(err, ErrNotFound):
			conn.Close(StatusNotFound, "not found")
		default:
			slog.Error("download open failed", "device", deviceID, "err", err)
			conn.Close(StatusInternal, "internal error")
		}
		return
	}
	defer src.Close()

	var sent int64
	for {
		chunk, err := src.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			slog.Error("download read failed", "device", deviceID, "sent", sent, "err", err)
			conn.Close(StatusInternal, "read error")
			return
		}
		if err := s.Limiter.Wait(ctx, deviceID, len(chunk)); err != nil {
			return
		}
		if err := conn.Write(ctx, websocket.MessageBinary, chunk); err != nil {
			slog.Debug("download aborted", "device", deviceID, "sent", sent, "err", err)
			return
		}
		sent += int64(len(chunk))
	}

	slog.Info("download complete", "device", deviceID, "path", srcPath, "bytes", sent)
	s.record(activity.EventDownload, deviceID, srcPath)
	conn.Close(websocket.StatusNormalClosure, "")
}
