// Package broker multiplexes live notification channels per paired device
// and enforces revocation across all of a device's channels.
package broker

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/tvachon/lanvault/internal/device"
)

// StatusRevoked is the close code sent when a device is revoked mid-session.
const StatusRevoked = websocket.StatusCode(4003)

var (
	// ErrRejected means the channel was refused at accept time because the
	// device is not paired.
	ErrRejected = errors.New("channel rejected: unknown device")

	// ErrChannelDead means a send hit a closed or broken channel.
	ErrChannelDead = errors.New("channel dead")
)

// ListFunc answers a list_files request. Wired to the file layer by the
// composition root so the broker stays transport-only.
type ListFunc func(path string) (any, error)

// Session is one live notification channel for one paired device. Many
// sessions may share a device id. The session holds only its own identity;
// all index removal goes through the broker.
type Session struct {
	ID       string
	DeviceID string

	conn   *websocket.Conn
	mu     sync.Mutex // serializes writes
	closed bool
}

func (s *Session) close(code websocket.StatusCode, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.conn.Close(code, reason)
}

// Broker tracks every live session and a device-id index over them.
type Broker struct {
	registry *device.Registry
	lister   ListFunc

	mu       sync.RWMutex
	sessions map[string]*Session            // session id -> session
	byDevice map[string]map[string]*Session // device id -> session id -> session
}

func New(registry *device.Registry, lister ListFunc) *Broker {
	return &Broker{
		registry: registry,
		lister:   lister,
		sessions: make(map[string]*Session),
		byDevice: make(map[string]map[string]*Session),
	}
}

// Accept admits a channel for deviceID. The device must be paired at accept
// time; otherwise the connection is closed and ErrRejected returned.
func (b *Broker) Accept(deviceID string, conn *websocket.Conn) (*Session, error) {
	if !b.registry.Contains(deviceID) {
		conn.Close(websocket.StatusPolicyViolation, "unknown device")
		return nil, ErrRejected
	}

	s := &Session{
		ID:       uuid.New().String(),
		DeviceID: deviceID,
		conn:     conn,
	}

	b.mu.Lock()
	b.sessions[s.ID] = s
	set, ok := b.byDevice[deviceID]
	if !ok {
		set = make(map[string]*Session)
		b.byDevice[deviceID] = set
	}
	set[s.ID] = s
	b.mu.Unlock()

	slog.Debug("session accepted", "session", s.ID, "device", deviceID)
	return s, nil
}

// remove detaches s from both indices. Safe to call repeatedly.
func (b *Broker) remove(s *Session) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.sessions[s.ID]; !ok {
		return
	}
	delete(b.sessions, s.ID)
	if set, ok := b.byDevice[s.DeviceID]; ok {
		delete(set, s.ID)
		if len(set) == 0 {
			delete(b.byDevice, s.DeviceID)
		}
	}
}

// Disconnect removes s from the indices and closes its channel. Idempotent.
func (b *Broker) Disconnect(s *Session) {
	b.remove(s)
	s.close(websocket.StatusNormalClosure, "")
}

// SendToSession marshals v and writes it to the session's channel.
func (b *Broker) SendToSession(ctx context.Context, s *Session, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrChannelDead
	}
	if err := s.conn.Write(ctx, websocket.MessageText, data); err != nil {
		return errors.Join(ErrChannelDead, err)
	}
	return nil
}

// BroadcastToDevice sends v to every live session of deviceID, best effort.
func (b *Broker) BroadcastToDevice(ctx context.Context, deviceID string, v any) {
	for _, s := range b.snapshotDevice(deviceID) {
		if err := b.SendToSession(ctx, s, v); err != nil {
			slog.Debug("broadcast send failed", "session", s.ID, "err", err)
		}
	}
}

// BroadcastAll sends v to every live session of every device, best effort.
func (b *Broker) BroadcastAll(ctx context.Context, v any) {
	b.mu.RLock()
	all := make([]*Session, 0, len(b.sessions))
	for _, s := range b.sessions {
		all = append(all, s)
	}
	b.mu.RUnlock()

	for _, s := range all {
		if err := b.SendToSession(ctx, s, v); err != nil {
			slog.Debug("broadcast send failed", "session", s.ID, "err", err)
		}
	}
}

// RevokeAllForDevice force-closes every live session of deviceID after a
// best-effort delivery of closeMsg. Send failures never block closure. When
// this returns, no session for deviceID remains in the index. Returns the
// number of sessions closed.
func (b *Broker) RevokeAllForDevice(ctx context.Context, deviceID string, closeMsg any) int {
	targets := b.snapshotDevice(deviceID)
	for _, s := range targets {
		if err := b.SendToSession(ctx, s, closeMsg); err != nil {
			slog.Debug("revocation notice not delivered", "session", s.ID, "err", err)
		}
		b.remove(s)
		s.close(StatusRevoked, "device revoked")
	}
	if len(targets) > 0 {
		slog.Info("sessions revoked", "device", deviceID, "count", len(targets))
	}
	return len(targets)
}

// SessionCount returns the number of live sessions for deviceID.
func (b *Broker) SessionCount(deviceID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.byDevice[deviceID])
}

func (b *Broker) snapshotDevice(deviceID string) []*Session {
	b.mu.RLock()
	defer b.mu.RUnlock()
	set := b.byDevice[deviceID]
	out := make([]*Session, 0, len(set))
	for _, s := range set {
		out = append(out, s)
	}
	return out
}

// ServeSession runs the channel's receive loop until disconnect, read
// failure, or revocation. Before processing each inbound message the device
// is re-checked against the registry, which bridges the gap between the
// asynchronous revocation broadcast and this loop.
func (b *Broker) ServeSession(ctx context.Context, s *Session) {
	defer b.Disconnect(s)

	for {
		typ, data, err := s.conn.Read(ctx)
		if err != nil {
			slog.Debug("session closed", "session", s.ID, "err", err)
			return
		}
		if typ != websocket.MessageText {
			continue
		}

		if !b.registry.Contains(s.DeviceID) {
			if err := b.SendToSession(ctx, s, Revoked("device revoked")); err != nil {
				slog.Debug("revocation notice not delivered", "session", s.ID, "err", err)
			}
			b.remove(s)
			s.close(StatusRevoked, "device revoked")
			return
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			slog.Debug("unparseable message dropped", "session", s.ID, "err", err)
			continue
		}

		switch env.Action {
		case ActionListFiles:
			var p ListFilesPayload
			if len(env.Payload) > 0 {
				if err := json.Unmarshal(env.Payload, &p); err != nil {
					p.Path = ""
				}
			}
			if p.Path == "" {
				p.Path = "/"
			}

			resp := Result{Action: ActionFileListResult}
			if data, err := b.lister(p.Path); err != nil {
				resp.Status = StatusError
				resp.Message = err.Error()
			} else {
				resp.Status = StatusSuccess
				resp.Data = data
			}
			if err := b.SendToSession(ctx, s, resp); err != nil {
				return
			}

		default:
			slog.Debug("unknown action ignored", "session", s.ID, "action", env.Action)
		}
	}
}
