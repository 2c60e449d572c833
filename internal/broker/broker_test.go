package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/tvachon/lanvault/internal/device"
)

func newTestBroker(lister ListFunc) (*Broker, *device.Registry) {
	registry := device.NewRegistry()
	if lister == nil {
		lister = func(path string) (any, error) {
			return map[string]string{"current_path": path}, nil
		}
	}
	return New(registry, lister), registry
}

func newTestServer(t *testing.T, b *Broker) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		deviceID := r.URL.Query().Get("device")
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		s, err := b.Accept(deviceID, conn)
		if err != nil {
			return
		}
		b.ServeSession(r.Context(), s)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server, deviceID string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := strings.Replace(srv.URL, "http", "ws", 1) + "?device=" + deviceID
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func readResult(t *testing.T, conn *websocket.Conn) Result {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var res Result
	if err := json.Unmarshal(data, &res); err != nil {
		t.Fatalf("unmarshal %q: %v", data, err)
	}
	return res
}

func TestAcceptUnknownDeviceRejected(t *testing.T) {
	b, _ := newTestBroker(nil)
	srv := newTestServer(t, b)

	conn := dial(t, srv, "ghost")
	defer conn.CloseNow()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, _, err := conn.Read(ctx)
	if err == nil {
		t.Fatal("expected channel to be closed for unknown device")
	}
	if websocket.CloseStatus(err) != websocket.StatusPolicyViolation {
		t.Errorf("close status = %v, want policy violation", websocket.CloseStatus(err))
	}
	if b.SessionCount("ghost") != 0 {
		t.Error("rejected channel left a session behind")
	}
}

func TestListFilesRequest(t *testing.T) {
	b, registry := newTestBroker(nil)
	registry.Add(device.Identity{ID: "dev-1", Name: "Phone"})
	srv := newTestServer(t, b)

	conn := dial(t, srv, "dev-1")
	defer conn.CloseNow()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req := `{"action":"list_files","payload":{"path":"/photos"}}`
	if err := conn.Write(ctx, websocket.MessageText, []byte(req)); err != nil {
		t.Fatalf("write: %v", err)
	}

	res := readResult(t, conn)
	if res.Action != ActionFileListResult {
		t.Errorf("action = %q, want %q", res.Action, ActionFileListResult)
	}
	if res.Status != StatusSuccess {
		t.Errorf("status = %q, want %q", res.Status, StatusSuccess)
	}
	data, ok := res.Data.(map[string]any)
	if !ok || data["current_path"] != "/photos" {
		t.Errorf("data = %#v, want current_path=/photos", res.Data)
	}
}

func TestListFilesError(t *testing.T) {
	b, registry := newTestBroker(func(path string) (any, error) {
		return nil, errors.New("access denied")
	})
	registry.Add(device.Identity{ID: "dev-1"})
	srv := newTestServer(t, b)

	conn := dial(t, srv, "dev-1")
	defer conn.CloseNow()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, []byte(`{"action":"list_files"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}

	res := readResult(t, conn)
	if res.Status != StatusError || res.Message != "access denied" {
		t.Errorf("got %+v, want error result with message", res)
	}
}

func TestRevokeAllForDevice(t *testing.T) {
	b, registry := newTestBroker(nil)
	registry.Add(device.Identity{ID: "dev-1"})
	srv := newTestServer(t, b)

	first := dial(t, srv, "dev-1")
	defer first.CloseNow()
	second := dial(t, srv, "dev-1")
	defer second.CloseNow()

	waitFor(t, "two sessions", func() bool { return b.SessionCount("dev-1") == 2 })

	registry.Remove("dev-1")
	closed := b.RevokeAllForDevice(context.Background(), "dev-1", Revoked("device revoked"))
	if closed != 2 {
		t.Errorf("RevokeAllForDevice closed %d sessions, want 2", closed)
	}
	if b.SessionCount("dev-1") != 0 {
		t.Errorf("index still holds %d sessions after revoke", b.SessionCount("dev-1"))
	}

	for i, conn := range []*websocket.Conn{first, second} {
		res := readResult(t, conn)
		if res.Action != ActionRevoked || res.Status != StatusError {
			t.Errorf("conn %d: got %+v, want revoked push", i, res)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_, _, err := conn.Read(ctx)
		cancel()
		if websocket.CloseStatus(err) != StatusRevoked {
			t.Errorf("conn %d: close status = %v, want %v", i, websocket.CloseStatus(err), StatusRevoked)
		}
	}

	// Re-accept after revocation is refused until the device is re-paired.
	conn := dial(t, srv, "dev-1")
	defer conn.CloseNow()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, _, err := conn.Read(ctx); websocket.CloseStatus(err) != websocket.StatusPolicyViolation {
		t.Errorf("post-revoke accept: close status = %v, want policy violation", websocket.CloseStatus(err))
	}
}

func TestRevocationCheckedPerMessage(t *testing.T) {
	b, registry := newTestBroker(nil)
	registry.Add(device.Identity{ID: "dev-1"})
	srv := newTestServer(t, b)

	conn := dial(t, srv, "dev-1")
	defer conn.CloseNow()
	waitFor(t, "session", func() bool { return b.SessionCount("dev-1") == 1 })

	// Revoke without a broadcast; the read loop must catch it on the next
	// inbound message instead of serving it.
	registry.Remove("dev-1")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, []byte(`{"action":"list_files"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}

	res := readResult(t, conn)
	if res.Action != ActionRevoked {
		t.Errorf("got %+v, want revoked push instead of a file listing", res)
	}
	_, _, err := conn.Read(ctx)
	if websocket.CloseStatus(err) != StatusRevoked {
		t.Errorf("close status = %v, want %v", websocket.CloseStatus(err), StatusRevoked)
	}
	waitFor(t, "index cleanup", func() bool { return b.SessionCount("dev-1") == 0 })
}

func TestDisconnectIdempotent(t *testing.T) {
	b, registry := newTestBroker(nil)
	registry.Add(device.Identity{ID: "dev-1"})
	srv := newTestServer(t, b)

	conn := dial(t, srv, "dev-1")
	defer conn.CloseNow()
	waitFor(t, "session", func() bool { return b.SessionCount("dev-1") == 1 })

	sessions := b.snapshotDevice("dev-1")
	if len(sessions) != 1 {
		t.Fatalf("got %d sessions, want 1", len(sessions))
	}
	s := sessions[0]

	b.Disconnect(s)
	b.Disconnect(s) // second call is a no-op
	if b.SessionCount("dev-1") != 0 {
		t.Error("session still indexed after Disconnect")
	}

	if err := b.SendToSession(context.Background(), s, Result{}); !errors.Is(err, ErrChannelDead) {
		t.Errorf("send to disconnected session: err = %v, want ErrChannelDead", err)
	}
}

func TestBroadcastToDevice(t *testing.T) {
	b, registry := newTestBroker(nil)
	registry.Add(device.Identity{ID: "dev-1"})
	registry.Add(device.Identity{ID: "dev-2"})
	srv := newTestServer(t, b)

	one := dial(t, srv, "dev-1")
	defer one.CloseNow()
	two := dial(t, srv, "dev-2")
	defer two.CloseNow()
	waitFor(t, "sessions", func() bool {
		return b.SessionCount("dev-1") == 1 && b.SessionCount("dev-2") == 1
	})

	b.BroadcastToDevice(context.Background(), "dev-1", FSChanged("photos"))

	res := readResult(t, one)
	if res.Action != ActionFSChanged {
		t.Errorf("dev-1 got %+v, want fs_changed", res)
	}

	// dev-2 must not receive the device-scoped broadcast.
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if _, _, err := two.Read(ctx); err == nil {
		t.Error("dev-2 unexpectedly received dev-1's broadcast")
	}
}

func TestManySessionsPerDevice(t *testing.T) {
	b, registry := newTestBroker(nil)
	registry.Add(device.Identity{ID: "dev-1"})
	srv := newTestServer(t, b)

	const n = 5
	conns := make([]*websocket.Conn, 0, n)
	for i := 0; i < n; i++ {
		conn := dial(t, srv, "dev-1")
		defer conn.CloseNow()
		conns = append(conns, conn)
	}
	waitFor(t, fmt.Sprintf("%d sessions", n), func() bool { return b.SessionCount("dev-1") == n })

	b.BroadcastToDevice(context.Background(), "dev-1", FSChanged("/"))
	for i, conn := range conns {
		if res := readResult(t, conn); res.Action != ActionFSChanged {
			t.Errorf("conn %d: got %+v", i, res)
		}
	}
}
