package bridge

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/HerbHall/keepalive/internal/testutil"
	"github.com/HerbHall/keepalive/pkg/plugin"
)

func dialHub(t *testing.T, hub *Hub) (*websocket.Conn, context.Context) {
	t.Helper()
	m := NewModule(hub)
	if err := m.Init(context.Background(), plugin.Dependencies{Logger: testutil.Logger()}); err != nil {
		t.Fatalf("Init: %v", err)
	}

	srv := httptest.NewServer(m.Routes()[0].Handler)
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return conn, ctx
}

func TestWebSocket_StartCommand(t *testing.T) {
	hub, ctrl, _, _ := newTestHub(t)
	conn, ctx := dialHub(t, hub)

	if err := wsjson.Write(ctx, conn, Envelope{
		ID:        "req-1",
		Method:    MethodStart,
		Arguments: json.RawMessage(`{"handle": "sync", "is_foreground_mode": false}`),
	}); err != nil {
		t.Fatalf("write: %v", err)
	}

	var res Result
	if err := wsjson.Read(ctx, conn, &res); err != nil {
		t.Fatalf("read: %v", err)
	}
	if want := (Result{ID: "req-1", Success: true}); res != want {
		t.Errorf("result = %+v, want %+v", res, want)
	}

	ctrl.mu.Lock()
	defer ctrl.mu.Unlock()
	if len(ctrl.registered) != 1 {
		t.Fatalf("registrations = %d, want 1", len(ctrl.registered))
	}
	if got := ctrl.registered[0]; got.ID != "sync" || got.Foreground {
		t.Errorf("registered %+v, want sync in background mode", got)
	}
	if ctrl.runs != 1 {
		t.Errorf("run requests = %d, want 1", ctrl.runs)
	}
}

func TestWebSocket_UnknownMethod(t *testing.T) {
	hub, _, _, _ := newTestHub(t)
	conn, ctx := dialHub(t, hub)

	if err := wsjson.Write(ctx, conn, Envelope{ID: "x", Method: "reboot"}); err != nil {
		t.Fatalf("write: %v", err)
	}

	var res Result
	if err := wsjson.Read(ctx, conn, &res); err != nil {
		t.Fatalf("read: %v", err)
	}
	if res.Success || res.Code != CodeNotImplemented {
		t.Errorf("result = %+v, want failure with code %q", res, CodeNotImplemented)
	}
}

func TestWebSocket_ReceivesTaskData(t *testing.T) {
	hub, _, _, _ := newTestHub(t)
	conn, ctx := dialHub(t, hub)
	port := hub.Attach("exec-1")

	// The subscription is registered after the handshake; wait for it.
	testutil.Eventually(t, 2*time.Second, func() bool { return hub.Clients() == 1 }, "client subscribed")

	if err := port.SendData(ctx, map[string]string{"status": "synced"}); err != nil {
		t.Fatalf("SendData: %v", err)
	}

	var env Envelope
	if err := wsjson.Read(ctx, conn, &env); err != nil {
		t.Fatalf("read: %v", err)
	}
	if env.Method != MethodReceiveData {
		t.Errorf("method = %q, want %q", env.Method, MethodReceiveData)
	}
	if !sameJSON(t, `{"status": "synced"}`, string(env.Arguments)) {
		t.Errorf("arguments = %s", env.Arguments)
	}
}

func TestModule_Health(t *testing.T) {
	hub, _, _, _ := newTestHub(t)
	m := NewModule(hub)

	h := m.Health(context.Background())
	if h.Status != plugin.HealthOK || h.Details["task_attached"] != "false" {
		t.Errorf("Health() = %+v, want ok with no task attached", h)
	}

	hub.Attach("exec-1")
	if got := m.Health(context.Background()).Details["task_attached"]; got != "true" {
		t.Errorf("task_attached = %q, want true", got)
	}
}
