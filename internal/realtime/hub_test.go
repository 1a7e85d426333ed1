package realtime

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/net/websocket"

	"github.com/wolfman30/lumen-clinic/internal/changes"
	"github.com/wolfman30/lumen-clinic/pkg/logging"
)

type hubFixture struct {
	broker *MemoryBroker
	server *httptest.Server
	cancel context.CancelFunc
	calls  *atomic.Int32
}

func newHubFixture(t *testing.T, opts ...HubOption) *hubFixture {
	t.Helper()
	calls := &atomic.Int32{}
	reg := NewRegistry()
	reg.Register("patients", Topic{
		Collections: []changes.Collection{changes.Patients},
		Resolve: func(_ context.Context, _ Params) (any, error) {
			n := calls.Add(1)
			return map[string]any{"version": n}, nil
		},
	})
	reg.Register("billing_request", Topic{
		Collections: []changes.Collection{changes.BillingRequests},
		Resolve: func(_ context.Context, p Params) (any, error) {
			vals, err := p.Require("id")
			if err != nil {
				return nil, err
			}
			if vals[0] == "broken" {
				return nil, errors.New("database unavailable")
			}
			return map[string]string{"id": vals[0], "status": "pending"}, nil
		},
	})

	broker := NewMemoryBroker(logging.Default())
	hub := NewHub(reg, broker, logging.Default(), opts...)
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = hub.Run(ctx) }()
	srv := httptest.NewServer(hub)
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	// Give Run a moment to subscribe before tests publish.
	time.Sleep(20 * time.Millisecond)
	return &hubFixture{broker: broker, server: srv, cancel: cancel, calls: calls}
}

func (f *hubFixture) dial(t *testing.T, origin string) *websocket.Conn {
	t.Helper()
	ws, err := websocket.Dial("ws"+strings.TrimPrefix(f.server.URL, "http"), "", origin)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

func next(t *testing.T, ws *websocket.Conn) ServerMessage {
	t.Helper()
	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg ServerMessage
	if err := websocket.JSON.Receive(ws, &msg); err != nil {
		t.Fatalf("receive: %v", err)
	}
	return msg
}

func TestHub_SnapshotAndRefresh(t *testing.T) {
	f := newHubFixture(t)
	ws := f.dial(t, "http://localhost/")

	if err := websocket.JSON.Send(ws, ClientMessage{Action: "subscribe", Topic: "patients"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	first := next(t, ws)
	if first.Type != "snapshot" || first.ID != "patients" {
		t.Fatalf("unexpected first frame %+v", first)
	}

	// Unrelated collections do not refresh the topic.
	_ = f.broker.Publish(context.Background(), changes.New(changes.Payments, changes.OpCreate, "pay-1"))
	_ = f.broker.Publish(context.Background(), changes.New(changes.Patients, changes.OpUpdate, "p-1"))

	refreshed := next(t, ws)
	if refreshed.Type != "snapshot" {
		t.Fatalf("expected refreshed snapshot, got %+v", refreshed)
	}
	data, _ := refreshed.Data.(map[string]any)
	if data["version"] != float64(2) {
		t.Fatalf("expected second resolve, got %v", refreshed.Data)
	}
}

func TestHub_ErrorsDoNotCloseConnection(t *testing.T) {
	f := newHubFixture(t)
	ws := f.dial(t, "http://localhost/")

	_ = websocket.JSON.Send(ws, ClientMessage{Action: "subscribe", Topic: "nope"})
	if msg := next(t, ws); msg.Type != "error" || !strings.Contains(msg.Error, "unknown topic") {
		t.Fatalf("expected unknown topic error, got %+v", msg)
	}

	_ = websocket.JSON.Send(ws, ClientMessage{Action: "subscribe", ID: "req", Topic: "billing_request"})
	if msg := next(t, ws); msg.Type != "error" || !strings.Contains(msg.Error, `"id" is required`) {
		t.Fatalf("expected missing param error, got %+v", msg)
	}

	_ = websocket.JSON.Send(ws, ClientMessage{Action: "subscribe", ID: "req", Topic: "billing_request", Params: Params{"id": "broken"}})
	if msg := next(t, ws); msg.Type != "error" || msg.ID != "req" {
		t.Fatalf("expected resolver error, got %+v", msg)
	}

	_ = websocket.JSON.Send(ws, ClientMessage{Action: "subscribe", ID: "req", Topic: "billing_request", Params: Params{"id": "req-1"}})
	if msg := next(t, ws); msg.Type != "snapshot" || msg.Topic != "billing_request" {
		t.Fatalf("expected snapshot after errors, got %+v", msg)
	}
}

func TestHub_Unsubscribe(t *testing.T) {
	f := newHubFixture(t)
	ws := f.dial(t, "http://localhost/")

	_ = websocket.JSON.Send(ws, ClientMessage{Action: "subscribe", Topic: "patients"})
	next(t, ws)
	_ = websocket.JSON.Send(ws, ClientMessage{Action: "unsubscribe", ID: "patients"})
	if msg := next(t, ws); msg.Type != "unsubscribed" {
		t.Fatalf("expected unsubscribed, got %+v", msg)
	}

	_ = f.broker.Publish(context.Background(), changes.New(changes.Patients, changes.OpUpdate, "p-1"))
	_ = websocket.JSON.Send(ws, ClientMessage{Action: "ping"})
	if msg := next(t, ws); msg.Type != "pong" {
		t.Fatalf("expected pong and no snapshot, got %+v", msg)
	}
	if got := f.calls.Load(); got != 1 {
		t.Fatalf("expected one resolve, got %d", got)
	}
}

func TestHub_RejectsForeignOrigin(t *testing.T) {
	f := newHubFixture(t, WithAllowedOrigins([]string{"https://app.lumen.example"}))
	_, err := websocket.Dial("ws"+strings.TrimPrefix(f.server.URL, "http"), "", "https://evil.example")
	if err == nil {
		t.Fatalf("expected handshake rejection")
	}
}

func TestParamsRequire(t *testing.T) {
	vals, err := Params{"start": "2026-03-01", "end": "2026-03-31"}.Require("start", "end")
	if err != nil || vals[1] != "2026-03-31" {
		t.Fatalf("unexpected %v %v", vals, err)
	}
	var missing MissingParamError
	if _, err := (Params{}).Require("patient_id"); !errors.As(err, &missing) || string(missing) != "patient_id" {
		t.Fatalf("expected MissingParamError, got %v", err)
	}
}

func TestHub_RefreshInFlightDuringUnsubscribeIsDropped(t *testing.T) {
	var calls atomic.Int32
	started := make(chan struct{})
	release := make(chan struct{})
	reg := NewRegistry()
	reg.Register("patients", Topic{
		Collections: []changes.Collection{changes.Patients},
		Resolve: func(_ context.Context, _ Params) (any, error) {
			if calls.Add(1) == 2 {
				close(started)
				<-release
			}
			return map[string]any{"version": calls.Load()}, nil
		},
	})
	broker := NewMemoryBroker(logging.Default())
	hub := NewHub(reg, broker, logging.Default())
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = hub.Run(ctx) }()
	srv := httptest.NewServer(hub)
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	time.Sleep(20 * time.Millisecond)

	ws, err := websocket.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), "", "http://localhost/")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { ws.Close() })

	_ = websocket.JSON.Send(ws, ClientMessage{Action: "subscribe", Topic: "patients"})
	if msg := next(t, ws); msg.Type != "snapshot" {
		t.Fatalf("expected initial snapshot, got %+v", msg)
	}

	_ = broker.Publish(context.Background(), changes.New(changes.Patients, changes.OpUpdate, "p-1"))
	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatalf("refresh never started")
	}

	_ = websocket.JSON.Send(ws, ClientMessage{Action: "unsubscribe", ID: "patients"})
	if msg := next(t, ws); msg.Type != "unsubscribed" {
		t.Fatalf("expected unsubscribed, got %+v", msg)
	}
	close(release)
	// Let the resolver return before the ping so a late snapshot would
	// arrive ahead of the pong.
	time.Sleep(50 * time.Millisecond)

	_ = websocket.JSON.Send(ws, ClientMessage{Action: "ping"})
	if msg := next(t, ws); msg.Type != "pong" {
		t.Fatalf("expected pong and no late snapshot, got %+v", msg)
	}
}
