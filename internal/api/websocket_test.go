package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/nerrad567/gray-logic-zones/internal/auth"
	"github.com/nerrad567/gray-logic-zones/internal/enforcer"
	"github.com/nerrad567/gray-logic-zones/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-zones/internal/zone"
)

func dialWS(t *testing.T, server *httptest.Server, query string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/api/v1/ws?" + query
	return websocket.DefaultDialer.Dial(url, nil)
}

// readUntil reads messages until one satisfies match or the deadline passes.
func readUntil(t *testing.T, conn *websocket.Conn, match func(WSMessage) bool) WSMessage {
	t.Helper()
	//nolint:errcheck // Test deadline
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("ReadMessage() error = %v", err)
		}
		var msg WSMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("invalid message %s: %v", data, err)
		}
		if match(msg) {
			return msg
		}
	}
}

func subscribe(t *testing.T, conn *websocket.Conn, channels ...string) WSMessage {
	t.Helper()
	return subscribeKeys(t, conn, WSSubscribePayload{Channels: channels})
}

func subscribeKeys(t *testing.T, conn *websocket.Conn, req WSSubscribePayload) WSMessage {
	t.Helper()
	if err := conn.WriteJSON(WSMessage{Type: WSTypeSubscribe, ID: "sub-1", Payload: req}); err != nil {
		t.Fatal(err)
	}
	return readUntil(t, conn, func(m WSMessage) bool {
		return m.ID == "sub-1" && (m.Type == WSTypeResponse || m.Type == WSTypeError)
	})
}

func isEvent(channel string) func(WSMessage) bool {
	return func(m WSMessage) bool { return m.Type == WSTypeEvent && m.EventType == channel }
}

func TestWebSocket_RejectsUnauthenticated(t *testing.T) {
	f := newFixture(t, nil)
	server := httptest.NewServer(f.handler)
	defer server.Close()

	for _, query := range []string{"", "ticket=bogus", "token=bogus"} {
		_, resp, err := dialWS(t, server, query)
		if err == nil {
			t.Fatalf("query %q: dial succeeded", query)
		}
		if resp == nil || resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("query %q: response = %v, want 401", query, resp)
		}
	}
}

func TestWebSocket_TicketAndZoneBroadcast(t *testing.T) {
	f := newFixture(t, nil)
	server := httptest.NewServer(f.handler)
	defer server.Close()

	req, _ := http.NewRequest(http.MethodPost, server.URL+"/api/v1/auth/ws-ticket", nil)
	req.Header.Set("Authorization", "Bearer "+tokenFor(t, auth.RoleViewer))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	var ticket struct {
		Ticket string `json:"ticket"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&ticket); err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	conn, _, err := dialWS(t, server, "ticket="+ticket.Ticket)
	if err != nil {
		t.Fatalf("dial error = %v", err)
	}
	defer conn.Close()

	if ack := subscribe(t, conn, ChannelZoneState); ack.Type != WSTypeResponse {
		t.Fatalf("subscribe ack = %+v", ack)
	}

	rec := f.do(t, http.MethodPost, "/api/v1/controllers/hall/events", auth.RoleOperator, `{"type":"movement"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("event status = %d", rec.Code)
	}

	msg := readUntil(t, conn, isEvent(ChannelZoneState))
	payload, _ := msg.Payload.(map[string]any)
	if payload["controller"] != "hall" || payload["to"] != "auto_on" || payload["from"] != "off" {
		t.Errorf("payload = %v", payload)
	}

	// The ticket is single-use.
	if _, _, err := dialWS(t, server, "ticket="+ticket.Ticket); err == nil {
		t.Error("ticket accepted twice")
	}
}

func TestWebSocket_TokenQueryAndChannelErrors(t *testing.T) {
	f := newFixture(t, nil)
	server := httptest.NewServer(f.handler)
	defer server.Close()

	conn, _, err := dialWS(t, server, "token="+tokenFor(t, auth.RoleViewer))
	if err != nil {
		t.Fatalf("dial error = %v", err)
	}
	defer conn.Close()

	if ack := subscribe(t, conn, "device.state_changed"); ack.Type != WSTypeError {
		t.Errorf("unknown channel ack = %+v, want error", ack)
	}

	if err := conn.WriteJSON(WSMessage{Type: WSTypePing, ID: "p-1"}); err != nil {
		t.Fatal(err)
	}
	if pong := readUntil(t, conn, func(m WSMessage) bool { return m.ID == "p-1" }); pong.Type != WSTypePong {
		t.Errorf("ping reply = %+v", pong)
	}

	if ack := subscribe(t, conn, ChannelEnforcerStatus); ack.Type != WSTypeResponse {
		t.Fatalf("subscribe ack = %+v", ack)
	}
	f.do(t, http.MethodPost, "/api/v1/enforcers/light.hall/command", auth.RoleOperator, `{"service":"light.turn_on","state":"on"}`)

	msg := readUntil(t, conn, isEvent(ChannelEnforcerStatus))
	if payload, _ := msg.Payload.(map[string]any); payload["entity_id"] != "light.hall" {
		t.Errorf("payload = %v", msg.Payload)
	}
}

func TestWebSocket_SnapshotAndKeyFilter(t *testing.T) {
	f := newFixture(t, nil)
	server := httptest.NewServer(f.handler)
	defer server.Close()

	conn, _, err := dialWS(t, server, "token="+tokenFor(t, auth.RoleViewer))
	if err != nil {
		t.Fatalf("dial error = %v", err)
	}
	defer conn.Close()

	ack := subscribeKeys(t, conn, WSSubscribePayload{Channels: []string{ChannelZoneState}, Keys: []string{"cellar"}})
	if ack.Type != WSTypeResponse {
		t.Fatalf("subscribe ack = %+v", ack)
	}

	snap := readUntil(t, conn, func(m WSMessage) bool { return m.Type == WSTypeSnapshot })
	if snap.EventType != ChannelZoneState {
		t.Errorf("snapshot event_type = %q", snap.EventType)
	}
	items, _ := snap.Payload.([]any)
	if len(items) != 1 {
		t.Fatalf("snapshot = %v, want only cellar", snap.Payload)
	}
	if view, _ := items[0].(map[string]any); view["name"] != "cellar" || view["state"] != "off" {
		t.Errorf("snapshot item = %v", items[0])
	}

	// The hall transition is filtered out.
	if rec := f.do(t, http.MethodPost, "/api/v1/controllers/hall/events", auth.RoleOperator, `{"type":"movement"}`); rec.Code != http.StatusOK {
		t.Fatalf("event status = %d", rec.Code)
	}
	//nolint:errcheck // Test deadline
	conn.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	if _, data, err := conn.ReadMessage(); err == nil {
		t.Errorf("unexpected message %s", data)
	}
}

func TestWebSocket_SubscribeErrors(t *testing.T) {
	f := newFixture(t, nil)
	server := httptest.NewServer(f.handler)
	defer server.Close()

	conn, _, err := dialWS(t, server, "token="+tokenFor(t, auth.RoleViewer))
	if err != nil {
		t.Fatalf("dial error = %v", err)
	}
	defer conn.Close()

	if ack := subscribeKeys(t, conn, WSSubscribePayload{}); ack.Type != WSTypeError {
		t.Errorf("empty subscribe ack = %+v, want error", ack)
	}
	if err := conn.WriteMessage(websocket.TextMessage, []byte("{")); err != nil {
		t.Fatal(err)
	}
	msg := readUntil(t, conn, func(m WSMessage) bool { return m.Type == WSTypeError && m.ID == "" })
	if payload, _ := msg.Payload.(map[string]any); payload["message"] != "invalid JSON message" {
		t.Errorf("error payload = %v", msg.Payload)
	}
}

func TestHub_BroadcastOnlyToSubscribers(t *testing.T) {
	hub := NewHub(logging.Default())

	all := &WSClient{hub: hub, send: make(chan []byte, 4), subscriptions: map[string]filter{ChannelZoneState: nil}}
	hallOnly := &WSClient{hub: hub, send: make(chan []byte, 4), subscriptions: map[string]filter{ChannelZoneState: newFilter([]string{"hall"})}}
	other := &WSClient{hub: hub, send: make(chan []byte, 4), subscriptions: map[string]filter{}}
	for _, c := range []*WSClient{all, hallOnly, other} {
		hub.Register(c)
	}

	hub.BroadcastTransition(zone.Transition{Controller: "hall"})
	hub.BroadcastTransition(zone.Transition{Controller: "cellar"})

	if len(all.send) != 2 {
		t.Errorf("unfiltered subscriber got %d messages, want 2", len(all.send))
	}
	if len(hallOnly.send) != 1 {
		t.Errorf("filtered subscriber got %d messages, want 1", len(hallOnly.send))
	}
	if len(other.send) != 0 {
		t.Error("non-subscriber received broadcast")
	}

	hub.Unregister(all)
	hub.Unregister(all)
	if hub.ClientCount() != 2 {
		t.Errorf("ClientCount() = %d, want 2", hub.ClientCount())
	}
}

func TestHub_CountsDroppedMessages(t *testing.T) {
	hub := NewHub(logging.Default())
	slow := &WSClient{hub: hub, send: make(chan []byte, 1), subscriptions: map[string]filter{ChannelEnforcerStatus: nil}}
	hub.Register(slow)

	before := testutil.ToFloat64(wsDropped.WithLabelValues(ChannelEnforcerStatus))
	hub.BroadcastEnforcerStatus(enforcer.Status{EntityID: "light.hall"})
	hub.BroadcastEnforcerStatus(enforcer.Status{EntityID: "light.hall"})

	if got := testutil.ToFloat64(wsDropped.WithLabelValues(ChannelEnforcerStatus)) - before; got != 1 {
		t.Errorf("dropped = %v, want 1", got)
	}

	// Sending to an unregistered client is a drop, not a panic.
	hub.Unregister(slow)
	if slow.trySend([]byte("x")) {
		t.Error("trySend() on closed client = true")
	}
}
