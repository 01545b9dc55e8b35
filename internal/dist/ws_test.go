package dist

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"marketflow/internal/model"
)

// Full path: HTTP upgrade, READY handshake, broadcast, STATUS round-trip,
// disconnect cleanup.
func TestWebSocketEndToEnd(t *testing.T) {
	h := newTestHub(t, DefaultConfig())
	h.SetRunner(&fakeRunner{})
	srv := httptest.NewServer(http.HandlerFunc(h.ServeWS))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	waitFor(t, "registration", func() bool { return h.Stats().Clients == 1 })

	// Published before READY: buffered, not delivered.
	h.Publish(candleEvent(1))
	waitFor(t, "pending buffer", func() bool { return h.Stats().Pending == 1 })

	if err := conn.WriteMessage(websocket.TextMessage, []byte("READY")); err != nil {
		t.Fatalf("send READY: %v", err)
	}
	waitFor(t, "readiness", func() bool { return h.Stats().Ready == 1 })

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, buf, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read backlog: %v", err)
	}
	frames := parseFrames(t, buf)
	if len(frames) != 1 || frames[0].EventType != "candle" || frames[0].Seq != 1 {
		t.Fatalf("backlog frames: %+v", frames)
	}

	// Live broadcast after READY.
	h.Publish(model.NewAnalysisEvent(model.PhaseLive, model.AnalysisSnapshot{TS: 120_000}))
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, buf, err = conn.ReadMessage()
	if err != nil {
		t.Fatalf("read broadcast: %v", err)
	}
	if frames = parseFrames(t, buf); frames[0].EventType != "analysis" || frames[0].Seq != 2 {
		t.Fatalf("broadcast frame: %+v", frames[0])
	}

	// Control round-trip on the same socket.
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"cmd":"STATUS"}`)); err != nil {
		t.Fatalf("send STATUS: %v", err)
	}
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, buf, err = conn.ReadMessage()
	if err != nil {
		t.Fatalf("read status: %v", err)
	}
	if frames = parseFrames(t, buf); frames[0].EventType != "status" {
		t.Fatalf("status frame: %+v", frames[0])
	}

	conn.Close()
	waitFor(t, "disconnect cleanup", func() bool { return h.Stats().Clients == 0 })
}
