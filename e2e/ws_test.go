package e2e

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/fasthttp/websocket"

	"github.com/narrately/api/internal/model"
	"github.com/narrately/api/internal/service"
	"github.com/narrately/api/pkg/renderclient"
)

func dial(t *testing.T, baseURL, stream string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(baseURL, "http") + "/ws/jobs/" + stream
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestWebSocket_StreamsActivityEvents(t *testing.T) {
	ta := setupApp(t, appOptions{})
	rc := ta.client(t, "e2e-ws")
	conn := dial(t, ta.serve(t), service.PreviewStream)

	deadline := time.Now().Add(2 * time.Second)
	for ta.hub.Subscribers(service.PreviewStream) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("subscriber never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if _, err := rc.PreviewTTS(context.Background(), renderclient.PreviewRequest{Text: "Listen closely."}); err != nil {
		t.Fatalf("preview failed: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("no event received: %v", err)
		}
		var msg model.WSEventMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("bad message %s: %v", data, err)
		}
		if msg.Type != model.WSMessageTypeEvent {
			continue
		}
		if msg.Event.EventType == model.EventPreviewGenerated {
			if msg.JobID != service.PreviewStream {
				t.Errorf("expected stream %s, got %s", service.PreviewStream, msg.JobID)
			}
			return
		}
	}
}

func TestWebSocket_PingPong(t *testing.T) {
	ta := setupApp(t, appOptions{})
	conn := dial(t, ta.serve(t), "any-job")

	if err := conn.WriteJSON(model.WSMessage{Type: model.WSMessageTypePing}); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg model.WSMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if msg.Type != model.WSMessageTypePong {
		t.Errorf("expected pong, got %s", msg.Type)
	}
}
