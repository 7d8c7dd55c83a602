package preview

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func newTestServer(t *testing.T, hub *Hub) string {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		projectID := r.URL.Query().Get("project")
		switch r.URL.Query().Get("role") {
		case "editor":
			hub.ServeEditor(w, r, projectID)
		default:
			hub.ServeViewer(w, r, projectID)
		}
	}))
	t.Cleanup(server.Close)
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func readViewerMessage(t *testing.T, conn *websocket.Conn) ViewerMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read viewer message: %v", err)
	}
	var msg ViewerMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		t.Fatalf("unmarshal viewer message: %v", err)
	}
	return msg
}

func TestHubPublishReachesViewer(t *testing.T) {
	hub := NewHub(20*time.Millisecond, "")
	wsURL := newTestServer(t, hub)

	viewer, _, err := websocket.DefaultDialer.Dial(wsURL+"/?project=p1", nil)
	if err != nil {
		t.Fatalf("viewer dial: %v", err)
	}
	defer viewer.Close()

	editor, _, err := websocket.DefaultDialer.Dial(wsURL+"/?project=p1&role=editor", nil)
	if err != nil {
		t.Fatalf("editor dial: %v", err)
	}
	defer editor.Close()

	update, _ := json.Marshal(EditorMessage{HTML: "<p>hello</p>"})
	if err := editor.WriteMessage(websocket.TextMessage, update); err != nil {
		t.Fatalf("editor write: %v", err)
	}

	msg := readViewerMessage(t, viewer)
	if msg.HTML != "<p>hello</p>" {
		t.Errorf("viewer got %q", msg.HTML)
	}
}

func TestHubLateViewerGetsSnapshot(t *testing.T) {
	hub := NewHub(20*time.Millisecond, "")
	wsURL := newTestServer(t, hub)

	hub.Publish("p2", EditorMessage{HTML: "<p>existing</p>"})

	viewer, _, err := websocket.DefaultDialer.Dial(wsURL+"/?project=p2", nil)
	if err != nil {
		t.Fatalf("viewer dial: %v", err)
	}
	defer viewer.Close()

	msg := readViewerMessage(t, viewer)
	if msg.HTML != "<p>existing</p>" {
		t.Errorf("snapshot = %q", msg.HTML)
	}
}

func TestHubRoomsAreIsolated(t *testing.T) {
	hub := NewHub(20*time.Millisecond, "")

	hub.Publish("a", EditorMessage{HTML: "<p>for-a</p>"})

	if _, ok := hub.Displayed("b"); ok {
		t.Error("room b should have no displayed html")
	}
	if html, ok := hub.Displayed("a"); !ok || html != "<p>for-a</p>" {
		t.Errorf("room a displayed = %q, ok = %v", html, ok)
	}
}

func TestHubThrottlesWhileGenerating(t *testing.T) {
	hub := NewHub(40*time.Millisecond, "")

	hub.Publish("p3", EditorMessage{HTML: "<p>v1</p>", Generating: true})
	hub.Publish("p3", EditorMessage{HTML: "<p>v2</p>", Generating: true})

	if html, _ := hub.Displayed("p3"); html != "<p>v1</p>" {
		t.Errorf("expected v1 displayed, got %q", html)
	}

	// Completion flushes the pending update.
	hub.Publish("p3", EditorMessage{Generating: false})
	if html, _ := hub.Displayed("p3"); html != "<p>v2</p>" {
		t.Errorf("expected v2 after completion, got %q", html)
	}
}

func TestHubReset(t *testing.T) {
	hub := NewHub(20*time.Millisecond, "")

	hub.Publish("p4", EditorMessage{HTML: "<p>content</p>"})
	hub.Publish("p4", EditorMessage{Reset: true})

	if _, ok := hub.Displayed("p4"); ok {
		t.Error("expected no displayed html after reset")
	}
}

func TestHubCloseProjectDisconnectsViewers(t *testing.T) {
	hub := NewHub(20*time.Millisecond, "")
	wsURL := newTestServer(t, hub)

	viewer, _, err := websocket.DefaultDialer.Dial(wsURL+"/?project=p5", nil)
	if err != nil {
		t.Fatalf("viewer dial: %v", err)
	}
	defer viewer.Close()

	// Give the server a moment to register the viewer.
	time.Sleep(50 * time.Millisecond)
	hub.CloseProject("p5")

	viewer.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := viewer.ReadMessage(); err == nil {
		t.Error("expected read error after project close")
	}
}

func TestBroadcastWhileViewersLeave(t *testing.T) {
	hub := NewHub(time.Hour, "")

	// Viewers leaving mid-broadcast must not crash the room.
	for i := 0; i < 2000; i++ {
		v := &viewer{send: make(chan []byte, 1)}
		hub.addViewer("p6", v)

		done := make(chan struct{})
		go func() {
			hub.removeViewer("p6", v)
			close(done)
		}()
		hub.broadcast("p6", "<p>update</p>")
		<-done
	}
}

func TestRemoveViewerTwice(t *testing.T) {
	hub := NewHub(time.Hour, "")
	v := &viewer{send: make(chan []byte, 1)}
	hub.addViewer("p7", v)

	hub.removeViewer("p7", v)
	hub.removeViewer("p7", v)

	if v.trySend([]byte("x")) {
		t.Error("send to a closed viewer must report failure")
	}
}
