package preview

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// EditorMessage is what a generating client publishes into a room.
type EditorMessage struct {
	HTML       string `json:"html"`
	Generating bool   `json:"generating"`
	Reset      bool   `json:"reset,omitempty"`
}

// ViewerMessage is pushed to viewers when the displayed HTML changes.
type ViewerMessage struct {
	HTML string `json:"html"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Hub manages one preview room per project. Each room owns a Throttler
// that paces what viewers see.
type Hub struct {
	mu          sync.Mutex
	rooms       map[string]*room
	interval    time.Duration
	placeholder string
}

type room struct {
	throttler *Throttler
	viewers   map[*viewer]bool
}

type viewer struct {
	conn *websocket.Conn

	mu     sync.Mutex
	send   chan []byte
	closed bool
}

// trySend queues a payload without blocking. It reports false when the
// viewer is closed or its buffer is full. Holding v.mu orders sends
// against close, so a viewer leaving mid-broadcast cannot panic the
// sender.
func (v *viewer) trySend(payload []byte) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return false
	}
	select {
	case v.send <- payload:
		return true
	default:
		return false
	}
}

func (v *viewer) close() {
	v.mu.Lock()
	if !v.closed {
		v.closed = true
		close(v.send)
	}
	v.mu.Unlock()
}

// NewHub creates a hub. interval controls the throttle cadence and
// placeholder HTML is ignored when published.
func NewHub(interval time.Duration, placeholder string) *Hub {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Hub{
		rooms:       make(map[string]*room),
		interval:    interval,
		placeholder: placeholder,
	}
}

func (h *Hub) getRoom(projectID string) *room {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.rooms[projectID]
	if !ok {
		r = &room{viewers: make(map[*viewer]bool)}
		r.throttler = NewThrottler(func(html string) {
			h.broadcast(projectID, html)
		}, WithInterval(h.interval), WithPlaceholder(h.placeholder))
		h.rooms[projectID] = r
	}
	return r
}

// Publish feeds an editor update into a project's room.
func (h *Hub) Publish(projectID string, msg EditorMessage) {
	r := h.getRoom(projectID)
	if msg.Reset {
		r.throttler.Reset()
		return
	}
	r.throttler.SetGenerating(msg.Generating)
	if msg.HTML != "" {
		r.throttler.SetPage(msg.HTML)
	}
}

// Displayed returns what viewers of a project currently see.
func (h *Hub) Displayed(projectID string) (string, bool) {
	h.mu.Lock()
	r, ok := h.rooms[projectID]
	h.mu.Unlock()
	if !ok {
		return "", false
	}
	return r.throttler.Displayed()
}

// CloseProject tears down a room, disconnecting its viewers. Called
// when a project is deleted.
func (h *Hub) CloseProject(projectID string) {
	h.mu.Lock()
	r, ok := h.rooms[projectID]
	if ok {
		delete(h.rooms, projectID)
	}
	h.mu.Unlock()
	if !ok {
		return
	}

	r.throttler.Close()
	for v := range r.viewers {
		v.close()
		v.conn.Close()
	}
}

func (h *Hub) broadcast(projectID, html string) {
	payload, err := json.Marshal(ViewerMessage{HTML: html})
	if err != nil {
		log.Printf("preview: marshal viewer message: %v", err)
		return
	}

	h.mu.Lock()
	r, ok := h.rooms[projectID]
	if !ok {
		h.mu.Unlock()
		return
	}
	targets := make([]*viewer, 0, len(r.viewers))
	for v := range r.viewers {
		targets = append(targets, v)
	}
	h.mu.Unlock()

	for _, v := range targets {
		if !v.trySend(payload) {
			// Viewer is lagging or gone, drop it rather than block
			// the room.
			h.removeViewer(projectID, v)
		}
	}
}

func (h *Hub) addViewer(projectID string, v *viewer) {
	r := h.getRoom(projectID)
	h.mu.Lock()
	r.viewers[v] = true
	h.mu.Unlock()
}

func (h *Hub) removeViewer(projectID string, v *viewer) {
	h.mu.Lock()
	if r, ok := h.rooms[projectID]; ok {
		delete(r.viewers, v)
	}
	h.mu.Unlock()
	v.close()
}

// ServeEditor upgrades the connection and consumes editor updates
// until the socket closes.
func (h *Hub) ServeEditor(w http.ResponseWriter, r *http.Request, projectID string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("preview: upgrade editor: %v", err)
		return
	}
	defer conn.Close()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("preview: editor read: %v", err)
			}
			return
		}
		var msg EditorMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			log.Printf("preview: bad editor message: %v", err)
			continue
		}
		h.Publish(projectID, msg)
	}
}

// ServeViewer upgrades the connection and streams displayed HTML until
// the socket closes. The current snapshot is sent on join.
func (h *Hub) ServeViewer(w http.ResponseWriter, r *http.Request, projectID string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("preview: upgrade viewer: %v", err)
		return
	}

	v := &viewer{conn: conn, send: make(chan []byte, 16)}
	h.addViewer(projectID, v)

	if html, ok := h.Displayed(projectID); ok {
		if payload, err := json.Marshal(ViewerMessage{HTML: html}); err == nil {
			v.trySend(payload)
		}
	}

	go h.viewerWritePump(v)
	h.viewerReadPump(projectID, v)
}

func (h *Hub) viewerReadPump(projectID string, v *viewer) {
	defer func() {
		h.removeViewer(projectID, v)
		v.conn.Close()
	}()
	for {
		// Viewers do not send application messages; reading drains
		// control frames and detects disconnects.
		if _, _, err := v.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) viewerWritePump(v *viewer) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case payload, ok := <-v.send:
			if !ok {
				v.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := v.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			if err := v.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
