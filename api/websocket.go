package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/Thirteen88/ish-automation-sub001/service"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = (pongWait * 9) / 10
	eventBacklog = 64

	// subscribeAll receives every task event.
	subscribeAll = "all"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // dashboards are served from other origins
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 16 * 1024,
}

// subscriber is one websocket connection and the task ids it follows.
type subscriber struct {
	hub    *WebSocketHub
	conn   *websocket.Conn
	events chan []byte

	mu    sync.RWMutex
	tasks map[string]bool
}

func (s *subscriber) follows(ev service.Event) bool {
	if ev.Type == service.EventEngineStatus {
		return true
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tasks[subscribeAll] || s.tasks[ev.TaskID]
}

func (s *subscriber) setFollowing(taskID string, on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if on {
		s.tasks[taskID] = true
	} else {
		delete(s.tasks, taskID)
	}
}

// offer queues msg, dropping the oldest pending event when the backlog is full.
func (s *subscriber) offer(msg []byte) bool {
	select {
	case s.events <- msg:
		return true
	default:
	}
	select {
	case <-s.events:
	default:
	}
	select {
	case s.events <- msg:
		return true
	default:
		return false
	}
}

// WebSocketHub fans engine and task events out to websocket subscribers. It
// implements service.EventBroadcaster.
type WebSocketHub struct {
	mu          sync.RWMutex
	subscribers map[*subscriber]struct{}
	join        chan *subscriber
	leave       chan *subscriber
	done        chan struct{}
}

func NewWebSocketHub() *WebSocketHub {
	return &WebSocketHub{
		subscribers: make(map[*subscriber]struct{}),
		join:        make(chan *subscriber),
		leave:       make(chan *subscriber),
		done:        make(chan struct{}),
	}
}

// Run admits and drops subscribers until ctx is done, then disconnects all.
func (h *WebSocketHub) Run(ctx context.Context) {
	for {
		select {
		case s := <-h.join:
			h.mu.Lock()
			h.subscribers[s] = struct{}{}
			total := len(h.subscribers)
			h.mu.Unlock()
			log.Printf("📡 Event subscriber joined (total: %d)", total)

		case s := <-h.leave:
			h.mu.Lock()
			if _, ok := h.subscribers[s]; ok {
				delete(h.subscribers, s)
				close(s.events)
			}
			total := len(h.subscribers)
			h.mu.Unlock()
			log.Printf("📡 Event subscriber left (total: %d)", total)

		case <-ctx.Done():
			close(h.done)
			h.mu.Lock()
			for s := range h.subscribers {
				delete(h.subscribers, s)
				close(s.events)
			}
			h.mu.Unlock()
			return
		}
	}
}

// ClientCount reports connected subscribers.
func (h *WebSocketHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// Broadcast delivers ev to every subscriber following it without blocking.
func (h *WebSocketHub) Broadcast(ev service.Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		log.Printf("⚠️ Failed to encode %s event: %v", ev.Type, err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.subscribers {
		if s.follows(ev) && !s.offer(payload) {
			log.Printf("⚠️ Subscriber backlog full, dropped %s event for task %s", ev.Type, ev.TaskID)
		}
	}
}

// HandleWebSocket upgrades the request. ?task_id= follows one task, otherwise
// every task is followed.
func HandleWebSocket(hub *WebSocketHub, c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("❌ WebSocket upgrade failed: %v", err)
		return
	}

	s := &subscriber{
		hub:    hub,
		conn:   conn,
		events: make(chan []byte, eventBacklog),
		tasks:  make(map[string]bool),
	}
	if taskID := c.Query("task_id"); taskID != "" {
		s.tasks[taskID] = true
	} else {
		s.tasks[subscribeAll] = true
	}

	select {
	case hub.join <- s:
	case <-hub.done:
		conn.Close()
		return
	}

	go s.writeEvents()
	go s.readSubscriptions()
}

type subscriptionMessage struct {
	Type   string `json:"type"`
	TaskID string `json:"task_id"`
}

// readSubscriptions applies {"type":"subscribe"|"unsubscribe","task_id":...}
// messages until the connection closes.
func (s *subscriber) readSubscriptions() {
	defer func() {
		select {
		case s.hub.leave <- s:
		case <-s.hub.done:
		}
		s.conn.Close()
	}()

	s.conn.SetReadLimit(4 * 1024)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("⚠️ Event subscriber read error: %v", err)
			}
			return
		}

		var msg subscriptionMessage
		if err := json.Unmarshal(raw, &msg); err != nil || msg.TaskID == "" {
			continue
		}
		switch msg.Type {
		case "subscribe":
			s.setFollowing(msg.TaskID, true)
		case "unsubscribe":
			s.setFollowing(msg.TaskID, false)
		}
	}
}

// writeEvents drains the backlog to the connection and pings while idle.
func (s *subscriber) writeEvents() {
	ping := time.NewTicker(pingPeriod)
	defer func() {
		ping.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-s.events:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}

		case <-ping.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
