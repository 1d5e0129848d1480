// Package liveview streams live root statistics of a running search
// over websockets, for frontends that want to watch the engine think.
package liveview

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/flychenzhu/tengen/search"

	"github.com/gorilla/websocket"
)

// ChildDTO mirrors search.RootChildInfo in wire form.
type ChildDTO struct {
	Move       int32   `json:"move"`
	Visits     int64   `json:"n"`
	EdgeVisits int64   `json:"en"`
	Weight     float64 `json:"w"`
	Utility    float64 `json:"q"`
	Policy     float64 `json:"p"`
}

// Payload is one broadcast frame.
type Payload struct {
	Event        string     `json:"event"`
	Visits       int64      `json:"visits"`
	WinLossValue float64    `json:"win_loss_value"`
	ScoreMean    float64    `json:"score_mean"`
	Lead         float64    `json:"lead"`
	Children     []ChildDTO `json:"children,omitempty"`
	UpdatedAtMs  int64      `json:"updated_at_ms"`
}

type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// Hub fans broadcast frames out to every connected websocket client.
type Hub struct {
	mu        sync.Mutex
	clients   map[*client]struct{}
	broadcast chan Payload
	logger    *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients:   make(map[*client]struct{}),
		broadcast: make(chan Payload, 64),
		logger:    logger,
	}
}

// Run pumps broadcast frames to clients until done closes.
func (h *Hub) Run(done <-chan struct{}) {
	for {
		select {
		case <-done:
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return
		case payload := <-h.broadcast:
			data, err := json.Marshal(payload)
			if err != nil {
				h.logger.Warn("liveview encode failed", "error", err)
				continue
			}
			h.mu.Lock()
			for c := range h.clients {
				select {
				case c.send <- data:
				default:
					// Slow consumer; drop it rather than stall the hub.
					close(c.send)
					delete(h.clients, c)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Broadcast queues a frame, dropping it if the hub is saturated.
func (h *Hub) Broadcast(p Payload) {
	select {
	case h.broadcast <- p:
	default:
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// Handler upgrades HTTP requests into streaming clients.
func (h *Hub) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			h.logger.Warn("liveview upgrade failed", "error", err)
			return
		}
		c := &client{hub: h, conn: conn, send: make(chan []byte, 16)}
		h.mu.Lock()
		h.clients[c] = struct{}{}
		h.mu.Unlock()
		go c.writeLoop()
		go c.readLoop()
	}
}

func (c *client) writeLoop() {
	defer c.conn.Close()
	for data := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}
}

func (c *client) readLoop() {
	defer func() {
		c.hub.mu.Lock()
		if _, ok := c.hub.clients[c]; ok {
			close(c.send)
			delete(c.hub.clients, c)
		}
		c.hub.mu.Unlock()
		c.conn.Close()
	}()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// Watch polls the search at the given interval, broadcasting a frame
// each tick, until done closes. Call it in its own goroutine alongside
// a running search.
func (h *Hub) Watch(s *search.Search, interval time.Duration, done <-chan struct{}) {
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			values, ok := s.RootValues()
			if !ok {
				continue
			}
			children := s.RootChildrenInfo()
			dtos := make([]ChildDTO, 0, len(children))
			for _, c := range children {
				dtos = append(dtos, ChildDTO{
					Move:       int32(c.Move),
					Visits:     c.Visits,
					EdgeVisits: c.EdgeVisits,
					Weight:     c.Weight,
					Utility:    c.Utility,
					Policy:     c.Policy,
				})
			}
			h.Broadcast(Payload{
				Event:        "root_update",
				Visits:       values.Visits,
				WinLossValue: values.WinLossValue,
				ScoreMean:    values.ScoreMean,
				Lead:         values.Lead,
				Children:     dtos,
				UpdatedAtMs:  time.Now().UnixMilli(),
			})
		}
	}
}
