package notify

import (
	"context"
	"net/http"
	"sync"
	"time"

	"duetrec/internal/core/domain"
	"duetrec/internal/core/ports"
	"duetrec/pkg/config"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const historySize = 20

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Hub fans notices out to WebSocket subscribers of each duet. New
// subscribers first receive the most recent notices of the duet.
type Hub struct {
	bufferSize   int
	pingInterval time.Duration
	pongTimeout  time.Duration
	writeTimeout time.Duration
	logger       *zap.SugaredLogger

	mu      sync.RWMutex
	clients map[domain.DuetID]map[*client]struct{}
	history map[domain.DuetID][]domain.Notice
}

type client struct {
	duetID domain.DuetID
	send   chan domain.Notice
	done   chan struct{}
	once   sync.Once
}

func (c *client) close() {
	c.once.Do(func() { close(c.done) })
}

var _ ports.Notifier = (*Hub)(nil)

func NewHub(cfg config.NotifyConfig, logger *zap.SugaredLogger) *Hub {
	h := &Hub{
		bufferSize:   cfg.BufferSize,
		pingInterval: cfg.PingInterval,
		pongTimeout:  cfg.PongTimeout,
		writeTimeout: 10 * time.Second,
		logger:       logger,
		clients:      make(map[domain.DuetID]map[*client]struct{}),
		history:      make(map[domain.DuetID][]domain.Notice),
	}
	if h.bufferSize <= 0 {
		h.bufferSize = 64
	}
	if h.pingInterval <= 0 {
		h.pingInterval = 30 * time.Second
	}
	if h.pongTimeout <= 0 {
		h.pongTimeout = 2 * h.pingInterval
	}
	return h
}

// Notify delivers to every subscriber of the duet. Subscribers that cannot
// keep up are disconnected.
func (h *Hub) Notify(ctx context.Context, notice domain.Notice) {
	h.mu.Lock()
	hist := append(h.history[notice.DuetID], notice)
	if len(hist) > historySize {
		hist = hist[len(hist)-historySize:]
	}
	h.history[notice.DuetID] = hist

	var slow []*client
	for c := range h.clients[notice.DuetID] {
		select {
		case c.send <- notice:
		default:
			slow = append(slow, c)
		}
	}
	for _, c := range slow {
		h.removeLocked(c)
	}
	h.mu.Unlock()

	for _, c := range slow {
		c.close()
		h.logger.Warnw("dropping slow notice subscriber", "duet_id", notice.DuetID)
	}
}

// Relay delivers a notice raised on another instance. Nothing is retained
// for duets without local subscribers.
func (h *Hub) Relay(notice domain.Notice) {
	h.mu.RLock()
	watched := len(h.clients[notice.DuetID]) > 0
	h.mu.RUnlock()
	if watched {
		h.Notify(context.Background(), notice)
	}
}

// History returns the retained notices of a duet, oldest first.
func (h *Hub) History(id domain.DuetID) []domain.Notice {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]domain.Notice, len(h.history[id]))
	copy(out, h.history[id])
	return out
}

// Forget drops the retained notices and disconnects subscribers of a duet.
func (h *Hub) Forget(id domain.DuetID) {
	h.mu.Lock()
	delete(h.history, id)
	subs := h.clients[id]
	delete(h.clients, id)
	h.mu.Unlock()

	for c := range subs {
		c.close()
	}
}

// Subscribers reports the number of connected subscribers.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, subs := range h.clients {
		n += len(subs)
	}
	return n
}

func (h *Hub) register(id domain.DuetID) *client {
	c := &client{
		duetID: id,
		send:   make(chan domain.Notice, h.bufferSize),
		done:   make(chan struct{}),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, n := range h.history[id] {
		select {
		case c.send <- n:
		default:
		}
	}
	if h.clients[id] == nil {
		h.clients[id] = make(map[*client]struct{})
	}
	h.clients[id][c] = struct{}{}
	return c
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	h.removeLocked(c)
	h.mu.Unlock()
	c.close()
}

func (h *Hub) removeLocked(c *client) {
	subs := h.clients[c.duetID]
	delete(subs, c)
	if len(subs) == 0 {
		delete(h.clients, c.duetID)
	}
}

// ServeDuet upgrades the request and streams the duet's notices as JSON
// until the client goes away.
func (h *Hub) ServeDuet(w http.ResponseWriter, r *http.Request, id domain.DuetID) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Errorw("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	c := h.register(id)
	defer h.unregister(c)
	h.logger.Infow("notice subscriber connected", "duet_id", id)

	conn.SetReadDeadline(time.Now().Add(h.pongTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(h.pongTimeout))
		return nil
	})

	// Inbound messages are ignored; reading keeps pongs and closes flowing.
	go func() {
		defer c.close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					h.logger.Infow("error reading from notice subscriber", "duet_id", id, "error", err)
				}
				return
			}
		}
	}()

	pingTicker := time.NewTicker(h.pingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case notice := <-c.send:
			conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
			if err := conn.WriteJSON(notice); err != nil {
				h.logger.Infow("error sending notice", "duet_id", id, "error", err)
				return
			}

		case <-pingTicker.C:
			conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.logger.Infow("error sending ping", "duet_id", id, "error", err)
				return
			}

		case <-c.done:
			conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			h.logger.Infow("notice subscriber disconnected", "duet_id", id)
			return
		}
	}
}
