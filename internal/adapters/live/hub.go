package live

import (
	"context"
	"sort"
	"sync"

	"github.com/okian/proctor/pkg/logger"
	"github.com/okian/proctor/pkg/metrics"
)

const hubBroadcastBuffer = 256

// Hub tracks connected dashboards and delivers messages to them. A client
// whose buffer is full is disconnected rather than slowing everyone down.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan outbound
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	stopOnce   sync.Once
	mu         sync.RWMutex
	log        logger.Logger
}

type outbound struct {
	examID string
	msg    Message
}

// NewHub creates a hub. Serve must run for it to deliver anything.
func NewHub(log logger.Logger) *Hub {
	if log == nil {
		log = logger.Named("live-hub")
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan outbound, hubBroadcastBuffer),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		log:        log,
	}
}

// Serve runs the hub loop until ctx ends.
func (h *Hub) Serve(ctx context.Context) error {
	defer h.stopOnce.Do(func() { close(h.done) })
	for {
		select {
		case <-ctx.Done():
			h.closeAllClients()
			h.log.Info(ctx, "live hub stopped")
			return ctx.Err()
		case c := <-h.register:
			h.add(ctx, c)
		case c := <-h.unregister:
			h.remove(ctx, c)
		case out := <-h.broadcast:
			h.deliver(out)
		}
	}
}

func (h *Hub) add(ctx context.Context, c *Client) {
	h.mu.Lock()
	h.clients[c] = true
	n := len(h.clients)
	h.mu.Unlock()
	metrics.UpdateLiveClients(n)
	h.log.Info(ctx, "dashboard connected", logger.Int("clients", n), logger.String("exam_filter", c.examID))
}

func (h *Hub) remove(ctx context.Context, c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	n := len(h.clients)
	h.mu.Unlock()
	metrics.UpdateLiveClients(n)
	h.log.Info(ctx, "dashboard disconnected", logger.Int("clients", n))
}

func (h *Hub) deliver(out outbound) {
	h.mu.Lock()
	defer h.mu.Unlock()

	// Ordered by connection so delivery order is stable.
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	sort.Slice(clients, func(i, j int) bool { return clients[i].id < clients[j].id })

	var slow []*Client
	for _, c := range clients {
		if c.examID != "" && c.examID != out.examID {
			continue
		}
		select {
		case c.send <- out.msg:
			metrics.RecordLiveBroadcast()
		default:
			slow = append(slow, c)
		}
	}
	for _, c := range slow {
		metrics.RecordLiveDropped()
		close(c.send)
		delete(h.clients, c)
	}
	if len(slow) > 0 {
		metrics.UpdateLiveClients(len(h.clients))
	}
}

func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
	metrics.UpdateLiveClients(0)
}

// Broadcast queues an alert for every matching client. It never blocks; a
// full hub drops the alert.
func (h *Hub) Broadcast(a Alert) bool {
	select {
	case h.broadcast <- outbound{examID: a.ExamID, msg: Message{Type: MessageTypeCheatingEvent, Data: a}}:
		return true
	default:
		metrics.RecordLiveDropped()
		h.log.Warn(context.Background(), "broadcast channel full, dropping alert", logger.String("exam_id", a.ExamID))
		return false
	}
}

// ClientCount returns the number of connected dashboards.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Register adds c unless the hub has stopped.
func (h *Hub) Register(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

// Unregister removes c unless the hub has stopped.
func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}
