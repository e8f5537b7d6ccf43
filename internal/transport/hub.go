package transport

import (
	"errors"
	"fmt"
	"sync"

	"golang.org/x/time/rate"

	"github.com/codefionn/tcpchat/internal/consts"
	"github.com/codefionn/tcpchat/internal/logger"
	"github.com/codefionn/tcpchat/internal/protocol"
)

var (
	// ErrUnknownConnection is returned when sending to a connection that is gone.
	ErrUnknownConnection = errors.New("unknown connection")
	// ErrQueueFull is returned when a connection could not keep up. The
	// connection is closed when this happens.
	ErrQueueFull = errors.New("send queue full")
)

// peer is one accepted connection.
type peer struct {
	id      string
	link    link
	send    chan protocol.Frame
	limiter *rate.Limiter

	stop     chan struct{}
	stopOnce sync.Once
}

func newPeer(id string, l link, limiter *rate.Limiter) *peer {
	return &peer{
		id:      id,
		link:    l,
		send:    make(chan protocol.Frame, consts.SendQueueSize),
		limiter: limiter,
		stop:    make(chan struct{}),
	}
}

// close stops both pumps. The send channel stays open so late senders
// never panic; they see stop instead.
func (p *peer) close() {
	p.stopOnce.Do(func() {
		close(p.stop)
		_ = p.link.Close()
	})
}

// enqueue never blocks. A full queue closes the peer.
func (p *peer) enqueue(f protocol.Frame) error {
	select {
	case <-p.stop:
		return fmt.Errorf("connection %s: %w", p.id, ErrUnknownConnection)
	default:
	}
	select {
	case p.send <- f:
		return nil
	case <-p.stop:
		return fmt.Errorf("connection %s: %w", p.id, ErrUnknownConnection)
	default:
		p.close()
		return fmt.Errorf("connection %s: %w", p.id, ErrQueueFull)
	}
}

// Hub tracks live connections by id and delivers frames to them. It is the
// Sender the chat server writes through.
type Hub struct {
	mu    sync.RWMutex
	peers map[string]*peer
	log   *logger.Logger
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		peers: make(map[string]*peer),
		log:   logger.Global().WithPrefix("hub"),
	}
}

func (h *Hub) add(p *peer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.peers[p.id] = p
	h.log.Debug("connection %s added (total: %d)", p.id, len(h.peers))
}

// remove reports whether p was still registered.
func (h *Hub) remove(p *peer) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if cur, ok := h.peers[p.id]; !ok || cur != p {
		return false
	}
	delete(h.peers, p.id)
	h.log.Debug("connection %s removed (total: %d)", p.id, len(h.peers))
	return true
}

func (h *Hub) get(id string) (*peer, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	p, ok := h.peers[id]
	return p, ok
}

// Count returns the number of live connections.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.peers)
}

// Send queues f for connID without blocking.
func (h *Hub) Send(connID string, f protocol.Frame) error {
	p, ok := h.get(connID)
	if !ok {
		return fmt.Errorf("connection %s: %w", connID, ErrUnknownConnection)
	}
	err := p.enqueue(f)
	if errors.Is(err, ErrQueueFull) {
		h.log.Warn("connection %s is not reading, closed it", connID)
	}
	return err
}

// Disconnect closes connID. Its read pump reports the disconnect.
func (h *Hub) Disconnect(connID string) error {
	p, ok := h.get(connID)
	if !ok {
		return fmt.Errorf("connection %s: %w", connID, ErrUnknownConnection)
	}
	p.close()
	return nil
}

// closeAll closes every connection.
func (h *Hub) closeAll() {
	h.mu.RLock()
	peers := make([]*peer, 0, len(h.peers))
	for _, p := range h.peers {
		peers = append(peers, p)
	}
	h.mu.RUnlock()

	for _, p := range peers {
		p.close()
	}
}
