package server

import (
	"log/slog"
	"sync"

	"github.com/seoulengine/moriarty/internal/logutil"
	"github.com/seoulengine/moriarty/pkg/proto"
)

// Hub fans one-way commands out to every attached connection. Connections
// register on attach and deregister on detach; broadcasts to a peer that
// fails are logged and skipped, the connection's own serve loop notices the
// broken socket.
type Hub struct {
	Logger *slog.Logger

	mu      sync.RWMutex
	pushers map[Pusher]struct{}
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		Logger:  logger,
		pushers: make(map[Pusher]struct{}),
	}
}

func (h *Hub) Attach(p Pusher) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.pushers[p] = struct{}{}
}

func (h *Hub) Detach(p Pusher) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(h.pushers, p)
}

// Clients returns the number of attached connections.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.pushers)
}

func (h *Hub) BroadcastContentChange(ev proto.ContentChangeEvent) {
	h.broadcast("content change", func(p Pusher) error { return p.PushContentChange(ev) })
}

func (h *Hub) BroadcastStatFileCacheRefresh(payload []byte) {
	h.broadcast("stat cache refresh", func(p Pusher) error { return p.PushStatFileCacheRefresh(payload) })
}

func (h *Hub) BroadcastKeyboardKey(ev proto.KeyEvent) {
	h.broadcast("keyboard key", func(p Pusher) error { return p.PushKeyboardKey(ev) })
}

func (h *Hub) BroadcastKeyboardChar(r rune) {
	h.broadcast("keyboard char", func(p Pusher) error { return p.PushKeyboardChar(r) })
}

func (h *Hub) broadcast(what string, push func(Pusher) error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for p := range h.pushers {
		if err := push(p); err != nil {
			h.logger().Warn("Push failed", slog.String("command", what), logutil.ErrorAttr(err))
		}
	}
}

func (h *Hub) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}

	return slog.Default()
}
