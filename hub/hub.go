// Package hub fans transcription events out to connected clients.
//
// All registry mutation and every socket write happens on one Loop
// goroutine. Other goroutines (client readers, the recognizer worker, HTTP
// handlers) reach the registry only by submitting tasks to that loop.
package hub

import (
	"context"
	"errors"

	"github.com/charmbracelet/log"

	"node.town/hark/metrics"
)

var ErrClosed = errors.New("hub loop closed")

type Hub struct {
	loop        *Loop
	registry    *Registry
	broadcaster *Broadcaster
	logger      *log.Logger
	metrics     *metrics.Metrics
}

func New(loop *Loop, logger *log.Logger, m *metrics.Metrics) *Hub {
	registry := NewRegistry()
	return &Hub{
		loop:        loop,
		registry:    registry,
		broadcaster: NewBroadcaster(registry, logger, m),
		logger:      logger,
		metrics:     m,
	}
}

func (h *Hub) Loop() *Loop {
	return h.loop
}

// Join registers c. It reports false when the loop is no longer running,
// in which case the caller still owns c.
func (h *Hub) Join(c Conn) bool {
	return h.loop.Submit(func() {
		h.registry.Add(c)
		h.metrics.Clients.Set(float64(h.registry.Len()))
		h.logger.Info(
			"client connected",
			"client", c.ID(),
			"addr", c.RemoteAddr(),
			"clients", h.registry.Len(),
		)
	})
}

// Leave unregisters and closes c. A connection already evicted by a failed
// broadcast is ignored.
func (h *Hub) Leave(c Conn) bool {
	return h.loop.Submit(func() {
		if !h.registry.Remove(c) {
			return
		}
		_ = c.Close()
		h.metrics.Clients.Set(float64(h.registry.Len()))
		h.logger.Info(
			"client disconnected",
			"client", c.ID(),
			"addr", c.RemoteAddr(),
			"clients", h.registry.Len(),
		)
	})
}

// Publish schedules a broadcast of ev and returns without waiting for it.
func (h *Hub) Publish(ev Event) bool {
	return h.loop.Submit(func() {
		h.broadcaster.Broadcast(ev)
	})
}

// Clients counts registered connections.
func (h *Hub) Clients(ctx context.Context) (int, error) {
	var n int
	err := h.loop.Do(ctx, func() {
		n = h.registry.Len()
	})
	return n, err
}

// Disconnect closes and forgets every client.
func (h *Hub) Disconnect(ctx context.Context) error {
	return h.loop.Do(ctx, func() {
		for _, c := range h.registry.Snapshot() {
			h.registry.Remove(c)
			_ = c.Close()
		}
		h.metrics.Clients.Set(0)
	})
}
