// Package messaging delivers bridge updates to in-process subscribers and NATS.
package messaging

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rail-service/yield_bridge/internal/domain/entities"
)

const defaultBuffer = 64

type subscriber struct {
	id uint64
	ch chan entities.BridgeUpdate
}

// Hub fans updates out to subscribers of one transaction or of all of them.
// Delivery is at-most-once: a subscriber whose buffer is full misses the
// update, later updates still arrive in order.
type Hub struct {
	mu     sync.RWMutex
	nextID uint64
	byTx   map[uuid.UUID][]subscriber
	all    []subscriber
	buffer int
	logger *zap.Logger
}

func NewHub(buffer int, logger *zap.Logger) *Hub {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Hub{
		byTx:   make(map[uuid.UUID][]subscriber),
		buffer: buffer,
		logger: logger,
	}
}

// Subscribe returns the update stream for txID and a func that ends it
func (h *Hub) Subscribe(txID uuid.UUID) (<-chan entities.BridgeUpdate, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	sub := subscriber{id: h.nextID, ch: make(chan entities.BridgeUpdate, h.buffer)}
	h.byTx[txID] = append(h.byTx[txID], sub)

	return sub.ch, func() { h.unsubscribe(txID, sub.id) }
}

// SubscribeAll receives every transaction's updates
func (h *Hub) SubscribeAll() (<-chan entities.BridgeUpdate, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	sub := subscriber{id: h.nextID, ch: make(chan entities.BridgeUpdate, h.buffer)}
	h.all = append(h.all, sub)

	return sub.ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.all = remove(h.all, sub.id)
	}
}

func (h *Hub) unsubscribe(txID uuid.UUID, id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs := remove(h.byTx[txID], id)
	if len(subs) == 0 {
		delete(h.byTx, txID)
		return
	}
	h.byTx[txID] = subs
}

// remove drops id from subs and closes its channel
func remove(subs []subscriber, id uint64) []subscriber {
	for i, s := range subs {
		if s.id == id {
			close(s.ch)
			return append(subs[:i:i], subs[i+1:]...)
		}
	}
	return subs
}

// Publish never blocks on a slow subscriber
func (h *Hub) Publish(ctx context.Context, update entities.BridgeUpdate) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	deliver := func(s subscriber) {
		select {
		case s.ch <- update:
		default:
			h.logger.Warn("Dropping bridge update for slow subscriber",
				zap.String("transaction_id", update.TransactionID.String()),
				zap.Uint64("sequence", update.Sequence))
		}
	}
	for _, s := range h.byTx[update.TransactionID] {
		deliver(s)
	}
	for _, s := range h.all {
		deliver(s)
	}
	return nil
}
