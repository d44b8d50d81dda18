package bus

import (
	"context"
	"fmt"
	"sync"

	"github.com/griddfs/griddfs/pkg/common"
)

// MemoryBus is an in-process Bus for tests and single-binary runs. It
// preserves the delivery semantics of the broker: fanout to every subscribed
// node, point-to-point confirmations and heartbeats, request/response
// fetches.
type MemoryBus struct {
	mu            sync.RWMutex
	subscribers   map[common.NodeID]chan common.BlockDescriptor
	fetchHandlers map[common.NodeID]FetchHandler
	confirmations chan common.Confirmation
	heartbeats    chan common.Heartbeat
	closed        bool
}

// NewMemoryBus creates an in-process bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{
		subscribers:   make(map[common.NodeID]chan common.BlockDescriptor),
		fetchHandlers: make(map[common.NodeID]FetchHandler),
		confirmations: make(chan common.Confirmation, 256),
		heartbeats:    make(chan common.Heartbeat, 256),
	}
}

func (b *MemoryBus) BroadcastBlock(ctx context.Context, desc *common.BlockDescriptor) error {
	b.mu.RLock()
	targets := make([]chan common.BlockDescriptor, 0, len(b.subscribers))
	for _, ch := range b.subscribers {
		targets = append(targets, ch)
	}
	b.mu.RUnlock()

	for _, ch := range targets {
		select {
		case ch <- *desc:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (b *MemoryBus) Confirmations(ctx context.Context) (<-chan common.Confirmation, error) {
	return b.confirmations, nil
}

func (b *MemoryBus) Heartbeats(ctx context.Context) (<-chan common.Heartbeat, error) {
	return b.heartbeats, nil
}

func (b *MemoryBus) FetchBlock(ctx context.Context, nodeID common.NodeID, blockID common.BlockID) ([]byte, error) {
	b.mu.RLock()
	handler, ok := b.fetchHandlers[nodeID]
	b.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("node %s not serving fetches", nodeID)
	}
	return handler(blockID)
}

func (b *MemoryBus) SubscribeBlocks(ctx context.Context, nodeID common.NodeID) (<-chan common.BlockDescriptor, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch, exists := b.subscribers[nodeID]; exists {
		return ch, nil
	}
	ch := make(chan common.BlockDescriptor, 64)
	b.subscribers[nodeID] = ch
	return ch, nil
}

// Unsubscribe detaches a node from the fanout, simulating node shutdown.
func (b *MemoryBus) Unsubscribe(nodeID common.NodeID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subscribers, nodeID)
	delete(b.fetchHandlers, nodeID)
}

func (b *MemoryBus) Confirm(ctx context.Context, c common.Confirmation) error {
	select {
	case b.confirmations <- c:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *MemoryBus) SendHeartbeat(ctx context.Context, hb common.Heartbeat) error {
	select {
	case b.heartbeats <- hb:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *MemoryBus) ServeFetch(ctx context.Context, nodeID common.NodeID, handler FetchHandler) error {
	b.mu.Lock()
	b.fetchHandlers[nodeID] = handler
	b.mu.Unlock()

	<-ctx.Done()

	b.mu.Lock()
	delete(b.fetchHandlers, nodeID)
	b.mu.Unlock()
	return ctx.Err()
}

func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		b.closed = true
		close(b.confirmations)
		close(b.heartbeats)
	}
	return nil
}
