// Package bus carries the messages between the coordinator and the storage
// node fleet: block broadcasts (fanout, at-least-once), storage confirmations
// and heartbeats (point-to-point towards the coordinator), and block fetches
// (request/response towards one node).
package bus

import (
	"context"

	"github.com/griddfs/griddfs/pkg/common"
)

// Coordinator is the coordinator-side surface of the bus.
type Coordinator interface {
	// BroadcastBlock delivers a block descriptor to every currently
	// subscribed node. Delivery is at-least-once; nodes de-duplicate.
	BroadcastBlock(ctx context.Context, desc *common.BlockDescriptor) error

	// Confirmations returns the stream of storage confirmations.
	Confirmations(ctx context.Context) (<-chan common.Confirmation, error)

	// Heartbeats returns the stream of node heartbeats.
	Heartbeats(ctx context.Context) (<-chan common.Heartbeat, error)

	// FetchBlock retrieves a block payload from one specific node.
	FetchBlock(ctx context.Context, nodeID common.NodeID, blockID common.BlockID) ([]byte, error)
}

// Node is the storage-node-side surface of the bus.
type Node interface {
	// SubscribeBlocks returns the stream of broadcast block descriptors
	// for this node.
	SubscribeBlocks(ctx context.Context, nodeID common.NodeID) (<-chan common.BlockDescriptor, error)

	// Confirm sends a storage confirmation to the coordinator.
	Confirm(ctx context.Context, c common.Confirmation) error

	// SendHeartbeat sends a heartbeat to the coordinator.
	SendHeartbeat(ctx context.Context, hb common.Heartbeat) error

	// ServeFetch answers block fetch requests addressed to this node until
	// the context is cancelled. The handler returns the block payload or an
	// error when the block is not held locally.
	ServeFetch(ctx context.Context, nodeID common.NodeID, handler FetchHandler) error
}

// FetchHandler resolves a block fetch against a node's local storage.
type FetchHandler func(blockID common.BlockID) ([]byte, error)

// Bus is a full broker connection usable from either side.
type Bus interface {
	Coordinator
	Node

	Close() error
}
