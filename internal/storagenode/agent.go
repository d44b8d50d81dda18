// Package storagenode implements the autonomous storage node agent: it
// consumes block broadcasts, decides independently whether to volunteer a
// copy, persists accepted blocks, and emits confirmations and heartbeats.
package storagenode

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"

	"github.com/griddfs/griddfs/internal/bus"
	"github.com/griddfs/griddfs/internal/splitter"
	"github.com/griddfs/griddfs/pkg/common"
	"github.com/griddfs/griddfs/pkg/config"
)

// Redelivery window for stored blocks: a block stored within this window is
// not re-confirmed on every duplicate delivery. Declines are never cached;
// each re-broadcast round re-runs the admission policy, so a node that
// declined earlier can still be recruited.
const dedupTTL = 5 * time.Minute

// Agent is one storage node.
type Agent struct {
	cfg      config.StorageNodeConfig
	nodeID   common.NodeID
	capacity int64

	bus    bus.Node
	store  *BlockStore
	seen   *gocache.Cache
	rnd    *rand.Rand
	logger zerolog.Logger
}

// NewAgent creates a storage node agent. An empty NodeID in the configuration
// gets a generated one.
func NewAgent(cfg config.StorageNodeConfig, b bus.Node, logger zerolog.Logger) (*Agent, error) {
	nodeID := cfg.NodeID
	if nodeID == "" {
		nodeID = "node-" + uuid.NewString()[:8]
	}

	capacity, err := cfg.CapacityBytes()
	if err != nil {
		return nil, err
	}

	store, err := NewBlockStore(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("open block store: %w", err)
	}

	return &Agent{
		cfg:      cfg,
		nodeID:   common.NodeID(nodeID),
		capacity: capacity,
		bus:      b,
		store:    store,
		seen:     gocache.New(dedupTTL, 2*dedupTTL),
		rnd:      rand.New(rand.NewSource(time.Now().UnixNano())),
		logger:   logger.With().Str("component", "storagenode").Str("node", nodeID).Logger(),
	}, nil
}

// NodeID returns the agent's identifier.
func (a *Agent) NodeID() common.NodeID {
	return a.nodeID
}

// Store exposes the local block store.
func (a *Agent) Store() *BlockStore {
	return a.store
}

// Run starts the agent's concurrent activities and blocks until the context
// is cancelled: broadcast consumption, heartbeat emission and fetch serving
// are independent; broadcast decisions are made sequentially so the capacity
// guard never races against itself.
func (a *Agent) Run(ctx context.Context) error {
	blocks, err := a.bus.SubscribeBlocks(ctx, a.nodeID)
	if err != nil {
		return fmt.Errorf("subscribe broadcasts: %w", err)
	}

	go a.heartbeatLoop(ctx)
	go func() {
		if err := a.bus.ServeFetch(ctx, a.nodeID, a.store.Get); err != nil && ctx.Err() == nil {
			a.logger.Error().Err(err).Msg("fetch server stopped")
		}
	}()

	a.logger.Info().Int64("capacity", a.capacity).Int64("used", a.store.Used()).Msg("agent started")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case desc, ok := <-blocks:
			if !ok {
				return nil
			}
			a.handleBroadcast(ctx, &desc)
		}
	}
}

// handleBroadcast runs the admission policy against one broadcast block.
// Declines are silent; the coordinator never waits for universal responses.
func (a *Agent) handleBroadcast(ctx context.Context, desc *common.BlockDescriptor) {
	if _, dup := a.seen.Get(string(desc.BlockID)); dup {
		return
	}

	// Idempotent re-store: a block already held is re-confirmed, never
	// re-written, so redelivery cannot double-count storage_used.
	if path, held := a.store.Has(desc.BlockID); held {
		a.confirm(ctx, desc.BlockID, path, desc.Hash)
		a.seen.Set(string(desc.BlockID), struct{}{}, gocache.DefaultExpiration)
		return
	}

	if err := splitter.Verify(desc.Data, desc.Hash); err != nil {
		a.logger.Warn().Str("block", string(desc.BlockID)).Msg("broadcast payload failed hash check")
		return
	}

	decision := Decide(PolicyInput{
		BlockSize:         desc.Size,
		StorageUsed:       a.store.Used(),
		StorageCapacity:   a.capacity,
		ReplicationTarget: desc.ReplicationTarget,
		ActiveNodes:       desc.ActiveNodes,
		BaseProbability:   a.cfg.BaseProbability,
	}, a.rnd)

	if decision == Decline {
		a.logger.Debug().Str("block", string(desc.BlockID)).Msg("declined block")
		return
	}

	path, err := a.store.Put(desc.BlockID, desc.Data, desc.Hash)
	if err != nil {
		a.logger.Error().Err(err).Str("block", string(desc.BlockID)).Msg("store block failed")
		return
	}
	a.seen.Set(string(desc.BlockID), struct{}{}, gocache.DefaultExpiration)

	a.logger.Info().Str("block", string(desc.BlockID)).Int64("size", desc.Size).Msg("stored block")
	a.confirm(ctx, desc.BlockID, path, desc.Hash)
}

func (a *Agent) confirm(ctx context.Context, blockID common.BlockID, path, hash string) {
	err := a.bus.Confirm(ctx, common.Confirmation{
		BlockID:     blockID,
		NodeID:      a.nodeID,
		StoragePath: path,
		Hash:        hash,
		Timestamp:   time.Now(),
	})
	if err != nil {
		a.logger.Error().Err(err).Str("block", string(blockID)).Msg("send confirmation failed")
	}
}

// ReportLost drops a block locally and tells the coordinator the location is
// gone. This is the only path that stales a location short of file deletion.
func (a *Agent) ReportLost(ctx context.Context, blockID common.BlockID) error {
	if err := a.store.Remove(blockID); err != nil && err != common.ErrBlockNotFound {
		return err
	}
	// The block may be re-broadcast; the next delivery gets a fresh decision.
	a.seen.Delete(string(blockID))
	return a.bus.Confirm(ctx, common.Confirmation{
		BlockID:   blockID,
		NodeID:    a.nodeID,
		Lost:      true,
		Timestamp: time.Now(),
	})
}

// VerifyBlocks re-hashes every held block and reports corrupted ones lost.
func (a *Agent) VerifyBlocks(ctx context.Context) error {
	for _, blockID := range a.store.List() {
		meta, ok := a.store.Meta(blockID)
		if !ok {
			continue
		}
		data, err := a.store.Get(blockID)
		if err != nil || splitter.Verify(data, meta.Hash) != nil {
			a.logger.Warn().Str("block", string(blockID)).Msg("local block corrupted, reporting lost")
			if err := a.ReportLost(ctx, blockID); err != nil {
				return err
			}
		}
	}
	return nil
}

func (a *Agent) heartbeatLoop(ctx context.Context) {
	// Immediate first beat: registration with the coordinator happens on
	// first heartbeat.
	a.sendHeartbeat(ctx)

	ticker := time.NewTicker(a.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.sendHeartbeat(ctx)
		}
	}
}

func (a *Agent) sendHeartbeat(ctx context.Context) {
	err := a.bus.SendHeartbeat(ctx, common.Heartbeat{
		NodeID:          a.nodeID,
		Address:         a.cfg.Address,
		StorageUsed:     a.store.Used(),
		StorageCapacity: a.capacity,
		Timestamp:       time.Now(),
	})
	if err != nil && ctx.Err() == nil {
		a.logger.Error().Err(err).Msg("send heartbeat failed")
	}
}
