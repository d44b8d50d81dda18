package coordinator

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/griddfs/griddfs/internal/metastore"
	"github.com/griddfs/griddfs/pkg/common"
)

// LivenessTracker is the single authority on node health. It is driven by
// exactly two events: a heartbeat (resets the node's clock, reactivates it)
// and a periodic sweep (deactivates nodes past the timeout). No other
// component flips node status.
type LivenessTracker struct {
	mu      sync.RWMutex
	nodes   map[common.NodeID]*common.StorageNodeInfo
	timeout time.Duration
	store   metastore.Store
	logger  zerolog.Logger
}

// NewLivenessTracker creates a tracker with the given heartbeat timeout.
// Known nodes are reloaded from the store so restarts keep the fleet
// inventory; their status is re-derived from subsequent heartbeats.
func NewLivenessTracker(store metastore.Store, timeout time.Duration, logger zerolog.Logger) (*LivenessTracker, error) {
	t := &LivenessTracker{
		nodes:   make(map[common.NodeID]*common.StorageNodeInfo),
		timeout: timeout,
		store:   store,
		logger:  logger.With().Str("component", "liveness").Logger(),
	}

	known, err := store.ListNodes()
	if err != nil {
		return nil, err
	}
	for i := range known {
		n := known[i]
		t.nodes[n.ID] = &n
	}
	return t, nil
}

// Observe processes one heartbeat. Unknown nodes are registered on first
// heartbeat; capacity fields are only ever written here, from the node's own
// report.
func (t *LivenessTracker) Observe(hb common.Heartbeat) {
	t.mu.Lock()

	node, exists := t.nodes[hb.NodeID]
	if !exists {
		node = &common.StorageNodeInfo{
			ID:           hb.NodeID,
			RegisteredAt: time.Now(),
		}
		t.nodes[hb.NodeID] = node
		t.logger.Info().Str("node", string(hb.NodeID)).Msg("node registered")
	}

	if node.Status == common.NodeInactive {
		t.logger.Info().Str("node", string(hb.NodeID)).Msg("node back online")
	}
	node.Status = common.NodeActive
	node.LastHeartbeat = hb.Timestamp
	if hb.Address != "" {
		node.Address = hb.Address
	}
	node.StorageUsed = hb.StorageUsed
	node.StorageCapacity = hb.StorageCapacity
	snapshot := *node

	t.mu.Unlock()

	if err := t.store.UpsertNode(&snapshot); err != nil {
		t.logger.Error().Err(err).Str("node", string(hb.NodeID)).Msg("persist node failed")
	}
}

// Sweep marks every node whose last heartbeat is older than the timeout as
// inactive and returns the ids that flipped. Block locations on swept nodes
// are retained; downtime is expected to be recoverable.
func (t *LivenessTracker) Sweep(now time.Time) []common.NodeID {
	t.mu.Lock()

	var flipped []common.NodeID
	var snapshots []common.StorageNodeInfo
	for id, node := range t.nodes {
		if node.Status == common.NodeActive && now.Sub(node.LastHeartbeat) > t.timeout {
			node.Status = common.NodeInactive
			flipped = append(flipped, id)
			snapshots = append(snapshots, *node)
		}
	}

	t.mu.Unlock()

	for i := range snapshots {
		if err := t.store.UpsertNode(&snapshots[i]); err != nil {
			t.logger.Error().Err(err).Str("node", string(snapshots[i].ID)).Msg("persist node failed")
		}
	}
	for _, id := range flipped {
		t.logger.Warn().Str("node", string(id)).Msg("heartbeat timeout, node marked inactive")
	}
	return flipped
}

// Run sweeps at the given interval until the context is cancelled.
func (t *LivenessTracker) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.Sweep(time.Now())
		}
	}
}

// IsActive reports whether the node is currently active.
func (t *LivenessTracker) IsActive(id common.NodeID) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	node, exists := t.nodes[id]
	return exists && node.Status == common.NodeActive
}

// Node returns a snapshot of one node.
func (t *LivenessTracker) Node(id common.NodeID) (common.StorageNodeInfo, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	node, exists := t.nodes[id]
	if !exists {
		return common.StorageNodeInfo{}, false
	}
	return *node, true
}

// ActiveNodes returns snapshots of all currently active nodes.
func (t *LivenessTracker) ActiveNodes() []common.StorageNodeInfo {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]common.StorageNodeInfo, 0, len(t.nodes))
	for _, node := range t.nodes {
		if node.Status == common.NodeActive {
			out = append(out, *node)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ActiveCount returns the number of currently active nodes.
func (t *LivenessTracker) ActiveCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	count := 0
	for _, node := range t.nodes {
		if node.Status == common.NodeActive {
			count++
		}
	}
	return count
}

// AllNodes returns snapshots of every known node, active or not.
func (t *LivenessTracker) AllNodes() []common.StorageNodeInfo {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]common.StorageNodeInfo, 0, len(t.nodes))
	for _, node := range t.nodes {
		out = append(out, *node)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
