package coordinator

import (
	"sync"
	"time"

	"github.com/griddfs/griddfs/internal/splitter"
	"github.com/griddfs/griddfs/pkg/common"
)

// session is the live state of one upload: the persisted UploadSession row
// plus in-memory confirmation counters. Confirmations arrive concurrently and
// out of order; every fold step runs under the session mutex, and the
// completion guard is re-evaluated after each step.
type session struct {
	mu sync.Mutex

	info    common.UploadSession
	fileID  common.FileID
	blocks  []splitter.Block
	ids     []common.BlockID              // block id per index
	byBlock map[common.BlockID]int        // block id -> index
	holders []map[common.NodeID]struct{}  // distinct confirming nodes per index
	target  int

	failedBlocks []int

	// progress is signalled (non-blocking) after every applied
	// confirmation so the placement loop can re-check satisfaction.
	progress chan struct{}
	// done is closed on the transition into a terminal state.
	done chan struct{}
}

func newSession(info common.UploadSession, fileID common.FileID, blocks []splitter.Block, ids []common.BlockID, target int) *session {
	byBlock := make(map[common.BlockID]int, len(ids))
	holders := make([]map[common.NodeID]struct{}, len(ids))
	for i, id := range ids {
		byBlock[id] = i
		holders[i] = make(map[common.NodeID]struct{})
	}
	return &session{
		info:     info,
		fileID:   fileID,
		blocks:   blocks,
		ids:      ids,
		byBlock:  byBlock,
		holders:  holders,
		target:   target,
		progress: make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

// apply folds one confirmation into the session. Duplicate (block, node)
// pairs are absorbed: the holder set keys on node id, so redelivery never
// raises a counter past the number of distinct contributing nodes.
func (s *session) apply(blockID common.BlockID, nodeID common.NodeID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.info.Status.Terminal() {
		return
	}

	idx, ok := s.byBlock[blockID]
	if !ok {
		return
	}
	if _, dup := s.holders[idx][nodeID]; dup {
		return
	}
	s.holders[idx][nodeID] = struct{}{}

	select {
	case s.progress <- struct{}{}:
	default:
	}
}

// retract removes a node from a block's holder set after the node reported
// the copy lost. The block drops below target again and the next placement
// round re-broadcasts it; terminal sessions are untouched.
func (s *session) retract(blockID common.BlockID, nodeID common.NodeID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.info.Status.Terminal() {
		return
	}
	idx, ok := s.byBlock[blockID]
	if !ok {
		return
	}
	delete(s.holders[idx], nodeID)
}

// confirmed returns the distinct-holder count for a block index.
func (s *session) confirmed(idx int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.holders[idx])
}

// unsatisfied returns the indexes still below the replication target.
func (s *session) unsatisfied() []int {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []int
	for i := range s.holders {
		if len(s.holders[i]) < s.target {
			out = append(out, i)
		}
	}
	return out
}

// markInProgress transitions pending -> in_progress on the first broadcast.
func (s *session) markInProgress() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.info.Status != common.SessionPending {
		return false
	}
	s.info.Status = common.SessionInProgress
	s.info.UpdatedAt = time.Now()
	return true
}

// complete transitions into the completed terminal state. It reports false
// when a block is still below target or the session already terminated.
func (s *session) complete() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.info.Status.Terminal() {
		return false
	}
	for i := range s.holders {
		if len(s.holders[i]) < s.target {
			return false
		}
	}
	s.info.Status = common.SessionCompleted
	s.info.UpdatedAt = time.Now()
	close(s.done)
	return true
}

// fail transitions into the failed terminal state, recording the block
// indexes that missed the target. Already-terminal sessions are untouched.
func (s *session) fail(failedBlocks []int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.info.Status.Terminal() {
		return false
	}
	s.info.Status = common.SessionFailed
	s.info.UpdatedAt = time.Now()
	s.failedBlocks = failedBlocks
	close(s.done)
	return true
}

// failure returns the replication error of a failed session, nil otherwise.
func (s *session) failure() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.info.Status != common.SessionFailed || len(s.failedBlocks) == 0 {
		return nil
	}
	return &common.InsufficientReplicationError{
		SessionID:    s.info.ID,
		BlockIndexes: s.failedBlocks,
		Target:       s.target,
	}
}

// snapshot returns a copy of the session row.
func (s *session) snapshot() common.UploadSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.info
}

// progressCounts returns (index, confirmed) pairs for status reporting.
func (s *session) progressCounts() []int {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]int, len(s.holders))
	for i := range s.holders {
		out[i] = len(s.holders[i])
	}
	return out
}
