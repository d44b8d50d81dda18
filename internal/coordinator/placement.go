package coordinator

import (
	"context"
	"time"

	"github.com/griddfs/griddfs/pkg/common"
)

// runPlacement drives one upload session to a terminal state. Each round
// broadcasts every still-unsatisfied block to the fleet with the current
// cluster hint, then waits up to the confirmation window for enough distinct
// nodes to volunteer. Rounds are bounded; a session that cannot reach the
// replication target fails rather than retrying forever.
func (c *Service) runPlacement(ctx context.Context, s *session) {
	logger := c.logger.With().Str("session", string(s.info.ID)).Logger()

	s.markInProgress()
	c.persistSession(s)

	for round := 1; round <= c.cfg.PlacementRounds; round++ {
		missing := s.unsatisfied()
		if len(missing) == 0 {
			break
		}

		active := c.tracker.ActiveCount()
		logger.Info().
			Int("round", round).
			Int("blocks", len(missing)).
			Int("active_nodes", active).
			Msg("broadcasting blocks")

		for _, idx := range missing {
			blk := s.blocks[idx]
			desc := &common.BlockDescriptor{
				BlockID:           s.ids[idx],
				SessionID:         s.info.ID,
				Index:             idx,
				Size:              blk.Size,
				Hash:              blk.Hash,
				ReplicationTarget: s.target,
				ActiveNodes:       active,
				Data:              blk.Data,
			}
			if err := c.bus.BroadcastBlock(ctx, desc); err != nil {
				logger.Error().Err(err).Int("index", idx).Msg("broadcast failed")
			}
		}

		if !c.awaitConfirmations(ctx, s) {
			// Session timeout or client abort. Abort already terminalized
			// the session; the timeout path fails it here.
			if s.fail(s.unsatisfied()) {
				c.persistSession(s)
				c.detachSession(s)
				logger.Warn().Msg("session timed out before reaching replication target")
			}
			return
		}
	}

	if s.complete() {
		c.finishSession(s)
		return
	}

	failed := s.unsatisfied()
	if s.fail(failed) {
		c.persistSession(s)
		c.detachSession(s)
		logger.Warn().
			Err(&common.InsufficientReplicationError{
				SessionID:    s.info.ID,
				BlockIndexes: failed,
				Target:       s.target,
			}).
			Msg("session failed")
	}
}

// awaitConfirmations blocks until every block reached the target, the
// confirmation window expired, or the context was cancelled. It reports false
// only on cancellation.
func (c *Service) awaitConfirmations(ctx context.Context, s *session) bool {
	timer := time.NewTimer(c.cfg.ConfirmWait)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return false
		case <-s.done:
			// Aborted from the client side while waiting.
			return false
		case <-timer.C:
			return true
		case <-s.progress:
			if len(s.unsatisfied()) == 0 {
				return true
			}
		}
	}
}

// finishSession materializes the file record for a completed session and
// releases the in-memory state. The file only becomes visible to reads here.
func (c *Service) finishSession(s *session) {
	now := time.Now()
	blockIDs := make([]common.BlockID, len(s.ids))
	copy(blockIDs, s.ids)

	file := &common.FileMetadata{
		ID:        s.fileID,
		Owner:     s.info.Owner,
		Name:      s.info.FileName,
		Path:      s.info.FilePath,
		Size:      s.info.FileSize,
		Hash:      s.info.FileHash,
		BlockIDs:  blockIDs,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := c.store.CreateFile(file); err != nil {
		c.logger.Error().Err(err).Str("path", file.Path).Msg("materialize file failed")
		s.mu.Lock()
		s.info.Status = common.SessionFailed
		s.info.UpdatedAt = now
		s.mu.Unlock()
	}
	c.persistSession(s)
	c.detachSession(s)

	c.logger.Info().
		Str("session", string(s.info.ID)).
		Str("path", file.Path).
		Int("blocks", len(blockIDs)).
		Msg("upload completed")
}

func (c *Service) persistSession(s *session) {
	snap := s.snapshot()
	if err := c.store.PutSession(&snap); err != nil {
		c.logger.Error().Err(err).Str("session", string(snap.ID)).Msg("persist session failed")
	}
}
