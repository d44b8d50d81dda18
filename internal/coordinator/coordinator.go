// Package coordinator implements the GridDFS metadata coordinator: it splits
// uploads into blocks, broadcasts them to the storage fleet, folds incoming
// confirmations into upload sessions, tracks node liveness and routes reads.
package coordinator

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/griddfs/griddfs/internal/bus"
	"github.com/griddfs/griddfs/internal/metastore"
	"github.com/griddfs/griddfs/internal/splitter"
	"github.com/griddfs/griddfs/pkg/common"
	"github.com/griddfs/griddfs/pkg/config"
)

// Service is the coordinator. It owns the metadata store, the liveness
// tracker and the in-flight upload sessions; all mutation of placement state
// flows through the confirmation ingest loop.
type Service struct {
	cfg     config.CoordinatorConfig
	store   metastore.Store
	bus     bus.Coordinator
	tracker *LivenessTracker
	logger  zerolog.Logger

	blockSize int64

	mu       sync.RWMutex
	sessions map[common.SessionID]*session
	byBlock  map[common.BlockID]*session
}

// NewService creates a coordinator service over the given store and bus.
func NewService(cfg config.CoordinatorConfig, store metastore.Store, b bus.Coordinator, logger zerolog.Logger) (*Service, error) {
	blockSize, err := cfg.BlockSizeBytes()
	if err != nil {
		return nil, err
	}

	tracker, err := NewLivenessTracker(store, cfg.HeartbeatTimeout, logger)
	if err != nil {
		return nil, fmt.Errorf("init liveness tracker: %w", err)
	}

	svc := &Service{
		cfg:       cfg,
		store:     store,
		bus:       b,
		tracker:   tracker,
		logger:    logger.With().Str("component", "coordinator").Logger(),
		blockSize: blockSize,
		sessions:  make(map[common.SessionID]*session),
		byBlock:   make(map[common.BlockID]*session),
	}
	if err := svc.failOrphanedSessions(); err != nil {
		return nil, fmt.Errorf("recover sessions: %w", err)
	}
	return svc, nil
}

// failOrphanedSessions terminates sessions left non-terminal by a previous
// run. Block payloads live only in memory while a session is in flight, so a
// restarted coordinator cannot resume broadcasting them; the sessions fail
// and clients re-upload. Locations already confirmed stay valid.
func (c *Service) failOrphanedSessions() error {
	sessions, err := c.store.ListSessions()
	if err != nil {
		return err
	}
	for i := range sessions {
		s := sessions[i]
		if s.Status.Terminal() {
			continue
		}
		s.Status = common.SessionFailed
		s.UpdatedAt = time.Now()
		if err := c.store.PutSession(&s); err != nil {
			return err
		}
		c.logger.Warn().Str("session", string(s.ID)).Msg("orphaned session failed on startup")
	}
	return nil
}

// Tracker exposes the liveness tracker.
func (c *Service) Tracker() *LivenessTracker {
	return c.tracker
}

// Run starts the coordinator's background loops and blocks until the context
// is cancelled: heartbeat ingest, confirmation ingest and the liveness sweep.
func (c *Service) Run(ctx context.Context) error {
	heartbeats, err := c.bus.Heartbeats(ctx)
	if err != nil {
		return fmt.Errorf("subscribe heartbeats: %w", err)
	}
	confirmations, err := c.bus.Confirmations(ctx)
	if err != nil {
		return fmt.Errorf("subscribe confirmations: %w", err)
	}

	go c.tracker.Run(ctx, c.cfg.SweepInterval)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case hb, ok := <-heartbeats:
				if !ok {
					return
				}
				c.tracker.Observe(hb)
			}
		}
	}()

	c.logger.Info().
		Int64("block_size", c.blockSize).
		Int("replication_target", c.cfg.ReplicationTarget).
		Msg("coordinator started")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case conf, ok := <-confirmations:
			if !ok {
				return nil
			}
			c.ingestConfirmation(conf)
		}
	}
}

// ingestConfirmation folds one confirmation message into durable state and
// into the owning session, if one is still in flight. Both sides are
// idempotent: AddLocation absorbs duplicate (block, node) pairs and the
// session's holder sets key on node id. Lost confirmations only flip the
// location stale; they never touch session counters.
func (c *Service) ingestConfirmation(conf common.Confirmation) {
	if conf.Lost {
		// A lost copy no longer counts toward the session's target.
		c.mu.RLock()
		s := c.byBlock[conf.BlockID]
		c.mu.RUnlock()
		if s != nil {
			s.retract(conf.BlockID, conf.NodeID)
		}

		if err := c.store.MarkLocationStale(conf.BlockID, conf.NodeID); err != nil {
			c.logger.Error().Err(err).
				Str("block", string(conf.BlockID)).
				Str("node", string(conf.NodeID)).
				Msg("mark location stale failed")
			return
		}
		c.logger.Warn().
			Str("block", string(conf.BlockID)).
			Str("node", string(conf.NodeID)).
			Msg("block reported lost, location marked stale")
		return
	}

	added, err := c.store.AddLocation(&common.BlockLocation{
		BlockID:     conf.BlockID,
		NodeID:      conf.NodeID,
		Status:      common.LocationActive,
		StoragePath: conf.StoragePath,
		ConfirmedAt: conf.Timestamp,
	})
	if err != nil {
		c.logger.Error().Err(err).
			Str("block", string(conf.BlockID)).
			Str("node", string(conf.NodeID)).
			Msg("record location failed")
		return
	}
	if added {
		c.logger.Debug().
			Str("block", string(conf.BlockID)).
			Str("node", string(conf.NodeID)).
			Msg("block location confirmed")
	}

	c.mu.RLock()
	s := c.byBlock[conf.BlockID]
	c.mu.RUnlock()
	if s != nil {
		s.apply(conf.BlockID, conf.NodeID)
	}
}

// StartUpload splits the payload, persists the block rows and the session,
// and kicks off the placement loop. The call returns as soon as the session
// exists; clients poll SessionStatus for progress.
func (c *Service) StartUpload(ctx context.Context, owner, fileName, filePath string, data []byte) (*common.UploadSession, error) {
	if existing, err := c.store.GetFile(owner, filePath); err == nil && existing != nil {
		return nil, common.ErrFileExists
	}

	result, err := splitter.Split(bytes.NewReader(data), c.blockSize)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	fileID := common.FileID(uuid.NewString())
	sessionID := common.SessionID(uuid.NewString())

	rows := make([]common.BlockInfo, len(result.Blocks))
	ids := make([]common.BlockID, len(result.Blocks))
	for i, blk := range result.Blocks {
		id := common.BlockID(uuid.NewString())
		ids[i] = id
		rows[i] = common.BlockInfo{
			ID:        id,
			FileID:    fileID,
			Index:     blk.Index,
			Size:      blk.Size,
			Hash:      blk.Hash,
			CreatedAt: now,
		}
	}
	if err := c.store.PutBlocks(rows); err != nil {
		return nil, fmt.Errorf("persist blocks: %w", err)
	}

	info := common.UploadSession{
		ID:          sessionID,
		Owner:       owner,
		FilePath:    filePath,
		FileName:    fileName,
		FileSize:    result.FileSize,
		FileHash:    result.FileHash,
		TotalBlocks: len(result.Blocks),
		Status:      common.SessionPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := c.store.PutSession(&info); err != nil {
		return nil, fmt.Errorf("persist session: %w", err)
	}

	s := newSession(info, fileID, result.Blocks, ids, c.cfg.ReplicationTarget)
	c.attachSession(s)

	c.logger.Info().
		Str("session", string(sessionID)).
		Str("path", filePath).
		Int("blocks", len(ids)).
		Int64("size", result.FileSize).
		Msg("upload session started")

	go func() {
		pctx, cancel := context.WithTimeout(context.Background(), c.cfg.SessionTimeout)
		defer cancel()
		c.runPlacement(pctx, s)
	}()

	snap := s.snapshot()
	return &snap, nil
}

// SessionStatus reports a session's state with per-block confirmation counts.
// In-flight sessions answer from memory; finished ones from the store.
func (c *Service) SessionStatus(id common.SessionID) (*common.UploadSession, []int, error) {
	c.mu.RLock()
	s := c.sessions[id]
	c.mu.RUnlock()

	if s != nil {
		snap := s.snapshot()
		return &snap, s.progressCounts(), nil
	}

	stored, err := c.store.GetSession(id)
	if err != nil {
		return nil, nil, err
	}
	return stored, nil, nil
}

// AbortSession fails an in-flight session. Already-terminal sessions report
// ErrSessionTerminal; confirmed blocks stay where they landed, the file
// record is simply never materialized.
func (c *Service) AbortSession(id common.SessionID) error {
	c.mu.RLock()
	s := c.sessions[id]
	c.mu.RUnlock()

	if s == nil {
		stored, err := c.store.GetSession(id)
		if err != nil {
			return err
		}
		if stored.Status.Terminal() {
			return common.ErrSessionTerminal
		}
		stored.Status = common.SessionFailed
		stored.UpdatedAt = time.Now()
		return c.store.PutSession(stored)
	}

	if !s.fail(nil) {
		return common.ErrSessionTerminal
	}
	c.persistSession(s)
	c.detachSession(s)
	c.logger.Info().Str("session", string(id)).Msg("session aborted")
	return nil
}

// DeleteFile removes the file record, its blocks and their locations.
func (c *Service) DeleteFile(owner, path string) error {
	if err := c.store.DeleteFile(owner, path); err != nil {
		return err
	}
	c.logger.Info().Str("owner", owner).Str("path", path).Msg("file deleted")
	return nil
}

// ListFiles lists an owner's files under a path prefix.
func (c *Service) ListFiles(owner, prefix string) ([]common.FileMetadata, error) {
	return c.store.ListFiles(owner, prefix)
}

// ClusterStatus summarizes the fleet and the file count.
func (c *Service) ClusterStatus() ([]common.StorageNodeInfo, int, error) {
	files, err := c.store.FileCount()
	if err != nil {
		return nil, 0, err
	}
	return c.tracker.AllNodes(), files, nil
}

func (c *Service) attachSession(s *session) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.sessions[s.info.ID] = s
	for _, id := range s.ids {
		c.byBlock[id] = s
	}
}

// detachSession drops a terminal session's routing entries. Late
// confirmations for its blocks still land in the location table via
// ingestConfirmation; only the session counters stop moving.
func (c *Service) detachSession(s *session) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.sessions, s.snapshot().ID)
	for _, id := range s.ids {
		delete(c.byBlock, id)
	}
}
