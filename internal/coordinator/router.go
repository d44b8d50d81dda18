package coordinator

import (
	"context"
	"sort"

	"github.com/griddfs/griddfs/internal/splitter"
	"github.com/griddfs/griddfs/pkg/common"
)

// ReadFile reassembles a stored file: look up the file record, walk its
// blocks in index order, fetch each from the least-loaded active holder, and
// verify both per-block and whole-file hashes before handing bytes back.
func (c *Service) ReadFile(ctx context.Context, owner, path string) (*common.FileMetadata, []byte, error) {
	file, err := c.store.GetFile(owner, path)
	if err != nil {
		return nil, nil, err
	}

	blocks, err := c.store.FileBlocks(file.ID)
	if err != nil {
		return nil, nil, err
	}
	sort.Slice(blocks, func(i, j int) bool { return blocks[i].Index < blocks[j].Index })

	data := make([]byte, 0, file.Size)
	for i := range blocks {
		payload, err := c.fetchBlock(ctx, &blocks[i])
		if err != nil {
			return nil, nil, err
		}
		data = append(data, payload...)
	}

	if err := splitter.Verify(data, file.Hash); err != nil {
		c.logger.Error().Str("path", path).Msg("reassembled file failed hash check")
		return nil, nil, err
	}
	return file, data, nil
}

// fetchBlock tries the block's candidate holders in order until one returns a
// payload matching the block hash. A holder serving corrupt bytes is skipped
// in favor of the next; only when every candidate is exhausted does the read
// fail.
func (c *Service) fetchBlock(ctx context.Context, blk *common.BlockInfo) ([]byte, error) {
	candidates, err := c.blockHolders(blk.ID)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, &common.BlockUnavailableError{BlockID: blk.ID, Index: blk.Index}
	}

	for _, nodeID := range candidates {
		payload, err := c.bus.FetchBlock(ctx, nodeID, blk.ID)
		if err != nil {
			c.logger.Warn().
				Str("block", string(blk.ID)).
				Str("node", string(nodeID)).
				Err(err).
				Msg("block fetch failed, trying next holder")
			continue
		}
		if err := splitter.Verify(payload, blk.Hash); err != nil {
			c.logger.Warn().
				Str("block", string(blk.ID)).
				Str("node", string(nodeID)).
				Msg("block payload failed hash check, trying next holder")
			continue
		}
		return payload, nil
	}
	return nil, &common.BlockUnavailableError{BlockID: blk.ID, Index: blk.Index}
}

// blockHolders returns the active, non-stale holders of a block, least-loaded
// first. Stale locations and locations on inactive nodes are skipped but not
// deleted; an inactive node that comes back serves its blocks again.
func (c *Service) blockHolders(blockID common.BlockID) ([]common.NodeID, error) {
	locations, err := c.store.BlockLocations(blockID)
	if err != nil {
		return nil, err
	}

	type holder struct {
		id   common.NodeID
		used int64
	}
	var holders []holder
	for _, loc := range locations {
		if loc.Status != common.LocationActive {
			continue
		}
		node, ok := c.tracker.Node(loc.NodeID)
		if !ok || node.Status != common.NodeActive {
			continue
		}
		holders = append(holders, holder{id: loc.NodeID, used: node.StorageUsed})
	}
	sort.Slice(holders, func(i, j int) bool {
		if holders[i].used != holders[j].used {
			return holders[i].used < holders[j].used
		}
		return holders[i].id < holders[j].id
	})

	out := make([]common.NodeID, len(holders))
	for i := range holders {
		out[i] = holders[i].id
	}
	return out, nil
}
