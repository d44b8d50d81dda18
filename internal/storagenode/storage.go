package storagenode

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/griddfs/griddfs/pkg/common"
)

// blockMeta is the sidecar record kept next to each block payload so the
// agent can re-verify and re-confirm blocks after a restart.
type blockMeta struct {
	BlockID common.BlockID `json:"block_id"`
	Size    int64          `json:"size"`
	Hash    string         `json:"hash"`
}

// BlockStore is the node-local block storage: payload files named by block id
// plus a sidecar meta file per block. It is loaded on startup so storage_used
// survives restarts.
type BlockStore struct {
	baseDir string

	mu     sync.RWMutex
	blocks map[common.BlockID]blockMeta
	used   int64
}

// NewBlockStore opens the block directory and indexes existing blocks.
func NewBlockStore(baseDir string) (*BlockStore, error) {
	dir := filepath.Join(baseDir, "blocks")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	bs := &BlockStore{
		baseDir: dir,
		blocks:  make(map[common.BlockID]blockMeta),
	}
	if err := bs.loadExisting(); err != nil {
		return nil, fmt.Errorf("index existing blocks: %w", err)
	}
	return bs, nil
}

func (bs *BlockStore) loadExisting() error {
	entries, err := os.ReadDir(bs.baseDir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".meta" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(bs.baseDir, entry.Name()))
		if err != nil {
			continue
		}
		var meta blockMeta
		if err := json.Unmarshal(data, &meta); err != nil {
			continue
		}
		bs.blocks[meta.BlockID] = meta
		bs.used += meta.Size
	}
	return nil
}

// Put persists a block payload and its meta record. Re-putting an existing
// block is a no-op so redelivered broadcasts never double-count usage.
func (bs *BlockStore) Put(blockID common.BlockID, data []byte, hash string) (string, error) {
	bs.mu.Lock()
	defer bs.mu.Unlock()

	path := bs.blockPath(blockID)
	if _, exists := bs.blocks[blockID]; exists {
		return path, nil
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", err
	}
	meta := blockMeta{BlockID: blockID, Size: int64(len(data)), Hash: hash}
	metaData, err := json.Marshal(meta)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path+".meta", metaData, 0644); err != nil {
		return "", err
	}

	bs.blocks[blockID] = meta
	bs.used += meta.Size
	return path, nil
}

// Get reads a block payload.
func (bs *BlockStore) Get(blockID common.BlockID) ([]byte, error) {
	bs.mu.RLock()
	_, exists := bs.blocks[blockID]
	bs.mu.RUnlock()

	if !exists {
		return nil, common.ErrBlockNotFound
	}
	return os.ReadFile(bs.blockPath(blockID))
}

// Has reports whether the block is held locally, and its storage path.
func (bs *BlockStore) Has(blockID common.BlockID) (string, bool) {
	bs.mu.RLock()
	defer bs.mu.RUnlock()

	if _, exists := bs.blocks[blockID]; !exists {
		return "", false
	}
	return bs.blockPath(blockID), true
}

// Meta returns the sidecar record of a held block.
func (bs *BlockStore) Meta(blockID common.BlockID) (blockMeta, bool) {
	bs.mu.RLock()
	defer bs.mu.RUnlock()

	meta, exists := bs.blocks[blockID]
	return meta, exists
}

// Remove drops a block and releases its usage accounting.
func (bs *BlockStore) Remove(blockID common.BlockID) error {
	bs.mu.Lock()
	defer bs.mu.Unlock()

	meta, exists := bs.blocks[blockID]
	if !exists {
		return common.ErrBlockNotFound
	}
	path := bs.blockPath(blockID)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	os.Remove(path + ".meta")

	delete(bs.blocks, blockID)
	bs.used -= meta.Size
	return nil
}

// Used returns the bytes currently held.
func (bs *BlockStore) Used() int64 {
	bs.mu.RLock()
	defer bs.mu.RUnlock()
	return bs.used
}

// BlockCount returns the number of blocks held.
func (bs *BlockStore) BlockCount() int {
	bs.mu.RLock()
	defer bs.mu.RUnlock()
	return len(bs.blocks)
}

// List returns the ids of all held blocks.
func (bs *BlockStore) List() []common.BlockID {
	bs.mu.RLock()
	defer bs.mu.RUnlock()

	out := make([]common.BlockID, 0, len(bs.blocks))
	for id := range bs.blocks {
		out = append(out, id)
	}
	return out
}

func (bs *BlockStore) blockPath(blockID common.BlockID) string {
	return filepath.Join(bs.baseDir, string(blockID))
}
