package metastore

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/griddfs/griddfs/pkg/common"
)

// MemoryStore is an in-process Store used by tests and single-binary runs.
type MemoryStore struct {
	mu        sync.RWMutex
	files     map[string]*common.FileMetadata // key: owner + "\x00" + path
	fileKeys  map[common.FileID]string
	blocks    map[common.BlockID]*common.BlockInfo
	byFile    map[common.FileID][]common.BlockID
	nodes     map[common.NodeID]*common.StorageNodeInfo
	locations map[common.BlockID]map[common.NodeID]*common.BlockLocation
	sessions  map[common.SessionID]*common.UploadSession
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		files:     make(map[string]*common.FileMetadata),
		fileKeys:  make(map[common.FileID]string),
		blocks:    make(map[common.BlockID]*common.BlockInfo),
		byFile:    make(map[common.FileID][]common.BlockID),
		nodes:     make(map[common.NodeID]*common.StorageNodeInfo),
		locations: make(map[common.BlockID]map[common.NodeID]*common.BlockLocation),
		sessions:  make(map[common.SessionID]*common.UploadSession),
	}
}

func fileKey(owner, path string) string {
	return owner + "\x00" + path
}

func (m *MemoryStore) CreateFile(f *common.FileMetadata) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := fileKey(f.Owner, f.Path)
	if _, exists := m.files[key]; exists {
		return common.ErrFileExists
	}
	cp := *f
	cp.BlockIDs = append([]common.BlockID(nil), f.BlockIDs...)
	m.files[key] = &cp
	m.fileKeys[f.ID] = key
	return nil
}

func (m *MemoryStore) GetFile(owner, path string) (*common.FileMetadata, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	f, exists := m.files[fileKey(owner, path)]
	if !exists {
		return nil, common.ErrFileNotFound
	}
	cp := *f
	return &cp, nil
}

func (m *MemoryStore) ListFiles(owner, prefix string) ([]common.FileMetadata, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []common.FileMetadata
	for _, f := range m.files {
		if f.Owner != owner {
			continue
		}
		if prefix != "" && prefix != "/" && !strings.HasPrefix(f.Path, prefix) {
			continue
		}
		out = append(out, *f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func (m *MemoryStore) DeleteFile(owner, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := fileKey(owner, path)
	f, exists := m.files[key]
	if !exists {
		return common.ErrFileNotFound
	}

	for _, blockID := range m.byFile[f.ID] {
		delete(m.blocks, blockID)
		delete(m.locations, blockID)
	}
	delete(m.byFile, f.ID)
	delete(m.fileKeys, f.ID)
	delete(m.files, key)
	return nil
}

func (m *MemoryStore) FileCount() (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.files), nil
}

func (m *MemoryStore) PutBlocks(blocks []common.BlockInfo) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range blocks {
		b := blocks[i]
		for _, existingID := range m.byFile[b.FileID] {
			if m.blocks[existingID].Index == b.Index {
				return fmt.Errorf("duplicate block index %d for file %s", b.Index, b.FileID)
			}
		}
		cp := b
		m.blocks[b.ID] = &cp
		m.byFile[b.FileID] = append(m.byFile[b.FileID], b.ID)
	}
	return nil
}

func (m *MemoryStore) GetBlock(id common.BlockID) (*common.BlockInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	b, exists := m.blocks[id]
	if !exists {
		return nil, common.ErrBlockNotFound
	}
	cp := *b
	return &cp, nil
}

func (m *MemoryStore) FileBlocks(fileID common.FileID) ([]common.BlockInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := m.byFile[fileID]
	out := make([]common.BlockInfo, 0, len(ids))
	for _, id := range ids {
		out = append(out, *m.blocks[id])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out, nil
}

func (m *MemoryStore) UpsertNode(n *common.StorageNodeInfo) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *n
	m.nodes[n.ID] = &cp
	return nil
}

func (m *MemoryStore) GetNode(id common.NodeID) (*common.StorageNodeInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n, exists := m.nodes[id]
	if !exists {
		return nil, common.ErrNodeNotFound
	}
	cp := *n
	return &cp, nil
}

func (m *MemoryStore) ListNodes() ([]common.StorageNodeInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]common.StorageNodeInfo, 0, len(m.nodes))
	for _, n := range m.nodes {
		out = append(out, *n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) AddLocation(loc *common.BlockLocation) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	byNode, exists := m.locations[loc.BlockID]
	if !exists {
		byNode = make(map[common.NodeID]*common.BlockLocation)
		m.locations[loc.BlockID] = byNode
	}
	if _, dup := byNode[loc.NodeID]; dup {
		return false, nil
	}
	cp := *loc
	byNode[loc.NodeID] = &cp
	return true, nil
}

func (m *MemoryStore) MarkLocationStale(blockID common.BlockID, nodeID common.NodeID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	loc, exists := m.locations[blockID][nodeID]
	if !exists {
		return common.ErrBlockNotFound
	}
	loc.Status = common.LocationStale
	return nil
}

func (m *MemoryStore) BlockLocations(blockID common.BlockID) ([]common.BlockLocation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	byNode := m.locations[blockID]
	out := make([]common.BlockLocation, 0, len(byNode))
	for _, loc := range byNode {
		out = append(out, *loc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NodeID < out[j].NodeID })
	return out, nil
}

func (m *MemoryStore) PutSession(s *common.UploadSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *s
	m.sessions[s.ID] = &cp
	return nil
}

func (m *MemoryStore) GetSession(id common.SessionID) (*common.UploadSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, exists := m.sessions[id]
	if !exists {
		return nil, common.ErrSessionNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *MemoryStore) ListSessions() ([]common.UploadSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]common.UploadSession, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) Close() error {
	return nil
}
