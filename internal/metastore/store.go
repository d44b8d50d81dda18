// Package metastore persists the coordinator's metadata: files, blocks,
// storage nodes, block locations and upload sessions.
//
// The store is a transactional surface with three uniqueness constraints:
// (owner, path) on files, (file, index) on blocks and (block, node) on
// locations. Block locations are append-only facts; AddLocation of an
// existing pair reports a duplicate instead of failing, so confirmation
// ingest stays idempotent.
package metastore

import (
	"github.com/griddfs/griddfs/pkg/common"
)

// Store is the metadata persistence surface used by the coordinator.
type Store interface {
	// Files. CreateFile fails with ErrFileExists when (owner, path) is
	// taken; DeleteFile cascades to the file's blocks and their locations.
	CreateFile(f *common.FileMetadata) error
	GetFile(owner, path string) (*common.FileMetadata, error)
	ListFiles(owner, prefix string) ([]common.FileMetadata, error)
	DeleteFile(owner, path string) error
	FileCount() (int, error)

	// Blocks. PutBlocks stores the block rows of one file; blocks are
	// immutable once written.
	PutBlocks(blocks []common.BlockInfo) error
	GetBlock(id common.BlockID) (*common.BlockInfo, error)
	FileBlocks(fileID common.FileID) ([]common.BlockInfo, error)

	// Storage nodes.
	UpsertNode(n *common.StorageNodeInfo) error
	GetNode(id common.NodeID) (*common.StorageNodeInfo, error)
	ListNodes() ([]common.StorageNodeInfo, error)

	// Block locations. AddLocation returns false when the (block, node)
	// pair already exists.
	AddLocation(loc *common.BlockLocation) (bool, error)
	MarkLocationStale(blockID common.BlockID, nodeID common.NodeID) error
	BlockLocations(blockID common.BlockID) ([]common.BlockLocation, error)

	// Upload sessions.
	PutSession(s *common.UploadSession) error
	GetSession(id common.SessionID) (*common.UploadSession, error)
	ListSessions() ([]common.UploadSession, error)

	Close() error
}
