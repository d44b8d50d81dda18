// Package common provides the shared type definitions for GridDFS.
package common

import (
	"time"
)

// Default configuration values.
const (
	DefaultBlockSize         = 64 * 1024 * 1024 // 64MB block size
	DefaultReplicationTarget = 2
	DefaultHeartbeatInterval = 5 * time.Second
	DefaultHeartbeatTimeout  = 15 * time.Second
	DefaultConfirmWait       = 10 * time.Second
	DefaultSessionTimeout    = 5 * time.Minute
	DefaultPlacementRounds   = 3
)

// BlockID uniquely identifies a block.
type BlockID string

// NodeID uniquely identifies a storage node.
type NodeID string

// FileID uniquely identifies a file.
type FileID string

// SessionID uniquely identifies an upload session.
type SessionID string

// NodeStatus is the liveness state of a storage node.
type NodeStatus string

const (
	NodeActive   NodeStatus = "active"
	NodeInactive NodeStatus = "inactive"
)

// LocationStatus is the state of a block location fact.
type LocationStatus string

const (
	LocationActive LocationStatus = "active"
	LocationStale  LocationStatus = "stale"
)

// SessionStatus is the state of an upload session.
type SessionStatus string

const (
	SessionPending    SessionStatus = "pending"
	SessionInProgress SessionStatus = "in_progress"
	SessionCompleted  SessionStatus = "completed"
	SessionFailed     SessionStatus = "failed"
)

// Terminal reports whether the session state accepts no further transitions.
func (s SessionStatus) Terminal() bool {
	return s == SessionCompleted || s == SessionFailed
}

// FileMetadata describes a stored file. A file record only exists after its
// upload session completed; records are immutable once written.
type FileMetadata struct {
	ID        FileID    `json:"id"`
	Owner     string    `json:"owner"`
	Name      string    `json:"name"`
	Path      string    `json:"path"`
	Size      int64     `json:"size"`
	Hash      string    `json:"hash"`
	BlockIDs  []BlockID `json:"block_ids"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BlockInfo describes one block of a file. Index defines reassembly order;
// (FileID, Index) is unique. Blocks are created at upload start and never
// mutated.
type BlockInfo struct {
	ID        BlockID   `json:"id"`
	FileID    FileID    `json:"file_id"`
	Index     int       `json:"index"`
	Size      int64     `json:"size"`
	Hash      string    `json:"hash"`
	CreatedAt time.Time `json:"created_at"`
}

// StorageNodeInfo describes a storage node as known to the coordinator.
// Capacity fields are only ever updated from that node's own heartbeats.
type StorageNodeInfo struct {
	ID              NodeID     `json:"id"`
	Address         string     `json:"address"`
	Status          NodeStatus `json:"status"`
	LastHeartbeat   time.Time  `json:"last_heartbeat"`
	StorageUsed     int64      `json:"storage_used"`
	StorageCapacity int64      `json:"storage_capacity"`
	RegisteredAt    time.Time  `json:"registered_at"`
}

// BlockLocation is a fact asserted by a node that it holds a block. The pair
// (BlockID, NodeID) is unique; re-confirming is a no-op. Locations are never
// deleted on node failure, only marked stale when the node reports the block
// lost, or removed by file delete cascade.
type BlockLocation struct {
	BlockID     BlockID        `json:"block_id"`
	NodeID      NodeID         `json:"node_id"`
	Status      LocationStatus `json:"status"`
	StoragePath string         `json:"storage_path"`
	ConfirmedAt time.Time      `json:"confirmed_at"`
}

// UploadSession tracks one file's blocks from broadcast to completion.
type UploadSession struct {
	ID          SessionID     `json:"id"`
	Owner       string        `json:"owner"`
	FilePath    string        `json:"file_path"`
	FileName    string        `json:"file_name"`
	FileSize    int64         `json:"file_size"`
	FileHash    string        `json:"file_hash"`
	TotalBlocks int           `json:"total_blocks"`
	Status      SessionStatus `json:"status"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// BlockDescriptor is the unit broadcast to the fleet: the block identity plus
// its payload. Nodes verify the payload against Hash before storing.
// ReplicationTarget and ActiveNodes form the cluster hint for the admission
// policy: roughly ReplicationTarget out of ActiveNodes nodes should keep the
// block.
type BlockDescriptor struct {
	BlockID           BlockID   `json:"block_id"`
	SessionID         SessionID `json:"session_id"`
	Index             int       `json:"index"`
	Size              int64     `json:"size"`
	Hash              string    `json:"hash"`
	ReplicationTarget int       `json:"replication_target"`
	ActiveNodes       int       `json:"active_nodes"`
	Data              []byte    `json:"data"`
}

// Confirmation is the idempotent fact message a node emits after persisting
// a block. Lost marks the inverse fact: the node no longer holds the block
// after local corruption.
type Confirmation struct {
	BlockID     BlockID   `json:"block_id"`
	NodeID      NodeID    `json:"node_id"`
	StoragePath string    `json:"storage_path"`
	Hash        string    `json:"hash"`
	Lost        bool      `json:"lost,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// Heartbeat carries a node's self-reported capacity state.
type Heartbeat struct {
	NodeID          NodeID    `json:"node_id"`
	Address         string    `json:"address"`
	StorageUsed     int64     `json:"storage_used"`
	StorageCapacity int64     `json:"storage_capacity"`
	Timestamp       time.Time `json:"timestamp"`
}
