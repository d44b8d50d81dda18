package common

import (
	"errors"
	"fmt"
)

// Sentinel errors for the coordinator and read path.
var (
	ErrEmptyFile        = errors.New("empty file: nothing to split")
	ErrFileNotFound     = errors.New("file not found")
	ErrFileExists       = errors.New("file already exists at path")
	ErrSessionNotFound  = errors.New("upload session not found")
	ErrSessionTerminal  = errors.New("upload session already in a terminal state")
	ErrNodeNotFound     = errors.New("storage node not found")
	ErrBlockNotFound    = errors.New("block not found")
	ErrChecksumMismatch = errors.New("checksum mismatch")
)

// InsufficientReplicationError is fatal to a session: one or more blocks
// exhausted their retry budget without reaching the replication target.
type InsufficientReplicationError struct {
	SessionID    SessionID
	BlockIndexes []int
	Target       int
}

func (e *InsufficientReplicationError) Error() string {
	return fmt.Sprintf("session %s: blocks %v failed to reach %d confirmed replicas",
		e.SessionID, e.BlockIndexes, e.Target)
}

// BlockUnavailableError is fatal to a read: no active node holds the block.
type BlockUnavailableError struct {
	BlockID BlockID
	Index   int
}

func (e *BlockUnavailableError) Error() string {
	return fmt.Sprintf("block %s (index %d) has no active holder", e.BlockID, e.Index)
}
