// Package protocol defines the client-facing wire protocol of the GridDFS
// coordinator. Messages are length-prefixed JSON frames.
package protocol

import (
	"encoding/binary"
	"encoding/json"
	"io"
)

// Message types.
type MsgType uint8

const (
	MsgTypePutFile       MsgType = 10
	MsgTypeGetFile       MsgType = 11
	MsgTypeDeleteFile    MsgType = 12
	MsgTypeListDir       MsgType = 13
	MsgTypeSessionStatus MsgType = 20
	MsgTypeAbortSession  MsgType = 21
	MsgTypeGetStatus     MsgType = 30
	MsgTypeResponse      MsgType = 100
)

// Message is one protocol frame.
type Message struct {
	Type    MsgType `json:"type"`
	Payload []byte  `json:"payload"`
}

// Request is the common request header.
type Request struct {
	RequestID string `json:"request_id"`
	Owner     string `json:"owner"`
}

// Response is the common response header.
type Response struct {
	RequestID string `json:"request_id"`
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
}

// PutFileRequest starts an upload session for the given path.
type PutFileRequest struct {
	Request
	FileName string `json:"file_name"`
	FilePath string `json:"file_path"`
	Data     []byte `json:"data"`
}

// PutFileResponse reports the session created for an upload.
type PutFileResponse struct {
	Response
	SessionID   string `json:"session_id"`
	TotalBlocks int    `json:"total_blocks"`
}

// GetFileRequest fetches a file by path.
type GetFileRequest struct {
	Request
	FilePath string `json:"file_path"`
}

// GetFileResponse carries the reassembled file.
type GetFileResponse struct {
	Response
	FileName string `json:"file_name"`
	FileSize int64  `json:"file_size"`
	Data     []byte `json:"data"`
}

// DeleteFileRequest removes a file, its blocks and their locations.
type DeleteFileRequest struct {
	Request
	FilePath string `json:"file_path"`
}

// DeleteFileResponse acknowledges a delete.
type DeleteFileResponse struct {
	Response
}

// ListDirRequest lists files under a path prefix.
type ListDirRequest struct {
	Request
	Path string `json:"path"`
}

// FileEntry is one row of a directory listing.
type FileEntry struct {
	Name string `json:"name"`
	Path string `json:"path"`
	Size int64  `json:"size"`
	Hash string `json:"hash"`
}

// ListDirResponse carries a directory listing.
type ListDirResponse struct {
	Response
	Files []FileEntry `json:"files"`
}

// SessionStatusRequest queries upload progress.
type SessionStatusRequest struct {
	Request
	SessionID string `json:"session_id"`
}

// BlockProgress is the confirmation count of one block.
type BlockProgress struct {
	Index     int `json:"index"`
	Confirmed int `json:"confirmed"`
	Target    int `json:"target"`
}

// SessionStatusResponse carries session state and per-block progress.
type SessionStatusResponse struct {
	Response
	SessionID string          `json:"session_id"`
	State     string          `json:"state"`
	Blocks    []BlockProgress `json:"blocks"`
}

// AbortSessionRequest aborts an in-progress upload.
type AbortSessionRequest struct {
	Request
	SessionID string `json:"session_id"`
}

// AbortSessionResponse acknowledges an abort.
type AbortSessionResponse struct {
	Response
}

// StatusRequest queries cluster-wide state.
type StatusRequest struct {
	Request
}

// NodeStatus is one node row of a cluster status report.
type NodeStatus struct {
	NodeID          string `json:"node_id"`
	Address         string `json:"address"`
	Status          string `json:"status"`
	StorageUsed     int64  `json:"storage_used"`
	StorageCapacity int64  `json:"storage_capacity"`
}

// StatusResponse carries the cluster status report.
type StatusResponse struct {
	Response
	NodeCount     int          `json:"node_count"`
	ActiveNodes   int          `json:"active_nodes"`
	FileCount     int          `json:"file_count"`
	TotalCapacity int64        `json:"total_capacity"`
	TotalUsed     int64        `json:"total_used"`
	Nodes         []NodeStatus `json:"nodes"`
}

// WriteMessage writes one frame to the connection.
func WriteMessage(w io.Writer, msg *Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	length := uint32(len(data))
	if err := binary.Write(w, binary.BigEndian, length); err != nil {
		return err
	}

	_, err = w.Write(data)
	return err
}

// ReadMessage reads one frame from the connection.
func ReadMessage(r io.Reader) (*Message, error) {
	var length uint32
	if err := binary.Read(r, binary.BigEndian, &length); err != nil {
		return nil, err
	}

	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, err
	}

	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}

	return &msg, nil
}

// EncodePayload encodes a request/response into a payload.
func EncodePayload(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

// DecodePayload decodes a payload into a request/response.
func DecodePayload(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}
