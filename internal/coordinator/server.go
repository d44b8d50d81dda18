package coordinator

import (
	"context"
	"fmt"
	"io"
	"net"

	"github.com/griddfs/griddfs/pkg/common"
	"github.com/griddfs/griddfs/pkg/protocol"
)

// Server is the client-facing TCP frontend of the coordinator.
type Server struct {
	svc      *Service
	listener net.Listener
}

// NewServer creates a server for the given service.
func NewServer(svc *Service) *Server {
	return &Server{svc: svc}
}

// ListenAndServe accepts client connections until the context is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.svc.cfg.Address, s.svc.cfg.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	s.listener = listener
	s.svc.logger.Info().Str("addr", addr).Msg("client server listening")

	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.svc.logger.Error().Err(err).Msg("accept failed")
			continue
		}
		go s.handleConn(ctx, conn)
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	for {
		msg, err := protocol.ReadMessage(conn)
		if err != nil {
			if err != io.EOF {
				s.svc.logger.Debug().Err(err).Msg("read frame failed")
			}
			return
		}

		resp, err := s.dispatch(ctx, msg)
		if err != nil {
			s.svc.logger.Error().Err(err).Uint8("type", uint8(msg.Type)).Msg("handle request failed")
			return
		}
		if err := protocol.WriteMessage(conn, resp); err != nil {
			s.svc.logger.Debug().Err(err).Msg("write frame failed")
			return
		}
	}
}

func (s *Server) dispatch(ctx context.Context, msg *protocol.Message) (*protocol.Message, error) {
	switch msg.Type {
	case protocol.MsgTypePutFile:
		return s.handlePutFile(ctx, msg.Payload)
	case protocol.MsgTypeGetFile:
		return s.handleGetFile(ctx, msg.Payload)
	case protocol.MsgTypeDeleteFile:
		return s.handleDeleteFile(msg.Payload)
	case protocol.MsgTypeListDir:
		return s.handleListDir(msg.Payload)
	case protocol.MsgTypeSessionStatus:
		return s.handleSessionStatus(msg.Payload)
	case protocol.MsgTypeAbortSession:
		return s.handleAbortSession(msg.Payload)
	case protocol.MsgTypeGetStatus:
		return s.handleGetStatus(msg.Payload)
	default:
		return nil, fmt.Errorf("unknown message type %d", msg.Type)
	}
}

func (s *Server) handlePutFile(ctx context.Context, payload []byte) (*protocol.Message, error) {
	var req protocol.PutFileRequest
	if err := protocol.DecodePayload(payload, &req); err != nil {
		return nil, err
	}

	resp := protocol.PutFileResponse{Response: okResponse(req.RequestID)}
	sess, err := s.svc.StartUpload(ctx, req.Owner, req.FileName, req.FilePath, req.Data)
	if err != nil {
		resp.Response = errResponse(req.RequestID, err)
	} else {
		resp.SessionID = string(sess.ID)
		resp.TotalBlocks = sess.TotalBlocks
	}
	return encodeResponse(&resp)
}

func (s *Server) handleGetFile(ctx context.Context, payload []byte) (*protocol.Message, error) {
	var req protocol.GetFileRequest
	if err := protocol.DecodePayload(payload, &req); err != nil {
		return nil, err
	}

	resp := protocol.GetFileResponse{Response: okResponse(req.RequestID)}
	file, data, err := s.svc.ReadFile(ctx, req.Owner, req.FilePath)
	if err != nil {
		resp.Response = errResponse(req.RequestID, err)
	} else {
		resp.FileName = file.Name
		resp.FileSize = file.Size
		resp.Data = data
	}
	return encodeResponse(&resp)
}

func (s *Server) handleDeleteFile(payload []byte) (*protocol.Message, error) {
	var req protocol.DeleteFileRequest
	if err := protocol.DecodePayload(payload, &req); err != nil {
		return nil, err
	}

	resp := protocol.DeleteFileResponse{Response: okResponse(req.RequestID)}
	if err := s.svc.DeleteFile(req.Owner, req.FilePath); err != nil {
		resp.Response = errResponse(req.RequestID, err)
	}
	return encodeResponse(&resp)
}

func (s *Server) handleListDir(payload []byte) (*protocol.Message, error) {
	var req protocol.ListDirRequest
	if err := protocol.DecodePayload(payload, &req); err != nil {
		return nil, err
	}

	resp := protocol.ListDirResponse{Response: okResponse(req.RequestID)}
	files, err := s.svc.ListFiles(req.Owner, req.Path)
	if err != nil {
		resp.Response = errResponse(req.RequestID, err)
	} else {
		resp.Files = make([]protocol.FileEntry, len(files))
		for i, f := range files {
			resp.Files[i] = protocol.FileEntry{
				Name: f.Name,
				Path: f.Path,
				Size: f.Size,
				Hash: f.Hash,
			}
		}
	}
	return encodeResponse(&resp)
}

func (s *Server) handleSessionStatus(payload []byte) (*protocol.Message, error) {
	var req protocol.SessionStatusRequest
	if err := protocol.DecodePayload(payload, &req); err != nil {
		return nil, err
	}

	resp := protocol.SessionStatusResponse{Response: okResponse(req.RequestID)}
	sess, counts, err := s.svc.SessionStatus(common.SessionID(req.SessionID))
	if err != nil {
		resp.Response = errResponse(req.RequestID, err)
	} else {
		resp.SessionID = string(sess.ID)
		resp.State = string(sess.Status)
		resp.Blocks = make([]protocol.BlockProgress, len(counts))
		for i, n := range counts {
			resp.Blocks[i] = protocol.BlockProgress{
				Index:     i,
				Confirmed: n,
				Target:    s.svc.cfg.ReplicationTarget,
			}
		}
	}
	return encodeResponse(&resp)
}

func (s *Server) handleAbortSession(payload []byte) (*protocol.Message, error) {
	var req protocol.AbortSessionRequest
	if err := protocol.DecodePayload(payload, &req); err != nil {
		return nil, err
	}

	resp := protocol.AbortSessionResponse{Response: okResponse(req.RequestID)}
	if err := s.svc.AbortSession(common.SessionID(req.SessionID)); err != nil {
		resp.Response = errResponse(req.RequestID, err)
	}
	return encodeResponse(&resp)
}

func (s *Server) handleGetStatus(payload []byte) (*protocol.Message, error) {
	var req protocol.StatusRequest
	if err := protocol.DecodePayload(payload, &req); err != nil {
		return nil, err
	}

	resp := protocol.StatusResponse{Response: okResponse(req.RequestID)}
	nodes, fileCount, err := s.svc.ClusterStatus()
	if err != nil {
		resp.Response = errResponse(req.RequestID, err)
		return encodeResponse(&resp)
	}

	resp.NodeCount = len(nodes)
	resp.FileCount = fileCount
	resp.Nodes = make([]protocol.NodeStatus, len(nodes))
	for i, n := range nodes {
		if n.Status == common.NodeActive {
			resp.ActiveNodes++
		}
		resp.TotalCapacity += n.StorageCapacity
		resp.TotalUsed += n.StorageUsed
		resp.Nodes[i] = protocol.NodeStatus{
			NodeID:          string(n.ID),
			Address:         n.Address,
			Status:          string(n.Status),
			StorageUsed:     n.StorageUsed,
			StorageCapacity: n.StorageCapacity,
		}
	}
	return encodeResponse(&resp)
}

func okResponse(requestID string) protocol.Response {
	return protocol.Response{RequestID: requestID, Success: true}
}

func errResponse(requestID string, err error) protocol.Response {
	return protocol.Response{RequestID: requestID, Success: false, Error: err.Error()}
}

func encodeResponse(v interface{}) (*protocol.Message, error) {
	payload, err := protocol.EncodePayload(v)
	if err != nil {
		return nil, err
	}
	return &protocol.Message{Type: protocol.MsgTypeResponse, Payload: payload}, nil
}
