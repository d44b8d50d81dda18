package protocol

import (
	"bytes"
	"testing"
)

func TestMessageRoundTrip(t *testing.T) {
	req := PutFileRequest{
		Request:  Request{RequestID: "r1", Owner: "alice"},
		FileName: "a.bin",
		FilePath: "/docs/a.bin",
		Data:     []byte{0x00, 0x01, 0xff},
	}
	payload, err := EncodePayload(&req)
	if err != nil {
		t.Fatalf("EncodePayload: %v", err)
	}

	var buf bytes.Buffer
	if err := WriteMessage(&buf, &Message{Type: MsgTypePutFile, Payload: payload}); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}

	msg, err := ReadMessage(&buf)
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if msg.Type != MsgTypePutFile {
		t.Errorf("Type = %d, want %d", msg.Type, MsgTypePutFile)
	}

	var got PutFileRequest
	if err := DecodePayload(msg.Payload, &got); err != nil {
		t.Fatalf("DecodePayload: %v", err)
	}
	if got.RequestID != "r1" || got.FilePath != "/docs/a.bin" || !bytes.Equal(got.Data, req.Data) {
		t.Errorf("decoded = %+v", got)
	}
}

func TestMultipleFramesOnOneStream(t *testing.T) {
	var buf bytes.Buffer
	WriteMessage(&buf, &Message{Type: MsgTypeGetFile, Payload: []byte(`{"a":1}`)})
	WriteMessage(&buf, &Message{Type: MsgTypeGetStatus, Payload: []byte(`{"b":2}`)})

	first, err := ReadMessage(&buf)
	if err != nil || first.Type != MsgTypeGetFile {
		t.Fatalf("first frame = %+v, %v", first, err)
	}
	second, err := ReadMessage(&buf)
	if err != nil || second.Type != MsgTypeGetStatus {
		t.Fatalf("second frame = %+v, %v", second, err)
	}
}

func TestReadTruncatedFrame(t *testing.T) {
	var buf bytes.Buffer
	WriteMessage(&buf, &Message{Type: MsgTypePutFile, Payload: []byte(`{"x":1}`)})
	truncated := buf.Bytes()[:buf.Len()-3]

	if _, err := ReadMessage(bytes.NewReader(truncated)); err == nil {
		t.Error("truncated frame decoded without error")
	}
}
