package ipc

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/orbisys/warden/ecode"
)

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	body := []byte(`{"id":"1","type":"ping"}`)

	if err := writeFrame(&buf, body, 1024); err != nil {
		t.Fatalf("writeFrame() error = %v, want nil", err)
	}
	if buf.Len() != lengthPrefixSize+len(body) {
		t.Errorf("frame length = %d, want %d", buf.Len(), lengthPrefixSize+len(body))
	}

	got, err := readFrame(&buf, 1024)
	if err != nil {
		t.Fatalf("readFrame() error = %v, want nil", err)
	}
	if !bytes.Equal(got, body) {
		t.Errorf("readFrame() = %q, want %q", got, body)
	}
}

func TestWriteFrameOversize(t *testing.T) {
	var buf bytes.Buffer
	err := writeFrame(&buf, make([]byte, 100), 64)
	if !errors.Is(err, ecode.ErrProtocol) {
		t.Fatalf("writeFrame() error = %v, want ErrProtocol", err)
	}
	if buf.Len() != 0 {
		t.Errorf("oversize write emitted %d bytes, want 0", buf.Len())
	}
}

func TestReadFrameOversizeAnnounced(t *testing.T) {
	var buf bytes.Buffer
	var prefix [lengthPrefixSize]byte
	binary.BigEndian.PutUint32(prefix[:], 1<<30)
	buf.Write(prefix[:])

	if _, err := readFrame(&buf, 1024); !errors.Is(err, ecode.ErrProtocol) {
		t.Fatalf("readFrame() error = %v, want ErrProtocol", err)
	}
}

func TestReadFrameZeroLength(t *testing.T) {
	buf := bytes.NewBuffer(make([]byte, lengthPrefixSize))
	if _, err := readFrame(buf, 1024); !errors.Is(err, ecode.ErrProtocol) {
		t.Fatalf("readFrame() error = %v, want ErrProtocol", err)
	}
}

func TestReadFrameTruncatedBody(t *testing.T) {
	var buf bytes.Buffer
	var prefix [lengthPrefixSize]byte
	binary.BigEndian.PutUint32(prefix[:], 10)
	buf.Write(prefix[:])
	buf.WriteString("short")

	if _, err := readFrame(&buf, 1024); err == nil {
		t.Fatalf("readFrame() error = nil, want error on truncated body")
	}
}

func TestDecodeMessageMalformed(t *testing.T) {
	if _, err := decodeMessage([]byte("not json")); !errors.Is(err, ecode.ErrProtocol) {
		t.Errorf("decodeMessage(garbage) error = %v, want ErrProtocol", err)
	}
	if _, err := decodeMessage([]byte(`{"id":"1"}`)); !errors.Is(err, ecode.ErrProtocol) {
		t.Errorf("decodeMessage(no type) error = %v, want ErrProtocol", err)
	}
}

func TestMessageEnvelope(t *testing.T) {
	req, err := New(TypeExecuteHook, ExecuteHookPayload{Hook: "content.created", Data: []byte("x"), TimeoutMS: 500})
	if err != nil {
		t.Fatalf("New() error = %v, want nil", err)
	}
	if req.ID == "" {
		t.Fatalf("New() assigned empty ID")
	}

	body, err := encodeMessage(req)
	if err != nil {
		t.Fatalf("encodeMessage() error = %v, want nil", err)
	}
	got, err := decodeMessage(body)
	if err != nil {
		t.Fatalf("decodeMessage() error = %v, want nil", err)
	}
	if got.ID != req.ID || got.Type != TypeExecuteHook {
		t.Errorf("decoded envelope = %s/%s, want %s/%s", got.ID, got.Type, req.ID, TypeExecuteHook)
	}

	var payload ExecuteHookPayload
	if err := got.Decode(&payload); err != nil {
		t.Fatalf("Decode() error = %v, want nil", err)
	}
	if payload.Hook != "content.created" || payload.TimeoutMS != 500 {
		t.Errorf("Decode() = %+v, want hook content.created timeout 500", payload)
	}
}

func TestReplyKeepsRequestID(t *testing.T) {
	req, _ := New(TypePing, nil)
	resp, err := Reply(req, TypePong, nil)
	if err != nil {
		t.Fatalf("Reply() error = %v, want nil", err)
	}
	if resp.ID != req.ID {
		t.Errorf("Reply() ID = %s, want %s", resp.ID, req.ID)
	}
	if resp.Type != TypePong {
		t.Errorf("Reply() type = %s, want %s", resp.Type, TypePong)
	}
}

func TestDecodeOnEmptyPayload(t *testing.T) {
	m, _ := New(TypePing, nil)
	var dst ExecuteHookPayload
	if err := m.Decode(&dst); err == nil {
		t.Fatalf("Decode() on bare envelope error = nil, want error")
	}
}
