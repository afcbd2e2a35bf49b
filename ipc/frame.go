package ipc

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"github.com/valyala/bytebufferpool"

	"github.com/orbisys/warden/ecode"
)

const (
	// lengthPrefixSize is the size of the frame length header.
	lengthPrefixSize = 4
	// DefaultMaxFrameBytes bounds a single message unless configured
	// otherwise.
	DefaultMaxFrameBytes = 16 << 20
)

// writeFrame writes one length-prefixed frame. The prefix and body go out
// in a single Write so a frame is never interleaved with another writer's
// bytes at the syscall boundary.
func writeFrame(w io.Writer, body []byte, maxBytes int) error {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxFrameBytes
	}
	if len(body) > maxBytes {
		return ecode.Protocol(fmt.Sprintf("frame size %d exceeds limit %d", len(body), maxBytes))
	}

	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)

	var prefix [lengthPrefixSize]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(body)))
	buf.Write(prefix[:]) //nolint:errcheck // ByteBuffer writes cannot fail
	buf.Write(body)      //nolint:errcheck

	if _, err := w.Write(buf.B); err != nil {
		return err
	}
	return nil
}

// readFrame reads one length-prefixed frame. An oversized announced length
// is a protocol violation: the stream is unrecoverable past this point
// because the remainder cannot be resynchronized.
func readFrame(r io.Reader, maxBytes int) ([]byte, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxFrameBytes
	}

	var prefix [lengthPrefixSize]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return nil, err
	}
	size := binary.BigEndian.Uint32(prefix[:])
	if size == 0 {
		return nil, ecode.Protocol("zero-length frame")
	}
	if int(size) > maxBytes {
		return nil, ecode.Protocol(fmt.Sprintf("frame size %d exceeds limit %d", size, maxBytes))
	}

	body := make([]byte, size)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}
	return body, nil
}

// encodeMessage renders the envelope for framing.
func encodeMessage(m Message) ([]byte, error) {
	body, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("ipc: encode message: %w", err)
	}
	return body, nil
}

// decodeMessage parses a frame body into an envelope. A body that is not an
// envelope is a protocol violation.
func decodeMessage(body []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(body, &m); err != nil {
		return Message{}, ecode.Protocol(fmt.Sprintf("malformed envelope: %v", err))
	}
	if m.Type == "" {
		return Message{}, ecode.Protocol("envelope missing type")
	}
	return m, nil
}
