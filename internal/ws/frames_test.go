package ws

import (
	"net"
	"strings"
	"testing"
)

func feedFrame(t *testing.T, frame []byte) (byte, []byte, error) {
	t.Helper()
	server, client := net.Pipe()
	defer server.Close()

	go func() {
		_, _ = client.Write(frame)
		_ = client.Close()
	}()
	return readFrame(server)
}

func maskPayload(mask [4]byte, payload []byte) []byte {
	out := make([]byte, len(payload))
	for i, b := range payload {
		out[i] = b ^ mask[i%4]
	}
	return out
}

func TestReadFrameDecodesMaskedText(t *testing.T) {
	mask := [4]byte{0x11, 0x22, 0x33, 0x44}
	payload := []byte(`{"type":"leave"}`)

	frame := []byte{0x81, 0x80 | byte(len(payload))}
	frame = append(frame, mask[:]...)
	frame = append(frame, maskPayload(mask, payload)...)

	opcode, got, err := feedFrame(t, frame)
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if opcode != opcodeText || string(got) != string(payload) {
		t.Fatalf("got opcode %d payload %q", opcode, got)
	}
}

// An extended length with the top bit set converts to a negative int64; it
// must be rejected before any allocation.
func TestReadFrameRejectsHugeExtendedLength(t *testing.T) {
	frame := []byte{0x81, 0xFF}
	frame = append(frame, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF)
	frame = append(frame, 0x01, 0x02, 0x03, 0x04)

	_, _, err := feedFrame(t, frame)
	if err == nil || !strings.Contains(err.Error(), "exceeds limit") {
		t.Fatalf("oversized frame not rejected: %v", err)
	}
}

func TestReadFrameRejectsOversized64BitLength(t *testing.T) {
	frame := []byte{0x81, 0xFF}
	frame = append(frame, 0x00, 0x00, 0x00, 0x00, 0x00, 0x80, 0x00, 0x01) // just over 8 MiB
	frame = append(frame, 0x01, 0x02, 0x03, 0x04)

	if _, _, err := feedFrame(t, frame); err == nil {
		t.Fatalf("frame above the cap not rejected")
	}
}

func TestReadFrameRejectsUnmasked(t *testing.T) {
	frame := []byte{0x81, 0x05}
	frame = append(frame, []byte("hello")...)

	if _, _, err := feedFrame(t, frame); err == nil {
		t.Fatalf("unmasked client frame accepted")
	}
}
