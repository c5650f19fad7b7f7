package ws

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"time"
)

// maxFramePayload guards against memory abuse; whiteboard snapshots with
// embedded images can get large, so the cap is generous.
const maxFramePayload = 8 << 20

func readFrame(conn net.Conn) (byte, []byte, error) {
	var header [2]byte
	if _, err := io.ReadFull(conn, header[:]); err != nil {
		return 0, nil, err
	}

	opcode := header[0] & 0x0F
	if header[0]&0x80 == 0 {
		return 0, nil, fmt.Errorf("fragmented frames unsupported")
	}
	if header[1]&0x80 == 0 {
		return 0, nil, fmt.Errorf("client frames must be masked")
	}

	length := int64(header[1] & 0x7F)
	switch length {
	case 126:
		var ext [2]byte
		if _, err := io.ReadFull(conn, ext[:]); err != nil {
			return 0, nil, err
		}
		length = int64(binary.BigEndian.Uint16(ext[:]))
	case 127:
		var ext [8]byte
		if _, err := io.ReadFull(conn, ext[:]); err != nil {
			return 0, nil, err
		}
		// Compare before converting: a length with the top bit set would
		// go negative as int64 and slip past the cap.
		ext64 := binary.BigEndian.Uint64(ext[:])
		if ext64 > maxFramePayload {
			return 0, nil, fmt.Errorf("frame of %d bytes exceeds limit", ext64)
		}
		length = int64(ext64)
	}
	if length > maxFramePayload {
		return 0, nil, fmt.Errorf("frame of %d bytes exceeds limit", length)
	}

	var mask [4]byte
	if _, err := io.ReadFull(conn, mask[:]); err != nil {
		return 0, nil, err
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(conn, payload); err != nil {
		return 0, nil, err
	}
	for i := range payload {
		payload[i] ^= mask[i%4]
	}
	return opcode, payload, nil
}

func writeFrame(conn net.Conn, opcode byte, payload []byte, timeout time.Duration) error {
	header := make([]byte, 2, 10)
	header[0] = 0x80 | opcode

	switch length := len(payload); {
	case length < 126:
		header[1] = byte(length)
	case length <= 0xFFFF:
		header[1] = 126
		header = binary.BigEndian.AppendUint16(header, uint16(length))
	default:
		header[1] = 127
		header = binary.BigEndian.AppendUint64(header, uint64(length))
	}

	if timeout > 0 {
		if err := conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
			return err
		}
		defer conn.SetWriteDeadline(time.Time{})
	}
	if _, err := conn.Write(header); err != nil {
		return err
	}
	if len(payload) > 0 {
		if _, err := conn.Write(payload); err != nil {
			return err
		}
	}
	return nil
}
