package spanwire

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/spanwire/spanwire/pkg/wire"
)

// Every exchange is length-prefixed frames:
//
//	magic u16 | version u8 | kind u8 | length u32 | payload
//
// all little-endian. The first frame of a connection is the dialer's hello
// carrying the 16-byte target instance; everything after is messages.
const (
	frameMagic   uint16 = 0x57A9
	frameVersion uint8  = 1

	frameHello   uint8 = 1
	frameMessage uint8 = 2

	frameHeaderSize = 8
)

// DefaultMaxFrameBytes caps inbound and outbound frame payloads unless the
// configuration says otherwise.
const DefaultMaxFrameBytes uint32 = 64 << 20

func writeFrame(w io.Writer, kind uint8, payload []byte, max uint32) error {
	if uint64(len(payload)) > uint64(max) {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(payload))
	}

	var hdr [frameHeaderSize]byte
	binary.LittleEndian.PutUint16(hdr[0:2], frameMagic)
	hdr[2] = frameVersion
	hdr[3] = kind
	binary.LittleEndian.PutUint32(hdr[4:8], uint32(len(payload)))

	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

// readFrame returns io.EOF untouched when the peer closed cleanly between
// frames; everything malformed surfaces as *wire.FramingError.
func readFrame(r io.Reader, max uint32) (uint8, []byte, error) {
	var hdr [frameHeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		if err == io.EOF {
			return 0, nil, io.EOF
		}
		return 0, nil, &wire.FramingError{Reason: "truncated frame header", Err: err}
	}

	if magic := binary.LittleEndian.Uint16(hdr[0:2]); magic != frameMagic {
		return 0, nil, &wire.FramingError{Reason: fmt.Sprintf("bad magic 0x%04x", magic)}
	}
	if hdr[2] != frameVersion {
		return 0, nil, &wire.FramingError{Reason: fmt.Sprintf("unsupported frame version %d", hdr[2])}
	}
	kind := hdr[3]
	if kind != frameHello && kind != frameMessage {
		return 0, nil, &wire.FramingError{Reason: fmt.Sprintf("unknown frame kind %d", kind)}
	}
	length := binary.LittleEndian.Uint32(hdr[4:8])
	if length > max {
		return 0, nil, &wire.FramingError{Reason: fmt.Sprintf("frame of %d bytes exceeds the %d limit", length, max)}
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return 0, nil, &wire.FramingError{Reason: "truncated frame payload", Err: err}
	}
	return kind, payload, nil
}
