package spanwire

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/spanwire/spanwire/pkg/wire"
)

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	payload := []byte("frame payload")
	require.NoError(t, writeFrame(&buf, frameMessage, payload, DefaultMaxFrameBytes))

	kind, got, err := readFrame(&buf, DefaultMaxFrameBytes)
	require.NoError(t, err)
	require.Equal(t, frameMessage, kind)
	require.Equal(t, payload, got)

	// A clean end of stream between frames is EOF, not a framing error.
	_, _, err = readFrame(&buf, DefaultMaxFrameBytes)
	require.ErrorIs(t, err, io.EOF)
}

func TestFrameSizeLimit(t *testing.T) {
	t.Run("writer refuses oversized payloads", func(t *testing.T) {
		var buf bytes.Buffer
		err := writeFrame(&buf, frameMessage, make([]byte, 9), 8)
		require.ErrorIs(t, err, ErrFrameTooLarge)
		require.Zero(t, buf.Len(), "nothing may hit the wire")
	})

	t.Run("reader refuses oversized frames", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, writeFrame(&buf, frameMessage, make([]byte, 9), DefaultMaxFrameBytes))

		_, _, err := readFrame(&buf, 8)
		var fe *wire.FramingError
		require.ErrorAs(t, err, &fe)
	})
}

func TestFrameRejectsCorruptHeaders(t *testing.T) {
	mkHeader := func(magic uint16, version, kind uint8, length uint32) []byte {
		hdr := make([]byte, frameHeaderSize)
		binary.LittleEndian.PutUint16(hdr[0:2], magic)
		hdr[2] = version
		hdr[3] = kind
		binary.LittleEndian.PutUint32(hdr[4:8], length)
		return hdr
	}

	for _, tc := range []struct {
		name string
		hdr  []byte
	}{
		{"bad magic", mkHeader(0xBEEF, frameVersion, frameMessage, 0)},
		{"unsupported version", mkHeader(frameMagic, 99, frameMessage, 0)},
		{"unknown kind", mkHeader(frameMagic, frameVersion, 99, 0)},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := readFrame(bytes.NewReader(tc.hdr), DefaultMaxFrameBytes)
			var fe *wire.FramingError
			require.ErrorAs(t, err, &fe)
		})
	}
}

func TestFrameTruncation(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeFrame(&buf, frameMessage, []byte("abcdef"), DefaultMaxFrameBytes))
	whole := buf.Bytes()

	t.Run("inside the header", func(t *testing.T) {
		_, _, err := readFrame(bytes.NewReader(whole[:frameHeaderSize-2]), DefaultMaxFrameBytes)
		var fe *wire.FramingError
		require.ErrorAs(t, err, &fe)
	})

	t.Run("inside the payload", func(t *testing.T) {
		_, _, err := readFrame(bytes.NewReader(whole[:len(whole)-2]), DefaultMaxFrameBytes)
		var fe *wire.FramingError
		require.ErrorAs(t, err, &fe)
	})
}
