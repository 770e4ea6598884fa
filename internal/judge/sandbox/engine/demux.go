package engine

import (
	"bytes"
	"encoding/binary"
)

// Stream type bytes used by the multiplexed log format.
const (
	StreamStdin  byte = 0
	StreamStdout byte = 1
	StreamStderr byte = 2
	StreamSystem byte = 3

	frameHeaderLen = 8
)

// Streams holds the de-interleaved output of one execution.
type Streams struct {
	Stdout   []byte
	Stderr   []byte
	Combined []byte
}

// Demux splits a multiplexed stream of frames:
//
//	[1 byte stream type][3 reserved][4 byte big-endian length][payload]
//
// Payloads are appended in order to Combined and, by type, to Stdout (0, 1)
// or Stderr (2, 3). A truncated trailing frame is discarded.
func Demux(raw []byte) Streams {
	var stdout, stderr, combined bytes.Buffer
	for len(raw) >= frameHeaderLen {
		kind := raw[0]
		size := binary.BigEndian.Uint32(raw[4:frameHeaderLen])
		if uint64(len(raw)-frameHeaderLen) < uint64(size) {
			break
		}
		payload := raw[frameHeaderLen : frameHeaderLen+int(size)]
		combined.Write(payload)
		switch kind {
		case StreamStdin, StreamStdout:
			stdout.Write(payload)
		default:
			stderr.Write(payload)
		}
		raw = raw[frameHeaderLen+int(size):]
	}
	return Streams{Stdout: stdout.Bytes(), Stderr: stderr.Bytes(), Combined: combined.Bytes()}
}

// LooksMultiplexed reports whether raw starts with a plausible frame header.
// Backends that attach a TTY return plain bytes instead.
func LooksMultiplexed(raw []byte) bool {
	if len(raw) < frameHeaderLen {
		return false
	}
	return raw[0] <= StreamSystem && raw[1] == 0 && raw[2] == 0 && raw[3] == 0
}
