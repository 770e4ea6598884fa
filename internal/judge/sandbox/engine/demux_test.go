package engine

import (
	"bytes"
	"testing"

	"github.com/docker/docker/pkg/stdcopy"
)

func frame(kind byte, payload string) []byte {
	n := len(payload)
	h := []byte{kind, 0, 0, 0, byte(n >> 24), byte(n >> 16), byte(n >> 8), byte(n)}
	return append(h, payload...)
}

func TestDemuxConcatenatesFramesInOrder(t *testing.T) {
	raw := append([]byte{0, 0, 0, 0, 0, 0, 0, 5}, "hello"...)
	raw = append(raw, append([]byte{0, 0, 0, 0, 0, 0, 0, 6}, "world!"...)...)

	got := Demux(raw)
	if string(got.Combined) != "helloworld!" {
		t.Fatalf("expected helloworld!, got %q", got.Combined)
	}
	if string(got.Stdout) != "helloworld!" {
		t.Fatalf("expected stdout helloworld!, got %q", got.Stdout)
	}
	if len(got.Stderr) != 0 {
		t.Fatalf("expected empty stderr, got %q", got.Stderr)
	}
}

func TestDemuxSeparatesStreams(t *testing.T) {
	raw := bytes.Join([][]byte{
		frame(StreamStdout, "out1 "),
		frame(StreamStderr, "err1"),
		frame(StreamStdout, "out2"),
	}, nil)
	got := Demux(raw)
	if string(got.Stdout) != "out1 out2" {
		t.Fatalf("stdout = %q", got.Stdout)
	}
	if string(got.Stderr) != "err1" {
		t.Fatalf("stderr = %q", got.Stderr)
	}
	if string(got.Combined) != "out1 err1out2" {
		t.Fatalf("combined = %q", got.Combined)
	}
}

func TestDemuxDiscardsTruncatedTrailingFrame(t *testing.T) {
	tests := []struct {
		name string
		raw  []byte
		want string
	}{
		{"empty", nil, ""},
		{"partial header", append(frame(StreamStdout, "ok"), 1, 0, 0), "ok"},
		{"short payload", append(frame(StreamStdout, "ok"), frame(StreamStdout, "truncated")[:12]...), "ok"},
		{"huge declared length", append(frame(StreamStdout, "ok"), 1, 0, 0, 0, 0xff, 0xff, 0xff, 0xff, 'x'), "ok"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := string(Demux(tt.raw).Combined); got != tt.want {
				t.Fatalf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestDemuxMatchesRuntimeWriter(t *testing.T) {
	var buf bytes.Buffer
	out := stdcopy.NewStdWriter(&buf, stdcopy.Stdout)
	errw := stdcopy.NewStdWriter(&buf, stdcopy.Stderr)
	_, _ = out.Write([]byte("42\n"))
	_, _ = errw.Write([]byte("warning\n"))

	got := Demux(buf.Bytes())
	if string(got.Stdout) != "42\n" || string(got.Stderr) != "warning\n" {
		t.Fatalf("unexpected demux: %+v", got)
	}
	if !LooksMultiplexed(buf.Bytes()) {
		t.Fatal("expected runtime output to look multiplexed")
	}
	if LooksMultiplexed([]byte("plain text output")) {
		t.Fatal("plain text should not look multiplexed")
	}
}
