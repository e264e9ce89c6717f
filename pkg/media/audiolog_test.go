package media

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
)

func TestWAVLoggerWritesValidHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "in.wav")
	w, err := NewWAVLogger(path, 24000, 1)
	if err != nil {
		t.Fatalf("new wav logger: %v", err)
	}

	pcm := EncodePCM16([]int16{0, 100, -100, 200})
	if err := w.Write(pcm); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if len(b) != 44+len(pcm) {
		t.Fatalf("file size = %d, want %d", len(b), 44+len(pcm))
	}
	if string(b[0:4]) != "RIFF" || string(b[8:12]) != "WAVE" {
		t.Fatal("missing RIFF/WAVE magic")
	}
	if got := binary.LittleEndian.Uint32(b[4:8]); got != uint32(36+len(pcm)) {
		t.Fatalf("riff size = %d, want %d", got, 36+len(pcm))
	}
	if got := binary.LittleEndian.Uint32(b[24:28]); got != 24000 {
		t.Fatalf("sample rate = %d, want 24000", got)
	}
	if got := binary.LittleEndian.Uint16(b[22:24]); got != 1 {
		t.Fatalf("channels = %d, want 1", got)
	}
	if got := binary.LittleEndian.Uint32(b[40:44]); got != uint32(len(pcm)) {
		t.Fatalf("data size = %d, want %d", got, len(pcm))
	}
}

func TestWAVLoggerWriteAfterCloseIsNoop(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.wav")
	w, err := NewWAVLogger(path, 48000, 2)
	if err != nil {
		t.Fatalf("new wav logger: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := w.Write([]byte{1, 2, 3, 4}); err != nil {
		t.Fatalf("write after close: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("double close: %v", err)
	}

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if len(b) != 44 {
		t.Fatalf("file size = %d, want header only", len(b))
	}
}
