package media

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync"
)

// WAVLogger taps a PCM16 stream to a WAV file for offline listening.
// The RIFF and data chunk sizes are patched on Close.
type WAVLogger struct {
	mu         sync.Mutex
	f          *os.File
	sampleRate int
	channels   int
	dataLen    uint32
	closed     bool
}

func NewWAVLogger(path string, sampleRate, channels int) (*WAVLogger, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("media: create wav log: %w", err)
	}
	w := &WAVLogger{f: f, sampleRate: sampleRate, channels: channels}
	if err := w.writeHeader(); err != nil {
		f.Close()
		os.Remove(path)
		return nil, err
	}
	return w, nil
}

func (w *WAVLogger) writeHeader() error {
	var hdr [44]byte
	copy(hdr[0:], "RIFF")
	// hdr[4:8] riff size, patched on close
	copy(hdr[8:], "WAVE")
	copy(hdr[12:], "fmt ")
	binary.LittleEndian.PutUint32(hdr[16:], 16)
	binary.LittleEndian.PutUint16(hdr[20:], 1) // PCM
	binary.LittleEndian.PutUint16(hdr[22:], uint16(w.channels))
	binary.LittleEndian.PutUint32(hdr[24:], uint32(w.sampleRate))
	byteRate := w.sampleRate * w.channels * 2
	binary.LittleEndian.PutUint32(hdr[28:], uint32(byteRate))
	binary.LittleEndian.PutUint16(hdr[32:], uint16(w.channels*2))
	binary.LittleEndian.PutUint16(hdr[34:], 16)
	copy(hdr[36:], "data")
	// hdr[40:44] data size, patched on close
	if _, err := w.f.Write(hdr[:]); err != nil {
		return fmt.Errorf("media: write wav header: %w", err)
	}
	return nil
}

// Write appends raw PCM16 bytes. Safe to call from the pipeline
// goroutine while Close runs from teardown.
func (w *WAVLogger) Write(pcm []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	n, err := w.f.Write(pcm)
	w.dataLen += uint32(n)
	if err != nil {
		return fmt.Errorf("media: write wav data: %w", err)
	}
	return nil
}

// Close patches the chunk sizes and closes the file.
func (w *WAVLogger) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true

	var sz [4]byte
	binary.LittleEndian.PutUint32(sz[:], 36+w.dataLen)
	if _, err := w.f.WriteAt(sz[:], 4); err != nil {
		w.f.Close()
		return fmt.Errorf("media: patch riff size: %w", err)
	}
	binary.LittleEndian.PutUint32(sz[:], w.dataLen)
	if _, err := w.f.WriteAt(sz[:], 40); err != nil {
		w.f.Close()
		return fmt.Errorf("media: patch data size: %w", err)
	}
	return w.f.Close()
}
