package media

import (
	"errors"
	"image"
	"io"
	"testing"
	"time"

	"github.com/pion/rtp"
)

// scriptedSource replays a fixed packet sequence, invoking onRead before
// returning each packet so tests can advance a fake clock.
type scriptedSource struct {
	pkts   []*rtp.Packet
	i      int
	onRead func()
}

func (s *scriptedSource) ReadRTP() (*rtp.Packet, error) {
	if s.i >= len(s.pkts) {
		return nil, io.EOF
	}
	if s.onRead != nil {
		s.onRead()
	}
	p := s.pkts[s.i]
	s.i++
	return p, nil
}

// vp8Packet builds a single-packet VP8 frame: payload descriptor with the
// start bit set, followed by one tag byte the tests key off.
func vp8Packet(seq uint16, ts uint32, tag byte) *rtp.Packet {
	return &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			Marker:         true,
			SequenceNumber: seq,
			Timestamp:      ts,
		},
		Payload: []byte{0x10, tag},
	}
}

func testImage() image.Image {
	return image.NewRGBA(image.Rect(0, 0, 2, 2))
}

func TestFrameSamplerBoundsEmitRate(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	src := &scriptedSource{onRead: func() { now = now.Add(100 * time.Millisecond) }}
	for i := 0; i < 30; i++ {
		src.pkts = append(src.pkts, vp8Packet(uint16(i), uint32(i)*3000, byte(i)))
	}

	s := NewFrameSampler(src, 2, func() time.Time { return now })
	s.decode = func([]byte) (image.Image, error) { return testImage(), nil }

	var emitted []time.Time
	for {
		f, err := s.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		emitted = append(emitted, f.CapturedAt)
	}

	if len(emitted) == 0 {
		t.Fatal("sampler emitted no frames")
	}
	// 2 fps bound: successive frames at least 500 ms apart.
	for i := 1; i < len(emitted); i++ {
		if d := emitted[i].Sub(emitted[i-1]); d < 500*time.Millisecond {
			t.Fatalf("frames %d and %d only %v apart", i-1, i, d)
		}
	}
	// Packets arrive every 100 ms for ~3 s of stream; a 2 fps bound
	// must discard most of them.
	if len(emitted) >= len(src.pkts)/2 {
		t.Fatalf("emitted %d of %d frames, rate bound not applied", len(emitted), len(src.pkts))
	}
}

func TestFrameSamplerSkipsUndecodableFrames(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	src := &scriptedSource{onRead: func() { now = now.Add(time.Second) }}
	for i := 0; i < 5; i++ {
		src.pkts = append(src.pkts, vp8Packet(uint16(i), uint32(i)*3000, byte(i)))
	}

	s := NewFrameSampler(src, 10, func() time.Time { return now })
	// Only the frame tagged 2 decodes; the rest behave like delta frames.
	s.decode = func(data []byte) (image.Image, error) {
		if len(data) > 0 && data[len(data)-1] == 2 {
			return testImage(), nil
		}
		return nil, errNotKeyframe
	}

	f, err := s.Next()
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if f.Image == nil {
		t.Fatal("next returned a frame without an image")
	}

	if _, err := s.Next(); !errors.Is(err, io.EOF) {
		t.Fatalf("next after stream end: %v, want io.EOF", err)
	}
}

func TestFrameSamplerPropagatesTrackError(t *testing.T) {
	src := &scriptedSource{}
	s := NewFrameSampler(src, 10, time.Now)
	if _, err := s.Next(); !errors.Is(err, io.EOF) {
		t.Fatalf("next: %v, want io.EOF", err)
	}
}

func TestScaleToBound(t *testing.T) {
	tests := []struct {
		w, h, bound  int
		wantW, wantH int
	}{
		{1280, 720, 512, 512, 288},
		{720, 1280, 512, 288, 512},
		{400, 300, 512, 400, 300}, // already inside the bound
		{512, 512, 512, 512, 512},
	}
	for _, tc := range tests {
		img := image.NewRGBA(image.Rect(0, 0, tc.w, tc.h))
		got := ScaleToBound(img, tc.bound)
		b := got.Bounds()
		if b.Dx() != tc.wantW || b.Dy() != tc.wantH {
			t.Errorf("ScaleToBound(%dx%d, %d) = %dx%d, want %dx%d",
				tc.w, tc.h, tc.bound, b.Dx(), b.Dy(), tc.wantW, tc.wantH)
		}
	}
}
