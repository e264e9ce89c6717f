package media

import (
	"bytes"
	"errors"
	"image"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/rtp/codecs"
	"github.com/pion/webrtc/v4/pkg/media/samplebuilder"
	"golang.org/x/image/vp8"
)

const vp8ClockRate = 90000

var errNotKeyframe = errors.New("media: vp8 frame is not a keyframe")

// PacketSource yields RTP packets from a remote track. It exists so the
// sampler can be fed fake packets in tests; the live implementation
// wraps *webrtc.TrackRemote.
type PacketSource interface {
	ReadRTP() (*rtp.Packet, error)
}

// VideoFrame is one decoded camera frame handed to the detectors.
type VideoFrame struct {
	Image      image.Image
	CapturedAt time.Time
}

// FrameSampler turns the remote VP8 stream into a rate-bounded sequence
// of decoded frames. It reassembles RTP packets into whole VP8 frames,
// decodes keyframes only, and emits at most maxFPS frames per second,
// dropping the rest. Next is a lazy, non-restartable sequence: once it
// returns an error the sampler is spent.
type FrameSampler struct {
	src         PacketSource
	builder     *samplebuilder.SampleBuilder
	now         func() time.Time
	minInterval time.Duration
	lastEmit    time.Time

	// decode is swappable in tests; the default decodes VP8 keyframes.
	decode func([]byte) (image.Image, error)
}

func NewFrameSampler(src PacketSource, maxFPS int, now func() time.Time) *FrameSampler {
	var minInterval time.Duration
	if maxFPS > 0 {
		minInterval = time.Second / time.Duration(maxFPS)
	}
	return &FrameSampler{
		src:         src,
		builder:     samplebuilder.New(32, &codecs.VP8Packet{}, vp8ClockRate),
		now:         now,
		minInterval: minInterval,
		decode:      decodeVP8Keyframe,
	}
}

// Next blocks until the next decodable frame inside the rate bound, or
// returns the track error (io.EOF when the remote track ends). Frames
// arriving faster than the bound, delta frames, and undecodable frames
// are skipped without error.
func (s *FrameSampler) Next() (VideoFrame, error) {
	for {
		pkt, err := s.src.ReadRTP()
		if err != nil {
			return VideoFrame{}, err
		}
		s.builder.Push(pkt)

		for sample := s.builder.Pop(); sample != nil; sample = s.builder.Pop() {
			now := s.now()
			if !s.lastEmit.IsZero() && now.Sub(s.lastEmit) < s.minInterval {
				continue
			}
			img, err := s.decode(sample.Data)
			if err != nil {
				continue
			}
			s.lastEmit = now
			return VideoFrame{Image: img, CapturedAt: now}, nil
		}
	}
}

func decodeVP8Keyframe(data []byte) (image.Image, error) {
	dec := vp8.NewDecoder()
	dec.Init(bytes.NewReader(data), len(data))
	fh, err := dec.DecodeFrameHeader()
	if err != nil {
		return nil, err
	}
	if !fh.KeyFrame {
		return nil, errNotKeyframe
	}
	return dec.DecodeFrame()
}
