package media

import (
	"errors"
	"fmt"
	"time"

	"github.com/hraban/opus"
)

const (
	// Opus frames cross the session at 20 ms, the WebRTC default.
	OpusFrameDuration = 20 * time.Millisecond

	// maxOpusFrameMS bounds the decode buffer (Opus allows up to 120 ms).
	maxOpusFrameMS = 120
)

var ErrBadFrameSize = errors.New("media: pcm length does not match codec frame size")

// CodecConfig carries the tuning knobs for the Opus adapter. Zero values
// fall back to the session defaults set by the caller's configuration.
type CodecConfig struct {
	SampleRate int
	Channels   int
	Bitrate    int
	Complexity int
	DTX        bool
}

// OpusCodec wraps an Opus encoder/decoder pair for one stream direction.
// Not safe for concurrent use; each pipeline owns its own codec.
type OpusCodec struct {
	enc *opus.Encoder
	dec *opus.Decoder

	sampleRate int
	channels   int

	// samples per channel in one frame
	frameSamples int

	encBuf []byte
	decBuf []int16
}

func NewOpusCodec(cfg CodecConfig) (*OpusCodec, error) {
	enc, err := opus.NewEncoder(cfg.SampleRate, cfg.Channels, opus.AppVoIP)
	if err != nil {
		return nil, fmt.Errorf("media: new opus encoder: %w", err)
	}
	if cfg.Bitrate > 0 {
		if err := enc.SetBitrate(cfg.Bitrate); err != nil {
			return nil, fmt.Errorf("media: set opus bitrate %d: %w", cfg.Bitrate, err)
		}
	}
	if cfg.Complexity > 0 {
		if err := enc.SetComplexity(cfg.Complexity); err != nil {
			return nil, fmt.Errorf("media: set opus complexity %d: %w", cfg.Complexity, err)
		}
	}
	if err := enc.SetDTX(cfg.DTX); err != nil {
		return nil, fmt.Errorf("media: set opus dtx: %w", err)
	}

	dec, err := opus.NewDecoder(cfg.SampleRate, cfg.Channels)
	if err != nil {
		return nil, fmt.Errorf("media: new opus decoder: %w", err)
	}

	frameSamples := cfg.SampleRate / 1000 * int(OpusFrameDuration.Milliseconds())
	return &OpusCodec{
		enc:          enc,
		dec:          dec,
		sampleRate:   cfg.SampleRate,
		channels:     cfg.Channels,
		frameSamples: frameSamples,
		encBuf:       make([]byte, 4000),
		decBuf:       make([]int16, cfg.SampleRate/1000*maxOpusFrameMS*cfg.Channels),
	}, nil
}

// FrameSamples reports the interleaved sample count of one 20 ms frame
// (samples per channel times channels).
func (c *OpusCodec) FrameSamples() int {
	return c.frameSamples * c.channels
}

// Encode compresses exactly one frame of interleaved PCM. The returned
// slice is a copy and safe to retain.
func (c *OpusCodec) Encode(pcm []int16) ([]byte, error) {
	if len(pcm) != c.FrameSamples() {
		return nil, fmt.Errorf("%w: got %d samples, want %d", ErrBadFrameSize, len(pcm), c.FrameSamples())
	}
	n, err := c.enc.Encode(pcm, c.encBuf)
	if err != nil {
		return nil, fmt.Errorf("media: opus encode: %w", err)
	}
	out := make([]byte, n)
	copy(out, c.encBuf[:n])
	return out, nil
}

// Decode expands one Opus payload into interleaved PCM. The returned
// slice is a copy and safe to retain.
func (c *OpusCodec) Decode(payload []byte) ([]int16, error) {
	n, err := c.dec.Decode(payload, c.decBuf)
	if err != nil {
		return nil, fmt.Errorf("media: opus decode: %w", err)
	}
	out := make([]int16, n*c.channels)
	copy(out, c.decBuf[:n*c.channels])
	return out, nil
}
