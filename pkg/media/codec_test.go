package media

import (
	"math"
	"testing"
)

func newTestCodec(t *testing.T, channels int) *OpusCodec {
	t.Helper()
	c, err := NewOpusCodec(CodecConfig{
		SampleRate: 48000,
		Channels:   channels,
		Bitrate:    64000,
		Complexity: 10,
	})
	if err != nil {
		t.Fatalf("new codec: %v", err)
	}
	return c
}

func sineFrame(samples int) []int16 {
	pcm := make([]int16, samples)
	for i := range pcm {
		pcm[i] = int16(8000 * math.Sin(2*math.Pi*440*float64(i)/48000))
	}
	return pcm
}

func TestOpusCodecRoundTripSampleCount(t *testing.T) {
	for _, channels := range []int{1, 2} {
		c := newTestCodec(t, channels)
		want := c.FrameSamples()
		if want != 960*channels {
			t.Fatalf("channels=%d: frame samples = %d, want %d", channels, want, 960*channels)
		}

		payload, err := c.Encode(sineFrame(want))
		if err != nil {
			t.Fatalf("channels=%d: encode: %v", channels, err)
		}
		if len(payload) == 0 {
			t.Fatalf("channels=%d: empty payload", channels)
		}

		pcm, err := c.Decode(payload)
		if err != nil {
			t.Fatalf("channels=%d: decode: %v", channels, err)
		}
		if len(pcm) != want {
			t.Fatalf("channels=%d: decoded %d samples, want %d", channels, len(pcm), want)
		}
	}
}

func TestOpusCodecRejectsShortFrame(t *testing.T) {
	c := newTestCodec(t, 2)
	if _, err := c.Encode(make([]int16, 100)); err == nil {
		t.Fatal("encode accepted a short frame")
	}
}

func TestOpusCodecDecodeGarbageFails(t *testing.T) {
	c := newTestCodec(t, 2)
	if _, err := c.Decode([]byte{0xde, 0xad, 0xbe, 0xef, 0x00}); err == nil {
		t.Fatal("decode accepted garbage payload")
	}
}
