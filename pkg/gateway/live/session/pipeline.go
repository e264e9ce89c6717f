package session

import (
	"time"

	"github.com/pion/webrtc/v4"
	rtcmedia "github.com/pion/webrtc/v4/pkg/media"

	"github.com/JadenChoi2k/realtime-cooking-mama/pkg/media"
)

// pipelineStats accumulates per-direction audio counters for the
// periodic metrics log line.
type pipelineStats struct {
	frames       uint64
	codecErrs    uint64
	latencyTotal time.Duration
}

func (p *pipelineStats) observe(d time.Duration) {
	p.frames++
	p.latencyTotal += d
}

func (p *pipelineStats) meanLatency() time.Duration {
	if p.frames == 0 {
		return 0
	}
	return p.latencyTotal / time.Duration(p.frames)
}

// runInboundAudio relays the user's microphone to the voice service:
// RTP Opus payloads land in the bounded queue, the consumer decodes,
// downmixes, resamples to 24 kHz mono, and appends to the bridge.
func (s *Session) runInboundAudio(track *webrtc.TrackRemote) {
	defer s.wg.Done()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			pkt, _, err := track.ReadRTP()
			if err != nil {
				// Track end and transport failure both reach the run
				// loop; it closes the session either way.
				if s.ctx.Err() == nil {
					s.fault(&MediaTrackError{Kind: "audio", Err: err})
				}
				s.inQueue.Close()
				return
			}
			s.inQueue.Push(media.Frame{Data: pkt.Payload, Seq: pkt.SequenceNumber, ReceivedAt: s.now()})
		}
	}()

	codec, err := media.NewOpusCodec(media.CodecConfig{
		SampleRate: 48000,
		Channels:   2,
		Bitrate:    s.cfg.OpusBitrate,
		Complexity: s.cfg.OpusComplexity,
		DTX:        s.cfg.OpusDTX,
	})
	if err != nil {
		s.fault(&MediaTrackError{Kind: "audio", Err: err})
		return
	}

	var stats pipelineStats
	for {
		f, ok := s.inQueue.Pop()
		if !ok {
			return
		}
		start := time.Now()
		pcm, err := codec.Decode(f.Data)
		if err != nil {
			// One poisoned frame is not worth the session.
			stats.codecErrs++
			s.logger.Warn("inbound frame decode failed", "error", err)
			continue
		}
		mono := media.DownmixStereo(pcm)
		out := media.EncodePCM16(media.ResampleLinear(mono, 48000, 24000))
		stats.observe(time.Since(start))

		if s.logIn != nil {
			_ = s.logIn.Write(out)
		}
		if v := s.getVoice(); v != nil {
			if err := v.SendAudio(out); err != nil {
				s.logger.Warn("voice append failed", "error", err)
			}
		}

		if stats.frames%uint64(s.cfg.MetricsInterval) == 0 {
			s.logger.Info("inbound audio",
				"frames", stats.frames,
				"queue_depth", s.inQueue.Len(),
				"dropped", s.inQueue.Dropped(),
				"codec_errors", stats.codecErrs,
				"mean_codec_latency", stats.meanLatency())
		}
	}
}

// runOutboundAudio plays the assistant back to the browser: bridge PCM
// is upsampled to 48 kHz stereo, encoded in 20 ms Opus frames through
// the bounded queue, and written onto the local track.
func (s *Session) runOutboundAudio(v VoiceConn) {
	defer s.wg.Done()

	codec, err := media.NewOpusCodec(media.CodecConfig{
		SampleRate: 48000,
		Channels:   2,
		Bitrate:    s.cfg.OpusBitrate,
		Complexity: s.cfg.OpusComplexity,
		DTX:        s.cfg.OpusDTX,
	})
	if err != nil {
		s.fault(&MediaTrackError{Kind: "audio", Err: err})
		return
	}
	frameSamples := codec.FrameSamples()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		var buf []int16
		var stats pipelineStats
		for {
			select {
			case <-s.ctx.Done():
				return
			case pcm, ok := <-v.Audio():
				if !ok {
					return
				}
				if s.logOut != nil {
					_ = s.logOut.Write(pcm)
				}
				mono := media.DecodePCM16(pcm)
				buf = append(buf, media.UpmixMono(media.ResampleLinear(mono, 24000, 48000))...)

				for len(buf) >= frameSamples {
					start := time.Now()
					payload, err := codec.Encode(buf[:frameSamples])
					buf = buf[frameSamples:]
					if err != nil {
						stats.codecErrs++
						s.logger.Warn("outbound frame encode failed", "error", err)
						continue
					}
					stats.observe(time.Since(start))
					s.outQueue.Push(media.Frame{Data: payload, ReceivedAt: s.now()})

					if stats.frames%uint64(s.cfg.MetricsInterval) == 0 {
						s.logger.Info("outbound audio",
							"frames", stats.frames,
							"queue_depth", s.outQueue.Len(),
							"dropped", s.outQueue.Dropped(),
							"codec_errors", stats.codecErrs,
							"mean_codec_latency", stats.meanLatency())
					}
				}
			}
		}
	}()

	for {
		f, ok := s.outQueue.Pop()
		if !ok {
			return
		}
		if err := s.outTrack.WriteSample(rtcmedia.Sample{Data: f.Data, Duration: media.OpusFrameDuration}); err != nil {
			if s.ctx.Err() == nil {
				s.fault(&MediaTrackError{Kind: "audio", Err: err})
			}
			return
		}
	}
}
