package session

import (
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"

	"github.com/JadenChoi2k/realtime-cooking-mama/pkg/detect"
	"github.com/JadenChoi2k/realtime-cooking-mama/pkg/gateway/live/protocol"
	"github.com/JadenChoi2k/realtime-cooking-mama/pkg/media"
)

type remoteTrackSource struct {
	track *webrtc.TrackRemote
}

func (r remoteTrackSource) ReadRTP() (*rtp.Packet, error) {
	pkt, _, err := r.track.ReadRTP()
	return pkt, err
}

type detectionObservation struct {
	Name       string     `json:"name"`
	Confidence float64    `json:"confidence"`
	Box        [4]float64 `json:"box"`
}

type detectionData struct {
	Source    string                 `json:"source"`
	ElapsedMS int64                  `json:"elapsed_ms"`
	Items     []detectionObservation `json:"items"`
}

func detectionPayload(ev detect.Event) detectionData {
	data := detectionData{
		Source:    string(ev.Source),
		ElapsedMS: ev.Elapsed.Milliseconds(),
		Items:     make([]detectionObservation, 0, len(ev.Observations)),
	}
	for _, obs := range ev.Observations {
		data.Items = append(data.Items, detectionObservation{
			Name:       obs.Label,
			Confidence: obs.Confidence,
			Box:        [4]float64{obs.Box.X1, obs.Box.Y1, obs.Box.X2, obs.Box.Y2},
		})
	}
	return data
}

// runDetection consumes the remote video track frame by frame. The
// sampler bounds the frame rate; a frame is only pulled once the
// previous detection finished, so a slow detector skips frames instead
// of queueing them.
func (s *Session) runDetection(track *webrtc.TrackRemote) {
	defer s.wg.Done()

	sampler := media.NewFrameSampler(remoteTrackSource{track: track}, s.cfg.SamplerMaxFPS, s.now)
	for {
		if s.ctx.Err() != nil {
			return
		}
		frame, err := sampler.Next()
		if err != nil {
			if s.ctx.Err() == nil {
				s.fault(&MediaTrackError{Kind: "video", Err: err})
			}
			return
		}

		ev := s.orchestrator.Detect(s.ctx, frame.Image, frame.CapturedAt)
		changed := s.fridge.Observe(ev)
		if len(ev.Observations) > 0 {
			s.sendNormal(protocol.Detection(detectionPayload(ev)))
		}
		if changed {
			s.sendNormal(protocol.FridgeItems(s.fridge.Items()))
		}
	}
}
