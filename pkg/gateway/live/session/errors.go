package session

import "fmt"

// Client-visible error kinds. These are stable protocol values; the
// accompanying messages stay generic and never leak internals.
const (
	ErrKindBadRequest = "bad_request"
	ErrKindSignaling  = "signaling_error"
	ErrKindMediaTrack = "media_track_error"
	ErrKindVoice      = "voice_service_error"
	ErrKindTimeout    = "timeout"
)

// SignalingError marks a failure in the offer/answer/candidate exchange.
type SignalingError struct {
	Op  string
	Err error
}

func (e *SignalingError) Error() string {
	return fmt.Sprintf("signaling %s: %v", e.Op, e.Err)
}

func (e *SignalingError) Unwrap() error { return e.Err }

// MediaTrackError marks a failure on a bound media track. Kind is
// "audio" or "video".
type MediaTrackError struct {
	Kind string
	Err  error
}

func (e *MediaTrackError) Error() string {
	return fmt.Sprintf("%s track: %v", e.Kind, e.Err)
}

func (e *MediaTrackError) Unwrap() error { return e.Err }
