// Package voice bridges a live session to the external realtime voice
// service: PCM16 audio up, synthesized audio and transcripts down.
package voice

import (
	"fmt"
	"time"
)

// EventKind discriminates the non-audio events a bridge emits.
type EventKind string

const (
	EventTranscript    EventKind = "transcript"
	EventSpeechStarted EventKind = "speech_started"
	EventSpeechStopped EventKind = "speech_stopped"
)

// Event is a transcript fragment or a voice-activity marker from the
// upstream service.
type Event struct {
	Kind  EventKind
	Role  string // "user" or "assistant", transcript events only
	Text  string
	Final bool
}

// ServiceError is a failure reported by the voice service itself, as
// opposed to transport errors.
type ServiceError struct {
	Code    string
	Message string
}

func (e *ServiceError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("voice service error: %s", e.Message)
	}
	return fmt.Sprintf("voice service error (%s): %s", e.Code, e.Message)
}

// Config carries the per-session bridge settings. The credential is the
// client's own key, supplied over the session protocol.
type Config struct {
	URL          string
	Model        string
	Credential   string
	Instructions string
	Voice        string

	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	KeepAlive        time.Duration
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.HandshakeTimeout <= 0 {
		out.HandshakeTimeout = 10 * time.Second
	}
	if out.WriteTimeout <= 0 {
		out.WriteTimeout = 5 * time.Second
	}
	if out.KeepAlive <= 0 {
		out.KeepAlive = 15 * time.Second
	}
	if out.Voice == "" {
		out.Voice = "alloy"
	}
	return out
}
