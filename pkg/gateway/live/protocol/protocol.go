// Package protocol defines the client-facing session wire format: a
// JSON envelope of {"type","event","data"} in both directions.
package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Envelope sender types.
const (
	TypeSystem    = "system"
	TypeUser      = "user"
	TypeAssistant = "assistant"
)

// Client-to-server events.
const (
	EventAPIKey       = "api_key"
	EventOffer        = "offer"
	EventICECandidate = "ice_candidate"
	EventClose        = "close"
	EventFridge       = "fridge"
)

// Server-to-client events.
const (
	EventConnected      = "connected"
	EventAssistantReady = "assistant_ready"
	EventAnswer         = "answer"
	EventTranscript     = "transcript"
	EventDetection      = "detection"
	EventFridgeItems    = "fridge_items"
	EventSpeechStarted  = "speech_started"
	EventSpeechStopped  = "speech_stopped"
	EventError          = "error"
)

// Envelope is one protocol frame.
type Envelope struct {
	Type  string          `json:"type"`
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// DecodeError describes a client frame the session cannot accept. Code
// is stable for clients; Message is human-readable.
type DecodeError struct {
	Code    string
	Message string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func badRequest(format string, args ...any) *DecodeError {
	return &DecodeError{Code: "bad_request", Message: fmt.Sprintf(format, args...)}
}

func unsupported(format string, args ...any) *DecodeError {
	return &DecodeError{Code: "unsupported", Message: fmt.Sprintf(format, args...)}
}

// Credential carries the client's voice service key.
type Credential struct {
	Key string
}

// Offer is the client's SDP offer.
type Offer struct {
	SDP  string `json:"sdp"`
	Type string `json:"type"`
}

// ICECandidate is one trickled candidate, either direction.
type ICECandidate struct {
	Candidate     string  `json:"candidate"`
	SDPMid        *string `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`
}

// CloseRequest asks for an orderly shutdown.
type CloseRequest struct{}

// Fridge command actions.
const (
	FridgeActionItems  = "items"
	FridgeActionClear  = "clear"
	FridgeActionRemove = "remove"
)

// FridgeCommand is a parsed fridge control message. The wire form is a
// bare string: "items", "clear", or "remove_<id>".
type FridgeCommand struct {
	Action string
	ItemID string
}

// DecodeClientMessage parses one inbound frame into its typed form:
// *Credential, *Offer, *ICECandidate, *CloseRequest, or *FridgeCommand.
func DecodeClientMessage(raw []byte) (any, *DecodeError) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, badRequest("malformed frame: %v", err)
	}
	if env.Type != TypeUser {
		return nil, unsupported("unsupported sender type %q", env.Type)
	}

	switch env.Event {
	case EventAPIKey:
		var key string
		if err := json.Unmarshal(env.Data, &key); err != nil || strings.TrimSpace(key) == "" {
			return nil, badRequest("api_key data must be a non-empty string")
		}
		return &Credential{Key: strings.TrimSpace(key)}, nil

	case EventOffer:
		var offer Offer
		if err := json.Unmarshal(env.Data, &offer); err != nil {
			return nil, badRequest("malformed offer: %v", err)
		}
		if offer.SDP == "" {
			return nil, badRequest("offer is missing sdp")
		}
		if offer.Type != "" && offer.Type != "offer" {
			return nil, badRequest("offer has type %q", offer.Type)
		}
		return &offer, nil

	case EventICECandidate:
		var cand ICECandidate
		if err := json.Unmarshal(env.Data, &cand); err != nil {
			return nil, badRequest("malformed ice candidate: %v", err)
		}
		if cand.Candidate == "" {
			return nil, badRequest("ice candidate is missing candidate")
		}
		return &cand, nil

	case EventClose:
		return &CloseRequest{}, nil

	case EventFridge:
		var action string
		if err := json.Unmarshal(env.Data, &action); err != nil {
			return nil, badRequest("fridge data must be a string")
		}
		switch {
		case action == FridgeActionItems:
			return &FridgeCommand{Action: FridgeActionItems}, nil
		case action == FridgeActionClear:
			return &FridgeCommand{Action: FridgeActionClear}, nil
		case strings.HasPrefix(action, "remove_"):
			id := strings.TrimPrefix(action, "remove_")
			if id == "" {
				return nil, badRequest("fridge remove is missing an item id")
			}
			return &FridgeCommand{Action: FridgeActionRemove, ItemID: id}, nil
		default:
			return nil, badRequest("unknown fridge action %q", action)
		}

	default:
		return nil, unsupported("unknown event %q", env.Event)
	}
}

func envelope(typ, event string, data any) Envelope {
	env := Envelope{Type: typ, Event: event}
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			// Server-built payloads are plain structs; a marshal
			// failure is a programming error worth surfacing loudly.
			panic(fmt.Sprintf("protocol: marshal %s/%s payload: %v", typ, event, err))
		}
		env.Data = b
	}
	return env
}

// Connected is the first frame of every session.
func Connected(sessionID string) Envelope {
	return envelope(TypeSystem, EventConnected, map[string]string{"session_id": sessionID})
}

// AssistantReady tells the client the voice stream is live.
func AssistantReady() Envelope {
	return envelope(TypeSystem, EventAssistantReady, nil)
}

// Answer returns the SDP answer for the client's offer.
func Answer(sdp string) Envelope {
	return envelope(TypeSystem, EventAnswer, map[string]string{"sdp": sdp, "type": "answer"})
}

// CandidateOut trickles a server-side ICE candidate to the client.
func CandidateOut(cand ICECandidate) Envelope {
	return envelope(TypeSystem, EventICECandidate, cand)
}

// TranscriptData is the payload of a transcript event.
type TranscriptData struct {
	Text    string `json:"text"`
	IsFinal bool   `json:"is_final"`
}

// Transcript relays a speech fragment; the envelope type carries the
// speaker role.
func Transcript(role, text string, final bool) Envelope {
	return envelope(role, EventTranscript, TranscriptData{Text: text, IsFinal: final})
}

// Detection reports the result of analyzing one frame.
func Detection(data any) Envelope {
	return envelope(TypeUser, EventDetection, data)
}

// FridgeItems publishes the current ingredient snapshot.
func FridgeItems(data any) Envelope {
	return envelope(TypeUser, EventFridgeItems, data)
}

func SpeechStarted() Envelope {
	return envelope(TypeUser, EventSpeechStarted, nil)
}

func SpeechStopped() Envelope {
	return envelope(TypeUser, EventSpeechStopped, nil)
}

// ErrorData is the payload of an error event.
type ErrorData struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// ErrorEvent reports a session fault to the client. Kind is one of the
// stable error kinds; message must not leak internal detail.
func ErrorEvent(kind, message string) Envelope {
	return envelope(TypeSystem, EventError, ErrorData{Kind: kind, Message: message})
}
