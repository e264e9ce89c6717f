package protocol

import (
	"encoding/json"
	"testing"
)

func TestDecodeClientMessage(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want func(t *testing.T, msg any)
	}{
		{
			name: "api key",
			raw:  `{"type":"user","event":"api_key","data":" sk-live-123 "}`,
			want: func(t *testing.T, msg any) {
				cred, ok := msg.(*Credential)
				if !ok || cred.Key != "sk-live-123" {
					t.Fatalf("got %#v", msg)
				}
			},
		},
		{
			name: "offer",
			raw:  `{"type":"user","event":"offer","data":{"sdp":"v=0...","type":"offer"}}`,
			want: func(t *testing.T, msg any) {
				offer, ok := msg.(*Offer)
				if !ok || offer.SDP != "v=0..." {
					t.Fatalf("got %#v", msg)
				}
			},
		},
		{
			name: "ice candidate",
			raw:  `{"type":"user","event":"ice_candidate","data":{"candidate":"candidate:1 1 udp","sdpMid":"0","sdpMLineIndex":0}}`,
			want: func(t *testing.T, msg any) {
				cand, ok := msg.(*ICECandidate)
				if !ok || cand.Candidate != "candidate:1 1 udp" {
					t.Fatalf("got %#v", msg)
				}
				if cand.SDPMid == nil || *cand.SDPMid != "0" {
					t.Fatalf("sdpMid = %v", cand.SDPMid)
				}
			},
		},
		{
			name: "close",
			raw:  `{"type":"user","event":"close"}`,
			want: func(t *testing.T, msg any) {
				if _, ok := msg.(*CloseRequest); !ok {
					t.Fatalf("got %#v", msg)
				}
			},
		},
		{
			name: "fridge items",
			raw:  `{"type":"user","event":"fridge","data":"items"}`,
			want: func(t *testing.T, msg any) {
				cmd, ok := msg.(*FridgeCommand)
				if !ok || cmd.Action != FridgeActionItems {
					t.Fatalf("got %#v", msg)
				}
			},
		},
		{
			name: "fridge remove",
			raw:  `{"type":"user","event":"fridge","data":"remove_abc-123"}`,
			want: func(t *testing.T, msg any) {
				cmd, ok := msg.(*FridgeCommand)
				if !ok || cmd.Action != FridgeActionRemove || cmd.ItemID != "abc-123" {
					t.Fatalf("got %#v", msg)
				}
			},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			msg, derr := DecodeClientMessage([]byte(tc.raw))
			if derr != nil {
				t.Fatalf("decode: %v", derr)
			}
			tc.want(t, msg)
		})
	}
}

func TestDecodeClientMessageRejects(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		wantCode string
	}{
		{"not json", `{`, "bad_request"},
		{"wrong sender type", `{"type":"system","event":"api_key","data":"k"}`, "unsupported"},
		{"unknown event", `{"type":"user","event":"recipe_done"}`, "unsupported"},
		{"empty api key", `{"type":"user","event":"api_key","data":"  "}`, "bad_request"},
		{"offer without sdp", `{"type":"user","event":"offer","data":{"type":"offer"}}`, "bad_request"},
		{"offer with wrong type", `{"type":"user","event":"offer","data":{"sdp":"x","type":"answer"}}`, "bad_request"},
		{"candidate without candidate", `{"type":"user","event":"ice_candidate","data":{"sdpMid":"0"}}`, "bad_request"},
		{"fridge unknown action", `{"type":"user","event":"fridge","data":"defrost"}`, "bad_request"},
		{"fridge remove without id", `{"type":"user","event":"fridge","data":"remove_"}`, "bad_request"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			msg, derr := DecodeClientMessage([]byte(tc.raw))
			if derr == nil {
				t.Fatalf("decoded %#v, want error", msg)
			}
			if derr.Code != tc.wantCode {
				t.Fatalf("code = %q, want %q", derr.Code, tc.wantCode)
			}
		})
	}
}

func TestServerEnvelopes(t *testing.T) {
	env := Transcript(TypeAssistant, "chop the onions", true)
	if env.Type != TypeAssistant || env.Event != EventTranscript {
		t.Fatalf("envelope = %+v", env)
	}
	var data TranscriptData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		t.Fatalf("unmarshal data: %v", err)
	}
	if data.Text != "chop the onions" || !data.IsFinal {
		t.Fatalf("data = %+v", data)
	}

	env = ErrorEvent("signaling_error", "offer rejected")
	var ed ErrorData
	if err := json.Unmarshal(env.Data, &ed); err != nil {
		t.Fatalf("unmarshal error data: %v", err)
	}
	if ed.Kind != "signaling_error" {
		t.Fatalf("error data = %+v", ed)
	}

	env = AssistantReady()
	if env.Data != nil {
		t.Fatalf("assistant_ready carries data: %s", env.Data)
	}

	// Round trip: a server envelope must stay one JSON object with the
	// three protocol fields.
	b, err := json.Marshal(Connected("s-1"))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var echo Envelope
	if err := json.Unmarshal(b, &echo); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if echo.Type != TypeSystem || echo.Event != EventConnected {
		t.Fatalf("echo = %+v", echo)
	}
}
