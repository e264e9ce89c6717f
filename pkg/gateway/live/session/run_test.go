package session

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/JadenChoi2k/realtime-cooking-mama/pkg/gateway/live/protocol"
	"github.com/JadenChoi2k/realtime-cooking-mama/pkg/voice"
)

// startSessionServer runs a full session behind an httptest server and
// hands the test the client socket plus the fakes wired into it.
func startSessionServer(t *testing.T, cfg Config) (*websocket.Conn, *fakePeer, *fakeVoice, chan error) {
	t.Helper()
	peer := &fakePeer{}
	fv := newFakeVoice()
	runErr := make(chan error, 1)
	upgrader := websocket.Upgrader{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		s := New("run-test", Deps{
			Conn:    ws,
			Logger:  slog.New(slog.DiscardHandler),
			Now:     time.Now,
			NewPeer: func() (PeerConnection, error) { return peer, nil },
			DialVoice: func(ctx context.Context, credential string) (VoiceConn, error) {
				if credential != "sk-good" {
					return nil, &protocolCredentialError{}
				}
				return fv, nil
			},
			Primary: emptyDetector{},
		}, cfg)
		runErr <- s.Run(r.Context())
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client, peer, fv, runErr
}

type protocolCredentialError struct{}

func (*protocolCredentialError) Error() string { return "credential rejected" }

func sendClient(t *testing.T, conn *websocket.Conn, event string, data any) {
	t.Helper()
	env := map[string]any{"type": "user", "event": event}
	if data != nil {
		env["data"] = data
	}
	if err := conn.WriteJSON(env); err != nil {
		t.Fatalf("send %s: %v", event, err)
	}
}

func awaitEvent(t *testing.T, conn *websocket.Conn, event string) protocol.Envelope {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		_ = conn.SetReadDeadline(deadline)
		var env protocol.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			t.Fatalf("waiting for %q: %v", event, err)
		}
		if env.Event == event {
			return env
		}
	}
}

func TestSessionRunHappyPath(t *testing.T) {
	client, peer, fv, runErr := startSessionServer(t, Config{})

	env := awaitEvent(t, client, protocol.EventConnected)
	var connData map[string]string
	if err := json.Unmarshal(env.Data, &connData); err != nil || connData["session_id"] == "" {
		t.Fatalf("connected data = %s (%v)", env.Data, err)
	}

	sendClient(t, client, "api_key", "sk-good")
	awaitEvent(t, client, protocol.EventAssistantReady)

	sendClient(t, client, "offer", map[string]string{"sdp": "v=0 client offer", "type": "offer"})
	env = awaitEvent(t, client, protocol.EventAnswer)
	var ansData map[string]string
	if err := json.Unmarshal(env.Data, &ansData); err != nil || ansData["type"] != "answer" {
		t.Fatalf("answer data = %s (%v)", env.Data, err)
	}

	// Trickle the same candidate twice; the peer must see it once.
	cand := map[string]any{"candidate": "candidate:1 1 udp 2122", "sdpMid": "0", "sdpMLineIndex": 0}
	sendClient(t, client, "ice_candidate", cand)
	sendClient(t, client, "ice_candidate", cand)

	// Transcript traffic flows while the session is up.
	fv.events <- mustTranscript("assistant", "let's cook", true)
	env = awaitEvent(t, client, protocol.EventTranscript)
	if env.Type != protocol.TypeAssistant {
		t.Fatalf("transcript type = %q", env.Type)
	}

	sendClient(t, client, "fridge", "items")
	awaitEvent(t, client, protocol.EventFridgeItems)

	if len(peer.candidates) != 1 {
		t.Fatalf("peer saw %d candidates, want 1", len(peer.candidates))
	}

	sendClient(t, client, "close", nil)
	select {
	case err := <-runErr:
		if err != nil {
			t.Fatalf("run returned %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("session did not close")
	}
	if !peer.closed {
		t.Fatal("peer connection not closed on teardown")
	}
	if !fv.closed {
		t.Fatal("voice bridge not closed on teardown")
	}
}

func TestSessionRunRejectedCredentialCloses(t *testing.T) {
	client, _, _, runErr := startSessionServer(t, Config{})

	awaitEvent(t, client, protocol.EventConnected)
	sendClient(t, client, "api_key", "sk-bad")

	env := awaitEvent(t, client, protocol.EventError)
	var data protocol.ErrorData
	_ = json.Unmarshal(env.Data, &data)
	if data.Kind != ErrKindVoice {
		t.Fatalf("kind = %q, want voice", data.Kind)
	}

	select {
	case <-runErr:
	case <-time.After(3 * time.Second):
		t.Fatal("session did not close after rejected credential")
	}
}

func TestSessionRunCredentialTimeout(t *testing.T) {
	client, _, _, runErr := startSessionServer(t, Config{CredentialWait: 100 * time.Millisecond})

	awaitEvent(t, client, protocol.EventConnected)
	env := awaitEvent(t, client, protocol.EventError)
	var data protocol.ErrorData
	_ = json.Unmarshal(env.Data, &data)
	if data.Kind != ErrKindTimeout {
		t.Fatalf("kind = %q, want timeout", data.Kind)
	}

	select {
	case <-runErr:
	case <-time.After(3 * time.Second):
		t.Fatal("session did not close after credential timeout")
	}
}

func TestSessionRunClientDisappears(t *testing.T) {
	client, _, _, runErr := startSessionServer(t, Config{})
	awaitEvent(t, client, protocol.EventConnected)
	client.Close()

	select {
	case <-runErr:
	case <-time.After(3 * time.Second):
		t.Fatal("session did not close after client vanished")
	}
}

func TestSessionRunCancel(t *testing.T) {
	client, _, _, runErr := startSessionServer(t, Config{})
	awaitEvent(t, client, protocol.EventConnected)

	// Closing the test server's base context is not available here, so
	// drive shutdown the way the registry does: a malformed frame keeps
	// the session alive, then a close request ends it.
	sendClient(t, client, "fridge", "defrost")
	env := awaitEvent(t, client, protocol.EventError)
	var data protocol.ErrorData
	_ = json.Unmarshal(env.Data, &data)
	if data.Kind != ErrKindBadRequest {
		t.Fatalf("kind = %q, want bad_request", data.Kind)
	}

	sendClient(t, client, "close", nil)
	select {
	case <-runErr:
	case <-time.After(3 * time.Second):
		t.Fatal("session did not close")
	}
}

func mustTranscript(role, text string, final bool) voice.Event {
	return voice.Event{Kind: voice.EventTranscript, Role: role, Text: text, Final: final}
}
