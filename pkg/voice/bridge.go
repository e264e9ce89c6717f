package voice

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// audioChunkBytes caps one append message; larger buffers are split.
const audioChunkBytes = 32 * 1024

// Conn is one live bridge to the voice service. Synthesized audio
// arrives on Audio, transcripts and VAD markers on Events. Both
// channels close when the stream ends; Err then explains why if the end
// was not a local Close.
type Conn struct {
	ws     *websocket.Conn
	cfg    Config
	logger *slog.Logger

	audio  chan []byte
	events chan Event
	done   chan struct{}

	writeMu sync.Mutex
	once    sync.Once

	errMu sync.Mutex
	err   error
}

// serverEvent is the union of the upstream message fields we care
// about; everything else is ignored.
type serverEvent struct {
	Type       string `json:"type"`
	Delta      string `json:"delta,omitempty"`
	Transcript string `json:"transcript,omitempty"`
	Error      *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Dial connects and configures a voice stream. It blocks until the
// service acknowledges the session or the handshake times out; a
// rejected credential surfaces as a ServiceError.
func Dial(ctx context.Context, cfg Config, logger *slog.Logger) (*Conn, error) {
	cfg = cfg.withDefaults()

	url := cfg.URL
	if cfg.Model != "" {
		url = fmt.Sprintf("%s?model=%s", cfg.URL, cfg.Model)
	}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+cfg.Credential)
	header.Set("OpenAI-Beta", "realtime=v1")

	dialer := websocket.Dialer{HandshakeTimeout: cfg.HandshakeTimeout}
	ws, resp, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, &ServiceError{Code: "invalid_credential", Message: "voice service rejected the credential"}
		}
		return nil, fmt.Errorf("voice: dial %s: %w", cfg.URL, err)
	}

	c := &Conn{
		ws:     ws,
		cfg:    cfg,
		logger: logger,
		audio:  make(chan []byte, 64),
		events: make(chan Event, 16),
		done:   make(chan struct{}),
	}

	if err := c.handshake(); err != nil {
		ws.Close()
		return nil, err
	}

	go c.readLoop()
	go c.keepAliveLoop()
	return c, nil
}

// handshake waits for the session ack and pushes our stream settings.
func (c *Conn) handshake() error {
	deadline := time.Now().Add(c.cfg.HandshakeTimeout)
	_ = c.ws.SetReadDeadline(deadline)
	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			return fmt.Errorf("voice: handshake read: %w", err)
		}
		var ev serverEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			continue
		}
		switch ev.Type {
		case "session.created":
			_ = c.ws.SetReadDeadline(time.Time{})
			return c.writeJSON(map[string]any{
				"type": "session.update",
				"session": map[string]any{
					"modalities":          []string{"text", "audio"},
					"instructions":        c.cfg.Instructions,
					"voice":               c.cfg.Voice,
					"input_audio_format":  "pcm16",
					"output_audio_format": "pcm16",
					"input_audio_transcription": map[string]any{
						"model": "whisper-1",
					},
					"turn_detection": map[string]any{
						"type": "server_vad",
					},
				},
			})
		case "error":
			se := &ServiceError{Message: "voice session rejected"}
			if ev.Error != nil {
				se.Code, se.Message = ev.Error.Code, ev.Error.Message
			}
			return se
		}
	}
}

// SendAudio appends PCM16 (24 kHz mono) to the input buffer, splitting
// oversized payloads into chunked append messages.
func (c *Conn) SendAudio(pcm []byte) error {
	for off := 0; off < len(pcm); off += audioChunkBytes {
		end := off + audioChunkBytes
		if end > len(pcm) {
			end = len(pcm)
		}
		msg := map[string]any{
			"type":  "input_audio_buffer.append",
			"audio": base64.StdEncoding.EncodeToString(pcm[off:end]),
		}
		if err := c.writeJSON(msg); err != nil {
			return err
		}
	}
	return nil
}

// Audio yields synthesized PCM16 (24 kHz mono). Closed at stream end.
func (c *Conn) Audio() <-chan []byte { return c.audio }

// Events yields transcripts and VAD markers. Closed at stream end.
func (c *Conn) Events() <-chan Event { return c.events }

// Done closes when the stream has ended for any reason.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Err reports why the stream ended; nil after a local Close.
func (c *Conn) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

// Close tears the bridge down. Idempotent, safe alongside readLoop.
func (c *Conn) Close() error {
	c.once.Do(func() {
		c.writeMu.Lock()
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		_ = c.ws.Close()
		close(c.done)
	})
	return nil
}

func (c *Conn) setErr(err error) {
	c.errMu.Lock()
	if c.err == nil {
		c.err = err
	}
	c.errMu.Unlock()
}

func (c *Conn) writeJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	select {
	case <-c.done:
		return fmt.Errorf("voice: stream closed")
	default:
	}
	_ = c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	if err := c.ws.WriteJSON(v); err != nil {
		return fmt.Errorf("voice: write: %w", err)
	}
	return nil
}

func (c *Conn) readLoop() {
	defer close(c.audio)
	defer close(c.events)
	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			select {
			case <-c.done: // local close, not an error
			default:
				c.setErr(fmt.Errorf("voice: read: %w", err))
				c.Close()
			}
			return
		}

		var ev serverEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			c.logger.Warn("unparseable voice event", "error", err)
			continue
		}

		switch ev.Type {
		case "response.audio.delta":
			pcm, err := base64.StdEncoding.DecodeString(ev.Delta)
			if err != nil {
				c.logger.Warn("bad audio delta encoding", "error", err)
				continue
			}
			select {
			case c.audio <- pcm:
			case <-c.done:
				return
			}
		case "response.audio_transcript.delta":
			c.emit(Event{Kind: EventTranscript, Role: "assistant", Text: ev.Delta})
		case "response.audio_transcript.done":
			c.emit(Event{Kind: EventTranscript, Role: "assistant", Text: ev.Transcript, Final: true})
		case "conversation.item.input_audio_transcription.completed":
			c.emit(Event{Kind: EventTranscript, Role: "user", Text: ev.Transcript, Final: true})
		case "input_audio_buffer.speech_started":
			c.emit(Event{Kind: EventSpeechStarted, Role: "user"})
		case "input_audio_buffer.speech_stopped":
			c.emit(Event{Kind: EventSpeechStopped, Role: "user"})
		case "error":
			se := &ServiceError{Message: "voice service error"}
			if ev.Error != nil {
				se.Code, se.Message = ev.Error.Code, ev.Error.Message
			}
			c.setErr(se)
			c.Close()
			return
		}
	}
}

func (c *Conn) emit(ev Event) {
	select {
	case c.events <- ev:
	case <-c.done:
	}
}

func (c *Conn) keepAliveLoop() {
	ticker := time.NewTicker(c.cfg.KeepAlive)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.cfg.WriteTimeout))
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}
