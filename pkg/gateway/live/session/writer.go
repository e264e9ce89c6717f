package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"github.com/JadenChoi2k/realtime-cooking-mama/pkg/gateway/live/protocol"
)

// outboundWriter owns all writes to the client socket. Two lanes:
// priority carries errors and signaling, normal carries transcripts and
// detection traffic. Queued priority frames always go out before a
// normal frame. On shutdown the priority lane is flushed so the client
// sees the reason it is being closed.
type outboundWriter struct {
	conn         *websocket.Conn
	priority     chan protocol.Envelope
	normal       chan protocol.Envelope
	pingEvery    time.Duration
	writeTimeout time.Duration
	logger       *slog.Logger
	errCh        chan error
}

func newOutboundWriter(conn *websocket.Conn, pingEvery, writeTimeout time.Duration, logger *slog.Logger) *outboundWriter {
	return &outboundWriter{
		conn:         conn,
		priority:     make(chan protocol.Envelope, 16),
		normal:       make(chan protocol.Envelope, 64),
		pingEvery:    pingEvery,
		writeTimeout: writeTimeout,
		logger:       logger,
		errCh:        make(chan error, 1),
	}
}

// err yields the first write failure, if any.
func (w *outboundWriter) err() <-chan error { return w.errCh }

func (w *outboundWriter) run(ctx context.Context) {
	ticker := time.NewTicker(w.pingEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.flushPriority()
			deadline := time.Now().Add(w.writeTimeout)
			_ = w.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
			return

		case env := <-w.priority:
			if !w.write(env) {
				return
			}

		case env := <-w.normal:
			if !w.drainPriority() {
				return
			}
			if !w.write(env) {
				return
			}

		case <-ticker.C:
			deadline := time.Now().Add(w.writeTimeout)
			if err := w.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				w.fail(err)
				return
			}
		}
	}
}

func (w *outboundWriter) write(env protocol.Envelope) bool {
	_ = w.conn.SetWriteDeadline(time.Now().Add(w.writeTimeout))
	if err := w.conn.WriteJSON(env); err != nil {
		w.fail(err)
		return false
	}
	return true
}

// drainPriority empties the priority lane before a normal frame goes
// out.
func (w *outboundWriter) drainPriority() bool {
	for {
		select {
		case env := <-w.priority:
			if !w.write(env) {
				return false
			}
		default:
			return true
		}
	}
}

func (w *outboundWriter) flushPriority() {
	for {
		select {
		case env := <-w.priority:
			if !w.write(env) {
				return
			}
		default:
			return
		}
	}
}

func (w *outboundWriter) fail(err error) {
	select {
	case w.errCh <- err:
	default:
	}
	w.logger.Debug("client write failed", "error", err)
}
