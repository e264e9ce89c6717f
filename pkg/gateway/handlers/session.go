package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/JadenChoi2k/realtime-cooking-mama/pkg/detect"
	"github.com/JadenChoi2k/realtime-cooking-mama/pkg/gateway/config"
	"github.com/JadenChoi2k/realtime-cooking-mama/pkg/gateway/live/session"
	"github.com/JadenChoi2k/realtime-cooking-mama/pkg/gateway/live/sessions"
	"github.com/JadenChoi2k/realtime-cooking-mama/pkg/store"
	"github.com/JadenChoi2k/realtime-cooking-mama/pkg/voice"
)

// maxClientFrame bounds inbound signaling frames; SDP offers are the
// largest legitimate payload and stay well under this.
const maxClientFrame = 1 << 20

// SessionDeps wires the live session endpoint.
type SessionDeps struct {
	Logger   *slog.Logger
	Cfg      *config.Config
	Registry *sessions.Registry
	Primary  detect.Detector
	Fallback detect.Detector
	Store    store.Store
	Draining func() bool
}

// SessionHandler upgrades the client socket and runs one session to
// completion.
func SessionHandler(d SessionDeps) http.Handler {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		// Browser clients connect from arbitrary app origins.
		CheckOrigin: func(*http.Request) bool { return true },
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if d.Draining() {
			http.Error(w, "shutting down", http.StatusServiceUnavailable)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			d.Logger.Warn("websocket upgrade failed", "error", err, "remote", r.RemoteAddr)
			return
		}
		conn.SetReadLimit(maxClientFrame)

		id := uuid.NewString()
		sess := session.New(id, session.Deps{
			Conn:    conn,
			Logger:  d.Logger,
			Now:     time.Now,
			NewPeer: session.NewPeerConnection,
			DialVoice: func(ctx context.Context, credential string) (session.VoiceConn, error) {
				return voice.Dial(ctx, voice.Config{
					URL:          d.Cfg.VoiceURL,
					Model:        d.Cfg.VoiceModel,
					Credential:   credential,
					Instructions: d.Cfg.VoiceInstructions,
					WriteTimeout: d.Cfg.WriteTimeout,
				}, d.Logger.With("session_id", id))
			},
			Primary:  d.Primary,
			Fallback: d.Fallback,
			Store:    d.Store,
		}, session.Config{
			CredentialWait:      d.Cfg.CredentialWait,
			Keepalive:           d.Cfg.Keepalive,
			WriteTimeout:        d.Cfg.WriteTimeout,
			ShutdownGrace:       d.Cfg.ShutdownGrace,
			QueueCapacity:       d.Cfg.QueueCapacity,
			OpusBitrate:         d.Cfg.OpusBitrate,
			OpusComplexity:      d.Cfg.OpusComplexity,
			OpusDTX:             d.Cfg.OpusDTX,
			MetricsInterval:     d.Cfg.MetricsInterval,
			SamplerMaxFPS:       d.Cfg.SamplerMaxFPS,
			FallbackMinInterval: d.Cfg.FallbackMinInterval,
			AudioLogDir:         d.Cfg.AudioLogDir,
		})

		unregister := d.Registry.Register(sessions.Handle{ID: id, Cancel: sess.Cancel})
		defer unregister()

		if err := sess.Run(r.Context()); err != nil {
			d.Logger.Error("session ended with error", "session_id", id, "error", err)
		}
	})
}
