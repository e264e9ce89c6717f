// Package session implements one live cooking session: the signaling
// state machine over the client WebSocket, the WebRTC peer connection,
// the audio relay to the voice service, and the detection loop feeding
// the ingredient fridge.
package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"

	"github.com/JadenChoi2k/realtime-cooking-mama/pkg/detect"
	"github.com/JadenChoi2k/realtime-cooking-mama/pkg/fridge"
	"github.com/JadenChoi2k/realtime-cooking-mama/pkg/gateway/live/protocol"
	"github.com/JadenChoi2k/realtime-cooking-mama/pkg/media"
	"github.com/JadenChoi2k/realtime-cooking-mama/pkg/store"
	"github.com/JadenChoi2k/realtime-cooking-mama/pkg/voice"
)

// PeerConnection is the slice of *webrtc.PeerConnection the session
// drives. Tests substitute a fake.
type PeerConnection interface {
	SetRemoteDescription(desc webrtc.SessionDescription) error
	CreateAnswer(options *webrtc.AnswerOptions) (webrtc.SessionDescription, error)
	SetLocalDescription(desc webrtc.SessionDescription) error
	AddICECandidate(candidate webrtc.ICECandidateInit) error
	AddTrack(track webrtc.TrackLocal) (*webrtc.RTPSender, error)
	OnICECandidate(f func(*webrtc.ICECandidate))
	OnConnectionStateChange(f func(webrtc.PeerConnectionState))
	OnTrack(f func(*webrtc.TrackRemote, *webrtc.RTPReceiver))
	Close() error
}

// VoiceConn is the session's view of the voice bridge.
type VoiceConn interface {
	SendAudio(pcm []byte) error
	Audio() <-chan []byte
	Events() <-chan voice.Event
	Done() <-chan struct{}
	Err() error
	Close() error
}

// Config carries the per-session tuning knobs.
type Config struct {
	CredentialWait time.Duration
	Keepalive      time.Duration
	WriteTimeout   time.Duration
	PingInterval   time.Duration
	ShutdownGrace  time.Duration

	QueueCapacity   int
	OpusBitrate     int
	OpusComplexity  int
	OpusDTX         bool
	MetricsInterval int
	SamplerMaxFPS   int

	FallbackMinInterval time.Duration
	AudioLogDir         string
}

func (c Config) withDefaults() Config {
	if c.CredentialWait <= 0 {
		c.CredentialWait = 10 * time.Second
	}
	if c.Keepalive <= 0 {
		c.Keepalive = 30 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
	if c.PingInterval <= 0 {
		c.PingInterval = c.Keepalive / 2
	}
	if c.ShutdownGrace <= 0 {
		c.ShutdownGrace = 10 * time.Second
	}
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = 200
	}
	if c.MetricsInterval <= 0 {
		c.MetricsInterval = 100
	}
	if c.SamplerMaxFPS <= 0 {
		c.SamplerMaxFPS = 10
	}
	if c.FallbackMinInterval <= 0 {
		c.FallbackMinInterval = 5 * time.Second
	}
	return c
}

// Deps are the session's collaborators, all injectable.
type Deps struct {
	Conn      *websocket.Conn
	Logger    *slog.Logger
	Now       func() time.Time
	NewPeer   func() (PeerConnection, error)
	DialVoice func(ctx context.Context, credential string) (VoiceConn, error)
	Primary   detect.Detector
	Fallback  detect.Detector
	Store     store.Store
}

type voiceDialResult struct {
	conn VoiceConn
	err  error
}

// Session is one client connection's full lifecycle. All state below is
// owned by the run loop unless noted otherwise.
type Session struct {
	id     string
	cfg    Config
	deps   Deps
	logger *slog.Logger
	now    func() time.Time

	state       State
	startedAt   time.Time
	closeReason string

	writer *outboundWriter

	pc          PeerConnection
	outTrack    *webrtc.TrackLocalStaticSample
	seenCands   map[string]struct{}
	pcConnected bool
	trackBound  bool

	dialing        bool
	voiceEnded     bool
	voiceEventsDry bool

	// voiceConn is read by the audio pipelines, hence the lock.
	voiceMu   sync.RWMutex
	voiceConn VoiceConn

	fridge       *fridge.Fridge
	orchestrator *detect.Orchestrator

	inQueue  *media.FrameQueue
	outQueue *media.FrameQueue

	logIn  *media.WAVLogger
	logOut *media.WAVLogger

	ctx      context.Context
	quit     chan struct{}
	quitOnce sync.Once
	wg       sync.WaitGroup

	trackCh     chan *webrtc.TrackRemote
	pcStateCh   chan webrtc.PeerConnectionState
	iceOutCh    chan protocol.ICECandidate
	voiceDialCh chan voiceDialResult
	faultCh     chan error
}

// New builds a session; Run drives it.
func New(id string, deps Deps, cfg Config) *Session {
	cfg = cfg.withDefaults()
	logger := deps.Logger.With("session_id", id)
	s := &Session{
		id:          id,
		cfg:         cfg,
		deps:        deps,
		logger:      logger,
		now:         deps.Now,
		state:       StateIdle,
		seenCands:   make(map[string]struct{}),
		fridge:      fridge.New(deps.Now),
		inQueue:     media.NewFrameQueue(cfg.QueueCapacity),
		outQueue:    media.NewFrameQueue(cfg.QueueCapacity),
		quit:        make(chan struct{}),
		trackCh:     make(chan *webrtc.TrackRemote, 4),
		pcStateCh:   make(chan webrtc.PeerConnectionState, 8),
		iceOutCh:    make(chan protocol.ICECandidate, 16),
		voiceDialCh: make(chan voiceDialResult, 1),
		faultCh:     make(chan error, 4),
	}
	s.orchestrator = detect.NewOrchestrator(deps.Primary, deps.Fallback, cfg.FallbackMinInterval, deps.Now, logger)
	s.writer = newOutboundWriter(deps.Conn, cfg.PingInterval, cfg.WriteTimeout, logger)
	return s
}

func (s *Session) ID() string { return s.id }

// Cancel asks the run loop to close the session. Safe from any
// goroutine, idempotent.
func (s *Session) Cancel() {
	s.quitOnce.Do(func() { close(s.quit) })
}

// Run drives the session to completion. It returns after teardown; the
// client socket is closed on exit.
func (s *Session) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.ctx = ctx
	s.startedAt = s.now()

	// The writer outlives ctx so teardown can still flush error and
	// close frames to the client.
	writerCtx, writerCancel := context.WithCancel(context.Background())
	writerStopped := make(chan struct{})
	go func() {
		defer close(writerStopped)
		s.writer.run(writerCtx)
	}()

	readCh := make(chan []byte, 8)
	readErrCh := make(chan error, 1)
	go s.readLoop(readCh, readErrCh)

	if err := s.setupPeer(); err != nil {
		s.logger.Error("peer connection setup failed", "error", err)
		s.sendError(ErrKindSignaling, "could not initialize media")
		s.beginClose("peer setup failed")
		return s.teardown(cancel, writerCancel, writerStopped)
	}
	s.openAudioLogs()

	if s.deps.Store != nil {
		if err := s.deps.Store.SaveSession(ctx, store.SessionRecord{ID: s.id, StartedAt: s.startedAt}); err != nil {
			s.logger.Warn("could not persist session start", "error", err)
		}
	}

	s.sendPriority(protocol.Connected(s.id))
	s.setState(StateAwaitingOffer)
	s.logger.Info("session started")

	credTimer := time.NewTimer(s.cfg.CredentialWait)
	defer credTimer.Stop()

	for s.state != StateClosing && s.state != StateClosed {
		select {
		case <-ctx.Done():
			s.beginClose("server shutdown")

		case <-s.quit:
			s.beginClose("cancelled")

		case raw := <-readCh:
			s.handleClient(raw)

		case err := <-readErrCh:
			s.logger.Info("client read ended", "error", err)
			s.beginClose("client gone")

		case <-credTimer.C:
			if s.getVoice() == nil && !s.dialing && !s.voiceEnded {
				s.sendError(ErrKindTimeout, "no credential received in time")
				s.beginClose("credential wait expired")
			}

		case res := <-s.voiceDialCh:
			s.handleVoiceDial(res)

		case track := <-s.trackCh:
			s.handleTrack(track)

		case st := <-s.pcStateCh:
			s.handlePCState(st)

		case cand := <-s.iceOutCh:
			s.sendNormal(protocol.CandidateOut(cand))

		case ev, ok := <-s.voiceEvents():
			if !ok {
				s.voiceEventsDry = true
				continue
			}
			s.handleVoiceEvent(ev)

		case <-s.voiceDone():
			s.handleVoiceEnded()

		case err := <-s.faultCh:
			s.handleFault(err)

		case err := <-s.writer.err():
			s.logger.Info("client write ended", "error", err)
			s.beginClose("client write failed")
		}
	}

	return s.teardown(cancel, writerCancel, writerStopped)
}

// voiceEvents returns nil (never ready) until a bridge exists or after
// its event channel closed.
func (s *Session) voiceEvents() <-chan voice.Event {
	v := s.getVoice()
	if v == nil || s.voiceEventsDry {
		return nil
	}
	return v.Events()
}

func (s *Session) voiceDone() <-chan struct{} {
	v := s.getVoice()
	if v == nil || s.voiceEnded {
		return nil
	}
	return v.Done()
}

func (s *Session) readLoop(frames chan<- []byte, errs chan<- error) {
	s.deps.Conn.SetPongHandler(func(string) error {
		return s.deps.Conn.SetReadDeadline(time.Now().Add(s.cfg.Keepalive))
	})
	for {
		_ = s.deps.Conn.SetReadDeadline(time.Now().Add(s.cfg.Keepalive))
		_, raw, err := s.deps.Conn.ReadMessage()
		if err != nil {
			errs <- err
			return
		}
		select {
		case frames <- raw:
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Session) setupPeer() error {
	pc, err := s.deps.NewPeer()
	if err != nil {
		return err
	}
	outTrack, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{
		MimeType:  webrtc.MimeTypeOpus,
		ClockRate: 48000,
		Channels:  2,
	}, "audio", "cooking-mama")
	if err != nil {
		pc.Close()
		return err
	}
	if _, err := pc.AddTrack(outTrack); err != nil {
		pc.Close()
		return err
	}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		j := c.ToJSON()
		cand := protocol.ICECandidate{Candidate: j.Candidate, SDPMid: j.SDPMid, SDPMLineIndex: j.SDPMLineIndex}
		select {
		case s.iceOutCh <- cand:
		case <-s.ctx.Done():
		}
	})
	pc.OnConnectionStateChange(func(st webrtc.PeerConnectionState) {
		select {
		case s.pcStateCh <- st:
		case <-s.ctx.Done():
		}
	})
	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		select {
		case s.trackCh <- track:
		case <-s.ctx.Done():
		}
	})

	s.pc = pc
	s.outTrack = outTrack
	return nil
}

// NewPeerConnection is the production PeerConnection factory.
func NewPeerConnection() (PeerConnection, error) {
	return webrtc.NewPeerConnection(webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{URLs: []string{"stun:stun.l.google.com:19302"}},
		},
	})
}

func (s *Session) handleClient(raw []byte) {
	msg, derr := protocol.DecodeClientMessage(raw)
	if derr != nil {
		s.logger.Debug("rejected client frame", "code", derr.Code, "detail", derr.Message)
		s.sendError(ErrKindBadRequest, derr.Message)
		return
	}

	switch m := msg.(type) {
	case *protocol.Credential:
		s.handleCredential(m)
	case *protocol.Offer:
		s.handleOffer(m)
	case *protocol.ICECandidate:
		s.handleCandidate(m)
	case *protocol.CloseRequest:
		s.beginClose("client requested close")
	case *protocol.FridgeCommand:
		s.handleFridge(m)
	}
}

func (s *Session) handleCredential(m *protocol.Credential) {
	if s.getVoice() != nil || s.dialing {
		s.sendError(ErrKindBadRequest, "credential already provided")
		return
	}
	// A session gets one bridge. The outbound pipeline and the event
	// plumbing are wired to it once; there is no re-dial after it ends.
	if s.voiceEnded {
		s.sendError(ErrKindVoice, "voice stream already ended")
		return
	}
	s.dialing = true
	go func(key string) {
		conn, err := s.deps.DialVoice(s.ctx, key)
		select {
		case s.voiceDialCh <- voiceDialResult{conn: conn, err: err}:
		case <-s.ctx.Done():
			if err == nil && conn != nil {
				conn.Close()
			}
		}
	}(m.Key)
}

func (s *Session) handleVoiceDial(res voiceDialResult) {
	s.dialing = false
	if res.err != nil {
		s.logger.Warn("voice dial failed", "error", res.err)
		s.sendError(ErrKindVoice, "could not reach the voice service")
		s.beginClose("voice dial failed")
		return
	}
	s.setVoice(res.conn)
	s.sendPriority(protocol.AssistantReady())
	s.logger.Info("voice bridge ready")

	s.wg.Add(1)
	go s.runOutboundAudio(res.conn)
}

func (s *Session) handleOffer(m *protocol.Offer) {
	if s.state != StateAwaitingOffer {
		s.sendError(ErrKindSignaling, "offer not acceptable in state "+s.state.String())
		return
	}
	if err := s.acceptOffer(m); err != nil {
		s.logger.Error("offer rejected", "error", err)
		s.sendError(ErrKindSignaling, "could not accept offer")
		s.beginClose("offer rejected")
		return
	}
	s.setState(StateNegotiating)
}

func (s *Session) acceptOffer(m *protocol.Offer) error {
	remote := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: m.SDP}
	if err := s.pc.SetRemoteDescription(remote); err != nil {
		return &SignalingError{Op: "set remote description", Err: err}
	}
	answer, err := s.pc.CreateAnswer(nil)
	if err != nil {
		return &SignalingError{Op: "create answer", Err: err}
	}
	if err := s.pc.SetLocalDescription(answer); err != nil {
		return &SignalingError{Op: "set local description", Err: err}
	}
	// Trickle ICE: the answer goes out immediately, candidates follow
	// as they gather.
	s.sendPriority(protocol.Answer(answer.SDP))
	return nil
}

func (s *Session) handleCandidate(m *protocol.ICECandidate) {
	if s.state != StateNegotiating && s.state != StateConnected {
		s.sendError(ErrKindSignaling, "ice candidate before offer")
		return
	}
	// Duplicates and retransmits are applied once.
	if _, seen := s.seenCands[m.Candidate]; seen {
		return
	}
	s.seenCands[m.Candidate] = struct{}{}

	init := webrtc.ICECandidateInit{
		Candidate:     m.Candidate,
		SDPMid:        m.SDPMid,
		SDPMLineIndex: m.SDPMLineIndex,
	}
	if err := s.pc.AddICECandidate(init); err != nil {
		s.logger.Warn("ice candidate rejected", "error", err)
		s.sendError(ErrKindSignaling, "ice candidate rejected")
	}
}

func (s *Session) handleTrack(track *webrtc.TrackRemote) {
	s.logger.Info("remote track bound", "kind", track.Kind().String(), "codec", track.Codec().MimeType)
	switch track.Kind() {
	case webrtc.RTPCodecTypeAudio:
		s.wg.Add(1)
		go s.runInboundAudio(track)
	case webrtc.RTPCodecTypeVideo:
		s.wg.Add(1)
		go s.runDetection(track)
	default:
		return
	}
	s.trackBound = true
	s.maybeConnected()
}

func (s *Session) handlePCState(st webrtc.PeerConnectionState) {
	s.logger.Debug("peer connection state", "state", st.String())
	switch st {
	case webrtc.PeerConnectionStateConnected:
		s.pcConnected = true
		s.maybeConnected()
	case webrtc.PeerConnectionStateFailed,
		webrtc.PeerConnectionStateDisconnected,
		webrtc.PeerConnectionStateClosed:
		s.beginClose("peer connection " + st.String())
	}
}

func (s *Session) maybeConnected() {
	if s.state == StateNegotiating && s.pcConnected && s.trackBound {
		s.setState(StateConnected)
	}
}

func (s *Session) handleVoiceEvent(ev voice.Event) {
	switch ev.Kind {
	case voice.EventTranscript:
		role := protocol.TypeUser
		if ev.Role == "assistant" {
			role = protocol.TypeAssistant
		}
		s.sendNormal(protocol.Transcript(role, ev.Text, ev.Final))
	case voice.EventSpeechStarted:
		// Barge-in: stale assistant audio is dropped on the spot.
		s.outQueue.Clear()
		s.sendNormal(protocol.SpeechStarted())
	case voice.EventSpeechStopped:
		s.sendNormal(protocol.SpeechStopped())
	}
}

func (s *Session) handleVoiceEnded() {
	s.voiceEnded = true
	v := s.getVoice()
	if v == nil {
		return
	}
	if err := v.Err(); err != nil {
		s.logger.Warn("voice stream failed", "error", err)
		s.sendError(ErrKindVoice, "voice stream failed")
	}
	// A broken bridge ends only the voice portion: detection keeps
	// running as long as the peer connection holds.
	if s.state == StateConnected && s.pcConnected {
		s.setVoice(nil)
		s.logger.Info("continuing without voice bridge")
		return
	}
	s.beginClose("voice stream ended")
}

func (s *Session) handleFault(err error) {
	// A track ending is the client wrapping up, not a failure.
	if errors.Is(err, io.EOF) {
		s.logger.Info("remote track ended")
		s.beginClose("track ended")
		return
	}
	s.logger.Error("session fault", "error", err)
	switch err.(type) {
	case *MediaTrackError:
		s.sendError(ErrKindMediaTrack, "media track failed")
	case *SignalingError:
		s.sendError(ErrKindSignaling, "signaling failed")
	default:
		s.sendError(ErrKindMediaTrack, "media pipeline failed")
	}
	s.beginClose("fault")
}

func (s *Session) handleFridge(m *protocol.FridgeCommand) {
	switch m.Action {
	case protocol.FridgeActionItems:
	case protocol.FridgeActionClear:
		s.fridge.Reset()
	case protocol.FridgeActionRemove:
		if !s.fridge.Remove(m.ItemID) {
			s.sendError(ErrKindBadRequest, "unknown fridge item")
			return
		}
	}
	s.sendNormal(protocol.FridgeItems(s.fridge.Items()))
}

func (s *Session) beginClose(reason string) {
	if s.state == StateClosing || s.state == StateClosed {
		return
	}
	s.closeReason = reason
	s.setState(StateClosing)
}

func (s *Session) setState(to State) {
	if !s.state.canTransition(to) {
		s.logger.Error("illegal state transition", "from", s.state.String(), "to", to.String())
		return
	}
	s.logger.Debug("state transition", "from", s.state.String(), "to", to.String())
	s.state = to
}

func (s *Session) teardown(cancel, writerCancel context.CancelFunc, writerStopped chan struct{}) error {
	s.logger.Info("session closing", "reason", s.closeReason, "uptime_ms", s.uptimeMS())

	// Teardown order: stop the loops, close the queues, then the
	// bridge and the peer connection so blocked reads unwind.
	cancel()
	s.inQueue.Close()
	s.outQueue.Close()
	if v := s.getVoice(); v != nil {
		_ = v.Close()
	}
	if s.pc != nil {
		_ = s.pc.Close()
	}

	drained := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(s.cfg.ShutdownGrace):
		s.logger.Warn("pipelines did not drain within grace period")
	}

	if s.logIn != nil {
		_ = s.logIn.Close()
	}
	if s.logOut != nil {
		_ = s.logOut.Close()
	}

	s.persistHistory()
	s.setState(StateClosed)

	writerCancel()
	select {
	case <-writerStopped:
	case <-time.After(s.cfg.WriteTimeout):
	}
	_ = s.deps.Conn.Close()

	s.logger.Info("session closed", "ingredients", s.fridge.Len(),
		"in_dropped", s.inQueue.Dropped(), "out_dropped", s.outQueue.Dropped())
	return nil
}

func (s *Session) persistHistory() {
	if s.deps.Store == nil {
		return
	}
	// The session context is already cancelled here.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	endedAt := s.now()
	if err := s.deps.Store.FinishSession(ctx, s.id, endedAt); err != nil {
		s.logger.Warn("could not persist session end", "error", err)
	}
	if names := s.fridge.Names(); len(names) > 0 {
		rec := store.CookingRecord{
			SessionID:       s.id,
			Ingredients:     names,
			DurationSeconds: int(endedAt.Sub(s.startedAt) / time.Second),
			CreatedAt:       endedAt,
		}
		if err := s.deps.Store.SaveCooking(ctx, rec); err != nil {
			s.logger.Warn("could not persist cooking record", "error", err)
		}
	}
}

func (s *Session) openAudioLogs() {
	if s.cfg.AudioLogDir == "" {
		return
	}
	var err error
	s.logIn, err = media.NewWAVLogger(s.cfg.AudioLogDir+"/"+s.id+"_user.wav", 24000, 1)
	if err != nil {
		s.logger.Warn("could not open user audio log", "error", err)
	}
	s.logOut, err = media.NewWAVLogger(s.cfg.AudioLogDir+"/"+s.id+"_assistant.wav", 24000, 1)
	if err != nil {
		s.logger.Warn("could not open assistant audio log", "error", err)
	}
}

func (s *Session) setVoice(v VoiceConn) {
	s.voiceMu.Lock()
	s.voiceConn = v
	s.voiceMu.Unlock()
}

func (s *Session) getVoice() VoiceConn {
	s.voiceMu.RLock()
	defer s.voiceMu.RUnlock()
	return s.voiceConn
}

func (s *Session) uptimeMS() int64 {
	return s.now().Sub(s.startedAt).Milliseconds()
}

func (s *Session) sendNormal(env protocol.Envelope) {
	select {
	case s.writer.normal <- env:
	case <-s.ctx.Done():
	}
}

func (s *Session) sendPriority(env protocol.Envelope) {
	select {
	case s.writer.priority <- env:
	case <-s.ctx.Done():
	}
}

func (s *Session) sendError(kind, message string) {
	s.sendPriority(protocol.ErrorEvent(kind, message))
}

func (s *Session) fault(err error) {
	select {
	case s.faultCh <- err:
	default:
	}
}
