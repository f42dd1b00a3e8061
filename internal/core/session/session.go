// Package session implements the call-leg state machine: media acquisition,
// offer/answer negotiation, signaling and teardown of one softphone call.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"connectrtc/internal/core/domain"
	"connectrtc/internal/core/ports"
	"connectrtc/pkg/clock"
	"connectrtc/pkg/logger"
	"connectrtc/pkg/tracing"

	"github.com/pion/webrtc/v3"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Session drives one call leg. All state changes happen on its event loop;
// the exported methods are safe for concurrent use.
type Session struct {
	cfg   Config
	cb    Callbacks
	deps  Dependencies
	clock clock.Clock

	baseLogger *zap.Logger
	log        *zap.SugaredLogger

	loop     *eventLoop
	done     chan struct{}
	doneOnce sync.Once

	// Owned by the event loop.
	ctx          context.Context
	cancel       context.CancelFunc
	state        state
	gen          uint64
	signaling    ports.SignalingChannel
	localDesc    webrtc.SessionDescription
	inviteSentAt time.Time
	ownsStream   bool
	span         trace.Span
	stateCtx     context.Context
	stateSpan    trace.Span

	// Guards the fields below, which are also read from outside the loop.
	mu          sync.Mutex
	connected   bool
	stateName   domain.StateName
	report      domain.SessionReport
	pc          ports.PeerConnection
	stream      ports.MediaStream
	remoteAudio ports.RemoteTrack
	remoteVideo ports.RemoteTrack
}

// New creates a session in its initial state. Nothing happens until Connect.
func New(cfg Config, deps Dependencies, opts ...Option) *Session {
	s := &Session{
		cfg:   cfg.withDefaults(),
		deps:  deps,
		clock: clock.Real(),
		loop:  newEventLoop(),
		done:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.cb = s.cb.withDefaults()
	s.log = logger.ForCall(s.baseLogger, string(s.cfg.CallID))
	s.report.CallID = s.cfg.CallID
	return s
}

// CallID returns the id the session was configured with.
func (s *Session) CallID() domain.CallID {
	return s.cfg.CallID
}

// Connect starts the call. It returns once the machine is running; the
// outcome is reported through Callbacks. Cancelling ctx hangs up.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.connected {
		s.mu.Unlock()
		return domain.ErrAlreadyConnected
	}
	s.connected = true
	s.report.SessionStartTime = s.clock.Now()
	s.mu.Unlock()

	s.ctx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))
	s.ctx, s.span = tracing.TraceSession(s.ctx, string(s.cfg.CallID))

	pc, err := s.deps.Peers.NewPeerConnection(s.cfg.peerConfiguration())
	if err != nil {
		s.span.End()
		s.cancel()
		return fmt.Errorf("create peer connection: %w", err)
	}
	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		s.dispatch("onIceCandidate", func(st state) error {
			return st.onIceCandidate(c)
		})
	})
	pc.OnTrack(func(track ports.RemoteTrack) {
		s.loop.post(func() { s.onRemoteTrack(track) })
	})

	s.mu.Lock()
	s.pc = pc
	if s.cfg.AudioStream != nil {
		s.stream = s.cfg.AudioStream
	}
	s.mu.Unlock()

	s.loop.start()
	s.loop.post(func() {
		if err := s.transit(newGrabLocalMediaState(s)); err != nil {
			s.log.Errorw("state machine defect", "error", err)
		}
	})

	go func() {
		select {
		case <-ctx.Done():
			s.log.Infow("connect context done, hanging up", "error", ctx.Err())
			s.Hangup()
		case <-s.done:
		}
	}()
	return nil
}

// Hangup ends the call from any state. Calling it after the call ended is a no-op.
func (s *Session) Hangup() {
	s.dispatch("hangup", func(st state) error {
		return st.hangup()
	})
}

// State returns the name of the current state, empty before Connect.
func (s *Session) State() domain.StateName {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateName
}

// Report returns a copy of the session report.
func (s *Session) Report() domain.SessionReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.report
}

// Done is closed once the session has reached a terminal state and released
// its resources.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// RemoteAudioStats returns inbound audio counters. It fails with
// ErrIllegalState until a remote audio track is playing.
func (s *Session) RemoteAudioStats() (domain.StreamStats, error) {
	s.mu.Lock()
	pc, track := s.pc, s.remoteAudio
	s.mu.Unlock()

	if err := checkStable(pc); err != nil {
		return domain.StreamStats{}, err
	}
	if track == nil {
		return domain.StreamStats{}, fmt.Errorf("%w: no remote audio stream", domain.ErrIllegalState)
	}
	return pc.Stats(webrtc.RTPCodecTypeAudio, true)
}

// UserAudioStats returns outbound audio counters for the local microphone.
func (s *Session) UserAudioStats() (domain.StreamStats, error) {
	s.mu.Lock()
	pc, stream := s.pc, s.stream
	s.mu.Unlock()

	if err := checkStable(pc); err != nil {
		return domain.StreamStats{}, err
	}
	if stream == nil || len(stream.AudioTracks()) == 0 {
		return domain.StreamStats{}, fmt.Errorf("%w: no local audio stream", domain.ErrIllegalState)
	}
	return pc.Stats(webrtc.RTPCodecTypeAudio, false)
}

func checkStable(pc ports.PeerConnection) error {
	if pc == nil {
		return fmt.Errorf("%w: no peer connection", domain.ErrIllegalState)
	}
	if st := pc.SignalingState(); st != webrtc.SignalingStateStable {
		return fmt.Errorf("%w: signaling state is %s", domain.ErrIllegalState, st)
	}
	return nil
}

// PauseLocalAudio mutes the local microphone track.
func (s *Session) PauseLocalAudio() { s.setLocalEnabled(webrtc.RTPCodecTypeAudio, false) }

// ResumeLocalAudio unmutes the local microphone track.
func (s *Session) ResumeLocalAudio() { s.setLocalEnabled(webrtc.RTPCodecTypeAudio, true) }

// PauseLocalVideo stops sending local camera frames.
func (s *Session) PauseLocalVideo() { s.setLocalEnabled(webrtc.RTPCodecTypeVideo, false) }

// ResumeLocalVideo resumes sending local camera frames.
func (s *Session) ResumeLocalVideo() { s.setLocalEnabled(webrtc.RTPCodecTypeVideo, true) }

// PauseRemoteAudio silences the remote audio sink.
func (s *Session) PauseRemoteAudio() { setSinkEnabled(s.cfg.RemoteAudioSink, false) }

// ResumeRemoteAudio re-enables the remote audio sink.
func (s *Session) ResumeRemoteAudio() { setSinkEnabled(s.cfg.RemoteAudioSink, true) }

// PauseRemoteVideo hides the remote video sink.
func (s *Session) PauseRemoteVideo() { setSinkEnabled(s.cfg.RemoteVideoSink, false) }

// ResumeRemoteVideo re-enables the remote video sink.
func (s *Session) ResumeRemoteVideo() { setSinkEnabled(s.cfg.RemoteVideoSink, true) }

func (s *Session) setLocalEnabled(kind webrtc.RTPCodecType, enabled bool) {
	s.mu.Lock()
	stream := s.stream
	s.mu.Unlock()
	if stream == nil {
		return
	}

	tracks := stream.AudioTracks()
	if kind == webrtc.RTPCodecTypeVideo {
		tracks = stream.VideoTracks()
	}
	for _, t := range tracks {
		t.SetEnabled(enabled)
	}
}

func setSinkEnabled(sink ports.RenderSink, enabled bool) {
	if sink != nil {
		sink.SetEnabled(enabled)
	}
}

// dispatch runs an inbound event against whatever state is current when the
// loop reaches it.
func (s *Session) dispatch(event string, fn func(st state) error) {
	s.loop.post(func() {
		if s.state == nil {
			s.log.Warnw("event before first state", "event", event)
			return
		}
		if err := fn(s.state); err != nil {
			if errors.Is(err, domain.ErrUnsupportedOperation) {
				s.log.Errorw("unsupported event", "event", event, "state", s.state.name(), "error", err)
				return
			}
			s.log.Errorw("state machine defect", "event", event, "state", s.state.name(), "error", err)
		}
	})
}

// transit is the only place the current state changes.
func (s *Session) transit(next state) error {
	from := ""
	if s.state != nil {
		from = string(s.state.name())
		s.exit(s.state)
	}
	s.log.Infow("state transition", "from", from, "to", string(next.name()))

	s.gen++
	next.base().gen = s.gen
	s.state = next
	s.mu.Lock()
	s.stateName = next.name()
	s.mu.Unlock()
	s.stateCtx, s.stateSpan = tracing.TraceState(s.ctx, string(next.name()))

	if err := next.onEnter(); err != nil {
		s.log.Errorw("state entry failed", "state", next.name(), "error", err)
		return fmt.Errorf("enter %s: %w", next.name(), err)
	}
	return nil
}

func (s *Session) exit(st state) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Errorw("state exit panicked", "state", st.name(), "panic", r)
		}
		if s.stateSpan != nil {
			s.stateSpan.End()
		}
	}()
	if err := st.onExit(); err != nil {
		s.log.Errorw("state exit failed", "state", st.name(), "error", err)
	}
}

func (s *Session) updateReport(fn func(r *domain.SessionReport)) {
	s.mu.Lock()
	fn(&s.report)
	s.mu.Unlock()
}

func (s *Session) since(t time.Time) int64 {
	return domain.Millis(s.clock.Now().Sub(t))
}

func (s *Session) startTime() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.report.SessionStartTime
}

func (s *Session) peer() ports.PeerConnection {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pc
}

func (s *Session) localStream() ports.MediaStream {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stream
}

func (s *Session) holdStream(stream ports.MediaStream) {
	s.mu.Lock()
	s.stream = stream
	s.mu.Unlock()
	s.ownsStream = true
}

func (s *Session) onRemoteTrack(track ports.RemoteTrack) {
	if s.state == nil || s.state.name().IsTerminal() {
		return
	}

	var sink ports.RenderSink
	s.mu.Lock()
	switch track.Kind() {
	case webrtc.RTPCodecTypeAudio:
		s.remoteAudio = track
		sink = s.cfg.RemoteAudioSink
	case webrtc.RTPCodecTypeVideo:
		s.remoteVideo = track
		sink = s.cfg.RemoteVideoSink
	}
	s.mu.Unlock()

	s.log.Infow("remote track added", "track", track.ID(), "stream", track.StreamID(), "kind", track.Kind().String())
	if sink != nil {
		sink.Attach(track)
	}
	s.cb.OnRemoteStreamAdded(s, track)
}

func (s *Session) detachSinks() {
	for _, sink := range []ports.RenderSink{s.cfg.RemoteAudioSink, s.cfg.RemoteVideoSink} {
		if sink != nil {
			sink.Detach()
		}
	}
}

// stopSession releases the local stream and the peer connection. Close
// errors are logged and dropped. Safe to call more than once.
func (s *Session) stopSession() {
	s.mu.Lock()
	stream, pc := s.stream, s.pc
	s.stream, s.pc = nil, nil
	s.remoteAudio, s.remoteVideo = nil, nil
	s.mu.Unlock()

	if stream != nil && s.ownsStream {
		if err := stream.Close(); err != nil {
			s.log.Warnw("closing local stream", "error", err)
		}
	}
	if pc != nil {
		if err := pc.Close(); err != nil {
			s.log.Warnw("closing peer connection", "error", err)
		}
	}
}

// finish runs once the terminal state has cleaned up.
func (s *Session) finish(final domain.StateName) {
	if s.signaling != nil {
		if err := s.signaling.Close(); err != nil {
			s.log.Warnw("closing signaling channel", "error", err)
		}
	}

	s.updateReport(func(r *domain.SessionReport) {
		r.FinalState = final
	})
	report := s.Report()

	if s.stateSpan != nil {
		s.stateSpan.End()
	}
	s.span.End()
	s.cancel()

	s.log.Infow("session destroyed", "final_state", final, "failure_reason", report.FailureReason)
	s.cb.OnSessionDestroyed(s, report)

	s.loop.stop()
	s.doneOnce.Do(func() { close(s.done) })
}
