package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"connectrtc/internal/core/domain"
	"connectrtc/internal/core/ports"
	"connectrtc/pkg/clock"

	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

var errBoom = errors.New("boom")

type fakeTrack struct {
	id      string
	kind    webrtc.RTPCodecType
	enabled atomic.Bool
}

func newFakeTrack(id string, kind webrtc.RTPCodecType) *fakeTrack {
	t := &fakeTrack{id: id, kind: kind}
	t.enabled.Store(true)
	return t
}

func (t *fakeTrack) ID() string                { return t.id }
func (t *fakeTrack) Kind() webrtc.RTPCodecType { return t.kind }
func (t *fakeTrack) Enabled() bool             { return t.enabled.Load() }
func (t *fakeTrack) SetEnabled(enabled bool)   { t.enabled.Store(enabled) }
func (t *fakeTrack) Local() webrtc.TrackLocal  { return nil }
func (t *fakeTrack) StreamID() string          { return "remote-stream" }

type fakeStream struct {
	audio  []ports.LocalTrack
	video  []ports.LocalTrack
	closed atomic.Int32
}

func newFakeStream(withVideo bool) *fakeStream {
	s := &fakeStream{audio: []ports.LocalTrack{newFakeTrack("mic", webrtc.RTPCodecTypeAudio)}}
	if withVideo {
		s.video = []ports.LocalTrack{newFakeTrack("cam", webrtc.RTPCodecTypeVideo)}
	}
	return s
}

func (s *fakeStream) ID() string                      { return "local-stream" }
func (s *fakeStream) AudioTracks() []ports.LocalTrack { return s.audio }
func (s *fakeStream) VideoTracks() []ports.LocalTrack { return s.video }
func (s *fakeStream) Close() error {
	s.closed.Add(1)
	return nil
}

type gumResult struct {
	stream ports.MediaStream
	err    error
}

// fakeAcquirer hands out whatever is sent on results. Like a real capture
// device it cannot be interrupted once asked.
type fakeAcquirer struct {
	results     chan gumResult
	constraints chan domain.MediaConstraints
}

func newFakeAcquirer() *fakeAcquirer {
	return &fakeAcquirer{
		results:     make(chan gumResult, 1),
		constraints: make(chan domain.MediaConstraints, 1),
	}
}

func (a *fakeAcquirer) GetUserMedia(_ context.Context, c domain.MediaConstraints) (ports.MediaStream, error) {
	a.constraints <- c
	r := <-a.results
	return r.stream, r.err
}

type fakePeer struct {
	mu sync.Mutex

	cfg             webrtc.Configuration
	offer           webrtc.SessionDescription
	offerErr        error
	setLocalErr     error
	setRemoteErr    error
	addCandidateErr error
	signalingState  webrtc.SignalingState
	stats           domain.StreamStats

	// remoteGate, when set, holds SetRemoteDescription until closed.
	remoteGate chan struct{}
	// duringSetLocal is emitted through the candidate handler before
	// SetLocalDescription returns.
	duringSetLocal []*webrtc.ICECandidate

	streams          []ports.MediaStream
	localDesc        webrtc.SessionDescription
	remoteDesc       *webrtc.SessionDescription
	remoteCandidates []webrtc.ICECandidateInit
	setRemoteCalls   int
	closed           int

	onCandidate func(*webrtc.ICECandidate)
	onTrack     func(ports.RemoteTrack)
}

func newFakePeer() *fakePeer {
	return &fakePeer{
		offer:          webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: testOffer},
		signalingState: webrtc.SignalingStateStable,
	}
}

func (p *fakePeer) NewPeerConnection(cfg webrtc.Configuration) (ports.PeerConnection, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cfg = cfg
	return p, nil
}

func (p *fakePeer) AddStream(stream ports.MediaStream) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.streams = append(p.streams, stream)
	return nil
}

func (p *fakePeer) CreateOffer(context.Context) (webrtc.SessionDescription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.offer, p.offerErr
}

func (p *fakePeer) SetLocalDescription(_ context.Context, desc webrtc.SessionDescription) error {
	p.mu.Lock()
	p.localDesc = desc
	early, handler, err := p.duringSetLocal, p.onCandidate, p.setLocalErr
	p.mu.Unlock()

	for _, c := range early {
		handler(c)
	}
	return err
}

func (p *fakePeer) SetRemoteDescription(_ context.Context, desc webrtc.SessionDescription) error {
	p.mu.Lock()
	p.setRemoteCalls++
	gate := p.remoteGate
	p.mu.Unlock()

	if gate != nil {
		<-gate
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.setRemoteErr != nil {
		return p.setRemoteErr
	}
	p.remoteDesc = &desc
	return nil
}

func (p *fakePeer) AddICECandidate(_ context.Context, c webrtc.ICECandidateInit) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.remoteCandidates = append(p.remoteCandidates, c)
	return p.addCandidateErr
}

func (p *fakePeer) SignalingState() webrtc.SignalingState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.signalingState
}

func (p *fakePeer) Stats(kind webrtc.RTPCodecType, inbound bool) (domain.StreamStats, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	st := p.stats
	st.Kind = kind.String()
	if inbound {
		st.Kind += "-inbound"
	}
	return st, nil
}

func (p *fakePeer) OnICECandidate(fn func(*webrtc.ICECandidate)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onCandidate = fn
}

func (p *fakePeer) OnTrack(fn func(ports.RemoteTrack)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onTrack = fn
}

func (p *fakePeer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed++
	return nil
}

func (p *fakePeer) emitCandidate(c *webrtc.ICECandidate) {
	p.mu.Lock()
	handler := p.onCandidate
	p.mu.Unlock()
	handler(c)
}

func (p *fakePeer) emitTrack(t ports.RemoteTrack) {
	p.mu.Lock()
	handler := p.onTrack
	p.mu.Unlock()
	handler(t)
}

func (p *fakePeer) with(fn func(p *fakePeer)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn(p)
}

// fakeSignaling records calls through testify's mock and keeps the listener
// so tests can play the server side.
type fakeSignaling struct {
	mock.Mock

	mu       sync.Mutex
	cfg      ports.SignalingConfig
	listener ports.SignalingListener
	invites  []sentInvite
}

type sentInvite struct {
	sdp        string
	candidates []webrtc.ICECandidateInit
}

func newFakeSignaling() *fakeSignaling {
	f := &fakeSignaling{}
	f.On("Connect", mock.Anything).Return()
	f.On("Invite", mock.Anything, mock.Anything).Return()
	f.On("Hangup").Return()
	f.On("Close").Return(nil)
	return f
}

func (f *fakeSignaling) NewSignalingChannel(cfg ports.SignalingConfig, l ports.SignalingListener) ports.SignalingChannel {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cfg = cfg
	f.listener = l
	return f
}

func (f *fakeSignaling) Connect(ctx context.Context) {
	f.Called(ctx)
}

func (f *fakeSignaling) Invite(sdp string, candidates []webrtc.ICECandidateInit) {
	f.mu.Lock()
	f.invites = append(f.invites, sentInvite{sdp: sdp, candidates: candidates})
	f.mu.Unlock()
	f.Called(sdp, candidates)
}

func (f *fakeSignaling) Hangup() {
	f.Called()
}

func (f *fakeSignaling) Close() error {
	args := f.Called()
	return args.Error(0)
}

func (f *fakeSignaling) server() ports.SignalingListener {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listener
}

// invite returns the arguments of the single Invite call.
func (f *fakeSignaling) invite(t *testing.T) (string, []webrtc.ICECandidateInit) {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.Len(t, f.invites, 1)
	return f.invites[0].sdp, f.invites[0].candidates
}

type fakeSink struct {
	mu       sync.Mutex
	attached []ports.RemoteTrack
	detached int
	enabled  bool
}

func (s *fakeSink) Attach(track ports.RemoteTrack) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attached = append(s.attached, track)
}

func (s *fakeSink) Detach() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.detached++
}

func (s *fakeSink) SetEnabled(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enabled = enabled
}

// recorder captures callback invocations in order.
type recorder struct {
	mu           sync.Mutex
	events       []string
	iceTimeout   []bool
	iceCount     []int
	failedReason []domain.FailureReason
	destroyed    []domain.SessionReport
}

func (r *recorder) add(event string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func (r *recorder) count(event string) int {
	n := 0
	for _, e := range r.snapshot() {
		if e == event {
			n++
		}
	}
	return n
}

func (r *recorder) callbacks() Callbacks {
	return Callbacks{
		OnGumSuccess:         func(*Session) { r.add("gumSuccess") },
		OnGumError:           func(*Session, error) { r.add("gumError") },
		OnLocalStreamAdded:   func(*Session, ports.MediaStream) { r.add("localStreamAdded") },
		OnSessionInitialized: func(*Session) { r.add("sessionInitialized") },
		OnSignalingConnected: func(*Session) { r.add("signalingConnected") },
		OnIceCollectionComplete: func(_ *Session, isTimeout bool, n int) {
			r.mu.Lock()
			r.iceTimeout = append(r.iceTimeout, isTimeout)
			r.iceCount = append(r.iceCount, n)
			r.mu.Unlock()
			r.add("iceCollectionComplete")
		},
		OnSignalingStarted:  func(*Session) { r.add("signalingStarted") },
		OnSessionConnected:  func(*Session) { r.add("sessionConnected") },
		OnRemoteStreamAdded: func(*Session, ports.RemoteTrack) { r.add("remoteStreamAdded") },
		OnSessionCompleted:  func(*Session) { r.add("sessionCompleted") },
		OnSessionFailed: func(_ *Session, reason domain.FailureReason) {
			r.mu.Lock()
			r.failedReason = append(r.failedReason, reason)
			r.mu.Unlock()
			r.add("sessionFailed")
		},
		OnSessionDestroyed: func(_ *Session, report domain.SessionReport) {
			r.mu.Lock()
			r.destroyed = append(r.destroyed, report)
			r.mu.Unlock()
			r.add("sessionDestroyed")
		},
	}
}

type harness struct {
	t     *testing.T
	clock *clock.FakeClock
	media *fakeAcquirer
	peer  *fakePeer
	sig   *fakeSignaling
	rec   *recorder
	logs  *observer.ObservedLogs
	s     *Session
}

var epoch = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

func newHarness(t *testing.T, mutate func(cfg *Config)) *harness {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	h := &harness{
		t:     t,
		clock: clock.Fake(epoch),
		media: newFakeAcquirer(),
		peer:  newFakePeer(),
		sig:   newFakeSignaling(),
		rec:   &recorder{},
		logs:  logs,
	}
	cfg := Config{
		CallID:            "call-1",
		SignalingEndpoint: "ws://signal.test/ws",
		AuthToken:         "token",
		ICEServers:        []webrtc.ICEServer{{URLs: []string{"turn:turn.test:3478"}}},
		EnableAudio:       true,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	h.s = New(cfg, Dependencies{Media: h.media, Peers: h.peer, Signaling: h.sig},
		WithClock(h.clock),
		WithLogger(zap.New(core)),
		WithCallbacks(h.rec.callbacks()),
	)
	t.Cleanup(func() {
		h.s.Hangup()
		select {
		case <-h.s.Done():
		case <-time.After(time.Second):
		}
	})
	return h
}

// withStream pre-supplies the local audio stream.
func withStream(stream ports.MediaStream) func(cfg *Config) {
	return func(cfg *Config) { cfg.AudioStream = stream }
}

func (h *harness) connect() {
	h.t.Helper()
	require.NoError(h.t, h.s.Connect(context.Background()))
}

func (h *harness) flush() {
	h.s.loop.flush()
}

// waitState waits for the session to enter name and lets its entry finish.
func (h *harness) waitState(name domain.StateName) {
	h.t.Helper()
	require.Eventually(h.t, func() bool { return h.s.State() == name }, 2*time.Second, time.Millisecond,
		"state is %s, want %s", h.s.State(), name)
	h.flush()
}

func (h *harness) waitDone() {
	h.t.Helper()
	select {
	case <-h.s.Done():
	case <-time.After(2 * time.Second):
		h.t.Fatalf("session did not finish, state %s", h.s.State())
	}
}

// transitions lists the target state of every transition so far.
func (h *harness) transitions() []domain.StateName {
	var out []domain.StateName
	for _, entry := range h.logs.FilterMessage("state transition").All() {
		out = append(out, domain.StateName(fmt.Sprint(entry.ContextMap()["to"])))
	}
	return out
}

// run executes fn on the event loop and waits for it.
func (h *harness) run(fn func()) {
	h.t.Helper()
	ran := make(chan struct{})
	require.True(h.t, h.s.loop.post(func() {
		fn()
		close(ran)
	}))
	<-ran
}

// toCollection drives a session with a pre-supplied stream up to ICE collection.
func toCollection(t *testing.T, mutate ...func(cfg *Config)) (*harness, *fakeStream) {
	stream := newFakeStream(false)
	h := newHarness(t, func(cfg *Config) {
		withStream(stream)(cfg)
		for _, m := range mutate {
			m(cfg)
		}
	})
	h.connect()
	h.waitState(domain.StateConnectSignalingAndIceCollection)
	return h, stream
}

// toInvite continues to InviteAnswer with one gathered candidate.
func toInvite(t *testing.T, mutate ...func(cfg *Config)) (*harness, *fakeStream) {
	h, stream := toCollection(t, mutate...)
	h.peer.emitCandidate(testCandidate("1", 1))
	h.peer.emitCandidate(nil)
	h.sig.server().OnConnected()
	h.waitState(domain.StateInviteAnswer)
	return h, stream
}

var remoteCandidates = []webrtc.ICECandidateInit{
	{Candidate: "candidate:1 1 udp 2130706431 198.51.100.7 40000 typ relay raddr 0.0.0.0 rport 0"},
}

// toTalking continues to Talking.
func toTalking(t *testing.T, mutate ...func(cfg *Config)) (*harness, *fakeStream) {
	h, stream := toInvite(t, mutate...)
	h.sig.server().OnAnswered("v=0 answer", remoteCandidates)
	h.waitState(domain.StateAccept)
	h.sig.server().OnHandshaked()
	h.waitState(domain.StateTalking)
	return h, stream
}
