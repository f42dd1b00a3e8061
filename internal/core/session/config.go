package session

import (
	"time"

	"connectrtc/internal/core/domain"
	"connectrtc/internal/core/ports"
	"connectrtc/pkg/clock"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

const (
	DefaultIceTimeout              = 8 * time.Second
	DefaultGumTimeout              = 10 * time.Second
	DefaultSignalingConnectTimeout = 10 * time.Second
)

// Config is the per-call configuration of a Session.
type Config struct {
	CallID            domain.CallID
	SignalingEndpoint string
	AuthToken         string
	ICEServers        []webrtc.ICEServer

	ICETimeout              time.Duration
	GumTimeout              time.Duration
	SignalingConnectTimeout time.Duration

	EnableAudio bool
	EnableVideo bool
	Video       *domain.VideoConstraints

	// AudioStream skips media acquisition when set. The session does not
	// close a stream it did not acquire.
	AudioStream ports.MediaStream

	RemoteAudioSink ports.RenderSink
	RemoteVideoSink ports.RenderSink

	// ForceAudioCodec keeps only the named audio codec (e.g. "opus") in the offer.
	ForceAudioCodec string
	EnableOpusDTX   bool
}

func (c Config) withDefaults() Config {
	if c.ICETimeout <= 0 {
		c.ICETimeout = DefaultIceTimeout
	}
	if c.GumTimeout <= 0 {
		c.GumTimeout = DefaultGumTimeout
	}
	if c.SignalingConnectTimeout <= 0 {
		c.SignalingConnectTimeout = DefaultSignalingConnectTimeout
	}
	return c
}

func (c Config) mediaConstraints() domain.MediaConstraints {
	constraints := domain.MediaConstraints{Audio: c.EnableAudio}
	if c.EnableVideo {
		if c.Video != nil {
			v := *c.Video
			constraints.Video = &v
		} else {
			constraints.Video = &domain.VideoConstraints{}
		}
	}
	return constraints
}

func (c Config) peerConfiguration() webrtc.Configuration {
	return webrtc.Configuration{
		ICEServers:         c.ICEServers,
		ICETransportPolicy: webrtc.ICETransportPolicyRelay,
		BundlePolicy:       webrtc.BundlePolicyBalanced,
	}
}

// Callbacks are the lifecycle hooks of a Session. They run on the session's
// event loop with no lock held; calling back into the Session is allowed.
// Nil hooks are no-ops.
type Callbacks struct {
	OnGumSuccess            func(s *Session)
	OnGumError              func(s *Session, err error)
	OnLocalStreamAdded      func(s *Session, stream ports.MediaStream)
	OnSessionInitialized    func(s *Session)
	OnSignalingConnected    func(s *Session)
	OnIceCollectionComplete func(s *Session, isTimeout bool, candidateCount int)
	OnSignalingStarted      func(s *Session)
	OnSessionConnected      func(s *Session)
	OnRemoteStreamAdded     func(s *Session, track ports.RemoteTrack)
	OnSessionCompleted      func(s *Session)
	OnSessionFailed         func(s *Session, reason domain.FailureReason)
	OnSessionDestroyed      func(s *Session, report domain.SessionReport)
}

func (c Callbacks) withDefaults() Callbacks {
	if c.OnGumSuccess == nil {
		c.OnGumSuccess = func(*Session) {}
	}
	if c.OnGumError == nil {
		c.OnGumError = func(*Session, error) {}
	}
	if c.OnLocalStreamAdded == nil {
		c.OnLocalStreamAdded = func(*Session, ports.MediaStream) {}
	}
	if c.OnSessionInitialized == nil {
		c.OnSessionInitialized = func(*Session) {}
	}
	if c.OnSignalingConnected == nil {
		c.OnSignalingConnected = func(*Session) {}
	}
	if c.OnIceCollectionComplete == nil {
		c.OnIceCollectionComplete = func(*Session, bool, int) {}
	}
	if c.OnSignalingStarted == nil {
		c.OnSignalingStarted = func(*Session) {}
	}
	if c.OnSessionConnected == nil {
		c.OnSessionConnected = func(*Session) {}
	}
	if c.OnRemoteStreamAdded == nil {
		c.OnRemoteStreamAdded = func(*Session, ports.RemoteTrack) {}
	}
	if c.OnSessionCompleted == nil {
		c.OnSessionCompleted = func(*Session) {}
	}
	if c.OnSessionFailed == nil {
		c.OnSessionFailed = func(*Session, domain.FailureReason) {}
	}
	if c.OnSessionDestroyed == nil {
		c.OnSessionDestroyed = func(*Session, domain.SessionReport) {}
	}
	return c
}

// Dependencies are the collaborators a Session drives.
type Dependencies struct {
	Media     ports.MediaAcquirer
	Peers     ports.PeerConnectionFactory
	Signaling ports.SignalingFactory
}

type Option func(*Session)

func WithClock(c clock.Clock) Option {
	return func(s *Session) {
		s.clock = c
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Session) {
		s.baseLogger = l
	}
}

func WithCallbacks(cb Callbacks) Option {
	return func(s *Session) {
		s.cb = cb
	}
}
