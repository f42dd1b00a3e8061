package ports

import (
	"context"
	"time"

	"connectrtc/internal/core/domain"

	"github.com/pion/webrtc/v3"
)

type SignalingConfig struct {
	CallID         domain.CallID
	Endpoint       string
	AuthToken      string
	ConnectTimeout time.Duration
}

// SignalingListener receives the events of a signaling channel. Calls may
// arrive on any goroutine.
type SignalingListener interface {
	OnConnected()
	OnAnswered(sdp string, candidates []webrtc.ICECandidateInit)
	OnHandshaked()
	OnRemoteHungup()
	OnFailed(err error)
	OnDisconnected()
}

// SignalingChannel talks to the call-control server. Connect and Invite
// return immediately; their outcome is reported through the listener.
type SignalingChannel interface {
	Connect(ctx context.Context)
	Invite(sdp string, candidates []webrtc.ICECandidateInit)
	Hangup()
	Close() error
}

type SignalingFactory interface {
	NewSignalingChannel(cfg SignalingConfig, listener SignalingListener) SignalingChannel
}
