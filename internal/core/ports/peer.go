package ports

import (
	"context"

	"connectrtc/internal/core/domain"

	"github.com/pion/webrtc/v3"
)

// PeerConnection is the negotiation engine driven by the session.
// OnICECandidate delivers nil once gathering is complete.
type PeerConnection interface {
	AddStream(stream MediaStream) error
	CreateOffer(ctx context.Context) (webrtc.SessionDescription, error)
	SetLocalDescription(ctx context.Context, desc webrtc.SessionDescription) error
	SetRemoteDescription(ctx context.Context, desc webrtc.SessionDescription) error
	AddICECandidate(ctx context.Context, candidate webrtc.ICECandidateInit) error
	SignalingState() webrtc.SignalingState
	Stats(kind webrtc.RTPCodecType, inbound bool) (domain.StreamStats, error)
	OnICECandidate(fn func(*webrtc.ICECandidate))
	OnTrack(fn func(RemoteTrack))
	Close() error
}

type PeerConnectionFactory interface {
	NewPeerConnection(cfg webrtc.Configuration) (PeerConnection, error)
}
