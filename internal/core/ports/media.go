package ports

import (
	"context"

	"connectrtc/internal/core/domain"

	"github.com/pion/webrtc/v3"
)

// LocalTrack is one captured track of a local media stream.
type LocalTrack interface {
	ID() string
	Kind() webrtc.RTPCodecType
	Enabled() bool
	SetEnabled(enabled bool)
	Local() webrtc.TrackLocal
}

// MediaStream is a set of locally captured tracks that must be closed when
// the session ends.
type MediaStream interface {
	ID() string
	AudioTracks() []LocalTrack
	VideoTracks() []LocalTrack
	Close() error
}

type MediaAcquirer interface {
	GetUserMedia(ctx context.Context, constraints domain.MediaConstraints) (MediaStream, error)
}

// RemoteTrack is the subset of *webrtc.TrackRemote the session needs.
type RemoteTrack interface {
	ID() string
	StreamID() string
	Kind() webrtc.RTPCodecType
}

// RenderSink is an output target for received media.
type RenderSink interface {
	Attach(track RemoteTrack)
	Detach()
	SetEnabled(enabled bool)
}
