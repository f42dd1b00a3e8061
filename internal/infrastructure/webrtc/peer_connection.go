package webrtc

import (
	"context"
	"fmt"
	"sync"

	"connectrtc/internal/core/domain"
	"connectrtc/internal/core/ports"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// Config configures the pion API shared by every peer connection.
type Config struct {
	PortRange struct {
		Min uint16
		Max uint16
	}
}

// Factory builds pion peer connections.
type Factory struct {
	api    *webrtc.API
	logger *zap.SugaredLogger
}

var _ ports.PeerConnectionFactory = (*Factory)(nil)

func NewFactory(cfg Config, logger *zap.Logger) (*Factory, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	media := &webrtc.MediaEngine{}
	if err := media.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("failed to register codecs: %w", err)
	}

	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(media, registry); err != nil {
		return nil, fmt.Errorf("failed to register interceptors: %w", err)
	}

	settingEngine := webrtc.SettingEngine{}
	if cfg.PortRange.Min > 0 && cfg.PortRange.Max > 0 {
		if err := settingEngine.SetEphemeralUDPPortRange(cfg.PortRange.Min, cfg.PortRange.Max); err != nil {
			return nil, fmt.Errorf("invalid port range: %w", err)
		}
	}

	return &Factory{
		api: webrtc.NewAPI(
			webrtc.WithMediaEngine(media),
			webrtc.WithInterceptorRegistry(registry),
			webrtc.WithSettingEngine(settingEngine),
		),
		logger: logger.Sugar(),
	}, nil
}

func (f *Factory) NewPeerConnection(cfg webrtc.Configuration) (ports.PeerConnection, error) {
	pc, err := f.api.NewPeerConnection(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	p := &peerConnection{pc: pc, logger: f.logger}
	pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		p.logger.Infow("ice connection state changed", "ice_state", state.String())
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		p.logger.Infow("peer connection state changed", "connection_state", state.String())
	})
	return p, nil
}

// peerConnection adapts *webrtc.PeerConnection to ports.PeerConnection.
// pion calls are not cancellable, so contexts are only checked up front.
type peerConnection struct {
	pc     *webrtc.PeerConnection
	logger *zap.SugaredLogger

	mu      sync.Mutex
	quality linkQuality
}

func (p *peerConnection) AddStream(stream ports.MediaStream) error {
	var tracks []ports.LocalTrack
	tracks = append(tracks, stream.AudioTracks()...)
	tracks = append(tracks, stream.VideoTracks()...)
	for _, track := range tracks {
		sender, err := p.pc.AddTrack(track.Local())
		if err != nil {
			return fmt.Errorf("failed to add %s track %s: %w", track.Kind(), track.ID(), err)
		}
		go p.readSenderRTCP(track.ID(), sender)
	}
	return nil
}

func (p *peerConnection) CreateOffer(ctx context.Context) (webrtc.SessionDescription, error) {
	if err := ctx.Err(); err != nil {
		return webrtc.SessionDescription{}, err
	}
	return p.pc.CreateOffer(nil)
}

func (p *peerConnection) SetLocalDescription(ctx context.Context, desc webrtc.SessionDescription) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return p.pc.SetLocalDescription(desc)
}

func (p *peerConnection) SetRemoteDescription(ctx context.Context, desc webrtc.SessionDescription) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return p.pc.SetRemoteDescription(desc)
}

func (p *peerConnection) AddICECandidate(ctx context.Context, candidate webrtc.ICECandidateInit) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return p.pc.AddICECandidate(candidate)
}

func (p *peerConnection) SignalingState() webrtc.SignalingState {
	return p.pc.SignalingState()
}

func (p *peerConnection) OnICECandidate(fn func(*webrtc.ICECandidate)) {
	p.pc.OnICECandidate(fn)
}

func (p *peerConnection) OnTrack(fn func(ports.RemoteTrack)) {
	p.pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		p.logger.Infow("remote track received",
			"track_id", track.ID(),
			"stream_id", track.StreamID(),
			"codec", track.Codec().MimeType,
		)
		go p.readReceiverRTCP(track.ID(), receiver)
		fn(track)
	})
}

func (p *peerConnection) Close() error {
	return p.pc.Close()
}

// Stats sums the RTP stream stats of one kind and direction. Loss and jitter
// of outbound streams come from the remote receiver reports.
func (p *peerConnection) Stats(kind webrtc.RTPCodecType, inbound bool) (domain.StreamStats, error) {
	out := domain.StreamStats{Kind: kind.String()}

	for _, s := range p.pc.GetStats() {
		switch st := s.(type) {
		case webrtc.InboundRTPStreamStats:
			if !inbound || st.Kind != kind.String() {
				continue
			}
			out.PacketsCount += uint64(st.PacketsReceived)
			out.PacketsLost += int64(st.PacketsLost)
			out.BytesCount += st.BytesReceived
			out.JitterSeconds = st.Jitter
		case webrtc.OutboundRTPStreamStats:
			if inbound || st.Kind != kind.String() {
				continue
			}
			out.PacketsCount += uint64(st.PacketsSent)
			out.BytesCount += st.BytesSent
		}
	}

	if !inbound {
		p.mu.Lock()
		out.PacketsLost = int64(p.quality.totalLost)
		out.JitterSeconds = p.quality.jitterSeconds(kind)
		p.mu.Unlock()
	}
	return out, nil
}
