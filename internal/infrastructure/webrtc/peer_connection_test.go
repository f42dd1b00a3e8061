package webrtc

import (
	"context"
	"testing"

	"connectrtc/internal/core/ports"

	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type testTrack struct {
	local *webrtc.TrackLocalStaticRTP
}

func (t *testTrack) ID() string                { return t.local.ID() }
func (t *testTrack) Kind() webrtc.RTPCodecType { return t.local.Kind() }
func (t *testTrack) Enabled() bool             { return true }
func (t *testTrack) SetEnabled(bool)           {}
func (t *testTrack) Local() webrtc.TrackLocal { return t.local }

type testStream struct {
	audio []ports.LocalTrack
}

func (s *testStream) ID() string                      { return "test-stream" }
func (s *testStream) AudioTracks() []ports.LocalTrack { return s.audio }
func (s *testStream) VideoTracks() []ports.LocalTrack { return nil }
func (s *testStream) Close() error                    { return nil }

func newTestStream(t *testing.T) *testStream {
	t.Helper()
	local, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
		"audio", "test-stream",
	)
	require.NoError(t, err)
	return &testStream{audio: []ports.LocalTrack{&testTrack{local: local}}}
}

func newTestPeer(t *testing.T) ports.PeerConnection {
	t.Helper()
	factory, err := NewFactory(Config{}, zap.NewNop())
	require.NoError(t, err)

	pc, err := factory.NewPeerConnection(webrtc.Configuration{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = pc.Close() })
	return pc
}

func TestFactory_InvalidPortRange(t *testing.T) {
	cfg := Config{}
	cfg.PortRange.Min = 6000
	cfg.PortRange.Max = 5000

	_, err := NewFactory(cfg, nil)
	assert.Error(t, err)
}

func TestPeerConnection_OfferWithLocalAudio(t *testing.T) {
	pc := newTestPeer(t)
	require.NoError(t, pc.AddStream(newTestStream(t)))

	offer, err := pc.CreateOffer(context.Background())
	require.NoError(t, err)
	assert.Equal(t, webrtc.SDPTypeOffer, offer.Type)
	assert.Contains(t, offer.SDP, "m=audio")
	assert.Contains(t, offer.SDP, "opus/48000")

	assert.Equal(t, webrtc.SignalingStateStable, pc.SignalingState())
	require.NoError(t, pc.SetLocalDescription(context.Background(), offer))
	assert.Equal(t, webrtc.SignalingStateHaveLocalOffer, pc.SignalingState())

	stats, err := pc.Stats(webrtc.RTPCodecTypeAudio, false)
	require.NoError(t, err)
	assert.Equal(t, "audio", stats.Kind)
}

func TestPeerConnection_CancelledContext(t *testing.T) {
	pc := newTestPeer(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := pc.CreateOffer(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, pc.SetLocalDescription(ctx, webrtc.SessionDescription{}), context.Canceled)
	assert.ErrorIs(t, pc.SetRemoteDescription(ctx, webrtc.SessionDescription{}), context.Canceled)
	assert.ErrorIs(t, pc.AddICECandidate(ctx, webrtc.ICECandidateInit{}), context.Canceled)
}

func TestPeerConnection_ReceiverReportsFeedOutboundStats(t *testing.T) {
	p := newTestPeer(t).(*peerConnection)

	p.processRTCPPackets("audio", []rtcp.Packet{
		&rtcp.ReceiverReport{Reports: []rtcp.ReceptionReport{{FractionLost: 12, TotalLost: 7, Jitter: 480}}},
		&rtcp.PictureLossIndication{},
	})

	stats, err := p.Stats(webrtc.RTPCodecTypeAudio, false)
	require.NoError(t, err)
	assert.Equal(t, int64(7), stats.PacketsLost)
	assert.InDelta(t, 0.01, stats.JitterSeconds, 1e-9)

	p.mu.Lock()
	assert.Equal(t, 1, p.quality.reports)
	assert.Equal(t, uint8(12), p.quality.fractionLost)
	p.mu.Unlock()
}

func TestPeerConnection_Close(t *testing.T) {
	pc := newTestPeer(t)
	assert.NoError(t, pc.Close())
}
