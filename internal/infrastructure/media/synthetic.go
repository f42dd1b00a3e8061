// Package media provides a synthetic local media source and sinks that
// consume remote RTP, for running the softphone without capture devices.
package media

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"connectrtc/internal/core/domain"
	"connectrtc/internal/core/ports"

	"github.com/google/uuid"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

const (
	opusPayloadType  = 111
	opusClockRate    = 48000
	opusFrame        = 20 * time.Millisecond
	opusFrameSamples = opusClockRate / 1000 * 20
)

// opusSilence is a single 20ms Opus frame of digital silence.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

var ErrNoMediaRequested = errors.New("neither audio nor video requested")

// SyntheticAcquirer produces streams whose audio track sends Opus silence.
type SyntheticAcquirer struct {
	logger *zap.SugaredLogger
}

var _ ports.MediaAcquirer = (*SyntheticAcquirer)(nil)

func NewSyntheticAcquirer(logger *zap.Logger) *SyntheticAcquirer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SyntheticAcquirer{logger: logger.Sugar()}
}

func (a *SyntheticAcquirer) GetUserMedia(ctx context.Context, constraints domain.MediaConstraints) (ports.MediaStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !constraints.Audio && constraints.Video == nil {
		return nil, ErrNoMediaRequested
	}

	stream := &syntheticStream{id: uuid.NewString()}
	if constraints.Audio {
		local, err := webrtc.NewTrackLocalStaticRTP(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: opusClockRate, Channels: 2},
			"audio", stream.id,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create audio track: %w", err)
		}
		track := newSyntheticTrack(local, webrtc.RTPCodecTypeAudio)
		go track.sendSilence(a.logger)
		stream.audio = append(stream.audio, track)
	}
	if constraints.Video != nil {
		local, err := webrtc.NewTrackLocalStaticRTP(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000},
			"video", stream.id,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create video track: %w", err)
		}
		stream.video = append(stream.video, newSyntheticTrack(local, webrtc.RTPCodecTypeVideo))
	}

	a.logger.Infow("synthetic media acquired",
		"stream_id", stream.id,
		"audio", constraints.Audio,
		"video", constraints.Video != nil,
	)
	return stream, nil
}

type syntheticStream struct {
	id    string
	audio []ports.LocalTrack
	video []ports.LocalTrack
	once  sync.Once
}

func (s *syntheticStream) ID() string                      { return s.id }
func (s *syntheticStream) AudioTracks() []ports.LocalTrack { return s.audio }
func (s *syntheticStream) VideoTracks() []ports.LocalTrack { return s.video }

// Close stops every track. Repeated calls are no-ops.
func (s *syntheticStream) Close() error {
	s.once.Do(func() {
		for _, t := range append(append([]ports.LocalTrack{}, s.audio...), s.video...) {
			t.(*syntheticTrack).stop()
		}
	})
	return nil
}

type syntheticTrack struct {
	local   *webrtc.TrackLocalStaticRTP
	kind    webrtc.RTPCodecType
	enabled atomic.Bool
	sent    atomic.Uint64
	done    chan struct{}
	once    sync.Once
}

func newSyntheticTrack(local *webrtc.TrackLocalStaticRTP, kind webrtc.RTPCodecType) *syntheticTrack {
	t := &syntheticTrack{local: local, kind: kind, done: make(chan struct{})}
	t.enabled.Store(true)
	return t
}

func (t *syntheticTrack) ID() string                { return t.local.ID() }
func (t *syntheticTrack) Kind() webrtc.RTPCodecType { return t.kind }
func (t *syntheticTrack) Enabled() bool             { return t.enabled.Load() }
func (t *syntheticTrack) SetEnabled(enabled bool)   { t.enabled.Store(enabled) }
func (t *syntheticTrack) Local() webrtc.TrackLocal  { return t.local }

func (t *syntheticTrack) stop() {
	t.once.Do(func() { close(t.done) })
}

// sendSilence paces one Opus frame per 20ms while the track is enabled.
func (t *syntheticTrack) sendSilence(logger *zap.SugaredLogger) {
	ticker := time.NewTicker(opusFrame)
	defer ticker.Stop()

	packet := &rtp.Packet{
		Header: rtp.Header{
			Version:     2,
			PayloadType: opusPayloadType,
			SSRC:        uuid.New().ID(),
		},
		Payload: opusSilence,
	}

	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
		}

		packet.SequenceNumber++
		packet.Timestamp += opusFrameSamples
		if !t.enabled.Load() {
			continue
		}
		if err := t.local.WriteRTP(packet); err != nil {
			logger.Warnw("error writing synthetic audio", "track_id", t.local.ID(), "error", err)
			continue
		}
		t.sent.Add(1)
	}
}
