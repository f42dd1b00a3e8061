package media

import (
	"sync"
	"sync/atomic"

	"connectrtc/internal/core/ports"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"go.uber.org/zap"
)

// rtpReader is implemented by *webrtc.TrackRemote.
type rtpReader interface {
	ReadRTP() (*rtp.Packet, interceptor.Attributes, error)
}

// DrainSink reads and counts the RTP of an attached remote track. Reading
// keeps the receive buffers from filling up when nothing plays the media.
type DrainSink struct {
	name   string
	logger *zap.SugaredLogger

	enabled atomic.Bool
	packets atomic.Uint64
	bytes   atomic.Uint64

	mu       sync.Mutex
	attached ports.RemoteTrack
	gen      uint64
}

var _ ports.RenderSink = (*DrainSink)(nil)

func NewDrainSink(name string, logger *zap.Logger) *DrainSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &DrainSink{name: name, logger: logger.Sugar()}
	s.enabled.Store(true)
	return s
}

func (s *DrainSink) Attach(track ports.RemoteTrack) {
	reader, ok := track.(rtpReader)
	if !ok {
		s.logger.Warnw("track cannot be drained", "sink", s.name, "track_id", track.ID())
		return
	}

	s.mu.Lock()
	s.gen++
	gen := s.gen
	s.attached = track
	s.mu.Unlock()

	s.logger.Infow("sink attached", "sink", s.name, "track_id", track.ID(), "stream_id", track.StreamID())
	go s.drain(reader, gen)
}

// Detach stops counting. The reader goroutine exits with the track.
func (s *DrainSink) Detach() {
	s.mu.Lock()
	s.gen++
	s.attached = nil
	s.mu.Unlock()
}

func (s *DrainSink) SetEnabled(enabled bool) {
	s.enabled.Store(enabled)
}

func (s *DrainSink) Attached() ports.RemoteTrack {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attached
}

func (s *DrainSink) Packets() uint64 { return s.packets.Load() }
func (s *DrainSink) Bytes() uint64   { return s.bytes.Load() }

func (s *DrainSink) current(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen == gen
}

func (s *DrainSink) drain(reader rtpReader, gen uint64) {
	for {
		packet, _, err := reader.ReadRTP()
		if err != nil {
			s.logger.Debugw("sink reader stopped", "sink", s.name, "error", err)
			return
		}
		if !s.current(gen) {
			return
		}
		if !s.enabled.Load() {
			continue
		}
		s.packets.Add(1)
		s.bytes.Add(uint64(len(packet.Payload)))
	}
}
