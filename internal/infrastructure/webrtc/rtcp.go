package webrtc

import (
	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v3"
)

const (
	audioClockRate = 48000
	videoClockRate = 90000
)

// linkQuality is what the far end tells us about our outbound streams.
type linkQuality struct {
	reports      int
	fractionLost uint8
	totalLost    uint32
	jitter       uint32
}

func (q *linkQuality) jitterSeconds(kind webrtc.RTPCodecType) float64 {
	rate := float64(audioClockRate)
	if kind == webrtc.RTPCodecTypeVideo {
		rate = videoClockRate
	}
	return float64(q.jitter) / rate
}

// readSenderRTCP drains RTCP for one sender until the connection closes.
// pion needs the reads for its interceptors to run.
func (p *peerConnection) readSenderRTCP(trackID string, sender *webrtc.RTPSender) {
	for {
		packets, _, err := sender.ReadRTCP()
		if err != nil {
			p.logger.Debugw("rtcp reader stopped", "track_id", trackID, "error", err)
			return
		}
		p.processRTCPPackets(trackID, packets)
	}
}

func (p *peerConnection) readReceiverRTCP(trackID string, receiver *webrtc.RTPReceiver) {
	for {
		if _, _, err := receiver.ReadRTCP(); err != nil {
			p.logger.Debugw("receiver rtcp reader stopped", "track_id", trackID, "error", err)
			return
		}
	}
}

func (p *peerConnection) processRTCPPackets(trackID string, packets []rtcp.Packet) {
	for _, packet := range packets {
		switch pkt := packet.(type) {
		case *rtcp.ReceiverReport:
			p.mu.Lock()
			for _, report := range pkt.Reports {
				p.quality.reports++
				p.quality.fractionLost = report.FractionLost
				p.quality.totalLost = report.TotalLost
				p.quality.jitter = report.Jitter
			}
			p.mu.Unlock()
		case *rtcp.TransportLayerNack:
			p.logger.Debugw("received NACK", "track_id", trackID, "nacks", len(pkt.Nacks))
		case *rtcp.PictureLossIndication:
			p.logger.Debugw("received PLI", "track_id", trackID)
		}
	}
}
