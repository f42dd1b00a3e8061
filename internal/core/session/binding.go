package session

import (
	"connectrtc/internal/core/ports"

	"github.com/pion/webrtc/v3"
)

// signalingBinding turns signaling channel events into handler calls on the
// session's current state.
type signalingBinding struct {
	s *Session
}

var _ ports.SignalingListener = (*signalingBinding)(nil)

func newSignalingBinding(s *Session) *signalingBinding {
	return &signalingBinding{s: s}
}

func (b *signalingBinding) OnConnected() {
	b.s.dispatch("onSignalingConnected", func(st state) error {
		return st.onSignalingConnected()
	})
}

func (b *signalingBinding) OnAnswered(sdp string, candidates []webrtc.ICECandidateInit) {
	b.s.dispatch("onSignalingAnswered", func(st state) error {
		return st.onSignalingAnswered(sdp, candidates)
	})
}

func (b *signalingBinding) OnHandshaked() {
	b.s.dispatch("onSignalingHandshaked", func(st state) error {
		return st.onSignalingHandshaked()
	})
}

func (b *signalingBinding) OnRemoteHungup() {
	b.s.dispatch("onRemoteHungup", func(st state) error {
		return st.onRemoteHungup()
	})
}

func (b *signalingBinding) OnFailed(err error) {
	b.s.dispatch("onSignalingFailed", func(st state) error {
		return st.onSignalingFailed(err)
	})
}

func (b *signalingBinding) OnDisconnected() {
	b.s.dispatch("onSignalingDisconnected", func(st state) error {
		return st.onSignalingDisconnected()
	})
}
