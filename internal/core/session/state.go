package session

import (
	"fmt"

	"connectrtc/internal/core/domain"

	"github.com/pion/webrtc/v3"
)

// state is one stage of call setup. Handlers run on the event loop and
// only while the state is current.
type state interface {
	name() domain.StateName
	base() *baseState

	onEnter() error
	onExit() error

	onIceCandidate(c *webrtc.ICECandidate) error
	onRemoteHungup() error
	onSignalingConnected() error
	onSignalingHandshaked() error
	onSignalingFailed(err error) error
	onSignalingDisconnected() error
	onSignalingAnswered(sdp string, candidates []webrtc.ICECandidateInit) error
	hangup() error
}

// baseState carries the owning session and the generation the state was
// entered with, and supplies the default handler arms.
type baseState struct {
	s     *Session
	gen   uint64
	label domain.StateName
}

func newBase(s *Session, label domain.StateName) baseState {
	return baseState{s: s, label: label}
}

func (b *baseState) name() domain.StateName { return b.label }
func (b *baseState) base() *baseState       { return b }

// current reports whether this state is still the session's active state.
func (b *baseState) current() bool {
	return b.gen != 0 && b.s.gen == b.gen
}

// transit moves the session to next. Dropped if this state is stale.
func (b *baseState) transit(next state) error {
	if !b.current() {
		b.s.log.Debugw("dropping transition from stale state",
			"state", b.label, "next", next.name())
		return nil
	}
	return b.s.transit(next)
}

func (b *baseState) fail(reason domain.FailureReason) error {
	return b.transit(newFailedState(b.s, reason))
}

// logDefect logs an error returned from a transition started by an
// asynchronous continuation, which has no caller to hand it to.
func (b *baseState) logDefect(err error) {
	if err != nil {
		b.s.log.Errorw("state machine defect", "state", b.label, "error", err)
	}
}

func (b *baseState) unsupported(handler string) error {
	return fmt.Errorf("%s.%s: %w", b.label, handler, domain.ErrUnsupportedOperation)
}

func (b *baseState) onEnter() error { return nil }
func (b *baseState) onExit() error  { return nil }

// Candidates outside of collection are of no use.
func (b *baseState) onIceCandidate(*webrtc.ICECandidate) error { return nil }

func (b *baseState) onRemoteHungup() error {
	return b.unsupported("onRemoteHungup")
}

func (b *baseState) onSignalingConnected() error {
	return b.unsupported("onSignalingConnected")
}

func (b *baseState) onSignalingHandshaked() error {
	return b.unsupported("onSignalingHandshaked")
}

func (b *baseState) onSignalingFailed(error) error {
	return b.unsupported("onSignalingFailed")
}

// Before signaling starts and after the call ends a lost channel changes nothing.
func (b *baseState) onSignalingDisconnected() error {
	b.s.log.Infow("signaling channel disconnected", "state", b.label)
	return nil
}

// peerHungUpFirst handles a remote bye that arrives before the call is up.
func (b *baseState) peerHungUpFirst() error {
	b.s.log.Warnw("remote party hung up during setup", "state", b.label)
	b.s.updateReport(func(r *domain.SessionReport) { r.HandshakingFailure = true })
	return b.fail(domain.ReasonCallNotFound)
}

func (b *baseState) onSignalingAnswered(string, []webrtc.ICECandidateInit) error {
	return b.unsupported("onSignalingAnswered")
}

func (b *baseState) hangup() error {
	return b.fail(domain.ReasonUserHangup)
}
