package session

import (
	"context"
	"fmt"

	"connectrtc/internal/core/domain"
	"connectrtc/internal/core/ports"
	apperrors "connectrtc/pkg/errors"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

type inviteAnswerState struct {
	baseState
	candidates []webrtc.ICECandidateInit
}

func newInviteAnswerState(s *Session, candidates []webrtc.ICECandidateInit) *inviteAnswerState {
	return &inviteAnswerState{
		baseState:  newBase(s, domain.StateInviteAnswer),
		candidates: candidates,
	}
}

func (st *inviteAnswerState) onEnter() error {
	s := st.s
	s.cb.OnSignalingStarted(s)
	s.inviteSentAt = s.clock.Now()
	s.signaling.Invite(s.localDesc.SDP, st.candidates)
	return nil
}

func (st *inviteAnswerState) onSignalingAnswered(sdp string, candidates []webrtc.ICECandidateInit) error {
	st.s.updateReport(func(r *domain.SessionReport) {
		r.UserBusyFailure = false
		r.HandshakingFailure = false
	})
	return st.transit(newAcceptState(st.s, sdp, candidates))
}

func (st *inviteAnswerState) onSignalingFailed(err error) error {
	s := st.s
	var reason domain.FailureReason
	switch {
	case apperrors.HasCode(err, apperrors.ErrCodeBusy):
		reason = domain.ReasonUserBusy
		s.updateReport(func(r *domain.SessionReport) {
			r.UserBusyFailure = true
			r.HandshakingFailure = true
		})
	case apperrors.HasCode(err, apperrors.ErrCodeCallNotFound):
		reason = domain.ReasonCallNotFound
		s.updateReport(func(r *domain.SessionReport) { r.HandshakingFailure = true })
	default:
		reason = domain.ReasonSignallingHandshake
		s.updateReport(func(r *domain.SessionReport) { r.HandshakingFailure = true })
	}
	s.log.Errorw("invite failed", "reason", reason, "error", err)
	return st.fail(reason)
}

func (st *inviteAnswerState) onRemoteHungup() error {
	return st.peerHungUpFirst()
}

func (st *inviteAnswerState) onSignalingDisconnected() error {
	st.s.log.Errorw("signaling channel lost during invite")
	st.s.updateReport(func(r *domain.SessionReport) { r.HandshakingFailure = true })
	return st.fail(domain.ReasonSignallingHandshake)
}

// acceptState waits until the remote answer is applied and the signaling
// handshake is confirmed, in either order.
type acceptState struct {
	baseState
	sdp        string
	candidates []webrtc.ICECandidateInit

	handshaked           bool
	remoteDescriptionSet bool
}

func newAcceptState(s *Session, sdp string, candidates []webrtc.ICECandidateInit) *acceptState {
	return &acceptState{
		baseState:  newBase(s, domain.StateAccept),
		sdp:        sdp,
		candidates: candidates,
	}
}

func (st *acceptState) onEnter() error {
	s := st.s
	if st.sdp == "" {
		s.log.Errorw("answer carries no sdp")
		s.stopSession()
		s.updateReport(func(r *domain.SessionReport) { r.InvalidRemoteSDPFailure = true })
		return st.fail(domain.ReasonInvalidRemoteSDP)
	}
	if len(st.candidates) == 0 {
		s.log.Errorw("answer carries no ice candidates")
		s.stopSession()
		s.updateReport(func(r *domain.SessionReport) { r.NoRemoteIceCandidateFailure = true })
		return st.fail(domain.ReasonNoRemoteIceCandidate)
	}

	pc := s.peer()
	if pc == nil {
		return fmt.Errorf("%w: no peer connection", domain.ErrIllegalState)
	}
	ctx := s.ctx
	answer := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: st.sdp}
	candidates := st.candidates
	go func() {
		if err := pc.SetRemoteDescription(ctx, answer); err != nil {
			s.loop.post(func() { st.onRemoteDescription(err) })
			return
		}
		addRemoteCandidates(ctx, pc, s.log, candidates)
		s.loop.post(func() { st.onRemoteDescription(nil) })
	}()
	return nil
}

// addRemoteCandidates adds every candidate; individual rejections are logged
// and tolerated.
func addRemoteCandidates(ctx context.Context, pc ports.PeerConnection, log *zap.SugaredLogger, candidates []webrtc.ICECandidateInit) {
	for _, c := range candidates {
		if err := pc.AddICECandidate(ctx, c); err != nil {
			log.Warnw("remote ice candidate rejected", "candidate", c.Candidate, "error", err)
		}
	}
}

func (st *acceptState) onRemoteDescription(err error) {
	if !st.current() {
		return
	}
	s := st.s
	if err != nil {
		s.log.Errorw("set remote description failed", "error", err)
		s.stopSession()
		s.updateReport(func(r *domain.SessionReport) { r.SetRemoteDescriptionFailure = true })
		st.logDefect(st.fail(domain.ReasonSetRemoteDescription))
		return
	}
	st.remoteDescriptionSet = true
	s.updateReport(func(r *domain.SessionReport) { r.SetRemoteDescriptionFailure = false })
	st.logDefect(st.checkBarrier())
}

func (st *acceptState) onSignalingHandshaked() error {
	s := st.s
	st.handshaked = true
	elapsed := s.since(s.inviteSentAt)
	s.updateReport(func(r *domain.SessionReport) { r.HandshakingTimeMillis = elapsed })
	s.log.Infow("signaling handshaked", "handshaking_time_ms", elapsed)
	return st.checkBarrier()
}

// A failed accept leaves the call without a confirmed handshake.
func (st *acceptState) onSignalingFailed(err error) error {
	st.s.log.Errorw("accept failed", "error", err)
	st.s.updateReport(func(r *domain.SessionReport) { r.HandshakingFailure = true })
	return st.fail(domain.ReasonSignallingHandshake)
}

func (st *acceptState) onRemoteHungup() error {
	return st.peerHungUpFirst()
}

func (st *acceptState) onSignalingDisconnected() error {
	st.s.log.Errorw("signaling channel lost during accept")
	st.s.updateReport(func(r *domain.SessionReport) { r.HandshakingFailure = true })
	return st.fail(domain.ReasonSignallingHandshake)
}

func (st *acceptState) checkBarrier() error {
	if !st.current() {
		return nil
	}
	if st.handshaked && st.remoteDescriptionSet {
		return st.transit(newTalkingState(st.s))
	}
	if !st.handshaked {
		st.s.log.Infow("waiting for signaling handshake")
	}
	if !st.remoteDescriptionSet {
		st.s.log.Infow("waiting for remote description")
	}
	return nil
}
