package session

import (
	"time"

	"connectrtc/internal/core/domain"
	"connectrtc/internal/core/ports"
	"connectrtc/pkg/clock"
	"connectrtc/pkg/tracing"

	"github.com/pion/webrtc/v3"
)

// connectSignalingAndIceCollectionState waits for both the signaling
// channel to connect and local ICE gathering to finish.
type connectSignalingAndIceCollectionState struct {
	baseState
	ice      *iceCollection
	replay   []*webrtc.ICECandidate
	iceTimer clock.Timer
	start    time.Time

	signalingConnected bool
	iceCompleted       bool
}

func newConnectSignalingAndIceCollectionState(s *Session, buffered []*webrtc.ICECandidate) *connectSignalingAndIceCollectionState {
	return &connectSignalingAndIceCollectionState{
		baseState: newBase(s, domain.StateConnectSignalingAndIceCollection),
		ice:       newIceCollection(),
		replay:    buffered,
	}
}

func (st *connectSignalingAndIceCollectionState) onEnter() error {
	s := st.s
	st.start = s.clock.Now()
	st.iceTimer = s.clock.AfterFunc(s.cfg.ICETimeout, func() {
		s.loop.post(st.onIceTimeout)
	})

	if s.signaling == nil {
		s.signaling = s.deps.Signaling.NewSignalingChannel(ports.SignalingConfig{
			CallID:         s.cfg.CallID,
			Endpoint:       s.cfg.SignalingEndpoint,
			AuthToken:      s.cfg.AuthToken,
			ConnectTimeout: s.cfg.SignalingConnectTimeout,
		}, newSignalingBinding(s))
	}
	s.signaling.Connect(s.ctx)

	replay := st.replay
	st.replay = nil
	for _, c := range replay {
		if !st.current() {
			break
		}
		if err := st.onIceCandidate(c); err != nil {
			return err
		}
	}
	return nil
}

func (st *connectSignalingAndIceCollectionState) onExit() error {
	if st.iceTimer != nil {
		st.iceTimer.Stop()
	}
	return nil
}

func (st *connectSignalingAndIceCollectionState) onSignalingConnected() error {
	s := st.s
	elapsed := s.since(st.start)
	st.signalingConnected = true
	s.updateReport(func(r *domain.SessionReport) {
		r.SignallingConnectTimeMillis = elapsed
		r.SignallingConnectionFailure = false
	})
	s.log.Infow("signaling connected", "signalling_connect_time_ms", elapsed)
	s.cb.OnSignalingConnected(s)
	return st.checkBarrier()
}

func (st *connectSignalingAndIceCollectionState) onSignalingFailed(err error) error {
	s := st.s
	elapsed := s.since(st.start)
	s.log.Errorw("signaling connection failed", "error", err)
	s.updateReport(func(r *domain.SessionReport) {
		r.SignallingConnectTimeMillis = elapsed
		r.SignallingConnectionFailure = true
	})
	return st.fail(domain.ReasonSignallingConnection)
}

func (st *connectSignalingAndIceCollectionState) onSignalingDisconnected() error {
	s := st.s
	s.log.Errorw("signaling channel lost before invite")
	s.updateReport(func(r *domain.SessionReport) { r.SignallingConnectionFailure = true })
	return st.fail(domain.ReasonSignallingConnection)
}

func (st *connectSignalingAndIceCollectionState) onRemoteHungup() error {
	return st.peerHungUpFirst()
}

func (st *connectSignalingAndIceCollectionState) onIceCandidate(c *webrtc.ICECandidate) error {
	if c == nil {
		return st.completeIce(false)
	}
	st.s.log.Debugw("local ice candidate", "foundation", c.Foundation, "component", c.Component, "type", c.Typ.String())
	if hint := st.ice.add(c); hint && !st.iceCompleted {
		st.s.log.Infow("foundation seen on two components, treating ice collection as complete")
		return st.completeIce(false)
	}
	return nil
}

func (st *connectSignalingAndIceCollectionState) onIceTimeout() {
	if !st.current() {
		return
	}
	st.logDefect(st.completeIce(true))
}

// completeIce runs at most once, whichever of sentinel, hint or timer gets
// there first.
func (st *connectSignalingAndIceCollectionState) completeIce(isTimeout bool) error {
	if st.iceCompleted {
		return nil
	}
	st.iceCompleted = true
	st.iceTimer.Stop()

	s := st.s
	elapsed := s.since(st.start)
	count := st.ice.len()
	s.updateReport(func(r *domain.SessionReport) {
		r.IceCollectionTimeMillis = elapsed
	})
	tracing.AddSpanAttributes(s.stateCtx,
		tracing.CandidatesKey.Int(count),
		tracing.TimeoutKey.Bool(isTimeout),
	)
	s.log.Infow("ice collection complete", "timeout", isTimeout, "candidates", count, "ice_collection_time_ms", elapsed)
	s.cb.OnIceCollectionComplete(s, isTimeout, count)

	if count == 0 {
		s.updateReport(func(r *domain.SessionReport) { r.IceCollectionFailure = true })
		return st.fail(domain.ReasonIceCollectionTimeout)
	}
	s.updateReport(func(r *domain.SessionReport) { r.IceCollectionFailure = false })
	return st.checkBarrier()
}

func (st *connectSignalingAndIceCollectionState) checkBarrier() error {
	if !st.current() {
		return nil
	}
	if st.signalingConnected && st.iceCompleted && st.ice.len() > 0 {
		return st.transit(newInviteAnswerState(st.s, st.ice.inits()))
	}
	if !st.signalingConnected {
		st.s.log.Infow("waiting for signaling to connect")
	}
	if !st.iceCompleted {
		st.s.log.Infow("waiting for ice collection")
	}
	return nil
}
