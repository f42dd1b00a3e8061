package session

import (
	"fmt"
	"time"

	"connectrtc/internal/core/domain"
	"connectrtc/internal/core/ports"
	"connectrtc/pkg/clock"

	"github.com/pion/webrtc/v3"
)

type grabLocalMediaState struct {
	baseState
	settled bool
	timer   clock.Timer
	start   time.Time
}

func newGrabLocalMediaState(s *Session) *grabLocalMediaState {
	return &grabLocalMediaState{baseState: newBase(s, domain.StateGrabLocalMedia)}
}

func (st *grabLocalMediaState) onEnter() error {
	s := st.s
	if s.cfg.AudioStream != nil {
		return st.transit(newCreateOfferState(s))
	}
	if s.deps.Media == nil {
		return fmt.Errorf("%w: no media acquirer", domain.ErrIllegalState)
	}

	st.start = s.clock.Now()
	st.timer = s.clock.AfterFunc(s.cfg.GumTimeout, func() {
		s.loop.post(st.onTimeout)
	})

	ctx, constraints := s.ctx, s.cfg.mediaConstraints()
	go func() {
		stream, err := s.deps.Media.GetUserMedia(ctx, constraints)
		posted := s.loop.post(func() { st.onResult(stream, err) })
		if !posted && stream != nil {
			_ = stream.Close()
		}
	}()
	return nil
}

func (st *grabLocalMediaState) onResult(stream ports.MediaStream, err error) {
	if st.settled || !st.current() {
		if stream != nil {
			st.s.log.Infow("closing local media acquired after the race was decided")
			if cerr := stream.Close(); cerr != nil {
				st.s.log.Warnw("closing late local stream", "error", cerr)
			}
		}
		return
	}
	st.settled = true
	st.timer.Stop()

	s := st.s
	elapsed := s.since(st.start)
	if err != nil {
		s.log.Errorw("local media acquisition failed", "error", err)
		s.updateReport(func(r *domain.SessionReport) {
			r.GumTimeMillis = elapsed
			r.GumOtherFailure = true
			r.GumTimeoutFailure = false
		})
		s.cb.OnGumError(s, err)
		st.logDefect(st.fail(domain.ReasonGumOther))
		return
	}

	s.holdStream(stream)
	s.updateReport(func(r *domain.SessionReport) {
		r.GumTimeMillis = elapsed
		r.GumOtherFailure = false
		r.GumTimeoutFailure = false
	})
	s.log.Infow("local media acquired", "stream", stream.ID(), "gum_time_ms", elapsed)
	s.cb.OnGumSuccess(s)
	st.logDefect(st.transit(newCreateOfferState(s)))
}

func (st *grabLocalMediaState) onTimeout() {
	if st.settled || !st.current() {
		return
	}
	st.settled = true

	s := st.s
	elapsed := s.since(st.start)
	s.log.Errorw("local media acquisition timed out", "gum_time_ms", elapsed)
	s.updateReport(func(r *domain.SessionReport) {
		r.GumTimeMillis = elapsed
		r.GumTimeoutFailure = true
		r.GumOtherFailure = false
	})
	s.cb.OnGumError(s, domain.ErrGumTimeout)
	st.logDefect(st.fail(domain.ReasonGumTimeout))
}

func (st *grabLocalMediaState) onExit() error {
	if st.timer != nil {
		st.timer.Stop()
	}
	return nil
}

type createOfferState struct {
	baseState
}

func newCreateOfferState(s *Session) *createOfferState {
	return &createOfferState{baseState: newBase(s, domain.StateCreateOffer)}
}

func (st *createOfferState) onEnter() error {
	s := st.s
	pc, stream := s.peer(), s.localStream()
	if pc == nil || stream == nil {
		return fmt.Errorf("%w: peer connection or local stream missing", domain.ErrIllegalState)
	}

	if err := pc.AddStream(stream); err != nil {
		s.log.Errorw("adding local stream failed", "error", err)
		return st.failOffer()
	}
	s.cb.OnLocalStreamAdded(s, stream)

	ctx := s.ctx
	go func() {
		desc, err := pc.CreateOffer(ctx)
		s.loop.post(func() { st.onOffer(desc, err) })
	}()
	return nil
}

func (st *createOfferState) onOffer(desc webrtc.SessionDescription, err error) {
	if !st.current() {
		return
	}
	s := st.s
	if err != nil {
		s.log.Errorw("create offer failed", "error", err)
		st.logDefect(st.failOffer())
		return
	}

	sdp, terr := transformOffer(desc.SDP, s.cfg.ForceAudioCodec, s.cfg.EnableOpusDTX)
	if terr != nil {
		s.log.Warnw("offer transform failed, using offer as created", "error", terr)
	} else {
		desc.SDP = sdp
	}
	s.localDesc = desc
	s.updateReport(func(r *domain.SessionReport) { r.CreateOfferFailure = false })
	st.logDefect(st.transit(newSetLocalSessionDescriptionState(s)))
}

func (st *createOfferState) failOffer() error {
	st.s.updateReport(func(r *domain.SessionReport) { r.CreateOfferFailure = true })
	return st.fail(domain.ReasonCreateOffer)
}

// setLocalSessionDescriptionState buffers local candidates the engine
// emits while the description is being applied.
type setLocalSessionDescriptionState struct {
	baseState
	pending []*webrtc.ICECandidate
}

func newSetLocalSessionDescriptionState(s *Session) *setLocalSessionDescriptionState {
	return &setLocalSessionDescriptionState{baseState: newBase(s, domain.StateSetLocalSessionDescription)}
}

func (st *setLocalSessionDescriptionState) onEnter() error {
	s := st.s
	pc := s.peer()
	if pc == nil {
		return fmt.Errorf("%w: no peer connection", domain.ErrIllegalState)
	}

	ctx, desc := s.ctx, s.localDesc
	go func() {
		err := pc.SetLocalDescription(ctx, desc)
		s.loop.post(func() { st.onApplied(err) })
	}()
	return nil
}

func (st *setLocalSessionDescriptionState) onIceCandidate(c *webrtc.ICECandidate) error {
	st.pending = append(st.pending, c)
	return nil
}

func (st *setLocalSessionDescriptionState) onApplied(err error) {
	if !st.current() {
		return
	}
	s := st.s
	if err != nil {
		s.log.Errorw("set local description failed", "error", err)
		s.updateReport(func(r *domain.SessionReport) { r.SetLocalDescriptionFailure = true })
		st.logDefect(st.fail(domain.ReasonSetLocalDescription))
		return
	}

	elapsed := s.since(s.startTime())
	s.updateReport(func(r *domain.SessionReport) {
		r.InitializationTimeMillis = elapsed
		r.SetLocalDescriptionFailure = false
	})
	s.cb.OnSessionInitialized(s)
	st.logDefect(st.transit(newConnectSignalingAndIceCollectionState(s, st.pending)))
}
