package session

import (
	"time"

	"connectrtc/internal/core/domain"
)

type talkingState struct {
	baseState
	start time.Time
}

func newTalkingState(s *Session) *talkingState {
	return &talkingState{baseState: newBase(s, domain.StateTalking)}
}

func (st *talkingState) onEnter() error {
	s := st.s
	st.start = s.clock.Now()
	elapsed := s.since(s.startTime())
	s.updateReport(func(r *domain.SessionReport) { r.PreTalkingTimeMillis = elapsed })
	s.log.Infow("call connected", "pre_talking_time_ms", elapsed)
	s.cb.OnSessionConnected(s)
	return nil
}

func (st *talkingState) onRemoteHungup() error {
	st.s.log.Infow("remote party hung up")
	return st.disconnect()
}

// Without a channel there is nobody to send bye to.
func (st *talkingState) onSignalingDisconnected() error {
	st.s.log.Warnw("signaling channel lost during call")
	return st.transit(newDisconnectedState(st.s))
}

func (st *talkingState) hangup() error {
	return st.disconnect()
}

func (st *talkingState) disconnect() error {
	st.s.signaling.Hangup()
	return st.transit(newDisconnectedState(st.s))
}

// onExit is the only place talking time is computed and runs on every way
// out of the call.
func (st *talkingState) onExit() error {
	s := st.s
	now := s.clock.Now()
	talking := domain.Millis(now.Sub(st.start))
	s.updateReport(func(r *domain.SessionReport) {
		r.TalkingTimeMillis = talking
		r.SessionEndTime = now
	})
	s.detachSinks()
	s.log.Infow("call completed", "talking_time_ms", talking)
	s.cb.OnSessionCompleted(s)
	return nil
}
