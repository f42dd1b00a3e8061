package session

import (
	"fmt"

	"connectrtc/internal/core/domain"
	"connectrtc/pkg/tracing"
)

// cleanUpState is the shared terminal behaviour of Disconnected and Failed.
type cleanUpState struct {
	baseState
}

func (st *cleanUpState) cleanUp() {
	s := st.s
	start := s.clock.Now()
	s.stopSession()
	elapsed := s.since(start)
	s.updateReport(func(r *domain.SessionReport) { r.CleanupTimeMillis = elapsed })
	s.finish(st.label)
}

func (st *cleanUpState) hangup() error { return nil }

type disconnectedState struct {
	cleanUpState
}

func newDisconnectedState(s *Session) *disconnectedState {
	return &disconnectedState{cleanUpState{baseState: newBase(s, domain.StateDisconnected)}}
}

func (st *disconnectedState) onEnter() error {
	st.cleanUp()
	return nil
}

type failedState struct {
	cleanUpState
	reason domain.FailureReason
}

func newFailedState(s *Session, reason domain.FailureReason) *failedState {
	return &failedState{
		cleanUpState: cleanUpState{baseState: newBase(s, domain.StateFailed)},
		reason:       reason,
	}
}

func (st *failedState) onEnter() error {
	s := st.s
	now := s.clock.Now()
	s.updateReport(func(r *domain.SessionReport) {
		r.SessionEndTime = now
		r.FailureReason = st.reason
	})
	tracing.AddSpanAttributes(s.stateCtx, tracing.ReasonKey.String(st.reason.String()))
	tracing.RecordError(s.stateCtx, fmt.Errorf("session failed: %s", st.reason))
	s.log.Errorw("session failed", "reason", st.reason)
	s.cb.OnSessionFailed(s, st.reason)
	st.cleanUp()
	return nil
}
