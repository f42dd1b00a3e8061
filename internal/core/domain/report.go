package domain

import "time"

// SessionReport accumulates timing and failure flags for one call attempt.
// Durations are in milliseconds.
type SessionReport struct {
	CallID CallID `json:"call_id"`

	SessionStartTime time.Time `json:"session_start_time"`
	SessionEndTime   time.Time `json:"session_end_time,omitempty"`

	GumTimeMillis               int64 `json:"gum_time_millis"`
	InitializationTimeMillis    int64 `json:"initialization_time_millis"`
	IceCollectionTimeMillis     int64 `json:"ice_collection_time_millis"`
	SignallingConnectTimeMillis int64 `json:"signalling_connect_time_millis"`
	HandshakingTimeMillis       int64 `json:"handshaking_time_millis"`
	PreTalkingTimeMillis        int64 `json:"pre_talking_time_millis"`
	TalkingTimeMillis           int64 `json:"talking_time_millis"`
	CleanupTimeMillis           int64 `json:"cleanup_time_millis"`

	GumTimeoutFailure           bool `json:"gum_timeout_failure"`
	GumOtherFailure             bool `json:"gum_other_failure"`
	CreateOfferFailure          bool `json:"create_offer_failure"`
	SetLocalDescriptionFailure  bool `json:"set_local_description_failure"`
	IceCollectionFailure        bool `json:"ice_collection_failure"`
	SignallingConnectionFailure bool `json:"signalling_connection_failure"`
	HandshakingFailure          bool `json:"handshaking_failure"`
	UserBusyFailure             bool `json:"user_busy_failure"`
	InvalidRemoteSDPFailure     bool `json:"invalid_remote_sdp_failure"`
	NoRemoteIceCandidateFailure bool `json:"no_remote_ice_candidate_failure"`
	SetRemoteDescriptionFailure bool `json:"set_remote_description_failure"`

	FinalState    StateName     `json:"final_state,omitempty"`
	FailureReason FailureReason `json:"failure_reason,omitempty"`
}

// Millis converts a duration to the report's millisecond resolution.
func Millis(d time.Duration) int64 {
	return d.Milliseconds()
}

// Failed reports whether the attempt ended in the Failed state.
func (r *SessionReport) Failed() bool {
	return r.FinalState == StateFailed
}
