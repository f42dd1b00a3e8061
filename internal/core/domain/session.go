package domain

type CallID string

// StateName identifies a call-setup stage.
type StateName string

const (
	StateGrabLocalMedia                   StateName = "GrabLocalMediaState"
	StateCreateOffer                      StateName = "CreateOfferState"
	StateSetLocalSessionDescription       StateName = "SetLocalSessionDescriptionState"
	StateConnectSignalingAndIceCollection StateName = "ConnectSignalingAndIceCollectionState"
	StateInviteAnswer                     StateName = "InviteAnswerState"
	StateAccept                           StateName = "AcceptState"
	StateTalking                          StateName = "TalkingState"
	StateDisconnected                     StateName = "DisconnectedState"
	StateFailed                           StateName = "FailedState"
)

// IsTerminal reports whether no transition can follow this state.
func (s StateName) IsTerminal() bool {
	return s == StateDisconnected || s == StateFailed
}

// MediaConstraints describes what local media to acquire.
type MediaConstraints struct {
	Audio bool
	Video *VideoConstraints
}

type VideoConstraints struct {
	Width     int
	Height    int
	FrameRate int
}

// StreamStats is a snapshot of one media direction of the call.
type StreamStats struct {
	Kind          string  `json:"kind"`
	PacketsCount  uint64  `json:"packets_count"`
	PacketsLost   int64   `json:"packets_lost"`
	BytesCount    uint64  `json:"bytes_count"`
	JitterSeconds float64 `json:"jitter_seconds"`
}
