package domain

import "errors"

var (
	ErrUnsupportedOperation = errors.New("unsupported operation in this state")
	ErrIllegalState         = errors.New("illegal state")
	ErrAlreadyConnected     = errors.New("session already connected")
	ErrGumTimeout           = errors.New("local media has not been initialized yet")
	ErrReportNotFound       = errors.New("session report not found")
)

// FailureReason is the stable code a failed session reports.
type FailureReason string

const (
	ReasonGumTimeout           FailureReason = "GUM_TIMEOUT_FAILURE"
	ReasonGumOther             FailureReason = "GUM_OTHER_FAILURE"
	ReasonCreateOffer          FailureReason = "CREATE_OFFER_FAILURE"
	ReasonSetLocalDescription  FailureReason = "SET_LOCAL_DESCRIPTION_FAILURE"
	ReasonSignallingConnection FailureReason = "SIGNALLING_CONNECTION_FAILURE"
	ReasonIceCollectionTimeout FailureReason = "ICE_COLLECTION_TIMEOUT"
	ReasonUserBusy             FailureReason = "USER_BUSY"
	ReasonCallNotFound         FailureReason = "CALL_NOT_FOUND"
	ReasonSignallingHandshake  FailureReason = "SIGNALLING_HANDSHAKE_FAILURE"
	ReasonInvalidRemoteSDP     FailureReason = "INVALID_REMOTE_SDP"
	ReasonNoRemoteIceCandidate FailureReason = "NO_REMOTE_ICE_CANDIDATE"
	ReasonSetRemoteDescription FailureReason = "SET_REMOTE_DESCRIPTION_FAILURE"
	ReasonUserHangup           FailureReason = "USER_HANGUP"
)

func (r FailureReason) String() string {
	return string(r)
}
