package signal

import (
	"encoding/json"

	"github.com/pion/webrtc/v3"
)

const jsonrpcVersion = "2.0"

const (
	methodInvite = "invite"
	methodAccept = "accept"
	methodBye    = "bye"
)

// JSON-RPC 2.0 reserved codes
const (
	rpcMethodNotFound = -32601
	rpcInvalidParams  = -32602
)

// rpcMessage is a request, notification or response. Requests carry a
// Method, responses carry Result or Error, notifications have no ID.
type rpcMessage struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *int64          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

func (m *rpcMessage) isResponse() bool {
	return m.Method == "" && m.ID != nil
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type callParams struct {
	CallID string `json:"callId"`
}

type inviteParams struct {
	CallID     string                    `json:"callId"`
	SDP        string                    `json:"sdp"`
	Candidates []webrtc.ICECandidateInit `json:"candidates"`
}

type inviteResult struct {
	SDP        string                    `json:"sdp"`
	Candidates []webrtc.ICECandidateInit `json:"candidates"`
}
