package protocol

// MsgType identifies a wire message between validator and miner.
type MsgType string

// Wire message type constants.
const (
	MsgRequest  MsgType = "REQUEST"  // validator -> miner: serve this request
	MsgResponse MsgType = "RESPONSE" // miner -> validator: recommendations
	MsgReject   MsgType = "REJECT"   // miner -> validator: request refused (blacklist)
)

// Message is the envelope for all validator<->miner traffic, sent as
// line-delimited JSON over a net.Conn. Exactly one payload field is non-nil,
// matching Type.
type Message struct {
	Type     MsgType        `json:"type"`
	Request  *RecRequest    `json:"request,omitempty"`
	Response *RecResponse   `json:"response,omitempty"`
	Reject   *RejectPayload `json:"reject,omitempty"`
}

// RejectPayload explains why a miner refused a request.
type RejectPayload struct {
	Reason string `json:"reason"`
}
