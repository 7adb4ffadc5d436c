package domain

// Call event types of the chat protocol's VoIP schema.
const (
	EventCallInvite     = "m.call.invite"
	EventCallCandidates = "m.call.candidates"
	EventCallAnswer     = "m.call.answer"
	EventCallHangup     = "m.call.hangup"
	EventReceipt        = "m.receipt"
)

// CallVersion is the only negotiation version the bot speaks.
const CallVersion = "1"

// SessionDescription is the offer/answer payload of an invite or answer.
type SessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// Candidate is one trickled connectivity candidate. An entry with an empty
// Candidate string marks end-of-candidates for the call.
type Candidate struct {
	Candidate     string `json:"candidate"`
	SDPMid        string `json:"sdpMid"`
	SDPMLineIndex uint16 `json:"sdpMLineIndex"`
}

// InviteContent is the body of an m.call.invite event.
type InviteContent struct {
	CallID   string             `json:"call_id"`
	PartyID  string             `json:"party_id,omitempty"`
	Version  string             `json:"version"`
	Lifetime uint32             `json:"lifetime,omitempty"`
	Offer    SessionDescription `json:"offer"`
}

// CandidatesContent is the body of an m.call.candidates event.
type CandidatesContent struct {
	CallID     string      `json:"call_id"`
	PartyID    string      `json:"party_id,omitempty"`
	Version    string      `json:"version"`
	Candidates []Candidate `json:"candidates"`
}

// AnswerContent is the body of an m.call.answer event.
type AnswerContent struct {
	CallID  string             `json:"call_id"`
	PartyID string             `json:"party_id"`
	Version string             `json:"version"`
	Answer  SessionDescription `json:"answer"`
}

// HangupContent is the body of an m.call.hangup event.
type HangupContent struct {
	CallID  string `json:"call_id"`
	PartyID string `json:"party_id,omitempty"`
	Version string `json:"version"`
	Reason  string `json:"reason,omitempty"`
}
