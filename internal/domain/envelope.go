package domain

import "github.com/pion/webrtc/v4"

// SignalKind discriminates the negotiation payload carried by an envelope.
type SignalKind string

const (
	SignalOffer     SignalKind = "offer"
	SignalAnswer    SignalKind = "answer"
	SignalCandidate SignalKind = "ice-candidate"
)

// SignalEnvelope is one signaling message exchanged through the relay.
// Envelopes are immutable once created. The relay does not guarantee
// at-most-once delivery, so consumers must tolerate duplicates and
// reordering across poll cycles.
type SignalEnvelope struct {
	From    UserID        `json:"from_user"`
	To      UserID        `json:"to_user"`
	RoomID  RoomID        `json:"channel_id"`
	Kind    SignalKind    `json:"signal_type"`
	Payload SignalPayload `json:"data"`
}

// SignalPayload holds exactly one of the negotiation objects, matching Kind.
type SignalPayload struct {
	Offer     *webrtc.SessionDescription `json:"offer,omitempty"`
	Answer    *webrtc.SessionDescription `json:"answer,omitempty"`
	Candidate *webrtc.ICECandidateInit   `json:"candidate,omitempty"`
}

// Valid reports whether the envelope's payload matches its kind.
func (e *SignalEnvelope) Valid() bool {
	switch e.Kind {
	case SignalOffer:
		return e.Payload.Offer != nil
	case SignalAnswer:
		return e.Payload.Answer != nil
	case SignalCandidate:
		return e.Payload.Candidate != nil
	}
	return false
}

// NewOffer builds an offer envelope from self to the given peer.
func NewOffer(from, to UserID, room RoomID, sdp webrtc.SessionDescription) SignalEnvelope {
	return SignalEnvelope{From: from, To: to, RoomID: room, Kind: SignalOffer,
		Payload: SignalPayload{Offer: &sdp}}
}

// NewAnswer builds an answer envelope from self to the given peer.
func NewAnswer(from, to UserID, room RoomID, sdp webrtc.SessionDescription) SignalEnvelope {
	return SignalEnvelope{From: from, To: to, RoomID: room, Kind: SignalAnswer,
		Payload: SignalPayload{Answer: &sdp}}
}

// NewCandidate builds an ICE candidate envelope from self to the given peer.
func NewCandidate(from, to UserID, room RoomID, cand webrtc.ICECandidateInit) SignalEnvelope {
	return SignalEnvelope{From: from, To: to, RoomID: room, Kind: SignalCandidate,
		Payload: SignalPayload{Candidate: &cand}}
}
