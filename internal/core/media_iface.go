package core

import (
	"github.com/convento/voicemesh/internal/domain"
	"github.com/pion/webrtc/v4"
)

// RemoteTrack is an inbound media track received from a peer. Track is nil
// in tests that fake the connection layer.
type RemoteTrack struct {
	ID    string
	Kind  TrackKind
	Track *webrtc.TrackRemote
}

// MediaConnection is one negotiable transport to a single remote peer.
// Implementations wrap a peer connection; callbacks fire on transport
// goroutines and must not be assumed to run on the caller's.
type MediaConnection interface {
	// AddTrack attaches a local track for sending.
	AddTrack(t webrtc.TrackLocal) error
	// ReplaceVideoTrack swaps the outbound video track in place when a video
	// sender already exists. Returns false when there is none, in which case
	// the caller must AddTrack and renegotiate.
	ReplaceVideoTrack(t webrtc.TrackLocal) (bool, error)
	// ReplaceAudioTrack swaps the outbound audio track in place (device
	// switch). Returns false when no audio sender exists.
	ReplaceAudioTrack(t webrtc.TrackLocal) (bool, error)
	// RemoveVideoTrack stops sending video without renegotiating.
	RemoveVideoTrack() error
	// AddRecvOnlyTransceivers ensures the SDP carries receive directions for
	// video, and for audio too when no local audio track will be attached, so
	// a degraded no-audio join can still receive remote media.
	AddRecvOnlyTransceivers(includeAudio bool) error

	// CreateAndSetOffer produces a local offer, optionally with ICE restart.
	CreateAndSetOffer(iceRestart bool) (webrtc.SessionDescription, error)
	// ApplyOfferAndCreateAnswer applies a remote offer and produces the answer.
	ApplyOfferAndCreateAnswer(offer webrtc.SessionDescription) (webrtc.SessionDescription, error)
	// ApplyAnswer applies a remote answer to a previously sent offer.
	ApplyAnswer(answer webrtc.SessionDescription) error
	// AddICECandidate applies a remote ICE candidate. Must only be called
	// once a remote description has been applied.
	AddICECandidate(webrtc.ICECandidateInit) error

	// OnICECandidate sets a callback for newly gathered local candidates.
	OnICECandidate(func(webrtc.ICECandidateInit))
	// OnTrack sets a callback invoked when a remote track arrives.
	OnTrack(func(RemoteTrack))
	// OnStateChange sets a callback for transport state transitions.
	OnStateChange(func(webrtc.PeerConnectionState))

	// Close releases the underlying connection resource. Idempotent.
	Close()
}

// ConnectionFactory builds one MediaConnection per remote participant.
type ConnectionFactory interface {
	New(remote domain.UserID) (MediaConnection, error)
}
