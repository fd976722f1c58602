package core

import "github.com/convento/voicemesh/internal/domain"

// EventKind enumerates notifications the room session emits to the UI layer.
type EventKind string

const (
	EventParticipantJoined EventKind = "participant-joined"
	EventParticipantLeft   EventKind = "participant-left"
	EventRemoteAudio       EventKind = "remote-audio"
	EventRemoteVideo       EventKind = "remote-video"
	EventRemoteGone        EventKind = "remote-gone"
	EventPeerState         EventKind = "peer-state"
	EventRelayPaused       EventKind = "relay-paused"
	EventRelayResumed      EventKind = "relay-resumed"
	EventScreenShareEnded  EventKind = "screen-share-ended"
	EventLeft              EventKind = "left"
)

// Event is a UI-facing notification. Fields beyond Kind are set per kind.
type Event struct {
	Kind  EventKind
	Peer  domain.UserID
	State string
	Track *RemoteTrack
}
