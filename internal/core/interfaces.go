// Package core defines the interfaces between the room session orchestration
// and its collaborators: the signaling relay, the membership directory, the
// local capture stack and the per-peer media connections. Adapters own the
// concrete transports; core never touches the network itself.
package core

import (
	"context"

	"github.com/convento/voicemesh/internal/domain"
)

// SignalRelay carries negotiation envelopes through the polling relay.
// There is no push mechanism: Poll is the only source of inbound signaling.
type SignalRelay interface {
	// Send delivers one envelope, fire-and-forget. The caller decides
	// whether a transport failure is worth retrying.
	Send(ctx context.Context, env domain.SignalEnvelope) error
	// Poll fetches and consumes all envelopes addressed to self in room.
	// Returns an empty slice when none are pending. Consecutive polls must
	// not overlap; the caller serializes them.
	Poll(ctx context.Context, room domain.RoomID, self domain.UserID) ([]domain.SignalEnvelope, error)
}

// Directory is the room membership service. Join and Leave are idempotent
// on the server side.
type Directory interface {
	CreateRoom(ctx context.Context, name, color string, creator domain.UserID, private bool) (*domain.Room, error)
	ListRooms(ctx context.Context) ([]domain.Room, error)
	Join(ctx context.Context, room domain.RoomID, user domain.UserID) error
	Leave(ctx context.Context, room domain.RoomID, user domain.UserID) error
	Participants(ctx context.Context, room domain.RoomID) ([]domain.Participant, error)
	SetVisibility(ctx context.Context, room domain.RoomID, caller domain.UserID, private bool) (*domain.Room, error)
}
