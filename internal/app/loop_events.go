package app

import (
	"context"

	"github.com/convento/voicemesh/internal/core"
	"github.com/convento/voicemesh/internal/domain"
	"github.com/pion/webrtc/v4"
)

// Loop events: everything that mutates session state travels through the
// controller's single event loop, whether it started as a user action, a
// poll result or a transport callback. One writer, no parallel mutation.

type cmdJoin struct {
	ctx           context.Context
	room          *domain.Room
	allowDegraded bool
	reply         chan error
}

type cmdLeave struct{}

type cmdSetMuted struct{ muted bool }

type cmdSetDeafened struct{ deafened bool }

type cmdStartScreen struct {
	ctx   context.Context
	reply chan error
}

type cmdStopScreen struct{}

type cmdSwitchInput struct {
	ctx    context.Context
	device string
	reply  chan error
}

type evPollBatch struct{ envs []domain.SignalEnvelope }

type evRelayPaused struct{}

type evRelayResumed struct{}

type evParticipants struct{ list []domain.Participant }

type evDial struct{ peer domain.UserID }

type evConnState struct {
	peer  domain.UserID
	state webrtc.PeerConnectionState
}

type evRemoteTrack struct {
	peer  domain.UserID
	track core.RemoteTrack
}

type evReconnect struct{ peer domain.UserID }

type evRenegotiate struct{ peer domain.UserID }

type evScreenEnded struct{}
