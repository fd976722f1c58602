package app

import (
	"time"

	"github.com/convento/voicemesh/internal/core"
	"github.com/convento/voicemesh/internal/domain"
	"github.com/rs/zerolog/log"
)

// SessionState is the lifecycle of one peer session.
type SessionState int

const (
	StateNew SessionState = iota
	StateNegotiating
	StateConnected
	StateDisconnected
	StateFailed
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateNegotiating:
		return "negotiating"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Role is the negotiation role towards one peer.
type Role string

const (
	RoleInitiator Role = "initiator"
	RoleResponder Role = "responder"
)

// PeerSession is the registry's record of one remote participant. All
// mutation happens on the controller's event loop; there is exactly one
// writer, so the struct carries no lock.
type PeerSession struct {
	remote domain.UserID
	conn   core.MediaConnection
	role   Role
	state  SessionState

	// remoteDescSet gates candidate application; awaitingAnswer gates
	// answer application. Both survive renegotiation cycles.
	remoteDescSet  bool
	awaitingAnswer bool
	// retried is true once the single automatic renegotiation after a
	// failure has been spent.
	retried bool

	seen         map[string]struct{}
	lastActivity time.Time
}

func newPeerSession(remote domain.UserID, conn core.MediaConnection, role Role) *PeerSession {
	return &PeerSession{
		remote:       remote,
		conn:         conn,
		role:         role,
		state:        StateNew,
		seen:         make(map[string]struct{}),
		lastActivity: time.Now(),
	}
}

func (s *PeerSession) Remote() domain.UserID { return s.remote }
func (s *PeerSession) Role() Role            { return s.role }
func (s *PeerSession) State() SessionState   { return s.state }

func (s *PeerSession) touch() { s.lastActivity = time.Now() }

// setState applies a transition if the state machine allows it. Closed is
// terminal; everything else follows the per-peer lifecycle.
func (s *PeerSession) setState(to SessionState) bool {
	if s.state == to {
		return true
	}
	if !canTransition(s.state, to) {
		log.Warn().
			Str("module", "app.session").
			Str("peer", string(s.remote)).
			Str("from", s.state.String()).
			Str("to", to.String()).
			Msg("illegal state transition dropped")
		return false
	}
	log.Info().
		Str("module", "app.session").
		Str("peer", string(s.remote)).
		Str("from", s.state.String()).
		Str("to", to.String()).
		Msg("session state")
	s.state = to
	s.touch()
	return true
}

func canTransition(from, to SessionState) bool {
	if from == StateClosed {
		return false
	}
	if to == StateClosed {
		return true
	}
	switch from {
	case StateNew:
		return to == StateNegotiating || to == StateFailed
	case StateNegotiating:
		return to == StateConnected || to == StateFailed
	case StateConnected:
		return to == StateDisconnected || to == StateFailed || to == StateNegotiating
	case StateDisconnected:
		return to == StateNegotiating || to == StateConnected || to == StateFailed
	case StateFailed:
		return to == StateNegotiating
	}
	return false
}

// markCandidate records a candidate and reports whether it was seen before.
// Duplicate candidates from relay re-delivery are applied at most once.
func (s *PeerSession) markCandidate(key string) bool {
	if _, ok := s.seen[key]; ok {
		return false
	}
	s.seen[key] = struct{}{}
	return true
}

// resetNegotiation prepares the session for a fresh connection after the
// old one was discarded (failure retry or glare yield).
func (s *PeerSession) resetNegotiation(conn core.MediaConnection, role Role) {
	s.conn = conn
	s.role = role
	s.remoteDescSet = false
	s.awaitingAnswer = false
	s.seen = make(map[string]struct{})
	s.touch()
}
