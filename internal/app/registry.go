package app

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/convento/voicemesh/internal/core"
	"github.com/convento/voicemesh/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"
)

// Registry owns one PeerSession per remote participant in the joined room.
// It drives offer/answer exchange, candidate buffering and reconnection.
// All methods run on the controller's event loop; the mutex only covers the
// session map for read-only snapshots from other goroutines.
type Registry struct {
	self  domain.UserID
	room  domain.RoomID
	relay core.SignalRelay
	fac   core.ConnectionFactory
	queue *CandidateQueue

	// post feeds transport callbacks and timer expiries back into the loop.
	post func(any)
	// onClosed lets the controller detach sinks and notify the UI when a
	// session reaches Closed.
	onClosed func(domain.UserID)

	ctx            context.Context
	staggerMax     time.Duration
	reconnectDelay time.Duration

	mu       sync.RWMutex
	sessions map[domain.UserID]*PeerSession

	pendingDial map[domain.UserID]struct{}
	timers      map[domain.UserID]*time.Timer
	wg          conc.WaitGroup

	audioTrack  webrtc.TrackLocal // nil on a degraded no-audio join
	videoTrack  webrtc.TrackLocal // non-nil while screen sharing
	screenAudio webrtc.TrackLocal
}

type RegistryParams struct {
	Self           domain.UserID
	Room           domain.RoomID
	Relay          core.SignalRelay
	Factory        core.ConnectionFactory
	Post           func(any)
	OnClosed       func(domain.UserID)
	Ctx            context.Context
	StaggerMax     time.Duration
	ReconnectDelay time.Duration
	AudioTrack     webrtc.TrackLocal
}

func NewRegistry(p RegistryParams) *Registry {
	return &Registry{
		self:           p.Self,
		room:           p.Room,
		relay:          p.Relay,
		fac:            p.Factory,
		queue:          NewCandidateQueue(),
		post:           p.Post,
		onClosed:       p.OnClosed,
		ctx:            p.Ctx,
		staggerMax:     p.StaggerMax,
		reconnectDelay: p.ReconnectDelay,
		sessions:       make(map[domain.UserID]*PeerSession),
		pendingDial:    make(map[domain.UserID]struct{}),
		timers:         make(map[domain.UserID]*time.Timer),
		audioTrack:     p.AudioTrack,
	}
}

// Count reports the number of non-Closed sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Session returns the live session for peer, if any.
func (r *Registry) Session(peer domain.UserID) (*PeerSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[peer]
	return s, ok
}

// Peers snapshots the identifiers with live sessions.
func (r *Registry) Peers() []domain.UserID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.UserID, 0, len(r.sessions))
	for id := range r.sessions {
		out = append(out, id)
	}
	return out
}

// StaggerDial schedules an outbound dial to peer after a randomized delay,
// so joining a populated room does not fire every negotiation at once.
func (r *Registry) StaggerDial(peer domain.UserID) {
	if peer == r.self {
		return
	}
	if _, ok := r.Session(peer); ok {
		return
	}
	if _, ok := r.pendingDial[peer]; ok {
		return
	}
	r.pendingDial[peer] = struct{}{}

	var jitter time.Duration
	if r.staggerMax > 0 {
		jitter = rand.N(r.staggerMax)
	}
	r.wg.Go(func() {
		select {
		case <-r.ctx.Done():
		case <-time.After(jitter):
			r.post(evDial{peer: peer})
		}
	})
}

// Dial creates the outbound session for peer and sends the first offer.
// No-ops when a live session already exists (duplicate prevention).
func (r *Registry) Dial(peer domain.UserID) {
	delete(r.pendingDial, peer)
	if peer == r.self {
		return
	}
	if _, ok := r.Session(peer); ok {
		log.Debug().Str("module", "app.registry").Str("peer", string(peer)).Msg("session exists, dial skipped")
		return
	}

	conn, err := r.newConn(peer)
	if err != nil {
		log.Error().Err(err).Str("module", "app.registry").Str("peer", string(peer)).Msg("connection create failed")
		return
	}
	sess := newPeerSession(peer, conn, RoleInitiator)
	r.put(sess)

	if !r.sendOffer(sess, false) {
		r.CloseSession(peer)
	}
}

func (r *Registry) put(sess *PeerSession) {
	r.mu.Lock()
	r.sessions[sess.remote] = sess
	r.mu.Unlock()
}

func (r *Registry) newConn(peer domain.UserID) (core.MediaConnection, error) {
	conn, err := r.fac.New(peer)
	if err != nil {
		return nil, err
	}
	if r.audioTrack != nil {
		if err := conn.AddTrack(r.audioTrack); err != nil {
			conn.Close()
			return nil, err
		}
	}
	if err := conn.AddRecvOnlyTransceivers(r.audioTrack == nil); err != nil {
		conn.Close()
		return nil, err
	}
	if r.videoTrack != nil {
		if err := conn.AddTrack(r.videoTrack); err != nil {
			log.Warn().Err(err).Str("module", "app.registry").Str("peer", string(peer)).Msg("attach screen track failed")
		}
	}

	conn.OnICECandidate(func(ci webrtc.ICECandidateInit) {
		r.sendAsync(domain.NewCandidate(r.self, peer, r.room, ci))
	})
	conn.OnTrack(func(rt core.RemoteTrack) {
		r.post(evRemoteTrack{peer: peer, track: rt})
	})
	conn.OnStateChange(func(s webrtc.PeerConnectionState) {
		r.post(evConnState{peer: peer, state: s})
	})
	return conn, nil
}

func (r *Registry) sendOffer(sess *PeerSession, iceRestart bool) bool {
	offer, err := sess.conn.CreateAndSetOffer(iceRestart)
	if err != nil {
		log.Error().Err(err).Str("module", "app.registry").Str("peer", string(sess.remote)).Msg("create offer failed")
		return false
	}
	sess.awaitingAnswer = true
	sess.setState(StateNegotiating)
	r.sendAsync(domain.NewOffer(r.self, sess.remote, r.room, offer))
	return true
}

// sendAsync delivers one envelope off the loop. A lost envelope surfaces
// later as a stalled negotiation and is recovered by the reconnect paths,
// so failures are logged, not retried here.
func (r *Registry) sendAsync(env domain.SignalEnvelope) {
	r.wg.Go(func() {
		if err := r.relay.Send(r.ctx, env); err != nil {
			log.Warn().Err(err).
				Str("module", "app.registry").
				Str("peer", string(env.To)).
				Str("kind", string(env.Kind)).
				Msg("signal send failed")
		}
	})
}

// HandleEnvelope routes one relay-delivered envelope. Malformed or
// contradictory envelopes are dropped, never fatal.
func (r *Registry) HandleEnvelope(env domain.SignalEnvelope) {
	if !env.Valid() || env.From == r.self || env.RoomID != r.room {
		log.Warn().
			Str("module", "app.registry").
			Str("from", string(env.From)).
			Str("kind", string(env.Kind)).
			Msg("protocol violation, envelope dropped")
		return
	}
	switch env.Kind {
	case domain.SignalOffer:
		r.handleOffer(env.From, *env.Payload.Offer)
	case domain.SignalAnswer:
		r.handleAnswer(env.From, *env.Payload.Answer)
	case domain.SignalCandidate:
		r.handleCandidate(env.From, *env.Payload.Candidate)
	}
}

func (r *Registry) handleOffer(from domain.UserID, offer webrtc.SessionDescription) {
	sess, ok := r.Session(from)
	if !ok {
		conn, err := r.newConn(from)
		if err != nil {
			log.Error().Err(err).Str("module", "app.registry").Str("peer", string(from)).Msg("responder connection failed")
			return
		}
		sess = newPeerSession(from, conn, RoleResponder)
		r.put(sess)
		r.answer(sess, offer)
		return
	}

	// Glare: both sides sent an offer before either answered. The
	// lexicographically smaller identifier yields and answers; the larger
	// side ignores the peer's offer and waits for its answer.
	if sess.role == RoleInitiator && sess.awaitingAnswer && !sess.remoteDescSet {
		if r.self < from {
			log.Info().
				Str("module", "app.registry").
				Str("peer", string(from)).
				Msg("offer glare, yielding to peer")
			sess.conn.Close()
			conn, err := r.newConn(from)
			if err != nil {
				r.CloseSession(from)
				return
			}
			sess.resetNegotiation(conn, RoleResponder)
			r.queue.Purge(from)
			r.answer(sess, offer)
			return
		}
		log.Info().
			Str("module", "app.registry").
			Str("peer", string(from)).
			Msg("offer glare, peer will yield")
		return
	}

	// Renegotiation of an existing session (screen share, ICE restart, or
	// a duplicate offer after re-delivery): reuse the session, never
	// create a second one for the same pair.
	r.answer(sess, offer)
}

func (r *Registry) answer(sess *PeerSession, offer webrtc.SessionDescription) {
	answer, err := sess.conn.ApplyOfferAndCreateAnswer(offer)
	if err != nil {
		log.Error().Err(err).Str("module", "app.registry").Str("peer", string(sess.remote)).Msg("answer failed")
		r.failSession(sess)
		return
	}
	sess.remoteDescSet = true
	if sess.state == StateNew || sess.state == StateDisconnected {
		sess.setState(StateNegotiating)
	}
	r.drainCandidates(sess)
	r.sendAsync(domain.NewAnswer(r.self, sess.remote, r.room, answer))
}

func (r *Registry) handleAnswer(from domain.UserID, answer webrtc.SessionDescription) {
	sess, ok := r.Session(from)
	if !ok || !sess.awaitingAnswer {
		log.Debug().Str("module", "app.registry").Str("peer", string(from)).Msg("stale answer dropped")
		return
	}
	if err := sess.conn.ApplyAnswer(answer); err != nil {
		log.Error().Err(err).Str("module", "app.registry").Str("peer", string(from)).Msg("apply answer failed")
		r.failSession(sess)
		return
	}
	sess.awaitingAnswer = false
	sess.remoteDescSet = true
	sess.touch()
	r.drainCandidates(sess)
}

func (r *Registry) handleCandidate(from domain.UserID, cand webrtc.ICECandidateInit) {
	sess, ok := r.Session(from)
	if !ok || !sess.remoteDescSet {
		r.queue.Enqueue(from, cand)
		return
	}
	r.applyCandidate(sess, cand)
}

func (r *Registry) applyCandidate(sess *PeerSession, cand webrtc.ICECandidateInit) {
	if !sess.markCandidate(cand.Candidate) {
		return
	}
	if err := sess.conn.AddICECandidate(cand); err != nil {
		log.Warn().Err(err).Str("module", "app.registry").Str("peer", string(sess.remote)).Msg("add candidate failed")
	}
}

func (r *Registry) drainCandidates(sess *PeerSession) {
	for _, cand := range r.queue.Drain(sess.remote) {
		r.applyCandidate(sess, cand)
	}
}

// OnConnState folds a transport state change into the session lifecycle.
func (r *Registry) OnConnState(peer domain.UserID, state webrtc.PeerConnectionState) {
	sess, ok := r.Session(peer)
	if !ok {
		return
	}
	switch state {
	case webrtc.PeerConnectionStateConnected:
		if sess.setState(StateConnected) {
			// A healthy connection earns back its one automatic retry.
			sess.retried = false
		}
	case webrtc.PeerConnectionStateDisconnected:
		if sess.setState(StateDisconnected) {
			r.scheduleTimer(peer, func() { r.post(evReconnect{peer: peer}) })
		}
	case webrtc.PeerConnectionStateFailed:
		r.failSession(sess)
	case webrtc.PeerConnectionStateClosed:
		if sess.state != StateClosed {
			r.CloseSession(peer)
		}
	}
}

// failSession spends the single automatic renegotiation attempt, or closes
// the session when it is already spent.
func (r *Registry) failSession(sess *PeerSession) {
	if sess.retried {
		log.Info().Str("module", "app.registry").Str("peer", string(sess.remote)).Msg("retry exhausted, closing")
		r.CloseSession(sess.remote)
		return
	}
	sess.retried = true
	if !sess.setState(StateFailed) {
		return
	}
	peer := sess.remote
	r.scheduleTimer(peer, func() { r.post(evRenegotiate{peer: peer}) })
}

func (r *Registry) scheduleTimer(peer domain.UserID, fire func()) {
	if t, ok := r.timers[peer]; ok {
		t.Stop()
	}
	r.timers[peer] = time.AfterFunc(r.reconnectDelay, func() {
		select {
		case <-r.ctx.Done():
		default:
			fire()
		}
	})
}

// Reconnect renegotiates a transiently disconnected session in place with
// an ICE restart.
func (r *Registry) Reconnect(peer domain.UserID) {
	sess, ok := r.Session(peer)
	if !ok || sess.state != StateDisconnected {
		return
	}
	if !r.sendOffer(sess, true) {
		r.failSession(sess)
	}
}

// Renegotiate replaces a failed session's connection and sends the single
// retry offer. A second failure closes the session for good.
func (r *Registry) Renegotiate(peer domain.UserID) {
	sess, ok := r.Session(peer)
	if !ok || sess.state != StateFailed {
		return
	}
	sess.conn.Close()
	conn, err := r.newConn(peer)
	if err != nil {
		r.CloseSession(peer)
		return
	}
	sess.resetNegotiation(conn, RoleInitiator)
	r.queue.Purge(peer)
	if !r.sendOffer(sess, false) {
		r.CloseSession(peer)
	}
}

// CloseSession releases peer's connection, purges its candidate queue and
// removes the session. Terminal and idempotent.
func (r *Registry) CloseSession(peer domain.UserID) {
	r.mu.Lock()
	sess, ok := r.sessions[peer]
	if ok {
		delete(r.sessions, peer)
	}
	r.mu.Unlock()
	if !ok {
		return
	}

	if t, tok := r.timers[peer]; tok {
		t.Stop()
		delete(r.timers, peer)
	}
	sess.setState(StateClosed)
	sess.conn.Close()
	r.queue.Purge(peer)
	if r.onClosed != nil {
		r.onClosed(peer)
	}
}

// CloseAll tears down every session on leave.
func (r *Registry) CloseAll() {
	for _, peer := range r.Peers() {
		r.CloseSession(peer)
	}
	for peer, t := range r.timers {
		t.Stop()
		delete(r.timers, peer)
	}
	r.wg.Wait()
}

// SetAudioTrack swaps the microphone track on every live session without
// renegotiating (device switch path).
func (r *Registry) SetAudioTrack(t webrtc.TrackLocal) {
	r.audioTrack = t
	for _, peer := range r.Peers() {
		sess, ok := r.Session(peer)
		if !ok {
			continue
		}
		if _, err := sess.conn.ReplaceAudioTrack(t); err != nil {
			log.Warn().Err(err).Str("module", "app.registry").Str("peer", string(peer)).Msg("replace audio track failed")
		}
	}
}

// AttachVideo pushes the screen-share track into every live session:
// replace in place when a video sender exists, otherwise add the track and
// renegotiate just that session.
func (r *Registry) AttachVideo(video, audio webrtc.TrackLocal) {
	r.videoTrack = video
	r.screenAudio = audio
	for _, peer := range r.Peers() {
		sess, ok := r.Session(peer)
		if !ok {
			continue
		}
		replaced, err := sess.conn.ReplaceVideoTrack(video)
		if err != nil {
			log.Warn().Err(err).Str("module", "app.registry").Str("peer", string(peer)).Msg("replace video failed")
			continue
		}
		renegotiate := false
		if !replaced {
			if err := sess.conn.AddTrack(video); err != nil {
				log.Warn().Err(err).Str("module", "app.registry").Str("peer", string(peer)).Msg("add video failed")
				continue
			}
			renegotiate = true
		}
		if audio != nil {
			if err := sess.conn.AddTrack(audio); err == nil {
				renegotiate = true
			}
		}
		if renegotiate {
			r.sendOffer(sess, false)
		}
	}
}

// DetachVideo stops sending the screen track everywhere without touching
// unrelated media.
func (r *Registry) DetachVideo() {
	r.videoTrack = nil
	r.screenAudio = nil
	for _, peer := range r.Peers() {
		sess, ok := r.Session(peer)
		if !ok {
			continue
		}
		if err := sess.conn.RemoveVideoTrack(); err != nil {
			log.Warn().Err(err).Str("module", "app.registry").Str("peer", string(peer)).Msg("remove video failed")
		}
	}
}
