package app

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/convento/voicemesh/internal/config"
	"github.com/convento/voicemesh/internal/core"
	"github.com/convento/voicemesh/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"
)

// Phase is the channel session lifecycle.
type Phase int32

const (
	PhaseIdle Phase = iota
	PhaseJoining
	PhaseActive
	PhaseLeaving
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseJoining:
		return "joining"
	case PhaseActive:
		return "active"
	case PhaseLeaving:
		return "leaving"
	}
	return "unknown"
}

// JoinOptions tunes a single Join call.
type JoinOptions struct {
	// AllowDegraded joins without a microphone when acquisition fails for
	// any reason other than a permission denial.
	AllowDegraded bool
}

const eventBuffer = 64

// Controller is the channel session: at most one joined room at a time. It
// runs a single event loop that owns all session state; public methods post
// commands to the loop and transport callbacks post events, so there is
// exactly one writer.
type Controller struct {
	self  domain.Participant
	relay core.SignalRelay
	dir   core.Directory
	fac   core.ConnectionFactory
	media *MediaSession
	cfg   *config.Config

	phase atomic.Int32
	loop  chan any

	events chan core.Event

	// Room-scoped state, loop-owned, valid only while not Idle.
	room       *domain.Room
	roomCtx    context.Context
	roomCancel context.CancelFunc
	registry   *Registry
	known      map[domain.UserID]domain.Participant
	wg         conc.WaitGroup
}

func NewController(self domain.Participant, relay core.SignalRelay, dir core.Directory, fac core.ConnectionFactory, media *MediaSession, cfg *config.Config) *Controller {
	return &Controller{
		self:   self,
		relay:  relay,
		dir:    dir,
		fac:    fac,
		media:  media,
		cfg:    cfg,
		loop:   make(chan any, 128),
		events: make(chan core.Event, eventBuffer),
	}
}

// Events is the UI-facing notification stream. Emission never blocks the
// loop; when the consumer lags, events are dropped.
func (c *Controller) Events() <-chan core.Event { return c.events }

// Phase reports the current lifecycle phase.
func (c *Controller) Phase() Phase { return Phase(c.phase.Load()) }

// Run drives the event loop until ctx is canceled. Must be running before
// Join is called.
func (c *Controller) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			if c.Phase() == PhaseActive {
				c.phase.Store(int32(PhaseLeaving))
				c.doLeave()
			}
			return
		case msg := <-c.loop:
			c.dispatch(msg)
		}
	}
}

func (c *Controller) post(msg any) {
	select {
	case c.loop <- msg:
	default:
		// The loop buffer is sized for bursts; blocking here would deadlock
		// a transport callback against the loop itself.
		c.wg.Go(func() { c.loop <- msg })
	}
}

func (c *Controller) dispatch(msg any) {
	switch m := msg.(type) {
	case cmdJoin:
		m.reply <- c.doJoin(m.ctx, m.room, m.allowDegraded)
	case cmdLeave:
		c.doLeave()
	case cmdSetMuted:
		if c.Phase() == PhaseActive {
			c.media.SetMuted(m.muted)
		}
	case cmdSetDeafened:
		if c.Phase() == PhaseActive {
			c.media.SetDeafened(m.deafened)
		}
	case cmdStartScreen:
		m.reply <- c.doStartScreen(m.ctx)
	case cmdStopScreen:
		c.doStopScreen(false)
	case cmdSwitchInput:
		m.reply <- c.doSwitchInput(m.ctx, m.device)
	case evPollBatch:
		if c.Phase() != PhaseActive {
			return
		}
		for _, env := range m.envs {
			c.registry.HandleEnvelope(env)
		}
	case evRelayPaused:
		c.emit(core.Event{Kind: core.EventRelayPaused})
	case evRelayResumed:
		c.emit(core.Event{Kind: core.EventRelayResumed})
	case evParticipants:
		if c.Phase() == PhaseActive {
			c.applyParticipants(m.list)
		}
	case evDial:
		if c.Phase() == PhaseActive {
			c.registry.Dial(m.peer)
		}
	case evConnState:
		if c.Phase() == PhaseActive {
			c.registry.OnConnState(m.peer, m.state)
			c.emit(core.Event{Kind: core.EventPeerState, Peer: m.peer, State: m.state.String()})
		}
	case evRemoteTrack:
		if c.Phase() != PhaseActive {
			return
		}
		if m.track.Kind == core.TrackAudio {
			c.media.AddRemoteAudio(m.peer, m.track)
			c.emit(core.Event{Kind: core.EventRemoteAudio, Peer: m.peer, Track: &m.track})
		} else {
			c.emit(core.Event{Kind: core.EventRemoteVideo, Peer: m.peer, Track: &m.track})
		}
	case evReconnect:
		if c.Phase() == PhaseActive {
			c.registry.Reconnect(m.peer)
		}
	case evRenegotiate:
		if c.Phase() == PhaseActive {
			c.registry.Renegotiate(m.peer)
		}
	case evScreenEnded:
		c.doStopScreen(true)
	}
}

// Join enters room and blocks until the session is Active or the join
// failed. Only valid from Idle.
func (c *Controller) Join(ctx context.Context, room *domain.Room, opts JoinOptions) error {
	if !c.phase.CompareAndSwap(int32(PhaseIdle), int32(PhaseJoining)) {
		return ErrNotIdle
	}
	reply := make(chan error, 1)
	select {
	case c.loop <- cmdJoin{ctx: ctx, room: room, allowDegraded: opts.AllowDegraded, reply: reply}:
	case <-ctx.Done():
		c.phase.Store(int32(PhaseIdle))
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Controller) doJoin(ctx context.Context, room *domain.Room, allowDegraded bool) error {
	fail := func(err error) error {
		c.media.Release()
		c.phase.Store(int32(PhaseIdle))
		return err
	}

	if err := c.media.AcquireMicrophone(ctx, c.cfg.InputDevice); err != nil {
		if errors.Is(err, core.ErrPermissionDenied) || !allowDegraded {
			return fail(err)
		}
		log.Warn().Err(err).
			Str("module", "app.controller").
			Str("room", string(room.ID)).
			Msg("joining degraded, no microphone")
	}

	if err := c.dir.Join(ctx, room.ID, c.self.ID); err != nil {
		return fail(err)
	}

	c.room = room
	c.roomCtx, c.roomCancel = context.WithCancel(context.Background())
	c.known = make(map[domain.UserID]domain.Participant)

	var audio webrtc.TrackLocal
	if mic := c.media.Mic(); mic != nil {
		audio = mic.Output()
	}
	c.registry = NewRegistry(RegistryParams{
		Self:    c.self.ID,
		Room:    room.ID,
		Relay:   c.relay,
		Factory: c.fac,
		Post:    c.post,
		OnClosed: func(peer domain.UserID) {
			c.media.RemoveRemote(peer)
			c.emit(core.Event{Kind: core.EventRemoteGone, Peer: peer})
		},
		Ctx:            c.roomCtx,
		StaggerMax:     c.cfg.ConnectStaggerMax,
		ReconnectDelay: c.cfg.ReconnectDelay,
		AudioTrack:     audio,
	})

	c.phase.Store(int32(PhaseActive))
	log.Info().
		Str("module", "app.controller").
		Str("room", string(room.ID)).
		Str("user", string(c.self.ID)).
		Msg("joined")

	c.wg.Go(func() { c.pollLoop(c.roomCtx, room.ID) })
	c.wg.Go(func() { c.membershipLoop(c.roomCtx, room.ID) })
	c.fetchParticipants(c.roomCtx, room.ID)
	return nil
}

// Leave starts teardown and returns immediately. Idempotent: a second call
// while leaving or idle is a no-op.
func (c *Controller) Leave() {
	if !c.phase.CompareAndSwap(int32(PhaseActive), int32(PhaseLeaving)) {
		return
	}
	c.post(cmdLeave{})
}

func (c *Controller) doLeave() {
	if c.room == nil {
		c.phase.Store(int32(PhaseIdle))
		return
	}
	room := c.room.ID
	user := c.self.ID

	c.roomCancel()
	c.registry.CloseAll()
	c.media.Release()

	c.room = nil
	c.registry = nil
	c.known = nil

	// Departure notification is best effort: the server expires silent
	// members anyway, and teardown must not block on a dead network.
	c.wg.Go(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := c.dir.Leave(ctx, room, user); err != nil {
			log.Warn().Err(err).
				Str("module", "app.controller").
				Str("room", string(room)).
				Msg("leave notification failed")
		}
	})

	c.phase.Store(int32(PhaseIdle))
	log.Info().Str("module", "app.controller").Str("room", string(room)).Msg("left")
	c.emit(core.Event{Kind: core.EventLeft})
}

// SetMuted toggles the microphone gate. Safe in any phase.
func (c *Controller) SetMuted(muted bool) { c.post(cmdSetMuted{muted: muted}) }

// SetDeafened toggles remote audio rendering.
func (c *Controller) SetDeafened(deafened bool) { c.post(cmdSetDeafened{deafened: deafened}) }

// StartScreenShare captures the screen and pushes the video track to every
// connected peer.
func (c *Controller) StartScreenShare(ctx context.Context) error {
	reply := make(chan error, 1)
	c.post(cmdStartScreen{ctx: ctx, reply: reply})
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Controller) doStartScreen(ctx context.Context) error {
	if c.Phase() != PhaseActive {
		return ErrNotActive
	}
	sc, err := c.media.StartScreenShare(ctx)
	if err != nil {
		return err
	}
	// The OS can end the capture (window closed, permission revoked); that
	// path converges on the same teardown as an explicit stop.
	sc.Video.OnEnded(func() { c.post(evScreenEnded{}) })
	sc.Video.SetEnabled(true)
	var audio webrtc.TrackLocal
	if sc.Audio != nil {
		sc.Audio.SetEnabled(true)
		audio = sc.Audio.Output()
	}
	c.registry.AttachVideo(sc.Video.Output(), audio)
	return nil
}

// StopScreenShare ends an active share. No-op when none is running.
func (c *Controller) StopScreenShare() { c.post(cmdStopScreen{}) }

func (c *Controller) doStopScreen(external bool) {
	if c.media.Screen() == nil {
		return
	}
	if c.Phase() == PhaseActive {
		c.registry.DetachVideo()
	}
	c.media.StopScreenShare()
	if external {
		c.emit(core.Event{Kind: core.EventScreenShareEnded})
	}
}

// SwitchInputDevice reacquires the microphone on device and swaps the track
// into every live session without renegotiating.
func (c *Controller) SwitchInputDevice(ctx context.Context, device string) error {
	reply := make(chan error, 1)
	c.post(cmdSwitchInput{ctx: ctx, device: device, reply: reply})
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Controller) doSwitchInput(ctx context.Context, device string) error {
	if c.Phase() != PhaseActive {
		return ErrNotActive
	}
	track, err := c.media.SwitchInputDevice(ctx, device)
	if err != nil {
		return err
	}
	c.registry.SetAudioTrack(track.Output())
	return nil
}

// pollLoop is the relay heartbeat: strictly serialized polls, one in flight
// at a time. After RelayFailureBudget consecutive failures it reports the
// pause once and keeps retrying at the slower RelayPause interval; the
// joined state is never torn down by relay trouble alone.
func (c *Controller) pollLoop(ctx context.Context, room domain.RoomID) {
	failures := 0
	paused := false
	interval := c.cfg.PollInterval

	t := time.NewTimer(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}

		envs, err := c.relay.Poll(ctx, room, c.self.ID)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			failures++
			log.Warn().Err(err).
				Str("module", "app.controller").
				Int("failures", failures).
				Msg("poll failed")
			if failures >= c.cfg.RelayFailureBudget && !paused {
				paused = true
				interval = c.cfg.RelayPause
				c.post(evRelayPaused{})
			}
		} else {
			failures = 0
			if paused {
				paused = false
				interval = c.cfg.PollInterval
				c.post(evRelayResumed{})
			}
			if len(envs) > 0 {
				c.post(evPollBatch{envs: envs})
			}
		}
		t.Reset(interval)
	}
}

// membershipLoop refreshes the participant list. The list, not signaling
// traffic, is the authority on who is present.
func (c *Controller) membershipLoop(ctx context.Context, room domain.RoomID) {
	t := time.NewTicker(c.cfg.ParticipantsEvery)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			c.fetchParticipants(ctx, room)
		}
	}
}

func (c *Controller) fetchParticipants(ctx context.Context, room domain.RoomID) {
	c.wg.Go(func() {
		list, err := c.dir.Participants(ctx, room)
		if err != nil {
			if ctx.Err() == nil {
				log.Warn().Err(err).Str("module", "app.controller").Msg("participants fetch failed")
			}
			return
		}
		c.post(evParticipants{list: list})
	})
}

// applyParticipants diffs the fetched list against the known set: new
// members are dialed (staggered), departed members torn down.
func (c *Controller) applyParticipants(list []domain.Participant) {
	current := make(map[domain.UserID]domain.Participant, len(list))
	for _, p := range list {
		current[p.ID] = p
		if p.ID == c.self.ID {
			continue
		}
		if _, ok := c.known[p.ID]; !ok {
			c.emit(core.Event{Kind: core.EventParticipantJoined, Peer: p.ID})
			c.registry.StaggerDial(p.ID)
		}
	}
	for id := range c.known {
		if _, ok := current[id]; !ok && id != c.self.ID {
			c.emit(core.Event{Kind: core.EventParticipantLeft, Peer: id})
			c.registry.CloseSession(id)
		}
	}
	c.known = current
}

func (c *Controller) emit(ev core.Event) {
	select {
	case c.events <- ev:
	default:
		log.Debug().
			Str("module", "app.controller").
			Str("kind", string(ev.Kind)).
			Msg("event dropped, consumer lagging")
	}
}
