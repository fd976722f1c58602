package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/convento/voicemesh/internal/config"
	"github.com/convento/voicemesh/internal/core"
	"github.com/convento/voicemesh/internal/domain"
)

func testConfig() *config.Config {
	return &config.Config{
		PollInterval:       5 * time.Millisecond,
		RelayFailureBudget: 3,
		RelayPause:         10 * time.Millisecond,
		ConnectStaggerMax:  0,
		ReconnectDelay:     10 * time.Millisecond,
		ParticipantsEvery:  25 * time.Millisecond,
	}
}

type controllerEnv struct {
	ctrl  *Controller
	relay *fakeRelay
	dir   *fakeDirectory
	fac   *fakeFactory
	src   *fakeSource
	sinks map[domain.UserID]*fakeSink
	room  *domain.Room
}

func newControllerEnv(t *testing.T) *controllerEnv {
	t.Helper()
	self := domain.Participant{ID: "alice", Username: "alice"}
	relay := newFakeRelay()
	dir := &fakeDirectory{}
	fac := &fakeFactory{}
	src := &fakeSource{}
	sinks := make(map[domain.UserID]*fakeSink)
	factory := func(remote domain.UserID, _ core.RemoteTrack) core.AudioSink {
		s := &fakeSink{}
		sinks[remote] = s
		return s
	}
	media := NewMediaSession(src, factory)
	ctrl := NewController(self, relay, dir, fac, media, testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go ctrl.Run(ctx)

	return &controllerEnv{
		ctrl:  ctrl,
		relay: relay,
		dir:   dir,
		fac:   fac,
		src:   src,
		sinks: sinks,
		room:  &domain.Room{ID: "room-1", Name: "general"},
	}
}

func waitEvent(t *testing.T, events <-chan core.Event, kind core.EventKind) core.Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-events:
			if ev.Kind == kind {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s event", kind)
			return core.Event{}
		}
	}
}

func waitPhase(t *testing.T, ctrl *Controller, want Phase) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if ctrl.Phase() == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("phase = %s, want %s", ctrl.Phase(), want)
}

func TestJoinDialsExistingParticipants(t *testing.T) {
	env := newControllerEnv(t)
	env.dir.setParticipants(
		domain.Participant{ID: "alice", Username: "alice"},
		domain.Participant{ID: "bob", Username: "bob"},
	)

	if err := env.ctrl.Join(context.Background(), env.room, JoinOptions{}); err != nil {
		t.Fatal(err)
	}
	if env.ctrl.Phase() != PhaseActive {
		t.Fatalf("phase = %s, want active", env.ctrl.Phase())
	}

	ev := waitEvent(t, env.ctrl.Events(), core.EventParticipantJoined)
	if ev.Peer != "bob" {
		t.Fatalf("joined peer = %s, want bob", ev.Peer)
	}
	env.relay.waitSent(t, domain.SignalOffer)
}

func TestJoinRejectedWhileNotIdle(t *testing.T) {
	env := newControllerEnv(t)
	if err := env.ctrl.Join(context.Background(), env.room, JoinOptions{}); err != nil {
		t.Fatal(err)
	}
	if err := env.ctrl.Join(context.Background(), env.room, JoinOptions{}); !errors.Is(err, ErrNotIdle) {
		t.Fatalf("second join err = %v, want ErrNotIdle", err)
	}
}

func TestJoinFailsWithoutMicrophone(t *testing.T) {
	env := newControllerEnv(t)
	env.src.micErrs = []error{core.ErrDeviceNotFound}

	err := env.ctrl.Join(context.Background(), env.room, JoinOptions{})
	if !errors.Is(err, core.ErrDeviceNotFound) {
		t.Fatalf("err = %v, want device not found", err)
	}
	waitPhase(t, env.ctrl, PhaseIdle)
}

func TestDegradedJoinProceedsWithoutMicrophone(t *testing.T) {
	env := newControllerEnv(t)
	env.src.micErrs = []error{core.ErrDeviceNotFound}

	if err := env.ctrl.Join(context.Background(), env.room, JoinOptions{AllowDegraded: true}); err != nil {
		t.Fatal(err)
	}
	if env.ctrl.Phase() != PhaseActive {
		t.Fatalf("phase = %s, want active", env.ctrl.Phase())
	}
}

func TestPermissionDeniedOverridesDegraded(t *testing.T) {
	env := newControllerEnv(t)
	env.src.micErrs = []error{core.ErrPermissionDenied}

	err := env.ctrl.Join(context.Background(), env.room, JoinOptions{AllowDegraded: true})
	if !errors.Is(err, core.ErrPermissionDenied) {
		t.Fatalf("err = %v, want permission denied", err)
	}
	waitPhase(t, env.ctrl, PhaseIdle)
}

func TestLeaveReturnsImmediately(t *testing.T) {
	env := newControllerEnv(t)
	if err := env.ctrl.Join(context.Background(), env.room, JoinOptions{}); err != nil {
		t.Fatal(err)
	}

	done := make(chan struct{})
	go func() {
		env.ctrl.Leave()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(100 * time.Millisecond):
		t.Fatal("Leave blocked")
	}

	waitEvent(t, env.ctrl.Events(), core.EventLeft)
	waitPhase(t, env.ctrl, PhaseIdle)

	// Leave is idempotent from Idle.
	env.ctrl.Leave()
	waitPhase(t, env.ctrl, PhaseIdle)
}

func TestRejoinAfterLeave(t *testing.T) {
	env := newControllerEnv(t)
	if err := env.ctrl.Join(context.Background(), env.room, JoinOptions{}); err != nil {
		t.Fatal(err)
	}
	env.ctrl.Leave()
	waitPhase(t, env.ctrl, PhaseIdle)

	if err := env.ctrl.Join(context.Background(), env.room, JoinOptions{}); err != nil {
		t.Fatalf("rejoin: %v", err)
	}
}

func TestRelayFailureBudgetPausesAndResumes(t *testing.T) {
	env := newControllerEnv(t)
	if err := env.ctrl.Join(context.Background(), env.room, JoinOptions{}); err != nil {
		t.Fatal(err)
	}

	env.relay.setPollErr(errFake)
	waitEvent(t, env.ctrl.Events(), core.EventRelayPaused)

	// Joined state survives the outage.
	if env.ctrl.Phase() != PhaseActive {
		t.Fatal("relay outage must not tear down the session")
	}

	env.relay.setPollErr(nil)
	waitEvent(t, env.ctrl.Events(), core.EventRelayResumed)
}

func TestPolledOfferIsAnswered(t *testing.T) {
	env := newControllerEnv(t)
	if err := env.ctrl.Join(context.Background(), env.room, JoinOptions{}); err != nil {
		t.Fatal(err)
	}

	env.relay.enqueue(domain.NewOffer("bob", "alice", "room-1", testOffer()))
	env.relay.waitSent(t, domain.SignalAnswer)
}

func TestDepartedParticipantTornDown(t *testing.T) {
	env := newControllerEnv(t)
	env.dir.setParticipants(
		domain.Participant{ID: "alice"},
		domain.Participant{ID: "bob"},
	)
	if err := env.ctrl.Join(context.Background(), env.room, JoinOptions{}); err != nil {
		t.Fatal(err)
	}
	env.relay.waitSent(t, domain.SignalOffer)

	env.dir.setParticipants(domain.Participant{ID: "alice"})
	ev := waitEvent(t, env.ctrl.Events(), core.EventParticipantLeft)
	if ev.Peer != "bob" {
		t.Fatalf("left peer = %s, want bob", ev.Peer)
	}
	waitEvent(t, env.ctrl.Events(), core.EventRemoteGone)
}

func TestScreenShareEndedExternally(t *testing.T) {
	env := newControllerEnv(t)
	if err := env.ctrl.Join(context.Background(), env.room, JoinOptions{}); err != nil {
		t.Fatal(err)
	}
	if err := env.ctrl.StartScreenShare(context.Background()); err != nil {
		t.Fatal(err)
	}

	// Simulate the OS revoking the capture.
	video := env.ctrl.media.Screen().Video.(*fakeTrack)
	video.onEnded()

	waitEvent(t, env.ctrl.Events(), core.EventScreenShareEnded)

	// Starting again is allowed once the previous share is gone.
	deadline := time.Now().Add(2 * time.Second)
	for {
		if err := env.ctrl.StartScreenShare(context.Background()); err == nil {
			break
		} else if err != ErrScreenShareActive || time.Now().After(deadline) {
			t.Fatalf("restart: %v", err)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestScreenShareRequiresActivePhase(t *testing.T) {
	env := newControllerEnv(t)
	if err := env.ctrl.StartScreenShare(context.Background()); !errors.Is(err, ErrNotActive) {
		t.Fatalf("err = %v, want ErrNotActive", err)
	}
}
