package app

import (
	"context"
	"sync"
	"time"

	"github.com/convento/voicemesh/internal/core"
	"github.com/convento/voicemesh/internal/domain"
	"github.com/pion/webrtc/v4"
)

// fakeConn records every call so tests can assert on negotiation flow
// without real peer connections.
type fakeConn struct {
	mu sync.Mutex

	remote domain.UserID
	closed bool

	tracks     []webrtc.TrackLocal
	recvOnly   bool
	candidates []webrtc.ICECandidateInit

	offersCreated  int
	iceRestarts    int
	answersCreated int
	answersApplied int

	failOffer  bool
	failAnswer bool

	onICE   func(webrtc.ICECandidateInit)
	onTrack func(core.RemoteTrack)
	onState func(webrtc.PeerConnectionState)
}

func (f *fakeConn) AddTrack(t webrtc.TrackLocal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tracks = append(f.tracks, t)
	return nil
}

func (f *fakeConn) ReplaceVideoTrack(t webrtc.TrackLocal) (bool, error) { return false, nil }

func (f *fakeConn) ReplaceAudioTrack(t webrtc.TrackLocal) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.tracks) == 0 {
		return false, nil
	}
	f.tracks[0] = t
	return true, nil
}

func (f *fakeConn) RemoveVideoTrack() error { return nil }

func (f *fakeConn) AddRecvOnlyTransceivers(includeAudio bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recvOnly = true
	return nil
}

func (f *fakeConn) CreateAndSetOffer(iceRestart bool) (webrtc.SessionDescription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failOffer {
		return webrtc.SessionDescription{}, errFake
	}
	f.offersCreated++
	if iceRestart {
		f.iceRestarts++
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0 offer"}, nil
}

func (f *fakeConn) ApplyOfferAndCreateAnswer(offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAnswer {
		return webrtc.SessionDescription{}, errFake
	}
	f.answersCreated++
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0 answer"}, nil
}

func (f *fakeConn) ApplyAnswer(answer webrtc.SessionDescription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answersApplied++
	return nil
}

func (f *fakeConn) AddICECandidate(ci webrtc.ICECandidateInit) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.candidates = append(f.candidates, ci)
	return nil
}

func (f *fakeConn) OnICECandidate(fn func(webrtc.ICECandidateInit)) { f.onICE = fn }
func (f *fakeConn) OnTrack(fn func(core.RemoteTrack))              { f.onTrack = fn }
func (f *fakeConn) OnStateChange(fn func(webrtc.PeerConnectionState)) {
	f.onState = fn
}

func (f *fakeConn) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

func (f *fakeConn) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeConn) candidateCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.candidates)
}

type fakeError string

func (e fakeError) Error() string { return string(e) }

const errFake = fakeError("fake failure")

type fakeFactory struct {
	mu    sync.Mutex
	conns []*fakeConn
	fail  bool
}

func (f *fakeFactory) New(remote domain.UserID) (core.MediaConnection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return nil, errFake
	}
	c := &fakeConn{remote: remote}
	f.conns = append(f.conns, c)
	return c, nil
}

func (f *fakeFactory) last() *fakeConn {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.conns) == 0 {
		return nil
	}
	return f.conns[len(f.conns)-1]
}

func (f *fakeFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.conns)
}

// fakeRelay delivers sent envelopes to a channel and serves polls from a
// scriptable queue.
type fakeRelay struct {
	mu      sync.Mutex
	sent    chan domain.SignalEnvelope
	queue   []domain.SignalEnvelope
	pollErr error
}

func newFakeRelay() *fakeRelay {
	return &fakeRelay{sent: make(chan domain.SignalEnvelope, 32)}
}

func (r *fakeRelay) Send(_ context.Context, env domain.SignalEnvelope) error {
	r.sent <- env
	return nil
}

func (r *fakeRelay) Poll(_ context.Context, _ domain.RoomID, _ domain.UserID) ([]domain.SignalEnvelope, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pollErr != nil {
		return nil, r.pollErr
	}
	out := r.queue
	r.queue = nil
	return out, nil
}

func (r *fakeRelay) enqueue(envs ...domain.SignalEnvelope) {
	r.mu.Lock()
	r.queue = append(r.queue, envs...)
	r.mu.Unlock()
}

func (r *fakeRelay) setPollErr(err error) {
	r.mu.Lock()
	r.pollErr = err
	r.mu.Unlock()
}

func (r *fakeRelay) waitSent(t interface{ Fatalf(string, ...any) }, kind domain.SignalKind) domain.SignalEnvelope {
	deadline := time.After(2 * time.Second)
	for {
		select {
		case env := <-r.sent:
			if env.Kind == kind {
				return env
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s envelope", kind)
			return domain.SignalEnvelope{}
		}
	}
}

// fakeDirectory is an in-memory core.Directory.
type fakeDirectory struct {
	mu           sync.Mutex
	participants []domain.Participant
	joinErr      error
	joined       []domain.UserID
	left         []domain.UserID
}

func (d *fakeDirectory) CreateRoom(_ context.Context, name, color string, creator domain.UserID, private bool) (*domain.Room, error) {
	return &domain.Room{ID: "room-1", Name: name, Color: color, CreatorID: creator, Private: private}, nil
}

func (d *fakeDirectory) ListRooms(context.Context) ([]domain.Room, error) { return nil, nil }

func (d *fakeDirectory) Join(_ context.Context, _ domain.RoomID, user domain.UserID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.joinErr != nil {
		return d.joinErr
	}
	d.joined = append(d.joined, user)
	return nil
}

func (d *fakeDirectory) Leave(_ context.Context, _ domain.RoomID, user domain.UserID) error {
	d.mu.Lock()
	d.left = append(d.left, user)
	d.mu.Unlock()
	return nil
}

func (d *fakeDirectory) Participants(context.Context, domain.RoomID) ([]domain.Participant, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]domain.Participant, len(d.participants))
	copy(out, d.participants)
	return out, nil
}

func (d *fakeDirectory) SetVisibility(_ context.Context, _ domain.RoomID, _ domain.UserID, _ bool) (*domain.Room, error) {
	return nil, nil
}

func (d *fakeDirectory) setParticipants(list ...domain.Participant) {
	d.mu.Lock()
	d.participants = list
	d.mu.Unlock()
}

// fakeTrack implements core.LocalTrack without touching any device.
type fakeTrack struct {
	mu      sync.Mutex
	id      string
	kind    core.TrackKind
	enabled bool
	closed  bool
	onEnded func()
}

func (t *fakeTrack) ID() string          { return t.id }
func (t *fakeTrack) Kind() core.TrackKind { return t.kind }

func (t *fakeTrack) SetEnabled(on bool) {
	t.mu.Lock()
	t.enabled = on
	t.mu.Unlock()
}

func (t *fakeTrack) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

func (t *fakeTrack) OnEnded(fn func()) { t.onEnded = fn }

func (t *fakeTrack) Output() webrtc.TrackLocal { return nil }

func (t *fakeTrack) Close() error {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	return nil
}

func (t *fakeTrack) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// fakeSource scripts microphone acquisition results per call.
type fakeSource struct {
	mu       sync.Mutex
	micErrs  []error
	attempts []core.MicrophoneOptions
	screens  int
	screenErr error
}

func (s *fakeSource) AcquireMicrophone(_ context.Context, opts core.MicrophoneOptions) (core.LocalTrack, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts = append(s.attempts, opts)
	if len(s.micErrs) > 0 {
		err := s.micErrs[0]
		s.micErrs = s.micErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	return &fakeTrack{id: "mic", kind: core.TrackAudio}, nil
}

func (s *fakeSource) AcquireScreen(context.Context) (*core.ScreenCapture, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.screenErr != nil {
		return nil, s.screenErr
	}
	s.screens++
	return &core.ScreenCapture{
		Video: &fakeTrack{id: "screen", kind: core.TrackVideo},
	}, nil
}

type fakeSink struct {
	mu     sync.Mutex
	volume float64
	closed bool
}

func (s *fakeSink) SetVolume(v float64) {
	s.mu.Lock()
	s.volume = v
	s.mu.Unlock()
}

func (s *fakeSink) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

func (s *fakeSink) getVolume() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.volume
}
