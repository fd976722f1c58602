package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/convento/voicemesh/internal/core"
	"github.com/convento/voicemesh/internal/domain"
	"github.com/rs/zerolog/log"
)

const micSampleRate = 48000

// MediaSession owns the local microphone and screen tracks plus the remote
// audio sinks. The microphone track's lifetime is scoped to the joined
// state; holding one while Idle is invalid. Mutated only on the controller
// loop.
type MediaSession struct {
	source      core.CaptureSource
	sinkFactory core.SinkFactory

	mic      core.LocalTrack
	screen   *core.ScreenCapture
	muted    bool
	deafened bool

	sinks map[domain.UserID]core.AudioSink
}

func NewMediaSession(source core.CaptureSource, sinks core.SinkFactory) *MediaSession {
	return &MediaSession{
		source:      source,
		sinkFactory: sinks,
		sinks:       make(map[domain.UserID]core.AudioSink),
	}
}

// AcquireMicrophone walks the fallback ladder: the requested device with the
// full constraint set, the same device relaxed, then any default device.
// A permission denial aborts immediately; retrying would just re-prompt.
// Total failure surfaces ErrDeviceNotFound so the caller can offer a
// degraded no-audio join.
func (m *MediaSession) AcquireMicrophone(ctx context.Context, deviceID string) error {
	full := core.MicrophoneOptions{
		DeviceID:         deviceID,
		EchoCancellation: true,
		NoiseSuppression: true,
		AutoGainControl:  true,
		SampleRate:       micSampleRate,
	}

	ladder := []core.MicrophoneOptions{full}
	if deviceID != "" {
		ladder = append(ladder,
			core.MicrophoneOptions{DeviceID: deviceID},
			core.MicrophoneOptions{
				EchoCancellation: true,
				NoiseSuppression: true,
				AutoGainControl:  true,
				SampleRate:       micSampleRate,
			},
		)
	}
	ladder = append(ladder, core.MicrophoneOptions{})

	var lastErr error
	for i, opts := range ladder {
		track, err := m.source.AcquireMicrophone(ctx, opts)
		if err == nil {
			m.mic = track
			m.muted = false
			track.SetEnabled(true)
			return nil
		}
		if errors.Is(err, core.ErrPermissionDenied) {
			return err
		}
		log.Warn().Err(err).
			Str("module", "app.media").
			Int("rung", i).
			Str("device", opts.DeviceID).
			Msg("microphone attempt failed")
		lastErr = err
	}
	return fmt.Errorf("%w: %v", core.ErrDeviceNotFound, lastErr)
}

// Mic returns the microphone track, nil on a degraded join.
func (m *MediaSession) Mic() core.LocalTrack { return m.mic }

// SetMuted gates the microphone without stopping the track; the track
// identity is stable across mute toggles. Stopping and reacquiring is
// reserved for device switches.
func (m *MediaSession) SetMuted(muted bool) {
	m.muted = muted
	if m.mic != nil {
		m.mic.SetEnabled(!muted)
	}
}

func (m *MediaSession) Muted() bool { return m.muted }

// SetDeafened applies a 0/1 volume multiplier to every rendered remote
// sink. The microphone is untouched.
func (m *MediaSession) SetDeafened(deafened bool) {
	m.deafened = deafened
	vol := 1.0
	if deafened {
		vol = 0
	}
	for _, sink := range m.sinks {
		sink.SetVolume(vol)
	}
}

func (m *MediaSession) Deafened() bool { return m.deafened }

// SwitchInputDevice stops the current microphone and reacquires on the new
// device, preserving the mute state. Returns the new track for re-attachment
// to live sessions.
func (m *MediaSession) SwitchInputDevice(ctx context.Context, deviceID string) (core.LocalTrack, error) {
	old := m.mic
	wasMuted := m.muted

	m.mic = nil
	if err := m.AcquireMicrophone(ctx, deviceID); err != nil {
		m.mic = old
		return nil, err
	}
	if old != nil {
		_ = old.Close()
	}
	m.SetMuted(wasMuted)
	return m.mic, nil
}

// StartScreenShare acquires the screen capture. At most one share runs at a
// time.
func (m *MediaSession) StartScreenShare(ctx context.Context) (*core.ScreenCapture, error) {
	if m.screen != nil {
		return nil, ErrScreenShareActive
	}
	sc, err := m.source.AcquireScreen(ctx)
	if err != nil {
		return nil, err
	}
	m.screen = sc
	return sc, nil
}

func (m *MediaSession) Screen() *core.ScreenCapture { return m.screen }

// StopScreenShare releases the screen tracks. Idempotent: the externally
// triggered device-ended path and the explicit call converge here.
func (m *MediaSession) StopScreenShare() {
	if m.screen == nil {
		return
	}
	if m.screen.Video != nil {
		_ = m.screen.Video.Close()
	}
	if m.screen.Audio != nil {
		_ = m.screen.Audio.Close()
	}
	m.screen = nil
}

// AddRemoteAudio builds the playback sink for a newly arrived remote track,
// honoring the current deafen state.
func (m *MediaSession) AddRemoteAudio(peer domain.UserID, track core.RemoteTrack) {
	if m.sinkFactory == nil {
		return
	}
	if old, ok := m.sinks[peer]; ok {
		old.Close()
	}
	sink := m.sinkFactory(peer, track)
	if m.deafened {
		sink.SetVolume(0)
	} else {
		sink.SetVolume(1)
	}
	m.sinks[peer] = sink
}

// RemoveRemote drops the sink for a departed or closed peer.
func (m *MediaSession) RemoveRemote(peer domain.UserID) {
	if sink, ok := m.sinks[peer]; ok {
		sink.Close()
		delete(m.sinks, peer)
	}
}

// Release returns the media session to its idle state: microphone and
// screen stopped, every sink closed.
func (m *MediaSession) Release() {
	if m.mic != nil {
		_ = m.mic.Close()
		m.mic = nil
	}
	m.StopScreenShare()
	for peer, sink := range m.sinks {
		sink.Close()
		delete(m.sinks, peer)
	}
	m.muted = false
	m.deafened = false
}
