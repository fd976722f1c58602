package core

import (
	"context"

	"github.com/convento/voicemesh/internal/domain"
	"github.com/pion/webrtc/v4"
)

type TrackKind string

const (
	TrackAudio TrackKind = "audio"
	TrackVideo TrackKind = "video"
)

// LocalTrack is a locally captured media track. Disabling it gates samples
// at the pump without stopping capture, so the outbound track identity is
// stable across mute toggles. The track is attached, not transferred, to
// peer connections; only its owner may Close it.
type LocalTrack interface {
	ID() string
	Kind() TrackKind
	SetEnabled(bool)
	Enabled() bool
	// OnEnded fires when capture stops outside our control, e.g. the user
	// revokes screen sharing from OS chrome.
	OnEnded(func())
	// Output is the handle peer connections send from.
	Output() webrtc.TrackLocal
	Close() error
}

// MicrophoneOptions is one rung of the acquisition ladder.
type MicrophoneOptions struct {
	DeviceID         string
	EchoCancellation bool
	NoiseSuppression bool
	AutoGainControl  bool
	SampleRate       int
}

// ScreenCapture bundles the screen video track with optional system audio.
type ScreenCapture struct {
	Video LocalTrack
	Audio LocalTrack // nil when the source has no system audio
}

// CaptureSource acquires local devices. Errors are reported through the
// sentinels in errors.go so the caller can walk its fallback ladder.
type CaptureSource interface {
	AcquireMicrophone(ctx context.Context, opts MicrophoneOptions) (LocalTrack, error)
	AcquireScreen(ctx context.Context) (*ScreenCapture, error)
}

// AudioSink renders one remote peer's audio. The deafen toggle drives
// SetVolume with 0 or 1 on every registered sink.
type AudioSink interface {
	SetVolume(float64)
	Close()
}

// SinkFactory builds the sink for a newly arrived remote audio track.
type SinkFactory func(remote domain.UserID, track RemoteTrack) AudioSink
