package capture

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/convento/voicemesh/internal/core"
	"github.com/pion/mediadevices"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/rs/zerolog/log"
)

// pumpTrack moves encoded samples from a mediadevices track into a static
// sample track. While disabled it keeps draining the encoder but writes
// nothing, so peers hear silence without the track ever stopping.
type pumpTrack struct {
	kind    core.TrackKind
	src     mediadevices.Track
	reader  mediadevices.EncodedReadCloser
	out     *webrtc.TrackLocalStaticSample
	dur     time.Duration
	enabled atomic.Bool

	mu      sync.Mutex
	onEnded func()
	closed  bool
}

func newPumpTrack(kind core.TrackKind, src mediadevices.Track, reader mediadevices.EncodedReadCloser, out *webrtc.TrackLocalStaticSample, dur time.Duration) *pumpTrack {
	t := &pumpTrack{kind: kind, src: src, reader: reader, out: out, dur: dur}
	t.enabled.Store(true)

	src.OnEnded(func(err error) {
		if err != nil {
			log.Warn().Err(err).Str("module", "capture").Str("track", t.ID()).Msg("source ended")
		}
		t.fireEnded()
	})

	go t.pump()
	return t
}

func (t *pumpTrack) pump() {
	for {
		buf, release, err := t.reader.Read()
		if err != nil {
			t.fireEnded()
			return
		}
		if t.enabled.Load() {
			sample := media.Sample{Data: make([]byte, len(buf.Data)), Duration: t.dur}
			copy(sample.Data, buf.Data)
			if werr := t.out.WriteSample(sample); werr != nil {
				log.Debug().Err(werr).Str("module", "capture").Str("track", t.ID()).Msg("write sample")
			}
		}
		if release != nil {
			release()
		}
	}
}

func (t *pumpTrack) ID() string            { return t.out.ID() }
func (t *pumpTrack) Kind() core.TrackKind  { return t.kind }
func (t *pumpTrack) SetEnabled(on bool)    { t.enabled.Store(on) }
func (t *pumpTrack) Enabled() bool         { return t.enabled.Load() }
func (t *pumpTrack) Output() webrtc.TrackLocal { return t.out }

func (t *pumpTrack) OnEnded(fn func()) {
	t.mu.Lock()
	t.onEnded = fn
	t.mu.Unlock()
}

// fireEnded runs the ended callback once, and never after an explicit Close.
func (t *pumpTrack) fireEnded() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	fn := t.onEnded
	t.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (t *pumpTrack) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	t.reader.Close()
	return t.src.Close()
}
