// Package capture acquires local microphone and screen media through
// pion/mediadevices and exposes them as core.LocalTrack. Encoded samples are
// pumped into static sample tracks so muting gates the pump instead of
// stopping capture, keeping the outbound track identity stable.
package capture

import (
	"context"
	"fmt"
	"time"

	"github.com/convento/voicemesh/internal/core"
	"github.com/google/uuid"
	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	_ "github.com/pion/mediadevices/pkg/driver/screen"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

const (
	opusFrameDuration = 20 * time.Millisecond
	screenFrameRate   = 15
)

type Engine struct {
	codecs *mediadevices.CodecSelector
}

func NewEngine() (*Engine, error) {
	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, err
	}
	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, err
	}
	vpxParams.BitRate = 1_500_000

	return &Engine{
		codecs: mediadevices.NewCodecSelector(
			mediadevices.WithAudioEncoders(&opusParams),
			mediadevices.WithVideoEncoders(&vpxParams),
		),
	}, nil
}

// AcquireMicrophone opens one rung of the caller's fallback ladder. The
// echo-cancellation and gain toggles are advisory; the driver applies what
// it supports.
func (e *Engine) AcquireMicrophone(ctx context.Context, opts core.MicrophoneOptions) (core.LocalTrack, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	constraints := mediadevices.MediaStreamConstraints{
		Codec: e.codecs,
		Audio: func(c *mediadevices.MediaTrackConstraints) {
			if opts.DeviceID != "" {
				c.DeviceID = prop.String(opts.DeviceID)
			}
			if opts.SampleRate > 0 {
				c.SampleRate = prop.Int(opts.SampleRate)
			}
		},
	}

	stream, err := mediadevices.GetUserMedia(constraints)
	if err != nil {
		if opts.DeviceID != "" {
			return nil, fmt.Errorf("%w: device %q: %v", core.ErrConstraint, opts.DeviceID, err)
		}
		return nil, fmt.Errorf("%w: %v", core.ErrDeviceNotFound, err)
	}

	tracks := stream.GetAudioTracks()
	if len(tracks) == 0 {
		return nil, core.ErrDeviceNotFound
	}
	src := tracks[0]

	out, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{
		MimeType:    webrtc.MimeTypeOpus,
		ClockRate:   48000,
		Channels:    2,
		SDPFmtpLine: "minptime=10;useinbandfec=1",
	}, "audio-"+uuid.NewString(), "voicemesh")
	if err != nil {
		src.Close()
		return nil, err
	}

	reader, err := src.NewEncodedReader(webrtc.MimeTypeOpus)
	if err != nil {
		src.Close()
		return nil, fmt.Errorf("%w: opus reader: %v", core.ErrConstraint, err)
	}

	log.Info().Str("module", "capture").Str("device", opts.DeviceID).Msg("microphone acquired")
	return newPumpTrack(core.TrackAudio, src, reader, out, opusFrameDuration), nil
}

// AcquireScreen captures the primary display as a VP8 track. Screen drivers
// carry no system audio on this platform set, so Audio stays nil.
func (e *Engine) AcquireScreen(ctx context.Context) (*core.ScreenCapture, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	constraints := mediadevices.MediaStreamConstraints{
		Codec: e.codecs,
		Video: func(c *mediadevices.MediaTrackConstraints) {
			c.FrameFormat = prop.FrameFormatOneOf{
				frame.FormatI420,
				frame.FormatRGBA,
			}
			c.FrameRate = prop.Float(screenFrameRate)
		},
	}

	stream, err := mediadevices.GetDisplayMedia(constraints)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrNotSupported, err)
	}

	tracks := stream.GetVideoTracks()
	if len(tracks) == 0 {
		return nil, core.ErrNotSupported
	}
	src := tracks[0]

	out, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{
		MimeType:  webrtc.MimeTypeVP8,
		ClockRate: 90000,
	}, "screen-"+uuid.NewString(), "voicemesh")
	if err != nil {
		src.Close()
		return nil, err
	}

	reader, err := src.NewEncodedReader(webrtc.MimeTypeVP8)
	if err != nil {
		src.Close()
		return nil, fmt.Errorf("%w: vp8 reader: %v", core.ErrNotSupported, err)
	}

	log.Info().Str("module", "capture").Msg("screen capture acquired")
	video := newPumpTrack(core.TrackVideo, src, reader, out, time.Second/screenFrameRate)
	return &core.ScreenCapture{Video: video}, nil
}
