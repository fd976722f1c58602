// Package rtc wraps pion peer connections behind core.MediaConnection.
package rtc

import (
	"sync"

	"github.com/convento/voicemesh/internal/core"
	"github.com/convento/voicemesh/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

type Connection struct {
	pc     *webrtc.PeerConnection
	remote domain.UserID

	mu       sync.Mutex
	onICE    func(webrtc.ICECandidateInit)
	onTrack  func(core.RemoteTrack)
	onState  func(webrtc.PeerConnectionState)
	closed   bool
}

func newConnection(pc *webrtc.PeerConnection, remote domain.UserID) *Connection {
	c := &Connection{pc: pc, remote: remote}

	pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return
		}
		c.mu.Lock()
		fn := c.onICE
		c.mu.Unlock()
		if fn != nil {
			fn(cand.ToJSON())
		}
	})

	pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		log.Debug().Str("module", "rtc").Str("peer", string(remote)).Str("ice_state", s.String()).Msg("ICE state")
	})

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Info().Str("module", "rtc").Str("peer", string(remote)).Str("state", s.String()).Msg("peer connection state")
		c.mu.Lock()
		fn := c.onState
		c.mu.Unlock()
		if fn != nil {
			fn(s)
		}
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		log.Info().
			Str("module", "rtc").
			Str("peer", string(remote)).
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Msg("remote track")
		kind := core.TrackAudio
		if track.Kind() == webrtc.RTPCodecTypeVideo {
			kind = core.TrackVideo
		}
		c.mu.Lock()
		fn := c.onTrack
		c.mu.Unlock()
		if fn != nil {
			fn(core.RemoteTrack{ID: track.ID(), Kind: kind, Track: track})
		}
	})

	return c
}

func (c *Connection) AddTrack(t webrtc.TrackLocal) error {
	_, err := c.pc.AddTrack(t)
	return err
}

func (c *Connection) ReplaceVideoTrack(t webrtc.TrackLocal) (bool, error) {
	if s := c.videoSender(); s != nil {
		return true, s.ReplaceTrack(t)
	}
	return false, nil
}

func (c *Connection) ReplaceAudioTrack(t webrtc.TrackLocal) (bool, error) {
	for _, s := range c.pc.GetSenders() {
		if st := s.Track(); st != nil && st.Kind() == webrtc.RTPCodecTypeAudio {
			return true, s.ReplaceTrack(t)
		}
	}
	return false, nil
}

func (c *Connection) RemoveVideoTrack() error {
	if s := c.videoSender(); s != nil {
		return s.ReplaceTrack(nil)
	}
	return nil
}

func (c *Connection) videoSender() *webrtc.RTPSender {
	for _, s := range c.pc.GetSenders() {
		if t := s.Track(); t != nil && t.Kind() == webrtc.RTPCodecTypeVideo {
			return s
		}
	}
	return nil
}

// AddRecvOnlyTransceivers keeps receive directions in the SDP even when no
// local track is attached, so a degraded no-audio join still gets remote
// media and a later screen share from the peer has a video m-line to land on.
func (c *Connection) AddRecvOnlyTransceivers(includeAudio bool) error {
	if includeAudio {
		if _, err := c.pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			return err
		}
	}
	_, err := c.pc.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	})
	return err
}

func (c *Connection) CreateAndSetOffer(iceRestart bool) (webrtc.SessionDescription, error) {
	var opts *webrtc.OfferOptions
	if iceRestart {
		opts = &webrtc.OfferOptions{ICERestart: true}
	}
	offer, err := c.pc.CreateOffer(opts)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	if err := c.pc.SetLocalDescription(offer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	return offer, nil
}

func (c *Connection) ApplyOfferAndCreateAnswer(offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	if err := c.pc.SetRemoteDescription(offer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	if err := c.pc.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	return answer, nil
}

func (c *Connection) ApplyAnswer(answer webrtc.SessionDescription) error {
	return c.pc.SetRemoteDescription(answer)
}

func (c *Connection) AddICECandidate(ci webrtc.ICECandidateInit) error {
	return c.pc.AddICECandidate(ci)
}

func (c *Connection) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	c.mu.Lock()
	c.onICE = fn
	c.mu.Unlock()
}

func (c *Connection) OnTrack(fn func(core.RemoteTrack)) {
	c.mu.Lock()
	c.onTrack = fn
	c.mu.Unlock()
}

func (c *Connection) OnStateChange(fn func(webrtc.PeerConnectionState)) {
	c.mu.Lock()
	c.onState = fn
	c.mu.Unlock()
}

func (c *Connection) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	if err := c.pc.Close(); err != nil {
		log.Error().Err(err).Str("module", "rtc").Str("peer", string(c.remote)).Msg("close error")
		return
	}
	log.Info().Str("module", "rtc").Str("peer", string(c.remote)).Msg("closed")
}
