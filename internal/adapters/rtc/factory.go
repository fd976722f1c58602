package rtc

import (
	"github.com/convento/voicemesh/internal/core"
	"github.com/convento/voicemesh/internal/domain"
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
)

// Factory builds one peer connection per remote participant from a shared
// webrtc API. STUN only; TURN relay is out of scope for this client.
type Factory struct {
	api *webrtc.API
	cfg webrtc.Configuration
}

func NewFactory(stunServers []string) (*Factory, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, err
	}

	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, registry); err != nil {
		return nil, err
	}

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(registry),
	)

	return &Factory{
		api: api,
		cfg: webrtc.Configuration{
			ICEServers: []webrtc.ICEServer{{URLs: stunServers}},
		},
	}, nil
}

func (f *Factory) New(remote domain.UserID) (core.MediaConnection, error) {
	pc, err := f.api.NewPeerConnection(f.cfg)
	if err != nil {
		return nil, err
	}
	return newConnection(pc, remote), nil
}
