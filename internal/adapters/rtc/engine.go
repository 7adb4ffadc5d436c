// Package rtc adapts a pion PeerConnection to the core.Engine contract.
package rtc

import (
	"context"
	"fmt"
	"sync"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"echocall/internal/core"
	"echocall/internal/domain"
)

// Factory builds one pion-backed engine per call from a shared API object.
type Factory struct {
	api *webrtc.API
	cfg webrtc.Configuration
}

func NewFactory(iceServers []string) (*Factory, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}
	i := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, i); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}
	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(m),
		webrtc.WithInterceptorRegistry(i),
	)

	var servers []webrtc.ICEServer
	for _, u := range iceServers {
		servers = append(servers, webrtc.ICEServer{URLs: []string{u}})
	}
	return &Factory{
		api: api,
		cfg: webrtc.Configuration{ICEServers: servers},
	}, nil
}

func (f *Factory) New(id domain.CallID) (core.Engine, error) {
	pc, err := f.api.NewPeerConnection(f.cfg)
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}
	return &Engine{id: id, pc: pc}, nil
}

// Engine wraps one PeerConnection. Close is idempotent.
type Engine struct {
	id domain.CallID
	pc *webrtc.PeerConnection

	closeOnce sync.Once
	closeErr  error
}

// Start maps pion's callback registration onto the fixed observer the
// session implements.
func (e *Engine) Start(obs core.EngineObserver) {
	e.pc.OnConnectionStateChange(func(st webrtc.PeerConnectionState) {
		log.Info().Str("module", "rtc").Str("call", e.id.String()).Str("peer_connection_state", st.String()).Msg("peer state")
		switch st {
		case webrtc.PeerConnectionStateConnected:
			obs.OnConnectionStateChange(core.ConnConnected)
		case webrtc.PeerConnectionStateFailed:
			obs.OnConnectionStateChange(core.ConnFailed)
		case webrtc.PeerConnectionStateDisconnected:
			obs.OnConnectionStateChange(core.ConnDisconnected)
		case webrtc.PeerConnectionStateClosed:
			obs.OnConnectionStateChange(core.ConnClosed)
		}
	})
	e.pc.OnTrack(func(t *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		log.Info().
			Str("module", "rtc").
			Str("call", e.id.String()).
			Str("kind", t.Kind().String()).
			Str("track_id", t.ID()).
			Msg("remote track")
		obs.OnInboundTrack(&inboundTrack{t: t})
	})
}

func (e *Engine) ApplyOffer(offer domain.SessionDescription) error {
	return e.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.NewSDPType(offer.Type),
		SDP:  offer.SDP,
	})
}

// CreateAnswer produces the local answer and blocks until ICE gathering is
// complete so the description carries the full candidate set; the bot does
// not trickle its own candidates over signaling. ctx bounds the gathering
// wait so a session torn down mid-gather does not strand the caller.
func (e *Engine) CreateAnswer(ctx context.Context) (domain.SessionDescription, error) {
	answer, err := e.pc.CreateAnswer(nil)
	if err != nil {
		return domain.SessionDescription{}, fmt.Errorf("create answer: %w", err)
	}
	gatherComplete := webrtc.GatheringCompletePromise(e.pc)
	if err := e.pc.SetLocalDescription(answer); err != nil {
		return domain.SessionDescription{}, fmt.Errorf("set local description: %w", err)
	}
	select {
	case <-gatherComplete:
	case <-ctx.Done():
		return domain.SessionDescription{}, fmt.Errorf("gather candidates: %w", ctx.Err())
	}

	local := e.pc.LocalDescription()
	return domain.SessionDescription{Type: local.Type.String(), SDP: local.SDP}, nil
}

func (e *Engine) AddICECandidate(c domain.Candidate) error {
	mid := c.SDPMid
	mLine := c.SDPMLineIndex
	return e.pc.AddICECandidate(webrtc.ICECandidateInit{
		Candidate:     c.Candidate,
		SDPMid:        &mid,
		SDPMLineIndex: &mLine,
	})
}

func (e *Engine) AddTrack(track webrtc.TrackLocal) error {
	_, err := e.pc.AddTrack(track)
	return err
}

func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		e.closeErr = e.pc.Close()
	})
	return e.closeErr
}

// inboundTrack narrows a TrackRemote to the core contract.
type inboundTrack struct {
	t *webrtc.TrackRemote
}

func (r *inboundTrack) Kind() domain.MediaKind {
	if r.t.Kind() == webrtc.RTPCodecTypeVideo {
		return domain.MediaVideo
	}
	return domain.MediaAudio
}

func (r *inboundTrack) ReadRTP() (*rtp.Packet, error) {
	pkt, _, err := r.t.ReadRTP()
	return pkt, err
}
