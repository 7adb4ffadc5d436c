package call

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/looplab/fsm"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"echocall/internal/app/media"
	"echocall/internal/core"
	"echocall/internal/domain"
	"echocall/internal/metrics"
)

// Session states.
const (
	StateCreated            = "created"
	StateNegotiating        = "negotiating"
	StateAwaitingCandidates = "awaiting_candidates"
	StateConnecting         = "connecting"
	StateConnected          = "connected"
	StateCompleted          = "completed"
	StateFailed             = "failed"
	StateClosed             = "closed"
)

const (
	eventNegotiate      = "negotiate"
	eventAcknowledge    = "acknowledge"
	eventCandidatesDone = "candidates_done"
	eventEstablish      = "establish"
	eventFinish         = "finish"
	eventFail           = "fail"
	eventShutdown       = "shutdown"
)

const hangupSendTimeout = 5 * time.Second

// ClipLibrary opens the bot's clips, a fresh source per use. Satisfied by
// media.Library.
type ClipLibrary interface {
	Greeting() (core.MediaSource, error)
	Tone() (core.MediaSource, error)
	Farewell() (core.MediaSource, error)
}

// Config wires one session together.
type Config struct {
	ID       domain.CallID
	Engine   core.Engine
	Sender   core.SignalSender
	Clips    ClipLibrary
	Timeline Timeline
	// OnClosed is invoked exactly once during teardown, before the engine
	// handle is closed. The registry uses it to drop its entry.
	OnClosed func(id domain.CallID, s *Session)
	Logger   zerolog.Logger
}

// Session is the per-call state machine. It owns the engine handle, the
// proxy tracks, the candidate gate and the scripted pipeline, and
// reconciles out-of-order signaling with the negotiation handshake.
type Session struct {
	id  domain.CallID
	log zerolog.Logger

	engine   core.Engine
	sender   core.SignalSender
	gate     *CandidateGate
	clips    ClipLibrary
	timeline Timeline
	onClosed func(id domain.CallID, s *Session)

	ctx    context.Context
	cancel context.CancelFunc

	machine *fsm.FSM

	mu       sync.Mutex
	inputs   map[domain.MediaKind]core.InboundTrack
	proxies  map[domain.MediaKind]*media.Proxy
	outbound map[domain.MediaKind]*webrtc.TrackLocalStaticSample
	sink     *media.Blackhole

	pipelineOnce sync.Once
	closeOnce    sync.Once
}

// NewSession builds the session and its media plumbing. The audio proxy
// starts with the greeting clip; the video proxy starts producerless and
// blocks its consumer until playback installs a source.
func NewSession(parent context.Context, cfg Config) (*Session, error) {
	logger := cfg.Logger.With().
		Str("call_id", cfg.ID.Call).
		Str("caller", string(cfg.ID.Caller)).
		Logger()

	greeting, err := cfg.Clips.Greeting()
	if err != nil {
		return nil, fmt.Errorf("open greeting clip: %w", err)
	}

	audioTrack, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", "echocall")
	if err != nil {
		_ = greeting.Close()
		return nil, fmt.Errorf("create audio track: %w", err)
	}
	videoTrack, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", "echocall")
	if err != nil {
		_ = greeting.Close()
		return nil, fmt.Errorf("create video track: %w", err)
	}

	ctx, cancel := context.WithCancel(parent)
	s := &Session{
		id:       cfg.ID,
		log:      logger,
		engine:   cfg.Engine,
		sender:   cfg.Sender,
		clips:    cfg.Clips,
		timeline: cfg.Timeline,
		onClosed: cfg.OnClosed,
		ctx:      ctx,
		cancel:   cancel,
		inputs:   make(map[domain.MediaKind]core.InboundTrack),
		proxies: map[domain.MediaKind]*media.Proxy{
			domain.MediaAudio: media.NewProxy(domain.MediaAudio, greeting),
			domain.MediaVideo: media.NewProxy(domain.MediaVideo, nil),
		},
		outbound: map[domain.MediaKind]*webrtc.TrackLocalStaticSample{
			domain.MediaAudio: audioTrack,
			domain.MediaVideo: videoTrack,
		},
		sink: media.NewBlackhole(logger),
	}
	s.gate = NewCandidateGate(cfg.Engine, logger)
	s.machine = fsm.NewFSM(
		StateCreated,
		fsm.Events{
			{Name: eventNegotiate, Src: []string{StateCreated}, Dst: StateNegotiating},
			{Name: eventAcknowledge, Src: []string{StateNegotiating}, Dst: StateAwaitingCandidates},
			{Name: eventCandidatesDone, Src: []string{StateAwaitingCandidates}, Dst: StateConnecting},
			{Name: eventEstablish, Src: []string{StateConnecting}, Dst: StateConnected},
			{Name: eventFinish, Src: []string{StateConnected}, Dst: StateCompleted},
			{Name: eventFail, Src: []string{
				StateCreated, StateNegotiating, StateAwaitingCandidates,
				StateConnecting, StateConnected,
			}, Dst: StateFailed},
			{Name: eventShutdown, Src: []string{
				StateCreated, StateNegotiating, StateAwaitingCandidates,
				StateConnecting, StateConnected, StateCompleted, StateFailed,
			}, Dst: StateClosed},
		},
		fsm.Callbacks{
			"after_event": func(_ context.Context, e *fsm.Event) {
				logger.Debug().Str("from", e.Src).Str("to", e.Dst).Msg("state transition")
			},
		},
	)
	return s, nil
}

func (s *Session) ID() domain.CallID { return s.id }

// State reports the current lifecycle state.
func (s *Session) State() string { return s.machine.Current() }

// Done is closed once teardown has begun.
func (s *Session) Done() <-chan struct{} { return s.ctx.Done() }

// Start applies the remote offer, attaches the outbound proxy tracks so
// the answer negotiates them toward the caller, unblocks the candidate
// gate, starts the null sink and the outbound pumps, and spawns the driver
// that answers once end-of-candidates is seen.
func (s *Session) Start(offer domain.SessionDescription) error {
	s.engine.Start(s)
	if err := s.machine.Event(s.ctx, eventNegotiate); err != nil {
		return err
	}
	if err := s.engine.ApplyOffer(offer); err != nil {
		return fmt.Errorf("apply offer: %w", err)
	}
	// Tracks go in before the answer is created; added any later they
	// would miss the negotiated media lines and play into the void.
	for kind, track := range s.outbound {
		if err := s.engine.AddTrack(track); err != nil {
			return fmt.Errorf("add %s track: %w", kind, err)
		}
	}
	s.gate.SignalReady()
	s.sink.Start()
	s.mu.Lock()
	for kind, proxy := range s.proxies {
		go media.PumpSamples(s.ctx, proxy, s.outbound[kind], s.log)
	}
	s.mu.Unlock()
	_ = s.machine.Event(s.ctx, eventAcknowledge)
	s.log.Info().Msg("session negotiating")

	go s.answerWhenComplete()
	return nil
}

// answerWhenComplete waits for the end-of-candidates marker, then produces
// and sends the local answer.
func (s *Session) answerWhenComplete() {
	if err := s.gate.AwaitComplete(s.ctx); err != nil {
		return // torn down while waiting
	}
	if err := s.machine.Event(s.ctx, eventCandidatesDone); err != nil {
		return
	}
	answer, err := s.engine.CreateAnswer(s.ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("create answer")
		s.fail()
		return
	}
	if err := s.sender.SendAnswer(s.ctx, s.id, answer); err != nil {
		s.log.Error().Err(err).Msg("send answer")
		s.fail()
		return
	}
	s.log.Info().Msg("answer sent")
}

// HandleCandidates blocks until negotiation readiness, then applies the
// batch in receipt order. Returns an error only when the session is torn
// down before readiness; the caller then skips the acknowledgment.
func (s *Session) HandleCandidates(cands []domain.Candidate) error {
	if err := s.gate.AwaitReady(s.ctx); err != nil {
		return err
	}
	for _, c := range cands {
		if !s.gate.Submit(c) {
			break
		}
	}
	return nil
}

// OnConnectionStateChange implements core.EngineObserver. The connected
// transition starts the scripted pipeline exactly once; repeated
// notifications do not restart it.
func (s *Session) OnConnectionStateChange(state core.ConnectionState) {
	s.log.Info().Str("state", string(state)).Msg("connection state")
	switch state {
	case core.ConnFailed:
		s.fail()
	case core.ConnConnected:
		if err := s.machine.Event(s.ctx, eventEstablish); err != nil {
			return
		}
		s.pipelineOnce.Do(func() {
			p := s.newPipeline()
			go p.Run(s.ctx)
		})
	}
}

// OnInboundTrack implements core.EngineObserver. The track is bound under
// its media kind and drained by the null sink.
func (s *Session) OnInboundTrack(t core.InboundTrack) {
	kind := t.Kind()
	s.mu.Lock()
	s.inputs[kind] = t
	s.mu.Unlock()
	s.log.Info().Str("kind", string(kind)).Msg("inbound track bound")

	s.sink.AddTrack(t)
}

func (s *Session) newPipeline() *Pipeline {
	return &Pipeline{
		Timeline: s.timeline,
		Clips:    s.clips,
		Audio:    s.proxies[domain.MediaAudio],
		Video:    s.proxies[domain.MediaVideo],
		Sink:     s.sink,
		Inputs:   s.boundInputs,
		Finish:   s.complete,
		Fail:     s.fail,
		Log:      s.log,
	}
}

func (s *Session) boundInputs() map[domain.MediaKind]core.InboundTrack {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[domain.MediaKind]core.InboundTrack, len(s.inputs))
	for k, v := range s.inputs {
		out[k] = v
	}
	return out
}

// complete ends a call whose scripted timeline ran to the end.
func (s *Session) complete() {
	if err := s.machine.Event(context.Background(), eventFinish); err != nil {
		return
	}
	metrics.CallsCompleted.Inc()
	s.teardown(true)
}

// fail tears the call down after an engine failure. No-op once terminal.
func (s *Session) fail() {
	if err := s.machine.Event(context.Background(), eventFail); err != nil {
		return
	}
	metrics.CallsFailed.Inc()
	s.teardown(true)
}

// Hangup handles the remote party hanging up. No hangup is echoed back.
func (s *Session) Hangup() {
	s.teardown(false)
}

// Drain is the process-shutdown path: notify the peer, then close.
func (s *Session) Drain() {
	s.teardown(true)
}

// teardown cancels the pipeline and every blocked wait, releases the media
// plumbing, optionally notifies the peer, drops the registry entry and
// closes the engine handle. Exactly once; later calls are no-ops.
func (s *Session) teardown(sendHangup bool) {
	s.closeOnce.Do(func() {
		s.cancel()
		s.sink.Stop()
		s.mu.Lock()
		proxies := make([]*media.Proxy, 0, len(s.proxies))
		for _, p := range s.proxies {
			proxies = append(proxies, p)
		}
		s.mu.Unlock()
		for _, p := range proxies {
			_ = p.Close()
		}

		if sendHangup {
			ctx, cancel := context.WithTimeout(context.Background(), hangupSendTimeout)
			if err := s.sender.SendHangup(ctx, s.id); err != nil {
				s.log.Warn().Err(err).Msg("send hangup")
			}
			cancel()
		}

		if s.onClosed != nil {
			s.onClosed(s.id, s)
		}
		// Registry removal above must stand even if the engine close fails.
		if err := s.engine.Close(); err != nil {
			s.log.Error().Err(err).Msg("engine close")
		}
		_ = s.machine.Event(context.Background(), eventShutdown)
		s.log.Info().Msg("session closed")
	})
}
