package app

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"

	"echocall/internal/core"
	"echocall/internal/domain"
)

type stubEngine struct {
	mu         sync.Mutex
	obs        core.EngineObserver
	candidates []domain.Candidate
	closes     int
	applyErr   error
	// failConnOnApply reports a failed connection to the observer from
	// inside ApplyOffer, like a transport collapsing mid-negotiation.
	failConnOnApply bool
}

func (e *stubEngine) Start(obs core.EngineObserver) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.obs = obs
}

func (e *stubEngine) ApplyOffer(domain.SessionDescription) error {
	if e.failConnOnApply {
		e.observer().OnConnectionStateChange(core.ConnFailed)
	}
	return e.applyErr
}

func (e *stubEngine) CreateAnswer(context.Context) (domain.SessionDescription, error) {
	return domain.SessionDescription{Type: "answer", SDP: "v=0 fake"}, nil
}

func (e *stubEngine) AddICECandidate(c domain.Candidate) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.candidates = append(e.candidates, c)
	return nil
}

func (e *stubEngine) AddTrack(webrtc.TrackLocal) error { return nil }

func (e *stubEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closes++
	return nil
}

func (e *stubEngine) observer() core.EngineObserver {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.obs
}

func (e *stubEngine) closeCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closes
}

// stubFactory hands out one stubEngine per call and remembers them.
type stubFactory struct {
	mu              sync.Mutex
	engines         map[domain.CallID]*stubEngine
	err             error
	applyErr        error // handed to every engine built
	failConnOnApply bool  // handed to every engine built
}

func newStubFactory() *stubFactory {
	return &stubFactory{engines: make(map[domain.CallID]*stubEngine)}
}

func (f *stubFactory) New(id domain.CallID) (core.Engine, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	e := &stubEngine{applyErr: f.applyErr, failConnOnApply: f.failConnOnApply}
	f.engines[id] = e
	return e, nil
}

func (f *stubFactory) engine(id domain.CallID) *stubEngine {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.engines[id]
}

type stubSender struct {
	answers  chan domain.SessionDescription
	hangups  chan domain.CallID
	receipts chan domain.EventID
}

func newStubSender() *stubSender {
	return &stubSender{
		answers:  make(chan domain.SessionDescription, 8),
		hangups:  make(chan domain.CallID, 8),
		receipts: make(chan domain.EventID, 32),
	}
}

func (s *stubSender) SendAnswer(_ context.Context, _ domain.CallID, answer domain.SessionDescription) error {
	s.answers <- answer
	return nil
}

func (s *stubSender) SendHangup(_ context.Context, id domain.CallID) error {
	s.hangups <- id
	return nil
}

func (s *stubSender) SendReceipt(_ context.Context, _ domain.RoomID, event domain.EventID) error {
	s.receipts <- event
	return nil
}

type silentSource struct {
	mu   sync.Mutex
	left int
}

func (s *silentSource) NextSample() (pionmedia.Sample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.left <= 0 {
		return pionmedia.Sample{}, io.EOF
	}
	s.left--
	return pionmedia.Sample{Data: []byte{0x00}, Duration: time.Millisecond}, nil
}

func (s *silentSource) Close() error { return nil }

type stubClips struct{}

func (stubClips) Greeting() (core.MediaSource, error) { return &silentSource{left: 3}, nil }
func (stubClips) Tone() (core.MediaSource, error)     { return &silentSource{left: 3}, nil }
func (stubClips) Farewell() (core.MediaSource, error) { return &silentSource{left: 3}, nil }

var errNoEngine = errors.New("no transport available")
