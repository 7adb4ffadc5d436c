package call

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"

	"echocall/internal/core"
	"echocall/internal/domain"
)

func testCallID() domain.CallID {
	return domain.CallID{
		Room:   "!room:example.org",
		Caller: "@alice:example.org",
		Call:   "call-1",
	}
}

// fakeEngine records everything a session asks of it.
type fakeEngine struct {
	mu         sync.Mutex
	obs        core.EngineObserver
	offer      domain.SessionDescription
	candidates []domain.Candidate
	tracks     []webrtc.TrackLocal
	closes     int

	applyErr    error
	answerErr   error
	answerStall bool // CreateAnswer blocks until ctx is done
	rejectAll   bool // AddICECandidate fails for every candidate
}

func (e *fakeEngine) Start(obs core.EngineObserver) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.obs = obs
}

func (e *fakeEngine) ApplyOffer(offer domain.SessionDescription) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.applyErr != nil {
		return e.applyErr
	}
	e.offer = offer
	return nil
}

func (e *fakeEngine) CreateAnswer(ctx context.Context) (domain.SessionDescription, error) {
	if e.answerStall {
		<-ctx.Done()
		return domain.SessionDescription{}, ctx.Err()
	}
	if e.answerErr != nil {
		return domain.SessionDescription{}, e.answerErr
	}
	return domain.SessionDescription{Type: "answer", SDP: "v=0 fake"}, nil
}

func (e *fakeEngine) AddICECandidate(c domain.Candidate) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.rejectAll {
		return errors.New("unparseable candidate")
	}
	e.candidates = append(e.candidates, c)
	return nil
}

func (e *fakeEngine) AddTrack(t webrtc.TrackLocal) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.tracks = append(e.tracks, t)
	return nil
}

func (e *fakeEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closes++
	return nil
}

func (e *fakeEngine) appliedCandidates() []domain.Candidate {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]domain.Candidate(nil), e.candidates...)
}

func (e *fakeEngine) addedTracks() []webrtc.TrackLocal {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]webrtc.TrackLocal(nil), e.tracks...)
}

func (e *fakeEngine) closeCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closes
}

// fakeSender delivers outgoing signaling onto buffered channels so tests
// can await it.
type fakeSender struct {
	answers  chan domain.SessionDescription
	hangups  chan domain.CallID
	receipts chan domain.EventID
}

func newFakeSender() *fakeSender {
	return &fakeSender{
		answers:  make(chan domain.SessionDescription, 4),
		hangups:  make(chan domain.CallID, 4),
		receipts: make(chan domain.EventID, 16),
	}
}

func (s *fakeSender) SendAnswer(_ context.Context, _ domain.CallID, answer domain.SessionDescription) error {
	s.answers <- answer
	return nil
}

func (s *fakeSender) SendHangup(_ context.Context, id domain.CallID) error {
	s.hangups <- id
	return nil
}

func (s *fakeSender) SendReceipt(_ context.Context, _ domain.RoomID, event domain.EventID) error {
	s.receipts <- event
	return nil
}

// fakeSource yields a fixed number of short silent samples, then io.EOF.
type fakeSource struct {
	mu     sync.Mutex
	left   int
	closed bool
}

func (s *fakeSource) NextSample() (pionmedia.Sample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return pionmedia.Sample{}, core.ErrSourceClosed
	}
	if s.left <= 0 {
		return pionmedia.Sample{}, io.EOF
	}
	s.left--
	return pionmedia.Sample{Data: []byte{0x00}, Duration: time.Millisecond}, nil
}

func (s *fakeSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// fakeClips satisfies ClipLibrary without touching the filesystem.
type fakeClips struct{}

func (fakeClips) Greeting() (core.MediaSource, error) { return &fakeSource{left: 5}, nil }
func (fakeClips) Tone() (core.MediaSource, error)     { return &fakeSource{left: 5}, nil }
func (fakeClips) Farewell() (core.MediaSource, error) { return &fakeSource{left: 5}, nil }

// fakeTrack serves n RTP packets with a minimal payload, then io.EOF.
type fakeTrack struct {
	kind domain.MediaKind

	mu   sync.Mutex
	left int
	seq  uint16
}

func newFakeTrack(kind domain.MediaKind, n int) *fakeTrack {
	return &fakeTrack{kind: kind, left: n}
}

func (t *fakeTrack) Kind() domain.MediaKind { return t.kind }

func (t *fakeTrack) ReadRTP() (*rtp.Packet, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.left <= 0 {
		return nil, io.EOF
	}
	t.left--
	t.seq++
	time.Sleep(time.Millisecond)
	return &rtp.Packet{
		Header:  rtp.Header{Version: 2, SequenceNumber: t.seq, Timestamp: uint32(t.seq) * 960},
		Payload: []byte{0x78, 0x00, 0x00},
	}, nil
}

// fastTimeline compresses the scripted interaction so tests finish quickly.
func fastTimeline() Timeline {
	return Timeline{
		Listen:   10 * time.Millisecond,
		Record:   30 * time.Millisecond,
		Tone:     10 * time.Millisecond,
		Playback: 20 * time.Millisecond,
		Farewell: 10 * time.Millisecond,
	}
}
