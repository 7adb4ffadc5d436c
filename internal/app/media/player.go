package media

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/ivfreader"
	"github.com/pion/webrtc/v4/pkg/media/oggreader"

	"echocall/internal/core"
)

const oggSampleRate = 48000

// Clip files the bot plays over the life of a call.
const (
	greetingClip = "hello.ogg"
	toneClip     = "beep.ogg"
	farewellClip = "bye.ogg"
)

// Library locates the bot's clip files and opens a fresh source per use so
// a clip can be replayed from the start on every call.
type Library struct {
	dir string
}

func NewLibrary(dir string) (*Library, error) {
	for _, name := range []string{greetingClip, toneClip, farewellClip} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			return nil, fmt.Errorf("missing clip %s: %w", name, err)
		}
	}
	return &Library{dir: dir}, nil
}

func (l *Library) Greeting() (core.MediaSource, error) {
	return NewOggSource(filepath.Join(l.dir, greetingClip))
}

func (l *Library) Tone() (core.MediaSource, error) {
	return NewOggSource(filepath.Join(l.dir, toneClip))
}

func (l *Library) Farewell() (core.MediaSource, error) {
	return NewOggSource(filepath.Join(l.dir, farewellClip))
}

// OggSource plays an Opus-in-Ogg file page by page. Sample durations come
// from the granule position delta, so playback pacing matches the clip.
type OggSource struct {
	mu          sync.Mutex
	f           *os.File
	ogg         *oggreader.OggReader
	lastGranule uint64
	closed      bool
}

func NewOggSource(path string) (*OggSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	ogg, _, err := oggreader.NewWith(f)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("parse ogg %s: %w", path, err)
	}
	return &OggSource{f: f, ogg: ogg}, nil
}

func (s *OggSource) NextSample() (media.Sample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return media.Sample{}, core.ErrSourceClosed
	}
	pageData, pageHeader, err := s.ogg.ParseNextPage()
	if err == io.EOF {
		return media.Sample{}, io.EOF
	}
	if err != nil {
		return media.Sample{}, fmt.Errorf("parse ogg page: %w", err)
	}
	sampleCount := pageHeader.GranulePosition - s.lastGranule
	s.lastGranule = pageHeader.GranulePosition
	return media.Sample{
		Data:     pageData,
		Duration: time.Duration(sampleCount) * time.Second / oggSampleRate,
	}, nil
}

func (s *OggSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.f.Close()
}

// IVFSource plays a VP8-in-IVF file frame by frame at the container's
// timebase rate.
type IVFSource struct {
	mu       sync.Mutex
	f        *os.File
	ivf      *ivfreader.IVFReader
	frameDur time.Duration
	closed   bool
}

func NewIVFSource(path string) (*IVFSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	ivf, header, err := ivfreader.NewWith(f)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("parse ivf %s: %w", path, err)
	}
	frameDur := time.Millisecond * time.Duration(
		(float64(header.TimebaseNumerator)/float64(header.TimebaseDenominator))*1000)
	return &IVFSource{f: f, ivf: ivf, frameDur: frameDur}, nil
}

func (s *IVFSource) NextSample() (media.Sample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return media.Sample{}, core.ErrSourceClosed
	}
	frame, _, err := s.ivf.ParseNextFrame()
	if err == io.EOF {
		return media.Sample{}, io.EOF
	}
	if err != nil {
		return media.Sample{}, fmt.Errorf("parse ivf frame: %w", err)
	}
	return media.Sample{Data: frame, Duration: s.frameDur}, nil
}

func (s *IVFSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.f.Close()
}
