package media

import (
	"context"
	"fmt"
	"sync"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4/pkg/media/ivfwriter"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"
	"github.com/rs/zerolog"

	"echocall/internal/core"
)

// rtpWriter is satisfied by oggwriter.OggWriter and ivfwriter.IVFWriter.
type rtpWriter interface {
	WriteRTP(*rtp.Packet) error
	Close() error
}

// TrackRecorder copies one inbound track to a backing file. The file is
// safe to read only after Stop has returned.
type TrackRecorder struct {
	path string
	w    rtpWriter
	log  zerolog.Logger

	mu       sync.Mutex
	started  bool
	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
	stopErr  error
}

// NewAudioRecorder records Opus RTP into an Ogg container.
func NewAudioRecorder(path string, logger zerolog.Logger) (*TrackRecorder, error) {
	w, err := oggwriter.New(path, oggSampleRate, 2)
	if err != nil {
		return nil, fmt.Errorf("create ogg writer: %w", err)
	}
	return newRecorder(path, w, logger), nil
}

// NewVideoRecorder records VP8 RTP into an IVF container.
func NewVideoRecorder(path string, logger zerolog.Logger) (*TrackRecorder, error) {
	w, err := ivfwriter.New(path)
	if err != nil {
		return nil, fmt.Errorf("create ivf writer: %w", err)
	}
	return newRecorder(path, w, logger), nil
}

func newRecorder(path string, w rtpWriter, logger zerolog.Logger) *TrackRecorder {
	return &TrackRecorder{
		path: path,
		w:    w,
		log:  logger,
		done: make(chan struct{}),
	}
}

func (r *TrackRecorder) Path() string { return r.path }

// Start begins copying the track. One track per recorder.
func (r *TrackRecorder) Start(t core.InboundTrack) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return
	}
	r.started = true
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	go r.copyLoop(ctx, t)
}

func (r *TrackRecorder) copyLoop(ctx context.Context, t core.InboundTrack) {
	defer close(r.done)
	for {
		pkt, err := t.ReadRTP()
		if err != nil {
			r.log.Debug().Err(err).Str("kind", string(t.Kind())).Msg("recorder track ended")
			return
		}
		select {
		case <-ctx.Done():
			return
		default:
		}
		if err := r.w.WriteRTP(pkt); err != nil {
			r.log.Error().Err(err).Msg("recorder write")
			return
		}
	}
}

// Stop ends the copy and flushes the container. Idempotent. A copy blocked
// in ReadRTP finishes on the next packet or when the track ends.
func (r *TrackRecorder) Stop() error {
	r.stopOnce.Do(func() {
		r.mu.Lock()
		started := r.started
		if r.cancel != nil {
			r.cancel()
		}
		r.mu.Unlock()
		if started {
			<-r.done
		}
		r.stopErr = r.w.Close()
	})
	return r.stopErr
}
