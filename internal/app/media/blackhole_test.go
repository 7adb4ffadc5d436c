package media

import (
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pion/rtp"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"echocall/internal/domain"
)

// countingTrack serves a fixed number of packets, then io.EOF.
type countingTrack struct {
	kind domain.MediaKind
	left atomic.Int64
	read atomic.Int64
}

func newCountingTrack(kind domain.MediaKind, n int64) *countingTrack {
	t := &countingTrack{kind: kind}
	t.left.Store(n)
	return t
}

func (t *countingTrack) Kind() domain.MediaKind { return t.kind }

func (t *countingTrack) ReadRTP() (*rtp.Packet, error) {
	if t.left.Add(-1) < 0 {
		return nil, io.EOF
	}
	t.read.Add(1)
	time.Sleep(time.Millisecond)
	return &rtp.Packet{}, nil
}

func TestBlackholeDrainsAttachedTracks(t *testing.T) {
	b := NewBlackhole(zerolog.Nop())
	track := newCountingTrack(domain.MediaAudio, 5)

	b.AddTrack(track)
	b.Start()
	defer b.Stop()

	assert.Eventually(t, func() bool {
		return track.read.Load() == 5
	}, time.Second, 5*time.Millisecond, "sink should drain the track to EOF")
}

func TestBlackholeAddTrackWhileRunning(t *testing.T) {
	b := NewBlackhole(zerolog.Nop())
	b.Start()
	defer b.Stop()

	track := newCountingTrack(domain.MediaVideo, 3)
	b.AddTrack(track)

	assert.Eventually(t, func() bool {
		return track.read.Load() == 3
	}, time.Second, 5*time.Millisecond)
}

func TestBlackholeDetachesEndedTrack(t *testing.T) {
	b := NewBlackhole(zerolog.Nop())
	track := newCountingTrack(domain.MediaAudio, 3)
	b.AddTrack(track)
	b.Start()

	// Once the track signals its end the sink forgets it.
	assert.Eventually(t, func() bool {
		b.mu.Lock()
		defer b.mu.Unlock()
		return len(b.tracks) == 0
	}, time.Second, 5*time.Millisecond)
	assert.EqualValues(t, 3, track.read.Load())

	// A later Stop/Start cycle does not respawn a drain for it.
	b.Stop()
	b.Start()
	defer b.Stop()
	time.Sleep(20 * time.Millisecond)
	assert.EqualValues(t, 3, track.read.Load())
}

func TestBlackholeStopPausesConsumption(t *testing.T) {
	b := NewBlackhole(zerolog.Nop())
	track := newCountingTrack(domain.MediaAudio, 1_000_000)

	b.AddTrack(track)
	b.Start()
	time.Sleep(10 * time.Millisecond)
	b.Stop()

	// The drain exits on its next packet; after that the count holds.
	time.Sleep(10 * time.Millisecond)
	settled := track.read.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, settled, track.read.Load(), "no reads after Stop settles")

	// Start resumes with the same track still attached.
	b.Start()
	defer b.Stop()
	assert.Eventually(t, func() bool {
		return track.read.Load() > settled
	}, time.Second, 5*time.Millisecond)
}
