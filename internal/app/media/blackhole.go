package media

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"echocall/internal/core"
)

// Blackhole consumes inbound media and discards it. Tracks stay attached
// across Stop/Start cycles so consumption can be resumed after a recording
// window.
type Blackhole struct {
	log zerolog.Logger

	mu      sync.Mutex
	tracks  []core.InboundTrack
	running bool
	cancel  context.CancelFunc
	ctx     context.Context
}

func NewBlackhole(logger zerolog.Logger) *Blackhole {
	return &Blackhole{log: logger}
}

// AddTrack attaches a track. If the sink is running the track is drained
// immediately.
func (b *Blackhole) AddTrack(t core.InboundTrack) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tracks = append(b.tracks, t)
	if b.running {
		go b.drain(b.ctx, t)
	}
}

// Start begins draining every attached track. No-op if already running.
func (b *Blackhole) Start() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.running {
		return
	}
	b.running = true
	b.ctx, b.cancel = context.WithCancel(context.Background())
	for _, t := range b.tracks {
		go b.drain(b.ctx, t)
	}
}

// Stop pauses consumption. A drain blocked in ReadRTP exits on the next
// packet or when the track ends.
func (b *Blackhole) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.running {
		return
	}
	b.running = false
	b.cancel()
}

func (b *Blackhole) drain(ctx context.Context, t core.InboundTrack) {
	for {
		if _, err := t.ReadRTP(); err != nil {
			b.log.Debug().Err(err).Str("kind", string(t.Kind())).Msg("null sink track ended")
			b.detach(t)
			return
		}
		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

// detach drops an ended track so later Start cycles do not respawn a drain
// for it. Tracks paused by Stop stay attached.
func (b *Blackhole) detach(t core.InboundTrack) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, cur := range b.tracks {
		if cur == t {
			b.tracks = append(b.tracks[:i], b.tracks[i+1:]...)
			return
		}
	}
}
