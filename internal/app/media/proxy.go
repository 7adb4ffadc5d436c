// Package media holds the per-call media plumbing: the switchable proxy
// track handed to the peer connection engine, file-backed players and
// recorders, and the null sink that drains unused input.
package media

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/pion/webrtc/v4/pkg/media"

	"echocall/internal/core"
	"echocall/internal/domain"
)

// ErrTrackStopped is the terminal error returned by Pull after Close.
var ErrTrackStopped = errors.New("proxy track stopped")

// Proxy is a media source with a stable identity whose underlying producer
// is swapped at runtime. A pull with no producer installed blocks until
// SetSource provides one; a producer draining on its own re-arms the wait
// instead of surfacing an error to the consumer.
type Proxy struct {
	kind domain.MediaKind

	mu      sync.Mutex
	src     core.MediaSource
	avail   chan struct{} // closed when a producer arrives for the current arm cycle
	done    chan struct{} // closed on Close
	stopped bool
}

// NewProxy creates a proxy for one media kind. src may be nil; the first
// pull then blocks until SetSource is called.
func NewProxy(kind domain.MediaKind, src core.MediaSource) *Proxy {
	p := &Proxy{
		kind:  kind,
		src:   src,
		avail: make(chan struct{}),
		done:  make(chan struct{}),
	}
	if src != nil {
		close(p.avail)
	}
	return p
}

func (p *Proxy) Kind() domain.MediaKind { return p.kind }

// SetSource installs a new producer, releasing any reader blocked waiting
// for one. The replaced producer is closed; a pull racing the swap observes
// ErrSourceClosed from it and re-arms, it never fails the consumer.
func (p *Proxy) SetSource(src core.MediaSource) {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		if src != nil {
			_ = src.Close()
		}
		return
	}
	prev := p.src
	armed := p.src == nil
	p.src = src
	if armed && src != nil {
		close(p.avail)
	}
	p.mu.Unlock()

	if prev != nil && prev != src {
		_ = prev.Close()
	}
}

// Pull returns the next sample from the current producer. When the producer
// signals end-of-stream the proxy clears it and blocks until a replacement
// is installed, then resumes from the replacement.
func (p *Proxy) Pull(ctx context.Context) (media.Sample, error) {
	for {
		p.mu.Lock()
		if p.stopped {
			p.mu.Unlock()
			return media.Sample{}, ErrTrackStopped
		}
		src := p.src
		wait := p.avail
		p.mu.Unlock()

		if src == nil {
			select {
			case <-wait:
				continue
			case <-p.done:
				return media.Sample{}, ErrTrackStopped
			case <-ctx.Done():
				return media.Sample{}, ctx.Err()
			}
		}

		smp, err := src.NextSample()
		if err == nil {
			return smp, nil
		}
		if errors.Is(err, io.EOF) || errors.Is(err, core.ErrSourceClosed) {
			p.mu.Lock()
			if p.src == src {
				p.src = nil
				p.avail = make(chan struct{})
			}
			p.mu.Unlock()
			continue
		}
		return media.Sample{}, err
	}
}

// Close releases the current producer and marks the track permanently
// stopped. Further pulls fail with ErrTrackStopped.
func (p *Proxy) Close() error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	src := p.src
	p.src = nil
	close(p.done)
	p.mu.Unlock()

	if src != nil {
		_ = src.Close()
	}
	return nil
}
