package call

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"echocall/internal/app/media"
	"echocall/internal/core"
	"echocall/internal/domain"
)

func TestPipelineStorageFailure(t *testing.T) {
	finished := make(chan struct{}, 1)
	failed := make(chan struct{}, 1)
	p := &Pipeline{
		Timeline: fastTimeline(),
		Clips:    fakeClips{},
		Audio:    media.NewProxy(domain.MediaAudio, nil),
		Video:    media.NewProxy(domain.MediaVideo, nil),
		Sink:     media.NewBlackhole(zerolog.Nop()),
		Inputs: func() map[domain.MediaKind]core.InboundTrack {
			return map[domain.MediaKind]core.InboundTrack{
				domain.MediaAudio: newFakeTrack(domain.MediaAudio, 10),
			}
		},
		// A parent that does not exist makes recording storage unavailable.
		TempDir: filepath.Join(t.TempDir(), "missing"),
		Finish:  func() { finished <- struct{}{} },
		Fail:    func() { failed <- struct{}{} },
		Log:     zerolog.Nop(),
	}
	defer p.Audio.Close()
	defer p.Video.Close()

	go p.Run(context.Background())

	// Losing the recording storage is a failure, not a normal completion.
	select {
	case <-failed:
	case <-time.After(time.Second):
		t.Fatal("storage failure not reported")
	}
	select {
	case <-finished:
		t.Fatal("storage failure reported as completion")
	case <-time.After(50 * time.Millisecond):
	}
}
