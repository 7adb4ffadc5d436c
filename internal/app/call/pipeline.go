package call

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"echocall/internal/app/media"
	"echocall/internal/core"
	"echocall/internal/domain"
)

// Timeline holds the relative delays of the scripted interaction, measured
// from the connected transition.
type Timeline struct {
	Listen   time.Duration // greeting plays while inputs drain to the null sink
	Record   time.Duration // inputs are recorded
	Tone     time.Duration // tone plays before playback
	Playback time.Duration // the recording is played back
	Farewell time.Duration // farewell plays before hangup
}

func DefaultTimeline() Timeline {
	return Timeline{
		Listen:   8100 * time.Millisecond,
		Record:   10 * time.Second,
		Tone:     1500 * time.Millisecond,
		Playback: 10 * time.Second,
		Farewell: 5 * time.Second,
	}
}

// Pipeline drives the timed record/playback interaction once a call is
// connected: listen, record, beep, play back, say goodbye, hang up.
type Pipeline struct {
	Timeline Timeline
	Clips    ClipLibrary
	Audio    *media.Proxy
	Video    *media.Proxy
	Sink     *media.Blackhole
	Inputs   func() map[domain.MediaKind]core.InboundTrack
	// TempDir is the parent for the per-call recording directory; empty
	// means the system default.
	TempDir string
	Finish  func()
	// Fail ends the call as failed rather than completed; used when the
	// recording storage cannot be provisioned.
	Fail func()
	Log  zerolog.Logger
}

// Run executes the timeline. A cancelled ctx (hangup or failure) stops the
// pending delay immediately and releases the recorders and the scoped
// recording storage without touching the closed session.
func (p *Pipeline) Run(ctx context.Context) {
	p.Log.Info().Msg("pipeline started")
	if !p.sleep(ctx, p.Timeline.Listen) {
		return
	}

	p.Log.Info().Msg("stopping null sink, recording")
	p.Sink.Stop()

	dir, err := os.MkdirTemp(p.TempDir, "echocall-rec-*")
	if err != nil {
		p.Log.Error().Err(err).Msg("create recording dir")
		p.Fail()
		return
	}
	defer os.RemoveAll(dir)

	inputs := p.Inputs()
	var audioRec, videoRec *media.TrackRecorder
	if t, ok := inputs[domain.MediaAudio]; ok {
		audioRec, err = media.NewAudioRecorder(filepath.Join(dir, "recording.ogg"), p.Log)
		if err != nil {
			p.Log.Error().Err(err).Msg("create audio recorder")
		} else {
			audioRec.Start(t)
		}
	} else {
		p.Log.Warn().Msg("no audio input bound, nothing to record")
	}
	if t, ok := inputs[domain.MediaVideo]; ok {
		videoRec, err = media.NewVideoRecorder(filepath.Join(dir, "recording.ivf"), p.Log)
		if err != nil {
			p.Log.Error().Err(err).Msg("create video recorder")
		} else {
			videoRec.Start(t)
		}
	}
	defer func() {
		if audioRec != nil {
			_ = audioRec.Stop()
		}
		if videoRec != nil {
			_ = videoRec.Stop()
		}
	}()

	if !p.sleep(ctx, p.Timeline.Record) {
		return
	}

	p.Log.Info().Msg("stopping recording, beeping")
	if audioRec != nil {
		if err := audioRec.Stop(); err != nil {
			p.Log.Error().Err(err).Msg("stop audio recorder")
			audioRec = nil
		}
	}
	if videoRec != nil {
		if err := videoRec.Stop(); err != nil {
			p.Log.Error().Err(err).Msg("stop video recorder")
			videoRec = nil
		}
	}
	p.setAudioClip(p.Clips.Tone, "tone")
	p.Sink.Start()

	if !p.sleep(ctx, p.Timeline.Tone) {
		return
	}

	p.Log.Info().Msg("playing back recording")
	if audioRec != nil {
		if src, err := media.NewOggSource(audioRec.Path()); err != nil {
			p.Log.Error().Err(err).Msg("open audio recording")
		} else {
			p.Audio.SetSource(src)
		}
	}
	if videoRec != nil {
		if src, err := media.NewIVFSource(videoRec.Path()); err != nil {
			p.Log.Error().Err(err).Msg("open video recording")
		} else {
			p.Video.SetSource(src)
		}
	}

	if !p.sleep(ctx, p.Timeline.Playback) {
		return
	}

	p.Log.Info().Msg("saying goodbye")
	p.setAudioClip(p.Clips.Farewell, "farewell")

	if !p.sleep(ctx, p.Timeline.Farewell) {
		return
	}

	p.Log.Info().Msg("pipeline finished, hanging up")
	p.Finish()
}

func (p *Pipeline) setAudioClip(open func() (core.MediaSource, error), name string) {
	src, err := open()
	if err != nil {
		p.Log.Error().Err(err).Str("clip", name).Msg("open clip")
		return
	}
	p.Audio.SetSource(src)
}

// sleep waits d, reporting false when ctx is cancelled first.
func (p *Pipeline) sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
