package media

import (
	"context"
	"errors"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

// PumpSamples feeds the engine-visible sample track from the proxy, pacing
// writes by each sample's duration. It runs until the proxy is closed or
// ctx is cancelled.
func PumpSamples(ctx context.Context, p *Proxy, track *webrtc.TrackLocalStaticSample, logger zerolog.Logger) {
	for {
		smp, err := p.Pull(ctx)
		if err != nil {
			if !errors.Is(err, ErrTrackStopped) && !errors.Is(err, context.Canceled) {
				logger.Error().Err(err).Str("kind", string(p.Kind())).Msg("proxy pull")
			}
			return
		}
		if err := track.WriteSample(smp); err != nil {
			logger.Error().Err(err).Str("kind", string(p.Kind())).Msg("write sample")
			return
		}
		if smp.Duration <= 0 {
			continue
		}
		t := time.NewTimer(smp.Duration)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return
		}
	}
}
