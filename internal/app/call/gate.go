// Package call implements the per-call state machine, the candidate gate
// and the scripted media pipeline.
package call

import (
	"context"

	"github.com/rs/zerolog"

	"echocall/internal/core"
	"echocall/internal/domain"
)

// CandidateGate holds trickled connectivity candidates back until the
// session has a remote description, and detects the end-of-candidates
// marker. It does not reorder: the caller awaits readiness first and then
// submits its batch in receipt order.
type CandidateGate struct {
	engine   core.Engine
	ready    *core.Latch
	complete *core.Latch
	log      zerolog.Logger
}

func NewCandidateGate(engine core.Engine, logger zerolog.Logger) *CandidateGate {
	return &CandidateGate{
		engine:   engine,
		ready:    core.NewLatch(),
		complete: core.NewLatch(),
		log:      logger,
	}
}

// SignalReady marks negotiation as having produced a remote description.
func (g *CandidateGate) SignalReady() { g.ready.Fire() }

// AwaitReady suspends until candidates may legally be applied.
func (g *CandidateGate) AwaitReady(ctx context.Context) error {
	return g.ready.Wait(ctx)
}

// AwaitComplete suspends until the end-of-candidates marker has been seen.
func (g *CandidateGate) AwaitComplete(ctx context.Context) error {
	return g.complete.Wait(ctx)
}

func (g *CandidateGate) Completed() bool { return g.complete.Fired() }

// Submit applies one trickled candidate to the engine. An empty payload
// signals end-of-candidates (first one wins) and Submit reports false so
// the caller stops feeding the rest of the batch. Candidates the engine
// cannot parse are logged and skipped.
func (g *CandidateGate) Submit(c domain.Candidate) bool {
	if c.Candidate == "" {
		g.complete.Fire()
		return false
	}
	if err := g.engine.AddICECandidate(c); err != nil {
		g.log.Warn().Err(err).Str("candidate", c.Candidate).Msg("skipping bad candidate")
		return true
	}
	g.log.Info().Str("candidate", c.Candidate).Msg("candidate applied")
	return true
}
