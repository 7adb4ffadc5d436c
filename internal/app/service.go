package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"echocall/internal/app/call"
	"echocall/internal/core"
	"echocall/internal/domain"
	"echocall/internal/metrics"
)

var (
	// ErrUnsupportedVersion is fatal to the call: no answer is sent and no
	// session is registered.
	ErrUnsupportedVersion = errors.New("unsupported call version")
	// ErrRateLimited means the caller placed too many invites in a row.
	ErrRateLimited = errors.New("caller rate limited")
)

// Service routes inbound signaling events to call sessions. It validates
// invites, enforces the one-session-per-identity invariant and owns the
// event receipts.
type Service struct {
	ctx      context.Context // session parent, cancelled at process stop
	reg      *Registry
	engines  core.EngineFactory
	clips    call.ClipLibrary
	timeline call.Timeline
	limiter  *InviteRateLimiter

	mu     sync.RWMutex
	sender core.SignalSender
}

func NewService(
	ctx context.Context,
	reg *Registry,
	engines core.EngineFactory,
	clips call.ClipLibrary,
	timeline call.Timeline,
	limiter *InviteRateLimiter,
) *Service {
	return &Service{
		ctx:      ctx,
		reg:      reg,
		engines:  engines,
		clips:    clips,
		timeline: timeline,
		limiter:  limiter,
	}
}

// SetSender completes the circular wiring with the messaging transport:
// the transport dispatches events to the service, the service sends
// answers and hangups back through the transport.
func (s *Service) SetSender(sender core.SignalSender) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sender = sender
}

func (s *Service) getSender() core.SignalSender {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sender
}

// HandleInvite answers a call invitation: validate, build the session and
// its engine, apply the offer, then register and acknowledge. Duplicate
// invites for an already-registered identity are ignored.
func (s *Service) HandleInvite(ctx context.Context, room domain.RoomID, caller domain.UserID, event domain.EventID, inv domain.InviteContent) error {
	id := domain.CallID{Room: room, Caller: caller, Call: inv.CallID}
	logger := log.With().Str("module", "app").Str("call_id", inv.CallID).Str("caller", string(caller)).Logger()

	if inv.Version != domain.CallVersion {
		metrics.InvitesRejected.WithLabelValues("version").Inc()
		return fmt.Errorf("%w: %q", ErrUnsupportedVersion, inv.Version)
	}
	if !s.limiter.Allow(caller) {
		metrics.InvitesRejected.WithLabelValues("rate").Inc()
		return fmt.Errorf("%w: %s", ErrRateLimited, caller)
	}
	if _, ok := s.reg.Lookup(id); ok {
		logger.Warn().Msg("duplicate invite ignored")
		metrics.InvitesRejected.WithLabelValues("duplicate").Inc()
		return nil
	}

	engine, err := s.engines.New(id)
	if err != nil {
		return fmt.Errorf("create engine: %w", err)
	}

	sess, err := call.NewSession(s.ctx, call.Config{
		ID:       id,
		Engine:   engine,
		Sender:   s.getSender(),
		Clips:    s.clips,
		Timeline: s.timeline,
		OnClosed: func(id domain.CallID, closed *call.Session) {
			s.reg.Remove(id, closed)
		},
		Logger: logger,
	})
	if err != nil {
		_ = engine.Close()
		return fmt.Errorf("create session: %w", err)
	}

	// Claim the registry slot before negotiation begins. A failure during
	// Start tears the session down and teardown removes the entry it owns;
	// registering afterwards would enshrine an already-dead session the
	// registry can never evict. It also lets candidate batches racing the
	// invite find their session instead of being dropped.
	if !s.reg.Register(id, sess) {
		logger.Warn().Msg("lost duplicate-invite race, discarding session")
		sess.Hangup()
		return nil
	}

	// A malformed offer discards the session: teardown drops the entry,
	// the engine is closed, no answer is sent.
	if err := sess.Start(inv.Offer); err != nil {
		sess.Hangup()
		metrics.InvitesRejected.WithLabelValues("offer").Inc()
		return fmt.Errorf("start session: %w", err)
	}
	metrics.CallsStarted.Inc()
	logger.Info().Msg("call answered")

	s.ack(ctx, room, event)
	return nil
}

// HandleCandidates feeds a trickled candidate batch to the matching
// session. Events for unknown identities are silently ignored; stray
// signaling after teardown is expected.
func (s *Service) HandleCandidates(ctx context.Context, room domain.RoomID, caller domain.UserID, event domain.EventID, c domain.CandidatesContent) error {
	id := domain.CallID{Room: room, Caller: caller, Call: c.CallID}
	sess, ok := s.reg.Lookup(id)
	if !ok {
		return nil
	}
	if err := sess.HandleCandidates(c.Candidates); err != nil {
		// Torn down while waiting for readiness; the event was not handled.
		return nil
	}
	s.ack(ctx, room, event)
	return nil
}

// HandleHangup tears down the matching session, if any. Idempotent: a
// hangup for an unknown identity is a silent no-op.
func (s *Service) HandleHangup(ctx context.Context, room domain.RoomID, caller domain.UserID, event domain.EventID, h domain.HangupContent) error {
	id := domain.CallID{Room: room, Caller: caller, Call: h.CallID}
	sess, ok := s.reg.Lookup(id)
	if !ok {
		return nil
	}
	log.Info().Str("module", "app").Str("call", id.String()).Str("reason", h.Reason).Msg("remote hangup")
	sess.Hangup()
	s.ack(ctx, room, event)
	return nil
}

// Shutdown drains every active session.
func (s *Service) Shutdown() {
	s.reg.DrainAll()
}

func (s *Service) ack(ctx context.Context, room domain.RoomID, event domain.EventID) {
	sender := s.getSender()
	if sender == nil {
		return
	}
	if err := sender.SendReceipt(ctx, room, event); err != nil {
		log.Warn().Err(err).Str("module", "app").Str("event", string(event)).Msg("send receipt")
	}
}
