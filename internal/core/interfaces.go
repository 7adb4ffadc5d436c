// Package core defines the contracts between the call engine, the media
// plumbing and the messaging transport. Adapters own the concrete resources;
// core code only sees these interfaces.
package core

import (
	"context"
	"errors"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"

	"echocall/internal/domain"
)

// ErrSourceClosed is returned by NextSample after an explicit Close, as
// opposed to io.EOF which means the stream drained on its own.
var ErrSourceClosed = errors.New("media source closed")

// ConnectionState is the engine's transport-level connection state.
type ConnectionState string

const (
	ConnConnected    ConnectionState = "connected"
	ConnFailed       ConnectionState = "failed"
	ConnDisconnected ConnectionState = "disconnected"
	ConnClosed       ConnectionState = "closed"
)

// InboundTrack is one media stream received from the remote peer.
type InboundTrack interface {
	Kind() domain.MediaKind
	// ReadRTP blocks until the next packet arrives. It returns io.EOF once
	// the remote track has ended.
	ReadRTP() (*rtp.Packet, error)
}

// EngineObserver is the fixed set of notifications an Engine pushes to its
// owning session. There is no dynamic handler registration; the session
// implements all of it.
type EngineObserver interface {
	OnConnectionStateChange(state ConnectionState)
	OnInboundTrack(track InboundTrack)
}

// Engine is the peer-connection engine handle owned by one call session.
// It performs the actual connectivity, security and transport negotiation.
type Engine interface {
	// Start installs the observer. Must be called before ApplyOffer.
	Start(obs EngineObserver)
	ApplyOffer(offer domain.SessionDescription) error
	// CreateAnswer produces the local answer and applies it locally.
	// Outbound tracks must already be added so the answer negotiates them.
	CreateAnswer(ctx context.Context) (domain.SessionDescription, error)
	AddICECandidate(c domain.Candidate) error
	AddTrack(track webrtc.TrackLocal) error
	// Close releases all engine resources. Idempotent.
	Close() error
}

// EngineFactory builds one Engine per call.
type EngineFactory interface {
	New(id domain.CallID) (Engine, error)
}

// MediaSource yields a lazy, finite-until-stopped sequence of samples.
// NextSample returns io.EOF when the stream drains and ErrSourceClosed
// after an explicit Close.
type MediaSource interface {
	NextSample() (media.Sample, error)
	Close() error
}

// SignalSender produces outgoing signaling over the messaging transport.
type SignalSender interface {
	SendAnswer(ctx context.Context, id domain.CallID, answer domain.SessionDescription) error
	SendHangup(ctx context.Context, id domain.CallID) error
	SendReceipt(ctx context.Context, room domain.RoomID, event domain.EventID) error
}
