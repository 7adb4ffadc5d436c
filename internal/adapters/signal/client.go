// Package signal is the messaging-transport adapter: a websocket client
// that receives the chat protocol's call events and sends answers, hangups
// and read receipts back.
package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"echocall/internal/domain"
)

// Envelope is the wire frame of the transport: one chat event per
// websocket message.
type Envelope struct {
	Type    string          `json:"type"`
	RoomID  domain.RoomID   `json:"room_id"`
	EventID domain.EventID  `json:"event_id,omitempty"`
	Sender  domain.UserID   `json:"sender,omitempty"`
	Content json.RawMessage `json:"content,omitempty"`
}

// EventHandler consumes inbound call events. Implemented by app.Service.
type EventHandler interface {
	HandleInvite(ctx context.Context, room domain.RoomID, caller domain.UserID, event domain.EventID, inv domain.InviteContent) error
	HandleCandidates(ctx context.Context, room domain.RoomID, caller domain.UserID, event domain.EventID, c domain.CandidatesContent) error
	HandleHangup(ctx context.Context, room domain.RoomID, caller domain.UserID, event domain.EventID, h domain.HangupContent) error
}

// Client manages the websocket connection to the chat server. Writes are
// serialized by a mutex. Inbound call events are dispatched through one
// ordered queue per call identity: events of the same call are handled in
// receipt order, while a queue blocked on one call never stalls events for
// other calls.
type Client struct {
	url     string
	token   string
	partyID string
	handler EventHandler

	mu   sync.Mutex
	conn *websocket.Conn

	qmu    sync.Mutex
	queues map[string]chan Envelope

	closeOnce sync.Once
	closed    chan struct{}
}

// queueDepth bounds how many undispatched events one call may pile up.
const queueDepth = 64

func NewClient(url, token, partyID string, handler EventHandler) *Client {
	return &Client{
		url:     url,
		token:   token,
		partyID: partyID,
		handler: handler,
		queues:  make(map[string]chan Envelope),
		closed:  make(chan struct{}),
	}
}

// Connect dials the chat server and starts the read loop.
func (c *Client) Connect(ctx context.Context) error {
	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}
	log.Info().Str("module", "signal").Str("url", c.url).Msg("connecting")
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, header)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}
	c.conn = conn
	go c.readLoop(ctx)
	return nil
}

// Done is closed when the read loop ends, for whatever reason.
func (c *Client) Done() <-chan struct{} { return c.closed }

func (c *Client) readLoop(ctx context.Context) {
	defer c.Close()
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.closed:
			default:
				log.Error().Err(err).Str("module", "signal").Msg("read loop ended")
			}
			return
		}
		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			log.Warn().Err(err).Str("module", "signal").Msg("bad envelope")
			continue
		}
		c.enqueue(ctx, env)
	}
}

// enqueue routes an event onto its call's ordered queue, spawning the
// queue worker on first use. Events without a call identity are dispatched
// inline; they never block.
func (c *Client) enqueue(ctx context.Context, env Envelope) {
	var key struct {
		CallID string `json:"call_id"`
	}
	_ = json.Unmarshal(env.Content, &key)
	if key.CallID == "" {
		c.dispatch(ctx, env)
		return
	}

	c.qmu.Lock()
	q, ok := c.queues[key.CallID]
	if !ok {
		q = make(chan Envelope, queueDepth)
		c.queues[key.CallID] = q
		go c.dispatchLoop(ctx, key.CallID, q)
	}
	c.qmu.Unlock()

	select {
	case q <- env:
	default:
		log.Warn().Str("module", "signal").Str("call_id", key.CallID).
			Str("type", env.Type).Msg("call queue full, dropping event")
	}
}

// dispatchLoop drains one call's queue in receipt order. It retires the
// queue after handling the call's hangup; stray events arriving later
// start a fresh queue and fall through the handlers' unknown-call paths.
func (c *Client) dispatchLoop(ctx context.Context, callID string, q chan Envelope) {
	for {
		select {
		case env := <-q:
			c.dispatch(ctx, env)
			if env.Type == domain.EventCallHangup {
				c.qmu.Lock()
				if len(q) == 0 {
					delete(c.queues, callID)
					c.qmu.Unlock()
					return
				}
				c.qmu.Unlock()
			}
		case <-c.closed:
			return
		}
	}
}

func (c *Client) dispatch(ctx context.Context, env Envelope) {
	switch env.Type {
	case domain.EventCallInvite:
		var inv domain.InviteContent
		if err := json.Unmarshal(env.Content, &inv); err != nil {
			log.Warn().Err(err).Str("module", "signal").Msg("bad invite content")
			return
		}
		if err := c.handler.HandleInvite(ctx, env.RoomID, env.Sender, env.EventID, inv); err != nil {
			log.Error().Err(err).Str("module", "signal").Str("call_id", inv.CallID).Msg("invite rejected")
		}
	case domain.EventCallCandidates:
		var cand domain.CandidatesContent
		if err := json.Unmarshal(env.Content, &cand); err != nil {
			log.Warn().Err(err).Str("module", "signal").Msg("bad candidates content")
			return
		}
		if err := c.handler.HandleCandidates(ctx, env.RoomID, env.Sender, env.EventID, cand); err != nil {
			log.Error().Err(err).Str("module", "signal").Str("call_id", cand.CallID).Msg("candidates failed")
		}
	case domain.EventCallHangup:
		var h domain.HangupContent
		if err := json.Unmarshal(env.Content, &h); err != nil {
			log.Warn().Err(err).Str("module", "signal").Msg("bad hangup content")
			return
		}
		if err := c.handler.HandleHangup(ctx, env.RoomID, env.Sender, env.EventID, h); err != nil {
			log.Error().Err(err).Str("module", "signal").Str("call_id", h.CallID).Msg("hangup failed")
		}
	default:
		log.Debug().Str("module", "signal").Str("type", env.Type).Msg("ignoring event")
	}
}

func (c *Client) send(env Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return fmt.Errorf("not connected")
	}
	select {
	case <-c.closed:
		return fmt.Errorf("connection closed")
	default:
	}
	return c.conn.WriteJSON(env)
}

// Close shuts the connection down. Idempotent.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		if c.conn != nil {
			_ = c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			_ = c.conn.Close()
		}
		log.Info().Str("module", "signal").Msg("closed")
	})
}
