package signal

import (
	"context"
	"encoding/json"
	"fmt"

	"echocall/internal/domain"
)

// The client implements core.SignalSender; answers and hangups carry the
// bot's party ID and the protocol version.

func (c *Client) SendAnswer(_ context.Context, id domain.CallID, answer domain.SessionDescription) error {
	return c.sendEvent(id.Room, domain.EventCallAnswer, domain.AnswerContent{
		CallID:  id.Call,
		PartyID: c.partyID,
		Version: domain.CallVersion,
		Answer:  answer,
	})
}

func (c *Client) SendHangup(_ context.Context, id domain.CallID) error {
	return c.sendEvent(id.Room, domain.EventCallHangup, domain.HangupContent{
		CallID:  id.Call,
		PartyID: c.partyID,
		Version: domain.CallVersion,
	})
}

func (c *Client) SendReceipt(_ context.Context, room domain.RoomID, event domain.EventID) error {
	return c.send(Envelope{
		Type:    domain.EventReceipt,
		RoomID:  room,
		EventID: event,
	})
}

func (c *Client) sendEvent(room domain.RoomID, eventType string, content any) error {
	raw, err := json.Marshal(content)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", eventType, err)
	}
	return c.send(Envelope{
		Type:    eventType,
		RoomID:  room,
		Content: raw,
	})
}
