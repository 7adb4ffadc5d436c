// Package domain contains entities without logic, just meta-data.
package domain

import "fmt"

type (
	RoomID  string
	UserID  string
	EventID string
)

// MediaKind names one media line of a call.
type MediaKind string

const (
	MediaAudio MediaKind = "audio"
	MediaVideo MediaKind = "video"
)

// CallID uniquely names one call attempt. Invite, candidate and hangup
// events arrive as separate room messages and are correlated by this key.
type CallID struct {
	Room   RoomID
	Caller UserID
	Call   string
}

func (id CallID) String() string {
	return fmt.Sprintf("%s/%s/%s", id.Room, id.Caller, id.Call)
}
