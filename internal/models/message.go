package models

import (
	"time"

	"github.com/lib/pq"
)

// Message represents an immutable chat entry tied to a room. RoomMembers is
// a snapshot of everyone who could read the room at send time (members plus
// owner, de-duplicated); later membership changes do not rewrite it.
type Message struct {
	ID          string         `db:"id" json:"id"`
	RoomID      string         `db:"room_id" json:"room_id"`
	Body        string         `db:"body" json:"body"`
	Owner       string         `db:"owner" json:"owner"`
	RoomMembers pq.StringArray `db:"room_members" json:"room_members"`
	CreatedAt   time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time      `db:"updated_at" json:"updated_at"`
}

// RoomEvent is broadcast through websocket subscriptions.
type RoomEvent struct {
	Type    string   `json:"type"`
	Message *Message `json:"message,omitempty"`
}
