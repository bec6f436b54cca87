package models

import (
	"time"

	"github.com/lib/pq"
)

// Room types. A room's type is fixed at creation.
const (
	RoomTypePublic  = "public"
	RoomTypePrivate = "private"
)

// MaxRoomsPerOwner is the number of rooms a single identity may own at once.
const MaxRoomsPerOwner = 5

// MaxRoomNameLength bounds user-supplied room names.
const MaxRoomNameLength = 50

// Room represents a named chat channel with an owner and a member set.
// Owner is always stored canonical; IsMember treats the owner as an
// implicit member even when absent from Members.
type Room struct {
	ID        string         `db:"id" json:"id"`
	Name      string         `db:"name" json:"name"`
	RoomType  string         `db:"room_type" json:"room_type"`
	Owner     string         `db:"owner" json:"owner"`
	Members   pq.StringArray `db:"members" json:"members"`
	CreatedAt time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt time.Time      `db:"updated_at" json:"updated_at"`
}

// IsMember reports whether subjectID may read/post in the room.
// Ownership implies membership.
func (r Room) IsMember(subjectID string) bool {
	if subjectID == "" {
		return false
	}
	if CanonicalSubjectID(r.Owner) == subjectID {
		return true
	}
	for _, member := range r.Members {
		if member == subjectID {
			return true
		}
	}
	return false
}

// MemberIDs returns the de-duplicated union of the member set and the
// canonical owner, skipping empty ids.
func (r Room) MemberIDs() []string {
	seen := make(map[string]struct{}, len(r.Members)+1)
	ids := make([]string, 0, len(r.Members)+1)
	for _, member := range r.Members {
		if member == "" {
			continue
		}
		if _, ok := seen[member]; ok {
			continue
		}
		seen[member] = struct{}{}
		ids = append(ids, member)
	}
	if owner := CanonicalSubjectID(r.Owner); owner != "" {
		if _, ok := seen[owner]; !ok {
			ids = append(ids, owner)
		}
	}
	return ids
}

// RoomTombstone is returned by DeleteRoom for rooms that do not exist, so
// callers cannot distinguish a missing room from a deleted one.
type RoomTombstone struct {
	ID string `json:"id"`
}
