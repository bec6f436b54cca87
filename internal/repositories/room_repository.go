package repositories

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"room-chat-service/internal/models"
)

var (
	ErrRoomNotFound      = errors.New("room not found")
	ErrRoomQuotaExceeded = errors.New("room quota exceeded")
)

// RoomRepository abstracts room persistence.
type RoomRepository interface {
	CreateRoom(ctx context.Context, ownerID, name, roomType string) (models.Room, error)
	GetRoom(ctx context.Context, roomID string) (models.Room, error)
	DeleteRoom(ctx context.Context, roomID string) (models.Room, error)
	AddMember(ctx context.Context, roomID, subjectID string) (models.Room, error)
	ListRooms(ctx context.Context, cursor string, limit int) ([]models.Room, string, error)
	CountRoomsForOwner(ctx context.Context, subjectID string) (int, error)
}

// RoomRepo is a sqlx implementation of RoomRepository.
type RoomRepo struct {
	db *sqlx.DB
}

// NewRoomRepo constructs a RoomRepo.
func NewRoomRepo(db *sqlx.DB) *RoomRepo {
	return &RoomRepo{db: db}
}

const roomColumns = `id, name, room_type, owner, members, created_at, updated_at`

// normalizeRoom canonicalizes the owner field at the store-read boundary.
// Records written by other owner-field conventions may carry a composite
// "<subjectId>::<claim>" value.
func normalizeRoom(room models.Room) models.Room {
	room.Owner = models.CanonicalSubjectID(room.Owner)
	return room
}

// CreateRoom inserts a room with the creator as owner and sole member. The
// owned-room quota is checked inside the same statement so two concurrent
// creates near the limit cannot both pass.
func (r *RoomRepo) CreateRoom(ctx context.Context, ownerID, name, roomType string) (models.Room, error) {
	var room models.Room
	err := r.db.GetContext(ctx, &room, `
        INSERT INTO rooms (id, name, room_type, owner, members)
        SELECT $1, $2, $3, $4, ARRAY[$4]::text[]
        WHERE (SELECT COUNT(*) FROM rooms WHERE split_part(owner, '::', 1) = $4) < $5
        RETURNING `+roomColumns,
		uuid.NewString(), strings.TrimSpace(name), roomType, ownerID, models.MaxRoomsPerOwner)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Room{}, ErrRoomQuotaExceeded
	}
	if err != nil {
		return models.Room{}, err
	}
	return normalizeRoom(room), nil
}

// GetRoom fetches a single room.
func (r *RoomRepo) GetRoom(ctx context.Context, roomID string) (models.Room, error) {
	var room models.Room
	err := r.db.GetContext(ctx, &room, `SELECT `+roomColumns+` FROM rooms WHERE id=$1`, roomID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Room{}, ErrRoomNotFound
	}
	if err != nil {
		return models.Room{}, err
	}
	return normalizeRoom(room), nil
}

// DeleteRoom removes the room and returns its pre-deletion attributes.
// Messages cascade with the room.
func (r *RoomRepo) DeleteRoom(ctx context.Context, roomID string) (models.Room, error) {
	var room models.Room
	err := r.db.GetContext(ctx, &room, `DELETE FROM rooms WHERE id=$1 RETURNING `+roomColumns, roomID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Room{}, ErrRoomNotFound
	}
	if err != nil {
		return models.Room{}, err
	}
	return normalizeRoom(room), nil
}

// AddMember appends the subject to the member set. The guarded update is
// atomic and idempotent: a repeat join (or a concurrent one) leaves the
// member set as a single join would.
func (r *RoomRepo) AddMember(ctx context.Context, roomID, subjectID string) (models.Room, error) {
	var room models.Room
	err := r.db.GetContext(ctx, &room, `
        UPDATE rooms
        SET members = array_append(members, $2), updated_at = NOW()
        WHERE id=$1 AND NOT (members @> ARRAY[$2]::text[])
        RETURNING `+roomColumns, roomID, subjectID)
	if err == nil {
		return normalizeRoom(room), nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return models.Room{}, err
	}
	// Either the room is gone or the caller is already a member.
	return r.GetRoom(ctx, roomID)
}

// ListRooms returns a page of rooms, newest first, with a keyset cursor.
func (r *RoomRepo) ListRooms(ctx context.Context, cursor string, limit int) ([]models.Room, string, error) {
	cur, err := decodeCursor(cursor)
	if err != nil {
		return nil, "", err
	}

	rooms := []models.Room{}
	if cur.ID == "" {
		err = r.db.SelectContext(ctx, &rooms, `
            SELECT `+roomColumns+` FROM rooms
            ORDER BY created_at DESC, id DESC LIMIT $1`, limit)
	} else {
		err = r.db.SelectContext(ctx, &rooms, `
            SELECT `+roomColumns+` FROM rooms
            WHERE (created_at, id) < ($1, $2)
            ORDER BY created_at DESC, id DESC LIMIT $3`, cur.CreatedAt, cur.ID, limit)
	}
	if err != nil {
		return nil, "", err
	}

	for i := range rooms {
		rooms[i] = normalizeRoom(rooms[i])
	}

	next := ""
	if len(rooms) == limit {
		last := rooms[len(rooms)-1]
		next = encodeCursor(last.CreatedAt, last.ID)
	}
	return rooms, next, nil
}

// CountRoomsForOwner counts rooms owned by the subject, matching on the
// canonical owner id.
func (r *RoomRepo) CountRoomsForOwner(ctx context.Context, subjectID string) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM rooms WHERE split_part(owner, '::', 1) = $1`, subjectID)
	return count, err
}
