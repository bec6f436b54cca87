package repositories

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"room-chat-service/internal/models"
)

var ErrMessageNotFound = errors.New("message not found")

// Sort directions for the time-ordered message query.
const (
	SortAscending  = "asc"
	SortDescending = "desc"
)

// MessageRepository defines interactions for room messages.
type MessageRepository interface {
	CreateMessage(ctx context.Context, roomID, senderID, body string, roomMembers []string) (models.Message, error)
	ListRoomMessages(ctx context.Context, roomID, direction, cursor string, limit int) ([]models.Message, string, error)
}

// MessageRepo is a sqlx-backed implementation.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs a MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

const messageColumns = `id, room_id, body, owner, room_members, created_at, updated_at`

func normalizeMessage(msg models.Message) models.Message {
	msg.Owner = models.CanonicalSubjectID(msg.Owner)
	return msg
}

// CreateMessage persists a message stamped with the reader snapshot taken at
// send time. Messages are never updated or deleted individually.
func (r *MessageRepo) CreateMessage(ctx context.Context, roomID, senderID, body string, roomMembers []string) (models.Message, error) {
	var msg models.Message
	err := r.db.GetContext(ctx, &msg, `
        INSERT INTO messages (id, room_id, body, owner, room_members)
        VALUES ($1, $2, $3, $4, $5)
        RETURNING `+messageColumns,
		uuid.NewString(), roomID, body, senderID, pq.StringArray(roomMembers))
	if err != nil {
		return models.Message{}, err
	}
	return normalizeMessage(msg), nil
}

// ListRoomMessages returns a page of messages ordered by creation time.
func (r *MessageRepo) ListRoomMessages(ctx context.Context, roomID, direction, cursor string, limit int) ([]models.Message, string, error) {
	cur, err := decodeCursor(cursor)
	if err != nil {
		return nil, "", err
	}

	order := `ASC`
	compare := `>`
	if direction == SortDescending {
		order = `DESC`
		compare = `<`
	}

	msgs := []models.Message{}
	if cur.ID == "" {
		err = r.db.SelectContext(ctx, &msgs, `
            SELECT `+messageColumns+` FROM messages
            WHERE room_id=$1
            ORDER BY created_at `+order+`, id `+order+` LIMIT $2`, roomID, limit)
	} else {
		err = r.db.SelectContext(ctx, &msgs, `
            SELECT `+messageColumns+` FROM messages
            WHERE room_id=$1 AND (created_at, id) `+compare+` ($2, $3)
            ORDER BY created_at `+order+`, id `+order+` LIMIT $4`, roomID, cur.CreatedAt, cur.ID, limit)
	}
	if err != nil {
		return nil, "", err
	}

	for i := range msgs {
		msgs[i] = normalizeMessage(msgs[i])
	}

	next := ""
	if len(msgs) == limit {
		last := msgs[len(msgs)-1]
		next = encodeCursor(last.CreatedAt, last.ID)
	}
	return msgs, next, nil
}
