package repositories

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"time"
)

// ErrInvalidCursor reports an unparseable pagination cursor.
var ErrInvalidCursor = errors.New("invalid pagination cursor")

// pageCursor is the keyset position of the last row on the previous page.
type pageCursor struct {
	CreatedAt time.Time `json:"created_at"`
	ID        string    `json:"id"`
}

func encodeCursor(createdAt time.Time, id string) string {
	raw, _ := json.Marshal(pageCursor{CreatedAt: createdAt, ID: id})
	return base64.RawURLEncoding.EncodeToString(raw)
}

func decodeCursor(token string) (pageCursor, error) {
	var cur pageCursor
	if token == "" {
		return cur, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return cur, ErrInvalidCursor
	}
	if err := json.Unmarshal(raw, &cur); err != nil {
		return cur, ErrInvalidCursor
	}
	if cur.ID == "" {
		return cur, ErrInvalidCursor
	}
	return cur, nil
}
