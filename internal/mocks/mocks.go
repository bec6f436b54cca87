package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"room-chat-service/internal/identity"
	"room-chat-service/internal/models"
	"room-chat-service/internal/repositories"
)

type RoomRepositoryMock struct {
	mock.Mock
}

func (m *RoomRepositoryMock) CreateRoom(ctx context.Context, ownerID, name, roomType string) (models.Room, error) {
	args := m.Called(ctx, ownerID, name, roomType)
	var room models.Room
	if val := args.Get(0); val != nil {
		room = val.(models.Room)
	}
	return room, args.Error(1)
}

func (m *RoomRepositoryMock) GetRoom(ctx context.Context, roomID string) (models.Room, error) {
	args := m.Called(ctx, roomID)
	var room models.Room
	if val := args.Get(0); val != nil {
		room = val.(models.Room)
	}
	return room, args.Error(1)
}

func (m *RoomRepositoryMock) DeleteRoom(ctx context.Context, roomID string) (models.Room, error) {
	args := m.Called(ctx, roomID)
	var room models.Room
	if val := args.Get(0); val != nil {
		room = val.(models.Room)
	}
	return room, args.Error(1)
}

func (m *RoomRepositoryMock) AddMember(ctx context.Context, roomID, subjectID string) (models.Room, error) {
	args := m.Called(ctx, roomID, subjectID)
	var room models.Room
	if val := args.Get(0); val != nil {
		room = val.(models.Room)
	}
	return room, args.Error(1)
}

func (m *RoomRepositoryMock) ListRooms(ctx context.Context, cursor string, limit int) ([]models.Room, string, error) {
	args := m.Called(ctx, cursor, limit)
	var rooms []models.Room
	if val := args.Get(0); val != nil {
		rooms = val.([]models.Room)
	}
	return rooms, args.String(1), args.Error(2)
}

func (m *RoomRepositoryMock) CountRoomsForOwner(ctx context.Context, subjectID string) (int, error) {
	args := m.Called(ctx, subjectID)
	return args.Int(0), args.Error(1)
}

type MessageRepositoryMock struct {
	mock.Mock
}

func (m *MessageRepositoryMock) CreateMessage(ctx context.Context, roomID, senderID, body string, roomMembers []string) (models.Message, error) {
	args := m.Called(ctx, roomID, senderID, body, roomMembers)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *MessageRepositoryMock) ListRoomMessages(ctx context.Context, roomID, direction, cursor string, limit int) ([]models.Message, string, error) {
	args := m.Called(ctx, roomID, direction, cursor, limit)
	var msgs []models.Message
	if val := args.Get(0); val != nil {
		msgs = val.([]models.Message)
	}
	return msgs, args.String(1), args.Error(2)
}

type IdentityProviderMock struct {
	mock.Mock
}

func (m *IdentityProviderMock) Authenticate(ctx context.Context, token string) (identity.Identity, error) {
	args := m.Called(ctx, token)
	var id identity.Identity
	if val := args.Get(0); val != nil {
		id = val.(identity.Identity)
	}
	return id, args.Error(1)
}

func (m *IdentityProviderMock) LookupUser(ctx context.Context, subjectID string) (models.UserDetail, error) {
	args := m.Called(ctx, subjectID)
	var detail models.UserDetail
	if val := args.Get(0); val != nil {
		detail = val.(models.UserDetail)
	}
	return detail, args.Error(1)
}

var _ repositories.RoomRepository = (*RoomRepositoryMock)(nil)
var _ repositories.MessageRepository = (*MessageRepositoryMock)(nil)
var _ identity.Provider = (*IdentityProviderMock)(nil)
