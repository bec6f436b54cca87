package ws_test

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lib/pq"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"room-chat-service/internal/identity"
	"room-chat-service/internal/mocks"
	"room-chat-service/internal/models"
	"room-chat-service/internal/subclient"
	"room-chat-service/internal/ws"
)

func newRealtimeServer(t *testing.T, hub *ws.Hub, roomRepo *mocks.RoomRepositoryMock, provider *mocks.IdentityProviderMock, apiKey string) string {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	handler := ws.NewSubscribeHandler(hub, roomRepo, provider, apiKey)
	r.GET("/ws/rooms", handler.Handle)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/rooms"
}

func TestSubscribeReceivesBroadcast(t *testing.T) {
	hub := ws.NewHub()
	roomRepo := new(mocks.RoomRepositoryMock)
	provider := new(mocks.IdentityProviderMock)
	endpoint := newRealtimeServer(t, hub, roomRepo, provider, "")

	provider.On("Authenticate", mock.Anything, "tok").
		Return(identity.Identity{SubjectID: "u1"}, nil).Once()
	roomRepo.On("GetRoom", mock.Anything, "r1").
		Return(models.Room{ID: "r1", RoomType: models.RoomTypePublic, Owner: "owner", Members: pq.StringArray{"u1"}}, nil).Once()

	client, err := subclient.Dial(context.Background(), subclient.Options{Endpoint: endpoint, Authorization: "tok"})
	require.NoError(t, err)
	defer client.Close()

	sub, err := client.Subscribe("r1")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return hub.RoomSubscriberCount("r1") == 1
	}, 2*time.Second, 10*time.Millisecond)

	hub.BroadcastMessage(models.Message{ID: "m1", RoomID: "r1", Owner: "u1", Body: "hello"})

	select {
	case msg := <-sub.Events:
		require.Equal(t, "m1", msg.ID)
		require.Equal(t, "hello", msg.Body)
	case <-time.After(2 * time.Second):
		t.Fatal("no message delivered")
	}
}

func TestSubscribeRejectsNonMember(t *testing.T) {
	hub := ws.NewHub()
	roomRepo := new(mocks.RoomRepositoryMock)
	provider := new(mocks.IdentityProviderMock)
	endpoint := newRealtimeServer(t, hub, roomRepo, provider, "")

	provider.On("Authenticate", mock.Anything, "tok").
		Return(identity.Identity{SubjectID: "outsider"}, nil).Once()
	roomRepo.On("GetRoom", mock.Anything, "r1").
		Return(models.Room{ID: "r1", RoomType: models.RoomTypePrivate, Owner: "u1", Members: pq.StringArray{"u2"}}, nil).Once()

	client, err := subclient.Dial(context.Background(), subclient.Options{Endpoint: endpoint, Authorization: "tok"})
	require.NoError(t, err)
	defer client.Close()

	sub, err := client.Subscribe("r1")
	require.NoError(t, err)

	select {
	case subErr := <-sub.Errors:
		require.Contains(t, subErr.Error(), "not authorized")
	case <-time.After(2 * time.Second):
		t.Fatal("no error frame received")
	}
	require.Equal(t, 0, hub.RoomSubscriberCount("r1"))
}

func TestAPIKeyConnectionSeesOnlyPublicRooms(t *testing.T) {
	hub := ws.NewHub()
	roomRepo := new(mocks.RoomRepositoryMock)
	provider := new(mocks.IdentityProviderMock)
	endpoint := newRealtimeServer(t, hub, roomRepo, provider, "svc-key")

	roomRepo.On("GetRoom", mock.Anything, "pub").
		Return(models.Room{ID: "pub", RoomType: models.RoomTypePublic, Owner: "u1"}, nil).Once()
	roomRepo.On("GetRoom", mock.Anything, "priv").
		Return(models.Room{ID: "priv", RoomType: models.RoomTypePrivate, Owner: "u1"}, nil).Once()

	client, err := subclient.Dial(context.Background(), subclient.Options{Endpoint: endpoint, APIKey: "svc-key"})
	require.NoError(t, err)
	defer client.Close()

	_, err = client.Subscribe("pub")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return hub.RoomSubscriberCount("pub") == 1
	}, 2*time.Second, 10*time.Millisecond)

	privSub, err := client.Subscribe("priv")
	require.NoError(t, err)
	select {
	case subErr := <-privSub.Errors:
		require.Contains(t, subErr.Error(), "not authorized")
	case <-time.After(2 * time.Second):
		t.Fatal("no error frame received")
	}
	require.Equal(t, 0, hub.RoomSubscriberCount("priv"))
}

func TestDialRejectedWithoutCredentials(t *testing.T) {
	hub := ws.NewHub()
	endpoint := newRealtimeServer(t, hub, new(mocks.RoomRepositoryMock), new(mocks.IdentityProviderMock), "")

	_, err := subclient.Dial(context.Background(), subclient.Options{Endpoint: endpoint})
	require.Error(t, err)
}

func TestDialRejectedWithBadToken(t *testing.T) {
	hub := ws.NewHub()
	roomRepo := new(mocks.RoomRepositoryMock)
	provider := new(mocks.IdentityProviderMock)
	endpoint := newRealtimeServer(t, hub, roomRepo, provider, "")

	provider.On("Authenticate", mock.Anything, "bad").
		Return(identity.Identity{}, identity.ErrInvalidToken).Once()

	_, err := subclient.Dial(context.Background(), subclient.Options{Endpoint: endpoint, Authorization: "bad"})
	require.Error(t, err)
	provider.AssertExpectations(t)
}

func TestStopUnsubscribesFromHub(t *testing.T) {
	hub := ws.NewHub()
	roomRepo := new(mocks.RoomRepositoryMock)
	provider := new(mocks.IdentityProviderMock)
	endpoint := newRealtimeServer(t, hub, roomRepo, provider, "")

	provider.On("Authenticate", mock.Anything, "tok").
		Return(identity.Identity{SubjectID: "u1"}, nil).Once()
	roomRepo.On("GetRoom", mock.Anything, "r1").
		Return(models.Room{ID: "r1", RoomType: models.RoomTypePublic, Owner: "u1"}, nil).Once()

	client, err := subclient.Dial(context.Background(), subclient.Options{Endpoint: endpoint, Authorization: "tok"})
	require.NoError(t, err)
	defer client.Close()

	sub, err := client.Subscribe("r1")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return hub.RoomSubscriberCount("r1") == 1
	}, 2*time.Second, 10*time.Millisecond)

	sub.Cancel()
	require.Eventually(t, func() bool {
		return hub.RoomSubscriberCount("r1") == 0
	}, 2*time.Second, 10*time.Millisecond)
}
