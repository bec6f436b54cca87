package subclient

import (
	"context"
	"errors"
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
	"room-chat-service/internal/ws"
)

type stubFetcher struct {
	msgs []models.Message
	err  error
}

func (f *stubFetcher) FetchMessages(ctx context.Context, roomID string) ([]models.Message, error) {
	return f.msgs, f.err
}

func TestSessionMergeDeduplicates(t *testing.T) {
	s := NewSession("ws://unused", "", nil)

	base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	m1 := models.Message{ID: "m1", Body: "first", CreatedAt: base}
	m2 := models.Message{ID: "m2", Body: "second", CreatedAt: base.Add(time.Second)}

	// m1 arrives from both the history fetch and the push channel.
	s.merge(0, m2)
	s.merge(0, m1)
	s.merge(0, m1)

	msgs := s.Messages()
	require.Len(t, msgs, 2)
	require.Equal(t, "m1", msgs[0].ID)
	require.Equal(t, "m2", msgs[1].ID)
}

func TestSessionMergeDiscardsStaleGeneration(t *testing.T) {
	s := NewSession("ws://unused", "", nil)

	s.SetToken("tok") // bumps the generation
	s.merge(0, models.Message{ID: "late"})

	require.Empty(t, s.Messages())
}

func TestSessionSignOutResetsState(t *testing.T) {
	s := NewSession("ws://unused", "", nil)
	s.merge(0, models.Message{ID: "m1"})

	s.SetToken("")

	require.Equal(t, StateAnonymous, s.State())
	require.Empty(t, s.Messages())
}

func TestSessionRetriesFailedDials(t *testing.T) {
	s := NewSession("ws://unused", "", nil)

	attempts := make(chan struct{}, 8)
	s.dial = func(ctx context.Context, opts Options) (*Client, error) {
		select {
		case attempts <- struct{}{}:
		default:
		}
		return nil, errors.New("connection refused")
	}

	s.SetRoom("r1")
	s.SetToken("tok")
	defer s.Close()

	select {
	case <-attempts:
	case <-time.After(2 * time.Second):
		t.Fatal("no dial attempt")
	}
	require.NotEqual(t, StateAuthenticated, s.State())
}

func newSessionServer(t *testing.T, hub *ws.Hub, roomRepo *mocks.RoomRepositoryMock, provider *mocks.IdentityProviderMock) string {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	handler := ws.NewSubscribeHandler(hub, roomRepo, provider, "")
	r.GET("/ws/rooms", handler.Handle)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/rooms"
}

func TestSessionLifecycle(t *testing.T) {
	hub := ws.NewHub()
	roomRepo := new(mocks.RoomRepositoryMock)
	provider := new(mocks.IdentityProviderMock)
	endpoint := newSessionServer(t, hub, roomRepo, provider)

	provider.On("Authenticate", mock.Anything, mock.Anything).
		Return(identity.Identity{SubjectID: "u1"}, nil)
	roomRepo.On("GetRoom", mock.Anything, "r1").
		Return(models.Room{ID: "r1", RoomType: models.RoomTypePublic, Owner: "u1", Members: pq.StringArray{"u1"}}, nil)

	base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	history := &stubFetcher{msgs: []models.Message{{ID: "m-old", RoomID: "r1", Body: "earlier", CreatedAt: base}}}

	s := NewSession(endpoint, "", history)
	defer s.Close()

	s.SetRoom("r1")
	require.Equal(t, StateAnonymous, s.State(), "no channel without a token")

	s.SetToken("tok")
	require.Eventually(t, func() bool {
		return s.State() == StateAuthenticated && hub.RoomSubscriberCount("r1") == 1
	}, 5*time.Second, 10*time.Millisecond)

	hub.BroadcastMessage(models.Message{ID: "m-live", RoomID: "r1", Body: "now", CreatedAt: base.Add(time.Minute)})

	require.Eventually(t, func() bool {
		return len(s.Messages()) == 2
	}, 5*time.Second, 10*time.Millisecond)

	msgs := s.Messages()
	require.Equal(t, "m-old", msgs[0].ID, "history sorts before the pushed message")
	require.Equal(t, "m-live", msgs[1].ID)
}

func TestSessionTokenChangeRebuildsChannel(t *testing.T) {
	hub := ws.NewHub()
	roomRepo := new(mocks.RoomRepositoryMock)
	provider := new(mocks.IdentityProviderMock)
	endpoint := newSessionServer(t, hub, roomRepo, provider)

	provider.On("Authenticate", mock.Anything, mock.Anything).
		Return(identity.Identity{SubjectID: "u1"}, nil)
	roomRepo.On("GetRoom", mock.Anything, "r1").
		Return(models.Room{ID: "r1", RoomType: models.RoomTypePublic, Owner: "u1", Members: pq.StringArray{"u1"}}, nil)

	history := &stubFetcher{msgs: []models.Message{{ID: "m-old", RoomID: "r1", Body: "earlier"}}}

	s := NewSession(endpoint, "", history)
	defer s.Close()

	s.SetRoom("r1")
	s.SetToken("tok")
	require.Eventually(t, func() bool {
		return s.State() == StateAuthenticated
	}, 5*time.Second, 10*time.Millisecond)

	hub.BroadcastMessage(models.Message{ID: "m-live", RoomID: "r1", Body: "now", CreatedAt: time.Now()})
	require.Eventually(t, func() bool {
		return len(s.Messages()) == 2
	}, 5*time.Second, 10*time.Millisecond)

	// A token refresh drops accumulated state and redials with the new
	// credentials; only re-fetched history survives.
	s.SetToken("tok-refreshed")
	require.Eventually(t, func() bool {
		msgs := s.Messages()
		return s.State() == StateAuthenticated && len(msgs) == 1 && msgs[0].ID == "m-old"
	}, 5*time.Second, 10*time.Millisecond)
}

func TestSessionRoomChangeResetsMessages(t *testing.T) {
	hub := ws.NewHub()
	roomRepo := new(mocks.RoomRepositoryMock)
	provider := new(mocks.IdentityProviderMock)
	endpoint := newSessionServer(t, hub, roomRepo, provider)

	provider.On("Authenticate", mock.Anything, mock.Anything).
		Return(identity.Identity{SubjectID: "u1"}, nil)
	roomRepo.On("GetRoom", mock.Anything, mock.Anything).
		Return(models.Room{ID: "r2", RoomType: models.RoomTypePublic, Owner: "u1"}, nil)

	s := NewSession(endpoint, "", &stubFetcher{})
	defer s.Close()

	s.SetToken("tok")
	s.merge(s.generation, models.Message{ID: "m-r1"})

	s.SetRoom("r2")
	require.Empty(t, s.Messages())
	require.Eventually(t, func() bool {
		return s.State() == StateAuthenticated && hub.RoomSubscriberCount("r2") == 1
	}, 5*time.Second, 10*time.Millisecond)
}
