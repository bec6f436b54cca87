package identity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

const testIssuer = "https://id.example.test/realms/chat"

var testSecret = []byte("unit-test-secret")

func testHMACClient(adminBase string, httpClient *http.Client) *Client {
	return &Client{
		keyFn:      func(token *jwt.Token) (interface{}, error) { return testSecret, nil },
		issuerURL:  testIssuer,
		adminBase:  adminBase,
		httpClient: httpClient,
	}
}

func signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(testSecret)
	require.NoError(t, err)
	return signed
}

func TestAuthenticateValidToken(t *testing.T) {
	c := testHMACClient("", nil)

	token := signToken(t, jwt.MapClaims{
		"sub":                "u1",
		"preferred_username": "alice",
		"iss":                testIssuer,
		"exp":                time.Now().Add(time.Hour).Unix(),
	})

	id, err := c.Authenticate(context.Background(), token)
	require.NoError(t, err)
	require.Equal(t, "u1", id.SubjectID)
	require.Equal(t, "alice", id.PreferredUsername)
}

func TestAuthenticateExpiredToken(t *testing.T) {
	c := testHMACClient("", nil)

	token := signToken(t, jwt.MapClaims{
		"sub": "u1",
		"iss": testIssuer,
		"exp": time.Now().Add(-time.Hour).Unix(),
	})

	_, err := c.Authenticate(context.Background(), token)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestAuthenticateWrongIssuer(t *testing.T) {
	c := testHMACClient("", nil)

	token := signToken(t, jwt.MapClaims{
		"sub": "u1",
		"iss": "https://rogue.example.test",
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	_, err := c.Authenticate(context.Background(), token)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestAuthenticateTokenWithoutExpiry(t *testing.T) {
	c := testHMACClient("", nil)

	token := signToken(t, jwt.MapClaims{
		"sub": "u1",
		"iss": testIssuer,
	})

	_, err := c.Authenticate(context.Background(), token)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestAuthenticateGarbage(t *testing.T) {
	c := testHMACClient("", nil)

	_, err := c.Authenticate(context.Background(), "not-a-jwt")
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestLookupUserSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/admin/users/u2", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"user_id":"u2","preferred_username":"bob"}`))
	}))
	defer srv.Close()

	c := testHMACClient(srv.URL, srv.Client())

	detail, err := c.LookupUser(context.Background(), "u2")
	require.NoError(t, err)
	require.Equal(t, "u2", detail.UserID)
	require.Equal(t, "bob", detail.PreferredUsername)
}

func TestLookupUserFillsMissingID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"preferred_username":"bob"}`))
	}))
	defer srv.Close()

	c := testHMACClient(srv.URL, srv.Client())

	detail, err := c.LookupUser(context.Background(), "u2")
	require.NoError(t, err)
	require.Equal(t, "u2", detail.UserID)
}

func TestLookupUserNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	c := testHMACClient(srv.URL, srv.Client())

	_, err := c.LookupUser(context.Background(), "ghost")
	require.ErrorIs(t, err, ErrUserNotFound)
}
