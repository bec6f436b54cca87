package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/golang-jwt/jwt/v5"

	"room-chat-service/internal/models"
)

var (
	ErrInvalidToken = errors.New("invalid identity token")
	ErrUserNotFound = errors.New("user not found")
)

// Identity describes the authenticated caller of a request.
type Identity struct {
	SubjectID         string
	PreferredUsername string
}

// Provider authenticates tokens and resolves user profiles against the
// external identity provider.
type Provider interface {
	Authenticate(ctx context.Context, token string) (Identity, error)
	LookupUser(ctx context.Context, subjectID string) (models.UserDetail, error)
}

// tokenClaims carries the provider claims the service reads.
type tokenClaims struct {
	jwt.RegisteredClaims
	PreferredUsername string `json:"preferred_username"`
}

// Client validates provider-issued JWTs against the provider JWKS and looks
// up user profiles over its admin HTTP API.
type Client struct {
	jwks       *keyfunc.JWKS
	keyFn      jwt.Keyfunc
	issuerURL  string
	adminBase  string
	httpClient *http.Client
}

// NewClient fetches and caches the provider's JWKS. issuerURL is the expected
// token issuer; the key set is served at <issuerURL>/.well-known/jwks.json.
func NewClient(issuerURL, adminBaseURL string) (*Client, error) {
	jwksURL := issuerURL + "/.well-known/jwks.json"

	jwks, err := keyfunc.Get(jwksURL, keyfunc.Options{
		Ctx:               context.Background(),
		RefreshInterval:   5 * time.Minute,
		RefreshRateLimit:  1 * time.Minute,
		RefreshUnknownKID: true,
		RefreshErrorHandler: func(err error) {
			log.Printf("identity jwks refresh error: %v", err)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("fetch identity jwks: %w", err)
	}

	return &Client{
		jwks:       jwks,
		keyFn:      jwks.Keyfunc,
		issuerURL:  issuerURL,
		adminBase:  adminBaseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}, nil
}

// Authenticate parses and validates an identity token, returning the subject
// id and preferred display name carried in its claims.
func (c *Client) Authenticate(ctx context.Context, token string) (Identity, error) {
	claims := &tokenClaims{}

	parsed, err := jwt.ParseWithClaims(token, claims, c.keyFn,
		jwt.WithIssuer(c.issuerURL),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid || claims.Subject == "" {
		return Identity{}, ErrInvalidToken
	}

	return Identity{
		SubjectID:         claims.Subject,
		PreferredUsername: claims.PreferredUsername,
	}, nil
}

// LookupUser resolves a subject id to its profile via the provider's admin
// endpoint. Callers treat failures as best-effort.
func (c *Client) LookupUser(ctx context.Context, subjectID string) (models.UserDetail, error) {
	endpoint := fmt.Sprintf("%s/admin/users/%s", c.adminBase, url.PathEscape(subjectID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return models.UserDetail{}, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return models.UserDetail{}, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return models.UserDetail{}, ErrUserNotFound
	default:
		return models.UserDetail{}, fmt.Errorf("identity lookup status %d", resp.StatusCode)
	}

	var detail models.UserDetail
	if err := json.NewDecoder(resp.Body).Decode(&detail); err != nil {
		return models.UserDetail{}, err
	}
	if detail.UserID == "" {
		detail.UserID = subjectID
	}
	return detail, nil
}

// Close shuts down the JWKS background refresh.
func (c *Client) Close() {
	if c.jwks != nil {
		c.jwks.EndBackground()
	}
}
