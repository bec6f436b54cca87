package subclient

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"room-chat-service/internal/models"
)

// State of the session identity machine.
type State int

const (
	StateAnonymous State = iota
	StateAuthenticating
	StateAuthenticated
)

// MessageFetcher pages a room's history, oldest first. The session uses it
// to fill the gap left by the channel's no-replay delivery.
type MessageFetcher interface {
	FetchMessages(ctx context.Context, roomID string) ([]models.Message, error)
}

// Session drives the client side of the realtime feed: it owns the token
// and room selection, opens and tears down the channel on identity or room
// change, and reconciles pushed events with fetched history.
//
// Messages merge append-only, keyed by id, so a message arriving both from
// the initial fetch and from a push appears exactly once. All asynchronous
// work is keyed to a generation counter; completions from a torn-down
// generation are discarded.
type Session struct {
	endpoint string
	apiKey   string
	fetcher  MessageFetcher

	// dial is swappable in tests.
	dial func(ctx context.Context, opts Options) (*Client, error)

	mu         sync.Mutex
	state      State
	token      string
	roomID     string
	generation uint64
	cancel     context.CancelFunc
	messages   []models.Message
	seen       map[string]struct{}
}

// NewSession constructs a Session; no channel is opened until a token and a
// room are set.
func NewSession(endpoint, apiKey string, fetcher MessageFetcher) *Session {
	return &Session{
		endpoint: endpoint,
		apiKey:   apiKey,
		fetcher:  fetcher,
		dial:     Dial,
		seen:     make(map[string]struct{}),
	}
}

// State reports the identity state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SetToken installs a new identity token. Any change — sign-in, sign-out or
// refresh — tears the current channel down; a non-empty token then rebuilds
// it with the new credentials.
func (s *Session) SetToken(token string) {
	s.mu.Lock()
	if token == s.token && s.state != StateAnonymous {
		s.mu.Unlock()
		return
	}
	s.token = token
	s.teardownLocked()
	s.messages = nil
	s.seen = make(map[string]struct{})

	if token == "" {
		s.state = StateAnonymous
		s.mu.Unlock()
		return
	}

	s.state = StateAuthenticating
	gen, ctx := s.nextGenerationLocked()
	roomID := s.roomID
	s.mu.Unlock()

	if roomID != "" {
		go s.run(ctx, gen, roomID)
	}
}

// SetRoom switches the subscription filter to another room, tearing down
// and rebuilding the channel.
func (s *Session) SetRoom(roomID string) {
	s.mu.Lock()
	if roomID == s.roomID {
		s.mu.Unlock()
		return
	}
	s.roomID = roomID
	s.teardownLocked()
	s.messages = nil
	s.seen = make(map[string]struct{})

	if s.token == "" || roomID == "" {
		s.mu.Unlock()
		return
	}

	s.state = StateAuthenticating
	gen, ctx := s.nextGenerationLocked()
	s.mu.Unlock()

	go s.run(ctx, gen, roomID)
}

// Messages returns the reconciled message list ordered by creation time.
func (s *Session) Messages() []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Message, len(s.messages))
	copy(out, s.messages)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Close tears down the channel and invalidates all pending work.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.teardownLocked()
	s.state = StateAnonymous
	s.token = ""
}

func (s *Session) teardownLocked() {
	s.generation++
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

func (s *Session) nextGenerationLocked() (uint64, context.Context) {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	return s.generation, ctx
}

// run is the combined effect of entering the authenticated state: open the
// realtime channel, then fetch history to fill anything missed while
// disconnected. Lost connections are redialed with exponential backoff for
// as long as the generation stays current.
func (s *Session) run(ctx context.Context, gen uint64, roomID string) {
	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = 0

	for {
		if s.stale(gen) {
			return
		}

		client, err := s.connect(ctx, gen, roomID)
		if err != nil {
			if s.stale(gen) {
				return
			}
			wait := policy.NextBackOff()
			log.Printf("session: realtime connect failed, retrying in %s: %v", wait, err)
			select {
			case <-time.After(wait):
				continue
			case <-ctx.Done():
				return
			}
		}

		policy.Reset()

		select {
		case <-client.Done():
			// Fall through to redial; history is re-fetched on the next
			// connect, which covers events missed while the socket was down.
		case <-ctx.Done():
			client.Close()
			return
		}
	}
}

func (s *Session) connect(ctx context.Context, gen uint64, roomID string) (*Client, error) {
	s.mu.Lock()
	token := s.token
	s.mu.Unlock()

	client, err := s.dial(ctx, Options{
		Endpoint:      s.endpoint,
		Authorization: token,
		APIKey:        s.apiKey,
	})
	if err != nil {
		return nil, err
	}

	sub, err := client.Subscribe(roomID)
	if err != nil {
		client.Close()
		return nil, err
	}

	if s.stale(gen) {
		client.Close()
		return nil, ErrClientClosed
	}

	s.setState(gen, StateAuthenticated)
	go s.pump(gen, sub)
	go s.backfill(ctx, gen, roomID)

	return client, nil
}

func (s *Session) pump(gen uint64, sub *Subscription) {
	for msg := range sub.Events {
		s.merge(gen, msg)
	}
}

func (s *Session) backfill(ctx context.Context, gen uint64, roomID string) {
	if s.fetcher == nil {
		return
	}
	msgs, err := s.fetcher.FetchMessages(ctx, roomID)
	if err != nil {
		log.Printf("session: history fetch failed: %v", err)
		return
	}
	for _, msg := range msgs {
		s.merge(gen, msg)
	}
}

// merge applies the de-duplication rule: a message enters local state only
// if its id has not been seen in this generation.
func (s *Session) merge(gen uint64, msg models.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.generation {
		return
	}
	if _, ok := s.seen[msg.ID]; ok {
		return
	}
	s.seen[msg.ID] = struct{}{}
	s.messages = append(s.messages, msg)
}

func (s *Session) stale(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return gen != s.generation
}

func (s *Session) setState(gen uint64, state State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.generation {
		return
	}
	s.state = state
}
