package subclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"room-chat-service/internal/models"
	"room-chat-service/internal/ws"
)

var (
	ErrHandshakeFailed = errors.New("realtime handshake failed")
	ErrClientClosed    = errors.New("subscription client closed")
)

const defaultHandshakeTimeout = 10 * time.Second

// Options configure a realtime channel connection.
type Options struct {
	// Endpoint is the ws:// or wss:// URL of the realtime channel.
	Endpoint string
	// Authorization is the identity token. When empty, APIKey is offered
	// instead.
	Authorization    string
	APIKey           string
	HandshakeTimeout time.Duration
}

func (o Options) authHeader() ws.AuthHeader {
	if o.Authorization != "" {
		return ws.AuthHeader{Authorization: o.Authorization}
	}
	return ws.AuthHeader{APIKey: o.APIKey}
}

// Client holds one realtime channel connection after a completed
// init/ack handshake. A client never redials its own socket; callers that
// want resilience dial a fresh client when Done fires.
type Client struct {
	conn *websocket.Conn

	mu     sync.Mutex
	subs   map[string]*Subscription
	closed bool

	done chan struct{}
}

// Subscription is a cancellable handle on a room's message feed.
type Subscription struct {
	ID     string
	RoomID string
	// Events receives pushed messages. Delivery is best-effort: if the
	// receiver falls behind, frames are dropped rather than blocking the
	// read loop.
	Events chan models.Message
	Errors chan error

	client *Client
	once   sync.Once
}

// Cancel stops the subscription and releases its channels.
func (s *Subscription) Cancel() {
	s.once.Do(func() {
		s.client.removeSub(s.ID)
		s.client.writeEnvelope(ws.Envelope{Type: ws.MsgStop, ID: s.ID})
		close(s.Events)
	})
}

// Dial opens the socket, offering the auth object in the sub-protocol list,
// and performs the connection_init / connection_ack handshake.
func Dial(ctx context.Context, opts Options) (*Client, error) {
	timeout := opts.HandshakeTimeout
	if timeout == 0 {
		timeout = defaultHandshakeTimeout
	}

	dialer := websocket.Dialer{
		Subprotocols:     []string{ws.BaseProtocol, ws.EncodeAuthProtocol(opts.authHeader())},
		HandshakeTimeout: timeout,
	}

	conn, _, err := dialer.DialContext(ctx, opts.Endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("dial realtime endpoint: %w", err)
	}

	client := &Client{
		conn: conn,
		subs: make(map[string]*Subscription),
		done: make(chan struct{}),
	}

	if err := client.handshake(timeout); err != nil {
		conn.Close()
		return nil, err
	}

	go client.readLoop()
	return client, nil
}

func (c *Client) handshake(timeout time.Duration) error {
	if err := c.writeEnvelope(ws.Envelope{Type: ws.MsgConnectionInit, Payload: json.RawMessage(`{}`)}); err != nil {
		return fmt.Errorf("%w: %v", ErrHandshakeFailed, err)
	}

	c.conn.SetReadDeadline(time.Now().Add(timeout))
	defer c.conn.SetReadDeadline(time.Time{})

	for {
		var env ws.Envelope
		if err := c.readEnvelope(&env); err != nil {
			return fmt.Errorf("%w: %v", ErrHandshakeFailed, err)
		}
		switch env.Type {
		case ws.MsgConnectionAck:
			return nil
		case ws.MsgError:
			return fmt.Errorf("%w: server rejected connection", ErrHandshakeFailed)
		}
		// Ignore keepalive-style frames until the ack arrives.
	}
}

// Subscribe starts a room-filtered operation on the open connection.
func (c *Client) Subscribe(roomID string) (*Subscription, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClientClosed
	}

	sub := &Subscription{
		ID:     "sub-" + uuid.NewString(),
		RoomID: roomID,
		Events: make(chan models.Message, 64),
		Errors: make(chan error, 8),
		client: c,
	}
	c.subs[sub.ID] = sub
	c.mu.Unlock()

	payload, _ := json.Marshal(ws.StartPayload{Variables: ws.StartVariables{RoomID: roomID}})
	if err := c.writeEnvelope(ws.Envelope{Type: ws.MsgStart, ID: sub.ID, Payload: payload}); err != nil {
		c.removeSub(sub.ID)
		return nil, err
	}
	return sub, nil
}

// Done is closed when the connection is gone, whatever the reason.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Close tears the connection down.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	return c.conn.Close()
}

func (c *Client) readLoop() {
	defer func() {
		c.mu.Lock()
		c.closed = true
		orphans := make([]*Subscription, 0, len(c.subs))
		for id, sub := range c.subs {
			delete(c.subs, id)
			orphans = append(orphans, sub)
		}
		c.mu.Unlock()
		for _, sub := range orphans {
			sub.once.Do(func() { close(sub.Events) })
		}
		c.conn.Close()
		close(c.done)
	}()

	for {
		var env ws.Envelope
		if err := c.readEnvelope(&env); err != nil {
			return
		}

		switch env.Type {
		case ws.MsgData:
			c.dispatchData(env)
		case ws.MsgError:
			c.dispatchError(env)
		case ws.MsgComplete:
			if sub := c.lookupSub(env.ID); sub != nil {
				sub.Cancel()
			}
		}
	}
}

func (c *Client) dispatchData(env ws.Envelope) {
	sub := c.lookupSub(env.ID)
	if sub == nil {
		return
	}

	var msg models.Message
	if err := json.Unmarshal(env.Payload, &msg); err != nil {
		log.Printf("subscription %s: malformed data frame: %v", env.ID, err)
		return
	}

	select {
	case sub.Events <- msg:
	default:
		log.Printf("subscription %s: event buffer full, dropping message %s", env.ID, msg.ID)
	}
}

// dispatchError logs server error frames; reconnection happens only by
// tearing the socket down and dialing again, never inside one socket
// lifetime.
func (c *Client) dispatchError(env ws.Envelope) {
	var payload ws.ErrorPayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil || len(payload.Errors) == 0 {
		log.Printf("subscription %s: server error frame", env.ID)
		return
	}
	for _, entry := range payload.Errors {
		log.Printf("subscription %s: server error: %s", env.ID, entry.Message)
	}
	if sub := c.lookupSub(env.ID); sub != nil {
		select {
		case sub.Errors <- errors.New(payload.Errors[0].Message):
		default:
		}
	}
}

func (c *Client) lookupSub(id string) *Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subs[id]
}

func (c *Client) removeSub(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.subs, id)
}

func (c *Client) writeEnvelope(env ws.Envelope) error {
	raw, err := json.Marshal(env)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClientClosed
	}
	return c.conn.WriteMessage(websocket.TextMessage, raw)
}

func (c *Client) readEnvelope(env *ws.Envelope) error {
	_, raw, err := c.conn.ReadMessage()
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, env)
}
