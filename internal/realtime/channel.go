package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/sangamlink/client-go/internal/errs"
)

// ErrNotConnected is returned by emit operations while the channel is
// between connections.
var ErrNotConnected = errors.New("realtime: not connected")

// Channel is the persistent event connection. It re-dials with the current
// access token after disconnects and token refreshes, and re-joins all
// joined rooms so event delivery resumes without the caller reopening
// conversations.
type Channel struct {
	wsURL string
	token func() string // re-read on every dial so a refreshed token is picked up
	log   *zap.Logger

	dialer       *websocket.Dialer
	pingInterval time.Duration
	writeTimeout time.Duration
	readTimeout  time.Duration
	backoffMin   time.Duration
	backoffMax   time.Duration

	mu      sync.Mutex
	conn    *websocket.Conn
	rooms   map[string]struct{}
	subs    map[string]map[int]func(json.RawMessage)
	nextSub int
	closed  bool

	writeMu sync.Mutex
	done    chan struct{}
}

// Option configures a Channel.
type Option func(*Channel)

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) Option {
	return func(c *Channel) { c.log = log }
}

// WithKeepalive overrides ping/read/write timing.
func WithKeepalive(ping, write, read time.Duration) Option {
	return func(c *Channel) {
		c.pingInterval = ping
		c.writeTimeout = write
		c.readTimeout = read
	}
}

// WithBackoff overrides the reconnect backoff bounds.
func WithBackoff(min, max time.Duration) Option {
	return func(c *Channel) {
		c.backoffMin = min
		c.backoffMax = max
	}
}

// New creates a channel for the given WebSocket URL. The token callback is
// invoked on every dial.
func New(wsURL string, token func() string, opts ...Option) *Channel {
	c := &Channel{
		wsURL:        wsURL,
		token:        token,
		log:          zap.NewNop(),
		dialer:       websocket.DefaultDialer,
		pingInterval: 30 * time.Second,
		writeTimeout: 10 * time.Second,
		readTimeout:  60 * time.Second,
		backoffMin:   time.Second,
		backoffMax:   30 * time.Second,
		rooms:        map[string]struct{}{},
		subs:         map[string]map[int]func(json.RawMessage){},
		done:         make(chan struct{}),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Connect dials the server and starts the maintenance loop. Later
// disconnects reconnect automatically; only the initial dial error is
// surfaced here.
func (c *Channel) Connect(ctx context.Context) error {
	conn, err := c.dial(ctx)
	if err != nil {
		return err
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		return errs.ErrChannelClosed
	}
	c.conn = conn
	c.mu.Unlock()
	go c.run(conn)
	return nil
}

func (c *Channel) dial(ctx context.Context) (*websocket.Conn, error) {
	u, err := url.Parse(c.wsURL)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("token", c.token())
	u.RawQuery = q.Encode()
	conn, _, err := c.dialer.DialContext(ctx, u.String(), nil)
	return conn, err
}

// Redial tears down the current connection so the maintenance loop re-dials
// with the current token. Called by the session listener on token refresh so
// the channel never operates with a stale credential.
func (c *Channel) Redial() {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

// Close tears the channel down for good (logout/unmount).
func (c *Channel) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	conn := c.conn
	c.mu.Unlock()
	close(c.done)
	if conn != nil {
		_ = conn.Close()
	}
}

func (c *Channel) run(conn *websocket.Conn) {
	backoff := c.backoffMin
	for {
		if conn != nil {
			c.rejoin(conn)
			stop := make(chan struct{})
			go c.pingLoop(conn, stop)
			c.readLoop(conn)
			close(stop)
			_ = conn.Close()
			c.mu.Lock()
			c.conn = nil
			c.mu.Unlock()
			conn = nil
			backoff = c.backoffMin
		}

		select {
		case <-c.done:
			return
		case <-time.After(backoff):
		}
		if backoff *= 2; backoff > c.backoffMax {
			backoff = c.backoffMax
		}

		next, err := c.dial(context.Background())
		if err != nil {
			c.log.Warn("realtime reconnect failed", zap.Error(err))
			continue
		}
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			_ = next.Close()
			return
		}
		c.conn = next
		c.mu.Unlock()
		conn = next
		c.log.Info("realtime reconnected")
	}
}

// rejoin replays join_room for every joined conversation after a (re)dial.
func (c *Channel) rejoin(conn *websocket.Conn) {
	c.mu.Lock()
	rooms := make([]string, 0, len(c.rooms))
	for id := range c.rooms {
		rooms = append(rooms, id)
	}
	c.mu.Unlock()
	for _, id := range rooms {
		if err := c.write(conn, envelope(TypeJoinRoom, id, "")); err != nil {
			c.log.Warn("rejoin failed", zap.String("conversationId", id), zap.Error(err))
			return
		}
	}
}

func (c *Channel) readLoop(conn *websocket.Conn) {
	_ = conn.SetReadDeadline(time.Now().Add(c.readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(c.readTimeout))
	})
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
			default:
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					c.log.Warn("realtime read error", zap.Error(err))
				}
			}
			return
		}
		c.dispatch(data)
	}
}

func (c *Channel) pingLoop(conn *websocket.Conn, stop chan struct{}) {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-c.done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			_ = conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func (c *Channel) dispatch(data []byte) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		c.log.Warn("unparseable realtime event", zap.Error(err))
		return
	}
	c.mu.Lock()
	handlers := make([]func(json.RawMessage), 0, len(c.subs[env.Type]))
	for _, fn := range c.subs[env.Type] {
		handlers = append(handlers, fn)
	}
	c.mu.Unlock()
	for _, fn := range handlers {
		fn(data)
	}
}

// subscribe registers a raw handler and returns its detachment handle.
// Listeners are never garbage collected implicitly.
func (c *Channel) subscribe(eventType string, fn func(json.RawMessage)) func() {
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	if c.subs[eventType] == nil {
		c.subs[eventType] = map[int]func(json.RawMessage){}
	}
	c.subs[eventType][id] = fn
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.subs[eventType], id)
		c.mu.Unlock()
	}
}

// OnNewMessage subscribes to authoritative message deliveries.
func (c *Channel) OnNewMessage(fn func(NewMessageEvent)) func() {
	return c.subscribe(TypeNewMessage, func(raw json.RawMessage) {
		var ev NewMessageEvent
		if err := json.Unmarshal(raw, &ev); err == nil {
			fn(ev)
		}
	})
}

// OnMessageError subscribes to send rejections.
func (c *Channel) OnMessageError(fn func(MessageErrorEvent)) func() {
	return c.subscribe(TypeMessageError, func(raw json.RawMessage) {
		var ev MessageErrorEvent
		if err := json.Unmarshal(raw, &ev); err == nil {
			fn(ev)
		}
	})
}

// OnTypingStart subscribes to typing-start edges.
func (c *Channel) OnTypingStart(fn func(TypingEvent)) func() {
	return c.subscribe(TypeTypingStart, func(raw json.RawMessage) {
		var ev TypingEvent
		if err := json.Unmarshal(raw, &ev); err == nil {
			fn(ev)
		}
	})
}

// OnTypingStop subscribes to typing-stop edges.
func (c *Channel) OnTypingStop(fn func(TypingEvent)) func() {
	return c.subscribe(TypeTypingStop, func(raw json.RawMessage) {
		var ev TypingEvent
		if err := json.Unmarshal(raw, &ev); err == nil {
			fn(ev)
		}
	})
}

// OnNotification subscribes to the generic unread-activity push.
func (c *Channel) OnNotification(fn func(NotificationEvent)) func() {
	return c.subscribe(TypeNotification, func(raw json.RawMessage) {
		var ev NotificationEvent
		if err := json.Unmarshal(raw, &ev); err == nil {
			fn(ev)
		}
	})
}

// JoinConversation joins a conversation room; membership is remembered for
// replay after reconnects.
func (c *Channel) JoinConversation(conversationID string) error {
	c.mu.Lock()
	c.rooms[conversationID] = struct{}{}
	c.mu.Unlock()
	return c.emit(envelope(TypeJoinRoom, conversationID, ""))
}

// LeaveConversation leaves a conversation room.
func (c *Channel) LeaveConversation(conversationID string) error {
	c.mu.Lock()
	delete(c.rooms, conversationID)
	c.mu.Unlock()
	return c.emit(envelope(TypeLeaveRoom, conversationID, ""))
}

// SendMessage emits a chat message carrying the client correlation ID.
func (c *Channel) SendMessage(conversationID, receiverID, content, correlationID string) error {
	return c.emit(SendMessageEvent{
		Envelope:   envelope(TypeSendMessage, conversationID, correlationID),
		ReceiverID: receiverID,
		Content:    content,
	})
}

// TypingStart emits a typing-start edge.
func (c *Channel) TypingStart(conversationID string) error {
	return c.emit(envelope(TypeTypingStart, conversationID, ""))
}

// TypingStop emits a typing-stop edge.
func (c *Channel) TypingStop(conversationID string) error {
	return c.emit(envelope(TypeTypingStop, conversationID, ""))
}

// MarkRead tells the server the viewer has read the conversation.
func (c *Channel) MarkRead(conversationID string) error {
	return c.emit(envelope(TypeMarkRead, conversationID, ""))
}

func (c *Channel) emit(v any) error {
	c.mu.Lock()
	conn := c.conn
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return errs.ErrChannelClosed
	}
	if conn == nil {
		return ErrNotConnected
	}
	return c.write(conn, v)
}

func (c *Channel) write(conn *websocket.Conn, v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	return conn.WriteJSON(v)
}
