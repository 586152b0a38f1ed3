package client

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/url"
	"strings"
	"sync"
	"time"

	"dmchat/backend/internal/config"
	"dmchat/backend/internal/models"

	"github.com/gorilla/websocket"
)

var (
	ErrNotConnected   = errors.New("client: transport not connected")
	ErrConnectionLost = errors.New("client: connection lost after exhausting reconnection attempts")
	ErrAckTimeout     = errors.New("client: acknowledgement timed out")
	ErrClosed         = errors.New("client: connection closed")
)

// TokenFunc fetches a fresh SocketToken for a connection attempt.
type TokenFunc func(ctx context.Context) (string, error)

// State is the observable connectivity of the transport.
type State struct {
	Connected bool
	LastError string
}

// Conn owns the single socket connection for one client runtime. It is an
// explicitly constructed object, never package-level state: whoever needs the
// transport gets handed the same Conn.
//
// A fresh SocketToken is fetched for every dial, so a server-side rejection
// of stale credentials is healed by the normal reconnect path. Room
// membership is not preserved by the relay across reconnects; Conn re-joins
// every previously joined room immediately after each successful dial, before
// any other frame is written.
type Conn struct {
	relayURL string
	tokenFn  TokenFunc

	// Tuning knobs, defaulted from config and overridable in tests.
	AckTimeout           time.Duration
	JoinTimeout          time.Duration
	ReconnectDelay       time.Duration
	ReconnectDelaySlow   time.Duration
	MaxReconnectAttempts int

	mu           sync.Mutex
	wmu          sync.Mutex // serializes websocket writes
	ws           *websocket.Conn
	state        State
	stateSubs    []func(State)
	dialDone     chan struct{}
	joined       map[string]struct{} // peer ids to re-join on reconnect
	pendingAcks  map[string]chan models.AckPayload
	pendingJoins map[string]chan models.JoinAckPayload
	closed       bool

	onMessage func(models.Message)
	onTyping  func(models.TypingStatusPayload)
}

// NewConn builds a connection manager for the given relay base URL
// ("http://host:port" or "ws://host:port").
func NewConn(relayURL string, tokenFn TokenFunc) *Conn {
	return &Conn{
		relayURL:             wsURL(relayURL),
		tokenFn:              tokenFn,
		AckTimeout:           config.AckTimeout,
		JoinTimeout:          config.JoinTimeout,
		ReconnectDelay:       config.ReconnectDelay,
		ReconnectDelaySlow:   config.ReconnectDelaySlow,
		MaxReconnectAttempts: config.MaxReconnectAttempts,
		joined:               make(map[string]struct{}),
		pendingAcks:          make(map[string]chan models.AckPayload),
		pendingJoins:         make(map[string]chan models.JoinAckPayload),
	}
}

// OnMessage registers the handler for pushed message:received frames.
func (c *Conn) OnMessage(fn func(models.Message)) {
	c.mu.Lock()
	c.onMessage = fn
	c.mu.Unlock()
}

// OnTyping registers the handler for pushed typing:status frames.
func (c *Conn) OnTyping(fn func(models.TypingStatusPayload)) {
	c.mu.Lock()
	c.onTyping = fn
	c.mu.Unlock()
}

// State returns the current connectivity snapshot.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SubscribeState registers an observer invoked on every state transition.
func (c *Conn) SubscribeState(fn func(State)) {
	c.mu.Lock()
	c.stateSubs = append(c.stateSubs, fn)
	c.mu.Unlock()
}

// EnsureConnected opens the transport if it is not already open. It is
// idempotent and single-flight: while a dial is in progress, concurrent
// callers wait for it instead of opening a second transport.
func (c *Conn) EnsureConnected(ctx context.Context) error {
	for {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return ErrClosed
		}
		if c.ws != nil {
			c.mu.Unlock()
			return nil
		}
		if c.dialDone != nil {
			done := c.dialDone
			c.mu.Unlock()
			select {
			case <-done:
				continue // re-check the outcome
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		done := make(chan struct{})
		c.dialDone = done
		c.mu.Unlock()

		err := c.dial(ctx)

		c.mu.Lock()
		c.dialDone = nil
		c.mu.Unlock()
		close(done)
		return err
	}
}

func (c *Conn) dial(ctx context.Context) error {
	tok, err := c.tokenFn(ctx)
	if err != nil {
		err = fmt.Errorf("fetch socket token: %w", err)
		c.setState(false, err.Error())
		return err
	}

	ws, _, err := websocket.DefaultDialer.DialContext(ctx, c.relayURL+"/ws?token="+url.QueryEscape(tok), nil)
	if err != nil {
		err = fmt.Errorf("dial relay: %w", err)
		c.setState(false, err.Error())
		return err
	}

	c.mu.Lock()
	c.ws = ws
	peers := make([]string, 0, len(c.joined))
	for p := range c.joined {
		peers = append(peers, p)
	}
	c.mu.Unlock()
	c.setState(true, "")

	go c.readLoop(ws)
	go c.pingLoop(ws)

	// Re-establish room membership before anything else goes out on this
	// connection.
	for _, p := range peers {
		if werr := c.writeFrame(models.Frame{Event: models.EventJoinDM, Join: &models.JoinPayload{PeerID: p}}); werr != nil {
			log.Printf("rejoin %s failed: %v", p, werr)
		}
	}
	return nil
}

// Close shuts the transport down for good; no reconnection follows.
func (c *Conn) Close() {
	c.mu.Lock()
	c.closed = true
	ws := c.ws
	c.mu.Unlock()
	if ws != nil {
		ws.Close()
	}
}

// JoinDM requests membership in the two-party room with the peer and waits
// for the relay's acknowledgement. The peer is remembered for automatic
// re-join after reconnects. On a dead transport the join is only recorded and
// logged; it will be replayed once the connection is back.
func (c *Conn) JoinDM(ctx context.Context, peerID string) error {
	c.mu.Lock()
	c.joined[peerID] = struct{}{}
	if c.ws == nil {
		c.mu.Unlock()
		log.Printf("join_dm %s deferred: transport not connected", peerID)
		return nil
	}
	if _, inFlight := c.pendingJoins[peerID]; inFlight {
		// Another caller is already awaiting this room; a second request
		// would steal its pending slot. One acknowledgement settles the join
		// for everyone.
		c.mu.Unlock()
		return nil
	}
	ch := make(chan models.JoinAckPayload, 1)
	c.pendingJoins[peerID] = ch
	c.mu.Unlock()

	if err := c.writeFrame(models.Frame{Event: models.EventJoinDM, Join: &models.JoinPayload{PeerID: peerID}}); err != nil {
		c.clearJoin(peerID)
		return err
	}

	select {
	case ack := <-ch:
		if ack.Error != "" {
			return errors.New("join_dm rejected: " + ack.Error)
		}
		return nil
	case <-time.After(c.JoinTimeout):
		c.clearJoin(peerID)
		return fmt.Errorf("join_dm %s: %w", peerID, ErrAckTimeout)
	case <-ctx.Done():
		c.clearJoin(peerID)
		return ctx.Err()
	}
}

// SendTyping emits a fire-and-forget typing signal.
func (c *Conn) SendTyping(peerID string) {
	c.fireAndForget(models.Frame{Event: models.EventTyping, Typing: &models.TypingPayload{PeerID: peerID}})
}

// SendStopTyping emits a fire-and-forget stop-typing signal.
func (c *Conn) SendStopTyping(peerID string) {
	c.fireAndForget(models.Frame{Event: models.EventStopTyping, Typing: &models.TypingPayload{PeerID: peerID}})
}

func (c *Conn) fireAndForget(f models.Frame) {
	if err := c.writeFrame(f); err != nil {
		log.Printf("presence signal dropped: %v", err)
	}
}

// SendWithAck emits a message:send and waits for its single acknowledgement,
// bounded by AckTimeout.
func (c *Conn) SendWithAck(ctx context.Context, payload models.SendPayload) (models.AckPayload, error) {
	ch := make(chan models.AckPayload, 1)
	c.mu.Lock()
	c.pendingAcks[payload.LocalID] = ch
	c.mu.Unlock()

	if err := c.writeFrame(models.Frame{Event: models.EventSend, Send: &payload}); err != nil {
		c.clearAck(payload.LocalID)
		return models.AckPayload{}, err
	}

	select {
	case ack := <-ch:
		return ack, nil
	case <-time.After(c.AckTimeout):
		c.clearAck(payload.LocalID)
		return models.AckPayload{}, ErrAckTimeout
	case <-ctx.Done():
		c.clearAck(payload.LocalID)
		return models.AckPayload{}, ctx.Err()
	}
}

func (c *Conn) writeFrame(f models.Frame) error {
	c.mu.Lock()
	ws := c.ws
	c.mu.Unlock()
	if ws == nil {
		return ErrNotConnected
	}

	c.wmu.Lock()
	defer c.wmu.Unlock()
	ws.SetWriteDeadline(time.Now().Add(config.WriteWait))
	return ws.WriteJSON(f)
}

func (c *Conn) readLoop(ws *websocket.Conn) {
	ws.SetReadDeadline(time.Now().Add(config.PongWait))
	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(config.PongWait))
		return nil
	})

	for {
		var frame models.Frame
		if err := ws.ReadJSON(&frame); err != nil {
			c.handleDisconnect(ws, err)
			return
		}
		c.dispatch(frame)
	}
}

func (c *Conn) pingLoop(ws *websocket.Conn) {
	ticker := time.NewTicker(config.PingPeriod)
	defer ticker.Stop()
	for range ticker.C {
		c.wmu.Lock()
		ws.SetWriteDeadline(time.Now().Add(config.WriteWait))
		err := ws.WriteMessage(websocket.PingMessage, nil)
		c.wmu.Unlock()
		if err != nil {
			return
		}
	}
}

// dispatch routes one inbound frame. The event set is closed; anything
// unexpected is logged and dropped.
func (c *Conn) dispatch(f models.Frame) {
	switch f.Event {
	case models.EventAck:
		if f.Ack != nil {
			c.resolveAck(*f.Ack)
		}
	case models.EventJoinAck:
		if f.JoinAck != nil {
			c.resolveJoin(*f.JoinAck)
		}
	case models.EventReceived:
		c.mu.Lock()
		fn := c.onMessage
		c.mu.Unlock()
		if fn != nil && f.Message != nil {
			fn(*f.Message)
		}
	case models.EventTypingStatus:
		c.mu.Lock()
		fn := c.onTyping
		c.mu.Unlock()
		if fn != nil && f.TypingStatus != nil {
			fn(*f.TypingStatus)
		}
	case models.EventError:
		log.Printf("relay error: %s", f.Error)
	case models.EventJoinDM, models.EventSend, models.EventTyping, models.EventStopTyping:
		log.Printf("dropping client-side event %q pushed by relay", f.Event)
	default:
		log.Printf("dropping unknown event %q", f.Event)
	}
}

func (c *Conn) resolveAck(ack models.AckPayload) {
	c.mu.Lock()
	ch := c.pendingAcks[ack.LocalID]
	delete(c.pendingAcks, ack.LocalID)
	c.mu.Unlock()
	if ch != nil {
		ch <- ack
	}
}

func (c *Conn) resolveJoin(ack models.JoinAckPayload) {
	c.mu.Lock()
	ch := c.pendingJoins[ack.PeerID]
	delete(c.pendingJoins, ack.PeerID)
	c.mu.Unlock()
	if ch != nil {
		ch <- ack
	}
}

func (c *Conn) clearAck(localID string) {
	c.mu.Lock()
	delete(c.pendingAcks, localID)
	c.mu.Unlock()
}

func (c *Conn) clearJoin(peerID string) {
	c.mu.Lock()
	delete(c.pendingJoins, peerID)
	c.mu.Unlock()
}

// handleDisconnect tears down one transport instance. In-flight requests fail
// immediately rather than hanging in "sending" forever, and a background
// reconnect starts unless the owner closed the connection.
func (c *Conn) handleDisconnect(ws *websocket.Conn, cause error) {
	c.mu.Lock()
	if c.ws != ws {
		c.mu.Unlock()
		return
	}
	c.ws = nil
	closed := c.closed
	acks := c.pendingAcks
	joins := c.pendingJoins
	c.pendingAcks = make(map[string]chan models.AckPayload)
	c.pendingJoins = make(map[string]chan models.JoinAckPayload)
	c.mu.Unlock()

	ws.Close()
	for localID, ch := range acks {
		ch <- models.AckPayload{LocalID: localID, Error: "connection lost"}
	}
	for peerID, ch := range joins {
		ch <- models.JoinAckPayload{PeerID: peerID, Error: "connection lost"}
	}

	if closed {
		c.setState(false, "")
		return
	}

	c.setState(false, errString(cause))
	go c.reconnectLoop()
}

// reconnectLoop retries the dial with bounded backoff: a short fixed delay
// first, escalating to the slow delay on repeated setup failure. After the
// attempt budget is spent the terminal error is surfaced through the state
// observer.
func (c *Conn) reconnectLoop() {
	delay := c.ReconnectDelay
	for attempt := 1; attempt <= c.MaxReconnectAttempts; attempt++ {
		time.Sleep(delay)

		c.mu.Lock()
		if c.closed || c.ws != nil {
			c.mu.Unlock()
			return
		}
		c.mu.Unlock()

		if err := c.EnsureConnected(context.Background()); err == nil {
			return
		} else {
			log.Printf("reconnect attempt %d failed: %v", attempt, err)
		}
		delay = c.ReconnectDelaySlow
	}
	c.setState(false, ErrConnectionLost.Error())
}

func (c *Conn) setState(connected bool, lastError string) {
	c.mu.Lock()
	c.state = State{Connected: connected, LastError: lastError}
	state := c.state
	subs := make([]func(State), len(c.stateSubs))
	copy(subs, c.stateSubs)
	c.mu.Unlock()
	for _, fn := range subs {
		fn(state)
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func wsURL(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base
}
