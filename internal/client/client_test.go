package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"dmchat/backend/internal/models"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBackend plays both processes the client talks to: the API (token,
// history, durable send) and the relay (/ws). Ack behavior is scripted per
// test through ackFn; a nil return means "never answer".
type fakeBackend struct {
	t   *testing.T
	srv *httptest.Server

	mu             sync.Mutex
	upgrades       int
	conns          []*fakeConn
	history        []models.Message
	historyGate    chan struct{}
	historyStarted chan struct{}
	ackFn          func(models.SendPayload) *models.Frame
	joinFn         func(models.JoinPayload) *models.Frame
}

type fakeConn struct {
	ws  *websocket.Conn
	wmu sync.Mutex

	mu     sync.Mutex
	frames []models.Frame
}

func (fc *fakeConn) record(f models.Frame) {
	fc.mu.Lock()
	fc.frames = append(fc.frames, f)
	fc.mu.Unlock()
}

func (fc *fakeConn) snapshot() []models.Frame {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	out := make([]models.Frame, len(fc.frames))
	copy(out, fc.frames)
	return out
}

func (fc *fakeConn) write(f models.Frame) {
	fc.wmu.Lock()
	defer fc.wmu.Unlock()
	fc.ws.WriteJSON(f)
}

func newFakeBackend(t *testing.T) *fakeBackend {
	b := &fakeBackend{t: t}
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		fc := &fakeConn{ws: ws}
		b.mu.Lock()
		b.upgrades++
		b.conns = append(b.conns, fc)
		b.mu.Unlock()
		b.serveConn(fc)
	})
	mux.HandleFunc("/socket/token", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"ok":   true,
			"data": map[string]string{"token": "socket-token"},
		})
	})
	mux.HandleFunc("/conversation/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			var body map[string]string
			json.NewDecoder(r.Body).Decode(&body)
			w.WriteHeader(http.StatusCreated)
			json.NewEncoder(w).Encode(models.Message{
				ID:          "rest-" + body["clientMsgId"],
				FromUserID:  "me-1",
				Content:     body["content"],
				ClientMsgID: body["clientMsgId"],
				CreatedAt:   time.Now().UTC(),
			})
			return
		}
		b.mu.Lock()
		gate, started := b.historyGate, b.historyStarted
		b.mu.Unlock()
		if gate != nil {
			select {
			case started <- struct{}{}:
			default:
			}
			<-gate
		}
		b.mu.Lock()
		history := b.history
		b.mu.Unlock()
		if history == nil {
			history = []models.Message{}
		}
		json.NewEncoder(w).Encode(history)
	})

	b.srv = httptest.NewServer(mux)
	t.Cleanup(b.srv.Close)
	return b
}

func (b *fakeBackend) serveConn(fc *fakeConn) {
	for {
		var f models.Frame
		if err := fc.ws.ReadJSON(&f); err != nil {
			return
		}
		fc.record(f)
		switch f.Event {
		case models.EventJoinDM:
			b.mu.Lock()
			joinFn := b.joinFn
			b.mu.Unlock()
			if joinFn != nil {
				if reply := joinFn(*f.Join); reply != nil {
					fc.write(*reply)
				}
				continue
			}
			fc.write(models.Frame{Event: models.EventJoinAck, JoinAck: &models.JoinAckPayload{
				PeerID: f.Join.PeerID,
				Room:   models.RoomID("me-1", f.Join.PeerID),
			}})
		case models.EventSend:
			b.mu.Lock()
			ackFn := b.ackFn
			b.mu.Unlock()
			if ackFn != nil {
				if reply := ackFn(*f.Send); reply != nil {
					fc.write(*reply)
				}
				continue
			}
			fc.write(models.Frame{Event: models.EventAck, Ack: &models.AckPayload{
				LocalID:   f.Send.LocalID,
				OK:        true,
				ID:        "srv-" + f.Send.LocalID,
				CreatedAt: time.Now().UTC(),
			}})
		}
	}
}

func (b *fakeBackend) setAckFn(fn func(models.SendPayload) *models.Frame) {
	b.mu.Lock()
	b.ackFn = fn
	b.mu.Unlock()
}

func (b *fakeBackend) setJoinFn(fn func(models.JoinPayload) *models.Frame) {
	b.mu.Lock()
	b.joinFn = fn
	b.mu.Unlock()
}

func (b *fakeBackend) upgradeCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.upgrades
}

func (b *fakeBackend) conn(i int) *fakeConn {
	b.mu.Lock()
	defer b.mu.Unlock()
	if i >= len(b.conns) {
		return nil
	}
	return b.conns[i]
}

func (b *fakeBackend) push(i int, f models.Frame) {
	fc := b.conn(i)
	if fc == nil {
		b.t.Fatalf("no connection %d to push on", i)
	}
	fc.write(f)
}

func (b *fakeBackend) forceClose(i int) {
	fc := b.conn(i)
	if fc == nil {
		b.t.Fatalf("no connection %d to close", i)
	}
	fc.ws.Close()
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition never met: %s", msg)
}

var testPeer = models.PublicUser{ID: "peer-1", Username: "bob"}

func newTestClient(t *testing.T, b *fakeBackend) *Client {
	c := New(b.srv.URL, b.srv.URL, "session-token", "me-1")
	c.Conn.ReconnectDelay = 20 * time.Millisecond
	c.Conn.ReconnectDelaySlow = 20 * time.Millisecond
	t.Cleanup(c.Close)
	return c
}

func TestEnsureConnectedSingleFlight(t *testing.T) {
	b := newFakeBackend(t)
	c := newTestClient(t, b)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, c.Conn.EnsureConnected(context.Background()))
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, b.upgradeCount())
}

func TestSendOptimisticLifecycle(t *testing.T) {
	b := newFakeBackend(t)
	c := newTestClient(t, b)

	ex, err := c.OpenConversation(context.Background(), testPeer)
	require.NoError(t, err)

	entry := ex.Send("hello")
	assert.Equal(t, StatusSending, entry.Status)
	assert.NotEmpty(t, entry.LocalID)

	waitFor(t, func() bool {
		msgs := ex.Messages()
		return len(msgs) == 1 && msgs[0].Status == StatusSent
	}, "optimistic entry confirmed")

	msgs := ex.Messages()
	assert.Equal(t, "srv-"+entry.LocalID, msgs[0].ID)
	assert.Equal(t, "hello", msgs[0].Text)
}

func TestSendAckFailure(t *testing.T) {
	b := newFakeBackend(t)
	b.setAckFn(func(p models.SendPayload) *models.Frame {
		return &models.Frame{Event: models.EventAck, Ack: &models.AckPayload{LocalID: p.LocalID, OK: false, Error: "message not recorded"}}
	})
	c := newTestClient(t, b)

	ex, err := c.OpenConversation(context.Background(), testPeer)
	require.NoError(t, err)

	ex.Send("hello")
	waitFor(t, func() bool {
		msgs := ex.Messages()
		return len(msgs) == 1 && msgs[0].Status == StatusFailed
	}, "negative ack marks entry failed")

	assert.Equal(t, "[FAILED] hello", ex.Messages()[0].Text)
}

func TestSendAckTimeout(t *testing.T) {
	b := newFakeBackend(t)
	b.setAckFn(func(models.SendPayload) *models.Frame { return nil })
	c := newTestClient(t, b)
	c.Conn.AckTimeout = 100 * time.Millisecond

	ex, err := c.OpenConversation(context.Background(), testPeer)
	require.NoError(t, err)

	ex.Send("hello")
	waitFor(t, func() bool {
		msgs := ex.Messages()
		return len(msgs) == 1 && msgs[0].Status == StatusFailed
	}, "unanswered send times out into failed")
	assert.True(t, strings.HasPrefix(ex.Messages()[0].Text, "[FAILED] "))
}

func TestRetryReusesCorrelationToken(t *testing.T) {
	b := newFakeBackend(t)
	b.setAckFn(func(p models.SendPayload) *models.Frame {
		return &models.Frame{Event: models.EventAck, Ack: &models.AckPayload{LocalID: p.LocalID, OK: false, Error: "boom"}}
	})
	c := newTestClient(t, b)

	ex, err := c.OpenConversation(context.Background(), testPeer)
	require.NoError(t, err)

	entry := ex.Send("hello")
	waitFor(t, func() bool {
		msgs := ex.Messages()
		return len(msgs) == 1 && msgs[0].Status == StatusFailed
	}, "first attempt failed")

	b.setAckFn(nil)
	require.True(t, ex.Retry(entry.LocalID))

	waitFor(t, func() bool {
		msgs := ex.Messages()
		return len(msgs) == 1 && msgs[0].Status == StatusSent
	}, "retry confirmed")

	msgs := ex.Messages()
	assert.Equal(t, "hello", msgs[0].Text, "failure decoration stripped on retry")
	assert.Equal(t, "srv-"+entry.LocalID, msgs[0].ID)

	var sendLocalIDs []string
	for _, f := range b.conn(0).snapshot() {
		if f.Event == models.EventSend {
			sendLocalIDs = append(sendLocalIDs, f.Send.LocalID)
		}
	}
	assert.Equal(t, []string{entry.LocalID, entry.LocalID}, sendLocalIDs)
}

func TestRejoinAfterReconnect(t *testing.T) {
	b := newFakeBackend(t)
	c := newTestClient(t, b)

	_, err := c.OpenConversation(context.Background(), testPeer)
	require.NoError(t, err)
	require.Equal(t, 1, b.upgradeCount())

	b.forceClose(0)
	waitFor(t, func() bool { return b.upgradeCount() == 2 }, "reconnect opened a second transport")

	waitFor(t, func() bool { return len(b.conn(1).snapshot()) > 0 }, "rejoin frame arrived")
	frames := b.conn(1).snapshot()
	require.Equal(t, models.EventJoinDM, frames[0].Event)
	assert.Equal(t, testPeer.ID, frames[0].Join.PeerID)
}

func TestJoinWhileJoinInFlight(t *testing.T) {
	b := newFakeBackend(t)
	b.setJoinFn(func(p models.JoinPayload) *models.Frame {
		time.Sleep(150 * time.Millisecond)
		return &models.Frame{Event: models.EventJoinAck, JoinAck: &models.JoinAckPayload{
			PeerID: p.PeerID,
			Room:   models.RoomID("me-1", p.PeerID),
		}}
	})
	c := newTestClient(t, b)
	c.Conn.JoinTimeout = 600 * time.Millisecond
	require.NoError(t, c.Conn.EnsureConnected(context.Background()))

	// A second join for the same peer while the first awaits its ack must not
	// steal the pending slot and leave the first caller to time out.
	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = c.Rooms.JoinDM(context.Background(), testPeer.ID)
		}(i)
	}
	wg.Wait()

	assert.NoError(t, errs[0])
	assert.NoError(t, errs[1])

	joins := 0
	for _, f := range b.conn(0).snapshot() {
		if f.Event == models.EventJoinDM {
			joins++
		}
	}
	assert.Equal(t, 1, joins, "only one join request goes out for one room")
}

func TestTypingSignalOrder(t *testing.T) {
	b := newFakeBackend(t)
	c := newTestClient(t, b)

	require.NoError(t, c.Conn.EnsureConnected(context.Background()))
	c.Rooms.SendTyping(testPeer.ID)
	c.Rooms.SendStopTyping(testPeer.ID)

	waitFor(t, func() bool {
		count := 0
		for _, f := range b.conn(0).snapshot() {
			if f.Event == models.EventTyping || f.Event == models.EventStopTyping {
				count++
			}
		}
		return count == 2
	}, "both presence frames arrived")

	var events []models.EventKind
	for _, f := range b.conn(0).snapshot() {
		if f.Event == models.EventTyping || f.Event == models.EventStopTyping {
			events = append(events, f.Event)
		}
	}
	assert.Equal(t, []models.EventKind{models.EventTyping, models.EventStopTyping}, events)
}

func TestHistoryLoadBuffersLivePush(t *testing.T) {
	b := newFakeBackend(t)
	c := newTestClient(t, b)

	ex, err := c.OpenConversation(context.Background(), testPeer)
	require.NoError(t, err)

	base := time.Now().UTC().Truncate(time.Second)
	older := models.Message{ID: "m0", ConversationID: "conv-1", FromUserID: testPeer.ID, ToUserID: "me-1", Content: "first", CreatedAt: base}
	racing := models.Message{ID: "m1", ConversationID: "conv-1", FromUserID: testPeer.ID, ToUserID: "me-1", Content: "second", CreatedAt: base.Add(time.Second)}

	gate := make(chan struct{})
	started := make(chan struct{}, 1)
	b.mu.Lock()
	// m1 is both in the history snapshot and pushed live mid-load: it must
	// come out exactly once.
	b.history = []models.Message{older, racing}
	b.historyGate = gate
	b.historyStarted = started
	b.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- ex.LoadHistory(context.Background()) }()

	<-started
	b.push(0, models.Frame{Event: models.EventReceived, Message: &racing})
	time.Sleep(50 * time.Millisecond) // let the push land in the buffer
	close(gate)

	require.NoError(t, <-done)

	msgs := ex.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "m0", msgs[0].ID)
	assert.Equal(t, "m1", msgs[1].ID)
	assert.Equal(t, StatusSent, msgs[1].Status)
}

func TestIncomingFromPeerAppendsInOrder(t *testing.T) {
	b := newFakeBackend(t)
	c := newTestClient(t, b)

	ex, err := c.OpenConversation(context.Background(), testPeer)
	require.NoError(t, err)

	updates := make(chan UIMessage, 4)
	ex.OnUpdate(func(m UIMessage) { updates <- m })

	base := time.Now().UTC().Truncate(time.Second)
	first := models.Message{ID: "p1", ConversationID: "conv-1", FromUserID: testPeer.ID, ToUserID: "me-1", Content: "hey", CreatedAt: base}
	second := models.Message{ID: "p2", ConversationID: "conv-1", FromUserID: testPeer.ID, ToUserID: "me-1", Content: "there", CreatedAt: base.Add(time.Second)}

	b.push(0, models.Frame{Event: models.EventReceived, Message: &first})
	b.push(0, models.Frame{Event: models.EventReceived, Message: &second})
	// Duplicate push of an already-known durable id is dropped.
	b.push(0, models.Frame{Event: models.EventReceived, Message: &first})

	waitFor(t, func() bool { return len(ex.Messages()) == 2 }, "both pushes landed once each")
	msgs := ex.Messages()
	assert.Equal(t, []string{"p1", "p2"}, []string{msgs[0].ID, msgs[1].ID})

	got := <-updates
	assert.Equal(t, "p1", got.ID)
}
