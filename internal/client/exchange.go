package client

import (
	"context"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"dmchat/backend/internal/bridge"
	"dmchat/backend/internal/models"

	"github.com/google/uuid"
)

const failedPrefix = "[FAILED] "

// Exchange drives the message state machine for one open conversation. Every
// outgoing message lives in an explicit reconciliation table keyed by its
// correlation token: it enters as `sending`, leaves as `sent` when the ack
// (or the durable history) confirms it, and parks as `failed` on a negative
// ack or timeout. Failed entries are kept; retry is explicit, never
// automatic.
type Exchange struct {
	conn   *Conn
	api    *bridge.Client
	selfID string
	peer   models.PublicUser

	mu             sync.Mutex
	messages       []*UIMessage
	outbox         map[string]*UIMessage // localID -> unconfirmed entry
	loading        bool
	buffer         []models.Message // pushes that arrived mid history load
	conversationID string
	subs           []func(UIMessage)
}

func NewExchange(conn *Conn, api *bridge.Client, selfID string, peer models.PublicUser) *Exchange {
	return &Exchange{
		conn:   conn,
		api:    api,
		selfID: selfID,
		peer:   peer,
		outbox: make(map[string]*UIMessage),
	}
}

// Attach subscribes the exchange to the connection's push stream.
func (e *Exchange) Attach() {
	e.conn.OnMessage(e.handleIncoming)
}

// OnUpdate registers an observer invoked with every created or transitioned
// entry, including the synchronous optimistic one.
func (e *Exchange) OnUpdate(fn func(UIMessage)) {
	e.mu.Lock()
	e.subs = append(e.subs, fn)
	e.mu.Unlock()
}

// Messages returns the ordered local sequence.
func (e *Exchange) Messages() []UIMessage {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]UIMessage, len(e.messages))
	for i, m := range e.messages {
		out[i] = *m
	}
	return out
}

// Send creates the optimistic entry, notifies observers synchronously so the
// UI renders before any network confirmation, then emits the frame and
// reconciles on the ack in the background. The durable REST write runs
// independently of the socket ack; the shared correlation token collapses the
// two paths to one stored row.
func (e *Exchange) Send(text string) UIMessage {
	localID := uuid.NewString()
	entry := &UIMessage{
		ID:         localID,
		LocalID:    localID,
		SenderID:   e.selfID,
		ReceiverID: e.peer.ID,
		Text:       text,
		CreatedAt:  time.Now(),
		Status:     StatusSending,
	}

	e.mu.Lock()
	e.messages = append(e.messages, entry)
	e.outbox[localID] = entry
	snapshot := *entry
	e.mu.Unlock()

	e.notify(snapshot)
	go e.transmit(localID, text)
	return snapshot
}

// Retry re-emits a failed entry with its original correlation token. The
// dedup key on the server makes this safe even if the first attempt landed.
func (e *Exchange) Retry(localID string) bool {
	e.mu.Lock()
	entry := e.outbox[localID]
	if entry == nil || entry.Status != StatusFailed {
		e.mu.Unlock()
		return false
	}
	text := strings.TrimPrefix(entry.Text, failedPrefix)
	entry.Text = text
	entry.Status = StatusSending
	snapshot := *entry
	e.mu.Unlock()

	e.notify(snapshot)
	go e.transmit(localID, text)
	return true
}

func (e *Exchange) transmit(localID, text string) {
	ctx, cancel := context.WithTimeout(context.Background(), e.conn.AckTimeout+5*time.Second)
	defer cancel()

	// Durable write path, not gated on socket success.
	go func() {
		wctx, wcancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer wcancel()
		if _, err := e.api.Send(wctx, e.peer.Username, text, localID); err != nil {
			log.Printf("durable write for %s failed: %v", localID, err)
		}
	}()

	if err := e.conn.EnsureConnected(ctx); err != nil {
		e.reconcileFailure(localID, text, err.Error())
		return
	}

	ack, err := e.conn.SendWithAck(ctx, models.SendPayload{
		ToUserID: e.peer.ID,
		Text:     text,
		LocalID:  localID,
	})
	if err != nil {
		e.reconcileFailure(localID, text, err.Error())
		return
	}
	if !ack.OK {
		e.reconcileFailure(localID, text, ack.Error)
		return
	}
	e.reconcileSuccess(localID, ack)
}

// reconcileSuccess replaces the optimistic entry with the server-confirmed
// one: the durable id takes over and the correlation token stops being a
// separate item.
func (e *Exchange) reconcileSuccess(localID string, ack models.AckPayload) {
	e.mu.Lock()
	entry := e.outbox[localID]
	if entry == nil {
		// Already confirmed through the durable history or an inbound echo.
		e.mu.Unlock()
		return
	}
	delete(e.outbox, localID)
	entry.ID = ack.ID
	entry.Status = StatusSent
	if !ack.CreatedAt.IsZero() {
		entry.CreatedAt = ack.CreatedAt
	}
	e.resortLocked()
	snapshot := *entry
	e.mu.Unlock()
	e.notify(snapshot)
}

// reconcileFailure marks the entry failed and decorates the displayed text.
// The entry is retained: a failed send stays visible and retryable.
func (e *Exchange) reconcileFailure(localID, text, reason string) {
	log.Printf("send %s failed: %s", localID, reason)
	e.mu.Lock()
	entry := e.outbox[localID]
	if entry == nil || entry.Status != StatusSending {
		e.mu.Unlock()
		return
	}
	entry.Status = StatusFailed
	entry.Text = failedPrefix + text
	snapshot := *entry
	e.mu.Unlock()
	e.notify(snapshot)
}

// LoadHistory initializes the local sequence from the durable history. Live
// pushes arriving while the fetch is in flight are buffered and replayed
// against the snapshot afterwards, so a racing push can neither be lost nor
// land out of order.
func (e *Exchange) LoadHistory(ctx context.Context) error {
	e.mu.Lock()
	e.loading = true
	e.buffer = nil
	e.mu.Unlock()

	history, err := e.api.History(ctx, e.peer.Username)

	e.mu.Lock()
	e.loading = false
	if err != nil {
		e.buffer = nil
		e.mu.Unlock()
		return err
	}

	pending := e.collectPendingLocked()
	e.messages = nil
	for i := range history {
		e.insertDurableLocked(history[i])
	}
	// Unconfirmed local entries stay at the point the history does not yet
	// cover.
	for _, entry := range pending {
		if !e.containsLocked(entry.LocalID) {
			e.messages = append(e.messages, entry)
		}
	}
	buffered := e.buffer
	e.buffer = nil
	for i := range buffered {
		e.insertDurableLocked(buffered[i])
	}
	e.resortLocked()
	e.mu.Unlock()
	return nil
}

// MarkRead flags the peer's messages as read on the durable store. The
// conversation id is learned from the first loaded history row.
func (e *Exchange) MarkRead(ctx context.Context) error {
	e.mu.Lock()
	convID := e.conversationID
	e.mu.Unlock()
	if convID == "" {
		return nil
	}
	return e.api.MarkRead(ctx, convID)
}

func (e *Exchange) handleIncoming(msg models.Message) {
	if msg.FromUserID != e.peer.ID && msg.ToUserID != e.peer.ID {
		return // another conversation's traffic
	}

	e.mu.Lock()
	if e.loading {
		e.buffer = append(e.buffer, msg)
		e.mu.Unlock()
		return
	}
	entry := e.insertDurableLocked(msg)
	if entry == nil {
		e.mu.Unlock()
		return
	}
	snapshot := *entry
	e.mu.Unlock()
	e.notify(snapshot)
}

// insertDurableLocked merges one durable message into the local sequence:
// duplicates by durable id are dropped, own messages reconcile their
// optimistic entry via the correlation token, and everything else is inserted
// in (createdAt, id) order.
func (e *Exchange) insertDurableLocked(msg models.Message) *UIMessage {
	if e.conversationID == "" && msg.ConversationID != "" {
		e.conversationID = msg.ConversationID
	}

	for _, existing := range e.messages {
		if existing.ID == msg.ID {
			return nil
		}
	}

	if msg.FromUserID == e.selfID {
		if entry, ok := e.outbox[msg.ClientMsgID]; ok {
			delete(e.outbox, msg.ClientMsgID)
			entry.ID = msg.ID
			entry.CreatedAt = msg.CreatedAt
			entry.Text = msg.Content
			entry.Status = StatusSent
			if msg.Read {
				entry.Status = StatusRead
			}
			present := false
			for _, m := range e.messages {
				if m == entry {
					present = true
					break
				}
			}
			if !present {
				e.messages = append(e.messages, entry)
			}
			e.resortLocked()
			return entry
		}
	}

	entry := &UIMessage{
		ID:         msg.ID,
		SenderID:   msg.FromUserID,
		ReceiverID: msg.ToUserID,
		Text:       msg.Content,
		CreatedAt:  msg.CreatedAt,
		Status:     StatusSent,
	}
	if msg.Read {
		entry.Status = StatusRead
	}
	e.messages = append(e.messages, entry)
	e.resortLocked()
	return entry
}

func (e *Exchange) collectPendingLocked() []*UIMessage {
	var pending []*UIMessage
	for _, entry := range e.messages {
		if entry.Status == StatusSending || entry.Status == StatusFailed {
			pending = append(pending, entry)
		}
	}
	return pending
}

func (e *Exchange) containsLocked(id string) bool {
	for _, m := range e.messages {
		if m.ID == id || (id != "" && m.LocalID == id) {
			return true
		}
	}
	return false
}

func (e *Exchange) resortLocked() {
	sort.SliceStable(e.messages, func(i, j int) bool {
		if !e.messages[i].CreatedAt.Equal(e.messages[j].CreatedAt) {
			return e.messages[i].CreatedAt.Before(e.messages[j].CreatedAt)
		}
		return e.messages[i].ID < e.messages[j].ID
	})
}

func (e *Exchange) notify(m UIMessage) {
	e.mu.Lock()
	subs := make([]func(UIMessage), len(e.subs))
	copy(subs, e.subs)
	e.mu.Unlock()
	for _, fn := range subs {
		fn(m)
	}
}
