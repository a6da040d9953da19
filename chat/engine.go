package chat

import (
	"context"
	"time"

	"github.com/golang/glog"

	"github.com/pairchat/pairchat/store"
	"github.com/pairchat/pairchat/wire"
)

// storeTimeout bounds every persistence call. A timed out operation is
// reported as failed, never retried here.
const storeTimeout = 3 * time.Second

// ConversationKey derives the canonical order-independent id of the
// conversation between a and b: ConversationKey(a, b) == ConversationKey(b, a).
func ConversationKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + "|" + b
}

// Fanout is the slice of the conversation router the engine drives.
// Broadcast reaches every connection joined to the key's group; Notify
// reaches only the connections of one identity and is a no-op when the
// identity is offline.
type Fanout interface {
	Broadcast(key string, msg *wire.ServerMsg)
	Notify(identity string, msg *wire.ServerMsg)
}

// Engine applies authorized mutations to message records and fans the
// result out. An event is only broadcast after its write succeeded.
type Engine struct {
	messages store.MessageStore
	fanout   Fanout
	locks    *keyedMutex
}

func NewEngine(messages store.MessageStore, fanout Fanout) *Engine {
	return &Engine{
		messages: messages,
		fanout:   fanout,
		locks:    newKeyedMutex(),
	}
}

// Send creates a new unread message and broadcasts it to the pair's group.
func (e *Engine) Send(ctx context.Context, sender string, req *wire.SendMessageReq) (*wire.Message, *wire.Error) {
	var errs []string
	if req.Receiver == "" {
		errs = append(errs, "receiver: required")
	}
	if req.Body == "" {
		errs = append(errs, "body: required")
	}
	if len(errs) > 0 {
		return nil, wire.NewInvalidArgumentError(errs...)
	}

	m := &wire.Message{
		Sender:     sender,
		Receiver:   req.Receiver,
		Body:       req.Body,
		Tag:        req.Tag,
		CreateTime: time.Now().Unix(),
	}

	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()
	if _, err := e.messages.InsertMessage(ctx, m); err != nil {
		glog.Errorf("Send(): insert error: %v", err)
		return nil, wire.NewInternalError(err.Error())
	}

	e.fanout.Broadcast(ConversationKey(sender, req.Receiver), &wire.ServerMsg{NewMessage: m})
	return m, nil
}

// React toggles, replaces, or appends identity's reaction on a message.
// Reacting with the identity's current emoji removes it; a different
// emoji replaces it. Unknown message ids are a no-op.
func (e *Engine) React(ctx context.Context, identity string, req *wire.AddReactionReq) *wire.Error {
	if req.Emoji == "" {
		return wire.NewInvalidArgumentError("emoji: required")
	}

	e.locks.lock(req.MessageId)
	defer e.locks.unlock(req.MessageId)

	m, wErr := e.find(ctx, req.MessageId)
	if wErr != nil || m == nil {
		return wErr
	}
	if m.Deleted {
		return wire.NewUnauthorizedError("message is deleted")
	}
	if !m.IsParticipant(identity) {
		return wire.NewUnauthorizedError("not a conversation participant")
	}

	if i := m.ReactionOf(identity); i >= 0 {
		if m.Reactions[i].Emoji == req.Emoji {
			m.Reactions = append(m.Reactions[:i], m.Reactions[i+1:]...)
		} else {
			m.Reactions[i].Emoji = req.Emoji
		}
	} else {
		m.Reactions = append(m.Reactions, wire.Reaction{Identity: identity, Emoji: req.Emoji})
	}

	if wErr := e.save(ctx, m); wErr != nil {
		return wErr
	}

	e.fanout.Broadcast(ConversationKey(m.Sender, m.Receiver), &wire.ServerMsg{MessageUpdated: m})
	return nil
}

// MarkRead flips every unread message from peer to reader to read, then
// sends one directed refresh to the peer.
func (e *Engine) MarkRead(ctx context.Context, reader string, req *wire.MarkReadReq) *wire.Error {
	if req.Peer == "" {
		return wire.NewInvalidArgumentError("peer: required")
	}

	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()
	changed, err := e.messages.BulkSetRead(ctx, reader, req.Peer)
	if err != nil {
		glog.Errorf("MarkRead(): bulk set read error: %v", err)
		return wire.NewInternalError(err.Error())
	}
	glog.V(5).Infof("MarkRead(): reader: %s, peer: %s, changed: %d", reader, req.Peer, changed)

	e.fanout.Notify(req.Peer, &wire.ServerMsg{Refresh: &wire.RefreshEvent{From: reader}})
	return nil
}

// Edit replaces the body of one of identity's own messages.
func (e *Engine) Edit(ctx context.Context, identity string, req *wire.EditMessageReq) *wire.Error {
	if req.NewBody == "" {
		return wire.NewInvalidArgumentError("new_body: required")
	}

	e.locks.lock(req.MessageId)
	defer e.locks.unlock(req.MessageId)

	m, wErr := e.find(ctx, req.MessageId)
	if wErr != nil || m == nil {
		return wErr
	}
	if m.Deleted {
		return wire.NewUnauthorizedError("message is deleted")
	}
	if identity != m.Sender {
		return wire.NewUnauthorizedError("only the sender may edit")
	}

	m.Body = req.NewBody
	m.Edited = true
	m.EditTime = time.Now().Unix()

	if wErr := e.save(ctx, m); wErr != nil {
		return wErr
	}

	e.fanout.Broadcast(ConversationKey(m.Sender, m.Receiver), &wire.ServerMsg{MessageUpdated: m})
	return nil
}

// Delete soft-deletes a message: the row stays, the body is replaced by
// the fixed notice. Deleting an already deleted message is a no-op.
func (e *Engine) Delete(ctx context.Context, identity string, req *wire.DeleteMessageReq) *wire.Error {
	e.locks.lock(req.MessageId)
	defer e.locks.unlock(req.MessageId)

	m, wErr := e.find(ctx, req.MessageId)
	if wErr != nil || m == nil {
		return wErr
	}
	if m.Deleted {
		return nil
	}
	if !m.IsParticipant(identity) {
		return wire.NewUnauthorizedError("only sender or receiver may delete")
	}

	m.Deleted = true
	m.DeletedBy = identity
	m.Body = wire.DeletedNotice

	if wErr := e.save(ctx, m); wErr != nil {
		return wErr
	}

	e.fanout.Broadcast(ConversationKey(m.Sender, m.Receiver), &wire.ServerMsg{MessageUpdated: m})
	return nil
}

// Clear bulk-deletes every message between identity and the peer and
// broadcasts the result to the pair's group.
func (e *Engine) Clear(ctx context.Context, identity string, req *wire.ClearChatReq) *wire.Error {
	if req.Peer == "" {
		return wire.NewInvalidArgumentError("peer: required")
	}

	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()
	deleted, err := e.messages.BulkDeleteBetween(ctx, identity, req.Peer)
	if err != nil {
		glog.Errorf("Clear(): bulk delete error: %v", err)
		return wire.NewInternalError(err.Error())
	}
	glog.V(5).Infof("Clear(): %s and %s, deleted: %d", identity, req.Peer, deleted)

	e.fanout.Broadcast(ConversationKey(identity, req.Peer), &wire.ServerMsg{
		Cleared: &wire.ClearedEvent{IdentityA: identity, IdentityB: req.Peer},
	})
	return nil
}

// History returns the conversation between identity and the peer,
// ordered by create time.
func (e *Engine) History(ctx context.Context, identity, with string) ([]*wire.Message, *wire.Error) {
	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()
	out, err := e.messages.FindMessagesBetween(ctx, identity, with)
	if err != nil {
		glog.Errorf("History(): query error: %v", err)
		return nil, wire.NewInternalError(err.Error())
	}
	return out, nil
}

func (e *Engine) find(ctx context.Context, id string) (*wire.Message, *wire.Error) {
	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()
	m, err := e.messages.FindMessageById(ctx, id)
	if err != nil {
		glog.Errorf("find message error, id: %s, err: %v", id, err)
		return nil, wire.NewInternalError(err.Error())
	}
	return m, nil
}

func (e *Engine) save(ctx context.Context, m *wire.Message) *wire.Error {
	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()
	if err := e.messages.SaveMessage(ctx, m); err != nil {
		glog.Errorf("save message error, id: %s, err: %v", m.Id, err)
		return wire.NewInternalError(err.Error())
	}
	return nil
}
