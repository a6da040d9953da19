package ws

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pairchat/pairchat/chat"
	"github.com/pairchat/pairchat/wire"
)

func TestBroadcastReachesEitherKeyOrdering(t *testing.T) {
	rooms := NewRooms()
	a := newTestHandler("a")
	b := newTestHandler("b")

	// Both orderings of the pair resolve to the same group.
	rooms.Join(chat.ConversationKey("alice", "bob"), a)
	rooms.Join(chat.ConversationKey("bob", "alice"), b)

	msg := &wire.ServerMsg{NewMessage: &wire.Message{Body: "hi"}}
	rooms.Broadcast(chat.ConversationKey("alice", "bob"), msg)

	for _, h := range []*Handler{a, b} {
		got := drain(h)
		require.Len(t, got, 1)
		assert.Equal(t, msg, got[0])
	}
}

func TestBroadcastScopedToGroup(t *testing.T) {
	rooms := NewRooms()
	member := newTestHandler("m")
	outsider := newTestHandler("o")

	rooms.Join(chat.ConversationKey("alice", "bob"), member)
	rooms.Join(chat.ConversationKey("alice", "carol"), outsider)

	rooms.Broadcast(chat.ConversationKey("alice", "bob"), &wire.ServerMsg{})

	assert.Len(t, drain(member), 1)
	assert.Empty(t, drain(outsider))
}

func TestBroadcastExceptSkipsSender(t *testing.T) {
	rooms := NewRooms()
	sender := newTestHandler("s")
	peer := newTestHandler("p")

	key := chat.ConversationKey("alice", "bob")
	rooms.Join(key, sender)
	rooms.Join(key, peer)

	rooms.BroadcastExcept(key, "s", &wire.ServerMsg{
		Typing: &wire.TypingEvent{Sender: "alice", IsTyping: true},
	})

	assert.Empty(t, drain(sender))
	assert.Len(t, drain(peer), 1)
}

func TestDropConnLeavesEveryGroup(t *testing.T) {
	rooms := NewRooms()
	h := newTestHandler("h")
	k1 := chat.ConversationKey("alice", "bob")
	k2 := chat.ConversationKey("alice", "carol")
	rooms.Join(k1, h)
	rooms.Join(k2, h)

	rooms.DropConn(h)

	rooms.Broadcast(k1, &wire.ServerMsg{})
	rooms.Broadcast(k2, &wire.ServerMsg{})
	assert.Empty(t, drain(h))
}
