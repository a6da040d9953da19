package ws

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pairchat/pairchat/wire"
)

func newTestHandler(sid string) *Handler {
	return &Handler{
		session:  &wire.Session{Sid: sid, CreateTime: time.Now().Unix()},
		dataChan: make(chan *SessionData, 64),
	}
}

func drain(h *Handler) []*wire.ServerMsg {
	var out []*wire.ServerMsg
	for {
		select {
		case v := <-h.dataChan:
			out = append(out, v.ServerMsg)
		default:
			return out
		}
	}
}

func TestPresenceLifecycle(t *testing.T) {
	r := NewRegistry()
	c1 := newTestHandler("c1")
	c2 := newTestHandler("c2")
	r.Track(c1)
	r.Track(c2)

	assert.False(t, r.IsOnline("alice"))

	r.Associate("alice", c1)
	assert.True(t, r.IsOnline("alice"))

	// Second device: presence is a set, not a last-writer-wins handle.
	r.Associate("alice", c2)
	assert.True(t, r.IsOnline("alice"))
	assert.Len(t, r.HandlersOf("alice"), 2)

	identity, stillOnline, ok := r.Disassociate(c1)
	require.True(t, ok)
	assert.Equal(t, "alice", identity)
	assert.True(t, stillOnline)
	assert.True(t, r.IsOnline("alice"))

	identity, stillOnline, ok = r.Disassociate(c2)
	require.True(t, ok)
	assert.Equal(t, "alice", identity)
	assert.False(t, stillOnline)
	assert.False(t, r.IsOnline("alice"))
}

func TestDisassociateUnmappedConnection(t *testing.T) {
	r := NewRegistry()
	c := newTestHandler("c1")
	r.Track(c)

	_, _, ok := r.Disassociate(c)
	assert.False(t, ok)
}

func TestExplicitLogoutClearsEveryConnection(t *testing.T) {
	r := NewRegistry()
	c1 := newTestHandler("c1")
	c2 := newTestHandler("c2")
	r.Track(c1)
	r.Track(c2)
	r.Associate("alice", c1)
	r.Associate("alice", c2)

	affected := r.ExplicitLogout("alice")
	assert.Len(t, affected, 2)
	assert.False(t, r.IsOnline("alice"))

	// Connections stay tracked and may log in again.
	assert.Len(t, r.AllHandlers(), 2)
	assert.Empty(t, r.ExplicitLogout("alice"))
}

func TestOnlineIdentitiesSorted(t *testing.T) {
	r := NewRegistry()
	for _, id := range []string{"carol", "alice", "bob"} {
		h := newTestHandler("sid-" + id)
		r.Track(h)
		r.Associate(id, h)
	}
	assert.Equal(t, []string{"alice", "bob", "carol"}, r.OnlineIdentities())
}

func TestUntrackDisassociates(t *testing.T) {
	r := NewRegistry()
	c := newTestHandler("c1")
	r.Track(c)
	r.Associate("alice", c)

	identity, wasAssociated := r.Untrack(c)
	assert.True(t, wasAssociated)
	assert.Equal(t, "alice", identity)
	assert.False(t, r.IsOnline("alice"))
	assert.Empty(t, r.AllHandlers())
}
