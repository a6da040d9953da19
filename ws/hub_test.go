package ws

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pairchat/pairchat/auth"
	"github.com/pairchat/pairchat/wire"
)

type lastSeenWrite struct {
	identity string
	at       *time.Time
}

// fakeStore satisfies store.Store with just enough behavior for hub
// lifecycle tests.
type fakeStore struct {
	mu      sync.Mutex
	upserts []lastSeenWrite
}

func (s *fakeStore) FindUser(ctx context.Context, identity string) (*wire.User, error) {
	return nil, nil
}

func (s *fakeStore) UpsertUserLastSeen(ctx context.Context, identity string, at *time.Time) error {
	s.mu.Lock()
	s.upserts = append(s.upserts, lastSeenWrite{identity: identity, at: at})
	s.mu.Unlock()
	return nil
}

func (s *fakeStore) InsertMessage(ctx context.Context, m *wire.Message) (string, error) {
	return "", nil
}

func (s *fakeStore) FindMessageById(ctx context.Context, id string) (*wire.Message, error) {
	return nil, nil
}

func (s *fakeStore) SaveMessage(ctx context.Context, m *wire.Message) error { return nil }

func (s *fakeStore) FindMessagesBetween(ctx context.Context, a, b string) ([]*wire.Message, error) {
	return nil, nil
}

func (s *fakeStore) BulkSetRead(ctx context.Context, reader, sender string) (int64, error) {
	return 0, nil
}

func (s *fakeStore) BulkDeleteBetween(ctx context.Context, a, b string) (int64, error) {
	return 0, nil
}

func (s *fakeStore) Ping(ctx context.Context) error { return nil }
func (s *fakeStore) Close() error                   { return nil }

func (s *fakeStore) lastUpsert() (lastSeenWrite, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.upserts) == 0 {
		return lastSeenWrite{}, false
	}
	return s.upserts[len(s.upserts)-1], true
}

func newTestHub(conf *Conf) (*Hub, *fakeStore) {
	st := &fakeStore{}
	return NewHub(&auth.MockClient{}, st, conf), st
}

func attach(hub *Hub, sid string) *Handler {
	h := newTestHandler(sid)
	h.hub = hub
	hub.registry.Track(h)
	return h
}

func lastPresence(msgs []*wire.ServerMsg) *wire.OnlineUsersEvent {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].OnlineUsers != nil {
			return msgs[i].OnlineUsers
		}
	}
	return nil
}

func TestLoginBroadcastsPresenceToEveryConnection(t *testing.T) {
	hub, st := newTestHub(&Conf{SessionQuota: 5})
	c1 := attach(hub, "c1")
	c2 := attach(hub, "c2")

	require.Nil(t, hub.login(c1, "alice"))

	// Every live connection gets the snapshot, associated or not.
	for _, h := range []*Handler{c1, c2} {
		p := lastPresence(drain(h))
		require.NotNil(t, p)
		assert.Equal(t, []string{"alice"}, p.Identities)
	}

	require.Nil(t, hub.login(c2, "bob"))
	p := lastPresence(drain(c1))
	require.NotNil(t, p)
	assert.Equal(t, []string{"alice", "bob"}, p.Identities)

	// Login clears the last-seen watermark: online right now.
	assert.Eventually(t, func() bool {
		w, ok := st.lastUpsert()
		return ok && w.identity == "bob" && w.at == nil
	}, time.Second, 10*time.Millisecond)
}

func TestLoginValidation(t *testing.T) {
	hub, _ := newTestHub(&Conf{})
	c := attach(hub, "c1")

	wErr := hub.login(c, "  ")
	require.NotNil(t, wErr)
	assert.Equal(t, wire.ErrorCodeInvalidArguments, wErr.Code)

	require.Nil(t, hub.login(c, "alice"))
	assert.Nil(t, hub.login(c, "alice"), "re-login with the same identity is idempotent")

	wErr = hub.login(c, "mallory")
	require.NotNil(t, wErr)
	assert.Equal(t, wire.ErrorCodeInvalidArguments, wErr.Code)
	assert.Equal(t, "alice", c.identity())
}

func TestLogoutClearsAssociationAndPersistsLastSeen(t *testing.T) {
	hub, st := newTestHub(&Conf{})
	c1 := attach(hub, "c1")
	c2 := attach(hub, "c2")
	require.Nil(t, hub.login(c1, "alice"))
	require.Nil(t, hub.login(c2, "alice"))

	hub.logout(c1)

	// Explicit logout detaches every connection of the identity.
	assert.Equal(t, "", c1.identity())
	assert.Equal(t, "", c2.identity())
	assert.False(t, hub.registry.IsOnline("alice"))

	p := lastPresence(drain(c2))
	require.NotNil(t, p)
	assert.Empty(t, p.Identities)

	assert.Eventually(t, func() bool {
		w, ok := st.lastUpsert()
		return ok && w.identity == "alice" && w.at != nil
	}, time.Second, 10*time.Millisecond)
}

func TestDisconnectedKeepsIdentityOnlineOnOtherDevice(t *testing.T) {
	hub, st := newTestHub(&Conf{})
	c1 := attach(hub, "c1")
	c2 := attach(hub, "c2")
	require.Nil(t, hub.login(c1, "alice"))
	require.Nil(t, hub.login(c2, "alice"))

	hub.disconnected(c1)
	assert.True(t, hub.registry.IsOnline("alice"))

	hub.disconnected(c2)
	assert.False(t, hub.registry.IsOnline("alice"))

	assert.Eventually(t, func() bool {
		w, ok := st.lastUpsert()
		return ok && w.identity == "alice" && w.at != nil
	}, time.Second, 10*time.Millisecond)
}

func TestSessionQuotaKicksOldest(t *testing.T) {
	hub, _ := newTestHub(&Conf{SessionQuota: 1})
	c1 := attach(hub, "c1")
	c2 := attach(hub, "c2")
	c1.session.CreateTime = 100
	c2.session.CreateTime = 200

	require.Nil(t, hub.login(c1, "alice"))
	require.Nil(t, hub.login(c2, "alice"))

	var kicked bool
	for _, msg := range drain(c1) {
		if msg.Kickoff {
			kicked = true
		}
	}
	assert.True(t, kicked, "oldest session gets the kickoff")

	for _, msg := range drain(c2) {
		assert.False(t, msg.Kickoff, "newest session stays")
	}
}

func TestTypingExcludesSenderConnection(t *testing.T) {
	hub, _ := newTestHub(&Conf{})
	alice := attach(hub, "ca")
	bob := attach(hub, "cb")
	require.Nil(t, hub.login(alice, "alice"))
	require.Nil(t, hub.login(bob, "bob"))
	require.Nil(t, hub.joinRoom(alice, "alice", "bob"))
	require.Nil(t, hub.joinRoom(bob, "bob", "alice"))
	drain(alice)
	drain(bob)

	hub.typing(alice, "alice", &wire.TypingReq{Receiver: "bob", IsTyping: true})

	assert.Empty(t, drain(alice))
	got := drain(bob)
	require.Len(t, got, 1)
	require.NotNil(t, got[0].Typing)
	assert.Equal(t, "alice", got[0].Typing.Sender)
	assert.True(t, got[0].Typing.IsTyping)
}

func TestNotifyOfflineIsNoOp(t *testing.T) {
	hub, _ := newTestHub(&Conf{})
	hub.Notify("ghost", &wire.ServerMsg{Refresh: &wire.RefreshEvent{From: "alice"}})

	alice := attach(hub, "ca")
	require.Nil(t, hub.login(alice, "alice"))
	drain(alice)

	hub.Notify("alice", &wire.ServerMsg{Refresh: &wire.RefreshEvent{From: "bob"}})
	got := drain(alice)
	require.Len(t, got, 1)
	require.NotNil(t, got[0].Refresh)
	assert.Equal(t, "bob", got[0].Refresh.From)
}
