package ws

import (
	"context"
	"net"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/golang/glog"
	"github.com/pborman/uuid"
	"golang.org/x/time/rate"

	"github.com/pairchat/pairchat/auth"
	"github.com/pairchat/pairchat/chat"
	"github.com/pairchat/pairchat/metrics"
	"github.com/pairchat/pairchat/store"
	"github.com/pairchat/pairchat/wire"
)

const (
	// lastSeenTimeout bounds the fire-and-forget last-seen write-through.
	lastSeenTimeout = 3 * time.Second

	failureQueue = 64
)

// Conf carries the tunables of the websocket surface.
type Conf struct {
	// SessionQuota caps concurrent connections per identity; the oldest
	// sessions are kicked off when it is exceeded. Zero disables the cap.
	SessionQuota int

	// EventRate/EventBurst bound client events per connection.
	EventRate  float64
	EventBurst int
}

type storeFailure struct {
	op  string
	err error
}

// Hub owns the presence registry, the conversation rooms, and the
// mutation engine, and serves websocket sessions.
type Hub struct {
	conf       *Conf
	authClient auth.Client
	registry   *Registry
	rooms      *Rooms
	engine     *chat.Engine
	users      store.UserStore

	failureC chan storeFailure
}

// NewHub creates a `Hub` wired to the given store.
func NewHub(authClient auth.Client, st store.Store, conf *Conf) *Hub {
	h := &Hub{
		conf:       conf,
		authClient: authClient,
		registry:   NewRegistry(),
		rooms:      NewRooms(),
		users:      st,
		failureC:   make(chan storeFailure, failureQueue),
	}
	h.engine = chat.NewEngine(st, h)
	return h
}

// Registry exposes the presence registry, mainly for health endpoints.
func (h *Hub) Registry() *Registry {
	return h.registry
}

// Run drains the persistence failure channel until ctx is cancelled,
// then closes every live session.
func (h *Hub) Run(ctx context.Context, stopDoneNotifyC chan<- struct{}) {
	for {
		select {
		case <-ctx.Done():
			glog.Infof("close connections ...")
			h.registry.closeAll()
			glog.Infof("close connections done")
			stopDoneNotifyC <- struct{}{}
			return
		case f := <-h.failureC:
			glog.Errorf("store failure, op: %s, err: %v", f.op, f.err)
			metrics.StoreFailures.WithLabelValues(f.op).Inc()
		}
	}
}

// ServeHTTP handles websocket requests from the peer.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := h.authClient.Verify(r); err != nil {
		glog.Errorf("ServeHTTP(): verify error: %v", err)
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	sess := &wire.Session{
		Sid:        strings.ReplaceAll(uuid.New(), "-", ""),
		CreateTime: time.Now().Unix(),
		Ip:         getRemoteIP(r),
	}

	// If the upgrade fails, then Upgrade replies to the client with an
	// HTTP error response.
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		glog.Errorf("ServeHTTP(): upgrader.Upgrade error: %v", err)
		return
	}

	handler := &Handler{
		hub:      h,
		session:  sess,
		conn:     conn,
		dataChan: make(chan *SessionData, 16),
		limiter:  rate.NewLimiter(rate.Limit(h.conf.EventRate), h.conf.EventBurst),
	}

	h.registry.Track(handler)
	metrics.SessionsOnline.Inc()

	go handler.recvLoop()
	go handler.sendLoop()
}

// login binds the connection to identity: Unauthenticated -> Authenticated.
// A second login on an authenticated connection is rejected.
func (h *Hub) login(hd *Handler, identity string) *wire.Error {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return wire.NewInvalidArgumentError("identity: required")
	}
	if cur := hd.identity(); cur != "" {
		if cur == identity {
			return nil
		}
		return wire.NewInvalidArgumentError("already logged in as " + cur)
	}

	hd.setIdentity(identity)
	h.registry.Associate(identity, hd)
	metrics.Logins.Inc()
	glog.Infof("login: %s", hd)

	h.enforceSessionQuota(identity)
	h.broadcastPresence()
	h.persistLastSeen(identity, nil)
	return nil
}

// logout removes every association for the connection's identity,
// regardless of connection handle. The connections stay open and may
// log in again.
func (h *Hub) logout(hd *Handler) {
	identity := hd.identity()
	if identity == "" {
		return
	}

	affected := h.registry.ExplicitLogout(identity)
	for _, other := range affected {
		other.setIdentity("")
	}
	glog.Infof("logout: %s, connections: %d", identity, len(affected))

	h.broadcastPresence()
	now := time.Now()
	h.persistLastSeen(identity, &now)
}

// disconnected finalizes a closed connection: Closed is terminal.
func (h *Hub) disconnected(hd *Handler) {
	identity, wasAssociated := h.registry.Untrack(hd)
	h.rooms.DropConn(hd)
	metrics.SessionsOnline.Dec()

	if !wasAssociated {
		return
	}
	hd.setIdentity("")
	h.broadcastPresence()

	// Only the identity's last connection going away marks it offline.
	if !h.registry.IsOnline(identity) {
		now := time.Now()
		h.persistLastSeen(identity, &now)
	}
}

func (h *Hub) enforceSessionQuota(identity string) {
	quota := h.conf.SessionQuota
	if quota <= 0 {
		return
	}
	conns := h.registry.HandlersOf(identity)
	extra := len(conns) - quota
	if extra <= 0 {
		return
	}

	sort.Slice(conns, func(i, j int) bool {
		return conns[i].session.CreateTime < conns[j].session.CreateTime
	})
	for _, old := range conns[:extra] {
		glog.V(5).Infof("kickoff session over quota: %s", old)
		old.appendDataChan(&SessionData{ServerMsg: &wire.ServerMsg{Kickoff: true}})
	}
}

// joinRoom subscribes the connection to the conversation group with
// `with` and replays the conversation history to this connection only.
func (h *Hub) joinRoom(hd *Handler, identity, with string) *wire.Error {
	if with == "" {
		return wire.NewInvalidArgumentError("with: required")
	}

	key := chat.ConversationKey(identity, with)
	h.rooms.Join(key, hd)
	glog.V(5).Infof("join room: %s, session: %s", key, hd)

	history, wErr := h.engine.History(context.Background(), identity, with)
	if wErr != nil {
		return wErr
	}
	if len(history) > 0 {
		hd.appendDataChan(&SessionData{ServerMsg: &wire.ServerMsg{History: history}})
	}
	return nil
}

// typing fans a keystroke indicator out to the pair's group, excluding
// the typing connection itself. Stateless, unacknowledged, not persisted.
func (h *Hub) typing(hd *Handler, identity string, req *wire.TypingReq) {
	if req.Receiver == "" {
		return
	}
	key := chat.ConversationKey(identity, req.Receiver)
	h.rooms.BroadcastExcept(key, hd.session.Sid, &wire.ServerMsg{
		Typing: &wire.TypingEvent{Sender: identity, IsTyping: req.IsTyping},
	})
}

// broadcastPresence pushes the current online-identity set to every live
// connection, associated or not.
func (h *Hub) broadcastPresence() {
	msg := &wire.ServerMsg{
		OnlineUsers: &wire.OnlineUsersEvent{Identities: h.registry.OnlineIdentities()},
	}
	for _, hd := range h.registry.AllHandlers() {
		hd.appendDataChan(&SessionData{ServerMsg: msg})
	}
}

// persistLastSeen writes the last-seen watermark through to the store
// without blocking the caller. One transparent retry, then the failure
// is reported.
func (h *Hub) persistLastSeen(identity string, at *time.Time) {
	go func() {
		var err error
		for attempt := 0; attempt < 2; attempt++ {
			ctx, cancel := context.WithTimeout(context.Background(), lastSeenTimeout)
			err = h.users.UpsertUserLastSeen(ctx, identity, at)
			cancel()
			if err == nil {
				return
			}
		}
		h.reportFailure("upsert_last_seen", err)
	}()
}

func (h *Hub) reportFailure(op string, err error) {
	select {
	case h.failureC <- storeFailure{op: op, err: err}:
	default:
		glog.Errorf("failure channel full, op: %s, err: %v", op, err)
	}
}

func (h *Hub) observeMutation(op string, wErr *wire.Error) {
	outcome := "ok"
	switch {
	case wErr == nil:
	case wErr.Code == wire.ErrorCodeInternal:
		outcome = "failed"
	default:
		outcome = "rejected"
	}
	metrics.Mutations.WithLabelValues(op, outcome).Inc()
}

// Broadcast implements `chat.Fanout`.
func (h *Hub) Broadcast(key string, msg *wire.ServerMsg) {
	h.rooms.Broadcast(key, msg)
}

// Notify implements `chat.Fanout`. A no-op when identity is offline.
func (h *Hub) Notify(identity string, msg *wire.ServerMsg) {
	for _, hd := range h.registry.HandlersOf(identity) {
		hd.appendDataChan(&SessionData{ServerMsg: msg})
	}
}

func getRemoteIP(r *http.Request) string {
	ip := r.Header.Get("X-REAL-IP")
	if ip == "" {
		if ips := r.Header.Get("X-FORWARDED-FOR"); ips != "" {
			slice := strings.Split(ips, ",")
			for _, x := range slice {
				if x != "" {
					ip = x
				}
			}
		}
	}
	if ip == "" {
		ip, _, _ = net.SplitHostPort(r.RemoteAddr)
	}

	return ip
}
