package ws

import (
	"sort"
	"sync"
)

// Registry is the source of truth for which identities have live
// connections. An identity is online iff at least one live connection is
// currently associated with it: presence is a set per identity, never a
// single last-writer-wins handle. All mutation happens under one lock;
// side effects (presence broadcast, last-seen write-through) belong to
// the hub.
type Registry struct {
	sync.RWMutex
	conns      map[string]*Handler            // sid -> handler, every live connection
	byIdentity map[string]map[string]*Handler // identity -> sid -> handler, associated only
}

func NewRegistry() *Registry {
	return &Registry{
		conns:      make(map[string]*Handler),
		byIdentity: make(map[string]map[string]*Handler),
	}
}

// Track records a live connection. Called on upgrade, before any login.
func (r *Registry) Track(h *Handler) {
	r.Lock()
	r.conns[h.session.Sid] = h
	r.Unlock()
}

// Associate binds the connection to identity.
func (r *Registry) Associate(identity string, h *Handler) {
	r.Lock()
	defer r.Unlock()

	m := r.byIdentity[identity]
	if m == nil {
		m = make(map[string]*Handler)
		r.byIdentity[identity] = m
	}
	m[h.session.Sid] = h
}

// Disassociate removes the connection from whichever identity it was
// mapped to. Returns the affected identity and whether the identity
// still has other associated connections.
func (r *Registry) Disassociate(h *Handler) (identity string, stillOnline bool, ok bool) {
	r.Lock()
	defer r.Unlock()

	sid := h.session.Sid
	for id, m := range r.byIdentity {
		if _, found := m[sid]; found {
			delete(m, sid)
			if len(m) == 0 {
				delete(r.byIdentity, id)
			}
			return id, len(m) > 0, true
		}
	}
	return "", false, false
}

// ExplicitLogout removes every association for identity regardless of
// connection handle and returns the affected handlers.
func (r *Registry) ExplicitLogout(identity string) []*Handler {
	r.Lock()
	defer r.Unlock()

	m := r.byIdentity[identity]
	if len(m) == 0 {
		return nil
	}
	out := make([]*Handler, 0, len(m))
	for _, h := range m {
		out = append(out, h)
	}
	delete(r.byIdentity, identity)
	return out
}

// Untrack drops the connection entirely. Returns the identity it was
// associated with, if any.
func (r *Registry) Untrack(h *Handler) (identity string, wasAssociated bool) {
	identity, _, wasAssociated = r.Disassociate(h)
	r.Lock()
	delete(r.conns, h.session.Sid)
	r.Unlock()
	return identity, wasAssociated
}

func (r *Registry) IsOnline(identity string) bool {
	r.RLock()
	defer r.RUnlock()
	return len(r.byIdentity[identity]) > 0
}

// OnlineIdentities returns the sorted set of online identities.
func (r *Registry) OnlineIdentities() []string {
	r.RLock()
	out := make([]string, 0, len(r.byIdentity))
	for id := range r.byIdentity {
		out = append(out, id)
	}
	r.RUnlock()

	sort.Strings(out)
	return out
}

// HandlersOf returns the connections currently associated with identity.
func (r *Registry) HandlersOf(identity string) []*Handler {
	r.RLock()
	defer r.RUnlock()

	var out []*Handler
	for _, h := range r.byIdentity[identity] {
		out = append(out, h)
	}
	return out
}

// AllHandlers snapshots every live connection, associated or not.
func (r *Registry) AllHandlers() []*Handler {
	r.RLock()
	defer r.RUnlock()

	out := make([]*Handler, 0, len(r.conns))
	for _, h := range r.conns {
		out = append(out, h)
	}
	return out
}

func (r *Registry) closeAll() {
	for _, h := range r.AllHandlers() {
		h.close(ServerStop)
	}
}
