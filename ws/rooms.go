package ws

import (
	"sync"

	"github.com/pairchat/pairchat/metrics"
	"github.com/pairchat/pairchat/wire"
)

// Rooms manages conversation broadcast groups keyed by the canonical
// conversation key. Membership is explicit: a connection only receives a
// conversation's events after joining its group. A connection may belong
// to any number of groups.
type Rooms struct {
	sync.RWMutex
	rooms map[string]map[string]*Handler // key -> sid -> handler
}

func NewRooms() *Rooms {
	return &Rooms{rooms: make(map[string]map[string]*Handler)}
}

func (r *Rooms) Join(key string, h *Handler) {
	r.Lock()
	defer r.Unlock()

	m := r.rooms[key]
	if m == nil {
		m = make(map[string]*Handler)
		r.rooms[key] = m
	}
	m[h.session.Sid] = h
}

// DropConn removes the connection from every group it joined.
func (r *Rooms) DropConn(h *Handler) {
	r.Lock()
	defer r.Unlock()

	sid := h.session.Sid
	for key, m := range r.rooms {
		delete(m, sid)
		if len(m) == 0 {
			delete(r.rooms, key)
		}
	}
}

// Broadcast delivers msg to every connection joined to the key's group.
func (r *Rooms) Broadcast(key string, msg *wire.ServerMsg) {
	r.BroadcastExcept(key, "", msg)
}

// BroadcastExcept delivers msg to the key's group, skipping the
// connection with the given sid.
func (r *Rooms) BroadcastExcept(key, exceptSid string, msg *wire.ServerMsg) {
	for _, h := range r.members(key) {
		if h.session.Sid == exceptSid {
			continue
		}
		h.appendDataChan(&SessionData{ServerMsg: msg})
	}
	metrics.Broadcasts.Inc()
}

func (r *Rooms) members(key string) []*Handler {
	r.RLock()
	defer r.RUnlock()

	m := r.rooms[key]
	if len(m) == 0 {
		return nil
	}
	out := make([]*Handler, 0, len(m))
	for _, h := range m {
		out = append(out, h)
	}
	return out
}
