package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/pairchat/pairchat/wire"
)

type SessionError int

const (
	ReadError  SessionError = 1
	WriteError SessionError = 2
	PingError  SessionError = 3
	BadRequest SessionError = 4
	ServerStop SessionError = 5
	KickedOff  SessionError = 6
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 3 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = 20 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 25 * time.Second

	// websocket max message size to read.
	readLimit = 4096
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The node runs behind a reverse proxy that owns origin policy.
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Handler manages one active connection. Its session is Unauthenticated
// until a login event binds an identity, Authenticated until logout or
// close, and Closed (terminal) after the transport drops. Each handler
// processes its events sequentially; different handlers run concurrently.
type Handler struct {
	sync.Mutex

	hub *Hub

	session *wire.Session
	conn    *websocket.Conn

	dataChan chan *SessionData
	limiter  *rate.Limiter

	closing bool
}

// SessionData is the data structure for `dataChan`.
type SessionData struct {
	Error     SessionError    `json:"error,omitempty"`
	ServerMsg *wire.ServerMsg `json:"resp,omitempty"`
}

func (h *Handler) String() string {
	out, _ := json.Marshal(h.session)
	return string(out)
}

// identity returns the bound identity, or "" while unauthenticated.
func (h *Handler) identity() string {
	h.Lock()
	defer h.Unlock()
	return h.session.Identity
}

func (h *Handler) setIdentity(identity string) {
	h.Lock()
	h.session.Identity = identity
	h.Unlock()
}

func (h *Handler) close(cause SessionError) {
	h.Lock()
	if h.closing {
		h.Unlock()
		return
	}
	h.closing = true

	h.conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = h.conn.WriteMessage(websocket.CloseMessage, []byte{})
	h.conn.Close()

	close(h.dataChan)
	h.Unlock()

	if cause != ServerStop {
		glog.V(5).Infof("session closed, cause: %d, %s", cause, h)
		h.hub.disconnected(h)
	}
}

func (h *Handler) appendDataChan(v *SessionData) {
	h.Lock()
	defer h.Unlock()
	if !h.closing {
		h.dataChan <- v
	}
}

func (h *Handler) sendError(wErr *wire.Error) {
	wire.Intercept(wErr)
	h.appendDataChan(&SessionData{ServerMsg: &wire.ServerMsg{Error: wErr}})
}

func sendServerMsg(conn *websocket.Conn, msg *wire.ServerMsg) error {
	out, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, out)
}

func (h *Handler) recvLoop() {
	defer func() { glog.V(5).Infof("recvLoop(): exited, session: %s", h.String()) }()

	h.conn.SetReadLimit(readLimit)
	h.conn.SetReadDeadline(time.Now().Add(pongWait))
	h.conn.SetPongHandler(func(s string) error {
		h.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for !h.closing {
		msgType, msg, err := h.conn.ReadMessage()
		if err != nil {
			glog.V(5).Infof("recvLoop(): read error: %v", err)
			h.appendDataChan(&SessionData{Error: ReadError})
			return
		}

		glog.V(5).Infof("recvLoop(): incoming client message: %v", string(msg))

		if msgType != websocket.TextMessage {
			glog.Errorf("recvLoop(): unexpected message type: %d", msgType)
			h.sendError(wire.NewInvalidArgumentError("websocket only supports TextMessage"))
			h.appendDataChan(&SessionData{Error: BadRequest})
			return
		}

		if !h.limiter.Allow() {
			glog.Warningf("recvLoop(): rate limit exceeded, dropping event, session: %s", h.String())
			continue
		}

		req := wire.ClientMsg{}
		if err := json.Unmarshal(msg, &req); err != nil {
			glog.Errorf("recvLoop(): message error: msg: %s, err: %v", string(msg), err)
			h.sendError(wire.NewInvalidArgumentError(fmt.Sprintf("unmarshal error: %v", err)))
			h.appendDataChan(&SessionData{Error: BadRequest})
			return
		}

		h.dispatch(&req)
	}
}

// dispatch routes one client event. Failures never kill the connection:
// the error goes back to this session and the loop keeps serving.
func (h *Handler) dispatch(req *wire.ClientMsg) {
	ctx := context.Background()

	if v := req.Login; v != nil {
		if wErr := h.hub.login(h, v.Identity); wErr != nil {
			h.sendError(wErr)
		}
		return
	}

	id := h.identity()
	if id == "" {
		h.sendError(wire.NewUnauthorizedError("login required"))
		return
	}

	if req.Logout != nil {
		h.hub.logout(h)
	} else if v := req.JoinRoom; v != nil {
		if wErr := h.hub.joinRoom(h, id, v.With); wErr != nil {
			h.sendError(wErr)
		}
	} else if v := req.SendMessage; v != nil {
		_, wErr := h.hub.engine.Send(ctx, id, v)
		h.finishOp("send", wErr)
	} else if v := req.AddReaction; v != nil {
		h.finishOp("react", h.hub.engine.React(ctx, id, v))
	} else if v := req.MarkRead; v != nil {
		h.finishOp("mark_read", h.hub.engine.MarkRead(ctx, id, v))
	} else if v := req.Typing; v != nil {
		h.hub.typing(h, id, v)
	} else if v := req.ClearChat; v != nil {
		h.finishOp("clear", h.hub.engine.Clear(ctx, id, v))
	} else if v := req.DeleteMessage; v != nil {
		h.finishOp("delete", h.hub.engine.Delete(ctx, id, v))
	} else if v := req.EditMessage; v != nil {
		h.finishOp("edit", h.hub.engine.Edit(ctx, id, v))
	} else {
		glog.Errorf("recvLoop(): unsupported request: %s", h.String())
		h.sendError(wire.NewInvalidArgumentError("unsupported request"))
	}
}

func (h *Handler) finishOp(op string, wErr *wire.Error) {
	h.hub.observeMutation(op, wErr)
	if wErr != nil {
		h.sendError(wErr)
	}
}

func (h *Handler) sendLoop() {
	pingTicker := time.NewTicker(pingPeriod)
	defer func() {
		pingTicker.Stop()
		glog.V(5).Infof("sendLoop(): exited, session: %s", h.String())
	}()

	for {
		select {
		case v, ok := <-h.dataChan:
			if !ok { // chan was closed
				h.conn.Close()
				glog.V(5).Infof("sendLoop(): data chan closed, session: %s", h.String())
				return
			}

			if v.Error > 0 {
				h.close(v.Error)
				return
			} else if v.ServerMsg == nil {
				// should not happen.
				panic(fmt.Sprintf("sendLoop(), unknown data from dataChan: %#+v", v))
			}

			if err := sendServerMsg(h.conn, v.ServerMsg); err != nil {
				glog.Errorf("sendLoop(), error write message. session: %s, err: %v", h.String(), err)
				h.appendDataChan(&SessionData{Error: WriteError})
				return
			}
			if v.ServerMsg.Kickoff {
				h.close(KickedOff)
				return
			}
		case <-pingTicker.C:
			h.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := h.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				glog.Errorf("sendLoop(), error write ping message. session: %s, err: %v", h, err)
				h.appendDataChan(&SessionData{Error: PingError})
				return
			}
		}
	}
}
