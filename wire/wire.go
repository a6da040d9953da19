package wire

// DeletedNotice replaces the body of a soft-deleted message.
const DeletedNotice = "This message was deleted"

// Reaction is one user's emoji reaction on a message. A user has at most
// one reaction per message.
type Reaction struct {
	Identity string `json:"identity"`
	Emoji    string `json:"emoji"`
}

// Message is the persisted record of one chat message between two users.
// Sender and Receiver never change after creation. Delete is a soft
// overlay: the row stays, Deleted flips and Body becomes DeletedNotice.
type Message struct {
	Id         string     `json:"id"`
	Sender     string     `json:"sender"`
	Receiver   string     `json:"receiver"`
	Body       string     `json:"body"`
	Tag        string     `json:"tag,omitempty"`
	CreateTime int64      `json:"create_time"`
	Read       bool       `json:"read"`
	Reactions  []Reaction `json:"reactions,omitempty"`
	Edited     bool       `json:"edited,omitempty"`
	EditTime   int64      `json:"edit_time,omitempty"`
	Deleted    bool       `json:"deleted,omitempty"`
	DeletedBy  string     `json:"deleted_by,omitempty"`
}

// ReactionOf returns the index of identity's reaction, or -1.
func (m *Message) ReactionOf(identity string) int {
	for i, r := range m.Reactions {
		if r.Identity == identity {
			return i
		}
	}
	return -1
}

// IsParticipant reports whether identity is the sender or the receiver.
func (m *Message) IsParticipant(identity string) bool {
	return identity == m.Sender || identity == m.Receiver
}

// User is the persisted identity record. LastSeen is a unix timestamp;
// zero means the user is online right now.
type User struct {
	Identity string `json:"identity"`
	LastSeen int64  `json:"last_seen,omitempty"`
}

// Session describes one live websocket connection.
type Session struct {
	Sid        string `json:"sid,omitempty"`
	Identity   string `json:"identity,omitempty"`
	CreateTime int64  `json:"create_time,omitempty"`
	Ip         string `json:"ip,omitempty"`
}
