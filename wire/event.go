package wire

// Client requests. Exactly one field of ClientMsg is set per websocket
// text frame. Payloads carry identities only: the server derives the
// canonical conversation key itself and never trusts a client-supplied
// room name.

type LoginReq struct {
	Identity string `json:"identity"`
}

type LogoutReq struct {
	Identity string `json:"identity,omitempty"`
}

// JoinRoomReq subscribes the connection to the conversation with `With`.
type JoinRoomReq struct {
	With string `json:"with"`
}

type SendMessageReq struct {
	Receiver string `json:"receiver"`
	Body     string `json:"body"`
	Tag      string `json:"tag,omitempty"`
}

type AddReactionReq struct {
	MessageId string `json:"message_id"`
	Emoji     string `json:"emoji"`
}

// MarkReadReq marks every unread message from Peer to the calling user
// as read.
type MarkReadReq struct {
	Peer string `json:"peer"`
}

type TypingReq struct {
	Receiver string `json:"receiver"`
	IsTyping bool   `json:"is_typing"`
}

type ClearChatReq struct {
	Peer string `json:"peer"`
}

type DeleteMessageReq struct {
	MessageId string `json:"message_id"`
}

type EditMessageReq struct {
	MessageId string `json:"message_id"`
	NewBody   string `json:"new_body"`
}

type ClientMsg struct {
	Login         *LoginReq         `json:"login,omitempty"`
	Logout        *LogoutReq        `json:"logout,omitempty"`
	JoinRoom      *JoinRoomReq      `json:"join_room,omitempty"`
	SendMessage   *SendMessageReq   `json:"send_message,omitempty"`
	AddReaction   *AddReactionReq   `json:"add_reaction,omitempty"`
	MarkRead      *MarkReadReq      `json:"mark_read,omitempty"`
	Typing        *TypingReq        `json:"typing,omitempty"`
	ClearChat     *ClearChatReq     `json:"clear_chat,omitempty"`
	DeleteMessage *DeleteMessageReq `json:"delete_message,omitempty"`
	EditMessage   *EditMessageReq   `json:"edit_message,omitempty"`
}

// Server events.

type OnlineUsersEvent struct {
	Identities []string `json:"identities"`
}

type RefreshEvent struct {
	From string `json:"from"`
}

type TypingEvent struct {
	Sender   string `json:"sender"`
	IsTyping bool   `json:"is_typing"`
}

type ClearedEvent struct {
	IdentityA string `json:"identity_a"`
	IdentityB string `json:"identity_b"`
}

type ServerMsg struct {
	OnlineUsers    *OnlineUsersEvent `json:"online_users,omitempty"`
	NewMessage     *Message          `json:"new_message,omitempty"`
	MessageUpdated *Message          `json:"message_updated,omitempty"`
	History        []*Message        `json:"history,omitempty"`
	Refresh        *RefreshEvent     `json:"refresh,omitempty"`
	Typing         *TypingEvent      `json:"typing,omitempty"`
	Cleared        *ClearedEvent     `json:"cleared,omitempty"`
	Error          *Error            `json:"error,omitempty"`
	Kickoff        bool              `json:"kickoff,omitempty"`
}
