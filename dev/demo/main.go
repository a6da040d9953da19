package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/pairchat/pairchat/wire"
)

// A terminal chat client for poking a running pairchat server.
//
// Commands:
//   /join <peer>      subscribe to the conversation with <peer>
//   /read <peer>      mark everything from <peer> as read
//   /react <id> <e>   toggle reaction <e> on message <id>
//   /edit <id> <body> edit message <id>
//   /del <id>         delete message <id>
//   /clear <peer>     clear the conversation with <peer>
//   <peer> <text>     send <text> to <peer>

var (
	flagURL      = flag.String("url", "ws://127.0.0.1:8000/ws", "server websocket url")
	flagIdentity = flag.String("identity", "", "identity to log in as")
)

func main() {
	flag.Parse()

	if *flagIdentity == "" {
		panic("--identity is required.")
	}

	conn, _, err := websocket.DefaultDialer.Dial(*flagURL, nil)
	if err != nil {
		panic(err)
	}
	defer conn.Close()

	send := func(msg *wire.ClientMsg) {
		out, err := json.Marshal(msg)
		if err != nil {
			panic(err)
		}
		if err := conn.WriteMessage(websocket.TextMessage, out); err != nil {
			panic(err)
		}
	}

	send(&wire.ClientMsg{Login: &wire.LoginReq{Identity: *flagIdentity}})

	go func() {
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				fmt.Printf("! connection closed: %v\n", err)
				os.Exit(0)
			}
			var msg wire.ServerMsg
			if err := json.Unmarshal(raw, &msg); err != nil {
				fmt.Printf("! bad server message: %v\n", err)
				continue
			}
			printServerMsg(&msg)
		}
	}()

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if msg := parseLine(line); msg != nil {
			send(msg)
		}
	}
}

func parseLine(line string) *wire.ClientMsg {
	fields := strings.Fields(line)
	cmd := fields[0]

	switch {
	case cmd == "/join" && len(fields) == 2:
		return &wire.ClientMsg{JoinRoom: &wire.JoinRoomReq{With: fields[1]}}
	case cmd == "/read" && len(fields) == 2:
		return &wire.ClientMsg{MarkRead: &wire.MarkReadReq{Peer: fields[1]}}
	case cmd == "/react" && len(fields) == 3:
		return &wire.ClientMsg{AddReaction: &wire.AddReactionReq{MessageId: fields[1], Emoji: fields[2]}}
	case cmd == "/edit" && len(fields) >= 3:
		return &wire.ClientMsg{EditMessage: &wire.EditMessageReq{
			MessageId: fields[1],
			NewBody:   strings.Join(fields[2:], " "),
		}}
	case cmd == "/del" && len(fields) == 2:
		return &wire.ClientMsg{DeleteMessage: &wire.DeleteMessageReq{MessageId: fields[1]}}
	case cmd == "/clear" && len(fields) == 2:
		return &wire.ClientMsg{ClearChat: &wire.ClearChatReq{Peer: fields[1]}}
	case !strings.HasPrefix(cmd, "/") && len(fields) >= 2:
		return &wire.ClientMsg{SendMessage: &wire.SendMessageReq{
			Receiver: cmd,
			Body:     strings.Join(fields[1:], " "),
		}}
	}

	fmt.Println("! unrecognized command")
	return nil
}

func printServerMsg(msg *wire.ServerMsg) {
	switch {
	case msg.OnlineUsers != nil:
		fmt.Printf("* online: %s\n", strings.Join(msg.OnlineUsers.Identities, ", "))
	case msg.NewMessage != nil:
		m := msg.NewMessage
		fmt.Printf("[%s] %s: %s\n", m.Id, m.Sender, m.Body)
	case msg.MessageUpdated != nil:
		m := msg.MessageUpdated
		fmt.Printf("[%s] updated, %s: %s %v\n", m.Id, m.Sender, m.Body, m.Reactions)
	case len(msg.History) > 0:
		for _, m := range msg.History {
			fmt.Printf("[%s] %s: %s\n", m.Id, m.Sender, m.Body)
		}
	case msg.Refresh != nil:
		fmt.Printf("* %s read your messages\n", msg.Refresh.From)
	case msg.Typing != nil:
		fmt.Printf("* %s is typing: %v\n", msg.Typing.Sender, msg.Typing.IsTyping)
	case msg.Cleared != nil:
		fmt.Printf("* conversation cleared: %s / %s\n", msg.Cleared.IdentityA, msg.Cleared.IdentityB)
	case msg.Error != nil:
		fmt.Printf("! error %d: %s\n", msg.Error.Code, strings.Join(msg.Error.Params, "; "))
	case msg.Kickoff:
		fmt.Println("! kicked off: session quota exceeded")
	}
}
