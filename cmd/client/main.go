// Command client is a small interactive terminal client for the chat
// server. It speaks the record protocol over a websocket and maps slash
// commands onto it.
package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/gookit/color"
	"github.com/gorilla/websocket"
	"github.com/kelseyhightower/envconfig"
	"github.com/olekukonko/tablewriter"

	"groupchat/domain"
)

type Config struct {
	ServerURL string `envconfig:"SERVER_URL" default:"ws://localhost:6969/ws"`
	// COLOURS enables colorized output for better readability
	Colours bool `envconfig:"COLOURS" default:"true"`
}

func main() {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(2)
	}

	conn, _, err := websocket.DefaultDialer.Dial(cfg.ServerURL, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "connection to %s failed: %v\n", cfg.ServerURL, err)
		os.Exit(1)
	}
	defer conn.Close()

	fmt.Printf("Connected to %s. Type /help for commands.\n", cfg.ServerURL)

	done := make(chan struct{})
	go receive(conn, cfg.Colours, done)

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		rec, quit, ok := parse(line)
		if quit {
			break
		}
		if !ok {
			continue
		}

		if err := conn.WriteJSON(rec); err != nil {
			fmt.Fprintf(os.Stderr, "send failed: %v\n", err)
			break
		}
	}

	_ = conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	<-done
}

// parse maps one input line onto an outbound record. The second return
// value signals /quit, the third whether a record should be sent.
func parse(line string) (domain.Record, bool, bool) {
	if !strings.HasPrefix(line, "/") {
		return domain.Record{Kind: domain.KindMessage, Text: line}, false, true
	}

	fields := strings.Fields(line)
	cmd := fields[0]
	args := fields[1:]

	switch cmd {
	case "/quit", "/exit":
		return domain.Record{}, true, false
	case "/help":
		printHelp()
		return domain.Record{}, false, false
	case "/register", "/login":
		if len(args) != 2 {
			fmt.Printf("usage: %s <username> <password>\n", cmd)
			return domain.Record{}, false, false
		}
		kind := domain.KindRegister
		if cmd == "/login" {
			kind = domain.KindLogin
		}
		return domain.Record{Kind: kind, Username: args[0], Password: args[1]}, false, true
	case "/logout":
		return domain.Record{Kind: domain.KindLogout}, false, true
	case "/create", "/join":
		if len(args) != 2 {
			fmt.Printf("usage: %s <group> <password>\n", cmd)
			return domain.Record{}, false, false
		}
		kind := domain.KindCreateGroup
		if cmd == "/join" {
			kind = domain.KindEnterGroup
		}
		return domain.Record{Kind: kind, Group: args[0], Password: args[1]}, false, true
	case "/leave":
		return domain.Record{Kind: domain.KindLeaveGroup}, false, true
	case "/delete":
		if len(args) != 1 {
			fmt.Println("usage: /delete <group>")
			return domain.Record{}, false, false
		}
		return domain.Record{Kind: domain.KindDeleteGroup, Group: args[0]}, false, true
	case "/dm":
		if len(args) < 2 {
			fmt.Println("usage: /dm <username> <message>")
			return domain.Record{}, false, false
		}
		text := strings.TrimSpace(strings.TrimPrefix(line, "/dm "+args[0]))
		return domain.Record{Kind: domain.KindDirectMessage, Username: args[0], Text: text}, false, true
	case "/groups":
		return domain.Record{Kind: domain.KindListGroups}, false, true
	case "/members":
		return domain.Record{Kind: domain.KindListMembers}, false, true
	default:
		fmt.Printf("unknown command %s, type /help\n", cmd)
		return domain.Record{}, false, false
	}
}

// receive prints every inbound record until the connection closes.
func receive(conn *websocket.Conn, colours bool, done chan<- struct{}) {
	defer close(done)

	for {
		var rec domain.Record
		if err := conn.ReadJSON(&rec); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure) {
				fmt.Fprintf(os.Stderr, "connection lost: %v\n", err)
			}
			return
		}
		printRecord(rec, colours)
	}
}

func printRecord(rec domain.Record, colours bool) {
	var line string
	switch rec.Kind {
	case domain.KindSuccess:
		if rec.Text == "" {
			return // silent ack
		}
		line = rec.Text
		if colours {
			line = color.New(color.FgGreen).Render(line)
		}
	case domain.KindError:
		line = rec.Text
		if colours {
			line = color.New(color.FgRed).Render(line)
		}
	case domain.KindNotification:
		line = rec.Text
		if colours {
			line = color.New(color.FgYellow).Render(line)
		}
	case domain.KindMessage:
		line = fmt.Sprintf("[%s] %s: %s",
			rec.Timestamp.Local().Format("15:04"), rec.Username, rec.Text)
		if colours {
			line = color.New(color.FgCyan).Render(line)
		}
	case domain.KindDirectMessage:
		line = fmt.Sprintf("[%s] (dm) %s: %s",
			rec.Timestamp.Local().Format("15:04"), rec.Username, rec.Text)
		if colours {
			line = color.New(color.FgMagenta).Render(line)
		}
	default:
		line = fmt.Sprintf("%s: %s", rec.Kind, rec.Text)
	}
	fmt.Println(line)
}

func printHelp() {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Command", "Description"})
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")

	table.AppendBulk([][]string{
		{"/register <user> <pass>", "Create an account"},
		{"/login <user> <pass>", "Log in"},
		{"/logout", "Log out"},
		{"/create <group> <pass>", "Create a group"},
		{"/join <group> <pass>", "Join a group (leaves the current one)"},
		{"/leave", "Leave the current group"},
		{"/delete <group>", "Delete a group you created"},
		{"/groups", "List all groups"},
		{"/members", "List members of the current group"},
		{"/dm <user> <message>", "Send a direct message"},
		{"<text>", "Send a message to the current group"},
		{"/quit", "Exit"},
	})
	table.Render()
}
