package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/matheus3301/chatsync/internal/api"
	"github.com/matheus3301/chatsync/internal/profile"
	"google.golang.org/protobuf/types/known/structpb"
)

func main() {
	profileFlag := flag.String("profile", "", "profile name (overrides config default)")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	flag.Parse()

	profileName := profile.Resolve(*profileFlag)
	if err := profile.ValidateName(profileName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	socketPath := profile.SocketPath(profileName)
	c, err := api.NewClient(socketPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: cannot connect to daemon for profile %q: %v\n", profileName, err)
		os.Exit(1)
	}
	defer func() { _ = c.Close() }()

	if args[0] == "watch" {
		cmdWatch(c, args[1:], *jsonFlag)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	jsonOut := *jsonFlag
	switch args[0] {
	case "start":
		need(args, 2, "start <user-id>")
		printStatus(call(ctx, c, api.MethodStart, map[string]any{"userId": args[1]}), jsonOut)
	case "stop":
		printStatus(call(ctx, c, api.MethodStop, nil), jsonOut)
	case "open":
		need(args, 2, "open <conversation-id>")
		printStatus(call(ctx, c, api.MethodSetActiveConversation, map[string]any{"conversationId": args[1]}), jsonOut)
	case "close":
		printStatus(call(ctx, c, api.MethodSetActiveConversation, map[string]any{"conversationId": ""}), jsonOut)
	case "reconnect":
		printStatus(call(ctx, c, api.MethodReconnect, nil), jsonOut)
	case "new":
		need(args, 2, "new <participant-id>...")
		ids := make([]any, 0, len(args)-1)
		for _, id := range args[1:] {
			ids = append(ids, id)
		}
		resp := call(ctx, c, api.MethodCreateConversation, map[string]any{"participantIds": ids})
		if jsonOut {
			outputJSON(resp.AsMap())
			return
		}
		fmt.Printf("Conversation: %s\n", str(resp, "id"))
	case "send":
		need(args, 3, "send <conversation-id> <text>")
		resp := call(ctx, c, api.MethodSendMessage, map[string]any{
			"conversationId": args[1],
			"text":           strings.Join(args[2:], " "),
		})
		if jsonOut {
			outputJSON(resp.AsMap())
			return
		}
		fmt.Printf("Queued message %s\n", str(resp, "id"))
	case "read":
		need(args, 2, "read <conversation-id>")
		resp := call(ctx, c, api.MethodMarkRead, map[string]any{"conversationId": args[1]})
		if jsonOut {
			outputJSON(resp.AsMap())
			return
		}
		fmt.Println("Marked read.")
	case "typing":
		need(args, 3, "typing <conversation-id> <on|off>")
		resp := call(ctx, c, api.MethodSetTyping, map[string]any{
			"conversationId": args[1],
			"isTyping":       args[2] == "on",
		})
		if jsonOut {
			outputJSON(resp.AsMap())
		}
	case "list":
		cmdList(ctx, c, jsonOut)
	case "messages":
		req := map[string]any{}
		if len(args) >= 2 {
			req["conversationId"] = args[1]
		}
		cmdMessages(ctx, c, req, jsonOut)
	case "status":
		if len(args) >= 2 {
			cmdConversationStatus(ctx, c, args[1], jsonOut)
			return
		}
		printStatus(call(ctx, c, api.MethodGetStatus, nil), jsonOut)
	case "outbox":
		cmdOutbox(ctx, c, jsonOut)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: chatsyncctl [--profile <name>] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  start <user-id>             Start syncing as user")
	fmt.Fprintln(os.Stderr, "  stop                        Stop syncing")
	fmt.Fprintln(os.Stderr, "  open <conversation-id>      Set the active conversation")
	fmt.Fprintln(os.Stderr, "  close                       Clear the active conversation")
	fmt.Fprintln(os.Stderr, "  new <participant-id>...     Create a conversation")
	fmt.Fprintln(os.Stderr, "  send <conversation-id> <text>")
	fmt.Fprintln(os.Stderr, "  read <conversation-id>      Mark a conversation read")
	fmt.Fprintln(os.Stderr, "  typing <conversation-id> <on|off>")
	fmt.Fprintln(os.Stderr, "  list                        List conversations")
	fmt.Fprintln(os.Stderr, "  messages [conversation-id]  List messages (default: active)")
	fmt.Fprintln(os.Stderr, "  status [conversation-id]    Daemon or conversation status")
	fmt.Fprintln(os.Stderr, "  outbox                      List queued operations")
	fmt.Fprintln(os.Stderr, "  reconnect                   Retry the remote now")
	fmt.Fprintln(os.Stderr, "  watch [namespace]           Stream events")
}

func need(args []string, n int, usage string) {
	if len(args) < n {
		fmt.Fprintf(os.Stderr, "usage: chatsyncctl %s\n", usage)
		os.Exit(1)
	}
}

func call(ctx context.Context, c *api.Client, method string, req map[string]any) *structpb.Struct {
	resp, err := c.Call(ctx, method, req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	return resp
}

func str(s *structpb.Struct, key string) string {
	return s.GetFields()[key].GetStringValue()
}

func num(s *structpb.Struct, key string) int64 {
	return int64(s.GetFields()[key].GetNumberValue())
}

func list(s *structpb.Struct, key string) []*structpb.Struct {
	var out []*structpb.Struct
	for _, v := range s.GetFields()[key].GetListValue().GetValues() {
		out = append(out, v.GetStructValue())
	}
	return out
}

func formatTime(ms int64) string {
	if ms == 0 {
		return "-"
	}
	return time.UnixMilli(ms).Format("2006-01-02 15:04:05")
}

func printStatus(resp *structpb.Struct, jsonOut bool) {
	if jsonOut {
		outputJSON(resp.AsMap())
		return
	}
	fmt.Printf("Profile: %s\n", str(resp, "profile"))
	fmt.Printf("State:   %s\n", str(resp, "state"))
	if user := str(resp, "userId"); user != "" {
		fmt.Printf("User:    %s\n", user)
	}
	if active := str(resp, "activeConversationId"); active != "" {
		fmt.Printf("Active:  %s\n", active)
	}
	fmt.Printf("Outbox:  %d queued (backoff stage %d)\n", num(resp, "queuedOps"), num(resp, "backoffStage"))
	fmt.Printf("Uptime:  %dms\n", num(resp, "uptimeMs"))
}

func cmdList(ctx context.Context, c *api.Client, jsonOut bool) {
	resp := call(ctx, c, api.MethodListConversations, nil)
	if jsonOut {
		outputJSON(resp.AsMap())
		return
	}
	convs := list(resp, "conversations")
	if len(convs) == 0 {
		fmt.Println("No conversations.")
		return
	}
	for _, conv := range convs {
		remote := str(conv, "remoteId")
		if remote == "" {
			remote = "(local)"
		}
		fmt.Printf("%-36s %-22s %3d unread  %s  %s\n",
			str(conv, "id"), remote, num(conv, "unreadCount"),
			formatTime(num(conv, "lastMessageTime")), str(conv, "lastMessageText"))
	}
}

func cmdMessages(ctx context.Context, c *api.Client, req map[string]any, jsonOut bool) {
	resp := call(ctx, c, api.MethodListMessages, req)
	if jsonOut {
		outputJSON(resp.AsMap())
		return
	}
	msgs := list(resp, "messages")
	if len(msgs) == 0 {
		fmt.Println("No messages.")
		return
	}
	for _, m := range msgs {
		state := str(m, "status")
		if m.GetFields()["pending"].GetBoolValue() {
			state = "pending"
		}
		at := num(m, "serverCreatedAt")
		if at == 0 {
			at = num(m, "createdAt")
		}
		fmt.Printf("%s  %-12s %-9s %s\n", formatTime(at), str(m, "senderId"), state, str(m, "text"))
	}
}

func cmdConversationStatus(ctx context.Context, c *api.Client, convID string, jsonOut bool) {
	resp := call(ctx, c, api.MethodGetConversationStatus, map[string]any{"conversationId": convID})
	if jsonOut {
		outputJSON(resp.AsMap())
		return
	}
	if resp.GetFields()["typing"].GetBoolValue() {
		fmt.Println("typing...")
		return
	}
	fmt.Println(str(resp, "text"))
}

func cmdOutbox(ctx context.Context, c *api.Client, jsonOut bool) {
	resp := call(ctx, c, api.MethodListOutbox, nil)
	if jsonOut {
		outputJSON(resp.AsMap())
		return
	}
	ops := list(resp, "ops")
	if len(ops) == 0 {
		fmt.Println("Outbox empty.")
		return
	}
	for _, op := range ops {
		fmt.Printf("#%-5d %-20s attempts=%d %s\n", num(op, "id"), str(op, "type"), num(op, "attemptCount"), str(op, "lastError"))
	}
}

func cmdWatch(c *api.Client, args []string, jsonOut bool) {
	namespace := ""
	if len(args) > 0 {
		namespace = args[0]
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	events, err := c.Watch(ctx, namespace)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	for {
		evt, err := events.Recv()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		if jsonOut {
			outputJSON(evt.AsMap())
			continue
		}
		payload, _ := json.Marshal(evt.GetFields()["payload"].AsInterface())
		fmt.Printf("%s %-24s %s\n", formatTime(num(evt, "timestamp")), str(evt, "kind"), payload)
	}
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "json encode error: %v\n", err)
	}
}
