package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"famlink/internal/chat"
	"famlink/internal/transport"
)

var roomsCmd = &cobra.Command{
	Use:   "rooms",
	Short: "List your chat rooms",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		if !a.auth.Authenticated() {
			return errors.New("not logged in; run: famlink login")
		}
		u, _ := a.auth.CurrentUser()
		svc := chat.NewService(a.api, transport.NewSocket(a.cfg.SocketURL, a.api.Token, a.log),
			u.ID, u.Name, a.auth.Authenticated, a.log)
		rooms, err := svc.Rooms(cmd.Context())
		if err != nil {
			return err
		}
		for _, r := range rooms {
			unread := ""
			if r.UnreadCount > 0 {
				unread = fmt.Sprintf(" (%d unread)", r.UnreadCount)
			}
			fmt.Printf("%6d  %-24s %s%s\n", r.ID, r.Name, r.Type, unread)
		}
		return nil
	},
}

var chatCmd = &cobra.Command{
	Use:   "chat <room-id>",
	Short: "Open a room and chat interactively",
	Long: `Opens a live chat session. Lines you type are sent to the room.

Commands inside the session:
  /older            load the previous page of history
  /edit <id> <txt>  edit one of your messages
  /del <id>         delete one of your messages
  /react <id> <e>   react with an emoji
  /quit             leave the room and exit`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		roomID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("bad room id %q", args[0])
		}

		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		if !a.auth.Authenticated() {
			return errors.New("not logged in; run: famlink login")
		}
		u, _ := a.auth.CurrentUser()

		sock := transport.NewSocket(a.cfg.SocketURL, a.api.Token, a.log)
		svc := chat.NewService(a.api, sock, u.ID, u.Name, a.auth.Authenticated, a.log)
		defer svc.Shutdown()

		ctx := cmd.Context()
		for {
			err := svc.Connect(ctx)
			if err == nil {
				break
			}
			if errors.Is(err, chat.ErrUnreachable) {
				fmt.Println("❌ Unable to connect after several attempts.")
				if !confirm("Retry?") {
					return err
				}
				if err := svc.Retry(ctx); err == nil {
					break
				}
				continue
			}
			return err
		}
		fmt.Println("✅ Connected")

		// Print messages as the reconciled list changes.
		seen := make(map[int64]bool)
		unsubMsgs := svc.State().OnMessages(func(msgs []chat.Message) {
			for _, m := range msgs {
				if seen[m.ID] {
					continue
				}
				seen[m.ID] = true
				printMessage(m)
			}
		})
		defer unsubMsgs()

		unsubTyping := svc.OnTypingText(func(text string) {
			if text != "" {
				fmt.Printf("  … %s\n", text)
			}
		})
		defer unsubTyping()

		if err := svc.OpenRoom(ctx, roomID); err != nil {
			return err
		}
		fmt.Printf("🚀 Room %d open. Type to chat, /quit to leave.\n", roomID)

		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			if handled, quit := runChatCommand(ctx, svc, line); quit {
				break
			} else if handled {
				continue
			}

			svc.InputActivity()
			if err := svc.Send(ctx, line, chat.TypeText, nil); err != nil {
				var sendErr *chat.SendError
				if errors.As(err, &sendErr) {
					fmt.Printf("❌ Not sent. Your text: %s\n", sendErr.Text)
					continue
				}
				return err
			}
			svc.StopTyping()
		}

		svc.LeaveRoom()
		return scanner.Err()
	},
}

func runChatCommand(ctx context.Context, svc *chat.Service, line string) (handled, quit bool) {
	if !strings.HasPrefix(line, "/") {
		return false, false
	}
	fields := strings.Fields(line)
	switch fields[0] {
	case "/quit":
		return true, true
	case "/older":
		if err := svc.LoadOlder(ctx); err != nil {
			fmt.Printf("❌ %v\n", err)
		}
	case "/edit":
		if len(fields) < 3 {
			fmt.Println("usage: /edit <id> <new text>")
			break
		}
		id, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			fmt.Printf("bad message id %q\n", fields[1])
			break
		}
		if err := svc.Edit(ctx, id, strings.Join(fields[2:], " ")); err != nil {
			fmt.Printf("❌ %v\n", err)
		}
	case "/del":
		if len(fields) != 2 {
			fmt.Println("usage: /del <id>")
			break
		}
		id, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			fmt.Printf("bad message id %q\n", fields[1])
			break
		}
		if !confirm("Delete this message?") {
			break
		}
		if err := svc.Delete(ctx, id); err != nil {
			fmt.Printf("❌ %v\n", err)
		}
	case "/react":
		if len(fields) != 3 {
			fmt.Println("usage: /react <id> <emoji>")
			break
		}
		id, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			fmt.Printf("bad message id %q\n", fields[1])
			break
		}
		if err := svc.React(ctx, id, fields[2]); err != nil {
			fmt.Printf("❌ %v\n", err)
		}
	default:
		fmt.Printf("unknown command %s\n", fields[0])
	}
	return true, false
}

func printMessage(m chat.Message) {
	marker := ""
	switch {
	case m.Failed:
		marker = " ⚠️ not sent"
	case m.Pending:
		marker = " …"
	case m.Edited:
		marker = " (edited)"
	}
	fmt.Printf("[%s] %s: %s%s\n", m.CreatedAt.Format("15:04"), m.UserName, m.Body, marker)
}

func init() {
	rootCmd.AddCommand(roomsCmd, chatCmd)
}
