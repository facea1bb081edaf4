package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/vovakirdan/securechat-sdk-go/securechat"
	"github.com/vovakirdan/securechat-sdk-go/securechat/rest"
)

var chatCmd = &cobra.Command{
	Use:   "chat <room-id>",
	Short: "Join a room interactively; type lines to send, /quit to leave",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := rest.ParseID(args[0])
		if err != nil {
			return err
		}
		ctx, stop := signalContext()
		defer stop()

		reqCtx, cancel := requestContext()
		me, err := restore(reqCtx)
		cancel()
		if err != nil {
			return err
		}

		reqCtx, cancel = requestContext()
		view, err := app.OpenRoom(reqCtx, id)
		cancel()
		if err != nil {
			return err
		}
		defer view.Close()

		out := &syncWriter{w: cmd.OutOrStdout()}
		fmt.Fprintf(out, "── %s ──\n", plain(view.Room.DisplayName(me.ID)))
		history := view.Reconciler.Messages()
		renderHistory(out, history, me)

		printed := make(map[securechat.ID]bool, len(history))
		for _, m := range history {
			printed[m.ID] = true
		}
		var mu sync.Mutex

		var d securechat.Dispatcher
		d.SetOnMessage(func(ev securechat.MessageEvent) {
			mu.Lock()
			seen := printed[ev.ID]
			printed[ev.ID] = true
			mu.Unlock()
			if !seen {
				renderMessage(out, ev.Message, me)
			}
		})
		d.SetOnTyping(func(ev securechat.TypingEvent) {
			if ev.IsTyping && ev.UserID != me.ID {
				fmt.Fprintf(out, "* %s is typing…\n", plain(ev.Username))
			}
		})
		d.SetOnReadReceipt(func(ev securechat.ReadReceiptEvent) {
			if ev.UserID != me.ID {
				fmt.Fprintln(out, "* seen")
			}
		})
		d.SetOnPresence(func(ev securechat.PresenceEvent) {
			if ev.UserID == me.ID {
				return
			}
			status := "offline"
			if ev.IsOnline {
				status = "online"
			}
			fmt.Fprintf(out, "* user %s is %s\n", ev.UserID, status)
		})
		view.OnEvent(&d)
		view.OnStateChanged(func(ev securechat.StateEvent) { renderState(out, "room", ev) })

		lines := make(chan string)
		go readLines(os.Stdin, lines)
		for {
			select {
			case <-ctx.Done():
				return nil
			case line, ok := <-lines:
				if !ok || line == "/quit" {
					return nil
				}
				if strings.TrimSpace(line) == "" {
					continue
				}
				sendCtx, cancel := requestContext()
				err := submit(sendCtx, view.Reconciler, line)
				cancel()
				if err != nil {
					fmt.Fprintf(out, "! not sent: %v\n", err)
				}
			}
		}
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow new messages across all rooms",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signalContext()
		defer stop()

		reqCtx, cancel := requestContext()
		me, err := restore(reqCtx)
		cancel()
		if err != nil {
			return err
		}

		reqCtx, cancel = requestContext()
		sidebar, err := app.OpenSidebar(reqCtx)
		cancel()
		if err != nil {
			return err
		}
		defer sidebar.Close()

		out := &syncWriter{w: cmd.OutOrStdout()}
		for _, r := range sidebar.Rooms.Rooms() {
			renderRoomLine(out, r, me)
		}

		var d securechat.Dispatcher
		d.SetOnNewMessage(func(ev securechat.NewMessageEvent) {
			room, ok := sidebar.Rooms.Room(ev.RoomID)
			title := ev.RoomID.String()
			unread := 0
			if ok {
				title = room.DisplayName(me.ID)
				unread = room.UnreadCount
			}
			fmt.Fprintf(out, "[%s] %s / %s: %s (%d unread)\n",
				ev.Message.Timestamp.Local().Format("15:04"), plain(title),
				plain(ev.Message.Sender), plain(ev.Message.Content), unread)
		})
		sidebar.OnEvent(&d)
		sidebar.OnStateChanged(func(ev securechat.StateEvent) { renderState(out, "notifications", ev) })

		<-ctx.Done()
		return nil
	},
}

// composer is the part of a Reconciler the input loop drives.
type composer interface {
	InputChanged()
	Send(ctx context.Context, content string) (bool, error)
}

// submit announces typing for a line read from the terminal, then sends it.
// Send clears the typing state again.
func submit(ctx context.Context, c composer, line string) error {
	c.InputChanged()
	viaChannel, err := c.Send(ctx, line)
	if err != nil {
		return err
	}
	if !viaChannel {
		log.Info().Msg("sent over REST while the room channel is down")
	}
	return nil
}

func readLines(r io.Reader, out chan<- string) {
	defer close(out)
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		out <- sc.Text()
	}
}

// syncWriter serializes output from channel callbacks and the input loop.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}
