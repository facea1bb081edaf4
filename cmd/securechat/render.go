package main

import (
	"fmt"
	"html"
	"io"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"

	"github.com/vovakirdan/securechat-sdk-go/securechat"
)

// Message content is user supplied; only plain text reaches the terminal.
var textPolicy = bluemonday.StrictPolicy()

func plain(s string) string {
	s = html.UnescapeString(textPolicy.Sanitize(s))
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return ' '
		}
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, s)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func renderRoomLine(w io.Writer, r securechat.Room, me securechat.User) {
	unread := ""
	if r.UnreadCount > 0 {
		unread = fmt.Sprintf(" (%d)", r.UnreadCount)
	}
	when := ""
	if !r.LastActivity().IsZero() {
		when = r.LastActivity().Local().Format("Jan 2 15:04")
	}
	fmt.Fprintf(w, "%6s  %-24s %-12s %s%s\n",
		r.ID, truncate(plain(r.DisplayName(me.ID)), 24), when,
		truncate(plain(securechat.Preview(r, me)), 48), unread)
}

func renderHistory(w io.Writer, msgs []securechat.Message, me securechat.User) {
	for _, it := range securechat.Layout(msgs, time.Local) {
		if it.DateSeparator {
			fmt.Fprintf(w, "──── %s ────\n", it.Message.Timestamp.Local().Format("Monday, Jan 2 2006"))
		}
		renderMessage(w, it.Message, me)
	}
}

func renderMessage(w io.Writer, m securechat.Message, me securechat.User) {
	who := plain(m.Sender.Name())
	status := ""
	if m.Sender.ID == me.ID {
		who = "you"
		if m.IsRead {
			status = " ✓✓"
		} else {
			status = " ✓"
		}
	}
	fmt.Fprintf(w, "[%s] %s: %s%s\n", m.Timestamp.Local().Format("15:04"), who, plain(m.Content), status)
}

func renderState(w io.Writer, label string, ev securechat.StateEvent) {
	switch ev.NewState {
	case securechat.StateOpen:
		fmt.Fprintf(w, "* %s: online\n", label)
	case securechat.StateConnecting:
		fmt.Fprintf(w, "* %s: connecting…\n", label)
	case securechat.StateClosed:
		if ev.Code == securechat.StatusNormalClosure {
			fmt.Fprintf(w, "* %s: closed\n", label)
			return
		}
		fmt.Fprintf(w, "* %s: offline, retrying\n", label)
	}
}
