package securechat

import "time"

// avatarGap is the pause after which a sender's next message starts a new group.
const avatarGap = time.Minute

// LayoutItem is a message with its rendering hints.
type LayoutItem struct {
	Message       Message
	DateSeparator bool // a day divider precedes the message
	ShowAvatar    bool // the message closes a group from its sender
}

// Layout computes date separators and avatar placement for msgs, with
// calendar days taken in loc (time.Local when nil).
func Layout(msgs []Message, loc *time.Location) []LayoutItem {
	if loc == nil {
		loc = time.Local
	}
	items := make([]LayoutItem, len(msgs))
	for i, m := range msgs {
		items[i].Message = m
		items[i].DateSeparator = i == 0 || !sameDay(msgs[i-1].Timestamp, m.Timestamp, loc)
		if i == len(msgs)-1 {
			items[i].ShowAvatar = true
			continue
		}
		next := msgs[i+1]
		items[i].ShowAvatar = next.Sender.ID != m.Sender.ID || next.Timestamp.Sub(m.Timestamp) > avatarGap
	}
	return items
}

func sameDay(a, b time.Time, loc *time.Location) bool {
	ay, am, ad := a.In(loc).Date()
	by, bm, bd := b.In(loc).Date()
	return ay == by && am == bm && ad == bd
}
