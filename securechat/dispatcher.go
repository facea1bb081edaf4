package securechat

// Dispatcher is an EventHandler built from optional callbacks. Events without
// a registered callback are ignored.
type Dispatcher struct {
	onMessage     func(MessageEvent)
	onTyping      func(TypingEvent)
	onReadReceipt func(ReadReceiptEvent)
	onPresence    func(PresenceEvent)
	onNewMessage  func(NewMessageEvent)
}

func (d *Dispatcher) SetOnMessage(fn func(MessageEvent))         { d.onMessage = fn }
func (d *Dispatcher) SetOnTyping(fn func(TypingEvent))           { d.onTyping = fn }
func (d *Dispatcher) SetOnReadReceipt(fn func(ReadReceiptEvent)) { d.onReadReceipt = fn }
func (d *Dispatcher) SetOnPresence(fn func(PresenceEvent))       { d.onPresence = fn }
func (d *Dispatcher) SetOnNewMessage(fn func(NewMessageEvent))   { d.onNewMessage = fn }

func (d *Dispatcher) HandleMessage(ev MessageEvent) {
	if d.onMessage != nil {
		d.onMessage(ev)
	}
}

func (d *Dispatcher) HandleTyping(ev TypingEvent) {
	if d.onTyping != nil {
		d.onTyping(ev)
	}
}

func (d *Dispatcher) HandleReadReceipt(ev ReadReceiptEvent) {
	if d.onReadReceipt != nil {
		d.onReadReceipt(ev)
	}
}

func (d *Dispatcher) HandlePresence(ev PresenceEvent) {
	if d.onPresence != nil {
		d.onPresence(ev)
	}
}

func (d *Dispatcher) HandleNewMessage(ev NewMessageEvent) {
	if d.onNewMessage != nil {
		d.onNewMessage(ev)
	}
}

// Fanout forwards every event to each handler in order. It lets a channel,
// which holds a single handler, feed a state holder and an observer.
type Fanout []EventHandler

func (f Fanout) HandleMessage(ev MessageEvent) {
	for _, h := range f {
		h.HandleMessage(ev)
	}
}

func (f Fanout) HandleTyping(ev TypingEvent) {
	for _, h := range f {
		h.HandleTyping(ev)
	}
}

func (f Fanout) HandleReadReceipt(ev ReadReceiptEvent) {
	for _, h := range f {
		h.HandleReadReceipt(ev)
	}
}

func (f Fanout) HandlePresence(ev PresenceEvent) {
	for _, h := range f {
		h.HandlePresence(ev)
	}
}

func (f Fanout) HandleNewMessage(ev NewMessageEvent) {
	for _, h := range f {
		h.HandleNewMessage(ev)
	}
}
