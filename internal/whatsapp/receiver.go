package whatsapp

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"

	"github.com/whatsapp-automation/orchestrator/internal/domain"
	"github.com/whatsapp-automation/orchestrator/internal/transport"
)

// translate maps a whatsmeow event to a transport event. Connected is
// handled by the caller because it needs the client's identity.
func translate(evt any) (transport.Event, bool) {
	switch v := evt.(type) {
	case *events.LoggedOut:
		return transport.Event{Kind: transport.EventClosed, Reason: "logged out: " + v.Reason.String()}, true

	case *events.ConnectFailure:
		if v.Reason.IsLoggedOut() {
			return transport.Event{Kind: transport.EventClosed, Reason: "logged out: " + v.Reason.String()}, true
		}
		return transport.Event{Kind: transport.EventClosed, Recoverable: true, Reason: "connect failure: " + v.Reason.String()}, true

	case *events.Disconnected:
		return transport.Event{Kind: transport.EventClosed, Recoverable: true, Reason: "connection lost"}, true

	case *events.StreamReplaced:
		return transport.Event{Kind: transport.EventFault, Reason: "stream replaced by another device"}, true

	case *events.TemporaryBan:
		return transport.Event{Kind: transport.EventFault, Reason: fmt.Sprintf("temporary ban %s, expires in %v", v.Code.String(), v.Expire)}, true

	case *events.Message:
		msg, ok := inbound(v)
		if !ok {
			return transport.Event{}, false
		}
		return transport.Event{Kind: transport.EventMessage, Message: &msg}, true
	}
	return transport.Event{}, false
}

// inbound extracts a direct text message. Own messages, group chats and
// non-text payloads are skipped. Shared locations become "lat,lng" text.
func inbound(evt *events.Message) (domain.InboundMessage, bool) {
	if evt == nil || evt.Message == nil || evt.Info.IsFromMe || evt.Info.IsGroup {
		return domain.InboundMessage{}, false
	}
	text := messageText(evt.Message)
	if text == "" {
		return domain.InboundMessage{}, false
	}
	return domain.InboundMessage{
		ID:        evt.Info.ID,
		Contact:   evt.Info.Sender.User,
		Text:      text,
		Timestamp: evt.Info.Timestamp,
	}, true
}

func messageText(m *waE2E.Message) string {
	switch {
	case m.GetConversation() != "":
		return m.GetConversation()
	case m.GetExtendedTextMessage().GetText() != "":
		return m.GetExtendedTextMessage().GetText()
	case m.GetLocationMessage() != nil:
		loc := m.GetLocationMessage()
		return strconv.FormatFloat(loc.GetDegreesLatitude(), 'f', -1, 64) + "," +
			strconv.FormatFloat(loc.GetDegreesLongitude(), 'f', -1, 64)
	}
	return ""
}

func sanitizePhone(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func parseJID(phone string) (types.JID, error) {
	phone = sanitizePhone(phone)
	if phone == "" {
		return types.JID{}, fmt.Errorf("empty phone number")
	}
	return types.NewJID(phone, types.DefaultUserServer), nil
}

// pump buffers events without bound so the whatsmeow event handler never
// blocks on a slow consumer.
type pump struct {
	mu       sync.Mutex
	items    []transport.Event
	finished bool
	signal   chan struct{}
	out      chan transport.Event
	quit     chan struct{}
	stopOnce sync.Once
}

func newPump() *pump {
	p := &pump{
		signal: make(chan struct{}, 1),
		out:    make(chan transport.Event),
		quit:   make(chan struct{}),
	}
	go p.run()
	return p
}

func (p *pump) emit(ev transport.Event) {
	p.mu.Lock()
	if p.finished {
		p.mu.Unlock()
		return
	}
	p.items = append(p.items, ev)
	p.mu.Unlock()
	p.wake()
}

// finish delivers what is buffered, then closes the channel.
func (p *pump) finish() {
	p.mu.Lock()
	p.finished = true
	p.mu.Unlock()
	p.wake()
}

// stop abandons buffered events and closes the channel.
func (p *pump) stop() {
	p.stopOnce.Do(func() { close(p.quit) })
}

func (p *pump) wake() {
	select {
	case p.signal <- struct{}{}:
	default:
	}
}

func (p *pump) run() {
	defer close(p.out)
	for {
		p.mu.Lock()
		if len(p.items) > 0 {
			ev := p.items[0]
			p.items[0] = transport.Event{}
			p.items = p.items[1:]
			p.mu.Unlock()
			select {
			case p.out <- ev:
			case <-p.quit:
				return
			}
			continue
		}
		finished := p.finished
		p.mu.Unlock()
		if finished {
			return
		}
		select {
		case <-p.signal:
		case <-p.quit:
			return
		}
	}
}
