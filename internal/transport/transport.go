// Package transport defines the boundary between the session manager and
// the messaging network client.
package transport

import (
	"context"

	"github.com/whatsapp-automation/orchestrator/internal/domain"
)

type EventKind int

const (
	// EventPairing carries a pairing payload the operator must scan.
	EventPairing EventKind = iota + 1
	// EventOpened reports a logged-in connection and its account identity.
	EventOpened
	// EventClosed reports a lost connection. Recoverable closes may be
	// retried; others mean the account was logged out.
	EventClosed
	// EventFault reports an unexpected failure that needs an operator.
	EventFault
	// EventMessage carries an inbound text message.
	EventMessage
)

func (k EventKind) String() string {
	switch k {
	case EventPairing:
		return "pairing"
	case EventOpened:
		return "opened"
	case EventClosed:
		return "closed"
	case EventFault:
		return "fault"
	case EventMessage:
		return "message"
	default:
		return "unknown"
	}
}

// Event is emitted on the channel returned by Adapter.Connect.
type Event struct {
	Kind        EventKind
	Pairing     string
	Identity    string
	Reason      string
	Recoverable bool
	Message     *domain.InboundMessage
}

// Outbound is one message to deliver.
type Outbound struct {
	To    string
	Body  string
	Media *domain.Media
}

// Receipt is what the network acknowledged for a send.
type Receipt struct {
	ID string
}

// Adapter is a messaging network client able to hold one connection per
// session. Implementations close the event channel after the final event of
// a connection.
type Adapter interface {
	Connect(ctx context.Context, sessionID, proxyURL string) (<-chan Event, error)
	Send(ctx context.Context, sessionID string, msg Outbound) (Receipt, error)
	// Disconnect closes the connection. With purge the account is logged out
	// and its stored credentials discarded.
	Disconnect(ctx context.Context, sessionID string, purge bool) error
}
