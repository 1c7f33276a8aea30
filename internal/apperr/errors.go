// Package apperr defines the error kinds shared by every component.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error so callers and the HTTP layer can react to it
// without string matching.
type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindNotFound
	KindConflict
	KindTransport
	KindExhaustion
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindTransport:
		return "transport"
	case KindExhaustion:
		return "exhaustion"
	default:
		return "unknown"
	}
}

// Definition is a reusable business error code.
type Definition struct {
	Kind    Kind
	Code    string
	Message string
}

// Error is the concrete error type returned by services.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on Code so sentinel definitions can be compared with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code != "" && t.Code == e.Code
}

// New builds an error from a definition.
func (d Definition) New() *Error {
	return &Error{Kind: d.Kind, Code: d.Code, Message: d.Message}
}

// Wrap builds an error from a definition carrying a cause.
func (d Definition) Wrap(err error) *Error {
	return &Error{Kind: d.Kind, Code: d.Code, Message: d.Message, Err: err}
}

// Withf builds an error from a definition with a formatted message.
func (d Definition) Withf(format string, args ...any) *Error {
	return &Error{Kind: d.Kind, Code: d.Code, Message: fmt.Sprintf(format, args...)}
}

func Validation(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Code: "VALIDATION", Message: fmt.Sprintf(format, args...)}
}

func NotFound(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Code: "NOT_FOUND", Message: fmt.Sprintf(format, args...)}
}

func Conflict(format string, args ...any) *Error {
	return &Error{Kind: KindConflict, Code: "CONFLICT", Message: fmt.Sprintf(format, args...)}
}

func Transport(err error, format string, args ...any) *Error {
	return &Error{Kind: KindTransport, Code: "TRANSPORT", Message: fmt.Sprintf(format, args...), Err: err}
}

func Exhaustion(format string, args ...any) *Error {
	return &Error{Kind: KindExhaustion, Code: "EXHAUSTED", Message: fmt.Sprintf(format, args...)}
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

var (
	ProxyInvalidFormat    = Definition{KindValidation, "PROXY_INVALID_FORMAT", "invalid proxy url"}
	ProxyNotFound         = Definition{KindNotFound, "PROXY_NOT_FOUND", "proxy not found"}
	ProxyPoolExhausted    = Definition{KindExhaustion, "PROXY_POOL_EXHAUSTED", "no active proxy available"}
	SessionNotFound       = Definition{KindNotFound, "SESSION_NOT_FOUND", "session not found"}
	SessionBusy           = Definition{KindConflict, "SESSION_BUSY", "session already connecting or connected"}
	SessionNotConnected   = Definition{KindConflict, "SESSION_NOT_CONNECTED", "session not connected"}
	CampaignNotFound      = Definition{KindNotFound, "CAMPAIGN_NOT_FOUND", "campaign not found"}
	CampaignRunning       = Definition{KindConflict, "CAMPAIGN_RUNNING", "campaign already running"}
	CampaignBadState      = Definition{KindConflict, "CAMPAIGN_BAD_STATE", "campaign cannot transition from its current status"}
	TemplateNotFound      = Definition{KindNotFound, "TEMPLATE_NOT_FOUND", "template not found"}
	LeadNotFound          = Definition{KindNotFound, "LEAD_NOT_FOUND", "lead not found"}
	CompletionUnavailable = Definition{KindTransport, "COMPLETION_UNAVAILABLE", "completion service unavailable"}
)
