// Package ponyerr classifies errors flowing through the core by kind, so the operational layer (reconciliation, sync
// worker) can decide retry vs. drop, and the HTTP boundary layer can map to a status code.
package ponyerr

import (
	"errors"
	"fmt"
)

// Kind discriminates the category of a core error.
type Kind string

const (
	Database      Kind = "database"
	Conflict      Kind = "conflict"
	IO            Kind = "io"
	URLParse      Kind = "url_parse"
	HTTP          Kind = "http"
	Serialization Kind = "serialization"
	TaskJoin      Kind = "task_join"
	GrpcTransport Kind = "grpc_transport"
	GrpcStatus    Kind = "grpc_status"
	Bus           Kind = "bus"
	Wireguard     Kind = "wireguard"
	IPParse       Kind = "ip_parse"
	TomlParse     Kind = "toml_parse"
	ChannelSend   Kind = "channel_send"
	Custom        Kind = "custom"
)

// Error wraps an underlying cause with a Kind so callers can classify it without string matching.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Wrap produces an *Error of the given kind, attributed to op, wrapping err. Wrap returns nil if err is nil.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the Kind of err if it is (or wraps) a *Error, and ok=false otherwise.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// Transient reports whether err's kind is generally safe to retry: connection resets, deadlocks, transport hiccups.
// Conflict, Serialization, and TomlParse are never transient — they indicate bad input or bad config, not a flaky
// dependency.
func Transient(err error) bool {
	kind, ok := KindOf(err)
	if !ok {
		return false
	}
	switch kind {
	case Database, IO, HTTP, GrpcTransport, Bus, Wireguard:
		return true
	default:
		return false
	}
}

// Sentinel errors used at the boundary layer for status-code mapping (§7: Conflict→409, NotFound→404, BadRequest→400).
var (
	ErrNotFound   = errors.New("not found")
	ErrBadRequest = errors.New("bad request")
)
