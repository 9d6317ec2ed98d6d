package chat

import "errors"

var (
	// ErrInvalidMessage is returned for drafts that must not be broadcast.
	ErrInvalidMessage = errors.New("invalid message")
	// ErrBrokerUnavailable is returned when the relay link cannot publish or subscribe.
	ErrBrokerUnavailable = errors.New("broker unavailable")
	// ErrMalformedRelayPayload marks relayed payloads that could not be decoded.
	ErrMalformedRelayPayload = errors.New("malformed relay payload")
	// ErrTransport marks a per-connection transport failure.
	ErrTransport = errors.New("transport error")
	// ErrUnknownConnection is returned for operations on a closed or unknown connection.
	ErrUnknownConnection = errors.New("unknown connection")
	// ErrInvalidRoom is returned when a room id is empty.
	ErrInvalidRoom = errors.New("room id is required")
	// ErrNotMember is returned when a connection acts in a room it has not joined.
	ErrNotMember = errors.New("not a member of the room")
)
