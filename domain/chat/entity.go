package chat

import "time"

// GlobalRoom is the reserved scope every connection belongs to while it is
// connected. Messages without a conversation id fan out to it.
const GlobalRoom = ""

// Message is a canonical chat message. It is never mutated after the
// reconciler produces it.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId,omitempty"`
	SenderID       string    `json:"senderId"`
	SenderName     string    `json:"senderName,omitempty"`
	Text           string    `json:"text"`
	CreatedAt      time.Time `json:"createdAt"`
}

// Draft is a client-submitted message before canonicalization. ID is the
// client-chosen temporary id and may be empty.
type Draft struct {
	ID             string `json:"id,omitempty"`
	ConversationID string `json:"conversationId,omitempty"`
	SenderID       string `json:"senderId,omitempty"`
	SenderName     string `json:"senderName,omitempty"`
	Text           string `json:"text"`
	CreatedAt      string `json:"createdAt,omitempty"`
}

// Scope is the fanout target of a message.
type Scope struct {
	Global bool
	RoomID string
}

// ScopeOf returns where msg must be delivered: only to members of its
// conversation, or to every connection when it has none.
func ScopeOf(msg Message) Scope {
	if msg.ConversationID == "" {
		return Scope{Global: true, RoomID: GlobalRoom}
	}
	return Scope{RoomID: msg.ConversationID}
}
