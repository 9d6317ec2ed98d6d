package chat

// EntryState tells whether a local entry is still the sender's optimistic
// copy or the canonical broadcast copy.
type EntryState int

const (
	EntryPending EntryState = iota
	EntryCanonical
)

func (s EntryState) String() string {
	switch s {
	case EntryPending:
		return "pending"
	case EntryCanonical:
		return "canonical"
	default:
		return "unknown"
	}
}

// LocalEntry is one item of a client's local message list.
type LocalEntry struct {
	State   EntryState
	Message Message
}

// Pending builds the optimistic entry a sender renders before the server
// echoes the message. tempID is the id the draft was submitted with.
func Pending(tempID string, d Draft) LocalEntry {
	return LocalEntry{
		State: EntryPending,
		Message: Message{
			ID:             tempID,
			ConversationID: d.ConversationID,
			SenderID:       d.SenderID,
			SenderName:     d.SenderName,
			Text:           d.Text,
		},
	}
}

// Canonical wraps a message received from the server.
func Canonical(msg Message) LocalEntry {
	return LocalEntry{State: EntryCanonical, Message: msg}
}

// Key is the id used for reconciliation.
func (e LocalEntry) Key() string {
	return e.Message.ID
}

// Reconcile merges an incoming canonical message into a local list: the
// first entry with the same id is replaced, otherwise the message is
// appended. local is not modified.
func Reconcile(local []LocalEntry, incoming Message) []LocalEntry {
	out := make([]LocalEntry, len(local), len(local)+1)
	copy(out, local)

	for i := range out {
		if out[i].Key() == incoming.ID {
			out[i] = Canonical(incoming)
			return out
		}
	}
	return append(out, Canonical(incoming))
}
