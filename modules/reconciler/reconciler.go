// Package reconciler turns client drafts into canonical messages.
//
// A draft's client-chosen id is kept as the canonical id whenever it is
// present, so the sender's optimistic copy and the broadcast copy carry the
// same id and the client can reconcile with a plain replace-by-id.
package reconciler

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/example/chat-fanout/domain/chat"
)

// MaxMessageLength is the maximum message text length in bytes.
const MaxMessageLength = 5000

// Reconciler stamps drafts with their canonical identity.
type Reconciler struct {
	newID func() string
	now   func() time.Time
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithIDGenerator overrides the id generator used for drafts without an id.
func WithIDGenerator(gen func() string) Option {
	return func(r *Reconciler) {
		r.newID = gen
	}
}

// WithClock overrides the server clock.
func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) {
		r.now = now
	}
}

// New creates a Reconciler.
func New(opts ...Option) *Reconciler {
	r := &Reconciler{
		newID: func() string { return uuid.New().String() },
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Submit validates d and returns its canonical message. Rejected drafts
// return an error wrapping chat.ErrInvalidMessage.
func (r *Reconciler) Submit(d chat.Draft) (chat.Message, error) {
	if err := ValidateText(d.Text); err != nil {
		return chat.Message{}, err
	}

	senderID := strings.TrimSpace(d.SenderID)
	if senderID == "" {
		return chat.Message{}, fmt.Errorf("%w: sender is required", chat.ErrInvalidMessage)
	}

	id := strings.TrimSpace(d.ID)
	if id == "" {
		id = r.newID()
	}

	return chat.Message{
		ID:             id,
		ConversationID: strings.TrimSpace(d.ConversationID),
		SenderID:       senderID,
		SenderName:     d.SenderName,
		Text:           d.Text,
		CreatedAt:      r.createdAt(d.CreatedAt),
	}, nil
}

func (r *Reconciler) createdAt(raw string) time.Time {
	if raw != "" {
		if ts, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			return ts.UTC()
		}
	}
	return r.now().UTC()
}

// ValidateText rejects empty, whitespace-only, oversized and non-UTF-8 text.
func ValidateText(text string) error {
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("%w: text is empty", chat.ErrInvalidMessage)
	}
	if len(text) > MaxMessageLength {
		return fmt.Errorf("%w: text exceeds %d bytes", chat.ErrInvalidMessage, MaxMessageLength)
	}
	if !utf8.ValidString(text) {
		return fmt.Errorf("%w: text is not valid UTF-8", chat.ErrInvalidMessage)
	}
	return nil
}
