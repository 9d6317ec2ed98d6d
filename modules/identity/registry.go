// Package identity assigns the user identity and display name a connection
// speaks for.
//
// The registry accepts whatever non-empty identity a client asserts. Two
// connections asserting the same id are both accepted, which is how one
// user keeps several tabs open and how a client reconnects without a
// handshake round trip.
package identity

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/jaevor/go-nanoid"
)

// MaxDisplayNameLength is the maximum display name length in runes.
const MaxDisplayNameLength = 50

const generatedIDLength = 21

// Identity is the identity record attached to a connection.
type Identity struct {
	ConnectionID string `json:"connectionId"`
	UserID       string `json:"userId"`
	DisplayName  string `json:"username,omitempty"`
	Generated    bool   `json:"generated,omitempty"`
}

// Registry produces identities for new connections.
type Registry struct {
	generate func() string
}

// NewRegistry creates a Registry that generates nanoid-based user ids for
// clients that do not assert one.
func NewRegistry() (*Registry, error) {
	gen, err := nanoid.Standard(generatedIDLength)
	if err != nil {
		return nil, fmt.Errorf("create id generator: %w", err)
	}
	return &Registry{generate: gen}, nil
}

// Register returns the identity for connectionID. assertedUserID is used
// verbatim when it is non-empty after trimming.
func (r *Registry) Register(connectionID, assertedUserID, assertedName string) Identity {
	id := Identity{
		ConnectionID: connectionID,
		UserID:       strings.TrimSpace(assertedUserID),
		DisplayName:  normalizeName(assertedName),
	}
	if id.UserID == "" {
		id.UserID = "u_" + r.generate()
		id.Generated = true
	}
	return id
}

func normalizeName(name string) string {
	name = strings.TrimSpace(name)
	if !utf8.ValidString(name) {
		return ""
	}
	if utf8.RuneCountInString(name) > MaxDisplayNameLength {
		name = string([]rune(name)[:MaxDisplayNameLength])
	}
	return name
}
