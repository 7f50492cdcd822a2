package store

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const (
	kindEphemeral = "local"
	kindPersisted = "db"
)

// ConversationID tags every conversation identifier with the backend that owns
// it, so a store operation can never misroute an ephemeral id to the durable
// backend (or vice versa) on a coincidental value collision.
type ConversationID struct {
	kind  string
	value string
}

// NewEphemeralID mints an identifier with no backing row. Its history lives
// only in process memory.
func NewEphemeralID() ConversationID {
	return ConversationID{kind: kindEphemeral, value: uuid.NewString()}
}

// PersistedID wraps the identifier of a durable conversation row.
func PersistedID(value string) ConversationID {
	return ConversationID{kind: kindPersisted, value: value}
}

func (id ConversationID) IsZero() bool    { return id.value == "" }
func (id ConversationID) Ephemeral() bool { return id.kind == kindEphemeral }
func (id ConversationID) Persisted() bool { return id.kind == kindPersisted }
func (id ConversationID) Value() string   { return id.value }

// String renders the tagged wire form, e.g. "db:5e0c..." or "local:91af...".
func (id ConversationID) String() string {
	if id.IsZero() {
		return ""
	}
	return id.kind + ":" + id.value
}

// ParseConversationID parses the tagged wire form produced by String.
func ParseConversationID(raw string) (ConversationID, error) {
	kind, value, found := strings.Cut(strings.TrimSpace(raw), ":")
	if !found || value == "" {
		return ConversationID{}, fmt.Errorf("malformed conversation id %q", raw)
	}
	switch kind {
	case kindEphemeral, kindPersisted:
		return ConversationID{kind: kind, value: value}, nil
	default:
		return ConversationID{}, fmt.Errorf("unknown conversation id namespace %q", kind)
	}
}
