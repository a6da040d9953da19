package store

import (
	"context"
	"time"

	"github.com/pairchat/pairchat/wire"
)

// UserStore is the slice of user persistence the chat core consumes.
type UserStore interface {
	// FindUser returns (nil, nil) when the user does not exist.
	FindUser(ctx context.Context, identity string) (*wire.User, error)

	// UpsertUserLastSeen records when identity was last seen.
	// A nil lastSeen marks the user as online right now.
	UpsertUserLastSeen(ctx context.Context, identity string, lastSeen *time.Time) error
}

// MessageStore is the message persistence contract. Lookups by a
// malformed or unknown id resolve to (nil, nil), never an error.
type MessageStore interface {
	// InsertMessage inserts m and returns the store-assigned id.
	InsertMessage(ctx context.Context, m *wire.Message) (string, error)

	FindMessageById(ctx context.Context, id string) (*wire.Message, error)

	// SaveMessage writes back the mutable fields of an existing message.
	// Sender and receiver are never updated.
	SaveMessage(ctx context.Context, m *wire.Message) error

	// FindMessagesBetween returns every message exchanged between a and b
	// in either direction, ordered by create time.
	FindMessagesBetween(ctx context.Context, a, b string) ([]*wire.Message, error)

	// BulkSetRead marks every unread message from sender to reader as
	// read and returns the number of rows changed.
	BulkSetRead(ctx context.Context, reader, sender string) (int64, error)

	// BulkDeleteBetween removes every message row between the pair.
	BulkDeleteBetween(ctx context.Context, a, b string) (int64, error)
}

// Store is the full persistence surface a backend implementation provides.
type Store interface {
	UserStore
	MessageStore

	Ping(ctx context.Context) error
	Close() error
}
