package store

import (
	"context"
	"errors"
	"fmt"

	"edaagent/pkg/domain"
)

var (
	// ErrDesignNotFound indicates no record exists for the user and id.
	ErrDesignNotFound = errors.New("design not found")
	// ErrUserRequired indicates a store call without a user identity.
	ErrUserRequired = errors.New("user id required")
)

// Backend persists design records. Implementations are scoped to one
// application id at construction and to a user per call.
type Backend interface {
	InsertDesign(ctx context.Context, rec domain.DesignRecord) error
	GetDesign(ctx context.Context, userID, id string) (domain.DesignRecord, bool, error)
	// ListDesigns returns the user's records ordered by CreatedAt descending.
	ListDesigns(ctx context.Context, userID string) ([]domain.DesignRecord, error)
}

// Notifier signals per-user changes to live subscribers.
type Notifier interface {
	Publish(ctx context.Context, userID string) error
	Listen(ctx context.Context, userID string) (Listener, error)
}

// Listener receives a coalesced signal after one or more changes. Changes is
// closed when the listener is closed or the underlying connection ends.
type Listener interface {
	Changes() <-chan struct{}
	Close() error
}

// PersistenceError wraps store write/read/subscribe failures.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("design store %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}
