package repository

import (
	"database/sql"
	"errors"
)

var (
	// ErrNotFound is returned by conditional writes whose target row does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrExhausted is returned by Consume when the invitation has no use left
	// or is no longer active.
	ErrExhausted = errors.New("invitation exhausted")
	// ErrNotActive is returned by conditional writes on invitations that
	// reached a terminal state.
	ErrNotActive = errors.New("invitation not active")
)

// HandleNotFound processes a database query result, converting sql.ErrNoRows
// to a nil result without error. This is a common pattern for Find* operations
// where a missing row is not an error condition.
//
// Usage:
//
//	var item model.Item
//	err := r.db.GetContext(ctx, &item, query, args...)
//	return HandleNotFound(&item, err)
func HandleNotFound[T any](result *T, err error) (*T, error) {
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}
