package database

import "errors"

var (
	// ErrDuplicateActiveAlias means another active alias already claims
	// the same text under a different entity. This is a conflict for
	// human adjudication, not an error to retry away.
	ErrDuplicateActiveAlias = errors.New("alias text already active under a different entity")

	// ErrEntityNotFound means the referenced canonical entity does not
	// exist in the registry.
	ErrEntityNotFound = errors.New("canonical entity not found")

	// ErrReviewItemNotFound means the referenced review item does not
	// exist.
	ErrReviewItemNotFound = errors.New("review item not found")

	// ErrReviewItemClosed means the review item was already promoted or
	// rejected; decisions are never overwritten.
	ErrReviewItemClosed = errors.New("review item already decided")
)
