// Package storage defines locked access to small persisted documents such
// as the display session index.
package storage

import "context"

// Initer fills in zero-value fields (nil maps) of a freshly loaded or empty
// document.
type Initer interface {
	Init()
}

// Locked is the unsynchronised half of a Store: callers hold the lock from
// TryLock around Read and Write. GC uses this to span one lock over
// snapshot and collect.
type Locked[T any] interface {
	TryLock(ctx context.Context) (bool, error)
	Unlock(ctx context.Context) error
	Read(fn func(*T) error) error
	// Write persists the document when fn returns nil.
	Write(fn func(*T) error) error
}

// Store hands a document of type T to callbacks under an exclusive lock.
// Init runs first when *T is an Initer.
type Store[T any] interface {
	Locked[T]
	// With is a read-only visit.
	With(ctx context.Context, fn func(*T) error) error
	// Update saves the document when fn returns nil.
	Update(ctx context.Context, fn func(*T) error) error
}
