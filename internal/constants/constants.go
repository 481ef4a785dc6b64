// Package constants provides shared constants used across the codebase.
// Centralizing these values ensures consistency and makes them easier to modify.
package constants

import "time"

// Query constants
const (
	// DefaultQueryLimit is the number of results returned when the caller does not ask for a cap
	DefaultQueryLimit = 10

	// MaxQueryLimit is the largest top-K accepted from API callers
	MaxQueryLimit = 1000
)

// Engine constants
const (
	// ShutdownTimeout bounds how long the engine drains queued work on exit
	ShutdownTimeout = 30 * time.Second

	// QueryWaitTimeout bounds how long the CLI waits for a query to finish
	QueryWaitTimeout = 5 * time.Minute
)

// Indexing constants
const (
	// ThumbnailSize is the longest edge of stored face thumbnails
	ThumbnailSize = 160

	// MaxImageSize is the maximum dimension (width or height) accepted for indexing
	MaxImageSize = 8192
)
