// Package constants provides shared constants used across the codebase.
package constants

import "time"

// Event channel constants
const (
	// EventChannelBuffer is the buffer size for event channels
	EventChannelBuffer = 100
)

// Query job constants
const (
	// QueryJobRetention is how long finished query jobs stay available over HTTP
	QueryJobRetention = 15 * time.Minute

	// MaxQueryJobs caps the number of query jobs kept in memory
	MaxQueryJobs = 1000
)

// File upload constants
const (
	// MaxUploadSize is the maximum size of an uploaded image (50 MB)
	MaxUploadSize = 50 << 20

	// MultipartMemory is the part of a multipart form kept in memory
	MultipartMemory = 32 << 20
)
