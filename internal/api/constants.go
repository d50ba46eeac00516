package api

// API limits and constants.
const (
	// MaxUploadSize is the maximum allowed size for document uploads (256 MB).
	MaxUploadSize = 256 << 20

	// DefaultPageSize is used when a list request does not set a limit.
	DefaultPageSize = 50

	// MaxPageSize caps list request limits.
	MaxPageSize = 500
)

// Cache-Control header values.
const (
	CacheOneDayPrivate = "private, max-age=86400"
	CacheNoStore       = "no-cache"
)
