// Package constants provides shared constants used across the codebase.
// Centralizing these values ensures consistency and makes them easier to modify.
package constants

// Identification constants
const (
	// DefaultIdentifyLimit is the default number of candidate identities returned for a probe
	DefaultIdentifyLimit = 5

	// MaxIdentifyLimit caps the number of candidates a single request may ask for
	MaxIdentifyLimit = 100
)

// Handler pagination constants
const (
	// DefaultRunListLimit is the default number of runs returned by list endpoints
	DefaultRunListLimit = 50

	// MaxRunListLimit is the maximum number of runs returned in one request
	MaxRunListLimit = 500
)

// Request limits
const (
	// MaxRequestBodyBytes bounds identify request bodies (a 256x256 face as JSON fits comfortably)
	MaxRequestBodyBytes = 8 << 20
)
