package directory

import "errors"

// Domain errors for the directory package.
var (
	// ErrAuthFailed is returned when the cloud service does not issue a token.
	ErrAuthFailed = errors.New("directory: authentication failed")

	// ErrUnexpectedResponse is returned for non-2xx or undecodable responses.
	ErrUnexpectedResponse = errors.New("directory: unexpected response")

	// ErrInvalidRecord is returned when a record cannot become a mesh.
	ErrInvalidRecord = errors.New("directory: invalid record")
)
