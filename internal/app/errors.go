package app

import "errors"

var (
	// ErrInvalidCredentials is returned for both unknown usernames and wrong
	// passwords so responses cannot enumerate accounts.
	ErrInvalidCredentials = errors.New("invalid username or password")

	ErrCredentialsRequired = errors.New("username and password required")
	ErrUsernameTaken       = errors.New("username already taken")
	ErrProjectNameRequired = errors.New("project name required")
	ErrUnsupportedFileType = errors.New("unsupported file type")

	// ErrForbidden is returned when a user touches a project or segment they
	// do not own.
	ErrForbidden = errors.New("forbidden")

	ErrNotFound = errors.New("not found")
)
