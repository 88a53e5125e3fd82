package session

import "fmt"

// NetworkError is a transport level failure: connect error, timeout or
// redirect loop. It never implies the server acted on the request.
type NetworkError struct {
	Op  string
	URL string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// AuthenticationError means the credentials were rejected, or the login
// redirect was too ambiguous to call a success. Retrying without new
// credentials will not help.
type AuthenticationError struct {
	Message string
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("authentication failed: %s", e.Message)
}
