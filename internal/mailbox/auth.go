package mailbox

import (
	"errors"
	"fmt"
)

// AuthError indicates that the IMAP server rejected the configured
// credentials. It is terminal: callers must surface it to the operator
// instead of retrying.
type AuthError struct {
	Host    string
	Message string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth error (%s): %s", e.Host, e.Message)
}

// IsAuthError reports whether err (or any error in its chain) is an AuthError.
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}
