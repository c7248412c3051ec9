package client

// AuthError represents an authentication failure against the portal.
// Callers use it to tell bad credentials apart from connectivity problems.
type AuthError struct {
	StatusCode int
	Message    string
}

func (e *AuthError) Error() string {
	return e.Message
}
