package domain

// AuthState is the authentication state of an FTP control session.
type AuthState string

const (
	AuthUnauthenticated AuthState = "unauthenticated"
	AuthAuthenticated   AuthState = "authenticated"
	AuthClosed          AuthState = "closed"
)

var authTransitions = map[AuthState][]AuthState{
	AuthUnauthenticated: {AuthAuthenticated, AuthClosed},
	AuthAuthenticated:   {AuthClosed},
}

// CanTransitionAuth reports whether a session may move between the two
// states. Closed is terminal.
func CanTransitionAuth(from, to AuthState) bool {
	for _, t := range authTransitions[from] {
		if t == to {
			return true
		}
	}
	return false
}
