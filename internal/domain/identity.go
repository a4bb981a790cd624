package domain

// Identity is the caller resolved from a bearer credential.
type Identity struct {
	Subject string `json:"sub"`
	Email   string `json:"email"`
}
