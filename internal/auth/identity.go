package auth

// Identity is the process-wide answer to "who is signed in". Its lifecycle is
// bound to the external identity provider's session.
type Identity struct {
	UserID        string
	Email         string
	Name          string
	Authenticated bool
}

func Anonymous() Identity {
	return Identity{}
}
