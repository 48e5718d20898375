package lms

// Principal is an account holder as the LMS sees it during a run. AccountID
// and UserID are the remote-assigned ids until the remap engine rewrites
// them; Token is filled in by the Authenticator.
type Principal struct {
	Name     string
	Login    string
	Password string

	AccountID int64
	UserID    int64
	Token     string
}

// HasToken reports whether the principal can issue API requests.
func (p *Principal) HasToken() bool {
	return p != nil && p.Token != ""
}
