package auth

import (
	"net/http"
	"time"
)

// Session is an acquired crumb plus the cookies it is bound to.
// A Session is never modified after creation; a refresh builds a new one.
type Session struct {
	Token      string
	Jar        http.CookieJar
	AcquiredAt time.Time
}

// Apply attaches the crumb as a query parameter and the session cookies for req's URL.
func (s *Session) Apply(req *http.Request) {
	if s == nil {
		return
	}
	q := req.URL.Query()
	q.Set("crumb", s.Token)
	req.URL.RawQuery = q.Encode()
	if s.Jar == nil {
		return
	}
	for _, ck := range s.Jar.Cookies(req.URL) {
		req.AddCookie(ck)
	}
}

// State is the authentication lifecycle of a Provider.
type State int

const (
	Unauthenticated State = iota
	Authenticating
	Authenticated
	// Failed is terminal for the owning client.
	Failed
)

func (s State) String() string {
	switch s {
	case Unauthenticated:
		return "UNAUTHENTICATED"
	case Authenticating:
		return "AUTHENTICATING"
	case Authenticated:
		return "AUTHENTICATED"
	case Failed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}
