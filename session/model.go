package session

import "time"

// Session is the server-side record behind an opaque session id.
//
// The raw session id is never stored. Handle holds the hashed key material and
// is populated on reads; it is not part of the encoded record.
type Session struct {
	Handle string

	UserID   string
	UserData map[string]string

	CreatedAt      time.Time
	LastAccessedAt time.Time
	ExpiresAt      time.Time

	IPAddress string
	UserAgent string

	IsActive   bool
	LoginCount uint32
}

// Valid reports whether the session may authenticate a request at now.
func (s *Session) Valid(now time.Time) bool {
	return s != nil && s.IsActive && now.Before(s.ExpiresAt)
}

// Clone returns a deep copy.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	cp := *s
	if s.UserData != nil {
		cp.UserData = make(map[string]string, len(s.UserData))
		for k, v := range s.UserData {
			cp.UserData[k] = v
		}
	}
	return &cp
}
