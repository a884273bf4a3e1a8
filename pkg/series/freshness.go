package series

import "time"

// Policy decides whether a series is current. Days are UTC calendar days.
type Policy struct {
	// Now defaults to time.Now.
	Now func() time.Time
}

func (p Policy) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

// IsCurrent reports whether lastRefreshed falls on today's UTC date.
// The zero time is never current.
func (p Policy) IsCurrent(lastRefreshed time.Time) bool {
	if lastRefreshed.IsZero() {
		return false
	}
	return sameDay(lastRefreshed, p.now())
}

// NeedsRefresh is the negation of IsCurrent for s; a nil series always
// needs a refresh.
func (p Policy) NeedsRefresh(s *Series) bool {
	if s == nil {
		return true
	}
	return !p.IsCurrent(s.LastRefreshed())
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}
