package mapstate

import "sync/atomic"

// Token identifies one request generation
type Token uint64

// Loader guards against out-of-order responses. Each request takes a token
// from Begin; only the result carrying the newest token is applied.
type Loader struct {
	gen atomic.Uint64
}

// Begin starts a new request generation, superseding every earlier token
func (l *Loader) Begin() Token {
	return Token(l.gen.Add(1))
}

// Current reports whether t is still the newest generation
func (l *Loader) Current(t Token) bool {
	return uint64(t) == l.gen.Load()
}

// Commit runs apply only when t is still current and reports whether it ran.
// Stale results are dropped.
func (l *Loader) Commit(t Token, apply func()) bool {
	if !l.Current(t) {
		return false
	}
	apply()
	return true
}
