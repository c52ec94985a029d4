package cache

import (
	"time"
)

// Entry is a cached completion.
type Entry struct {
	// Text is the post-processed model answer.
	Text string `json:"text"`

	// Model is the model id that produced Text.
	Model string `json:"model"`

	// CachedAt is when the entry was stored.
	CachedAt time.Time `json:"cached_at"`

	// Expires is when the entry becomes stale.
	Expires time.Time `json:"expires"`
}

// NewEntry creates an entry for text valid for ttl from now.
func NewEntry(model, text string, ttl time.Duration) *Entry {
	now := time.Now()
	return &Entry{
		Text:     text,
		Model:    model,
		CachedAt: now,
		Expires:  now.Add(ttl),
	}
}

// IsExpired returns true if the cache entry has expired.
func (e *Entry) IsExpired() bool {
	return time.Now().After(e.Expires)
}

// TTL returns the time until expiration.
// Returns 0 if already expired.
func (e *Entry) TTL() time.Duration {
	ttl := time.Until(e.Expires)
	if ttl < 0 {
		return 0
	}
	return ttl
}
