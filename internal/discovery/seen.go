package discovery

import (
	"time"

	"github.com/puzpuzpuz/xsync/v4"
)

// DefaultSeenTTL bounds how long a launch-program mint is remembered.
const DefaultSeenTTL = 24 * time.Hour

// SeenMints tracks mints observed on the launch program. Safe for
// concurrent use.
type SeenMints struct {
	ttl   time.Duration
	nowFn func() time.Time
	mints *xsync.Map[string, time.Time]
}

// NewSeenMints creates a tracker. A non-positive ttl uses DefaultSeenTTL.
func NewSeenMints(ttl time.Duration) *SeenMints {
	if ttl <= 0 {
		ttl = DefaultSeenTTL
	}
	return &SeenMints{
		ttl:   ttl,
		nowFn: time.Now,
		mints: xsync.NewMap[string, time.Time](),
	}
}

// WithClock replaces the time source.
func (s *SeenMints) WithClock(nowFn func() time.Time) *SeenMints {
	s.nowFn = nowFn
	return s
}

// Add records mint as seen now.
func (s *SeenMints) Add(mint string) {
	if mint == "" {
		return
	}
	s.mints.Store(mint, s.nowFn())
}

// Contains reports whether mint was seen within the TTL.
func (s *SeenMints) Contains(mint string) bool {
	at, ok := s.mints.Load(mint)
	if !ok {
		return false
	}
	return s.nowFn().Sub(at) < s.ttl
}

// Sweep drops expired entries and returns how many were removed.
func (s *SeenMints) Sweep() int {
	cutoff := s.nowFn().Add(-s.ttl)
	removed := 0
	s.mints.Range(func(mint string, at time.Time) bool {
		if !at.After(cutoff) {
			s.mints.Delete(mint)
			removed++
		}
		return true
	})
	return removed
}

// Len returns the number of tracked mints, expired or not.
func (s *SeenMints) Len() int {
	return s.mints.Size()
}
