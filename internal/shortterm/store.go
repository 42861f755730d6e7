// Package shortterm keeps volatile per-user conversational state: an active
// context with a TTL and a bounded FIFO history buffer.
//
// Expired contexts are evicted lazily on read. SweepExpired reclaims the ones
// that are never read again.
package shortterm

import (
	"sync"
	"time"

	"github.com/memvra/convmem/internal/clock"
	"github.com/memvra/convmem/internal/convo"
)

const (
	// DefaultTTL is how long an active context lives without being rewritten.
	DefaultTTL = time.Hour
	// DefaultMaxHistory caps the history buffer of each user.
	DefaultMaxHistory = 20
)

type contextEntry struct {
	value     convo.Context
	expiresAt int64 // epoch ms
}

// userState is guarded by its own mutex so users never contend with each other.
type userState struct {
	mu      sync.Mutex
	removed bool // set once the state has been unlinked from the store
	context *contextEntry
	history []convo.HistoryEntry
}

func (u *userState) empty() bool {
	return u.context == nil && len(u.history) == 0
}

// Store is the short-term memory tier. The zero value is not usable; call New.
type Store struct {
	clock      clock.Clock
	maxHistory int
	users      sync.Map // userID -> *userState
}

// Option configures a Store.
type Option func(*Store)

// WithMaxHistory overrides DefaultMaxHistory. Values below 1 are ignored.
func WithMaxHistory(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxHistory = n
		}
	}
}

// New creates an empty Store. A nil clock means the wall clock.
func New(clk clock.Clock, opts ...Option) *Store {
	if clk == nil {
		clk = clock.Real()
	}
	s := &Store{clock: clk, maxHistory: DefaultMaxHistory}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// MaxHistory returns the per-user history cap.
func (s *Store) MaxHistory() int { return s.maxHistory }

// lockUser returns the live state for userID, creating it when missing.
// The state is returned locked.
func (s *Store) lockUser(userID string) *userState {
	for {
		v, _ := s.users.LoadOrStore(userID, &userState{})
		u := v.(*userState)
		u.mu.Lock()
		if !u.removed {
			return u
		}
		u.mu.Unlock()
	}
}

// lockExisting returns the live state for userID locked, or nil.
func (s *Store) lockExisting(userID string) *userState {
	v, ok := s.users.Load(userID)
	if !ok {
		return nil
	}
	u := v.(*userState)
	u.mu.Lock()
	if u.removed {
		u.mu.Unlock()
		return nil
	}
	return u
}

// release unlocks u, unlinking it from the store first if it holds nothing.
func (s *Store) release(userID string, u *userState) {
	if u.empty() {
		u.removed = true
		s.users.CompareAndDelete(userID, u)
	}
	u.mu.Unlock()
}

// GetActiveContext returns the user's context. An expired context is deleted
// and reported as absent.
func (s *Store) GetActiveContext(userID string) (convo.Context, bool) {
	u := s.lockExisting(userID)
	if u == nil {
		return convo.Context{}, false
	}
	defer s.release(userID, u)

	if u.context == nil {
		return convo.Context{}, false
	}
	if clock.NowMillis(s.clock) > u.context.expiresAt {
		u.context = nil
		return convo.Context{}, false
	}
	return u.context.value, true
}

// SetActiveContext replaces the user's context and sets it to expire after
// ttl. A non-positive ttl means DefaultTTL.
func (s *Store) SetActiveContext(userID string, value convo.Context, ttl time.Duration) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	u := s.lockUser(userID)
	defer s.release(userID, u)

	u.context = &contextEntry{
		value:     value,
		expiresAt: clock.NowMillis(s.clock) + ttl.Milliseconds(),
	}
}

// ExpiresAt reports when the user's context expires (epoch ms).
func (s *Store) ExpiresAt(userID string) (int64, bool) {
	u := s.lockExisting(userID)
	if u == nil {
		return 0, false
	}
	defer s.release(userID, u)
	if u.context == nil {
		return 0, false
	}
	return u.context.expiresAt, true
}

// ClearContext removes the user's context.
func (s *Store) ClearContext(userID string) {
	u := s.lockExisting(userID)
	if u == nil {
		return
	}
	u.context = nil
	s.release(userID, u)
}

// AppendHistory stamps turn with the current time and appends it, dropping
// the oldest entries beyond the cap. It returns the stored entry.
func (s *Store) AppendHistory(userID string, turn convo.Turn) convo.HistoryEntry {
	entry := convo.HistoryEntry{
		Role:      turn.Role,
		Content:   turn.Content,
		Timestamp: clock.NowMillis(s.clock),
	}

	u := s.lockUser(userID)
	defer s.release(userID, u)

	u.history = append(u.history, entry)
	if over := len(u.history) - s.maxHistory; over > 0 {
		kept := make([]convo.HistoryEntry, s.maxHistory)
		copy(kept, u.history[over:])
		u.history = kept
	}
	return entry
}

// GetHistory returns up to limit of the user's most recent entries, oldest
// first. A non-positive limit returns the whole buffer.
func (s *Store) GetHistory(userID string, limit int) []convo.HistoryEntry {
	u := s.lockExisting(userID)
	if u == nil {
		return nil
	}
	defer s.release(userID, u)

	start := 0
	if limit > 0 && len(u.history) > limit {
		start = len(u.history) - limit
	}
	out := make([]convo.HistoryEntry, len(u.history)-start)
	copy(out, u.history[start:])
	return out
}

// HistoryLen returns the number of buffered entries for the user.
func (s *Store) HistoryLen(userID string) int {
	u := s.lockExisting(userID)
	if u == nil {
		return 0
	}
	defer s.release(userID, u)
	return len(u.history)
}

// TruncateHistory keeps only the user's last keep entries.
func (s *Store) TruncateHistory(userID string, keep int) {
	u := s.lockExisting(userID)
	if u == nil {
		return
	}
	defer s.release(userID, u)

	if keep <= 0 {
		u.history = nil
		return
	}
	if len(u.history) > keep {
		kept := make([]convo.HistoryEntry, keep)
		copy(kept, u.history[len(u.history)-keep:])
		u.history = kept
	}
}

// ClearHistory removes the user's whole history buffer.
func (s *Store) ClearHistory(userID string) {
	u := s.lockExisting(userID)
	if u == nil {
		return
	}
	u.history = nil
	s.release(userID, u)
}

// SweepExpired removes every expired context and returns how many it removed.
func (s *Store) SweepExpired() int {
	now := clock.NowMillis(s.clock)
	removed := 0
	s.users.Range(func(key, value any) bool {
		userID := key.(string)
		u := value.(*userState)
		u.mu.Lock()
		if u.removed {
			u.mu.Unlock()
			return true
		}
		if u.context != nil && now > u.context.expiresAt {
			u.context = nil
			removed++
		}
		s.release(userID, u)
		return true
	})
	return removed
}

// Users returns the IDs of users with buffered history.
func (s *Store) Users() []string {
	var out []string
	s.users.Range(func(key, value any) bool {
		u := value.(*userState)
		u.mu.Lock()
		if !u.removed && len(u.history) > 0 {
			out = append(out, key.(string))
		}
		u.mu.Unlock()
		return true
	})
	return out
}

// Counts summarises the store.
type Counts struct {
	ActiveContexts    int
	BufferedHistories int
	Users             []string
}

// Counts returns how many users hold a context and how many hold history.
// Expired contexts that have not been swept yet are not counted.
func (s *Store) Counts() Counts {
	now := clock.NowMillis(s.clock)
	var c Counts
	s.users.Range(func(key, value any) bool {
		u := value.(*userState)
		u.mu.Lock()
		defer u.mu.Unlock()
		if u.removed {
			return true
		}
		live := false
		if u.context != nil && now <= u.context.expiresAt {
			c.ActiveContexts++
			live = true
		}
		if len(u.history) > 0 {
			c.BufferedHistories++
			live = true
		}
		if live {
			c.Users = append(c.Users, key.(string))
		}
		return true
	})
	return c
}

// size returns the number of user states currently linked. Used by tests to
// check that emptied states are reclaimed.
func (s *Store) size() int {
	n := 0
	s.users.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
