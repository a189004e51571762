package dialog

import (
	"maps"
	"sync"
	"time"
)

// DefaultMaxHistory is the maximum number of state records before eviction.
const DefaultMaxHistory = 1000

// VarPhone is the context variable holding the caller's phone number.
const VarPhone = "phone"

// StateRecord records a flow state transition for audit purposes.
type StateRecord struct {
	Flow      FlowKind  `json:"flow"`
	FromState FlowState `json:"from_state"`
	ToState   FlowState `json:"to_state"`
	Trigger   string    `json:"trigger"`
	Timestamp time.Time `json:"timestamp"`
}

// Session holds per-call conversation state. The dispatcher holds the lock
// for the whole of a turn; other goroutines read through Get and Snapshot.
type Session struct {
	mu         sync.RWMutex
	maxHistory int

	ID        string
	Phone     string
	Variables map[string]string

	Flow  FlowKind
	State FlowState
	// Pending is the script key of the outstanding question; PendingAsk is
	// its rendered text, repeated after interruptions.
	Pending    string
	PendingAsk string
	Slots      map[string]string
	Attempts   int

	Order       *OrderDraft
	Reservation *ReservationDraft

	Turns         int
	LastIntent    Intent
	Ended         bool
	History       []StateRecord
	StartTime     time.Time
	FlowStartedAt time.Time
	LastActivity  time.Time
}

// NewSession creates a conversation session for a caller. vars seeds the
// context variables; the phone number is always available under VarPhone.
func NewSession(id, phone string, vars map[string]string) *Session {
	now := time.Now()
	v := make(map[string]string, len(vars)+1)
	maps.Copy(v, vars)
	v[VarPhone] = phone
	return &Session{
		ID:           id,
		Phone:        phone,
		Variables:    v,
		State:        StateIdle,
		Slots:        make(map[string]string),
		StartTime:    now,
		LastActivity: now,
		maxHistory:   DefaultMaxHistory,
	}
}

// Get returns a context variable.
func (s *Session) Get(key string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Variables[key]
}

// Active reports whether a flow is in progress.
func (s *Session) Active() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Flow != FlowNone
}

// IdleSince returns the time of the last handled turn.
func (s *Session) IdleSince() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.LastActivity
}

// recordTransition appends to the audit history and moves the session to
// the target state. Evicts the oldest 10% of entries at the history cap.
// The caller must hold the write lock.
func (s *Session) recordTransition(to FlowState, trigger string) {
	if s.maxHistory > 0 && len(s.History) >= s.maxHistory {
		evict := max(s.maxHistory/10, 1)
		s.History = s.History[evict:]
	}
	s.History = append(s.History, StateRecord{
		Flow:      s.Flow,
		FromState: s.State,
		ToState:   to,
		Trigger:   trigger,
		Timestamp: time.Now(),
	})
	s.State = to
}

// Snapshot is a point-in-time copy of a session.
type Snapshot struct {
	ID          string            `json:"id"`
	Phone       string            `json:"phone"`
	Variables   map[string]string `json:"variables,omitempty"`
	Flow        FlowKind          `json:"flow,omitempty"`
	State       FlowState         `json:"state"`
	Pending     string            `json:"pending,omitempty"`
	Slots       map[string]string `json:"slots,omitempty"`
	Attempts    int               `json:"attempts"`
	Order       *OrderDraft       `json:"order,omitempty"`
	Reservation *ReservationDraft `json:"reservation,omitempty"`
	Turns       int               `json:"turns"`
	LastIntent  Intent            `json:"last_intent,omitempty"`
	Ended       bool              `json:"ended"`
	History     []StateRecord     `json:"history,omitempty"`
	StartTime   time.Time         `json:"start_time"`
	LastActive  time.Time         `json:"last_active"`
}

// Snapshot returns a deep copy of the session.
func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := Snapshot{
		ID:         s.ID,
		Phone:      s.Phone,
		Variables:  maps.Clone(s.Variables),
		Flow:       s.Flow,
		State:      s.State,
		Pending:    s.PendingAsk,
		Slots:      maps.Clone(s.Slots),
		Attempts:   s.Attempts,
		Turns:      s.Turns,
		LastIntent: s.LastIntent,
		Ended:      s.Ended,
		History:    make([]StateRecord, len(s.History)),
		StartTime:  s.StartTime,
		LastActive: s.LastActivity,
	}
	copy(snap.History, s.History)
	if s.Order != nil {
		snap.Order = s.Order.clone()
	}
	if s.Reservation != nil {
		r := *s.Reservation
		snap.Reservation = &r
	}
	return snap
}
