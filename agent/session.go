package agent

import (
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Storage keys for the persisted identifiers.
const (
	visitorIDKey      = "lp_visitor_id"
	sessionIDKey      = "lp_session_id"
	sessionStartedKey = "lp_session_started"
)

// DefaultSessionTimeout is the inactivity window bounding one session.
const DefaultSessionTimeout = 30 * time.Minute

// SessionManager derives the long-lived visitor identifier and the rolling
// session identifier from Storage. When all storage fails, identifiers are
// regenerated per call: visitor continuity is lost, never fatal.
type SessionManager struct {
	store   Storage
	timeout time.Duration
	now     func() time.Time
}

func NewSessionManager(store Storage, timeout time.Duration) *SessionManager {
	if timeout <= 0 {
		timeout = DefaultSessionTimeout
	}
	return &SessionManager{
		store:   store,
		timeout: timeout,
		now:     time.Now,
	}
}

// GetOrCreateVisitorID returns the persisted visitor identifier, generating
// and storing one on first use.
func (sm *SessionManager) GetOrCreateVisitorID() string {
	if id, err := sm.store.Get(visitorIDKey); err == nil && id != "" {
		return id
	}
	id := uuid.NewString()
	_ = sm.store.Set(visitorIDKey, id)
	return id
}

// GetOrCreateSessionID returns the current session identifier, rotating it
// when the stored activity timestamp is older than the timeout.
func (sm *SessionManager) GetOrCreateSessionID() string {
	now := sm.now()
	id, err := sm.store.Get(sessionIDKey)
	if err == nil && id != "" {
		if started := sm.lastActivity(); !started.IsZero() && now.Sub(started) < sm.timeout {
			sm.Touch()
			return id
		}
	}
	id = uuid.NewString()
	_ = sm.store.Set(sessionIDKey, id)
	_ = sm.store.Set(sessionStartedKey, strconv.FormatInt(now.Unix(), 10))
	return id
}

// Touch refreshes the session inactivity timer. Called on any user activity
// signal (pointer, key, touch, scroll).
func (sm *SessionManager) Touch() {
	_ = sm.store.Set(sessionStartedKey, strconv.FormatInt(sm.now().Unix(), 10))
}

func (sm *SessionManager) lastActivity() time.Time {
	raw, err := sm.store.Get(sessionStartedKey)
	if err != nil || raw == "" {
		return time.Time{}
	}
	unix, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(unix, 0)
}
