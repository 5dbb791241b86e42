package weibo

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"weibomcp/internal/logging"
)

// SessionState is the lifecycle state of the upstream credential.
type SessionState int

const (
	StateUnissued SessionState = iota
	StateValid
	StateExpired
	StateRejected
)

func (s SessionState) String() string {
	switch s {
	case StateUnissued:
		return "unissued"
	case StateValid:
		return "valid"
	case StateExpired:
		return "expired"
	case StateRejected:
		return "rejected"
	}
	return "unknown"
}

// Session is the credential state used for upstream calls. It is owned by the
// SessionManager and shared read-only with the client per call; a rejected
// session is replaced, never mutated.
type Session struct {
	Cookies   []*http.Cookie
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Bootstrapper acquires fresh upstream credentials (visitor cookies).
type Bootstrapper interface {
	Bootstrap(ctx context.Context) ([]*http.Cookie, error)
}

// SessionManager owns the single shared session. Refresh is serialized
// through singleflight: concurrent callers observing an expired or rejected
// session wait for the one in-flight refresh instead of issuing their own.
type SessionManager struct {
	ttl    time.Duration
	cookie string // operator-supplied cookie header, used verbatim when set
	boot   Bootstrapper
	now    func() time.Time

	mu      sync.Mutex
	current *Session
	state   SessionState

	group singleflight.Group
}

func NewSessionManager(cookie string, ttl time.Duration, boot Bootstrapper) *SessionManager {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &SessionManager{
		ttl:    ttl,
		cookie: cookie,
		boot:   boot,
		now:    time.Now,
		state:  StateUnissued,
	}
}

// State returns the current lifecycle state, accounting for local expiry.
func (m *SessionManager) State() SessionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expireLocked()
	return m.state
}

// Current returns a valid session, refreshing lazily when the session is
// unissued, expired or rejected.
func (m *SessionManager) Current(ctx context.Context) (*Session, error) {
	m.mu.Lock()
	m.expireLocked()
	if m.state == StateValid {
		s := m.current
		m.mu.Unlock()
		return s, nil
	}
	m.mu.Unlock()

	return m.Refresh(ctx)
}

// Invalidate marks the given session rejected if it is still the current one.
// A stale pointer is ignored: a concurrent refresh already replaced it.
func (m *SessionManager) Invalidate(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s != nil && s == m.current {
		m.state = StateRejected
		logging.Debug("session rejected by upstream, will refresh on next call")
	}
}

// Refresh acquires a new session, collapsing concurrent attempts into one.
// Every waiter observes the same outcome; failure surfaces as unauthenticated.
func (m *SessionManager) Refresh(ctx context.Context) (*Session, error) {
	ch := m.group.DoChan("refresh", func() (interface{}, error) {
		return m.refresh(ctx)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Session), nil
	case <-ctx.Done():
		return nil, E(KindUnauthenticated, "session.refresh", ctx.Err())
	}
}

func (m *SessionManager) refresh(ctx context.Context) (*Session, error) {
	var cookies []*http.Cookie
	if m.cookie != "" {
		cookies = parseCookieHeader(m.cookie)
	} else if m.boot != nil {
		var err error
		cookies, err = m.boot.Bootstrap(ctx)
		if err != nil {
			m.mu.Lock()
			m.state = StateRejected
			m.mu.Unlock()
			return nil, E(KindUnauthenticated, "session.refresh", err)
		}
	}

	now := m.now()
	s := &Session{
		Cookies:   cookies,
		IssuedAt:  now,
		ExpiresAt: now.Add(m.ttl),
	}

	m.mu.Lock()
	m.current = s
	m.state = StateValid
	m.mu.Unlock()

	logging.Debug("session refreshed, %d cookies, expires %s", len(cookies), s.ExpiresAt.Format(time.RFC3339))
	return s, nil
}

// expireLocked flips Valid to Expired once the local expiry estimate elapses.
func (m *SessionManager) expireLocked() {
	if m.state == StateValid && m.current != nil && m.now().After(m.current.ExpiresAt) {
		m.state = StateExpired
	}
}

// parseCookieHeader splits a raw Cookie header ("k=v; k2=v2") into cookies.
func parseCookieHeader(raw string) []*http.Cookie {
	var cookies []*http.Cookie
	for _, part := range strings.Split(raw, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, value, found := strings.Cut(part, "=")
		if !found {
			continue
		}
		cookies = append(cookies, &http.Cookie{Name: strings.TrimSpace(name), Value: strings.TrimSpace(value)})
	}
	return cookies
}
