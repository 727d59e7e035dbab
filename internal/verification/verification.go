// Package verification runs the math captcha sent to new members by direct message.
package verification

import (
	"math/rand"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultTimeout     = 5 * time.Minute
	DefaultMaxAttempts = 3
)

type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type Timer interface {
	Stop() bool
}

type realClock struct{}

type realTimer struct{ t *time.Timer }

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return realTimer{t: time.AfterFunc(d, f)}
}

func (t realTimer) Stop() bool { return t.t.Stop() }

type Challenge struct {
	ID        string
	GuildID   string
	UserID    string
	Left      int
	Right     int
	Attempts  int
	ExpiresAt time.Time
}

func (c Challenge) Question() string {
	return strconv.Itoa(c.Left) + " + " + strconv.Itoa(c.Right)
}

func (c Challenge) answer() int {
	return c.Left + c.Right
}

type Outcome string

const (
	OutcomeUnknown Outcome = "unknown"
	OutcomeInvalid Outcome = "invalid"
	OutcomeRetry   Outcome = "retry"
	OutcomePassed  Outcome = "passed"
	OutcomeFailed  Outcome = "failed"
	OutcomeExpired Outcome = "expired"
)

type Result struct {
	Outcome      Outcome
	Challenge    Challenge
	AttemptsLeft int
}

type pending struct {
	challenge Challenge
	timer     Timer
}

// Manager tracks at most one pending challenge per user. A challenge that is not solved
// before it expires is removed and handed to the expiry callback.
type Manager struct {
	mu          sync.Mutex
	clock       Clock
	maxAttempts int
	onExpire    func(Challenge)
	pending     map[string]*pending
}

func NewManager(maxAttempts int, onExpire func(Challenge)) *Manager {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Manager{
		clock:       realClock{},
		maxAttempts: maxAttempts,
		onExpire:    onExpire,
		pending:     make(map[string]*pending),
	}
}

func (m *Manager) WithClock(clock Clock) {
	m.clock = clock
}

// Start issues a new challenge, replacing any pending one for the same user.
func (m *Manager) Start(guildID, userID string, timeout time.Duration) Challenge {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	challenge := Challenge{
		ID:        challengeID(),
		GuildID:   guildID,
		UserID:    userID,
		Left:      rand.Intn(10) + 1,
		Right:     rand.Intn(10) + 1,
		ExpiresAt: m.clock.Now().Add(timeout),
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if previous := m.pending[userID]; previous != nil {
		previous.timer.Stop()
	}
	entry := &pending{challenge: challenge}
	entry.timer = m.clock.AfterFunc(timeout, func() {
		m.expire(userID, challenge.ID)
	})
	m.pending[userID] = entry
	verificationsStarted.Inc()
	return challenge
}

// Answer checks a reply. Non-numeric replies do not use up an attempt.
func (m *Manager) Answer(userID, text string) Result {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry := m.pending[userID]
	if entry == nil {
		return Result{Outcome: OutcomeUnknown}
	}

	value, err := strconv.Atoi(strings.TrimSpace(text))
	if err != nil {
		return Result{Outcome: OutcomeInvalid, Challenge: entry.challenge, AttemptsLeft: m.maxAttempts - entry.challenge.Attempts}
	}

	if value == entry.challenge.answer() {
		entry.timer.Stop()
		delete(m.pending, userID)
		verificationResults.WithLabelValues(string(OutcomePassed)).Inc()
		return Result{Outcome: OutcomePassed, Challenge: entry.challenge}
	}

	entry.challenge.Attempts++
	left := m.maxAttempts - entry.challenge.Attempts
	if left <= 0 {
		entry.timer.Stop()
		delete(m.pending, userID)
		verificationResults.WithLabelValues(string(OutcomeFailed)).Inc()
		return Result{Outcome: OutcomeFailed, Challenge: entry.challenge}
	}
	return Result{Outcome: OutcomeRetry, Challenge: entry.challenge, AttemptsLeft: left}
}

func (m *Manager) Pending(userID string) (Challenge, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry := m.pending[userID]
	if entry == nil {
		return Challenge{}, false
	}
	return entry.challenge, true
}

// Cancel drops a pending challenge without invoking the expiry callback.
func (m *Manager) Cancel(userID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry := m.pending[userID]
	if entry == nil {
		return false
	}
	entry.timer.Stop()
	delete(m.pending, userID)
	return true
}

func (m *Manager) expire(userID, challengeID string) {
	m.mu.Lock()
	entry := m.pending[userID]
	if entry == nil || entry.challenge.ID != challengeID {
		m.mu.Unlock()
		return
	}
	delete(m.pending, userID)
	m.mu.Unlock()

	verificationResults.WithLabelValues(string(OutcomeExpired)).Inc()
	if m.onExpire != nil {
		m.onExpire(entry.challenge)
	}
}

func challengeID() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:6])
}
