package playbook

import (
	"context"
	"fmt"
	"sync"
	"time"

	"sentinel-guard/internal/audit"
)

const verificationSetting = "verification.enabled"

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

// Settings is the guild config surface a lockdown flips.
type Settings interface {
	Setting(guildID, path string) (any, bool)
	UpdateSetting(guildID, path string, value any) bool
}

type Config struct {
	LockdownMinutes int
}

type State struct {
	Lockdown bool
	Since    time.Time
	Until    time.Time
}

type guildState struct {
	State
	previousVerification bool
	timer                Timer
}

// Engine runs raid lockdowns: verification is forced on for every new member until the
// lockdown expires, then the previous verification setting is restored.
type Engine struct {
	mu       sync.Mutex
	cfg      Config
	clock    Clock
	audit    *audit.Logger
	settings Settings
	states   map[string]*guildState
}

func New(cfg Config, settings Settings, auditLogger *audit.Logger) *Engine {
	return &Engine{
		cfg:      cfg,
		clock:    realClock{},
		audit:    auditLogger,
		settings: settings,
		states:   make(map[string]*guildState),
	}
}

func (e *Engine) WithClock(clock Clock) {
	e.clock = clock
}

// TriggerLockdown starts a lockdown. It returns false when the guild is already locked down.
func (e *Engine) TriggerLockdown(ctx context.Context, guildID string) bool {
	ctx = context.WithoutCancel(ctx)
	duration := e.duration()

	e.mu.Lock()
	state := e.stateLocked(guildID)
	if state.Lockdown {
		e.mu.Unlock()
		return false
	}
	previous, _ := e.settings.Setting(guildID, verificationSetting)
	state.previousVerification, _ = previous.(bool)
	now := e.clock.Now()
	state.Lockdown = true
	state.Since = now
	state.Until = now.Add(duration)
	state.timer = e.clock.AfterFunc(duration, func() {
		e.endLockdown(ctx, guildID, "lockdown ended")
	})
	e.mu.Unlock()

	if !e.settings.UpdateSetting(guildID, verificationSetting, true) {
		e.audit.Log(ctx, audit.LevelCrit, guildID, "", audit.EventLockdown, "could not force verification on")
	}
	e.audit.Log(ctx, audit.LevelWarn, guildID, "", audit.EventLockdown, fmt.Sprintf("lockdown initiated for %s", duration))
	return true
}

// EndLockdown lifts a lockdown early. It returns false when none is active.
func (e *Engine) EndLockdown(ctx context.Context, guildID string) bool {
	return e.endLockdown(context.WithoutCancel(ctx), guildID, "lockdown lifted manually")
}

func (e *Engine) IsLockdown(guildID string) State {
	e.mu.Lock()
	defer e.mu.Unlock()
	state := e.states[guildID]
	if state == nil {
		return State{}
	}
	return state.State
}

func (e *Engine) endLockdown(ctx context.Context, guildID, details string) bool {
	e.mu.Lock()
	state := e.states[guildID]
	if state == nil || !state.Lockdown {
		e.mu.Unlock()
		return false
	}
	if state.timer != nil {
		state.timer.Stop()
	}
	restore := state.previousVerification
	delete(e.states, guildID)
	e.mu.Unlock()

	if !e.settings.UpdateSetting(guildID, verificationSetting, restore) {
		e.audit.Log(ctx, audit.LevelCrit, guildID, "", audit.EventLockdown, "could not restore verification setting")
	}
	e.audit.Log(ctx, audit.LevelInfo, guildID, "", audit.EventLockdown, details)
	return true
}

func (e *Engine) duration() time.Duration {
	duration := time.Duration(e.cfg.LockdownMinutes) * time.Minute
	if duration <= 0 {
		duration = 10 * time.Minute
	}
	return duration
}

func (e *Engine) stateLocked(guildID string) *guildState {
	state := e.states[guildID]
	if state == nil {
		state = &guildState{}
		e.states[guildID] = state
	}
	return state
}
