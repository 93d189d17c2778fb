// Package health runs the periodic checks that keep the chat session in step
// with the game client: process liveness, game detection, token refresh and
// the session heartbeat.
package health

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/rift-companion/companion/internal/config"
	"github.com/rift-companion/companion/internal/connector"
	"github.com/rift-companion/companion/internal/events"
	"github.com/rift-companion/companion/internal/util"
)

// Session is the part of the presence client the checks observe.
type Session interface {
	Status() connector.Status
	FriendCount() int
	HandleClientExit(ctx context.Context)
}

// ClientWatch exposes the credential cache of a lockfile-backed source.
type ClientWatch interface {
	Cached() (connector.Credentials, bool)
	Refresh(ctx context.Context) (connector.Credentials, error)
	Invalidate()
}

// Manager runs periodic health checks.
type Manager struct {
	cfg      *config.Config
	eventBus *events.EventBus
	session  Session
	client   ClientWatch

	alive func(ctx context.Context, pid int32) bool
	find  func(ctx context.Context, names ...string) (int32, bool)
	now   func() time.Time

	mu          sync.RWMutex
	game        GameState
	gameChecked bool
}

// NewManager creates a health check manager. client may be nil when
// credentials do not come from a running game client.
func NewManager(cfg *config.Config, eventBus *events.EventBus, session Session, client ClientWatch) *Manager {
	return &Manager{
		cfg:      cfg,
		eventBus: eventBus,
		session:  session,
		client:   client,
		alive:    util.ProcessAlive,
		find:     util.FindProcess,
		now:      time.Now,
	}
}

// Start launches the check goroutines and blocks until ctx is cancelled.
func (m *Manager) Start(ctx context.Context) {
	timers := m.cfg.GetApplicationData().Timers
	riot := m.cfg.GetRiot()

	checks := []struct {
		name     string
		interval int
		fn       func(context.Context)
	}{
		{"client_process", timers.HealthCheckInterval, m.checkClientProcess},
		{"game_process", timers.HealthCheckInterval, func(ctx context.Context) { m.CheckGame(ctx) }},
		{"credentials", riot.TokenRefreshSec, m.refreshCredentials},
		{"heartbeat", timers.HeartbeatInterval, m.heartbeat},
	}

	started := 0
	for _, check := range checks {
		if check.interval <= 0 {
			continue
		}
		started++
		check := check

		go func() {
			ticker := time.NewTicker(time.Duration(check.interval) * time.Second)
			defer ticker.Stop()

			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					check.fn(ctx)
				}
			}
		}()
	}

	log.Info().Int("checks", started).Msg("health check manager started")

	<-ctx.Done()
	log.Info().Msg("health check manager stopped")
}

// checkClientProcess drops the session once the game client that issued
// the cached credentials has exited.
func (m *Manager) checkClientProcess(ctx context.Context) {
	if m.client == nil {
		return
	}
	creds, ok := m.client.Cached()
	if !ok || creds.PID <= 0 {
		return
	}
	if m.alive(ctx, creds.PID) {
		return
	}

	log.Warn().Int32("pid", creds.PID).Msg("game client exited")
	m.client.Invalidate()
	m.session.HandleClientExit(ctx)
	m.eventBus.Emit(ctx, events.Event{
		Type:    events.EventClientExited,
		Source:  "health_check",
		Payload: events.ClientExitedPayload{PID: creds.PID},
	})
}

// refreshCredentials re-reads tokens while a session is up so reconnects
// and name lookups never use expired ones.
func (m *Manager) refreshCredentials(ctx context.Context) {
	if m.client == nil || !m.session.Status().Connected {
		return
	}
	if _, err := m.client.Refresh(ctx); err != nil {
		log.Warn().Err(err).Msg("credential refresh failed")
	}
}

func (m *Manager) heartbeat(ctx context.Context) {
	st := m.session.Status()
	m.eventBus.Emit(ctx, events.Event{
		Type:   events.EventSessionHeartbeat,
		Source: "heartbeat",
		Payload: events.SessionHeartbeatPayload{
			Connected:  st.Connected,
			JID:        st.JID,
			UptimeSecs: st.UptimeSecs,
			Friends:    m.session.FriendCount(),
			LogCount:   st.LogCount,
			Game:       m.GameState().Running,
		},
	})
}
