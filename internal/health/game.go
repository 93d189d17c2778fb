package health

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/rift-companion/companion/internal/events"
	"github.com/rift-companion/companion/internal/telemetry"
)

// Executable names, matched without extension and case-insensitively.
var (
	riotClientProcesses = []string{"RiotClientServices", "Riot Client"}
	gameProcesses       = []string{"VALORANT-Win64-Shipping"}
)

// GameState is the result of one process check. The game counts as running
// only when both the Riot client and the game executable are up.
type GameState struct {
	Running    bool  `json:"running"`
	RiotClient bool  `json:"riot_client_running"`
	Game       bool  `json:"game_running"`
	GamePID    int32 `json:"game_pid,omitempty"`
	CheckedAt  int64 `json:"checked_at"`
}

// GameState returns the last recorded process check.
func (m *Manager) GameState() GameState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.game
}

// CheckGame scans the process table and records the result. A change in
// Running is published on the bus.
func (m *Manager) CheckGame(ctx context.Context) GameState {
	st := GameState{
		RiotClient: m.riotClientRunning(ctx),
		CheckedAt:  m.now().UnixMilli(),
	}
	st.GamePID, st.Game = m.find(ctx, gameProcesses...)
	st.Running = st.RiotClient && st.Game

	m.mu.Lock()
	changed := !m.gameChecked || m.game.Running != st.Running
	m.game = st
	m.gameChecked = true
	m.mu.Unlock()

	telemetry.SetGameRunning(st.Running)
	if changed {
		log.Info().
			Bool("riot_client", st.RiotClient).
			Bool("game", st.Game).
			Int32("game_pid", st.GamePID).
			Msg("game state changed")
		m.eventBus.Emit(ctx, events.Event{
			Type:   events.EventGameStateChanged,
			Source: "health_check",
			Payload: events.GameStatePayload{
				RiotClient: st.RiotClient,
				Game:       st.Game,
				GamePID:    st.GamePID,
			},
		})
	}
	return st
}

// riotClientRunning prefers the PID recorded from the lockfile and falls
// back to a process table scan.
func (m *Manager) riotClientRunning(ctx context.Context) bool {
	if m.client != nil {
		if creds, ok := m.client.Cached(); ok && creds.PID > 0 {
			return m.alive(ctx, creds.PID)
		}
	}
	_, ok := m.find(ctx, riotClientProcesses...)
	return ok
}
