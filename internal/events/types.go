// Package events defines the event types published on the companion's
// internal bus. The presence session emits; the API websocket, MQTT
// publisher and presence journal subscribe.
package events

// EventType represents the type of event emitted through the EventBus.
type EventType string

const (
	// EventAny subscribes a handler to every event type.
	EventAny EventType = "*"

	// Session lifecycle
	EventSessionConnected    EventType = "session_connected"
	EventSessionDisconnected EventType = "session_disconnected"
	EventSessionHeartbeat    EventType = "session_heartbeat"

	// Presence traffic
	EventFriendPresence       EventType = "friend_presence"
	EventSelfPresenceCaptured EventType = "self_presence_captured"
	EventFakePresenceSent     EventType = "fake_presence_sent"
	EventProtocolLog          EventType = "protocol_log"

	// Game client
	EventCredentialsRefreshed EventType = "credentials_refreshed"
	EventClientExited         EventType = "client_exited"
	EventGameStateChanged     EventType = "game_state_changed"

	// System events
	EventConfigChanged EventType = "config_changed"
	EventShutdown      EventType = "shutdown"
)

// Event represents a single event in the system.
type Event struct {
	Type    EventType `json:"type"`
	Source  string    `json:"source"`
	Payload any       `json:"payload,omitempty"`
}

// SessionConnectedPayload is emitted once the handshake completes.
type SessionConnectedPayload struct {
	JID         string `json:"jid"`
	Region      string `json:"region"`
	Friends     int    `json:"friends"`
	HasTemplate bool   `json:"has_template"`
	HandshakeMs int64  `json:"handshake_ms"`
}

// SessionDisconnectedPayload carries why the session ended.
type SessionDisconnectedPayload struct {
	Reason string `json:"reason"`
}

// SessionHeartbeatPayload is a periodic snapshot of session health.
type SessionHeartbeatPayload struct {
	Connected  bool   `json:"connected"`
	JID        string `json:"jid,omitempty"`
	UptimeSecs int64  `json:"uptime_secs"`
	Friends    int    `json:"friends"`
	LogCount   int    `json:"log_count"`
	Game       bool   `json:"game_running"`
}

// FriendPresencePayload describes one peer's presence change.
type FriendPresencePayload struct {
	PUUID       string `json:"puuid"`
	Show        string `json:"show"`
	HasPayload  bool   `json:"has_payload"`
	LastUpdated int64  `json:"last_updated"`
}

// SelfPresencePayload is emitted when the local player's presence template
// is captured.
type SelfPresencePayload struct {
	KeystoneTS uint64 `json:"keystone_ts"`
	CardID     string `json:"card_id,omitempty"`
	TitleID    string `json:"title_id,omitempty"`
}

// FakePresencePayload summarizes a crafted presence write.
type FakePresencePayload struct {
	Show   string `json:"show"`
	Tier   string `json:"tier"`
	Length int    `json:"xml_len"`
}

// ProtocolLogPayload mirrors one diagnostic log entry.
type ProtocolLogPayload struct {
	Direction string `json:"direction"`
	Data      string `json:"data"`
	Timestamp int64  `json:"timestamp"`
}

// CredentialsRefreshedPayload is emitted after tokens are re-read from the
// local client API.
type CredentialsRefreshedPayload struct {
	PUUID string `json:"puuid"`
	Port  int    `json:"port"`
}

// ClientExitedPayload is emitted when the game client process goes away.
type ClientExitedPayload struct {
	PID int32 `json:"pid"`
}

// GameStatePayload is emitted when the game starts or stops running.
type GameStatePayload struct {
	RiotClient bool  `json:"riot_client_running"`
	Game       bool  `json:"game_running"`
	GamePID    int32 `json:"game_pid,omitempty"`
}

// ConfigChangedPayload is emitted when configuration changes occur.
type ConfigChangedPayload struct {
	Section string `json:"section"`
	Key     string `json:"key"`
	Value   any    `json:"value"`
}
