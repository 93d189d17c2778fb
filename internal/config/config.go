// Package config handles configuration loading, validation, and persistence
// for the companion service. Settings live in a JSON file; a .env file and
// COMPANION_* environment variables are overlaid on top for secrets and
// per-machine overrides.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

const (
	DefaultConfigDir  = "config"
	DefaultConfigFile = "config.json"
	DefaultAPIPort    = 5723
	DefaultChatPort   = 5223
	EnvPrefix         = "COMPANION_"
)

// Config is the root configuration structure.
type Config struct {
	mu   sync.RWMutex
	path string

	Presence        PresenceConfig  `json:"presence" envPrefix:"PRESENCE_"`
	Riot            RiotConfig      `json:"riot" envPrefix:"RIOT_"`
	ApplicationData ApplicationData `json:"application_data"`
}

// PresenceConfig controls the chat session.
type PresenceConfig struct {
	Port              int `json:"port" env:"PORT"`
	ConnectTimeoutSec int `json:"connect_timeout_sec" env:"CONNECT_TIMEOUT_SEC"`
	// InsecureSkipVerify disables TLS certificate validation for the chat stream.
	InsecureSkipVerify bool `json:"insecure_skip_verify" env:"INSECURE_SKIP_VERIFY"`
	PollIntervalMs     int  `json:"poll_interval_ms" env:"POLL_INTERVAL_MS"`
	AutoConnect        bool `json:"auto_connect" env:"AUTO_CONNECT"`
	LogCapacity        int  `json:"log_capacity" env:"LOG_CAPACITY"`
}

// RiotConfig holds the game-service endpoints and local client discovery.
type RiotConfig struct {
	LockfilePath     string `json:"lockfile_path" env:"LOCKFILE_PATH"`
	Shard            string `json:"shard" env:"SHARD"`
	ClientVersion    string `json:"client_version" env:"CLIENT_VERSION"`
	PASURL           string `json:"pas_url" env:"PAS_URL"`
	ClientConfigURL  string `json:"client_config_url" env:"CLIENT_CONFIG_URL"`
	PlayerDataURL    string `json:"player_data_url" env:"PLAYER_DATA_URL"`
	VersionURL       string `json:"version_url" env:"VERSION_URL"`
	TokenRefreshSec  int    `json:"token_refresh_sec" env:"TOKEN_REFRESH_SEC"`
	HTTPTimeoutSec   int    `json:"http_timeout_sec" env:"HTTP_TIMEOUT_SEC"`
	AccessToken      string `json:"-" env:"ACCESS_TOKEN"`
	EntitlementToken string `json:"-" env:"ENTITLEMENTS_TOKEN"`
	PUUID            string `json:"-" env:"PUUID"`
}

// ApplicationData contains service-level configuration.
type ApplicationData struct {
	Timers   TimerConfig    `json:"timers" envPrefix:"TIMERS_"`
	MQTT     MQTTConfig     `json:"mqtt" envPrefix:"MQTT_"`
	Security SecurityConfig `json:"security" envPrefix:"API_"`
	Journal  JournalConfig  `json:"journal" envPrefix:"JOURNAL_"`
	Logging  LoggingConfig  `json:"logging" envPrefix:"LOG_"`
}

// TimerConfig holds health check and task interval settings.
type TimerConfig struct {
	HealthCheckInterval int `json:"health_check_interval_sec" env:"HEALTH_CHECK_INTERVAL_SEC"`
	HeartbeatInterval   int `json:"heartbeat_interval_sec" env:"HEARTBEAT_INTERVAL_SEC"`
	JournalPruneHours   int `json:"journal_prune_interval_hours" env:"JOURNAL_PRUNE_INTERVAL_HOURS"`
}

// MQTTConfig holds MQTT telemetry settings.
type MQTTConfig struct {
	Enabled   bool   `json:"enabled" env:"ENABLED"`
	BrokerURL string `json:"broker_url" env:"BROKER_URL"`
	Port      int    `json:"port" env:"PORT"`
	UseTLS    bool   `json:"use_tls" env:"USE_TLS"`
	CertFile  string `json:"cert_file" env:"CERT_FILE"`
	KeyFile   string `json:"key_file" env:"KEY_FILE"`
	ClientID  string `json:"client_id" env:"CLIENT_ID"`
	Username  string `json:"username" env:"USERNAME"`
	Password  string `json:"-" env:"PASSWORD"`
	// PublishTraffic also publishes every diagnostic log entry.
	PublishTraffic bool `json:"publish_traffic" env:"PUBLISH_TRAFFIC"`
}

// CustomOriginSchemes are the non-web origin schemes the API accepts in
// AllowedOrigins, next to http:// and https://. The desktop shell loads its
// UI from tauri://localhost.
var CustomOriginSchemes = []string{"tauri://"}

// SecurityConfig holds settings for the local REST API.
type SecurityConfig struct {
	Port           int      `json:"port" env:"PORT"`
	BindAddress    string   `json:"bind_address" env:"BIND_ADDRESS"`
	TLSEnabled     bool     `json:"tls_enabled" env:"TLS_ENABLED"`
	TLSCertFile    string   `json:"tls_cert_file" env:"TLS_CERT_FILE"`
	TLSKeyFile     string   `json:"tls_key_file" env:"TLS_KEY_FILE"`
	AllowedOrigins []string `json:"allowed_origins" env:"ALLOWED_ORIGINS" envSeparator:","`
	RateLimitRPS   int      `json:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	AuthDisabled   bool     `json:"auth_disabled" env:"AUTH_DISABLED"`
	Token          string   `json:"-" env:"TOKEN"`
}

// JournalConfig controls the SQLite presence journal.
type JournalConfig struct {
	Enabled       bool   `json:"enabled" env:"ENABLED"`
	Path          string `json:"path" env:"PATH"`
	RetentionDays int    `json:"retention_days" env:"RETENTION_DAYS"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `json:"level" env:"LEVEL"`
	Directory  string `json:"directory" env:"DIRECTORY"`
	MaxSizeMB  int    `json:"max_size_mb" env:"MAX_SIZE_MB"`
	MaxBackups int    `json:"max_backups" env:"MAX_BACKUPS"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Presence: PresenceConfig{
			Port:               DefaultChatPort,
			ConnectTimeoutSec:  10,
			InsecureSkipVerify: true,
			PollIntervalMs:     1000,
			LogCapacity:        500,
		},
		Riot: RiotConfig{
			Shard:           "na",
			PASURL:          "https://riot-geo.pas.si.riotgames.com/pas/v1/service/chat",
			ClientConfigURL: "https://clientconfig.rpg.riotgames.com/api/v1/config/player?app=Riot%20Client",
			PlayerDataURL:   "https://pd.%s.a.pvp.net",
			VersionURL:      "https://valorant-api.com/v1/version",
			TokenRefreshSec: 600,
			HTTPTimeoutSec:  15,
		},
		ApplicationData: ApplicationData{
			Timers: TimerConfig{
				HealthCheckInterval: 15,
				HeartbeatInterval:   60,
				JournalPruneHours:   24,
			},
			MQTT: MQTTConfig{
				Enabled: false,
				Port:    8883,
				UseTLS:  true,
			},
			Security: SecurityConfig{
				Port:           DefaultAPIPort,
				BindAddress:    "127.0.0.1",
				AllowedOrigins: []string{"http://localhost:1420", "tauri://localhost"},
				RateLimitRPS:   50,
				AuthDisabled:   true,
			},
			Journal: JournalConfig{
				Enabled:       true,
				Path:          "data/presence.db",
				RetentionDays: 14,
			},
			Logging: LoggingConfig{
				Level:      "info",
				Directory:  "logs",
				MaxSizeMB:  10,
				MaxBackups: 5,
			},
		},
	}
}

// Load reads configuration from the JSON file in configDir, creating it with
// defaults when missing, then applies .env and environment overrides.
func Load(configDir string) (*Config, error) {
	configPath := filepath.Join(configDir, DefaultConfigFile)

	cfg := DefaultConfig()
	cfg.path = configPath

	data, err := os.ReadFile(configPath)
	switch {
	case os.IsNotExist(err):
		log.Info().Str("path", configPath).Msg("config file not found, creating default")
		if saveErr := cfg.Save(); saveErr != nil {
			return nil, fmt.Errorf("failed to save default config: %w", saveErr)
		}
	case err != nil:
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	default:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
		}
		log.Info().Str("path", configPath).Msg("configuration loaded")

		// Re-save so config.json picks up fields added since it was written.
		if saveErr := cfg.Save(); saveErr != nil {
			log.Warn().Err(saveErr).Msg("failed to re-save config with updated defaults")
		}
	}

	if err := cfg.applyEnv(filepath.Join(configDir, ".env"), ".env"); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv loads the first readable dotenv file (existing variables win) and
// overlays COMPANION_* variables onto the config. Overrides are not saved.
func (c *Config) applyEnv(dotenvFiles ...string) error {
	for _, f := range dotenvFiles {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			log.Warn().Err(err).Str("file", f).Msg("failed to load env file")
			continue
		}
		log.Debug().Str("file", f).Msg("env file loaded")
		break
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := env.ParseWithOptions(c, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("failed to parse environment overrides: %w", err)
	}
	return nil
}

// Save writes the current configuration to disk.
func (c *Config) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(c.path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	log.Debug().Str("path", c.path).Msg("configuration saved")
	return nil
}

// GetPresence returns a copy of the presence configuration.
func (c *Config) GetPresence() PresenceConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Presence
}

// SetPresence updates the presence configuration.
func (c *Config) SetPresence(p PresenceConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Presence = p
}

// GetRiot returns a copy of the Riot endpoint configuration.
func (c *Config) GetRiot() RiotConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Riot
}

// GetApplicationData returns a copy of the application data configuration.
func (c *Config) GetApplicationData() ApplicationData {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ApplicationData
}

// SetApplicationData updates the application data configuration.
func (c *Config) SetApplicationData(data ApplicationData) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ApplicationData = data
}

// UpdatePresenceField sets one presence field by its JSON name.
func (c *Config) UpdatePresenceField(key string, value any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := json.Marshal(c.Presence)
	if err != nil {
		return fmt.Errorf("failed to update field %s: %w", key, err)
	}
	m := make(map[string]any)
	if err := json.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("failed to update field %s: %w", key, err)
	}
	if _, ok := m[key]; !ok {
		return fmt.Errorf("unknown presence field %q", key)
	}

	m[key] = value

	updated, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to update field %s: %w", key, err)
	}
	next := c.Presence
	if err := json.Unmarshal(updated, &next); err != nil {
		return fmt.Errorf("failed to update field %s: %w", key, err)
	}
	c.Presence = next
	return nil
}

// Path returns the config file path.
func (c *Config) Path() string {
	return c.path
}

// ResolvedLockfilePath returns the configured lockfile path, falling back to the
// client's default location under %LOCALAPPDATA%.
func (r RiotConfig) ResolvedLockfilePath() string {
	if r.LockfilePath != "" {
		return r.LockfilePath
	}
	base := os.Getenv("LOCALAPPDATA")
	if base == "" {
		return ""
	}
	return filepath.Join(base, "Riot Games", "Riot Client", "Config", "lockfile")
}

// PlayerDataBaseURL returns the pd host for the configured shard. A URL
// without a %s verb is used as-is.
func (r RiotConfig) PlayerDataBaseURL() string {
	if !strings.Contains(r.PlayerDataURL, "%s") {
		return r.PlayerDataURL
	}
	return fmt.Sprintf(r.PlayerDataURL, r.Shard)
}
