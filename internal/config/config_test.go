package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadCreatesDefaultFile(t *testing.T) {
	dir := t.TempDir()

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, DefaultChatPort, cfg.GetPresence().Port)
	assert.FileExists(t, filepath.Join(dir, DefaultConfigFile))
}

func TestLoadOverlaysFileOnDefaults(t *testing.T) {
	dir := t.TempDir()
	raw := `{"presence": {"poll_interval_ms": 250}, "riot": {"shard": "eu"}}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, DefaultConfigFile), []byte(raw), 0644))

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 250, cfg.GetPresence().PollIntervalMs)
	assert.Equal(t, DefaultChatPort, cfg.GetPresence().Port)
	assert.Equal(t, "eu", cfg.GetRiot().Shard)

	// re-save persisted the defaults that were missing from the file
	saved, err := os.ReadFile(filepath.Join(dir, DefaultConfigFile))
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(saved, &m))
	assert.Contains(t, m, "application_data")
}

func TestLoadRejectsBadJSON(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, DefaultConfigFile), []byte("{"), 0644))

	_, err := Load(dir)
	assert.Error(t, err)
}

func TestEnvironmentOverrides(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("COMPANION_PRESENCE_INSECURE_SKIP_VERIFY", "false")
	t.Setenv("COMPANION_RIOT_SHARD", "ap")
	t.Setenv("COMPANION_API_TOKEN", "s3cret")
	t.Setenv("COMPANION_MQTT_BROKER_URL", "broker.local")

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.False(t, cfg.GetPresence().InsecureSkipVerify)
	assert.Equal(t, "ap", cfg.GetRiot().Shard)
	assert.Equal(t, "s3cret", cfg.GetApplicationData().Security.Token)
	assert.Equal(t, "broker.local", cfg.GetApplicationData().MQTT.BrokerURL)

	// secrets never reach the file
	saved, err := os.ReadFile(filepath.Join(dir, DefaultConfigFile))
	require.NoError(t, err)
	assert.NotContains(t, string(saved), "s3cret")
}

func TestDotenvFileIsLoaded(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("COMPANION_RIOT_CLIENT_VERSION=release-09.00\n"), 0644))
	t.Cleanup(func() { os.Unsetenv("COMPANION_RIOT_CLIENT_VERSION") })

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "release-09.00", cfg.GetRiot().ClientVersion)
}

func TestUpdatePresenceField(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()

	require.NoError(t, cfg.UpdatePresenceField("poll_interval_ms", 2000))
	assert.Equal(t, 2000, cfg.GetPresence().PollIntervalMs)

	assert.Error(t, cfg.UpdatePresenceField("nope", 1))
	assert.Error(t, cfg.UpdatePresenceField("port", "not-a-number"))
	assert.Equal(t, DefaultChatPort, cfg.GetPresence().Port)
}

func TestPlayerDataBaseURL(t *testing.T) {
	t.Parallel()
	r := DefaultConfig().Riot
	r.Shard = "eu"
	assert.Equal(t, "https://pd.eu.a.pvp.net", r.PlayerDataBaseURL())

	r.PlayerDataURL = "http://127.0.0.1:9999"
	assert.Equal(t, "http://127.0.0.1:9999", r.PlayerDataBaseURL())
}

func TestResolvedLockfilePath(t *testing.T) {
	t.Setenv("LOCALAPPDATA", "/appdata")
	r := RiotConfig{}
	assert.Equal(t, filepath.Join("/appdata", "Riot Games", "Riot Client", "Config", "lockfile"), r.ResolvedLockfilePath())

	r.LockfilePath = "/custom/lockfile"
	assert.Equal(t, "/custom/lockfile", r.ResolvedLockfilePath())
}

func TestValidateDefaults(t *testing.T) {
	t.Parallel()
	result := Validate(DefaultConfig())
	assert.True(t, result.IsValid(), "%v", result.Errors)

	var fields []string
	for _, w := range result.Warnings {
		fields = append(fields, w.Field)
	}
	assert.Contains(t, fields, "presence.insecure_skip_verify")
}

func TestValidateErrors(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	cfg.Presence.Port = 0
	cfg.Presence.LogCapacity = 50
	cfg.Riot.PASURL = ""
	cfg.ApplicationData.Security.AuthDisabled = false
	cfg.ApplicationData.MQTT.Enabled = true
	cfg.ApplicationData.Security.AllowedOrigins = []string{"tauri://localhost", "localhost:1420"}

	result := Validate(cfg)
	require.False(t, result.IsValid())

	var fields []string
	for _, e := range result.Errors {
		fields = append(fields, e.Field)
	}
	assert.ElementsMatch(t, []string{
		"presence.port",
		"presence.log_capacity",
		"riot.pas_url",
		"application_data.security.token",
		"application_data.mqtt.broker_url",
		"application_data.security.allowed_origins",
	}, fields)
}

func TestValidateOrigins(t *testing.T) {
	t.Parallel()
	for origin, ok := range map[string]bool{
		"http://localhost:1420": true,
		"https://example.com":   true,
		"tauri://localhost":     true,
		"*":                     true,
		"https://*.example.com": true,
		"https://*.*.com":       false,
		"localhost:1420":        false,
		"ws://localhost":        false,
	} {
		cfg := DefaultConfig()
		cfg.ApplicationData.Security.AllowedOrigins = []string{origin}
		result := Validate(cfg)
		assert.Equal(t, ok, result.IsValid(), "origin %q: %v", origin, result.Errors)
	}
}
