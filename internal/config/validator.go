package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation error [%s]: %s", e.Field, e.Message)
}

// ValidationResult holds the results of configuration validation.
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationError
}

// IsValid returns true if there are no validation errors.
func (r *ValidationResult) IsValid() bool {
	return len(r.Errors) == 0
}

// AddError adds a validation error.
func (r *ValidationResult) AddError(field, message string) {
	r.Errors = append(r.Errors, ValidationError{Field: field, Message: message})
}

// AddWarning adds a validation warning.
func (r *ValidationResult) AddWarning(field, message string) {
	r.Warnings = append(r.Warnings, ValidationError{Field: field, Message: message})
}

// Validate checks the whole configuration.
func Validate(cfg *Config) *ValidationResult {
	result := &ValidationResult{}

	validatePresence(cfg.GetPresence(), result)
	validateRiot(cfg.GetRiot(), result)
	validateApplicationData(cfg.GetApplicationData(), result)

	return result
}

func validatePresence(p PresenceConfig, result *ValidationResult) {
	validatePort(p.Port, "presence.port", result)

	if p.ConnectTimeoutSec < 1 {
		result.AddError("presence.connect_timeout_sec", "connect timeout must be at least 1 second")
	}
	if p.PollIntervalMs < 150 {
		result.AddWarning("presence.poll_interval_ms",
			fmt.Sprintf("poll interval %dms is shorter than a poll read and will run back to back", p.PollIntervalMs))
	}
	if p.LogCapacity < 101 {
		result.AddError("presence.log_capacity", "log capacity must exceed the 100-entry eviction batch")
	}
	if p.InsecureSkipVerify {
		result.AddWarning("presence.insecure_skip_verify", "TLS certificate validation is disabled for the chat stream")
	}
}

func validateRiot(r RiotConfig, result *ValidationResult) {
	for field, raw := range map[string]string{
		"riot.pas_url":           r.PASURL,
		"riot.client_config_url": r.ClientConfigURL,
		"riot.version_url":       r.VersionURL,
	} {
		if strings.TrimSpace(raw) == "" {
			result.AddError(field, "URL is required")
			continue
		}
		if _, err := url.ParseRequestURI(raw); err != nil {
			result.AddError(field, fmt.Sprintf("invalid URL: %v", err))
		}
	}

	if strings.TrimSpace(r.PlayerDataURL) == "" {
		result.AddError("riot.player_data_url", "URL is required")
	}
	if strings.Contains(r.PlayerDataURL, "%s") && strings.TrimSpace(r.Shard) == "" {
		result.AddError("riot.shard", "shard is required to build the player data URL")
	}

	if r.TokenRefreshSec < 60 {
		result.AddWarning("riot.token_refresh_sec", "token refresh under 60s will hammer the local client API")
	}
	if r.ResolvedLockfilePath() == "" && r.AccessToken == "" {
		result.AddWarning("riot.lockfile_path",
			"no lockfile path and LOCALAPPDATA is unset; set riot.lockfile_path or provide tokens via environment")
	}
}

func validateApplicationData(data ApplicationData, result *ValidationResult) {
	if data.Timers.HealthCheckInterval < 5 {
		result.AddWarning("application_data.timers.health_check_interval_sec",
			"health check interval less than 5s may cause excessive process scans")
	}
	if data.Timers.HeartbeatInterval < 10 {
		result.AddWarning("application_data.timers.heartbeat_interval_sec",
			"heartbeat interval less than 10s may cause excessive traffic")
	}

	if data.MQTT.Enabled {
		if strings.TrimSpace(data.MQTT.BrokerURL) == "" {
			result.AddError("application_data.mqtt.broker_url", "MQTT broker URL is required when enabled")
		}
		if data.MQTT.Port < 1 || data.MQTT.Port > 65535 {
			result.AddError("application_data.mqtt.port", "invalid MQTT port")
		}
	}

	sec := data.Security
	validatePort(sec.Port, "application_data.security.port", result)
	if sec.BindAddress != "" && net.ParseIP(sec.BindAddress) == nil {
		result.AddError("application_data.security.bind_address", "bind address must be an IP")
	}
	if sec.TLSEnabled {
		if strings.TrimSpace(sec.TLSCertFile) == "" {
			result.AddError("application_data.security.tls_cert_file",
				"TLS certificate file is required when TLS is enabled")
		}
		if strings.TrimSpace(sec.TLSKeyFile) == "" {
			result.AddError("application_data.security.tls_key_file",
				"TLS key file is required when TLS is enabled")
		}
	}
	if !sec.AuthDisabled && sec.Token == "" {
		result.AddError("application_data.security.token", "API token is required when auth is enabled (COMPANION_API_TOKEN)")
	}
	if sec.AuthDisabled && sec.BindAddress != "" && !net.ParseIP(sec.BindAddress).IsLoopback() {
		result.AddWarning("application_data.security.auth_disabled",
			"API auth is disabled on a non-loopback address")
	}
	for _, origin := range sec.AllowedOrigins {
		if !validOrigin(origin) {
			result.AddError("application_data.security.allowed_origins",
				fmt.Sprintf("origin %q must contain '*' or use one of %s",
					origin, strings.Join(originSchemes(), ", ")))
		}
	}
	if sec.RateLimitRPS < 1 {
		result.AddWarning("application_data.security.rate_limit_rps",
			"rate limit is disabled (0 RPS)")
	}

	if data.Journal.Enabled && strings.TrimSpace(data.Journal.Path) == "" {
		result.AddError("application_data.journal.path", "journal path is required when the journal is enabled")
	}
}

func originSchemes() []string {
	return append([]string{"http://", "https://"}, CustomOriginSchemes...)
}

func validOrigin(origin string) bool {
	if strings.Contains(origin, "*") {
		return strings.Count(origin, "*") == 1
	}
	for _, scheme := range originSchemes() {
		if strings.HasPrefix(origin, scheme) {
			return true
		}
	}
	return false
}

func validatePort(port int, field string, result *ValidationResult) {
	if port < 1 || port > 65535 {
		result.AddError(field, fmt.Sprintf("invalid port number: %d (must be 1-65535)", port))
		return
	}
	if port < 1024 {
		result.AddWarning(field,
			fmt.Sprintf("port %d is a privileged port, may require elevated permissions", port))
	}
}

// IsPortAvailable checks if a port is available for binding.
func IsPortAvailable(port int) bool {
	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return false
	}
	ln.Close()
	return true
}
