package config

import (
	"fmt"
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

// Validate checks the configuration and reports errors and warnings.
func Validate(cfg *Config) *ValidationResult {
	result := &ValidationResult{}

	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	validateRCON(&cfg.RCON, result)
	validateAPI(&cfg.API, result)
	validateMQTT(&cfg.MQTT, result)

	if cfg.History.Enabled && strings.TrimSpace(cfg.History.Path) == "" {
		result.AddError("history.path", "history database path is required when enabled")
	}
	if cfg.History.MaxEntries < 0 {
		result.AddError("history.max_entries", "must not be negative")
	}

	return result
}

func validateRCON(r *RCONConfig, result *ValidationResult) {
	if strings.TrimSpace(r.Host) == "" {
		result.AddError("rcon.host", "server host is required")
	}
	validatePort(r.Port, "rcon.port", result)

	if r.Password == "" {
		result.AddError("rcon.password", "rcon password is required (set it in the config or "+PasswordEnv+")")
	}

	if r.DialTimeoutSec < 0 {
		result.AddError("rcon.dial_timeout_sec", "timeout cannot be negative")
	}
	if r.IOTimeoutSec < 0 {
		result.AddError("rcon.io_timeout_sec", "timeout cannot be negative")
	}
	if r.IOTimeoutSec == 0 {
		result.AddWarning("rcon.io_timeout_sec", "no I/O timeout, a silent server will block commands forever")
	}

	if !r.VerifyIDs {
		result.AddWarning("rcon.verify_ids", "response ids are not checked against requests")
	}
	if !r.RequireAuth {
		result.AddWarning("rcon.require_auth", "commands may be sent before authentication")
	}
}

func validateAPI(a *APIConfig, result *ValidationResult) {
	if !a.Enabled {
		return
	}
	validatePort(a.Port, "api.port", result)

	if a.Token == "" {
		if a.Listen != "127.0.0.1" && a.Listen != "localhost" && a.Listen != "::1" {
			result.AddError("api.token", "a token is required when the API listens beyond loopback")
		} else {
			result.AddWarning("api.token", "API has no token, any local process can run commands")
		}
	}
}

func validateMQTT(m *MQTTConfig, result *ValidationResult) {
	if !m.Enabled {
		return
	}
	if strings.TrimSpace(m.BrokerURL) == "" {
		result.AddError("mqtt.broker_url", "MQTT broker URL is required when enabled")
	}
	if m.Port < 1 || m.Port > 65535 {
		result.AddError("mqtt.port", "invalid MQTT port")
	}
	if (m.CertFile == "") != (m.KeyFile == "") {
		result.AddError("mqtt.cert_file", "cert_file and key_file must be set together")
	}
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
