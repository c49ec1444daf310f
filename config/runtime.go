package config

import (
	"fmt"
	"strings"

	"github.com/connectivityfoundry/lwm2m-runtime/lwm2merr"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// LogLevel is the runtime log verbosity of spec.md §6.3.
type LogLevel string

const (
	LogNone    LogLevel = "None"
	LogError   LogLevel = "Error"
	LogWarning LogLevel = "Warning"
	LogInfo    LogLevel = "Info"
	LogDebug   LogLevel = "Debug"
)

// ContentFormat is the negotiated CoAP payload encoding of spec.md §6.1.
type ContentFormat string

const (
	ContentPlainText ContentFormat = "plaintext"
	ContentOpaque    ContentFormat = "opaque"
	ContentTLV       ContentFormat = "tlv"
)

func validLogLevel(s string) bool {
	switch LogLevel(s) {
	case LogNone, LogError, LogWarning, LogInfo, LogDebug:
		return true
	default:
		return false
	}
}

// RuntimeConfig holds the five configuration options named in spec.md
// §6.3, resolved through the same file/env/flag precedence chain the
// application's cli/root.go establishes with viper.
type RuntimeConfig struct {
	LogLevel            LogLevel
	DaemonEndpoint      string
	CoAPEndpoint        string
	ContentFormat       ContentFormat
	MaxMessageSizeBytes int
}

// Defaults returns the documented default RuntimeConfig. DaemonEndpoint is
// left empty so each daemon listens on its own TCP default:
// 127.0.0.1:12345 for lwm2m-clientd, 127.0.0.1:54321 for lwm2m-serverd.
func Defaults() RuntimeConfig {
	return RuntimeConfig{
		LogLevel:            LogInfo,
		DaemonEndpoint:      "",
		CoAPEndpoint:        "coap://0.0.0.0:5683",
		ContentFormat:       ContentTLV,
		MaxMessageSizeBytes: 1024 * 1024,
	}
}

// BindFlags registers the RuntimeConfig options as persistent flags on cmd
// and binds them into v, mirroring cli/root.go's init()/initConfig() flag
// registration so every cmd/* binary gets identical flag names.
func BindFlags(cmd *cobra.Command, v *viper.Viper) {
	defaults := Defaults()
	cmd.PersistentFlags().String("log-level", string(defaults.LogLevel), "log verbosity: None, Error, Warning, Info, Debug")
	cmd.PersistentFlags().String("daemon-endpoint", defaults.DaemonEndpoint, "address the application library dials to reach its daemon")
	cmd.PersistentFlags().String("coap-endpoint", defaults.CoAPEndpoint, "address the daemon binds for CoAP traffic")
	cmd.PersistentFlags().String("content-format", string(defaults.ContentFormat), "default CoAP content format: plaintext, opaque, tlv")
	cmd.PersistentFlags().Int("max-message-size-bytes", defaults.MaxMessageSizeBytes, "largest IPC message accepted from the application")

	v.BindPFlag("log_level", cmd.PersistentFlags().Lookup("log-level"))
	v.BindPFlag("daemon_endpoint", cmd.PersistentFlags().Lookup("daemon-endpoint"))
	v.BindPFlag("coap_endpoint", cmd.PersistentFlags().Lookup("coap-endpoint"))
	v.BindPFlag("content_format", cmd.PersistentFlags().Lookup("content-format"))
	v.BindPFlag("max_message_size_bytes", cmd.PersistentFlags().Lookup("max-message-size-bytes"))
}

// NewViper builds a *viper.Viper configured the way cli/root.go's
// initConfig does: YAML config file search path, LWM2M_-prefixed
// environment variables, then explicit flags (bound separately via
// BindFlags) taking precedence over both.
func NewViper(configFile string) *viper.Viper {
	v := viper.New()
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("lwm2m")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/lwm2m")
	}
	v.SetEnvPrefix("LWM2M")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	return v
}

// Load resolves a RuntimeConfig from v, falling back to Defaults for any
// option v has no value for, and rejecting an invalid log_level with
// LogLevelInvalid (§7).
func Load(v *viper.Viper) (RuntimeConfig, error) {
	const op = "config.Load"
	_ = v.ReadInConfig() // absence of a config file is not an error

	defaults := Defaults()
	cfg := RuntimeConfig{
		LogLevel:            LogLevel(viperString(v, "log_level", string(defaults.LogLevel))),
		DaemonEndpoint:      viperString(v, "daemon_endpoint", defaults.DaemonEndpoint),
		CoAPEndpoint:        viperString(v, "coap_endpoint", defaults.CoAPEndpoint),
		ContentFormat:       ContentFormat(viperString(v, "content_format", string(defaults.ContentFormat))),
		MaxMessageSizeBytes: viperIntOr(v, "max_message_size_bytes", defaults.MaxMessageSizeBytes),
	}
	if !validLogLevel(string(cfg.LogLevel)) {
		return RuntimeConfig{}, lwm2merr.New(op, lwm2merr.LogLevelInvalid, fmt.Errorf("invalid log_level %q", cfg.LogLevel))
	}
	return cfg, nil
}

func viperString(v *viper.Viper, key, fallback string) string {
	if s := v.GetString(key); s != "" {
		return s
	}
	return fallback
}

func viperIntOr(v *viper.Viper, key string, fallback int) int {
	if v.IsSet(key) {
		return v.GetInt(key)
	}
	return fallback
}
