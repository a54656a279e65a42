// File: internal/config/config.go

// Package config holds the application configuration: which device to
// talk to, how to authenticate, and how to validate its certificate.
// Values come from the config file, environment, and command line flags,
// merged by viper.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// LoggerConfig configures the structured application log. This is
// separate from the wire trace, which has its own debug levels.
type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int    `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int    `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool   `mapstructure:"compress" yaml:"compress"`
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`
}

// DeviceConfig selects the appliance and the transport to reach it.
type DeviceConfig struct {
	// Address is the device's host[:port].
	Address string `mapstructure:"address" yaml:"address"`
	// Socket switches all traffic onto a local stream socket.
	Socket string `mapstructure:"socket" yaml:"socket"`
}

// AuthConfig carries the credential inputs.
type AuthConfig struct {
	User        string `mapstructure:"user" yaml:"user"`
	Password    string `mapstructure:"password" yaml:"password"`
	BearerToken string `mapstructure:"bearer_token" yaml:"bearer_token"`
	// Passcode is the two-factor passcode source; "-" prompts.
	Passcode string `mapstructure:"passcode" yaml:"passcode"`
	// AuthBaseURL points at a fleet controller's auth endpoint; when set
	// a bearer token is obtained there before the first device request.
	AuthBaseURL string `mapstructure:"auth_base_url" yaml:"auth_base_url"`
	// NoBlock prohibits interactive prompting.
	NoBlock bool `mapstructure:"noblock" yaml:"noblock"`
	// CredentialsFile is the per-device credential cache.
	CredentialsFile string `mapstructure:"credentials_file" yaml:"credentials_file"`
	// NoPasswordSave keeps passwords out of the credential cache.
	NoPasswordSave bool `mapstructure:"no_password_save" yaml:"no_password_save"`
}

// TLSConfig carries the certificate validation overrides.
type TLSConfig struct {
	// CACert is a PEM file, a directory of PEM files, or "system";
	// empty pins to the embedded device root CA.
	CACert              string `mapstructure:"ca_cert" yaml:"ca_cert"`
	NoVerifyHostname    bool   `mapstructure:"no_verify_hostname" yaml:"no_verify_hostname"`
	NoVerifyCertificate bool   `mapstructure:"no_verify_certificate" yaml:"no_verify_certificate"`
}

// OutputConfig shapes what the engine emits.
type OutputConfig struct {
	// JSON dumps decoded response bodies verbatim.
	JSON bool `mapstructure:"json" yaml:"json"`
	// NoWait returns 202 responses instead of polling for the result.
	NoWait bool `mapstructure:"nowait" yaml:"nowait"`
	// Debug is the wire trace level: 0 silent, 1 all traffic except
	// catalog discovery, 2 everything.
	Debug int `mapstructure:"debug" yaml:"debug"`
}

// CacheConfig locates the catalog snapshot.
type CacheConfig struct {
	File string `mapstructure:"file" yaml:"file"`
}

// Config is the full application configuration.
type Config struct {
	Logger LoggerConfig `mapstructure:"logger" yaml:"logger"`
	Device DeviceConfig `mapstructure:"device" yaml:"device"`
	Auth   AuthConfig   `mapstructure:"auth" yaml:"auth"`
	TLS    TLSConfig    `mapstructure:"tls" yaml:"tls"`
	Output OutputConfig `mapstructure:"output" yaml:"output"`
	Cache  CacheConfig  `mapstructure:"cache" yaml:"cache"`
}

// NewDefaultConfig returns the built-in defaults.
func NewDefaultConfig() *Config {
	return &Config{
		Logger: LoggerConfig{
			Level:       "info",
			Format:      "console",
			ServiceName: "sensorctl",
			MaxSize:     10,
			MaxBackups:  3,
			MaxAge:      30,
		},
		Auth: AuthConfig{
			Passcode:        "-",
			CredentialsFile: DefaultPath("credentials"),
		},
		Cache: CacheConfig{
			File: DefaultPath("cache"),
		},
	}
}

// SetDefaults registers the defaults with a viper instance so partial
// config files merge cleanly.
func SetDefaults(v *viper.Viper) {
	def := NewDefaultConfig()
	v.SetDefault("logger.level", def.Logger.Level)
	v.SetDefault("logger.format", def.Logger.Format)
	v.SetDefault("logger.service_name", def.Logger.ServiceName)
	v.SetDefault("logger.max_size", def.Logger.MaxSize)
	v.SetDefault("logger.max_backups", def.Logger.MaxBackups)
	v.SetDefault("logger.max_age", def.Logger.MaxAge)
	v.SetDefault("auth.passcode", def.Auth.Passcode)
	v.SetDefault("auth.credentials_file", def.Auth.CredentialsFile)
	v.SetDefault("cache.file", def.Cache.File)
}

// Validate checks for inconsistent settings.
func (c *Config) Validate() error {
	if c.Device.Address == "" && c.Device.Socket == "" {
		return fmt.Errorf("device.address or device.socket must be set")
	}
	if c.Device.Address != "" && c.Device.Socket != "" {
		return fmt.Errorf("device.address and device.socket are mutually exclusive")
	}
	if c.Output.Debug < 0 || c.Output.Debug > 2 {
		return fmt.Errorf("output.debug must be 0, 1, or 2")
	}
	return nil
}

// BaseURL returns the API index URL for the configured device.
func (c *Config) BaseURL() string {
	if c.Device.Socket != "" {
		return "http://localhost/api/"
	}
	return "https://" + c.Device.Address + "/api/"
}

// DeviceID returns the identifier the credential cache is keyed by.
func (c *Config) DeviceID() string {
	if c.Device.Socket != "" {
		return "socket:" + c.Device.Socket
	}
	return c.Device.Address
}

// DefaultPath returns a file path under the per-user application
// directory, creating the directory on first use.
func DefaultPath(name string) string {
	home, err := homedir.Dir()
	if err != nil {
		return name
	}
	dir := filepath.Join(home, ".sensorctl")
	_ = os.MkdirAll(dir, 0o700)
	return filepath.Join(dir, name)
}
