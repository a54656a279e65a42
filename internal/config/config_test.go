// File: internal/config/config_test.go
package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	testCases := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{
			name:   "Address alone is valid",
			mutate: func(c *Config) { c.Device.Address = "dev1.example.com" },
		},
		{
			name:   "Socket alone is valid",
			mutate: func(c *Config) { c.Device.Socket = "/var/run/api.sock" },
		},
		{
			name:    "Neither address nor socket",
			mutate:  func(c *Config) {},
			wantErr: "must be set",
		},
		{
			name: "Both address and socket",
			mutate: func(c *Config) {
				c.Device.Address = "dev1"
				c.Device.Socket = "/var/run/api.sock"
			},
			wantErr: "mutually exclusive",
		},
		{
			name: "Debug out of range",
			mutate: func(c *Config) {
				c.Device.Address = "dev1"
				c.Output.Debug = 3
			},
			wantErr: "output.debug",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			if tc.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestBaseURL(t *testing.T) {
	t.Run("Network device", func(t *testing.T) {
		cfg := &Config{Device: DeviceConfig{Address: "dev1.example.com:8443"}}
		assert.Equal(t, "https://dev1.example.com:8443/api/", cfg.BaseURL())
	})

	t.Run("Socket device", func(t *testing.T) {
		cfg := &Config{Device: DeviceConfig{Socket: "/var/run/api.sock"}}
		assert.Equal(t, "http://localhost/api/", cfg.BaseURL())
	})
}

func TestDeviceID(t *testing.T) {
	cfg := &Config{Device: DeviceConfig{Address: "dev1"}}
	assert.Equal(t, "dev1", cfg.DeviceID())

	cfg = &Config{Device: DeviceConfig{Socket: "/var/run/api.sock"}}
	assert.Equal(t, "socket:/var/run/api.sock", cfg.DeviceID())
}

func TestDefaults(t *testing.T) {
	cfg := NewDefaultConfig()
	assert.Equal(t, "-", cfg.Auth.Passcode)
	assert.Equal(t, "info", cfg.Logger.Level)
	assert.NotEmpty(t, cfg.Auth.CredentialsFile)
	assert.NotEmpty(t, cfg.Cache.File)
}
